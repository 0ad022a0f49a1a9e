package models

import (
	"time"

	"gorm.io/datatypes"
)

type PaymentGateway string

const (
	PaymentGatewayQRBank   PaymentGateway = "qrbank"
	PaymentGatewayMidtrans PaymentGateway = "midtrans"
)

// PaymentCallbackHistory is the audit trail of every provider callback, accepted or not
type PaymentCallbackHistory struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	PaymentGateway PaymentGateway `gorm:"type:varchar(50);not null" json:"payment_gateway"`
	RequestID      string         `gorm:"type:varchar(64);index" json:"request_id"`
	PaymentID      *uint          `gorm:"index" json:"payment_id,omitempty"`
	Outcome        string         `gorm:"type:varchar(50)" json:"outcome"`
	Metadata       datatypes.JSON `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
