package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// PaymentStatus is the lifecycle state of a payment attempt
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSuccess   PaymentStatus = "success"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed from s
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses
func (s PaymentStatus) Valid() bool {
	return s == PaymentStatusPending || s.IsTerminal()
}

// Refs is the provider-facing reference triple. An empty Ref3 means absent.
type Refs struct {
	Ref1 string `json:"ref1"`
	Ref2 string `json:"ref2"`
	Ref3 string `json:"ref3,omitempty"`
}

// Normalize trims surrounding whitespace from every reference.
func (r Refs) Normalize() Refs {
	return Refs{
		Ref1: strings.TrimSpace(r.Ref1),
		Ref2: strings.TrimSpace(r.Ref2),
		Ref3: strings.TrimSpace(r.Ref3),
	}
}

// Key joins the triple into the dispatch address "ref1:ref2:ref3".
func (r Refs) Key() string {
	return r.Ref1 + ":" + r.Ref2 + ":" + r.Ref3
}

// Wildcard returns the same pair with ref3 dropped.
func (r Refs) Wildcard() Refs {
	return Refs{Ref1: r.Ref1, Ref2: r.Ref2}
}

// Payment is one payment attempt against an order
type Payment struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrderID   string `gorm:"type:varchar(64);not null;index" json:"order_id"`
	CreatedBy string `gorm:"type:varchar(128);not null;index:idx_payments_created_by_status,priority:1" json:"created_by"`

	Ref1 string `gorm:"type:varchar(20);not null;index:idx_payments_refs,priority:1" json:"ref1"`
	Ref2 string `gorm:"type:varchar(20);not null;index:idx_payments_refs,priority:2" json:"ref2"`
	Ref3 string `gorm:"type:varchar(20);not null;default:'';index:idx_payments_refs,priority:3" json:"ref3"`

	Amount   int64  `gorm:"not null" json:"amount"`
	Currency string `gorm:"type:varchar(3);not null" json:"currency"`

	Gateway           PaymentGateway `gorm:"type:varchar(50);not null" json:"gateway"`
	ProviderPaymentID *string        `gorm:"type:varchar(128);uniqueIndex" json:"provider_payment_id,omitempty"`
	QRRawData         string         `gorm:"type:text" json:"qr_raw_data"`
	ResponseMetadata  datatypes.JSON `json:"response_metadata,omitempty"`

	Status      PaymentStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_payments_created_by_status,priority:2" json:"status"`
	ConfirmedAt *time.Time    `json:"confirmed_at,omitempty"`
}

// Refs returns the stored reference triple
func (p Payment) Refs() Refs {
	return Refs{Ref1: p.Ref1, Ref2: p.Ref2, Ref3: p.Ref3}
}
