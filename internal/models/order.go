package models

import "time"

// OrderStatus represents where an order is in checkout
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is the checkout record a payment settles. Total is in minor units.
type Order struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID   string      `gorm:"type:varchar(128);not null;index" json:"user_id"`
	Total    int64       `gorm:"not null" json:"total"`
	Currency string      `gorm:"type:varchar(3);not null" json:"currency"`
	Status   OrderStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	PaidAt   *time.Time  `json:"paid_at,omitempty"`
}
