package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"storefront_pay_echo/internal/models"
)

type OrderStore struct {
	db *gorm.DB
}

func NewOrderStore(db *gorm.DB) *OrderStore {
	return &OrderStore{db: db}
}

// GetForUser loads an order owned by userID. Orders of other users are
// reported as missing.
func (s *OrderStore) GetForUser(ctx context.Context, orderID, userID string) (*models.Order, error) {
	var o models.Order
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", orderID, userID).
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	return &o, nil
}
