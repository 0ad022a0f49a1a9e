package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"storefront_pay_echo/internal/models"
)

const latestPaymentTTL = 5 * time.Minute

var newestFirst = []clause.OrderByColumn{
	{Column: clause.Column{Name: "created_at"}, Desc: true},
	{Column: clause.Column{Name: "id"}, Desc: true},
}

// PaymentStore is the access layer over the payments table
type PaymentStore struct {
	db    *gorm.DB
	cache *RedisCache
}

// NewPaymentStore creates a store. cache may be nil.
func NewPaymentStore(db *gorm.DB, cache *RedisCache) *PaymentStore {
	return &PaymentStore{db: db, cache: cache}
}

func (s *PaymentStore) Create(ctx context.Context, p *models.Payment) error {
	if p.Status == "" {
		p.Status = models.PaymentStatusPending
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (s *PaymentStore) FindByID(ctx context.Context, id uint) (*models.Payment, error) {
	var p models.Payment
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// FindLatestByRefs returns the newest payment for the pair. An empty ref3
// matches any stored ref3.
func (s *PaymentStore) FindLatestByRefs(ctx context.Context, refs models.Refs) (*models.Payment, error) {
	q := s.db.WithContext(ctx).Where("ref1 = ? AND ref2 = ?", refs.Ref1, refs.Ref2)
	if refs.Ref3 != "" {
		q = q.Where("ref3 = ?", refs.Ref3)
	}

	var p models.Payment
	if err := q.Clauses(clause.OrderBy{Columns: newestFirst}).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *PaymentStore) FindByProviderPaymentID(ctx context.Context, providerPaymentID string) (*models.Payment, error) {
	var p models.Payment
	err := s.db.WithContext(ctx).
		Where("provider_payment_id = ?", providerPaymentID).
		First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// Transition moves a pending payment into the terminal status to. applied is
// false when the row had already left pending, in which case nothing is
// written and the stored row is returned unchanged. A success also marks the
// order paid in the same transaction.
func (s *PaymentStore) Transition(ctx context.Context, id uint, to models.PaymentStatus, at time.Time) (*models.Payment, bool, error) {
	if !to.IsTerminal() {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}

	var (
		p       models.Payment
		applied bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", id, models.PaymentStatusPending).
			Updates(map[string]interface{}{
				"status":       to,
				"confirmed_at": at,
				"updated_at":   at,
			})
		if res.Error != nil {
			return res.Error
		}
		applied = res.RowsAffected == 1

		if err := tx.First(&p, id).Error; err != nil {
			return err
		}

		if applied && to == models.PaymentStatusSuccess {
			err := tx.Model(&models.Order{}).
				Where("id = ? AND status = ?", p.OrderID, models.OrderStatusPending).
				Updates(map[string]interface{}{
					"status":     models.OrderStatusPaid,
					"paid_at":    at,
					"updated_at": at,
				}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("transition payment %d: %w", id, notFound(err))
	}
	return &p, applied, nil
}

// LatestSuccessfulForUser returns the user's most recent successful payment,
// served from Redis when a cache is configured.
func (s *PaymentStore) LatestSuccessfulForUser(ctx context.Context, userID string) (*models.Payment, error) {
	return GetOrSet(s.cache, ctx, LatestPaymentCacheKey(userID), latestPaymentTTL, func() (*models.Payment, error) {
		var p models.Payment
		err := s.db.WithContext(ctx).
			Where("created_by = ? AND status = ?", userID, models.PaymentStatusSuccess).
			Clauses(clause.OrderBy{Columns: newestFirst}).
			First(&p).Error
		if err != nil {
			return nil, notFound(err)
		}
		return &p, nil
	})
}

func (s *PaymentStore) InvalidateLatest(ctx context.Context, userID string) error {
	return s.cache.Delete(ctx, LatestPaymentCacheKey(userID))
}

// ListStalePending returns gateway's pending payments created before
// olderThan, oldest first.
func (s *PaymentStore) ListStalePending(ctx context.Context, gateway models.PaymentGateway, olderThan time.Time, limit int) ([]models.Payment, error) {
	var out []models.Payment
	err := s.db.WithContext(ctx).
		Where("status = ? AND gateway = ? AND created_at < ?", models.PaymentStatusPending, gateway, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list stale payments: %w", err)
	}
	return out, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrPaymentNotFound
	}
	return err
}
