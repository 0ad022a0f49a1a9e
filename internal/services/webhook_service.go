package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"storefront_pay_echo/internal/models"
)

// Callback outcomes recorded in the audit trail
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeConflict  = "conflict"
	// OutcomeLatePayment marks money received for a payment that was already
	// closed. These need a manual refund or reconciliation.
	OutcomeLatePayment = "late_payment"
	OutcomeNotFound    = "not_found"
	OutcomeIgnored     = "ignored"
	OutcomeRejected    = "rejected"
	OutcomeError       = "error"
)

// ReceiptScheduler queues the payer's receipt after a successful payment
type ReceiptScheduler interface {
	ScheduleReceipt(ctx context.Context, p *models.Payment) error
}

// ConfirmResult describes what a confirmation did to the stored payment
type ConfirmResult struct {
	Payment   *models.Payment
	Applied   bool
	Published bool
}

// Outcome classifies the result for the audit trail
func (r *ConfirmResult) Outcome(requested models.PaymentStatus) string {
	switch {
	case r.Applied:
		return OutcomeApplied
	case r.Payment.Status == requested:
		return OutcomeDuplicate
	case requested == models.PaymentStatusSuccess:
		return OutcomeLatePayment
	default:
		return OutcomeConflict
	}
}

// WebhookService is the only writer of terminal payment status. Every
// applied transition is committed before it is published.
type WebhookService struct {
	db       *gorm.DB
	payments *PaymentStore
	events   PaymentEvents
	receipts ReceiptScheduler
	logger   *slog.Logger
	now      func() time.Time
}

// NewWebhookService wires the confirmation path. receipts may be nil.
func NewWebhookService(db *gorm.DB, payments *PaymentStore, events PaymentEvents, receipts ReceiptScheduler, logger *slog.Logger) *WebhookService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookService{
		db:       db,
		payments: payments,
		events:   events,
		receipts: receipts,
		logger:   logger,
		now:      time.Now,
	}
}

// ConfirmByRefs matches the newest payment for refs and moves it to status.
func (s *WebhookService) ConfirmByRefs(ctx context.Context, refs models.Refs, status models.PaymentStatus, transactionTime string) (*ConfirmResult, error) {
	p, err := s.LookupByRefs(ctx, refs)
	if err != nil {
		return nil, err
	}
	return s.Resolve(ctx, p, status, transactionTime)
}

// LookupByRefs finds the newest payment for refs and logs the result.
func (s *WebhookService) LookupByRefs(ctx context.Context, refs models.Refs) (*models.Payment, error) {
	p, err := s.payments.FindLatestByRefs(ctx, refs)
	s.logLookup(ctx, p, err, "ref1", refs.Ref1, "ref2", refs.Ref2, "ref3", refs.Ref3)
	return p, err
}

// ConfirmByProviderPaymentID matches the payment by the provider's transaction id.
func (s *WebhookService) ConfirmByProviderPaymentID(ctx context.Context, providerPaymentID string, status models.PaymentStatus, transactionTime string) (*ConfirmResult, error) {
	p, err := s.LookupProviderPayment(ctx, providerPaymentID)
	if err != nil {
		return nil, err
	}
	return s.Resolve(ctx, p, status, transactionTime)
}

// LookupProviderPayment finds the payment for a provider transaction id and logs the result.
func (s *WebhookService) LookupProviderPayment(ctx context.Context, providerPaymentID string) (*models.Payment, error) {
	p, err := s.payments.FindByProviderPaymentID(ctx, providerPaymentID)
	s.logLookup(ctx, p, err, "provider_payment_id", providerPaymentID)
	return p, err
}

func (s *WebhookService) logLookup(ctx context.Context, p *models.Payment, err error, keys ...any) {
	attrs := append([]any{"request_id", RequestIDFromContext(ctx)}, keys...)
	switch {
	case err != nil:
		s.logger.WarnContext(ctx, "payment lookup failed", append(attrs, "error", err)...)
	default:
		s.logger.InfoContext(ctx, "payment lookup", append(attrs, "payment_id", p.ID, "status", p.Status)...)
	}
}

// Resolve transitions p to status, then publishes the outcome when this call
// applied it. Duplicates and conflicting statuses leave the row untouched.
func (s *WebhookService) Resolve(ctx context.Context, p *models.Payment, status models.PaymentStatus, transactionTime string) (*ConfirmResult, error) {
	rid := RequestIDFromContext(ctx)

	updated, applied, err := s.payments.Transition(ctx, p.ID, status, s.now())
	if err != nil {
		s.logger.ErrorContext(ctx, "payment update failed",
			"request_id", rid, "payment_id", p.ID, "status", status, "error", err)
		return nil, err
	}

	result := &ConfirmResult{Payment: updated, Applied: applied}
	if !applied {
		switch {
		case updated.Status == status:
			s.logger.InfoContext(ctx, "payment already resolved",
				"request_id", rid, "payment_id", updated.ID, "status", updated.Status)
		case status == models.PaymentStatusSuccess:
			s.logger.ErrorContext(ctx, "payment received after it was closed",
				"request_id", rid, "payment_id", updated.ID, "order_id", updated.OrderID,
				"stored", updated.Status, "amount", updated.Amount, "alert", OutcomeLatePayment)
		default:
			s.logger.WarnContext(ctx, "conflicting payment status ignored",
				"request_id", rid, "payment_id", updated.ID, "stored", updated.Status, "requested", status)
		}
		return result, nil
	}
	s.logger.InfoContext(ctx, "payment updated",
		"request_id", rid, "payment_id", updated.ID, "order_id", updated.OrderID, "status", updated.Status)

	if err := s.events.Publish(ctx, updated.Refs(), NewPaymentEvent(updated, transactionTime)); err != nil {
		// the row is committed; waiters fall back to the store on their next heartbeat
		s.logger.ErrorContext(ctx, "payment publish failed",
			"request_id", rid, "payment_id", updated.ID, "error", err)
	} else {
		result.Published = true
		s.logger.InfoContext(ctx, "payment published",
			"request_id", rid, "payment_id", updated.ID, "key", updated.Refs().Key())
	}

	if updated.Status == models.PaymentStatusSuccess {
		s.afterSuccess(ctx, updated)
	}
	return result, nil
}

func (s *WebhookService) afterSuccess(ctx context.Context, p *models.Payment) {
	if err := s.payments.InvalidateLatest(ctx, p.CreatedBy); err != nil {
		s.logger.WarnContext(ctx, "latest payment cache invalidation failed",
			"payment_id", p.ID, "error", err)
	}
	if s.receipts == nil {
		return
	}
	if err := s.receipts.ScheduleReceipt(ctx, p); err != nil {
		s.logger.ErrorContext(ctx, "receipt scheduling failed",
			"payment_id", p.ID, "error", err)
	}
}

// RecordCallback appends the callback to the audit trail. Failures are logged
// and never affect the response to the provider.
func (s *WebhookService) RecordCallback(ctx context.Context, gateway models.PaymentGateway, paymentID *uint, outcome string, raw []byte) {
	if !json.Valid(raw) {
		wrapped, _ := json.Marshal(map[string]string{"raw": string(raw)})
		raw = wrapped
	}
	entry := models.PaymentCallbackHistory{
		PaymentGateway: gateway,
		RequestID:      RequestIDFromContext(ctx),
		PaymentID:      paymentID,
		Outcome:        outcome,
		Metadata:       datatypes.JSON(raw),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.logger.WarnContext(ctx, "callback audit write failed",
			"request_id", entry.RequestID, "gateway", gateway, "error", err)
	}
}
