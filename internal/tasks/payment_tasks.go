package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"storefront_pay_echo/internal/models"
	"storefront_pay_echo/internal/services"
)

const (
	defaultExpiryBatch = 100
	// ExpireStalePaymentsRule runs the sweep every five minutes
	ExpireStalePaymentsRule = "FREQ=MINUTELY;INTERVAL=5"
)

// StatusChecker asks a provider for the real state of one of its payments
type StatusChecker interface {
	Name() models.PaymentGateway
	CheckPayment(ctx context.Context, p *models.Payment) (models.PaymentStatus, error)
}

// ExpireStalePaymentsArgs are the arguments of the expiry sweep
type ExpireStalePaymentsArgs struct {
	Limit int `json:"limit"`
}

// ExpireStalePaymentsTaskDef resolves pending payments older than the pending
// TTL by asking their provider. Payments of a provider without a status
// checker stay pending because their QR may still be paid.
type ExpireStalePaymentsTaskDef struct {
	payments *services.PaymentStore
	webhooks *services.WebhookService
	checker  StatusChecker
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// TaskID returns the unique identifier for this task
func (t *ExpireStalePaymentsTaskDef) TaskID() string {
	return "expire_stale_payments"
}

// CreateTask builds the recurring sweep starting at due
func (t *ExpireStalePaymentsTaskDef) CreateTask(args ExpireStalePaymentsArgs, due time.Time) (*models.ScheduledTask, error) {
	rule := ExpireStalePaymentsRule
	return BuildScheduledTask(t.TaskID(), args, due, &rule, models.ScheduledTaskTypeRecurring, 3)
}

// HandleExecution resolves every stale pending payment through the webhook
// confirmation path so waiting streams and receipts behave the same way.
func (t *ExpireStalePaymentsTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
	var args ExpireStalePaymentsArgs
	if err := decodeArgs(task, &args); err != nil {
		return nil, err
	}
	if args.Limit <= 0 {
		args.Limit = defaultExpiryBatch
	}

	if t.checker == nil {
		t.logger.InfoContext(ctx, "stale payment sweep skipped, no provider status checker")
		return map[string]interface{}{"checked": 0, "skipped": true}, nil
	}

	cutoff := t.now().Add(-t.ttl)
	stale, err := t.payments.ListStalePending(ctx, t.checker.Name(), cutoff, args.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale payments: %w", err)
	}

	counts := map[models.PaymentStatus]int{}
	stillPending, failures := 0, 0
	for i := range stale {
		p := &stale[i]

		status, err := t.checker.CheckPayment(ctx, p)
		if err != nil {
			t.logger.WarnContext(ctx, "stale payment status check failed",
				"payment_id", p.ID, "gateway", p.Gateway, "error", err)
			failures++
			continue
		}
		if status == models.PaymentStatusPending {
			stillPending++
			continue
		}

		res, err := t.webhooks.Resolve(ctx, p, status, "")
		if err != nil {
			t.logger.ErrorContext(ctx, "stale payment resolve failed", "payment_id", p.ID, "error", err)
			failures++
			continue
		}
		if res.Applied {
			counts[status]++
		}
	}

	result := map[string]interface{}{
		"checked":       len(stale),
		"succeeded":     counts[models.PaymentStatusSuccess],
		"failed":        counts[models.PaymentStatusFailed],
		"cancelled":     counts[models.PaymentStatusCancelled],
		"still_pending": stillPending,
		"errors":        failures,
	}
	if failures > 0 && failures == len(stale) {
		return result, fmt.Errorf("all %d stale payments failed to resolve", failures)
	}
	return result, nil
}

// EnsureExpirySweep creates the recurring expiry sweep unless an active one exists
func EnsureExpirySweep(ctx context.Context, db *gorm.DB, due time.Time) (bool, error) {
	def := &ExpireStalePaymentsTaskDef{}
	var count int64
	err := db.WithContext(ctx).Model(&models.ScheduledTask{}).
		Where("task_name = ? AND status = ?", def.TaskID(), models.ScheduledTaskStatusActive).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	task, err := def.CreateTask(ExpireStalePaymentsArgs{Limit: defaultExpiryBatch}, due)
	if err != nil {
		return false, err
	}
	return true, db.WithContext(ctx).Create(task).Error
}
