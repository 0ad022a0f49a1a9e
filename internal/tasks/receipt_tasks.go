package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"storefront_pay_echo/internal/models"
	"storefront_pay_echo/internal/services"
)

// ReceiptMailer sends payment receipts. *services.EmailService satisfies it.
type ReceiptMailer interface {
	Configured() bool
	SendPaymentReceipt(to, name string, p *models.Payment) error
}

// SendPaymentReceiptArgs defines the arguments for a receipt task
type SendPaymentReceiptArgs struct {
	PaymentID uint `json:"payment_id"`
}

// SendPaymentReceiptTaskDef e-mails the payer once a payment succeeds
type SendPaymentReceiptTaskDef struct {
	payments *services.PaymentStore
	mailer   ReceiptMailer
	logger   *slog.Logger
}

// TaskID returns the unique identifier for this task
func (t *SendPaymentReceiptTaskDef) TaskID() string {
	return "send_payment_receipt"
}

// CreateTask builds a one-time receipt task due now
func (t *SendPaymentReceiptTaskDef) CreateTask(args SendPaymentReceiptArgs) (*models.ScheduledTask, error) {
	return BuildScheduledTask(t.TaskID(), args, time.Now(), nil, models.ScheduledTaskTypeOneTime, 3)
}

// HandleExecution loads the payment and its payer and sends the receipt
func (t *SendPaymentReceiptTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
	var args SendPaymentReceiptArgs
	if err := decodeArgs(task, &args); err != nil {
		return nil, err
	}
	if args.PaymentID == 0 {
		return nil, fmt.Errorf("payment_id not provided or invalid")
	}

	if t.mailer == nil || !t.mailer.Configured() {
		return map[string]interface{}{"status": "skipped", "reason": "smtp not configured"}, nil
	}

	p, err := t.payments.FindByID(ctx, args.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch payment: %w", err)
	}
	if p.Status != models.PaymentStatusSuccess {
		return map[string]interface{}{"status": "skipped", "reason": "payment is " + string(p.Status)}, nil
	}

	var user models.User
	err = db.WithContext(ctx).Where("uid = ?", p.CreatedBy).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && user.Email == "") {
		t.logger.InfoContext(ctx, "receipt skipped, payer has no e-mail", "payment_id", p.ID, "user", p.CreatedBy)
		return map[string]interface{}{"status": "skipped", "reason": "no email"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}

	if err := t.mailer.SendPaymentReceipt(user.Email, user.Name, p); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status":     "success",
		"payment_id": p.ID,
		"email":      user.Email,
	}, nil
}

// ReceiptScheduler queues receipt tasks for the worker
type ReceiptScheduler struct {
	db   *gorm.DB
	task *SendPaymentReceiptTaskDef
}

func NewReceiptScheduler(db *gorm.DB) *ReceiptScheduler {
	return &ReceiptScheduler{db: db, task: &SendPaymentReceiptTaskDef{}}
}

// ScheduleReceipt inserts a send_payment_receipt task for p
func (s *ReceiptScheduler) ScheduleReceipt(ctx context.Context, p *models.Payment) error {
	task, err := s.task.CreateTask(SendPaymentReceiptArgs{PaymentID: p.ID})
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(task).Error
}
