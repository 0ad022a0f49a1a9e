package tasks

import (
	"log/slog"
	"time"

	"storefront_pay_echo/internal/services"
)

// Deps carries the services task handlers need
type Deps struct {
	Payments *services.PaymentStore
	Webhooks *services.WebhookService
	// Checker is optional. Without it the expiry sweep leaves every payment pending.
	Checker    StatusChecker
	Mailer     ReceiptMailer
	PendingTTL time.Duration
	Logger     *slog.Logger
}

// DefineTasks registers all available tasks
func DefineTasks(r *Registry, deps Deps) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logInfo := &LogInfoTaskDef{logger: logger}
	r.Register(logInfo.TaskID(), logInfo.HandleExecution)

	expire := &ExpireStalePaymentsTaskDef{
		payments: deps.Payments,
		webhooks: deps.Webhooks,
		checker:  deps.Checker,
		ttl:      deps.PendingTTL,
		logger:   logger,
		now:      time.Now,
	}
	r.Register(expire.TaskID(), expire.HandleExecution)

	receipt := &SendPaymentReceiptTaskDef{
		payments: deps.Payments,
		mailer:   deps.Mailer,
		logger:   logger,
	}
	r.Register(receipt.TaskID(), receipt.HandleExecution)
}
