package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"storefront_pay_echo/internal/models"
	"storefront_pay_echo/internal/services"
)

// SignatureVerifier checks signed provider notifications
type SignatureVerifier interface {
	VerifySignature(n services.MidtransNotification) bool
}

// WebhookHandler receives provider callbacks. It always answers with a
// structured JSON body so the provider never sees a bare failure.
type WebhookHandler struct {
	webhooks *services.WebhookService
	verifier SignatureVerifier
	logger   *slog.Logger
}

// NewWebhookHandler creates the handler. verifier may be nil when no signed
// provider is configured.
func NewWebhookHandler(webhooks *services.WebhookService, verifier SignatureVerifier, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, verifier: verifier, logger: logger}
}

// ConfirmCallback handles the bank's reference-mode confirmation
func (h *WebhookHandler) ConfirmCallback(c echo.Context) error {
	ctx := c.Request().Context()
	start := time.Now()
	rid := requestID(c)
	log := h.logger.With("request_id", rid, "gateway", models.PaymentGatewayQRBank)

	log.InfoContext(ctx, "payment callback received", "remote_ip", c.RealIP())
	defer func() {
		log.InfoContext(ctx, "payment callback finished", "duration_ms", time.Since(start).Milliseconds())
	}()

	body, err := readBody(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, failure("Invalid body"))
	}

	var req confirmCallbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		log.WarnContext(ctx, "payment callback body invalid", "error", err)
		h.webhooks.RecordCallback(ctx, models.PaymentGatewayQRBank, nil, services.OutcomeRejected, body)
		return c.JSON(http.StatusBadRequest, failure("Invalid JSON"))
	}

	refs := models.Refs{
		Ref1: req.BillPaymentRef1,
		Ref2: req.BillPaymentRef2,
		Ref3: req.BillPaymentRef3,
	}.Normalize()
	log.InfoContext(ctx, "payment callback parsed",
		"ref1", refs.Ref1, "ref2", refs.Ref2, "ref3", refs.Ref3,
		"transaction_id", req.TransactionID, "amount", req.Amount)

	if refs.Ref1 == "" || refs.Ref2 == "" {
		h.webhooks.RecordCallback(ctx, models.PaymentGatewayQRBank, nil, services.OutcomeRejected, body)
		return c.JSON(http.StatusBadRequest, failure("Missing billPaymentRef1 or billPaymentRef2"))
	}

	p, err := h.webhooks.LookupByRefs(ctx, refs)
	if errors.Is(err, services.ErrPaymentNotFound) {
		h.webhooks.RecordCallback(ctx, models.PaymentGatewayQRBank, nil, services.OutcomeNotFound, body)
		return c.JSON(http.StatusNotFound, failure("Payment not found"))
	}
	if err != nil {
		log.ErrorContext(ctx, "payment callback failed", "error", err)
		h.webhooks.RecordCallback(ctx, models.PaymentGatewayQRBank, nil, services.OutcomeError, body)
		return c.JSON(http.StatusInternalServerError, failure("Callback error"))
	}

	if strings.TrimSpace(req.Amount) != "" {
		if paid, ok := services.ParseMinorUnits(req.Amount); !ok || paid != p.Amount {
			log.WarnContext(ctx, "payment callback amount mismatch",
				"payment_id", p.ID, "stored", p.Amount, "amount", req.Amount)
			h.webhooks.RecordCallback(ctx, models.PaymentGatewayQRBank, &p.ID, services.OutcomeRejected, body)
			return c.JSON(http.StatusBadRequest, failure("Amount mismatch"))
		}
	}

	res, err := h.webhooks.Resolve(ctx, p, models.PaymentStatusSuccess, req.TransactionDateandTime)
	if err != nil {
		h.webhooks.RecordCallback(ctx, models.PaymentGatewayQRBank, &p.ID, services.OutcomeError, body)
		return c.JSON(http.StatusInternalServerError, failure("Callback error"))
	}

	h.webhooks.RecordCallback(ctx, models.PaymentGatewayQRBank, &p.ID, res.Outcome(models.PaymentStatusSuccess), body)
	return c.JSON(http.StatusOK, confirmCallbackResponse{
		Success:         res.Payment.Status == models.PaymentStatusSuccess,
		OrderID:         res.Payment.OrderID,
		Status:          res.Payment.Status,
		TransactionTime: req.TransactionDateandTime,
	})
}

// MidtransNotification handles signed Midtrans HTTP notifications
func (h *WebhookHandler) MidtransNotification(c echo.Context) error {
	ctx := c.Request().Context()
	start := time.Now()
	rid := requestID(c)
	log := h.logger.With("request_id", rid, "gateway", models.PaymentGatewayMidtrans)

	log.InfoContext(ctx, "payment notification received", "remote_ip", c.RealIP())
	defer func() {
		log.InfoContext(ctx, "payment notification finished", "duration_ms", time.Since(start).Milliseconds())
	}()

	reject := func(code int, msg string, body []byte) error {
		h.webhooks.RecordCallback(ctx, models.PaymentGatewayMidtrans, nil, services.OutcomeRejected, body)
		return c.JSON(code, failure(msg))
	}

	body, err := readBody(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, failure("Invalid body"))
	}

	var n services.MidtransNotification
	if err := json.Unmarshal(body, &n); err != nil {
		log.WarnContext(ctx, "payment notification body invalid", "error", err)
		return reject(http.StatusBadRequest, "Invalid JSON", body)
	}
	log.InfoContext(ctx, "payment notification parsed",
		"order_id", n.OrderID, "transaction_status", n.TransactionStatus,
		"fraud_status", n.FraudStatus, "gross_amount", n.GrossAmount)

	if n.OrderID == "" || n.StatusCode == "" || n.GrossAmount == "" || n.SignatureKey == "" {
		return reject(http.StatusBadRequest, "Missing required fields", body)
	}
	if h.verifier == nil || !h.verifier.VerifySignature(n) {
		log.WarnContext(ctx, "payment notification signature invalid", "order_id", n.OrderID)
		return reject(http.StatusForbidden, "Invalid signature", body)
	}

	status, final := services.MapMidtransStatus(n.TransactionStatus, n.FraudStatus)
	if !final {
		h.webhooks.RecordCallback(ctx, models.PaymentGatewayMidtrans, nil, services.OutcomeIgnored, body)
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success": true,
			"status":  models.PaymentStatusPending,
		})
	}

	p, err := h.webhooks.LookupProviderPayment(ctx, n.OrderID)
	if errors.Is(err, services.ErrPaymentNotFound) {
		h.webhooks.RecordCallback(ctx, models.PaymentGatewayMidtrans, nil, services.OutcomeNotFound, body)
		return c.JSON(http.StatusNotFound, failure("Payment not found"))
	}
	if err != nil {
		h.webhooks.RecordCallback(ctx, models.PaymentGatewayMidtrans, nil, services.OutcomeError, body)
		return c.JSON(http.StatusInternalServerError, failure("Callback error"))
	}

	if gross, ok := parseWholeAmount(n.GrossAmount); !ok || gross != p.Amount {
		log.WarnContext(ctx, "payment notification amount mismatch",
			"payment_id", p.ID, "stored", p.Amount, "gross_amount", n.GrossAmount)
		return reject(http.StatusBadRequest, "Amount mismatch", body)
	}

	res, err := h.webhooks.Resolve(ctx, p, status, n.TransactionTime)
	if err != nil {
		h.webhooks.RecordCallback(ctx, models.PaymentGatewayMidtrans, &p.ID, services.OutcomeError, body)
		return c.JSON(http.StatusInternalServerError, failure("Callback error"))
	}

	h.webhooks.RecordCallback(ctx, models.PaymentGatewayMidtrans, &p.ID, res.Outcome(status), body)
	return c.JSON(http.StatusOK, confirmCallbackResponse{
		Success:         res.Payment.Status == models.PaymentStatusSuccess,
		OrderID:         res.Payment.OrderID,
		Status:          res.Payment.Status,
		TransactionTime: n.TransactionTime,
	})
}
