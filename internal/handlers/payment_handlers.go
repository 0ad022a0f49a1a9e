package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"storefront_pay_echo/internal/services"
)

type PaymentHandler struct {
	payments *services.PaymentService
	store    *services.PaymentStore
	logger   *slog.Logger
}

func NewPaymentHandler(payments *services.PaymentService, store *services.PaymentStore, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, store: store, logger: logger}
}

// CsrfToken returns the token issued by the CSRF middleware for this browser
func (h *PaymentHandler) CsrfToken(c echo.Context) error {
	token := getStringFromContext(c, "csrf")
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, map[string]string{"token": token})
}

// InitiatePayment creates a QR payment for one of the user's pending orders
func (h *PaymentHandler) InitiatePayment(c echo.Context) error {
	var req initiatePaymentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, failure("Invalid request."))
	}

	req.OrderID = strings.TrimSpace(req.OrderID)
	if req.OrderID == "" {
		return c.JSON(http.StatusBadRequest, failure("Missing orderId."))
	}

	in := services.InitiateRequest{
		UserID:    getStringFromContext(c, "userUID"),
		UserName:  getStringFromContext(c, "userName"),
		UserEmail: getStringFromContext(c, "userEmail"),
		OrderID:   req.OrderID,
	}
	if amount := strings.TrimSpace(req.Amount.String()); amount != "" {
		n, err := strconv.ParseInt(amount, 10, 64)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, failure("Invalid amount."))
		}
		in.ClientAmount = &n
	}

	res, err := h.payments.Initiate(c.Request().Context(), in)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrOrderNotFound):
		return c.JSON(http.StatusNotFound, failure("Order not found."))
	case errors.Is(err, services.ErrOrderNotPayable):
		return c.JSON(http.StatusConflict, failure("Order is not awaiting payment."))
	case errors.Is(err, services.ErrAmountMismatch):
		return c.JSON(http.StatusBadRequest, failure("Total mismatch"))
	case errors.Is(err, services.ErrProviderUnavailable):
		return c.JSON(http.StatusBadGateway, failure("Create QR Payment Failed."))
	default:
		h.logger.ErrorContext(c.Request().Context(), "initiate payment failed",
			"request_id", requestID(c), "order_id", req.OrderID, "error", err)
		return c.JSON(http.StatusInternalServerError, failure("Create QR Payment Failed."))
	}

	return c.JSON(http.StatusOK, initiatePaymentResponse{
		Success:   true,
		QRPayload: res.QRPayload,
		Ref1:      res.Refs.Ref1,
		Ref2:      res.Refs.Ref2,
		Ref3:      res.Refs.Ref3,
		OrderID:   res.OrderID,
	})
}

// LatestPayment returns the signed-in user's most recent successful payment
func (h *PaymentHandler) LatestPayment(c echo.Context) error {
	userID := getStringFromContext(c, "userUID")

	p, err := h.store.LatestSuccessfulForUser(c.Request().Context(), userID)
	if errors.Is(err, services.ErrPaymentNotFound) {
		return c.JSON(http.StatusNotFound, failure("No successful payment yet."))
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"payment": summarize(p),
	})
}
