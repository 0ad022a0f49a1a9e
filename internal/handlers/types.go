package handlers

import (
	"encoding/json"
	"time"

	"storefront_pay_echo/internal/models"
)

// errorResponse is the body of every failed API call
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func failure(msg string) errorResponse {
	return errorResponse{Success: false, Error: msg}
}

type initiatePaymentRequest struct {
	OrderID string `json:"orderId" form:"orderId"`
	// Amount is the client's view of the total in minor units. Optional.
	// JSON clients may send it as a number or a numeric string.
	Amount json.Number `json:"amount" form:"amount"`
}

type initiatePaymentResponse struct {
	Success   bool   `json:"success"`
	QRPayload string `json:"qrPayload"`
	Ref1      string `json:"ref1"`
	Ref2      string `json:"ref2"`
	Ref3      string `json:"ref3"`
	OrderID   string `json:"orderId"`
}

type paymentSummary struct {
	ID          uint                 `json:"id"`
	OrderID     string               `json:"order_id"`
	Amount      int64                `json:"amount"`
	Currency    string               `json:"currency"`
	Status      models.PaymentStatus `json:"status"`
	Ref1        string               `json:"ref1"`
	Ref2        string               `json:"ref2"`
	Ref3        string               `json:"ref3"`
	ConfirmedAt *time.Time           `json:"confirmed_at,omitempty"`
}

func summarize(p *models.Payment) paymentSummary {
	return paymentSummary{
		ID:          p.ID,
		OrderID:     p.OrderID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Status:      p.Status,
		Ref1:        p.Ref1,
		Ref2:        p.Ref2,
		Ref3:        p.Ref3,
		ConfirmedAt: p.ConfirmedAt,
	}
}

// confirmCallbackRequest is the bank's reference-mode confirmation body
type confirmCallbackRequest struct {
	BillPaymentRef1        string `json:"billPaymentRef1"`
	BillPaymentRef2        string `json:"billPaymentRef2"`
	BillPaymentRef3        string `json:"billPaymentRef3"`
	TransactionID          string `json:"transactionId"`
	Amount                 string `json:"amount"`
	TransactionDateandTime string `json:"transactionDateandTime"`
}

type confirmCallbackResponse struct {
	Success         bool                 `json:"success"`
	OrderID         string               `json:"order_id"`
	Status          models.PaymentStatus `json:"status"`
	TransactionTime string               `json:"transactionTime,omitempty"`
}

// streamErrorFrame is sent when the stream cannot determine the status
type streamErrorFrame struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Error   string `json:"error"`
}
