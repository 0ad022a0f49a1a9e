package services

import (
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storefront_pay_echo/internal/models"
)

func TestEmailServiceSendPaymentReceipt(t *testing.T) {
	svc := NewEmailService("smtp.example.com", "587", "user", "pass", "shop@example.com")

	var gotAddr string
	var gotTo []string
	var gotMsg string
	svc.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	confirmed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := svc.SendPaymentReceipt("buyer@example.com", "Ann", &models.Payment{
		OrderID:     "ORDABC123",
		Amount:      50000,
		Currency:    "THB",
		Ref3:        "P1",
		ConfirmedAt: &confirmed,
	})
	require.NoError(t, err)
	require.Equal(t, "smtp.example.com:587", gotAddr)
	require.Equal(t, []string{"buyer@example.com"}, gotTo)
	require.Contains(t, gotMsg, "Subject: Payment receipt for order ORDABC123")
	require.Contains(t, gotMsg, "500.00 THB")
}

func TestEmailServiceRequiresCredentials(t *testing.T) {
	svc := NewEmailService("", "", "", "", "")
	require.False(t, svc.Configured())
	require.Error(t, svc.SendEmail([]string{"a@example.com"}, "s", "b"))
}
