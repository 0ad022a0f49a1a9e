package services

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"

	"storefront_pay_echo/internal/models"
)

// midtransCore is the part of coreapi.Client the adapter uses
type midtransCore interface {
	ChargeTransaction(req *coreapi.ChargeReq) (*coreapi.ChargeResponse, *midtrans.Error)
	CheckTransaction(param string) (*coreapi.TransactionStatusResponse, *midtrans.Error)
	CancelTransaction(param string) (*coreapi.CancelResponse, *midtrans.Error)
}

// MidtransService charges QRIS payments through the Midtrans Core API.
// Notifications are signed with the server key.
type MidtransService struct {
	core      midtransCore
	serverKey string
}

func NewMidtransService(serverKey, clientKey string, isProduction bool) *MidtransService {
	env := midtrans.Sandbox
	if isProduction {
		env = midtrans.Production
	}

	var c coreapi.Client
	c.New(serverKey, env)

	midtrans.ServerKey = serverKey
	midtrans.ClientKey = clientKey
	midtrans.Environment = env

	return &MidtransService{core: &c, serverKey: serverKey}
}

func (s *MidtransService) Name() models.PaymentGateway {
	return models.PaymentGatewayMidtrans
}

// MidtransOrderID is the Midtrans order id used for a reference triple
func MidtransOrderID(refs models.Refs) string {
	return refs.Ref1 + "-" + refs.Ref3
}

func (s *MidtransService) CreateQR(ctx context.Context, req QRRequest) (*QRResponse, error) {
	orderID := MidtransOrderID(req.Refs)
	charge := &coreapi.ChargeReq{
		PaymentType: coreapi.PaymentTypeQris,
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  orderID,
			GrossAmt: req.Amount,
		},
		CustomerDetails: &midtrans.CustomerDetails{
			FName: req.CustomerName,
			Email: req.CustomerEmail,
		},
		Items: &[]midtrans.ItemDetails{
			{
				ID:    req.OrderID,
				Name:  fmt.Sprintf("Order %s", req.OrderID),
				Price: req.Amount,
				Qty:   1,
			},
		},
	}

	resp, mErr := s.core.ChargeTransaction(charge)
	if mErr != nil {
		return nil, fmt.Errorf("midtrans charge %s: %w", orderID, mErr)
	}
	if resp.StatusCode != "200" && resp.StatusCode != "201" {
		return nil, fmt.Errorf("midtrans charge %s: status %s %s", orderID, resp.StatusCode, resp.StatusMessage)
	}
	if resp.QRString == "" {
		return nil, fmt.Errorf("midtrans charge %s: empty qr string", orderID)
	}

	raw, _ := json.Marshal(resp)
	return &QRResponse{
		QRPayload:         resp.QRString,
		ProviderPaymentID: orderID,
		Raw:               raw,
	}, nil
}

func (s *MidtransService) CheckPayment(ctx context.Context, p *models.Payment) (models.PaymentStatus, error) {
	resp, mErr := s.core.CheckTransaction(MidtransOrderID(p.Refs()))
	if mErr != nil {
		return "", fmt.Errorf("midtrans status %s: %w", MidtransOrderID(p.Refs()), mErr)
	}
	status, _ := MapMidtransStatus(resp.TransactionStatus, resp.FraudStatus)
	return status, nil
}

func (s *MidtransService) CancelPayment(ctx context.Context, p *models.Payment) error {
	if _, mErr := s.core.CancelTransaction(MidtransOrderID(p.Refs())); mErr != nil {
		return fmt.Errorf("midtrans cancel %s: %w", MidtransOrderID(p.Refs()), mErr)
	}
	return nil
}

// MidtransNotification is the HTTP notification body Midtrans posts
type MidtransNotification struct {
	TransactionTime   string `json:"transaction_time"`
	TransactionStatus string `json:"transaction_status"`
	TransactionID     string `json:"transaction_id"`
	StatusMessage     string `json:"status_message"`
	StatusCode        string `json:"status_code"`
	SignatureKey      string `json:"signature_key"`
	PaymentType       string `json:"payment_type"`
	OrderID           string `json:"order_id"`
	GrossAmount       string `json:"gross_amount"`
	FraudStatus       string `json:"fraud_status"`
	Currency          string `json:"currency"`
}

// Signature computes SHA512(order_id + status_code + gross_amount + server_key) in hex.
func MidtransSignature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

// VerifySignature checks the notification's signature_key against the server key
func (s *MidtransService) VerifySignature(n MidtransNotification) bool {
	want := MidtransSignature(n.OrderID, n.StatusCode, n.GrossAmount, s.serverKey)
	return subtle.ConstantTimeCompare([]byte(want), []byte(n.SignatureKey)) == 1
}

// MapMidtransStatus maps a Midtrans transaction status to a payment status.
// ok is false when the notification carries no final outcome.
func MapMidtransStatus(transactionStatus, fraudStatus string) (status models.PaymentStatus, ok bool) {
	switch transactionStatus {
	case "settlement":
		return models.PaymentStatusSuccess, true
	case "capture":
		if fraudStatus == "" || fraudStatus == "accept" {
			return models.PaymentStatusSuccess, true
		}
		if fraudStatus == "deny" {
			return models.PaymentStatusFailed, true
		}
		return models.PaymentStatusPending, false
	case "deny", "failure":
		return models.PaymentStatusFailed, true
	case "cancel", "expire":
		return models.PaymentStatusCancelled, true
	default:
		return models.PaymentStatusPending, false
	}
}
