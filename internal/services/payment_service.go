package services

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"gorm.io/datatypes"

	"storefront_pay_echo/internal/models"
)

// maxRefLength is the provider's limit on each reference field
const maxRefLength = 20

const (
	orderRefPrefix     = "ORDER"
	orderRefHashPrefix = "ORDX"
)

// QRRequest is what the initiation service asks a provider for
type QRRequest struct {
	OrderID       string
	Refs          models.Refs
	Amount        int64
	Currency      string
	CustomerName  string
	CustomerEmail string
}

// QRResponse carries the scannable payload and the provider's raw answer
type QRResponse struct {
	QRPayload         string
	ProviderPaymentID string
	Raw               json.RawMessage
}

// QRProvider creates scannable payment instruments with an external provider
type QRProvider interface {
	Name() models.PaymentGateway
	CreateQR(ctx context.Context, req QRRequest) (*QRResponse, error)
}

// PaymentCanceler is implemented by providers that can void a created transaction
type PaymentCanceler interface {
	CancelPayment(ctx context.Context, p *models.Payment) error
}

// PaymentStatusChecker is implemented by providers that can report a transaction's status.
// A pending result means the provider has not settled it yet.
type PaymentStatusChecker interface {
	CheckPayment(ctx context.Context, p *models.Payment) (models.PaymentStatus, error)
}

// ReferenceGenerator mints the reference triple for a payment attempt
type ReferenceGenerator struct {
	seq uint32
	now func() time.Time
}

func NewReferenceGenerator() *ReferenceGenerator {
	return &ReferenceGenerator{now: time.Now}
}

// Refs derives ref1 from the order, ref2 from the user and a fresh ref3.
func (g *ReferenceGenerator) Refs(orderID, userID string) models.Refs {
	return models.Refs{
		Ref1: orderRef(orderID),
		Ref2: sanitizeRef(userID),
		Ref3: g.nextRef3(),
	}
}

// nextRef3 is P + yyyyMMddHHmmss + milliseconds + a two-digit sequence, so two
// attempts in the same millisecond still differ.
func (g *ReferenceGenerator) nextRef3() string {
	t := g.now()
	seq := atomic.AddUint32(&g.seq, 1) % 100
	return fmt.Sprintf("P%s%03d%02d", t.Format("20060102150405"), t.Nanosecond()/int(time.Millisecond), seq)
}

// orderRef is "ORDER" + the order id when the id is short uppercase
// alphanumerics. Any other id is hashed to "ORDX" + 16 base32 characters so
// distinct orders never share a ref1 after truncation.
func orderRef(orderID string) string {
	if len(orderID) <= maxRefLength-len(orderRefPrefix) && sanitizeRef(orderID) == orderID && orderID != "" {
		return orderRefPrefix + orderID
	}
	sum := sha256.Sum256([]byte(orderID))
	digest := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:])
	return orderRefHashPrefix + digest[:maxRefLength-len(orderRefHashPrefix)]
}

func sanitizeRef(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == maxRefLength {
				break
			}
		}
	}
	return b.String()
}

// PaymentService starts QR payments for pending orders
type PaymentService struct {
	payments *PaymentStore
	orders   *OrderStore
	provider QRProvider
	refs     *ReferenceGenerator
	currency string
	logger   *slog.Logger
}

func NewPaymentService(payments *PaymentStore, orders *OrderStore, provider QRProvider, currency string, logger *slog.Logger) *PaymentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentService{
		payments: payments,
		orders:   orders,
		provider: provider,
		refs:     NewReferenceGenerator(),
		currency: currency,
		logger:   logger,
	}
}

// InitiateRequest identifies the order to pay. ClientAmount, when set, is
// only compared against the stored total.
type InitiateRequest struct {
	UserID       string
	UserName     string
	UserEmail    string
	OrderID      string
	ClientAmount *int64
}

type InitiateResult struct {
	PaymentID uint
	OrderID   string
	Refs      models.Refs
	QRPayload string
	Amount    int64
}

// Initiate requests a QR from the provider and records a pending payment.
// Nothing is stored when the provider call fails.
func (s *PaymentService) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	order, err := s.orders.GetForUser(ctx, req.OrderID, req.UserID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusPending {
		return nil, fmt.Errorf("%w: order %s is %s", ErrOrderNotPayable, order.ID, order.Status)
	}
	if req.ClientAmount != nil && *req.ClientAmount != order.Total {
		return nil, fmt.Errorf("%w: client %d, order %d", ErrAmountMismatch, *req.ClientAmount, order.Total)
	}

	currency := order.Currency
	if currency == "" {
		currency = s.currency
	}
	refs := s.refs.Refs(order.ID, req.UserID)

	resp, err := s.provider.CreateQR(ctx, QRRequest{
		OrderID:       order.ID,
		Refs:          refs,
		Amount:        order.Total,
		Currency:      currency,
		CustomerName:  req.UserName,
		CustomerEmail: req.UserEmail,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "qr creation failed",
			"provider", s.provider.Name(),
			"order_id", order.ID,
			"ref1", refs.Ref1,
			"ref3", refs.Ref3,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	payment := &models.Payment{
		OrderID:          order.ID,
		CreatedBy:        req.UserID,
		Ref1:             refs.Ref1,
		Ref2:             refs.Ref2,
		Ref3:             refs.Ref3,
		Amount:           order.Total,
		Currency:         currency,
		Gateway:          s.provider.Name(),
		QRRawData:        resp.QRPayload,
		ResponseMetadata: datatypes.JSON(resp.Raw),
		Status:           models.PaymentStatusPending,
	}
	if resp.ProviderPaymentID != "" {
		id := resp.ProviderPaymentID
		payment.ProviderPaymentID = &id
	}

	if err := s.payments.Create(ctx, payment); err != nil {
		s.compensate(ctx, payment)
		return nil, err
	}

	s.logger.InfoContext(ctx, "payment initiated",
		"payment_id", payment.ID,
		"order_id", order.ID,
		"provider", s.provider.Name(),
		"amount", order.Total,
		"ref1", refs.Ref1,
		"ref2", refs.Ref2,
		"ref3", refs.Ref3,
	)

	return &InitiateResult{
		PaymentID: payment.ID,
		OrderID:   order.ID,
		Refs:      refs,
		QRPayload: resp.QRPayload,
		Amount:    order.Total,
	}, nil
}

func (s *PaymentService) compensate(ctx context.Context, p *models.Payment) {
	canceler, ok := s.provider.(PaymentCanceler)
	if !ok {
		s.logger.WarnContext(ctx, "payment not stored and provider cannot cancel",
			"order_id", p.OrderID, "ref3", p.Ref3)
		return
	}
	if err := canceler.CancelPayment(ctx, p); err != nil {
		s.logger.ErrorContext(ctx, "compensating cancel failed",
			"order_id", p.OrderID, "ref3", p.Ref3, "error", err)
	}
}
