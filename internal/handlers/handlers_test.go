package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"storefront_pay_echo/internal/middleware"
	"storefront_pay_echo/internal/models"
	"storefront_pay_echo/internal/services"
	"storefront_pay_echo/internal/testutil"
)

const (
	testServerKey        = "SB-Mid-server-test"
	defaultTestHeartbeat = time.Minute
)

// fakeAuth accepts session cookies of the form "session-<uid>" and ID tokens "id-<uid>"
type fakeAuth struct{}

func (fakeAuth) VerifySessionCookie(ctx context.Context, cookie string) (*auth.Token, error) {
	uid, ok := strings.CutPrefix(cookie, "session-")
	if !ok || uid == "" {
		return nil, errors.New("invalid session")
	}
	return &auth.Token{UID: uid, Claims: map[string]interface{}{"email": uid + "@example.com", "name": "User " + uid}}, nil
}

func (fakeAuth) VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	uid, ok := strings.CutPrefix(idToken, "id-")
	if !ok || uid == "" {
		return nil, errors.New("invalid id token")
	}
	return &auth.Token{UID: uid, Claims: map[string]interface{}{"email": uid + "@example.com", "name": "User " + uid}}, nil
}

func (fakeAuth) SessionCookie(ctx context.Context, idToken string, expiresIn time.Duration) (string, error) {
	return "session-" + strings.TrimPrefix(idToken, "id-"), nil
}

type fakeProvider struct {
	fail     bool
	requests []services.QRRequest
}

func (p *fakeProvider) Name() models.PaymentGateway { return models.PaymentGatewayQRBank }

func (p *fakeProvider) CreateQR(ctx context.Context, req services.QRRequest) (*services.QRResponse, error) {
	p.requests = append(p.requests, req)
	if p.fail {
		return nil, errors.New("bank returned 500")
	}
	return &services.QRResponse{QRPayload: "00020101021230" + req.Refs.Ref3, Raw: []byte(`{"status":{"code":1000}}`)}, nil
}

type testApp struct {
	e          *echo.Echo
	db         *gorm.DB
	store      *services.PaymentStore
	dispatcher *services.Dispatcher
	provider   *fakeProvider
}

type appOption func(*Routes)

func withAllowlist(ips ...string) appOption {
	return func(r *Routes) { r.WebhookIPs = ips }
}

func newTestApp(t *testing.T, heartbeat time.Duration, opts ...appOption) *testApp {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := testutil.NewDB(t)
	store := services.NewPaymentStore(db, nil)
	dispatcher := services.NewDispatcher(logger)
	provider := &fakeProvider{}

	paymentSvc := services.NewPaymentService(store, services.NewOrderStore(db), provider, "THB", logger)
	webhookSvc := services.NewWebhookService(db, store, dispatcher, nil, logger)

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.NewErrorHandler(logger)
	e.Use(middleware.RequestID())

	routes := Routes{
		Auth:     NewAuthHandler(fakeAuth{}, db, false, logger),
		Payments: NewPaymentHandler(paymentSvc, store, logger),
		Webhooks: NewWebhookHandler(webhookSvc, services.NewMidtransService(testServerKey, "", false), logger),
		Status:   NewStatusStreamHandler(store, dispatcher, heartbeat, logger),
		Sessions: fakeAuth{},
		Logger:   logger,
	}
	for _, opt := range opts {
		opt(&routes)
	}
	RegisterRoutes(e, routes)

	return &testApp{e: e, db: db, store: store, dispatcher: dispatcher, provider: provider}
}

func (a *testApp) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

// serve starts a real server. Streams opened on it are closed before the server.
func (a *testApp) serve(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(a.e)
	t.Cleanup(srv.Close)
	return srv
}

func (a *testApp) postJSON(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return a.do(req)
}

// csrf fetches a CSRF token and returns it with its cookie
func (a *testApp) csrf(t *testing.T) (string, *http.Cookie) {
	t.Helper()
	rec := a.do(httptest.NewRequest(http.MethodGet, "/api/csrf", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == CSRFCookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	return cookie.Value, cookie
}

func (a *testApp) initiate(t *testing.T, uid string, form url.Values, withCSRF bool) *httptest.ResponseRecorder {
	t.Helper()
	if withCSRF {
		token, cookie := a.csrf(t)
		form.Set("csrfToken", token)
		req := httptest.NewRequest(http.MethodPost, "/api/payment/qr", strings.NewReader(form.Encode()))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
		req.AddCookie(cookie)
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "session-" + uid})
		return a.do(req)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/payment/qr", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	if uid != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "session-" + uid})
	}
	return a.do(req)
}

func (a *testApp) seedPayment(t *testing.T, orderID, userID string, refs models.Refs, providerID string) *models.Payment {
	t.Helper()
	p := &models.Payment{
		OrderID:   orderID,
		CreatedBy: userID,
		Ref1:      refs.Ref1,
		Ref2:      refs.Ref2,
		Ref3:      refs.Ref3,
		Amount:    50000,
		Currency:  "THB",
		Gateway:   models.PaymentGatewayQRBank,
		Status:    models.PaymentStatusPending,
	}
	if providerID != "" {
		p.ProviderPaymentID = &providerID
		p.Gateway = models.PaymentGatewayMidtrans
	}
	require.NoError(t, a.store.Create(context.Background(), p))
	return p
}

func (a *testApp) paymentStatus(t *testing.T, id uint) models.PaymentStatus {
	t.Helper()
	p, err := a.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	return p.Status
}
