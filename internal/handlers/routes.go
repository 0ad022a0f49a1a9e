package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"storefront_pay_echo/internal/middleware"
)

// CSRFCookieName is the cookie holding the per-browser CSRF token
const CSRFCookieName = "csrfToken"

// Routes collects everything RegisterRoutes mounts
type Routes struct {
	Auth          *AuthHandler
	Payments      *PaymentHandler
	Webhooks      *WebhookHandler
	Status        *StatusStreamHandler
	Sessions      middleware.SessionVerifier
	WebhookIPs    []string
	SecureCookies bool
	Logger        *slog.Logger
}

// CSRF validates the csrfToken form field or the X-CSRF-Token header
// against the csrfToken cookie. Safe methods only issue the token.
func CSRF(secure bool) echo.MiddlewareFunc {
	return echomw.CSRFWithConfig(echomw.CSRFConfig{
		TokenLookup:    "form:csrfToken,header:X-CSRF-Token",
		CookieName:     CSRFCookieName,
		CookiePath:     "/",
		CookieHTTPOnly: true,
		CookieSecure:   secure,
		CookieSameSite: http.SameSiteStrictMode,
		ErrorHandler: func(err error, c echo.Context) error {
			return c.JSON(http.StatusForbidden, failure("Invalid CSRF token. Please refresh the page and try again."))
		},
	})
}

// RegisterRoutes mounts the API on e
func RegisterRoutes(e *echo.Echo, r Routes) {
	csrf := CSRF(r.SecureCookies)
	requireAuth := middleware.RequireAuth(r.Sessions)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	e.POST("/auth/login", r.Auth.HandleLogin)
	e.POST("/auth/logout", r.Auth.HandleLogout)

	api := e.Group("/api")
	api.GET("/csrf", r.Payments.CsrfToken, csrf)
	api.GET("/payment/status", r.Status.Stream)

	api.POST("/payment/qr", r.Payments.InitiatePayment, requireAuth, csrf)
	api.GET("/payment/latest", r.Payments.LatestPayment, requireAuth)

	allowlist := middleware.IPAllowlist(r.WebhookIPs, r.Logger)
	api.POST("/payment/callback/confirm", r.Webhooks.ConfirmCallback, allowlist)
	api.POST("/payment/checkpayment", r.Webhooks.MidtransNotification, allowlist)
}
