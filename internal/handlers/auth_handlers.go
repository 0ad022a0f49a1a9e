package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"storefront_pay_echo/internal/middleware"
	"storefront_pay_echo/internal/models"
)

const sessionTTL = 5 * 24 * time.Hour

// SessionIssuer exchanges Firebase ID tokens for session cookies. *auth.Client satisfies it.
type SessionIssuer interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
	SessionCookie(ctx context.Context, idToken string, expiresIn time.Duration) (string, error)
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	issuer        SessionIssuer
	db            *gorm.DB
	secureCookies bool
	logger        *slog.Logger
}

func NewAuthHandler(issuer SessionIssuer, db *gorm.DB, secureCookies bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{issuer: issuer, db: db, secureCookies: secureCookies, logger: logger}
}

// HandleLogin verifies the Firebase ID token, records the user and sets the session cookie
func (h *AuthHandler) HandleLogin(c echo.Context) error {
	if h.issuer == nil {
		return c.JSON(http.StatusServiceUnavailable, failure("Authentication is not configured."))
	}

	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if authHeader == "" {
		return c.JSON(http.StatusUnauthorized, failure("Missing authorization header"))
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return c.JSON(http.StatusUnauthorized, failure("Invalid authorization format"))
	}

	ctx := c.Request().Context()
	token, err := h.issuer.VerifyIDToken(ctx, tokenString)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, failure("Invalid token"))
	}

	cookieValue, err := h.issuer.SessionCookie(ctx, tokenString, sessionTTL)
	if err != nil {
		h.logger.ErrorContext(ctx, "session cookie creation failed", "uid", token.UID, "error", err)
		return c.JSON(http.StatusInternalServerError, failure("Failed to create session"))
	}

	if err := h.upsertUser(ctx, token); err != nil {
		h.logger.ErrorContext(ctx, "user upsert failed", "uid", token.UID, "error", err)
		return c.JSON(http.StatusInternalServerError, failure("Failed to create session"))
	}

	c.SetCookie(&http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    cookieValue,
		MaxAge:   int(sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})

	return c.JSON(http.StatusOK, map[string]interface{}{"success": true})
}

func (h *AuthHandler) upsertUser(ctx context.Context, token *auth.Token) error {
	user := models.User{UID: token.UID}
	if email, ok := token.Claims["email"].(string); ok {
		user.Email = email
	}
	if name, ok := token.Claims["name"].(string); ok {
		user.Name = name
	}

	return h.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "name", "updated_at"}),
	}).Create(&user).Error
}

// HandleLogout clears the session cookie
func (h *AuthHandler) HandleLogout(c echo.Context) error {
	c.SetCookie(&http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		Path:     "/",
	})
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true})
}
