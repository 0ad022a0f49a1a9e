package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// NewErrorHandler returns an echo.HTTPErrorHandler that answers every error
// with {success:false, error, request_id}. Messages of non-HTTP errors are
// logged and replaced with a generic text.
func NewErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		message := ""

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if msg, ok := he.Message.(string); ok {
				message = msg
			}
		}

		if message == "" || message == http.StatusText(code) || code >= http.StatusInternalServerError {
			message = defaultMessage(code)
		}

		rid := c.Response().Header().Get(echo.HeaderXRequestID)
		level := slog.LevelWarn
		if code >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request().Context(), level, "request failed",
			"request_id", rid,
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"status", code,
			"error", err,
		)

		body := map[string]interface{}{
			"success":    false,
			"error":      message,
			"request_id": rid,
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(code)
		} else {
			writeErr = c.JSON(code, body)
		}
		if writeErr != nil {
			logger.Error("failed to write error response", "request_id", rid, "error", writeErr)
		}
	}
}

func defaultMessage(code int) string {
	switch code {
	case http.StatusNotFound:
		return "Not found."
	case http.StatusForbidden:
		return "Forbidden."
	case http.StatusUnauthorized:
		return "Please log in to continue."
	case http.StatusBadRequest:
		return "The request could not be processed."
	case http.StatusMethodNotAllowed:
		return "Method not allowed."
	default:
		if code >= http.StatusInternalServerError {
			return "Something went wrong. Please try again later."
		}
		return http.StatusText(code)
	}
}
