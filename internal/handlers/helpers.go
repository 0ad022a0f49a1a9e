package handlers

import (
	"io"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// maxCallbackBody bounds webhook bodies read into memory
const maxCallbackBody = 64 << 10

func getStringFromContext(c echo.Context, key string) string {
	if v, ok := c.Get(key).(string); ok {
		return v
	}
	return ""
}

func requestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}

func readBody(c echo.Context) ([]byte, error) {
	return io.ReadAll(io.LimitReader(c.Request().Body, maxCallbackBody))
}

// parseWholeAmount parses a decimal amount such as "50000.00" that must not
// carry a non-zero fraction.
func parseWholeAmount(s string) (int64, bool) {
	whole, frac, _ := strings.Cut(strings.TrimSpace(s), ".")
	if strings.Trim(frac, "0") != "" {
		return 0, false
	}
	n, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
