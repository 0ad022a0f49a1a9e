package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// IPAllowlist admits only callers whose address matches one of entries,
// given as plain IPs or CIDR ranges. An empty list admits everyone.
func IPAllowlist(entries []string, logger *slog.Logger) echo.MiddlewareFunc {
	var nets []*net.IPNet
	for _, e := range entries {
		if !strings.Contains(e, "/") {
			if ip := net.ParseIP(e); ip != nil {
				bits := 32
				if ip.To4() == nil {
					bits = 128
				}
				e = ip.String() + "/" + strconv.Itoa(bits)
			}
		}
		if _, n, err := net.ParseCIDR(e); err == nil {
			nets = append(nets, n)
		} else {
			logger.Warn("ignoring invalid allowlist entry", "entry", e)
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(nets) == 0 {
				return next(c)
			}

			ip := net.ParseIP(c.RealIP())
			for _, n := range nets {
				if ip != nil && n.Contains(ip) {
					return next(c)
				}
			}

			logger.Warn("webhook caller not allowlisted",
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"path", c.Request().URL.Path,
			)
			return c.JSON(http.StatusForbidden, map[string]interface{}{
				"success": false,
				"error":   "Forbidden",
			})
		}
	}
}
