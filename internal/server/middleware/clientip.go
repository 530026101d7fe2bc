package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// ClientIPHandler records the caller's IP in the user context. X-Forwarded-For
// (first hop) wins over X-Real-IP, which wins over the socket address.
func ClientIPHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.SetUserContext(WithClientIP(c.UserContext(), requestIP(c)))
		return c.Next()
	}
}

func requestIP(c *fiber.Ctx) string {
	if s := strings.TrimSpace(c.Get(fiber.HeaderXForwardedFor)); s != "" {
		if i := strings.Index(s, ","); i > 0 {
			s = strings.TrimSpace(s[:i])
		}
		return s
	}
	if s := strings.TrimSpace(c.Get("X-Real-IP")); s != "" {
		return s
	}
	if ip := c.IP(); ip != "" {
		return ip
	}
	return "unknown"
}
