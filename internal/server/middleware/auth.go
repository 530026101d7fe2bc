package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"esim-gateway/internal/platform/apperr"
)

const bearerPrefix = "bearer "

// AccessValidator verifies an access token. *security.TokenProvider implements it.
type AccessValidator interface {
	ValidateAccess(token string) (subjectID, email string, err error)
}

// RequireAuth rejects requests without a valid bearer access token and stores
// the verified subject in the request's user context.
func RequireAuth(tokens AccessValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearer(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			return apperr.Unauthorized("Authentication required")
		}
		subjectID, email, err := tokens.ValidateAccess(token)
		if err != nil {
			return apperr.Unauthorized("Authentication required")
		}
		c.SetUserContext(WithSubject(c.UserContext(), subjectID, email))
		return c.Next()
	}
}

// extractBearer returns the token from an Authorization header value, or "" if missing or malformed.
func extractBearer(v string) string {
	v = strings.TrimSpace(v)
	if len(v) < len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
