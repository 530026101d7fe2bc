// Package middleware holds the fiber middleware shared by every route: client IP
// capture, bearer authentication, request tracing and request telemetry.
package middleware

import "context"

type contextKey struct{ name string }

var (
	subjectIDKey = contextKey{"subject_id"}
	emailKey     = contextKey{"email"}
	clientIPKey  = contextKey{"client_ip"}
)

// WithSubject returns a context carrying the authenticated subject id and, when known, email.
func WithSubject(ctx context.Context, subjectID, email string) context.Context {
	ctx = context.WithValue(ctx, subjectIDKey, subjectID)
	return context.WithValue(ctx, emailKey, email)
}

// SubjectID returns the authenticated subject id and true if set; otherwise "", false.
func SubjectID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(subjectIDKey).(string)
	return v, ok && v != ""
}

// Email returns the email claim of the access token, if any.
func Email(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(emailKey).(string)
	return v, ok && v != ""
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the IP recorded by the ClientIP middleware, or "unknown".
// It matches audit.IPExtractor.
func ClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(clientIPKey).(string); ok && v != "" {
		return v
	}
	return "unknown"
}
