package middleware

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"

	"esim-gateway/internal/telemetry"
)

type requestMetadata struct {
	Method     string `json:"method"`
	Route      string `json:"route"`
	Status     int    `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	ClientIP   string `json:"client_ip"`
}

// Telemetry emits an http.request event after each request. Best-effort: the
// emit runs asynchronously and never changes the response. skipRoutes holds
// route paths (e.g. /health) that are not reported.
func Telemetry(emitter telemetry.EventEmitter, skipRoutes map[string]bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		route := c.Route().Path
		if emitter == nil || skipRoutes[route] {
			return err
		}
		ctx := c.UserContext()
		meta, _ := json.Marshal(requestMetadata{
			Method:     c.Method(),
			Route:      route,
			Status:     ResponseStatus(c, err),
			DurationMs: time.Since(start).Milliseconds(),
			ClientIP:   ClientIP(ctx),
		})
		subjectID, _ := SubjectID(ctx)
		telemetry.EmitAsync(ctx, emitter, telemetry.NewEvent(telemetry.EventTypeRequest, "http", subjectID, meta))
		return err
	}
}
