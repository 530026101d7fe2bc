package middleware

import (
	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "esim-gateway/http"

// Tracing starts a server span per request. The span is named after the
// matched route once routing is done. tp may be nil to use the global provider.
func Tracing(tp trace.TracerProvider) fiber.Handler {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(tracerName)
	return func(c *fiber.Ctx) error {
		ctx, span := tracer.Start(c.UserContext(), c.Method()+" "+c.Path(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Method()),
				attribute.String("url.path", c.Path()),
			),
		)
		defer span.End()
		c.SetUserContext(ctx)

		err := c.Next()

		route := c.Route().Path
		span.SetName(c.Method() + " " + route)
		status := ResponseStatus(c, err)
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.response.status_code", status),
		)
		if sub, ok := SubjectID(c.UserContext()); ok {
			span.SetAttributes(attribute.String("enduser.id", sub))
		}
		if status >= fiber.StatusInternalServerError {
			span.SetStatus(codes.Error, fiber.ErrInternalServerError.Message)
			if err != nil {
				span.RecordError(err)
			}
		}
		return err
	}
}
