package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"esim-gateway/internal/telemetry"
)

const loggerName = "esim-gateway.telemetry"

// recordEmitter is the part of otellog.Logger the adapter needs.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger(loggerName)}
}

// NewEventEmitterWithLogger wraps an existing logger.
func NewEventEmitterWithLogger(logger recordEmitter) telemetry.EventEmitter {
	if logger == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *telemetry.Event) error { return nil }

type otelEmitter struct {
	logger recordEmitter
}

// Emit converts the event to an OTel log record. The metadata JSON becomes the body.
func (e *otelEmitter) Emit(ctx context.Context, event *telemetry.Event) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetObservedTimestamp(time.Now().UTC())
	rec.SetSeverity(otellog.SeverityInfo)
	if len(event.Metadata) > 0 {
		rec.SetBody(otellog.BytesValue(event.Metadata))
	}
	for _, kv := range []struct{ key, val string }{
		{"event_type", event.EventType},
		{"source", event.Source},
		{"user_id", event.UserID},
	} {
		if kv.val != "" {
			rec.AddAttributes(otellog.String(kv.key, kv.val))
		}
	}
	e.logger.Emit(ctx, rec)
	return nil
}
