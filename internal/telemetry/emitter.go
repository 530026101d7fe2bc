package telemetry

import (
	"context"
	"errors"
)

// EventEmitter emits telemetry events (e.g. to OTel Logs or Kafka). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}

// Fanout sends each event to every non-nil emitter and joins their errors.
type Fanout []EventEmitter

func (f Fanout) Emit(ctx context.Context, event *Event) error {
	var errs []error
	for _, e := range f {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
