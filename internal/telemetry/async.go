package telemetry

import (
	"context"
	"log"
	"time"
)

// emitTimeout is the max time allowed for a single async emit. Used by EmitAsync and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after the HTTP server stops before shutting down OTel providers,
// so in-flight async telemetry emits have time to complete. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine with a short timeout so the caller is not blocked.
//
// emitter and event may be nil; EmitAsync returns immediately without starting a goroutine.
// The goroutine detaches from ctx cancellation so a finished request does not abort the emit.
func EmitAsync(ctx context.Context, emitter EventEmitter, event *Event) {
	if emitter == nil || event == nil {
		return
	}
	base := context.WithoutCancel(ctx)
	go func() {
		emitCtx, cancel := context.WithTimeout(base, emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			log.Printf("telemetry: async emit failed: %v", err)
		}
	}()
}
