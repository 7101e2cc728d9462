// Package events carries protocol events from the engine to observers:
// the ClickHouse archive and live websocket subscribers. Event emission is
// ancillary to the operations that produce it; a failing sink never aborts
// the operation that emitted.
package events

import (
	"context"

	"github.com/CoinDrip-finance/protocol-v2/internal/domain"
)

// Sink receives protocol events as they are emitted.
type Sink interface {
	Emit(ctx context.Context, rec *domain.EventRecord) error
}

// MultiSink fans an event out to several sinks. Every sink sees the event;
// the first error is returned after all sinks ran.
type MultiSink []Sink

// Compile-time interface check.
var _ Sink = (MultiSink)(nil)

// Emit delivers the event to every sink.
func (m MultiSink) Emit(ctx context.Context, rec *domain.EventRecord) error {
	var firstErr error
	for _, s := range m {
		if err := s.Emit(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NopSink discards events. Used when no archive or feed is configured.
type NopSink struct{}

// Compile-time interface check.
var _ Sink = NopSink{}

func (NopSink) Emit(ctx context.Context, rec *domain.EventRecord) error { return nil }
