package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/copjon/slab-sinks/internal/entry"
	"github.com/copjon/slab-sinks/internal/telemetry"
)

// Publisher adapts the per-entry dispatcher to the buffer's batch
// publish callback.
type Publisher struct {
	disp   *Dispatcher
	client telemetry.Client
	logger *zap.Logger
}

// NewPublisher creates a publisher around the given dispatcher.
func NewPublisher(disp *Dispatcher, logger *zap.Logger) *Publisher {
	return &Publisher{
		disp:   disp,
		client: disp.client,
		logger: logger,
	}
}

// Publish processes one delivered batch sequentially and returns the
// number of entries dispatched.
//
// Fault policy:
//   - per-entry failures are absorbed by the dispatcher; the batch continues
//   - cancellation is a clean stop: already-dispatched entries stand,
//     the rest of the batch is abandoned, no error is reported
//   - any unexpected fault is logged to the self-diagnostics channel and
//     returned so the buffer's drop policy governs the batch
func (p *Publisher) Publish(ctx context.Context, batch []*entry.LogEntry) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch publish: %v", r)
			p.logger.Error("Publish: unexpected fault", zap.Int("batch_size", len(batch)), zap.Error(err))
		}
	}()

	for _, e := range batch {
		if ctx.Err() != nil {
			return n, nil
		}
		if p.disp.Dispatch(ctx, e) {
			n++
		}
	}

	// Transports that accumulate rows write them out once per batch.
	if f, ok := p.client.(telemetry.Flusher); ok {
		if ferr := f.Flush(ctx); ferr != nil {
			if errors.Is(ferr, context.Canceled) || errors.Is(ferr, context.DeadlineExceeded) {
				return n, nil
			}
			p.logger.Error("Publish: transport flush failed",
				zap.Int("batch_size", len(batch)),
				zap.Error(ferr))
			return n, ferr
		}
	}

	return n, nil
}
