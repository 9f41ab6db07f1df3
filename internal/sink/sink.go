// Package sink provides the observer-pattern lifecycle around the
// transform-and-dispatch pipeline: it accepts entries while active,
// coordinates a bounded flush on completion, and guarantees idempotent
// teardown.
package sink

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/copjon/slab-sinks/internal/buffer"
	"github.com/copjon/slab-sinks/internal/constants"
	"github.com/copjon/slab-sinks/internal/dispatch"
	"github.com/copjon/slab-sinks/internal/entry"
	"github.com/copjon/slab-sinks/internal/metrics"
	"github.com/copjon/slab-sinks/internal/telemetry"
	"github.com/copjon/slab-sinks/internal/transform"
)

// ErrDisposed is returned by Flush after the sink has been torn down.
var ErrDisposed = errors.New("sink: disposed")

// WaitIndefinitely makes the on-completion flush block until the drain
// finishes instead of bounding it with a timeout.
const WaitIndefinitely = time.Duration(-1)

// State is the sink lifecycle state. Transitions are monotonic:
// Active → Completing → Disposed, never backwards.
type State int32

const (
	StateActive State = iota
	StateCompleting
	StateDisposed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCompleting:
		return "completing"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Observer is the push contract the upstream producer drives: one call
// per entry, then exactly one of OnCompleted or OnError.
type Observer interface {
	// OnNext delivers one entry. Acceptance is fire-and-forget; delivery
	// failures are never reported back.
	OnNext(e *entry.LogEntry)

	// OnCompleted signals graceful end-of-stream.
	OnCompleted()

	// OnError signals an upstream fault. The sink shuts down the same
	// way as OnCompleted; err itself is not inspected.
	OnError(err error)
}

// Options holds sink construction parameters.
type Options struct {
	// InstanceName tags every emitted record. Required.
	InstanceName string

	// GlobalContext entries are re-emitted on every record with the
	// CTX_ prefix. Immutable after construction; nil means empty.
	GlobalContext map[string]string

	// BufferInterval is the time-based flush trigger.
	BufferInterval time.Duration

	// CountThreshold is the count-based flush trigger.
	CountThreshold int

	// MaxBufferSize bounds the intake queue; late entries are dropped.
	MaxBufferSize int

	// FlushTimeout bounds the best-effort drain on completion. Zero
	// skips the wait (teardown still runs); WaitIndefinitely blocks
	// until the drain finishes.
	FlushTimeout time.Duration
}

// Sink is the lifecycle state machine in front of the pipeline. It
// implements Observer.
type Sink struct {
	opts   Options
	logger *zap.Logger
	mets   *metrics.Metrics
	buf    *buffer.Buffer
	state  atomic.Int32
}

var _ Observer = (*Sink)(nil)

// New creates an active sink publishing through client. mets may be nil.
func New(opts Options, client telemetry.Client, logger *zap.Logger, mets *metrics.Metrics) (*Sink, error) {
	if opts.InstanceName == "" {
		return nil, fmt.Errorf("sink: instance name is required")
	}
	if client == nil {
		return nil, fmt.Errorf("sink: transport client is required")
	}
	if opts.FlushTimeout < 0 && opts.FlushTimeout != WaitIndefinitely {
		return nil, fmt.Errorf("sink: flush timeout must be non-negative or WaitIndefinitely")
	}
	if opts.BufferInterval <= 0 {
		opts.BufferInterval = constants.DefaultBufferInterval
	}
	if opts.CountThreshold <= 0 {
		opts.CountThreshold = constants.DefaultCountThreshold
	}
	if opts.MaxBufferSize <= 0 {
		opts.MaxBufferSize = constants.DefaultMaxBufferSize
	}

	extractor := transform.NewExtractor(opts.InstanceName, opts.GlobalContext)
	publisher := dispatch.NewPublisher(dispatch.NewDispatcher(client, extractor, logger, mets), logger)

	s := &Sink{
		opts:   opts,
		logger: logger,
		mets:   mets,
	}
	s.buf = buffer.New(context.Background(), buffer.Config{
		ID:             opts.InstanceName,
		Interval:       opts.BufferInterval,
		CountThreshold: opts.CountThreshold,
		MaxSize:        opts.MaxBufferSize,
	}, publisher.Publish, logger, mets)

	// A leaked sink still releases its worker; the finalizer path does
	// only non-blocking teardown, never a flush.
	runtime.SetFinalizer(s, (*Sink).finalize)

	logger.Info("Sink created",
		zap.String("instance", opts.InstanceName),
		zap.Duration("interval", opts.BufferInterval),
		zap.Int("count_threshold", opts.CountThreshold),
		zap.Int("max_buffer", opts.MaxBufferSize))

	return s, nil
}

// State returns the current lifecycle state.
func (s *Sink) State() State {
	return State(s.state.Load())
}

// OnNext accepts one entry while the sink is active. Nil entries and
// entries arriving after completion are dropped silently.
func (s *Sink) OnNext(e *entry.LogEntry) {
	if e == nil {
		s.mets.IncDropped("nil")
		return
	}
	if s.State() != StateActive {
		s.mets.IncDropped("closed")
		return
	}
	if s.buf.Enqueue(e) {
		s.mets.IncAccepted()
	}
}

// OnCompleted performs a best-effort bounded flush and tears the sink
// down. Flush faults are suppressed; shutdown always completes.
func (s *Sink) OnCompleted() {
	s.complete()
}

// OnError shuts down identically to OnCompleted. The upstream error is
// recorded for diagnostics but does not change behavior.
func (s *Sink) OnError(err error) {
	s.logger.Warn("Sink: upstream fault signaled", zap.Error(err))
	s.complete()
}

// Flush drains the buffer through the publish path. Callable any time
// before teardown.
func (s *Sink) Flush(ctx context.Context) error {
	if s.State() == StateDisposed {
		return ErrDisposed
	}
	if err := s.buf.Flush(ctx); err != nil {
		if errors.Is(err, buffer.ErrClosed) {
			return ErrDisposed
		}
		return err
	}
	return nil
}

// Close tears the sink down without flushing. Idempotent; safe to call
// concurrently with completion signals.
func (s *Sink) Close() {
	s.dispose(true)
}

// Stats returns a snapshot of buffer counters for the ops surface.
func (s *Sink) Stats() buffer.Stats {
	return s.buf.Stats()
}

// complete moves Active → Completing, runs the bounded best-effort
// flush, then disposes. Only the first caller wins; late completion
// signals are no-ops.
func (s *Sink) complete() {
	if !s.state.CompareAndSwap(int32(StateActive), int32(StateCompleting)) {
		return
	}

	ctx := context.Background()
	if s.opts.FlushTimeout != WaitIndefinitely {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.FlushTimeout)
		defer cancel()
	}
	if err := s.buf.Flush(ctx); err != nil {
		s.logger.Warn("Sink: completion flush incomplete", zap.Error(err))
	}

	s.dispose(true)
}

// dispose is the idempotent teardown shared by explicit close and the
// finalizer. Only the explicit path may block waiting for the worker.
func (s *Sink) dispose(wait bool) {
	if State(s.state.Swap(int32(StateDisposed))) == StateDisposed {
		return
	}
	runtime.SetFinalizer(s, nil)
	if wait {
		s.buf.Close()
	} else {
		s.buf.Stop()
	}
	s.logger.Info("Sink disposed", zap.String("instance", s.opts.InstanceName))
}

func (s *Sink) finalize() {
	s.dispose(false)
}
