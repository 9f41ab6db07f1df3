// Package buffer provides the bounded batching scheduler that sits
// between entry intake and the publish callback.
//
// Design constraints:
//   - Non-blocking enqueue (drops on overflow)
//   - Time-interval and count-threshold triggered flushes
//   - At most one in-flight batch per buffer
//   - Cooperative cancellation: an in-flight publish is never aborted,
//     only the next batch pickup is skipped
package buffer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/copjon/slab-sinks/internal/entry"
	"github.com/copjon/slab-sinks/internal/metrics"
)

// ErrClosed is returned by Flush after the buffer has been closed.
var ErrClosed = errors.New("buffer: closed")

// PublishFunc delivers one ordered batch and reports how many entries
// were successfully dispatched. A non-nil error signals a batch-level
// fault; the buffer's drop policy then discards the batch.
type PublishFunc func(ctx context.Context, batch []*entry.LogEntry) (int, error)

// Config holds buffer tuning parameters.
type Config struct {
	// ID uniquely identifies this buffer in logs and diagnostics.
	ID string

	// Interval is the time-based flush trigger.
	Interval time.Duration

	// CountThreshold flushes a batch as soon as it holds this many entries.
	CountThreshold int

	// MaxSize bounds the intake queue; entries beyond it are dropped.
	MaxSize int
}

// Buffer accumulates entries and hands them to the publish callback in
// batches. A single worker goroutine owns batching and publishing, which
// guarantees one in-flight batch at a time.
type Buffer struct {
	cfg    Config
	pub    PublishFunc
	logger *zap.Logger
	mets   *metrics.Metrics

	cancel context.CancelFunc
	intake chan *entry.LogEntry
	drains chan chan error
	done   chan struct{}
	closed atomic.Bool

	enqueued  atomic.Uint64
	dropped   atomic.Uint64
	published atomic.Uint64
	discarded atomic.Uint64
}

// New creates a buffer and starts its worker. The worker stops when ctx
// is cancelled or Close is called. mets may be nil.
func New(ctx context.Context, cfg Config, pub PublishFunc, logger *zap.Logger, mets *metrics.Metrics) *Buffer {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.CountThreshold <= 0 {
		cfg.CountThreshold = 100
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10000
	}

	ctx, cancel := context.WithCancel(ctx)
	b := &Buffer{
		cfg:    cfg,
		pub:    pub,
		logger: logger,
		mets:   mets,
		cancel: cancel,
		intake: make(chan *entry.LogEntry, cfg.MaxSize),
		drains: make(chan chan error),
		done:   make(chan struct{}),
	}
	go b.run(ctx)
	return b
}

// Enqueue offers one entry to the buffer. Non-blocking: returns false
// when the buffer is closed, the entry is nil, or the queue is full.
func (b *Buffer) Enqueue(e *entry.LogEntry) bool {
	if e == nil || b.closed.Load() {
		return false
	}
	select {
	case b.intake <- e:
		b.enqueued.Add(1)
		return true
	default:
		b.dropped.Add(1)
		b.mets.IncDropped("overflow")
		return false
	}
}

// Flush drains everything currently buffered through the publish
// callback. It returns when the drain finishes, the batch-level error if
// publishing failed, or ctx's error if the caller gave up waiting. An
// already-expired ctx makes Flush return immediately, never block.
func (b *Buffer) Flush(ctx context.Context) error {
	ack := make(chan error, 1)
	select {
	case b.drains <- ack:
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop requests worker shutdown without waiting for it. Idempotent and
// never blocks, so it is safe from a finalizer path.
func (b *Buffer) Stop() {
	if b.closed.Swap(true) {
		return
	}
	b.cancel()
}

// Close stops the worker and waits for it to exit. Idempotent: repeated
// calls are no-ops. Close does not flush; callers that want a final
// drain must Flush first.
func (b *Buffer) Close() {
	b.Stop()
	<-b.done
}

// Stats is a snapshot of buffer counters.
type Stats struct {
	Enqueued   uint64
	Dropped    uint64
	Published  uint64
	Discarded  uint64
	QueueDepth int
}

// Stats returns a snapshot of buffer counters.
func (b *Buffer) Stats() Stats {
	return Stats{
		Enqueued:   b.enqueued.Load(),
		Dropped:    b.dropped.Load(),
		Published:  b.published.Load(),
		Discarded:  b.discarded.Load(),
		QueueDepth: len(b.intake),
	}
}

// run is the worker loop. Sole owner of the pending batch and the only
// caller of the publish callback.
func (b *Buffer) run(ctx context.Context) {
	defer close(b.done)

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	batch := make([]*entry.LogEntry, 0, b.cfg.CountThreshold)

	for {
		select {
		case <-ctx.Done():
			// Cancellation skips the pending batch rather than racing
			// a publish against teardown.
			b.discarded.Add(uint64(len(batch) + len(b.intake)))
			return

		case e := <-b.intake:
			batch = append(batch, e)
			if len(batch) >= b.cfg.CountThreshold {
				batch = b.publish(ctx, batch)
			}

		case <-ticker.C:
			batch = b.publish(ctx, batch)

		case ack := <-b.drains:
			batch = b.gather(batch)
			var err error
			batch, err = b.publishErr(ctx, batch)
			ack <- err
		}
	}
}

// gather pulls everything currently sitting in the intake queue into the
// pending batch without blocking.
func (b *Buffer) gather(batch []*entry.LogEntry) []*entry.LogEntry {
	for {
		select {
		case e := <-b.intake:
			batch = append(batch, e)
		default:
			return batch
		}
	}
}

func (b *Buffer) publish(ctx context.Context, batch []*entry.LogEntry) []*entry.LogEntry {
	batch, _ = b.publishErr(ctx, batch)
	return batch
}

// publishErr hands the pending batch to the publish callback and returns
// a reset batch slice. A failed batch is dropped (not retried); the
// error is reported for drain callers.
func (b *Buffer) publishErr(ctx context.Context, batch []*entry.LogEntry) ([]*entry.LogEntry, error) {
	b.mets.SetQueueDepth(len(b.intake))
	if len(batch) == 0 {
		return batch, nil
	}

	start := time.Now()
	n, err := b.pub(ctx, batch)
	b.published.Add(uint64(n))
	b.mets.ObserveFlush(time.Since(start).Seconds())

	if err != nil {
		b.discarded.Add(uint64(len(batch) - n))
		b.logger.Error("Buffer: batch publish failed, dropping batch",
			zap.String("buffer", b.cfg.ID),
			zap.Int("size", len(batch)),
			zap.Int("dispatched", n),
			zap.Error(err))
	}

	return batch[:0], err
}
