package buffer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/copjon/slab-sinks/internal/entry"
)

func newEntry() *entry.LogEntry {
	return &entry.LogEntry{Message: "m", Timestamp: time.Now().UTC()}
}

// collector is a publish callback recording delivered batches.
type collector struct {
	mu      sync.Mutex
	batches [][]*entry.LogEntry
	err     error
}

func (c *collector) publish(_ context.Context, batch []*entry.LogEntry) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := make([]*entry.LogEntry, len(batch))
	copy(copied, batch)
	c.batches = append(c.batches, copied)
	if c.err != nil {
		return 0, c.err
	}
	return len(batch), nil
}

func (c *collector) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func TestBuffer_CountThresholdFlush(t *testing.T) {
	col := &collector{}
	b := New(context.Background(), Config{
		ID:             "test",
		Interval:       time.Hour, // never fires in this test
		CountThreshold: 3,
		MaxSize:        64,
	}, col.publish, zap.NewNop(), nil)
	defer b.Close()

	for i := 0; i < 3; i++ {
		if !b.Enqueue(newEntry()) {
			t.Fatal("enqueue refused")
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for col.total() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := col.total(); got != 3 {
		t.Errorf("published = %d, want 3 after count threshold", got)
	}
}

func TestBuffer_FlushDrains(t *testing.T) {
	col := &collector{}
	b := New(context.Background(), Config{
		ID:             "test",
		Interval:       time.Hour,
		CountThreshold: 100,
		MaxSize:        64,
	}, col.publish, zap.NewNop(), nil)
	defer b.Close()

	b.Enqueue(newEntry())
	b.Enqueue(newEntry())

	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush error: %v", err)
	}
	if got := col.total(); got != 2 {
		t.Errorf("published = %d, want 2 after drain", got)
	}
	if s := b.Stats(); s.Published != 2 {
		t.Errorf("stats.Published = %d, want 2", s.Published)
	}
}

func TestBuffer_FlushReportsBatchFault(t *testing.T) {
	fault := errors.New("backend down")
	col := &collector{err: fault}
	b := New(context.Background(), Config{
		ID:             "test",
		Interval:       time.Hour,
		CountThreshold: 100,
		MaxSize:        64,
	}, col.publish, zap.NewNop(), nil)
	defer b.Close()

	b.Enqueue(newEntry())
	if err := b.Flush(context.Background()); !errors.Is(err, fault) {
		t.Errorf("Flush err = %v, want the batch fault", err)
	}
}

func TestBuffer_DropOnOverflow(t *testing.T) {
	started := make(chan struct{}, 8)
	release := make(chan struct{})
	blocking := func(_ context.Context, batch []*entry.LogEntry) (int, error) {
		started <- struct{}{}
		<-release
		return len(batch), nil
	}

	b := New(context.Background(), Config{
		ID:             "test",
		Interval:       time.Hour,
		CountThreshold: 1,
		MaxSize:        2,
	}, blocking, zap.NewNop(), nil)

	b.Enqueue(newEntry()) // picked up immediately, publish blocks
	<-started

	if !b.Enqueue(newEntry()) {
		t.Fatal("enqueue 2 should fit")
	}
	if !b.Enqueue(newEntry()) {
		t.Fatal("enqueue 3 should fit")
	}
	if b.Enqueue(newEntry()) {
		t.Error("enqueue past MaxSize should drop")
	}
	if s := b.Stats(); s.Dropped != 1 {
		t.Errorf("stats.Dropped = %d, want 1", s.Dropped)
	}

	close(release)
	b.Close()
}

func TestBuffer_EnqueueAfterClose(t *testing.T) {
	col := &collector{}
	b := New(context.Background(), Config{ID: "test"}, col.publish, zap.NewNop(), nil)
	b.Close()

	if b.Enqueue(newEntry()) {
		t.Error("enqueue after close should refuse")
	}
	if err := b.Flush(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Flush after close = %v, want ErrClosed", err)
	}
}

func TestBuffer_CloseIdempotent(t *testing.T) {
	col := &collector{}
	b := New(context.Background(), Config{ID: "test"}, col.publish, zap.NewNop(), nil)
	b.Close()
	b.Close() // must not panic or block
}

func TestBuffer_FlushWithExpiredContext(t *testing.T) {
	started := make(chan struct{}, 8)
	release := make(chan struct{})
	blocking := func(_ context.Context, batch []*entry.LogEntry) (int, error) {
		started <- struct{}{}
		<-release
		return len(batch), nil
	}

	b := New(context.Background(), Config{
		ID:             "test",
		Interval:       time.Hour,
		CountThreshold: 1,
		MaxSize:        8,
	}, blocking, zap.NewNop(), nil)

	b.Enqueue(newEntry())
	<-started // worker busy; a drain request cannot be accepted

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- b.Flush(ctx) }()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Flush = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Error("Flush with expired context must not block")
	}

	close(release)
	b.Close()
}
