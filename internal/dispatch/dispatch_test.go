package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/copjon/slab-sinks/internal/entry"
	"github.com/copjon/slab-sinks/internal/telemetry"
	"github.com/copjon/slab-sinks/internal/transform"
)

// fakeClient records every tracked call. Implements telemetry.Client and
// telemetry.Flusher.
type fakeClient struct {
	mu         sync.Mutex
	events     []string
	exceptions []telemetry.Severity
	trackErr   error
	flushErr   error
	flushes    int
}

func (f *fakeClient) TrackEvent(_ context.Context, message string, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trackErr != nil {
		return f.trackErr
	}
	f.events = append(f.events, message)
	return nil
}

func (f *fakeClient) TrackException(_ context.Context, _ error, severity telemetry.Severity, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trackErr != nil {
		return f.trackErr
	}
	f.exceptions = append(f.exceptions, severity)
	return nil
}

func (f *fakeClient) Flush(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return f.flushErr
}

func (f *fakeClient) counts() (events, exceptions int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events), len(f.exceptions)
}

func newTestDispatcher(client telemetry.Client) *Dispatcher {
	ext := transform.NewExtractor("test", nil)
	return NewDispatcher(client, ext, zap.NewNop(), nil)
}

func eventEntry(msg string) *entry.LogEntry {
	return &entry.LogEntry{
		Message:   msg,
		Timestamp: time.Now().UTC(),
		Schema:    entry.Schema{Level: entry.LevelInformational},
	}
}

func exceptionEntry(level entry.Level, err error) *entry.LogEntry {
	return &entry.LogEntry{
		Message:   "something failed",
		Timestamp: time.Now().UTC(),
		Schema: entry.Schema{
			Level:      level,
			FieldNames: []string{"Payload_exception"},
		},
		Payload: []any{err},
	}
}

func TestDispatch_EventRecord(t *testing.T) {
	client := &fakeClient{}
	d := newTestDispatcher(client)

	if !d.Dispatch(context.Background(), eventEntry("hello")) {
		t.Fatal("Dispatch returned false")
	}

	events, exceptions := client.counts()
	if events != 1 || exceptions != 0 {
		t.Errorf("got %d events, %d exceptions; want exactly one event", events, exceptions)
	}
	if client.events[0] != "hello" {
		t.Errorf("event message = %q, want %q", client.events[0], "hello")
	}
}

func TestDispatch_ExceptionRecord_SeverityPerLevel(t *testing.T) {
	tests := []struct {
		level entry.Level
		want  telemetry.Severity
	}{
		{entry.LevelCritical, telemetry.SeverityCritical},
		{entry.LevelError, telemetry.SeverityError},
		{entry.LevelWarning, telemetry.SeverityWarning},
		{entry.LevelInformational, telemetry.SeverityInformation},
		{entry.LevelVerbose, telemetry.SeverityVerbose},
		{entry.LevelLogAlways, telemetry.SeverityVerbose},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			client := &fakeClient{}
			d := newTestDispatcher(client)

			if !d.Dispatch(context.Background(), exceptionEntry(tt.level, errors.New("boom"))) {
				t.Fatal("Dispatch returned false")
			}

			events, exceptions := client.counts()
			if events != 0 || exceptions != 1 {
				t.Fatalf("got %d events, %d exceptions; want exactly one exception", events, exceptions)
			}
			if client.exceptions[0] != tt.want {
				t.Errorf("severity = %v, want %v", client.exceptions[0], tt.want)
			}
		})
	}
}

func TestDispatch_NilEntry(t *testing.T) {
	client := &fakeClient{}
	d := newTestDispatcher(client)

	if d.Dispatch(context.Background(), nil) {
		t.Error("nil entry should report failure")
	}
	events, exceptions := client.counts()
	if events != 0 || exceptions != 0 {
		t.Error("nil entry should emit nothing")
	}
}

func TestDispatch_ClientFailure_Recovered(t *testing.T) {
	client := &fakeClient{trackErr: errors.New("backend down")}
	d := newTestDispatcher(client)

	if d.Dispatch(context.Background(), eventEntry("lost")) {
		t.Error("failed dispatch should report false")
	}
}

func TestPublish_CountsDispatched(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(newTestDispatcher(client), zap.NewNop())

	batch := []*entry.LogEntry{eventEntry("a"), nil, eventEntry("b")}
	n, err := p.Publish(context.Background(), batch)
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if n != 2 {
		t.Errorf("dispatched = %d, want 2 (nil entry skipped)", n)
	}
	if client.flushes != 1 {
		t.Errorf("flushes = %d, want 1", client.flushes)
	}
}

func TestPublish_Cancellation_CleanStop(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(newTestDispatcher(client), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := p.Publish(ctx, []*entry.LogEntry{eventEntry("a"), eventEntry("b")})
	if err != nil {
		t.Errorf("cancellation should not be an error, got %v", err)
	}
	if n != 0 {
		t.Errorf("dispatched = %d, want 0 after pre-cancelled context", n)
	}
}

func TestPublish_FlushFault_Returned(t *testing.T) {
	flushErr := errors.New("insert failed")
	client := &fakeClient{flushErr: flushErr}
	p := NewPublisher(newTestDispatcher(client), zap.NewNop())

	n, err := p.Publish(context.Background(), []*entry.LogEntry{eventEntry("a")})
	if !errors.Is(err, flushErr) {
		t.Errorf("err = %v, want flush fault surfaced to the buffer", err)
	}
	if n != 1 {
		t.Errorf("dispatched = %d, want 1", n)
	}
}

// panicClient simulates an unexpected fault escaping per-entry handling.
type panicClient struct{ fakeClient }

func (p *panicClient) TrackEvent(context.Context, string, map[string]string) error {
	panic("wire corrupted")
}

func TestPublish_UnexpectedFault_ReportedAsError(t *testing.T) {
	p := NewPublisher(newTestDispatcher(&panicClient{}), zap.NewNop())

	_, err := p.Publish(context.Background(), []*entry.LogEntry{eventEntry("a")})
	if err == nil {
		t.Fatal("expected batch-level error from recovered fault")
	}
}
