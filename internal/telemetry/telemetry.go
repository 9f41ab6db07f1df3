// Package telemetry provides the vendor-neutral record model and the
// transport client contract. Transports subscribe no further into the
// pipeline than this interface; the dispatcher emits exactly one record
// per consumed entry.
package telemetry

import (
	"context"
	"time"
)

// Severity is the graded importance of an exception record, as understood
// by the analytics backend.
type Severity uint8

const (
	SeverityVerbose Severity = iota
	SeverityInformation
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the human-readable name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityVerbose:
		return "Verbose"
	case SeverityInformation:
		return "Information"
	case SeverityWarning:
		return "Warning"
	case SeverityError:
		return "Error"
	case SeverityCritical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// Client is the transport contract. Implementations ship records to an
// analytics backend; they must be safe for use from the single publisher
// goroutine plus explicit flush callers.
type Client interface {
	// TrackEvent submits one event record.
	TrackEvent(ctx context.Context, message string, properties map[string]string) error

	// TrackException submits one exception record.
	TrackException(ctx context.Context, err error, severity Severity, properties map[string]string) error
}

// Flusher is implemented by transports that accumulate records and write
// them in batches. The batch publisher flushes after each batch.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Record is the flat wire form of one telemetry record, shared by the
// NATS transport, the Redis live channel, and the API layer.
type Record struct {
	Timestamp  time.Time         `json:"ts"`
	Instance   string            `json:"instance"`
	Kind       string            `json:"kind"`
	Message    string            `json:"msg"`
	Severity   string            `json:"severity,omitempty"`
	Properties map[string]string `json:"props,omitempty"`
}
