// Package entry provides the structured log entry type consumed by the
// sink pipeline. Entries carry a schema describing their payload shape;
// once built they are treated as read-only by every downstream stage.
package entry

import (
	"time"

	"github.com/google/uuid"
)

// Level is the verbosity of a log entry, matching the 6-value scale used
// by structured instrumentation providers. Lower values are more severe;
// LogAlways bypasses level filtering entirely.
type Level uint8

const (
	LevelLogAlways Level = iota
	LevelCritical
	LevelError
	LevelWarning
	LevelInformational
	LevelVerbose
)

// String returns the human-readable name of the level.
func (l Level) String() string {
	switch l {
	case LevelLogAlways:
		return "LogAlways"
	case LevelCritical:
		return "Critical"
	case LevelError:
		return "Error"
	case LevelWarning:
		return "Warning"
	case LevelInformational:
		return "Informational"
	case LevelVerbose:
		return "Verbose"
	default:
		return "Unknown"
	}
}

// Schema is the static metadata describing an entry's shape: provider
// identity, verbosity, and the ordered names of its payload fields.
type Schema struct {
	KeywordsMask int64
	ProviderID   uuid.UUID
	ProviderName string
	Level        Level
	Opcode       uint8
	Task         uint16
	Version      int
	FieldNames   []string
}

// LogEntry is one structured log record. Payload values align
// positionally with Schema.FieldNames; pairing is shortest-wins, so
// trailing mismatches on either side are ignored downstream.
type LogEntry struct {
	Message   string
	EventID   int
	Timestamp time.Time
	Schema    Schema
	Payload   []any
	ProcessID int
	ThreadID  int
}
