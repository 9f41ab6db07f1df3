package transform

import (
	"github.com/copjon/slab-sinks/internal/entry"
	"github.com/copjon/slab-sinks/internal/telemetry"
)

// MapSeverity converts an entry verbosity level to the backend severity.
// LogAlways carries no inherent importance and maps to Verbose; anything
// outside the known scale defaults to Error so it stays visible.
func MapSeverity(level entry.Level) telemetry.Severity {
	switch level {
	case entry.LevelCritical:
		return telemetry.SeverityCritical
	case entry.LevelError:
		return telemetry.SeverityError
	case entry.LevelWarning:
		return telemetry.SeverityWarning
	case entry.LevelInformational:
		return telemetry.SeverityInformation
	case entry.LevelVerbose, entry.LevelLogAlways:
		return telemetry.SeverityVerbose
	default:
		return telemetry.SeverityError
	}
}
