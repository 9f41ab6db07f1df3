package telemetry

import "testing"

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		s    Severity
		want string
	}{
		{SeverityVerbose, "Verbose"},
		{SeverityInformation, "Information"},
		{SeverityWarning, "Warning"},
		{SeverityError, "Error"},
		{SeverityCritical, "Critical"},
		{Severity(42), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("Severity(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
