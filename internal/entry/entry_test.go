package entry

import "testing"

func TestLevel_String(t *testing.T) {
	tests := []struct {
		l    Level
		want string
	}{
		{LevelLogAlways, "LogAlways"},
		{LevelCritical, "Critical"},
		{LevelError, "Error"},
		{LevelWarning, "Warning"},
		{LevelInformational, "Informational"},
		{LevelVerbose, "Verbose"},
		{Level(42), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.l.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.l, got, tt.want)
		}
	}
}
