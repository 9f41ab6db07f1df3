package transform

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/copjon/slab-sinks/internal/entry"
)

func testEntry(fields []string, payload []any) *entry.LogEntry {
	return &entry.LogEntry{
		Message:   "disk full",
		EventID:   42,
		Timestamp: time.Date(2024, 5, 1, 12, 30, 45, 0, time.UTC),
		Schema: entry.Schema{
			KeywordsMask: 0x8,
			ProviderID:   uuid.MustParse("8a2b4f6e-1111-2222-3333-444455556666"),
			ProviderName: "billing",
			Level:        entry.LevelError,
			Opcode:       11,
			Task:         7,
			Version:      2,
			FieldNames:   fields,
		},
		Payload:   payload,
		ProcessID: 100,
		ThreadID:  200,
	}
}

func TestExtract_FixedKeys(t *testing.T) {
	x := NewExtractor("sink-a", nil)
	got := x.Extract(testEntry(nil, nil))

	want := map[string]string{
		"Message":      "disk full",
		"EventId":      "42",
		"EventDate":    "2024-05-01T12:30:45.0000000Z",
		"Keywords":     "0x8",
		"ProviderId":   "8a2b4f6e-1111-2222-3333-444455556666",
		"ProviderName": "billing",
		"InstanceName": "sink-a",
		"Level":        "2",
		"LevelName":    "Error",
		"Opcode":       "11",
		"Task":         "7",
		"Version":      "2",
		"ProcessId":    "100",
		"ThreadId":     "200",
	}
	if !reflect.DeepEqual(got.Properties, want) {
		t.Errorf("properties = %v, want %v", got.Properties, want)
	}
	if got.Exception != nil {
		t.Errorf("unexpected exception: %v", got.Exception)
	}
}

func TestExtract_GlobalContextPrefix(t *testing.T) {
	x := NewExtractor("sink-a", map[string]string{"env": "prod", "region": "eu"})
	got := x.Extract(testEntry([]string{"env"}, []any{"payload-env"}))

	if got.Properties["CTX_env"] != "prod" {
		t.Errorf("CTX_env = %q, want %q", got.Properties["CTX_env"], "prod")
	}
	if got.Properties["CTX_region"] != "eu" {
		t.Errorf("CTX_region = %q, want %q", got.Properties["CTX_region"], "eu")
	}
	// A payload field sharing the unprefixed name lands on its own key.
	if got.Properties["env"] != "payload-env" {
		t.Errorf("env = %q, want %q", got.Properties["env"], "payload-env")
	}
}

func TestExtract_ContextKeyCollision_LastWriteWins(t *testing.T) {
	x := NewExtractor("sink-a", map[string]string{"env": "prod"})
	got := x.Extract(testEntry([]string{"CTX_env"}, []any{"overridden"}))

	if got.Properties["CTX_env"] != "overridden" {
		t.Errorf("CTX_env = %q, want payload value to win", got.Properties["CTX_env"])
	}
}

func TestExtract_PlainPayloadFields(t *testing.T) {
	x := NewExtractor("sink-a", nil)
	got := x.Extract(testEntry(
		[]string{"user", "count", "ratio", "ok", "none"},
		[]any{"alice", 3, 0.5, true, nil},
	))

	tests := []struct{ key, want string }{
		{"user", "alice"},
		{"count", "3"},
		{"ratio", "0.5"},
		{"ok", "true"},
		{"none", ""},
	}
	for _, tt := range tests {
		if got.Properties[tt.key] != tt.want {
			t.Errorf("%s = %q, want %q", tt.key, got.Properties[tt.key], tt.want)
		}
	}
}

func TestExtract_TruncatedPairing(t *testing.T) {
	x := NewExtractor("sink-a", nil)

	// More fields than values: trailing field dropped.
	got := x.Extract(testEntry([]string{"a", "b"}, []any{"1"}))
	if got.Properties["a"] != "1" {
		t.Errorf("a = %q, want %q", got.Properties["a"], "1")
	}
	if _, ok := got.Properties["b"]; ok {
		t.Error("unmatched field b should be dropped")
	}

	// More values than fields: trailing value ignored.
	got = x.Extract(testEntry([]string{"a"}, []any{"1", "2"}))
	if got.Properties["a"] != "1" {
		t.Errorf("a = %q, want %q", got.Properties["a"], "1")
	}
}

func TestExtract_JSONPayloadMerge(t *testing.T) {
	x := NewExtractor("sink-a", nil)
	got := x.Extract(testEntry(
		[]string{"Payload__jsonPayload"},
		[]any{`{"a":"1","b":"2","n":3,"t":true,"z":null}`},
	))

	tests := []struct{ key, want string }{
		{"a", "1"},
		{"b", "2"},
		{"n", "3"},
		{"t", "true"},
		{"z", ""},
	}
	for _, tt := range tests {
		if got.Properties[tt.key] != tt.want {
			t.Errorf("%s = %q, want %q", tt.key, got.Properties[tt.key], tt.want)
		}
	}
	if _, ok := got.Properties["Payload__jsonPayload"]; ok {
		t.Error("merged payload should not leave the raw key behind")
	}
}

func TestExtract_JSONPayloadOverwritesFixedKeys(t *testing.T) {
	x := NewExtractor("sink-a", nil)
	got := x.Extract(testEntry(
		[]string{"Payload__jsonPayload"},
		[]any{`{"Message":"replaced"}`},
	))
	if got.Properties["Message"] != "replaced" {
		t.Errorf("Message = %q, want merged pair to overwrite", got.Properties["Message"])
	}
}

func TestExtract_JSONPayloadMalformed_FallsBackToRaw(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "not json"},
		{"array", `["a","b"]`},
		{"nested object", `{"a":{"b":"c"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := NewExtractor("sink-a", nil)
			got := x.Extract(testEntry([]string{"Payload__jsonPayload"}, []any{tt.raw}))
			if got.Properties["Payload__jsonPayload"] != tt.raw {
				t.Errorf("fallback = %q, want raw %q", got.Properties["Payload__jsonPayload"], tt.raw)
			}
		})
	}
}

func TestExtract_JSONPayloadNameCaseInsensitive(t *testing.T) {
	x := NewExtractor("sink-a", nil)
	got := x.Extract(testEntry([]string{"PAYLOAD__JSONPAYLOAD"}, []any{`{"a":"1"}`}))
	if got.Properties["a"] != "1" {
		t.Error("field name match should be case-insensitive")
	}
}

func TestExtract_ExceptionDetected(t *testing.T) {
	boom := errors.New("boom")
	x := NewExtractor("sink-a", nil)
	got := x.Extract(testEntry([]string{"Payload_exception"}, []any{boom}))

	if got.Exception != boom {
		t.Errorf("exception = %v, want %v", got.Exception, boom)
	}
	if _, ok := got.Properties["Payload_exception"]; ok {
		t.Error("exception field should not be emitted as a property")
	}
}

func TestExtract_ExceptionNonError_Coerced(t *testing.T) {
	x := NewExtractor("sink-a", nil)
	got := x.Extract(testEntry([]string{"payload_exception"}, []any{17}))

	if got.Exception == nil {
		t.Fatal("expected synthetic exception")
	}
	if !strings.Contains(got.Exception.Error(), "17") {
		t.Errorf("synthetic exception %q should carry the value's string form", got.Exception)
	}
}

type panicValue struct{}

func (panicValue) Error() string { panic("unrepresentable") }

func TestExtract_PanickingValue_Dropped(t *testing.T) {
	x := NewExtractor("sink-a", nil)
	got := x.Extract(testEntry([]string{"bad", "good"}, []any{panicValue{}, "fine"}))

	if _, ok := got.Properties["bad"]; ok {
		t.Error("field with unrepresentable value should be dropped")
	}
	if got.Properties["good"] != "fine" {
		t.Error("remaining fields should survive a dropped one")
	}
}

func TestExtract_Idempotent(t *testing.T) {
	x := NewExtractor("sink-a", map[string]string{"env": "prod"})
	e := testEntry([]string{"user", "Payload__jsonPayload"}, []any{"alice", `{"a":"1"}`})

	first := x.Extract(e)
	second := x.Extract(e)
	if !reflect.DeepEqual(first.Properties, second.Properties) {
		t.Errorf("extraction not idempotent: %v vs %v", first.Properties, second.Properties)
	}
}

func BenchmarkExtract(b *testing.B) {
	x := NewExtractor("sink-a", map[string]string{"env": "prod"})
	e := testEntry([]string{"user", "Payload__jsonPayload"}, []any{"alice", `{"a":"1","b":"2"}`})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		x.Extract(e)
	}
}
