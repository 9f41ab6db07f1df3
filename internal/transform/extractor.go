// Package transform converts structured log entries into flat telemetry
// property maps and maps entry verbosity to backend severity. Everything
// here is pure: no I/O, no shared mutable state, and extraction never
// panics outward.
package transform

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/valyala/fastjson"

	"github.com/copjon/slab-sinks/internal/constants"
	"github.com/copjon/slab-sinks/internal/entry"
)

// Extraction is the result of flattening one entry: the property map and
// the exception detected in the payload, if any.
type Extraction struct {
	Properties map[string]string
	Exception  error
}

// Extractor flattens entries against a fixed instance name and global
// context. The context map is treated as immutable after construction
// and is therefore shared without locking.
type Extractor struct {
	instanceName string
	context      map[string]string
}

// NewExtractor creates an extractor. A nil context is replaced with an
// empty map so per-entry extraction never has to guard against it.
func NewExtractor(instanceName string, globalContext map[string]string) *Extractor {
	if globalContext == nil {
		globalContext = map[string]string{}
	}
	return &Extractor{
		instanceName: instanceName,
		context:      globalContext,
	}
}

// Extract flattens one entry into a property map. Properties are layered
// in a fixed order: global context (prefixed), entry metadata, then
// payload fields; later writes win on key collision. A payload field
// named Payload_exception is captured as the detected exception instead
// of a property.
func (x *Extractor) Extract(e *entry.LogEntry) Extraction {
	props := make(map[string]string, len(x.context)+14+len(e.Schema.FieldNames))

	for k, v := range x.context {
		props[constants.ContextKeyPrefix+k] = v
	}

	s := e.Schema
	props[constants.KeyMessage] = e.Message
	props[constants.KeyEventID] = strconv.Itoa(e.EventID)
	props[constants.KeyEventDate] = e.Timestamp.UTC().Format(constants.EventDateLayout)
	props[constants.KeyKeywords] = fmt.Sprintf("0x%X", uint64(s.KeywordsMask))
	props[constants.KeyProviderID] = s.ProviderID.String()
	props[constants.KeyProviderName] = s.ProviderName
	props[constants.KeyInstanceName] = x.instanceName
	props[constants.KeyLevel] = strconv.Itoa(int(s.Level))
	props[constants.KeyLevelName] = s.Level.String()
	props[constants.KeyOpcode] = strconv.Itoa(int(s.Opcode))
	props[constants.KeyTask] = strconv.Itoa(int(s.Task))
	props[constants.KeyVersion] = strconv.Itoa(s.Version)
	props[constants.KeyProcessID] = strconv.Itoa(e.ProcessID)
	props[constants.KeyThreadID] = strconv.Itoa(e.ThreadID)

	var detected error

	// Positional pairing, shortest-wins: trailing mismatches on either
	// side are dropped.
	n := min(len(s.FieldNames), len(e.Payload))
	for i := 0; i < n; i++ {
		name, value := s.FieldNames[i], e.Payload[i]

		switch {
		case strings.EqualFold(name, constants.FieldJSONPayload):
			raw, ok := stringify(value)
			if !ok {
				continue
			}
			if !mergeJSONPayload(props, raw) {
				// Parse failed, fall back to a single raw property.
				props[name] = raw
			}
		case strings.EqualFold(name, constants.FieldException):
			detected = coerceError(value)
		default:
			if raw, ok := stringify(value); ok {
				props[name] = raw
			}
		}
	}

	return Extraction{Properties: props, Exception: detected}
}

// mergeJSONPayload parses raw as a flat JSON object of scalar values and
// merges each pair into props, overwriting existing keys. Returns false
// without touching props when raw is not such an object.
func mergeJSONPayload(props map[string]string, raw string) bool {
	v, err := fastjson.Parse(raw)
	if err != nil {
		return false
	}
	obj, err := v.Object()
	if err != nil {
		return false
	}

	pairs := make(map[string]string, obj.Len())
	flat := true
	obj.Visit(func(key []byte, val *fastjson.Value) {
		switch val.Type() {
		case fastjson.TypeString:
			pairs[string(key)] = string(val.GetStringBytes())
		case fastjson.TypeNumber, fastjson.TypeTrue, fastjson.TypeFalse:
			pairs[string(key)] = val.String()
		case fastjson.TypeNull:
			pairs[string(key)] = ""
		default:
			flat = false
		}
	})
	if !flat {
		return false
	}

	for k, val := range pairs {
		props[k] = val
	}
	return true
}

// coerceError turns a detected exception payload into an error. Values
// that are not errors are wrapped in a synthetic one rather than left as
// undefined behavior.
func coerceError(value any) error {
	if err, ok := value.(error); ok && err != nil {
		return err
	}
	raw, ok := stringify(value)
	if !ok {
		raw = "unrepresentable exception payload"
	}
	return fmt.Errorf("non-error exception payload: %s", raw)
}

// stringify returns the textual form of a payload value. A value whose
// formatting faults (a panicking Stringer, for example) reports ok=false
// so the caller can drop the field silently.
func stringify(value any) (s string, ok bool) {
	defer func() {
		if recover() != nil {
			s, ok = "", false
		}
	}()

	switch v := value.(type) {
	case nil:
		return "", true
	case string:
		return v, true
	case error:
		return v.Error(), true
	case bool:
		return strconv.FormatBool(v), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}
