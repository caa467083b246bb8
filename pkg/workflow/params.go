package workflow

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NotFound is the sentinel value for unset string and enum fields. Records
// always carry a sentinel rather than dropping the key, so partially-filled
// records keep their full shape across turns.
const NotFound = "NOT_FOUND"

// IntSentinel marks an unset integer field.
const IntSentinel = int64(math.MinInt64)

// FloatSentinel marks an unset float field.
const FloatSentinel = -math.MaxFloat64

// ParameterRecord holds the extracted values of one command invocation,
// keyed by field name. Unset fields hold the kind's sentinel, never a missing
// key.
type ParameterRecord map[string]any

// Clone returns a shallow copy of the record.
func (r ParameterRecord) Clone() ParameterRecord {
	out := make(ParameterRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// SentinelFor returns the unset marker for a field kind. Booleans and lists
// use nil; strings and enums use NotFound; numbers use extreme values that no
// real extraction produces.
func SentinelFor(kind FieldKind) any {
	switch kind {
	case KindInt:
		return IntSentinel
	case KindFloat:
		return FloatSentinel
	case KindBool, KindStringList:
		return nil
	default:
		return NotFound
	}
}

// IsSentinel reports whether v is the unset marker for kind. A nil value is a
// sentinel for every kind.
func IsSentinel(kind FieldKind, v any) bool {
	if v == nil {
		return true
	}
	switch kind {
	case KindInt:
		switch n := v.(type) {
		case int64:
			return n == IntSentinel
		case int:
			return int64(n) == IntSentinel
		case float64:
			return n == float64(IntSentinel)
		}
		return false
	case KindFloat:
		if f, ok := v.(float64); ok {
			return f == FloatSentinel
		}
		return false
	case KindBool, KindStringList:
		return false // non-nil means set
	default:
		s, ok := v.(string)
		return ok && s == NotFound
	}
}

// NewRecord returns a record covering every declared field: the declared
// default where one exists, the kind's sentinel otherwise.
func NewRecord(fields []ParameterField) ParameterRecord {
	rec := make(ParameterRecord, len(fields))
	for i := range fields {
		f := &fields[i]
		if f.Default != nil {
			if v, err := coerceDefault(f); err == nil {
				rec[f.Name] = v
				continue
			}
		}
		rec[f.Name] = SentinelFor(f.Kind)
	}
	return rec
}

// SentinelFields returns the names of fields whose record value is still the
// sentinel, in declared order.
func SentinelFields(fields []ParameterField, rec ParameterRecord) []string {
	var out []string
	for i := range fields {
		f := &fields[i]
		if IsSentinel(f.Kind, rec[f.Name]) {
			out = append(out, f.Name)
		}
	}
	return out
}

// Coerce converts a raw string into the field's declared type. Enum values
// resolve to their canonical declared spelling. Errors leave the caller to
// fall back to the sentinel.
func Coerce(f *ParameterField, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch f.Kind {
	case KindString:
		return raw, nil

	case KindInt:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n, nil
		}
		// Tolerate an integral float form such as "5.0".
		if fv, err := strconv.ParseFloat(raw, 64); err == nil && fv == math.Trunc(fv) {
			return int64(fv), nil
		}
		return nil, fmt.Errorf("workflow: %q is not an integer", raw)

	case KindFloat:
		fv, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("workflow: %q is not a number", raw)
		}
		return fv, nil

	case KindBool:
		switch strings.ToLower(raw) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return nil, fmt.Errorf("workflow: %q is not a boolean", raw)

	case KindStringList:
		return ParseList(raw), nil

	case KindEnum:
		if canon, ok := f.CanonEnum(raw); ok {
			return canon, nil
		}
		// Keep the raw value; validation reports enum membership.
		return raw, nil

	default:
		return nil, fmt.Errorf("workflow: unknown field kind %q", f.Kind)
	}
}

// ParseList converts a raw string into a string list. It tries, in order:
// a JSON array, a single-quoted array form, a comma-separated split, and
// finally a single-element list.
func ParseList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if strings.HasPrefix(raw, "[") {
		var arr []any
		if err := json.Unmarshal([]byte(raw), &arr); err == nil {
			return stringifyAll(arr)
		}
		// Single-quoted array form: ['a', 'b'].
		requoted := strings.ReplaceAll(raw, "'", `"`)
		if err := json.Unmarshal([]byte(requoted), &arr); err == nil {
			return stringifyAll(arr)
		}
	}

	if strings.Contains(raw, ",") {
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}

	return []string{raw}
}

// StringForm renders a record value for pattern matching, lookups, and error
// messages. Sentinels render as the empty string.
func StringForm(kind FieldKind, v any) string {
	if IsSentinel(kind, v) {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []string:
		return strings.Join(t, ", ")
	default:
		return fmt.Sprint(t)
	}
}

// coerceDefault converts a JSON-decoded default into the field's runtime type.
func coerceDefault(f *ParameterField) (any, error) {
	switch v := f.Default.(type) {
	case string:
		return Coerce(f, v)
	case float64:
		switch f.Kind {
		case KindInt:
			return int64(v), nil
		case KindFloat:
			return v, nil
		}
		return nil, fmt.Errorf("workflow: numeric default for %s field", f.Kind)
	case bool:
		if f.Kind == KindBool {
			return v, nil
		}
		return nil, fmt.Errorf("workflow: boolean default for %s field", f.Kind)
	case []any:
		if f.Kind == KindStringList {
			return stringifyAll(v), nil
		}
		return nil, fmt.Errorf("workflow: list default for %s field", f.Kind)
	default:
		return nil, fmt.Errorf("workflow: unsupported default type %T", f.Default)
	}
}

// stringifyAll renders JSON array elements as strings.
func stringifyAll(arr []any) []string {
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		switch t := e.(type) {
		case string:
			out = append(out, t)
		case float64:
			out = append(out, strconv.FormatFloat(t, 'f', -1, 64))
		case bool:
			out = append(out, strconv.FormatBool(t))
		default:
			out = append(out, fmt.Sprint(t))
		}
	}
	return out
}

// normalizeToken lowercases and collapses spaces to underscores, the shared
// normalization for enum and command-name comparisons.
func normalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, " ", "_")
}
