package workflow

import (
	"slices"
	"testing"
)

func TestSentinelFor_RoundTrip(t *testing.T) {
	t.Parallel()

	kinds := []FieldKind{KindString, KindInt, KindFloat, KindBool, KindStringList, KindEnum}
	for _, kind := range kinds {
		if !IsSentinel(kind, SentinelFor(kind)) {
			t.Errorf("IsSentinel(%s, SentinelFor(%s)): expected true", kind, kind)
		}
	}
	// nil is the universal unset marker.
	if !IsSentinel(KindString, nil) {
		t.Error("IsSentinel(string, nil): expected true")
	}
}

func TestIsSentinel_RealValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		kind FieldKind
		v    any
		want bool
	}{
		{"real string", KindString, "hello", false},
		{"sentinel string", KindString, NotFound, true},
		{"real int", KindInt, int64(42), false},
		{"sentinel int", KindInt, IntSentinel, true},
		{"sentinel int from json float", KindInt, float64(IntSentinel), true},
		{"real float", KindFloat, 3.14, false},
		{"sentinel float", KindFloat, FloatSentinel, true},
		{"real bool false", KindBool, false, false},
		{"real list", KindStringList, []string{"a"}, false},
		{"real enum", KindEnum, "damaged", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsSentinel(tc.kind, tc.v); got != tc.want {
				t.Errorf("IsSentinel(%s, %v): expected %v, got %v", tc.kind, tc.v, tc.want, got)
			}
		})
	}
}

func TestCoerce(t *testing.T) {
	t.Parallel()

	enumField := &ParameterField{Name: "reason", Kind: KindEnum, Enum: []string{"Too Late", "damaged"}}

	tests := []struct {
		name    string
		field   *ParameterField
		raw     string
		want    any
		wantErr bool
	}{
		{"string passthrough", &ParameterField{Kind: KindString}, " widget ", "widget", false},
		{"int", &ParameterField{Kind: KindInt}, "42", int64(42), false},
		{"int from integral float", &ParameterField{Kind: KindInt}, "5.0", int64(5), false},
		{"int rejects fraction", &ParameterField{Kind: KindInt}, "5.5", nil, true},
		{"int rejects text", &ParameterField{Kind: KindInt}, "five", nil, true},
		{"float", &ParameterField{Kind: KindFloat}, "3.25", 3.25, false},
		{"float rejects text", &ParameterField{Kind: KindFloat}, "pi", nil, true},
		{"bool true", &ParameterField{Kind: KindBool}, "True", true, false},
		{"bool numeric", &ParameterField{Kind: KindBool}, "0", false, false},
		{"bool rejects text", &ParameterField{Kind: KindBool}, "yep", nil, true},
		{"enum canonical spelling", enumField, "too_late", "Too Late", false},
		{"enum keeps unknown raw", enumField, "lost", "lost", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Coerce(tc.field, tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Coerce(%q): expected error, got %v", tc.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Coerce(%q): unexpected error: %v", tc.raw, err)
			}
			if got != tc.want {
				t.Errorf("Coerce(%q): expected %v (%T), got %v (%T)", tc.raw, tc.want, tc.want, got, got)
			}
		})
	}
}

func TestCoerce_StringList(t *testing.T) {
	t.Parallel()

	f := &ParameterField{Kind: KindStringList}
	got, err := Coerce(f, "red, green , blue")
	if err != nil {
		t.Fatalf("Coerce: unexpected error: %v", err)
	}
	if !slices.Equal(got.([]string), []string{"red", "green", "blue"}) {
		t.Errorf("Coerce(list): expected [red green blue], got %v", got)
	}
}

func TestParseList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"json array", `["a", "b"]`, []string{"a", "b"}},
		{"single quoted array", `['a', 'b']`, []string{"a", "b"}},
		{"comma split", "a, b,c", []string{"a", "b", "c"}},
		{"single element", "alone", []string{"alone"}},
		{"empty", "  ", nil},
		{"json array with numbers", `[1, "b"]`, []string{"1", "b"}},
		{"trailing comma part dropped", "a,,b,", []string{"a", "b"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ParseList(tc.raw); !slices.Equal(got, tc.want) {
				t.Errorf("ParseList(%q): expected %v, got %v", tc.raw, tc.want, got)
			}
		})
	}
}

func TestNewRecord_DefaultsAndSentinels(t *testing.T) {
	t.Parallel()

	fields := []ParameterField{
		{Name: "order_id", Kind: KindString, Required: true},
		{Name: "count", Kind: KindInt, Default: float64(1)},
		{Name: "notify", Kind: KindBool},
		{Name: "tags", Kind: KindStringList},
	}
	rec := NewRecord(fields)

	if rec["order_id"] != NotFound {
		t.Errorf("order_id: expected sentinel, got %v", rec["order_id"])
	}
	if rec["count"] != int64(1) {
		t.Errorf("count: expected default 1, got %v (%T)", rec["count"], rec["count"])
	}
	if rec["notify"] != nil {
		t.Errorf("notify: expected nil sentinel, got %v", rec["notify"])
	}
	if rec["tags"] != nil {
		t.Errorf("tags: expected nil sentinel, got %v", rec["tags"])
	}

	missing := SentinelFields(fields, rec)
	want := []string{"order_id", "notify", "tags"}
	if !slices.Equal(missing, want) {
		t.Errorf("SentinelFields: expected %v, got %v", want, missing)
	}
}

func TestParameterRecord_Clone(t *testing.T) {
	t.Parallel()

	rec := ParameterRecord{"a": "x", "b": int64(2)}
	cp := rec.Clone()
	cp["a"] = "changed"
	if rec["a"] != "x" {
		t.Error("Clone: mutation leaked into the original record")
	}
}

func TestStringForm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		kind FieldKind
		v    any
		want string
	}{
		{"string", KindString, "abc", "abc"},
		{"sentinel renders empty", KindString, NotFound, ""},
		{"int", KindInt, int64(7), "7"},
		{"float", KindFloat, 2.5, "2.5"},
		{"bool", KindBool, true, "true"},
		{"nil bool renders empty", KindBool, nil, ""},
		{"list", KindStringList, []string{"a", "b"}, "a, b"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := StringForm(tc.kind, tc.v); got != tc.want {
				t.Errorf("StringForm(%s, %v): expected %q, got %q", tc.kind, tc.v, tc.want, got)
			}
		})
	}
}

func TestCanonEnum(t *testing.T) {
	t.Parallel()

	f := &ParameterField{Kind: KindEnum, Enum: []string{"Pending Review", "approved"}}

	if got, ok := f.CanonEnum("pending_review"); !ok || got != "Pending Review" {
		t.Errorf("CanonEnum(pending_review): expected Pending Review, got %q ok=%v", got, ok)
	}
	if got, ok := f.CanonEnum("APPROVED"); !ok || got != "approved" {
		t.Errorf("CanonEnum(APPROVED): expected approved, got %q ok=%v", got, ok)
	}
	if _, ok := f.CanonEnum("rejected"); ok {
		t.Error("CanonEnum(rejected): expected no match")
	}
}

func TestMatchesPattern(t *testing.T) {
	t.Parallel()

	desc := &CommandDescriptor{
		Parameters: []ParameterField{
			{Name: "order_id", Kind: KindString, Pattern: "ORD-[0-9]+"},
		},
	}
	if err := desc.compile(); err != nil {
		t.Fatalf("compile: unexpected error: %v", err)
	}
	f := &desc.Parameters[0]

	if !f.MatchesPattern("ORD-123") {
		t.Error("MatchesPattern(ORD-123): expected true")
	}
	// Anchored: a match inside a longer string does not count.
	if f.MatchesPattern("my order ORD-123 please") {
		t.Error("MatchesPattern(embedded): expected false")
	}
	if f.MatchesPattern("ORD-") {
		t.Error("MatchesPattern(ORD-): expected false")
	}
}
