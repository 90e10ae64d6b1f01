package values

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"strings"
	"testing"
	"time"
)

func TestEncode_Scalars(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "null"},
		{"true", true, "true"},
		{"false", false, "false"},
		{"zero", 0, "0"},
		{"small int", 42, "42"},
		{"negative int", -7, "-7"},
		{"max int32 stays bare", int(math.MaxInt32), "2147483647"},
		{"min int32 stays bare", int(math.MinInt32), "-2147483648"},
		{"float", 1.5, "1.5"},
		{"integral float keeps point", 3.0, "3.0"},
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.in)
			if err != nil {
				t.Fatalf("Encode(%v) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Encode(%v) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestEncode_LargeIntegerEnvelope(t *testing.T) {
	got, err := Encode(int64(math.MaxInt32) + 1)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	want := `{"$integer":"AAAAgAAAAAA="}`
	if got != want {
		t.Errorf("Encode(2^31) = %s, want %s", got, want)
	}

	got, err = Encode(int64(math.MinInt32) - 1)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if !strings.HasPrefix(got, `{"$integer":"`) {
		t.Errorf("Encode(min int32 - 1) = %s, want $integer envelope", got)
	}

	// An int beyond the 32-bit range needs the envelope too.
	got, err = Encode(int(math.MaxInt32) + 1)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if got != want {
		t.Errorf("Encode(int(2^31)) = %s, want %s", got, want)
	}
}

func TestEncode_Int64AlwaysTagged(t *testing.T) {
	// 64-bit-kinded integers keep the envelope even inside the 32-bit
	// range, so the kind survives decode and re-encode.
	for _, n := range []int64{0, 1, -1, math.MaxInt32, math.MinInt32, math.MaxInt64, math.MinInt64} {
		got, err := Encode(n)
		if err != nil {
			t.Fatalf("Encode(%d) error: %v", n, err)
		}
		if want := intEnvelope(n); got != want {
			t.Errorf("Encode(int64(%d)) = %s, want %s", n, got, want)
		}
	}

	got, err := Encode(uint64(7))
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if want := intEnvelope(7); got != want {
		t.Errorf("Encode(uint64(7)) = %s, want %s", got, want)
	}
}

func TestEncodeValue_IntegerKinds(t *testing.T) {
	if got := EncodeValue(Int32(5)); got != "5" {
		t.Errorf("EncodeValue(Int32(5)) = %s, want 5", got)
	}
	if got, want := EncodeValue(Int64(5)), intEnvelope(5); got != want {
		t.Errorf("EncodeValue(Int64(5)) = %s, want %s", got, want)
	}
}

func TestEncode_SpecialFloatEnvelope(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), math.Copysign(0, -1)} {
		got, err := Encode(f)
		if err != nil {
			t.Fatalf("Encode(%v) error: %v", f, err)
		}
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(f))
		want := `{"$float":"` + base64.StdEncoding.EncodeToString(b[:]) + `"}`
		if got != want {
			t.Errorf("Encode(%v) = %s, want %s", f, got, want)
		}
	}
}

func TestEncode_PositiveZeroStaysBare(t *testing.T) {
	got, err := Encode(0.0)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if got != "0.0" {
		t.Errorf("Encode(0.0) = %s, want 0.0", got)
	}
}

func TestEncode_Bytes(t *testing.T) {
	got, err := Encode([]byte{0x01, 0x02, 0x03})
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	want := `{"$bytes":"AQID"}`
	if got != want {
		t.Errorf("Encode bytes = %s, want %s", got, want)
	}
}

func TestEncode_StringEscaping(t *testing.T) {
	got, err := Encode("a\"b\\c\nd\te\x01f")
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	want := `"a\"b\\c\nd\te\u0001f"`
	if got != want {
		t.Errorf("Encode = %s, want %s", got, want)
	}
}

func TestEncode_ObjectSortedKeysAndNullOmission(t *testing.T) {
	got, err := Encode(map[string]any{
		"zebra": 1,
		"alpha": "x",
		"gone":  nil,
	})
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	want := `{"alpha":"x","zebra":1}`
	if got != want {
		t.Errorf("Encode = %s, want %s", got, want)
	}
}

func TestEncode_StructTagsAndEmbedding(t *testing.T) {
	type base struct {
		Kind string `json:"kind"`
	}
	type payload struct {
		base
		Name    string  `json:"name"`
		Skipped string  `json:"-"`
		Omitted *string `json:"omitted"`
		Plain   int
	}

	got, err := Encode(payload{
		base:    base{Kind: "test"},
		Name:    "n",
		Skipped: "never",
		Plain:   7,
	})
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	want := `{"Plain":7,"kind":"test","name":"n"}`
	if got != want {
		t.Errorf("Encode = %s, want %s", got, want)
	}
}

func TestEncode_TimeAsEpochMillis(t *testing.T) {
	ts := time.Unix(1_700_000_000, 123_000_000).UTC()
	got, err := Encode(ts)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	want := "{\"$integer\":\""
	if !strings.HasPrefix(got, want) {
		// 1700000000123 exceeds int32 range, so the envelope form is expected.
		t.Fatalf("Encode(time) = %s, want $integer envelope", got)
	}
	v, err := Decode(got)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if n, ok := AsInt64(v); !ok || n != ts.UnixMilli() {
		t.Errorf("round trip = %v, want %d", v, ts.UnixMilli())
	}
}

type suit int

func (s suit) String() string {
	return [...]string{"hearts", "spades"}[s]
}

func TestEncode_IntegerStringerAsEnumName(t *testing.T) {
	got, err := Encode(suit(1))
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if got != `"spades"` {
		t.Errorf("Encode(suit) = %s, want %q", got, `"spades"`)
	}
}

type node struct {
	Name string `json:"name"`
	Next *node  `json:"next"`
}

func TestEncode_CycleBecomesNull(t *testing.T) {
	a := &node{Name: "a"}
	b := &node{Name: "b", Next: a}
	a.Next = b

	got, err := Encode(a)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	want := `{"name":"a","next":{"name":"b","next":null}}`
	if got != want {
		t.Errorf("Encode(cycle) = %s, want %s", got, want)
	}
}

func TestEncode_SharedNonCyclicNodeIsNotNull(t *testing.T) {
	shared := &node{Name: "s"}
	got, err := Encode(map[string]any{"x": shared, "y": shared})
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if strings.Contains(got, `"y":null`) {
		t.Errorf("shared node nulled out: %s", got)
	}
}

func TestEncode_UnsupportedType(t *testing.T) {
	_, err := Encode(make(chan int))
	if err == nil {
		t.Fatal("expected error for chan")
	}
	if _, ok := err.(*UnsupportedTypeError); !ok {
		t.Errorf("error = %T, want *UnsupportedTypeError", err)
	}
}

func TestEncode_Deterministic(t *testing.T) {
	in := map[string]any{"b": 2, "a": 1, "c": []any{true, "x", 1.5}}
	first, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	for i := 0; i < 20; i++ {
		got, err := Encode(in)
		if err != nil {
			t.Fatalf("Encode error: %v", err)
		}
		if got != first {
			t.Fatalf("Encode not deterministic: %s vs %s", got, first)
		}
	}
}

func TestEncodeValue_RoundTripsDecodedValue(t *testing.T) {
	text := `{"a":[1,2.5,"x"],"b":{"$bytes":"AQID"},"c":true}`
	v, err := Decode(text)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if got := EncodeValue(v); got != text {
		t.Errorf("EncodeValue = %s, want %s", got, text)
	}
}
