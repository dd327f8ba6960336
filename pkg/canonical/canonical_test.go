package canonical

import (
	"strings"
	"testing"
	"time"
)

func TestBytes_SortsKeys(t *testing.T) {
	input := map[string]any{"c": 3, "a": 1, "b": 2}
	expected := `{"a":1,"b":2,"c":3}`

	b, err := Bytes(input)
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("expected %s, got %s", expected, string(b))
	}
}

func TestBytes_NestedSorting(t *testing.T) {
	input := map[string]any{
		"z": map[string]any{"y": "foo", "x": "bar"},
		"a": 1,
	}
	expected := `{"a":1,"z":{"x":"bar","y":"foo"}}`

	b, err := Bytes(input)
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("expected %s, got %s", expected, string(b))
	}
}

func TestBytes_NoHTMLEscaping(t *testing.T) {
	b, err := Bytes(map[string]string{"html": "<a> & </a>"})
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if string(b) != `{"html":"<a> & </a>"}` {
		t.Errorf("HTML was escaped: %s", string(b))
	}
}

func TestFloat_Quantization(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{1.25, "1.25"},
		{1.2500004, "1.25"},
		{0.1234567, "0.123457"},
		{1.0, "1"},
		{0.0, "0"},
		{-0.0, "0"},
		{-0.0000001, "0"},
		{100, "100"},
		{0.5, "0.5"},
	}
	for _, c := range cases {
		got, err := Float(c.in)
		if err != nil {
			t.Fatalf("Float(%v): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("Float(%v) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestFloat_RejectsNaNAndInf(t *testing.T) {
	nan := 0.0
	nan = nan / nan
	if _, err := Float(nan); err == nil {
		t.Error("NaN must be rejected")
	}
	inf := 1.0
	inf = inf / 0.0
	if _, err := Float(inf); err == nil {
		t.Error("infinity must be rejected")
	}
}

func TestBytes_FloatsInsideTree(t *testing.T) {
	b, err := Bytes(map[string]any{"v": 1.2500001})
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if string(b) != `{"v":1.25}` {
		t.Errorf("float not quantized in tree: %s", string(b))
	}
}

func TestDatetime_UTCSecondPrecision(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	at := time.Date(2026, 1, 7, 13, 0, 0, 123456789, loc)
	got := Datetime(at)
	if got != "2026-01-07T12:00:00Z" {
		t.Errorf("Datetime = %s", got)
	}
}

func TestNormalizeString_NFC(t *testing.T) {
	// e + combining acute vs precomposed form
	decomposed := "e\u0301"
	composed := "\u00e9"
	a, err := NormalizeString(decomposed)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NormalizeString(composed)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("NFC forms differ: %q vs %q", a, b)
	}
}

func TestNormalizeString_RejectsInvalidUTF8(t *testing.T) {
	if _, err := NormalizeString(string([]byte{0xff, 0xfe})); err == nil {
		t.Error("invalid UTF-8 must be rejected")
	}
}

func TestHash_Stable(t *testing.T) {
	v := map[string]any{"b": 2.5, "a": []any{"x", 1}}
	h1, err := Hash(v)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := Hash(v)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("hash not stable: %s vs %s", h1, h2)
	}
	if len(h1) != 64 || strings.ToLower(h1) != h1 {
		t.Errorf("hash is not lowercase 64-hex: %s", h1)
	}
}

func TestID_Canonicalizes(t *testing.T) {
	got, err := ID("Flood Zone #7 (North)")
	if err != nil {
		t.Fatal(err)
	}
	if got != "flood_zone_7_north" {
		t.Errorf("ID = %s", got)
	}
	if _, err := ID("!!!"); err == nil {
		t.Error("all-invalid input must error")
	}
}

func TestBytes_StructRoundTrip(t *testing.T) {
	type payload struct {
		Name  string  `json:"name"`
		Level float64 `json:"level"`
	}
	b, err := Bytes(payload{Name: "gauge", Level: 1.2999996})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"level":1.3,"name":"gauge"}` {
		t.Errorf("struct canonical form: %s", string(b))
	}
}
