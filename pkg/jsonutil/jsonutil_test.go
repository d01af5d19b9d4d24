package jsonutil

import (
	"bytes"
	"strings"
	"testing"
)

type sample struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

func TestMarshalUnmarshal(t *testing.T) {
	in := sample{Name: "boolean-based", Score: 0.7}

	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out sample
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != in {
		t.Errorf("roundtrip = %+v, want %+v", out, in)
	}
}

func TestValid(t *testing.T) {
	if !Valid([]byte(`{"a":1}`)) {
		t.Error("expected valid JSON")
	}
	if Valid([]byte(`{"a":`)) {
		t.Error("expected invalid JSON")
	}
}

func TestEncoder_NewlineDelimited(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	for _, s := range []sample{{"a", 1}, {"b", 0.5}} {
		if err := enc.Encode(s); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	for _, line := range lines {
		if !Valid([]byte(line)) {
			t.Errorf("line %q is not valid JSON", line)
		}
	}
}

func TestDecode(t *testing.T) {
	var out sample
	if err := Decode(strings.NewReader(`{"name":"x","score":0.9}`), &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Name != "x" || out.Score != 0.9 {
		t.Errorf("out = %+v", out)
	}
}
