package evasion

import (
	"strings"
	"testing"

	"golang.org/x/text/unicode/norm"
)

func TestURLEncodeSQLPreservesSyntax(t *testing.T) {
	got, err := URLEncodeSQL{}.Apply("' OR '1'='1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "'%20OR%20'1'='1" {
		t.Errorf("encoded = %q", got)
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"angle brackets encoded", "<script>", "%3Cscript%3E"},
		{"comment dash preserved", "1' ORDER BY 1-- ", "1'%20ORDER%20BY%201--%20"},
		{"parens and quotes raw", "') OR ('1'='1", "')%20OR%20('1'='1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := URLEncodeSQL{}.Apply(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Apply(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDoubleURLEncode(t *testing.T) {
	got, err := DoubleURLEncode{}.Apply("A B")
	if err != nil {
		t.Fatal(err)
	}
	if got != "A%2520B" {
		t.Errorf("double encoded = %q", got)
	}
}

func TestRandomCaseKeepsContent(t *testing.T) {
	in := "' UNION SELECT NULL FROM information_schema.tables-- "
	got, err := RandomCase{}.Apply(in)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.EqualFold(got, in) {
		t.Errorf("content changed beyond case: %q", got)
	}
	if len(got) != len(in) {
		t.Errorf("length changed: %d -> %d", len(in), len(got))
	}
}

func TestInlineComments(t *testing.T) {
	got, err := InlineComments{}.Apply("' UNION SELECT NULL-- ")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "UN/**/ION") {
		t.Errorf("UNION not split: %q", got)
	}
	if !strings.Contains(got, "SEL/**/ECT") {
		t.Errorf("SELECT not split: %q", got)
	}
}

func TestSpaceToComment(t *testing.T) {
	got, err := SpaceToComment{}.Apply("UNION SELECT 1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "UNION/**/SELECT/**/1" {
		t.Errorf("got %q", got)
	}
}

func TestFullwidthUnicodeRoundTrips(t *testing.T) {
	got, err := FullwidthUnicode{}.Apply("SELECT")
	if err != nil {
		t.Fatal(err)
	}
	if got == "SELECT" {
		t.Fatal("payload unchanged")
	}
	if strings.ContainsAny(got, "SELECT") {
		t.Errorf("ASCII letters remain: %q", got)
	}
	if folded := norm.NFKC.String(got); folded != "SELECT" {
		t.Errorf("NFKC fold = %q, want SELECT", folded)
	}
}

func TestFullwidthUnicodeLeavesStructure(t *testing.T) {
	got, err := FullwidthUnicode{}.Apply("' OR '1'='1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "'") || !strings.Contains(got, "=") {
		t.Errorf("structural characters were widened: %q", got)
	}
}

func TestChain(t *testing.T) {
	c, err := Chain("inline-comments", "url-encode-sql")
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Apply("' UNION SELECT NULL-- ")
	if err != nil {
		t.Fatal(err)
	}
	// Comment insertion ran first, then spaces were encoded around it.
	if !strings.Contains(got, "UN/**/ION") {
		t.Errorf("first tamper missing from chain output: %q", got)
	}
	if !strings.Contains(got, "%20") {
		t.Errorf("second tamper missing from chain output: %q", got)
	}
}

func TestChainUnknownName(t *testing.T) {
	if _, err := Chain("url-encode-sql", "no-such-tamper"); err == nil {
		t.Error("Chain accepted an unknown tamper name")
	}
}

func TestListContainsBuiltins(t *testing.T) {
	names := List()
	want := map[string]bool{
		"url-encode-sql":    false,
		"double-url-encode": false,
		"random-case":       false,
		"inline-comments":   false,
		"space-to-comment":  false,
		"fullwidth-unicode": false,
	}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for n, seen := range want {
		if !seen {
			t.Errorf("builtin %s not registered", n)
		}
	}
}

func TestScriptTamper(t *testing.T) {
	src := `
text := import("text")
transform := func(payload) {
	return text.replace(payload, " ", "/**/", -1)
}`
	st, err := NewScriptTamper("space2comment", src)
	if err != nil {
		t.Fatalf("NewScriptTamper: %v", err)
	}

	got, err := st.Apply("UNION SELECT 1")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got != "UNION/**/SELECT/**/1" {
		t.Errorf("script output = %q", got)
	}
}

func TestScriptTamperCompileError(t *testing.T) {
	if _, err := NewScriptTamper("broken", "transform := func("); err == nil {
		t.Error("compile error not surfaced")
	}
}

func TestScriptTamperMissingTransform(t *testing.T) {
	// Valid script, but transform is not a function.
	if _, err := NewScriptTamper("odd", "transform := 42"); err == nil {
		// Compilation may succeed; the call must then fail at Apply.
		st, _ := NewScriptTamper("odd", "transform := 42")
		if _, err := st.Apply("x"); err == nil {
			t.Error("calling a non-function transform did not error")
		}
	}
}
