package payloads

import (
	"regexp"
	"strings"
	"testing"

	"github.com/Rimaestro/vulnity-kp/pkg/finding"
)

func TestNewMarkerFormat(t *testing.T) {
	re := regexp.MustCompile(`^vkln[0-9a-f]{8}$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		m := NewMarker()
		if !re.MatchString(m) {
			t.Fatalf("marker %q does not match vkln + 8 hex digits", m)
		}
		seen[m] = true
	}
	if len(seen) < 95 {
		t.Errorf("markers barely unique: %d distinct out of 100", len(seen))
	}
}

func TestWithMarkerSubstitutesSlot(t *testing.T) {
	p := Payload{Value: "<script>alert('%MARKER%')</script>"}
	got := p.WithMarker("vkln01234567")
	if got.Value != "<script>alert('vkln01234567')</script>" {
		t.Errorf("substituted value = %q", got.Value)
	}
	if p.Value != "<script>alert('%MARKER%')</script>" {
		t.Error("WithMarker mutated the receiver")
	}
}

func TestTimeProbesCarryDelay(t *testing.T) {
	for _, p := range TimeProbes(3) {
		if strings.Contains(p.Value, SleepSlot) {
			t.Errorf("%s still contains the sleep slot: %q", p.Name, p.Value)
		}
		if p.SleepSeconds != 3 {
			t.Errorf("%s SleepSeconds = %d, want 3", p.Name, p.SleepSeconds)
		}
		switch p.Dialect {
		case DialectMySQL:
			if !strings.Contains(p.Value, "SLEEP(3)") {
				t.Errorf("%s missing SLEEP(3): %q", p.Name, p.Value)
			}
		case DialectPostgreSQL:
			if !strings.Contains(p.Value, "pg_sleep(3)") {
				t.Errorf("%s missing pg_sleep(3): %q", p.Name, p.Value)
			}
		case DialectMSSQL:
			if !strings.Contains(p.Value, "'0:0:3'") {
				t.Errorf("%s missing WAITFOR delay: %q", p.Name, p.Value)
			}
		}
	}
}

func TestUnionProbesGeneration(t *testing.T) {
	probes := UnionProbes(3)

	byName := make(map[string]Payload, len(probes))
	for _, p := range probes {
		byName[p.Name] = p
	}
	for _, name := range []string{"union-null-1", "union-null-2", "union-null-3"} {
		if _, ok := byName[name]; !ok {
			t.Errorf("missing %s", name)
		}
	}
	if p := byName["union-null-3"]; !strings.Contains(p.Value, "NULL,NULL,NULL") {
		t.Errorf("union-null-3 value = %q", p.Value)
	}
	if _, ok := byName["union-null-4"]; ok {
		t.Error("generated past the column bound")
	}
	if _, ok := byName["union-meta-version"]; !ok {
		t.Error("metadata probes missing")
	}
}

func TestBooleanPairs(t *testing.T) {
	pairs := BooleanPairs()
	if len(pairs) == 0 {
		t.Fatal("no boolean pairs")
	}
	for _, pair := range pairs {
		if pair.True == "" || pair.False == "" || pair.Or == "" {
			t.Errorf("%s has an empty condition", pair.Name)
		}
		if pair.True == pair.False {
			t.Errorf("%s true and false conditions are identical", pair.Name)
		}
	}
}

func TestXSSProbesEmbedMarkerSlot(t *testing.T) {
	sets := map[string][]Payload{
		"reflected": XSSReflectedProbes(),
		"dom":       XSSDOMProbes(),
		"stored":    XSSStoredProbes(),
	}
	for name, set := range sets {
		if len(set) == 0 {
			t.Errorf("%s probe set is empty", name)
			continue
		}
		for _, p := range set {
			if !strings.Contains(p.Value, MarkerSlot) {
				t.Errorf("%s probe %s has no marker slot: %q", name, p.Name, p.Value)
			}
			if p.Context == "" {
				t.Errorf("%s probe %s has no context", name, p.Name)
			}
		}
	}
}

func TestStoredProbesAreCritical(t *testing.T) {
	for _, p := range XSSStoredProbes() {
		if p.Risk != finding.Critical {
			t.Errorf("%s risk = %s, want critical", p.Name, p.Risk)
		}
	}
}

func TestCatalogFilters(t *testing.T) {
	c := NewCatalog(CatalogConfig{})

	if c.Len() == 0 {
		t.Fatal("empty catalog")
	}
	for _, p := range c.All() {
		if p.Value == "" || p.Class == "" || p.Strategy == "" || p.CWE == "" {
			t.Errorf("incomplete entry %+v", p)
		}
	}

	sqli := c.ForClass(finding.ClassSQLi)
	xss := c.ForClass(finding.ClassXSS)
	if len(sqli)+len(xss) != c.Len() {
		t.Errorf("class filter split %d + %d != %d", len(sqli), len(xss), c.Len())
	}

	for _, p := range c.ForStrategy(finding.StrategyTimeBased) {
		if p.SleepSeconds == 0 {
			t.Errorf("time probe %s has no delay", p.Name)
		}
	}

	mysql := c.ForDialect(DialectMySQL)
	var sawGeneric, sawMySQL bool
	for _, p := range mysql {
		switch p.Dialect {
		case DialectGeneric:
			sawGeneric = true
		case DialectMySQL:
			sawMySQL = true
		default:
			t.Errorf("dialect filter leaked %s entry %s", p.Dialect, p.Name)
		}
	}
	if !sawGeneric || !sawMySQL {
		t.Error("mysql filter should include both mysql and generic entries")
	}
}
