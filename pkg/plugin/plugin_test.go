package plugin

import (
	"context"
	"log/slog"
	"net/url"
	"testing"

	"github.com/Rimaestro/vulnity-kp/pkg/crawler"
	"github.com/Rimaestro/vulnity-kp/pkg/finding"
)

type fakeScanner struct {
	name   string
	setups int
}

func (f *fakeScanner) Name() string        { return f.name }
func (f *fakeScanner) Description() string { return "fake scanner for registry tests" }
func (f *fakeScanner) Setup(Options) error { f.setups++; return nil }
func (f *fakeScanner) Scan(ctx context.Context, target string) ([]finding.Finding, error) {
	return nil, nil
}
func (f *fakeScanner) Cleanup() error { return nil }

func TestRegisterAndNew(t *testing.T) {
	Register("fake-a", func() Scanner { return &fakeScanner{name: "fake-a"} })
	Register("fake-b", func() Scanner { return &fakeScanner{name: "fake-b"} })

	s, err := New("fake-a")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Name() != "fake-a" {
		t.Errorf("Name() = %q", s.Name())
	}

	// Instances must be fresh per call.
	s2, _ := New("fake-a")
	if s == s2 {
		t.Error("New returned the same instance twice")
	}
}

func TestAvailablePreservesOrder(t *testing.T) {
	Register("fake-z", func() Scanner { return &fakeScanner{name: "fake-z"} })
	Register("fake-y", func() Scanner { return &fakeScanner{name: "fake-y"} })
	// Re-registering keeps the original position.
	Register("fake-z", func() Scanner { return &fakeScanner{name: "fake-z"} })

	names := Available()
	zi, yi := -1, -1
	for i, n := range names {
		switch n {
		case "fake-z":
			zi = i
		case "fake-y":
			yi = i
		}
	}
	if zi == -1 || yi == -1 {
		t.Fatalf("registered names missing from Available(): %v", names)
	}
	if zi > yi {
		t.Errorf("registration order not preserved: %v", names)
	}
}

func TestNewUnknown(t *testing.T) {
	if _, err := New("no-such-scanner"); err == nil {
		t.Error("unknown scanner did not error")
	}
}

func TestResolvePartial(t *testing.T) {
	Register("fake-r", func() Scanner { return &fakeScanner{name: "fake-r"} })

	scanners, err := Resolve([]string{"fake-r", "missing-one"})
	if err == nil {
		t.Error("Resolve with unknown name did not error")
	}
	if len(scanners) != 1 || scanners[0].Name() != "fake-r" {
		t.Errorf("known scanner not resolved: %v", scanners)
	}
}

func TestOptionsDefaults(t *testing.T) {
	var opts Options
	if opts.Log() == nil {
		t.Error("Log() returned nil")
	}
	if got := opts.MinConfidence(); got != DefaultThreshold {
		t.Errorf("MinConfidence() = %v, want %v", got, DefaultThreshold)
	}
	opts.Threshold = 0.8
	if got := opts.MinConfidence(); got != 0.8 {
		t.Errorf("MinConfidence() = %v, want 0.8", got)
	}
	opts.Logger = slog.Default()
	if opts.Log() != opts.Logger {
		t.Error("Log() ignored the configured logger")
	}
}

func TestOptionsFormsFor(t *testing.T) {
	opts := Options{Forms: []crawler.Form{
		{Action: "http://site.test/login.php", Method: "POST", Fields: url.Values{"user": {""}}},
		{Action: "http://site.test/search.php", Method: "GET", Fields: url.Values{"q": {""}}},
	}}

	got := opts.FormsFor("http://site.test/search.php")
	if len(got) != 1 || got[0].Method != "GET" {
		t.Errorf("FormsFor returned %v", got)
	}
	if got := opts.FormsFor("http://site.test/other"); len(got) != 0 {
		t.Errorf("FormsFor for unknown action returned %v", got)
	}
}
