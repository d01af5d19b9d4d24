package ui

import (
	"bytes"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Rimaestro/vulnity-kp/pkg/finding"
	"github.com/Rimaestro/vulnity-kp/pkg/scan"
)

func TestMain(m *testing.M) {
	// Plain text keeps the substring assertions independent of the
	// terminal the tests run on.
	SetNoColor(true)
	os.Exit(m.Run())
}

func sampleFinding() finding.Finding {
	return finding.Finding{
		ID:          "f-001",
		Title:       "SQL Injection in id",
		Class:       finding.ClassSQLi,
		Strategy:    "error-based",
		Severity:    finding.High,
		Confidence:  0.95,
		URL:         "http://127.0.0.1:8080/product?id=1",
		Parameter:   "id",
		Method:      "GET",
		Payload:     "1'",
		CWE:         "CWE-89",
		Remediation: "Use parameterized queries.",
	}
}

func sampleStats() scan.Statistics {
	return scan.Statistics{
		ScanID:               "b2f1c9d4",
		Target:               "http://127.0.0.1:8080/",
		Status:               scan.StatusRunning,
		Phase:                "Crawling target",
		CurrentURL:           "http://127.0.0.1:8080/product?id=1",
		URLsCrawled:          3,
		FormsFound:           1,
		RequestsSent:         42,
		VulnerabilitiesFound: 1,
		PluginsExecuted:      map[string]int{"sqli": 1},
		StartedAt:            time.Now(),
		Elapsed:              1500 * time.Millisecond,
	}
}

func TestFormatFinding(t *testing.T) {
	f := sampleFinding()
	line := FormatFinding(&f, false)

	for _, want := range []string{"high", "sqli", "error-based", f.URL, "'id'"} {
		if !strings.Contains(line, want) {
			t.Errorf("line missing %q: %s", want, line)
		}
	}
	if strings.Contains(line, "\n") {
		t.Error("compact line should be single-line")
	}

	withPayload := FormatFinding(&f, true)
	if !strings.Contains(withPayload, "-> 1'") {
		t.Errorf("payload line missing: %s", withPayload)
	}
}

func TestFormatFindingDetail(t *testing.T) {
	f := sampleFinding()
	block := FormatFindingDetail(&f)

	for _, want := range []string{"HIGH", "SQL Injection in id", "URL:", "Parameter:", "95%", "CWE-89", "Remediation:"} {
		if !strings.Contains(block, want) {
			t.Errorf("block missing %q:\n%s", want, block)
		}
	}

	f.Remediation = ""
	f.CWE = ""
	block = FormatFindingDetail(&f)
	if strings.Contains(block, "Remediation:") || strings.Contains(block, "CWE:") {
		t.Errorf("empty fields should be omitted:\n%s", block)
	}
}

func TestFormatFindings(t *testing.T) {
	if got := FormatFindings(nil, false); !strings.Contains(got, "No vulnerabilities found") {
		t.Errorf("empty list = %q", got)
	}

	a := sampleFinding()
	b := sampleFinding()
	b.ID = "f-002"
	b.URL = "http://127.0.0.1:8080/search?q=demo"
	out := FormatFindings([]finding.Finding{a, b}, false)
	if !strings.Contains(out, "2 vulnerabilities found") {
		t.Errorf("missing count: %s", out)
	}
	if !strings.Contains(out, a.URL) || !strings.Contains(out, b.URL) {
		t.Errorf("missing URLs: %s", out)
	}
}

func TestFormatStatistics(t *testing.T) {
	out := FormatStatistics(sampleStats())
	for _, want := range []string{"Scan Statistics", "http://127.0.0.1:8080/", "Requests sent:", "42", "sqli"} {
		if !strings.Contains(out, want) {
			t.Errorf("statistics missing %q:\n%s", want, out)
		}
	}
}

func TestProgressLine(t *testing.T) {
	stats := sampleStats()
	line := ProgressLine(stats, "")
	for _, want := range []string{"Crawling target", "[3 urls, 1 forms, 42 req]", "1 vuln"} {
		if !strings.Contains(line, want) {
			t.Errorf("progress missing %q: %s", want, line)
		}
	}

	stats.VulnerabilitiesFound = 0
	if line := ProgressLine(stats, ""); strings.Contains(line, "vuln") {
		t.Errorf("zero findings should not render a count: %s", line)
	}
}

func TestLiveStartStop(t *testing.T) {
	var calls atomic.Int64
	var buf bytes.Buffer
	live := NewLive(&buf, func() scan.Statistics {
		calls.Add(1)
		return sampleStats()
	})

	live.Start()
	time.Sleep(300 * time.Millisecond)
	live.Stop()

	if calls.Load() == 0 {
		t.Fatal("fetch never called")
	}
	out := buf.String()
	if !strings.Contains(out, "Crawling target") {
		t.Errorf("no progress rendered: %q", out)
	}
	if !strings.HasSuffix(out, "\r\033[K") {
		t.Error("line not cleared on stop")
	}

	live.Stop()
}
