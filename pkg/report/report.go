// Package report renders finished scans to files. Writers are keyed
// by format name so the CLI and the profile share one registry: json
// and ndjson for machines, html for people, pdf for people who will
// never open a terminal.
package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Rimaestro/vulnity-kp/pkg/finding"
	"github.com/Rimaestro/vulnity-kp/pkg/scan"
)

// Report is the document every writer renders. Findings arrive already
// sorted by the scan (severity first), so writers preserve order.
type Report struct {
	Tool        string            `json:"tool"`
	Version     string            `json:"version"`
	GeneratedAt time.Time         `json:"generated_at"`
	Statistics  scan.Statistics   `json:"statistics"`
	Findings    []finding.Finding `json:"vulnerabilities"`
}

// New assembles the report for one finished scan.
func New(version string, stats scan.Statistics, findings []finding.Finding) *Report {
	return &Report{
		Tool:        "vulnity",
		Version:     version,
		GeneratedAt: time.Now(),
		Statistics:  stats,
		Findings:    findings,
	}
}

// SeverityCount is one row of the severity breakdown.
type SeverityCount struct {
	Severity finding.Severity
	Count    int
}

// SeverityCounts tallies findings per severity in rank order, skipping
// empty ranks.
func (r *Report) SeverityCounts() []SeverityCount {
	byRank := make(map[finding.Severity]int, len(r.Findings))
	for i := range r.Findings {
		byRank[r.Findings[i].Severity]++
	}
	counts := make([]SeverityCount, 0, len(byRank))
	for _, sev := range finding.Severities() {
		if n := byRank[sev]; n > 0 {
			counts = append(counts, SeverityCount{Severity: sev, Count: n})
		}
	}
	return counts
}

// Writer renders a report to one output stream.
type Writer interface {
	// Format is the name the CLI and profile select this writer by.
	Format() string

	// Write renders the report to out.
	Write(out io.Writer, rep *Report) error
}

// NewWriter returns the writer for a format name.
func NewWriter(format string) (Writer, error) {
	switch format {
	case "json":
		return &JSONWriter{Indent: "  "}, nil
	case "ndjson":
		return &NDJSONWriter{}, nil
	case "html":
		return &HTMLWriter{}, nil
	case "pdf":
		return &PDFWriter{}, nil
	}
	return nil, fmt.Errorf("report: unknown format %q (known: json, ndjson, html, pdf)", format)
}

// Output names one file to write.
type Output struct {
	Format string
	Path   string
}

// WriteAll writes the report to every output, creating parent
// directories as needed. A failed output does not stop the rest; the
// errors come back joined.
func WriteAll(rep *Report, outputs []Output) error {
	var errs []error
	for _, o := range outputs {
		if err := writeOne(rep, o); err != nil {
			errs = append(errs, fmt.Errorf("report: %s: %w", o.Path, err))
		}
	}
	return errors.Join(errs...)
}

func writeOne(rep *Report, o Output) error {
	w, err := NewWriter(o.Format)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(o.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(o.Path)
	if err != nil {
		return err
	}
	if err := w.Write(f, rep); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
