package report

import (
	"fmt"
	"io"
	"time"

	"github.com/Rimaestro/vulnity-kp/pkg/jsonutil"
	"github.com/Rimaestro/vulnity-kp/pkg/scan"
)

// JSONWriter renders the whole report as one JSON document.
type JSONWriter struct {
	// Indent is the indentation unit. Empty writes compact JSON.
	Indent string
}

func (jw *JSONWriter) Format() string { return "json" }

func (jw *JSONWriter) Write(out io.Writer, rep *Report) error {
	enc := jsonutil.NewEncoder(out)
	if jw.Indent != "" {
		enc.SetIndent(jw.Indent)
	}
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// NDJSONWriter streams one finding per line so jq and log shippers can
// process findings without loading the whole document. The last line
// is the run summary, which doubles as the end-of-stream marker: a
// file without it was truncated.
type NDJSONWriter struct{}

func (nw *NDJSONWriter) Format() string { return "ndjson" }

func (nw *NDJSONWriter) Write(out io.Writer, rep *Report) error {
	enc := jsonutil.NewEncoder(out)
	for i := range rep.Findings {
		if err := enc.Encode(&rep.Findings[i]); err != nil {
			return fmt.Errorf("encode finding %d: %w", i, err)
		}
	}
	summary := struct {
		Tool        string          `json:"tool"`
		Version     string          `json:"version"`
		GeneratedAt time.Time       `json:"generated_at"`
		Summary     scan.Statistics `json:"summary"`
	}{rep.Tool, rep.Version, rep.GeneratedAt, rep.Statistics}
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}
