package finding

import (
	"time"

	"github.com/google/uuid"
)

// Class identifies a vulnerability class.
type Class string

const (
	// ClassSQLi is SQL injection.
	ClassSQLi Class = "sqli"

	// ClassXSS is cross-site scripting.
	ClassXSS Class = "xss"
)

// Strategy identifies the detection strategy that produced a finding.
// Each strategy corresponds to one sub-type of its vulnerability class.
type Strategy string

const (
	StrategyErrorBased   Strategy = "error-based"
	StrategyBooleanBased Strategy = "boolean-based"
	StrategyUnionBased   Strategy = "union-based"
	StrategyTimeBased    Strategy = "time-based"
	StrategyReflected    Strategy = "reflected"
	StrategyDOMBased     Strategy = "dom-based"
	StrategyStored       Strategy = "stored"
)

// Evidence holds the structured signals supporting a verdict, keyed by
// signal name (e.g. "length_ratio", "matched_pattern", "threshold").
type Evidence map[string]any

// Snapshot captures the request/response pair that triggered a finding.
// Bodies are truncated by the producer; a snapshot is for report context,
// not replay.
type Snapshot struct {
	Method     string `json:"method"`
	URL        string `json:"url"`
	Body       string `json:"body,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Response   string `json:"response,omitempty"`
}

// Finding is a confirmed vulnerability. Created only by a detection
// strategy after its confidence threshold is cleared; immutable after
// creation. Lifetime is one scan.
type Finding struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Class       Class     `json:"class"`
	Strategy    Strategy  `json:"strategy"`
	Severity    Severity  `json:"severity"`
	Confidence  float64   `json:"confidence"`
	URL         string    `json:"url"`
	Parameter   string    `json:"parameter"`
	Method      string    `json:"method"`
	Payload     string    `json:"payload"`
	Evidence    Evidence  `json:"evidence,omitempty"`
	Request     *Snapshot `json:"request,omitempty"`
	Remediation string    `json:"remediation,omitempty"`
	CWE         string    `json:"cwe,omitempty"`
	FoundAt     time.Time `json:"found_at"`
}

// New creates a Finding with a fresh UUID and the confidence clamped
// to [0,1]. Callers fill the endpoint fields before emitting it.
func New(class Class, strategy Strategy, severity Severity, confidence float64) *Finding {
	return &Finding{
		ID:         uuid.NewString(),
		Class:      class,
		Strategy:   strategy,
		Severity:   severity,
		Confidence: ClampConfidence(confidence),
		Evidence:   make(Evidence),
		FoundAt:    time.Now().UTC(),
	}
}

// ClampConfidence forces c into the valid confidence range [0,1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Key returns the dedup key for first-match-wins suppression: one
// finding per (endpoint, parameter, strategy).
func (f *Finding) Key() string {
	return f.URL + "\x00" + f.Parameter + "\x00" + string(f.Strategy)
}

// Valid reports whether the finding carries every field a consumer
// relies on: confidence in range and non-empty payload, parameter,
// and endpoint.
func (f *Finding) Valid() bool {
	if f.Confidence < 0 || f.Confidence > 1 {
		return false
	}
	return f.Payload != "" && f.Parameter != "" && f.URL != ""
}
