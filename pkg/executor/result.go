package executor

import (
	"net/http"
	"time"
)

// Outcome tags the result of a Send. Exactly one applies per request.
type Outcome string

const (
	// OutcomeOK means a response arrived, whatever its status code.
	// 4xx and 5xx are responses, not transport failures.
	OutcomeOK Outcome = "ok"

	// OutcomeTimeout means the target did not answer within the
	// configured deadline.
	OutcomeTimeout Outcome = "timeout"

	// OutcomeNetworkError covers DNS failures, refused connections,
	// resets and other transport breakage.
	OutcomeNetworkError Outcome = "network-error"

	// OutcomeCancelled means the scan context ended while the request
	// was pending.
	OutcomeCancelled Outcome = "cancelled"
)

// Result is the tagged outcome of one Send. OutcomeOK carries the
// response fields; the failure outcomes carry Err wrapping the
// matching finding sentinel.
type Result struct {
	Outcome    Outcome
	StatusCode int
	Header     http.Header
	Body       string
	Location   string
	Duration   time.Duration
	Attempts   int
	Err        error
}

// OK reports whether a response arrived.
func (r *Result) OK() bool { return r.Outcome == OutcomeOK }

// Redirected reports whether the response was a 3xx with a Location.
func (r *Result) Redirected() bool {
	return r.Outcome == OutcomeOK &&
		r.StatusCode >= 300 && r.StatusCode < 400 &&
		r.Location != ""
}

// BodyLen returns the analyzed body length in bytes.
func (r *Result) BodyLen() int { return len(r.Body) }
