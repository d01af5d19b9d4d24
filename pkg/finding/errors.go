package finding

import "errors"

// Sentinel errors for common scan failure modes.
// Callers should use errors.Is() to check for these.
var (
	// ErrTimeout indicates the target did not respond within the
	// configured deadline.
	ErrTimeout = errors.New("finding: timeout")

	// ErrUnreachable indicates the target host could not be reached
	// (DNS failure, connection refused, reset).
	ErrUnreachable = errors.New("finding: target unreachable")

	// ErrCancelled indicates the scan context was cancelled while a
	// request was in flight.
	ErrCancelled = errors.New("finding: cancelled")

	// ErrNoPayloads indicates no payloads were available for the
	// requested detection strategy.
	ErrNoPayloads = errors.New("finding: no payloads available")

	// ErrOutOfScope indicates the target failed the scope guard
	// (private address, denied host, foreign registrable domain).
	ErrOutOfScope = errors.New("finding: target out of scope")
)
