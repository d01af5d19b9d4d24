package main

// Semantic exit codes so CI pipelines can branch on the outcome
// without parsing output.
const (
	// exitSuccess: scan completed, no vulnerabilities.
	exitSuccess = 0
	// exitFindings: scan completed and found vulnerabilities.
	exitFindings = 1
	// exitScanFailed: the scan aborted partway.
	exitScanFailed = 2
	// exitConfiguration: bad flags, profile, or target.
	exitConfiguration = 3
	// exitTarget: the target never answered.
	exitTarget = 4
	// exitInterrupted: stopped by signal or deadline.
	exitInterrupted = 5
)
