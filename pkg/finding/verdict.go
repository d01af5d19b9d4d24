package finding

// Verdict is one strategy's evaluation of a probe response against its
// baseline. It becomes a Finding only when it clears the scan's
// confidence threshold.
type Verdict struct {
	Vulnerable bool
	Confidence float64
	Evidence   Evidence
}

// Meets reports whether the verdict is positive and clears threshold.
func (v Verdict) Meets(threshold float64) bool {
	return v.Vulnerable && v.Confidence >= threshold
}
