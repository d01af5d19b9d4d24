// Package finding provides the shared vulnerability finding types
// used across all detection packages.
//
// A Finding is produced by exactly one detection strategy after its
// confidence threshold is cleared, and is immutable afterwards. The
// Evidence map carries the structured signals (ratios, thresholds,
// matched patterns) that justified the verdict, so consumers never
// have to parse free text.
//
// Usage:
//
//	f := finding.New(finding.ClassSQLi, finding.StrategyErrorBased,
//		finding.Critical, 0.9)
//	f.URL = target
//	f.Parameter = "id"
package finding
