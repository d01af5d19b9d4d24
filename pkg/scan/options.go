package scan

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/Rimaestro/vulnity-kp/pkg/crawler"
	"github.com/Rimaestro/vulnity-kp/pkg/executor"
	"github.com/Rimaestro/vulnity-kp/pkg/metrics"
	"github.com/Rimaestro/vulnity-kp/pkg/payloads"
	"github.com/Rimaestro/vulnity-kp/pkg/scope"
)

// DefaultRequestsPerSecond is the global request budget DefaultOptions
// applies across every plugin of a scan.
const DefaultRequestsPerSecond = 20

// Options configures one scan. The zero value is usable: no crawl
// limits beyond the crawler defaults, no global budget, no metrics or
// tracing. DefaultOptions returns the production settings.
type Options struct {
	// Executor is the template for every executor the scan builds (one
	// for the crawler, one per plugin). The orchestrator installs its
	// own rate limiter, budget and statistics hook into the template,
	// so plugins share pacing but keep separate sessions.
	Executor executor.Config

	// Guard controls target admission. The zero value refuses
	// private-range targets.
	Guard scope.GuardConfig

	// Crawl holds crawler limits; zero fields fall back to crawler
	// defaults. NoCrawl skips discovery entirely and scans the seed
	// URL only.
	Crawl   crawler.Config
	NoCrawl bool

	// Logger receives scan progress. Nil uses slog.Default.
	Logger *slog.Logger

	// Threshold is the minimum confidence a verdict needs to become a
	// finding. Zero means the plugin default.
	Threshold float64

	// Evasion lists tamper names applied to payloads, in order.
	Evasion []string

	// Concurrency bounds each plugin's per-target parameter fan-out.
	Concurrency int

	// SQL injection tuning, passed through to the sqli plugin.
	Dialect      payloads.Dialect
	UnionColumns int
	BaseDelay    time.Duration
	Aggressive   bool

	// HeadlessVerify lets the XSS plugin confirm DOM findings in a
	// real browser when one is available.
	HeadlessVerify bool

	// RequestsPerSecond caps the combined request rate of the crawler
	// and every plugin. Zero disables the global budget; each
	// executor's own limiter still paces its traffic.
	RequestsPerSecond int

	// Metrics receives scan counters. Nil records nothing.
	Metrics *metrics.Engine

	// Tracer records scan, crawl, plugin and request spans. Nil
	// disables tracing.
	Tracer trace.Tracer
}

// DefaultOptions returns the settings a stock scan runs with: crawl
// enabled at the default limits, a shared request budget, and the
// aggressive time-based probes on so the fallback SQLi checks match
// the classic scanner behavior.
func DefaultOptions() Options {
	return Options{
		Crawl:             crawler.DefaultConfig(),
		Concurrency:       4,
		Aggressive:        true,
		RequestsPerSecond: DefaultRequestsPerSecond,
	}
}

func (o Options) log() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}
