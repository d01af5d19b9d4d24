// Package scan orchestrates one complete scan: target admission,
// crawl, plugin fan-out and finding aggregation. StartScan validates
// the target synchronously and runs everything else in the background;
// the returned Scan is a handle for polling statistics, reading
// findings, waiting and cancelling.
//
// Partial results always win over clean failure: a deadline or cancel
// mid-scan keeps every finding collected so far, and a plugin that
// breaks on one target is logged and skipped, never fatal.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/Rimaestro/vulnity-kp/pkg/crawler"
	"github.com/Rimaestro/vulnity-kp/pkg/executor"
	"github.com/Rimaestro/vulnity-kp/pkg/finding"
	"github.com/Rimaestro/vulnity-kp/pkg/plugin"
	"github.com/Rimaestro/vulnity-kp/pkg/ratelimit"
	"github.com/Rimaestro/vulnity-kp/pkg/scope"
	"github.com/Rimaestro/vulnity-kp/pkg/telemetry"

	// Built-in scanners register themselves on import.
	_ "github.com/Rimaestro/vulnity-kp/pkg/sqli"
	_ "github.com/Rimaestro/vulnity-kp/pkg/xss"
)

// errCancelled is the context cause recorded by Cancel, so the run
// loop can tell a caller cancel from a deadline.
var errCancelled = errors.New("scan: cancelled")

// AvailablePlugins returns the registered scanner names, usable in the
// types argument of StartScan.
func AvailablePlugins() []string { return plugin.Available() }

// Scan is a handle on one running or finished scan. All methods are
// safe for concurrent use.
type Scan struct {
	// ID uniquely identifies this scan.
	ID string

	// Target is the normalized seed URL.
	Target string

	opts    Options
	execCfg executor.Config
	log     *slog.Logger
	tracer  trace.Tracer
	cancel  context.CancelCauseFunc
	done    chan struct{}

	requests atomic.Int64

	mu          sync.Mutex
	status      Status
	phase       string
	currentURL  string
	started     time.Time
	finished    time.Time
	findings    []finding.Finding
	urlsCrawled int
	formsFound  int
	executed    map[string]int
	err         error
}

// StartScan validates the target and begins scanning it for the named
// vulnerability classes (nil or empty means every registered scanner).
// Validation failures (unparsable URL, out-of-scope host, no usable
// scanner) are returned synchronously and the scan never starts; after
// that the scan runs in the background until terminal.
//
// The scan inherits ctx: a deadline on it bounds the whole scan, and
// expiry yields a completed scan with partial findings, not an error.
func StartScan(ctx context.Context, target string, types []string, opts Options) (*Scan, error) {
	log := opts.log()

	normalized, err := scope.Normalize(target)
	if err != nil {
		return nil, fmt.Errorf("scan: invalid target: %w", err)
	}
	if err := scope.NewGuard(opts.Guard).Check(ctx, normalized); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	names := types
	if len(names) == 0 {
		names = plugin.Available()
	}
	scanners, err := plugin.Resolve(names)
	if len(scanners) == 0 {
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		return nil, errors.New("scan: no scanners registered")
	}
	if err != nil {
		log.Warn("ignoring unknown scan types", slog.Any("error", err))
	}

	s := &Scan{
		ID:       uuid.NewString(),
		Target:   normalized,
		opts:     opts,
		log:      log,
		tracer:   opts.Tracer,
		done:     make(chan struct{}),
		status:   StatusPending,
		phase:    "Initializing scan",
		started:  time.Now(),
		executed: make(map[string]int),
	}
	if s.tracer == nil {
		s.tracer = noop.NewTracerProvider().Tracer("vulnity")
	}

	// Prepare the executor template every component builds from. The
	// limiter and budget are created here so the crawler and all
	// plugins share them; OnRequest feeds the scan counters.
	cfg := opts.Executor
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.New(ratelimit.DefaultConfig())
	}
	if cfg.Budget == nil && opts.RequestsPerSecond > 0 {
		cfg.Budget = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.RequestsPerSecond)
	}
	if cfg.Tracer == nil && opts.Tracer != nil {
		cfg.Tracer = opts.Tracer
	}
	onRequest := cfg.OnRequest
	cfg.OnRequest = func(res *executor.Result) {
		s.requests.Add(1)
		opts.Metrics.ObserveRequest(string(res.Outcome), res.Duration)
		if onRequest != nil {
			onRequest(res)
		}
	}
	s.execCfg = cfg

	scanCtx, cancel := context.WithCancelCause(ctx)
	s.cancel = cancel
	go s.run(scanCtx, scanners)
	return s, nil
}

func (s *Scan) run(ctx context.Context, scanners []plugin.Scanner) {
	defer close(s.done)
	defer s.cancel(nil)
	s.opts.Metrics.ScanStarted()
	defer s.opts.Metrics.ScanDone()

	ctx, span := s.tracer.Start(ctx, "scan",
		trace.WithAttributes(
			attribute.String("scan.id", s.ID),
			attribute.String("scan.target", s.Target),
		))
	defer func() {
		s.mu.Lock()
		span.SetAttributes(
			attribute.Int64("scan.requests", s.requests.Load()),
			attribute.Int("scan.findings", len(s.findings)),
		)
		err := s.err
		s.mu.Unlock()
		telemetry.End(span, err)
	}()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scan panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			s.finish(StatusFailed, "Scan failed", fmt.Errorf("scan: panic: %v", r))
		}
	}()

	s.setPhase("Initializing scan")
	targets, forms := s.crawl(ctx)
	s.runPlugins(ctx, scanners, targets, forms)

	switch cause := context.Cause(ctx); {
	case cause == nil || errors.Is(cause, context.DeadlineExceeded):
		if cause != nil {
			s.log.Info("scan deadline reached, keeping partial results")
		}
		s.finish(StatusCompleted, "Scan completed", nil)
	default:
		s.finish(StatusCancelled, "Scan cancelled", nil)
	}

	stats := s.Statistics()
	s.log.Info("scan finished",
		slog.String("scan_id", s.ID),
		slog.String("status", string(stats.Status)),
		slog.Int("findings", stats.VulnerabilitiesFound),
		slog.Int64("requests", stats.RequestsSent),
		slog.Duration("elapsed", stats.Elapsed))
}

// crawl discovers the target surface. Any crawl failure degrades to a
// seed-only scan; discovery is never scan-fatal.
func (s *Scan) crawl(ctx context.Context) ([]string, []crawler.Form) {
	seedOnly := []string{s.Target}
	if s.opts.NoCrawl {
		return seedOnly, nil
	}

	ctx, span := s.tracer.Start(ctx, "crawl")
	s.setPhase("Crawling target")

	exec, err := executor.New(s.execCfg, executor.WithLogger(s.log))
	if err != nil {
		s.log.Error("crawl executor", slog.Any("error", err))
		telemetry.End(span, err)
		return seedOnly, nil
	}

	cfg := s.opts.Crawl
	onPage := cfg.OnPage
	cfg.OnPage = func(p crawler.Page) {
		s.setCurrentURL(p.URL)
		s.opts.Metrics.ObserveCrawl(1)
		if onPage != nil {
			onPage(p)
		}
	}

	res, err := crawler.New(exec, cfg, crawler.WithLogger(s.log)).Crawl(ctx, s.Target)
	if err != nil {
		s.log.Warn("crawl failed, scanning seed only", slog.Any("error", err))
		telemetry.End(span, err)
		return seedOnly, nil
	}

	s.mu.Lock()
	s.urlsCrawled = len(res.URLs)
	s.formsFound = len(res.Forms)
	s.mu.Unlock()

	span.SetAttributes(
		attribute.Int("crawl.urls", len(res.URLs)),
		attribute.Int("crawl.forms", len(res.Forms)),
	)
	telemetry.End(span, nil)

	if len(res.URLs) == 0 {
		return seedOnly, res.Forms
	}
	return res.URLs, res.Forms
}

// pluginBatch carries findings from a plugin goroutine to the
// aggregator; a final batch reports the plugin's total.
type pluginBatch struct {
	plugin   string
	findings []finding.Finding
	final    bool
	total    int
}

// runPlugins fans the scanners out, one goroutine each, and serializes
// every finding through a single aggregation loop.
func (s *Scan) runPlugins(ctx context.Context, scanners []plugin.Scanner, targets []string, forms []crawler.Form) {
	popts := plugin.Options{
		Executor:       s.execCfg,
		Logger:         s.log,
		Threshold:      s.opts.Threshold,
		Evasion:        s.opts.Evasion,
		Forms:          forms,
		Concurrency:    s.opts.Concurrency,
		Dialect:        s.opts.Dialect,
		UnionColumns:   s.opts.UnionColumns,
		BaseDelay:      s.opts.BaseDelay,
		Aggressive:     s.opts.Aggressive,
		HeadlessVerify: s.opts.HeadlessVerify,
	}

	results := make(chan pluginBatch)
	var wg sync.WaitGroup
	for _, sc := range scanners {
		wg.Add(1)
		go func(sc plugin.Scanner) {
			defer wg.Done()
			s.runPlugin(ctx, sc, popts, targets, results)
		}(sc)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for batch := range results {
		if batch.final {
			s.mu.Lock()
			s.executed[batch.plugin] = batch.total
			s.mu.Unlock()
			continue
		}
		s.mu.Lock()
		s.findings = append(s.findings, batch.findings...)
		s.mu.Unlock()
		for _, f := range batch.findings {
			s.opts.Metrics.ObserveFinding(string(f.Class), string(f.Severity))
		}
	}
}

// runPlugin drives one scanner across every target. Setup failure
// excludes the plugin; a failure on one target moves on to the next; a
// panic is contained to this plugin.
func (s *Scan) runPlugin(ctx context.Context, sc plugin.Scanner, popts plugin.Options, targets []string, out chan<- pluginBatch) {
	name := sc.Name()
	ctx, span := s.tracer.Start(ctx, "plugin."+name,
		trace.WithAttributes(attribute.String("plugin.name", name)))
	var runErr error
	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("scan: plugin %s panicked: %v", name, r)
			s.log.Error("plugin panicked",
				slog.String("plugin", name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
		telemetry.End(span, runErr)
	}()

	s.setPhase("Scanning for " + name)
	if err := sc.Setup(popts); err != nil {
		runErr = err
		s.log.Error("plugin setup failed, skipping",
			slog.String("plugin", name),
			slog.Any("error", err))
		return
	}
	defer func() {
		if err := sc.Cleanup(); err != nil {
			s.log.Warn("plugin cleanup",
				slog.String("plugin", name),
				slog.Any("error", err))
		}
	}()

	total := 0
	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		s.setCurrentURL(target)
		found, err := sc.Scan(ctx, target)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, finding.ErrCancelled) {
				break
			}
			s.log.Error("plugin failed on target",
				slog.String("plugin", name),
				slog.String("target", target),
				slog.Any("error", err))
			continue
		}
		total += len(found)
		if len(found) > 0 {
			out <- pluginBatch{plugin: name, findings: found}
		}
	}
	out <- pluginBatch{plugin: name, final: true, total: total}
	span.SetAttributes(attribute.Int("plugin.findings", total))
}

// Cancel stops the scan. Safe to call repeatedly and after the scan
// has finished.
func (s *Scan) Cancel() { s.cancel(errCancelled) }

// Wait blocks until the scan reaches a terminal status or ctx ends.
// It returns the scan-level error (non-nil only for failed scans) or
// the ctx error if that fired first.
func (s *Scan) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed when the scan reaches terminal status.
func (s *Scan) Done() <-chan struct{} { return s.done }

// Status returns the current lifecycle state.
func (s *Scan) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the scan-level error. Nil unless the status is failed.
func (s *Scan) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Findings returns the findings collected so far; after terminal
// status this is the complete, severity-sorted result set.
func (s *Scan) Findings() []finding.Finding {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]finding.Finding, len(s.findings))
	copy(out, s.findings)
	return out
}

// Statistics returns a snapshot of scan progress.
func (s *Scan) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := time.Since(s.started)
	if !s.finished.IsZero() {
		elapsed = s.finished.Sub(s.started)
	}
	executed := make(map[string]int, len(s.executed))
	for name, n := range s.executed {
		executed[name] = n
	}
	return Statistics{
		ScanID:               s.ID,
		Target:               s.Target,
		Status:               s.status,
		Phase:                s.phase,
		CurrentURL:           s.currentURL,
		URLsCrawled:          s.urlsCrawled,
		FormsFound:           s.formsFound,
		RequestsSent:         s.requests.Load(),
		VulnerabilitiesFound: len(s.findings),
		PluginsExecuted:      executed,
		StartedAt:            s.started,
		Elapsed:              elapsed,
	}
}

func (s *Scan) setPhase(phase string) {
	s.mu.Lock()
	if !s.status.Terminal() {
		s.status = StatusRunning
		s.phase = phase
	}
	s.mu.Unlock()
}

func (s *Scan) setCurrentURL(u string) {
	s.mu.Lock()
	if !s.status.Terminal() {
		s.currentURL = u
	}
	s.mu.Unlock()
}

// finish records the terminal state once; later calls are ignored.
func (s *Scan) finish(status Status, phase string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	s.status = status
	s.phase = phase
	s.err = err
	s.finished = time.Now()
	s.currentURL = ""
	sortFindings(s.findings)
}

// sortFindings orders the final report: severity first, then URL,
// parameter and strategy for a stable read.
func sortFindings(fs []finding.Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if a.Severity.Score() != b.Severity.Score() {
			return a.Severity.Score() > b.Severity.Score()
		}
		if a.URL != b.URL {
			return a.URL < b.URL
		}
		if a.Parameter != b.Parameter {
			return a.Parameter < b.Parameter
		}
		return a.Strategy < b.Strategy
	})
}
