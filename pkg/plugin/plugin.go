// Package plugin defines the scanner plugin contract and the static
// registry of built-in scanners. Plugins are compiled in and register
// themselves by name; there is no dynamic loading.
package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Rimaestro/vulnity-kp/pkg/crawler"
	"github.com/Rimaestro/vulnity-kp/pkg/executor"
	"github.com/Rimaestro/vulnity-kp/pkg/finding"
	"github.com/Rimaestro/vulnity-kp/pkg/payloads"
)

// Scanner is one vulnerability-class scanner. The orchestrator creates
// a fresh instance per scan, calls Setup once (repeat calls are no-ops),
// runs Scan for each target, and always calls Cleanup.
//
// Scan must swallow single-payload failures internally; it returns an
// error only when the whole target cannot be tested. Cleanup is safe to
// call multiple times and without a prior Setup.
type Scanner interface {
	Name() string
	Description() string
	Setup(opts Options) error
	Scan(ctx context.Context, target string) ([]finding.Finding, error)
	Cleanup() error
}

// Options carries everything a scanner needs at Setup. The executor
// config is a template: each plugin builds its own executor from it, so
// plugins share the scan's rate limiter (inside the config) but keep
// separate sessions.
type Options struct {
	Executor executor.Config
	Logger   *slog.Logger

	// Threshold is the minimum confidence a verdict needs to become a
	// finding. Zero means DefaultThreshold.
	Threshold float64

	// Evasion lists tamper names applied to payloads, in order.
	Evasion []string

	// Forms are the crawl-discovered forms relevant to the scan,
	// consulted by scanners that test form fields.
	Forms []crawler.Form

	// Concurrency bounds the per-target parameter fan-out.
	Concurrency int

	// SQL injection tuning.
	Dialect      payloads.Dialect
	UnionColumns int
	BaseDelay    time.Duration
	Aggressive   bool

	// HeadlessVerify lets the XSS scanner confirm DOM findings in a
	// real browser when one is available.
	HeadlessVerify bool
}

// DefaultThreshold is the confidence floor applied when Options leaves
// Threshold zero.
const DefaultThreshold = 0.5

// Log returns the configured logger or slog.Default.
func (o Options) Log() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// MinConfidence returns the effective confidence floor.
func (o Options) MinConfidence() float64 {
	if o.Threshold > 0 {
		return o.Threshold
	}
	return DefaultThreshold
}

// FormsFor returns the subset of Forms whose action is the given URL.
func (o Options) FormsFor(target string) []crawler.Form {
	var out []crawler.Form
	for _, f := range o.Forms {
		if f.Action == target {
			out = append(out, f)
		}
	}
	return out
}

// Factory builds a fresh Scanner instance for one scan.
type Factory func() Scanner

var (
	regMu     sync.RWMutex
	factories = make(map[string]Factory)
	order     []string
)

// Register adds a scanner factory under its name. Built-in scanners
// call this from init; registering the same name twice replaces the
// factory and keeps the original position.
func Register(name string, f Factory) {
	if name == "" || f == nil {
		return
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := factories[name]; !exists {
		order = append(order, name)
	}
	factories[name] = f
}

// Available returns the registered scanner names in registration order.
func Available() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, len(order))
	copy(out, order)
	return out
}

// New instantiates the named scanner.
func New(name string) (Scanner, error) {
	regMu.RLock()
	f, ok := factories[name]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("plugin: unknown scanner %q (available: %v)", name, Available())
	}
	return f(), nil
}

// Resolve maps requested names to scanner instances. Unknown names are
// collected into the returned error, but known ones still resolve, so a
// caller can decide whether partial resolution is acceptable.
func Resolve(names []string) ([]Scanner, error) {
	var scanners []Scanner
	var unknown []string
	for _, name := range names {
		s, err := New(name)
		if err != nil {
			unknown = append(unknown, name)
			continue
		}
		scanners = append(scanners, s)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return scanners, fmt.Errorf("plugin: unknown scanners: %v", unknown)
	}
	return scanners, nil
}
