// Package xss implements the cross-site scripting scanner plugin.
// Three strategies cover the delivery paths: reflected probes per
// parameter, DOM probes through the URL fragment and a mirrored query
// parameter, and stored probes submitted through forms and checked on
// a re-fetch. Every probe carries a unique marker so a hit is
// attributable to exactly one request.
package xss

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/Rimaestro/vulnity-kp/pkg/evasion"
	"github.com/Rimaestro/vulnity-kp/pkg/executor"
	"github.com/Rimaestro/vulnity-kp/pkg/finding"
	"github.com/Rimaestro/vulnity-kp/pkg/headless"
	"github.com/Rimaestro/vulnity-kp/pkg/payloads"
	"github.com/Rimaestro/vulnity-kp/pkg/plugin"
	"github.com/Rimaestro/vulnity-kp/pkg/scope"
	"github.com/Rimaestro/vulnity-kp/pkg/workerpool"
)

func init() {
	plugin.Register("xss", func() plugin.Scanner { return New() })
}

// snapshotLimit bounds the response body captured in finding snapshots.
const snapshotLimit = 2048

// storedThreshold is the confidence floor stored findings must clear
// even when the scan threshold sits lower. A persisted payload hits
// every visitor, so weak signals stay out of the report.
const storedThreshold = 0.8

// storedPersistWait gives the target time to write a submission before
// the verification fetch.
const storedPersistWait = time.Second

const remediation = "Encode output for the context it lands in and validate input " +
	"server-side. Deploy a Content-Security-Policy that disallows inline script."

// dialogVerifier confirms script execution by driving a real browser
// and watching for the alert dialog a probe raises.
type dialogVerifier interface {
	Verify(ctx context.Context, pageURL, marker string) (bool, error)
	Close() error
}

// Plugin is the cross-site scripting scanner. One instance serves one
// scan: Setup wires the executor, probe sets and the optional headless
// verifier, Scan walks a target's parameters, page and forms.
type Plugin struct {
	mu    sync.Mutex
	ready bool

	opts   plugin.Options
	log    *slog.Logger
	exec   *executor.Executor
	pool   *workerpool.Pool
	tamper evasion.Tamper

	reflectedProbes []payloads.Payload
	domProbes       []payloads.Payload
	storedProbes    []payloads.Payload

	verifier   dialogVerifier
	storedWait time.Duration
}

// New returns an unconfigured plugin. Call Setup before Scan.
func New() *Plugin { return &Plugin{storedWait: storedPersistWait} }

func (p *Plugin) Name() string { return "xss" }

func (p *Plugin) Description() string {
	return "Cross-site scripting scanner: reflected, DOM-based and stored detection"
}

// Setup builds the executor, probe sets and verifier from the scan
// options. Safe to call more than once; only the first call after New
// or Cleanup takes effect.
func (p *Plugin) Setup(opts plugin.Options) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready {
		return nil
	}

	log := opts.Log().With(slog.String("plugin", "xss"))
	exec, err := executor.New(opts.Executor, executor.WithLogger(log))
	if err != nil {
		return fmt.Errorf("xss: executor: %w", err)
	}

	var tamper evasion.Tamper
	if len(opts.Evasion) > 0 {
		tamper, err = evasion.Chain(opts.Evasion...)
		if err != nil {
			return fmt.Errorf("xss: evasion chain: %w", err)
		}
	}

	catalog := payloads.NewCatalog(payloads.CatalogConfig{})

	p.opts = opts
	p.log = log
	p.exec = exec
	p.tamper = tamper
	p.reflectedProbes = catalog.ForStrategy(finding.StrategyReflected)
	p.domProbes = catalog.ForStrategy(finding.StrategyDOMBased)
	p.storedProbes = catalog.ForStrategy(finding.StrategyStored)
	if opts.HeadlessVerify && p.verifier == nil {
		p.verifier = headless.New(headless.Config{}, log)
	}
	p.pool = workerpool.New(opts.Concurrency)
	p.ready = true
	return nil
}

// Scan runs the three strategies against one target: reflected across
// the parameter fan-out, the DOM vectors against the page, stored
// submissions through the target's forms. Stored runs last and
// sequentially because its submissions mutate server state.
func (p *Plugin) Scan(ctx context.Context, target string) ([]finding.Finding, error) {
	p.mu.Lock()
	ready := p.ready
	p.mu.Unlock()
	if !ready {
		return nil, fmt.Errorf("xss: scan before setup")
	}

	points, err := p.collectPoints(target)
	if err != nil {
		return nil, err
	}
	p.log.Info("testing target",
		slog.String("target", target),
		slog.Int("parameters", len(points)))

	var (
		mu  sync.Mutex
		out []finding.Finding
	)
	add := func(found []finding.Finding) {
		if len(found) == 0 {
			return
		}
		mu.Lock()
		out = append(out, found...)
		mu.Unlock()
	}

	poolErr := p.pool.ForEach(ctx, len(points), func(i int) {
		add(p.testPoint(ctx, points[i]))
	})
	if poolErr != nil {
		return sortFindings(out), poolErr
	}

	add(p.testDOM(ctx, target))
	if err := ctx.Err(); err != nil {
		return sortFindings(out), err
	}

	add(p.testStored(ctx, target))
	return sortFindings(out), ctx.Err()
}

// Cleanup releases the worker pool and the headless browser. Multi-call
// safe; a later Setup rebuilds the plugin.
func (p *Plugin) Cleanup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
	var err error
	if p.verifier != nil {
		err = p.verifier.Close()
		p.verifier = nil
	}
	p.ready = false
	return err
}

// point is one injectable parameter: a query parameter of the target
// URL or a named field of a crawled form.
type point struct {
	url    string
	param  string
	origin executor.ParamOrigin
	method string
	fields url.Values
}

func (p *Plugin) collectPoints(target string) ([]point, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("xss: parse target: %w", err)
	}

	var points []point
	for _, name := range scope.SortParams(u) {
		points = append(points, point{url: target, param: name, origin: executor.OriginQuery})
	}
	for _, form := range p.opts.FormsFor(target) {
		names := make([]string, 0, len(form.Fields))
		for name := range form.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			points = append(points, point{
				url:    form.Action,
				param:  name,
				origin: executor.OriginForm,
				method: form.Method,
				fields: form.Fields,
			})
		}
	}
	return points, nil
}

// testPoint runs the reflected strategy against one parameter. The
// strategy stops at its first confirmed payload, so a parameter yields
// at most one reflected finding.
func (p *Plugin) testPoint(ctx context.Context, pt point) []finding.Finding {
	f, err := p.testReflected(ctx, pt)
	if err != nil {
		p.log.Debug("strategy aborted",
			slog.String("strategy", "reflected"),
			slog.String("parameter", pt.param),
			slog.Any("err", err))
		return nil
	}
	if f == nil {
		return nil
	}
	p.log.Info("cross-site scripting detected",
		slog.String("strategy", "reflected"),
		slog.String("parameter", pt.param),
		slog.String("url", pt.url),
		slog.Float64("confidence", f.Confidence))
	return []finding.Finding{*f}
}

// sendProbe routes the payload through the tamper chain and sends it
// in the point's parameter. The returned request records the original
// payload even when the wire form was tampered.
func (p *Plugin) sendProbe(ctx context.Context, pt point, payload string) (*executor.Request, *executor.Result, error) {
	req, err := p.buildProbe(pt, payload)
	if err != nil {
		return nil, nil, err
	}
	return req, p.exec.Send(ctx, req), nil
}

// buildProbe assembles the probe request. Tampered query payloads go
// on the wire verbatim since the chain owns their encoding; form
// fields keep standard urlencoding either way.
func (p *Plugin) buildProbe(pt point, payload string) (*executor.Request, error) {
	if pt.origin == executor.OriginForm {
		value := payload
		if p.tamper != nil {
			tampered, err := p.tamper.Apply(payload)
			if err != nil {
				return nil, fmt.Errorf("xss: tamper: %w", err)
			}
			value = tampered
		}
		req := executor.InjectForm(pt.url, pt.method, pt.fields, pt.param, value)
		req.Payload = payload
		return req, nil
	}
	if p.tamper != nil {
		encoded, err := p.tamper.Apply(payload)
		if err != nil {
			return nil, fmt.Errorf("xss: tamper: %w", err)
		}
		return executor.InjectQueryRaw(pt.url, pt.param, encoded, payload)
	}
	return executor.InjectQuery(pt.url, pt.param, payload)
}

// emit fills the endpoint fields of a confirmed verdict.
func (p *Plugin) emit(pt point, strategy finding.Strategy, severity finding.Severity,
	v finding.Verdict, title, payload string, req *executor.Request, res *executor.Result) *finding.Finding {

	f := finding.New(finding.ClassXSS, strategy, severity, v.Confidence)
	f.Title = title
	f.Description = fmt.Sprintf("%s in parameter %q", title, pt.param)
	f.URL = pt.url
	f.Parameter = pt.param
	f.Method = req.Method
	f.Payload = payload
	f.Evidence = v.Evidence
	f.Remediation = remediation
	f.CWE = payloads.CWEXSS
	f.Request = snapshot(req, res)
	return f
}

// snapshot captures the probe exchange for the report, response body
// truncated.
func snapshot(req *executor.Request, res *executor.Result) *finding.Snapshot {
	s := &finding.Snapshot{Method: req.Method, URL: req.URL}
	if len(req.Form) > 0 {
		s.Body = req.Form.Encode()
	}
	if res != nil && res.OK() {
		s.StatusCode = res.StatusCode
		s.Response = truncate(res.Body, snapshotLimit)
	}
	return s
}

func sortFindings(out []finding.Finding) []finding.Finding {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Parameter != out[j].Parameter {
			return out[i].Parameter < out[j].Parameter
		}
		return out[i].Strategy < out[j].Strategy
	})
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
