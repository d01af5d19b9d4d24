// Package sqli implements the SQL injection scanner plugin. Four
// strategies run per parameter: error-based, boolean-blind, UNION and
// time-based. Each compares probe responses against a clean baseline
// of the same endpoint and emits at most one finding per parameter.
package sqli

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Rimaestro/vulnity-kp/pkg/evasion"
	"github.com/Rimaestro/vulnity-kp/pkg/executor"
	"github.com/Rimaestro/vulnity-kp/pkg/finding"
	"github.com/Rimaestro/vulnity-kp/pkg/payloads"
	"github.com/Rimaestro/vulnity-kp/pkg/plugin"
	"github.com/Rimaestro/vulnity-kp/pkg/scope"
	"github.com/Rimaestro/vulnity-kp/pkg/workerpool"
)

func init() {
	plugin.Register("sqli", func() plugin.Scanner { return New() })
}

// snapshotLimit bounds the response body captured in finding snapshots.
const snapshotLimit = 2048

const remediation = "Use prepared statements and parameterized queries. " +
	"Never build SQL queries by concatenating user input."

// Plugin is the SQL injection scanner. One instance serves one scan:
// Setup wires the executor, tamper chain and probe set, Scan walks a
// target's parameters.
type Plugin struct {
	mu    sync.Mutex
	ready bool

	opts   plugin.Options
	log    *slog.Logger
	exec   *executor.Executor
	pool   *workerpool.Pool
	tamper evasion.Tamper

	errorProbes []payloads.Payload
	unionProbes []payloads.Payload
	timeProbes  []payloads.Payload
	aggressive  []payloads.Payload
	boolPairs   []payloads.BoolPair
	baseDelay   time.Duration
}

// New returns an unconfigured plugin. Call Setup before Scan.
func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "sqli" }

func (p *Plugin) Description() string {
	return "SQL injection scanner: error-based, boolean-blind, UNION and time-based detection"
}

// Setup builds the executor and probe set from the scan options. Safe
// to call more than once; only the first call after New or Cleanup
// takes effect.
func (p *Plugin) Setup(opts plugin.Options) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready {
		return nil
	}

	log := opts.Log().With(slog.String("plugin", "sqli"))
	exec, err := executor.New(opts.Executor, executor.WithLogger(log))
	if err != nil {
		return fmt.Errorf("sqli: executor: %w", err)
	}

	var tamper evasion.Tamper
	if len(opts.Evasion) > 0 {
		tamper, err = evasion.Chain(opts.Evasion...)
		if err != nil {
			return fmt.Errorf("sqli: evasion chain: %w", err)
		}
	}

	delay := opts.BaseDelay
	if delay <= 0 {
		delay = payloads.DefaultSleepSeconds * time.Second
	}
	delaySec := int(delay / time.Second)
	catalog := payloads.NewCatalog(payloads.CatalogConfig{
		UnionColumns: opts.UnionColumns,
		SleepSeconds: delaySec,
	})

	p.opts = opts
	p.log = log
	p.exec = exec
	p.tamper = tamper
	p.errorProbes = p.filterDialect(catalog.ForStrategy(finding.StrategyErrorBased))
	p.unionProbes = p.filterDialect(catalog.ForStrategy(finding.StrategyUnionBased))
	p.timeProbes = p.filterDialect(catalog.ForStrategy(finding.StrategyTimeBased))
	p.boolPairs = payloads.BooleanPairs()
	if opts.Aggressive {
		p.aggressive = payloads.AggressiveTimeProbes(delaySec)
	}
	p.baseDelay = delay
	p.pool = workerpool.New(opts.Concurrency)
	p.ready = true
	return nil
}

// filterDialect narrows probes to the configured backend family when
// one is known. Generic probes always stay.
func (p *Plugin) filterDialect(in []payloads.Payload) []payloads.Payload {
	d := p.opts.Dialect
	if d == "" || d == payloads.DialectGeneric {
		return in
	}
	out := make([]payloads.Payload, 0, len(in))
	for _, probe := range in {
		if probe.Dialect == d || probe.Dialect == payloads.DialectGeneric {
			out = append(out, probe)
		}
	}
	return out
}

// Scan enumerates the target's query parameters plus any crawled forms
// posting to it, then runs every strategy against each injection
// point. Single-probe failures are logged and skipped; the error
// return covers unusable targets and cancellation only.
func (p *Plugin) Scan(ctx context.Context, target string) ([]finding.Finding, error) {
	p.mu.Lock()
	ready := p.ready
	p.mu.Unlock()
	if !ready {
		return nil, fmt.Errorf("sqli: scan before setup")
	}

	points, err := p.collectPoints(target)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		p.log.Debug("no injectable parameters", slog.String("target", target))
		return nil, nil
	}
	p.log.Info("testing target",
		slog.String("target", target),
		slog.Int("parameters", len(points)))

	var (
		mu  sync.Mutex
		out []finding.Finding
	)
	poolErr := p.pool.ForEach(ctx, len(points), func(i int) {
		found := p.testPoint(ctx, points[i])
		if len(found) == 0 {
			return
		}
		mu.Lock()
		out = append(out, found...)
		mu.Unlock()
	})

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Parameter != out[j].Parameter {
			return out[i].Parameter < out[j].Parameter
		}
		return out[i].Strategy < out[j].Strategy
	})
	return out, poolErr
}

// Cleanup releases the worker pool. Multi-call safe; a later Setup
// rebuilds the plugin.
func (p *Plugin) Cleanup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
	p.ready = false
	return nil
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
		return nil, fmt.Errorf("sqli: parse target: %w", err)
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

// baseline is the clean response strategies grade against.
type baseline struct {
	status int
	body   string
	length int
}

func (p *Plugin) fetchBaseline(ctx context.Context, pt point) (*baseline, error) {
	res := p.exec.Send(ctx, pt.plainRequest())
	if !res.OK() {
		return nil, fmt.Errorf("sqli: baseline for %s: %w", pt.param, res.Err)
	}
	return &baseline{status: res.StatusCode, body: res.Body, length: res.BodyLen()}, nil
}

// testPoint runs every strategy against one parameter. Each strategy
// stops at its first confirmed payload, so a parameter yields at most
// one finding per strategy.
func (p *Plugin) testPoint(ctx context.Context, pt point) []finding.Finding {
	base, err := p.fetchBaseline(ctx, pt)
	if err != nil {
		p.log.Debug("baseline failed",
			slog.String("parameter", pt.param),
			slog.String("url", pt.url),
			slog.Any("err", err))
		return nil
	}

	strategies := []struct {
		name string
		run  func(context.Context, point, *baseline) (*finding.Finding, error)
	}{
		{"error-based", p.testErrorBased},
		{"boolean-based", p.testBooleanBased},
		{"union-based", p.testUnionBased},
		{"time-based", p.testTimeBased},
	}

	var out []finding.Finding
	for _, s := range strategies {
		if ctx.Err() != nil {
			break
		}
		f, err := s.run(ctx, pt, base)
		if err != nil {
			p.log.Debug("strategy aborted",
				slog.String("strategy", s.name),
				slog.String("parameter", pt.param),
				slog.Any("err", err))
			continue
		}
		if f != nil {
			p.log.Info("sql injection detected",
				slog.String("strategy", s.name),
				slog.String("parameter", pt.param),
				slog.String("url", pt.url),
				slog.Float64("confidence", f.Confidence))
			out = append(out, *f)
		}
	}
	return out
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
				return nil, fmt.Errorf("sqli: tamper: %w", err)
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
			return nil, fmt.Errorf("sqli: tamper: %w", err)
		}
		return executor.InjectQueryRaw(pt.url, pt.param, encoded, payload)
	}
	return executor.InjectQuery(pt.url, pt.param, payload)
}

// plainRequest rebuilds the point with its original value, for
// baselines.
func (pt point) plainRequest() *executor.Request {
	if pt.origin == executor.OriginForm {
		req := executor.InjectForm(pt.url, pt.method, pt.fields, pt.param, pt.fields.Get(pt.param))
		req.Payload = ""
		return req
	}
	return executor.NewGet(pt.url)
}

// emit fills the endpoint fields of a confirmed verdict.
func (p *Plugin) emit(pt point, strategy finding.Strategy, severity finding.Severity,
	v finding.Verdict, title, payload string, req *executor.Request, res *executor.Result) *finding.Finding {

	f := finding.New(finding.ClassSQLi, strategy, severity, v.Confidence)
	f.Title = title
	f.Description = fmt.Sprintf("%s in parameter %q", title, pt.param)
	f.URL = pt.url
	f.Parameter = pt.param
	f.Method = req.Method
	f.Payload = payload
	f.Evidence = v.Evidence
	f.Remediation = remediation
	f.CWE = payloads.CWESQLi
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

// scrubReflection removes the probe's own echo, raw and HTML-escaped,
// from a lowercased body so content checks see the page rather than
// the payload.
func scrubReflection(lowerBody, payload string) string {
	out := strings.ReplaceAll(lowerBody, strings.ToLower(payload), "")
	return strings.ReplaceAll(out, strings.ToLower(html.EscapeString(payload)), "")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
