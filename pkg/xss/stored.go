package xss

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Rimaestro/vulnity-kp/pkg/crawler"
	"github.com/Rimaestro/vulnity-kp/pkg/executor"
	"github.com/Rimaestro/vulnity-kp/pkg/finding"
	"github.com/Rimaestro/vulnity-kp/pkg/payloads"
)

// testStored submits persistence probes through the target's POST
// forms and re-fetches the page to see whether the markup came back
// live. Fields run sequentially so one submission's re-fetch cannot
// pick up another's payload.
func (p *Plugin) testStored(ctx context.Context, target string) []finding.Finding {
	var out []finding.Finding
	for _, form := range p.opts.FormsFor(target) {
		if ctx.Err() != nil {
			break
		}
		if !strings.EqualFold(form.Method, http.MethodPost) {
			continue
		}
		names := make([]string, 0, len(form.Fields))
		for name := range form.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if ctx.Err() != nil {
				break
			}
			f, err := p.testStoredField(ctx, target, form, name)
			if err != nil {
				p.log.Debug("strategy aborted",
					slog.String("strategy", "stored"),
					slog.String("parameter", name),
					slog.Any("err", err))
				continue
			}
			if f == nil {
				continue
			}
			p.log.Info("cross-site scripting detected",
				slog.String("strategy", "stored"),
				slog.String("parameter", name),
				slog.String("url", target),
				slog.Float64("confidence", f.Confidence))
			out = append(out, *f)
		}
	}
	return out
}

// testStoredField plants each probe in one field, waits for the target
// to persist it, then fetches the page clean. The marker ties a hit on
// the re-fetch to this submission, so no pre-submit baseline is needed.
func (p *Plugin) testStoredField(ctx context.Context, target string, form crawler.Form, field string) (*finding.Finding, error) {
	threshold := p.opts.MinConfidence()
	if threshold < storedThreshold {
		threshold = storedThreshold
	}

	for _, probe := range p.storedProbes {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		marker := payloads.NewMarker()
		armed := probe.WithMarker(marker)

		submit := executor.InjectForm(form.Action, form.Method, form.Fields, field, armed.Value)
		sres := p.exec.Send(ctx, submit)
		if !sres.OK() {
			p.log.Debug("probe failed", slog.String("payload", probe.Name), slog.Any("err", sres.Err))
			continue
		}

		if p.storedWait > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.storedWait):
			}
		}

		res := p.exec.Send(ctx, executor.NewGet(target))
		if !res.OK() {
			p.log.Debug("re-fetch failed", slog.String("target", target), slog.Any("err", res.Err))
			continue
		}

		v := analyzeStored(res.Body, armed.Value, marker)
		if !v.Meets(threshold) {
			continue
		}
		pt := point{url: target, param: field, origin: executor.OriginForm, method: form.Method, fields: form.Fields}
		return p.emit(pt, finding.StrategyStored, probe.Risk, v,
			"Stored cross-site scripting", armed.Value, submit, res), nil
	}
	return nil, nil
}

// analyzeStored looks for the submitted markup, alive and unescaped,
// in the re-fetched page.
func analyzeStored(body, payload, marker string) finding.Verdict {
	if !strings.Contains(body, marker) {
		return finding.Verdict{}
	}
	core := executableCore(payload)
	idx := strings.Index(body, core)
	if idx < 0 {
		return finding.Verdict{}
	}
	return finding.Verdict{
		Vulnerable: true,
		Confidence: 0.9,
		Evidence: finding.Evidence{
			"marker":    marker,
			"persisted": excerpt(body, idx, len(core)),
		},
	}
}
