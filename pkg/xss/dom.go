package xss

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Rimaestro/vulnity-kp/pkg/executor"
	"github.com/Rimaestro/vulnity-kp/pkg/finding"
	"github.com/Rimaestro/vulnity-kp/pkg/payloads"
)

// domQueryParam is the query parameter the probes ride on. Pages with
// client-side URL handling conventionally read it, and injecting a new
// parameter leaves the target's own ones untouched.
const domQueryParam = "default"

// domSinks are client-side write targets. One of these in page script
// means attacker-reachable data can become markup or code.
var domSinks = []string{
	"document.write",
	"innerhtml",
	"outerhtml",
	"insertadjacenthtml",
	"eval(",
}

// domSources are the URL-derived reads that feed those sinks.
var domSources = []string{
	"location.hash",
	"location.search",
	"document.location",
	"window.location",
	"document.url",
	"document.referrer",
}

// testDOM probes the page's client-side handling of the URL. Two
// vectors: the fragment, which never reaches the server, and a query
// parameter the page may mirror into the DOM. Both need a sink/source
// pair in the page script; the query vector also needs the payload
// echoed raw, and a headless run upgrades either to near-certainty.
func (p *Plugin) testDOM(ctx context.Context, target string) []finding.Finding {
	if ctx.Err() != nil || len(p.domProbes) == 0 {
		return nil
	}

	res := p.exec.Send(ctx, executor.NewGet(target))
	if !res.OK() {
		p.log.Debug("dom page fetch failed",
			slog.String("target", target),
			slog.Any("err", res.Err))
		return nil
	}
	sinks, sources := domIndicators(res.Body)
	if len(sinks) == 0 || len(sources) == 0 {
		return nil
	}

	var out []finding.Finding
	if f := p.testDOMFragment(ctx, target, res, sinks, sources); f != nil {
		p.logDOMHit(f)
		out = append(out, *f)
	}
	if f := p.testDOMQuery(ctx, target, sinks, sources); f != nil {
		p.logDOMHit(f)
		out = append(out, *f)
	}
	return out
}

func (p *Plugin) logDOMHit(f *finding.Finding) {
	p.log.Info("cross-site scripting detected",
		slog.String("strategy", "dom-based"),
		slog.String("parameter", f.Parameter),
		slog.String("url", f.URL),
		slog.Float64("confidence", f.Confidence))
}

// domIndicators returns the sink and source markers present in the
// page, for the evidence record.
func domIndicators(body string) (sinks, sources []string) {
	lower := strings.ToLower(body)
	for _, s := range domSinks {
		if strings.Contains(lower, s) {
			sinks = append(sinks, s)
		}
	}
	for _, s := range domSources {
		if strings.Contains(lower, s) {
			sources = append(sources, s)
		}
	}
	return sinks, sources
}

// testDOMFragment emits the pattern-level finding for the fragment
// vector. The fragment never reaches the server, so the probes are
// indistinguishable over HTTP and one finding covers them; a headless
// browser, when wired, tries each probe for a live dialog.
func (p *Plugin) testDOMFragment(ctx context.Context, target string, pageRes *executor.Result, sinks, sources []string) *finding.Finding {
	marker := payloads.NewMarker()
	armed := p.domProbes[0].WithMarker(marker)

	v := finding.Verdict{
		Vulnerable: true,
		Confidence: 0.6,
		Evidence: finding.Evidence{
			"vector":  "fragment",
			"sinks":   sinks,
			"sources": sources,
		},
	}

	if p.verifier != nil {
		for _, probe := range p.domProbes {
			if ctx.Err() != nil {
				break
			}
			m := payloads.NewMarker()
			a := probe.WithMarker(m)
			fired, err := p.verifier.Verify(ctx, target+"#"+a.Value, m)
			if err != nil {
				p.log.Debug("headless verify unavailable", slog.Any("err", err))
				break
			}
			if fired {
				marker, armed = m, a
				v.Confidence = 0.95
				v.Evidence["headless_verified"] = true
				break
			}
		}
	}
	v.Evidence["marker"] = marker

	if !v.Meets(p.opts.MinConfidence()) {
		return nil
	}

	req := executor.NewGet(target + "#" + armed.Value)
	req.Payload = armed.Value
	pt := point{url: target, param: "fragment"}
	f := p.emit(pt, finding.StrategyDOMBased, armed.Risk, v,
		"DOM-based cross-site scripting", armed.Value, req, pageRes)
	f.Description = "DOM-based cross-site scripting reachable through the URL fragment"
	return f
}

// testDOMQuery sends each probe in the mirror parameter and requires
// the raw payload back in the body on top of the sink/source pair, so
// the query vector confirms an actual flow rather than repeating the
// fragment vector's pattern signal.
func (p *Plugin) testDOMQuery(ctx context.Context, target string, sinks, sources []string) *finding.Finding {
	for _, probe := range p.domProbes {
		if ctx.Err() != nil {
			return nil
		}
		marker := payloads.NewMarker()
		armed := probe.WithMarker(marker)
		req, err := executor.InjectQuery(target, domQueryParam, armed.Value)
		if err != nil {
			p.log.Debug("dom probe build failed", slog.Any("err", err))
			return nil
		}
		res := p.exec.Send(ctx, req)
		if !res.OK() {
			p.log.Debug("probe failed", slog.String("payload", probe.Name), slog.Any("err", res.Err))
			continue
		}
		idx := strings.Index(res.Body, armed.Value)
		if idx < 0 {
			continue
		}

		v := finding.Verdict{
			Vulnerable: true,
			Confidence: 0.8,
			Evidence: finding.Evidence{
				"vector":  "query",
				"marker":  marker,
				"sinks":   sinks,
				"sources": sources,
				"echoed":  excerpt(res.Body, idx, len(armed.Value)),
			},
		}
		if p.verifier != nil {
			fired, verr := p.verifier.Verify(ctx, req.URL, marker)
			if verr != nil {
				p.log.Debug("headless verify unavailable", slog.Any("err", verr))
			} else if fired {
				v.Confidence = 0.95
				v.Evidence["headless_verified"] = true
			}
		}
		if !v.Meets(p.opts.MinConfidence()) {
			return nil
		}

		pt := point{url: target, param: domQueryParam, origin: executor.OriginQuery}
		f := p.emit(pt, finding.StrategyDOMBased, armed.Risk, v,
			"DOM-based cross-site scripting", armed.Value, req, res)
		f.Description = "DOM-based cross-site scripting through a mirrored query parameter"
		return f
	}
	return nil
}
