package xss

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Rimaestro/vulnity-kp/pkg/finding"
	"github.com/Rimaestro/vulnity-kp/pkg/payloads"
	"github.com/Rimaestro/vulnity-kp/pkg/regexcache"
)

// excerptContext is how much surrounding page text evidence excerpts
// keep on each side of a match.
const excerptContext = 100

// testReflected sends each reflected probe with a fresh marker and
// grades the immediate response. The first probe whose marker lands in
// executable position wins.
func (p *Plugin) testReflected(ctx context.Context, pt point) (*finding.Finding, error) {
	for _, probe := range p.reflectedProbes {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		marker := payloads.NewMarker()
		armed := probe.WithMarker(marker)
		req, res, err := p.sendProbe(ctx, pt, armed.Value)
		if err != nil {
			return nil, err
		}
		if !res.OK() {
			p.log.Debug("probe failed", slog.String("payload", probe.Name), slog.Any("err", res.Err))
			continue
		}
		v := analyzeReflected(res.Body, armed.Value, marker, probe.Context)
		if !v.Meets(p.opts.MinConfidence()) {
			continue
		}
		return p.emit(pt, finding.StrategyReflected, probe.Risk, v,
			"Reflected cross-site scripting", armed.Value, req, res), nil
	}
	return nil, nil
}

// analyzeReflected decides whether a probe landed executable. Plain
// reflection is never enough: the page must carry the unescaped markup
// or code the probe planted, in the position its context needs, so
// HTML-escaped echoes and text-only reflections stay clean.
func analyzeReflected(body, payload, marker string, pctx payloads.Context) finding.Verdict {
	// The marker is plain alphanumerics and survives HTML escaping, so
	// its absence rules out any reflection of this probe.
	if !strings.Contains(body, marker) {
		return finding.Verdict{}
	}

	switch pctx {
	case payloads.ContextHTML:
		// The planted element must appear verbatim. Escaping any of
		// its angle brackets breaks the match.
		core := executableCore(payload)
		if idx := strings.Index(body, core); idx >= 0 {
			return reflectedVerdict(0.9, pctx, marker, excerpt(body, idx, len(core)))
		}
	case payloads.ContextAttribute:
		// The handler with its quote must survive; an escaped quote
		// turns the needle's inner `"` into `&quot;` and kills it.
		core := executableCore(payload)
		if idx := strings.Index(body, core); idx >= 0 {
			return reflectedVerdict(0.8, pctx, marker, excerpt(body, idx, len(core)))
		}
	case payloads.ContextJavaScript:
		// The call must sit inside an open script element, otherwise
		// the string break landed in inert text.
		needle := `alert("` + marker + `")`
		if idx := strings.Index(body, needle); idx >= 0 && scriptEnclosed(body, idx) {
			return reflectedVerdict(0.8, pctx, marker, excerpt(body, idx, len(needle)))
		}
	case payloads.ContextURL:
		// The scheme only runs when it became a URL attribute value.
		if idx := strings.Index(body, payload); idx >= 0 && urlAttrPosition(body, idx) {
			return reflectedVerdict(0.7, pctx, marker, excerpt(body, idx, len(payload)))
		}
	}
	return finding.Verdict{}
}

func reflectedVerdict(confidence float64, pctx payloads.Context, marker, reflected string) finding.Verdict {
	return finding.Verdict{
		Vulnerable: true,
		Confidence: confidence,
		Evidence: finding.Evidence{
			"context":   string(pctx),
			"marker":    marker,
			"reflected": reflected,
		},
	}
}

// breakoutPrefixes are the context-escape openers probes carry, longest
// match first. The detection needle is what remains after the opener,
// since that part must land unescaped to execute.
var breakoutPrefixes = []string{`'">`, `</script>`, `">`, `'>`, `" `, `' `}

// executableCore strips a probe's breakout prefix, leaving the markup
// or handler that has to survive output encoding.
func executableCore(payload string) string {
	for _, prefix := range breakoutPrefixes {
		if strings.HasPrefix(payload, prefix) {
			return payload[len(prefix):]
		}
	}
	return payload
}

// scriptEnclosed reports whether idx falls inside an open <script>
// element: an opening tag before it with no closing tag in between.
func scriptEnclosed(body string, idx int) bool {
	before := strings.ToLower(body[:idx])
	open := strings.LastIndex(before, "<script")
	if open < 0 {
		return false
	}
	return !strings.Contains(before[open:], "</script>")
}

var urlAttrPattern = regexcache.MustGet(`(?i)(href|src|action|formaction|data)\s*=\s*["']?\s*$`)

// urlAttrPosition reports whether the match at idx starts a URL
// attribute value, where a javascript: scheme runs on use.
func urlAttrPosition(body string, idx int) bool {
	start := idx - 32
	if start < 0 {
		start = 0
	}
	return urlAttrPattern.MatchString(body[start:idx])
}

// excerpt returns the matched region with surrounding page context.
func excerpt(body string, idx, length int) string {
	start := idx - excerptContext
	if start < 0 {
		start = 0
	}
	end := idx + length + excerptContext
	if end > len(body) {
		end = len(body)
	}
	return body[start:end]
}
