package sqli

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Rimaestro/vulnity-kp/pkg/executor"
	"github.com/Rimaestro/vulnity-kp/pkg/finding"
	"github.com/Rimaestro/vulnity-kp/pkg/regexcache"
)

// Markers a successful UNION SELECT prints into the page.
var unionIndicators = []string{
	"mysql",
	"version()",
	"database()",
	"user()",
	"information_schema",
	"table_name",
	"column_name",
}

// Version strings leaked by metadata probes, e.g. "8.0.36-MariaDB".
var versionPatterns = []*regexp.Regexp{
	regexcache.MustGet(`\d+\.\d+\.\d+`),
	regexcache.MustGet(`(?i)mariadb`),
	regexcache.MustGet(`(?i)mysql`),
}

// testUnionBased walks the UNION probe ladder: NULL column counting
// first, then the metadata disclosure variants. Leaked metadata
// confirms immediately; a bare response shift stays a weak signal.
func (p *Plugin) testUnionBased(ctx context.Context, pt point, base *baseline) (*finding.Finding, error) {
	for _, probe := range p.unionProbes {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		req, res, err := p.sendProbe(ctx, pt, probe.Value)
		if err != nil {
			return nil, err
		}
		if !res.OK() {
			p.log.Debug("probe failed", slog.String("payload", probe.Name), slog.Any("err", res.Err))
			continue
		}
		v := analyzeUnion(base, res, probe.Value)
		if !v.Meets(p.opts.MinConfidence()) {
			continue
		}
		return p.emit(pt, finding.StrategyUnionBased, probe.Risk, v,
			"Union-based SQL injection", probe.Value, req, res), nil
	}
	return nil, nil
}

// analyzeUnion grades one UNION probe response. Every check runs on a
// body with the probe's own reflection scrubbed out, and the leak
// markers must be absent from the baseline, so an echoing page cannot
// confirm itself.
func analyzeUnion(base *baseline, res *executor.Result, payload string) finding.Verdict {
	scrubbed := scrubReflection(strings.ToLower(res.Body), payload)
	baseLower := strings.ToLower(base.body)

	var leaked []string
	for _, indicator := range unionIndicators {
		if strings.Contains(scrubbed, indicator) && !strings.Contains(baseLower, indicator) {
			leaked = append(leaked, indicator)
		}
	}
	for _, re := range versionPatterns {
		if re.MatchString(scrubbed) && !re.MatchString(baseLower) {
			leaked = append(leaked, "version pattern "+re.String())
		}
	}
	if len(leaked) > 0 {
		return finding.Verdict{
			Vulnerable: true,
			Confidence: 0.9,
			Evidence:   finding.Evidence{"leaked_markers": leaked},
		}
	}

	lengthDiff := absInt(len(scrubbed) - base.length)
	statusChanged := res.StatusCode != base.status
	nullPadding := strings.Contains(scrubbed, "null") && !strings.Contains(baseLower, "null")
	if lengthDiff > 20 || statusChanged || nullPadding {
		return finding.Verdict{
			Vulnerable: true,
			Confidence: 0.6,
			Evidence: finding.Evidence{
				"length_difference": lengthDiff,
				"status_changed":    statusChanged,
				"null_padding":      nullPadding,
			},
		}
	}
	return finding.Verdict{}
}
