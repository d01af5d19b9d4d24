package sqli

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Rimaestro/vulnity-kp/pkg/executor"
	"github.com/Rimaestro/vulnity-kp/pkg/finding"
)

// testErrorBased sends syntax-breaking probes and grades each response
// against the baseline. The first probe clearing the confidence floor
// wins.
func (p *Plugin) testErrorBased(ctx context.Context, pt point, base *baseline) (*finding.Finding, error) {
	for _, probe := range p.errorProbes {
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
		v := analyzeError(base, res, probe.Value)
		if !v.Meets(p.opts.MinConfidence()) {
			continue
		}
		return p.emit(pt, finding.StrategyErrorBased, probe.Risk, v,
			"Error-based SQL injection", probe.Value, req, res), nil
	}
	return nil, nil
}

// analyzeError grades one probe response. Signals, strongest first: a
// database error signature, a fresh 5xx status, a SQL keyword absent
// from the baseline, a body length shift over 50 bytes. The keyword
// and length checks run on a body with the probe's echo scrubbed out,
// so pages that merely reflect the payload do not confirm themselves.
func analyzeError(base *baseline, res *executor.Result, payload string) finding.Verdict {
	if ok, evidence := containsSQLError(res.Body); ok {
		return finding.Verdict{
			Vulnerable: true,
			Confidence: 0.9,
			Evidence: finding.Evidence{
				"matched_error": evidence,
				"dialect":       string(identifyDialect(res.Body)),
			},
		}
	}

	if res.StatusCode != base.status && res.StatusCode >= 500 {
		return finding.Verdict{
			Vulnerable: true,
			Confidence: 0.7,
			Evidence: finding.Evidence{
				"baseline_status": base.status,
				"probe_status":    res.StatusCode,
			},
		}
	}

	scrubbed := scrubReflection(strings.ToLower(res.Body), payload)
	baseLower := strings.ToLower(base.body)
	for _, indicator := range sqlIndicators {
		if strings.Contains(scrubbed, indicator) && !strings.Contains(baseLower, indicator) {
			return finding.Verdict{
				Vulnerable: true,
				Confidence: 0.6,
				Evidence:   finding.Evidence{"sql_indicator": indicator},
			}
		}
	}

	if delta := absInt(len(scrubbed) - base.length); delta > 50 {
		return finding.Verdict{
			Vulnerable: true,
			Confidence: 0.5,
			Evidence: finding.Evidence{
				"baseline_length": base.length,
				"probe_length":    len(scrubbed),
				"length_delta":    delta,
			},
		}
	}
	return finding.Verdict{}
}
