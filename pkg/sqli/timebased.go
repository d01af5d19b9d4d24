package sqli

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Rimaestro/vulnity-kp/pkg/executor"
	"github.com/Rimaestro/vulnity-kp/pkg/finding"
)

// timingBaseline is the response-time profile of the untouched
// endpoint.
type timingBaseline struct {
	mean      time.Duration
	stddev    time.Duration
	threshold time.Duration
}

// measureTiming samples the plain endpoint three times and derives the
// detection threshold: mean + 3 sigma + the injected delay.
func (p *Plugin) measureTiming(ctx context.Context, pt point) (*timingBaseline, error) {
	const samples = 3
	durations := make([]time.Duration, 0, samples)
	for i := 0; i < samples; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		res := p.exec.Send(ctx, pt.plainRequest())
		if !res.OK() {
			return nil, fmt.Errorf("sqli: timing baseline for %s: %w", pt.param, res.Err)
		}
		durations = append(durations, res.Duration)
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	mean := sum / samples

	var variance float64
	for _, d := range durations {
		diff := float64(d - mean)
		variance += diff * diff
	}
	stddev := time.Duration(math.Sqrt(variance / samples))

	return &timingBaseline{
		mean:      mean,
		stddev:    stddev,
		threshold: mean + 3*stddev + p.baseDelay,
	}, nil
}

// testTimeBased measures a per-parameter timing baseline, then walks
// the delay probes. A hit needs two sequential requests both past the
// threshold; the aggressive fallbacks get one unverified shot when
// every standard probe stays quiet.
func (p *Plugin) testTimeBased(ctx context.Context, pt point, base *baseline) (*finding.Finding, error) {
	timing, err := p.measureTiming(ctx, pt)
	if err != nil {
		return nil, err
	}
	p.log.Debug("timing baseline",
		slog.String("parameter", pt.param),
		slog.Duration("mean", timing.mean),
		slog.Duration("stddev", timing.stddev),
		slog.Duration("threshold", timing.threshold))

	for _, probe := range p.timeProbes {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		req, res, err := p.sendProbe(ctx, pt, probe.Value)
		if err != nil {
			return nil, err
		}
		elapsed, usable := probeElapsed(res)
		if !usable || elapsed < timing.threshold {
			continue
		}

		// Anti-flake verification: the same probe must stall again.
		_, verify, err := p.sendProbe(ctx, pt, probe.Value)
		if err != nil {
			return nil, err
		}
		confirm, usable := probeElapsed(verify)
		if !usable || confirm < timing.threshold {
			continue
		}

		slower := elapsed
		if confirm < slower {
			slower = confirm
		}
		v := timeVerdict(timing, slower, true)
		if !v.Meets(p.opts.MinConfidence()) {
			continue
		}
		return p.emit(pt, finding.StrategyTimeBased, probe.Risk, v,
			"Time-based blind SQL injection", probe.Value, req, res), nil
	}

	for _, probe := range p.aggressive {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		req, res, err := p.sendProbe(ctx, pt, probe.Value)
		if err != nil {
			return nil, err
		}
		elapsed, usable := probeElapsed(res)
		if !usable || elapsed < timing.threshold {
			continue
		}
		v := timeVerdict(timing, elapsed, false)
		if !v.Meets(p.opts.MinConfidence()) {
			continue
		}
		return p.emit(pt, finding.StrategyTimeBased, probe.Risk, v,
			"Time-based blind SQL injection", probe.Value, req, res), nil
	}
	return nil, nil
}

// probeElapsed returns a usable duration for a delay probe. A timeout
// is a delay signal, not a failure.
func probeElapsed(res *executor.Result) (time.Duration, bool) {
	switch res.Outcome {
	case executor.OutcomeOK, executor.OutcomeTimeout:
		return res.Duration, true
	default:
		return 0, false
	}
}

// timeVerdict grades a confirmed delay by how far past the baseline
// mean the response landed.
func timeVerdict(timing *timingBaseline, elapsed time.Duration, verified bool) finding.Verdict {
	overshoot := elapsed - timing.mean
	confidence := 0.5
	switch {
	case overshoot > 4*time.Second:
		confidence = 0.9
	case overshoot > 2*time.Second:
		confidence = 0.7
	}
	return finding.Verdict{
		Vulnerable: true,
		Confidence: confidence,
		Evidence: finding.Evidence{
			"baseline_mean_ms": timing.mean.Milliseconds(),
			"stddev_ms":        timing.stddev.Milliseconds(),
			"threshold_ms":     timing.threshold.Milliseconds(),
			"elapsed_ms":       elapsed.Milliseconds(),
			"overshoot_ms":     overshoot.Milliseconds(),
			"verified":         verified,
		},
	}
}
