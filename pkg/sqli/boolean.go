package sqli

import (
	"context"
	"strings"

	"github.com/spaolacci/murmur3"

	"github.com/Rimaestro/vulnity-kp/pkg/executor"
	"github.com/Rimaestro/vulnity-kp/pkg/finding"
)

// testBooleanBased probes each quoting style with an AND-true/AND-false
// pair and an OR widening probe. The pair fires only when the two sides
// demonstrably render different pages; the OR probe fires on result-set
// growth alone.
func (p *Plugin) testBooleanBased(ctx context.Context, pt point, base *baseline) (*finding.Finding, error) {
	threshold := p.opts.MinConfidence()
	for _, pair := range p.boolPairs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		trueReq, trueRes, err := p.sendProbe(ctx, pt, pair.True)
		if err != nil {
			return nil, err
		}
		_, falseRes, err := p.sendProbe(ctx, pt, pair.False)
		if err != nil {
			return nil, err
		}
		if trueRes.OK() && falseRes.OK() {
			v := analyzeBooleanPair(base, trueRes, falseRes, pair.True, pair.False)
			if v.Meets(threshold) {
				v.Evidence["false_payload"] = pair.False
				return p.emit(pt, finding.StrategyBooleanBased, finding.High, v,
					"Boolean-based blind SQL injection", pair.True, trueReq, trueRes), nil
			}
		}

		orReq, orRes, err := p.sendProbe(ctx, pt, pair.Or)
		if err != nil {
			return nil, err
		}
		if orRes.OK() {
			v := analyzeBooleanOr(base, orRes, pair.Or)
			if v.Meets(threshold) {
				return p.emit(pt, finding.StrategyBooleanBased, finding.High, v,
					"Boolean-based blind SQL injection", pair.Or, orReq, orRes), nil
			}
		}
	}
	return nil, nil
}

// analyzeBooleanPair grades an AND-true/AND-false probe pair. The true
// side must track the baseline, the false side must collapse, and the
// two sides must differ for reasons other than a database error page.
// Lengths are taken with each probe's echo scrubbed out.
func analyzeBooleanPair(base *baseline, trueRes, falseRes *executor.Result, truePayload, falsePayload string) finding.Verdict {
	trueLen := scrubbedLen(trueRes.Body, truePayload)
	falseLen := scrubbedLen(falseRes.Body, falsePayload)
	if !pairDiffers(trueRes, falseRes, trueLen, falseLen) {
		return finding.Verdict{}
	}

	baseLen := base.length
	if baseLen == 0 {
		baseLen = 1
	}
	trueRatio := float64(trueLen) / float64(baseLen)
	falseRatio := float64(falseLen) / float64(baseLen)
	if trueRatio <= 0.8 || trueRatio >= 1.2 || falseRatio >= 0.5 {
		return finding.Verdict{}
	}

	return finding.Verdict{
		Vulnerable: true,
		Confidence: 0.7,
		Evidence: finding.Evidence{
			"baseline_length": base.length,
			"true_length":     trueLen,
			"false_length":    falseLen,
			"true_ratio":      trueRatio,
			"false_ratio":     falseRatio,
			"pair_similarity": wordOverlap(trueRes.Body, falseRes.Body),
		},
	}
}

// pairDiffers reports whether the true and false responses render
// different pages: not similar by fingerprint or vocabulary, and
// either a status change or a scrubbed length gap over 10 bytes that
// no database error explains.
func pairDiffers(trueRes, falseRes *executor.Result, trueLen, falseLen int) bool {
	if responsesSimilar(trueRes, falseRes) {
		return false
	}
	if trueRes.StatusCode != falseRes.StatusCode {
		return true
	}
	if absInt(trueLen-falseLen) <= 10 {
		return false
	}
	trueErr, _ := containsSQLError(trueRes.Body)
	falseErr, _ := containsSQLError(falseRes.Body)
	return !trueErr && !falseErr
}

// analyzeBooleanOr grades the OR widening probe: a page that grows by
// half is the result set opening up, a smaller absolute increase is a
// weaker echo of the same effect. Growth is measured with the probe's
// echo scrubbed out.
func analyzeBooleanOr(base *baseline, orRes *executor.Result, payload string) finding.Verdict {
	orLen := scrubbedLen(orRes.Body, payload)
	baseLen := base.length
	if baseLen == 0 {
		baseLen = 1
	}
	ratio := float64(orLen) / float64(baseLen)
	increase := orLen - base.length

	ev := finding.Evidence{
		"baseline_length": base.length,
		"or_length":       orLen,
		"length_ratio":    ratio,
	}
	switch {
	case ratio > 1.5:
		ev["signal"] = "length-ratio"
		return finding.Verdict{Vulnerable: true, Confidence: 0.8, Evidence: ev}
	case increase > 10:
		ev["signal"] = "length-increase"
		ev["length_increase"] = increase
		return finding.Verdict{Vulnerable: true, Confidence: 0.7, Evidence: ev}
	}
	return finding.Verdict{}
}

// scrubbedLen is the body length with the probe's echo removed.
func scrubbedLen(body, payload string) int {
	return len(scrubReflection(strings.ToLower(body), payload))
}

// responsesSimilar reports whether two responses render the same page:
// same status, body length within 50 bytes, and either identical
// fingerprints or a word-set overlap above 0.8.
func responsesSimilar(a, b *executor.Result) bool {
	if a.StatusCode != b.StatusCode {
		return false
	}
	if absInt(a.BodyLen()-b.BodyLen()) > 50 {
		return false
	}
	if murmur3.Sum32([]byte(a.Body)) == murmur3.Sum32([]byte(b.Body)) {
		return true
	}
	return wordOverlap(a.Body, b.Body) > 0.8
}

// wordOverlap computes |A∩B| / max(|A|,|B|,1) over the word sets of
// two bodies. 1.0 means identical vocabulary, 0 disjoint.
func wordOverlap(a, b string) float64 {
	wordsA := fieldSet(a)
	wordsB := fieldSet(b)

	common := 0
	for w := range wordsA {
		if wordsB[w] {
			common++
		}
	}
	denom := len(wordsA)
	if len(wordsB) > denom {
		denom = len(wordsB)
	}
	if denom == 0 {
		denom = 1
	}
	return float64(common) / float64(denom)
}

func fieldSet(s string) map[string]bool {
	set := make(map[string]bool, 64)
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}
