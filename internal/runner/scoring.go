package runner

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/heikkila-labs/triagepilot/internal/config"
)

// Confidence parsing is a heuristic over free-form sub-agent output;
// absence is a neutral signal, never a failure.
var (
	confidencePercentRe = regexp.MustCompile(`(?i)confidence:\s*(\d+(?:\.\d+)?)%`)
	confidencePlainRe   = regexp.MustCompile(`(?i)confidence:\s*(\d+(?:\.\d+)?)`)
	confidenceScoreRe   = regexp.MustCompile(`(?i)confidence\s+score:\s*(\d+(?:\.\d+)?)`)
)

// ParseConfidence extracts a confidence value in [0,1] from free-form
// output, trying the documented patterns in order. The first hit wins.
func ParseConfidence(output string) *float64 {
	for _, re := range []*regexp.Regexp{confidencePercentRe, confidencePlainRe, confidenceScoreRe} {
		m := re.FindStringSubmatch(output)
		if len(m) != 2 {
			continue
		}
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		if value > 1 {
			value /= 100
		}
		return &value
	}
	return nil
}

// ScoreResult computes the weighted overall_score for a single
// IterationResult per §4.2c.
func ScoreResult(result IterationResult, weights config.ScoreWeights, penalties config.ScorePenalties) float64 {
	if !result.Success {
		if strings.Contains(strings.ToLower(result.Error), "timeout") {
			return 1 - penalties.Timeout
		}
		return 1 - penalties.Error
	}

	type weighted struct {
		value  float64
		weight float64
	}
	var parts []weighted

	if result.Metrics.Confidence != nil {
		parts = append(parts, weighted{*result.Metrics.Confidence, weights.Confidence})
	}
	if result.Metrics.Completeness != nil {
		parts = append(parts, weighted{*result.Metrics.Completeness, weights.Completeness})
	}
	if result.Metrics.CodeQuality != nil {
		parts = append(parts, weighted{*result.Metrics.CodeQuality, weights.CodeQuality})
	}
	if result.Metrics.Responsiveness != nil {
		parts = append(parts, weighted{*result.Metrics.Responsiveness, weights.Responsiveness})
	}

	speedBonus := clamp01(1 - float64(result.DurationMs)/300000)
	parts = append(parts, weighted{speedBonus, weights.Speed})

	costBonus := clamp01(1 - result.Usage.EstimatedCost/0.5)
	parts = append(parts, weighted{costBonus, weights.Cost})

	var sumValue, sumWeight float64
	for _, p := range parts {
		sumValue += p.value * p.weight
		sumWeight += p.weight
	}
	if sumWeight == 0 {
		return 0
	}
	return clamp01(sumValue / sumWeight)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
