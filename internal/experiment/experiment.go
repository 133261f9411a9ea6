// Package experiment implements deterministic A/B variant assignment,
// exposure/outcome accounting, and graduation, persisted one JSON document
// per agent.
package experiment

import (
	"hash/fnv"
	"strings"
)

// Variant is one arm of an Experiment.
type Variant struct {
	ID          string `json:"id"`
	Instruction string `json:"instruction"`
}

// Experiment is a single A/B test definition plus its live metrics.
type Experiment struct {
	ID                string    `json:"id"`
	Variants          []Variant `json:"variants"`
	TrafficAllocation float64   `json:"traffic_allocation"`
	Active            bool      `json:"active"`
	WinningVariant    string    `json:"winning_variant,omitempty"`
}

// VariantMetrics tracks one variant's observed outcomes.
type VariantMetrics struct {
	Exposures     int     `json:"exposures"`
	PositiveCount int     `json:"positive_count"`
	NegativeCount int     `json:"negative_count"`
	SuccessRate   float64 `json:"success_rate"`
	Confidence    float64 `json:"confidence"`
}

// Assignment records one (experiment, session) bucketing decision.
type Assignment struct {
	ExperimentID string `json:"experiment_id"`
	SessionKey   string `json:"session_key"`
	VariantID    string `json:"variant_id"`
}

// stableHash combines session_key and experiment id into a deterministic
// 32-bit hash, normalized to [0,1).
func stableHash(sessionKey, experimentID string) float64 {
	h := fnv.New32a()
	h.Write([]byte(sessionKey))
	h.Write([]byte{0})
	h.Write([]byte(experimentID))
	return float64(h.Sum32()) / float64(1<<32)
}

// Assign buckets sessionKey into one of exp's variants, or returns nil if
// the session falls outside traffic_allocation. Deterministic: identical
// inputs always produce the identical variant, across processes.
func Assign(exp Experiment, sessionKey string) *Variant {
	if len(exp.Variants) == 0 {
		return nil
	}
	h := stableHash(sessionKey, exp.ID)
	if h >= exp.TrafficAllocation {
		return nil
	}
	idx := int(h * float64(len(exp.Variants)))
	if idx >= len(exp.Variants) {
		idx = len(exp.Variants) - 1
	}
	v := exp.Variants[idx]
	return &v
}

// RecordAssignment stores (idempotently) that sessionKey was bucketed into
// variantID for experimentID, and increments the variant's exposure count
// exactly once per distinct session.
func (s *State) RecordAssignment(experimentID, sessionKey, variantID string) {
	key := assignmentKey{experimentID, sessionKey}
	s.mu.Lock()
	if _, exists := s.assignmentIndex[key]; exists {
		s.mu.Unlock()
		return
	}
	s.Assignments = append(s.Assignments, Assignment{ExperimentID: experimentID, SessionKey: sessionKey, VariantID: variantID})
	s.assignmentIndex[key] = struct{}{}
	s.mu.Unlock()

	m := s.metricsFor(experimentID, variantID)
	m.Exposures++
	s.setMetrics(experimentID, variantID, m)
}

// RecordVariantFeedback records one positive/negative outcome for a variant
// and recomputes its success_rate and confidence.
func (s *State) RecordVariantFeedback(experimentID, variantID string, positive bool) {
	m := s.metricsFor(experimentID, variantID)
	if positive {
		m.PositiveCount++
	} else {
		m.NegativeCount++
	}
	total := m.PositiveCount + m.NegativeCount
	if total > 0 {
		m.SuccessRate = float64(m.PositiveCount) / float64(total)
	}
	m.Confidence = clamp01(float64(total) / float64(s.minSamplesFor()))
	s.setMetrics(experimentID, variantID, m)
}

// VariantResult is one variant's graduation-relevant summary.
type VariantResult struct {
	VariantID string
	Metrics   VariantMetrics
}

// ExperimentResults is the outcome of calculateExperimentResults.
type ExperimentResults struct {
	TotalSamples   int
	Variants       []VariantResult
	WinningVariant string // empty if no variant has graduated
}

// CalculateExperimentResults summarizes exp's per-variant metrics and names
// a winning variant when the sample size and lead both clear the
// significance bar.
func (s *State) CalculateExperimentResults(exp Experiment) ExperimentResults {
	var results []VariantResult
	var total int
	for _, v := range exp.Variants {
		m := s.metricsFor(exp.ID, v.ID)
		total += m.PositiveCount + m.NegativeCount
		results = append(results, VariantResult{VariantID: v.ID, Metrics: m})
	}

	out := ExperimentResults{TotalSamples: total, Variants: results}
	if total < s.minSamplesFor() {
		return out
	}

	best, secondBest := -1, -1
	for i, r := range results {
		if best == -1 || r.Metrics.SuccessRate > results[best].Metrics.SuccessRate {
			secondBest = best
			best = i
		} else if secondBest == -1 || r.Metrics.SuccessRate > results[secondBest].Metrics.SuccessRate {
			secondBest = i
		}
	}
	if best == -1 {
		return out
	}
	if secondBest == -1 {
		out.WinningVariant = results[best].VariantID
		return out
	}

	lead := results[best].Metrics.SuccessRate - results[secondBest].Metrics.SuccessRate
	if lead >= 0.15 || results[best].Metrics.Confidence >= 0.9 {
		out.WinningVariant = results[best].VariantID
	}
	return out
}

// minSamplesFor falls back to a sane default when the state was built
// without a configured significance threshold (e.g. in a test fixture).
func (s *State) minSamplesFor() int {
	if s.MinSamples <= 0 {
		return 30
	}
	return s.MinSamples
}

// GraduateWinningVariant marks exp inactive in s and returns the winning
// variant id, if calculateExperimentResults names one.
func (s *State) GraduateWinningVariant(exp *Experiment) string {
	results := s.CalculateExperimentResults(*exp)
	if results.WinningVariant == "" {
		return ""
	}
	exp.Active = false
	exp.WinningVariant = results.WinningVariant
	return results.WinningVariant
}

// BuildStrategyInstruction enumerates exp's active experiments, assigns and
// records a variant per experiment for sessionKey, and concatenates the
// assigned variants' instruction text into a single per-request addendum.
// Returns "" if no experiment is active for this session.
func (s *State) BuildStrategyInstruction(experiments []Experiment, sessionKey string) string {
	var lines []string
	for _, exp := range experiments {
		if !exp.Active {
			continue
		}
		variant := Assign(exp, sessionKey)
		if variant == nil {
			continue
		}
		s.RecordAssignment(exp.ID, sessionKey, variant.ID)
		if variant.Instruction == "" {
			continue
		}
		lines = append(lines, "- "+variant.Instruction)
	}
	if len(lines) == 0 {
		return ""
	}
	return "Response strategy guidelines:\n" + strings.Join(lines, "\n")
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

