// Package variation builds IterationVariation lists for the common
// model / thinking-level / prompt / hybrid combination strategies.
package variation

import (
	"fmt"

	"github.com/heikkila-labs/triagepilot/internal/runner"
)

// ThinkingLevel maps a complexity tier to the thinking-level flag passed to
// the Worker Gateway.
func ThinkingLevel(tier string) string {
	switch tier {
	case "fast":
		return "none"
	case "balanced":
		return "low"
	case "premium":
		return "high"
	default:
		return "low"
	}
}

// DetectComplexity picks a tier from a label override, else from the
// estimated duration in minutes.
func DetectComplexity(labels []string, estimateMinutes int) string {
	for _, l := range labels {
		switch l {
		case "complex", "architecture":
			return "premium"
		case "trivial", "chore":
			return "fast"
		}
	}
	switch {
	case estimateMinutes <= 30:
		return "fast"
	case estimateMinutes <= 90:
		return "balanced"
	default:
		return "premium"
	}
}

// ByModels builds one variation per model, all sharing the same thinking
// level and prompt variant.
func ByModels(models []string, thinking string) []runner.IterationVariation {
	out := make([]runner.IterationVariation, 0, len(models))
	for i, m := range models {
		out = append(out, runner.IterationVariation{
			ID:            fmt.Sprintf("model-%d", i),
			Label:         m,
			Priority:      i,
			Model:         m,
			ThinkingLevel: thinking,
			Status:        runner.VariationPending,
		})
	}
	return out
}

// ByThinkingLevels builds one variation per thinking level for a single
// model, with priorities following the order of levels as given.
func ByThinkingLevels(model string, levels []string) []runner.IterationVariation {
	out := make([]runner.IterationVariation, 0, len(levels))
	for i, level := range levels {
		out = append(out, runner.IterationVariation{
			ID:            fmt.Sprintf("thinking-%d", i),
			Label:         fmt.Sprintf("%s@%s", model, level),
			Priority:      i,
			Model:         model,
			ThinkingLevel: level,
			Status:        runner.VariationPending,
		})
	}
	return out
}

// PromptVariant names one prompt-construction approach, e.g. "terse",
// "step-by-step", "test-first".
type PromptVariant struct {
	ID                string
	AdditionalContext string
	Constraints       []string
}

// ByPromptVariants builds one variation per prompt approach, all sharing a
// single model and thinking level.
func ByPromptVariants(model, thinking string, variants []PromptVariant) []runner.IterationVariation {
	out := make([]runner.IterationVariation, 0, len(variants))
	for i, v := range variants {
		out = append(out, runner.IterationVariation{
			ID:                fmt.Sprintf("prompt-%s", v.ID),
			Label:             v.ID,
			Priority:          i,
			Model:             model,
			ThinkingLevel:     thinking,
			PromptVariantID:   v.ID,
			AdditionalContext: v.AdditionalContext,
			Constraints:       v.Constraints,
			Status:            runner.VariationPending,
		})
	}
	return out
}

// Hybrid builds the cross product of models and prompt variants, useful
// for a tournament strategy that wants breadth across both axes.
func Hybrid(models []string, thinking string, variants []PromptVariant) []runner.IterationVariation {
	out := make([]runner.IterationVariation, 0, len(models)*len(variants))
	priority := 0
	for _, m := range models {
		for _, v := range variants {
			out = append(out, runner.IterationVariation{
				ID:                fmt.Sprintf("hybrid-%s-%s", m, v.ID),
				Label:             fmt.Sprintf("%s/%s", m, v.ID),
				Priority:          priority,
				Model:             m,
				ThinkingLevel:     thinking,
				PromptVariantID:   v.ID,
				AdditionalContext: v.AdditionalContext,
				Constraints:       v.Constraints,
				Status:            runner.VariationPending,
			})
			priority++
		}
	}
	return out
}
