// Package view projects rankings and evaluations into channel-agnostic
// presentation records, plus a small action protocol a renderer (Matrix,
// terminal, web) drives off of. Every build function here is pure: the same
// inputs always produce a structurally equal output.
package view

import (
	"time"

	"github.com/heikkila-labs/triagepilot/internal/evaluator"
	"github.com/heikkila-labs/triagepilot/internal/ranker"
)

// IterationSummary is one solution's row in a SummaryView.
type IterationSummary struct {
	IterationID  string
	Label        string
	OverallScore float64
	Accepted     bool
	Strengths    []string
	Weaknesses   []string
}

// SummaryView is the top-level record buildSummaryView emits: the ranking
// of one task's solutions, ready for a renderer to lay out.
type SummaryView struct {
	TaskID               string
	TaskTitle            string
	Winner               *string // iteration_id of the winner, nil if none
	Iterations           []IterationSummary
	WinnerStrengths      []string
	WinnerTradeoffs      []string
	AutoAcceptance       bool
	AutoAcceptanceReason string
	EvaluationDurationMs int64
	EvaluatedAt          time.Time
}

// BuildSummaryView projects ranking into a SummaryView for taskID/taskTitle.
// evaluationDurationMs and evaluatedAt are supplied by the caller so the
// function stays a pure projection rather than reaching for a clock itself.
func BuildSummaryView(ranking ranker.Ranking, accept ranker.AcceptDecision, taskID, taskTitle string, evaluationDurationMs int64, evaluatedAt time.Time) SummaryView {
	iterations := make([]IterationSummary, len(ranking.Solutions))
	for i, sol := range ranking.Solutions {
		iterations[i] = IterationSummary{
			IterationID:  sol.Evaluation.SolutionID,
			OverallScore: sol.Evaluation.OverallScore,
			Accepted:     i == 0 && accept.Accept,
			Strengths:    sol.Strengths,
			Weaknesses:   sol.Weaknesses,
		}
	}

	out := SummaryView{
		TaskID:               taskID,
		TaskTitle:            taskTitle,
		Iterations:           iterations,
		AutoAcceptance:       accept.Accept,
		AutoAcceptanceReason: accept.Reason,
		EvaluationDurationMs: evaluationDurationMs,
		EvaluatedAt:          evaluatedAt,
	}

	if winner := ranking.Winner(); winner != nil {
		id := winner.Evaluation.SolutionID
		out.Winner = &id
		out.WinnerStrengths = winner.Strengths
		out.WinnerTradeoffs = winner.Weaknesses
	}
	return out
}

// CheckResultType classifies one line of a score breakdown.
type CheckResultType string

const (
	CheckPass  CheckResultType = "pass"
	CheckFail  CheckResultType = "fail"
	CheckScore CheckResultType = "score"
	CheckInfo  CheckResultType = "info"
)

// CheckSource distinguishes a deterministic analyzer from an LLM judgment.
type CheckSource string

const (
	SourceAutomated CheckSource = "automated"
	SourceLLM       CheckSource = "llm"
)

// CheckResult is one line of a category's score breakdown.
type CheckResult struct {
	Name    string
	Type    CheckResultType
	Value   *float64
	Message string
	Source  CheckSource
}

// CategoryBreakdown is one evaluation category's weighted contribution plus
// its ordered list of underlying checks.
type CategoryBreakdown struct {
	Category string
	Score    float64
	Weight   float64
	Checks   []CheckResult
}

// DetailView is the per-solution record buildDetailView emits.
type DetailView struct {
	IterationID    string
	OverallScore   float64
	Confidence     float64
	ScoreBreakdown []CategoryBreakdown
}

// categoryOrder names the evaluator's five categories in a fixed, stable
// display order so BuildDetailView's output never reorders between calls.
var categoryOrder = []string{"correctness", "quality", "efficiency", "completeness", "safety"}

// BuildDetailView expands eval into a per-category score breakdown. weights
// maps each of the five fixed category names to the weight it was scored
// with; llmDimensions names the sub-fields each category's assess() calls
// populate, so the breakdown can tag them source=llm rather than
// source=automated.
func BuildDetailView(eval evaluator.SolutionEvaluation, weights map[string]float64, llmDimensions map[string]bool) DetailView {
	categories := map[string]evaluator.CategoryResult{
		"correctness":  eval.Correctness,
		"quality":      eval.Quality,
		"efficiency":   eval.Efficiency,
		"completeness": eval.Completeness,
		"safety":       eval.Safety,
	}

	breakdown := make([]CategoryBreakdown, 0, len(categoryOrder))
	for _, name := range categoryOrder {
		cat := categories[name]
		breakdown = append(breakdown, CategoryBreakdown{
			Category: name,
			Score:    cat.Overall,
			Weight:   weights[name],
			Checks:   buildChecks(cat, llmDimensions),
		})
	}

	return DetailView{
		IterationID:    eval.SolutionID,
		OverallScore:   eval.OverallScore,
		Confidence:     eval.Confidence,
		ScoreBreakdown: breakdown,
	}
}

// buildChecks flattens one category's Bools and Fields into a deterministic
// ordered CheckResult list: bools first (alphabetical), then fields
// (alphabetical), so two calls over equal inputs always produce an equal
// slice.
func buildChecks(cat evaluator.CategoryResult, llmDimensions map[string]bool) []CheckResult {
	var checks []CheckResult

	for _, name := range sortedKeysBool(cat.Bools) {
		pass := cat.Bools[name]
		typ := CheckFail
		if pass {
			typ = CheckPass
		}
		checks = append(checks, CheckResult{
			Name:   name,
			Type:   typ,
			Source: sourceFor(name, llmDimensions),
		})
	}

	for _, name := range sortedKeysFloat(cat.Fields) {
		v := cat.Fields[name]
		checks = append(checks, CheckResult{
			Name:   name,
			Type:   CheckScore,
			Value:  &v,
			Source: sourceFor(name, llmDimensions),
		})
	}

	for _, issue := range cat.Issues {
		checks = append(checks, CheckResult{
			Name:    "issue",
			Type:    CheckInfo,
			Message: issue,
			Source:  SourceAutomated,
		})
	}

	return checks
}

func sourceFor(name string, llmDimensions map[string]bool) CheckSource {
	if llmDimensions[name] {
		return SourceLLM
	}
	return SourceAutomated
}

func sortedKeysBool(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortStrings(keys)
	return keys
}

func sortedKeysFloat(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortStrings(keys)
	return keys
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
