package view

import (
	"reflect"
	"testing"
	"time"

	"github.com/heikkila-labs/triagepilot/internal/config"
	"github.com/heikkila-labs/triagepilot/internal/evaluator"
	"github.com/heikkila-labs/triagepilot/internal/ranker"
)

func sampleEval(id string, score float64) evaluator.SolutionEvaluation {
	return evaluator.SolutionEvaluation{
		SolutionID:   id,
		OverallScore: score,
		Confidence:   0.9,
		Correctness: evaluator.CategoryResult{
			Overall: score,
			Bools:   map[string]bool{"type_check": true, "lint": true},
			Fields:  map[string]float64{"tests": 0.97},
		},
		Quality: evaluator.CategoryResult{
			Overall: 0.8,
			Fields:  map[string]float64{"duplication": 0.95, "complexity": 0.7},
		},
		Efficiency: evaluator.CategoryResult{
			Overall: 0.8,
			Bools:   map[string]bool{"resource_cleanup": true},
		},
		Completeness: evaluator.CategoryResult{
			Overall: 0.8,
			Bools:   map[string]bool{"documentation_added": true},
			Fields:  map[string]float64{"tests_added": 0.6},
		},
		Safety: evaluator.CategoryResult{
			Overall: 1.0,
			Bools:   map[string]bool{"no_dangerous_ops": true, "no_secrets_exposed": true},
		},
	}
}

func TestBuildSummaryViewOrdersIterationsByRanking(t *testing.T) {
	ranking := ranker.RankSolutions([]evaluator.SolutionEvaluation{
		sampleEval("sol-low", 0.4),
		sampleEval("sol-high", 0.9),
	})
	accept := ranker.ShouldAutoAccept(ranking, rankerConfig())

	sv := BuildSummaryView(ranking, accept, "task-1", "Fix the flaky test", 1500, time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC))

	if sv.TaskID != "task-1" || sv.TaskTitle != "Fix the flaky test" {
		t.Fatalf("expected task identity carried through, got %+v", sv)
	}
	if len(sv.Iterations) != 2 {
		t.Fatalf("expected 2 iterations, got %d", len(sv.Iterations))
	}
	if sv.Iterations[0].IterationID != "sol-high" {
		t.Fatalf("expected the higher-scoring solution first, got %q", sv.Iterations[0].IterationID)
	}
	if sv.Winner == nil || *sv.Winner != "sol-high" {
		t.Fatalf("expected sol-high to be the winner, got %v", sv.Winner)
	}
}

func TestBuildSummaryViewNoWinnerWithEmptyRanking(t *testing.T) {
	ranking := ranker.RankSolutions(nil)
	accept := ranker.ShouldAutoAccept(ranking, rankerConfig())
	sv := BuildSummaryView(ranking, accept, "task-1", "Empty task", 0, time.Time{})
	if sv.Winner != nil {
		t.Fatalf("expected no winner for an empty ranking, got %v", sv.Winner)
	}
	if len(sv.Iterations) != 0 {
		t.Fatalf("expected no iterations, got %d", len(sv.Iterations))
	}
}

func TestBuildSummaryViewPurity(t *testing.T) {
	ranking := ranker.RankSolutions([]evaluator.SolutionEvaluation{
		sampleEval("sol-a", 0.7),
		sampleEval("sol-b", 0.72),
	})
	accept := ranker.ShouldAutoAccept(ranking, rankerConfig())
	ts := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)

	first := BuildSummaryView(ranking, accept, "task-1", "Title", 1000, ts)
	second := BuildSummaryView(ranking, accept, "task-1", "Title", 1000, ts)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected two calls on equal inputs to produce structurally equal output:\n%+v\nvs\n%+v", first, second)
	}
}

func TestBuildDetailViewProducesFixedCategoryOrder(t *testing.T) {
	eval := sampleEval("sol-1", 0.85)
	weights := map[string]float64{"correctness": 0.4, "quality": 0.25, "efficiency": 0.15, "completeness": 0.1, "safety": 0.1}
	llmDims := map[string]bool{"requirement_coverage": true, "naming": true}

	dv := BuildDetailView(eval, weights, llmDims)

	wantOrder := []string{"correctness", "quality", "efficiency", "completeness", "safety"}
	for i, cat := range dv.ScoreBreakdown {
		if cat.Category != wantOrder[i] {
			t.Fatalf("expected category order %v, got position %d = %q", wantOrder, i, cat.Category)
		}
	}
}

func TestBuildDetailViewChecksAreDeterministicallyOrdered(t *testing.T) {
	eval := sampleEval("sol-1", 0.85)
	weights := map[string]float64{}
	llmDims := map[string]bool{}

	first := BuildDetailView(eval, weights, llmDims)
	second := BuildDetailView(eval, weights, llmDims)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected buildDetailView to be pure across repeated calls")
	}
}

func TestBuildDetailViewTagsLLMSourcedChecks(t *testing.T) {
	eval := sampleEval("sol-1", 0.85)
	eval.Correctness.Fields["requirement_coverage"] = 0.8
	llmDims := map[string]bool{"requirement_coverage": true}

	dv := BuildDetailView(eval, map[string]float64{}, llmDims)

	var found bool
	for _, cat := range dv.ScoreBreakdown {
		if cat.Category != "correctness" {
			continue
		}
		for _, check := range cat.Checks {
			if check.Name == "requirement_coverage" {
				found = true
				if check.Source != SourceLLM {
					t.Fatalf("expected requirement_coverage tagged source=llm, got %q", check.Source)
				}
			}
		}
	}
	if !found {
		t.Fatal("expected a requirement_coverage check to be present")
	}
}

func rankerConfig() config.Ranker {
	return config.Ranker{MinScore: 0.7, MinConfidence: 0.6, MinMargin: 0.1}
}
