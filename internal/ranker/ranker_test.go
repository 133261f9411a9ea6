package ranker

import (
	"testing"

	"github.com/heikkila-labs/triagepilot/internal/config"
	"github.com/heikkila-labs/triagepilot/internal/evaluator"
)

func eval(id string, overall, correctness, safety, confidence float64) evaluator.SolutionEvaluation {
	return evaluator.SolutionEvaluation{
		SolutionID:   id,
		OverallScore: overall,
		Confidence:   confidence,
		Correctness:  evaluator.CategoryResult{Overall: correctness, Fields: map[string]float64{}, Bools: map[string]bool{}},
		Safety: evaluator.CategoryResult{
			Overall: safety,
			Fields:  map[string]float64{},
			Bools:   map[string]bool{"no_dangerous_ops": true, "no_secrets_exposed": true},
		},
		Quality:      evaluator.CategoryResult{Fields: map[string]float64{}, Bools: map[string]bool{}},
		Completeness: evaluator.CategoryResult{Fields: map[string]float64{}, Bools: map[string]bool{}},
	}
}

func TestRankSolutionsSortsByOverallScoreDescending(t *testing.T) {
	evals := []evaluator.SolutionEvaluation{
		eval("a", 0.5, 0.5, 0.5, 0.9),
		eval("b", 0.9, 0.5, 0.5, 0.9),
		eval("c", 0.7, 0.5, 0.5, 0.9),
	}
	ranking := RankSolutions(evals)
	got := []string{ranking.Solutions[0].Evaluation.SolutionID, ranking.Solutions[1].Evaluation.SolutionID, ranking.Solutions[2].Evaluation.SolutionID}
	want := []string{"b", "c", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestRankSolutionsTieBreaksByCorrectnessThenSafetyThenInsertionOrder(t *testing.T) {
	evals := []evaluator.SolutionEvaluation{
		eval("first", 0.8, 0.6, 0.5, 0.9),
		eval("second", 0.8, 0.7, 0.5, 0.9),
		eval("third", 0.8, 0.7, 0.9, 0.9),
	}
	ranking := RankSolutions(evals)
	got := []string{ranking.Solutions[0].Evaluation.SolutionID, ranking.Solutions[1].Evaluation.SolutionID, ranking.Solutions[2].Evaluation.SolutionID}
	want := []string{"third", "second", "first"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestRankSolutionsPreservesInsertionOrderOnFullTie(t *testing.T) {
	evals := []evaluator.SolutionEvaluation{
		eval("a", 0.8, 0.5, 0.5, 0.9),
		eval("b", 0.8, 0.5, 0.5, 0.9),
	}
	ranking := RankSolutions(evals)
	if ranking.Solutions[0].Evaluation.SolutionID != "a" || ranking.Solutions[1].Evaluation.SolutionID != "b" {
		t.Fatalf("got order %v, %v, want a, b preserved", ranking.Solutions[0].Evaluation.SolutionID, ranking.Solutions[1].Evaluation.SolutionID)
	}
}

func TestHasUniqueWinnerRequiresEpsilonMargin(t *testing.T) {
	ranking := RankSolutions([]evaluator.SolutionEvaluation{
		eval("a", 0.80, 0.5, 0.5, 0.9),
		eval("b", 0.795, 0.5, 0.5, 0.9),
	})
	if ranking.HasUniqueWinner() {
		t.Fatalf("expected no unique winner within epsilon of 0.01")
	}
}

func defaultAcceptCfg() config.Ranker {
	return config.DefaultRanker()
}

func TestShouldAutoAcceptTrueWhenAllGatesClear(t *testing.T) {
	ranking := RankSolutions([]evaluator.SolutionEvaluation{
		eval("a", 0.95, 0.9, 0.9, 0.9),
		eval("b", 0.80, 0.5, 0.5, 0.9),
	})
	decision := ShouldAutoAccept(ranking, defaultAcceptCfg())
	if !decision.Accept {
		t.Fatalf("got reason %q, want accept", decision.Reason)
	}
}

func TestShouldAutoAcceptFalseBelowScoreThreshold(t *testing.T) {
	ranking := RankSolutions([]evaluator.SolutionEvaluation{
		eval("a", 0.5, 0.9, 0.9, 0.9),
	})
	decision := ShouldAutoAccept(ranking, defaultAcceptCfg())
	if decision.Accept || decision.Reason != "below threshold" {
		t.Fatalf("got %+v, want below threshold", decision)
	}
}

func TestShouldAutoAcceptFalseConfidenceTooLow(t *testing.T) {
	ranking := RankSolutions([]evaluator.SolutionEvaluation{
		eval("a", 0.95, 0.9, 0.9, 0.3),
	})
	decision := ShouldAutoAccept(ranking, defaultAcceptCfg())
	if decision.Accept || decision.Reason != "confidence too low" {
		t.Fatalf("got %+v, want confidence too low", decision)
	}
}

func TestShouldAutoAcceptFalseSafetyFailure(t *testing.T) {
	e := eval("a", 0.95, 0.9, 0.9, 0.9)
	e.Safety.Bools["no_dangerous_ops"] = false
	ranking := RankSolutions([]evaluator.SolutionEvaluation{e})
	decision := ShouldAutoAccept(ranking, defaultAcceptCfg())
	if decision.Accept || decision.Reason != "safety failure" {
		t.Fatalf("got %+v, want safety failure", decision)
	}
}

func TestShouldAutoAcceptFalseMarginTooSmall(t *testing.T) {
	ranking := RankSolutions([]evaluator.SolutionEvaluation{
		eval("a", 0.90, 0.9, 0.9, 0.9),
		eval("b", 0.87, 0.5, 0.5, 0.9),
	})
	decision := ShouldAutoAccept(ranking, defaultAcceptCfg())
	if decision.Accept || decision.Reason != "winner margin too small" {
		t.Fatalf("got %+v, want winner margin too small", decision)
	}
}

func TestShouldAutoAcceptFalseNoUniqueWinner(t *testing.T) {
	ranking := RankSolutions([]evaluator.SolutionEvaluation{
		eval("a", 0.90, 0.9, 0.9, 0.9),
		eval("b", 0.895, 0.5, 0.5, 0.9),
	})
	decision := ShouldAutoAccept(ranking, defaultAcceptCfg())
	if decision.Accept || decision.Reason != "no unique winner" {
		t.Fatalf("got %+v, want no unique winner", decision)
	}
}

// TestAutoAcceptMonotonicity is testable property 9: raising the winner's
// score (all else equal) never flips an accept decision to reject.
func TestAutoAcceptMonotonicity(t *testing.T) {
	cfg := defaultAcceptCfg()
	low := RankSolutions([]evaluator.SolutionEvaluation{eval("a", 0.86, 0.9, 0.9, 0.9)})
	high := RankSolutions([]evaluator.SolutionEvaluation{eval("a", 0.99, 0.9, 0.9, 0.9)})

	lowDecision := ShouldAutoAccept(low, cfg)
	highDecision := ShouldAutoAccept(high, cfg)

	if lowDecision.Accept && !highDecision.Accept {
		t.Fatalf("raising score flipped accept to reject: low=%+v high=%+v", lowDecision, highDecision)
	}
}
