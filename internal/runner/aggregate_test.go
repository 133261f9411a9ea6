package runner

import (
	"math/rand"
	"testing"
)

func TestAggregateNoSuccessfulResults(t *testing.T) {
	got := Aggregate([]IterationResult{{Success: false}}, AggregateBest)
	if len(got.Selected) != 0 {
		t.Fatalf("got %v, want empty selection", got.Selected)
	}
	if got.Confidence != 0 {
		t.Fatalf("got confidence %v, want 0", got.Confidence)
	}
	if got.Reasoning != noSuccessfulResultsReasoning {
		t.Fatalf("got %q, want sentinel reasoning", got.Reasoning)
	}
}

func TestAggregateBestPicksHighestScore(t *testing.T) {
	results := []IterationResult{
		{Success: true, Output: "a", Metrics: ResultMetrics{OverallScore: 0.4}},
		{Success: true, Output: "b", Metrics: ResultMetrics{OverallScore: 0.9}},
		{Success: true, Output: "c", Metrics: ResultMetrics{OverallScore: 0.6}},
	}
	got := Aggregate(results, AggregateBest)
	if len(got.Selected) != 1 || got.Selected[0] != "b" {
		t.Fatalf("got %v, want [b]", got.Selected)
	}
}

func TestAggregateVotingPicksMostFrequent(t *testing.T) {
	results := []IterationResult{
		{Success: true, Output: "x"},
		{Success: true, Output: "y"},
		{Success: true, Output: "x"},
	}
	got := Aggregate(results, AggregateVoting)
	if len(got.Selected) != 1 || got.Selected[0] != "x" {
		t.Fatalf("got %v, want [x]", got.Selected)
	}
	want := 2.0 / 3.0
	if got.Confidence != want {
		t.Fatalf("got confidence %v, want %v", got.Confidence, want)
	}
}

// TestAggregateInvariantUnderPermutation is testable property 7: the
// aggregator's output does not depend on the order results arrive in.
func TestAggregateInvariantUnderPermutation(t *testing.T) {
	base := []IterationResult{
		{Success: true, Output: "alpha", Metrics: ResultMetrics{OverallScore: 0.5}},
		{Success: true, Output: "beta", Metrics: ResultMetrics{OverallScore: 0.9}},
		{Success: true, Output: "alpha", Metrics: ResultMetrics{OverallScore: 0.3}},
		{Success: true, Output: "gamma", Metrics: ResultMetrics{OverallScore: 0.1}},
	}

	for _, strategy := range []AggregationStrategy{AggregateBest, AggregateVoting, AggregateConsensus, AggregateEnsemble} {
		reference := Aggregate(append([]IterationResult(nil), base...), strategy)

		rng := rand.New(rand.NewSource(42))
		for trial := 0; trial < 5; trial++ {
			shuffled := append([]IterationResult(nil), base...)
			rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
			got := Aggregate(shuffled, strategy)
			if len(got.Selected) != len(reference.Selected) {
				t.Fatalf("strategy %v trial %d: selection length differs: got %v want %v", strategy, trial, got.Selected, reference.Selected)
			}
			for i := range got.Selected {
				if got.Selected[i] != reference.Selected[i] {
					t.Fatalf("strategy %v trial %d: got %v, want %v", strategy, trial, got.Selected, reference.Selected)
				}
			}
			if got.Confidence != reference.Confidence {
				t.Fatalf("strategy %v trial %d: confidence got %v, want %v", strategy, trial, got.Confidence, reference.Confidence)
			}
		}
	}
}

func TestAggregateConsensusDampensConfidenceForSingleResult(t *testing.T) {
	got := Aggregate([]IterationResult{{Success: true, Output: "solo"}}, AggregateConsensus)
	if got.Confidence != 0.7 {
		t.Fatalf("got %v, want 0.7", got.Confidence)
	}
}

func TestAggregateEnsembleConcatenatesAllOutputs(t *testing.T) {
	results := []IterationResult{
		{Success: true, Output: "b", Metrics: ResultMetrics{OverallScore: 0.2}},
		{Success: true, Output: "a", Metrics: ResultMetrics{OverallScore: 0.8}},
	}
	got := Aggregate(results, AggregateEnsemble)
	want := "a\n---\nb"
	if len(got.Selected) != 1 || got.Selected[0] != want {
		t.Fatalf("got %v, want [%q]", got.Selected, want)
	}
	if got.Confidence != 0.5 {
		t.Fatalf("got confidence %v, want 0.5", got.Confidence)
	}
}
