// Package ranker sorts SolutionEvaluations into a Ranking and decides
// whether the winner clears the auto-accept gate.
package ranker

import (
	"github.com/heikkila-labs/triagepilot/internal/config"
	"github.com/heikkila-labs/triagepilot/internal/evaluator"
)

const tieEpsilon = 0.01

// RankedSolution is one evaluation plus its derived strengths/weaknesses.
type RankedSolution struct {
	Evaluation  evaluator.SolutionEvaluation
	Strengths   []string
	Weaknesses  []string
}

// Ranking is the sorted outcome of rankSolutions.
type Ranking struct {
	Solutions  []RankedSolution
	Confidence float64 // the winner's evaluation confidence
}

// Winner returns the rank-1 solution, or nil if there are none.
func (r Ranking) Winner() *RankedSolution {
	if len(r.Solutions) == 0 {
		return nil
	}
	return &r.Solutions[0]
}

// HasUniqueWinner reports whether rank 1 is not tied with rank 2 within
// tieEpsilon.
func (r Ranking) HasUniqueWinner() bool {
	if len(r.Solutions) == 0 {
		return false
	}
	if len(r.Solutions) == 1 {
		return true
	}
	return r.Solutions[0].Evaluation.OverallScore-r.Solutions[1].Evaluation.OverallScore > tieEpsilon
}

// RankSolutions sorts evals by overall_score descending, breaking ties by
// correctness.overall then safety.overall then input (insertion) order, and
// attaches each entry's strengths/weaknesses.
func RankSolutions(evals []evaluator.SolutionEvaluation) Ranking {
	indexed := make([]RankedSolution, len(evals))
	for i, e := range evals {
		indexed[i] = RankedSolution{
			Evaluation: e,
			Strengths:  strengthsFor(e),
			Weaknesses: weaknessesFor(e),
		}
	}

	// Stable insertion sort so equal keys preserve input order, per the
	// documented tie-break chain.
	for i := 1; i < len(indexed); i++ {
		j := i
		for j > 0 && less(indexed[j], indexed[j-1]) {
			indexed[j], indexed[j-1] = indexed[j-1], indexed[j]
			j--
		}
	}

	confidence := 0.0
	if len(indexed) > 0 {
		confidence = indexed[0].Evaluation.Confidence
	}
	return Ranking{Solutions: indexed, Confidence: confidence}
}

// less reports whether a should sort strictly before b.
func less(a, b RankedSolution) bool {
	if a.Evaluation.OverallScore != b.Evaluation.OverallScore {
		return a.Evaluation.OverallScore > b.Evaluation.OverallScore
	}
	if a.Evaluation.Correctness.Overall != b.Evaluation.Correctness.Overall {
		return a.Evaluation.Correctness.Overall > b.Evaluation.Correctness.Overall
	}
	if a.Evaluation.Safety.Overall != b.Evaluation.Safety.Overall {
		return a.Evaluation.Safety.Overall > b.Evaluation.Safety.Overall
	}
	return false // equal on every tie-break field: preserve insertion order
}

func strengthsFor(e evaluator.SolutionEvaluation) []string {
	var strengths []string
	if v, ok := e.Correctness.Fields["tests"]; ok && v >= 0.95 {
		strengths = append(strengths, "All tests pass")
	}
	if typeCheck, hasTC := e.Correctness.Bools["type_check"]; hasTC && typeCheck {
		if lint, hasLint := e.Correctness.Bools["lint"]; hasLint && lint {
			strengths = append(strengths, "Clean type check and lint")
		}
	}
	if e.Safety.Bools["no_dangerous_ops"] && e.Safety.Bools["no_secrets_exposed"] {
		strengths = append(strengths, "No safety issues detected")
	}
	if e.Completeness.Bools["documentation_added"] {
		strengths = append(strengths, "Documentation included")
	}
	if e.Completeness.Fields["tests_added"] >= 0.5 {
		strengths = append(strengths, "Good test coverage added")
	}
	if e.Quality.Fields["duplication"] >= 0.9 {
		strengths = append(strengths, "Low code duplication")
	}
	return strengths
}

func weaknessesFor(e evaluator.SolutionEvaluation) []string {
	var weaknesses []string
	if lint, ok := e.Correctness.Bools["lint"]; ok && !lint {
		weaknesses = append(weaknesses, "Lint errors present")
	}
	if !e.Completeness.Bools["documentation_added"] {
		weaknesses = append(weaknesses, "Missing documentation")
	}
	if !e.Safety.Bools["no_dangerous_ops"] {
		weaknesses = append(weaknesses, "Dangerous operations detected")
	}
	if !e.Safety.Bools["no_secrets_exposed"] {
		weaknesses = append(weaknesses, "Possible secret exposure")
	}
	if e.Completeness.Fields["tests_added"] < 0.1 {
		weaknesses = append(weaknesses, "Few or no tests added")
	}
	if e.Quality.Fields["complexity"] < 0.5 {
		weaknesses = append(weaknesses, "High code complexity")
	}
	return weaknesses
}

// AcceptDecision is the outcome of shouldAutoAccept.
type AcceptDecision struct {
	Accept bool
	Reason string
}

// ShouldAutoAccept decides whether ranking's winner clears every
// auto-accept gate in §4.5, per cfg's thresholds.
func ShouldAutoAccept(ranking Ranking, cfg config.Ranker) AcceptDecision {
	if !ranking.HasUniqueWinner() {
		return AcceptDecision{Accept: false, Reason: "no unique winner"}
	}
	winner := ranking.Winner()

	if winner.Evaluation.OverallScore < cfg.MinScore {
		return AcceptDecision{Accept: false, Reason: "below threshold"}
	}
	if ranking.Confidence < cfg.MinConfidence {
		return AcceptDecision{Accept: false, Reason: "confidence too low"}
	}
	if !winner.Evaluation.Safety.Bools["no_dangerous_ops"] || !winner.Evaluation.Safety.Bools["no_secrets_exposed"] {
		return AcceptDecision{Accept: false, Reason: "safety failure"}
	}
	if len(ranking.Solutions) > 1 {
		margin := winner.Evaluation.OverallScore - ranking.Solutions[1].Evaluation.OverallScore
		if margin < cfg.MinMargin {
			return AcceptDecision{Accept: false, Reason: "winner margin too small"}
		}
	}
	return AcceptDecision{Accept: true, Reason: ""}
}
