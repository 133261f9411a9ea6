package runner

import "fmt"

// AggregationStrategy is one of the documented result-folding strategies.
// The runner's final fold is always "best"; callers of Aggregate may pass
// any other strategy. The plan's Strategy field does not select one.
type AggregationStrategy string

const (
	AggregateBest      AggregationStrategy = "best"
	AggregateVoting    AggregationStrategy = "voting"
	AggregateConsensus AggregationStrategy = "consensus"
	AggregateEnsemble  AggregationStrategy = "ensemble"
)

const noSuccessfulResultsReasoning = "No successful results to aggregate"

// Aggregate folds a result set per strategy. It is invariant to the order
// of results: permuting the input never changes the output.
func Aggregate(results []IterationResult, strategy AggregationStrategy) AggregateResult {
	var successful []IterationResult
	for _, r := range results {
		if r.Success {
			successful = append(successful, r)
		}
	}
	if len(successful) == 0 {
		return AggregateResult{Selected: []string{}, Confidence: 0, Reasoning: noSuccessfulResultsReasoning}
	}

	switch strategy {
	case AggregateVoting:
		return aggregateVoting(successful)
	case AggregateConsensus:
		return aggregateConsensus(successful)
	case AggregateEnsemble:
		return aggregateEnsemble(successful)
	default:
		return aggregateBest(successful)
	}
}

func aggregateBest(successful []IterationResult) AggregateResult {
	best := successful[0]
	for _, r := range successful[1:] {
		if r.Metrics.OverallScore > best.Metrics.OverallScore ||
			(r.Metrics.OverallScore == best.Metrics.OverallScore && r.Output < best.Output) {
			best = r
		}
	}
	return AggregateResult{
		Selected:   []string{best.Output},
		Confidence: best.Metrics.OverallScore,
		Reasoning:  "Selected the highest-scoring result",
	}
}

// groupByOutput buckets results by exact output string equality and returns
// the distinct outputs sorted as below, so the order is independent of
// input order.
func groupByOutput(successful []IterationResult) (order []string, groups map[string][]IterationResult) {
	groups = make(map[string][]IterationResult)
	for _, r := range successful {
		if _, ok := groups[r.Output]; !ok {
			order = append(order, r.Output)
		}
		groups[r.Output] = append(groups[r.Output], r)
	}
	// Stable ordering independent of input permutation: sort candidate
	// outputs by (group size desc, output string asc).
	sortGroupsBySizeThenValue(order, groups)
	return order, groups
}

func sortGroupsBySizeThenValue(order []string, groups map[string][]IterationResult) {
	for i := 1; i < len(order); i++ {
		j := i
		for j > 0 && lessGroup(order[j], order[j-1], groups) {
			order[j], order[j-1] = order[j-1], order[j]
			j--
		}
	}
}

func lessGroup(a, b string, groups map[string][]IterationResult) bool {
	if len(groups[a]) != len(groups[b]) {
		return len(groups[a]) > len(groups[b])
	}
	return a < b
}

func aggregateVoting(successful []IterationResult) AggregateResult {
	order, groups := groupByOutput(successful)
	winner := order[0]
	confidence := float64(len(groups[winner])) / float64(len(successful))
	return AggregateResult{
		Selected:   []string{winner},
		Confidence: confidence,
		Reasoning:  fmt.Sprintf("Most frequent output, chosen by %d/%d variations", len(groups[winner]), len(successful)),
	}
}

func aggregateConsensus(successful []IterationResult) AggregateResult {
	order, groups := groupByOutput(successful)
	winner := order[0]

	dampen := 0.7
	if len(successful) > 1 {
		dampen = 0.9
	}
	baseConfidence := float64(len(groups[winner])) / float64(len(successful))
	return AggregateResult{
		Selected:   []string{winner},
		Confidence: baseConfidence * dampen,
		Reasoning:  "Most common output, confidence dampened for consensus",
	}
}

func aggregateEnsemble(successful []IterationResult) AggregateResult {
	// Order outputs deterministically (by output string) so the sentinel
	// concatenation is invariant to input permutation.
	outputs := make([]string, len(successful))
	scores := make([]float64, len(successful))
	for i, r := range successful {
		outputs[i] = r.Output
		scores[i] = r.Metrics.OverallScore
	}
	sortStrings(outputs)

	// Sum scores in ascending order so the floating-point total is the same
	// for every permutation of the input.
	for i := 1; i < len(scores); i++ {
		for j := i; j > 0 && scores[j] < scores[j-1]; j-- {
			scores[j], scores[j-1] = scores[j-1], scores[j]
		}
	}
	var sumScore float64
	for _, s := range scores {
		sumScore += s
	}

	joined := ""
	for i, o := range outputs {
		if i > 0 {
			joined += "\n---\n"
		}
		joined += o
	}

	return AggregateResult{
		Selected:   []string{joined},
		Confidence: sumScore / float64(len(successful)),
		Reasoning:  "Concatenated all successful outputs",
	}
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		j := i
		for j > 0 && s[j] < s[j-1] {
			s[j], s[j-1] = s[j-1], s[j]
			j--
		}
	}
}
