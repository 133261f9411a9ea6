package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/heikkila-labs/triagepilot/internal/config"
)

// SolutionInput is the material a SolutionEvaluator judges.
type SolutionInput struct {
	SolutionID      string
	IterationID     string
	TaskDescription string
	OriginalCode    string
	SolutionCode    string
	ChangedFiles    []string
}

// CommandResult is the outcome of a single spawned check command.
type CommandResult struct {
	Pass     bool
	Fraction *float64 // optional numeric fraction, e.g. tests passed ratio
}

// SpawnCommandFunc runs one configured check command (test/type-check/lint/
// build) against a solution and reports its outcome. May return an error,
// which the evaluator absorbs as a failed check rather than aborting.
type SpawnCommandFunc func(ctx context.Context, command string, input SolutionInput) (CommandResult, error)

// LLMAssessment is a named qualitative judgment with a confidence.
type LLMAssessment struct {
	Score      float64
	Confidence float64
}

// LLMAssessFunc produces a qualitative judgment for one named dimension. May
// return an error, which the evaluator absorbs as a neutral 0.5 score with
// zero confidence rather than aborting.
type LLMAssessFunc func(ctx context.Context, dimension string, input SolutionInput) (LLMAssessment, error)

// ComparatorDeps are the evaluator's injected side-effecting dependencies.
type ComparatorDeps struct {
	SpawnCommand SpawnCommandFunc
	LLMAssess    LLMAssessFunc
	Now          func() time.Time
}

// CategoryResult holds one category's overall score plus the named
// sub-fields the ranker's strengths/weaknesses vocabulary thresholds
// against.
type CategoryResult struct {
	Overall float64
	Fields  map[string]float64
	Bools   map[string]bool
	Issues  []string
}

// SolutionEvaluation is the five-category judgment of one SolutionInput.
type SolutionEvaluation struct {
	SolutionID   string
	Correctness  CategoryResult
	Quality      CategoryResult
	Efficiency   CategoryResult
	Completeness CategoryResult
	Safety       CategoryResult
	OverallScore float64
	Confidence   float64
	EvaluatedAt  time.Time
}

// Config bundles the checks and weights needed to run an evaluation.
type Config struct {
	Weights           config.CategoryWeights
	CorrectnessChecks []string // configured test/type-check/lint/build commands
}

// Evaluate produces a SolutionEvaluation for input using deps, per §4.4.
// Per-check failures are absorbed (spawnCommand errors become fail
// results; llmAssess errors become a neutral 0.5/0 confidence judgment);
// Evaluate itself never returns an error for those recoverable cases.
func Evaluate(ctx context.Context, input SolutionInput, cfg Config, deps ComparatorDeps) (SolutionEvaluation, error) {
	if err := validateWeights(cfg.Weights); err != nil {
		return SolutionEvaluation{}, err
	}

	var confidences []float64
	assess := func(dimension string) LLMAssessment {
		a, err := deps.LLMAssess(ctx, dimension, input)
		if err != nil {
			return LLMAssessment{Score: 0.5, Confidence: 0}
		}
		confidences = append(confidences, a.Confidence)
		return a
	}

	correctness := evaluateCorrectness(ctx, input, cfg, deps, assess)
	quality := evaluateQuality(input, assess)
	efficiency := evaluateEfficiency(input, assess)
	completeness := evaluateCompleteness(input, assess)
	safety := evaluateSafety(input, assess)

	overall := correctness.Overall*cfg.Weights.Correctness +
		quality.Overall*cfg.Weights.Quality +
		efficiency.Overall*cfg.Weights.Efficiency +
		completeness.Overall*cfg.Weights.Completeness +
		safety.Overall*cfg.Weights.Safety

	confidence := 0.5
	if len(confidences) > 0 {
		var sum float64
		for _, c := range confidences {
			sum += c
		}
		confidence = sum / float64(len(confidences))
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return SolutionEvaluation{
		SolutionID:   input.SolutionID,
		Correctness:  correctness,
		Quality:      quality,
		Efficiency:   efficiency,
		Completeness: completeness,
		Safety:       safety,
		OverallScore: clamp01(overall),
		Confidence:   confidence,
		EvaluatedAt:  now(),
	}, nil
}

func validateWeights(w config.CategoryWeights) error {
	sum := w.Correctness + w.Quality + w.Efficiency + w.Completeness + w.Safety
	if diff := sum - 1.0; diff > 1e-6 || diff < -1e-6 {
		return fmt.Errorf("evaluator category weights sum to %.6f, want 1.0 (+/- 1e-6)", sum)
	}
	return nil
}

func evaluateCorrectness(ctx context.Context, input SolutionInput, cfg Config, deps ComparatorDeps, assess func(string) LLMAssessment) CategoryResult {
	bools := map[string]bool{}
	fields := map[string]float64{}
	var issues []string

	var sumScore, sumWeight float64
	for _, command := range cfg.CorrectnessChecks {
		result, err := deps.SpawnCommand(ctx, command, input)
		if err != nil {
			bools[command] = false
			issues = append(issues, fmt.Sprintf("%s: %v", command, err))
			sumWeight++
			continue
		}
		bools[command] = result.Pass
		value := boolToScore(result.Pass)
		if result.Fraction != nil {
			value = clamp01(*result.Fraction)
			fields[command] = value
		}
		sumScore += value
		sumWeight++
		if !result.Pass {
			issues = append(issues, command+" failed")
		}
	}

	coverage := assess("requirement_coverage")
	edgeCases := assess("edge_case_handling")
	fields["requirement_coverage"] = coverage.Score
	fields["edge_case_handling"] = edgeCases.Score
	sumScore += coverage.Score + edgeCases.Score
	sumWeight += 2

	overall := 0.5
	if sumWeight > 0 {
		overall = clamp01(sumScore / sumWeight)
	}
	return CategoryResult{Overall: overall, Fields: fields, Bools: bools, Issues: issues}
}

func evaluateQuality(input SolutionInput, assess func(string) LLMAssessment) CategoryResult {
	complexity := Complexity(input.SolutionCode)
	duplication := Duplication(input.SolutionCode)
	commentRatio := CommentRatio(input.SolutionCode)

	naming := assess("naming")
	patternAdherence := assess("pattern_adherence")
	errorHandling := assess("error_handling")

	fields := map[string]float64{
		"complexity":        complexity.Score,
		"duplication":       1 - duplication,
		"comments":          commentRatio,
		"naming":            naming.Score,
		"pattern_adherence": patternAdherence.Score,
		"error_handling":    errorHandling.Score,
	}

	overall := clamp01((complexity.Score + (1 - duplication) + commentRatio + naming.Score + patternAdherence.Score + errorHandling.Score) / 6)
	return CategoryResult{Overall: overall, Fields: fields, Bools: map[string]bool{}}
}

func evaluateEfficiency(input SolutionInput, assess func(string) LLMAssessment) CategoryResult {
	algorithmic := assess("algorithmic_efficiency")
	asyncEfficiency := assess("async_efficiency")
	cleanup := ResourceCleanup(input.SolutionCode)

	fields := map[string]float64{
		"algorithmic":      algorithmic.Score,
		"resource_cleanup": boolToScore(cleanup),
		"async_efficiency": asyncEfficiency.Score,
	}
	bools := map[string]bool{"resource_cleanup": cleanup}

	overall := clamp01((algorithmic.Score + boolToScore(cleanup) + asyncEfficiency.Score) / 3)
	return CategoryResult{Overall: overall, Fields: fields, Bools: bools}
}

func evaluateCompleteness(input SolutionInput, assess func(string) LLMAssessment) CategoryResult {
	requirementsMet := assess("requirements_met")
	docsAdded := DocumentationAdded(input.SolutionCode)
	testsRatio := TestsAddedRatio(input.ChangedFiles)
	changelogUpdated := ChangelogUpdated(input.ChangedFiles)

	fields := map[string]float64{
		"requirements_met":   requirementsMet.Score,
		"documentation_added": boolToScore(docsAdded),
		"tests_added":        testsRatio,
		"changelog_updated":  boolToScore(changelogUpdated),
	}
	bools := map[string]bool{
		"documentation_added": docsAdded,
		"changelog_updated":   changelogUpdated,
	}

	overall := clamp01((requirementsMet.Score + boolToScore(docsAdded) + testsRatio + boolToScore(changelogUpdated)) / 4)
	return CategoryResult{Overall: overall, Fields: fields, Bools: bools}
}

func evaluateSafety(input SolutionInput, assess func(string) LLMAssessment) CategoryResult {
	dangerousOps := DangerousOps(input.SolutionCode)
	secretsExposed := SecretsExposed(input.SolutionCode)
	securityReview := assess("security_review")
	rollbackSafe := assess("rollback_safe")

	fields := map[string]float64{
		"no_dangerous_ops":   boolToScore(dangerousOps.Safe),
		"security_review":    securityReview.Score,
		"no_secrets_exposed": boolToScore(secretsExposed.Safe),
		"rollback_safe":      rollbackSafe.Score,
	}
	bools := map[string]bool{
		"no_dangerous_ops":   dangerousOps.Safe,
		"no_secrets_exposed": secretsExposed.Safe,
	}
	var issues []string
	issues = append(issues, dangerousOps.Issues...)
	issues = append(issues, secretsExposed.Issues...)

	overall := clamp01((boolToScore(dangerousOps.Safe) + securityReview.Score + boolToScore(secretsExposed.Safe) + rollbackSafe.Score) / 4)
	return CategoryResult{Overall: overall, Fields: fields, Bools: bools, Issues: issues}
}

func boolToScore(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
