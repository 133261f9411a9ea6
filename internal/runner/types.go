// Package runner implements the iteration runner: parallel spawning of
// sub-agent work units against an IterationPlan under concurrent/total/
// cost/token/timeout limits, result collection, and aggregation.
package runner

import "time"

// VariationStatus is the lifecycle state of a single IterationVariation.
// Transitions are monotonic through pending -> spawned -> running, then
// exactly one terminal transition into {completed, failed, timeout, skipped}.
type VariationStatus string

const (
	VariationPending   VariationStatus = "pending"
	VariationSpawned   VariationStatus = "spawned"
	VariationRunning   VariationStatus = "running"
	VariationCompleted VariationStatus = "completed"
	VariationFailed    VariationStatus = "failed"
	VariationTimeout   VariationStatus = "timeout"
	VariationSkipped   VariationStatus = "skipped"
)

// Terminal reports whether this status ends the variation's lifecycle.
func (s VariationStatus) Terminal() bool {
	switch s {
	case VariationCompleted, VariationFailed, VariationTimeout, VariationSkipped:
		return true
	default:
		return false
	}
}

// IterationVariation is one concrete parameterization of a task to be
// solved by a sub-agent.
type IterationVariation struct {
	ID                string
	Label             string
	Priority          int // lower = sooner
	Model             string
	ThinkingLevel     string // "none" | "low" | "medium" | "high"
	PromptVariantID   string
	AdditionalContext string
	Constraints       []string
	Temperature       *float64

	Status VariationStatus
	RunID  string
	Result *IterationResult
}

// Strategy is recorded on the plan; the runner does not read it. Spawn order
// follows each variation's Priority, and the final aggregation fold is
// always "best".
type Strategy string

const (
	StrategyParallel   Strategy = "parallel"
	StrategySequential Strategy = "sequential"
	StrategyTournament Strategy = "tournament"
	StrategyAdaptive   Strategy = "adaptive"
)

// PlanStatus is the lifecycle state of an IterationPlan.
type PlanStatus string

const (
	PlanPending   PlanStatus = "pending"
	PlanRunning   PlanStatus = "running"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
	PlanTimeout   PlanStatus = "timeout"
	PlanCancelled PlanStatus = "cancelled"
)

// TaskHandle is the minimal task reference a plan prompts against.
type TaskHandle struct {
	ID          string
	Title       string
	Description string
}

// IterationLimits bounds a plan's resource consumption.
type IterationLimits struct {
	MaxConcurrent          int
	MaxTotal               int
	PerIterationTimeoutS   int
	TotalTimeoutS          int
	TotalCostCap           *float64
	TotalTokenCap          *int64
}

// CompletionCriteria is the predicate the collector evaluates after every
// inserted result.
type CompletionCriteria struct {
	MinAcceptableScore      *float64
	MinSuccessfulVariations *int
	WaitForAll              bool
	StopOnFirstSuccess      bool
}

// UsageMetrics records token/cost accounting for one result.
type UsageMetrics struct {
	InputTokens   int64
	OutputTokens  int64
	TotalTokens   int64
	EstimatedCost float64
}

// ResultMetrics holds the scoring inputs and derived overall score for one
// IterationResult.
type ResultMetrics struct {
	Confidence     *float64
	Completeness   *float64
	CodeQuality    *float64
	Responsiveness *float64
	OverallScore   float64
}

// OutputType classifies the shape of a variation's raw output.
type OutputType string

const (
	OutputCode       OutputType = "code"
	OutputText       OutputType = "text"
	OutputStructured OutputType = "structured"
	OutputMixed      OutputType = "mixed"
)

// IterationResult is the outcome of one spawned variation.
//
// Invariant: Success true implies Error is empty; Success false implies
// Metrics.OverallScore is penalty-derived rather than model-derived.
type IterationResult struct {
	VariationID string
	RunID       string
	SessionKey  string
	StartedAt   time.Time
	EndedAt     time.Time
	DurationMs  int64
	Output      string
	OutputType  OutputType
	Metrics     ResultMetrics
	Usage       UsageMetrics
	Success     bool
	Error       string
}

// IterationPlan owns a single run of an iteration pipeline: spawn, poll,
// aggregate.
//
// Invariant: CompletedAt is set iff Status is one of the terminal values;
// at most one "run" of a plan ever executes; Variations is not grown after
// Status leaves "pending" (the runner may only mutate Status/Result on
// each existing entry).
type IterationPlan struct {
	ID                 string
	Task               TaskHandle
	Strategy           Strategy
	Variations         []IterationVariation
	Limits             IterationLimits
	CompletionCriteria CompletionCriteria
	Status             PlanStatus
	CreatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
}

// AggregateResult is the folded outcome of a completed plan's results.
type AggregateResult struct {
	Selected   []string // output strings selected by the strategy
	Confidence float64
	Reasoning  string
}
