package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heikkila-labs/triagepilot/internal/config"
	"github.com/heikkila-labs/triagepilot/internal/evaluator"
	"github.com/heikkila-labs/triagepilot/internal/experiment"
	"github.com/heikkila-labs/triagepilot/internal/gateway"
	"github.com/heikkila-labs/triagepilot/internal/pattern"
	"github.com/heikkila-labs/triagepilot/internal/picker"
	"github.com/heikkila-labs/triagepilot/internal/ranker"
	"github.com/heikkila-labs/triagepilot/internal/runner"
	"github.com/heikkila-labs/triagepilot/internal/source"
	"github.com/heikkila-labs/triagepilot/internal/task"
	"github.com/heikkila-labs/triagepilot/internal/variation"
	"github.com/heikkila-labs/triagepilot/internal/view"
)

// namedAdapter pairs a configured Task Source Adapter with the name it was
// registered under, so a picked task can be written back to the source it
// came from.
type namedAdapter struct {
	name    string
	adapter source.Adapter
}

// Driver owns one pipeline tick: pick a task, run variations against it,
// evaluate and rank the results, and act on the outcome.
type Driver struct {
	cfg       *config.Config
	logger    *slog.Logger
	gw        gateway.Gateway
	sources   []namedAdapter
	patterns  *pattern.Store
	expStates map[string]*experiment.State // agentID -> loaded state
	pick      *picker.Picker

	now func() time.Time
}

// NewDriver wires every pipeline component against cfg.
func NewDriver(cfg *config.Config, logger *slog.Logger, gw gateway.Gateway, sources []namedAdapter, patterns *pattern.Store) *Driver {
	return &Driver{
		cfg:       cfg,
		logger:    logger,
		gw:        gw,
		sources:   sources,
		patterns:  patterns,
		expStates: make(map[string]*experiment.State),
		pick:      picker.New(),
		now:       time.Now,
	}
}

// experimentState lazily loads and caches the agent-scoped A/B state.
func (d *Driver) experimentState(agentID string) *experiment.State {
	if s, ok := d.expStates[agentID]; ok {
		return s
	}
	s := experiment.LoadState(d.cfg.Experiment.StateDir, agentID, d.cfg.Experiment.MinSamplesForSignificance)
	d.expStates[agentID] = s
	return s
}

// saveExperimentStates flushes every loaded A/B state back to disk.
func (d *Driver) saveExperimentStates() {
	for agentID, s := range d.expStates {
		if err := s.Save(d.cfg.Experiment.StateDir, agentID); err != nil {
			d.logger.Error("failed to save experiment state", "agent_id", agentID, "error", err)
		}
	}
}

// tickResult summarizes one RunTick invocation for logging.
type tickResult struct {
	Picked    bool
	TaskID    string
	Accepted  bool
	WinnerID  string
	SummaryID string
}

// RunTick picks the single best task across every configured source, runs
// an iteration plan against it, evaluates and ranks the results, and
// writes the outcome back to the task's source.
func (d *Driver) RunTick(ctx context.Context) (tickResult, error) {
	picked, src, err := d.pickAcrossSources()
	if err != nil {
		return tickResult{}, err
	}
	if picked == nil {
		d.logger.Info("no task available to pick this tick")
		return tickResult{}, nil
	}
	d.logger.Info("picked task", "task_id", picked.ID, "source", src.name, "title", picked.Title)

	agentID := src.name
	tracker := pattern.NewTracker(d.patterns, agentID, d.cfg.Pattern)

	plan := d.buildPlan(*picked)
	sessionKey := picked.ID
	state := d.experimentState(agentID)
	strategyInstruction := state.BuildStrategyInstruction(state.Experiments, sessionKey)
	if strategyInstruction != "" {
		for i := range plan.Variations {
			plan.Variations[i].AdditionalContext = joinNonEmpty(plan.Variations[i].AdditionalContext, strategyInstruction)
		}
	}

	r := runner.New(plan, d.gw, d.cfg.Runner.ScoreWeights, d.cfg.Runner.ScorePenalties, runner.WithPollInterval(d.cfg.Runner.PollInterval.Duration))
	if _, err := r.Execute(ctx); err != nil {
		return tickResult{}, fmt.Errorf("run iteration plan: %w", err)
	}

	evals, err := d.evaluateResults(ctx, *picked, r.GetResults())
	if err != nil {
		return tickResult{}, err
	}
	if len(evals) == 0 {
		d.logger.Warn("no successful iteration results to evaluate", "task_id", picked.ID)
		if err := tracker.RecordEventObservation("task_picked", "no_results", 0, nil); err != nil {
			d.logger.Error("record pattern observation failed", "error", err)
		}
		return tickResult{Picked: true, TaskID: picked.ID}, nil
	}

	ranking := ranker.RankSolutions(evals)
	accept := ranker.ShouldAutoAccept(ranking, d.cfg.Ranker)
	winner := ranking.Winner()

	summary := view.BuildSummaryView(ranking, accept, picked.ID, picked.Title, 0, d.now())
	d.logger.Info("ranked solutions",
		"task_id", picked.ID,
		"accepted", accept.Accept,
		"reason", accept.Reason,
		"iteration_count", len(summary.Iterations),
	)

	if err := d.applyOutcome(src, *picked, accept, winner); err != nil {
		return tickResult{}, err
	}

	d.recordExperimentFeedback(agentID, sessionKey, accept.Accept)
	d.recordPatternObservations(tracker, *picked, accept)
	d.saveExperimentStates()

	return tickResult{
		Picked:   true,
		TaskID:   picked.ID,
		Accepted: accept.Accept,
		WinnerID: func() string {
			if winner != nil {
				return winner.Evaluation.SolutionID
			}
			return ""
		}(),
	}, nil
}

// pickAcrossSources lists every configured source's tasks and runs the
// picker once over the pooled candidates, remembering which source each
// surviving task came from so a win can be written back to the right place.
func (d *Driver) pickAcrossSources() (*task.PickableTask, namedAdapter, error) {
	var pool []task.PickableTask
	owner := make(map[string]namedAdapter)

	for _, s := range d.sources {
		if !s.adapter.IsConfigured() {
			continue
		}
		tasks, err := s.adapter.ListTasks()
		if err != nil {
			d.logger.Error("list tasks failed", "source", s.name, "error", err)
			continue
		}
		for _, t := range tasks {
			owner[t.ID] = s
			pool = append(pool, t)
		}
	}

	result := d.pick.PickNext(pool, picker.Filter{}, d.cfg.Picker.Weights, d.cfg.Picker.PreferredLabels)
	if result.Task == nil {
		return nil, namedAdapter{}, nil
	}
	return result.Task, owner[result.Task.ID], nil
}

// buildPlan constructs an IterationPlan for t per the configured runner
// strategy.
func (d *Driver) buildPlan(t task.PickableTask) *runner.IterationPlan {
	tier := variation.DetectComplexity(t.Labels, 60)
	thinking := variation.ThinkingLevel(tier)

	var variations []runner.IterationVariation
	switch d.cfg.Runner.Strategy {
	case "prompt_variants":
		variations = variation.ByPromptVariants(firstOr(d.cfg.Runner.Models, "claude-sonnet"), thinking, toPromptVariants(d.cfg.Runner.PromptVariants))
	case "hybrid":
		variations = variation.Hybrid(d.cfg.Runner.Models, thinking, toPromptVariants(d.cfg.Runner.PromptVariants))
	default:
		variations = variation.ByModels(d.cfg.Runner.Models, thinking)
	}

	limits := d.cfg.Runner.Limits
	return &runner.IterationPlan{
		ID:       uuid.NewString(),
		Task:     runner.TaskHandle{ID: t.ID, Title: t.Title},
		Strategy: runner.StrategyParallel,
		Variations: variations,
		Limits: runner.IterationLimits{
			MaxConcurrent:        limits.MaxConcurrent,
			MaxTotal:             limits.MaxTotal,
			PerIterationTimeoutS: int(limits.PerIterationTimeout.Duration.Seconds()),
			TotalTimeoutS:        int(limits.TotalTimeout.Duration.Seconds()),
			TotalCostCap:         floatPtrOrNil(limits.TotalCostCap),
			TotalTokenCap:        int64PtrOrNil(limits.TotalTokenCap),
		},
		CompletionCriteria: runner.CompletionCriteria{WaitForAll: true},
		Status:             runner.PlanPending,
		CreatedAt:          d.now(),
	}
}

// evaluateResults runs the solution evaluator over every successful
// iteration result.
func (d *Driver) evaluateResults(ctx context.Context, t task.PickableTask, results []runner.IterationResult) ([]evaluator.SolutionEvaluation, error) {
	evalCfg := evaluator.Config{
		Weights:           d.cfg.Evaluator.CategoryWeights,
		CorrectnessChecks: []string{"go build ./...", "go vet ./..."},
	}
	deps := evaluator.ComparatorDeps{
		SpawnCommand: runCheckCommand,
		LLMAssess:    heuristicLLMAssess,
		Now:          d.now,
	}

	var out []evaluator.SolutionEvaluation
	for _, r := range results {
		if !r.Success {
			continue
		}
		input := evaluator.SolutionInput{
			SolutionID:      r.VariationID,
			IterationID:     r.RunID,
			TaskDescription: t.Title,
			SolutionCode:    r.Output,
		}
		eval, err := evaluator.Evaluate(ctx, input, evalCfg, deps)
		if err != nil {
			return nil, fmt.Errorf("evaluate solution %s: %w", r.VariationID, err)
		}
		out = append(out, eval)
	}
	return out, nil
}

// applyOutcome updates the task's status and leaves a comment explaining
// the decision, per the winner's accept/reject verdict.
func (d *Driver) applyOutcome(src namedAdapter, t task.PickableTask, accept ranker.AcceptDecision, winner *ranker.RankedSolution) error {
	if winner == nil {
		return src.adapter.AddComment(t.ID, "No solution produced a usable result this iteration.")
	}

	if accept.Accept {
		if err := src.adapter.UpdateStatus(t.ID, task.StatusReview); err != nil {
			return err
		}
		return src.adapter.AddComment(t.ID, fmt.Sprintf(
			"Auto-accepted solution %s (score %.2f, confidence %.2f). Moved to review.",
			winner.Evaluation.SolutionID, winner.Evaluation.OverallScore, winner.Evaluation.Confidence,
		))
	}

	return src.adapter.AddComment(t.ID, fmt.Sprintf(
		"Best candidate %s scored %.2f but needs manual review: %s.",
		winner.Evaluation.SolutionID, winner.Evaluation.OverallScore, accept.Reason,
	))
}

// recordExperimentFeedback re-derives each active experiment's assignment
// for sessionKey (the same deterministic hash BuildStrategyInstruction used
// earlier this tick) and records the tick's accept/reject outcome against
// it.
func (d *Driver) recordExperimentFeedback(agentID, sessionKey string, positive bool) {
	state := d.experimentState(agentID)
	for _, exp := range state.Experiments {
		if !exp.Active {
			continue
		}
		variant := experiment.Assign(exp, sessionKey)
		if variant == nil {
			continue
		}
		state.RecordVariantFeedback(exp.ID, variant.ID, positive)
	}
}

func (d *Driver) recordPatternObservations(tracker *pattern.Tracker, t task.PickableTask, accept ranker.AcceptDecision) {
	followUp := "rejected"
	if accept.Accept {
		followUp = "accepted"
	}
	if err := tracker.RecordEventObservation("task_evaluated", followUp, 0, nil); err != nil {
		d.logger.Error("record pattern observation failed", "error", err)
	}
	if err := tracker.RecordTimeObservation("task_evaluated", nil); err != nil {
		d.logger.Error("record pattern time observation failed", "error", err)
	}
}

func joinNonEmpty(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + "\n" + b
}

func firstOr(models []string, fallback string) string {
	if len(models) == 0 {
		return fallback
	}
	return models[0]
}

func toPromptVariants(cfgVariants []config.PromptVariantCfg) []variation.PromptVariant {
	out := make([]variation.PromptVariant, 0, len(cfgVariants))
	for _, v := range cfgVariants {
		out = append(out, variation.PromptVariant{ID: v.ID, AdditionalContext: v.AdditionalContext, Constraints: v.Constraints})
	}
	if len(out) == 0 {
		out = append(out, variation.PromptVariant{ID: "default"})
	}
	return out
}

func floatPtrOrNil(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}

func int64PtrOrNil(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
