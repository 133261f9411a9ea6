package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/heikkila-labs/triagepilot/internal/config"
	"github.com/heikkila-labs/triagepilot/internal/gateway"
)

// Clock abstracts time.Now and time.Sleep for deterministic tests.
type Clock struct {
	Now   func() time.Time
	Sleep func(d time.Duration)
}

func defaultClock() Clock {
	return Clock{Now: time.Now, Sleep: time.Sleep}
}

// Runner executes a single IterationPlan by spawning and managing parallel
// sub-agent work units via a Gateway, collecting their results, and folding
// them into a final AggregateResult.
//
// No two Runners mutate the same plan; spawning and polling of distinct
// variations never interleave with mutation of another variation's status
// (enforced here by a single mutex over the plan's variation slice).
type Runner struct {
	plan    *IterationPlan
	gw      gateway.Gateway
	weights config.ScoreWeights
	pens    config.ScorePenalties

	pollInterval time.Duration
	clock        Clock

	mu        sync.Mutex // guards plan.Variations entries + stopped + runStart
	enforcer  *limitEnforcer
	collector *collector
	stopped   bool
	runStart  map[string]time.Time // variation id -> spawn timestamp
}

// Option configures a Runner at construction.
type Option func(*Runner)

// WithClock overrides the runner's time source, for deterministic tests
// (e.g. a fake Sleep and a monotonically advancing Now).
func WithClock(c Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithPollInterval overrides the wait loop's poll cadence (default 1s).
func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) { r.pollInterval = d }
}

// New constructs a Runner over plan, to be driven against gw.
func New(plan *IterationPlan, gw gateway.Gateway, weights config.ScoreWeights, pens config.ScorePenalties, opts ...Option) *Runner {
	r := &Runner{
		plan:         plan,
		gw:           gw,
		weights:      weights,
		pens:         pens,
		pollInterval: time.Second,
		clock:        defaultClock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.enforcer = newLimitEnforcer(plan.Limits, r.clock.Now)
	r.collector = newCollector(plan.CompletionCriteria, len(plan.Variations))
	return r
}

// OnResult registers a listener fired once per completed variation.
func (r *Runner) OnResult(listener ResultListener) {
	r.collector.onResult(listener)
}

// buildPrompt constructs the Markdown prompt document for a variation.
func buildPrompt(task TaskHandle, v IterationVariation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task: %s\n\n", task.Title)
	if task.Description != "" {
		b.WriteString(task.Description)
		b.WriteString("\n\n")
	}
	b.WriteString("## Approach\n")
	b.WriteString(v.AdditionalContext)
	b.WriteString("\n\n## Constraints\n")
	for _, c := range v.Constraints {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	b.WriteString("\n## Output Requirements\n")
	b.WriteString("Report an explicit confidence score from 0-100 and state any known limitations of the solution.\n")
	return b.String()
}

// variationIndex finds a variation by id; caller must hold r.mu.
func (r *Runner) variationIndex(id string) int {
	for i := range r.plan.Variations {
		if r.plan.Variations[i].ID == id {
			return i
		}
	}
	return -1
}

// spawnVariation attempts to spawn one pending variation, honoring the
// limit enforcer. Exposed as a lower-level hook for deterministic testing;
// also invoked internally by the spawn loops.
func (r *Runner) spawnVariation(ctx context.Context, variationID string) (bool, AdmissionResult) {
	allowed, reason := r.enforcer.canSpawn()
	if !allowed {
		return false, reason
	}

	r.mu.Lock()
	idx := r.variationIndex(variationID)
	if idx < 0 || r.plan.Variations[idx].Status != VariationPending {
		r.mu.Unlock()
		return false, AdmissionAllowed
	}
	v := r.plan.Variations[idx]
	r.mu.Unlock()

	prompt := buildPrompt(r.plan.Task, v)
	timeoutS := int(r.enforcer.getIterationTimeoutMs() / 1000)

	result := r.gw.Spawn(ctx, gateway.SpawnRequest{
		TaskPrompt: prompt,
		Label:      v.Label,
		Model:      v.Model,
		Thinking:   v.ThinkingLevel,
		TimeoutS:   timeoutS,
	})

	startedAt := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	idx = r.variationIndex(variationID)
	if idx < 0 {
		return false, AdmissionAllowed
	}
	if !result.Accepted {
		r.plan.Variations[idx].Status = VariationFailed
		failResult := IterationResult{
			VariationID: variationID,
			StartedAt:   startedAt,
			EndedAt:     startedAt,
			Success:     false,
			Error:       result.Error,
		}
		failResult.Metrics.OverallScore = ScoreResult(failResult, r.weights, r.pens)
		r.plan.Variations[idx].Result = &failResult
		r.enforcer.recordSpawn()
		r.enforcer.recordCompletion(failResult)
		r.collector.insert(failResult)
		return false, AdmissionAllowed
	}

	r.plan.Variations[idx].Status = VariationSpawned
	r.plan.Variations[idx].RunID = result.RunID
	r.enforcer.recordSpawn()
	if r.runStart == nil {
		r.runStart = make(map[string]time.Time)
	}
	r.runStart[variationID] = startedAt
	return true, AdmissionAllowed
}

// execute drives the plan from pending to a terminal state and returns the
// folded aggregate result.
func (r *Runner) execute(ctx context.Context) (AggregateResult, error) {
	r.plan.Status = PlanRunning
	started := r.clock.Now()
	r.plan.StartedAt = &started

	r.initRunStart()

	r.mu.Lock()
	pending := make([]string, 0, len(r.plan.Variations))
	for _, v := range r.plan.Variations {
		pending = append(pending, v.ID)
	}
	r.mu.Unlock()
	sortByPriority(pending, r.priorityOf)

	for _, id := range pending {
		ok, reason := r.spawnVariation(ctx, id)
		if !ok && reason != AdmissionAllowed {
			break
		}
	}

	for {
		if r.isStopped() {
			r.finish(PlanCancelled)
			break
		}
		if r.collector.isComplete() {
			r.finish(PlanCompleted)
			break
		}
		if r.enforcer.getRemainingTimeMs() <= 0 {
			r.timeoutActiveVariations()
			r.finish(PlanTimeout)
			break
		}

		r.pollSpawned(ctx)
		r.clock.Sleep(r.pollInterval)
	}

	result := Aggregate(r.collector.getResults(), AggregateBest)
	return result, nil
}

func (r *Runner) initRunStart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runStart == nil {
		r.runStart = make(map[string]time.Time)
	}
}

func (r *Runner) priorityOf(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.variationIndex(id)
	if idx < 0 {
		return 0
	}
	return r.plan.Variations[idx].Priority
}

func sortByPriority(ids []string, priorityOf func(string) int) {
	for i := 1; i < len(ids); i++ {
		j := i
		for j > 0 && priorityOf(ids[j]) < priorityOf(ids[j-1]) {
			ids[j], ids[j-1] = ids[j-1], ids[j]
			j--
		}
	}
}

func (r *Runner) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped || r.plan.Status == PlanCancelled
}

// pollSpawned checks every in-flight variation concurrently (each is an
// independent Gateway.Status call, typically a container inspect or process
// poll) and, for every completion observed, attempts to spawn the next
// pending variation if limits allow.
func (r *Runner) pollSpawned(ctx context.Context) {
	r.mu.Lock()
	var inFlight []string
	for _, v := range r.plan.Variations {
		if v.Status == VariationSpawned || v.Status == VariationRunning {
			inFlight = append(inFlight, v.ID)
		}
	}
	r.mu.Unlock()

	if len(inFlight) == 0 {
		return
	}

	completed := make([]bool, len(inFlight))
	var g errgroup.Group
	for i, id := range inFlight {
		i, id := i, id
		g.Go(func() error {
			completed[i] = r.pollOne(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	for _, done := range completed {
		if done {
			r.spawnNextPending(ctx)
		}
	}
}

// spawnNextPending attempts to spawn the single next pending variation, in
// priority order, if the limit enforcer allows it.
func (r *Runner) spawnNextPending(ctx context.Context) {
	r.mu.Lock()
	var nextPending string
	bestPriority := 0
	for _, v := range r.plan.Variations {
		if v.Status == VariationPending && (nextPending == "" || v.Priority < bestPriority) {
			nextPending = v.ID
			bestPriority = v.Priority
		}
	}
	r.mu.Unlock()

	if nextPending != "" {
		r.spawnVariation(ctx, nextPending)
	}
}

// pollOne checks a single in-flight variation's status and, if it has
// reached a terminal state, records its result. Reports whether a
// completion (success or failure) was recorded, so the caller knows a
// concurrency slot just freed up.
func (r *Runner) pollOne(ctx context.Context, variationID string) bool {
	r.mu.Lock()
	idx := r.variationIndex(variationID)
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	runID := r.plan.Variations[idx].RunID
	startedAt := r.runStart[variationID]
	r.mu.Unlock()

	status := r.gw.Status(ctx, runID)

	switch status.State {
	case gateway.StatusRunning:
		r.mu.Lock()
		idx = r.variationIndex(variationID)
		if idx >= 0 && r.plan.Variations[idx].Status == VariationSpawned {
			r.plan.Variations[idx].Status = VariationRunning
		}
		r.mu.Unlock()
		return false
	case gateway.StatusCompleted:
		r.finishVariation(variationID, startedAt, status.Output, true, "")
		return true
	default:
		r.finishVariation(variationID, startedAt, "", false, status.Error)
		return true
	}
}

func (r *Runner) finishVariation(variationID string, startedAt time.Time, output string, success bool, errMsg string) {
	endedAt := r.clock.Now()
	result := IterationResult{
		VariationID: variationID,
		StartedAt:   startedAt,
		EndedAt:     endedAt,
		DurationMs:  endedAt.Sub(startedAt).Milliseconds(),
		Output:      output,
		OutputType:  OutputText,
		Success:     success,
		Error:       errMsg,
	}
	if success {
		result.Metrics.Confidence = ParseConfidence(output)
	}
	result.Metrics.OverallScore = ScoreResult(result, r.weights, r.pens)

	r.mu.Lock()
	idx := r.variationIndex(variationID)
	if idx >= 0 {
		if success {
			r.plan.Variations[idx].Status = VariationCompleted
		} else {
			r.plan.Variations[idx].Status = VariationFailed
		}
		r.plan.Variations[idx].Result = &result
	}
	r.mu.Unlock()

	r.enforcer.recordCompletion(result)
	r.collector.insert(result)
}

// timeoutActiveVariations synthesizes failing results for every variation
// still spawned/running once the plan's total timeout has elapsed.
func (r *Runner) timeoutActiveVariations() {
	r.mu.Lock()
	var active []string
	for _, v := range r.plan.Variations {
		if v.Status == VariationSpawned || v.Status == VariationRunning {
			active = append(active, v.ID)
		}
	}
	r.mu.Unlock()

	for _, id := range active {
		r.mu.Lock()
		startedAt := r.runStart[id]
		idx := r.variationIndex(id)
		r.mu.Unlock()
		if idx < 0 {
			continue
		}

		endedAt := r.clock.Now()
		result := IterationResult{
			VariationID: id,
			StartedAt:   startedAt,
			EndedAt:     endedAt,
			DurationMs:  endedAt.Sub(startedAt).Milliseconds(),
			Success:     false,
			Error:       "timeout",
		}
		result.Metrics.OverallScore = ScoreResult(result, r.weights, r.pens)

		r.mu.Lock()
		idx = r.variationIndex(id)
		if idx >= 0 {
			r.plan.Variations[idx].Status = VariationTimeout
			r.plan.Variations[idx].Result = &result
		}
		r.mu.Unlock()

		r.enforcer.recordCompletion(result)
		r.collector.insert(result)
	}
}

func (r *Runner) finish(status PlanStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.plan.CompletedAt != nil {
		return
	}
	now := r.clock.Now()
	r.plan.Status = status
	r.plan.CompletedAt = &now
}

// Execute runs the plan to completion (or cancellation/timeout) and
// returns the aggregated result.
func (r *Runner) Execute(ctx context.Context) (AggregateResult, error) {
	result, err := r.execute(ctx)
	if err != nil {
		r.finish(PlanFailed)
		return AggregateResult{}, err
	}
	return result, nil
}

// Stop marks the plan cancelled; currently spawned variations are left to
// time out rather than being signaled directly.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
}

// GetStatus returns the plan's current status.
func (r *Runner) GetStatus() PlanStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.plan.Status
}

// GetResults returns every result inserted so far.
func (r *Runner) GetResults() []IterationResult {
	return r.collector.getResults()
}

// GetBestResult returns the highest-scoring successful result observed so
// far, or nil if none have succeeded yet.
func (r *Runner) GetBestResult() *IterationResult {
	return r.collector.getBestResult()
}
