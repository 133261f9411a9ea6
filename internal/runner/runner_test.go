package runner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/heikkila-labs/triagepilot/internal/config"
	"github.com/heikkila-labs/triagepilot/internal/gateway"
)

// fakeRun tracks a single spawned run's scripted lifecycle for the fake
// gateway below.
type fakeRun struct {
	pollsUntilDone int
	polled         int
	output         string
	fail           bool
}

// fakeGateway completes every run after a fixed number of Status polls, so
// tests can exercise the runner's spawn/poll/complete loop deterministically
// without sleeping on real time.
type fakeGateway struct {
	mu      sync.Mutex
	nextID  int
	runs    map[string]*fakeRun
	pollsN  int
	failIDs map[string]bool
}

func newFakeGateway(pollsUntilDone int) *fakeGateway {
	return &fakeGateway{runs: map[string]*fakeRun{}, pollsN: pollsUntilDone, failIDs: map[string]bool{}}
}

func (g *fakeGateway) Spawn(ctx context.Context, req gateway.SpawnRequest) gateway.SpawnResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := fmt.Sprintf("run-%d", g.nextID)
	g.runs[id] = &fakeRun{pollsUntilDone: g.pollsN, output: "Confidence: 90%\nDone: " + req.Label, fail: g.failIDs[req.Label]}
	return gateway.SpawnResult{Accepted: true, RunID: id}
}

func (g *fakeGateway) Status(ctx context.Context, runID string) gateway.StatusResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.runs[runID]
	if !ok {
		return gateway.StatusResult{State: gateway.StatusFailed, Error: "unknown run"}
	}
	r.polled++
	if r.polled < r.pollsUntilDone {
		return gateway.StatusResult{State: gateway.StatusRunning}
	}
	if r.fail {
		return gateway.StatusResult{State: gateway.StatusFailed, Error: "scripted failure"}
	}
	return gateway.StatusResult{State: gateway.StatusCompleted, Output: r.output}
}

func (g *fakeGateway) Cancel(ctx context.Context, runID string) error {
	return nil
}

func plan(n int, limits IterationLimits, criteria CompletionCriteria) *IterationPlan {
	variations := make([]IterationVariation, n)
	for i := range variations {
		variations[i] = IterationVariation{ID: fmt.Sprintf("v%d", i), Label: fmt.Sprintf("v%d", i), Status: VariationPending}
	}
	return &IterationPlan{
		ID:                 "plan-1",
		Task:               TaskHandle{ID: "t1", Title: "fix bug"},
		Strategy:           StrategyParallel,
		Variations:         variations,
		Limits:             limits,
		CompletionCriteria: criteria,
		Status:             PlanPending,
	}
}

func testClock() Clock {
	return Clock{Now: time.Now, Sleep: func(time.Duration) {}}
}

func TestRunnerExecuteWaitForAll(t *testing.T) {
	gw := newFakeGateway(2)
	p := plan(3, IterationLimits{MaxConcurrent: 2, MaxTotal: 3, TotalTimeoutS: 60, PerIterationTimeoutS: 30}, CompletionCriteria{WaitForAll: true})
	r := New(p, gw, config.DefaultScoreWeights(), config.DefaultScorePenalties(), WithClock(testClock()), WithPollInterval(0))

	ctx := context.Background()
	result, err := r.Execute(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.GetStatus() != PlanCompleted {
		t.Fatalf("got status %v, want completed", r.GetStatus())
	}
	if len(r.GetResults()) != 3 {
		t.Fatalf("got %d results, want 3", len(r.GetResults()))
	}
	if len(result.Selected) != 1 {
		t.Fatalf("got %v, want exactly one selected output", result.Selected)
	}
}

func TestRunnerExecuteStopOnFirstSuccess(t *testing.T) {
	gw := newFakeGateway(1)
	p := plan(5, IterationLimits{MaxConcurrent: 5, MaxTotal: 5, TotalTimeoutS: 60, PerIterationTimeoutS: 30}, CompletionCriteria{StopOnFirstSuccess: true})
	r := New(p, gw, config.DefaultScoreWeights(), config.DefaultScorePenalties(), WithClock(testClock()), WithPollInterval(0))

	_, err := r.Execute(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.GetStatus() != PlanCompleted {
		t.Fatalf("got status %v, want completed", r.GetStatus())
	}
	if best := r.GetBestResult(); best == nil {
		t.Fatalf("expected a best result")
	}
}

// TestRunnerNeverExceedsMaxConcurrent is testable property 5 exercised
// end-to-end: across the whole run, no more than MaxConcurrent variations
// are ever in spawned/running state simultaneously.
func TestRunnerNeverExceedsMaxConcurrent(t *testing.T) {
	gw := newFakeGateway(3)
	p := plan(6, IterationLimits{MaxConcurrent: 2, MaxTotal: 6, TotalTimeoutS: 60, PerIterationTimeoutS: 30}, CompletionCriteria{WaitForAll: true})
	r := New(p, gw, config.DefaultScoreWeights(), config.DefaultScorePenalties(), WithClock(testClock()), WithPollInterval(0))

	var maxObservedActive int
	r.OnResult(func(IterationResult) {
		active, _ := r.enforcer.activeAndCompleted()
		if active > maxObservedActive {
			maxObservedActive = active
		}
	})

	if _, err := r.Execute(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if maxObservedActive > 2 {
		t.Fatalf("observed active count %d, want <= 2", maxObservedActive)
	}
}

func TestRunnerTimeoutSynthesizesFailures(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := start
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return cur
	}
	sleep := func(time.Duration) {
		mu.Lock()
		cur = cur.Add(20 * time.Second)
		mu.Unlock()
	}

	gw := newFakeGateway(1000000) // never completes within the timeout window
	p := plan(2, IterationLimits{MaxConcurrent: 2, MaxTotal: 2, TotalTimeoutS: 10, PerIterationTimeoutS: 10}, CompletionCriteria{WaitForAll: true})
	r := New(p, gw, config.DefaultScoreWeights(), config.DefaultScorePenalties(), WithClock(Clock{Now: now, Sleep: sleep}), WithPollInterval(0))

	if _, err := r.Execute(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.GetStatus() != PlanTimeout {
		t.Fatalf("got status %v, want timeout", r.GetStatus())
	}
	for _, res := range r.GetResults() {
		if res.Success {
			t.Fatalf("expected every result to be a synthesized failure, got success for %s", res.VariationID)
		}
	}
}

func TestRunnerStopCancelsExecution(t *testing.T) {
	gw := newFakeGateway(1000000)
	p := plan(2, IterationLimits{MaxConcurrent: 2, MaxTotal: 2, TotalTimeoutS: 3600, PerIterationTimeoutS: 3600}, CompletionCriteria{WaitForAll: true})
	r := New(p, gw, config.DefaultScoreWeights(), config.DefaultScorePenalties(), WithClock(testClock()), WithPollInterval(0))

	r.OnResult(func(IterationResult) {})
	go func() {
		r.Stop()
	}()

	_, err := r.Execute(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.GetStatus() != PlanCancelled && r.GetStatus() != PlanCompleted {
		t.Fatalf("got status %v, want cancelled (or completed if Stop lost the race)", r.GetStatus())
	}
}

func TestRunnerRefillsFreedConcurrencySlot(t *testing.T) {
	gw := newFakeGateway(1)
	p := plan(4, IterationLimits{MaxConcurrent: 1, MaxTotal: 4, TotalTimeoutS: 60, PerIterationTimeoutS: 30}, CompletionCriteria{WaitForAll: true})
	r := New(p, gw, config.DefaultScoreWeights(), config.DefaultScorePenalties(), WithClock(testClock()), WithPollInterval(0))

	if _, err := r.Execute(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.GetResults()) != 4 {
		t.Fatalf("got %d results, want all 4 variations to eventually run under concurrency 1", len(r.GetResults()))
	}
}
