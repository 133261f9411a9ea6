package runner

import (
	"sync"
	"time"
)

// AdmissionResult is the outcome of a canSpawn() check.
type AdmissionResult int

const (
	AdmissionAllowed AdmissionResult = iota
	AdmissionDeniedMaxConcurrent
	AdmissionDeniedMaxTotal
	AdmissionDeniedTotalTimeout
	AdmissionDeniedCostCap
	AdmissionDeniedTokenCap
)

func (r AdmissionResult) String() string {
	switch r {
	case AdmissionAllowed:
		return "allowed"
	case AdmissionDeniedMaxConcurrent:
		return "Max concurrent iterations reached"
	case AdmissionDeniedMaxTotal:
		return "Max total iterations reached"
	case AdmissionDeniedTotalTimeout:
		return "Total timeout exceeded"
	case AdmissionDeniedCostCap:
		return "Total cost limit exceeded"
	case AdmissionDeniedTokenCap:
		return "Total token limit exceeded"
	default:
		return "unknown"
	}
}

// limitEnforcer tracks running totals against a plan's IterationLimits and
// answers "may I spawn?" with a single, stable reason per call. Mutated
// only by the owning runner: single-writer.
type limitEnforcer struct {
	mu sync.Mutex

	limits    IterationLimits
	startTime time.Time
	now       func() time.Time

	activeCount    int
	completedCount int
	totalCost      float64
	totalTokens    int64
}

func newLimitEnforcer(limits IterationLimits, now func() time.Time) *limitEnforcer {
	if now == nil {
		now = time.Now
	}
	return &limitEnforcer{limits: limits, startTime: now(), now: now}
}

// canSpawn reports whether a new variation may be spawned right now. The
// first failing clause determines the reason; the reason is stable under
// identical state.
func (e *limitEnforcer) canSpawn() (bool, AdmissionResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.activeCount >= e.limits.MaxConcurrent {
		return false, AdmissionDeniedMaxConcurrent
	}
	if e.activeCount+e.completedCount >= e.limits.MaxTotal {
		return false, AdmissionDeniedMaxTotal
	}
	elapsed := e.now().Sub(e.startTime)
	if elapsed > time.Duration(e.limits.TotalTimeoutS)*time.Second {
		return false, AdmissionDeniedTotalTimeout
	}
	if e.limits.TotalCostCap != nil && e.totalCost > *e.limits.TotalCostCap {
		return false, AdmissionDeniedCostCap
	}
	if e.limits.TotalTokenCap != nil && e.totalTokens > *e.limits.TotalTokenCap {
		return false, AdmissionDeniedTokenCap
	}
	return true, AdmissionAllowed
}

// recordSpawn marks one more variation as in flight.
func (e *limitEnforcer) recordSpawn() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activeCount++
}

// recordCompletion marks a variation as finished and accumulates its usage.
func (e *limitEnforcer) recordCompletion(result IterationResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activeCount--
	if e.activeCount < 0 {
		e.activeCount = 0
	}
	e.completedCount++
	e.totalCost += result.Usage.EstimatedCost
	e.totalTokens += result.Usage.TotalTokens
}

// getRemainingTimeMs returns the milliseconds left before the plan's total
// timeout, floored at zero.
func (e *limitEnforcer) getRemainingTimeMs() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := time.Duration(e.limits.TotalTimeoutS) * time.Second
	elapsed := e.now().Sub(e.startTime)
	remaining := total - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining.Milliseconds()
}

// getIterationTimeoutMs caps the configured per-iteration timeout by the
// plan's remaining total time.
func (e *limitEnforcer) getIterationTimeoutMs() int64 {
	perIteration := time.Duration(e.limits.PerIterationTimeoutS) * time.Second
	remaining := e.getRemainingTimeMs()
	if perIteration.Milliseconds() < remaining {
		return perIteration.Milliseconds()
	}
	return remaining
}

// activeAndCompleted returns a snapshot of the running totals, for tests
// that assert on the concurrency cap invariant.
func (e *limitEnforcer) activeAndCompleted() (active, completed int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeCount, e.completedCount
}
