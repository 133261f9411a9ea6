package runner

import (
	"testing"
	"time"
)

func floatPtr(f float64) *float64 { return &f }
func int64Ptr(i int64) *int64     { return &i }

func TestLimitEnforcerMaxConcurrent(t *testing.T) {
	e := newLimitEnforcer(IterationLimits{MaxConcurrent: 2, MaxTotal: 10, TotalTimeoutS: 3600}, nil)

	e.recordSpawn()
	e.recordSpawn()

	allowed, reason := e.canSpawn()
	if allowed {
		t.Fatalf("expected denial at max concurrent")
	}
	if reason != AdmissionDeniedMaxConcurrent {
		t.Fatalf("got reason %v, want AdmissionDeniedMaxConcurrent", reason)
	}
}

// TestLimitEnforcerNeverExceedsConcurrencyCap is testable property 5: the
// active count never exceeds MaxConcurrent across any sequence of
// spawn/complete calls.
func TestLimitEnforcerNeverExceedsConcurrencyCap(t *testing.T) {
	e := newLimitEnforcer(IterationLimits{MaxConcurrent: 3, MaxTotal: 100, TotalTimeoutS: 3600}, nil)

	for i := 0; i < 20; i++ {
		if allowed, _ := e.canSpawn(); allowed {
			e.recordSpawn()
		}
		active, _ := e.activeAndCompleted()
		if active > 3 {
			t.Fatalf("active count %d exceeded cap of 3", active)
		}
		if i%2 == 0 {
			active, _ = e.activeAndCompleted()
			if active > 0 {
				e.recordCompletion(IterationResult{Success: true})
			}
		}
	}
}

func TestLimitEnforcerMaxTotal(t *testing.T) {
	e := newLimitEnforcer(IterationLimits{MaxConcurrent: 10, MaxTotal: 2, TotalTimeoutS: 3600}, nil)
	e.recordSpawn()
	e.recordCompletion(IterationResult{})
	e.recordSpawn()
	e.recordCompletion(IterationResult{})

	allowed, reason := e.canSpawn()
	if allowed || reason != AdmissionDeniedMaxTotal {
		t.Fatalf("got (%v, %v), want denied with AdmissionDeniedMaxTotal", allowed, reason)
	}
}

func TestLimitEnforcerTotalTimeout(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := start
	now := func() time.Time { return cur }
	e := newLimitEnforcer(IterationLimits{MaxConcurrent: 10, MaxTotal: 10, TotalTimeoutS: 60}, now)

	cur = start.Add(61 * time.Second)
	allowed, reason := e.canSpawn()
	if allowed || reason != AdmissionDeniedTotalTimeout {
		t.Fatalf("got (%v, %v), want denied with AdmissionDeniedTotalTimeout", allowed, reason)
	}
}

// TestLimitEnforcerCostCapScenarioS3 mirrors scenario S3: a cost cap should
// deny admission only after the cap is exceeded, regardless of spawn count.
func TestLimitEnforcerCostCapScenarioS3(t *testing.T) {
	cap := 1.0
	e := newLimitEnforcer(IterationLimits{MaxConcurrent: 10, MaxTotal: 10, TotalTimeoutS: 3600, TotalCostCap: floatPtr(cap)}, nil)

	for i := 0; i < 4; i++ {
		if allowed, reason := e.canSpawn(); !allowed {
			t.Fatalf("spawn %d: unexpected denial %v", i, reason)
		}
		e.recordSpawn()
		e.recordCompletion(IterationResult{Usage: UsageMetrics{EstimatedCost: 0.3}})
	}

	allowed, reason := e.canSpawn()
	if allowed || reason != AdmissionDeniedCostCap {
		t.Fatalf("got (%v, %v), want denied with AdmissionDeniedCostCap after exceeding cap", allowed, reason)
	}
}

func TestLimitEnforcerTokenCap(t *testing.T) {
	e := newLimitEnforcer(IterationLimits{MaxConcurrent: 10, MaxTotal: 10, TotalTimeoutS: 3600, TotalTokenCap: int64Ptr(1000)}, nil)
	e.recordSpawn()
	e.recordCompletion(IterationResult{Usage: UsageMetrics{TotalTokens: 1500}})

	allowed, reason := e.canSpawn()
	if allowed || reason != AdmissionDeniedTokenCap {
		t.Fatalf("got (%v, %v), want denied with AdmissionDeniedTokenCap", allowed, reason)
	}
}

// TestLimitEnforcerReasonStable is testable property 6: canSpawn's reason is
// stable (doesn't flap) across repeated calls with unchanged state.
func TestLimitEnforcerReasonStable(t *testing.T) {
	e := newLimitEnforcer(IterationLimits{MaxConcurrent: 1, MaxTotal: 10, TotalTimeoutS: 3600}, nil)
	e.recordSpawn()

	_, first := e.canSpawn()
	for i := 0; i < 5; i++ {
		_, reason := e.canSpawn()
		if reason != first {
			t.Fatalf("reason flapped: first=%v now=%v", first, reason)
		}
	}
}

func TestGetIterationTimeoutMsCappedByRemaining(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := start
	now := func() time.Time { return cur }
	e := newLimitEnforcer(IterationLimits{MaxConcurrent: 10, MaxTotal: 10, TotalTimeoutS: 10, PerIterationTimeoutS: 30}, now)

	cur = start.Add(8 * time.Second)
	got := e.getIterationTimeoutMs()
	want := int64(2000)
	if got != want {
		t.Fatalf("got %d, want %d (capped by remaining total time)", got, want)
	}
}
