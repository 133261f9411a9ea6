package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/heikkila-labs/triagepilot/internal/config"
)

type fakeGateway struct {
	spawnCalls int
}

func (f *fakeGateway) Spawn(ctx context.Context, req SpawnRequest) SpawnResult {
	f.spawnCalls++
	return SpawnResult{Accepted: true, RunID: "run-1"}
}

func (f *fakeGateway) Status(ctx context.Context, runID string) StatusResult {
	return StatusResult{State: StatusCompleted, Output: "done"}
}

func (f *fakeGateway) Cancel(ctx context.Context, runID string) error { return nil }

func TestRateLimitedDelegatesSpawn(t *testing.T) {
	fake := &fakeGateway{}
	gw := NewRateLimited(fake, 100, 10)

	result := gw.Spawn(context.Background(), SpawnRequest{TaskPrompt: "do it"})
	if !result.Accepted || result.RunID != "run-1" {
		t.Fatalf("Spawn = %+v, want accepted run-1", result)
	}
	if fake.spawnCalls != 1 {
		t.Errorf("inner Spawn called %d times, want 1", fake.spawnCalls)
	}
}

func TestRateLimitedThrottles(t *testing.T) {
	fake := &fakeGateway{}
	gw := NewRateLimited(fake, 1, 1)

	start := time.Now()
	gw.Spawn(context.Background(), SpawnRequest{})
	gw.Spawn(context.Background(), SpawnRequest{})
	elapsed := time.Since(start)

	if elapsed < 500*time.Millisecond {
		t.Errorf("second Spawn was not throttled: elapsed %v", elapsed)
	}
}

func TestRateLimitedRespectsContextCancellation(t *testing.T) {
	fake := &fakeGateway{}
	gw := NewRateLimited(fake, 0.01, 1)

	gw.Spawn(context.Background(), SpawnRequest{}) // consume the single burst token

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	result := gw.Spawn(ctx, SpawnRequest{})
	if result.Accepted {
		t.Error("expected Spawn to fail once the context deadline is exceeded")
	}
}

func TestResolverCreateGatewayUnknownBackend(t *testing.T) {
	cfg := &config.Config{Gateway: config.Gateway{Backend: "carrier-pigeon"}}
	r := NewResolver(cfg)
	if _, err := r.CreateGateway(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestResolverCreateGatewayProcess(t *testing.T) {
	cfg := &config.Config{Gateway: config.Gateway{Backend: "process", RateLimitPerSec: 5, RateLimitBurst: 5}}
	r := NewResolver(cfg)
	gw, err := r.CreateGateway()
	if err != nil {
		t.Fatalf("CreateGateway: %v", err)
	}
	if gw == nil {
		t.Fatal("expected non-nil gateway")
	}
}
