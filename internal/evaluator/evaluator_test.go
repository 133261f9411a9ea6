package evaluator

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/heikkila-labs/triagepilot/internal/config"
)

func fixtureInput() SolutionInput {
	return SolutionInput{
		SolutionID:      "sol-1",
		IterationID:     "iter-1",
		TaskDescription: "Add retry with backoff to the HTTP client",
		OriginalCode:    "func Do() error {\n\treturn client.Get(url)\n}\n",
		SolutionCode:    "// Do retries transient failures with exponential backoff.\nfunc Do() error {\n\tfor i := 0; i < 3; i++ {\n\t\tif err := client.Get(url); err == nil {\n\t\t\treturn nil\n\t\t}\n\t}\n\treturn err\n}\n",
		ChangedFiles:    []string{"client.go", "client_test.go"},
	}
}

func passingDeps() ComparatorDeps {
	return ComparatorDeps{
		SpawnCommand: func(ctx context.Context, command string, input SolutionInput) (CommandResult, error) {
			return CommandResult{Pass: true}, nil
		},
		LLMAssess: func(ctx context.Context, dimension string, input SolutionInput) (LLMAssessment, error) {
			return LLMAssessment{Score: 0.8, Confidence: 0.9}, nil
		},
		Now: func() time.Time { return time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC) },
	}
}

func defaultConfig() Config {
	return Config{
		Weights:           config.DefaultCategoryWeights(),
		CorrectnessChecks: []string{"go test ./...", "go vet ./..."},
	}
}

func TestEvaluateRejectsWeightsNotSummingToOne(t *testing.T) {
	cfg := defaultConfig()
	cfg.Weights.Correctness += 0.5
	_, err := Evaluate(context.Background(), fixtureInput(), cfg, passingDeps())
	if err == nil {
		t.Fatal("expected an error when category weights don't sum to 1.0")
	}
}

func TestEvaluateAcceptsWeightsWithinEpsilon(t *testing.T) {
	cfg := defaultConfig()
	cfg.Weights.Correctness += 5e-7
	cfg.Weights.Safety -= 5e-7
	if _, err := Evaluate(context.Background(), fixtureInput(), cfg, passingDeps()); err != nil {
		t.Fatalf("expected weights within epsilon of 1.0 to be accepted, got %v", err)
	}
}

func TestEvaluateAllChecksPassingProducesHighScore(t *testing.T) {
	eval, err := Evaluate(context.Background(), fixtureInput(), defaultConfig(), passingDeps())
	if err != nil {
		t.Fatalf("Evaluate: unexpected error: %v", err)
	}
	if eval.OverallScore < 0.6 {
		t.Fatalf("expected a high overall score when every check passes, got %v", eval.OverallScore)
	}
	if eval.SolutionID != "sol-1" {
		t.Fatalf("expected solution id to be carried through, got %q", eval.SolutionID)
	}
	if !eval.EvaluatedAt.Equal(time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected evaluated_at to be stamped from deps.Now, got %v", eval.EvaluatedAt)
	}
}

func TestEvaluateSpawnCommandErrorAbsorbedAsFailure(t *testing.T) {
	deps := passingDeps()
	deps.SpawnCommand = func(ctx context.Context, command string, input SolutionInput) (CommandResult, error) {
		if command == "go vet ./..." {
			return CommandResult{}, errors.New("exec: command not found")
		}
		return CommandResult{Pass: true}, nil
	}

	eval, err := Evaluate(context.Background(), fixtureInput(), defaultConfig(), deps)
	if err != nil {
		t.Fatalf("Evaluate: expected spawnCommand errors to be absorbed, got error: %v", err)
	}
	if eval.Correctness.Bools["go vet ./..."] {
		t.Fatalf("expected the failed check to record false")
	}
	found := false
	for _, issue := range eval.Correctness.Issues {
		if issue == "go vet ./...: exec: command not found" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the command error message recorded as an issue, got %v", eval.Correctness.Issues)
	}
}

func TestEvaluateLLMAssessErrorAbsorbedAsNeutral(t *testing.T) {
	deps := passingDeps()
	deps.LLMAssess = func(ctx context.Context, dimension string, input SolutionInput) (LLMAssessment, error) {
		if dimension == "naming" {
			return LLMAssessment{}, errors.New("model unavailable")
		}
		return LLMAssessment{Score: 0.8, Confidence: 0.9}, nil
	}

	eval, err := Evaluate(context.Background(), fixtureInput(), defaultConfig(), deps)
	if err != nil {
		t.Fatalf("Evaluate: expected llmAssess errors to be absorbed, got error: %v", err)
	}
	if got := eval.Quality.Fields["naming"]; got != 0.5 {
		t.Fatalf("expected a neutral 0.5 score for the failed dimension, got %v", got)
	}
}

func TestEvaluateAllChecksFailingProducesLowScore(t *testing.T) {
	deps := ComparatorDeps{
		SpawnCommand: func(ctx context.Context, command string, input SolutionInput) (CommandResult, error) {
			return CommandResult{Pass: false}, nil
		},
		LLMAssess: func(ctx context.Context, dimension string, input SolutionInput) (LLMAssessment, error) {
			return LLMAssessment{Score: 0.1, Confidence: 0.9}, nil
		},
	}
	eval, err := Evaluate(context.Background(), fixtureInput(), defaultConfig(), deps)
	if err != nil {
		t.Fatalf("Evaluate: unexpected error: %v", err)
	}
	if eval.OverallScore > 0.3 {
		t.Fatalf("expected a low overall score when every check fails, got %v", eval.OverallScore)
	}
	if eval.Correctness.Bools["go test ./..."] {
		t.Fatalf("expected the failing check to record false")
	}
}

func TestEvaluateSafetyFlagsDangerousOps(t *testing.T) {
	input := fixtureInput()
	input.SolutionCode = "import \"os/exec\"\n\nfunc Run() {\n\texec.Command(\"rm\", \"-rf\", userInput).Run()\n}\n"

	eval, err := Evaluate(context.Background(), input, defaultConfig(), passingDeps())
	if err != nil {
		t.Fatalf("Evaluate: unexpected error: %v", err)
	}
	if eval.Safety.Bools["no_dangerous_ops"] {
		t.Fatalf("expected dangerous-ops scan to flag exec.Command with unsanitized input")
	}
}

func TestEvaluateConfidenceAveragesLLMConfidences(t *testing.T) {
	deps := passingDeps()
	eval, err := Evaluate(context.Background(), fixtureInput(), defaultConfig(), deps)
	if err != nil {
		t.Fatalf("Evaluate: unexpected error: %v", err)
	}
	if math.Abs(eval.Confidence-0.9) > 1e-9 {
		t.Fatalf("expected confidence to equal the uniform llmAssess confidence 0.9, got %v", eval.Confidence)
	}
}
