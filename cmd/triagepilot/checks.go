package main

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/heikkila-labs/triagepilot/internal/evaluator"
)

// runCheckCommand shells out to one configured correctness check (test,
// type-check, lint, build) against the solution's working tree, mirroring
// the worker gateway's "sh -c" process-spawning pattern. The command is
// expected to exit 0 on pass; a "X/Y" style fraction on the last output
// line (e.g. "42/45 passed") is parsed into CommandResult.Fraction when
// present.
func runCheckCommand(ctx context.Context, command string, input evaluator.SolutionInput) (evaluator.CommandResult, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workingDirForChangedFiles(input.ChangedFiles)
	out, err := cmd.CombinedOutput()

	result := evaluator.CommandResult{Pass: err == nil}
	if frac, ok := parseFraction(string(out)); ok {
		result.Fraction = &frac
	}
	if err != nil {
		if _, isExit := err.(*exec.ExitError); isExit {
			return result, nil
		}
		return result, err
	}
	return result, nil
}

func workingDirForChangedFiles(changed []string) string {
	if len(changed) == 0 {
		return ""
	}
	return "."
}

// parseFraction looks for a trailing "N/M" token on the last non-empty
// output line, the shape most test runners print for a pass count.
func parseFraction(output string) (float64, bool) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) == 0 {
		return 0, false
	}
	last := lines[len(lines)-1]
	for _, field := range strings.Fields(last) {
		parts := strings.SplitN(field, "/", 2)
		if len(parts) != 2 {
			continue
		}
		num, errNum := strconv.ParseFloat(parts[0], 64)
		den, errDen := strconv.ParseFloat(parts[1], 64)
		if errNum != nil || errDen != nil || den == 0 {
			continue
		}
		return num / den, true
	}
	return 0, false
}

// heuristicLLMAssess stands in for a real model-backed qualitative judgment:
// this exercise never calls out to an actual LLM, so assessments are
// derived from cheap textual signals on the solution diff instead. Every
// dimension starts from a neutral baseline and is nudged by concrete
// red/green flags, with confidence capped below what a real review would
// report so ranker.ShouldAutoAccept never leans on it alone near the gate.
func heuristicLLMAssess(ctx context.Context, dimension string, input evaluator.SolutionInput) (evaluator.LLMAssessment, error) {
	code := input.SolutionCode
	lower := strings.ToLower(code)

	score := 0.6
	switch dimension {
	case "security_review":
		if strings.Contains(lower, "todo") || strings.Contains(lower, "fixme") {
			score -= 0.1
		}
	case "rollback_safe":
		if len(input.ChangedFiles) > 10 {
			score -= 0.15
		}
	case "naming", "pattern_adherence", "error_handling":
		lines := strings.Split(code, "\n")
		if len(lines) > 0 {
			avg := float64(len(code)) / float64(len(lines))
			if avg > 120 {
				score -= 0.2
			}
		}
		if dimension == "error_handling" && !strings.Contains(lower, "if err") && !strings.Contains(lower, "err != nil") {
			score -= 0.2
		}
	case "requirement_coverage", "edge_case_handling", "requirements_met":
		if strings.Contains(lower, "panic(") {
			score -= 0.2
		}
	case "algorithmic_efficiency", "async_efficiency":
		if strings.Contains(lower, "time.sleep") {
			score -= 0.1
		}
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return evaluator.LLMAssessment{Score: score, Confidence: 0.5}, nil
}
