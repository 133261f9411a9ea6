package gateway

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// ProcessGateway spawns sub-agent workers as local subprocesses, tracked by
// run id rather than PID so the Worker Gateway contract stays PID-agnostic.
type ProcessGateway struct {
	mu   sync.RWMutex
	runs map[string]*processRun

	// Command builds the argv for a given prompt file path and model/thinking
	// pair; overridable for tests.
	Command func(promptPath, model, thinking string) (string, []string)
}

type processRun struct {
	cmd         *exec.Cmd
	state       StatusState
	outputPath  string
	promptPath  string
	startedAt   time.Time
	completedAt time.Time
	errMsg      string
}

// NewProcessGateway returns a ready-to-use ProcessGateway using "sh -c" with
// a worker script as the default command builder.
func NewProcessGateway() *ProcessGateway {
	return &ProcessGateway{
		runs:    make(map[string]*processRun),
		Command: defaultWorkerCommand,
	}
}

func defaultWorkerCommand(promptPath, model, thinking string) (string, []string) {
	return "sh", []string{"-c", workerShellScript(), "_", promptPath, model, thinking}
}

// workerShellScript reads the prompt from the temp file and invokes the
// local solver CLI, mirroring the teacher's "write prompt to temp file to
// avoid shell escaping issues" pattern.
func workerShellScript() string {
	return `msg=$(cat "$1")
model="$2"
thinking="$3"
triagepilot-worker --model "$model" --thinking "$thinking" --message "$msg"`
}

// Spawn starts a subprocess in the background and returns a run id
// immediately.
func (g *ProcessGateway) Spawn(ctx context.Context, req SpawnRequest) SpawnResult {
	runID := uuid.NewString()

	promptFile, err := os.CreateTemp("", "triagepilot-prompt-*.txt")
	if err != nil {
		return SpawnResult{Error: fmt.Sprintf("create prompt file: %v", err)}
	}
	promptPath := promptFile.Name()
	if _, err := promptFile.WriteString(req.TaskPrompt); err != nil {
		promptFile.Close()
		os.Remove(promptPath)
		return SpawnResult{Error: fmt.Sprintf("write prompt file: %v", err)}
	}
	promptFile.Close()

	outputFile, err := os.CreateTemp("", "triagepilot-output-*.log")
	if err != nil {
		os.Remove(promptPath)
		return SpawnResult{Error: fmt.Sprintf("create output file: %v", err)}
	}
	outputPath := outputFile.Name()

	name, args := g.Command(promptPath, req.Model, req.Thinking)
	cmd := exec.Command(name, args...)
	cmd.Stdout = outputFile
	cmd.Stderr = outputFile

	if err := cmd.Start(); err != nil {
		outputFile.Close()
		os.Remove(promptPath)
		os.Remove(outputPath)
		return SpawnResult{Error: fmt.Sprintf("start worker process: %v", err)}
	}
	outputFile.Close()

	run := &processRun{
		cmd:        cmd,
		state:      StatusRunning,
		outputPath: outputPath,
		promptPath: promptPath,
		startedAt:  time.Now(),
	}

	g.mu.Lock()
	g.runs[runID] = run
	g.mu.Unlock()

	go g.monitor(runID, run)

	return SpawnResult{Accepted: true, RunID: runID}
}

func (g *ProcessGateway) monitor(runID string, run *processRun) {
	err := run.cmd.Wait()

	g.mu.Lock()
	defer g.mu.Unlock()

	run.completedAt = time.Now()
	if err != nil {
		run.state = StatusFailed
		run.errMsg = err.Error()
	} else {
		run.state = StatusCompleted
	}
	if run.promptPath != "" {
		os.Remove(run.promptPath)
		run.promptPath = ""
	}
}

// Status reports the run's current lifecycle state.
func (g *ProcessGateway) Status(ctx context.Context, runID string) StatusResult {
	g.mu.RLock()
	run, ok := g.runs[runID]
	g.mu.RUnlock()
	if !ok {
		return StatusResult{State: StatusFailed, Error: "unknown run id"}
	}

	switch run.state {
	case StatusRunning:
		return StatusResult{State: StatusRunning}
	case StatusFailed:
		return StatusResult{State: StatusFailed, Error: run.errMsg}
	default:
		out, err := os.ReadFile(run.outputPath)
		if err != nil {
			return StatusResult{State: StatusFailed, Error: fmt.Sprintf("read output: %v", err)}
		}
		return StatusResult{State: StatusCompleted, Output: string(out)}
	}
}

// Cancel sends SIGTERM, waits briefly, then SIGKILL if the process survives.
func (g *ProcessGateway) Cancel(ctx context.Context, runID string) error {
	g.mu.RLock()
	run, ok := g.runs[runID]
	g.mu.RUnlock()
	if !ok || run.cmd.Process == nil {
		return nil
	}

	pid := run.cmd.Process.Pid
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		return fmt.Errorf("gateway: send SIGTERM to pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if syscall.Kill(pid, 0) != nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	if syscall.Kill(pid, 0) == nil {
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
			return fmt.Errorf("gateway: send SIGKILL to pid %d: %w", pid, err)
		}
	}
	return nil
}

var _ Gateway = (*ProcessGateway)(nil)
