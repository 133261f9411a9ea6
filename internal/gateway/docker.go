package gateway

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
)

// DockerGateway spawns each worker inside an isolated container, identified
// by run id -> container name.
type DockerGateway struct {
	mu    sync.Mutex
	cli   *client.Client
	names map[string]string // runID -> container name

	// Image is the worker container image to run; defaults to
	// "triagepilot-worker:latest".
	Image string
}

// NewDockerGateway constructs a DockerGateway using docker's env-derived
// client configuration (DOCKER_HOST, TLS, etc).
func NewDockerGateway() (*DockerGateway, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("gateway: initialize docker client: %w", err)
	}
	return &DockerGateway{
		cli:   cli,
		names: make(map[string]string),
		Image: "triagepilot-worker:latest",
	}, nil
}

// Spawn writes the prompt/model/thinking context to a host-side directory
// bind-mounted read-only into a fresh container, then starts it.
func (g *DockerGateway) Spawn(ctx context.Context, req SpawnRequest) SpawnResult {
	runID := uuid.NewString()
	name := fmt.Sprintf("triagepilot-worker-%s", runID)

	hostCtxDir := filepath.Join(os.TempDir(), fmt.Sprintf("triagepilot-ctx-%s", runID))
	if err := os.MkdirAll(hostCtxDir, 0o755); err != nil {
		return SpawnResult{Error: fmt.Sprintf("create context dir: %v", err)}
	}
	if err := os.WriteFile(filepath.Join(hostCtxDir, "prompt.txt"), []byte(req.TaskPrompt), 0o644); err != nil {
		return SpawnResult{Error: fmt.Sprintf("write prompt: %v", err)}
	}
	os.WriteFile(filepath.Join(hostCtxDir, "model.txt"), []byte(req.Model), 0o644)
	os.WriteFile(filepath.Join(hostCtxDir, "thinking.txt"), []byte(req.Thinking), 0o644)

	cfg := &container.Config{
		Image: g.Image,
		Cmd: []string{
			"triagepilot-worker",
			"--prompt-file", "/ctx/prompt.txt",
			"--model-file", "/ctx/model.txt",
			"--thinking-file", "/ctx/thinking.txt",
		},
		WorkingDir: "/workspace",
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: hostCtxDir, Target: "/ctx", ReadOnly: true},
		},
		AutoRemove: false,
	}

	resp, err := g.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return SpawnResult{Error: fmt.Sprintf("create container: %v", err)}
	}
	if err := g.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return SpawnResult{Error: fmt.Sprintf("start container: %v", err)}
	}

	g.mu.Lock()
	g.names[runID] = name
	g.mu.Unlock()

	return SpawnResult{Accepted: true, RunID: runID}
}

// Status inspects the container and, once it has stopped, tails its
// combined stdout/stderr as the worker's output.
func (g *DockerGateway) Status(ctx context.Context, runID string) StatusResult {
	g.mu.Lock()
	name, ok := g.names[runID]
	g.mu.Unlock()
	if !ok {
		return StatusResult{State: StatusFailed, Error: "unknown run id"}
	}

	inspectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	inspect, err := g.cli.ContainerInspect(inspectCtx, name)
	if err != nil {
		return StatusResult{State: StatusFailed, Error: fmt.Sprintf("inspect container: %v", err)}
	}

	if inspect.State.Running {
		return StatusResult{State: StatusRunning}
	}
	if inspect.State.Dead || inspect.State.OOMKilled || inspect.State.ExitCode != 0 {
		return StatusResult{State: StatusFailed, Error: fmt.Sprintf("worker exited with code %d", inspect.State.ExitCode)}
	}

	logsCtx, cancel2 := context.WithTimeout(ctx, 5*time.Second)
	defer cancel2()
	logs, err := g.cli.ContainerLogs(logsCtx, name, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return StatusResult{State: StatusFailed, Error: fmt.Sprintf("read logs: %v", err)}
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	stdcopy.StdCopy(&stdout, &stderr, logs)
	output := strings.TrimSpace(stdout.String())
	if output == "" {
		output = strings.TrimSpace(stderr.String())
	}
	return StatusResult{State: StatusCompleted, Output: output}
}

// Cancel force-removes the container and its context directory.
func (g *DockerGateway) Cancel(ctx context.Context, runID string) error {
	g.mu.Lock()
	name, ok := g.names[runID]
	delete(g.names, runID)
	g.mu.Unlock()
	if !ok {
		return nil
	}

	removeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := g.cli.ContainerRemove(removeCtx, name, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		return fmt.Errorf("gateway: remove container %s: %w", name, err)
	}
	os.RemoveAll(filepath.Join(os.TempDir(), "triagepilot-ctx-"+strings.TrimPrefix(name, "triagepilot-worker-")))
	return nil
}

var _ Gateway = (*DockerGateway)(nil)
