package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/heikkila-labs/triagepilot/internal/task"
)

// frontMatter is the YAML block at the top of each task file; field-by-field
// it is exactly PickableTask, per §6's "ExternalTask is mapped field-by-field
// to PickableTask by the driver" — here the adapter does that mapping
// itself since the file format already matches the domain model.
type frontMatter struct {
	ID                  string     `yaml:"id"`
	Title               string     `yaml:"title"`
	Status              string     `yaml:"status"`
	Priority            string     `yaml:"priority"`
	Labels              []string   `yaml:"labels,omitempty"`
	Assignees           []string   `yaml:"assignees,omitempty"`
	CreatedAt           time.Time  `yaml:"created_at"`
	UpdatedAt           time.Time  `yaml:"updated_at"`
	DueDate             *time.Time `yaml:"due_date,omitempty"`
	CommentCount        int        `yaml:"comment_count"`
	DependsOn           []string   `yaml:"depends_on,omitempty"`
	EstimatedComplexity *int       `yaml:"estimated_complexity,omitempty"`
}

func (fm frontMatter) toPickableTask() task.PickableTask {
	return task.PickableTask{
		ID:                  fm.ID,
		Title:               fm.Title,
		Status:              task.Status(fm.Status),
		Priority:            task.Priority(fm.Priority),
		Labels:              fm.Labels,
		Assignees:           fm.Assignees,
		CreatedAt:           fm.CreatedAt,
		UpdatedAt:           fm.UpdatedAt,
		DueDate:             fm.DueDate,
		CommentCount:        fm.CommentCount,
		DependsOn:           fm.DependsOn,
		EstimatedComplexity: fm.EstimatedComplexity,
	}
}

const frontMatterDelim = "---"

// splitFrontMatter separates a task file's leading "---" YAML block from
// its markdown description body.
func splitFrontMatter(raw string) (yamlBlock, body string, err error) {
	lines := strings.Split(raw, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != frontMatterDelim {
		return "", "", fmt.Errorf("task file missing opening %q delimiter", frontMatterDelim)
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == frontMatterDelim {
			return strings.Join(lines[1:i], "\n"), strings.TrimPrefix(strings.Join(lines[i+1:], "\n"), "\n"), nil
		}
	}
	return "", "", fmt.Errorf("task file missing closing %q delimiter", frontMatterDelim)
}

func renderTaskFile(fm frontMatter, body string) (string, error) {
	yamlBlock, err := yaml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("marshal task front matter: %w", err)
	}
	var sb strings.Builder
	sb.WriteString(frontMatterDelim)
	sb.WriteString("\n")
	sb.Write(yamlBlock)
	sb.WriteString(frontMatterDelim)
	sb.WriteString("\n")
	sb.WriteString(body)
	return sb.String(), nil
}

// FileAdapter is a structured-markdown/YAML front-matter Task Source
// Adapter: every task is one "<dir>/<id>.md" file, and every task's
// comments live in a sidecar "<dir>/.comments/<id>.yaml" document.
type FileAdapter struct {
	Dir string
	Now func() time.Time
}

// NewFileAdapter constructs a FileAdapter rooted at dir.
func NewFileAdapter(dir string) *FileAdapter {
	return &FileAdapter{Dir: dir, Now: time.Now}
}

func (a *FileAdapter) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *FileAdapter) taskPath(id string) string {
	return filepath.Join(a.Dir, id+".md")
}

// IsConfigured reports whether Dir exists and is a directory.
func (a *FileAdapter) IsConfigured() bool {
	if a.Dir == "" {
		return false
	}
	info, err := os.Stat(a.Dir)
	return err == nil && info.IsDir()
}

// GetConfigInstructions explains how to point this adapter at a task tree.
func (a *FileAdapter) GetConfigInstructions() string {
	return "Set [sources.<name>] type = \"markdown\" and dir = \"<path to a directory of <task-id>.md files>\" " +
		"in the triagepilot config. Each file must start with a YAML front-matter block " +
		"(id, title, status, priority, ...) delimited by \"---\" lines, followed by a markdown description."
}

func (a *FileAdapter) readTaskFile(id string) (frontMatter, string, error) {
	raw, err := os.ReadFile(a.taskPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return frontMatter{}, "", ErrTaskNotFound{ID: id}
		}
		return frontMatter{}, "", err
	}
	yamlBlock, body, err := splitFrontMatter(string(raw))
	if err != nil {
		return frontMatter{}, "", fmt.Errorf("parse task %q: %w", id, err)
	}
	var fm frontMatter
	if err := yaml.Unmarshal([]byte(yamlBlock), &fm); err != nil {
		return frontMatter{}, "", fmt.Errorf("parse task %q front matter: %w", id, err)
	}
	return fm, body, nil
}

// ListTasks reads every "*.md" file directly under Dir into a PickableTask.
// Malformed files are skipped rather than failing the whole listing, so one
// bad file doesn't block the picker from seeing the rest.
func (a *FileAdapter) ListTasks() ([]task.PickableTask, error) {
	entries, err := os.ReadDir(a.Dir)
	if err != nil {
		return nil, fmt.Errorf("list task source %q: %w", a.Dir, err)
	}

	var out []task.PickableTask
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".md")
		fm, _, err := a.readTaskFile(id)
		if err != nil {
			continue
		}
		out = append(out, fm.toPickableTask())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetTask reads one task by id, returning nil (not an error) if it doesn't
// exist, per §6's "ExternalTask | null".
func (a *FileAdapter) GetTask(id string) (*task.PickableTask, error) {
	fm, _, err := a.readTaskFile(id)
	if err != nil {
		if _, ok := err.(ErrTaskNotFound); ok {
			return nil, nil
		}
		return nil, err
	}
	t := fm.toPickableTask()
	return &t, nil
}

// UpdateStatus rewrites id's front matter with newStatus and a refreshed
// updated_at, preserving the description body.
func (a *FileAdapter) UpdateStatus(id string, newStatus task.Status) error {
	fm, body, err := a.readTaskFile(id)
	if err != nil {
		return err
	}
	fm.Status = string(newStatus)
	fm.UpdatedAt = a.now()

	rendered, err := renderTaskFile(fm, body)
	if err != nil {
		return err
	}
	return os.WriteFile(a.taskPath(id), []byte(rendered), 0o644)
}
