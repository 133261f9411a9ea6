// Package source implements the Task Source Adapter contract against a
// directory of structured-markdown files: one YAML front-matter block per
// task plus a markdown description body, generalizing the teacher's
// CLI-shelling adapter pattern to parsing local files instead of shelling
// out to an external binary.
package source

import (
	"fmt"

	"github.com/heikkila-labs/triagepilot/internal/task"
)

// Adapter is the Task Source Adapter contract §6 describes. Core code
// consumes a source only through this interface.
type Adapter interface {
	ListTasks() ([]task.PickableTask, error)
	GetTask(id string) (*task.PickableTask, error)
	UpdateStatus(id string, newStatus task.Status) error
	AddComment(id, body string) error
	GetComments(id string) ([]Comment, error)
	IsConfigured() bool
	GetConfigInstructions() string
}

// Comment is one reply recorded against a task.
type Comment struct {
	Body      string `yaml:"body"`
	CreatedAt string `yaml:"created_at"` // RFC3339; kept as text since adapters may pass through a foreign clock
}

// ErrTaskNotFound is returned by UpdateStatus/AddComment/GetComments when id
// does not match any task file; GetTask reports a missing task as nil with
// no error.
type ErrTaskNotFound struct{ ID string }

func (e ErrTaskNotFound) Error() string {
	return fmt.Sprintf("source: task %q not found", e.ID)
}

var _ Adapter = (*FileAdapter)(nil)
