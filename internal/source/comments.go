package source

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// commentsPath returns the sidecar document holding id's comments.
func (a *FileAdapter) commentsPath(id string) string {
	return filepath.Join(a.Dir, ".comments", id+".yaml")
}

func readComments(path string) ([]Comment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var comments []Comment
	if err := yaml.Unmarshal(raw, &comments); err != nil {
		return nil, fmt.Errorf("parse comments %q: %w", path, err)
	}
	return comments, nil
}

// AddComment appends body to id's comment sidecar and bumps the task's
// stored comment_count to match.
func (a *FileAdapter) AddComment(id, body string) error {
	if _, _, err := a.readTaskFile(id); err != nil {
		return err
	}

	path := a.commentsPath(id)
	comments, err := readComments(path)
	if err != nil {
		return err
	}
	comments = append(comments, Comment{Body: body, CreatedAt: a.now().Format(time.RFC3339)})

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := yaml.Marshal(comments)
	if err != nil {
		return fmt.Errorf("marshal comments: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return err
	}

	fm, taskBody, err := a.readTaskFile(id)
	if err != nil {
		return err
	}
	fm.CommentCount = len(comments)
	rendered, err := renderTaskFile(fm, taskBody)
	if err != nil {
		return err
	}
	return os.WriteFile(a.taskPath(id), []byte(rendered), 0o644)
}

// GetComments returns id's recorded comments, oldest first.
func (a *FileAdapter) GetComments(id string) ([]Comment, error) {
	if _, _, err := a.readTaskFile(id); err != nil {
		return nil, err
	}
	return readComments(a.commentsPath(id))
}
