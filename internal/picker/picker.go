// Package picker implements the task picker: filtering, weighted scoring,
// dependency-blocking, and topological suggestion ordering over a pool of
// task.PickableTask values.
package picker

import (
	"sort"
	"strings"
	"time"

	"github.com/heikkila-labs/triagepilot/internal/config"
	"github.com/heikkila-labs/triagepilot/internal/task"
)

// Filter narrows the candidate pool before scoring.
type Filter struct {
	Labels         []string
	ExcludeLabels  []string
	Assignee       string
	UnassignedOnly bool
	MaxComplexity  *int
}

// Scored pairs a task with its computed score.
type Scored struct {
	Task  task.PickableTask
	Score float64
}

// PickResult is the return value of PickNext.
type PickResult struct {
	Task           *task.PickableTask
	Score          float64
	Reason         string
	ConsideredCount int
	BlockedTaskIDs []string
}

// TopNResult is one entry of PickTopN's ordered output.
type TopNResult struct {
	Task   task.PickableTask
	Score  float64
	Reason string
}

// Picker runs the Pick* operations over a task pool and configuration passed
// on each call; it holds only its clock.
type Picker struct {
	now func() time.Time
}

// New constructs a Picker whose clock is time.Now.
func New() *Picker {
	return &Picker{now: time.Now}
}

// WithClock overrides the picker's notion of "now", for deterministic tests.
func (p *Picker) WithClock(now func() time.Time) *Picker {
	p.now = now
	return p
}

func (p *Picker) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

// blockedSet reports, for every task in the pool, whether any of its direct
// dependencies is a task in the pool that is not resolved. Dependencies of
// dependencies are not followed.
//
// A dependency id that never existed in the pool is treated as satisfied.
func blockedSet(tasks []task.PickableTask) map[string]bool {
	byID := make(map[string]task.PickableTask, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	blocked := make(map[string]bool, len(tasks))
	visiting := make(map[string]bool, len(tasks))

	var isBlocked func(id string) bool
	isBlocked = func(id string) bool {
		if b, ok := blocked[id]; ok {
			return b
		}
		if visiting[id] {
			// cycle: treat as not-yet-determined, terminate without recursing further.
			return false
		}
		visiting[id] = true
		defer delete(visiting, id)

		t, ok := byID[id]
		if !ok {
			blocked[id] = false
			return false
		}
		if t.Status.Resolved() {
			blocked[id] = false
			return false
		}
		for _, dep := range t.DependsOn {
			depTask, ok := byID[dep]
			if !ok {
				continue // missing dependency: satisfied
			}
			if !depTask.Status.Resolved() {
				blocked[id] = true
				return true
			}
		}
		blocked[id] = false
		return false
	}

	result := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		result[t.ID] = isBlocked(t.ID)
	}
	return result
}

// filter applies the ordered rejection pipeline from §4.1.
func filter(tasks []task.PickableTask, f Filter) ([]task.PickableTask, []string) {
	deps := blockedSet(tasks)

	var out []task.PickableTask
	var blockedIDs []string

	assignee := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(f.Assignee)), "@")

	for _, t := range tasks {
		if t.Status == task.StatusClosed || t.Status == task.StatusWontDo || t.Status == task.StatusBlocked {
			continue
		}
		if len(f.Labels) > 0 && t.LabelOverlap(f.Labels) == 0 {
			continue
		}
		if len(f.ExcludeLabels) > 0 && t.LabelOverlap(f.ExcludeLabels) > 0 {
			continue
		}
		if assignee != "" {
			match := false
			for _, a := range t.Assignees {
				if strings.ToLower(strings.TrimPrefix(a, "@")) == assignee {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		if f.UnassignedOnly && len(t.Assignees) > 0 {
			continue
		}
		if f.MaxComplexity != nil && t.EstimatedComplexity != nil && *t.EstimatedComplexity > *f.MaxComplexity {
			continue
		}
		if deps[t.ID] {
			blockedIDs = append(blockedIDs, t.ID)
			continue
		}
		out = append(out, t)
	}

	sort.Strings(blockedIDs)
	return out, blockedIDs
}

// dueDateMultiplier implements the step function over days-until-due.
func dueDateMultiplier(due time.Time, now time.Time) float64 {
	days := due.Sub(now).Hours() / 24
	switch {
	case days < 0:
		return 5
	case days <= 1:
		return 4
	case days <= 3:
		return 3
	case days <= 7:
		return 2
	case days <= 14:
		return 1
	default:
		return 0
	}
}

// Score computes the weighted-additive score for a single task, per §4.1.
func Score(t task.PickableTask, w config.PickerWeights, preferredLabels []string, now time.Time) float64 {
	priorityScore := t.Priority.Weight() * w.Priority

	dueScore := 0.0
	if t.DueDate != nil {
		dueScore = dueDateMultiplier(*t.DueDate, now) * w.DueDate
	}

	ageHours := now.Sub(t.CreatedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	ageScore := minFloat(ageHours/168, 5) * w.Age

	simplicity := float64(10 - t.CommentCount)
	if simplicity < 0 {
		simplicity = 0
	}
	simplicityScore := (simplicity / 10) * w.Simplicity

	labelBonus := float64(t.LabelOverlap(preferredLabels)) * w.LabelMatchBonus

	complexityPenalty := 0.0
	if t.EstimatedComplexity != nil {
		complexityPenalty = float64(*t.EstimatedComplexity-1) * w.ComplexityPenalty
	}

	total := priorityScore + dueScore + ageScore + simplicityScore + labelBonus - complexityPenalty
	return maxFloat(0, total)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// rank scores and stable-sorts the candidate pool, descending by score.
func rank(tasks []task.PickableTask, w config.PickerWeights, preferredLabels []string, now time.Time) []Scored {
	scored := make([]Scored, len(tasks))
	for i, t := range tasks {
		scored[i] = Scored{Task: t, Score: Score(t, w, preferredLabels, now)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

func isOverdue(t task.PickableTask, now time.Time) bool {
	return t.DueDate != nil && t.DueDate.Before(now)
}

func hasDueDateScore(t task.PickableTask, w config.PickerWeights, now time.Time) bool {
	return t.DueDate != nil && dueDateMultiplier(*t.DueDate, now)*w.DueDate > 0
}

// reasonFor computes the documented priority-ordered reason string for a
// single winning task.
func reasonFor(t task.PickableTask, w config.PickerWeights, preferredLabels []string, now time.Time) string {
	switch {
	case isOverdue(t, now) && hasDueDateScore(t, w, now):
		return "Overdue task with highest priority"
	case hasDueDateScore(t, w, now):
		return "Upcoming due date with high priority"
	case t.Priority == task.PriorityCritical:
		return "Critical priority task"
	case t.Priority == task.PriorityHigh:
		return "High priority task"
	case t.LabelOverlap(preferredLabels) > 0:
		return "Matches preferred labels"
	default:
		return "Highest scoring task"
	}
}

// PickNext returns the single best task under f, or a nil Task with an
// explanatory reason if the pool is empty after filtering.
func (p *Picker) PickNext(tasks []task.PickableTask, f Filter, w config.PickerWeights, preferredLabels []string) PickResult {
	now := p.clock()
	candidates, blockedIDs := filter(tasks, f)
	if len(candidates) == 0 {
		return PickResult{
			Reason:         "No tasks available matching criteria",
			BlockedTaskIDs: blockedIDs,
		}
	}

	ranked := rank(candidates, w, preferredLabels, now)
	winner := ranked[0]
	t := winner.Task
	return PickResult{
		Task:            &t,
		Score:           winner.Score,
		Reason:          reasonFor(t, w, preferredLabels, now),
		ConsideredCount: len(candidates),
		BlockedTaskIDs:  blockedIDs,
	}
}

// PickTopN returns the top n candidates with per-item reasons.
func (p *Picker) PickTopN(tasks []task.PickableTask, f Filter, w config.PickerWeights, preferredLabels []string, n int) []TopNResult {
	now := p.clock()
	candidates, _ := filter(tasks, f)
	ranked := rank(candidates, w, preferredLabels, now)

	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]TopNResult, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, TopNResult{
			Task:   ranked[i].Task,
			Score:  ranked[i].Score,
			Reason: reasonFor(ranked[i].Task, w, preferredLabels, now),
		})
	}
	return out
}

// SuggestOrder produces a dependency-respecting linearization of the
// filtered, ranked candidate list: unsatisfied dependencies are emitted
// before their dependents, honoring score within independent chains.
func (p *Picker) SuggestOrder(tasks []task.PickableTask, f Filter, w config.PickerWeights, preferredLabels []string) []task.PickableTask {
	now := p.clock()
	candidates, _ := filter(tasks, f)
	ranked := rank(candidates, w, preferredLabels, now)

	byID := make(map[string]task.PickableTask, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	seen := make(map[string]bool, len(ranked))
	var out []task.PickableTask

	var visit func(id string)
	visiting := make(map[string]bool)
	visit = func(id string) {
		if seen[id] || visiting[id] {
			return
		}
		t, ok := byID[id]
		if !ok {
			return
		}
		if t.Status.Resolved() {
			return
		}
		visiting[id] = true
		for _, dep := range t.DependsOn {
			visit(dep)
		}
		visiting[id] = false
		if !seen[id] {
			seen[id] = true
			out = append(out, t)
		}
	}

	for _, s := range ranked {
		visit(s.Task.ID)
	}
	return out
}
