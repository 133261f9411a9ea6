package experiment

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// assignmentKey identifies one (experiment, session) bucketing decision for
// the idempotency check in RecordAssignment.
type assignmentKey struct {
	ExperimentID string
	SessionKey   string
}

// metricsKey identifies one (experiment, variant) metrics row.
type metricsKey struct {
	ExperimentID string
	VariantID    string
}

// State is the per-agent persisted document backing the A/B engine:
// assignments, variant metrics, and the significance threshold they were
// recorded against.
type State struct {
	Experiments []Experiment `json:"experiments,omitempty"`
	Assignments []Assignment `json:"assignments"`
	Metrics     []metricRow  `json:"metrics"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	MinSamples  int          `json:"min_samples_for_significance"`

	mu              sync.Mutex
	assignmentIndex map[assignmentKey]struct{}
	metricsIndex    map[metricsKey]int // index into Metrics
}

// metricRow is Metrics' on-disk shape: a flat (experiment_id, variant_id,
// VariantMetrics) triple, easier to diff in a JSON file than a nested map.
type metricRow struct {
	ExperimentID string         `json:"experiment_id"`
	VariantID    string         `json:"variant_id"`
	Metrics      VariantMetrics `json:"metrics"`
}

// NewState returns an empty state with the given significance threshold.
func NewState(minSamplesForSignificance int) *State {
	return &State{
		MinSamples:      minSamplesForSignificance,
		assignmentIndex: make(map[assignmentKey]struct{}),
		metricsIndex:    make(map[metricsKey]int),
	}
}

func (s *State) metricsFor(experimentID, variantID string) VariantMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.metricsIndex[metricsKey{experimentID, variantID}]; ok {
		return s.Metrics[idx].Metrics
	}
	return VariantMetrics{}
}

func (s *State) setMetrics(experimentID, variantID string, m VariantMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := metricsKey{experimentID, variantID}
	if idx, ok := s.metricsIndex[key]; ok {
		s.Metrics[idx].Metrics = m
		return
	}
	s.metricsIndex[key] = len(s.Metrics)
	s.Metrics = append(s.Metrics, metricRow{ExperimentID: experimentID, VariantID: variantID, Metrics: m})
}

// statePath returns the per-agent JSON document path for stateDir.
func statePath(stateDir, agentID string) string {
	return filepath.Join(stateDir, "agents", agentID, "ab-experiments.json")
}

// LoadState reads the agent's A/B state from stateDir, healing a missing or
// corrupt file into a fresh empty state rather than raising: the experiment
// engine must never fail an otherwise-healthy run over a damaged sidecar
// file.
func LoadState(stateDir, agentID string, minSamplesForSignificance int) *State {
	path := statePath(stateDir, agentID)
	raw, err := os.ReadFile(path)
	if err != nil {
		return NewState(minSamplesForSignificance)
	}

	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return NewState(minSamplesForSignificance)
	}
	if s.MinSamples <= 0 {
		s.MinSamples = minSamplesForSignificance
	}

	s.assignmentIndex = make(map[assignmentKey]struct{}, len(s.Assignments))
	for _, a := range s.Assignments {
		s.assignmentIndex[assignmentKey{a.ExperimentID, a.SessionKey}] = struct{}{}
	}
	s.metricsIndex = make(map[metricsKey]int, len(s.Metrics))
	for i, row := range s.Metrics {
		s.metricsIndex[metricsKey{row.ExperimentID, row.VariantID}] = i
	}
	return &s
}

// Save writes s to stateDir/agents/<agentID>/ab-experiments.json, creating
// the agent's directory if needed.
func (s *State) Save(stateDir, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.UpdatedAt = time.Now()

	path := statePath(stateDir, agentID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
