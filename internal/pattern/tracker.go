package pattern

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/heikkila-labs/triagepilot/internal/config"
)

// Tracker is the agent-scoped handle every public pattern operation goes
// through. Constructing one binds it to exactly one agent_id; every query
// and mutation below is implicitly filtered to that agent, so a caller
// cannot reach another agent's observations or patterns through this type.
type Tracker struct {
	store   *Store
	agentID string
	cfg     config.Pattern
	now     func() time.Time
}

// NewTracker binds a Tracker to agentID using cfg's lifecycle constants.
func NewTracker(store *Store, agentID string, cfg config.Pattern) *Tracker {
	return &Tracker{store: store, agentID: agentID, cfg: cfg, now: time.Now}
}

// AgentID returns the agent this tracker is scoped to.
func (t *Tracker) AgentID() string { return t.agentID }

// ErrAgentMismatch is returned when a caller passes data scoped to a
// different agent_id than this Tracker was constructed with.
type ErrAgentMismatch struct {
	Expected, Got string
}

func (e ErrAgentMismatch) Error() string {
	return fmt.Sprintf("pattern tracker: agent_id mismatch: expected %q, got %q", e.Expected, e.Got)
}

func (t *Tracker) requireOwnAgent(agentID string) error {
	if agentID != "" && agentID != t.agentID {
		return ErrAgentMismatch{Expected: t.agentID, Got: agentID}
	}
	return nil
}

type timeObservationData struct {
	Action string `json:"action"`
}

type eventObservationData struct {
	Event    string  `json:"event"`
	FollowUp string  `json:"follow_up"`
	DelayS   float64 `json:"delay_s"`
}

type contextObservationData struct {
	Keywords        []string `json:"keywords"`
	Need            string   `json:"need"`
	SimilarityScore *float64 `json:"similarity_score,omitempty"`
}

func (t *Tracker) resolveTimestamp(timestamp *time.Time) time.Time {
	if timestamp != nil {
		return *timestamp
	}
	return t.now()
}

// RecordTimeObservation records one occurrence of action and tries to
// either strengthen a matching existing pattern or promote a cluster of
// recent similar observations into a new pattern candidate.
func (t *Tracker) RecordTimeObservation(action string, timestamp *time.Time) error {
	ts := t.resolveTimestamp(timestamp)
	data := timeObservationData{Action: action}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal time observation: %w", err)
	}
	if _, err := t.store.insertObservation(t.agentID, ObservationTime, ts, string(raw)); err != nil {
		return err
	}
	return t.afterInsert(ObservationTime, ts, string(raw), func(existing Pattern) bool {
		var d timeObservationData
		if json.Unmarshal([]byte(existing.DataJSON), &d) != nil {
			return false
		}
		return similarActions(d.Action, action)
	}, func(recent []Observation) (string, bool) {
		return clusterTimeObservations(recent, action, t.cfg)
	})
}

// RecordEventObservation records one (event, followUp) occurrence.
func (t *Tracker) RecordEventObservation(event, followUp string, delaySeconds float64, timestamp *time.Time) error {
	ts := t.resolveTimestamp(timestamp)
	data := eventObservationData{Event: event, FollowUp: followUp, DelayS: delaySeconds}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event observation: %w", err)
	}
	if _, err := t.store.insertObservation(t.agentID, ObservationEvent, ts, string(raw)); err != nil {
		return err
	}
	return t.afterInsert(ObservationEvent, ts, string(raw), func(existing Pattern) bool {
		var d eventObservationData
		if json.Unmarshal([]byte(existing.DataJSON), &d) != nil {
			return false
		}
		return d.Event == event && similarActions(d.FollowUp, followUp)
	}, func(recent []Observation) (string, bool) {
		return clusterEventObservations(recent, event, followUp)
	})
}

// RecordContextObservation records one (keywords, need) occurrence.
func (t *Tracker) RecordContextObservation(keywords []string, need string, similarityScore *float64, timestamp *time.Time) error {
	ts := t.resolveTimestamp(timestamp)
	data := contextObservationData{Keywords: keywords, Need: need, SimilarityScore: similarityScore}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal context observation: %w", err)
	}
	if _, err := t.store.insertObservation(t.agentID, ObservationContext, ts, string(raw)); err != nil {
		return err
	}
	return t.afterInsert(ObservationContext, ts, string(raw), func(existing Pattern) bool {
		var d contextObservationData
		if json.Unmarshal([]byte(existing.DataJSON), &d) != nil {
			return false
		}
		return similarActions(d.Need, need) && keywordOverlapRatio(d.Keywords, keywords) >= t.cfg.MinOverlapRatio
	}, func(recent []Observation) (string, bool) {
		return clusterContextObservations(recent, keywords, need, t.cfg)
	})
}

// afterInsert implements the shared (a)/(b) record-operation tail: find a
// matching existing pattern and strengthen it, else look for a fresh
// cluster of recent similar observations and promote it to a new pattern.
func (t *Tracker) afterInsert(typ ObservationType, ts time.Time, newPatternData string, matches func(Pattern) bool, cluster func([]Observation) (description string, ok bool)) error {
	existing, err := t.store.allPatterns(t.agentID)
	if err != nil {
		return err
	}
	for _, p := range existing {
		if p.Type != typ {
			continue
		}
		if matches(p) {
			p.ObservationCount++
			p.LastObserved = ts
			p.Confidence = computeConfidence(confidenceInputs{
				ObservationCount:        p.ObservationCount,
				MinObservationsFullConf: t.cfg.MinObservationsFullConfidence,
				LastObserved:            ts,
				Now:                     t.now(),
				RecencyHalfLifeDays:     t.cfg.RecencyHalfLifeDays,
				Consistency:             1, // direct match: treat as fully consistent
			})
			p.Active = isActive(p.Confidence, p.ObservationCount, t.cfg.MinObservations, t.cfg.ActivationThreshold)
			return t.store.updatePattern(p)
		}
	}

	recent, err := t.store.recentObservations(t.agentID, typ, 100)
	if err != nil {
		return err
	}
	if len(recent) < t.cfg.MinObservations-1 {
		return nil
	}
	description, ok := cluster(recent)
	if !ok {
		return nil
	}

	// Don't create a duplicate candidate for a description already tracked.
	if existingP, err := t.store.findPatternByDescription(t.agentID, typ, description); err == nil && existingP != nil {
		return nil
	}

	count := len(recent)
	first := recent[len(recent)-1].Timestamp
	confidence := computeConfidence(confidenceInputs{
		ObservationCount:        count,
		MinObservationsFullConf: t.cfg.MinObservationsFullConfidence,
		LastObserved:            ts,
		Now:                     t.now(),
		RecencyHalfLifeDays:     t.cfg.RecencyHalfLifeDays,
		Consistency:             0.5, // candidate, not yet detector-verified
	})
	_, err = t.store.insertPattern(Pattern{
		AgentID:          t.agentID,
		Type:             typ,
		Description:      description,
		Confidence:       confidence,
		ObservationCount: count,
		FirstObserved:    first,
		LastObserved:     ts,
		Active:           isActive(confidence, count, t.cfg.MinObservations, t.cfg.ActivationThreshold),
		DataJSON:         newPatternData,
	})
	return err
}

// ArchiveSweep deletes inactive patterns whose last_observed predates
// archive_after_days, and prunes observations beyond max_observations.
func (t *Tracker) ArchiveSweep() (archived int64, err error) {
	cutoff := t.now().AddDate(0, 0, -t.cfg.ArchiveAfterDays)
	archived, err = t.store.archiveInactiveOlderThan(t.agentID, cutoff)
	if err != nil {
		return 0, err
	}
	if err := t.store.pruneObservations(t.agentID, t.cfg.MaxObservationsPerAgent); err != nil {
		return archived, err
	}
	return archived, nil
}

// Patterns returns every pattern tracked for this tracker's agent.
func (t *Tracker) Patterns() ([]Pattern, error) {
	return t.store.allPatterns(t.agentID)
}
