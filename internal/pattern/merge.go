package pattern

import "sort"

// Merge reconciles the tracker's existing persisted patterns with a fresh
// Detect() pass: matching detections update the existing row in place (max
// confidence, summed observation count, max last_observed); unmatched
// detections are appended as new patterns. If the result exceeds
// max_patterns_per_agent, only the top-confidence patterns are kept.
func (t *Tracker) Merge(detected []DetectedPattern) error {
	existing, err := t.store.allPatterns(t.agentID)
	if err != nil {
		return err
	}

	matchedExisting := make([]bool, len(existing))
	for _, d := range detected {
		confidence := computeConfidence(confidenceInputs{
			ObservationCount:        d.ObservationCount,
			MinObservationsFullConf: t.cfg.MinObservationsFullConfidence,
			LastObserved:            d.LastObserved,
			Now:                     t.now(),
			RecencyHalfLifeDays:     t.cfg.RecencyHalfLifeDays,
			Consistency:             d.Consistency,
		})
		active := isActive(confidence, d.ObservationCount, t.cfg.MinObservations, t.cfg.ActivationThreshold)

		matchIdx := -1
		for i, e := range existing {
			if matchedExisting[i] || e.Type != d.Type {
				continue
			}
			if matchesDetection(e, d) {
				matchIdx = i
				break
			}
		}

		if matchIdx >= 0 {
			e := existing[matchIdx]
			matchedExisting[matchIdx] = true
			if confidence > e.Confidence {
				e.Confidence = confidence
			}
			e.ObservationCount += d.ObservationCount
			if d.LastObserved.After(e.LastObserved) {
				e.LastObserved = d.LastObserved
			}
			e.Active = isActive(e.Confidence, e.ObservationCount, t.cfg.MinObservations, t.cfg.ActivationThreshold)
			if err := t.store.updatePattern(e); err != nil {
				return err
			}
			existing[matchIdx] = e
			continue
		}

		if _, err := t.store.insertPattern(Pattern{
			AgentID:          t.agentID,
			Type:             d.Type,
			Description:      d.Description,
			Confidence:       confidence,
			ObservationCount: d.ObservationCount,
			FirstObserved:    d.FirstObserved,
			LastObserved:     d.LastObserved,
			Active:           active,
			DataJSON:         "{}",
		}); err != nil {
			return err
		}
	}

	return t.trimToMax()
}

// matchesDetection decides whether an existing pattern row is "the same
// pattern" as a freshly detected cluster, per the merge rules in §4.6.
func matchesDetection(e Pattern, d DetectedPattern) bool {
	switch d.Type {
	case ObservationTime:
		return similarActions(e.Description, d.Description)
	case ObservationEvent:
		return e.Description == d.Description
	case ObservationContext:
		return similarActions(e.Description, d.Description)
	default:
		return false
	}
}

// trimToMax keeps only the top max_patterns_per_agent patterns by
// confidence, deleting the rest.
func (t *Tracker) trimToMax() error {
	all, err := t.store.allPatterns(t.agentID)
	if err != nil {
		return err
	}
	if len(all) <= t.cfg.MaxPatternsPerAgent {
		return nil
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Confidence > all[j].Confidence })
	for _, p := range all[t.cfg.MaxPatternsPerAgent:] {
		if err := t.store.deletePattern(p.ID); err != nil {
			return err
		}
	}
	return nil
}
