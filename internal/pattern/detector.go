package pattern

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/heikkila-labs/triagepilot/internal/config"
)

// clusterTimeObservations is the lightweight check used by the
// record-operation tail: does `action` now belong to a cluster of recent,
// time-of-day-close, similar-action observations large enough to promote?
func clusterTimeObservations(recent []Observation, action string, cfg config.Pattern) (string, bool) {
	var matched []Observation
	var refMinutes int
	haveRef := false
	for _, o := range recent {
		var d timeObservationData
		if json.Unmarshal([]byte(o.DataJSON), &d) != nil || !similarActions(d.Action, action) {
			continue
		}
		m := minutesOfDay(o.Timestamp.Hour(), o.Timestamp.Minute())
		if !haveRef {
			refMinutes = m
			haveRef = true
		}
		if timeOfDayDistanceMinutes(m, refMinutes) > cfg.TimeToleranceMinutes {
			continue
		}
		matched = append(matched, o)
	}
	if len(matched) < cfg.MinObservations {
		return "", false
	}
	return fmt.Sprintf("Tends to %s around a consistent time of day", normalizeAction(action)), true
}

// clusterEventObservations is the equivalent check for the event shape,
// with a fixed threshold: it promotes once two matching observations (the
// new one included) exist, whatever min_observations is set to.
func clusterEventObservations(recent []Observation, event, followUp string) (string, bool) {
	var count int
	for _, o := range recent {
		var d eventObservationData
		if json.Unmarshal([]byte(o.DataJSON), &d) != nil {
			continue
		}
		if d.Event == event && similarActions(d.FollowUp, followUp) {
			count++
		}
	}
	if count < 2 {
		return "", false
	}
	return fmt.Sprintf("After %q, tends to %s", event, followUp), true
}

// clusterContextObservations mirrors the same check for the context shape.
func clusterContextObservations(recent []Observation, keywords []string, need string, cfg config.Pattern) (string, bool) {
	var count int
	for _, o := range recent {
		var d contextObservationData
		if json.Unmarshal([]byte(o.DataJSON), &d) != nil {
			continue
		}
		if similarActions(d.Need, need) && keywordOverlapRatio(d.Keywords, keywords) >= cfg.MinOverlapRatio {
			count++
		}
	}
	if count < cfg.MinObservations {
		return "", false
	}
	return fmt.Sprintf("Repeatedly needs %q in similar contexts", need), true
}

// DetectedPattern is one cluster the on-demand detector pass produced.
type DetectedPattern struct {
	Type             ObservationType
	Description      string
	ObservationCount int
	FirstObserved    time.Time
	LastObserved     time.Time
	Consistency      float64
	TriggerKind      string // "day_of_week" | "time_of_day" | "followup" | "context"
	TriggerValue     string
	TypicalDelayS    float64
	ExpirationS      float64
	Keywords         []string
	UseSemantic      bool
	RelevanceThresh  float64
}

// Detect runs the full clustering pass over every observation the tracker
// holds for its agent, per §4.6.
func (t *Tracker) Detect() ([]DetectedPattern, error) {
	timeObs, err := t.store.allObservations(t.agentID, ObservationTime)
	if err != nil {
		return nil, err
	}
	eventObs, err := t.store.allObservations(t.agentID, ObservationEvent)
	if err != nil {
		return nil, err
	}
	ctxObs, err := t.store.allObservations(t.agentID, ObservationContext)
	if err != nil {
		return nil, err
	}

	var out []DetectedPattern
	out = append(out, detectTime(timeObs, t.cfg)...)
	out = append(out, detectEvent(eventObs, t.cfg)...)
	out = append(out, detectContext(ctxObs, t.cfg)...)
	return out, nil
}

func detectTime(obs []Observation, cfg config.Pattern) []DetectedPattern {
	groups := groupBySimilarAction(obs)

	var out []DetectedPattern
	for action, group := range groups {
		if len(group) < cfg.MinObservations {
			continue
		}
		clusters := greedyTimeClusters(group, cfg.TimeToleranceMinutes)
		for _, cluster := range clusters {
			if len(cluster) < cfg.MinObservations {
				continue
			}
			minutes := make([]float64, len(cluster))
			days := map[time.Weekday]int{}
			var first, last time.Time
			for i, o := range cluster {
				minutes[i] = float64(minutesOfDay(o.Timestamp.Hour(), o.Timestamp.Minute()))
				days[o.Timestamp.Weekday()]++
				if first.IsZero() || o.Timestamp.Before(first) {
					first = o.Timestamp
				}
				if last.IsZero() || o.Timestamp.After(last) {
					last = o.Timestamp
				}
			}
			consistency := math.Exp(-stddev(minutes) / 60)

			triggerKind, triggerValue := "time_of_day", fmt.Sprintf("%02d:%02d", int(mean(minutes))/60, int(mean(minutes))%60)
			if len(days) <= 3 {
				triggerKind = "day_of_week"
				triggerValue = mostFrequentDay(days).String()
			}

			out = append(out, DetectedPattern{
				Type:             ObservationTime,
				Description:      fmt.Sprintf("Tends to %s around a consistent time of day", action),
				ObservationCount: len(cluster),
				FirstObserved:    first,
				LastObserved:     last,
				Consistency:      consistency,
				TriggerKind:      triggerKind,
				TriggerValue:     triggerValue,
			})
		}
	}
	return out
}

func groupBySimilarAction(obs []Observation) map[string][]Observation {
	groups := map[string][]Observation{}
	for _, o := range obs {
		var d timeObservationData
		if json.Unmarshal([]byte(o.DataJSON), &d) != nil {
			continue
		}
		action := normalizeAction(d.Action)
		placed := false
		for key := range groups {
			if similarActions(key, action) {
				groups[key] = append(groups[key], o)
				placed = true
				break
			}
		}
		if !placed {
			groups[action] = append(groups[action], o)
		}
	}
	return groups
}

// greedyTimeClusters buckets observations (sorted by time-of-day) into
// clusters whose elements are all within tolerance of the cluster's anchor.
func greedyTimeClusters(obs []Observation, toleranceMinutes int) [][]Observation {
	sorted := append([]Observation(nil), obs...)
	sort.Slice(sorted, func(i, j int) bool {
		return minutesOfDay(sorted[i].Timestamp.Hour(), sorted[i].Timestamp.Minute()) <
			minutesOfDay(sorted[j].Timestamp.Hour(), sorted[j].Timestamp.Minute())
	})

	var clusters [][]Observation
	var current []Observation
	var anchor int
	for _, o := range sorted {
		m := minutesOfDay(o.Timestamp.Hour(), o.Timestamp.Minute())
		if len(current) == 0 {
			current = []Observation{o}
			anchor = m
			continue
		}
		if timeOfDayDistanceMinutes(m, anchor) <= toleranceMinutes {
			current = append(current, o)
			continue
		}
		clusters = append(clusters, current)
		current = []Observation{o}
		anchor = m
	}
	if len(current) > 0 {
		clusters = append(clusters, current)
	}
	return clusters
}

func mostFrequentDay(days map[time.Weekday]int) time.Weekday {
	var best time.Weekday
	bestCount := -1
	for d := time.Sunday; d <= time.Saturday; d++ {
		if days[d] > bestCount {
			best = d
			bestCount = days[d]
		}
	}
	return best
}

func detectEvent(obs []Observation, cfg config.Pattern) []DetectedPattern {
	type key struct{ event, followUp string }
	groups := map[key][]Observation{}
	for _, o := range obs {
		var d eventObservationData
		if json.Unmarshal([]byte(o.DataJSON), &d) != nil {
			continue
		}
		placed := false
		for k := range groups {
			if k.event == d.Event && similarActions(k.followUp, d.FollowUp) {
				groups[k] = append(groups[k], o)
				placed = true
				break
			}
		}
		if !placed {
			groups[key{d.Event, d.FollowUp}] = append(groups[key{d.Event, d.FollowUp}], o)
		}
	}

	var out []DetectedPattern
	for k, group := range groups {
		if len(group) < cfg.MinObservations {
			continue
		}
		var delays []float64
		var first, last time.Time
		for _, o := range group {
			var d eventObservationData
			if json.Unmarshal([]byte(o.DataJSON), &d) != nil {
				continue
			}
			delays = append(delays, d.DelayS)
			if first.IsZero() || o.Timestamp.Before(first) {
				first = o.Timestamp
			}
			if last.IsZero() || o.Timestamp.After(last) {
				last = o.Timestamp
			}
		}
		m := mean(delays)
		cv := 0.0
		if m != 0 {
			cv = stddev(delays) / m
		}
		consistency := math.Exp(-cv)
		maxDelay := 0.0
		for _, d := range delays {
			if d > maxDelay {
				maxDelay = d
			}
		}
		expiration := 2 * maxDelay
		if expiration < 300 {
			expiration = 300
		}

		out = append(out, DetectedPattern{
			Type:             ObservationEvent,
			Description:      fmt.Sprintf("After %q, tends to %s", k.event, k.followUp),
			ObservationCount: len(group),
			FirstObserved:    first,
			LastObserved:     last,
			Consistency:      consistency,
			TriggerKind:      "followup",
			TriggerValue:     k.followUp,
			TypicalDelayS:    m,
			ExpirationS:      expiration,
		})
	}
	return out
}

func detectContext(obs []Observation, cfg config.Pattern) []DetectedPattern {
	var withData []contextObservationData
	var withObs []Observation
	for _, o := range obs {
		var d contextObservationData
		if json.Unmarshal([]byte(o.DataJSON), &d) != nil {
			continue
		}
		withData = append(withData, d)
		withObs = append(withObs, o)
	}

	assigned := make([]bool, len(withData))
	var out []DetectedPattern
	for i := range withData {
		if assigned[i] {
			continue
		}
		cluster := []int{i}
		assigned[i] = true
		for j := i + 1; j < len(withData); j++ {
			if assigned[j] {
				continue
			}
			if similarActions(withData[i].Need, withData[j].Need) &&
				keywordOverlapRatio(withData[i].Keywords, withData[j].Keywords) >= cfg.MinOverlapRatio {
				cluster = append(cluster, j)
				assigned[j] = true
			}
		}
		if len(cluster) < cfg.MinObservations {
			continue
		}

		freq := map[string]int{}
		var first, last time.Time
		var minScore float64
		haveScore := false
		for _, idx := range cluster {
			for _, kw := range withData[idx].Keywords {
				freq[kw]++
			}
			ts := withObs[idx].Timestamp
			if first.IsZero() || ts.Before(first) {
				first = ts
			}
			if last.IsZero() || ts.After(last) {
				last = ts
			}
			if withData[idx].SimilarityScore != nil {
				if !haveScore || *withData[idx].SimilarityScore < minScore {
					minScore = *withData[idx].SimilarityScore
					haveScore = true
				}
			}
		}

		keywords := topKByFrequency(freq, 5)
		relevance := 0.5
		if haveScore {
			relevance = 0.9 * minScore
		}

		out = append(out, DetectedPattern{
			Type:             ObservationContext,
			Description:      fmt.Sprintf("Repeatedly needs %q in similar contexts", withData[i].Need),
			ObservationCount: len(cluster),
			FirstObserved:    first,
			LastObserved:     last,
			Consistency:      1,
			TriggerKind:      "context",
			TriggerValue:     withData[i].Need,
			Keywords:         keywords,
			UseSemantic:      haveScore,
			RelevanceThresh:  relevance,
		})
	}
	return out
}

func topKByFrequency(freq map[string]int, k int) []string {
	type kv struct {
		key   string
		count int
	}
	var all []kv
	for k, v := range freq {
		all = append(all, kv{k, v})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].key < all[j].key
	})
	if len(all) > k {
		all = all[:k]
	}
	out := make([]string, len(all))
	for i, e := range all {
		out[i] = e.key
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var sumSq float64
	for _, x := range xs {
		sumSq += (x - m) * (x - m)
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}
