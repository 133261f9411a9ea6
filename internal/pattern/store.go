// Package pattern implements the behavioral pattern tracker: durable
// per-agent observations, confidence-scored pattern records, a clustering
// detector, and merge/archival sweeps. Storage is a local embedded
// relational store (SQLite via modernc.org/sqlite), keyed throughout by
// agent_id so that cross-agent access is structurally impossible.
package pattern

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store owns the pattern tracker's SQLite-backed schema. All public
// operations are scoped to a single agent_id; see Tracker.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the pattern database at dbPath and
// applies the idempotent schema migration.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open pattern db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pattern_observations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			type TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			data_json TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pattern_obs_agent ON pattern_observations(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pattern_obs_type ON pattern_observations(type)`,
		`CREATE INDEX IF NOT EXISTS idx_pattern_obs_timestamp ON pattern_observations(timestamp)`,
		`CREATE TABLE IF NOT EXISTS patterns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			type TEXT NOT NULL,
			description TEXT NOT NULL,
			confidence REAL NOT NULL,
			observation_count INTEGER NOT NULL,
			first_observed DATETIME NOT NULL,
			last_observed DATETIME NOT NULL,
			active INTEGER NOT NULL DEFAULT 0,
			linked_reminder_id TEXT,
			data_json TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT (datetime('now')),
			updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_patterns_agent ON patterns(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_patterns_type ON patterns(type)`,
		`CREATE INDEX IF NOT EXISTS idx_patterns_active ON patterns(active)`,
		`CREATE INDEX IF NOT EXISTS idx_patterns_confidence ON patterns(confidence)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate pattern schema: %w", err)
		}
	}
	return nil
}

// Observation is one persisted row of pattern_observations.
type Observation struct {
	ID        int64
	AgentID   string
	Type      ObservationType
	Timestamp time.Time
	DataJSON  string
	CreatedAt time.Time
}

// ObservationType names the three observation shapes the tracker accepts.
type ObservationType string

const (
	ObservationTime    ObservationType = "time"
	ObservationEvent   ObservationType = "event"
	ObservationContext ObservationType = "context"
)

// Pattern is one persisted row of patterns.
type Pattern struct {
	ID                int64
	AgentID           string
	Type              ObservationType
	Description       string
	Confidence        float64
	ObservationCount  int
	FirstObserved     time.Time
	LastObserved      time.Time
	Active            bool
	LinkedReminderID  *string
	DataJSON          string
}

const sqliteTimeLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string { return t.UTC().Format(sqliteTimeLayout) }

func parseTime(s string) time.Time {
	if t, err := time.Parse(sqliteTimeLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

func (s *Store) insertObservation(agentID string, typ ObservationType, ts time.Time, dataJSON string) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO pattern_observations (agent_id, type, timestamp, data_json) VALUES (?, ?, ?, ?)`,
		agentID, string(typ), formatTime(ts), dataJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("insert observation: %w", err)
	}
	return result.LastInsertId()
}

// recentObservations returns the most recent `limit` observations of typ
// for agentID, newest first.
func (s *Store) recentObservations(agentID string, typ ObservationType, limit int) ([]Observation, error) {
	rows, err := s.db.Query(
		`SELECT id, agent_id, type, timestamp, data_json, created_at
		 FROM pattern_observations
		 WHERE agent_id = ? AND type = ?
		 ORDER BY timestamp DESC
		 LIMIT ?`,
		agentID, string(typ), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent observations: %w", err)
	}
	defer rows.Close()
	return scanObservations(rows)
}

// allObservations returns every observation for agentID, optionally
// filtered by typ ("" for all types), oldest first.
func (s *Store) allObservations(agentID string, typ ObservationType) ([]Observation, error) {
	var rows *sql.Rows
	var err error
	if typ == "" {
		rows, err = s.db.Query(
			`SELECT id, agent_id, type, timestamp, data_json, created_at
			 FROM pattern_observations WHERE agent_id = ? ORDER BY timestamp ASC`, agentID)
	} else {
		rows, err = s.db.Query(
			`SELECT id, agent_id, type, timestamp, data_json, created_at
			 FROM pattern_observations WHERE agent_id = ? AND type = ? ORDER BY timestamp ASC`, agentID, string(typ))
	}
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()
	return scanObservations(rows)
}

func scanObservations(rows *sql.Rows) ([]Observation, error) {
	var out []Observation
	for rows.Next() {
		var o Observation
		var typ, ts, createdAt string
		if err := rows.Scan(&o.ID, &o.AgentID, &typ, &ts, &o.DataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		o.Type = ObservationType(typ)
		o.Timestamp = parseTime(ts)
		o.CreatedAt = parseTime(createdAt)
		out = append(out, o)
	}
	return out, rows.Err()
}

// findPatternByDescription looks up an existing pattern for agentID/typ whose
// description matches exactly (the tracker's notion of "the same pattern").
func (s *Store) findPatternByDescription(agentID string, typ ObservationType, description string) (*Pattern, error) {
	row := s.db.QueryRow(
		`SELECT id, agent_id, type, description, confidence, observation_count,
		        first_observed, last_observed, active, linked_reminder_id, data_json
		 FROM patterns WHERE agent_id = ? AND type = ? AND description = ?`,
		agentID, string(typ), description,
	)
	return scanPatternRow(row)
}

func scanPatternRow(row *sql.Row) (*Pattern, error) {
	var p Pattern
	var typ, first, last string
	var active int
	var linked sql.NullString
	err := row.Scan(&p.ID, &p.AgentID, &typ, &p.Description, &p.Confidence, &p.ObservationCount,
		&first, &last, &active, &linked, &p.DataJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan pattern: %w", err)
	}
	p.Type = ObservationType(typ)
	p.FirstObserved = parseTime(first)
	p.LastObserved = parseTime(last)
	p.Active = active != 0
	if linked.Valid {
		v := linked.String
		p.LinkedReminderID = &v
	}
	return &p, nil
}

func (s *Store) allPatterns(agentID string) ([]Pattern, error) {
	rows, err := s.db.Query(
		`SELECT id, agent_id, type, description, confidence, observation_count,
		        first_observed, last_observed, active, linked_reminder_id, data_json
		 FROM patterns WHERE agent_id = ?`, agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	var out []Pattern
	for rows.Next() {
		var p Pattern
		var typ, first, last string
		var active int
		var linked sql.NullString
		if err := rows.Scan(&p.ID, &p.AgentID, &typ, &p.Description, &p.Confidence, &p.ObservationCount,
			&first, &last, &active, &linked, &p.DataJSON); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		p.Type = ObservationType(typ)
		p.FirstObserved = parseTime(first)
		p.LastObserved = parseTime(last)
		p.Active = active != 0
		if linked.Valid {
			v := linked.String
			p.LinkedReminderID = &v
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) insertPattern(p Pattern) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO patterns (agent_id, type, description, confidence, observation_count,
		                       first_observed, last_observed, active, linked_reminder_id, data_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.AgentID, string(p.Type), p.Description, p.Confidence, p.ObservationCount,
		formatTime(p.FirstObserved), formatTime(p.LastObserved), boolToInt(p.Active), p.LinkedReminderID, p.DataJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("insert pattern: %w", err)
	}
	return result.LastInsertId()
}

func (s *Store) updatePattern(p Pattern) error {
	_, err := s.db.Exec(
		`UPDATE patterns SET confidence = ?, observation_count = ?, last_observed = ?,
		                      active = ?, data_json = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		p.Confidence, p.ObservationCount, formatTime(p.LastObserved), boolToInt(p.Active), p.DataJSON, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update pattern: %w", err)
	}
	return nil
}

// deletePattern removes a pattern by id (used by the top-N trim in merge).
func (s *Store) deletePattern(id int64) error {
	_, err := s.db.Exec(`DELETE FROM patterns WHERE id = ?`, id)
	return err
}

// archiveInactiveOlderThan deletes inactive patterns for agentID whose
// last_observed predates cutoff. Returns the number deleted.
func (s *Store) archiveInactiveOlderThan(agentID string, cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(
		`DELETE FROM patterns WHERE agent_id = ? AND active = 0 AND last_observed < ?`,
		agentID, formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("archive patterns: %w", err)
	}
	return result.RowsAffected()
}

// pruneObservations keeps only the most recent maxObservations rows for
// agentID, deleting the rest.
func (s *Store) pruneObservations(agentID string, maxObservations int) error {
	_, err := s.db.Exec(
		`DELETE FROM pattern_observations
		 WHERE agent_id = ? AND id NOT IN (
			SELECT id FROM pattern_observations WHERE agent_id = ? ORDER BY timestamp DESC LIMIT ?
		 )`,
		agentID, agentID, maxObservations,
	)
	if err != nil {
		return fmt.Errorf("prune observations: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
