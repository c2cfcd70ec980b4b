package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/navshield/sentineltrace/pkg/model"
)

// matchDTO is the JSON-serialized form of model.Match stored in
// session_similarity_snapshots.matches.
type matchDTO struct {
	TestID          int64    `json:"test_id"`
	TechniqueID     string   `json:"technique_id"`
	TechniqueName   string   `json:"technique_name"`
	Tactic          string   `json:"tactic"`
	Score           float64  `json:"score"`
	ThreatLevel     string   `json:"threat_level"`
	Confidence      string   `json:"confidence"`
	MatchedEventIDs []int64  `json:"matched_event_ids"`
	D1              float64  `json:"d1"`
	D2              float64  `json:"d2"`
	D3              float64  `json:"d3"`
	D4              float64  `json:"d4"`
}

// SaveSnapshot persists one monitor-iteration snapshot. Snapshots are
// append-only.
func (s *Store) SaveSnapshot(snap model.Snapshot) (int64, error) {
	dtos := make([]matchDTO, 0, len(snap.Matches))
	for _, m := range snap.Matches {
		dtos = append(dtos, matchDTO{
			TestID: m.TestID, TechniqueID: m.TechniqueID, TechniqueName: m.TechniqueName, Tactic: m.Tactic,
			Score: m.Score, ThreatLevel: m.ThreatLevel.String(), Confidence: m.Confidence,
			MatchedEventIDs: m.MatchedEventIDs, D1: m.D1, D2: m.D2, D3: m.D3, D4: m.D4,
		})
	}
	matchesJSON, err := json.Marshal(dtos)
	if err != nil {
		return 0, fmt.Errorf("store: save snapshot: marshal matches: %w", err)
	}

	res, err := s.db.Exec(`
		INSERT INTO session_similarity_snapshots (session_id, snapshot_at, matches, threat_level, event_count, active_process_count)
		VALUES (?, ?, ?, ?, ?, ?)`,
		snap.SessionID, snap.SnapshotAt.UTC().Format(time.RFC3339Nano), string(matchesJSON),
		snap.ThreatLevel.String(), snap.EventCount, snap.ActiveProcessCount)
	if err != nil {
		return 0, fmt.Errorf("store: save snapshot: %w", err)
	}
	return res.LastInsertId()
}

// SaveAlert persists an alert tied to a prior snapshot. Alerts are
// append-only.
func (s *Store) SaveAlert(alert model.Alert) (int64, error) {
	var prevLevel sql.NullString
	if alert.PreviousThreatLevel != nil {
		prevLevel = sql.NullString{String: alert.PreviousThreatLevel.String(), Valid: true}
	}
	res, err := s.db.Exec(`
		INSERT INTO alert_history (session_id, timestamp, previous_threat_level, new_threat_level, reason, trigger_technique_id, trigger_similarity, snapshot_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.SessionID, alert.Timestamp.UTC().Format(time.RFC3339Nano), prevLevel, alert.NewThreatLevel.String(),
		alert.Reason, alert.TriggerTechniqueID, alert.TriggerSimilarity, alert.SnapshotID)
	if err != nil {
		return 0, fmt.Errorf("store: save alert: %w", err)
	}
	return res.LastInsertId()
}

// LatestSnapshot returns the most recently inserted snapshot for a session,
// or (model.Snapshot{}, false, nil) if none exist yet.
func (s *Store) LatestSnapshot(sessionID int64) (model.Snapshot, bool, error) {
	var snap model.Snapshot
	var snapshotAt, threatLevel, matchesJSON string
	err := s.db.QueryRow(`
		SELECT id, session_id, snapshot_at, matches, threat_level, event_count, active_process_count
		FROM session_similarity_snapshots WHERE session_id = ? ORDER BY id DESC LIMIT 1`, sessionID).
		Scan(&snap.ID, &snap.SessionID, &snapshotAt, &matchesJSON, &threatLevel, &snap.EventCount, &snap.ActiveProcessCount)
	if err == sql.ErrNoRows {
		return model.Snapshot{}, false, nil
	}
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("store: latest snapshot: %w", err)
	}
	snap.SnapshotAt, _ = time.Parse(time.RFC3339Nano, snapshotAt)
	snap.ThreatLevel = model.ParseThreatLevel(threatLevel)

	var dtos []matchDTO
	if err := json.Unmarshal([]byte(matchesJSON), &dtos); err != nil {
		return model.Snapshot{}, false, fmt.Errorf("store: latest snapshot: unmarshal matches: %w", err)
	}
	for _, d := range dtos {
		snap.Matches = append(snap.Matches, model.Match{
			TestID: d.TestID, TechniqueID: d.TechniqueID, TechniqueName: d.TechniqueName, Tactic: d.Tactic,
			Score: d.Score, ThreatLevel: model.ParseThreatLevel(d.ThreatLevel), Confidence: d.Confidence,
			MatchedEventIDs: d.MatchedEventIDs, D1: d.D1, D2: d.D2, D3: d.D3, D4: d.D4,
		})
	}
	return snap, true, nil
}
