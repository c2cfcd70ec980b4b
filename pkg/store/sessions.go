package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/navshield/sentineltrace/pkg/model"
	"github.com/navshield/sentineltrace/pkg/sentinelerrors"
)

// BeginSession inserts a new session row and returns its fresh monotonic id.
func (s *Store) BeginSession(info model.SessionInfo) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO sessions (started_at, target_executable, root_pid, host, user, os_version, notes)
		VALUES (?, ?, ?, ?, ?, ?, '')`,
		nowUTC().Format(time.RFC3339Nano), info.TargetExecutable, info.RootPID, info.Host, info.User, info.OSVersion)
	if err != nil {
		return 0, fmt.Errorf("store: begin session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: begin session: last insert id: %w", err)
	}
	return id, nil
}

// CompleteSession sets ended-at and appends a JSON summary to notes,
// preserving prior notes. Sealing an already-sealed session
// is a Conflict.
func (s *Store) CompleteSession(sessionID int64, summary model.SessionSummary) error {
	var endedAt sql.NullString
	var notes string
	err := s.db.QueryRow(`SELECT ended_at, notes FROM sessions WHERE id = ?`, sessionID).Scan(&endedAt, &notes)
	if err == sql.ErrNoRows {
		return sentinelerrors.NotFound("complete_session", fmt.Sprintf("session %d", sessionID))
	}
	if err != nil {
		return fmt.Errorf("store: complete session: %w", err)
	}
	if endedAt.Valid && endedAt.String != "" {
		return sentinelerrors.Conflict("complete_session", fmt.Sprintf("session %d already ended", sessionID))
	}

	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("store: complete session: marshal summary: %w", err)
	}
	newNotes := notes
	if newNotes != "" {
		newNotes += "\n"
	}
	newNotes += string(summaryJSON)

	_, err = s.db.Exec(`UPDATE sessions SET ended_at = ?, notes = ? WHERE id = ?`,
		nowUTC().Format(time.RFC3339Nano), newNotes, sessionID)
	if err != nil {
		return fmt.Errorf("store: complete session: %w", err)
	}
	return nil
}

// GetSession reads a single session row.
func (s *Store) GetSession(sessionID int64) (model.Session, error) {
	var sess model.Session
	var startedAt string
	var endedAt sql.NullString
	err := s.db.QueryRow(`
		SELECT id, started_at, ended_at, target_executable, root_pid, host, user, os_version, notes
		FROM sessions WHERE id = ?`, sessionID).
		Scan(&sess.ID, &startedAt, &endedAt, &sess.TargetExecutable, &sess.RootPID, &sess.Host, &sess.User, &sess.OSVersion, &sess.Notes)
	if err == sql.ErrNoRows {
		return model.Session{}, sentinelerrors.NotFound("get_session", fmt.Sprintf("session %d", sessionID))
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("store: get session: %w", err)
	}
	sess.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if endedAt.Valid && endedAt.String != "" {
		t, _ := time.Parse(time.RFC3339Nano, endedAt.String)
		sess.EndedAt = &t
	}
	return sess, nil
}

// ListSessions returns sessions ordered most-recent-first, excluding any
// whose target executable matches excludeTarget.
func (s *Store) ListSessions(excludeTarget string) ([]model.Session, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, ended_at, target_executable, root_pid, host, user, os_version, notes
		FROM sessions WHERE target_executable != ? ORDER BY id DESC`, excludeTarget)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		var sess model.Session
		var startedAt string
		var endedAt sql.NullString
		if err := rows.Scan(&sess.ID, &startedAt, &endedAt, &sess.TargetExecutable, &sess.RootPID, &sess.Host, &sess.User, &sess.OSVersion, &sess.Notes); err != nil {
			return nil, fmt.Errorf("store: list sessions: scan: %w", err)
		}
		sess.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		if endedAt.Valid && endedAt.String != "" {
			t, _ := time.Parse(time.RFC3339Nano, endedAt.String)
			sess.EndedAt = &t
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func nowUTC() time.Time { return time.Now().UTC() }
