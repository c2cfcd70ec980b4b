package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/navshield/sentineltrace/pkg/model"
	"github.com/navshield/sentineltrace/pkg/sentinelerrors"
)

// TestMetadata describes a catalog entry at creation time.
type TestMetadata struct {
	TechniqueNumber string
	TechniqueName   string
	Description     string
}

// InsertAtomicTest creates an atomic_tests row bound to sessionID.
func (s *Store) InsertAtomicTest(sessionID int64, meta TestMetadata) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO atomic_tests (technique_number, technique_name, description, executed_at, session_id)
		VALUES (?, ?, ?, ?, ?)`,
		meta.TechniqueNumber, meta.TechniqueName, meta.Description, nowUTC().Format(time.RFC3339Nano), sessionID)
	if err != nil {
		return 0, fmt.Errorf("store: insert atomic test: %w", err)
	}
	return res.LastInsertId()
}

// FinalizeAtomicTest marks a catalog entry finalized and records its total
// event count.
func (s *Store) FinalizeAtomicTest(testID int64, totalEvents int) error {
	res, err := s.db.Exec(`UPDATE atomic_tests SET finalized = 1, total_events = ? WHERE id = ?`, totalEvents, testID)
	if err != nil {
		return fmt.Errorf("store: finalize atomic test: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinelerrors.NotFound("finalize_atomic_test", fmt.Sprintf("test %d", testID))
	}
	return nil
}

// AtomicTest is a catalog entry row.
type AtomicTest struct {
	ID                 int64
	TechniqueNumber    string
	TechniqueName      string
	Description        string
	ExecutedAt         time.Time
	SessionID          int64
	TotalEvents        int
	Finalized          bool
	SeverityLabel      string
	SeverityReason     string
	NormalizationStatus string
	NormalizedAt       *time.Time
}

// GetAtomicTest reads a single catalog entry.
func (s *Store) GetAtomicTest(testID int64) (AtomicTest, error) {
	var t AtomicTest
	var executedAt string
	var normalizedAt sql.NullString
	var finalized int
	err := s.db.QueryRow(`
		SELECT id, technique_number, technique_name, description, executed_at, session_id,
			total_events, finalized, severity_label, severity_reason, normalization_status, normalized_at
		FROM atomic_tests WHERE id = ?`, testID).
		Scan(&t.ID, &t.TechniqueNumber, &t.TechniqueName, &t.Description, &executedAt, &t.SessionID,
			&t.TotalEvents, &finalized, &t.SeverityLabel, &t.SeverityReason, &t.NormalizationStatus, &normalizedAt)
	if err == sql.ErrNoRows {
		return AtomicTest{}, sentinelerrors.NotFound("get_atomic_test", fmt.Sprintf("test %d", testID))
	}
	if err != nil {
		return AtomicTest{}, fmt.Errorf("store: get atomic test: %w", err)
	}
	t.ExecutedAt, _ = time.Parse(time.RFC3339Nano, executedAt)
	t.Finalized = finalized != 0
	if normalizedAt.Valid && normalizedAt.String != "" {
		ts, _ := time.Parse(time.RFC3339Nano, normalizedAt.String)
		t.NormalizedAt = &ts
	}
	return t, nil
}

// ListAtomicTests returns all catalog entries, most recent first.
func (s *Store) ListAtomicTests() ([]AtomicTest, error) {
	rows, err := s.db.Query(`
		SELECT id, technique_number, technique_name, description, executed_at, session_id,
			total_events, finalized, severity_label, severity_reason, normalization_status, normalized_at
		FROM atomic_tests ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list atomic tests: %w", err)
	}
	defer rows.Close()

	var out []AtomicTest
	for rows.Next() {
		var t AtomicTest
		var executedAt string
		var normalizedAt sql.NullString
		var finalized int
		if err := rows.Scan(&t.ID, &t.TechniqueNumber, &t.TechniqueName, &t.Description, &executedAt, &t.SessionID,
			&t.TotalEvents, &finalized, &t.SeverityLabel, &t.SeverityReason, &t.NormalizationStatus, &normalizedAt); err != nil {
			return nil, fmt.Errorf("store: list atomic tests: scan: %w", err)
		}
		t.ExecutedAt, _ = time.Parse(time.RFC3339Nano, executedAt)
		t.Finalized = finalized != 0
		if normalizedAt.Valid && normalizedAt.String != "" {
			ts, _ := time.Parse(time.RFC3339Nano, normalizedAt.String)
			t.NormalizedAt = &ts
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateAtomicTest patches the mutable descriptive fields of a catalog
// entry. Nil pointers leave the field unchanged.
func (s *Store) UpdateAtomicTest(testID int64, techniqueNumber, techniqueName, description *string) error {
	if techniqueNumber != nil {
		if _, err := s.db.Exec(`UPDATE atomic_tests SET technique_number = ? WHERE id = ?`, *techniqueNumber, testID); err != nil {
			return fmt.Errorf("store: update atomic test: %w", err)
		}
	}
	if techniqueName != nil {
		if _, err := s.db.Exec(`UPDATE atomic_tests SET technique_name = ? WHERE id = ?`, *techniqueName, testID); err != nil {
			return fmt.Errorf("store: update atomic test: %w", err)
		}
	}
	if description != nil {
		if _, err := s.db.Exec(`UPDATE atomic_tests SET description = ? WHERE id = ?`, *description, testID); err != nil {
			return fmt.Errorf("store: update atomic test: %w", err)
		}
	}
	return nil
}

// DeleteAtomicTest removes a catalog entry and cascades to its signature,
// core events, and normalization log.
func (s *Store) DeleteAtomicTest(testID int64) error {
	res, err := s.db.Exec(`DELETE FROM atomic_tests WHERE id = ?`, testID)
	if err != nil {
		return fmt.Errorf("store: delete atomic test: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinelerrors.NotFound("delete_atomic_test", fmt.Sprintf("test %d", testID))
	}
	return nil
}

// SaveTestReview records an operator-supplied severity label and notes on a
// catalog entry.
func (s *Store) SaveTestReview(testID int64, severityLabel, notes string) error {
	res, err := s.db.Exec(`UPDATE atomic_tests SET severity_label = ?, description = CASE WHEN ? != '' THEN ? ELSE description END WHERE id = ?`,
		severityLabel, notes, notes, testID)
	if err != nil {
		return fmt.Errorf("store: save test review: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinelerrors.NotFound("save_test_review", fmt.Sprintf("test %d", testID))
	}
	return nil
}

// UpdateSeverity overwrites a catalog entry's severity label and reason.
func (s *Store) UpdateSeverity(testID int64, label, reason string) error {
	res, err := s.db.Exec(`UPDATE atomic_tests SET severity_label = ?, severity_reason = ? WHERE id = ?`, label, reason, testID)
	if err != nil {
		return fmt.Errorf("store: update severity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinelerrors.NotFound("update_severity", fmt.Sprintf("test %d", testID))
	}
	return nil
}

// SaveNormalizationResult persists a signature, its core event subset, and
// normalization log, overwriting any prior signature for the same test in
// place.
func (s *Store) SaveNormalizationResult(testID int64, result model.NormalizationResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: save normalization result: begin: %w", err)
	}
	defer tx.Rollback()

	histogramJSON, err := marshalHistogram(result.Signature.Feature.Histogram)
	if err != nil {
		return fmt.Errorf("store: save normalization result: marshal histogram: %w", err)
	}
	featureJSON, err := json.Marshal(featureVectorDTO{
		Histogram:          histogramJSON,
		ProcessTreeDepth:   result.Signature.Feature.ProcessTreeDepth,
		UniqueDestinations: result.Signature.Feature.UniqueDestinations,
		RegistryOpCount:    result.Signature.Feature.RegistryOpCount,
		FileOpCount:        result.Signature.Feature.FileOpCount,
		TemporalSpanSecs:   result.Signature.Feature.TemporalSpanSecs,
		CriticalEventCount: result.Signature.Feature.CriticalEventCount,
	})
	if err != nil {
		return fmt.Errorf("store: save normalization result: marshal feature vector: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO normalized_test_signatures
			(test_id, status, severity_label, severity_reason, feature_vector, signature_hash, processed_at, quality_score, warnings, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(test_id) DO UPDATE SET
			status = excluded.status, severity_label = excluded.severity_label, severity_reason = excluded.severity_reason,
			feature_vector = excluded.feature_vector, signature_hash = excluded.signature_hash,
			processed_at = excluded.processed_at, quality_score = excluded.quality_score,
			warnings = excluded.warnings, notes = excluded.notes`,
		testID, result.Signature.Status, result.Signature.SeverityLabel, result.Signature.SeverityReason,
		string(featureJSON), result.Signature.Hash, result.Signature.ProcessedAt.Format(time.RFC3339Nano),
		result.Signature.QualityScore, strings.Join(result.Signature.Warnings, ";"), result.Signature.Notes)
	if err != nil {
		return fmt.Errorf("store: save normalization result: upsert signature: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM normalized_core_events WHERE test_id = ?`, testID); err != nil {
		return fmt.Errorf("store: save normalization result: clear core events: %w", err)
	}
	for _, eventID := range result.Segregation.Core {
		if _, err := tx.Exec(`INSERT INTO normalized_core_events (test_id, event_id, kind_code) VALUES (?, ?, 0)`, testID, eventID); err != nil {
			return fmt.Errorf("store: save normalization result: insert core event: %w", err)
		}
	}

	for _, entry := range result.Logs {
		if _, err := tx.Exec(`INSERT INTO normalization_log (test_id, level, message, logged_at) VALUES (?, ?, ?, ?)`,
			testID, entry.Level, entry.Message, entry.At.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("store: save normalization result: insert log: %w", err)
		}
	}

	if _, err := tx.Exec(`UPDATE atomic_tests SET normalization_status = ?, normalized_at = ?, severity_label = ?, severity_reason = ? WHERE id = ?`,
		result.Signature.Status, result.Signature.ProcessedAt.Format(time.RFC3339Nano), result.Signature.SeverityLabel, result.Signature.SeverityReason, testID); err != nil {
		return fmt.Errorf("store: save normalization result: update test: %w", err)
	}

	return tx.Commit()
}

// GetSignatureByTest reads back the full persisted signature for one
// catalog entry, used by the export surface.
func (s *Store) GetSignatureByTest(testID int64) (model.Signature, error) {
	var sig model.Signature
	var processedAt, warnings, featureJSON string
	err := s.db.QueryRow(`
		SELECT test_id, status, severity_label, severity_reason, feature_vector, signature_hash, processed_at, quality_score, warnings, notes
		FROM normalized_test_signatures WHERE test_id = ?`, testID).
		Scan(&sig.TestID, &sig.Status, &sig.SeverityLabel, &sig.SeverityReason, &featureJSON, &sig.Hash, &processedAt, &sig.QualityScore, &warnings, &sig.Notes)
	if err == sql.ErrNoRows {
		return model.Signature{}, sentinelerrors.NotFound("get_signature", fmt.Sprintf("signature for test %d", testID))
	}
	if err != nil {
		return model.Signature{}, fmt.Errorf("store: get signature by test: %w", err)
	}
	sig.ProcessedAt, _ = time.Parse(time.RFC3339Nano, processedAt)
	if warnings != "" {
		sig.Warnings = strings.Split(warnings, ";")
	}

	var dto featureVectorDTO
	if err := json.Unmarshal([]byte(featureJSON), &dto); err != nil {
		return model.Signature{}, fmt.Errorf("store: get signature by test: unmarshal feature vector: %w", err)
	}
	histogram, err := unmarshalHistogram(dto.Histogram)
	if err != nil {
		return model.Signature{}, fmt.Errorf("store: get signature by test: unmarshal histogram: %w", err)
	}
	sig.Feature = model.FeatureVector{
		Histogram:          histogram,
		ProcessTreeDepth:   dto.ProcessTreeDepth,
		UniqueDestinations: dto.UniqueDestinations,
		RegistryOpCount:    dto.RegistryOpCount,
		FileOpCount:        dto.FileOpCount,
		TemporalSpanSecs:   dto.TemporalSpanSecs,
		CriticalEventCount: dto.CriticalEventCount,
	}
	return sig, nil
}

// LoadCatalogedSignatures returns the signature context, used by the
// correlator, of every catalog entry whose normalization status is
// "completed".
func (s *Store) LoadCatalogedSignatures() ([]model.SignatureContext, error) {
	rows, err := s.db.Query(`
		SELECT s.test_id, t.technique_number, t.technique_name, t.severity_label, s.feature_vector
		FROM normalized_test_signatures s JOIN atomic_tests t ON t.id = s.test_id
		WHERE s.status = 'completed'`)
	if err != nil {
		return nil, fmt.Errorf("store: load cataloged signatures: %w", err)
	}
	defer rows.Close()

	var out []model.SignatureContext
	for rows.Next() {
		var testID int64
		var techniqueNumber, techniqueName, severityLabel, featureJSON string
		if err := rows.Scan(&testID, &techniqueNumber, &techniqueName, &severityLabel, &featureJSON); err != nil {
			return nil, fmt.Errorf("store: load cataloged signatures: scan: %w", err)
		}

		var dto featureVectorDTO
		if err := json.Unmarshal([]byte(featureJSON), &dto); err != nil {
			return nil, fmt.Errorf("store: load cataloged signatures: unmarshal feature vector: %w", err)
		}
		histogram, err := unmarshalHistogram(dto.Histogram)
		if err != nil {
			return nil, fmt.Errorf("store: load cataloged signatures: unmarshal histogram: %w", err)
		}

		coreIDs, pattern, err := s.loadCorePattern(testID)
		if err != nil {
			return nil, err
		}

		out = append(out, model.SignatureContext{
			TestID:        testID,
			TechniqueID:   techniqueNumber,
			TechniqueName: techniqueName,
			Tactic:        "", // not tracked by the catalog schema
			ThreatLevel:   model.ParseThreatLevel(severityLabel),
			Feature: model.FeatureVector{
				Histogram:          histogram,
				ProcessTreeDepth:   dto.ProcessTreeDepth,
				UniqueDestinations: dto.UniqueDestinations,
				RegistryOpCount:    dto.RegistryOpCount,
				FileOpCount:        dto.FileOpCount,
				TemporalSpanSecs:   dto.TemporalSpanSecs,
				CriticalEventCount: dto.CriticalEventCount,
			},
			CoreEventIDs: coreIDs,
			CorePattern:  pattern,
		})
	}
	return out, rows.Err()
}

func (s *Store) loadCorePattern(testID int64) ([]int64, []model.CorePattern, error) {
	rows, err := s.db.Query(`
		SELECT nce.event_id, e.kind_code, e.utc_time
		FROM normalized_core_events nce JOIN events e ON e.event_id = nce.event_id
		WHERE nce.test_id = ? ORDER BY e.utc_time ASC, e.sequence ASC`, testID)
	if err != nil {
		return nil, nil, fmt.Errorf("store: load core pattern: %w", err)
	}
	defer rows.Close()

	type row struct {
		eventID int64
		kind    int
		utc     time.Time
	}
	var rs []row
	for rows.Next() {
		var r row
		var utcStr string
		if err := rows.Scan(&r.eventID, &r.kind, &utcStr); err != nil {
			return nil, nil, fmt.Errorf("store: load core pattern: scan: %w", err)
		}
		r.utc, _ = time.Parse(time.RFC3339Nano, utcStr)
		rs = append(rs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	sort.Slice(rs, func(i, j int) bool { return rs[i].utc.Before(rs[j].utc) })

	var ids []int64
	var pattern []model.CorePattern
	var first time.Time
	for i, r := range rs {
		if i == 0 {
			first = r.utc
		}
		ids = append(ids, r.eventID)
		pattern = append(pattern, model.CorePattern{
			EventID:       r.eventID,
			KindCode:      r.kind,
			OffsetSeconds: r.utc.Sub(first).Seconds(),
		})
	}
	return ids, pattern, nil
}

// featureVectorDTO is the JSON-serialized form of model.FeatureVector
// persisted in normalized_test_signatures.feature_vector.
type featureVectorDTO struct {
	Histogram          string  `json:"histogram"`
	ProcessTreeDepth   int     `json:"process_tree_depth"`
	UniqueDestinations int     `json:"unique_destinations"`
	RegistryOpCount    int     `json:"registry_op_count"`
	FileOpCount        int     `json:"file_op_count"`
	TemporalSpanSecs   float64 `json:"temporal_span_secs"`
	CriticalEventCount int     `json:"critical_event_count"`
}

func marshalHistogram(h map[int]int) (string, error) {
	b, err := json.Marshal(h)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalHistogram(s string) (map[int]int, error) {
	if s == "" {
		return map[int]int{}, nil
	}
	var h map[int]int
	if err := json.Unmarshal([]byte(s), &h); err != nil {
		return nil, err
	}
	return h, nil
}
