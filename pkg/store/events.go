package store

import (
	"fmt"
	"time"

	"github.com/navshield/sentineltrace/pkg/events"
	"github.com/navshield/sentineltrace/pkg/model"
)

const insertEventSQL = `
	INSERT INTO events (
		session_id, computer_name, event_record_id, kind_code, utc_time, capture_time, sequence,
		process_id, parent_process_id, image, parent_image, command_line, parent_command_line, user,
		src_ip, src_port, dst_ip, dst_port, protocol,
		target_filename, image_loaded, hashes,
		registry_key, registry_value, pipe_name,
		wmi_operation, wmi_name, wmi_type,
		dns_query, clipboard_hash, raw_payload
	) VALUES (
		?, ?, ?, ?, ?, ?, ?,
		?, ?, ?, ?, ?, ?, ?,
		?, ?, ?, ?, ?,
		?, ?, ?,
		?, ?, ?,
		?, ?, ?,
		?, ?, ?
	)
	ON CONFLICT(computer_name, event_record_id) DO NOTHING`

// InsertEvent inserts a single event, idempotent on (host, record id). On a
// transient busy error it retries once after a short back-off; further
// errors propagate.
func (s *Store) InsertEvent(sessionID int64, ev events.Event) error {
	err := s.insertEventOnce(sessionID, ev)
	if err != nil && isBusyErr(err) {
		time.Sleep(busyRetryDelay)
		err = s.insertEventOnce(sessionID, ev)
	}
	if err != nil {
		return fmt.Errorf("store: insert event: %w", err)
	}
	return nil
}

// registryDetailsBackfill preserves the source system's overload of stashing
// registry "Details" into the DNS-result column for wire compatibility
//; new callers should prefer RegistryValue directly.
func registryDetailsBackfill(ev events.Event) string {
	if ev.DnsQuery != "" {
		return ev.DnsQuery
	}
	if events.IsRegistryKind(ev.Header.Kind) {
		return ev.RegistryValue
	}
	return ""
}

func (s *Store) insertEventOnce(sessionID int64, ev events.Event) error {
	_, err := s.db.Exec(insertEventSQL,
		sessionID, ev.Header.Host, ev.Header.RecordID, int(ev.Header.Kind),
		ev.Header.EventTimeUTC.Format(time.RFC3339Nano), ev.Header.CaptureTimeUTC.Format(time.RFC3339Nano), ev.Header.Sequence,
		ev.ProcessID, ev.ParentProcessID, ev.Image, ev.ParentImage, ev.CommandLine, ev.ParentCommandLine, ev.User,
		ev.SrcIP, ev.SrcPort, ev.DstIP, ev.DstPort, ev.Protocol,
		ev.TargetFilename, ev.ImageLoaded, ev.Hashes,
		ev.RegistryKey, ev.RegistryValue, ev.PipeName,
		ev.WmiOperation, ev.WmiName, ev.WmiType,
		registryDetailsBackfill(ev), ev.ClipboardHash, ev.RawPayload,
	)
	return err
}

// CountEventsForSession returns the number of events recorded for a session.
func (s *Store) CountEventsForSession(sessionID int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count events: %w", err)
	}
	return n, nil
}

// EventsForSession returns events for sessionID ordered by utc_time
// ascending (falling back to capture_time, then sequence), optionally
// restricted to events whose utc_time is >= since.
func (s *Store) EventsForSession(sessionID int64, since *time.Time) ([]model.EventRecord, error) {
	query := `
		SELECT event_id, session_id, computer_name, event_record_id, kind_code, utc_time, capture_time, sequence,
			process_id, parent_process_id, image, parent_image, command_line, parent_command_line, user,
			src_ip, src_port, dst_ip, dst_port, protocol,
			target_filename, image_loaded, hashes,
			registry_key, registry_value, pipe_name,
			wmi_operation, wmi_name, wmi_type,
			dns_query, clipboard_hash, raw_payload
		FROM events WHERE session_id = ?`
	args := []any{sessionID}
	if since != nil {
		query += ` AND utc_time >= ?`
		args = append(args, since.UTC().Format(time.RFC3339Nano))
	}
	query += ` ORDER BY utc_time ASC, capture_time ASC, sequence ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: events for session: %w", err)
	}
	defer rows.Close()

	var out []model.EventRecord
	for rows.Next() {
		var r model.EventRecord
		var utcTime, captureTime string
		var kind int
		if err := rows.Scan(&r.EventID, &r.SessionID, &r.Host, &r.RecordID, &kind, &utcTime, &captureTime, &r.Sequence,
			&r.ProcessID, &r.ParentProcessID, &r.Image, &r.ParentImage, &r.CommandLine, &r.ParentCommandLine, &r.User,
			&r.SrcIP, &r.SrcPort, &r.DstIP, &r.DstPort, &r.Protocol,
			&r.TargetFilename, &r.ImageLoaded, &r.Hashes,
			&r.RegistryKey, &r.RegistryValue, &r.PipeName,
			&r.WmiOperation, &r.WmiName, &r.WmiType,
			&r.DnsQuery, &r.ClipboardHash, &r.RawPayload,
		); err != nil {
			return nil, fmt.Errorf("store: events for session: scan: %w", err)
		}
		r.KindCode = kind
		r.EventTimeUTC, _ = time.Parse(time.RFC3339Nano, utcTime)
		r.CaptureTimeUTC, _ = time.Parse(time.RFC3339Nano, captureTime)
		out = append(out, r)
	}
	return out, rows.Err()
}
