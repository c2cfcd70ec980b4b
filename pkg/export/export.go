// Package export implements the optional JSON export surface: on-demand
// exports of a session or test to a file named
// logs_<session or test>_<YYYYMMDD_HHMMSS>.json. Gzip compression uses
// klauspost/compress rather than the standard library's compress/gzip.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/navshield/sentineltrace/pkg/model"
)

// Document is the structured object written for a session or test export.
type Document struct {
	SessionID int64               `json:"session_id,omitempty"`
	TestID    int64               `json:"test_id,omitempty"`
	Session   *model.Session      `json:"session,omitempty"`
	Summary   *model.SessionSummary `json:"summary,omitempty"`
	Signature *model.Signature    `json:"signature,omitempty"`
	Events    []model.EventRecord `json:"events"`
}

// FileName builds the "logs_<id>_<timestamp>.json" export file name.
func FileName(label string, at time.Time) string {
	return fmt.Sprintf("logs_%s_%s.json", label, at.UTC().Format("20060102_150405"))
}

// WriteJSON writes doc as pretty-printed JSON to path.
func WriteJSON(path string, doc Document) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("export: encode %s: %w", path, err)
	}
	return nil
}

// WriteJSONGzip writes doc as gzip-compressed JSON to path, for large
// catalog exports where the raw JSON surface would otherwise be unwieldy.
func WriteJSONGzip(path string, doc Document) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", path, err)
	}
	defer f.Close()

	gw, err := gzip.NewWriterLevel(f, gzip.BestSpeed)
	if err != nil {
		return fmt.Errorf("export: gzip writer: %w", err)
	}
	defer gw.Close()

	enc := json.NewEncoder(gw)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("export: encode %s: %w", path, err)
	}
	return gw.Close()
}
