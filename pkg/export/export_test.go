package export

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navshield/sentineltrace/pkg/model"
)

func TestFileName_MatchesExpectedPattern(t *testing.T) {
	at := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)
	name := FileName("session_7", at)
	assert.Equal(t, "logs_session_7_20260305_143000.json", name)
}

func TestWriteJSON_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	doc := Document{
		SessionID: 7,
		Events:    []model.EventRecord{{EventID: 1, Host: "host-a"}},
	}

	require.NoError(t, WriteJSON(path, doc))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Document
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, int64(7), got.SessionID)
	require.Len(t, got.Events, 1)
	assert.Equal(t, "host-a", got.Events[0].Host)
}

func TestWriteJSONGzip_DecompressesToSameDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json.gz")
	doc := Document{TestID: 3, Events: []model.EventRecord{{EventID: 9}}}

	require.NoError(t, WriteJSONGzip(path, doc))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gr, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gr.Close()

	var got Document
	require.NoError(t, json.NewDecoder(gr).Decode(&got))
	assert.Equal(t, int64(3), got.TestID)
}
