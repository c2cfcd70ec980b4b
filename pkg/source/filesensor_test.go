package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLines(t *testing.T, path string, lines...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	defer f.Close()
	for _, l := range lines {
		_, err := f.WriteString(l + "\n")
		require.NoError(t, err)
	}
}

func TestFileSensor_TailsExistingLinesFromStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.log")
	writeLines(t, path, `{"host":"host-a","record_id":1,"kind_code":1}`)

	sensor := NewFileSensor(path, false, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := sensor.Subscribe(ctx)
	require.NoError(t, err)

	select {
	case raw := <-ch:
		assert.Equal(t, "host-a", raw.Host)
		assert.Equal(t, int64(1), raw.RecordID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tailed record")
	}

	require.NoError(t, sensor.Close())
}

func TestFileSensor_SkipsUndecodableLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.log")
	writeLines(t, path, "not json", `{"host":"host-a","record_id":2,"kind_code":3}`)

	sensor := NewFileSensor(path, false, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := sensor.Subscribe(ctx)
	require.NoError(t, err)

	select {
	case raw := <-ch:
		assert.Equal(t, int64(2), raw.RecordID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the well-formed record")
	}

	require.NoError(t, sensor.Close())
}

func TestFileSensor_Close_StopsDeliveryAndClosesChannel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.log")
	writeLines(t, path, `{"host":"host-a","record_id":1,"kind_code":1}`)

	sensor := NewFileSensor(path, false, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := sensor.Subscribe(ctx)
	require.NoError(t, err)
	<-ch

	require.NoError(t, sensor.Close())

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close after Close")
	}
}
