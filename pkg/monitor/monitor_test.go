package monitor

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/navshield/sentineltrace/pkg/classifier"
	"github.com/navshield/sentineltrace/pkg/model"
	"github.com/navshield/sentineltrace/pkg/similarity"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeMonitorStore struct {
	mu          sync.Mutex
	records     []model.EventRecord
	signatures  []model.SignatureContext
	snapshots   []model.Snapshot
	alerts      []model.Alert
	signatureErr error
}

func (f *fakeMonitorStore) EventsForSession(sessionID int64, since *time.Time) ([]model.EventRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records, nil
}

func (f *fakeMonitorStore) LoadCatalogedSignatures() ([]model.SignatureContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signatureErr != nil {
		return nil, f.signatureErr
	}
	return f.signatures, nil
}

func (f *fakeMonitorStore) SaveSnapshot(snap model.Snapshot) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, snap)
	return int64(len(f.snapshots)), nil
}

func (f *fakeMonitorStore) SaveAlert(alert model.Alert) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
	return int64(len(f.alerts)), nil
}

func (f *fakeMonitorStore) snapshotCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snapshots)
}

func (f *fakeMonitorStore) alertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

type fakeObserver struct {
	mu        sync.Mutex
	snapshots int
	alerts    int
}

func (f *fakeObserver) OnSnapshot(sessionID int64, snap model.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots++
}

func (f *fakeObserver) OnAlert(sessionID int64, alert model.Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts++
}

func newTestEngine(t *testing.T) *similarity.Engine {
	t.Helper()
	engine, err := similarity.New(similarity.DefaultConfig)
	require.NoError(t, err)
	return engine
}

func TestMonitor_StartStop_LoopExitsWithinGracePeriod(t *testing.T) {
	st := &fakeMonitorStore{}
	mon := New(1, st, newTestEngine(t), classifier.New(0.85, 0.70, 0.5), Config{AnalysisInterval: 5 * time.Millisecond}, testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mon.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	mon.Stop()

	assert.GreaterOrEqual(t, st.snapshotCount(), 0)
}

func TestMonitor_EmptyWindow_NoSnapshotSaved(t *testing.T) {
	st := &fakeMonitorStore{}
	mon := New(1, st, newTestEngine(t), classifier.New(0.85, 0.70, 0.5), Config{AnalysisInterval: 5 * time.Millisecond}, testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mon.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	mon.Stop()

	assert.Equal(t, 0, st.snapshotCount())
}

func TestMonitor_PersistsSnapshotWhenRecordsPresent(t *testing.T) {
	base := time.Now().UTC()
	st := &fakeMonitorStore{
		records: []model.EventRecord{
			{EventID: 1, KindCode: 1, EventTimeUTC: base},
		},
	}
	observer := &fakeObserver{}
	mon := New(1, st, newTestEngine(t), classifier.New(0.85, 0.70, 0.5), Config{AnalysisInterval: 5 * time.Millisecond}, testLogger(), observer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mon.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	mon.Stop()

	assert.GreaterOrEqual(t, st.snapshotCount(), 1)
}

func TestMonitor_IterationErrorDoesNotKillLoop(t *testing.T) {
	st := &fakeMonitorStore{signatureErr: assertError{}}
	mon := New(1, st, newTestEngine(t), classifier.New(0.85, 0.70, 0.5), Config{AnalysisInterval: 5 * time.Millisecond}, testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mon.Start(ctx)
	time.Sleep(25 * time.Millisecond)
	// The loop keeps retrying every tick despite LoadCatalogedSignatures
	// failing every time; Stop must still return promptly.
	mon.Stop()
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
