package service

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navshield/sentineltrace/pkg/classifier"
	"github.com/navshield/sentineltrace/pkg/events"
	"github.com/navshield/sentineltrace/pkg/model"
	"github.com/navshield/sentineltrace/pkg/monitor"
	"github.com/navshield/sentineltrace/pkg/similarity"
	"github.com/navshield/sentineltrace/pkg/source"
	"github.com/navshield/sentineltrace/pkg/store"
)

type controllableSensor struct {
	ch     chan source.RawRecord
	closed bool
}

func newControllableSensor() *controllableSensor {
	return &controllableSensor{ch: make(chan source.RawRecord, 64)}
}

func (s *controllableSensor) Subscribe(ctx context.Context) (<-chan source.RawRecord, error) {
	return s.ch, nil
}

func (s *controllableSensor) Close() error {
	s.closed = true
	return nil
}

type testEnv struct {
	svc       *Service
	st        *store.Store
	lastSensor *controllableSensor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithMonitor(t, monitor.Config{AnalysisInterval: time.Hour}, nil)
}

// newTestEnvWithMonitor builds a testEnv whose background monitor runs on
// monitorConfig's cadence and reports to observer, for tests that need the
// monitor to actually tick within the test's lifetime.
func newTestEnvWithMonitor(t *testing.T, monitorConfig monitor.Config, observer monitor.Observer) *testEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "sentineltrace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	engine, err := similarity.New(similarity.DefaultConfig)
	require.NoError(t, err)
	classify := classifier.New(0.85, 0.70, 0.5)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	env := &testEnv{st: st}
	sensorFactory := func() (source.Sensor, error) {
		env.lastSensor = newControllableSensor()
		return env.lastSensor, nil
	}

	env.svc = New(st, sensorFactory, engine, classify, monitorConfig, observer, logger)
	return env
}

// S1: a session that captures no events ends cleanly at Green with no alert.
func TestService_S1_EmptySession(t *testing.T) {
	env := newTestEnv(t)

	sessionID, err := env.svc.StartMonitor("notepad", 0, "host-a", "operator", "Windows 11")
	require.NoError(t, err)

	result, err := env.svc.StopActive()
	require.NoError(t, err)
	assert.Equal(t, sessionID, result.SessionID)
	assert.Equal(t, 0, result.EventCount)
	assert.Nil(t, result.Signature)
}

// S2: a catalog session observing a credential-dump core event normalizes
// to Red severity.
func TestService_S2_CredentialDumpPathIsRed(t *testing.T) {
	env := newTestEnv(t)

	sessionID, err := env.svc.StartCatalog(store.TestMetadata{TechniqueNumber: "T1003", TechniqueName: "OS Credential Dumping"}, "mimikatz", 500, "host-a", "operator", "Windows 11")
	require.NoError(t, err)

	env.lastSensor.ch <- source.RawRecord{
		Host: "host-a", RecordID: 1, KindCode: int(events.KindProcessAccess),
		EventTimeUTC: time.Now().UTC().Unix(), Sequence: 1,
		Fields: map[string]string{"ProcessId": "500", "Image": "mimikatz.exe", "TargetFilename": "lsass.exe"},
	}

	require.Eventually(t, func() bool {
		n, err := env.st.CountEventsForSession(sessionID)
		return err == nil && n == 1
	}, time.Second, 5*time.Millisecond)

	result, err := env.svc.StopActive()
	require.NoError(t, err)
	require.NotNil(t, result.Signature)
	assert.Equal(t, "Red", result.Signature.SeverityLabel)
}

// S3: a monitored session whose live events match a cataloged Red signature
// raises the session to Red and persists an alert. This exercises the real
// store end to end — a catalog signature saved by one session must be
// readable by LoadCatalogedSignatures and scored against a second,
// unrelated session's own live events, never against the catalog session's
// own event ids.
func TestService_S3_HistogramMatchRaisesToRed(t *testing.T) {
	env := newTestEnvWithMonitor(t, monitor.Config{AnalysisInterval: 5 * time.Millisecond}, nil)

	catalogID, err := env.svc.StartCatalog(store.TestMetadata{TechniqueNumber: "T1003", TechniqueName: "OS Credential Dumping"}, "mimikatz", 500, "host-a", "operator", "Windows 11")
	require.NoError(t, err)
	env.lastSensor.ch <- source.RawRecord{
		Host: "host-a", RecordID: 1, KindCode: int(events.KindProcessAccess),
		EventTimeUTC: time.Now().UTC().Unix(), Sequence: 1,
		Fields: map[string]string{"ProcessId": "500", "Image": "mimikatz.exe", "TargetFilename": "lsass.exe"},
	}
	require.Eventually(t, func() bool {
		n, err := env.st.CountEventsForSession(catalogID)
		return err == nil && n == 1
	}, time.Second, 5*time.Millisecond)
	catalogResult, err := env.svc.StopActive()
	require.NoError(t, err)
	require.NotNil(t, catalogResult.Signature)
	require.Equal(t, "Red", catalogResult.Signature.SeverityLabel)

	sessionID, err := env.svc.StartMonitor("mimikatz", 900, "host-a", "operator", "Windows 11")
	require.NoError(t, err)
	env.lastSensor.ch <- source.RawRecord{
		Host: "host-a", RecordID: 2, KindCode: int(events.KindProcessAccess),
		EventTimeUTC: time.Now().UTC().Unix(), Sequence: 1,
		Fields: map[string]string{"ProcessId": "900", "Image": "mimikatz.exe", "TargetFilename": "lsass.exe"},
	}

	require.Eventually(t, func() bool {
		snap, ok, err := env.st.LatestSnapshot(sessionID)
		return err == nil && ok && snap.ThreatLevel == model.Red
	}, 2*time.Second, 10*time.Millisecond)

	_, err = env.svc.StopActive()
	require.NoError(t, err)
}

// S4: a monitored session whose live events never touch a signature's core
// kinds never matches that signature, even when other dimensions would
// otherwise be favorable — the early-abort on missing criticals must stop
// the signature from influencing the session's threat level at all.
func TestService_S4_MissingCriticalsNeverMatches(t *testing.T) {
	env := newTestEnvWithMonitor(t, monitor.Config{AnalysisInterval: 5 * time.Millisecond}, nil)

	catalogID, err := env.svc.StartCatalog(store.TestMetadata{TechniqueNumber: "T1003", TechniqueName: "OS Credential Dumping"}, "mimikatz", 500, "host-a", "operator", "Windows 11")
	require.NoError(t, err)
	env.lastSensor.ch <- source.RawRecord{
		Host: "host-a", RecordID: 1, KindCode: int(events.KindProcessAccess),
		EventTimeUTC: time.Now().UTC().Unix(), Sequence: 1,
		Fields: map[string]string{"ProcessId": "500", "Image": "mimikatz.exe", "TargetFilename": "lsass.exe"},
	}
	require.Eventually(t, func() bool {
		n, err := env.st.CountEventsForSession(catalogID)
		return err == nil && n == 1
	}, time.Second, 5*time.Millisecond)
	catalogResult, err := env.svc.StopActive()
	require.NoError(t, err)
	require.NotNil(t, catalogResult.Signature)
	require.Equal(t, "Red", catalogResult.Signature.SeverityLabel)

	sessionID, err := env.svc.StartMonitor("notepad", 900, "host-a", "operator", "Windows 11")
	require.NoError(t, err)
	env.lastSensor.ch <- source.RawRecord{
		Host: "host-a", RecordID: 2, KindCode: int(events.KindNetworkConnect),
		EventTimeUTC: time.Now().UTC().Unix(), Sequence: 1,
		Fields: map[string]string{"ProcessId": "900"},
	}

	require.Eventually(t, func() bool {
		n, err := env.st.CountEventsForSession(sessionID)
		return err == nil && n == 1
	}, time.Second, 5*time.Millisecond)
	// Give the monitor several ticks to run and persist its snapshot.
	time.Sleep(100 * time.Millisecond)

	snap, ok, err := env.st.LatestSnapshot(sessionID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.Green, snap.ThreatLevel)
	assert.Empty(t, snap.Matches)

	_, err = env.svc.StopActive()
	require.NoError(t, err)
}

// S5: re-ingesting the same (host, record id) pair does not duplicate the
// persisted event.
func TestService_S5_IdempotentReingest(t *testing.T) {
	env := newTestEnv(t)

	sessionID, err := env.svc.StartMonitor("mimikatz", 500, "host-a", "operator", "Windows 11")
	require.NoError(t, err)

	dup := source.RawRecord{
		Host: "host-a", RecordID: 7, KindCode: int(events.KindNetworkConnect),
		EventTimeUTC: time.Now().UTC().Unix(), Sequence: 7,
		Fields: map[string]string{"ProcessId": "500"},
	}
	env.lastSensor.ch <- dup
	env.lastSensor.ch <- dup

	require.Eventually(t, func() bool {
		n, err := env.st.CountEventsForSession(sessionID)
		return err == nil && n >= 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	result, err := env.svc.StopActive()
	require.NoError(t, err)
	assert.Equal(t, 1, result.EventCount)
}

// S6: events for pids outside the tracked subtree are dropped, never
// reaching the store.
func TestService_S6_TrackerDropsUnrelatedProcess(t *testing.T) {
	env := newTestEnv(t)

	sessionID, err := env.svc.StartMonitor("mimikatz", 100, "host-a", "operator", "Windows 11")
	require.NoError(t, err)

	env.lastSensor.ch <- source.RawRecord{
		Host: "host-a", RecordID: 1, KindCode: int(events.KindNetworkConnect),
		EventTimeUTC: time.Now().UTC().Unix(), Sequence: 1,
		Fields: map[string]string{"ProcessId": "999"},
	}
	env.lastSensor.ch <- source.RawRecord{
		Host: "host-a", RecordID: 2, KindCode: int(events.KindNetworkConnect),
		EventTimeUTC: time.Now().UTC().Unix(), Sequence: 2,
		Fields: map[string]string{"ProcessId": "100"},
	}

	require.Eventually(t, func() bool {
		n, err := env.st.CountEventsForSession(sessionID)
		return err == nil && n >= 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	result, err := env.svc.StopActive()
	require.NoError(t, err)
	assert.Equal(t, 1, result.EventCount)
}

// StartMonitor rejects a second concurrent session.
func TestService_StartMonitor_RejectsSecondActiveSession(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.StartMonitor("mimikatz", 1, "host-a", "", "")
	require.NoError(t, err)

	_, err = env.svc.StartMonitor("cmd", 2, "host-a", "", "")
	require.Error(t, err)

	_, err = env.svc.StopActive()
	require.NoError(t, err)
}

// StopActive is idempotent: calling it again with no active session returns
// the cached last result instead of erroring.
func TestService_StopActive_IdempotentAfterAlreadyStopped(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.StartMonitor("mimikatz", 1, "host-a", "", "")
	require.NoError(t, err)

	first, err := env.svc.StopActive()
	require.NoError(t, err)

	second, err := env.svc.StopActive()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestService_StopActive_NoSessionEverStarted_NotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.StopActive()
	assert.Error(t, err)
}

func TestService_Dispose_NeverPanicsWithoutActiveSession(t *testing.T) {
	env := newTestEnv(t)
	assert.NotPanics(t, func() { env.svc.Dispose() })
}

func TestService_ListSessions_ExcludesHarnessExecutable(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.StartMonitor(harnessExecutable, 1, "host-a", "", "")
	require.NoError(t, err)
	_, err = env.svc.StopActive()
	require.NoError(t, err)

	sessions, err := env.svc.ListSessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
