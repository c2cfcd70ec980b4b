// Package service implements the session service façade: it owns session
// lifecycle, wires the tracker, source adapter, store, and background
// monitor together, and enforces the single-active-session invariant.
// gopsutil/v3/process resolves a preferred or highest-working-set root pid
// at session start.
package service

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"

	"github.com/navshield/sentineltrace/internal/metrics"
	"github.com/navshield/sentineltrace/pkg/classifier"
	"github.com/navshield/sentineltrace/pkg/events"
	"github.com/navshield/sentineltrace/pkg/export"
	"github.com/navshield/sentineltrace/pkg/model"
	"github.com/navshield/sentineltrace/pkg/monitor"
	"github.com/navshield/sentineltrace/pkg/normalizer"
	"github.com/navshield/sentineltrace/pkg/sentinelerrors"
	"github.com/navshield/sentineltrace/pkg/similarity"
	"github.com/navshield/sentineltrace/pkg/source"
	"github.com/navshield/sentineltrace/pkg/store"
	"github.com/navshield/sentineltrace/pkg/tracker"
)

// harnessExecutable is excluded from session listings.
const harnessExecutable = "teste"

// SensorFactory opens a sensor subscription for a new session. Injected so
// tests can supply a fake sensor.
type SensorFactory func() (source.Sensor, error)

// Store is the subset of pkg/store's contract the façade depends on.
type Store interface {
	BeginSession(info model.SessionInfo) (int64, error)
	CompleteSession(sessionID int64, summary model.SessionSummary) error
	CountEventsForSession(sessionID int64) (int, error)
	EventsForSession(sessionID int64, since *time.Time) ([]model.EventRecord, error)
	InsertAtomicTest(sessionID int64, meta store.TestMetadata) (int64, error)
	FinalizeAtomicTest(testID int64, totalEvents int) error
	SaveNormalizationResult(testID int64, result model.NormalizationResult) error
	LoadCatalogedSignatures() ([]model.SignatureContext, error)
	SaveSnapshot(snap model.Snapshot) (int64, error)
	SaveAlert(alert model.Alert) (int64, error)
	ListSessions(excludeTarget string) ([]model.Session, error)
	GetSession(sessionID int64) (model.Session, error)
	GetSignatureByTest(testID int64) (model.Signature, error)
	GetAtomicTest(testID int64) (store.AtomicTest, error)
	ListAtomicTests() ([]store.AtomicTest, error)
	UpdateAtomicTest(testID int64, techniqueNumber, techniqueName, description *string) error
	DeleteAtomicTest(testID int64) error
	SaveTestReview(testID int64, severityLabel, notes string) error
	UpdateSeverity(testID int64, label, reason string) error
	InsertEvent(sessionID int64, ev events.Event) error
}

// trackerHandler adapts a Tracker to source.Handler, which the event source
// adapter forwards parsed records to; the tracker then passes in-scope events
// on to its Sink.
type trackerHandler struct{ t *tracker.Tracker }

func (h trackerHandler) Handle(ev events.Event) { h.t.Handle(ev) }

// storeSink implements tracker.Sink by writing straight to the store.
type storeSink struct {
	st     Store
	logger *logrus.Logger
}

func (s storeSink) Forward(sessionID int64, ev events.Event) {
	if err := s.st.InsertEvent(sessionID, ev); err != nil {
		s.logger.WithError(err).Warn("failed to persist event")
	}
}

// ActiveSession is the in-memory state of the one session the façade may
// have active at a time.
type ActiveSession struct {
	SessionID int64
	TestID    int64 // 0 for monitor-only sessions
	IsCatalog bool
	Tracker   *tracker.Tracker
	Adapter   *source.Adapter
	Monitor   *monitor.Monitor
	StartedAt time.Time
	cancel    context.CancelFunc
}

// Service is the session service façade.
type Service struct {
	store         Store
	sensorFactory SensorFactory
	logger        *logrus.Logger
	engine        *similarity.Engine
	classify      *classifier.Classifier
	monitorConfig monitor.Config
	observer      monitor.Observer

	mu     sync.Mutex
	active *ActiveSession
	lastResult *StopResult
}

// New constructs a Service. A nil observer disables snapshot/alert callbacks.
func New(st Store, sensorFactory SensorFactory, engine *similarity.Engine, classify *classifier.Classifier, monitorConfig monitor.Config, observer monitor.Observer, logger *logrus.Logger) *Service {
	return &Service{
		store:         st,
		sensorFactory: sensorFactory,
		logger:        logger,
		engine:        engine,
		classify:      classify,
		monitorConfig: monitorConfig,
		observer:      observer,
	}
}

func normalizeExecutableName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return name
	}
	if !strings.HasSuffix(strings.ToLower(name), ".exe") {
		name += ".exe"
	}
	return name
}

// resolveRootPID prefers an explicitly given pid; otherwise it picks the
// process with the highest working set among those matching name; else 0.
func resolveRootPID(name string, preferredPID int64) int64 {
	if preferredPID != 0 {
		return preferredPID
	}

	procs, err := process.Processes()
	if err != nil {
		return 0
	}

	target := strings.ToLower(strings.TrimSuffix(name, ".exe"))
	var bestPID int64
	var bestRSS uint64
	for _, p := range procs {
		pname, err := p.Name()
		if err != nil {
			continue
		}
		if strings.ToLower(strings.TrimSuffix(pname, ".exe")) != target {
			continue
		}
		mem, err := p.MemoryInfo()
		if err != nil || mem == nil {
			continue
		}
		if mem.RSS > bestRSS {
			bestRSS = mem.RSS
			bestPID = int64(p.Pid)
		}
	}
	return bestPID
}

// StartMonitor starts a monitor-only session against targetExecutable.
func (s *Service) StartMonitor(targetExecutable string, preferredPID int64, host, user, osVersion string) (int64, error) {
	return s.start(targetExecutable, preferredPID, host, user, osVersion, false, store.TestMetadata{})
}

// StartCatalog starts a catalog session that will produce a reusable
// signature on stop.
func (s *Service) StartCatalog(meta store.TestMetadata, targetExecutable string, preferredPID int64, host, user, osVersion string) (int64, error) {
	return s.start(targetExecutable, preferredPID, host, user, osVersion, true, meta)
}

func (s *Service) start(targetExecutable string, preferredPID int64, host, user, osVersion string, catalog bool, meta store.TestMetadata) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return 0, sentinelerrors.AlreadyActive("start_session")
	}

	name := normalizeExecutableName(targetExecutable)
	if name == "" {
		return 0, sentinelerrors.InvalidTarget("start_session", "target executable name is empty")
	}
	rootPID := resolveRootPID(name, preferredPID)

	sessionID, err := s.store.BeginSession(model.SessionInfo{
		TargetExecutable: name, RootPID: rootPID, Host: host, User: user, OSVersion: osVersion,
	})
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("begin_session").Inc()
		return 0, sentinelerrors.StoreUnavailable("start_session", err)
	}

	var testID int64
	if catalog {
		testID, err = s.store.InsertAtomicTest(sessionID, meta)
		if err != nil {
			metrics.StoreErrorsTotal.WithLabelValues("insert_atomic_test").Inc()
			return 0, sentinelerrors.StoreUnavailable("start_session", err)
		}
	}

	trk := tracker.New(sessionID, name, storeSink{st: s.store, logger: s.logger}, s.logger)
	if rootPID != 0 {
		trk.SeedRoot(rootPID)
	}

	sensor, err := s.sensorFactory()
	if err != nil {
		return 0, sentinelerrors.SensorUnavailable("start_session", err)
	}

	adapter := source.New(sensor, trackerHandler{t: trk}, s.logger)
	ctx, cancel := context.WithCancel(context.Background())
	if err := adapter.Start(ctx); err != nil {
		cancel()
		return 0, err
	}

	mon := monitor.New(sessionID, s.store, s.engine, s.classify, s.monitorConfig, s.logger, s.observer)
	mon.Start(ctx)

	s.active = &ActiveSession{
		SessionID: sessionID, TestID: testID, IsCatalog: catalog,
		Tracker: trk, Adapter: adapter, Monitor: mon, StartedAt: time.Now().UTC(),
	}
	s.active.cancel = cancel
	metrics.ActiveSessions.Set(1)
	return sessionID, nil
}

// StopResult is the outcome of StopActive.
type StopResult struct {
	SessionID    int64
	EventCount   int
	FinalLevel   model.ThreatLevel
	Signature    *model.Signature
}

// StopActive stops the active session, if any, persists statistics, and —
// for catalog sessions — runs the normalizer synchronously.
// Idempotent: calling it with no active session returns the cached last
// result.
func (s *Service) StopActive() (StopResult, error) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()

	if active == nil {
		if s.lastResult != nil {
			return *s.lastResult, nil
		}
		return StopResult{}, sentinelerrors.NotFound("stop_active", "no active session")
	}

	if err := active.Adapter.Stop(); err != nil {
		s.logger.WithError(err).Warn("source adapter stop reported an error")
	}
	active.Monitor.Stop()
	if active.cancel != nil {
		active.cancel()
	}

	count, err := s.store.CountEventsForSession(active.SessionID)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("count_events_for_session").Inc()
		return StopResult{}, sentinelerrors.StoreUnavailable("stop_active", err)
	}

	snapshot := active.Tracker.Snapshot()
	summary := model.SessionSummary{
		TotalEvents:      count,
		ActiveProcesses:  snapshot.TrackedCount,
		ProcessTreeDepth: 0,
	}

	result := StopResult{SessionID: active.SessionID, EventCount: count}

	if active.IsCatalog {
		if err := s.store.FinalizeAtomicTest(active.TestID, count); err != nil {
			metrics.StoreErrorsTotal.WithLabelValues("finalize_atomic_test").Inc()
			return StopResult{}, err
		}
		records, err := s.store.EventsForSession(active.SessionID, nil)
		if err != nil {
			metrics.StoreErrorsTotal.WithLabelValues("events_for_session").Inc()
			return StopResult{}, sentinelerrors.StoreUnavailable("stop_active", err)
		}
		test, err := s.store.GetAtomicTest(active.TestID)
		if err != nil {
			metrics.StoreErrorsTotal.WithLabelValues("get_atomic_test").Inc()
			return StopResult{}, err
		}
		sessionDurationSecs := time.Since(active.StartedAt).Seconds()
		normResult := normalizer.Normalize(active.TestID, test.TechniqueNumber, records, sessionDurationSecs)
		if err := s.store.SaveNormalizationResult(active.TestID, normResult); err != nil {
			metrics.StoreErrorsTotal.WithLabelValues("save_normalization_result").Inc()
			return StopResult{}, sentinelerrors.StoreUnavailable("stop_active", err)
		}
		sig := normResult.Signature
		result.Signature = &sig
		summary.FinalThreatLevel = normResult.Signature.SeverityLabel
	}

	if err := s.store.CompleteSession(active.SessionID, summary); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("complete_session").Inc()
		return StopResult{}, sentinelerrors.StoreUnavailable("stop_active", err)
	}

	s.mu.Lock()
	s.active = nil
	s.lastResult = &result
	s.mu.Unlock()
	metrics.ActiveSessions.Set(0)

	return result, nil
}

// ListSessions lists persisted sessions, excluding the test harness
// executable.
func (s *Service) ListSessions() ([]model.Session, error) {
	return s.store.ListSessions(normalizeExecutableName(harnessExecutable))
}

// ListCatalogedTests lists catalog entries.
func (s *Service) ListCatalogedTests() ([]store.AtomicTest, error) {
	return s.store.ListAtomicTests()
}

// GetTestSummary returns a catalog entry by id.
func (s *Service) GetTestSummary(testID int64) (store.AtomicTest, error) {
	return s.store.GetAtomicTest(testID)
}

// UpdateTest patches a catalog entry's descriptive fields.
func (s *Service) UpdateTest(testID int64, techniqueNumber, techniqueName, description *string) error {
	return s.store.UpdateAtomicTest(testID, techniqueNumber, techniqueName, description)
}

// DeleteTest removes a catalog entry.
func (s *Service) DeleteTest(testID int64) error {
	return s.store.DeleteAtomicTest(testID)
}

// SaveTestReview records an operator severity review.
func (s *Service) SaveTestReview(testID int64, severityLabel, notes string) error {
	return s.store.SaveTestReview(testID, severityLabel, notes)
}

// UpdateSeverity overwrites a catalog entry's severity.
func (s *Service) UpdateSeverity(testID int64, label, reason string) error {
	return s.store.UpdateSeverity(testID, label, reason)
}

// ExportSession writes a JSON export of a session and its events under dir,
// returning the written path.
func (s *Service) ExportSession(sessionID int64, dir string) (string, error) {
	sess, err := s.store.GetSession(sessionID)
	if err != nil {
		return "", err
	}
	records, err := s.store.EventsForSession(sessionID, nil)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("events_for_session").Inc()
		return "", sentinelerrors.StoreUnavailable("export_session", err)
	}

	path := filepath.Join(dir, export.FileName(sessionIDLabel(sessionID), time.Now()))
	doc := export.Document{SessionID: sessionID, Session: &sess, Events: records}
	if err := export.WriteJSON(path, doc); err != nil {
		return "", sentinelerrors.StoreUnavailable("export_session", err)
	}
	return path, nil
}

// ExportTest writes a JSON export of a catalog entry's session, signature,
// and events under dir, returning the written path.
func (s *Service) ExportTest(testID int64, dir string) (string, error) {
	test, err := s.store.GetAtomicTest(testID)
	if err != nil {
		return "", err
	}
	records, err := s.store.EventsForSession(test.SessionID, nil)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("events_for_session").Inc()
		return "", sentinelerrors.StoreUnavailable("export_test", err)
	}
	sig, err := s.store.GetSignatureByTest(testID)
	var sigPtr *model.Signature
	if err == nil {
		sigPtr = &sig
	}

	path := filepath.Join(dir, export.FileName(testIDLabel(testID), time.Now()))
	doc := export.Document{TestID: testID, Signature: sigPtr, Events: records}
	if err := export.WriteJSON(path, doc); err != nil {
		return "", sentinelerrors.StoreUnavailable("export_test", err)
	}
	return path, nil
}

func sessionIDLabel(id int64) string { return "session_" + strconv.FormatInt(id, 10) }
func testIDLabel(id int64) string    { return "test_" + strconv.FormatInt(id, 10) }

// Dispose best-effort stops any active session without returning an error
// to the caller.
func (s *Service) Dispose() {
	if _, err := s.StopActive(); err != nil {
		s.logger.WithError(err).Debug("dispose: no active session to stop")
	}
}
