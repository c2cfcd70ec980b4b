// Package monitor implements the background threat monitor: a long-running
// per-session analysis loop that reads the recent event window, fans out
// similarity computation across cataloged signatures on a bounded worker
// pool (runtime.NumCPU()-derived worker count, sized per iteration via a
// semaphore since the workload is a single parallel map rather than a
// long-lived task queue), classifies the result, and persists
// snapshots/alerts.
package monitor

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"github.com/navshield/sentineltrace/internal/metrics"
	"github.com/navshield/sentineltrace/pkg/classifier"
	"github.com/navshield/sentineltrace/pkg/model"
	"github.com/navshield/sentineltrace/pkg/similarity"
)

// Store is the subset of pkg/store's contract the monitor depends on.
type Store interface {
	EventsForSession(sessionID int64, since *time.Time) ([]model.EventRecord, error)
	LoadCatalogedSignatures() ([]model.SignatureContext, error)
	SaveSnapshot(snap model.Snapshot) (int64, error)
	SaveAlert(alert model.Alert) (int64, error)
}

// Config controls the monitor's loop cadence and analysis window.
type Config struct {
	AnalysisInterval       time.Duration // default 10s
	DefaultTimeWindow      time.Duration // default 5m
	SignatureCacheTTL      time.Duration // default 5m
}

// DefaultConfig is the documented baseline monitor configuration.
var DefaultConfig = Config{
	AnalysisInterval:  10 * time.Second,
	DefaultTimeWindow: 5 * time.Minute,
	SignatureCacheTTL: 5 * time.Minute,
}

// Observer receives the monitor's published events.
type Observer interface {
	OnSnapshot(sessionID int64, snap model.Snapshot)
	OnAlert(sessionID int64, alert model.Alert)
}

// Monitor runs the periodic analysis loop for one active session.
type Monitor struct {
	sessionID int64
	store     Store
	engine    *similarity.Engine
	classify  *classifier.Classifier
	config    Config
	logger    *logrus.Logger
	observer  Observer

	cacheMu          sync.RWMutex
	cache            []model.SignatureContext
	cachedAt         time.Time
	cacheFingerprint uint64

	levelMu sync.Mutex
	level   *model.ThreatLevel

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Monitor bound to sessionID.
func New(sessionID int64, store Store, engine *similarity.Engine, classify *classifier.Classifier, config Config, logger *logrus.Logger, observer Observer) *Monitor {
	if config.AnalysisInterval <= 0 {
		config.AnalysisInterval = DefaultConfig.AnalysisInterval
	}
	if config.DefaultTimeWindow <= 0 {
		config.DefaultTimeWindow = DefaultConfig.DefaultTimeWindow
	}
	if config.SignatureCacheTTL <= 0 {
		config.SignatureCacheTTL = DefaultConfig.SignatureCacheTTL
	}
	return &Monitor{
		sessionID: sessionID,
		store:     store,
		engine:    engine,
		classify:  classify,
		config:    config,
		logger:    logger,
		observer:  observer,
	}
}

// Start begins the analysis loop on a background goroutine.
func (m *Monitor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(runCtx)
}

// Stop cancels the loop and waits up to five seconds for it to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	select {
	case <-m.done:
	case <-time.After(5 * time.Second):
		m.logger.Warn("monitor stop timed out waiting for loop exit")
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.config.AnalysisInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runIterationSafely(ctx)
		}
	}
}

// runIterationSafely isolates one loop iteration's failures so they never
// terminate the loop.
func (m *Monitor) runIterationSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithField("session_id", m.sessionID).Errorf("monitor iteration panicked: %v", r)
		}
	}()
	sessionLabel := strconv.FormatInt(m.sessionID, 10)
	if err := m.runIteration(ctx); err != nil {
		metrics.MonitorIterationsTotal.WithLabelValues(sessionLabel, "error").Inc()
		m.logger.WithField("session_id", m.sessionID).WithError(err).Warn("monitor iteration failed")
		return
	}
	metrics.MonitorIterationsTotal.WithLabelValues(sessionLabel, "ok").Inc()
}

func (m *Monitor) runIteration(ctx context.Context) error {
	signatures, err := m.signatures()
	if err != nil {
		return err
	}

	since := time.Now().UTC().Add(-m.config.DefaultTimeWindow)
	records, err := m.store.EventsForSession(m.sessionID, &since)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	stats := computeStatistics(records)
	matches := m.fanOutSimilarity(ctx, stats, records, signatures)

	previous := m.currentLevel()
	result := m.classify.Classify(matches, previous)

	snap := model.Snapshot{
		SessionID:          m.sessionID,
		SnapshotAt:         time.Now().UTC(),
		Matches:            matches,
		ThreatLevel:        result.Level,
		EventCount:         len(records),
		ActiveProcessCount: stats.ActiveProcesses,
	}
	snapshotID, err := m.store.SaveSnapshot(snap)
	if err != nil {
		return err
	}
	snap.ID = snapshotID
	metrics.SnapshotsTotal.Inc()
	m.setCurrentLevel(result.Level)

	if m.observer != nil {
		m.observer.OnSnapshot(m.sessionID, snap)
	}

	if result.ShouldAlert {
		alert := model.Alert{
			SessionID:           m.sessionID,
			Timestamp:           time.Now().UTC(),
			PreviousThreatLevel: previous,
			NewThreatLevel:      result.Level,
			Reason:              result.Reason,
			TriggerTechniqueID:  result.TriggerTechniqueID,
			TriggerSimilarity:   result.TriggerSimilarity,
			SnapshotID:          snapshotID,
		}
		alertID, err := m.store.SaveAlert(alert)
		if err != nil {
			return err
		}
		alert.ID = alertID
		metrics.AlertsTotal.Inc()
		if m.observer != nil {
			m.observer.OnAlert(m.sessionID, alert)
		}
	}

	return nil
}

// fanOutSimilarity computes similarity against every signature in parallel
// on up to max(1, cpuCount/2) workers. Each worker call is
// pure: it only reads stats/records/signature and writes to its own result
// slot, so no shared mutation crosses worker boundaries.
func (m *Monitor) fanOutSimilarity(ctx context.Context, stats model.SessionStatistics, records []model.EventRecord, signatures []model.SignatureContext) []model.Match {
	workers := runtime.NumCPU() / 2
	if workers < 1 {
		workers = 1
	}

	results := make([]*model.Match, len(signatures))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, sig := range signatures {
		if ctx.Err() != nil {
			break
		}
		i, sig := i, sig
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			start := time.Now()
			match, ok := m.engine.Score(stats, records, sig)
			if !ok {
				return
			}
			metrics.SimilarityComputeDuration.WithLabelValues(match.Confidence).Observe(time.Since(start).Seconds())
			results[i] = &match
		}()
	}
	wg.Wait()

	var matches []model.Match
	for _, r := range results {
		if r != nil {
			matches = append(matches, *r)
		}
	}
	return matches
}

// signatures returns the cached signature list, refreshing it atomically if
// older than SignatureCacheTTL.
func (m *Monitor) signatures() ([]model.SignatureContext, error) {
	m.cacheMu.RLock()
	fresh := time.Since(m.cachedAt) < m.config.SignatureCacheTTL
	cached := m.cache
	m.cacheMu.RUnlock()
	if fresh && cached != nil {
		return cached, nil
	}

	loaded, err := m.store.LoadCatalogedSignatures()
	if err != nil {
		return nil, err
	}

	m.cacheMu.Lock()
	previousFingerprint := m.cacheFingerprint
	m.cache = loaded
	m.cachedAt = time.Now()
	m.cacheFingerprint = signatureFingerprint(loaded)
	m.cacheMu.Unlock()

	if previousFingerprint != 0 && previousFingerprint != m.cacheFingerprint {
		m.logger.WithFields(logrus.Fields{
			"session_id":  m.sessionID,
			"signatures":  len(loaded),
			"fingerprint": fmt.Sprintf("%x", m.cacheFingerprint),
		}).Debug("signature cache refreshed with a changed catalog")
	}
	return loaded, nil
}

// signatureFingerprint is a cheap xxhash digest over the cached signature
// set's identity (test id + technique id), used only to decide whether a refresh
// actually changed anything worth logging — never as a substitute for the
// forensic SHA-256 signature hash computed by the normalizer.
func signatureFingerprint(signatures []model.SignatureContext) uint64 {
	h := xxhash.New()
	for _, sig := range signatures {
		fmt.Fprintf(h, "%d:%s|", sig.TestID, sig.TechniqueID)
	}
	return h.Sum64()
}

func (m *Monitor) currentLevel() *model.ThreatLevel {
	m.levelMu.Lock()
	defer m.levelMu.Unlock()
	return m.level
}

func (m *Monitor) setCurrentLevel(level model.ThreatLevel) {
	m.levelMu.Lock()
	defer m.levelMu.Unlock()
	m.level = &level
}
