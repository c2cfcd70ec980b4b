// Package tracker implements the process-tree filter: it keeps the set of
// process ids considered in-scope for a session and forwards only the
// events whose principal pid descends from the session's target process.
//
// The tracker mutates its state only from the ingestion path (the event
// source adapter calling Handle); reads taken from elsewhere (a statistics
// snapshot) go through a short critical section, guarding the shared maps
// with a plain sync.RWMutex rather than channels since the access pattern
// is read-mostly.
package tracker

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/navshield/sentineltrace/pkg/events"
)

// gracePeriod is the minimum retention window for a terminated pid before
// eviction, so that late-arriving events for that pid are still forwarded.
const gracePeriod = 5 * time.Second

// Sink receives events that the tracker has decided are in-scope.
type Sink interface {
	Forward(sessionID int64, event events.Event)
}

type trackedProcess struct {
	pid          int64
	parentPid    int64
	firstSeen    time.Time
	lastSeen     time.Time
	terminatedAt time.Time // zero value means still running
}

// Tracker maintains the in-scope process subtree for one active session.
type Tracker struct {
	sessionID  int64
	targetName string // normalized basename, e.g. "mimikatz.exe"
	sink       Sink
	logger     *logrus.Logger

	mu      sync.RWMutex
	tracked map[int64]*trackedProcess
	root    int64 // 0 until the target process has been observed
}

// New creates a tracker bound to sessionID and targetExecutable (already
// normalized by the caller, e.g. the session service façade).
func New(sessionID int64, targetExecutable string, sink Sink, logger *logrus.Logger) *Tracker {
	return &Tracker{
		sessionID:  sessionID,
		targetName: strings.ToLower(targetExecutable),
		sink:       sink,
		logger:     logger,
		tracked:    make(map[int64]*trackedProcess),
	}
}

// SeedRoot seeds the tracker with an already-running root pid, used when the
// service façade resolves a preferred or already-running process at session
// start.
func (t *Tracker) SeedRoot(pid int64) {
	if pid == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = pid
	t.tracked[pid] = &trackedProcess{pid: pid, firstSeen: time.Now().UTC(), lastSeen: time.Now().UTC()}
}

// Handle applies the in-scope rules to a single event and forwards it to
// the sink when it qualifies. It is intended to be called only from the
// event source adapter's ingestion goroutine.
func (t *Tracker) Handle(ev events.Event) {
	t.mu.Lock()

	t.evictExpiredLocked()

	switch ev.Header.Kind {
	case events.KindProcessCreate:
		t.handleProcessCreateLocked(ev)
	case events.KindProcessTerminate:
		t.handleProcessTerminateLocked(ev)
	}

	inScope := t.isTrackedLocked(ev.ProcessID)
	if inScope {
		t.touchLocked(ev.ProcessID)
	}
	t.mu.Unlock()

	if !inScope {
		return
	}
	t.sink.Forward(t.sessionID, ev)
}

func (t *Tracker) handleProcessCreateLocked(ev events.Event) {
	basename := strings.ToLower(filepath.Base(ev.Image))

	if t.root == 0 && basename == t.targetName {
		t.root = ev.ProcessID
		t.tracked[ev.ProcessID] = &trackedProcess{
			pid: ev.ProcessID, parentPid: ev.ParentProcessID,
			firstSeen: time.Now().UTC(), lastSeen: time.Now().UTC(),
		}
		return
	}

	if _, parentTracked := t.tracked[ev.ParentProcessID]; parentTracked {
		if _, exists := t.tracked[ev.ProcessID]; !exists {
			t.tracked[ev.ProcessID] = &trackedProcess{
				pid: ev.ProcessID, parentPid: ev.ParentProcessID,
				firstSeen: time.Now().UTC(), lastSeen: time.Now().UTC(),
			}
		}
	}
}

func (t *Tracker) handleProcessTerminateLocked(ev events.Event) {
	if p, ok := t.tracked[ev.ProcessID]; ok && p.terminatedAt.IsZero() {
		p.terminatedAt = time.Now().UTC()
	}
}

func (t *Tracker) isTrackedLocked(pid int64) bool {
	_, ok := t.tracked[pid]
	return ok
}

func (t *Tracker) touchLocked(pid int64) {
	if p, ok := t.tracked[pid]; ok {
		p.lastSeen = time.Now().UTC()
	}
}

// evictExpiredLocked drops pids that terminated more than gracePeriod ago.
// Must be called with mu held for writing.
func (t *Tracker) evictExpiredLocked() {
	now := time.Now().UTC()
	for pid, p := range t.tracked {
		if !p.terminatedAt.IsZero() && now.Sub(p.terminatedAt) > gracePeriod {
			delete(t.tracked, pid)
		}
	}
}

// Stats is a consistent point-in-time view of tracker state, safe to read
// concurrently with ingestion.
type Stats struct {
	RootPID      int64
	TrackedCount int
}

// Snapshot returns a consistent view of the tracker's current state, taken
// under a short read lock.
func (t *Tracker) Snapshot() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Stats{RootPID: t.root, TrackedCount: len(t.tracked)}
}

// RootPID returns the resolved root pid, or 0 if the target process has not
// yet been observed.
func (t *Tracker) RootPID() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}
