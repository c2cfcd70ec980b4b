// Package model holds the data-model types shared across the store,
// normalizer, similarity engine, classifier, and monitor. Keeping
// them in one leaf package avoids import cycles between those components.
package model

import "time"

// ThreatLevel is the ordered session severity label.
type ThreatLevel int

const (
	Green ThreatLevel = iota
	Blue
	Yellow
	Orange
	Red
)

func (t ThreatLevel) String() string {
	switch t {
	case Green:
		return "Green"
	case Blue:
		return "Blue"
	case Yellow:
		return "Yellow"
	case Orange:
		return "Orange"
	case Red:
		return "Red"
	default:
		return "Unknown"
	}
}

// ParseThreatLevel maps a stored label back to a ThreatLevel.
func ParseThreatLevel(s string) ThreatLevel {
	switch s {
	case "Blue":
		return Blue
	case "Yellow":
		return Yellow
	case "Orange":
		return Orange
	case "Red":
		return Red
	default:
		return Green
	}
}

// SessionInfo is the input to BeginSession.
type SessionInfo struct {
	TargetExecutable string
	RootPID          int64
	Host             string
	User             string
	OSVersion        string
}

// Session is a persisted session row.
type Session struct {
	ID               int64
	StartedAt        time.Time
	EndedAt          *time.Time
	TargetExecutable string
	RootPID          int64
	Host             string
	User             string
	OSVersion        string
	Notes            string
}

// SessionSummary is appended to a session's notes on completion.
type SessionSummary struct {
	TotalEvents     int            `json:"total_events"`
	UniqueKinds     int            `json:"unique_kinds"`
	NetworkCount    int            `json:"network_count"`
	FileOpsCount    int            `json:"file_ops_count"`
	RegistryOps     int            `json:"registry_ops_count"`
	ProcessesCreated int           `json:"processes_created"`
	ActiveProcesses int            `json:"active_processes"`
	ProcessTreeDepth int           `json:"process_tree_depth"`
	DurationSeconds float64        `json:"duration_seconds"`
	FinalThreatLevel string        `json:"final_threat_level"`
}

// FeatureVector is the quantitative summary of a session.
type FeatureVector struct {
	Histogram          map[int]int
	ProcessTreeDepth   int
	UniqueDestinations int
	RegistryOpCount    int
	FileOpCount        int
	TemporalSpanSecs   float64
	CriticalEventCount int
}

// SessionStatistics is the live analysis window's summary.
type SessionStatistics struct {
	TotalEvents      int
	UniqueKinds      int
	NetworkCount     int
	FileOpsCount     int
	RegistryOpsCount int
	ProcessesCreated int
	ActiveProcesses  int
	ProcessTreeDepth int
	Histogram        map[int]int
	DurationSeconds  float64
}

// EventRecord is a stored event as read back from the store: the wide-column
// schema plus the database-assigned primary key.
type EventRecord struct {
	EventID           int64
	SessionID         int64
	Host              string
	RecordID          int64
	KindCode          int
	EventTimeUTC      time.Time
	CaptureTimeUTC    time.Time
	Sequence          int64
	ProcessID         int64
	ParentProcessID   int64
	Image             string
	ParentImage       string
	CommandLine       string
	ParentCommandLine string
	User              string
	SrcIP             string
	SrcPort           int
	DstIP             string
	DstPort           int
	Protocol          string
	TargetFilename    string
	ImageLoaded       string
	Hashes            string
	RegistryKey       string
	RegistryValue     string
	PipeName          string
	WmiOperation      string
	WmiName           string
	WmiType           string
	DnsQuery          string
	ClipboardHash     string
	RawPayload        []byte
}

// Segregation is the core/support/noise partition of a session's events.
type Segregation struct {
	Core    []int64 // event ids
	Support []int64
	Noise   []int64
}

// NormalizationResult is the normalizer's output.
type NormalizationResult struct {
	Signature   Signature
	Segregation Segregation
	Quality     Quality
	Logs        []LogEntry
}

// Signature is a NormalizedTestSignature row.
type Signature struct {
	TestID        int64
	Status        string // pending | completed | incomplete
	SeverityLabel string
	SeverityReason string
	Feature       FeatureVector
	Hash          string
	ProcessedAt   time.Time
	QualityScore  float64
	Warnings      []string
	Notes         string
}

// Quality is the normalizer's quality assessment.
type Quality struct {
	Coverage float64
	Warnings []string
	Score    float64
}

// LogEntry is one normalization_log row.
type LogEntry struct {
	Level   string
	Message string
	At      time.Time
}

// CorePattern is an (event id, seconds-since-first-core-event) pair used by
// the similarity engine's temporal-pattern dimension.
type CorePattern struct {
	EventID        int64
	OffsetSeconds  float64
	KindCode       int
}

// SignatureContext is what LoadCatalogedSignatures returns: everything the
// correlator needs about one catalog signature without rejoining tables.
type SignatureContext struct {
	TestID          int64
	TechniqueID     string
	TechniqueName   string
	Tactic          string
	ThreatLevel     ThreatLevel
	Feature         FeatureVector
	CoreEventIDs    []int64
	CorePattern     []CorePattern
}

// Match is one similarity hit against a catalog signature.
type Match struct {
	TestID        int64
	TechniqueID   string
	TechniqueName string
	Tactic        string
	Score         float64
	ThreatLevel   ThreatLevel
	Confidence    string // high | medium | low
	MatchedEventIDs []int64
	D1, D2, D3, D4 float64
}

// Snapshot is a session_similarity_snapshots row.
type Snapshot struct {
	ID                 int64
	SessionID          int64
	SnapshotAt         time.Time
	Matches            []Match
	ThreatLevel        ThreatLevel
	EventCount         int
	ActiveProcessCount int
}

// Alert is an alert_history row.
type Alert struct {
	ID                 int64
	SessionID          int64
	Timestamp          time.Time
	PreviousThreatLevel *ThreatLevel
	NewThreatLevel     ThreatLevel
	Reason             string
	TriggerTechniqueID string
	TriggerSimilarity  float64
	SnapshotID         int64
}

// Classification is the classifier's verdict for one monitor iteration.
type Classification struct {
	Level               ThreatLevel
	Reason              string
	TriggerTechniqueID  string
	TriggerSimilarity   float64
	ShouldAlert         bool
}
