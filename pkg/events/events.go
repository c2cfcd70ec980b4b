// Package events defines the polymorphic telemetry event model: a
// discriminated variant over the kinds the kernel sensor can produce,
// sharing a common header. Rather than a class hierarchy rooted in
// a base type, each event is a single wide-column struct tagged by Kind; the
// tag drives both field extraction at the store boundary and the switch-based
// dispatch used by segregation and temporal analysis.
//
// Kind codes follow the sensor's own numbering so that downstream components
// (normalizer, similarity engine) can be written once against stable
// integers rather than re-deriving them from string names.
package events

import "time"

// Kind identifies the variant of a captured event.
type Kind int

const (
	KindProcessCreate             Kind = 1
	KindFileCreateTimeChanged     Kind = 2
	KindNetworkConnect            Kind = 3
	KindProcessTerminate          Kind = 5
	KindDriverLoad                Kind = 6
	KindImageLoad                 Kind = 7
	KindRemoteThreadCreate        Kind = 8
	KindRawDiskAccess             Kind = 9
	KindProcessAccess             Kind = 10
	KindFileCreate                Kind = 11
	KindRegistryObjectCreateDelete Kind = 12
	KindRegistryValueSet          Kind = 13
	KindRegistryObjectRename      Kind = 14
	KindFileCreateStreamHash      Kind = 15
	KindNamedPipeCreate           Kind = 17
	KindNamedPipeConnect          Kind = 18
	KindWmiFilter                 Kind = 19
	KindWmiConsumer               Kind = 20
	KindWmiBinding                Kind = 21
	KindDnsQuery                  Kind = 22
	KindFileDelete                Kind = 23
	KindClipboardChange           Kind = 24
	KindProcessTampering           Kind = 25
	KindFileDeleteDetected        Kind = 26
)

// supportedKinds is the full set of kinds the adapter recognizes; any record
// whose kind is outside this set is dropped at the source adapter boundary.
var supportedKinds = map[Kind]bool{
	KindProcessCreate: true, KindFileCreateTimeChanged: true, KindNetworkConnect: true,
	KindProcessTerminate: true, KindDriverLoad: true, KindImageLoad: true,
	KindRemoteThreadCreate: true, KindRawDiskAccess: true, KindProcessAccess: true,
	KindFileCreate: true, KindRegistryObjectCreateDelete: true, KindRegistryValueSet: true,
	KindRegistryObjectRename: true, KindFileCreateStreamHash: true, KindNamedPipeCreate: true,
	KindNamedPipeConnect: true, KindWmiFilter: true, KindWmiConsumer: true, KindWmiBinding: true,
	KindDnsQuery: true, KindFileDelete: true, KindClipboardChange: true,
	KindProcessTampering: true, KindFileDeleteDetected: true,
}

// IsSupported reports whether kind is one of the event variants this system
// understands.
func IsSupported(kind Kind) bool {
	return supportedKinds[kind]
}

// Header carries the fields common to every event variant.
type Header struct {
	RecordID       int64     // sensor-assigned record id
	Host           string    // originating host
	Kind           Kind      // event kind code
	EventTimeUTC   time.Time // from the sensor, UTC
	CaptureTimeUTC time.Time // local capture time, UTC
	Sequence       int64     // monotonic per-host sequence number
}

// Event is the wide-column representation of a single telemetry record. Only
// the fields relevant to Kind are populated by the source adapter; the rest
// retain their zero value. RawPayload preserves the original serialized
// record for forensic replay regardless of kind.
type Event struct {
	Header

	// Process fields
	ProcessID         int64
	ParentProcessID   int64
	Image             string
	ParentImage       string
	CommandLine       string
	ParentCommandLine string
	User              string

	// Network 5-tuple
	SrcIP    string
	SrcPort  int
	DstIP    string
	DstPort  int
	Protocol string

	// File / image fields
	TargetFilename string
	ImageLoaded    string
	Hashes         string

	// Registry fields
	RegistryKey   string
	RegistryValue string

	// Named pipe
	PipeName string

	// WMI fields
	WmiOperation string
	WmiName      string
	WmiType      string

	// DNS — also reused as a backfill column for registry "Details" on
	// registry-kind events in older captures; new schema
	// versions should migrate this overload into a dedicated column.
	DnsQuery string

	// Clipboard
	ClipboardHash string

	RawPayload []byte // opaque serialized original payload
}

// IsProcessKind reports whether kind carries process-identity fields that
// the process-tree tracker cares about.
func IsProcessKind(kind Kind) bool {
	switch kind {
	case KindProcessCreate, KindProcessTerminate:
		return true
	default:
		return false
	}
}

// IsRegistryKind reports whether kind is one of the registry-operation
// variants, used by the store's "Details" backfill overload and
// by the catalog normalizer's feature-vector registry-op count.
func IsRegistryKind(kind Kind) bool {
	switch kind {
	case KindRegistryObjectCreateDelete, KindRegistryValueSet, KindRegistryObjectRename:
		return true
	default:
		return false
	}
}

// CriticalKinds is the kind-code set always promoted to "core" by the
// catalog normalizer's segregation step.
var CriticalKinds = map[Kind]bool{
	KindRemoteThreadCreate: true, KindProcessAccess: true, KindFileCreate: true,
	KindRegistryObjectCreateDelete: true, KindRegistryValueSet: true, KindRegistryObjectRename: true,
	KindFileCreateStreamHash: true, KindNamedPipeCreate: true, KindNamedPipeConnect: true,
	KindWmiFilter: true, KindWmiConsumer: true, KindWmiBinding: true,
}

// RegistryOpKinds is the {12,13,14} set used by feature-vector registry
// operation counting.
var RegistryOpKinds = map[Kind]bool{
	KindRegistryObjectCreateDelete: true, KindRegistryValueSet: true, KindRegistryObjectRename: true,
}

// FileOpKinds is the {2,11,15,23} set used by feature-vector file operation
// counting.
var FileOpKinds = map[Kind]bool{
	KindFileCreateTimeChanged: true, KindFileCreate: true, KindFileCreateStreamHash: true, KindFileDelete: true,
}
