package source

import (
	"context"

	"github.com/navshield/sentineltrace/pkg/events"
)

// RawRecord is the minimal wire shape the kernel sensor is assumed to emit
//: a common header plus kind-specific fields as a flat string map.
// The sensor itself is an external collaborator, out of scope for this
// repository; RawRecord is the boundary contract.
type RawRecord struct {
	Host         string
	RecordID     int64
	KindCode     int
	EventTimeUTC int64 // unix seconds, UTC, as delivered by the sensor
	Sequence     int64
	Fields       map[string]string
	Raw          []byte // original serialized payload, retained verbatim
}

// Sensor is the external kernel-backed event source. Implementations
// subscribe to the host's ordered telemetry log and deliver RawRecords in
// delivery order (assumed monotonic per record id, not globally time
// ordered).
type Sensor interface {
	// Subscribe starts delivering records to the returned channel. The
	// channel is closed when the sensor is exhausted or ctx is canceled.
	Subscribe(ctx context.Context) (<-chan RawRecord, error)
	// Close releases sensor-side resources. Safe to call after Subscribe's
	// channel has been drained.
	Close() error
}

// parseEvent converts a RawRecord into a typed events.Event. A non-nil error
// means the record's kind code is unsupported; numeric fields that do not
// parse are read as 0. Callers must log and continue rather than terminate
// the pipeline.
func parseEvent(r RawRecord) (events.Event, error) {
	kind := events.Kind(r.KindCode)

	ev := events.Event{
		Header: events.Header{
			RecordID:       r.RecordID,
			Host:           r.Host,
			Kind:           kind,
			EventTimeUTC:   unixToTime(r.EventTimeUTC),
			CaptureTimeUTC: nowUTC(),
			Sequence:       r.Sequence,
		},
		RawPayload: r.Raw,
	}

	f := r.Fields
	ev.ProcessID = parseInt64(f["ProcessId"])
	ev.ParentProcessID = parseInt64(f["ParentProcessId"])
	ev.Image = f["Image"]
	ev.ParentImage = f["ParentImage"]
	ev.CommandLine = f["CommandLine"]
	ev.ParentCommandLine = f["ParentCommandLine"]
	ev.User = f["User"]

	ev.SrcIP = f["SourceIp"]
	ev.SrcPort = int(parseInt64(f["SourcePort"]))
	ev.DstIP = f["DestinationIp"]
	ev.DstPort = int(parseInt64(f["DestinationPort"]))
	ev.Protocol = f["Protocol"]

	ev.TargetFilename = f["TargetFilename"]
	ev.ImageLoaded = f["ImageLoaded"]
	ev.Hashes = f["Hashes"]

	ev.RegistryKey = f["TargetObject"]
	ev.RegistryValue = f["Details"]

	ev.PipeName = f["PipeName"]

	ev.WmiOperation = f["Operation"]
	ev.WmiName = f["Name"]
	ev.WmiType = f["Type"]

	ev.DnsQuery = f["QueryName"]
	// Registry "Details" backfill overload: registry-kind events
	// with no DnsQuery stash their Details into the same column downstream
	// in the store; preserved here by leaving DnsQuery empty for registry
	// kinds and letting the store layer apply the overload on insert.

	ev.ClipboardHash = f["Hashes"]

	if !events.IsSupported(kind) {
		return ev, errUnsupportedKind
	}
	return ev, nil
}
