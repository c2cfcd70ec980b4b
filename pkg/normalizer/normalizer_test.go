package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navshield/sentineltrace/pkg/events"
	"github.com/navshield/sentineltrace/pkg/model"
)

func TestNormalize_EmptySession_IncompleteGreen(t *testing.T) {
	result := Normalize(1, "T1003", nil, 0)

	assert.Equal(t, "incomplete", result.Signature.Status)
	assert.Equal(t, "Green", result.Signature.SeverityLabel)
	assert.Contains(t, result.Quality.Warnings, "session captured zero events")
}

func TestNormalize_CredentialDumpPath_RedSeverity(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []model.EventRecord{
		{EventID: 1, KindCode: int(events.KindProcessAccess), Image: "mimikatz.exe", TargetFilename: "lsass.exe", EventTimeUTC: base},
		{EventID: 2, KindCode: int(events.KindProcessCreate), CommandLine: "cmd.exe /c whoami", EventTimeUTC: base.Add(time.Second)},
	}

	result := Normalize(7, "T1003.001", records, 1.0)

	assert.Equal(t, "Red", result.Signature.SeverityLabel)
	assert.Contains(t, result.Signature.SeverityReason, "credential-dump")
	assert.Contains(t, result.Segregation.Core, int64(1))
}

func TestNormalize_SuspiciousCommandLinePromotesProcessCreateToCore(t *testing.T) {
	records := []model.EventRecord{
		{EventID: 1, KindCode: int(events.KindProcessCreate), CommandLine: "PowerShell -Enc SGVsbG8="},
	}

	result := Normalize(1, "T1059.001", records, 0)

	assert.Contains(t, result.Segregation.Core, int64(1))
}

func TestNormalize_NonSuspiciousProcessCreate_IsSupportNotCore(t *testing.T) {
	records := []model.EventRecord{
		{EventID: 1, KindCode: int(events.KindProcessCreate), CommandLine: "notepad.exe C:\\temp\\file.txt"},
	}

	result := Normalize(1, "T1059", records, 0)

	assert.Contains(t, result.Segregation.Support, int64(1))
	assert.NotContains(t, result.Segregation.Core, int64(1))
}

func TestNormalize_OrangeSeverityFromNamedPipeCoreEvent(t *testing.T) {
	records := []model.EventRecord{
		{EventID: 1, KindCode: int(events.KindNamedPipeCreate), PipeName: "\\pipe\\evil"},
	}

	result := Normalize(1, "T1021", records, 0)

	assert.Equal(t, "Orange", result.Signature.SeverityLabel)
}

func TestNormalize_YellowSeverityWhenOnlyBenignCoreEvents(t *testing.T) {
	records := []model.EventRecord{
		{EventID: 1, KindCode: int(events.KindFileCreate), TargetFilename: "C:\\temp\\out.txt"},
	}

	result := Normalize(1, "T1005", records, 0)

	assert.Equal(t, "Yellow", result.Signature.SeverityLabel)
}

func TestNormalize_SignatureHashIsDeterministic(t *testing.T) {
	records := []model.EventRecord{
		{EventID: 1, KindCode: int(events.KindProcessCreate), CommandLine: "cmd.exe"},
	}

	a := Normalize(1, "T1059", records, 12.5)
	b := Normalize(1, "T1059", records, 12.5)

	assert.Equal(t, a.Signature.Hash, b.Signature.Hash)
}

func TestNormalize_SignatureHashChangesWithDifferentHistogram(t *testing.T) {
	a := Normalize(1, "T1059", []model.EventRecord{{EventID: 1, KindCode: int(events.KindProcessCreate)}}, 0)
	b := Normalize(1, "T1059", []model.EventRecord{
		{EventID: 1, KindCode: int(events.KindProcessCreate)},
		{EventID: 2, KindCode: int(events.KindNetworkConnect)},
	}, 0)

	assert.NotEqual(t, a.Signature.Hash, b.Signature.Hash)
}

func TestNormalize_SignatureHashChangesWithSessionDuration(t *testing.T) {
	records := []model.EventRecord{
		{EventID: 1, KindCode: int(events.KindProcessCreate), CommandLine: "cmd.exe"},
	}

	a := Normalize(1, "T1059", records, 12.5)
	b := Normalize(1, "T1059", records, 600.0)

	assert.NotEqual(t, a.Signature.Hash, b.Signature.Hash)
}

func TestNormalize_QualityScoreBoundedUnitInterval(t *testing.T) {
	records := make([]model.EventRecord, 0, 20)
	for i := 0; i < 20; i++ {
		records = append(records, model.EventRecord{EventID: int64(i + 1), KindCode: int(events.KindRemoteThreadCreate)})
	}

	result := Normalize(1, "T1055", records, 0)

	assert.GreaterOrEqual(t, result.Quality.Score, 0.0)
	assert.LessOrEqual(t, result.Quality.Score, 1.0)
}

func TestNormalize_ProcessTreeDepthIsCycleSafe(t *testing.T) {
	records := []model.EventRecord{
		{EventID: 1, KindCode: int(events.KindProcessCreate), ProcessID: 10, ParentProcessID: 20},
		{EventID: 2, KindCode: int(events.KindProcessCreate), ProcessID: 20, ParentProcessID: 10},
	}

	require.NotPanics(t, func() {
		Normalize(1, "T1055", records, 0)
	})
}

func TestWhitelistAdvisory_FlagsPrivateDestinationAndTrustedDomain(t *testing.T) {
	records := []model.EventRecord{
		{EventID: 1, DstIP: "10.0.0.5"},
		{EventID: 2, DnsQuery: "update.microsoft.com"},
	}

	advisories := WhitelistAdvisory(records)

	assert.Contains(t, advisories, "private destination 10.0.0.5")
	require.Len(t, advisories, 2)
}
