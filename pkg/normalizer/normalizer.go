// Package normalizer implements the catalog normalization pipeline: it
// converts a captured session into a reusable behavioral signature by
// segregating events into core/support/noise, computing a feature vector,
// advising a severity and quality score, and hashing the result into a
// deterministic signature.
package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/navshield/sentineltrace/pkg/events"
	"github.com/navshield/sentineltrace/pkg/model"
)

// caseFolder is the Unicode-aware lowercasing used for suspicious-token and
// credential-dump substring matching, in place of strings.ToLower: operators
// paste command lines from runbooks with mixed-case flags ("PowerShell
// -Enc"), and cases.Fold applies locale-independent case folding that a
// plain byte-wise ToLower can miss for non-ASCII arguments.
var caseFolder = cases.Fold()

// suspiciousTokens is the case-insensitive command-line substring set that
// promotes a ProcessCreate event to core.
var suspiciousTokens = []string{
	"powershell -enc", "powershell.exe -enc", "invoke-mimikatz", "mimikatz",
	"certutil -urlcache", "rundll32", "regsvr32 /s", "wmic process call create",
	"bitsadmin", "cmd.exe /c whoami /priv",
}

// credentialDumpTokens triggers the Red severity predicate.
var credentialDumpTokens = []string{"lsass", "sekurlsa", "mimikatz"}

// supportKinds is {1,2,3,4,5,6,7,9,22,23,24,25,26}, expressed
// against the Kind constants rather than bare integers so renumbering the
// sensor's codes cannot silently desync this list from events.Kind.
var supportKinds = map[events.Kind]bool{
	events.KindProcessCreate: true, events.KindFileCreateTimeChanged: true, events.KindNetworkConnect: true,
	4: true, // kind 4 has no named constant; sensor-reserved, never emitted by the adapter
	events.KindProcessTerminate: true, events.KindDriverLoad: true, events.KindImageLoad: true,
	events.KindRawDiskAccess: true, events.KindDnsQuery: true, events.KindFileDelete: true,
	events.KindClipboardChange: true, events.KindProcessTampering: true, events.KindFileDeleteDetected: true,
}

// rfc1918Blocks are the private IPv4 ranges used by the network-destination
// override and the whitelist advisory.
var rfc1918Blocks = []string{"10.", "172.16.", "172.17.", "172.18.", "172.19.", "172.20.",
	"172.21.", "172.22.", "172.23.", "172.24.", "172.25.", "172.26.", "172.27.",
	"172.28.", "172.29.", "172.30.", "172.31.", "192.168."}

var trustedDomainSuffixes = []string{
	"*.microsoft.com", "*.windowsupdate.com", "*.office365.com", "*.github.com", "*.azureedge.net", "*.google.com",
}

func isPrivateOrLoopback(ip string) bool {
	if ip == "" || ip == "127.0.0.1" || ip == "::1" || strings.HasPrefix(ip, "127.") {
		return true
	}
	for _, block := range rfc1918Blocks {
		if strings.HasPrefix(ip, block) {
			return true
		}
	}
	return false
}

func containsAny(haystack string, needles []string) bool {
	h := caseFolder.String(haystack)
	for _, n := range needles {
		if strings.Contains(h, n) {
			return true
		}
	}
	return false
}

// Normalize runs the full pipeline over a catalog session's events and
// returns the NormalizationResult. sessionDurationSecs is the session's own
// wall-clock start-to-stop span, distinct from feature.TemporalSpanSecs
// (the span between the session's first and last event) — both feed
// the signature hash as separate fields.
func Normalize(testID int64, techniqueID string, records []model.EventRecord, sessionDurationSecs float64) model.NormalizationResult {
	seg := segregate(records)
	feature := featureVector(records, seg)
	severityLabel, severityReason := suggestSeverity(records, seg)
	quality, warnings := assessQuality(records, seg, feature)
	status := normalizationStatus(len(records), len(seg.Core), quality.Coverage)

	hash := signatureHash(testID, techniqueID, severityLabel, feature, quality, len(seg.Core), sessionDurationSecs)

	logs := buildLogs(testID, severityLabel, warnings)

	sig := model.Signature{
		TestID:         testID,
		Status:         status,
		SeverityLabel:  severityLabel,
		SeverityReason: severityReason,
		Feature:        feature,
		Hash:           hash,
		ProcessedAt:    time.Now().UTC(),
		QualityScore:   quality.Score,
		Warnings:       warnings,
	}

	return model.NormalizationResult{
		Signature:   sig,
		Segregation: seg,
		Quality:     quality,
		Logs:        logs,
	}
}

func segregate(records []model.EventRecord) model.Segregation {
	var seg model.Segregation
	for _, r := range records {
		kind := events.Kind(r.KindCode)

		if r.KindCode <= 0 {
			seg.Noise = append(seg.Noise, r.EventID)
			continue
		}

		if events.CriticalKinds[kind] {
			seg.Core = append(seg.Core, r.EventID)
			continue
		}

		if isHighRiskOverride(kind, r) {
			seg.Core = append(seg.Core, r.EventID)
			continue
		}

		if supportKinds[kind] || hasContextValue(r) {
			seg.Support = append(seg.Support, r.EventID)
			continue
		}

		seg.Noise = append(seg.Noise, r.EventID)
	}
	return seg
}

func isHighRiskOverride(kind events.Kind, r model.EventRecord) bool {
	switch kind {
	case events.KindProcessCreate:
		return containsAny(r.CommandLine, suspiciousTokens)
	case events.KindProcessAccess:
		return strings.Contains(caseFolder.String(r.Image), "lsass.exe") || strings.Contains(caseFolder.String(r.ParentImage), "lsass.exe")
	case events.KindNetworkConnect:
		return !isPrivateOrLoopback(r.DstIP) && r.DstIP != ""
	default:
		return false
	}
}

func hasContextValue(r model.EventRecord) bool {
	return r.DstIP != "" || r.DnsQuery != "" || r.ImageLoaded != "" || events.IsRegistryKind(events.Kind(r.KindCode))
}

func featureVector(records []model.EventRecord, seg model.Segregation) model.FeatureVector {
	histogram := make(map[int]int)
	var destinations = make(map[string]bool)
	registryOps, fileOps := 0, 0
	var first, last time.Time

	for i, r := range records {
		if r.KindCode > 0 {
			histogram[r.KindCode]++
		}
		if r.DstIP != "" {
			destinations[fmt.Sprintf("%s:%d", r.DstIP, r.DstPort)] = true
		}
		kind := events.Kind(r.KindCode)
		if events.RegistryOpKinds[kind] {
			registryOps++
		}
		if events.FileOpKinds[kind] {
			fileOps++
		}
		if i == 0 || r.EventTimeUTC.Before(first) {
			first = r.EventTimeUTC
		}
		if i == 0 || r.EventTimeUTC.After(last) {
			last = r.EventTimeUTC
		}
	}

	span := last.Sub(first).Seconds()
	if span < 0 {
		span = 0
	}

	return model.FeatureVector{
		Histogram:          histogram,
		ProcessTreeDepth:   processTreeDepth(records),
		UniqueDestinations: len(destinations),
		RegistryOpCount:    registryOps,
		FileOpCount:        fileOps,
		TemporalSpanSecs:   span,
		CriticalEventCount: len(seg.Core),
	}
}

// processTreeDepth walks child->parent pointers derived from the event
// set's process fields, guarding against cycles with a visited set and a
// hop ceiling.
func processTreeDepth(records []model.EventRecord) int {
	parentOf := make(map[int64]int64)
	for _, r := range records {
		if r.ProcessID != 0 {
			if _, ok := parentOf[r.ProcessID]; !ok {
				parentOf[r.ProcessID] = r.ParentProcessID
			}
		}
	}

	best := 0
	for pid := range parentOf {
		depth := 0
		visited := make(map[int64]bool)
		cur := pid
		for hops := 0; hops < 50; hops++ {
			if visited[cur] {
				break
			}
			visited[cur] = true
			parent, ok := parentOf[cur]
			if !ok || parent == 0 || parent == cur {
				break
			}
			depth++
			cur = parent
		}
		if depth > best {
			best = depth
		}
	}
	return best
}

func suggestSeverity(records []model.EventRecord, seg model.Segregation) (string, string) {
	coreSet := toSet(seg.Core)
	var hasOrangeKind bool
	for _, r := range records {
		if !coreSet[r.EventID] {
			continue
		}
		if containsAny(r.Image, credentialDumpTokens) || containsAny(r.CommandLine, credentialDumpTokens) || containsAny(r.TargetFilename, credentialDumpTokens) {
			return "Red", "core event matched the credential-dump predicate"
		}
		switch events.Kind(r.KindCode) {
		case events.KindNetworkConnect, events.KindNamedPipeCreate, events.KindNamedPipeConnect,
			events.KindWmiFilter, events.KindWmiConsumer, events.KindWmiBinding:
			hasOrangeKind = true
		}
	}
	if hasOrangeKind {
		return "Orange", "core events include network, pipe, or WMI activity"
	}
	if len(seg.Core) > 0 {
		return "Yellow", "core behavior observed without high-risk indicators"
	}
	return "Green", "no core behavior observed"
}

func assessQuality(records []model.EventRecord, seg model.Segregation, feature model.FeatureVector) (model.Quality, []string) {
	total := len(records)
	var coverage float64
	if total > 0 {
		coverage = float64(len(seg.Core)) / float64(total) * 100
	}

	var warnings []string
	if total == 0 {
		warnings = append(warnings, "session captured zero events")
	}
	if len(seg.Core) == 0 {
		warnings = append(warnings, "no core events identified")
	}
	if total > 0 && coverage < 15 {
		warnings = append(warnings, "core coverage below 15%")
	}
	if total > 0 && feature.TemporalSpanSecs < 2 {
		warnings = append(warnings, "session duration below 2 seconds")
	}

	score := coverage / 100
	if len(seg.Core) > 0 {
		score += 0.2
	}
	score -= 0.05 * float64(len(warnings))
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	return model.Quality{Coverage: coverage, Warnings: warnings, Score: score}, warnings
}

func normalizationStatus(total, core int, coverage float64) string {
	if total == 0 || core == 0 || coverage < 10 {
		return "incomplete"
	}
	return "completed"
}

// signatureHash is SHA-256 over the deterministic pipe-joined fields,
// encoded as upper-case hex.
func signatureHash(testID int64, techniqueID, severity string, feature model.FeatureVector, quality model.Quality, coreCount int, sessionDurationSecs float64) string {
	kinds := make([]int, 0, len(feature.Histogram))
	for k := range feature.Histogram {
		kinds = append(kinds, k)
	}
	sort.Ints(kinds)

	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%d:%d", k, feature.Histogram[k]))
	}
	histogramPart := strings.Join(parts, ",")

	text := fmt.Sprintf("%d|%s|%s|%s|%d|%d|%d|%d|%.2f|%d|%.2f",
		testID, techniqueID, severity, histogramPart,
		feature.ProcessTreeDepth, feature.UniqueDestinations, feature.RegistryOpCount, feature.FileOpCount,
		feature.TemporalSpanSecs, coreCount, sessionDurationSecs)

	sum := sha256.Sum256([]byte(text))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func buildLogs(testID int64, severity string, warnings []string) []model.LogEntry {
	now := time.Now().UTC()
	logs := []model.LogEntry{
		{Level: "INFO", Message: fmt.Sprintf("SEVERITY: test %d normalized to %s", testID, severity), At: now},
	}
	for _, w := range warnings {
		logs = append(logs, model.LogEntry{Level: "WARN", Message: w, At: now})
	}
	return logs
}

func toSet(ids []int64) map[int64]bool {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// WhitelistAdvisory surfaces advisory (non-applied) whitelist hints for the
// operator: private destinations, trusted-domain suffixes seen
// in DnsQuery.
func WhitelistAdvisory(records []model.EventRecord) []string {
	var advisories []string
	seen := make(map[string]bool)
	for _, r := range records {
		if r.DstIP != "" && isPrivateOrLoopback(r.DstIP) && !seen["private:"+r.DstIP] {
			seen["private:"+r.DstIP] = true
			advisories = append(advisories, fmt.Sprintf("private destination %s", r.DstIP))
		}
		if r.DnsQuery != "" {
			for _, suffix := range trustedDomainSuffixes {
				bare := strings.TrimPrefix(suffix, "*")
				if strings.HasSuffix(caseFolder.String(r.DnsQuery), bare) && !seen["domain:"+r.DnsQuery] {
					seen["domain:"+r.DnsQuery] = true
					advisories = append(advisories, fmt.Sprintf("trusted domain %s matches %s", r.DnsQuery, suffix))
				}
			}
		}
	}
	return advisories
}
