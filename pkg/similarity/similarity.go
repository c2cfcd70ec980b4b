// Package similarity implements the four-dimensional weighted similarity
// engine: it scores a live session against a catalog signature context
// across histogram cosine similarity, critical-event presence, temporal
// pattern, and context agreement, with an early-termination checkpoint to
// skip obviously-unrelated signatures cheaply.
package similarity

import (
	"fmt"
	"math"

	"github.com/navshield/sentineltrace/pkg/model"
)

// Weights are the per-dimension weights; they must sum to 1 within 1e-3
// or Config construction fails fast.
type Weights struct {
	Histogram        float64 // D1, default 0.40
	CriticalPresence float64 // D2, default 0.35
	Temporal         float64 // D3, default 0.15
	Context          float64 // D4, default 0.10
}

// DefaultWeights is the documented baseline weighting.
var DefaultWeights = Weights{Histogram: 0.40, CriticalPresence: 0.35, Temporal: 0.15, Context: 0.10}

// Config is the engine's immutable analysis configuration.
type Config struct {
	Weights             Weights
	MinimumThreshold    float64
	HighConfidence      float64
	MediumConfidence    float64
}

// DefaultConfig is the documented baseline engine configuration.
var DefaultConfig = Config{
	Weights:          DefaultWeights,
	MinimumThreshold: 0.5,
	HighConfidence:   0.85,
	MediumConfidence: 0.70,
}

// Engine computes similarity scores against catalog signatures.
type Engine struct {
	config Config
}

// New validates config and constructs an Engine. Weights that do not sum to
// 1 within 1e-3 are a configuration error.
func New(config Config) (*Engine, error) {
	sum := config.Weights.Histogram + config.Weights.CriticalPresence + config.Weights.Temporal + config.Weights.Context
	if math.Abs(sum-1.0) > 1e-3 {
		return nil, fmt.Errorf("similarity: dimension weights sum to %.6f, must sum to 1 within 1e-3", sum)
	}
	return &Engine{config: config}, nil
}

// Score computes the composite similarity between a live session and a
// catalog signature. It returns (match, ok): ok is false when the signature
// should be treated as no match (below threshold or aborted early).
func (e *Engine) Score(stats model.SessionStatistics, records []model.EventRecord, sig model.SignatureContext) (model.Match, bool) {
	d2 := criticalPresence(stats.Histogram, sig.CorePattern)

	if d2 == 0.0 {
		return model.Match{}, false
	}

	d1 := cosineSimilarity(stats.Histogram, sig.Feature.Histogram)

	partial := d1*e.config.Weights.Histogram + d2*e.config.Weights.CriticalPresence
	if partial < 0.75*e.config.MinimumThreshold {
		return model.Match{}, false
	}

	d3 := temporalPattern(records, sig)
	d4 := contextSimilarity(stats, sig.Feature)

	composite := d1*e.config.Weights.Histogram + d2*e.config.Weights.CriticalPresence +
		d3*e.config.Weights.Temporal + d4*e.config.Weights.Context

	if composite < e.config.MinimumThreshold {
		return model.Match{}, false
	}

	confidence := "low"
	if composite >= e.config.HighConfidence {
		confidence = "high"
	} else if composite >= e.config.MediumConfidence {
		confidence = "medium"
	}

	coreKinds := make(map[int]bool)
	for _, p := range sig.CorePattern {
		coreKinds[p.KindCode] = true
	}
	var matchedIDs []int64
	for _, r := range records {
		if coreKinds[r.KindCode] {
			matchedIDs = append(matchedIDs, r.EventID)
		}
	}

	return model.Match{
		TestID:          sig.TestID,
		TechniqueID:     sig.TechniqueID,
		TechniqueName:   sig.TechniqueName,
		Tactic:          sig.Tactic,
		Score:           composite,
		ThreatLevel:     sig.ThreatLevel,
		Confidence:      confidence,
		MatchedEventIDs: matchedIDs,
		D1:              d1, D2: d2, D3: d3, D4: d4,
	}, true
}

// criticalPresence computes D2: the fraction of the signature's core event
// kinds observed at least once in the live histogram. The signature's core
// events carry their own kind codes in CorePattern — the catalog session's
// event_id primary keys in CoreEventIDs belong to a different session than
// the live records being scored and must never be cross-referenced against
// them.
func criticalPresence(liveHistogram map[int]int, corePattern []model.CorePattern) float64 {
	required := len(corePattern)
	if required == 0 {
		return 1.0
	}

	present := 0
	for _, p := range corePattern {
		if liveHistogram[p.KindCode] >= 1 {
			present++
		}
	}
	ratio := float64(present) / float64(required)

	switch {
	case ratio < 0.5:
		return 0.0
	case ratio < 0.66:
		return 0.5
	default:
		return ratio
	}
}

// cosineSimilarity computes D1 over the union of kind codes present in
// either histogram.
func cosineSimilarity(a, b map[int]int) float64 {
	kinds := make(map[int]bool)
	for k := range a {
		kinds[k] = true
	}
	for k := range b {
		kinds[k] = true
	}

	var dot, normA, normB float64
	for k := range kinds {
		av, bv := float64(a[k]), float64(b[k])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// matchedEvent is a live event reduced to the fields temporal-pattern
// scoring needs: its kind and its offset from the first matched event.
type matchedEvent struct {
	kind int
	at   float64
}

// temporalPattern computes D3.
func temporalPattern(records []model.EventRecord, sig model.SignatureContext) float64 {
	if len(sig.CorePattern) < 2 {
		return 1.0
	}

	kindSet := make(map[int]bool, len(sig.CorePattern))
	for _, p := range sig.CorePattern {
		kindSet[p.KindCode] = true
	}

	var live []matchedEvent
	var first float64
	haveFirst := false
	for _, r := range records {
		if !kindSet[r.KindCode] {
			continue
		}
		t := float64(r.EventTimeUTC.Unix())
		if !haveFirst {
			first = t
			haveFirst = true
		}
		live = append(live, matchedEvent{kind: r.KindCode, at: t - first})
	}

	order := orderScore(sig.CorePattern, live)
	interval := intervalScore(sig.CorePattern, live)
	return 0.7*order + 0.3*interval
}

func orderScore(pattern []model.CorePattern, live []matchedEvent) float64 {
	if len(pattern) == 0 {
		return 1.0
	}
	idx := 0
	for _, l := range live {
		if idx >= len(pattern) {
			break
		}
		if l.kind == pattern[idx].KindCode {
			idx++
		}
	}
	return float64(idx) / float64(len(pattern))
}

func intervalScore(pattern []model.CorePattern, live []matchedEvent) float64 {
	expected := make([]float64, 0, len(pattern))
	for i := 1; i < len(pattern); i++ {
		expected = append(expected, pattern[i].OffsetSeconds-pattern[i-1].OffsetSeconds)
	}
	observed := make([]float64, 0, len(live))
	for i := 1; i < len(live); i++ {
		observed = append(observed, live[i].at-live[i-1].at)
	}

	if len(expected) == 0 {
		return 1.0
	}
	if len(observed) == 0 {
		return 0.0
	}

	n := len(expected)
	if len(observed) < n {
		n = len(observed)
	}
	matches := 0
	for i := 0; i < n; i++ {
		tolerance := math.Max(1, 0.2*math.Abs(expected[i]))
		if math.Abs(observed[i]-expected[i]) <= tolerance {
			matches++
		}
	}
	denom := len(expected)
	if len(observed) < denom {
		denom = len(observed)
	}
	return float64(matches) / float64(denom)
}

// contextSimilarity computes D4.
func contextSimilarity(stats model.SessionStatistics, sigFeature model.FeatureVector) float64 {
	matches := 0
	if abs(stats.ProcessTreeDepth-sigFeature.ProcessTreeDepth) <= 1 {
		matches++
	}
	if bucket(stats.NetworkCount) == bucket(sigFeature.UniqueDestinations) {
		matches++
	}
	if bucket(stats.FileOpsCount) == bucket(sigFeature.FileOpCount) {
		matches++
	}
	if bucket(stats.RegistryOpsCount) == bucket(sigFeature.RegistryOpCount) {
		matches++
	}
	return float64(matches) / 4.0
}

func bucket(n int) string {
	switch {
	case n == 0:
		return "none"
	case n <= 5:
		return "low"
	case n <= 20:
		return "medium"
	default:
		return "high"
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
