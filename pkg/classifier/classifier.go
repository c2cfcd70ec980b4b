// Package classifier implements the session threat classifier: it maps a
// snapshot's bag of similarity matches into a session-level severity and
// decides when an alert should fire.
package classifier

import (
	"fmt"

	"github.com/navshield/sentineltrace/pkg/model"
)

// Classifier holds the configured confidence thresholds.
type Classifier struct {
	HighConfidence   float64
	MediumConfidence float64
	MinimumThreshold float64
}

// New constructs a Classifier with the given thresholds.
func New(highConfidence, mediumConfidence, minimumThreshold float64) *Classifier {
	return &Classifier{
		HighConfidence:   highConfidence,
		MediumConfidence: mediumConfidence,
		MinimumThreshold: minimumThreshold,
	}
}

// Classify applies the ordered severity rules to the current snapshot's
// matches against the previously observed session level. Session level is
// monotonic non-decreasing: the returned level is never lower than previous.
func (c *Classifier) Classify(matches []model.Match, previous *model.ThreatLevel) model.Classification {
	level, reason, triggerTech, triggerSim := c.classifyRaw(matches)

	if previous != nil && level < *previous {
		level = *previous
		reason = fmt.Sprintf("retaining prior level %s (non-decreasing)", previous.String())
	}

	shouldAlert := false
	if previous == nil {
		shouldAlert = level > model.Green
	} else {
		shouldAlert = level > *previous
	}

	return model.Classification{
		Level:              level,
		Reason:             reason,
		TriggerTechniqueID: triggerTech,
		TriggerSimilarity:  triggerSim,
		ShouldAlert:        shouldAlert,
	}
}

func (c *Classifier) classifyRaw(matches []model.Match) (model.ThreatLevel, string, string, float64) {
	var best *model.Match
	for i := range matches {
		m := &matches[i]
		if m.Score >= c.HighConfidence && m.ThreatLevel == model.Red {
			if best == nil || m.Score > best.Score {
				best = m
			}
		}
	}
	if best != nil {
		return model.Red, fmt.Sprintf("technique %s matched at %.3f with Red threat level", best.TechniqueID, best.Score), best.TechniqueID, best.Score
	}

	best = nil
	for i := range matches {
		m := &matches[i]
		if m.Score >= c.MediumConfidence && m.ThreatLevel >= model.Orange {
			if best == nil || m.Score > best.Score {
				best = m
			}
		}
	}
	if best != nil {
		return model.Orange, fmt.Sprintf("technique %s matched at %.3f with threat level %s", best.TechniqueID, best.Score, best.ThreatLevel), best.TechniqueID, best.Score
	}

	best = nil
	for i := range matches {
		m := &matches[i]
		if m.Score >= c.MinimumThreshold {
			if best == nil || m.Score > best.Score {
				best = m
			}
		}
	}
	if best != nil {
		return model.Yellow, fmt.Sprintf("technique %s matched at %.3f", best.TechniqueID, best.Score), best.TechniqueID, best.Score
	}

	return model.Green, "no matches at or above the minimum threshold", "", 0
}
