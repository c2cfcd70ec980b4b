package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navshield/sentineltrace/pkg/model"
)

func newClassifier() *Classifier {
	return New(0.85, 0.65, 0.40)
}

func TestClassify_NoMatches_Green(t *testing.T) {
	c := newClassifier()
	result := c.Classify(nil, nil)

	assert.Equal(t, model.Green, result.Level)
	assert.False(t, result.ShouldAlert)
	assert.Empty(t, result.TriggerTechniqueID)
}

func TestClassify_RedRequiresBothHighScoreAndRedThreatLevel(t *testing.T) {
	c := newClassifier()
	matches := []model.Match{
		{TestID: 1, TechniqueID: "T1003", Score: 0.90, ThreatLevel: model.Orange},
		{TestID: 2, TechniqueID: "T1055", Score: 0.90, ThreatLevel: model.Red},
	}

	result := c.Classify(matches, nil)

	require.Equal(t, model.Red, result.Level)
	assert.Equal(t, "T1055", result.TriggerTechniqueID)
	assert.True(t, result.ShouldAlert)
}

func TestClassify_OrangeFromMediumConfidenceAtOrAboveOrange(t *testing.T) {
	c := newClassifier()
	matches := []model.Match{
		{TestID: 1, TechniqueID: "T1082", Score: 0.70, ThreatLevel: model.Orange},
	}

	result := c.Classify(matches, nil)

	assert.Equal(t, model.Orange, result.Level)
	assert.Equal(t, "T1082", result.TriggerTechniqueID)
}

func TestClassify_YellowFromMinimumThresholdOnly(t *testing.T) {
	c := newClassifier()
	matches := []model.Match{
		{TestID: 1, TechniqueID: "T1057", Score: 0.45, ThreatLevel: model.Blue},
	}

	result := c.Classify(matches, nil)

	assert.Equal(t, model.Yellow, result.Level)
}

func TestClassify_BelowMinimumThreshold_Green(t *testing.T) {
	c := newClassifier()
	matches := []model.Match{
		{TestID: 1, TechniqueID: "T1057", Score: 0.10, ThreatLevel: model.Red},
	}

	result := c.Classify(matches, nil)

	assert.Equal(t, model.Green, result.Level)
	assert.False(t, result.ShouldAlert)
}

func TestClassify_LevelIsMonotonicNonDecreasing(t *testing.T) {
	c := newClassifier()
	previous := model.Orange
	matches := []model.Match{
		{TestID: 1, TechniqueID: "T1057", Score: 0.10, ThreatLevel: model.Green},
	}

	result := c.Classify(matches, &previous)

	assert.Equal(t, model.Orange, result.Level)
	assert.False(t, result.ShouldAlert, "retaining the same level must not alert")
}

func TestClassify_AlertOnlyFiresOnElevation(t *testing.T) {
	c := newClassifier()
	previous := model.Yellow
	matches := []model.Match{
		{TestID: 1, TechniqueID: "T1082", Score: 0.70, ThreatLevel: model.Orange},
	}

	result := c.Classify(matches, &previous)

	require.Equal(t, model.Orange, result.Level)
	assert.True(t, result.ShouldAlert)
}

func TestClassify_NoAlertWhenAlreadyAtThatLevel(t *testing.T) {
	c := newClassifier()
	previous := model.Orange
	matches := []model.Match{
		{TestID: 1, TechniqueID: "T1082", Score: 0.70, ThreatLevel: model.Orange},
	}

	result := c.Classify(matches, &previous)

	assert.Equal(t, model.Orange, result.Level)
	assert.False(t, result.ShouldAlert)
}

func TestClassify_PicksHighestScoringRedCandidate(t *testing.T) {
	c := newClassifier()
	matches := []model.Match{
		{TestID: 1, TechniqueID: "T1003.001", Score: 0.86, ThreatLevel: model.Red},
		{TestID: 2, TechniqueID: "T1003.002", Score: 0.97, ThreatLevel: model.Red},
	}

	result := c.Classify(matches, nil)

	assert.Equal(t, "T1003.002", result.TriggerTechniqueID)
	assert.Equal(t, 0.97, result.TriggerSimilarity)
}
