package conductor

import (
	"math"

	"github.com/cammy/sanctuary/pkg/types"
)

const (
	familiarityWeight = 0.4
	successWeight     = 0.6
	familiarityCap    = 3.0

	defaultSuccessRate = 0.5
)

// EstimateConfidence blends pattern familiarity with historical success.
// Familiarity is the count of recent patterns equal to the category,
// normalized against familiarityCap.
func EstimateConfidence(category types.Category, knowledge types.Knowledge) (types.ConfidenceLevel, float64) {
	familiar := 0
	for _, p := range knowledge.RecentPatterns {
		if p == string(category) {
			familiar++
		}
	}

	success, ok := knowledge.SuccessHistory[string(category)]
	if !ok || math.IsNaN(success) {
		success = defaultSuccessRate
	}
	success = math.Max(0, math.Min(1, success))

	normalized := math.Min(float64(familiar)/familiarityCap, 1)
	blend := familiarityWeight*normalized + successWeight*success

	return confidenceBand(blend), blend
}

func confidenceBand(score float64) types.ConfidenceLevel {
	switch {
	case score >= 0.9:
		return types.ConfidenceCertain
	case score >= 0.7:
		return types.ConfidenceHigh
	case score >= 0.5:
		return types.ConfidenceMedium
	default:
		return types.ConfidenceLow
	}
}
