package conductor

import (
	"testing"

	"github.com/cammy/sanctuary/pkg/types"
)

func knowledgeWith(category types.Category, familiar int, success float64) types.Knowledge {
	k := types.Knowledge{SuccessHistory: map[string]float64{string(category): success}}
	for i := 0; i < familiar; i++ {
		k.RecentPatterns = append(k.RecentPatterns, string(category))
	}
	return k
}

func TestEstimateConfidence(t *testing.T) {
	cat := types.CategoryCodeGeneration

	tests := []struct {
		name     string
		k        types.Knowledge
		expected types.ConfidenceLevel
	}{
		{"empty knowledge", types.Knowledge{}, types.ConfidenceLow},
		{"high success, no familiarity", knowledgeWith(cat, 0, 1.0), types.ConfidenceMedium},
		{"familiar and successful", knowledgeWith(cat, 3, 0.9), types.ConfidenceCertain},
		{"somewhat familiar", knowledgeWith(cat, 2, 0.8), types.ConfidenceHigh},
		{"poor history", knowledgeWith(cat, 0, 0.2), types.ConfidenceLow},
		{"out of range success clamps", knowledgeWith(cat, 0, 5.0), types.ConfidenceMedium},
		{"familiarity caps at three", knowledgeWith(cat, 9, 0.9), types.ConfidenceCertain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, score := EstimateConfidence(cat, tt.k)
			if level != tt.expected {
				t.Errorf("expected %s, got %s (score %.3f)", tt.expected, level, score)
			}
			if score < 0 || score > 1 {
				t.Errorf("score %.3f out of range", score)
			}
		})
	}
}

func TestEstimateConfidence_OtherCategoriesIgnored(t *testing.T) {
	k := knowledgeWith(types.CategoryResearchTask, 3, 1.0)

	level, _ := EstimateConfidence(types.CategoryCodeGeneration, k)
	if level != types.ConfidenceLow {
		t.Errorf("expected low confidence for an unseen category, got %s", level)
	}
}

func TestEstimateConfidence_MonotonicInSuccess(t *testing.T) {
	cat := types.CategoryTroubleshooting

	for familiar := 0; familiar <= 4; familiar++ {
		prev := types.ConfidenceLow
		for i := 0; i <= 100; i++ {
			level, _ := EstimateConfidence(cat, knowledgeWith(cat, familiar, float64(i)/100))
			if level < prev {
				t.Fatalf("confidence dropped from %s to %s at familiarity %d, success %.2f",
					prev, level, familiar, float64(i)/100)
			}
			prev = level
		}
	}
}
