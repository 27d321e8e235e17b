package conductor

import (
	"math"
	"regexp"
	"strings"

	"github.com/cammy/sanctuary/pkg/types"
)

// Feature keys reported by ScoreComplexity
const (
	FeatureWordCount      = "word_count"
	FeatureQuestionMarks  = "question_marks"
	FeatureConjunctions   = "conjunctions"
	FeatureHasConjunction = "has_conjunction"
	FeatureHasCode        = "has_code"
	FeatureHasURL         = "has_url"
	FeatureTechnicalTerms = "technical_terms"
)

const (
	minComplexity = 0
	maxComplexity = 10
)

var (
	conjunctionRe = regexp.MustCompile(`\b(and|also|then|plus|additionally|as well as)\b`)
	codeRe        = regexp.MustCompile("```|`[^`\n]+`")
	urlRe         = regexp.MustCompile(`https?://\S+|www\.\S+`)

	technicalTerms = []string{
		"api", "database", "framework", "architecture", "algorithm",
		"optimization", "scalability", "microservices", "kubernetes", "docker",
	}
)

// baseComplexity is the starting score per category
var baseComplexity = map[types.Category]float64{
	types.CategorySimpleQuery:     2,
	types.CategoryResearchTask:    5,
	types.CategoryCodeGeneration:  6,
	types.CategoryDeploymentTask:  7,
	types.CategoryComplexProject:  9,
	types.CategoryTroubleshooting: 4,
	types.CategoryLearningSession: 3,
}

type featureWeight struct {
	feature string
	weight  float64
}

// summed in this order so equal inputs always produce equal scores
var complexityWeights = []featureWeight{
	{FeatureWordCount, 0.02},
	{FeatureQuestionMarks, 0.25},
	{FeatureConjunctions, 0.5},
	{FeatureHasCode, 1.0},
	{FeatureHasURL, 0.5},
}

// ExtractFeatures computes the numeric feature vector for a request
func ExtractFeatures(text string) map[string]float64 {
	lower := strings.ToLower(text)

	conjunctions := len(conjunctionRe.FindAllStringIndex(lower, -1))
	terms := 0
	for _, term := range technicalTerms {
		if strings.Contains(lower, term) {
			terms++
		}
	}

	return map[string]float64{
		FeatureWordCount:      float64(len(strings.Fields(text))),
		FeatureQuestionMarks:  float64(strings.Count(text, "?")),
		FeatureConjunctions:   float64(conjunctions),
		FeatureHasConjunction: boolFeature(conjunctions > 0),
		FeatureHasCode:        boolFeature(codeRe.MatchString(text)),
		FeatureHasURL:         boolFeature(urlRe.MatchString(lower)),
		FeatureTechnicalTerms: float64(terms),
	}
}

// ScoreComplexity returns the clamped integer score in [0,10] and the raw features
func ScoreComplexity(category types.Category, text string) (int, map[string]float64) {
	features := ExtractFeatures(text)

	base, ok := baseComplexity[category]
	if !ok {
		base = 5
	}

	score := base
	for _, fw := range complexityWeights {
		score += fw.weight * features[fw.feature]
	}

	return clampScore(score), features
}

func clampScore(score float64) int {
	if math.IsNaN(score) {
		return minComplexity
	}
	clamped := math.Max(minComplexity, math.Min(maxComplexity, score))
	return int(clamped)
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
