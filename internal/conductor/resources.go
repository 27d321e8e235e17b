package conductor

import (
	"fmt"
	"math"
	"strings"

	"github.com/cammy/sanctuary/pkg/types"
)

// Resource flag keys
const (
	ResourceComputeIntensive   = "compute_intensive"
	ResourceWebAccess          = "requires_web_access"
	ResourceFileAccess         = "requires_file_access"
	ResourceExternalAPIs       = "requires_external_apis"
	ResourceCollaboration      = "requires_collaboration"
	ResourceAPICallsEstimated  = "api_calls_estimated"
	ResourceMaxParallelWorkers = "max_parallel_workers"
	ResourceConfidenceInterval = "confidence_interval"
)

const (
	minDurationMinutes  = 5
	maxDurationMinutes  = 180
	defaultBaseDuration = 30
	intervalFraction    = 0.2
)

// baseDurations in minutes per category
var baseDurations = map[types.Category]float64{
	types.CategorySimpleQuery:     5,
	types.CategoryResearchTask:    30,
	types.CategoryCodeGeneration:  60,
	types.CategoryDeploymentTask:  45,
	types.CategoryComplexProject:  120,
	types.CategoryTroubleshooting: 30,
	types.CategoryLearningSession: 20,
}

// category substrings that turn on access flags. These test the category
// name, not the request text.
var (
	webAccessKeywords   = []string{"research", "scout", "learning"}
	fileAccessKeywords  = []string{"code", "project", "troubleshooting"}
	externalAPIKeywords = []string{"integration", "deployment"}
)

// EstimateResources returns the duration in minutes and the resource map
func EstimateResources(category types.Category, complexity int) (int, map[string]any) {
	base, ok := baseDurations[category]
	if !ok {
		base = defaultBaseDuration
	}

	scaled := base * (1 + 0.1*float64(complexity-5))
	duration := int(math.Round(math.Max(minDurationMinutes, math.Min(maxDurationMinutes, scaled))))

	name := string(category)
	resources := map[string]any{
		ResourceComputeIntensive:   complexity > 7,
		ResourceWebAccess:          containsAny(name, webAccessKeywords),
		ResourceFileAccess:         containsAny(name, fileAccessKeywords),
		ResourceExternalAPIs:       containsAny(name, externalAPIKeywords),
		ResourceCollaboration:      complexity > 6,
		ResourceAPICallsEstimated:  complexity * 3,
		ResourceMaxParallelWorkers: min(3, complexity/3+1),
		ResourceConfidenceInterval: fmt.Sprintf("±%d minutes", int(math.Round(float64(duration)*intervalFraction))),
	}

	return duration, resources
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
