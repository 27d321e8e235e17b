package types

import (
	"fmt"
	"maps"
	"strconv"
	"time"
)

// Category is the kind of work a request asks for
type Category string

const (
	CategorySimpleQuery     Category = "simple_query"
	CategoryResearchTask    Category = "research_task"
	CategoryCodeGeneration  Category = "code_generation"
	CategoryDeploymentTask  Category = "deployment_task"
	CategoryComplexProject  Category = "complex_project"
	CategoryTroubleshooting Category = "troubleshooting"
	CategoryLearningSession Category = "learning_session"
)

// AllCategories returns every category in declaration order
func AllCategories() []Category {
	return []Category{
		CategorySimpleQuery,
		CategoryResearchTask,
		CategoryCodeGeneration,
		CategoryDeploymentTask,
		CategoryComplexProject,
		CategoryTroubleshooting,
		CategoryLearningSession,
	}
}

// ParseCategory reports whether s names a known category
func ParseCategory(s string) (Category, bool) {
	for _, c := range AllCategories() {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// ConfidenceLevel is an ordered confidence band
type ConfidenceLevel int

const (
	ConfidenceLow     ConfidenceLevel = 0
	ConfidenceMedium  ConfidenceLevel = 1
	ConfidenceHigh    ConfidenceLevel = 2
	ConfidenceCertain ConfidenceLevel = 3
)

func (c ConfidenceLevel) String() string {
	switch c {
	case ConfidenceLow:
		return "low"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceHigh:
		return "high"
	case ConfidenceCertain:
		return "certain"
	default:
		return "unknown"
	}
}

// MarshalText encodes the level as its label
func (c ConfidenceLevel) MarshalText() ([]byte, error) {
	if c < ConfidenceLow || c > ConfidenceCertain {
		return nil, fmt.Errorf("invalid confidence level %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText decodes a label produced by MarshalText
func (c *ConfidenceLevel) UnmarshalText(text []byte) error {
	switch string(text) {
	case "low":
		*c = ConfidenceLow
	case "medium":
		*c = ConfidenceMedium
	case "high":
		*c = ConfidenceHigh
	case "certain":
		*c = ConfidenceCertain
	default:
		return fmt.Errorf("unknown confidence level %q", string(text))
	}
	return nil
}

// Worker identifies one of the fixed specialist roles a decision assigns
type Worker string

const (
	WorkerResearchSpecialist   Worker = "research_specialist"
	WorkerDevOpsSpecialist     Worker = "devops_specialist"
	WorkerScoutCommander       Worker = "scout_commander"
	WorkerModelCoordinator     Worker = "model_coordinator"
	WorkerToolCurator          Worker = "tool_curator"
	WorkerIntegrationArchitect Worker = "integration_architect"
	WorkerLiveAPISpecialist    Worker = "live_api_specialist"
	WorkerLeadDeveloper        Worker = "lead_developer"
)

// AllWorkers returns the closed worker set in declaration order.
// Fallback lists follow this order.
func AllWorkers() []Worker {
	return []Worker{
		WorkerResearchSpecialist,
		WorkerDevOpsSpecialist,
		WorkerScoutCommander,
		WorkerModelCoordinator,
		WorkerToolCurator,
		WorkerIntegrationArchitect,
		WorkerLiveAPISpecialist,
		WorkerLeadDeveloper,
	}
}

// IsKnownWorker reports whether w belongs to the closed worker set
func IsKnownWorker(w Worker) bool {
	for _, k := range AllWorkers() {
		if k == w {
			return true
		}
	}
	return false
}

// Backend represents a text-generation backend used for fallback classification
type Backend string

const (
	BackendGeminiFlash Backend = "gemini:flash"
	BackendGeminiPro   Backend = "gemini:pro"
	BackendClaudeHaiku Backend = "claude:haiku"
	BackendOpenAIMini  Backend = "openai:mini"
	BackendOllama      Backend = "ollama:default"
)

// DefaultExpertise is assumed when a session carries no expertise level
const DefaultExpertise = "intermediate"

// Knowledge is the per-user/session snapshot the conductor reads.
// The caller owns it; only outcome learning mutates SuccessHistory.
type Knowledge struct {
	ExpertiseLevel   string             `json:"expertise_level" yaml:"expertise_level"`
	ProjectType      *string            `json:"project_type,omitempty" yaml:"project_type,omitempty"`
	CurrentFocus     *string            `json:"current_focus,omitempty" yaml:"current_focus,omitempty"`
	RecentPatterns   []string           `json:"recent_patterns,omitempty" yaml:"recent_patterns,omitempty"`
	Preferences      map[string]string  `json:"preferences,omitempty" yaml:"preferences,omitempty"`
	PreferredWorkers []Worker           `json:"preferred_workers,omitempty" yaml:"preferred_workers,omitempty"`
	SuccessHistory   map[string]float64 `json:"success_history,omitempty" yaml:"success_history,omitempty"`
}

// Normalized returns a copy with permissive defaults filled in.
// A nil receiver yields the default knowledge.
func (k *Knowledge) Normalized() Knowledge {
	if k == nil {
		return Knowledge{
			ExpertiseLevel: DefaultExpertise,
			Preferences:    map[string]string{},
			SuccessHistory: map[string]float64{},
		}
	}

	out := Knowledge{
		ExpertiseLevel:   k.ExpertiseLevel,
		ProjectType:      k.ProjectType,
		CurrentFocus:     k.CurrentFocus,
		RecentPatterns:   append([]string(nil), k.RecentPatterns...),
		Preferences:      maps.Clone(k.Preferences),
		PreferredWorkers: append([]Worker(nil), k.PreferredWorkers...),
		SuccessHistory:   maps.Clone(k.SuccessHistory),
	}
	if out.ExpertiseLevel == "" {
		out.ExpertiseLevel = DefaultExpertise
	}
	if out.Preferences == nil {
		out.Preferences = map[string]string{}
	}
	if out.SuccessHistory == nil {
		out.SuccessHistory = map[string]float64{}
	}
	return out
}

// PushPattern appends a category to the recent history, keeping at most limit entries
func (k *Knowledge) PushPattern(c Category, limit int) {
	k.RecentPatterns = append(k.RecentPatterns, string(c))
	if limit > 0 && len(k.RecentPatterns) > limit {
		k.RecentPatterns = k.RecentPatterns[len(k.RecentPatterns)-limit:]
	}
}

// Decision is the immutable output of request analysis
type Decision struct {
	Category          Category        `json:"decision_type"`
	Confidence        ConfidenceLevel `json:"confidence"`
	Reasoning         string          `json:"reasoning"`
	SelectedWorkers   []Worker        `json:"selected_agents"`
	Complexity        int             `json:"estimated_complexity"`
	EstimatedDuration int             `json:"estimated_duration"`
	Resources         map[string]any  `json:"resource_requirements"`
	Fallbacks         []Worker        `json:"fallback_options"`
}

// NewDecision builds a Decision that shares no memory with its inputs
func NewDecision(category Category, confidence ConfidenceLevel, reasoning string,
	selected []Worker, complexity, duration int, resources map[string]any, fallbacks []Worker) Decision {
	return Decision{
		Category:          category,
		Confidence:        confidence,
		Reasoning:         reasoning,
		SelectedWorkers:   append([]Worker{}, selected...),
		Complexity:        complexity,
		EstimatedDuration: duration,
		Resources:         maps.Clone(resources),
		Fallbacks:         append([]Worker{}, fallbacks...),
	}
}

// PatternKey buckets the decision for learning: "category:complexity"
func (d Decision) PatternKey() string {
	return PatternKey(d.Category, d.Complexity)
}

// PatternKey formats the learning bucket for a category and complexity score
func PatternKey(c Category, complexity int) string {
	return string(c) + ":" + strconv.Itoa(complexity)
}

// Outcome reports how a task that followed a decision went
type Outcome struct {
	Success  bool    `json:"success"`
	Duration float64 `json:"duration"` // minutes
}

// PatternStats holds the learning state for one pattern key
type PatternStats struct {
	Count       int            `json:"count"`
	Outcomes    int            `json:"outcomes"`
	SuccessRate float64        `json:"success_rate"`
	AvgDuration float64        `json:"avg_duration"`
	Workers     map[Worker]int `json:"workers"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NewPatternStats returns stats for a pattern seen for the first time
func NewPatternStats() PatternStats {
	return PatternStats{
		SuccessRate: 0.5,
		Workers:     make(map[Worker]int),
	}
}

// Clone returns a deep copy
func (s PatternStats) Clone() PatternStats {
	s.Workers = maps.Clone(s.Workers)
	if s.Workers == nil {
		s.Workers = make(map[Worker]int)
	}
	return s
}
