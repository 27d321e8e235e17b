package conductor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cammy/sanctuary/pkg/types"
	"go.uber.org/zap"
)

// DefaultClassifyTimeout bounds the external classification call
const DefaultClassifyTimeout = 10 * time.Second

// TextClassifier is the hosted text-generation capability used when no
// pattern matches. The first line of the reply is the candidate label.
type TextClassifier interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Classification sources
const (
	SourcePattern  = "pattern"
	SourceModel    = "model"
	SourceFallback = "fallback"
)

// Classification is the category chosen for a request and how it was reached
type Classification struct {
	Category types.Category
	Pattern  string
	Source   string
}

// Pattern represents a classification pattern
type Pattern struct {
	Name  string
	Regex *regexp.Regexp
}

type categoryPatterns struct {
	category types.Category
	patterns []Pattern
}

// Classifier maps request text to a category
type Classifier struct {
	table   []categoryPatterns
	model   TextClassifier
	timeout time.Duration
	logger  *zap.Logger
}

// NewClassifier creates a classifier with the default pattern table.
// model may be nil, in which case unmatched requests resolve to simple_query.
func NewClassifier(model TextClassifier, timeout time.Duration, logger *zap.Logger) *Classifier {
	if timeout <= 0 {
		timeout = DefaultClassifyTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Classifier{
		model:   model,
		timeout: timeout,
		logger:  logger,
	}
	c.initPatterns()
	return c
}

// initPatterns builds the ordered table. complex_project has no entry and is
// only reachable through the model.
func (c *Classifier) initPatterns() {
	c.table = []categoryPatterns{
		{
			category: types.CategorySimpleQuery,
			patterns: []Pattern{
				{Name: "definition", Regex: regexp.MustCompile(`^\s*(what|who|when|where|which)\s+(is|are|was|were)\b`)},
				{Name: "define", Regex: regexp.MustCompile(`^\s*(define|definition of)\b`)},
				{Name: "meaning", Regex: regexp.MustCompile(`\bwhat does\s+.+\s+mean\b`)},
				{Name: "greeting", Regex: regexp.MustCompile(`^\s*(hi|hello|hey|thanks|thank you)\b`)},
			},
		},
		{
			category: types.CategoryResearchTask,
			patterns: []Pattern{
				{Name: "research", Regex: regexp.MustCompile(`\b(research|investigate|survey)\b`)},
				{Name: "compare", Regex: regexp.MustCompile(`\b(compare|comparison|versus|vs\.?)\b`)},
				{Name: "find_sources", Regex: regexp.MustCompile(`\b(find|look up|search for)\s+(information|sources|articles|papers|studies)\b`)},
				{Name: "market_analysis", Regex: regexp.MustCompile(`\b(analy[sz]e|evaluate)\s+(the\s+)?(market|options|vendors|alternatives|competitors)\b`)},
				{Name: "pros_cons", Regex: regexp.MustCompile(`\bpros and cons\b`)},
			},
		},
		{
			category: types.CategoryCodeGeneration,
			patterns: []Pattern{
				{Name: "code_fence", Regex: regexp.MustCompile("```")},
				{Name: "write_code", Regex: regexp.MustCompile(`\b(implement|write|create|generate|build)\s+(a\s+|an\s+|the\s+)?(new\s+)?(function|class|method|script|module|program|component|endpoint)\b`)},
				{Name: "refactor", Regex: regexp.MustCompile(`\brefactor`)},
				{Name: "code_review", Regex: regexp.MustCompile(`\bcode\s+(review|snippet)\b`)},
				{Name: "unit_tests", Regex: regexp.MustCompile(`\b(write|add|create)\s+(unit\s+)?tests?\b`)},
			},
		},
		{
			category: types.CategoryDeploymentTask,
			patterns: []Pattern{
				{Name: "deploy", Regex: regexp.MustCompile(`\b(deploy|deployment|redeploy|rollout)\b`)},
				{Name: "infra_tools", Regex: regexp.MustCompile(`\b(docker|kubernetes|k8s|helm|terraform)\b`)},
				{Name: "cicd", Regex: regexp.MustCompile(`\bci\s*/?\s*cd\b`)},
				{Name: "environment", Regex: regexp.MustCompile(`\b(production|staging)\s+(server|environment|cluster)\b`)},
			},
		},
		{
			category: types.CategoryTroubleshooting,
			patterns: []Pattern{
				{Name: "error", Regex: regexp.MustCompile(`\b(error|exception|stack\s*trace|traceback)\b`)},
				{Name: "failure", Regex: regexp.MustCompile(`\b(bug|crash|crashes|broken|failing|fails)\b`)},
				{Name: "debug", Regex: regexp.MustCompile(`\b(debug|troubleshoot|diagnose)\b`)},
				{Name: "not_working", Regex: regexp.MustCompile(`\b(doesn't|does not|won't|isn't|is not)\s+work`)},
			},
		},
		{
			category: types.CategoryLearningSession,
			patterns: []Pattern{
				{Name: "explain", Regex: regexp.MustCompile(`\b(teach me|explain|tutorial|walk me through)\b`)},
				{Name: "learn", Regex: regexp.MustCompile(`\blearn(ing)?\s+(about|how)\b`)},
				{Name: "how_to", Regex: regexp.MustCompile(`\bhow\s+(do|does|can|should)\s+(i|you|we)\b`)},
				{Name: "intro", Regex: regexp.MustCompile(`\b(beginner|introduction to|basics of)\b`)},
			},
		},
	}
}

// MatchPattern tests the pattern table only. ok is false when nothing matched.
func (c *Classifier) MatchPattern(text string) (Classification, bool) {
	lower := strings.ToLower(text)
	for _, entry := range c.table {
		for _, p := range entry.patterns {
			if p.Regex.MatchString(lower) {
				return Classification{Category: entry.category, Pattern: p.Name, Source: SourcePattern}, true
			}
		}
	}
	return Classification{}, false
}

// Classify returns the category for a request. It never fails: model
// errors, timeouts and unknown labels resolve to simple_query.
func (c *Classifier) Classify(ctx context.Context, text string, knowledge types.Knowledge) Classification {
	if result, ok := c.MatchPattern(text); ok {
		return result
	}

	fallback := Classification{Category: types.CategorySimpleQuery, Source: SourceFallback}

	if c.model == nil {
		c.logger.Debug("no pattern matched and no classifier backend configured")
		return fallback
	}

	category, err := c.classifyWithModel(ctx, text, knowledge)
	if err != nil {
		c.logger.Warn("classifier fallback to simple_query", zap.Error(err))
		return fallback
	}
	return Classification{Category: category, Source: SourceModel}
}

func (c *Classifier) classifyWithModel(ctx context.Context, text string, knowledge types.Knowledge) (types.Category, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := c.model.Complete(ctx, buildClassificationPrompt(text, knowledge))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("classification timed out after %s: %w", c.timeout, err)
		}
		return "", fmt.Errorf("classification call failed: %w", err)
	}

	label := firstLine(reply)
	category, ok := types.ParseCategory(label)
	if !ok {
		return "", fmt.Errorf("classifier returned unknown label %q", label)
	}
	return category, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(strings.ToLower(s))
}

func buildClassificationPrompt(text string, knowledge types.Knowledge) string {
	recent := "none"
	if len(knowledge.RecentPatterns) > 0 {
		recent = strings.Join(knowledge.RecentPatterns, ", ")
	}

	labels := make([]string, 0, len(types.AllCategories()))
	for _, cat := range types.AllCategories() {
		labels = append(labels, string(cat))
	}

	return fmt.Sprintf(`Classify the following user request into exactly one category.

Request: %q
User expertise: %s
Recent request categories: %s

Categories: %s

Reply with the category name only, on the first line.`,
		text, knowledge.ExpertiseLevel, recent, strings.Join(labels, ", "))
}
