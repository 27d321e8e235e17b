package conductor

import (
	"strings"

	"github.com/cammy/sanctuary/pkg/types"
)

// Expertise levels produced by InferExpertise
const (
	ExpertiseBeginner     = "beginner"
	ExpertiseIntermediate = "intermediate"
	ExpertiseAdvanced     = "advanced"
	ExpertiseExpert       = "expert"
)

var (
	focusProjectWords = map[string]bool{"project": true, "app": true, "application": true}
	focusTechnologies = []string{"react", "python", "node", "django", "flask", "api", "database"}
)

// InferExpertise estimates a user's expertise from their recent messages,
// oldest first. Only the last 10 are considered.
func InferExpertise(messages []string) string {
	if len(messages) == 0 {
		return ExpertiseIntermediate
	}

	var technical, code, complexReqs int
	for _, msg := range lastN(messages, 10) {
		lower := strings.ToLower(msg)
		for _, term := range technicalTerms {
			if strings.Contains(lower, term) {
				technical++
			}
		}
		if strings.Contains(msg, "```") || strings.Contains(lower, "function") {
			code++
		}
		if len(strings.Fields(lower)) > 50 || strings.Contains(lower, "complex") || strings.Contains(lower, "advanced") {
			complexReqs++
		}
	}

	score := float64(technical) + float64(code)*2 + float64(complexReqs)*1.5
	switch {
	case score >= 15:
		return ExpertiseExpert
	case score >= 8:
		return ExpertiseAdvanced
	case score >= 3:
		return ExpertiseIntermediate
	default:
		return ExpertiseBeginner
	}
}

// IdentifyFocus returns the most mentioned project or technology over the
// last 5 messages. Ties go to the token seen first.
func IdentifyFocus(messages []string) *string {
	counts := make(map[string]int)
	var order []string
	add := func(topic string) {
		if counts[topic] == 0 {
			order = append(order, topic)
		}
		counts[topic]++
	}

	for _, msg := range lastN(messages, 5) {
		words := strings.Fields(strings.ToLower(msg))
		for i, w := range words {
			if focusProjectWords[w] && i > 0 {
				add(words[i-1])
			}
		}
		lower := strings.ToLower(msg)
		for _, tech := range focusTechnologies {
			if strings.Contains(lower, tech) {
				add(tech)
			}
		}
	}

	if len(order) == 0 {
		return nil
	}
	best := order[0]
	for _, topic := range order[1:] {
		if counts[topic] > counts[best] {
			best = topic
		}
	}
	return &best
}

// HistoryEntry is one past request in a session
type HistoryEntry struct {
	Request  string
	Category types.Category
}

// BuildKnowledge assembles session knowledge from past requests (oldest
// first) and per-category success rates. limit bounds RecentPatterns.
func BuildKnowledge(history []HistoryEntry, successRates map[string]float64, limit int) types.Knowledge {
	messages := make([]string, 0, len(history))
	k := types.Knowledge{
		SuccessHistory: make(map[string]float64, len(successRates)),
		Preferences:    map[string]string{},
	}
	for _, h := range history {
		messages = append(messages, h.Request)
		k.PushPattern(h.Category, limit)
	}
	for cat, rate := range successRates {
		k.SuccessHistory[cat] = rate
	}

	k.ExpertiseLevel = InferExpertise(messages)
	k.CurrentFocus = IdentifyFocus(messages)
	return k
}

func lastN(items []string, n int) []string {
	if len(items) > n {
		return items[len(items)-n:]
	}
	return items
}
