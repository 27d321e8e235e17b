package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cammy/sanctuary/internal/conductor"
	"github.com/cammy/sanctuary/internal/ledger"
	"github.com/cammy/sanctuary/internal/session"
	"github.com/cammy/sanctuary/pkg/types"
	"github.com/mark3labs/mcp-go/mcp"
)

// ─── AnalyzeTool ─────────────────────────────────────────────────────────────

// AnalyzeTool handles the analyze_request MCP tool.
type AnalyzeTool struct {
	sessions *session.Manager
}

// NewAnalyzeTool creates an AnalyzeTool backed by the session manager.
func NewAnalyzeTool(sessions *session.Manager) *AnalyzeTool {
	return &AnalyzeTool{sessions: sessions}
}

// Definition returns the MCP tool definition for analyze_request.
func (t *AnalyzeTool) Definition() mcp.Tool {
	return mcp.NewTool("analyze_request",
		mcp.WithDescription(
			"Classify a request, score its complexity, and pick the workers that should handle it. "+
				"Returns a decision with a decision_id to pass to learn_from_outcome.",
		),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("The request text to analyze"),
		),
		mcp.WithString("session",
			mcp.Description("Session name; history and success rates are tracked per session (default: \"default\")"),
		),
		mcp.WithString("expertise_level",
			mcp.Description("Override the inferred expertise: beginner, intermediate, advanced or expert"),
		),
		mcp.WithBoolean("dry_run",
			mcp.Description("If true, the decision is neither recorded nor counted"),
		),
	)
}

// Handle processes the analyze_request tool call.
func (t *AnalyzeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := strings.TrimSpace(req.GetString("text", ""))
	if text == "" {
		return mcp.NewToolResultError("'text' is required"), nil
	}

	var override *types.Knowledge
	if level := req.GetString("expertise_level", ""); level != "" {
		if !validExpertise(level) {
			return mcp.NewToolResultError(fmt.Sprintf("unknown expertise_level %q", level)), nil
		}
		override = &types.Knowledge{ExpertiseLevel: level}
	}

	res, err := t.sessions.Analyze(ctx, req.GetString("session", ""), text, override, req.GetBool("dry_run", false))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to analyze request: %v", err)), nil
	}

	return jsonResult(res)
}

// ─── LearnTool ───────────────────────────────────────────────────────────────

// LearnTool handles the learn_from_outcome MCP tool.
type LearnTool struct {
	sessions *session.Manager
}

// NewLearnTool creates a LearnTool backed by the session manager.
func NewLearnTool(sessions *session.Manager) *LearnTool {
	return &LearnTool{sessions: sessions}
}

// Definition returns the MCP tool definition for learn_from_outcome.
func (t *LearnTool) Definition() mcp.Tool {
	return mcp.NewTool("learn_from_outcome",
		mcp.WithDescription(
			"Report how a recorded decision turned out so future estimates improve.",
		),
		mcp.WithString("decision_id",
			mcp.Required(),
			mcp.Description("ID returned by analyze_request"),
		),
		mcp.WithBoolean("success",
			mcp.Required(),
			mcp.Description("Whether the task succeeded"),
		),
		mcp.WithNumber("duration",
			mcp.Description("Actual time taken in minutes"),
		),
	)
}

// Handle processes the learn_from_outcome tool call.
func (t *LearnTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("decision_id", ""))
	if id == "" {
		return mcp.NewToolResultError("'decision_id' is required"), nil
	}
	success, ok := req.GetArguments()["success"].(bool)
	if !ok {
		return mcp.NewToolResultError("'success' is required"), nil
	}

	outcome := types.Outcome{Success: success, Duration: req.GetFloat("duration", 0)}
	learned, err := t.sessions.Learn(ctx, id, outcome)
	if errors.Is(err, ledger.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("decision %s not found", id)), nil
	}
	if errors.Is(err, ledger.ErrAlreadyLearned) {
		return mcp.NewToolResultError(fmt.Sprintf("decision %s already has an outcome", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to record outcome: %v", err)), nil
	}

	return jsonResult(learned)
}

// ─── StatsTool ───────────────────────────────────────────────────────────────

// StatsTool handles the pattern_stats MCP tool.
type StatsTool struct {
	conductor *conductor.Conductor
	ledger    *ledger.Ledger
}

// NewStatsTool creates a StatsTool.
func NewStatsTool(c *conductor.Conductor, l *ledger.Ledger) *StatsTool {
	return &StatsTool{conductor: c, ledger: l}
}

// Definition returns the MCP tool definition for pattern_stats.
func (t *StatsTool) Definition() mcp.Tool {
	return mcp.NewTool("pattern_stats",
		mcp.WithDescription(
			"Show learned pattern statistics and ledger totals.",
		),
		mcp.WithNumber("min_count",
			mcp.Description("Only list patterns seen at least this many times"),
		),
	)
}

// Handle processes the pattern_stats tool call.
func (t *StatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := t.ledger.GetStats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get stats: %v", err)), nil
	}
	minCount := int(req.GetFloat("min_count", 0))

	var sb strings.Builder
	sb.WriteString("## Sanctuary Statistics\n\n")
	sb.WriteString(fmt.Sprintf("- **Decisions**: %d\n", stats.TotalDecisions))
	sb.WriteString(fmt.Sprintf("- **Outcomes**: %d (%.0f%% success)\n", stats.TotalOutcomes, stats.SuccessRate*100))
	sb.WriteString(fmt.Sprintf("- **Sessions**: %d\n", stats.Sessions))
	sb.WriteString(fmt.Sprintf("- **Average complexity**: %.1f\n", stats.AvgComplexity))

	patterns := t.conductor.Patterns()
	keys := make([]string, 0, len(patterns))
	for k, p := range patterns {
		if p.Count >= minCount {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	if len(keys) == 0 {
		sb.WriteString("\nNo patterns learned yet.\n")
		return mcp.NewToolResultText(sb.String()), nil
	}

	sb.WriteString("\n| Pattern | Seen | Outcomes | Success | Avg minutes |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for _, k := range keys {
		p := patterns[k]
		sb.WriteString(fmt.Sprintf("| %s | %d | %d | %.2f | %.1f |\n", k, p.Count, p.Outcomes, p.SuccessRate, p.AvgDuration))
	}

	return mcp.NewToolResultText(sb.String()), nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func validExpertise(level string) bool {
	switch level {
	case conductor.ExpertiseBeginner, conductor.ExpertiseIntermediate,
		conductor.ExpertiseAdvanced, conductor.ExpertiseExpert:
		return true
	}
	return false
}
