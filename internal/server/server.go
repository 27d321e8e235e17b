// Package server exposes the conductor as MCP tools over stdio.
package server

import (
	"github.com/cammy/sanctuary/internal/conductor"
	"github.com/cammy/sanctuary/internal/ledger"
	"github.com/cammy/sanctuary/internal/session"
	"github.com/mark3labs/mcp-go/server"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates the MCP server with every tool registered. The caller owns
// the conductor and ledger and closes them after serving.
func New(sessions *session.Manager, c *conductor.Conductor, l *ledger.Ledger) *server.MCPServer {
	s := server.NewMCPServer(
		"sanctuary",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	analyzeTool := NewAnalyzeTool(sessions)
	s.AddTool(analyzeTool.Definition(), analyzeTool.Handle)

	learnTool := NewLearnTool(sessions)
	s.AddTool(learnTool.Definition(), learnTool.Handle)

	statsTool := NewStatsTool(c, l)
	s.AddTool(statsTool.Definition(), statsTool.Handle)

	return s
}

const instructions = `Sanctuary routes requests to specialist workers.

Call analyze_request before starting a task to get its category, complexity,
suggested workers and a time estimate. When the task is done, call
learn_from_outcome with the returned decision_id so later estimates for
similar work improve. pattern_stats shows what has been learned so far.`
