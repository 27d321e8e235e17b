package cli

import (
	"fmt"

	sanctuaryserver "github.com/cammy/sanctuary/internal/server"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run as an MCP tool server over stdio",
	Long: `Starts an MCP server on stdin/stdout exposing analyze_request,
learn_from_outcome and pattern_stats. Logs go to stderr.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	s := sanctuaryserver.New(a.sessions, a.conductor, a.ledger)
	logger.Info("serving MCP over stdio", zap.String("ledger", a.ledger.Path()))

	if err := server.ServeStdio(s); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
