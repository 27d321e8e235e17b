package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/cammy/sanctuary/internal/config"
	"github.com/cammy/sanctuary/internal/logging"
	"github.com/cammy/sanctuary/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

var (
	dataDir   string
	verbose   bool
	logFormat string

	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "sanctuary",
	Short: "Sanctuary - request classifier and worker router",
	Long: `Sanctuary classifies incoming requests, scores their complexity, and
assigns them to a team of specialist workers with a time estimate.

Outcomes reported back through 'sanctuary learn' refine the confidence and
duration estimates for similar requests.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Sanctuary %s\n", version)
	},
}

// SetVersion sets the version string (called from main)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
	server.Version = v
}

// ExecuteContext runs the root command with ctx available to subcommands
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dataDir, "dir", "d", ".sanctuary", "Data directory holding config.yaml and the ledger")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json (default from config)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(learnCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads configuration and builds the logger before any command runs
func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.LoadOrDefault(configPath())
	if err != nil {
		return err
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	format := cfg.Log.Format
	if logFormat != "" {
		format = logFormat
	}

	logger, err = logging.New(level, format)
	if err != nil {
		return err
	}
	return nil
}

func configPath() string {
	return filepath.Join(dataDir, "config.yaml")
}
