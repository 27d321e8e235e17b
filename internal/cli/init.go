package cli

import (
	"fmt"
	"os"

	"github.com/cammy/sanctuary/internal/config"
	"github.com/cammy/sanctuary/internal/ledger"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize Sanctuary in the current directory",
	Long:  `Creates the data directory with the decision ledger and default configuration.`,
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	// Check if already initialized
	if _, err := os.Stat(dataDir); err == nil {
		return fmt.Errorf("Sanctuary already initialized in %s", dataDir)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dataDir, err)
	}

	configFile := configPath()
	if err := config.WriteDefault(configFile); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	// Reload so env-provided keys and the written defaults agree
	loaded, err := config.Load(configFile)
	if err != nil {
		return err
	}
	cfg = loaded

	ledgerPath := cfg.LedgerPath(dataDir)
	db, err := ledger.Init(ledgerPath)
	if err != nil {
		return fmt.Errorf("failed to initialize ledger: %w", err)
	}
	defer db.Close()

	fmt.Println("✓ Sanctuary initialized successfully!")
	fmt.Printf("  Ledger: %s\n", ledgerPath)
	fmt.Printf("  Config: %s\n", configFile)
	fmt.Println("\nNext steps:")
	fmt.Println("  sanctuary analyze <request>     # Route a request")
	fmt.Println("  sanctuary learn <id> --success  # Report an outcome")
	fmt.Println("  sanctuary status                # View learned patterns")
	fmt.Println("  sanctuary serve                 # Run as an MCP tool server")

	return nil
}
