package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configShowKeys bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View Sanctuary configuration",
	Long:  `Shows the effective configuration after defaults and environment overrides. API keys are masked.`,
	RunE:  runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configShowKeys, "show-keys", false, "Print API keys unmasked")
}

func runConfig(cmd *cobra.Command, args []string) error {
	shown := *cfg
	if !configShowKeys {
		shown.Backends.Gemini.APIKey = mask(shown.Backends.Gemini.APIKey)
		shown.Backends.Claude.APIKey = mask(shown.Backends.Claude.APIKey)
		shown.Backends.OpenAI.APIKey = mask(shown.Backends.OpenAI.APIKey)
	}

	out, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	fmt.Printf("Configuration (%s):\n", configPath())
	fmt.Printf("Ledger: %s\n", cfg.LedgerPath(dataDir))
	fmt.Println("─────────────────────────────────────")
	fmt.Println(string(out))

	return nil
}

// mask hides all but the last four characters of a secret
func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
