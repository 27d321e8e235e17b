package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/cammy/sanctuary/internal/session"
	"github.com/cammy/sanctuary/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	analyzeSession   string
	analyzeContext   string
	analyzeExpertise string
	analyzeJSON      bool
	analyzeDryRun    bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [request]",
	Short: "Analyze a request and assign workers",
	Long: `Classifies the request, scores its complexity, estimates confidence and
duration, and selects the workers that should handle it.

The decision is recorded in the ledger; pass its ID to 'sanctuary learn'
once the work is done.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeSession, "session", "s", session.DefaultSession, "Session whose history informs the analysis")
	analyzeCmd.Flags().StringVarP(&analyzeContext, "context", "c", "", "YAML file with user knowledge overrides")
	analyzeCmd.Flags().StringVarP(&analyzeExpertise, "expertise", "e", "", "Override the inferred expertise level")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the decision as JSON")
	analyzeCmd.Flags().BoolVarP(&analyzeDryRun, "dry-run", "n", false, "Analyze without recording the decision")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")

	override, err := loadKnowledge(analyzeContext)
	if err != nil {
		return err
	}
	if analyzeExpertise != "" {
		if override == nil {
			override = &types.Knowledge{}
		}
		override.ExpertiseLevel = analyzeExpertise
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.sessions.Analyze(cmd.Context(), analyzeSession, text, override, analyzeDryRun)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	if analyzeJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	d := res.Decision
	fmt.Println("Sanctuary Decision")
	fmt.Println("═══════════════════════════════════════")
	fmt.Printf("Request:    %s\n", text)
	fmt.Printf("Session:    %s\n", res.Session)
	fmt.Println("───────────────────────────────────────")
	fmt.Printf("Category:   %s\n", d.Category)
	fmt.Printf("Complexity: %d/10\n", d.Complexity)
	fmt.Printf("Confidence: %s\n", d.Confidence)
	fmt.Printf("Workers:    %s\n", joinWorkers(d.SelectedWorkers))
	if len(d.Fallbacks) > 0 {
		fmt.Printf("Fallbacks:  %s\n", joinWorkers(d.Fallbacks))
	}
	fmt.Printf("Estimate:   %d minutes (%v)\n", d.EstimatedDuration, d.Resources["confidence_interval"])
	fmt.Println("───────────────────────────────────────")
	fmt.Println("Resources:")
	keys := make([]string, 0, len(d.Resources))
	for k := range d.Resources {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-24s %v\n", k, d.Resources[k])
	}
	fmt.Println("───────────────────────────────────────")
	fmt.Printf("Reasoning:  %s\n", d.Reasoning)

	if analyzeDryRun {
		fmt.Println("[DRY RUN] Decision not recorded")
	} else {
		fmt.Printf("Decision:   %s\n", res.ID)
	}

	return nil
}

// loadKnowledge reads knowledge overrides from a YAML file; an empty path
// means none
func loadKnowledge(path string) (*types.Knowledge, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read context file: %w", err)
	}
	var k types.Knowledge
	if err := yaml.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("failed to parse context file: %w", err)
	}
	for _, w := range k.PreferredWorkers {
		if !types.IsKnownWorker(w) {
			return nil, fmt.Errorf("context file: unknown worker %q", w)
		}
	}
	return &k, nil
}

func joinWorkers(workers []types.Worker) string {
	names := make([]string, len(workers))
	for i, w := range workers {
		names[i] = string(w)
	}
	return strings.Join(names, ", ")
}
