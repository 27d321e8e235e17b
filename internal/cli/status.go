package cli

import (
	"fmt"
	"sort"

	"github.com/cammy/sanctuary/pkg/types"
	"github.com/spf13/cobra"
)

var (
	statusSession string
	statusTop     int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ledger statistics and learned patterns",
	Long:  `Displays decision and outcome totals, the most common patterns, and optionally what is known about a session.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusSession, "session", "s", "", "Also show the knowledge derived for this session")
	statusCmd.Flags().IntVar(&statusTop, "top", 10, "Number of patterns to list")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.ledger.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Println("Sanctuary Status")
	fmt.Println("═══════════════════════════════════════")
	fmt.Printf("Decisions:  %d across %d session(s)\n", stats.TotalDecisions, stats.Sessions)
	fmt.Printf("Outcomes:   %d (%d succeeded, %.0f%%)\n", stats.TotalOutcomes, stats.Successes, stats.SuccessRate*100)
	fmt.Printf("Complexity: %.1f average\n", stats.AvgComplexity)
	fmt.Println("───────────────────────────────────────")
	fmt.Println("By category:")
	for _, c := range types.AllCategories() {
		if n := stats.ByCategory[c]; n > 0 {
			fmt.Printf("  %-20s %d\n", c, n)
		}
	}

	patterns := a.conductor.Patterns()
	keys := make([]string, 0, len(patterns))
	for k := range patterns {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if patterns[keys[i]].Count != patterns[keys[j]].Count {
			return patterns[keys[i]].Count > patterns[keys[j]].Count
		}
		return keys[i] < keys[j]
	})
	if len(keys) > statusTop {
		keys = keys[:statusTop]
	}

	fmt.Println("───────────────────────────────────────")
	fmt.Printf("Patterns (%d learned):\n", len(patterns))
	for _, k := range keys {
		p := patterns[k]
		fmt.Printf("  %-22s seen %-4d success %.2f  avg %.1fm\n", k, p.Count, p.SuccessRate, p.AvgDuration)
	}

	if statusSession != "" {
		k, err := a.sessions.Knowledge(ctx, statusSession)
		if err != nil {
			return err
		}
		fmt.Println("───────────────────────────────────────")
		fmt.Printf("Session %s:\n", statusSession)
		fmt.Printf("  Expertise: %s\n", k.ExpertiseLevel)
		if k.CurrentFocus != nil {
			fmt.Printf("  Focus:     %s\n", *k.CurrentFocus)
		}
		fmt.Printf("  Recent:    %v\n", k.RecentPatterns)
		cats := make([]string, 0, len(k.SuccessHistory))
		for c := range k.SuccessHistory {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		for _, c := range cats {
			fmt.Printf("  %-20s %.2f\n", c, k.SuccessHistory[c])
		}
	}
	fmt.Println("═══════════════════════════════════════")

	return nil
}
