package cli

import (
	"errors"
	"fmt"

	"github.com/cammy/sanctuary/internal/ledger"
	"github.com/cammy/sanctuary/pkg/types"
	"github.com/spf13/cobra"
)

var (
	learnSuccess  bool
	learnFailure  bool
	learnDuration float64
)

var learnCmd = &cobra.Command{
	Use:   "learn <decision-id>",
	Short: "Report the outcome of a recorded decision",
	Long: `Feeds a task outcome back into the pattern statistics and the session's
success history. Future decisions for similar requests use the updated
success rate and duration average. Each decision accepts one outcome.`,
	Args: cobra.ExactArgs(1),
	RunE: runLearn,
}

func init() {
	learnCmd.Flags().BoolVar(&learnSuccess, "success", false, "The task succeeded")
	learnCmd.Flags().BoolVar(&learnFailure, "failure", false, "The task failed")
	learnCmd.Flags().Float64VarP(&learnDuration, "duration", "t", 0, "Actual time taken in minutes")
	learnCmd.MarkFlagsMutuallyExclusive("success", "failure")
	learnCmd.MarkFlagsOneRequired("success", "failure")
}

func runLearn(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	outcome := types.Outcome{Success: learnSuccess, Duration: learnDuration}
	learned, err := a.sessions.Learn(cmd.Context(), args[0], outcome)
	if errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("decision %s not found", args[0])
	}
	if errors.Is(err, ledger.ErrAlreadyLearned) {
		return fmt.Errorf("decision %s already has an outcome", args[0])
	}
	if err != nil {
		return err
	}

	status := "success"
	if !outcome.Success {
		status = "failure"
	}

	p := learned.Pattern
	fmt.Printf("✓ Recorded %s for %s\n", status, learned.DecisionID)
	fmt.Println("───────────────────────────────────────")
	fmt.Printf("Pattern:       %s\n", learned.PatternKey)
	fmt.Printf("Seen:          %d times, %d outcomes\n", p.Count, p.Outcomes)
	fmt.Printf("Success rate:  %.2f\n", p.SuccessRate)
	fmt.Printf("Avg duration:  %.1f minutes\n", p.AvgDuration)
	fmt.Printf("Session rate:  %.2f (%s)\n", learned.SessionSuccessRate, learned.Category)

	return nil
}
