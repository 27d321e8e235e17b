package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cammy/sanctuary/internal/conductor"
	"github.com/cammy/sanctuary/pkg/types"
	"github.com/spf13/cobra"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [request]",
	Short: "Classify a request with patterns only",
	Long: `Shows the category, complexity score and extracted features for a
request using the built-in patterns. No backend is called and nothing is
recorded.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

func runClassify(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")

	c := conductor.NewConductor(conductor.Options{Logger: logger})
	defer c.Close()

	result, matched, complexity, features := c.Preview(text)

	fmt.Println("Request Classification")
	fmt.Println("═══════════════════════════════════════")
	fmt.Printf("Request:    %s\n", text)
	fmt.Println("───────────────────────────────────────")
	if matched {
		fmt.Printf("Category:   %s\n", result.Category)
		fmt.Printf("Pattern:    %s\n", result.Pattern)
	} else {
		fmt.Printf("Category:   %s (default)\n", types.CategorySimpleQuery)
		fmt.Println("Pattern:    none, a model backend would be consulted")
	}
	fmt.Printf("Complexity: %d/10\n", complexity)
	fmt.Println("───────────────────────────────────────")
	fmt.Println("Features:")

	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-20s %g\n", name, features[name])
	}

	return nil
}
