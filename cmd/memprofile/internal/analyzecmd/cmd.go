// Package analyzecmd wires the "analyze" subcommand: print a
// human-readable distribution report over a recorded profile.
package analyzecmd

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/cachetrace/memprofile/analyze"
	"github.com/cachetrace/memprofile/profile"
)

var topNFlag int

// New builds the "analyze" cobra.Command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "analyze <profile>",
		Short:        "Report command mix and key/value size distributions for a profile.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0])
		},
	}

	cmd.Flags().IntVar(&topNFlag, "top", 10, "number of size buckets to print per distribution")

	return cmd
}

func run(path string) error {
	result, err := analyze.AnalyzeFile(path)
	if err != nil {
		return errors.Wrap(err, "analyze")
	}

	fmt.Printf("total events: %d\n\n", result.TotalEvents)

	fmt.Println("command distribution:")
	for _, cmd := range profile.AllCommandTypes() {
		count := result.CommandDistribution[cmd]
		if count == 0 {
			continue
		}
		pct := 100 * float64(count) / float64(result.TotalEvents)
		fmt.Printf("  %-8s %10d  (%5.1f%%)\n", cmd.String(), count, pct)
	}

	fmt.Println()
	printSizeDist("key size distribution (smallest sizes first)", result.KeySizeDistribution, topNFlag)
	fmt.Println()
	printSizeDist("value size distribution (smallest sizes first)", result.ValueSizeDistribution, topNFlag)

	return nil
}

func printSizeDist(title string, dist []analyze.SizeCount, top int) {
	fmt.Println(title + ":")
	if len(dist) == 0 {
		fmt.Println("  (none)")
		return
	}
	n := top
	if n > len(dist) || n <= 0 {
		n = len(dist)
	}
	for _, sc := range dist[:n] {
		fmt.Printf("  %8d bytes  %10d events\n", sc.Size, sc.Count)
	}
	if n < len(dist) {
		fmt.Printf("  ... %d more size buckets\n", len(dist)-n)
	}
}
