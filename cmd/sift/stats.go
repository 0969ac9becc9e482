package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/siftlabs/sift/internal/corpus"
)

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <corpus.jsonl>",
		Short: "Show corpus label distribution",
		Long: `Print the label distribution of a corpus. Records carrying ranked
multi-label results contribute every ranked label.`,
		Args: cobra.ExactArgs(1),
		RunE: runStats,
	}

	cmd.Flags().Float64("min-confidence", 0, "drop records below this labeling confidence")

	_ = viper.BindPFlag("stats.min_confidence", cmd.Flags().Lookup("min-confidence"))

	return cmd
}

func runStats(_ *cobra.Command, args []string) error {
	records, err := corpus.Load(args[0], viper.GetFloat64("stats.min_confidence"))
	if err != nil {
		return err
	}

	dist := corpus.Distribution(records)
	labels := make([]string, 0, len(dist))
	total := 0
	for label, count := range dist {
		labels = append(labels, label)
		total += count
	}
	sort.Slice(labels, func(i, j int) bool {
		if dist[labels[i]] != dist[labels[j]] {
			return dist[labels[i]] > dist[labels[j]]
		}
		return labels[i] < labels[j]
	})

	fmt.Printf("%d records, %d labels\n", len(records), len(labels))
	for _, label := range labels {
		fmt.Printf("  %-12s: %4d (%.1f%%)\n", label, dist[label], 100*float64(dist[label])/float64(total))
	}
	return nil
}
