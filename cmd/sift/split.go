package main

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/siftlabs/sift/internal/corpus"
)

func splitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "split",
		Short: "Manage the frozen test split",
		Long: `Manage the frozen test split that keeps evaluation scores comparable
across training runs. The split is a stratified sample of record ids, frozen
once and reused until explicitly reset.`,
	}

	cmd.AddCommand(splitFreezeCmd())
	cmd.AddCommand(splitShowCmd())
	cmd.AddCommand(splitResetCmd())
	return cmd
}

func splitFreezeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "freeze <corpus.jsonl>",
		Short: "Freeze a new stratified test split",
		Args:  cobra.ExactArgs(1),
		RunE:  runSplitFreeze,
	}

	cmd.Flags().Float64("fraction", 0.2, "fraction held out per label")
	cmd.Flags().Int64("seed", corpus.DefaultSeed, "sampling seed")
	cmd.Flags().Bool("reset", false, "replace an existing split")

	_ = viper.BindPFlag("split.fraction", cmd.Flags().Lookup("fraction"))
	_ = viper.BindPFlag("split.seed", cmd.Flags().Lookup("seed"))
	_ = viper.BindPFlag("split.reset", cmd.Flags().Lookup("reset"))

	return cmd
}

func runSplitFreeze(_ *cobra.Command, args []string) error {
	corpusPath := args[0]
	path := splitPath(corpusPath)

	if corpus.SplitExists(path) {
		if !viper.GetBool("split.reset") {
			return fmt.Errorf("split already frozen at %s (use --reset to replace it)", path)
		}
		if err := corpus.ResetSplit(path); err != nil {
			return err
		}
	}

	records, err := corpus.Load(corpusPath, 0)
	if err != nil {
		return err
	}

	ids, err := corpus.FreezeSplit(records,
		viper.GetFloat64("split.fraction"),
		viper.GetInt64("split.seed"),
		path)
	if err != nil {
		return err
	}
	fmt.Printf("Froze %d of %d records at %s\n", len(ids), len(records), path)
	return nil
}

func splitShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <corpus.jsonl>",
		Short: "Show the frozen split",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := splitPath(args[0])
			ids, err := corpus.LoadSplit(path)
			if err != nil {
				return err
			}

			sorted := make([]string, 0, len(ids))
			for id := range ids {
				sorted = append(sorted, id)
			}
			sort.Strings(sorted)

			fmt.Printf("Frozen split at %s: %d ids\n", path, len(sorted))
			for _, id := range sorted {
				fmt.Println(id)
			}
			return nil
		},
	}
}

func splitResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <corpus.jsonl>",
		Short: "Discard the frozen split",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := splitPath(args[0])
			if err := corpus.ResetSplit(path); err != nil {
				return err
			}
			slog.Info("Frozen split discarded", "path", path)
			return nil
		},
	}
}
