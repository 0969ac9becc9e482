package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/siftlabs/sift/internal/audit"
	"github.com/siftlabs/sift/internal/corpus"
)

func applyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <audit.jsonl> <corpus.jsonl>",
		Short: "Apply audit verdicts to the corpus",
		Long: `Patch the labeled corpus with the verdicts recorded in an audit log:
relabel rewrites the label to the model's prediction, skip drops the record,
keep and unreviewed entries leave it untouched.

With --dry-run nothing is written; the summary shows what would change.

Examples:
  sift apply data/audit.jsonl data/labeled.jsonl --dry-run
  sift apply data/audit.jsonl data/labeled.jsonl --reset-split`,
		Args: cobra.ExactArgs(2),
		RunE: runApply,
	}

	cmd.Flags().Bool("dry-run", false, "show changes without writing")
	cmd.Flags().StringP("output", "o", "", "output path (default: overwrite the corpus)")
	cmd.Flags().Bool("reset-split", false, "discard the frozen split so the next train re-freezes it")

	_ = viper.BindPFlag("apply.dry_run", cmd.Flags().Lookup("dry-run"))
	_ = viper.BindPFlag("apply.output", cmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("apply.reset_split", cmd.Flags().Lookup("reset-split"))

	return cmd
}

func runApply(_ *cobra.Command, args []string) error {
	logPath, corpusPath := args[0], args[1]
	dryRun := viper.GetBool("apply.dry_run")

	entries, err := audit.ReadLog(logPath)
	if err != nil {
		return err
	}

	records, err := corpus.Load(corpusPath, 0)
	if err != nil {
		return err
	}

	patched, result := audit.Apply(records, entries)

	for _, change := range result.Changes {
		fmt.Printf("  RELABEL %s: %s -> %s  %q\n",
			shortID(change.ID), change.OldLabel, change.NewLabel, truncate(change.Text, 60))
	}

	fmt.Println("\nSummary:")
	fmt.Printf("  Relabeled: %d\n", result.Relabeled)
	fmt.Printf("  Skipped:   %d\n", result.Skipped)
	fmt.Printf("  Kept:      %d\n", result.Kept)
	if result.Unreviewed > 0 {
		fmt.Printf("  Unreviewed verdicts ignored: %d\n", result.Unreviewed)
	}
	fmt.Printf("  Output:    %d records\n", len(patched))

	if dryRun {
		fmt.Println("\n(dry run - no files modified)")
		return nil
	}

	output := viper.GetString("apply.output")
	if output == "" {
		output = corpusPath
	}
	if err := corpus.Save(output, patched); err != nil {
		return err
	}
	slog.Info("Corpus written", "records", len(patched), "path", output)

	if viper.GetBool("apply.reset_split") {
		path := splitPath(corpusPath)
		if err := corpus.ResetSplit(path); err != nil {
			return err
		}
		slog.Info("Frozen split discarded, next train will re-freeze", "path", path)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
