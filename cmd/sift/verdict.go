package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/siftlabs/sift/internal/audit"
	"github.com/siftlabs/sift/internal/model"
)

func verdictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verdict <audit.jsonl>",
		Short: "Assign heuristic verdicts to audit entries",
		Long: `Fill in verdicts for unreviewed audit entries using confidence tiers and
message wording rules. Entries that already carry a verdict are left alone, so
hand-reviewed decisions survive a re-run.

Examples:
  sift verdict data/audit.jsonl
  sift verdict data/audit.jsonl --trust-high-confidence=false`,
		Args: cobra.ExactArgs(1),
		RunE: runVerdict,
	}

	cmd.Flags().Bool("trust-high-confidence", true, "relabel high-confidence disagreements even without a wording match")

	_ = viper.BindPFlag("verdict.trust_high_confidence", cmd.Flags().Lookup("trust-high-confidence"))

	return cmd
}

func runVerdict(_ *cobra.Command, args []string) error {
	logPath := args[0]

	entries, err := audit.ReadLog(logPath)
	if err != nil {
		return err
	}

	h := &audit.Heuristic{
		TrustHighConfidence: viper.GetBool("verdict.trust_high_confidence"),
	}
	counts := h.Assign(entries)

	if err := audit.WriteLog(logPath, entries); err != nil {
		return err
	}

	fmt.Printf("Verdicts in %s:\n", logPath)
	fmt.Printf("  relabel: %d\n", counts[model.VerdictRelabel])
	fmt.Printf("  keep:    %d\n", counts[model.VerdictKeep])
	fmt.Printf("  skip:    %d\n", counts[model.VerdictSkip])
	slog.Info("Verdicts assigned", "entries", len(entries))
	return nil
}
