package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/siftlabs/sift/internal/audit"
	"github.com/siftlabs/sift/internal/classify"
	"github.com/siftlabs/sift/internal/corpus"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit <corpus.jsonl>",
		Short: "Find records the model disagrees with",
		Long: `Replay a trained model over the whole corpus and record every sample whose
stored label disagrees with the prediction, ranked by model confidence.

The output is a JSONL audit log; run sift verdict to assign verdicts to it and
sift apply to patch the corpus.

Examples:
  sift audit data/labeled.jsonl --model classifier.bin
  sift audit data/labeled.jsonl --model ensemble-model --min-confidence 0.7`,
		Args: cobra.ExactArgs(1),
		RunE: runAudit,
	}

	cmd.Flags().StringP("model", "m", "", "trained model artifact to audit with (required)")
	cmd.Flags().Float64("min-confidence", 0, "only report disagreements at or above this confidence")
	cmd.Flags().Int("min-class-count", 5, "drop labels with fewer than N samples before auditing")
	cmd.Flags().StringP("output", "o", "", "audit log path (default: audit.jsonl next to the corpus)")
	_ = cmd.MarkFlagRequired("model")

	_ = viper.BindPFlag("audit.model", cmd.Flags().Lookup("model"))
	_ = viper.BindPFlag("audit.min_confidence", cmd.Flags().Lookup("min-confidence"))
	_ = viper.BindPFlag("audit.min_class_count", cmd.Flags().Lookup("min-class-count"))
	_ = viper.BindPFlag("audit.output", cmd.Flags().Lookup("output"))

	return cmd
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	corpusPath := args[0]

	records, err := corpus.Load(corpusPath, 0)
	if err != nil {
		return err
	}
	records, dropped := corpus.FilterRareLabels(records, viper.GetInt("audit.min_class_count"))
	if len(dropped) > 0 {
		slog.Info("Dropped rare labels", "labels", dropped, "min_count", viper.GetInt("audit.min_class_count"))
	}

	modelPath := viper.GetString("audit.model")
	kind, err := classify.DetectKind(modelPath)
	if err != nil {
		return err
	}
	reg := buildRegistry()
	clf, err := reg.Load(modelPath, classifierConfig())
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}

	// Audit inputs must match training inputs for the variant.
	entries, summary, err := audit.Detect(ctx, clf, records, inputsFor(kind, records), viper.GetFloat64("audit.min_confidence"))
	if err != nil {
		return fmt.Errorf("audit failed: %w", err)
	}

	fmt.Printf("Audited %d records: %d agree, %d disagree (%.1f%% agreement)\n",
		summary.Total, summary.Agreements, summary.Disagreements, summary.AgreementRate()*100)
	if summary.Filtered > 0 {
		fmt.Printf("  %d disagreements below the confidence floor were dropped\n", summary.Filtered)
	}
	if len(summary.Pairs) > 0 {
		fmt.Println("\nMost common disagreement patterns:")
		pairs := summary.Pairs
		if len(pairs) > 10 {
			pairs = pairs[:10]
		}
		for _, pair := range pairs {
			fmt.Printf("  %-10s -> %-10s: %d\n", pair.Stored, pair.Predicted, pair.Count)
		}
	}

	output := viper.GetString("audit.output")
	if output == "" {
		output = filepath.Join(filepath.Dir(corpusPath), "audit.jsonl")
	}
	if err := audit.WriteLog(output, entries); err != nil {
		return err
	}
	slog.Info("Audit log written", "entries", len(entries), "path", output)
	return nil
}
