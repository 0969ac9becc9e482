package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/siftlabs/sift/internal/classify"
	"github.com/siftlabs/sift/internal/classify/ensemble"
	"github.com/siftlabs/sift/internal/common"
	"github.com/siftlabs/sift/internal/corpus"
)

func ensembleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ensemble [corpus.jsonl]",
		Short: "Compose trained models into an ensemble",
		Long: `Compose pre-trained model artifacts into a voting ensemble.

Every sub-model is loaded and validated up front: artifact kinds are detected
from the artifacts themselves, and all label sets must match. When a corpus is
given, the ensemble is evaluated against its frozen test split.

Examples:
  sift ensemble --models lexical.bin embed.bin --strategy soft_vote
  sift ensemble data/labeled.jsonl --models a.bin b.bin --strategy weighted_soft_vote --weights 0.3 0.7`,
		Args: cobra.MaximumNArgs(1),
		RunE: runEnsemble,
	}

	cmd.Flags().StringSlice("models", nil, "paths to trained sub-model artifacts")
	cmd.Flags().String("strategy", ensemble.StrategySoft, "voting strategy (majority_vote, soft_vote, weighted_soft_vote)")
	cmd.Flags().Float64Slice("weights", nil, "sub-model weights for weighted_soft_vote (one per model)")
	cmd.Flags().StringP("output", "o", "ensemble-model", "directory to write the ensemble manifest")

	_ = viper.BindPFlag("ensemble.models", cmd.Flags().Lookup("models"))
	_ = viper.BindPFlag("ensemble.strategy", cmd.Flags().Lookup("strategy"))
	_ = viper.BindPFlag("ensemble.output", cmd.Flags().Lookup("output"))

	return cmd
}

func runEnsemble(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	weights, err := cmd.Flags().GetFloat64Slice("weights")
	if err != nil {
		return err
	}

	cfg := classifierConfig()
	cfg.EnsembleModels = viper.GetStringSlice("ensemble.models")
	cfg.EnsembleStrategy = viper.GetString("ensemble.strategy")
	cfg.EnsembleWeights = weights

	reg := buildRegistry()
	e, err := ensemble.New(reg, cfg)
	if err != nil {
		return err
	}
	if err := e.Train(ctx, nil, nil); err != nil {
		return fmt.Errorf("ensemble composition failed: %w", err)
	}
	slog.Info("Ensemble composed",
		"models", len(cfg.EnsembleModels),
		"strategy", cfg.EnsembleStrategy,
		"classes", e.Classes())

	if len(args) == 1 {
		corpusPath := args[0]
		records, err := corpus.Load(corpusPath, 0)
		if err != nil {
			return err
		}
		path := splitPath(corpusPath)
		if !corpus.SplitExists(path) {
			return common.NewUserError("ensemble evaluation needs a frozen split at "+path+" (run sift train first)", common.ErrNoFrozenSplit)
		}
		testIDs, err := corpus.LoadSplit(path)
		if err != nil {
			return err
		}
		_, testRecords := corpus.Partition(records, testIDs)
		if err := evaluateOnFrozen(ctx, e, classify.KindEnsemble, testRecords); err != nil {
			return err
		}
	}

	output := viper.GetString("ensemble.output")
	if err := e.Save(output); err != nil {
		return fmt.Errorf("failed to save ensemble: %w", err)
	}
	slog.Info("Ensemble manifest saved", "path", filepath.Join(output, "config.json"))
	return nil
}
