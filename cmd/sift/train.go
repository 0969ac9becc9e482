package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/siftlabs/sift/internal/classify"
	"github.com/siftlabs/sift/internal/classify/embed"
	"github.com/siftlabs/sift/internal/classify/lexical"
	"github.com/siftlabs/sift/internal/common"
	"github.com/siftlabs/sift/internal/corpus"
	"github.com/siftlabs/sift/internal/eval"
	"github.com/siftlabs/sift/internal/model"
)

// sanityMessages are predicted after every training run as a smoke test.
var sanityMessages = []string{
	"Fix null pointer in auth module",
	"Add support for dark mode",
	"Update dependencies",
	"Refactor database connection pool",
	"Add unit tests for parser",
	"Update README with new API docs",
	"Bump version to 2.0.0",
	"Improve query performance with index",
}

func trainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train <corpus.jsonl>",
		Short: "Train a classifier on a labeled corpus",
		Long: `Train a classifier against the frozen test split and report its quality.

The test split is frozen on first use and reused on every later run, so scores
stay comparable while the corpus is relabeled underneath.

Examples:
  sift train data/labeled.jsonl --model tfidf-logreg
  sift train data/labeled.jsonl --model embed-mlp --class-weight balanced
  sift train data/labeled.jsonl --reset-split   # discard and re-freeze the split`,
		Args: cobra.ExactArgs(1),
		RunE: runTrain,
	}

	cmd.Flags().StringP("model", "m", classify.KindLexical, "variant to train")
	cmd.Flags().StringP("output", "o", "", "artifact path (default: classifier.bin next to the corpus)")
	cmd.Flags().Float64("test-fraction", 0.2, "fraction held out per label when freezing the split")
	cmd.Flags().Int64("seed", corpus.DefaultSeed, "split and training seed")
	cmd.Flags().Bool("reset-split", false, "discard the frozen split and freeze a new one")
	cmd.Flags().Float64("min-confidence", 0, "drop records below this labeling confidence")
	cmd.Flags().Int("min-class-count", 5, "drop labels with fewer than N samples")
	cmd.Flags().String("class-weight", "none", "class weighting (none, balanced)")

	_ = viper.BindPFlag("train.model", cmd.Flags().Lookup("model"))
	_ = viper.BindPFlag("train.output", cmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("train.test_fraction", cmd.Flags().Lookup("test-fraction"))
	_ = viper.BindPFlag("train.seed", cmd.Flags().Lookup("seed"))
	_ = viper.BindPFlag("train.reset_split", cmd.Flags().Lookup("reset-split"))
	_ = viper.BindPFlag("train.min_confidence", cmd.Flags().Lookup("min-confidence"))
	_ = viper.BindPFlag("train.min_class_count", cmd.Flags().Lookup("min-class-count"))
	_ = viper.BindPFlag("train.class_weight", cmd.Flags().Lookup("class-weight"))

	return cmd
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	corpusPath := args[0]
	variant := viper.GetString("train.model")

	records, err := corpus.Load(corpusPath, viper.GetFloat64("train.min_confidence"))
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return common.NewUserError("nothing to train on in "+corpusPath, common.ErrEmptyCorpus)
	}
	slog.Info("Loaded labeled corpus", "records", len(records), "path", corpusPath)

	records, dropped := corpus.FilterRareLabels(records, viper.GetInt("train.min_class_count"))
	if len(dropped) > 0 {
		slog.Info("Dropped rare labels", "labels", dropped, "min_count", viper.GetInt("train.min_class_count"))
	}

	trainRecords, testRecords, err := frozenPartition(records, corpusPath)
	if err != nil {
		return err
	}
	printDistribution(records)
	fmt.Printf("\nTrain: %d  Test: %d (frozen)\n", len(trainRecords), len(testRecords))

	reg := buildRegistry()
	clf, err := reg.New(variant, classifierConfig())
	if err != nil {
		return err
	}

	slog.Info("Training", "model", variant, "class_weight", viper.GetString("train.class_weight"))
	if err := clf.Train(ctx, inputsFor(variant, trainRecords), corpus.Labels(trainRecords)); err != nil {
		return fmt.Errorf("training failed: %w", err)
	}

	if err := evaluateOnFrozen(ctx, clf, variant, testRecords); err != nil {
		return err
	}

	if lex, ok := clf.(*lexical.Classifier); ok {
		fmt.Println("\nTop 5 features per class:")
		for _, label := range lex.Classes() {
			features := lex.TopFeatures(label, 5)
			fmt.Printf("  %-12s: ", label)
			for i, feature := range features {
				if i > 0 {
					fmt.Print(", ")
				}
				fmt.Print(feature)
			}
			fmt.Println()
		}
	}

	output := viper.GetString("train.output")
	if output == "" {
		output = filepath.Join(filepath.Dir(corpusPath), "classifier.bin")
	}
	saver, ok := clf.(classify.Saver)
	if !ok {
		return fmt.Errorf("model %s does not support saving", variant)
	}
	if err := saver.Save(output); err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}
	slog.Info("Model saved", "path", output)

	return sanityCheck(ctx, clf, variant)
}

// frozenPartition loads the frozen test split, freezing one first if needed
// or requested, and partitions the corpus against it.
func frozenPartition(records []model.Record, corpusPath string) (trainRecords, testRecords []model.Record, err error) {
	path := splitPath(corpusPath)
	if viper.GetBool("train.reset_split") {
		if err := corpus.ResetSplit(path); err != nil {
			return nil, nil, err
		}
	}

	var testIDs map[string]struct{}
	if corpus.SplitExists(path) {
		testIDs, err = corpus.LoadSplit(path)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Loaded frozen test split", "ids", len(testIDs), "path", path)
	} else {
		testIDs, err = corpus.FreezeSplit(records,
			viper.GetFloat64("train.test_fraction"),
			viper.GetInt64("train.seed"),
			path)
		if err != nil {
			return nil, nil, err
		}
	}

	trainRecords, testRecords = corpus.Partition(records, testIDs)
	return trainRecords, testRecords, nil
}

// inputsFor builds the model inputs: embed-mlp gets the diff-enriched form,
// everything else the raw message.
func inputsFor(variant string, records []model.Record) []string {
	if variant != classify.KindEmbed {
		return corpus.Texts(records)
	}
	out := make([]string, len(records))
	for i := range records {
		out[i] = embed.FormatInput(&records[i])
	}
	return out
}

// evaluateOnFrozen scores the classifier on the frozen test records and
// prints the report.
func evaluateOnFrozen(ctx context.Context, clf classify.Classifier, variant string, testRecords []model.Record) error {
	if len(testRecords) == 0 {
		slog.Warn("Frozen test split is empty, skipping evaluation")
		return nil
	}

	inputs := inputsFor(variant, testRecords)
	yTrue := corpus.Labels(testRecords)

	prob, probabilistic := clf.(classify.ProbabilisticClassifier)
	if !probabilistic {
		preds, err := clf.Predict(ctx, inputs)
		if err != nil {
			return fmt.Errorf("evaluation failed: %w", err)
		}
		eval.WriteReport(os.Stdout, eval.Evaluate(yTrue, preds, nil))
		return nil
	}

	probas, err := prob.PredictProba(ctx, inputs)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}
	classes := prob.Classes()
	preds := make([]string, len(probas))
	for i, row := range probas {
		best := 0
		for j, p := range row {
			if p > row[best] {
				best = j
			}
		}
		preds[i] = classes[best]
	}

	eval.WriteReport(os.Stdout, eval.Evaluate(yTrue, preds, classes))

	fmt.Println("\nTop-k accuracy:")
	for k := 1; k <= 3; k++ {
		acc := eval.TopKAccuracy(yTrue, probas, classes, k)
		fmt.Printf("  Top-%d: %.1f%%\n", k, acc*100)
	}
	return nil
}

func printDistribution(records []model.Record) {
	dist := corpus.Distribution(records)
	labels := make([]string, 0, len(dist))
	for label := range dist {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if dist[labels[i]] != dist[labels[j]] {
			return dist[labels[i]] > dist[labels[j]]
		}
		return labels[i] < labels[j]
	})

	fmt.Printf("\nClass distribution (%d classes, %d samples):\n", len(labels), len(records))
	for _, label := range labels {
		fmt.Printf("  %-12s: %4d\n", label, dist[label])
	}
}

// sanityCheck predicts a handful of unambiguous messages so an obviously
// broken model is caught before anyone audits with it.
func sanityCheck(ctx context.Context, clf classify.Classifier, variant string) error {
	inputs := sanityMessages
	if variant == classify.KindEmbed {
		inputs = make([]string, len(sanityMessages))
		for i, msg := range sanityMessages {
			inputs[i] = embed.FormatInput(&model.Record{Text: msg})
		}
	}

	fmt.Println("\nSanity check predictions:")
	if prob, ok := clf.(classify.ProbabilisticClassifier); ok {
		probas, err := prob.PredictProba(ctx, inputs)
		if err != nil {
			return err
		}
		classes := prob.Classes()
		for i, row := range probas {
			best := 0
			for j, p := range row {
				if p > row[best] {
					best = j
				}
			}
			fmt.Printf("  [%-8s %.2f] %s\n", classes[best], row[best], sanityMessages[i])
		}
		return nil
	}

	preds, err := clf.Predict(ctx, inputs)
	if err != nil {
		return err
	}
	for i, pred := range preds {
		fmt.Printf("  [%-8s] %s\n", pred, sanityMessages[i])
	}
	return nil
}
