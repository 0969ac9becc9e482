// Package audit finds label-quality problems: it replays a trained
// classifier over the full corpus, collects disagreements with the stored
// labels, assigns verdicts, and applies them back to the corpus.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/siftlabs/sift/internal/classify"
	"github.com/siftlabs/sift/internal/model"
)

// topAlternatives is how many ranked labels a disagreement records.
const topAlternatives = 3

// PairCount is one (stored, predicted) disagreement pattern and how often it
// occurred.
type PairCount struct {
	Stored    string
	Predicted string
	Count     int
}

// Summary describes one detection run over the corpus.
type Summary struct {
	Total         int
	Agreements    int
	Disagreements int
	Filtered      int // disagreements dropped by the confidence floor
	Pairs         []PairCount
}

// AgreementRate returns the fraction of records where the classifier agreed
// with the stored label.
func (s Summary) AgreementRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Agreements) / float64(s.Total)
}

// Detect runs the classifier over every record and returns the disagreements
// sorted by model confidence, most confident first. Records the model agrees
// with are never reported.
//
// inputs optionally carries the model inputs parallel to records, for
// variants whose training inputs are enriched beyond the raw message; nil
// means the raw record text. When the classifier exposes probabilities, each
// entry carries the model's confidence and its top-ranked alternatives;
// otherwise confidence is null, sorts last, and always passes the
// minConfidence floor.
func Detect(ctx context.Context, clf classify.Classifier, records []model.Record, inputs []string, minConfidence float64) ([]model.AuditEntry, Summary, error) {
	summary := Summary{Total: len(records)}
	if len(records) == 0 {
		return nil, summary, nil
	}
	if inputs != nil && len(inputs) != len(records) {
		return nil, summary, fmt.Errorf("got %d inputs for %d records", len(inputs), len(records))
	}

	texts := inputs
	if texts == nil {
		texts = make([]string, len(records))
		for i := range records {
			texts[i] = records[i].Text
		}
	}

	preds, probas, classes, err := predict(ctx, clf, texts)
	if err != nil {
		return nil, summary, err
	}

	pairCounts := make(map[[2]string]int)
	var entries []model.AuditEntry
	for i := range records {
		stored := records[i].PrimaryLabel()
		if preds[i] == stored {
			summary.Agreements++
			continue
		}
		summary.Disagreements++
		pairCounts[[2]string{stored, preds[i]}]++

		entry := model.AuditEntry{
			ID:          records[i].ID,
			Text:        records[i].Text,
			StoredLabel: stored,
			Predicted:   preds[i],
		}
		if probas != nil {
			ranked := rankRow(probas[i], classes)
			confidence := ranked[0].Confidence
			entry.Confidence = &confidence
			entry.Alternatives = ranked.TopN(topAlternatives)
		}

		if entry.Confidence != nil && *entry.Confidence < minConfidence {
			summary.Filtered++
			continue
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ConfidenceOrZero() > entries[j].ConfidenceOrZero()
	})

	for pair, count := range pairCounts {
		summary.Pairs = append(summary.Pairs, PairCount{Stored: pair[0], Predicted: pair[1], Count: count})
	}
	sort.Slice(summary.Pairs, func(i, j int) bool {
		if summary.Pairs[i].Count != summary.Pairs[j].Count {
			return summary.Pairs[i].Count > summary.Pairs[j].Count
		}
		if summary.Pairs[i].Stored != summary.Pairs[j].Stored {
			return summary.Pairs[i].Stored < summary.Pairs[j].Stored
		}
		return summary.Pairs[i].Predicted < summary.Pairs[j].Predicted
	})

	slog.Info("Audit detection complete",
		"total", summary.Total,
		"disagreements", summary.Disagreements,
		"reported", len(entries),
		"agreement_rate", fmt.Sprintf("%.1f%%", summary.AgreementRate()*100))

	return entries, summary, nil
}

// predict runs the classifier once, preferring the probabilistic path.
func predict(ctx context.Context, clf classify.Classifier, texts []string) (preds []string, probas [][]float64, classes []string, err error) {
	prob, ok := clf.(classify.ProbabilisticClassifier)
	if !ok {
		preds, err = clf.Predict(ctx, texts)
		return preds, nil, nil, err
	}

	probas, err = prob.PredictProba(ctx, texts)
	if err != nil {
		return nil, nil, nil, err
	}
	classes = prob.Classes()

	preds = make([]string, len(texts))
	for i, row := range probas {
		best := 0
		for j, p := range row {
			if p > row[best] {
				best = j
			}
		}
		preds[i] = classes[best]
	}
	return preds, probas, classes, nil
}

// rankRow turns one probability row into ranked label scores.
func rankRow(row []float64, classes []string) model.LabelScores {
	ranked := make(model.LabelScores, len(classes))
	for j, class := range classes {
		ranked[j] = model.LabelScore{Label: class, Confidence: row[j]}
	}
	ranked.Sort()
	return ranked
}
