// Package corpus loads and persists the line-delimited labeled corpus and
// manages the frozen train/test split.
package corpus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/siftlabs/sift/internal/model"
)

// Load reads labeled records from a JSONL file. Records whose labeling
// confidence falls below minConfidence are dropped.
func Load(path string, minConfidence float64) ([]model.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Error("Failed to close corpus file", "error", closeErr)
		}
	}()

	var records []model.Record
	skipped := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec model.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("corpus %s line %d: %w", path, lineNo, err)
		}
		if rec.LabelerConfidence() < minConfidence {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}

	if skipped > 0 {
		slog.Info("Skipped low-confidence records",
			"skipped", skipped,
			"min_confidence", minConfidence)
	}

	return records, nil
}

// Save writes records to a JSONL file, one object per line.
func Save(path string, records []model.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create corpus: %w", err)
	}

	w := bufio.NewWriter(f)
	for i := range records {
		line, err := json.Marshal(&records[i])
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to encode record %s: %w", records[i].ID, err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write corpus: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to flush corpus: %w", err)
	}
	return f.Close()
}

// FilterRareLabels drops records whose label has fewer than minCount samples.
// It returns the surviving records and the sorted list of dropped labels.
func FilterRareLabels(records []model.Record, minCount int) ([]model.Record, []string) {
	if minCount <= 1 {
		return records, nil
	}

	counts := make(map[string]int)
	for i := range records {
		counts[records[i].PrimaryLabel()]++
	}

	var dropped []string
	for label, n := range counts {
		if n < minCount {
			dropped = append(dropped, label)
		}
	}
	if len(dropped) == 0 {
		return records, nil
	}
	sort.Strings(dropped)

	rare := make(map[string]bool, len(dropped))
	for _, label := range dropped {
		rare[label] = true
	}

	kept := make([]model.Record, 0, len(records))
	for i := range records {
		if !rare[records[i].PrimaryLabel()] {
			kept = append(kept, records[i])
		}
	}
	return kept, dropped
}

// Distribution counts label occurrences. Records carrying ranked multi-label
// results contribute every ranked label; single-label records contribute one.
func Distribution(records []model.Record) map[string]int {
	dist := make(map[string]int)
	for i := range records {
		if len(records[i].Labels) > 0 {
			for _, ls := range records[i].Labels {
				dist[ls.Label]++
			}
			continue
		}
		if records[i].Label != "" {
			dist[records[i].Label]++
		}
	}
	return dist
}

// Texts extracts the message strings from records, parallel to Labels.
func Texts(records []model.Record) []string {
	out := make([]string, len(records))
	for i := range records {
		out[i] = records[i].Text
	}
	return out
}

// Labels extracts the primary label tags from records, parallel to Texts.
func Labels(records []model.Record) []string {
	out := make([]string, len(records))
	for i := range records {
		out[i] = records[i].PrimaryLabel()
	}
	return out
}
