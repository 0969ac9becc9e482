// Package eval is the shared evaluation harness for commit classifiers.
package eval

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// ClassMetrics holds per-label precision, recall, F1 and support.
type ClassMetrics struct {
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// Confusion is one (true label, predicted label) disagreement cell.
type Confusion struct {
	True      string
	Predicted string
	Count     int
}

// Metrics is the full evaluation result for one classifier run.
type Metrics struct {
	PerClass   map[string]ClassMetrics
	Labels     []string
	Confusions []Confusion
	Accuracy   float64
	MacroF1    float64
	WeightedF1 float64
	Total      int
}

// Evaluate computes standard classification metrics. labels fixes the class
// ordering of the report; when nil it is inferred from the data, sorted.
func Evaluate(yTrue, yPred []string, labels []string) Metrics {
	if labels == nil {
		seen := make(map[string]bool)
		for _, y := range yTrue {
			seen[y] = true
		}
		for _, y := range yPred {
			seen[y] = true
		}
		for label := range seen {
			labels = append(labels, label)
		}
		sort.Strings(labels)
	}

	truePos := make(map[string]int)
	falsePos := make(map[string]int)
	falseNeg := make(map[string]int)
	support := make(map[string]int)
	cells := make(map[[2]string]int)

	correct := 0
	for i := range yTrue {
		support[yTrue[i]]++
		if yTrue[i] == yPred[i] {
			correct++
			truePos[yTrue[i]]++
		} else {
			falseNeg[yTrue[i]]++
			falsePos[yPred[i]]++
			cells[[2]string{yTrue[i], yPred[i]}]++
		}
	}

	m := Metrics{
		PerClass: make(map[string]ClassMetrics, len(labels)),
		Labels:   labels,
		Total:    len(yTrue),
	}
	if m.Total > 0 {
		m.Accuracy = float64(correct) / float64(m.Total)
	}

	for _, label := range labels {
		tp := float64(truePos[label])
		var precision, recall, f1 float64
		if tp+float64(falsePos[label]) > 0 {
			precision = tp / (tp + float64(falsePos[label]))
		}
		if tp+float64(falseNeg[label]) > 0 {
			recall = tp / (tp + float64(falseNeg[label]))
		}
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}
		m.PerClass[label] = ClassMetrics{
			Precision: precision,
			Recall:    recall,
			F1:        f1,
			Support:   support[label],
		}

		m.MacroF1 += f1
		m.WeightedF1 += f1 * float64(support[label])
	}
	if len(labels) > 0 {
		m.MacroF1 /= float64(len(labels))
	}
	if m.Total > 0 {
		m.WeightedF1 /= float64(m.Total)
	}

	for cell, count := range cells {
		m.Confusions = append(m.Confusions, Confusion{True: cell[0], Predicted: cell[1], Count: count})
	}
	sort.Slice(m.Confusions, func(i, j int) bool {
		if m.Confusions[i].Count != m.Confusions[j].Count {
			return m.Confusions[i].Count > m.Confusions[j].Count
		}
		if m.Confusions[i].True != m.Confusions[j].True {
			return m.Confusions[i].True < m.Confusions[j].True
		}
		return m.Confusions[i].Predicted < m.Confusions[j].Predicted
	})
	if len(m.Confusions) > 10 {
		m.Confusions = m.Confusions[:10]
	}

	return m
}

// TopKAccuracy computes the fraction of samples whose true label appears in
// the k most probable predictions. classes gives the column ordering of
// probas.
func TopKAccuracy(yTrue []string, probas [][]float64, classes []string, k int) float64 {
	if len(yTrue) == 0 || k <= 0 {
		return 0
	}

	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}

	hits := 0
	for i, row := range probas {
		trueIdx, ok := index[yTrue[i]]
		if !ok {
			continue
		}
		rank := 0
		for j, p := range row {
			if j != trueIdx && p > row[trueIdx] {
				rank++
			}
		}
		if rank < k {
			hits++
		}
	}
	return float64(hits) / float64(len(yTrue))
}

// WriteReport prints the formatted classification report.
func WriteReport(w io.Writer, m Metrics) {
	fmt.Fprintf(w, "\nClassification Report:\n")
	fmt.Fprintln(w, strings.Repeat("-", 60))
	fmt.Fprintf(w, "%-12s %10s %10s %10s %10s\n", "", "precision", "recall", "f1-score", "support")
	fmt.Fprintln(w, strings.Repeat("-", 60))

	for _, label := range m.Labels {
		cm := m.PerClass[label]
		fmt.Fprintf(w, "%-12s %10.2f %10.2f %10.2f %10d\n", label, cm.Precision, cm.Recall, cm.F1, cm.Support)
	}

	fmt.Fprintln(w, strings.Repeat("-", 60))
	fmt.Fprintf(w, "\n  acc=%.3f  F1w=%.3f  F1m=%.3f  n=%d\n", m.Accuracy, m.WeightedF1, m.MacroF1, m.Total)

	if len(m.Confusions) > 0 {
		fmt.Fprintf(w, "\nTop confusions (true -> predicted, count):\n")
		for _, c := range m.Confusions {
			fmt.Fprintf(w, "  %-12s -> %-12s: %d\n", c.True, c.Predicted, c.Count)
		}
	}
}
