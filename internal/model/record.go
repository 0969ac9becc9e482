// Package model defines the core domain models used throughout the application.
package model

import (
	"fmt"
	"sort"
)

// DiffStats carries optional change metadata supplied by the upstream
// diff-enrichment step. It is opaque context for classifiers that want it.
type DiffStats struct {
	Files      []string `json:"files,omitempty"`
	Extensions []string `json:"extensions,omitempty"`
	Insertions int      `json:"insertions,omitempty"`
	Deletions  int      `json:"deletions,omitempty"`
}

// Record is one labeled commit-message training example. Everything except
// Label and Labels is immutable once loaded; only the verdict applier may
// rewrite labels.
type Record struct {
	Diff       *DiffStats  `json:"diff,omitempty"`
	ID         string      `json:"id"`
	Text       string      `json:"text"`
	Label      string      `json:"label,omitempty"`
	Labels     LabelScores `json:"labels,omitempty"`
	Confidence float64     `json:"confidence,omitempty"`
}

// LabelerConfidence returns the labeling client's confidence for this record,
// treating an absent value as full confidence.
func (r *Record) LabelerConfidence() float64 {
	if r.Confidence == 0 {
		return 1.0
	}
	return r.Confidence
}

// Validate ensures the record carries the fields the pipeline depends on.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record id is required")
	}
	if r.Text == "" {
		return fmt.Errorf("record %s: text is required", r.ID)
	}
	if r.Label == "" && len(r.Labels) == 0 {
		return fmt.Errorf("record %s: label is required", r.ID)
	}
	return nil
}

// PrimaryLabel returns the single-label tag, falling back to the top ranked
// multi-label entry for records that only carry the ranked form.
func (r *Record) PrimaryLabel() string {
	if r.Label != "" {
		return r.Label
	}
	if top := r.Labels.Top(); top != nil {
		return top.Label
	}
	return ""
}

// LabelScore is one (label, confidence) pair in a ranked multi-label result.
type LabelScore struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Validate ensures the LabelScore has valid data.
func (s *LabelScore) Validate() error {
	if s.Label == "" {
		return fmt.Errorf("label name is required")
	}
	if s.Confidence < 0.0 || s.Confidence > 1.0 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0, got %.2f", s.Confidence)
	}
	return nil
}

// LabelScores is a ranked list of label scores, most confident first.
type LabelScores []LabelScore

// Len implements sort.Interface.
func (s LabelScores) Len() int {
	return len(s)
}

// Less implements sort.Interface - higher confidence comes first.
func (s LabelScores) Less(i, j int) bool {
	if s[i].Confidence != s[j].Confidence {
		return s[i].Confidence > s[j].Confidence
	}
	// Equal confidence sorts by label name for consistency
	return s[i].Label < s[j].Label
}

// Swap implements sort.Interface.
func (s LabelScores) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

// Sort sorts the scores by confidence in descending order.
func (s LabelScores) Sort() {
	sort.Sort(s)
}

// Top returns the highest-confidence entry, or nil if empty.
func (s LabelScores) Top() *LabelScore {
	if len(s) == 0 {
		return nil
	}
	s.Sort()
	return &s[0]
}

// TopN returns the N highest-confidence entries.
func (s LabelScores) TopN(n int) LabelScores {
	if n <= 0 {
		return LabelScores{}
	}

	s.Sort()

	if n > len(s) {
		n = len(s)
	}

	result := make(LabelScores, n)
	copy(result, s[:n])
	return result
}

// Validate ensures all entries are valid and no label repeats.
func (s LabelScores) Validate() error {
	seen := make(map[string]bool)

	for i, score := range s {
		if err := score.Validate(); err != nil {
			return fmt.Errorf("invalid label score at index %d: %w", i, err)
		}
		if seen[score.Label] {
			return fmt.Errorf("duplicate label %q in scores", score.Label)
		}
		seen[score.Label] = true
	}

	return nil
}
