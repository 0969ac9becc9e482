package model

import "fmt"

// Verdict is the resolution action for an audit entry.
type Verdict string

// Verdict constants. An empty verdict means the entry has not been reviewed.
const (
	VerdictUnset   Verdict = ""
	VerdictRelabel Verdict = "relabel"
	VerdictKeep    Verdict = "keep"
	VerdictSkip    Verdict = "skip"
)

// Valid reports whether the verdict is one of the known values.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictUnset, VerdictRelabel, VerdictKeep, VerdictSkip:
		return true
	}
	return false
}

// AuditEntry records one disagreement between a stored label and a
// classifier's prediction. Confidence is nil when the classifier cannot
// produce probabilities.
type AuditEntry struct {
	Confidence   *float64    `json:"confidence"`
	ID           string      `json:"id"`
	Text         string      `json:"text"`
	StoredLabel  string      `json:"stored_label"`
	Predicted    string      `json:"predicted_label"`
	Alternatives LabelScores `json:"alternatives"`
	Verdict      Verdict     `json:"verdict"`
}

// ConfidenceOrZero returns the prediction confidence, treating an absent
// value as the minimum so entries without probabilities sort last.
func (e *AuditEntry) ConfidenceOrZero() float64 {
	if e.Confidence == nil {
		return 0
	}
	return *e.Confidence
}

// Validate ensures the entry is structurally sound.
func (e *AuditEntry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("audit entry id is required")
	}
	if e.StoredLabel == "" || e.Predicted == "" {
		return fmt.Errorf("audit entry %s: stored and predicted labels are required", e.ID)
	}
	if e.StoredLabel == e.Predicted {
		return fmt.Errorf("audit entry %s: stored and predicted labels agree", e.ID)
	}
	if !e.Verdict.Valid() {
		return fmt.Errorf("audit entry %s: unknown verdict %q", e.ID, e.Verdict)
	}
	if c := e.Confidence; c != nil && (*c < 0 || *c > 1) {
		return fmt.Errorf("audit entry %s: confidence must be between 0.0 and 1.0, got %.2f", e.ID, *c)
	}
	return nil
}
