package audit

import (
	"github.com/siftlabs/sift/internal/model"
)

// Change records one relabel for reporting.
type Change struct {
	ID       string
	Text     string
	OldLabel string
	NewLabel string
}

// Result summarizes an Apply run.
type Result struct {
	Relabeled  int
	Skipped    int
	Kept       int
	Unreviewed int // entries in the log with no verdict yet
	Changes    []Change
}

// Apply patches a corpus with the verdicts in an audit log and returns the
// resulting records. The input slice is never mutated, so callers can diff or
// discard the result; writing it back is the caller's decision.
//
// relabel rewrites the record's label (and the top multi-label entry) to the
// model's prediction, skip drops the record, keep and unreviewed entries pass
// records through untouched. Verdicts for ids no longer in the corpus are
// silently ignored.
func Apply(records []model.Record, entries []model.AuditEntry) ([]model.Record, Result) {
	byID := make(map[string]*model.AuditEntry, len(entries))
	var result Result
	for i := range entries {
		if entries[i].Verdict == model.VerdictUnset {
			result.Unreviewed++
			continue
		}
		byID[entries[i].ID] = &entries[i]
	}

	out := make([]model.Record, 0, len(records))
	for i := range records {
		entry, ok := byID[records[i].ID]
		if !ok {
			out = append(out, records[i])
			continue
		}

		switch entry.Verdict {
		case model.VerdictRelabel:
			rec := records[i]
			result.Changes = append(result.Changes, Change{
				ID:       rec.ID,
				Text:     rec.Text,
				OldLabel: rec.PrimaryLabel(),
				NewLabel: entry.Predicted,
			})
			rec.Label = entry.Predicted
			if len(rec.Labels) > 0 {
				labels := make(model.LabelScores, len(rec.Labels))
				copy(labels, rec.Labels)
				labels[0] = model.LabelScore{Label: entry.Predicted, Confidence: 1.0}
				rec.Labels = labels
			}
			result.Relabeled++
			out = append(out, rec)

		case model.VerdictSkip:
			result.Skipped++

		case model.VerdictKeep:
			result.Kept++
			out = append(out, records[i])

		default:
			out = append(out, records[i])
		}
	}
	return out, result
}
