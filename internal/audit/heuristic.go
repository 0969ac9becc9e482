package audit

import (
	"strings"

	"github.com/siftlabs/sift/internal/model"
)

// Confidence tiers for verdict assignment.
const (
	highConfidence = 0.8
	lowConfidence  = 0.5
)

// rule relabels to predicted when the message carries the predicted
// category's wording. storedIn, when set, restricts the rule to stored labels
// the model commonly corrects. Prefixes match the start of the lowercased
// message, substrings match anywhere.
type rule struct {
	predicted  string
	storedIn   []string
	prefixes   []string
	substrings []string
}

// highRules fire in the high-confidence tier, where the stored label matters:
// the point is catching specific mislabel patterns, not generic wording.
var highRules = []rule{
	{
		predicted: "fix",
		storedIn:  []string{"style", "refactor", "chore", "docs"},
		prefixes:  []string{"fix", "fixed", "fixes", "fixed:", "fix:"},
	},
	{
		predicted: "feat",
		storedIn:  []string{"docs", "style", "chore"},
		prefixes:  []string{"add", "added", "adds", "add:", "added:"},
	},
	{
		predicted:  "chore",
		storedIn:   []string{"build"},
		substrings: []string{"deps:", "update deps", "bump", "update dependencies", "upgrade deps", "update everything"},
	},
	{
		predicted: "refactor",
		storedIn:  []string{"feat", "style", "docs", "chore"},
		prefixes:  []string{"refactor", "refactor:", "refactored"},
	},
	{
		predicted:  "docs",
		storedIn:   []string{"feat", "chore", "style"},
		substrings: []string{"docs:", "documentation:", "readme", "doc:", "update docs"},
	},
	{
		predicted:  "ci",
		storedIn:   []string{"chore", "build"},
		substrings: []string{".github/workflows", "jenkinsfile", "gitlab-ci", ".circleci", "travis", "ci:", "pipeline"},
	},
	{
		predicted:  "test",
		storedIn:   []string{"feat", "refactor", "chore"},
		substrings: []string{"test:", "tests:", "add tests", "update tests", "fix test"},
	},
}

// mediumRules fire between the tiers: any stored label, but the wording must
// strongly support the prediction.
var mediumRules = []rule{
	{predicted: "fix", prefixes: []string{"fix", "fixed", "fixes"}},
	{predicted: "feat", prefixes: []string{"add", "added", "new", "adds"}},
	{predicted: "chore", substrings: []string{"deps:", "bump", "update dep", "update everything"}},
	{predicted: "refactor", prefixes: []string{"refactor"}},
	{predicted: "docs", substrings: []string{"docs:", "readme", "documentation"}},
}

// lowRules are the only patterns trusted below the low-confidence floor.
var lowRules = []rule{
	{predicted: "fix", prefixes: []string{"fix", "fixed", "fixes"}},
	{predicted: "feat", prefixes: []string{"add", "new"}},
}

func (r *rule) matches(stored, loweredText string) bool {
	if len(r.storedIn) > 0 {
		found := false
		for _, s := range r.storedIn {
			if s == stored {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(loweredText, p) {
			return true
		}
	}
	for _, s := range r.substrings {
		if strings.Contains(loweredText, s) {
			return true
		}
	}
	return false
}

func anyRuleFires(rules []rule, predicted, stored, loweredText string) bool {
	for i := range rules {
		if rules[i].predicted != predicted {
			continue
		}
		if rules[i].matches(stored, loweredText) {
			return true
		}
	}
	return false
}

// Heuristic assigns verdicts to audit entries from the model's confidence
// and the message wording. It is a bulk pre-pass: anything it marks keep is
// left for a human to look at.
type Heuristic struct {
	// TrustHighConfidence relabels high-confidence disagreements even when
	// no wording rule fires.
	TrustHighConfidence bool
}

// Verdict decides one entry.
//
// Merge commits are noise in a message-labeled corpus and are always skipped.
// In the high tier the model is trusted (modulo TrustHighConfidence); in the
// medium tier the wording must strongly support the prediction; below the low
// floor only the unambiguous fix/feat prefixes are trusted.
func (h *Heuristic) Verdict(entry *model.AuditEntry) model.Verdict {
	lowered := strings.ToLower(strings.TrimSpace(entry.Text))

	if strings.HasPrefix(lowered, "merge ") {
		return model.VerdictSkip
	}

	confidence := entry.ConfidenceOrZero()
	switch {
	case confidence >= highConfidence:
		if anyRuleFires(highRules, entry.Predicted, entry.StoredLabel, lowered) {
			return model.VerdictRelabel
		}
		if h.TrustHighConfidence {
			return model.VerdictRelabel
		}
		return model.VerdictKeep

	case confidence >= lowConfidence:
		if anyRuleFires(mediumRules, entry.Predicted, entry.StoredLabel, lowered) {
			return model.VerdictRelabel
		}
		return model.VerdictKeep

	default:
		if anyRuleFires(lowRules, entry.Predicted, entry.StoredLabel, lowered) {
			return model.VerdictRelabel
		}
		return model.VerdictKeep
	}
}

// Assign fills in verdicts for entries that have none, leaving recorded
// verdicts alone. It returns how many entries carry each verdict afterwards.
func (h *Heuristic) Assign(entries []model.AuditEntry) map[model.Verdict]int {
	counts := make(map[model.Verdict]int)
	for i := range entries {
		if entries[i].Verdict == model.VerdictUnset {
			entries[i].Verdict = h.Verdict(&entries[i])
		}
		counts[entries[i].Verdict]++
	}
	return counts
}
