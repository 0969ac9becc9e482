package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siftlabs/sift/internal/audit"
	"github.com/siftlabs/sift/internal/corpus"
	"github.com/siftlabs/sift/internal/model"
)

func TestRunApply_DryRunLeavesCorpusUntouched(t *testing.T) {
	dir := t.TempDir()

	corpusPath := filepath.Join(dir, "labeled.jsonl")
	require.NoError(t, corpus.Save(corpusPath, []model.Record{
		{ID: "id1", Text: "Fixed crash on resume", Label: "style"},
		{ID: "id2", Text: "Add dark mode", Label: "feat"},
	}))
	before, err := os.ReadFile(corpusPath)
	require.NoError(t, err)

	logPath := filepath.Join(dir, "audit.jsonl")
	require.NoError(t, audit.WriteLog(logPath, []model.AuditEntry{
		{ID: "id1", Text: "Fixed crash on resume", StoredLabel: "style",
			Predicted: "fix", Verdict: model.VerdictRelabel},
	}))

	setViper(t, "apply.output", "")
	setViper(t, "apply.reset_split", false)

	setViper(t, "apply.dry_run", true)
	require.NoError(t, runApply(nil, []string{logPath, corpusPath}))

	after, err := os.ReadFile(corpusPath)
	require.NoError(t, err)
	assert.Equal(t, before, after, "dry run must leave the corpus byte-identical")

	// The same verdicts without --dry-run patch the corpus in place.
	setViper(t, "apply.dry_run", false)
	require.NoError(t, runApply(nil, []string{logPath, corpusPath}))

	patched, err := corpus.Load(corpusPath, 0)
	require.NoError(t, err)
	require.Len(t, patched, 2)
	assert.Equal(t, "fix", patched[0].Label)
	assert.Equal(t, "feat", patched[1].Label)
}
