package ensemble

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siftlabs/sift/internal/classify"
)

// stubParams is a canned probabilistic classifier persisted as a blob
// artifact, so ensemble loading goes through the real detect/load path.
type stubParams struct {
	ClassList []string
	Rows      map[string][]float64
}

type stub struct {
	p stubParams
}

func (s *stub) Train(_ context.Context, _, _ []string) error { return nil }

func (s *stub) Predict(_ context.Context, texts []string) ([]string, error) {
	out := make([]string, len(texts))
	for i, text := range texts {
		row := s.p.Rows[text]
		best := 0
		for j, p := range row {
			if p > row[best] {
				best = j
			}
		}
		out[i] = s.p.ClassList[best]
	}
	return out, nil
}

func (s *stub) PredictProba(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		out[i] = s.p.Rows[text]
	}
	return out, nil
}

func (s *stub) Classes() []string { return s.p.ClassList }

// voteStub predicts a fixed label and exposes no probabilities.
type voteStubParams struct {
	Label string
}

type voteStub struct {
	p voteStubParams
}

func (s *voteStub) Train(_ context.Context, _, _ []string) error { return nil }

func (s *voteStub) Predict(_ context.Context, texts []string) ([]string, error) {
	out := make([]string, len(texts))
	for i := range out {
		out[i] = s.p.Label
	}
	return out, nil
}

func testRegistry(t *testing.T) *classify.Registry {
	t.Helper()
	reg := classify.NewRegistry()
	reg.RegisterLoader("stub", func(path string, _ classify.Config) (classify.Classifier, error) {
		var p stubParams
		if err := classify.ReadBlob(path, "stub", &p); err != nil {
			return nil, err
		}
		return &stub{p: p}, nil
	})
	reg.RegisterLoader("vote-stub", func(path string, _ classify.Config) (classify.Classifier, error) {
		var p voteStubParams
		if err := classify.ReadBlob(path, "vote-stub", &p); err != nil {
			return nil, err
		}
		return &voteStub{p: p}, nil
	})
	Register(reg)
	return reg
}

func writeStub(t *testing.T, dir, name string, p stubParams) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, classify.WriteBlob(path, "stub", p))
	return path
}

func writeVoteStub(t *testing.T, dir, name, label string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, classify.WriteBlob(path, "vote-stub", voteStubParams{Label: label}))
	return path
}

func loadEnsemble(t *testing.T, reg *classify.Registry, cfg classify.Config) *Ensemble {
	t.Helper()
	e, err := New(reg, cfg)
	require.NoError(t, err)
	require.NoError(t, e.Train(context.Background(), nil, nil))
	return e
}

func TestWeightedSoftVote(t *testing.T) {
	reg := testRegistry(t)
	dir := t.TempDir()
	a := writeStub(t, dir, "a.bin", stubParams{
		ClassList: []string{"fix", "feat"},
		Rows:      map[string][]float64{"msg": {0.7, 0.3}},
	})
	b := writeStub(t, dir, "b.bin", stubParams{
		ClassList: []string{"fix", "feat"},
		Rows:      map[string][]float64{"msg": {0.4, 0.6}},
	})

	e := loadEnsemble(t, reg, classify.Config{
		EnsembleModels:   []string{a, b},
		EnsembleWeights:  []float64{0.25, 0.75},
		EnsembleStrategy: StrategyWeightedSoft,
	})

	assert.Equal(t, []string{"fix", "feat"}, e.Classes())

	probas, err := e.PredictProba(context.Background(), []string{"msg"})
	require.NoError(t, err)
	require.Len(t, probas, 1)
	assert.InDelta(t, 0.475, probas[0][0], 1e-9)
	assert.InDelta(t, 0.525, probas[0][1], 1e-9)

	preds, err := e.Predict(context.Background(), []string{"msg"})
	require.NoError(t, err)
	assert.Equal(t, []string{"feat"}, preds)
}

func TestSoftVote_ColumnAlignment(t *testing.T) {
	reg := testRegistry(t)
	dir := t.TempDir()
	// Same distribution, classes listed in opposite orders. Averaging must
	// align by label, not by column position.
	a := writeStub(t, dir, "a.bin", stubParams{
		ClassList: []string{"fix", "feat"},
		Rows:      map[string][]float64{"msg": {0.8, 0.2}},
	})
	b := writeStub(t, dir, "b.bin", stubParams{
		ClassList: []string{"feat", "fix"},
		Rows:      map[string][]float64{"msg": {0.2, 0.8}},
	})

	e := loadEnsemble(t, reg, classify.Config{
		EnsembleModels:   []string{a, b},
		EnsembleStrategy: StrategySoft,
	})

	probas, err := e.PredictProba(context.Background(), []string{"msg"})
	require.NoError(t, err)
	assert.InDelta(t, 0.8, probas[0][0], 1e-9)
	assert.InDelta(t, 0.2, probas[0][1], 1e-9)
}

func TestSoftVote_IdenticalCopiesMatchSingle(t *testing.T) {
	reg := testRegistry(t)
	dir := t.TempDir()
	p := stubParams{
		ClassList: []string{"docs", "feat", "fix"},
		Rows:      map[string][]float64{"msg": {0.1, 0.3, 0.6}},
	}
	a := writeStub(t, dir, "a.bin", p)
	b := writeStub(t, dir, "b.bin", p)
	c := writeStub(t, dir, "c.bin", p)

	e := loadEnsemble(t, reg, classify.Config{
		EnsembleModels:   []string{a, b, c},
		EnsembleStrategy: StrategySoft,
	})

	probas, err := e.PredictProba(context.Background(), []string{"msg"})
	require.NoError(t, err)
	for i, want := range p.Rows["msg"] {
		assert.InDelta(t, want, probas[0][i], 1e-9)
	}
}

func TestMajorityVote(t *testing.T) {
	reg := testRegistry(t)
	dir := t.TempDir()
	first := writeStub(t, dir, "first.bin", stubParams{
		ClassList: []string{"feat", "fix"},
		Rows:      map[string][]float64{"msg": {0.9, 0.1}},
	})
	a := writeVoteStub(t, dir, "a.bin", "fix")
	b := writeVoteStub(t, dir, "b.bin", "fix")

	// first votes feat, the other two vote fix.
	e := loadEnsemble(t, reg, classify.Config{
		EnsembleModels:   []string{first, a, b},
		EnsembleStrategy: StrategyMajority,
	})

	preds, err := e.Predict(context.Background(), []string{"msg"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fix"}, preds)
}

func TestMajorityVote_TieBreaksToFirstSeen(t *testing.T) {
	reg := testRegistry(t)
	dir := t.TempDir()
	first := writeStub(t, dir, "first.bin", stubParams{
		ClassList: []string{"feat", "fix"},
		Rows:      map[string][]float64{"msg": {0.9, 0.1}},
	})
	other := writeVoteStub(t, dir, "other.bin", "fix")

	e := loadEnsemble(t, reg, classify.Config{
		EnsembleModels:   []string{first, other},
		EnsembleStrategy: StrategyMajority,
	})

	// One vote each: the label voted by the earlier member wins.
	preds, err := e.Predict(context.Background(), []string{"msg"})
	require.NoError(t, err)
	assert.Equal(t, []string{"feat"}, preds)
}

func TestClassSetMismatch(t *testing.T) {
	reg := testRegistry(t)
	dir := t.TempDir()
	a := writeStub(t, dir, "a.bin", stubParams{
		ClassList: []string{"chore", "feat", "fix"},
		Rows:      map[string][]float64{},
	})
	b := writeStub(t, dir, "b.bin", stubParams{
		ClassList: []string{"feat", "fix"},
		Rows:      map[string][]float64{},
	})

	e, err := New(reg, classify.Config{
		EnsembleModels:   []string{a, b},
		EnsembleStrategy: StrategySoft,
	})
	require.NoError(t, err)

	err = e.Train(context.Background(), nil, nil)
	require.Error(t, err)
	var compatErr *classify.CompatibilityError
	require.ErrorAs(t, err, &compatErr)
	assert.Equal(t, []string{"chore"}, compatErr.Missing)
	assert.Empty(t, compatErr.Extra)
}

func TestSoftVote_RejectsNonProbabilisticMember(t *testing.T) {
	reg := testRegistry(t)
	dir := t.TempDir()
	a := writeStub(t, dir, "a.bin", stubParams{
		ClassList: []string{"feat", "fix"},
		Rows:      map[string][]float64{},
	})
	b := writeVoteStub(t, dir, "b.bin", "fix")

	e, err := New(reg, classify.Config{
		EnsembleModels:   []string{a, b},
		EnsembleStrategy: StrategySoft,
	})
	require.NoError(t, err)

	err = e.Train(context.Background(), nil, nil)
	require.Error(t, err)
	var compatErr *classify.CompatibilityError
	require.ErrorAs(t, err, &compatErr)
	assert.Equal(t, b, compatErr.Reference)
	assert.Contains(t, err.Error(), StrategyMajority)
}

func TestSoftVote_IgnoresWeights(t *testing.T) {
	reg := testRegistry(t)
	dir := t.TempDir()
	a := writeStub(t, dir, "a.bin", stubParams{
		ClassList: []string{"fix", "feat"},
		Rows:      map[string][]float64{"msg": {0.7, 0.3}},
	})
	b := writeStub(t, dir, "b.bin", stubParams{
		ClassList: []string{"fix", "feat"},
		Rows:      map[string][]float64{"msg": {0.4, 0.6}},
	})

	// soft_vote is a uniform mean; supplied weights must not skew it.
	e := loadEnsemble(t, reg, classify.Config{
		EnsembleModels:   []string{a, b},
		EnsembleWeights:  []float64{0.01, 0.99},
		EnsembleStrategy: StrategySoft,
	})

	probas, err := e.PredictProba(context.Background(), []string{"msg"})
	require.NoError(t, err)
	assert.InDelta(t, 0.55, probas[0][0], 1e-9)
	assert.InDelta(t, 0.45, probas[0][1], 1e-9)
}

func TestWeights_Validation(t *testing.T) {
	reg := testRegistry(t)
	dir := t.TempDir()
	a := writeStub(t, dir, "a.bin", stubParams{ClassList: []string{"fix"}})
	b := writeStub(t, dir, "b.bin", stubParams{ClassList: []string{"fix"}})

	_, err := New(reg, classify.Config{
		EnsembleModels:   []string{a, b},
		EnsembleWeights:  []float64{1},
		EnsembleStrategy: StrategyWeightedSoft,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 weights for 2 sub-models")

	// Weights are normalized to sum 1.
	e, err := New(reg, classify.Config{
		EnsembleModels:   []string{a, b},
		EnsembleWeights:  []float64{2, 6},
		EnsembleStrategy: StrategyWeightedSoft,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, e.weights[0], 1e-9)
	assert.InDelta(t, 0.75, e.weights[1], 1e-9)
}

func TestNew_Validation(t *testing.T) {
	reg := testRegistry(t)

	_, err := New(reg, classify.Config{EnsembleModels: []string{"x"}, EnsembleStrategy: "plurality"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown voting strategy")

	_, err = New(reg, classify.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one sub-model")
}

func TestPredict_BeforeLoad(t *testing.T) {
	reg := testRegistry(t)
	e, err := New(reg, classify.Config{EnsembleModels: []string{"missing.bin"}})
	require.NoError(t, err)

	_, err = e.Predict(context.Background(), []string{"msg"})
	assert.True(t, errors.Is(err, classify.ErrNotTrained))
}

func TestTrain_FailsFastOnMissingMember(t *testing.T) {
	reg := testRegistry(t)
	dir := t.TempDir()
	a := writeStub(t, dir, "a.bin", stubParams{ClassList: []string{"fix"}})

	e, err := New(reg, classify.Config{
		EnsembleModels: []string{a, filepath.Join(dir, "gone.bin")},
	})
	require.NoError(t, err)

	err = e.Train(context.Background(), nil, nil)
	require.Error(t, err)
	var artifactErr *classify.ArtifactFormatError
	assert.ErrorAs(t, err, &artifactErr)
}

func TestSaveLoad(t *testing.T) {
	reg := testRegistry(t)
	dir := t.TempDir()
	a := writeStub(t, dir, "a.bin", stubParams{
		ClassList: []string{"fix", "feat"},
		Rows:      map[string][]float64{"msg": {0.7, 0.3}},
	})
	b := writeStub(t, dir, "b.bin", stubParams{
		ClassList: []string{"fix", "feat"},
		Rows:      map[string][]float64{"msg": {0.4, 0.6}},
	})

	e := loadEnsemble(t, reg, classify.Config{
		EnsembleModels:   []string{a, b},
		EnsembleWeights:  []float64{0.25, 0.75},
		EnsembleStrategy: StrategyWeightedSoft,
	})

	ensembleDir := filepath.Join(dir, "ensemble")
	require.NoError(t, e.Save(ensembleDir))

	kind, err := classify.DetectKind(ensembleDir)
	require.NoError(t, err)
	assert.Equal(t, classify.KindEnsemble, kind)

	loaded, err := Load(reg, ensembleDir, classify.Config{})
	require.NoError(t, err)
	assert.Equal(t, e.Classes(), loaded.Classes())

	want, err := e.PredictProba(context.Background(), []string{"msg"})
	require.NoError(t, err)
	got, err := loaded.PredictProba(context.Background(), []string{"msg"})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoad_ViaRegistryDispatch(t *testing.T) {
	reg := testRegistry(t)
	dir := t.TempDir()
	a := writeStub(t, dir, "a.bin", stubParams{
		ClassList: []string{"fix", "feat"},
		Rows:      map[string][]float64{"msg": {0.7, 0.3}},
	})

	e := loadEnsemble(t, reg, classify.Config{
		EnsembleModels:   []string{a},
		EnsembleStrategy: StrategySoft,
	})
	ensembleDir := filepath.Join(dir, "ensemble")
	require.NoError(t, e.Save(ensembleDir))

	clf, err := reg.Load(ensembleDir, classify.Config{})
	require.NoError(t, err)
	preds, err := clf.Predict(context.Background(), []string{"msg"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fix"}, preds)
}
