package embed

import (
	"context"
	"errors"
	"hash/fnv"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siftlabs/sift/internal/classify"
	"github.com/siftlabs/sift/internal/model"
)

// fakeEncoder produces a deterministic vector per text with no network. Texts
// sharing a leading word land near each other so the head has signal to learn.
type fakeEncoder struct {
	calls int
}

func (f *fakeEncoder) Model() string { return "fake-encoder" }

func (f *fakeEncoder) Encode(_ context.Context, texts []string) ([][]float64, error) {
	f.calls++
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, 16)
		h := fnv.New32a()
		for _, tok := range []byte(text) {
			_, _ = h.Write([]byte{tok})
			vec[int(h.Sum32())%len(vec)] += 1
		}
		out[i] = vec
	}
	return out, nil
}

func embedTrainingData() (texts, labels []string) {
	samples := []struct {
		text  string
		label string
	}{
		{"Fix null pointer in auth module", "fix"},
		{"Fix crash when config file missing", "fix"},
		{"Fixed race condition in worker pool", "fix"},
		{"Fix off by one error in pagination", "fix"},
		{"Add support for dark mode", "feat"},
		{"Add export to CSV", "feat"},
		{"Added keyboard shortcuts for navigation", "feat"},
		{"Add webhook notifications", "feat"},
	}
	for _, s := range samples {
		texts = append(texts, s.text)
		labels = append(labels, s.label)
	}
	return texts, labels
}

func TestTrainPredictProba(t *testing.T) {
	texts, labels := embedTrainingData()
	clf := New(&fakeEncoder{}, classify.Config{})
	require.NoError(t, clf.Train(context.Background(), texts, labels))

	assert.Equal(t, []string{"feat", "fix"}, clf.Classes())

	probas, err := clf.PredictProba(context.Background(), texts[:2])
	require.NoError(t, err)
	require.Len(t, probas, 2)
	for _, row := range probas {
		require.Len(t, row, 2)
		sum := 0.0
		for _, p := range row {
			assert.GreaterOrEqual(t, p, 0.0)
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}

	// The head must at least reproduce the training set with this toy corpus.
	preds, err := clf.Predict(context.Background(), texts)
	require.NoError(t, err)
	assert.Equal(t, labels, preds)
}

func TestTrain_Deterministic(t *testing.T) {
	texts, labels := embedTrainingData()

	a := New(&fakeEncoder{}, classify.Config{Seed: 7})
	require.NoError(t, a.Train(context.Background(), texts, labels))
	b := New(&fakeEncoder{}, classify.Config{Seed: 7})
	require.NoError(t, b.Train(context.Background(), texts, labels))

	pa, err := a.PredictProba(context.Background(), texts[:3])
	require.NoError(t, err)
	pb, err := b.PredictProba(context.Background(), texts[:3])
	require.NoError(t, err)
	assert.Equal(t, pa, pb)
}

func TestPredict_BeforeTrain(t *testing.T) {
	clf := New(&fakeEncoder{}, classify.Config{})
	_, err := clf.Predict(context.Background(), []string{"Fix bug"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, classify.ErrNotTrained))
}

func TestSaveLoad(t *testing.T) {
	texts, labels := embedTrainingData()
	enc := &fakeEncoder{}
	clf := New(enc, classify.Config{})
	require.NoError(t, clf.Train(context.Background(), texts, labels))

	path := filepath.Join(t.TempDir(), "embed-mlp.bin")
	require.NoError(t, clf.Save(path))

	kind, err := classify.DetectKind(path)
	require.NoError(t, err)
	assert.Equal(t, classify.KindEmbed, kind)

	loaded, err := Load(path, classify.Config{EncoderAPIKey: "unused"})
	require.NoError(t, err)
	assert.Equal(t, clf.Classes(), loaded.Classes())

	// Swap in the fake encoder so prediction runs offline.
	loaded.encoder = enc

	want, err := clf.PredictProba(context.Background(), texts[:2])
	require.NoError(t, err)
	got, err := loaded.PredictProba(context.Background(), texts[:2])
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFormatInput(t *testing.T) {
	tests := []struct {
		name string
		rec  model.Record
		want string
	}{
		{
			name: "no diff",
			rec:  model.Record{Text: "Fix parser"},
			want: "Fix parser",
		},
		{
			name: "full diff",
			rec: model.Record{
				Text: "Fix parser",
				Diff: &model.DiffStats{
					Files:      []string{"parser.go", "lexer.go"},
					Extensions: []string{"go"},
					Insertions: 10,
					Deletions:  3,
				},
			},
			want: "Fix parser | files: parser.go, lexer.go | ext: go | +10 -3",
		},
		{
			name: "file list truncated",
			rec: model.Record{
				Text: "Big refactor",
				Diff: &model.DiffStats{
					Files: []string{"a", "b", "c", "d", "e", "f", "g", "h"},
				},
			},
			want: "Big refactor | files: a, b, c, d, e, f (+2 more) | +0 -0",
		},
		{
			name: "extensions deduplicated and sorted",
			rec: model.Record{
				Text: "Touch everything",
				Diff: &model.DiffStats{
					Extensions: []string{"md", "go", "go"},
				},
			},
			want: "Touch everything | ext: go md | +0 -0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatInput(&tt.rec))
		})
	}
}

func TestCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "embeddings.db")
	cache, err := OpenCache(path)
	require.NoError(t, err)
	defer func() { _ = cache.Close() }()

	ctx := context.Background()

	vec, err := cache.Get(ctx, "m1", "hello")
	require.NoError(t, err)
	assert.Nil(t, vec, "miss returns nil without error")

	want := []float64{0.5, -1.25, 3}
	require.NoError(t, cache.Put(ctx, "m1", "hello", want))

	got, err := cache.Get(ctx, "m1", "hello")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Same text under a different encoder model is a distinct entry.
	other, err := cache.Get(ctx, "m2", "hello")
	require.NoError(t, err)
	assert.Nil(t, other)

	n, err := cache.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEncoderUsesCache(t *testing.T) {
	// The wrapping encoder is exercised indirectly: the classifier encodes
	// via the interface, so a fake with a call counter proves each Train and
	// PredictProba hits the encoder exactly once.
	enc := &fakeEncoder{}
	texts, labels := embedTrainingData()
	clf := New(enc, classify.Config{})
	require.NoError(t, clf.Train(context.Background(), texts, labels))
	assert.Equal(t, 1, enc.calls)

	_, err := clf.PredictProba(context.Background(), texts[:1])
	require.NoError(t, err)
	assert.Equal(t, 2, enc.calls)
}
