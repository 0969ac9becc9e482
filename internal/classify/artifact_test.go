package classify

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeParams struct {
	Classes []string
	Bias    []float64
}

func TestBlobRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.bin")
	in := fakeParams{Classes: []string{"feat", "fix"}, Bias: []float64{0.1, -0.2}}

	require.NoError(t, WriteBlob(path, KindLexical, in))

	kind, err := DetectKind(path)
	require.NoError(t, err)
	assert.Equal(t, KindLexical, kind)

	var out fakeParams
	require.NoError(t, ReadBlob(path, KindLexical, &out))
	assert.Equal(t, in, out)
}

func TestReadBlob_WrongKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, WriteBlob(path, KindEmbed, fakeParams{}))

	var out fakeParams
	err := ReadBlob(path, KindLexical, &out)
	require.Error(t, err)

	var formatErr *ArtifactFormatError
	require.True(t, errors.As(err, &formatErr))
	assert.Contains(t, formatErr.Error(), "embed-mlp")
	assert.Contains(t, formatErr.Error(), "tfidf-logreg")
}

func TestDetectKind_TaggedDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteDirTag(dir, KindSetFit))

	kind, err := DetectKind(dir)
	require.NoError(t, err)
	assert.Equal(t, KindSetFit, kind)
}

func TestDetectKind_EnsembleManifest(t *testing.T) {
	dir := t.TempDir()
	manifest := `{"type":"ensemble","strategy":"soft_vote"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(manifest), 0o600))

	kind, err := DetectKind(dir)
	require.NoError(t, err)
	assert.Equal(t, KindEnsemble, kind)
}

func TestDetectKind_LegacyMarkers(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  string
	}{
		{
			name:  "tokenizer marker means transformer",
			files: []string{"label_mapping.json", "tokenizer_config.json"},
			want:  KindTransformer,
		},
		{
			name:  "label mapping alone means setfit",
			files: []string{"label_mapping.json"},
			want:  KindSetFit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, f := range tt.files {
				require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("{}"), 0o600))
			}
			kind, err := DetectKind(dir)
			require.NoError(t, err)
			assert.Equal(t, tt.want, kind)
		})
	}
}

func TestDetectKind_Unclassifiable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weights.safetensors"), []byte("x"), 0o600))

	_, err := DetectKind(dir)
	require.Error(t, err)

	var formatErr *ArtifactFormatError
	require.True(t, errors.As(err, &formatErr))
	assert.Contains(t, formatErr.Error(), "cannot determine artifact kind")
}

func TestDetectKind_UntaggedBlob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "random.bin")
	require.NoError(t, os.WriteFile(path, []byte("not a gob stream"), 0o600))

	_, err := DetectKind(path)
	require.Error(t, err)

	var formatErr *ArtifactFormatError
	assert.True(t, errors.As(err, &formatErr))
}

func TestRegistry_LoadDispatch(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterLoader(KindLexical, func(path string, _ Config) (Classifier, error) {
		var p fakeParams
		if err := ReadBlob(path, KindLexical, &p); err != nil {
			return nil, err
		}
		return &fakeClassifier{name: p.Classes[0]}, nil
	})

	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, WriteBlob(path, KindLexical, fakeParams{Classes: []string{"fix"}}))

	clf, err := reg.Load(path, Config{})
	require.NoError(t, err)
	require.NotNil(t, clf)

	// A kind without a registered loader is a format error, not a panic.
	other := filepath.Join(t.TempDir(), "other.bin")
	require.NoError(t, WriteBlob(other, KindEmbed, fakeParams{}))
	_, err = reg.Load(other, Config{})
	var formatErr *ArtifactFormatError
	require.True(t, errors.As(err, &formatErr))
	assert.Contains(t, formatErr.Error(), "no loader registered")
}
