package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClassifier struct {
	name string
}

func (f *fakeClassifier) Train(_ context.Context, _, _ []string) error {
	return nil
}

func (f *fakeClassifier) Predict(_ context.Context, texts []string) ([]string, error) {
	out := make([]string, len(texts))
	for i := range out {
		out[i] = f.name
	}
	return out, nil
}

func TestRegistry_New(t *testing.T) {
	reg := NewRegistry()
	reg.Register("fake", func(_ Config) (Classifier, error) {
		return &fakeClassifier{name: "fake"}, nil
	})

	clf, err := reg.New("fake", Config{})
	require.NoError(t, err)
	preds, err := clf.Predict(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fake"}, preds)
}

func TestRegistry_UnknownModel(t *testing.T) {
	reg := NewRegistry()
	reg.Register("fake", func(_ Config) (Classifier, error) {
		return &fakeClassifier{name: "fake"}, nil
	})

	_, err := reg.New("nope", Config{})
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, cfgErr.Error(), "unknown model nope")
	assert.Contains(t, cfgErr.Error(), "fake")
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	reg := NewRegistry()
	reg.Register("dup", func(_ Config) (Classifier, error) {
		return &fakeClassifier{name: "first"}, nil
	})
	reg.Register("dup", func(_ Config) (Classifier, error) {
		return &fakeClassifier{name: "second"}, nil
	})

	clf, err := reg.New("dup", Config{})
	require.NoError(t, err)
	preds, err := clf.Predict(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, "second", preds[0])
}

func TestRegistry_Names(t *testing.T) {
	reg := NewRegistry()
	reg.Register("zeta", func(_ Config) (Classifier, error) { return nil, nil })
	reg.Register("alpha", func(_ Config) (Classifier, error) { return nil, nil })

	assert.Equal(t, []string{"alpha", "zeta"}, reg.Names())
}

func TestCompatibilityError_Message(t *testing.T) {
	err := &CompatibilityError{
		Reference: "models/b.bin",
		Missing:   []string{"chore"},
	}
	assert.Contains(t, err.Error(), "models/b.bin")
	assert.Contains(t, err.Error(), "missing labels [chore]")

	err = &CompatibilityError{
		Reference: "models/c.bin",
		Missing:   []string{"fix"},
		Extra:     []string{"perf"},
	}
	msg := err.Error()
	assert.Contains(t, msg, "missing labels [fix]")
	assert.Contains(t, msg, "extra labels [perf]")
}
