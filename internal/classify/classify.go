// Package classify defines the capability contract shared by all commit
// classifiers, the variant registry, and the tagged artifact format their
// trained parameters persist to.
package classify

import (
	"context"
	"sort"
	"time"
)

// Classifier is the minimal capability contract every variant satisfies.
// Train and Predict are sequential blocking operations; a classifier owns its
// internal parameters exclusively once trained.
type Classifier interface {
	Train(ctx context.Context, texts, labels []string) error
	Predict(ctx context.Context, texts []string) ([]string, error)
}

// ProbabilisticClassifier is satisfied by variants that can produce a
// posterior distribution. Classes gives the column ordering of the matrix
// returned by PredictProba.
type ProbabilisticClassifier interface {
	Classifier
	PredictProba(ctx context.Context, texts []string) ([][]float64, error)
	Classes() []string
}

// Saver is satisfied by variants whose trained parameters can be persisted.
type Saver interface {
	Save(path string) error
}

// Config carries the variant knobs resolved from flags and the config file.
// Each variant reads only the fields it understands.
type Config struct {
	// Shared.
	ClassWeight string // "balanced" or "none"
	Seed        int64

	// embed-mlp.
	EncoderModel   string
	EncoderBaseURL string
	EncoderAPIKey  string
	CachePath      string

	// transformer / setfit serving.
	ServingURL     string
	ServingTimeout time.Duration

	// ensemble.
	EnsembleModels   []string
	EnsembleWeights  []float64
	EnsembleStrategy string
}

// Constructor builds a fresh, untrained classifier from configuration.
type Constructor func(cfg Config) (Classifier, error)

// LoaderFunc restores a trained classifier from a persisted artifact.
type LoaderFunc func(path string, cfg Config) (Classifier, error)

// Registry maps variant names to constructors and artifact kinds to loaders.
// It is built explicitly at process start and handed to whatever drives
// training or composition; there is no package-level registry. Registering a
// name twice overwrites the previous entry.
type Registry struct {
	ctors   map[string]Constructor
	loaders map[string]LoaderFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		ctors:   make(map[string]Constructor),
		loaders: make(map[string]LoaderFunc),
	}
}

// Register adds a variant constructor under name. Last registration wins.
func (r *Registry) Register(name string, ctor Constructor) {
	r.ctors[name] = ctor
}

// RegisterLoader adds an artifact loader for an artifact kind. Last
// registration wins.
func (r *Registry) RegisterLoader(kind string, loader LoaderFunc) {
	r.loaders[kind] = loader
}

// New constructs an untrained classifier by variant name.
func (r *Registry) New(name string, cfg Config) (Classifier, error) {
	ctor, ok := r.ctors[name]
	if !ok {
		return nil, &ConfigurationError{
			Reason: "unknown model " + name + " (known: " + joinNames(r.Names()) + ")",
		}
	}
	return ctor(cfg)
}

// Load restores a trained classifier from an artifact, dispatching on its
// detected kind.
func (r *Registry) Load(path string, cfg Config) (Classifier, error) {
	kind, err := DetectKind(path)
	if err != nil {
		return nil, err
	}
	loader, ok := r.loaders[kind]
	if !ok {
		return nil, &ArtifactFormatError{
			Path:   path,
			Reason: "no loader registered for artifact kind " + kind,
		}
	}
	return loader(path, cfg)
}

// Names returns the registered variant names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}
