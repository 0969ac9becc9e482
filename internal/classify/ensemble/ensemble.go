// Package ensemble implements the composite classifier: a set of trained
// sub-model artifacts combined by majority or probability-weighted voting.
package ensemble

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/siftlabs/sift/internal/classify"
)

// Voting strategies.
const (
	StrategyMajority     = "majority_vote"
	StrategySoft         = "soft_vote"
	StrategyWeightedSoft = "weighted_soft_vote"
)

const manifestName = "config.json"

// subModel pairs a loaded sub-classifier with its artifact path and, for the
// soft strategies, the column permutation aligning its probability output to
// the canonical class order.
type subModel struct {
	clf      classify.Classifier
	path     string
	kind     string
	colOrder []int // canonical index -> sub column, nil for non-proba subs
}

// Ensemble combines trained sub-models. It never fits anything itself: Train
// loads and validates the member artifacts and ignores the corpus arguments.
type Ensemble struct {
	registry *classify.Registry
	cfg      classify.Config

	refs     []string
	weights  []float64
	strategy string

	subs    []subModel
	classes []string
}

// manifest is the persisted ensemble artifact, a directory holding only this
// file. Sub-model artifacts stay where they are and are referenced by path.
type manifest struct {
	Type      string        `json:"type"`
	Strategy  string        `json:"strategy"`
	SubModels []manifestSub `json:"sub_models"`
	Weights   []float64     `json:"weights"`
	Classes   []string      `json:"classes"`
}

type manifestSub struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}

// New creates an unloaded ensemble over the sub-model paths in
// cfg.EnsembleModels. Call Train to load and validate the members.
func New(reg *classify.Registry, cfg classify.Config) (*Ensemble, error) {
	strategy := cfg.EnsembleStrategy
	if strategy == "" {
		strategy = StrategyMajority
	}
	switch strategy {
	case StrategyMajority, StrategySoft, StrategyWeightedSoft:
	default:
		return nil, &classify.ConfigurationError{
			Reason: fmt.Sprintf("unknown voting strategy %q (want %s, %s, or %s)",
				strategy, StrategyMajority, StrategySoft, StrategyWeightedSoft),
		}
	}

	if len(cfg.EnsembleModels) == 0 {
		return nil, &classify.ConfigurationError{Reason: "ensemble needs at least one sub-model path"}
	}

	// Weights bind only under weighted_soft_vote; the other strategies are
	// uniform by definition.
	suppliedWeights := cfg.EnsembleWeights
	if strategy != StrategyWeightedSoft {
		suppliedWeights = nil
	}
	weights, err := normalizeWeights(suppliedWeights, len(cfg.EnsembleModels))
	if err != nil {
		return nil, err
	}

	return &Ensemble{
		registry: reg,
		cfg:      cfg,
		refs:     cfg.EnsembleModels,
		weights:  weights,
		strategy: strategy,
	}, nil
}

// Register wires the ensemble variant and its artifact loader into a
// registry. The closures capture the registry so member artifacts of any kind
// can be loaded.
func Register(reg *classify.Registry) {
	reg.Register(classify.KindEnsemble, func(cfg classify.Config) (classify.Classifier, error) {
		return New(reg, cfg)
	})
	reg.RegisterLoader(classify.KindEnsemble, func(path string, cfg classify.Config) (classify.Classifier, error) {
		return Load(reg, path, cfg)
	})
}

func normalizeWeights(weights []float64, n int) ([]float64, error) {
	if len(weights) == 0 {
		out := make([]float64, n)
		for i := range out {
			out[i] = 1 / float64(n)
		}
		return out, nil
	}
	if len(weights) != n {
		return nil, &classify.ConfigurationError{
			Reason: fmt.Sprintf("got %d weights for %d sub-models", len(weights), n),
		}
	}
	var sum float64
	for _, w := range weights {
		if w < 0 {
			return nil, &classify.ConfigurationError{Reason: "sub-model weights must be non-negative"}
		}
		sum += w
	}
	if sum <= 0 {
		return nil, &classify.ConfigurationError{Reason: "sub-model weights must not all be zero"}
	}
	out := make([]float64, n)
	for i, w := range weights {
		out[i] = w / sum
	}
	return out, nil
}

// Train loads every member artifact and validates the composition. The corpus
// arguments are ignored; the members are already trained.
func (e *Ensemble) Train(_ context.Context, _, _ []string) error {
	return e.load()
}

// load resolves, loads, and cross-validates the member artifacts. The first
// member's class order becomes the canonical column order.
func (e *Ensemble) load() error {
	subs := make([]subModel, 0, len(e.refs))
	for _, ref := range e.refs {
		kind, err := classify.DetectKind(ref)
		if err != nil {
			return err
		}
		clf, err := e.registry.Load(ref, e.cfg)
		if err != nil {
			return fmt.Errorf("loading sub-model %s: %w", ref, err)
		}
		subs = append(subs, subModel{clf: clf, path: ref, kind: kind})
	}

	classes, err := validateClassSets(subs)
	if err != nil {
		return err
	}

	if e.strategy != StrategyMajority {
		for i := range subs {
			if subs[i].colOrder == nil {
				return &classify.CompatibilityError{
					Reference: subs[i].path,
					Reason: fmt.Sprintf("cannot produce probabilities; use %s instead of %s",
						StrategyMajority, e.strategy),
				}
			}
		}
	}

	e.subs = subs
	e.classes = classes
	return nil
}

// validateClassSets checks every member against the first member's label set
// and computes each probabilistic member's column alignment.
func validateClassSets(subs []subModel) ([]string, error) {
	var classes []string
	var refSet map[string]int

	for i := range subs {
		prob, ok := subs[i].clf.(classify.ProbabilisticClassifier)
		if !ok {
			if i == 0 {
				return nil, &classify.ConfigurationError{
					Reason: fmt.Sprintf("sub-model %s does not expose its label set", subs[i].path),
				}
			}
			continue
		}

		subClasses := prob.Classes()
		if i == 0 {
			classes = subClasses
			refSet = make(map[string]int, len(classes))
			for idx, class := range classes {
				refSet[class] = idx
			}
			subs[i].colOrder = identityOrder(len(classes))
			continue
		}

		missing, extra := diffClassSets(refSet, subClasses)
		if len(missing) > 0 || len(extra) > 0 {
			return nil, &classify.CompatibilityError{
				Reference: subs[i].path,
				Reason:    fmt.Sprintf("label set differs from %s", subs[0].path),
				Missing:   missing,
				Extra:     extra,
			}
		}

		// Same set, possibly different order: record where each canonical
		// column lives in this member's output.
		order := make([]int, len(classes))
		for col, class := range subClasses {
			order[refSet[class]] = col
		}
		subs[i].colOrder = order
	}

	if classes == nil {
		return nil, &classify.ConfigurationError{
			Reason: "no sub-model exposes a label set to validate against",
		}
	}
	return classes, nil
}

func identityOrder(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func diffClassSets(refSet map[string]int, subClasses []string) (missing, extra []string) {
	subSet := make(map[string]bool, len(subClasses))
	for _, class := range subClasses {
		subSet[class] = true
	}
	for class := range refSet {
		if !subSet[class] {
			missing = append(missing, class)
		}
	}
	for _, class := range subClasses {
		if _, ok := refSet[class]; !ok {
			extra = append(extra, class)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return missing, extra
}

// Predict combines member predictions under the configured strategy.
func (e *Ensemble) Predict(ctx context.Context, texts []string) ([]string, error) {
	if e.subs == nil {
		return nil, classify.ErrNotTrained
	}

	if e.strategy == StrategyMajority {
		return e.majorityVote(ctx, texts)
	}

	probas, err := e.PredictProba(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(texts))
	for i, row := range probas {
		best := 0
		for j, p := range row {
			if p > row[best] {
				best = j
			}
		}
		out[i] = e.classes[best]
	}
	return out, nil
}

// majorityVote picks the most common member prediction per text. Ties break
// toward the label seen first in member order.
func (e *Ensemble) majorityVote(ctx context.Context, texts []string) ([]string, error) {
	votes := make([][]string, len(e.subs))
	for i := range e.subs {
		preds, err := e.subs[i].clf.Predict(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("sub-model %s: %w", e.subs[i].path, err)
		}
		votes[i] = preds
	}

	out := make([]string, len(texts))
	for t := range texts {
		counts := make(map[string]int, len(e.subs))
		firstSeen := make(map[string]int, len(e.subs))
		for i := range votes {
			label := votes[i][t]
			if _, ok := firstSeen[label]; !ok {
				firstSeen[label] = i
			}
			counts[label]++
		}
		best := ""
		for label, count := range counts {
			if best == "" || count > counts[best] ||
				(count == counts[best] && firstSeen[label] < firstSeen[best]) {
				best = label
			}
		}
		out[t] = best
	}
	return out, nil
}

// PredictProba returns the weight-averaged member probabilities, columns
// ordered as Classes. Every member must be probabilistic.
func (e *Ensemble) PredictProba(ctx context.Context, texts []string) ([][]float64, error) {
	if e.subs == nil {
		return nil, classify.ErrNotTrained
	}

	out := make([][]float64, len(texts))
	for t := range out {
		out[t] = make([]float64, len(e.classes))
	}

	for i := range e.subs {
		if e.subs[i].colOrder == nil {
			return nil, &classify.CompatibilityError{
				Reference: e.subs[i].path,
				Reason:    fmt.Sprintf("cannot produce probabilities; use %s instead", StrategyMajority),
			}
		}
		prob := e.subs[i].clf.(classify.ProbabilisticClassifier)
		rows, err := prob.PredictProba(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("sub-model %s: %w", e.subs[i].path, err)
		}
		weight := e.weights[i]
		for t, row := range rows {
			for canon, col := range e.subs[i].colOrder {
				out[t][canon] += weight * row[col]
			}
		}
	}
	return out, nil
}

// Classes returns the canonical label order, which is the first member's.
func (e *Ensemble) Classes() []string {
	return e.classes
}

// Save writes the ensemble manifest directory. Member artifacts are
// referenced by path, not copied.
func (e *Ensemble) Save(path string) error {
	if e.subs == nil {
		return classify.ErrNotTrained
	}

	m := manifest{
		Type:     "ensemble",
		Strategy: e.strategy,
		Weights:  e.weights,
		Classes:  e.classes,
	}
	for i := range e.subs {
		m.SubModels = append(m.SubModels, manifestSub{Path: e.subs[i].path, Kind: e.subs[i].kind})
	}

	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("failed to create ensemble directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(path, manifestName), data, 0o600); err != nil {
		return fmt.Errorf("failed to write ensemble manifest: %w", err)
	}
	return nil
}

// Load restores an ensemble from its manifest, reloading and revalidating
// every member. Member paths are tried as written, then relative to the
// manifest directory.
func Load(reg *classify.Registry, path string, cfg classify.Config) (*Ensemble, error) {
	data, err := os.ReadFile(filepath.Join(path, manifestName))
	if err != nil {
		return nil, &classify.ArtifactFormatError{Path: path, Reason: "ensemble manifest unreadable: " + err.Error()}
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &classify.ArtifactFormatError{Path: path, Reason: "ensemble manifest is not valid JSON: " + err.Error()}
	}
	if m.Type != "ensemble" {
		return nil, &classify.ArtifactFormatError{Path: path, Reason: fmt.Sprintf("manifest type is %q, want ensemble", m.Type)}
	}

	refs := make([]string, len(m.SubModels))
	for i, sub := range m.SubModels {
		refs[i] = sub.Path
		if _, statErr := os.Stat(sub.Path); statErr != nil {
			relative := filepath.Join(path, sub.Path)
			if _, relErr := os.Stat(relative); relErr == nil {
				refs[i] = relative
			}
		}
	}

	cfg.EnsembleModels = refs
	cfg.EnsembleWeights = m.Weights
	cfg.EnsembleStrategy = m.Strategy
	e, err := New(reg, cfg)
	if err != nil {
		return nil, err
	}
	if err := e.load(); err != nil {
		return nil, err
	}
	return e, nil
}
