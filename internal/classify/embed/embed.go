// Package embed implements the embedding + shallow network commit
// classifier: an external encoder produces sentence vectors and a small
// softmax head trained in-process classifies them.
package embed

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/siftlabs/sift/internal/classify"
	"github.com/siftlabs/sift/internal/model"
)

const (
	hiddenDim  = 128
	headEpochs = 60
	batchSize  = 32
	headLR     = 0.05
	momentum   = 0.9
)

// params is the persisted payload: the head weights plus the encoder the
// vectors came from. The encoder itself lives behind the API; only its name
// is owned here.
type params struct {
	EncoderModel string
	ClassList    []string
	W1           [][]float64
	B1           []float64
	W2           [][]float64
	B2           []float64
	InputDim     int
}

// Classifier is the embed-mlp variant.
type Classifier struct {
	encoder Encoder
	p       *params
	seed    int64
	balance bool
}

// New creates an untrained embed-mlp classifier using the given encoder.
func New(encoder Encoder, cfg classify.Config) *Classifier {
	seed := cfg.Seed
	if seed == 0 {
		seed = 42
	}
	return &Classifier{
		encoder: encoder,
		seed:    seed,
		balance: cfg.ClassWeight == "balanced",
	}
}

// Register wires the variant and its artifact loader into a registry. The
// constructor opens the embedding cache lazily from config.
func Register(reg *classify.Registry) {
	reg.Register(classify.KindEmbed, func(cfg classify.Config) (classify.Classifier, error) {
		enc, err := encoderFromConfig(cfg, cfg.EncoderModel)
		if err != nil {
			return nil, err
		}
		return New(enc, cfg), nil
	})
	reg.RegisterLoader(classify.KindEmbed, func(path string, cfg classify.Config) (classify.Classifier, error) {
		return Load(path, cfg)
	})
}

func encoderFromConfig(cfg classify.Config, encoderModel string) (Encoder, error) {
	if encoderModel == "" {
		return nil, &classify.ConfigurationError{Reason: "embed-mlp requires an encoder model name"}
	}
	var cache *Cache
	if cfg.CachePath != "" {
		var err error
		cache, err = OpenCache(cfg.CachePath)
		if err != nil {
			return nil, err
		}
	}
	return NewEncoder(cfg.EncoderBaseURL, cfg.EncoderAPIKey, encoderModel, cache), nil
}

// FormatInput builds the enriched embedding input from a record's message
// and its optional diff metadata.
func FormatInput(rec *model.Record) string {
	if rec.Diff == nil {
		return rec.Text
	}

	parts := []string{rec.Text}

	if files := rec.Diff.Files; len(files) > 0 {
		shown := files
		if len(shown) > 6 {
			shown = shown[:6]
		}
		s := "files: " + strings.Join(shown, ", ")
		if len(files) > 6 {
			s += fmt.Sprintf(" (+%d more)", len(files)-6)
		}
		parts = append(parts, s)
	}

	if len(rec.Diff.Extensions) > 0 {
		exts := make([]string, 0, len(rec.Diff.Extensions))
		seen := make(map[string]bool)
		for _, e := range rec.Diff.Extensions {
			if !seen[e] {
				seen[e] = true
				exts = append(exts, e)
			}
		}
		sort.Strings(exts)
		parts = append(parts, "ext: "+strings.Join(exts, " "))
	}

	parts = append(parts, fmt.Sprintf("+%d -%d", rec.Diff.Insertions, rec.Diff.Deletions))

	return strings.Join(parts, " | ")
}

// Train encodes the texts and fits the hidden-layer softmax head.
func (c *Classifier) Train(ctx context.Context, texts, labels []string) error {
	if len(texts) == 0 || len(texts) != len(labels) {
		return &classify.ConfigurationError{
			Reason: fmt.Sprintf("training needs parallel texts and labels, got %d and %d", len(texts), len(labels)),
		}
	}

	vectors, err := c.encoder.Encode(ctx, texts)
	if err != nil {
		return err
	}
	inputDim := len(vectors[0])

	classCounts := make(map[string]int)
	for _, label := range labels {
		classCounts[label]++
	}
	classList := make([]string, 0, len(classCounts))
	for class := range classCounts {
		classList = append(classList, class)
	}
	sort.Strings(classList)
	classIndex := make(map[string]int, len(classList))
	for i, class := range classList {
		classIndex[class] = i
	}
	k := len(classList)

	sampleWeight := make([]float64, len(labels))
	for i, label := range labels {
		sampleWeight[i] = 1
		if c.balance {
			sampleWeight[i] = float64(len(labels)) / (float64(k) * float64(classCounts[label]))
		}
	}

	rng := rand.New(rand.NewSource(c.seed))
	p := &params{
		EncoderModel: c.encoder.Model(),
		ClassList:    classList,
		InputDim:     inputDim,
		W1:           randMatrix(rng, hiddenDim, inputDim, math.Sqrt(2.0/float64(inputDim))),
		B1:           make([]float64, hiddenDim),
		W2:           randMatrix(rng, k, hiddenDim, math.Sqrt(2.0/float64(hiddenDim))),
		B2:           make([]float64, k),
	}

	velW1 := zeroMatrix(hiddenDim, inputDim)
	velB1 := make([]float64, hiddenDim)
	velW2 := zeroMatrix(k, hiddenDim)
	velB2 := make([]float64, k)

	order := make([]int, len(vectors))
	for i := range order {
		order[i] = i
	}

	for epoch := 0; epoch < headEpochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		for start := 0; start < len(order); start += batchSize {
			end := start + batchSize
			if end > len(order) {
				end = len(order)
			}
			batch := order[start:end]

			gradW1 := zeroMatrix(hiddenDim, inputDim)
			gradB1 := make([]float64, hiddenDim)
			gradW2 := zeroMatrix(k, hiddenDim)
			gradB2 := make([]float64, k)

			for _, idx := range batch {
				x := vectors[idx]
				hidden, probs := p.forward(x)

				// Output layer delta
				deltaOut := make([]float64, k)
				copy(deltaOut, probs)
				deltaOut[classIndex[labels[idx]]] -= 1
				for cIdx := range deltaOut {
					deltaOut[cIdx] *= sampleWeight[idx]
				}

				for cIdx := 0; cIdx < k; cIdx++ {
					for h := 0; h < hiddenDim; h++ {
						gradW2[cIdx][h] += deltaOut[cIdx] * hidden[h]
					}
					gradB2[cIdx] += deltaOut[cIdx]
				}

				// Hidden layer delta through ReLU
				for h := 0; h < hiddenDim; h++ {
					if hidden[h] <= 0 {
						continue
					}
					var d float64
					for cIdx := 0; cIdx < k; cIdx++ {
						d += deltaOut[cIdx] * p.W2[cIdx][h]
					}
					for j := 0; j < inputDim; j++ {
						gradW1[h][j] += d * x[j]
					}
					gradB1[h] += d
				}
			}

			step := headLR / float64(len(batch))
			applyMomentum(p.W1, velW1, gradW1, step)
			applyMomentumVec(p.B1, velB1, gradB1, step)
			applyMomentum(p.W2, velW2, gradW2, step)
			applyMomentumVec(p.B2, velB2, gradB2, step)
		}
	}

	c.p = p
	return nil
}

func (p *params) forward(x []float64) (hidden, probs []float64) {
	hidden = make([]float64, hiddenDim)
	for h := 0; h < hiddenDim; h++ {
		s := p.B1[h]
		row := p.W1[h]
		for j, v := range x {
			s += row[j] * v
		}
		if s > 0 {
			hidden[h] = s
		}
	}

	probs = make([]float64, len(p.ClassList))
	for cIdx := range probs {
		s := p.B2[cIdx]
		row := p.W2[cIdx]
		for h, v := range hidden {
			s += row[h] * v
		}
		probs[cIdx] = s
	}

	maxScore := probs[0]
	for _, s := range probs[1:] {
		if s > maxScore {
			maxScore = s
		}
	}
	var sum float64
	for i, s := range probs {
		probs[i] = math.Exp(s - maxScore)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return hidden, probs
}

// Predict returns the arg-max label per message.
func (c *Classifier) Predict(ctx context.Context, texts []string) ([]string, error) {
	probas, err := c.PredictProba(ctx, texts)
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
		out[i] = c.p.ClassList[best]
	}
	return out, nil
}

// PredictProba returns the posterior distribution per message.
func (c *Classifier) PredictProba(ctx context.Context, texts []string) ([][]float64, error) {
	if c.p == nil {
		return nil, classify.ErrNotTrained
	}

	vectors, err := c.encoder.Encode(ctx, texts)
	if err != nil {
		return nil, err
	}

	out := make([][]float64, len(vectors))
	for i, x := range vectors {
		if len(x) != c.p.InputDim {
			return nil, fmt.Errorf("encoder returned %d-dim vector, head expects %d", len(x), c.p.InputDim)
		}
		_, probs := c.p.forward(x)
		out[i] = probs
	}
	return out, nil
}

// Classes returns the fitted label vocabulary in column order.
func (c *Classifier) Classes() []string {
	if c.p == nil {
		return nil
	}
	return c.p.ClassList
}

// Save persists the head weights and encoder name as a blob artifact.
func (c *Classifier) Save(path string) error {
	if c.p == nil {
		return classify.ErrNotTrained
	}
	return classify.WriteBlob(path, classify.KindEmbed, c.p)
}

// Load restores a trained embed-mlp classifier. The encoder connection comes
// from config; the encoder model name comes from the artifact.
func Load(path string, cfg classify.Config) (*Classifier, error) {
	var p params
	if err := classify.ReadBlob(path, classify.KindEmbed, &p); err != nil {
		return nil, err
	}
	enc, err := encoderFromConfig(cfg, p.EncoderModel)
	if err != nil {
		return nil, err
	}
	c := New(enc, cfg)
	c.p = &p
	return c, nil
}

func randMatrix(rng *rand.Rand, rows, cols int, scale float64) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
		for j := range m[i] {
			m[i][j] = rng.NormFloat64() * scale
		}
	}
	return m
}

func zeroMatrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}

func applyMomentum(w, vel, grad [][]float64, step float64) {
	for i := range w {
		for j := range w[i] {
			vel[i][j] = momentum*vel[i][j] - step*grad[i][j]
			w[i][j] += vel[i][j]
		}
	}
}

func applyMomentumVec(w, vel, grad []float64, step float64) {
	for i := range w {
		vel[i] = momentum*vel[i] - step*grad[i]
		w[i] += vel[i]
	}
}
