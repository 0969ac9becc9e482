// Package lexical implements the tf-idf + logistic regression commit
// classifier, the fast in-process baseline variant.
package lexical

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/siftlabs/sift/internal/classify"
)

const (
	maxFeatures = 10000
	epochs      = 200
	learnRate   = 0.5
	l2Penalty   = 1e-4
)

var tokenPattern = regexp.MustCompile(`\pL[\pL\pN_\-\.]+|\pN[\pL\pN_\-\.]+`)

// params is everything a trained model needs to predict, and the payload
// persisted in the blob artifact.
type params struct {
	Vocab      map[string]int
	IDF        []float64
	ClassList  []string
	Weights    [][]float64
	Bias       []float64
	NumDocs    int
}

// Classifier is a tf-idf vectorizer feeding a multinomial logistic
// regression. Inputs are raw message strings; vectorization happens
// internally.
type Classifier struct {
	p           *params
	classWeight string
}

// New creates an untrained classifier. cfg.ClassWeight "balanced" reweights
// sample gradients by inverse class frequency.
func New(cfg classify.Config) *Classifier {
	return &Classifier{classWeight: cfg.ClassWeight}
}

// Register wires the variant and its artifact loader into a registry.
func Register(reg *classify.Registry) {
	reg.Register(classify.KindLexical, func(cfg classify.Config) (classify.Classifier, error) {
		return New(cfg), nil
	})
	reg.RegisterLoader(classify.KindLexical, func(path string, _ classify.Config) (classify.Classifier, error) {
		return Load(path)
	})
}

// tokenize lowercases and splits a message into unigrams plus adjacent
// bigrams.
func tokenize(text string) []string {
	words := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(words)*2)
	tokens = append(tokens, words...)
	for i := 0; i+1 < len(words); i++ {
		tokens = append(tokens, words[i]+" "+words[i+1])
	}
	return tokens
}

// Train fits the vectorizer vocabulary and the regression weights.
func (c *Classifier) Train(_ context.Context, texts, labels []string) error {
	if len(texts) == 0 || len(texts) != len(labels) {
		return &classify.ConfigurationError{
			Reason: fmt.Sprintf("training needs parallel texts and labels, got %d and %d", len(texts), len(labels)),
		}
	}

	docs := make([][]string, len(texts))
	df := make(map[string]int)
	for i, text := range texts {
		docs[i] = tokenize(text)
		seen := make(map[string]bool, len(docs[i]))
		for _, tok := range docs[i] {
			if !seen[tok] {
				seen[tok] = true
				df[tok]++
			}
		}
	}

	// Vocabulary: the most document-frequent terms, capped at maxFeatures.
	// Ties break lexicographically so training is deterministic.
	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if df[terms[i]] != df[terms[j]] {
			return df[terms[i]] > df[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > maxFeatures {
		terms = terms[:maxFeatures]
	}

	p := &params{
		Vocab:   make(map[string]int, len(terms)),
		IDF:     make([]float64, len(terms)),
		NumDocs: len(texts),
	}
	for i, term := range terms {
		p.Vocab[term] = i
		p.IDF[i] = math.Log(float64(1+len(texts))/float64(1+df[term])) + 1
	}

	// Class vocabulary in sorted order.
	classCounts := make(map[string]int)
	for _, label := range labels {
		classCounts[label]++
	}
	for class := range classCounts {
		p.ClassList = append(p.ClassList, class)
	}
	sort.Strings(p.ClassList)

	classIndex := make(map[string]int, len(p.ClassList))
	for i, class := range p.ClassList {
		classIndex[class] = i
	}

	sampleWeight := make([]float64, len(labels))
	for i, label := range labels {
		sampleWeight[i] = 1
		if c.classWeight == "balanced" {
			sampleWeight[i] = float64(len(labels)) /
				(float64(len(p.ClassList)) * float64(classCounts[label]))
		}
	}

	features := make([]map[int]float64, len(docs))
	for i, doc := range docs {
		features[i] = p.vectorize(doc)
	}

	k := len(p.ClassList)
	d := len(p.Vocab)
	p.Weights = make([][]float64, k)
	for i := range p.Weights {
		p.Weights[i] = make([]float64, d)
	}
	p.Bias = make([]float64, k)

	// Full-batch gradient descent on the weighted cross-entropy. Weights
	// start at zero so repeated runs converge identically.
	gradW := make([][]float64, k)
	for i := range gradW {
		gradW[i] = make([]float64, d)
	}
	gradB := make([]float64, k)
	scores := make([]float64, k)

	for epoch := 0; epoch < epochs; epoch++ {
		for i := range gradW {
			for j := range gradW[i] {
				gradW[i][j] = 0
			}
			gradB[i] = 0
		}

		for i, x := range features {
			p.scoreInto(x, scores)
			softmaxInPlace(scores)
			target := classIndex[labels[i]]
			for cIdx := 0; cIdx < k; cIdx++ {
				delta := scores[cIdx]
				if cIdx == target {
					delta -= 1
				}
				delta *= sampleWeight[i]
				for j, v := range x {
					gradW[cIdx][j] += delta * v
				}
				gradB[cIdx] += delta
			}
		}

		step := learnRate / float64(len(features))
		for cIdx := 0; cIdx < k; cIdx++ {
			for j := 0; j < d; j++ {
				p.Weights[cIdx][j] -= step*gradW[cIdx][j] + learnRate*l2Penalty*p.Weights[cIdx][j]
			}
			p.Bias[cIdx] -= step * gradB[cIdx]
		}
	}

	c.p = p
	return nil
}

// vectorize maps tokens to a sparse l2-normalized sublinear tf-idf vector.
func (p *params) vectorize(tokens []string) map[int]float64 {
	tf := make(map[int]float64)
	for _, tok := range tokens {
		if j, ok := p.Vocab[tok]; ok {
			tf[j]++
		}
	}

	var norm float64
	for j, count := range tf {
		v := (1 + math.Log(count)) * p.IDF[j]
		tf[j] = v
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for j := range tf {
			tf[j] /= norm
		}
	}
	return tf
}

func (p *params) scoreInto(x map[int]float64, scores []float64) {
	for cIdx := range p.ClassList {
		s := p.Bias[cIdx]
		row := p.Weights[cIdx]
		for j, v := range x {
			s += row[j] * v
		}
		scores[cIdx] = s
	}
}

func softmaxInPlace(scores []float64) {
	maxScore := scores[0]
	for _, s := range scores[1:] {
		if s > maxScore {
			maxScore = s
		}
	}
	var sum float64
	for i, s := range scores {
		scores[i] = math.Exp(s - maxScore)
		sum += scores[i]
	}
	for i := range scores {
		scores[i] /= sum
	}
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

// PredictProba returns the posterior distribution per message, columns
// ordered as Classes.
func (c *Classifier) PredictProba(_ context.Context, texts []string) ([][]float64, error) {
	if c.p == nil {
		return nil, classify.ErrNotTrained
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		x := c.p.vectorize(tokenize(text))
		scores := make([]float64, len(c.p.ClassList))
		c.p.scoreInto(x, scores)
		softmaxInPlace(scores)
		out[i] = scores
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

// TopFeatures returns the n highest-weighted terms for a label, for
// interpretability output after training.
func (c *Classifier) TopFeatures(label string, n int) []string {
	if c.p == nil {
		return nil
	}
	cIdx := -1
	for i, class := range c.p.ClassList {
		if class == label {
			cIdx = i
		}
	}
	if cIdx < 0 {
		return nil
	}

	terms := make([]string, len(c.p.Vocab))
	for term, j := range c.p.Vocab {
		terms[j] = term
	}
	order := make([]int, len(terms))
	for i := range order {
		order[i] = i
	}
	row := c.p.Weights[cIdx]
	sort.Slice(order, func(a, b int) bool {
		if row[order[a]] != row[order[b]] {
			return row[order[a]] > row[order[b]]
		}
		return terms[order[a]] < terms[order[b]]
	})
	if n > len(order) {
		n = len(order)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = terms[order[i]]
	}
	return out
}

// Save persists the trained parameters as a kind-tagged blob artifact.
func (c *Classifier) Save(path string) error {
	if c.p == nil {
		return classify.ErrNotTrained
	}
	return classify.WriteBlob(path, classify.KindLexical, c.p)
}

// Load restores a trained classifier from a blob artifact.
func Load(path string) (*Classifier, error) {
	var p params
	if err := classify.ReadBlob(path, classify.KindLexical, &p); err != nil {
		return nil, err
	}
	return &Classifier{p: &p}, nil
}
