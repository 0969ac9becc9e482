package embed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/schollz/progressbar/v3"

	"github.com/siftlabs/sift/internal/common"
)

const encodeBatchSize = 128

// Encoder turns message strings into dense vectors.
type Encoder interface {
	Encode(ctx context.Context, texts []string) ([][]float64, error)
	Model() string
}

// apiEncoder calls an OpenAI-compatible embeddings endpoint. Local inference
// servers expose the same API surface, so the base URL decides where the
// vectors come from.
type apiEncoder struct {
	client *openai.Client
	model  string
	cache  *Cache
}

// NewEncoder builds an encoder against an OpenAI-compatible endpoint. cache
// may be nil to disable caching.
func NewEncoder(baseURL, apiKey, model string, cache *Cache) Encoder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &apiEncoder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		cache:  cache,
	}
}

// Model returns the encoder model name.
func (e *apiEncoder) Model() string {
	return e.model
}

// Encode embeds texts, serving cache hits locally and batching the misses
// against the endpoint.
func (e *apiEncoder) Encode(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))

	var missIdx []int
	if e.cache != nil {
		for i, text := range texts {
			vec, err := e.cache.Get(ctx, e.model, text)
			if err != nil {
				return nil, err
			}
			if vec != nil {
				out[i] = vec
			} else {
				missIdx = append(missIdx, i)
			}
		}
	} else {
		missIdx = make([]int, len(texts))
		for i := range texts {
			missIdx[i] = i
		}
	}

	if len(missIdx) == 0 {
		return out, nil
	}

	slog.Debug("Encoding texts",
		"total", len(texts),
		"cached", len(texts)-len(missIdx),
		"to_encode", len(missIdx))

	var bar *progressbar.ProgressBar
	if len(missIdx) > encodeBatchSize {
		bar = progressbar.Default(int64(len(missIdx)), "encoding")
	}

	for start := 0; start < len(missIdx); start += encodeBatchSize {
		end := start + encodeBatchSize
		if end > len(missIdx) {
			end = len(missIdx)
		}
		batch := missIdx[start:end]

		inputs := make([]string, len(batch))
		for i, idx := range batch {
			inputs[i] = texts[idx]
		}

		var resp openai.EmbeddingResponse
		err := common.WithRetry(ctx, func() error {
			var reqErr error
			resp, reqErr = e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input: inputs,
				Model: openai.EmbeddingModel(e.model),
			})
			return reqErr
		}, common.RetryOptions{MaxAttempts: 3, InitialDelay: time.Second})
		if err != nil {
			return nil, fmt.Errorf("embeddings request failed: %w", err)
		}
		if len(resp.Data) != len(inputs) {
			return nil, fmt.Errorf("embeddings response has %d vectors for %d inputs", len(resp.Data), len(inputs))
		}

		for i, idx := range batch {
			vec := make([]float64, len(resp.Data[i].Embedding))
			for j, v := range resp.Data[i].Embedding {
				vec[j] = float64(v)
			}
			out[idx] = vec
			if e.cache != nil {
				if err := e.cache.Put(ctx, e.model, texts[idx], vec); err != nil {
					return nil, err
				}
			}
		}

		if bar != nil {
			_ = bar.Add(len(batch))
		}
	}

	return out, nil
}
