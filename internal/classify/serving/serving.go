// Package serving implements the transformer and setfit classifier variants.
// Their training happens outside this process; here they are load-only
// artifacts whose predictions come from an inference server speaking a small
// JSON protocol.
package serving

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/siftlabs/sift/internal/classify"
	"github.com/siftlabs/sift/internal/common"
)

const defaultTimeout = 120 * time.Second

// Classifier proxies predictions for a fine-tuned model directory to an
// inference endpoint. One type serves both the transformer and setfit kinds;
// only the artifact layout that produced it differs.
type Classifier struct {
	kind     string
	endpoint string
	classes  []string
	client   *http.Client
}

// Register wires the two served variants into a registry. Constructing either
// fresh is rejected: fine-tuning runs outside this tool, so only loading an
// exported model directory is supported.
func Register(reg *classify.Registry) {
	for _, kind := range []string{classify.KindTransformer, classify.KindSetFit} {
		kind := kind
		reg.Register(kind, func(_ classify.Config) (classify.Classifier, error) {
			return nil, &classify.ConfigurationError{
				Reason: fmt.Sprintf("%s models are fine-tuned externally; point at an exported model directory instead", kind),
			}
		})
		reg.RegisterLoader(kind, func(path string, cfg classify.Config) (classify.Classifier, error) {
			return Load(path, kind, cfg)
		})
	}
}

// Load reads the label mapping from an exported model directory and binds it
// to the configured inference endpoint.
func Load(path, kind string, cfg classify.Config) (*Classifier, error) {
	classes, err := readLabelMapping(filepath.Join(path, "label_mapping.json"))
	if err != nil {
		return nil, err
	}

	if cfg.ServingURL == "" {
		return nil, &classify.ConfigurationError{
			Reason: fmt.Sprintf("%s models need a serving URL (set serving.url or --serving-url)", kind),
		}
	}

	timeout := cfg.ServingTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Classifier{
		kind:     kind,
		endpoint: cfg.ServingURL,
		classes:  classes,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// readLabelMapping parses {"0": "chore", "1": "docs", ...} into a slice
// indexed by model output column.
func readLabelMapping(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &classify.ArtifactFormatError{Path: path, Reason: "label mapping unreadable: " + err.Error()}
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &classify.ArtifactFormatError{Path: path, Reason: "label mapping is not a JSON object: " + err.Error()}
	}
	if len(raw) == 0 {
		return nil, &classify.ArtifactFormatError{Path: path, Reason: "label mapping is empty"}
	}

	classes := make([]string, len(raw))
	for key, label := range raw {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(raw) {
			return nil, &classify.ArtifactFormatError{
				Path:   path,
				Reason: fmt.Sprintf("label mapping key %q is not a dense index", key),
			}
		}
		classes[idx] = label
	}
	for i, label := range classes {
		if label == "" {
			return nil, &classify.ArtifactFormatError{
				Path:   path,
				Reason: fmt.Sprintf("label mapping has no entry for index %d", i),
			}
		}
	}
	return classes, nil
}

// Train always fails: served models are fine-tuned out of process.
func (c *Classifier) Train(_ context.Context, _, _ []string) error {
	return &classify.ConfigurationError{
		Reason: fmt.Sprintf("%s models cannot be trained here; fine-tune externally and load the exported directory", c.kind),
	}
}

type predictRequest struct {
	Texts []string `json:"texts"`
}

type predictResponse struct {
	Probabilities [][]float64 `json:"probabilities"`
}

// PredictProba sends the texts to the inference endpoint and returns the
// probability rows, columns ordered as Classes.
func (c *Classifier) PredictProba(ctx context.Context, texts []string) ([][]float64, error) {
	body, err := json.Marshal(predictRequest{Texts: texts})
	if err != nil {
		return nil, err
	}

	var result predictResponse
	err = common.WithRetry(ctx, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")

		resp, reqErr := c.client.Do(req)
		if reqErr != nil {
			return &common.RetryableError{
				Err:       fmt.Errorf("%w: %v", common.ErrServingUnavailable, reqErr),
				Retryable: true,
			}
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusTooManyRequests {
			return &common.RetryableError{Err: common.ErrRateLimit, Retryable: true}
		}
		if resp.StatusCode >= 500 {
			return &common.RetryableError{
				Err:       fmt.Errorf("%w: %s", common.ErrServingUnavailable, resp.Status),
				Retryable: true,
			}
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("inference server returned %s", resp.Status)
		}

		return json.NewDecoder(resp.Body).Decode(&result)
	}, common.RetryOptions{MaxAttempts: 3, InitialDelay: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%s prediction failed: %w", c.kind, err)
	}

	if len(result.Probabilities) != len(texts) {
		return nil, fmt.Errorf("inference server returned %d rows for %d texts", len(result.Probabilities), len(texts))
	}
	for i, row := range result.Probabilities {
		if len(row) != len(c.classes) {
			return nil, fmt.Errorf("inference server row %d has %d columns, label mapping has %d", i, len(row), len(c.classes))
		}
	}
	return result.Probabilities, nil
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
		out[i] = c.classes[best]
	}
	return out, nil
}

// Classes returns the label vocabulary in model output column order.
func (c *Classifier) Classes() []string {
	return c.classes
}
