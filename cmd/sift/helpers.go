package main

import (
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/siftlabs/sift/internal/classify"
	"github.com/siftlabs/sift/internal/classify/embed"
	"github.com/siftlabs/sift/internal/classify/ensemble"
	"github.com/siftlabs/sift/internal/classify/lexical"
	"github.com/siftlabs/sift/internal/classify/serving"
	"github.com/siftlabs/sift/internal/config"
)

// buildRegistry wires every classifier variant and artifact loader.
func buildRegistry() *classify.Registry {
	reg := classify.NewRegistry()
	lexical.Register(reg)
	embed.Register(reg)
	serving.Register(reg)
	ensemble.Register(reg)
	return reg
}

// classifierConfig resolves the variant knobs from config and flags.
func classifierConfig() classify.Config {
	cachePath := viper.GetString("encoder.cache_path")
	if cachePath == "" {
		cachePath = "$HOME/.cache/sift/embeddings.db"
	}

	timeout := viper.GetDuration("serving.timeout")
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return classify.Config{
		ClassWeight:    viper.GetString("train.class_weight"),
		Seed:           viper.GetInt64("train.seed"),
		EncoderModel:   viper.GetString("encoder.model"),
		EncoderBaseURL: viper.GetString("encoder.base_url"),
		EncoderAPIKey:  viper.GetString("encoder.api_key"),
		CachePath:      config.ExpandPath(cachePath),
		ServingURL:     viper.GetString("serving.url"),
		ServingTimeout: timeout,
	}
}

// splitPath resolves the frozen split file, defaulting to test-ids.json next
// to the corpus so corpus and split travel together.
func splitPath(corpusPath string) string {
	if p := viper.GetString("split.path"); p != "" {
		return config.ExpandPath(p)
	}
	return filepath.Join(filepath.Dir(corpusPath), "test-ids.json")
}
