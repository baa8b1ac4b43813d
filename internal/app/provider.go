package app

import (
	"context"
	"fmt"

	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	openaiopt "github.com/openai/openai-go/option"

	"github.com/dshills/swiss/internal/config"
	"github.com/dshills/swiss/review/model"
	"github.com/dshills/swiss/review/model/anthropic"
	"github.com/dshills/swiss/review/model/codex"
	"github.com/dshills/swiss/review/model/google"
	"github.com/dshills/swiss/review/model/openai"
)

// NewClient builds the reasoning-service client selected by cfg.Provider.
// The returned close function releases provider resources.
func NewClient(ctx context.Context, cfg *config.Config) (model.Client, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Provider {
	case config.ProviderCodex:
		return codex.NewClient(cfg.Codex.Binary), noop, nil

	case config.ProviderAnthropic:
		if cfg.Anthropic.APIKey == "" {
			return nil, noop, fmt.Errorf("anthropic: API key is required (set ANTHROPIC_API_KEY)")
		}
		var opts []anthropicopt.RequestOption
		if cfg.Anthropic.BaseURL != "" {
			opts = append(opts, anthropicopt.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		client := anthropic.NewClient(cfg.Anthropic.APIKey, opts...).WithMaxTokens(cfg.Anthropic.MaxTokens)
		return client, noop, nil

	case config.ProviderOpenAI:
		if cfg.OpenAI.APIKey == "" {
			return nil, noop, fmt.Errorf("openai: API key is required (set OPENAI_API_KEY)")
		}
		var opts []openaiopt.RequestOption
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openaiopt.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		return openai.NewClient(cfg.OpenAI.APIKey, opts...), noop, nil

	case config.ProviderGoogle:
		if cfg.Google.APIKey == "" {
			return nil, noop, fmt.Errorf("google: API key is required (set GOOGLE_API_KEY)")
		}
		client, err := google.NewClient(ctx, cfg.Google.APIKey)
		if err != nil {
			return nil, noop, err
		}
		return client, client.Close, nil
	}
	return nil, noop, fmt.Errorf("unknown provider %q", cfg.Provider)
}
