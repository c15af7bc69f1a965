package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/mnemo/internal/anthropic"
	"github.com/MikeSquared-Agency/mnemo/internal/config"
	"github.com/MikeSquared-Agency/mnemo/internal/ingest"
	"github.com/MikeSquared-Agency/mnemo/internal/llm"
	"github.com/MikeSquared-Agency/mnemo/internal/openai"
	"github.com/MikeSquared-Agency/mnemo/internal/retrieval"
	"github.com/MikeSquared-Agency/mnemo/internal/segment"
	"github.com/MikeSquared-Agency/mnemo/internal/splitter"
	"github.com/MikeSquared-Agency/mnemo/internal/store"
)

// openIndex connects to Postgres and builds the vector index. It returns a
// nil index (and no error) when no database or embedding endpoint is configured.
func openIndex(ctx context.Context, cfg config.Config, logger *slog.Logger) (*retrieval.Index, *store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, running without history retrieval")
		return nil, nil, nil
	}
	if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == openai.DefaultBaseURL {
		logger.Warn("OPENAI_API_KEY not set, running without history retrieval")
		return nil, nil, nil
	}

	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.Migrate(ctx, cfg.EmbeddingDims); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("database connected", "embedding_dims", cfg.EmbeddingDims)

	embedder := openai.NewEmbedder(openai.New(openai.Config{
		BaseURL: cfg.OpenAIBaseURL,
		APIKey:  cfg.OpenAIAPIKey,
	}), cfg.EmbeddingModel)

	return retrieval.New(embedder, db, logger), db, nil
}

func newGenerator(cfg config.Config) (llm.Generator, error) {
	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for provider anthropic")
		}
		return anthropic.NewClient(cfg.AnthropicAPIKey, cfg.DeepModel), nil
	case "openai":
		return openai.New(openai.Config{
			BaseURL: cfg.OpenAIBaseURL,
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.DeepModel,
		}), nil
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}

func ingestConfig(cfg config.Config, logger *slog.Logger) ingest.Config {
	ic := ingest.Config{
		Chunking: segment.Options{
			MaxMessages: cfg.ChunkMaxMessages,
			IdleGap:     cfg.ChunkIdleGap,
		},
		EmbeddingModel: cfg.EmbeddingModel,
		DateMarkers:    cfg.DateMarkers,
	}
	if cfg.SplitUnit == "tokens" {
		length, err := splitter.TokenLength(cfg.EmbeddingModel)
		if err != nil {
			logger.Warn("tokenizer unavailable, splitting by runes", "error", err)
		} else {
			ic.Length = length
		}
	}
	return ic
}
