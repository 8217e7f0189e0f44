package service

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem/llm/gemini"

	"edurag/internal/blobstore"
	blobfs "edurag/internal/blobstore/fs"
	"edurag/internal/blobstore/gcs"
	"edurag/internal/config"
	"edurag/internal/domain"
	"edurag/internal/embedding"
	embgemini "edurag/internal/embedding/gemini"
	"edurag/internal/embedding/local"
	"edurag/internal/embedding/openai"
	"edurag/internal/generator"
	"edurag/internal/logging"
	"edurag/internal/summarizer"
	"edurag/internal/vectorstore"
	"edurag/internal/vectorstore/firestore"
	"edurag/internal/vectorstore/memory"
	"edurag/internal/vectorstore/qdrant"
	"edurag/internal/vectorstore/sqlite"
)

// Build creates every backend named by cfg and the service on top of them.
func Build(ctx context.Context, cfg *config.AppConfig) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.From(ctx)

	var llm *gemini.Client
	needsGemini := cfg.Embedder.Type == "gemini" || (cfg.Generator.Type == "gemini" && cfg.Gemini.ProjectID != "")
	if needsGemini {
		client, err := gemini.New(ctx, cfg.Gemini.ProjectID, cfg.Gemini.Location)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create Gemini client",
				goerr.V("project", cfg.Gemini.ProjectID), goerr.V("location", cfg.Gemini.Location))
		}
		llm = client
	}

	emb, err := buildEmbedder(cfg, llm)
	if err != nil {
		return nil, err
	}
	idx, err := buildIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}
	blob, err := buildBlob(ctx, cfg)
	if err != nil {
		_ = idx.Close()
		return nil, err
	}

	var gen generator.Generator = generator.Disabled{}
	switch {
	case cfg.Generator.Type == "gemini" && llm != nil:
		gen = generator.NewRetrying(
			generator.New(generator.NewGemini(llm), time.Duration(cfg.Generator.TimeoutSecs)*time.Second),
			generator.RetryPolicy{
				MaxAttempts: cfg.Generator.MaxAttempts,
				BaseDelay:   time.Duration(cfg.Generator.BaseDelayMs) * time.Millisecond,
				MaxDelay:    time.Duration(cfg.Generator.MaxDelayMs) * time.Millisecond,
			})
	case cfg.Generator.Type == "gemini":
		logger.Warn("gemini.project_id is not set, plan generation is disabled")
	}

	var sum domain.Summarizer
	if cfg.Summarizer.Type == "frequency" {
		sum = summarizer.NewFrequencySummarizer()
	}

	svc, err := New(cfg, Deps{
		Index:      idx,
		Embedder:   emb,
		Generator:  gen,
		Blob:       blob,
		Summarizer: sum,
		Backend:    cfg.VectorStore.Type,
	})
	if err != nil {
		_ = idx.Close()
		return nil, err
	}
	logger.Debug("service ready",
		slog.String("embedder", emb.Name()),
		slog.String("vector_store", cfg.VectorStore.Type),
		slog.String("generator", cfg.Generator.Type),
		slog.String("blob", cfg.Blob.Type))
	return svc, nil
}

func buildEmbedder(cfg *config.AppConfig, llm *gemini.Client) (embedding.Embedder, error) {
	switch cfg.Embedder.Type {
	case "local":
		return local.NewEmbedder(cfg.Embedder.Dimension), nil
	case "openai":
		oc := cfg.Embedder.OpenAI
		return openai.NewClient(openai.Config{
			BaseURL:   oc.BaseURL,
			APIKeyEnv: oc.APIKeyEnv,
			Model:     oc.Model,
			Dimension: cfg.Embedder.Dimension,
			Timeout:   time.Duration(oc.TimeoutSecs) * time.Second,
		})
	case "gemini":
		return embgemini.New(llm, cfg.Embedder.Dimension), nil
	}
	return nil, goerr.Wrap(config.ErrInvalidConfig, "unknown embedder", goerr.V("type", cfg.Embedder.Type))
}

func buildIndex(ctx context.Context, cfg *config.AppConfig) (vectorstore.Index, error) {
	vs := cfg.VectorStore
	dim := cfg.Embedder.Dimension
	switch vs.Type {
	case "memory":
		return memory.NewStorage(dim), nil
	case "sqlite":
		return sqlite.Open(ctx, vs.SQLite.Path, vs.Collection, dim)
	case "qdrant":
		apiKey := vs.Qdrant.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("QDRANT_API_KEY")
		}
		return qdrant.New(ctx, qdrant.Config{
			URL:        vs.Qdrant.URL,
			APIKey:     apiKey,
			Collection: vs.Collection,
			Dimension:  dim,
			Timeout:    time.Duration(vs.Qdrant.TimeoutSecs) * time.Second,
		})
	case "firestore":
		return firestore.New(ctx, vs.Firestore.ProjectID, vs.Firestore.DatabaseID, vs.Collection, dim)
	}
	return nil, goerr.Wrap(config.ErrInvalidConfig, "unknown vector store", goerr.V("type", vs.Type))
}

func buildBlob(ctx context.Context, cfg *config.AppConfig) (blobstore.Store, error) {
	switch cfg.Blob.Type {
	case "fs":
		return blobfs.New(cfg.Blob.Dir)
	case "gcs":
		return gcs.New(ctx, cfg.Blob.Bucket, cfg.Blob.Prefix)
	}
	return nil, goerr.Wrap(config.ErrInvalidConfig, "unknown blob store", goerr.V("type", cfg.Blob.Type))
}
