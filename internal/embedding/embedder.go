package embedding

import (
	"context"
	"log/slog"
	"strings"

	"edurag/internal/logging"
)

// Embedder converts a batch of texts into fixed-dimension vectors.
// Backends may fail; Service absorbs those failures.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Service wraps a backend with the guarantees the pipeline relies on:
// output length equals input length, every vector has Dimension entries,
// and failures degrade to zero vectors instead of errors.
type Service struct {
	backend Embedder
	dim     int
}

// NewService wraps backend.
func NewService(backend Embedder) *Service {
	return &Service{backend: backend, dim: backend.Dimension()}
}

// Name returns the backend identifier.
func (s *Service) Name() string { return s.backend.Name() }

// Dimension returns the constant vector width.
func (s *Service) Dimension() int { return s.dim }

// EmbedOne embeds a single text.
func (s *Service) EmbedOne(ctx context.Context, text string) []float32 {
	return s.EmbedMany(ctx, []string{text})[0]
}

// EmbedQuery embeds retrieval query text. It is kept separate from EmbedOne
// so asymmetric backends can diverge without touching callers.
func (s *Service) EmbedQuery(ctx context.Context, text string) []float32 {
	return s.EmbedOne(ctx, text)
}

// EmbedMany embeds texts in order. Blank texts get zero vectors without
// reaching the backend.
func (s *Service) EmbedMany(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	pending := make([]string, 0, len(texts))
	slots := make([]int, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			out[i] = s.zero()
			continue
		}
		pending = append(pending, t)
		slots = append(slots, i)
	}
	if len(pending) == 0 {
		return out
	}

	logger := logging.From(ctx)
	vectors, err := s.backend.Embed(ctx, pending)
	if err != nil {
		logger.Warn("embedding failed, using zero vectors",
			slog.String("backend", s.backend.Name()),
			slog.Int("texts", len(pending)),
			logging.ErrAttr(err))
		vectors = nil
	} else if len(vectors) != len(pending) {
		logger.Warn("embedding backend returned wrong count, using zero vectors",
			slog.String("backend", s.backend.Name()),
			slog.Int("want", len(pending)),
			slog.Int("got", len(vectors)))
		vectors = nil
	}

	for j, slot := range slots {
		if vectors == nil {
			out[slot] = s.zero()
			continue
		}
		v := vectors[j]
		if len(v) != s.dim {
			logger.Warn("embedding has wrong dimension, using zero vector",
				slog.String("backend", s.backend.Name()),
				slog.Int("want", s.dim),
				slog.Int("got", len(v)))
			out[slot] = s.zero()
			continue
		}
		out[slot] = v
	}
	return out
}

func (s *Service) zero() []float32 { return make([]float32, s.dim) }

// IsZero reports whether every component of v is zero.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
