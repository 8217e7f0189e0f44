package vectorstore

import (
	"context"
	"math"
	"sort"

	"github.com/m-mizutani/goerr/v2"

	"edurag/internal/domain"
)

// ErrInvalidEntries marks a rejected write. Nothing was stored.
var ErrInvalidEntries = goerr.New("invalid index entries")

// Index persists vectors with chunk metadata and answers filtered
// similarity queries. Implementations are safe for concurrent use.
type Index interface {
	// Add inserts or overwrites entries by ID.
	Add(ctx context.Context, entries []domain.IndexEntry) error
	// Query returns at most k entries matching filter, most similar first.
	Query(ctx context.Context, vector []float32, k int, filter domain.Filter) ([]domain.RetrievalResult, error)
	// Delete removes every entry matching filter.
	Delete(ctx context.Context, filter domain.Filter) error
	Count(ctx context.Context) (int, error)
	// Reset drops and recreates the collection.
	Reset(ctx context.Context) error
	Close() error
}

// NewEntries pairs chunks with their vectors.
func NewEntries(chunks []domain.Chunk, vectors [][]float32) ([]domain.IndexEntry, error) {
	if len(chunks) != len(vectors) {
		return nil, goerr.Wrap(ErrInvalidEntries, "chunks and vectors length mismatch",
			goerr.V("chunks", len(chunks)), goerr.V("vectors", len(vectors)))
	}
	entries := make([]domain.IndexEntry, len(chunks))
	for i := range chunks {
		entries[i] = domain.IndexEntry{ID: chunks[i].ID(), Vector: vectors[i], Chunk: chunks[i]}
	}
	return entries, nil
}

// Validate checks a batch before any backend write. dim <= 0 accepts the
// width of the first entry.
func Validate(entries []domain.IndexEntry, dim int) error {
	if len(entries) == 0 {
		return goerr.Wrap(ErrInvalidEntries, "no entries to add")
	}
	if dim <= 0 {
		dim = len(entries[0].Vector)
	}
	for _, e := range entries {
		if e.ID == "" {
			return goerr.Wrap(ErrInvalidEntries, "entry without id", goerr.V("filename", e.Chunk.Filename))
		}
		if len(e.Vector) != dim || dim == 0 {
			return goerr.Wrap(ErrInvalidEntries, "vector dimension mismatch",
				goerr.V("id", e.ID), goerr.V("want", dim), goerr.V("got", len(e.Vector)))
		}
		if err := e.Chunk.DocumentType.Validate(); err != nil {
			return goerr.Wrap(ErrInvalidEntries, "entry has invalid document type",
				goerr.V("id", e.ID), goerr.V("type", string(e.Chunk.DocumentType)))
		}
	}
	return nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero vector.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SimilarityFromDistance converts a cosine distance into a similarity in [0, 1].
func SimilarityFromDistance(distance float64) float64 {
	return Clamp(1 - distance)
}

// Clamp bounds a similarity to [0, 1].
func Clamp(s float64) float64 {
	if s < 0 || math.IsNaN(s) {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// Rank sorts results by similarity descending, ties by chunk ID, and keeps the first k.
func Rank(results []domain.RetrievalResult, k int) []domain.RetrievalResult {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Chunk.ID() < results[j].Chunk.ID()
	})
	if k < len(results) {
		results = results[:k]
	}
	return results
}
