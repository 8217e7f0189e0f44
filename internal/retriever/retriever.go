// Package retriever answers one retrieval request: a single query vector is
// matched against every library category and the caller's own documents.
package retriever

import (
	"context"
	"log/slog"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"

	"edurag/internal/domain"
	"edurag/internal/embedding"
	"edurag/internal/logging"
	"edurag/internal/vectorstore"
)

// Defaults for a retrieval request.
const (
	DefaultNTotal = 15
	DefaultUserK  = 5
)

// Query describes one retrieval request.
type Query struct {
	PlanText       string
	DiagnosticText string
	UserID         string
	// NTotal is split evenly across the library categories. Zero uses the
	// retriever's default.
	NTotal int
}

// Text returns the query string that gets embedded.
func (q Query) Text() string {
	if strings.TrimSpace(q.DiagnosticText) == "" {
		return q.PlanText
	}
	return q.PlanText + "\n\n" + q.DiagnosticText
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithNTotal sets the default total budget across library categories.
func WithNTotal(n int) Option {
	return func(r *Retriever) { r.nTotal = n }
}

// WithUserK sets how many of the user's own chunks are retrieved.
func WithUserK(k int) Option {
	return func(r *Retriever) { r.userK = k }
}

// WithRemainderRedistribution gives the NTotal % 3 leftover slots to the
// category whose best match is strongest.
func WithRemainderRedistribution(enabled bool) Option {
	return func(r *Retriever) { r.redistribute = enabled }
}

// Retriever runs categorized similarity queries.
type Retriever struct {
	embedder     *embedding.Service
	index        vectorstore.Index
	nTotal       int
	userK        int
	redistribute bool
}

// New creates a Retriever.
func New(e *embedding.Service, idx vectorstore.Index, opts ...Option) *Retriever {
	r := &Retriever{embedder: e, index: idx, nTotal: DefaultNTotal, userK: DefaultUserK}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve embeds the query once and fans the vector out to one query per
// library category plus one for the user's scope. Empty categories are
// returned as empty slices, never as errors.
func (r *Retriever) Retrieve(ctx context.Context, q Query) (domain.Retrieval, error) {
	out := domain.NewRetrieval()
	nTotal := q.NTotal
	if nTotal <= 0 {
		nTotal = r.nTotal
	}
	perType := nTotal / len(domain.LibraryTypes)
	remainder := 0
	if r.redistribute {
		remainder = nTotal % len(domain.LibraryTypes)
	}

	vector := r.embedder.EmbedQuery(ctx, q.Text())
	logger := logging.From(ctx)
	if embedding.IsZero(vector) {
		logger.Warn("query embedding is empty, similarities will be zero")
	}

	library := make([][]domain.RetrievalResult, len(domain.LibraryTypes))
	var user []domain.RetrievalResult

	eg, egCtx := errgroup.WithContext(ctx)
	if perType+remainder > 0 {
		for i, t := range domain.LibraryTypes {
			eg.Go(func() error {
				res, err := r.index.Query(egCtx, vector, perType+remainder, domain.TypeFilter(t))
				if err != nil {
					return goerr.Wrap(err, "category query failed", goerr.V("type", t.String()))
				}
				library[i] = res
				return nil
			})
		}
	}
	if q.UserID != "" && q.UserID != domain.GeneralScope && r.userK > 0 {
		eg.Go(func() error {
			res, err := r.index.Query(egCtx, vector, r.userK, domain.OwnerFilter(q.UserID))
			if err != nil {
				return goerr.Wrap(err, "user query failed", goerr.V("user", q.UserID))
			}
			user = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return out, err
	}

	if remainder > 0 {
		library = trimToBudget(library, perType, remainder)
	}
	for i, t := range domain.LibraryTypes {
		out.Set(t, library[i])
	}
	for _, res := range user {
		switch res.Chunk.DocumentType {
		case domain.DocumentPlan:
			out.UserPlan = append(out.UserPlan, res)
		case domain.DocumentDiagnostic:
			out.UserDiagnostic = append(out.UserDiagnostic, res)
		}
	}

	logger.Debug("retrieval finished",
		slog.Int("stories", len(out.Stories)),
		slog.Int("songs", len(out.Songs)),
		slog.Int("activities", len(out.Activities)),
		slog.Int("user_plan", len(out.UserPlan)),
		slog.Int("user_diagnostic", len(out.UserDiagnostic)))
	return out, nil
}

// trimToBudget keeps perType results per category, plus the remainder for
// the category whose top result is the most similar.
func trimToBudget(library [][]domain.RetrievalResult, perType, remainder int) [][]domain.RetrievalResult {
	best, bestSim := -1, -1.0
	for i, res := range library {
		if len(res) > perType && res[0].Similarity > bestSim {
			best, bestSim = i, res[0].Similarity
		}
	}
	for i, res := range library {
		limit := perType
		if i == best {
			limit += remainder
		}
		if len(res) > limit {
			library[i] = res[:limit]
		}
	}
	return library
}
