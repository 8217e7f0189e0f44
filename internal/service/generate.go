package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"edurag/internal/blobstore"
	"edurag/internal/domain"
	"edurag/internal/generator"
	"edurag/internal/indexer"
	"edurag/internal/logging"
	"edurag/internal/metrics"
	"edurag/internal/prompt"
	"edurag/internal/retriever"
)

// GenerateRequest is one plan generation request.
type GenerateRequest struct {
	UserID     string
	Plan       UserDocument
	Diagnostic *UserDocument
	// NTotal overrides the configured retrieval budget when positive.
	NTotal int
}

// GenerateResult carries the plan and everything measured on the way.
type GenerateResult struct {
	Plan      *domain.Plan
	PlanKey   string
	Impact    domain.ImpactReport
	Retrieval domain.Retrieval
	Context   string
	Session   *metrics.Session
}

// GeneratePlan indexes the user's documents, retrieves library resources,
// asks the generator for a plan and measures how much of the retrieved
// material the plan uses. The plan and the metrics session are persisted.
// An empty library is not an error: the generator then gets the plain text.
func (s *Service) GeneratePlan(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	logger := logging.From(ctx).With(slog.String("user", req.UserID))
	session := metrics.NewSession(req.UserID, req.Plan.Filename)
	ctx = logging.With(ctx, logger.With(slog.String("session", session.ID)))

	start := time.Now()
	planChunks, diagChunks, err := s.IndexUserDocuments(ctx, req.UserID, req.Plan, req.Diagnostic)
	if err != nil {
		return nil, err
	}
	session.RecordIndexing(planChunks, diagChunks, time.Since(start))

	planText := indexer.DecodeText(req.Plan.Data)
	var diagText string
	if req.Diagnostic != nil {
		diagText = indexer.DecodeText(req.Diagnostic.Data)
	}

	start = time.Now()
	r, err := s.Retrieve(ctx, retriever.Query{
		PlanText:       planText,
		DiagnosticText: diagText,
		UserID:         req.UserID,
		NTotal:         req.NTotal,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "retrieval failed", goerr.V("user", req.UserID))
	}
	session.RecordRetrieval(r, time.Since(start), s.summarizer)

	ragContext := s.BuildContext(r)
	if ragContext == "" {
		logger.Warn("no library context available, generating without enrichment")
	}
	sources := Sources(r)

	start = time.Now()
	plan, err := s.generator.Generate(ctx, generator.Request{
		Prompt:         prompt.Enrich(planText, ragContext),
		DiagnosticText: diagText,
	})
	if err != nil {
		session.End()
		s.saveSession(ctx, session)
		return nil, goerr.Wrap(err, "plan generation failed", goerr.V("user", req.UserID), goerr.V("session", session.ID))
	}
	contextChars := len([]rune(ragContext))
	session.RecordGeneration(plan, contextChars, sources, time.Since(start))

	impact := s.Analyze(plan, r)
	session.RecordImpact(impact)

	rec := PlanRecord{
		SessionID: session.ID,
		UserID:    req.UserID,
		CreatedAt: time.Now().UTC(),
		Plan:      plan,
		RAG: RAGMetadata{
			Sources:      sources,
			Retrieved:    r.Total(),
			ContextChars: contextChars,
		},
	}
	key := PlanKey(req.UserID, session.ID)
	if err := s.savePlan(ctx, key, rec); err != nil {
		logger.Warn("failed to persist plan", logging.ErrAttr(err))
		key = ""
	}
	session.PlanKey = key
	session.End()
	s.saveSession(ctx, session)

	logger.Info("plan generated",
		slog.String("plan", plan.Name),
		slog.Int("modules", len(plan.Modules)),
		slog.Int("resources_used", impact.ResourcesUsed),
		slog.Float64("usage_percentage", impact.UsagePercentage))

	return &GenerateResult{
		Plan:      plan,
		PlanKey:   key,
		Impact:    impact,
		Retrieval: r,
		Context:   ragContext,
		Session:   session,
	}, nil
}

// PlanKey returns the blob key of a generated plan.
func PlanKey(userID, sessionID string) string {
	return blobstore.Join("plans", userID, sessionID+".json")
}

func (s *Service) savePlan(ctx context.Context, key string, rec PlanRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to encode plan record")
	}
	return s.blob.Put(ctx, key, data)
}

func (s *Service) saveSession(ctx context.Context, session *metrics.Session) {
	if err := s.sessions.Save(ctx, session); err != nil {
		logging.From(ctx).Warn("failed to persist metrics session", logging.ErrAttr(err))
	}
}
