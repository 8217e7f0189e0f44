// Package metrics records what happened during one plan generation request.
package metrics

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"edurag/internal/domain"
)

const topDetails = 3

// IndexingMetrics covers the indexing of the user's documents.
type IndexingMetrics struct {
	PlanChunks          int     `json:"plan_chunks"`
	DiagnosticChunks    int     `json:"diagnostic_chunks"`
	TotalEmbeddings     int     `json:"total_embeddings"`
	Seconds             float64 `json:"seconds"`
	EmbeddingsPerSecond float64 `json:"embeddings_per_second"`
}

// ResourceDetail describes one of the best retrieved resources.
type ResourceDetail struct {
	Filename   string  `json:"filename"`
	Similarity float64 `json:"similarity"`
	Preview    string  `json:"preview"`
}

// CategoryMetrics summarizes the results of one retrieval category.
type CategoryMetrics struct {
	Count             int              `json:"count"`
	AverageSimilarity float64          `json:"average_similarity"`
	Top               []ResourceDetail `json:"top"`
}

// RetrievalMetrics covers one retrieval call.
type RetrievalMetrics struct {
	Stories    CategoryMetrics `json:"stories"`
	Songs      CategoryMetrics `json:"songs"`
	Activities CategoryMetrics `json:"activities"`
	UserChunks int             `json:"user_chunks"`
	Seconds    float64         `json:"seconds"`
}

// GenerationMetrics covers the generator call.
type GenerationMetrics struct {
	PlanName     string   `json:"plan_name"`
	Modules      int      `json:"modules"`
	ContextChars int      `json:"context_chars"`
	Sources      []string `json:"sources"`
	Seconds      float64  `json:"seconds"`
}

// Session is the record of one generation request.
type Session struct {
	ID           string               `json:"id"`
	UserID       string               `json:"user_id"`
	PlanFilename string               `json:"plan_filename"`
	PlanKey      string               `json:"plan_key,omitempty"`
	StartedAt    time.Time            `json:"started_at"`
	EndedAt      time.Time            `json:"ended_at"`
	TotalSeconds float64              `json:"total_seconds"`
	Indexing     IndexingMetrics      `json:"indexing"`
	Retrieval    RetrievalMetrics     `json:"retrieval"`
	Generation   GenerationMetrics    `json:"generation"`
	Impact       *domain.ImpactReport `json:"impact,omitempty"`
}

// NewSession starts a session for user.
func NewSession(userID, planFilename string) *Session {
	return &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		PlanFilename: planFilename,
		StartedAt:    time.Now().UTC(),
	}
}

// RecordIndexing stores chunk counts and throughput for the user's documents.
func (s *Session) RecordIndexing(planChunks, diagnosticChunks int, elapsed time.Duration) {
	total := planChunks + diagnosticChunks
	s.Indexing = IndexingMetrics{
		PlanChunks:       planChunks,
		DiagnosticChunks: diagnosticChunks,
		TotalEmbeddings:  total,
		Seconds:          round2(elapsed.Seconds()),
	}
	if elapsed > 0 {
		s.Indexing.EmbeddingsPerSecond = round2(float64(total) / elapsed.Seconds())
	}
}

// RecordRetrieval summarizes r. When summarizer is nil previews are plain
// truncations of the chunk text.
func (s *Session) RecordRetrieval(r domain.Retrieval, elapsed time.Duration, summarizer domain.Summarizer) {
	s.Retrieval = RetrievalMetrics{
		Stories:    category(r.Stories, summarizer),
		Songs:      category(r.Songs, summarizer),
		Activities: category(r.Activities, summarizer),
		UserChunks: len(r.UserPlan) + len(r.UserDiagnostic),
		Seconds:    round2(elapsed.Seconds()),
	}
}

func category(results []domain.RetrievalResult, summarizer domain.Summarizer) CategoryMetrics {
	m := CategoryMetrics{Count: len(results), Top: []ResourceDetail{}}
	if len(results) == 0 {
		return m
	}
	var sum float64
	for _, r := range results {
		sum += r.Similarity
	}
	m.AverageSimilarity = round3(sum / float64(len(results)))
	for _, r := range results[:min(topDetails, len(results))] {
		m.Top = append(m.Top, ResourceDetail{
			Filename:   r.Chunk.Filename,
			Similarity: round3(r.Similarity),
			Preview:    preview(r.Chunk.Text, summarizer),
		})
	}
	return m
}

func preview(text string, summarizer domain.Summarizer) string {
	const limit = 200
	if summarizer != nil {
		if sum, err := summarizer.Summarize(text, 2); err == nil && sum != "" {
			text = sum
		}
	}
	r := []rune(strings.TrimSpace(text))
	if len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return string(r)
}

// RecordGeneration stores the generated plan's shape.
func (s *Session) RecordGeneration(plan *domain.Plan, contextChars int, sources []string, elapsed time.Duration) {
	s.Generation = GenerationMetrics{
		ContextChars: contextChars,
		Sources:      append([]string{}, sources...),
		Seconds:      round2(elapsed.Seconds()),
	}
	if plan != nil {
		s.Generation.PlanName = plan.Name
		s.Generation.Modules = len(plan.Modules)
	}
}

// RecordImpact attaches the impact report.
func (s *Session) RecordImpact(report domain.ImpactReport) {
	s.Impact = &report
}

// End closes the session.
func (s *Session) End() {
	s.EndedAt = time.Now().UTC()
	s.TotalSeconds = round2(s.EndedAt.Sub(s.StartedAt).Seconds())
}

// Report renders the session as a human readable text block.
func (s *Session) Report() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session %s (%s)\n", s.ID, s.UserID)
	fmt.Fprintf(&sb, "Started: %s\n", s.StartedAt.Format(time.RFC3339))

	sb.WriteString("\nINDEXING\n")
	fmt.Fprintf(&sb, "  Plan chunks:        %d\n", s.Indexing.PlanChunks)
	fmt.Fprintf(&sb, "  Diagnostic chunks:  %d\n", s.Indexing.DiagnosticChunks)
	fmt.Fprintf(&sb, "  Embeddings:         %d\n", s.Indexing.TotalEmbeddings)
	fmt.Fprintf(&sb, "  Time:               %.2fs (%.2f embeddings/s)\n", s.Indexing.Seconds, s.Indexing.EmbeddingsPerSecond)

	sb.WriteString("\nRETRIEVAL\n")
	for _, c := range []struct {
		label string
		m     CategoryMetrics
	}{
		{"Stories", s.Retrieval.Stories},
		{"Songs", s.Retrieval.Songs},
		{"Activities", s.Retrieval.Activities},
	} {
		fmt.Fprintf(&sb, "  %-11s %d retrieved, average similarity %.1f%%\n", c.label+":", c.m.Count, c.m.AverageSimilarity*100)
		for _, d := range c.m.Top {
			fmt.Fprintf(&sb, "    - %s (%.1f%%)\n", d.Filename, d.Similarity*100)
		}
	}
	fmt.Fprintf(&sb, "  User chunks: %d\n", s.Retrieval.UserChunks)
	fmt.Fprintf(&sb, "  Time:        %.2fs\n", s.Retrieval.Seconds)

	sb.WriteString("\nGENERATION\n")
	name := s.Generation.PlanName
	if name == "" {
		name = "N/A"
	}
	fmt.Fprintf(&sb, "  Plan:         %s\n", name)
	fmt.Fprintf(&sb, "  Modules:      %d\n", s.Generation.Modules)
	fmt.Fprintf(&sb, "  Context:      %d chars\n", s.Generation.ContextChars)
	fmt.Fprintf(&sb, "  Time:         %.2fs\n", s.Generation.Seconds)

	if s.Impact != nil {
		sb.WriteString("\n")
		sb.WriteString(ImpactReport(*s.Impact))
	}
	return sb.String()
}

// ImpactReport renders an impact report.
func ImpactReport(r domain.ImpactReport) string {
	var sb strings.Builder
	sb.WriteString("IMPACT\n")
	fmt.Fprintf(&sb, "  Retrieved resources:  %d\n", r.TotalRetrieved)
	fmt.Fprintf(&sb, "  Resources used:       %d\n", r.ResourcesUsed)
	fmt.Fprintf(&sb, "  Usage:                %.1f%% (from %s)\n", r.UsagePercentage, r.UsageSource)
	fmt.Fprintf(&sb, "  Average similarity:   %.1f%%\n", r.SimilarityAverage*100)
	fmt.Fprintf(&sb, "  Modules w/ resources: %d of %d\n", r.ModulesWithResources, len(r.PerModule))
	if len(r.HighlyRelevant) > 0 {
		sb.WriteString("  Highly relevant:\n")
		for _, m := range r.HighlyRelevant {
			fmt.Fprintf(&sb, "    - %s [%s] %.1f%% %s\n", m.Title, m.Type, m.Similarity*100, m.Level)
		}
	}
	if len(r.Evidence) > 0 {
		sb.WriteString("  Evidence:\n")
		for _, e := range r.Evidence {
			fmt.Fprintf(&sb, "    - %s\n", e)
		}
	}
	return sb.String()
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
