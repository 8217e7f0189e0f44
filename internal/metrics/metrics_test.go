package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"edurag/internal/blobstore/fs"
	"edurag/internal/domain"
	"edurag/internal/metrics"
	"edurag/internal/summarizer"
)

func sampleRetrieval() domain.Retrieval {
	r := domain.NewRetrieval()
	for i, name := range []string{"El_patito_feo.txt", "La_tortuga.txt", "Caperucita.txt", "Pinocho.txt"} {
		r.Stories = append(r.Stories, domain.RetrievalResult{
			Chunk:      domain.Chunk{Text: "Había una vez un cuento. El cuento terminó.", Filename: name, DocumentType: domain.DocumentStory},
			Similarity: 0.8 - float64(i)*0.1,
		})
	}
	r.UserPlan = []domain.RetrievalResult{{Chunk: domain.Chunk{Filename: "plan.txt", DocumentType: domain.DocumentPlan}}}
	return r
}

func TestSessionRecording(t *testing.T) {
	s := metrics.NewSession("ana@example.com", "plan.txt")
	gt.String(t, s.ID).NotEqual("")

	s.RecordIndexing(3, 1, 2*time.Second)
	gt.Value(t, s.Indexing.TotalEmbeddings).Equal(4)
	gt.Value(t, s.Indexing.EmbeddingsPerSecond).Equal(2.0)

	s.RecordRetrieval(sampleRetrieval(), 500*time.Millisecond, summarizer.NewFrequencySummarizer())
	gt.Value(t, s.Retrieval.Stories.Count).Equal(4)
	gt.Array(t, s.Retrieval.Stories.Top).Length(3).Required()
	gt.Value(t, s.Retrieval.Stories.Top[0].Filename).Equal("El_patito_feo.txt")
	gt.Value(t, s.Retrieval.Stories.AverageSimilarity).Equal(0.65)
	gt.Value(t, s.Retrieval.Songs.Count).Equal(0)
	gt.Value(t, s.Retrieval.UserChunks).Equal(1)

	plan := &domain.Plan{Name: "Aceptamos las diferencias", Modules: []domain.Module{{Name: "m1"}, {Name: "m2"}}}
	s.RecordGeneration(plan, 1234, []string{"El_patito_feo.txt"}, 3*time.Second)
	gt.Value(t, s.Generation.Modules).Equal(2)

	s.RecordImpact(domain.ImpactReport{TotalRetrieved: 4, ResourcesUsed: 1, UsagePercentage: 25, UsageSource: domain.UsageFromRetrieved})
	s.End()
	gt.Bool(t, !s.EndedAt.Before(s.StartedAt)).True()

	report := s.Report()
	gt.String(t, report).Contains("Aceptamos las diferencias")
	gt.String(t, report).Contains("El_patito_feo.txt (80.0%)")
	gt.String(t, report).Contains("Usage:                25.0% (from retrieved)")
}

func TestRecordGenerationWithoutPlan(t *testing.T) {
	s := metrics.NewSession("ana@example.com", "plan.txt")
	s.RecordGeneration(nil, 0, nil, 0)
	gt.String(t, s.Report()).Contains("N/A")
}

func TestStoreListsNewestFirst(t *testing.T) {
	ctx := context.Background()
	blob, err := fs.New(t.TempDir())
	gt.NoError(t, err).Required()
	store := metrics.NewStore(blob)

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	var ids []string
	for i := range 3 {
		s := metrics.NewSession("ana@example.com", "plan.txt")
		s.StartedAt = base.Add(time.Duration(i) * time.Hour)
		gt.NoError(t, store.Save(ctx, s)).Required()
		ids = append(ids, s.ID)
	}
	other := metrics.NewSession("luis@example.com", "plan.txt")
	gt.NoError(t, store.Save(ctx, other)).Required()
	gt.NoError(t, blob.Put(ctx, "metrics/ana@example.com/broken.json", []byte("{"))).Required()

	sessions, err := store.List(ctx, "ana@example.com")
	gt.NoError(t, err).Required()
	gt.Array(t, sessions).Length(3).Required()
	gt.Value(t, sessions[0].ID).Equal(ids[2])
	gt.Value(t, sessions[2].ID).Equal(ids[0])

	none, err := store.List(ctx, "nadie@example.com")
	gt.NoError(t, err).Required()
	gt.Array(t, none).Length(0)
}
