package service_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/m-mizutani/gt"

	blobfs "edurag/internal/blobstore/fs"
	"edurag/internal/config"
	"edurag/internal/domain"
	"edurag/internal/embedding/local"
	"edurag/internal/generator"
	"edurag/internal/retriever"
	"edurag/internal/service"
	"edurag/internal/summarizer"
	"edurag/internal/vectorstore/memory"
)

type fakeGenerator struct {
	mu       sync.Mutex
	requests []generator.Request
	plan     *domain.Plan
	err      error
}

func (f *fakeGenerator) Generate(_ context.Context, req generator.Request) (*domain.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	p := *f.plan
	return &p, nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	gt.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755)).Required()
	gt.NoError(t, os.WriteFile(path, []byte(content), 0o644)).Required()
}

type fixture struct {
	svc   *service.Service
	gen   *fakeGenerator
	index *memory.Storage
	root  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "library", "stories", "El_patito_feo.txt"),
		"El patito feo era diferente a sus hermanos. Aprendió la aceptación y el respeto a las diferencias.")
	writeFile(t, filepath.Join(root, "library", "stories", "La_tortuga_y_la_liebre.txt"),
		"La tortuga constante ganó la carrera a la liebre presumida.")
	writeFile(t, filepath.Join(root, "library", "songs", "Los_pollitos_dicen.txt"),
		"Los pollitos dicen pío pío pío cuando tienen hambre, cuando tienen frío.")
	writeFile(t, filepath.Join(root, "library", "activities", "Ronda_de_diferencias.txt"),
		"Ronda en círculo: cada niño comparte algo que lo hace diferente y el grupo celebra las diferencias.")

	cfg := config.Default()
	cfg.Library.StoryDir = filepath.Join(root, "library", "stories")
	cfg.Library.SongDir = filepath.Join(root, "library", "songs")
	cfg.Library.ActivityDir = filepath.Join(root, "library", "activities")
	cfg.VectorStore.Type = "memory"
	cfg.Retrieval.NTotal = 6
	gt.NoError(t, cfg.Validate()).Required()

	blob, err := blobfs.New(filepath.Join(root, "data"))
	gt.NoError(t, err).Required()

	gen := &fakeGenerator{plan: &domain.Plan{
		Name: "Aceptamos las diferencias",
		Modules: []domain.Module{
			{
				Number:     1,
				Name:       "Todos somos distintos",
				Objective:  "Reconocer las diferencias con el patito",
				Activities: []domain.Activity{{Name: "Lectura", Description: "Leer El patito feo en voz alta"}},
			},
		},
		Resources: &domain.ResourceSection{
			Stories: []domain.DeclaredResource{{Title: "El patito feo", Kind: domain.ResourceReal}},
		},
	}}

	idx := memory.NewStorage(384)
	svc, err := service.New(cfg, service.Deps{
		Index:      idx,
		Embedder:   local.NewEmbedder(384),
		Generator:  gen,
		Blob:       blob,
		Summarizer: summarizer.NewFrequencySummarizer(),
		Backend:    "memory",
	})
	gt.NoError(t, err).Required()
	t.Cleanup(func() { gt.NoError(t, svc.Close()) })
	return &fixture{svc: svc, gen: gen, index: idx, root: root}
}

func planRequest(user string) service.GenerateRequest {
	return service.GenerateRequest{
		UserID: user,
		Plan: service.UserDocument{
			Filename: "plan.txt",
			Data:     []byte("Plan de aula sobre la aceptación de las diferencias entre compañeros."),
		},
		Diagnostic: &service.UserDocument{
			Filename: "diagnostico.txt",
			Data:     []byte("El grupo muestra burlas hacia quien es diferente."),
		},
	}
}

func TestGeneratePlanEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	stats, err := f.svc.InitializeLibrary(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, stats).Equal(service.LibraryStats{Stories: 2, Songs: 1, Activities: 1})

	res, err := f.svc.GeneratePlan(ctx, planRequest("ana@example.com"))
	gt.NoError(t, err).Required()

	gt.Array(t, f.gen.requests).Length(1).Required()
	req := f.gen.requests[0]
	gt.String(t, req.Prompt).Contains("Plan de aula")
	gt.String(t, req.Prompt).Contains("El_patito_feo.txt")
	gt.String(t, req.Prompt).Contains("exact title")
	gt.Value(t, req.DiagnosticText).Equal("El grupo muestra burlas hacia quien es diferente.")

	gt.Array(t, res.Retrieval.UserPlan).Length(1)
	gt.Array(t, res.Retrieval.UserDiagnostic).Length(1)
	gt.Value(t, res.Impact.UsagePercentage).Equal(100.0)
	gt.Number(t, res.Impact.ResourcesUsed).GreaterOrEqual(1)
	gt.Value(t, res.Session.Indexing.PlanChunks).Equal(1)
	gt.Value(t, res.Session.Generation.PlanName).Equal("Aceptamos las diferencias")

	gt.Value(t, res.PlanKey).Equal(service.PlanKey("ana@example.com", res.Session.ID))
	rec, err := f.svc.LoadPlan(ctx, res.PlanKey)
	gt.NoError(t, err).Required()
	gt.Value(t, rec.Plan.Name).Equal("Aceptamos las diferencias")
	gt.Value(t, rec.SessionID).Equal(res.Session.ID)
	gt.Array(t, rec.RAG.Sources).Length(4)
	gt.Value(t, rec.RAG.Retrieved).Equal(res.Retrieval.Total())

	sessions, err := f.svc.Sessions(ctx, "ana@example.com")
	gt.NoError(t, err).Required()
	gt.Array(t, sessions).Length(1).Required()
	gt.Value(t, sessions[0].PlanKey).Equal(res.PlanKey)
	gt.Bool(t, sessions[0].Impact != nil).True()
}

func TestGeneratePlanReplacesUserDocuments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.InitializeLibrary(ctx)
	gt.NoError(t, err).Required()

	_, err = f.svc.GeneratePlan(ctx, planRequest("ana@example.com"))
	gt.NoError(t, err).Required()
	first, err := f.index.Count(ctx)
	gt.NoError(t, err).Required()

	_, err = f.svc.GeneratePlan(ctx, planRequest("ana@example.com"))
	gt.NoError(t, err).Required()
	second, err := f.index.Count(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, second).Equal(first)
	gt.Value(t, first).Equal(4 + 2)
}

func TestGeneratePlanWithEmptyLibrary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.GeneratePlan(ctx, planRequest("ana@example.com"))
	gt.NoError(t, err).Required()
	gt.Value(t, res.Context).Equal("")
	gt.Value(t, f.gen.requests[0].Prompt).Equal("Plan de aula sobre la aceptación de las diferencias entre compañeros.")
	gt.Value(t, res.Impact.TotalRetrieved).Equal(0)
}

func TestGeneratePlanFailureIsTyped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gen.err = fmt.Errorf("upstream: %w", generator.ErrMissingFields)

	_, err := f.svc.GeneratePlan(ctx, planRequest("ana@example.com"))
	gt.Bool(t, errors.Is(err, generator.ErrMissingFields)).True()

	// the failed session is still recorded
	sessions, err := f.svc.Sessions(ctx, "ana@example.com")
	gt.NoError(t, err).Required()
	gt.Array(t, sessions).Length(1).Required()
	gt.Value(t, sessions[0].PlanKey).Equal("")
}

func TestConcurrentUsers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.InitializeLibrary(ctx)
	gt.NoError(t, err).Required()

	users := []string{"ana@example.com", "luis@example.com", "eva@example.com"}
	var wg sync.WaitGroup
	errs := make([]error, len(users)*2)
	for i, u := range users {
		for j := range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i*2+j] = f.svc.GeneratePlan(ctx, planRequest(u))
			}()
		}
	}
	wg.Wait()
	for _, err := range errs {
		gt.NoError(t, err)
	}

	n, err := f.index.Count(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(4 + 2*len(users))
}

func TestIndexUserDocumentsRejectsGeneralScope(t *testing.T) {
	f := newFixture(t)
	for _, user := range []string{"", "  ", domain.GeneralScope} {
		_, _, err := f.svc.IndexUserDocuments(context.Background(), user, service.UserDocument{Filename: "p.txt", Data: []byte("x")}, nil)
		gt.Bool(t, errors.Is(err, service.ErrInvalidUser)).True()
	}
}

func TestReindexAndRemoveFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.InitializeLibrary(ctx)
	gt.NoError(t, err).Required()

	story := filepath.Join(f.root, "library", "stories", "Caperucita.txt")
	writeFile(t, story, "Caperucita roja visita a su abuela.")
	n, err := f.svc.ReindexFile(ctx, story)
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(1)

	count, _ := f.index.Count(ctx)
	gt.Value(t, count).Equal(5)

	r, err := f.svc.Retrieve(ctx, retriever.Query{PlanText: "Caperucita roja y su abuela", NTotal: 3})
	gt.NoError(t, err).Required()
	gt.Array(t, r.Stories).Length(1).Required()
	gt.Value(t, r.Stories[0].Chunk.Filename).Equal("Caperucita.txt")

	gt.NoError(t, f.svc.RemoveFile(ctx, story)).Required()
	count, _ = f.index.Count(ctx)
	gt.Value(t, count).Equal(4)

	outside := filepath.Join(f.root, "elsewhere.txt")
	writeFile(t, outside, "fuera")
	_, err = f.svc.ReindexFile(ctx, outside)
	gt.Bool(t, errors.Is(err, service.ErrOutsideLibrary)).True()
}

func TestLibraryType(t *testing.T) {
	f := newFixture(t)
	typ, _, ok := f.svc.LibraryType(filepath.Join(f.root, "library", "songs", "nested", "x.txt"))
	gt.Bool(t, ok).True()
	gt.Value(t, typ).Equal(domain.DocumentSong)

	_, _, ok = f.svc.LibraryType(filepath.Join(f.root, "library", "songs"))
	gt.Bool(t, ok).False()
	_, _, ok = f.svc.LibraryType(filepath.Join(f.root, "library", "songs-old", "x.txt"))
	gt.Bool(t, ok).False()
}

func TestStatsAndReset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.InitializeLibrary(ctx)
	gt.NoError(t, err).Required()

	stats, err := f.svc.Stats(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, stats).Equal(service.Stats{
		Entries:    4,
		Collection: "profego_documents",
		Backend:    "memory",
		Embedder:   "local",
		Dimension:  384,
	})

	gt.NoError(t, f.svc.Reset(ctx)).Required()
	stats, err = f.svc.Stats(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, stats.Entries).Equal(0)
}

func TestDecodePlan(t *testing.T) {
	bare := []byte(`{"name": "Plan", "modules": [{"name": "m1", "objective": "o"}]}`)
	plan, err := service.DecodePlan(bare)
	gt.NoError(t, err).Required()
	gt.Value(t, plan.Name).Equal("Plan")

	record := []byte(`{"session_id": "s1", "plan": {"name": "Guardado", "modules": [{"name": "m1"}]}}`)
	plan, err = service.DecodePlan(record)
	gt.NoError(t, err).Required()
	gt.Value(t, plan.Name).Equal("Guardado")

	_, err = service.DecodePlan([]byte("nope"))
	gt.Bool(t, errors.Is(err, generator.ErrMalformedResponse)).True()
}

func TestPlanQueryText(t *testing.T) {
	gt.Value(t, service.PlanQueryText(nil)).Equal("")
	gt.Value(t, service.PlanQueryText(&domain.Plan{
		Name:    "Plan",
		Modules: []domain.Module{{Name: "Uno", Objective: "Compartir"}},
	})).Equal("Plan\nUno\nCompartir")
}
