package vectorstore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/m-mizutani/gt"

	"edurag/internal/domain"
	"edurag/internal/vectorstore"
	"edurag/internal/vectorstore/firestore"
	"edurag/internal/vectorstore/memory"
	"edurag/internal/vectorstore/qdrant"
	"edurag/internal/vectorstore/sqlite"
)

const dim = 4

func chunk(filename string, id int, typ domain.DocumentType, owner string) domain.Chunk {
	return domain.Chunk{
		Text:         filename + " chunk",
		ChunkID:      id,
		EndChar:      10,
		Filename:     filename,
		DocumentType: typ,
		OwnerScope:   owner,
	}
}

func entries(t *testing.T, chunks []domain.Chunk, vectors [][]float32) []domain.IndexEntry {
	t.Helper()
	out, err := vectorstore.NewEntries(chunks, vectors)
	gt.NoError(t, err).Required()
	return out
}

func runIndexTest(t *testing.T, newIndex func(t *testing.T) vectorstore.Index) {
	t.Helper()

	t.Run("Query filters by type and orders by similarity", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()

		gt.NoError(t, idx.Add(ctx, entries(t,
			[]domain.Chunk{
				chunk("El_patito_feo.txt", 0, domain.DocumentStory, domain.GeneralScope),
				chunk("La_tortuga_y_la_liebre.txt", 0, domain.DocumentStory, domain.GeneralScope),
				chunk("Los_pollitos_dicen.txt", 0, domain.DocumentSong, domain.GeneralScope),
			},
			[][]float32{{1, 0, 0, 0}, {0.6, 0.8, 0, 0}, {1, 0, 0, 0}},
		))).Required()

		results, err := idx.Query(ctx, []float32{1, 0, 0, 0}, 2, domain.TypeFilter(domain.DocumentStory))
		gt.NoError(t, err).Required()
		gt.Array(t, results).Length(2).Required()
		gt.Value(t, results[0].Chunk.Filename).Equal("El_patito_feo.txt")
		gt.Value(t, results[1].Chunk.Filename).Equal("La_tortuga_y_la_liebre.txt")
		gt.Bool(t, results[0].Similarity >= results[1].Similarity).True()
		for _, r := range results {
			gt.Value(t, r.Chunk.DocumentType).Equal(domain.DocumentStory)
			gt.Bool(t, r.Similarity >= 0 && r.Similarity <= 1).True()
		}
	})

	t.Run("Query on empty subset returns empty", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()

		results, err := idx.Query(ctx, []float32{1, 0, 0, 0}, 5, domain.TypeFilter(domain.DocumentActivity))
		gt.NoError(t, err).Required()
		gt.Array(t, results).Length(0)
	})

	t.Run("Add rejects mismatched input without writing", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()

		_, err := vectorstore.NewEntries(
			[]domain.Chunk{chunk("a.txt", 0, domain.DocumentStory, domain.GeneralScope), chunk("a.txt", 1, domain.DocumentStory, domain.GeneralScope)},
			[][]float32{{1, 0, 0, 0}},
		)
		gt.Bool(t, errors.Is(err, vectorstore.ErrInvalidEntries)).True()

		err = idx.Add(ctx, nil)
		gt.Bool(t, errors.Is(err, vectorstore.ErrInvalidEntries)).True()

		err = idx.Add(ctx, entries(t,
			[]domain.Chunk{chunk("a.txt", 0, domain.DocumentStory, domain.GeneralScope), chunk("a.txt", 1, domain.DocumentStory, domain.GeneralScope)},
			[][]float32{{1, 0, 0, 0}, {1, 0}},
		))
		gt.Bool(t, errors.Is(err, vectorstore.ErrInvalidEntries)).True()

		n, err := idx.Count(ctx)
		gt.NoError(t, err)
		gt.Value(t, n).Equal(0)
	})

	t.Run("Add overwrites existing ids", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()

		c := chunk("cancion.txt", 0, domain.DocumentSong, domain.GeneralScope)
		gt.NoError(t, idx.Add(ctx, entries(t, []domain.Chunk{c}, [][]float32{{0, 1, 0, 0}}))).Required()
		c.Text = "updated"
		gt.NoError(t, idx.Add(ctx, entries(t, []domain.Chunk{c}, [][]float32{{0, 1, 0, 0}}))).Required()

		n, err := idx.Count(ctx)
		gt.NoError(t, err)
		gt.Value(t, n).Equal(1)

		results, err := idx.Query(ctx, []float32{0, 1, 0, 0}, 1, nil)
		gt.NoError(t, err).Required()
		gt.Array(t, results).Length(1).Required()
		gt.Value(t, results[0].Chunk.Text).Equal("updated")
	})

	t.Run("Delete removes only the owner's entries", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()

		gt.NoError(t, idx.Add(ctx, entries(t,
			[]domain.Chunk{
				chunk("plan.txt", 0, domain.DocumentPlan, "ana@example.com"),
				chunk("diag.txt", 0, domain.DocumentDiagnostic, "ana@example.com"),
				chunk("plan.txt", 0, domain.DocumentPlan, "luis@example.com"),
				chunk("cuento.txt", 0, domain.DocumentStory, domain.GeneralScope),
			},
			[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {1, 0, 0, 0}, {0, 0, 1, 0}},
		))).Required()

		gt.NoError(t, idx.Delete(ctx, domain.OwnerFilter("ana@example.com"))).Required()
		gt.NoError(t, idx.Delete(ctx, domain.OwnerFilter("nobody@example.com")))

		n, err := idx.Count(ctx)
		gt.NoError(t, err)
		gt.Value(t, n).Equal(2)

		results, err := idx.Query(ctx, []float32{1, 0, 0, 0}, 5, domain.OwnerFilter("luis@example.com"))
		gt.NoError(t, err).Required()
		gt.Array(t, results).Length(1)
	})

	t.Run("Delete matches keys outside the indexed columns", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()

		a := chunk("cuento.txt", 0, domain.DocumentStory, domain.GeneralScope)
		a.RelPath = "fabulas/cuento.txt"
		b := chunk("cuento.txt", 0, domain.DocumentStory, domain.GeneralScope)
		b.RelPath = "clasicos/cuento.txt"
		gt.NoError(t, idx.Add(ctx, entries(t,
			[]domain.Chunk{a, b},
			[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}},
		))).Required()

		gt.NoError(t, idx.Delete(ctx, domain.Filter{
			domain.MetaFilename: "cuento.txt",
			domain.MetaRelPath:  "fabulas/cuento.txt",
		})).Required()
		gt.NoError(t, idx.Delete(ctx, domain.Filter{domain.MetaRelPath: "nowhere/cuento.txt"}))

		results, err := idx.Query(ctx, []float32{1, 0, 0, 0}, 5, nil)
		gt.NoError(t, err).Required()
		gt.Array(t, results).Length(1).Required()
		gt.Value(t, results[0].Chunk.RelPath).Equal("clasicos/cuento.txt")
	})

	t.Run("Reset empties the collection", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()

		gt.NoError(t, idx.Add(ctx, entries(t,
			[]domain.Chunk{chunk("x.txt", 0, domain.DocumentActivity, domain.GeneralScope)},
			[][]float32{{0, 0, 0, 1}},
		))).Required()
		gt.NoError(t, idx.Reset(ctx)).Required()

		n, err := idx.Count(ctx)
		gt.NoError(t, err)
		gt.Value(t, n).Equal(0)
	})
}

func TestMemoryIndex(t *testing.T) {
	runIndexTest(t, func(t *testing.T) vectorstore.Index {
		return memory.NewStorage(dim)
	})
}

func TestSQLiteIndex(t *testing.T) {
	runIndexTest(t, func(t *testing.T) vectorstore.Index {
		s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "index.db"), "test_collection", dim)
		gt.NoError(t, err).Required()
		t.Cleanup(func() { gt.NoError(t, s.Close()) })
		return s
	})
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	s, err := sqlite.Open(ctx, path, "profego_documents", 0)
	gt.NoError(t, err).Required()
	gt.NoError(t, s.Add(ctx, entries(t,
		[]domain.Chunk{chunk("El_patito_feo.txt", 0, domain.DocumentStory, domain.GeneralScope)},
		[][]float32{{1, 0, 0, 0}},
	))).Required()
	gt.NoError(t, s.Close())

	reopened, err := sqlite.Open(ctx, path, "profego_documents", 0)
	gt.NoError(t, err).Required()
	defer reopened.Close()
	gt.Value(t, reopened.Dimension()).Equal(4)

	n, err := reopened.Count(ctx)
	gt.NoError(t, err)
	gt.Value(t, n).Equal(1)

	other, err := sqlite.Open(ctx, path, "other", 0)
	gt.NoError(t, err).Required()
	defer other.Close()
	n, err = other.Count(ctx)
	gt.NoError(t, err)
	gt.Value(t, n).Equal(0)
}

func TestSQLiteRejectsDimensionChange(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	s, err := sqlite.Open(ctx, path, "c", 4)
	gt.NoError(t, err).Required()
	gt.NoError(t, s.Close())

	_, err = sqlite.Open(ctx, path, "c", 8)
	gt.Bool(t, errors.Is(err, vectorstore.ErrInvalidEntries)).True()
}

func TestFirestoreIndex(t *testing.T) {
	runIndexTest(t, func(t *testing.T) vectorstore.Index {
		projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
		if projectID == "" {
			t.Skip("TEST_FIRESTORE_PROJECT_ID not set")
		}
		databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")
		collection := "edurag_test_" + uuid.NewString()

		s, err := firestore.New(context.Background(), projectID, databaseID, collection, dim)
		gt.NoError(t, err).Required()
		t.Cleanup(func() {
			gt.NoError(t, s.Reset(context.Background()))
			gt.NoError(t, s.Close())
		})
		return s
	})
}

func TestQdrantIndex(t *testing.T) {
	runIndexTest(t, func(t *testing.T) vectorstore.Index {
		url := os.Getenv("TEST_QDRANT_URL")
		if url == "" {
			t.Skip("TEST_QDRANT_URL not set")
		}
		s, err := qdrant.New(context.Background(), qdrant.Config{
			URL:        url,
			APIKey:     os.Getenv("TEST_QDRANT_API_KEY"),
			Collection: "edurag_test_" + uuid.NewString(),
			Dimension:  dim,
		})
		gt.NoError(t, err).Required()
		t.Cleanup(func() { gt.NoError(t, s.Close()) })
		return s
	})
}

func TestCosineAndClamp(t *testing.T) {
	gt.Value(t, vectorstore.Cosine([]float32{1, 0}, []float32{1, 0})).Equal(1.0)
	gt.Value(t, vectorstore.Cosine([]float32{0, 0}, []float32{1, 0})).Equal(0.0)
	gt.Value(t, vectorstore.Clamp(-0.4)).Equal(0.0)
	gt.Value(t, vectorstore.Clamp(1.2)).Equal(1.0)
	gt.Value(t, vectorstore.SimilarityFromDistance(0.25)).Equal(0.75)
}
