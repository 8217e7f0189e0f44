package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"

	"edurag/internal/domain"
	"edurag/internal/vectorstore"
)

const distanceField = "vector_distance"

// entryDoc is the stored form of an index entry.
// Embedding is stored as firestore.Vector32 so that FindNearest vector search works.
type entryDoc struct {
	ID              string             `firestore:"id"`
	Text            string             `firestore:"text"`
	Filename        string             `firestore:"filename"`
	DocumentType    string             `firestore:"document_type"`
	OwnerScope      string             `firestore:"owner_scope"`
	ChunkID         string             `firestore:"chunk_id"`
	SourceDirectory string             `firestore:"source_directory"`
	RelPath         string             `firestore:"rel_path"`
	StartChar       string             `firestore:"start_char"`
	EndChar         string             `firestore:"end_char"`
	Embedding       firestore.Vector32 `firestore:"embedding"`
}

func toEntryDoc(e domain.IndexEntry) *entryDoc {
	meta := e.Chunk.Metadata()
	return &entryDoc{
		ID:              e.ID,
		Text:            e.Chunk.Text,
		Filename:        meta[domain.MetaFilename],
		DocumentType:    meta[domain.MetaDocumentType],
		OwnerScope:      meta[domain.MetaOwnerScope],
		ChunkID:         meta[domain.MetaChunkID],
		SourceDirectory: meta[domain.MetaSourceDirectory],
		RelPath:         meta[domain.MetaRelPath],
		StartChar:       meta[domain.MetaStartChar],
		EndChar:         meta[domain.MetaEndChar],
		Embedding:       firestore.Vector32(e.Vector),
	}
}

func (d *entryDoc) chunk() domain.Chunk {
	return domain.ChunkFromMetadata(d.Text, map[string]string{
		domain.MetaFilename:        d.Filename,
		domain.MetaDocumentType:    d.DocumentType,
		domain.MetaOwnerScope:      d.OwnerScope,
		domain.MetaChunkID:         d.ChunkID,
		domain.MetaSourceDirectory: d.SourceDirectory,
		domain.MetaRelPath:         d.RelPath,
		domain.MetaStartChar:       d.StartChar,
		domain.MetaEndChar:         d.EndChar,
	})
}

// Storage keeps index entries as documents of one Firestore collection.
// Filter keys map one-to-one to document fields.
type Storage struct {
	client     *firestore.Client
	collection string
	dimension  int
}

var _ vectorstore.Index = (*Storage)(nil)

// New creates a client for projectID and databaseID (empty means the default database).
func New(ctx context.Context, projectID, databaseID, collection string, dimension int) (*Storage, error) {
	var (
		client *firestore.Client
		err    error
	)
	if databaseID == "" {
		client, err = firestore.NewClient(ctx, projectID)
	} else {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("projectID", projectID), goerr.V("databaseID", databaseID))
	}
	return &Storage{client: client, collection: collection, dimension: dimension}, nil
}

func (s *Storage) coll() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

// docID maps entry ids, which may contain '/', onto valid document ids.
func (s *Storage) docID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()
}

func (s *Storage) Add(ctx context.Context, entries []domain.IndexEntry) error {
	if err := vectorstore.Validate(entries, s.dimension); err != nil {
		return err
	}
	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(entries))
	for _, e := range entries {
		job, err := bw.Set(s.coll().Doc(s.docID(e.ID)), toEntryDoc(e))
		if err != nil {
			bw.End()
			return goerr.Wrap(err, "failed to enqueue entry", goerr.V("id", e.ID))
		}
		jobs = append(jobs, job)
	}
	bw.End()
	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			return goerr.Wrap(err, "failed to write entry", goerr.V("id", entries[i].ID))
		}
	}
	return nil
}

func (s *Storage) query(filter domain.Filter) firestore.Query {
	q := s.coll().Query
	for k, v := range filter {
		q = q.Where(k, "==", v)
	}
	return q
}

func (s *Storage) Query(ctx context.Context, vector []float32, k int, filter domain.Filter) ([]domain.RetrievalResult, error) {
	if k <= 0 {
		return []domain.RetrievalResult{}, nil
	}
	vq := s.query(filter).FindNearest("embedding", firestore.Vector32(vector), k,
		firestore.DistanceMeasureCosine, &firestore.FindNearestOptions{DistanceResultField: distanceField})

	iter := vq.Documents(ctx)
	defer iter.Stop()

	results := make([]domain.RetrievalResult, 0, k)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate vector search results", goerr.V("collection", s.collection))
		}
		var d entryDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to decode entry", goerr.V("doc", doc.Ref.ID))
		}
		distance, _ := doc.Data()[distanceField].(float64)
		results = append(results, domain.RetrievalResult{
			Chunk:      d.chunk(),
			Similarity: vectorstore.SimilarityFromDistance(distance),
		})
	}
	return vectorstore.Rank(results, k), nil
}

func (s *Storage) Delete(ctx context.Context, filter domain.Filter) error {
	docs, err := s.query(filter).Select().Documents(ctx).GetAll()
	if err != nil {
		return goerr.Wrap(err, "failed to list entries for delete", goerr.V("filter", filter))
	}
	if len(docs) == 0 {
		return nil
	}
	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, doc := range docs {
		job, err := bw.Delete(doc.Ref)
		if err != nil {
			bw.End()
			return goerr.Wrap(err, "failed to enqueue delete", goerr.V("doc", doc.Ref.ID))
		}
		jobs = append(jobs, job)
	}
	bw.End()
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return goerr.Wrap(err, "failed to delete entry")
		}
	}
	return nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	docs, err := s.coll().Select().Documents(ctx).GetAll()
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count entries", goerr.V("collection", s.collection))
	}
	return len(docs), nil
}

// Reset deletes every document; Firestore collections exist only through their documents.
func (s *Storage) Reset(ctx context.Context) error {
	return s.Delete(ctx, domain.Filter{})
}

func (s *Storage) Close() error {
	return s.client.Close()
}
