// Package sqlite stores the index in a single SQLite file using the pure-Go
// modernc driver. Similarity is computed in process after a metadata filter
// narrows the candidate rows.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"

	"edurag/internal/domain"
	"edurag/internal/logging"
	"edurag/internal/vectorstore"
)

// Storage is a persistent named collection inside a SQLite database.
type Storage struct {
	db         *sql.DB
	collection string
	writeMu    sync.Mutex
	dimension  int
}

var _ vectorstore.Index = (*Storage)(nil)

// filterColumns maps metadata keys to indexed columns.
var filterColumns = map[string]string{
	domain.MetaDocumentType: "document_type",
	domain.MetaOwnerScope:   "owner_scope",
	domain.MetaFilename:     "filename",
}

// Open opens or creates the database at path and ensures the collection exists.
// dimension <= 0 adopts whatever width the collection was created with.
func Open(ctx context.Context, path, collection string, dimension int) (*Storage, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, goerr.Wrap(err, "failed to create index directory", goerr.V("path", path))
		}
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open index database", goerr.V("path", path))
	}
	s := &Storage{db: db, collection: collection, dimension: dimension}
	if err := s.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.ensureCollection(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Dimension returns the vector width of the collection, or 0 before the first write.
func (s *Storage) Dimension() int { return s.dimension }

func (s *Storage) ensureCollection(ctx context.Context) error {
	var stored int
	err := s.db.QueryRowContext(ctx,
		"SELECT dimension FROM collections WHERE name = ?", s.collection).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.db.ExecContext(ctx,
			"INSERT INTO collections (name, dimension) VALUES (?, ?)", s.collection, s.dimension); err != nil {
			return goerr.Wrap(err, "failed to create collection", goerr.V("collection", s.collection))
		}
		return nil
	case err != nil:
		return goerr.Wrap(err, "failed to read collection", goerr.V("collection", s.collection))
	}

	if stored > 0 && s.dimension > 0 && stored != s.dimension {
		return goerr.Wrap(vectorstore.ErrInvalidEntries, "collection dimension differs from embedder",
			goerr.V("collection", s.collection), goerr.V("stored", stored), goerr.V("configured", s.dimension))
	}
	if stored > 0 {
		s.dimension = stored
	}
	return nil
}

func (s *Storage) Add(ctx context.Context, entries []domain.IndexEntry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := vectorstore.Validate(entries, s.dimension); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	newDim := 0
	if s.dimension <= 0 {
		newDim = len(entries[0].Vector)
		if _, err := tx.ExecContext(ctx,
			"UPDATE collections SET dimension = ? WHERE name = ?", newDim, s.collection); err != nil {
			return goerr.Wrap(err, "failed to record collection dimension")
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO entries
			(collection, id, text, document_type, owner_scope, filename, metadata, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return goerr.Wrap(err, "failed to prepare insert")
	}
	defer stmt.Close()

	for _, e := range entries {
		meta := e.Chunk.Metadata()
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return goerr.Wrap(err, "failed to encode metadata", goerr.V("id", e.ID))
		}
		if _, err := stmt.ExecContext(ctx,
			s.collection, e.ID, e.Chunk.Text,
			meta[domain.MetaDocumentType], meta[domain.MetaOwnerScope], meta[domain.MetaFilename],
			string(metaJSON), vectorToJSON(e.Vector),
		); err != nil {
			return goerr.Wrap(err, "failed to insert entry", goerr.V("id", e.ID))
		}
	}
	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit entries", goerr.V("count", len(entries)))
	}
	if newDim > 0 {
		s.dimension = newDim
	}
	return nil
}

func (s *Storage) Query(ctx context.Context, vector []float32, k int, filter domain.Filter) ([]domain.RetrievalResult, error) {
	if k <= 0 {
		return []domain.RetrievalResult{}, nil
	}
	where, args, rest := s.whereClause(filter)
	rows, err := s.db.QueryContext(ctx, "SELECT text, metadata, vector FROM entries WHERE "+where, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query entries", goerr.V("collection", s.collection))
	}
	defer rows.Close()

	logger := logging.From(ctx)
	results := make([]domain.RetrievalResult, 0)
	for rows.Next() {
		var text, metaJSON, vecJSON string
		if err := rows.Scan(&text, &metaJSON, &vecJSON); err != nil {
			return nil, goerr.Wrap(err, "failed to scan entry")
		}
		var meta map[string]string
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			logger.Warn("skipping entry with corrupt metadata", slog.String("collection", s.collection))
			continue
		}
		if !rest.Matches(meta) {
			continue
		}
		vec, err := jsonToVector(vecJSON)
		if err != nil {
			logger.Warn("skipping entry with corrupt vector", slog.String("filename", meta[domain.MetaFilename]))
			continue
		}
		results = append(results, domain.RetrievalResult{
			Chunk:      domain.ChunkFromMetadata(text, meta),
			Similarity: vectorstore.Clamp(vectorstore.Cosine(vector, vec)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate entries")
	}
	return vectorstore.Rank(results, k), nil
}

func (s *Storage) Delete(ctx context.Context, filter domain.Filter) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	where, args, rest := s.whereClause(filter)
	if len(rest) == 0 {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE "+where, args...); err != nil {
			return goerr.Wrap(err, "failed to delete entries", goerr.V("filter", filter))
		}
		return nil
	}

	// Keys without a column are matched in Go, then removed by id.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	ids, err := matchingIDs(ctx, tx, "SELECT id, metadata FROM entries WHERE "+where, args, rest)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM entries WHERE collection = ? AND id = ?")
	if err != nil {
		return goerr.Wrap(err, "failed to prepare delete")
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, s.collection, id); err != nil {
			return goerr.Wrap(err, "failed to delete entry", goerr.V("id", id))
		}
	}
	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit delete", goerr.V("count", len(ids)))
	}
	return nil
}

func matchingIDs(ctx context.Context, tx *sql.Tx, query string, args []any, rest domain.Filter) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to select entries for delete")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id, metaJSON string
		if err := rows.Scan(&id, &metaJSON); err != nil {
			return nil, goerr.Wrap(err, "failed to scan entry")
		}
		var meta map[string]string
		if json.Unmarshal([]byte(metaJSON), &meta) == nil && rest.Matches(meta) {
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate entries for delete")
	}
	return ids, nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE collection = ?", s.collection).Scan(&n); err != nil {
		return 0, goerr.Wrap(err, "failed to count entries", goerr.V("collection", s.collection))
	}
	return n, nil
}

// Reset drops and recreates the collection. Other collections in the same
// file are untouched.
func (s *Storage) Reset(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE collection = ?", s.collection); err != nil {
		return goerr.Wrap(err, "failed to reset collection", goerr.V("collection", s.collection))
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM collections WHERE name = ?", s.collection); err != nil {
		return goerr.Wrap(err, "failed to drop collection", goerr.V("collection", s.collection))
	}
	return s.ensureCollection(ctx)
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// whereClause splits filter into SQL conditions on indexed columns and the
// remaining keys that must be checked against decoded metadata.
func (s *Storage) whereClause(filter domain.Filter) (string, []any, domain.Filter) {
	conds := []string{"collection = ?"}
	args := []any{s.collection}
	rest := domain.Filter{}
	for k, v := range filter {
		if col, ok := filterColumns[k]; ok {
			conds = append(conds, col+" = ?")
			args = append(args, v)
			continue
		}
		rest[k] = v
	}
	return strings.Join(conds, " AND "), args, rest
}

// vectorToJSON converts a float32 vector to JSON for storage.
func vectorToJSON(vector []float32) string {
	data, err := json.Marshal(vector)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// jsonToVector parses JSON storage back to a float32 vector.
func jsonToVector(jsonStr string) ([]float32, error) {
	var vector []float32
	if err := json.Unmarshal([]byte(jsonStr), &vector); err != nil {
		return nil, err
	}
	return vector, nil
}
