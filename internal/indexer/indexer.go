// Package indexer turns library files and user uploads into index entries.
package indexer

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"edurag/internal/chunker"
	"edurag/internal/domain"
	"edurag/internal/embedding"
	"edurag/internal/logging"
	"edurag/internal/vectorstore"
)

// DefaultBatchSize bounds how many chunks are embedded and written at once.
const DefaultBatchSize = 3

// ErrUnsupportedDocument is returned for files the indexer cannot read as text.
var ErrUnsupportedDocument = goerr.New("unsupported document format")

// Indexer chunks, embeds and stores documents. It processes files one at a
// time and batches one after another, so peak memory stays at one batch.
type Indexer struct {
	chunker    *chunker.Chunker
	embedder   *embedding.Service
	index      vectorstore.Index
	batchSize  int
	extensions []string
}

// New creates an indexer. batchSize <= 0 uses DefaultBatchSize.
func New(c *chunker.Chunker, e *embedding.Service, idx vectorstore.Index, batchSize int) *Indexer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Indexer{
		chunker:    c,
		embedder:   e,
		index:      idx,
		batchSize:  batchSize,
		extensions: []string{".txt"},
	}
}

// Supports reports whether path has an extension the indexer reads.
func (i *Indexer) Supports(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range i.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// IndexDirectory indexes every supported file under dir as docType and
// returns the chunks that were committed. A missing directory, unreadable
// files and failed batches are logged and skipped. Only context
// cancellation aborts the run.
func (i *Indexer) IndexDirectory(ctx context.Context, dir string, docType domain.DocumentType, recursive bool) ([]domain.Chunk, error) {
	logger := logging.From(ctx).With(slog.String("dir", dir), slog.String("type", docType.String()))
	if err := docType.Validate(); err != nil {
		return nil, err
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		logger.Warn("library directory not found, skipping")
		return []domain.Chunk{}, nil
	}

	files, err := i.listFiles(ctx, dir, recursive)
	if err != nil {
		logger.Warn("failed to list directory", logging.ErrAttr(err))
		return []domain.Chunk{}, nil
	}

	committed := []domain.Chunk{}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return committed, goerr.Wrap(err, "indexing interrupted", goerr.V("dir", dir))
		}
		chunks, err := i.IndexFile(ctx, path, docType, dir)
		if err != nil {
			if ctx.Err() != nil {
				return committed, goerr.Wrap(ctx.Err(), "indexing interrupted", goerr.V("dir", dir))
			}
			logger.Warn("skipping file", slog.String("file", path), logging.ErrAttr(err))
			continue
		}
		committed = append(committed, chunks...)
	}
	logger.Info("indexed directory", slog.Int("files", len(files)), slog.Int("chunks", len(committed)))
	return committed, nil
}

func (i *Indexer) listFiles(ctx context.Context, dir string, recursive bool) ([]string, error) {
	var files []string
	if recursive {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				logging.From(ctx).Warn("cannot access path", slog.String("path", path), logging.ErrAttr(err))
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if !i.Supports(path) {
				logging.From(ctx).Debug("skipping unsupported file", slog.String("file", path))
				return nil
			}
			files = append(files, path)
			return nil
		})
		if err != nil {
			return nil, goerr.Wrap(err, "failed to walk directory", goerr.V("dir", dir))
		}
	} else {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read directory", goerr.V("dir", dir))
		}
		for _, e := range entries {
			path := filepath.Join(dir, e.Name())
			if e.IsDir() {
				continue
			}
			if !i.Supports(path) {
				logging.From(ctx).Debug("skipping unsupported file", slog.String("file", path))
				continue
			}
			files = append(files, path)
		}
	}
	sort.Strings(files)
	return files, nil
}

// IndexFile replaces the library entries of one file. Stale chunks from a
// previous, longer version of the file are removed first.
func (i *Indexer) IndexFile(ctx context.Context, path string, docType domain.DocumentType, sourceDir string) ([]domain.Chunk, error) {
	if !i.Supports(path) {
		return nil, goerr.Wrap(ErrUnsupportedDocument, "cannot index file", goerr.V("file", path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read file", goerr.V("file", path))
	}
	meta := domain.ChunkMeta{
		Filename:        filepath.Base(path),
		DocumentType:    docType,
		OwnerScope:      domain.GeneralScope,
		SourceDirectory: sourceDir,
		RelPath:         RelPath(sourceDir, path),
	}
	if err := i.RemoveFile(ctx, path, docType, sourceDir); err != nil {
		return nil, err
	}
	return i.IndexText(ctx, DecodeText(data), meta)
}

// RemoveFile deletes the library entries of one file. Files with the same
// name in other subdirectories of sourceDir are left alone.
func (i *Indexer) RemoveFile(ctx context.Context, path string, docType domain.DocumentType, sourceDir string) error {
	if err := i.index.Delete(ctx, domain.Filter{
		domain.MetaFilename:     filepath.Base(path),
		domain.MetaRelPath:      RelPath(sourceDir, path),
		domain.MetaDocumentType: string(docType),
		domain.MetaOwnerScope:   domain.GeneralScope,
	}); err != nil {
		return goerr.Wrap(err, "failed to clear library entries", goerr.V("file", path))
	}
	return nil
}

// RelPath returns path relative to sourceDir with forward slashes, or the
// base name when path is not below sourceDir.
func RelPath(sourceDir, path string) string {
	if absDir, err := filepath.Abs(sourceDir); err == nil {
		if absPath, err := filepath.Abs(path); err == nil {
			sourceDir, path = absDir, absPath
		}
	}
	rel, err := filepath.Rel(sourceDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}

// IndexText chunks text with meta and stores it. It returns the committed chunks.
func (i *Indexer) IndexText(ctx context.Context, text string, meta domain.ChunkMeta) ([]domain.Chunk, error) {
	if err := meta.DocumentType.Validate(); err != nil {
		return nil, err
	}
	chunks := i.chunker.Split(text, meta)
	if len(chunks) == 0 {
		logging.From(ctx).Debug("document has no text", slog.String("file", meta.Filename))
		return []domain.Chunk{}, nil
	}
	return i.store(ctx, chunks)
}

// store embeds and writes chunks one batch at a time.
func (i *Indexer) store(ctx context.Context, chunks []domain.Chunk) ([]domain.Chunk, error) {
	logger := logging.From(ctx)
	committed := make([]domain.Chunk, 0, len(chunks))
	for start := 0; start < len(chunks); start += i.batchSize {
		if err := ctx.Err(); err != nil {
			return committed, goerr.Wrap(err, "indexing interrupted")
		}
		end := start + i.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = c.Text
		}
		vectors := i.embedder.EmbedMany(ctx, texts)

		entries, err := vectorstore.NewEntries(batch, vectors)
		if err == nil {
			err = i.index.Add(ctx, entries)
		}
		if err != nil {
			logger.Warn("failed to store batch, skipping",
				slog.String("file", batch[0].Filename),
				slog.Int("first_chunk", batch[0].ChunkID),
				slog.Int("size", len(batch)),
				logging.ErrAttr(err))
			continue
		}
		committed = append(committed, batch...)
	}
	return committed, nil
}
