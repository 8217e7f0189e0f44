package chunker

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"edurag/internal/domain"
)

// Defaults used when no configuration is supplied.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// ErrInvalidChunking is returned when the window parameters cannot make progress.
var ErrInvalidChunking = goerr.New("invalid chunking parameters")

// Chunker splits text into fixed-size character windows that overlap.
// Sizes are measured in runes so accented text is never cut mid-character.
type Chunker struct {
	size    int
	overlap int
}

// New validates the window parameters. overlap must be smaller than size.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, goerr.Wrap(ErrInvalidChunking, "chunk overlap must be in [0, size)",
			goerr.V("chunk_size", size), goerr.V("chunk_overlap", overlap))
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the window width.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the number of runes shared by consecutive windows.
func (c *Chunker) Overlap() int { return c.overlap }

// Split chunks text and copies meta onto every chunk. Chunks whose window is
// only whitespace are dropped without consuming an id.
func (c *Chunker) Split(text string, meta domain.ChunkMeta) []domain.Chunk {
	if strings.TrimSpace(text) == "" {
		return []domain.Chunk{}
	}
	runes := []rune(text)
	n := len(runes)

	if n <= c.size {
		return []domain.Chunk{c.newChunk(strings.TrimSpace(text), 0, 0, n, meta)}
	}

	step := c.size - c.overlap
	chunks := make([]domain.Chunk, 0, n/step+1)
	id := 0
	for start := 0; start < n; start += step {
		end := start + c.size
		if end > n {
			end = n
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			chunks = append(chunks, c.newChunk(piece, id, start, end, meta))
			id++
		}
		if end == n {
			break
		}
	}
	return chunks
}

func (c *Chunker) newChunk(text string, id, start, end int, meta domain.ChunkMeta) domain.Chunk {
	scope := meta.OwnerScope
	if scope == "" {
		scope = domain.GeneralScope
	}
	return domain.Chunk{
		Text:            text,
		ChunkID:         id,
		StartChar:       start,
		EndChar:         end,
		Filename:        meta.Filename,
		DocumentType:    meta.DocumentType,
		OwnerScope:      scope,
		SourceDirectory: meta.SourceDirectory,
		RelPath:         meta.RelPath,
	}
}
