package domain

import (
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// DocumentType classifies every indexed chunk. The set is closed.
type DocumentType string

const (
	DocumentStory      DocumentType = "story"
	DocumentSong       DocumentType = "song"
	DocumentActivity   DocumentType = "activity"
	DocumentPlan       DocumentType = "plan"
	DocumentDiagnostic DocumentType = "diagnostic"
)

// GeneralScope is the owner scope of the shared library.
const GeneralScope = "general"

// ErrUnknownDocumentType is returned when a string does not name a DocumentType.
var ErrUnknownDocumentType = goerr.New("unknown document type")

// LibraryTypes lists the document types that make up the general library, in retrieval order.
var LibraryTypes = []DocumentType{DocumentStory, DocumentSong, DocumentActivity}

// ParseDocumentType parses s case-insensitively.
func ParseDocumentType(s string) (DocumentType, error) {
	t := DocumentType(strings.ToLower(strings.TrimSpace(s)))
	if err := t.Validate(); err != nil {
		return "", err
	}
	return t, nil
}

// Validate reports whether t is one of the known document types.
func (t DocumentType) Validate() error {
	switch t {
	case DocumentStory, DocumentSong, DocumentActivity, DocumentPlan, DocumentDiagnostic:
		return nil
	}
	return goerr.Wrap(ErrUnknownDocumentType, "invalid document type", goerr.V("type", string(t)))
}

// IsUserType reports whether t belongs to a user's per-request documents.
func (t DocumentType) IsUserType() bool {
	return t == DocumentPlan || t == DocumentDiagnostic
}

func (t DocumentType) String() string { return string(t) }

// Metadata keys used at the index boundary.
const (
	MetaFilename        = "filename"
	MetaDocumentType    = "document_type"
	MetaOwnerScope      = "owner_scope"
	MetaChunkID         = "chunk_id"
	MetaSourceDirectory = "source_directory"
	MetaRelPath         = "rel_path"
	MetaStartChar       = "start_char"
	MetaEndChar         = "end_char"
)

// ChunkMeta is the per-document metadata copied onto every chunk of that document.
// RelPath is the slash-separated path below SourceDirectory; it is empty for
// user documents.
type ChunkMeta struct {
	Filename        string
	DocumentType    DocumentType
	OwnerScope      string
	SourceDirectory string
	RelPath         string
}

// Chunk is a contiguous window of a source document.
// StartChar and EndChar are rune offsets into the source text.
type Chunk struct {
	Text            string
	ChunkID         int
	StartChar       int
	EndChar         int
	Filename        string
	DocumentType    DocumentType
	OwnerScope      string
	SourceDirectory string
	RelPath         string
}

// ID returns the stable index identifier of the chunk. Library chunks use
// relpath_chunkid, which is filename_chunkid for files at the top of their
// directory. User chunks are prefixed with the owner so that two users
// uploading the same filename never overwrite each other.
func (c Chunk) ID() string {
	key := c.Filename
	if c.RelPath != "" {
		key = c.RelPath
	}
	base := key + "_" + strconv.Itoa(c.ChunkID)
	if c.OwnerScope == "" || c.OwnerScope == GeneralScope {
		return base
	}
	return c.OwnerScope + "/" + base
}

// Metadata flattens the chunk's attributes for storage backends.
func (c Chunk) Metadata() map[string]string {
	return map[string]string{
		MetaFilename:        c.Filename,
		MetaDocumentType:    string(c.DocumentType),
		MetaOwnerScope:      c.scope(),
		MetaChunkID:         strconv.Itoa(c.ChunkID),
		MetaSourceDirectory: c.SourceDirectory,
		MetaRelPath:         c.RelPath,
		MetaStartChar:       strconv.Itoa(c.StartChar),
		MetaEndChar:         strconv.Itoa(c.EndChar),
	}
}

func (c Chunk) scope() string {
	if c.OwnerScope == "" {
		return GeneralScope
	}
	return c.OwnerScope
}

// ChunkFromMetadata rebuilds a chunk from stored text and metadata.
func ChunkFromMetadata(text string, meta map[string]string) Chunk {
	id, _ := strconv.Atoi(meta[MetaChunkID])
	start, _ := strconv.Atoi(meta[MetaStartChar])
	end, _ := strconv.Atoi(meta[MetaEndChar])
	return Chunk{
		Text:            text,
		ChunkID:         id,
		StartChar:       start,
		EndChar:         end,
		Filename:        meta[MetaFilename],
		DocumentType:    DocumentType(meta[MetaDocumentType]),
		OwnerScope:      meta[MetaOwnerScope],
		SourceDirectory: meta[MetaSourceDirectory],
		RelPath:         meta[MetaRelPath],
	}
}

// IndexEntry is one vector in the similarity index.
type IndexEntry struct {
	ID     string
	Vector []float32
	Chunk  Chunk
}

// Filter is an exact-match conjunction over chunk metadata.
type Filter map[string]string

// Matches reports whether every key of f equals the corresponding metadata value.
func (f Filter) Matches(meta map[string]string) bool {
	for k, v := range f {
		if meta[k] != v {
			return false
		}
	}
	return true
}

// TypeFilter selects library chunks of a single type.
func TypeFilter(t DocumentType) Filter {
	return Filter{MetaDocumentType: string(t)}
}

// OwnerFilter selects every chunk owned by scope.
func OwnerFilter(scope string) Filter {
	return Filter{MetaOwnerScope: scope}
}
