// Package service wires the RAG components into the object every command
// and the explorer share. It is built once at startup and owns the locking
// around index mutations.
package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"edurag/internal/analyzer"
	"edurag/internal/blobstore"
	"edurag/internal/chunker"
	"edurag/internal/config"
	"edurag/internal/domain"
	"edurag/internal/embedding"
	"edurag/internal/generator"
	"edurag/internal/indexer"
	"edurag/internal/logging"
	"edurag/internal/metrics"
	"edurag/internal/prompt"
	"edurag/internal/retriever"
	"edurag/internal/vectorstore"
)

var (
	// ErrInvalidUser rejects user-scoped calls without a real user id.
	ErrInvalidUser = goerr.New("user id is required")
	// ErrOutsideLibrary is returned for files outside every library directory.
	ErrOutsideLibrary = goerr.New("file is not inside a library directory")
)

// Deps are the backends chosen at startup.
type Deps struct {
	Index      vectorstore.Index
	Embedder   embedding.Embedder
	Generator  generator.Generator
	Blob       blobstore.Store
	Summarizer domain.Summarizer
	// Backend names the index implementation for Stats.
	Backend string
}

// UserDocument is an uploaded text document.
type UserDocument struct {
	Filename string
	Data     []byte
}

// LibraryStats counts the chunks committed per library category.
type LibraryStats struct {
	Stories    int `json:"stories"`
	Songs      int `json:"songs"`
	Activities int `json:"activities"`
}

// Total returns the number of chunks across categories.
func (s LibraryStats) Total() int { return s.Stories + s.Songs + s.Activities }

// Stats describes the index.
type Stats struct {
	Entries    int    `json:"entries"`
	Collection string `json:"collection"`
	Backend    string `json:"backend"`
	Embedder   string `json:"embedder"`
	Dimension  int    `json:"dimension"`
}

type libraryDir struct {
	path    string
	docType domain.DocumentType
}

// Service is the RAG core context object.
type Service struct {
	cfg        *config.AppConfig
	index      vectorstore.Index
	embedder   *embedding.Service
	indexer    *indexer.Indexer
	retriever  *retriever.Retriever
	builder    *prompt.Builder
	analyzer   *analyzer.Analyzer
	generator  generator.Generator
	blob       blobstore.Store
	sessions   *metrics.Store
	summarizer domain.Summarizer
	backend    string
	library    []libraryDir

	// libMu is held exclusively by library writes and shared by user writes.
	libMu   sync.RWMutex
	usersMu sync.Mutex
	users   map[string]*sync.Mutex
}

// New builds the service from cfg and deps. cfg must be validated.
func New(cfg *config.AppConfig, deps Deps) (*Service, error) {
	if deps.Index == nil || deps.Embedder == nil || deps.Blob == nil {
		return nil, goerr.New("index, embedder and blob store are required")
	}
	c, err := chunker.New(cfg.Chunker.ChunkSize, cfg.Chunker.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	gen := deps.Generator
	if gen == nil {
		gen = generator.Disabled{}
	}

	emb := embedding.NewService(deps.Embedder)
	builder := prompt.NewBuilder()
	builder.MaxPerCategory = cfg.Context.MaxPerCategory
	builder.Preview[domain.DocumentStory] = cfg.Context.StoryPreview
	builder.Preview[domain.DocumentSong] = cfg.Context.SongPreview
	builder.Preview[domain.DocumentActivity] = cfg.Context.ActivityPreview

	return &Service{
		cfg:      cfg,
		index:    deps.Index,
		embedder: emb,
		indexer:  indexer.New(c, emb, deps.Index, cfg.Library.BatchSize),
		retriever: retriever.New(emb, deps.Index,
			retriever.WithNTotal(cfg.Retrieval.NTotal),
			retriever.WithUserK(cfg.Retrieval.UserK),
			retriever.WithRemainderRedistribution(cfg.Retrieval.RedistributeRemainder)),
		builder: builder,
		analyzer: analyzer.New(analyzer.Config{
			UsageThreshold: cfg.Analyzer.UsageThreshold,
			HighConfidence: cfg.Analyzer.HighConfidence,
			Levels: analyzer.Levels{
				VeryHigh:  cfg.Analyzer.Levels.VeryHigh,
				High:      cfg.Analyzer.Levels.High,
				Medium:    cfg.Analyzer.Levels.Medium,
				MediumLow: cfg.Analyzer.Levels.MediumLow,
			},
		}),
		generator:  gen,
		blob:       deps.Blob,
		sessions:   metrics.NewStore(deps.Blob),
		summarizer: deps.Summarizer,
		backend:    deps.Backend,
		library: []libraryDir{
			{cfg.Library.StoryDir, domain.DocumentStory},
			{cfg.Library.SongDir, domain.DocumentSong},
			{cfg.Library.ActivityDir, domain.DocumentActivity},
		},
		users: make(map[string]*sync.Mutex),
	}, nil
}

// LibraryDirs returns the configured library directories.
func (s *Service) LibraryDirs() []string {
	dirs := make([]string, 0, len(s.library))
	for _, d := range s.library {
		if d.path != "" {
			dirs = append(dirs, d.path)
		}
	}
	return dirs
}

// SupportsFile reports whether the indexer can read path.
func (s *Service) SupportsFile(path string) bool { return s.indexer.Supports(path) }

// InitializeLibrary indexes the story, song and activity directories.
func (s *Service) InitializeLibrary(ctx context.Context) (LibraryStats, error) {
	s.libMu.Lock()
	defer s.libMu.Unlock()

	var stats LibraryStats
	for _, d := range s.library {
		chunks, err := s.indexer.IndexDirectory(ctx, d.path, d.docType, s.cfg.Library.Recursive)
		n := len(chunks)
		switch d.docType {
		case domain.DocumentStory:
			stats.Stories = n
		case domain.DocumentSong:
			stats.Songs = n
		case domain.DocumentActivity:
			stats.Activities = n
		}
		if err != nil {
			return stats, err
		}
	}
	logging.From(ctx).Info("library initialized",
		slog.Int("stories", stats.Stories),
		slog.Int("songs", stats.Songs),
		slog.Int("activities", stats.Activities))
	return stats, nil
}

// LibraryType maps a path to the category of the library directory holding it.
func (s *Service) LibraryType(path string) (domain.DocumentType, string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", false
	}
	for _, d := range s.library {
		if d.path == "" {
			continue
		}
		root, err := filepath.Abs(d.path)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		if !s.cfg.Library.Recursive && strings.ContainsRune(rel, filepath.Separator) {
			continue
		}
		return d.docType, d.path, true
	}
	return "", "", false
}

// ReindexFile replaces the entries of one library file and returns its chunk count.
func (s *Service) ReindexFile(ctx context.Context, path string) (int, error) {
	docType, dir, ok := s.LibraryType(path)
	if !ok {
		return 0, goerr.Wrap(ErrOutsideLibrary, "cannot reindex", goerr.V("file", path))
	}
	s.libMu.Lock()
	defer s.libMu.Unlock()

	chunks, err := s.indexer.IndexFile(ctx, path, docType, dir)
	if err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// RemoveFile drops the entries of a deleted library file.
func (s *Service) RemoveFile(ctx context.Context, path string) error {
	docType, dir, ok := s.LibraryType(path)
	if !ok {
		return goerr.Wrap(ErrOutsideLibrary, "cannot remove", goerr.V("file", path))
	}
	s.libMu.Lock()
	defer s.libMu.Unlock()
	return s.indexer.RemoveFile(ctx, path, docType, dir)
}

func (s *Service) lockUser(userID string) func() {
	s.usersMu.Lock()
	m, ok := s.users[userID]
	if !ok {
		m = &sync.Mutex{}
		s.users[userID] = m
	}
	s.usersMu.Unlock()
	m.Lock()
	return m.Unlock
}

func validUser(userID string) error {
	if strings.TrimSpace(userID) == "" || userID == domain.GeneralScope {
		return goerr.Wrap(ErrInvalidUser, "invalid user scope", goerr.V("user", userID))
	}
	return nil
}

// IndexUserDocuments replaces the user's scratch entries with the given plan
// and optional diagnostic. It returns the committed chunk counts.
func (s *Service) IndexUserDocuments(ctx context.Context, userID string, plan UserDocument, diag *UserDocument) (int, int, error) {
	if err := validUser(userID); err != nil {
		return 0, 0, err
	}
	unlock := s.lockUser(userID)
	defer unlock()
	s.libMu.RLock()
	defer s.libMu.RUnlock()

	if err := s.index.Delete(ctx, domain.OwnerFilter(userID)); err != nil {
		return 0, 0, goerr.Wrap(err, "failed to clear user documents", goerr.V("user", userID))
	}

	planChunks, err := s.indexer.IndexText(ctx, indexer.DecodeText(plan.Data), domain.ChunkMeta{
		Filename:     plan.Filename,
		DocumentType: domain.DocumentPlan,
		OwnerScope:   userID,
	})
	if err != nil {
		return 0, 0, goerr.Wrap(err, "failed to index plan", goerr.V("user", userID))
	}
	if diag == nil {
		return len(planChunks), 0, nil
	}
	diagChunks, err := s.indexer.IndexText(ctx, indexer.DecodeText(diag.Data), domain.ChunkMeta{
		Filename:     diag.Filename,
		DocumentType: domain.DocumentDiagnostic,
		OwnerScope:   userID,
	})
	if err != nil {
		return len(planChunks), 0, goerr.Wrap(err, "failed to index diagnostic", goerr.V("user", userID))
	}
	return len(planChunks), len(diagChunks), nil
}

// Retrieve runs a categorized retrieval.
func (s *Service) Retrieve(ctx context.Context, q retriever.Query) (domain.Retrieval, error) {
	return s.retriever.Retrieve(ctx, q)
}

// BuildContext renders the generator context for r.
func (s *Service) BuildContext(r domain.Retrieval) string {
	return s.builder.Build(r)
}

// Analyze compares plan with r.
func (s *Service) Analyze(plan *domain.Plan, r domain.Retrieval) domain.ImpactReport {
	return s.analyzer.Analyze(plan, r)
}

// AnalyzeWithThreshold compares plan with r using threshold instead of the
// configured usage threshold.
func (s *Service) AnalyzeWithThreshold(plan *domain.Plan, r domain.Retrieval, threshold float64) domain.ImpactReport {
	return s.analyzer.AnalyzeWithThreshold(plan, r, threshold)
}

// PlanQueryText rebuilds a retrieval query from a stored plan when its
// source document is not at hand.
func PlanQueryText(plan *domain.Plan) string {
	if plan == nil {
		return ""
	}
	parts := []string{plan.Name}
	for _, m := range plan.Modules {
		parts = append(parts, m.Name, m.Objective)
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// Level buckets a similarity score into its configured level.
func (s *Service) Level(sim float64) string {
	return s.analyzer.Level(sim)
}

// Stats reports the size and backend of the index.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	n, err := s.index.Count(ctx)
	if err != nil {
		return Stats{}, goerr.Wrap(err, "failed to count entries")
	}
	return Stats{
		Entries:    n,
		Collection: s.cfg.VectorStore.Collection,
		Backend:    s.backend,
		Embedder:   s.embedder.Name(),
		Dimension:  s.embedder.Dimension(),
	}, nil
}

// Reset empties the collection.
func (s *Service) Reset(ctx context.Context) error {
	s.libMu.Lock()
	defer s.libMu.Unlock()
	if err := s.index.Reset(ctx); err != nil {
		return goerr.Wrap(err, "failed to reset index")
	}
	logging.From(ctx).Info("index reset", slog.String("collection", s.cfg.VectorStore.Collection))
	return nil
}

// Sessions lists the user's past generation sessions, newest first.
func (s *Service) Sessions(ctx context.Context, userID string) ([]*metrics.Session, error) {
	return s.sessions.List(ctx, userID)
}

// Close releases the index and, when it holds a connection, the blob store.
func (s *Service) Close() error {
	err := s.index.Close()
	if c, ok := s.blob.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// PlanRecord is the persisted form of a generated plan.
type PlanRecord struct {
	SessionID string       `json:"session_id"`
	UserID    string       `json:"user_id"`
	CreatedAt time.Time    `json:"created_at"`
	Plan      *domain.Plan `json:"plan"`
	RAG       RAGMetadata  `json:"rag_metadata"`
}

// RAGMetadata records what the generator was given.
type RAGMetadata struct {
	Sources      []string `json:"sources"`
	Retrieved    int      `json:"retrieved"`
	ContextChars int      `json:"context_chars"`
}

// DecodePlan accepts either a PlanRecord or a bare plan document.
func DecodePlan(data []byte) (*domain.Plan, error) {
	var rec PlanRecord
	if err := json.Unmarshal(data, &rec); err == nil && rec.Plan != nil {
		return rec.Plan, nil
	}
	plan, err := generator.ParsePlan(string(data))
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// LoadPlan reads a stored plan record.
func (s *Service) LoadPlan(ctx context.Context, key string) (*PlanRecord, error) {
	data, err := s.blob.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var rec PlanRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, goerr.Wrap(err, "failed to decode plan record", goerr.V("key", key))
	}
	return &rec, nil
}

// Sources lists the distinct library filenames in r, in category order.
func Sources(r domain.Retrieval) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, res := range r.General() {
		if _, ok := seen[res.Chunk.Filename]; ok {
			continue
		}
		seen[res.Chunk.Filename] = struct{}{}
		out = append(out, res.Chunk.Filename)
	}
	return out
}
