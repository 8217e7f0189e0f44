package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"edurag/internal/domain"
	"edurag/internal/vectorstore"
)

// ErrRequestFailed is returned for non-2xx responses from Qdrant.
var ErrRequestFailed = goerr.New("qdrant request failed")

// Storage is a minimal REST client to Qdrant.
// It assumes cosine distance and creates the collection if missing.
type Storage struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
}

var _ vectorstore.Index = (*Storage)(nil)

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
}

// New connects to Qdrant and creates the collection when it does not exist.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.Dimension <= 0 {
		return nil, goerr.New("qdrant collection requires a positive dimension", goerr.V("dimension", cfg.Dimension))
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	s := &Storage{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		client:     &http.Client{Timeout: timeout},
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", s.url, s.collection)
}

func (s *Storage) ensureCollection(ctx context.Context) error {
	status, err := s.do(ctx, http.MethodGet, s.collectionURL(), nil, nil)
	if err == nil {
		return nil
	}
	if status != http.StatusNotFound {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.dimension,
			"distance": "Cosine",
		},
	}
	_, err = s.do(ctx, http.MethodPut, s.collectionURL(), body, nil)
	return err
}

// pointID derives a stable UUID from the entry id; Qdrant only accepts
// unsigned integers or UUIDs as point ids.
func (s *Storage) pointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(s.collection+"/"+id)).String()
}

func (s *Storage) Add(ctx context.Context, entries []domain.IndexEntry) error {
	if err := vectorstore.Validate(entries, s.dimension); err != nil {
		return err
	}
	points := make([]map[string]any, len(entries))
	for i, e := range entries {
		payload := map[string]any{"id": e.ID, "text": e.Chunk.Text}
		for k, v := range e.Chunk.Metadata() {
			payload[k] = v
		}
		points[i] = map[string]any{
			"id":      s.pointID(e.ID),
			"vector":  e.Vector,
			"payload": payload,
		}
	}
	body := map[string]any{"points": points}
	_, err := s.do(ctx, http.MethodPut, s.collectionURL()+"/points?wait=true", body, nil)
	return err
}

func (s *Storage) Query(ctx context.Context, vector []float32, k int, filter domain.Filter) ([]domain.RetrievalResult, error) {
	if k <= 0 {
		return []domain.RetrievalResult{}, nil
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	if len(filter) > 0 {
		req["filter"] = toQdrantFilter(filter)
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if _, err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/search", req, &resp); err != nil {
		return nil, err
	}
	results := make([]domain.RetrievalResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		meta := make(map[string]string, len(r.Payload))
		for k, v := range r.Payload {
			if str, ok := v.(string); ok {
				meta[k] = str
			}
		}
		results = append(results, domain.RetrievalResult{
			Chunk:      domain.ChunkFromMetadata(meta["text"], meta),
			Similarity: vectorstore.Clamp(r.Score),
		})
	}
	return vectorstore.Rank(results, k), nil
}

func (s *Storage) Delete(ctx context.Context, filter domain.Filter) error {
	body := map[string]any{"filter": toQdrantFilter(filter)}
	_, err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/delete?wait=true", body, nil)
	return err
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if _, err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/count", map[string]any{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func (s *Storage) Reset(ctx context.Context) error {
	if status, err := s.do(ctx, http.MethodDelete, s.collectionURL(), nil, nil); err != nil && status != http.StatusNotFound {
		return err
	}
	return s.ensureCollection(ctx)
}

func (s *Storage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func toQdrantFilter(filter domain.Filter) map[string]any {
	must := make([]map[string]any, 0, len(filter))
	for k, v := range filter {
		must = append(must, map[string]any{
			"key":   k,
			"match": map[string]any{"value": v},
		})
	}
	return map[string]any{"must": must}
}

func (s *Storage) do(ctx context.Context, method, url string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, goerr.Wrap(err, "failed to encode qdrant request")
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to build qdrant request", goerr.V("url", url))
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, goerr.Wrap(err, "qdrant request error", goerr.V("method", method), goerr.V("url", url))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, goerr.Wrap(ErrRequestFailed, "unexpected status",
			goerr.V("method", method), goerr.V("url", url),
			goerr.V("status", resp.Status), goerr.V("body", string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, goerr.Wrap(err, "failed to decode qdrant response", goerr.V("url", url))
		}
	}
	return resp.StatusCode, nil
}
