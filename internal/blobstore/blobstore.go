// Package blobstore persists byte blobs under slash-separated keys.
package blobstore

import (
	"context"
	"path"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrNotFound is returned by Get and Delete for unknown keys.
	ErrNotFound = goerr.New("blob not found")
	// ErrInvalidKey rejects empty, absolute or escaping keys.
	ErrInvalidKey = goerr.New("invalid blob key")
)

// Store is a flat key/value blob store. Keys use "/" as separator.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	// List returns the keys starting with prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// CleanKey normalizes key and rejects keys that would escape the store root.
func CleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", goerr.Wrap(ErrInvalidKey, "key must be relative", goerr.V("key", key))
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", goerr.Wrap(ErrInvalidKey, "key escapes the store", goerr.V("key", key))
	}
	return cleaned, nil
}

// Join builds a key from segments, replacing separators inside segments.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.NewReplacer("/", "_", "\\", "_").Replace(s)
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}
