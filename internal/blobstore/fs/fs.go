// Package fs stores blobs as files under a root directory.
package fs

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"edurag/internal/blobstore"
)

// Store keeps each blob in root/<key>.
type Store struct {
	root string
}

var _ blobstore.Store = (*Store)(nil)

// New creates the root directory if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create blob root", goerr.V("root", root))
	}
	return &Store{root: root}, nil
}

func (s *Store) path(key string) (string, error) {
	cleaned, err := blobstore.CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, goerr.Wrap(blobstore.ErrNotFound, "no such blob", goerr.V("key", key))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read blob", goerr.V("key", key))
	}
	return data, nil
}

// Put writes through a temp file and rename so readers never see partial blobs.
func (s *Store) Put(_ context.Context, key string, data []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return goerr.Wrap(err, "failed to create blob directory", goerr.V("key", key))
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".blob-*")
	if err != nil {
		return goerr.Wrap(err, "failed to create temp blob", goerr.V("key", key))
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return goerr.Wrap(err, "failed to write blob", goerr.V("key", key))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close blob", goerr.V("key", key))
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return goerr.Wrap(err, "failed to commit blob", goerr.V("key", key))
	}
	return nil
}

func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".blob-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list blobs", goerr.V("prefix", prefix))
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return goerr.Wrap(blobstore.ErrNotFound, "no such blob", goerr.V("key", key))
	}
	if err != nil {
		return goerr.Wrap(err, "failed to delete blob", goerr.V("key", key))
	}
	return nil
}
