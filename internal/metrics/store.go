package metrics

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"edurag/internal/blobstore"
	"edurag/internal/logging"
)

const prefix = "metrics"

// Store persists sessions as JSON blobs under metrics/<user>/<id>.json.
type Store struct {
	blob blobstore.Store
}

// NewStore creates a Store.
func NewStore(blob blobstore.Store) *Store {
	return &Store{blob: blob}
}

// Key returns the blob key of a session.
func Key(userID, sessionID string) string {
	return blobstore.Join(prefix, userID, sessionID+".json")
}

// Save writes s, replacing any previous version.
func (st *Store) Save(ctx context.Context, s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to encode session", goerr.V("session", s.ID))
	}
	if err := st.blob.Put(ctx, Key(s.UserID, s.ID), data); err != nil {
		return goerr.Wrap(err, "failed to save session", goerr.V("session", s.ID))
	}
	return nil
}

// List returns the user's sessions, newest first. Unreadable blobs are skipped.
func (st *Store) List(ctx context.Context, userID string) ([]*Session, error) {
	dir := blobstore.Join(prefix, userID) + "/"
	keys, err := st.blob.List(ctx, dir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list sessions", goerr.V("user", userID))
	}

	sessions := make([]*Session, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		data, err := st.blob.Get(ctx, key)
		if err != nil {
			logging.From(ctx).Warn("skipping unreadable session", "key", key, logging.ErrAttr(err))
			continue
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			logging.From(ctx).Warn("skipping malformed session", "key", key, "error", err.Error())
			continue
		}
		sessions = append(sessions, &s)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
	return sessions, nil
}
