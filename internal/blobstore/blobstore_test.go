package blobstore_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/m-mizutani/gt"

	"edurag/internal/blobstore"
	"edurag/internal/blobstore/fs"
	"edurag/internal/blobstore/gcs"
)

func runStoreTest(t *testing.T, newStore func(t *testing.T) blobstore.Store) {
	t.Helper()

	t.Run("Put then Get round trips", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		gt.NoError(t, s.Put(ctx, "plans/ana/p1.json", []byte(`{"name":"a"}`))).Required()
		data, err := s.Get(ctx, "plans/ana/p1.json")
		gt.NoError(t, err).Required()
		gt.Value(t, string(data)).Equal(`{"name":"a"}`)

		gt.NoError(t, s.Put(ctx, "plans/ana/p1.json", []byte(`{"name":"b"}`))).Required()
		data, err = s.Get(ctx, "plans/ana/p1.json")
		gt.NoError(t, err).Required()
		gt.Value(t, string(data)).Equal(`{"name":"b"}`)
	})

	t.Run("List filters by prefix", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, k := range []string{"metrics/ana/2.json", "metrics/ana/1.json", "metrics/luis/1.json", "plans/ana/1.json"} {
			gt.NoError(t, s.Put(ctx, k, []byte("{}"))).Required()
		}
		keys, err := s.List(ctx, "metrics/ana/")
		gt.NoError(t, err).Required()
		gt.Value(t, keys).Equal([]string{"metrics/ana/1.json", "metrics/ana/2.json"})

		keys, err = s.List(ctx, "nothing/")
		gt.NoError(t, err).Required()
		gt.Array(t, keys).Length(0)
	})

	t.Run("missing keys", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Get(ctx, "plans/none.json")
		gt.Bool(t, errors.Is(err, blobstore.ErrNotFound)).True()

		gt.NoError(t, s.Put(ctx, "plans/x.json", []byte("{}"))).Required()
		gt.NoError(t, s.Delete(ctx, "plans/x.json")).Required()
		err = s.Delete(ctx, "plans/x.json")
		gt.Bool(t, errors.Is(err, blobstore.ErrNotFound)).True()
	})

	t.Run("rejects escaping keys", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, k := range []string{"", "/etc/passwd", "../x", "a/../../x"} {
			err := s.Put(ctx, k, []byte("x"))
			gt.Bool(t, errors.Is(err, blobstore.ErrInvalidKey)).True()
		}
	})
}

func TestFSStore(t *testing.T) {
	runStoreTest(t, func(t *testing.T) blobstore.Store {
		s, err := fs.New(t.TempDir())
		gt.NoError(t, err).Required()
		return s
	})
}

func TestGCSStore(t *testing.T) {
	runStoreTest(t, func(t *testing.T) blobstore.Store {
		bucket := os.Getenv("TEST_GCS_BUCKET")
		if bucket == "" {
			t.Skip("TEST_GCS_BUCKET not set")
		}
		s, err := gcs.New(context.Background(), bucket, "edurag-test/"+uuid.NewString())
		gt.NoError(t, err).Required()
		t.Cleanup(func() { gt.NoError(t, s.Close()) })
		return s
	})
}

func TestJoin(t *testing.T) {
	gt.Value(t, blobstore.Join("plans", "ana@example.com", "p1.json")).Equal("plans/ana@example.com/p1.json")
	gt.Value(t, blobstore.Join("plans", "a/b", "", "x.json")).Equal("plans/a_b/x.json")
}
