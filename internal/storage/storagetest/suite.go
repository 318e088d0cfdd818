// Package storagetest provides the contract suite every storage.Backend
// implementation must pass.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/profilestore/internal/storage"
)

// Factory returns an empty backend. Cleanup is registered on t by the
// factory itself.
type Factory func(t *testing.T) storage.Backend

// Run exercises the full Backend contract against backends built by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Run("find missing document", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.FindOne(context.Background(), 1, nil)
		assert.ErrorIs(t, err, storage.ErrDocumentNotFound)
	})

	t.Run("insert and project bucket", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.InsertOne(ctx, storage.Document{
			ID:     7,
			Bucket: map[string]string{"name": "ada", "lang": "en", "tz": "UTC"},
		}))

		doc, err := b.FindOne(ctx, 7, []storage.Path{
			storage.BucketPath("name"),
			storage.BucketPath("tz"),
			storage.BucketPath("missing"),
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(7), doc.ID)
		assert.Equal(t, map[string]string{"name": "ada", "tz": "UTC"}, doc.Bucket)
		assert.Empty(t, doc.Services)
	})

	t.Run("repeated projection paths", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.InsertOne(ctx, storage.Document{
			ID:       9,
			Bucket:   map[string]string{"a": "1", "b": "2"},
			Services: map[string]map[string]string{"mail": {"a": "3"}},
		}))

		doc, err := b.FindOne(ctx, 9, []storage.Path{
			storage.BucketPath("a"),
			storage.BucketPath("a"),
			storage.ServicePath("mail", "a"),
			storage.ServicePath("mail", "a"),
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"a": "1"}, doc.Bucket)
		assert.Equal(t, map[string]string{"a": "3"}, doc.Overlay("mail"))
	})

	t.Run("empty projection returns id only", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.InsertOne(ctx, storage.Document{
			ID:       8,
			Bucket:   map[string]string{"a": "1"},
			Services: map[string]map[string]string{"mail": {"a": "2"}},
		}))

		doc, err := b.FindOne(ctx, 8, nil)
		require.NoError(t, err)
		assert.Equal(t, uint64(8), doc.ID)
		assert.Empty(t, doc.Bucket)
		assert.Empty(t, doc.Services)
	})

	t.Run("insert duplicate id", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.InsertOne(ctx, storage.Document{ID: 9}))
		err := b.InsertOne(ctx, storage.Document{ID: 9, Bucket: map[string]string{"x": "y"}})
		assert.ErrorIs(t, err, storage.ErrDuplicateKey)

		doc, err := b.FindOne(ctx, 9, []storage.Path{storage.BucketPath("x")})
		require.NoError(t, err)
		assert.Empty(t, doc.Bucket, "failed insert must not overwrite")
	})

	t.Run("update missing document", func(t *testing.T) {
		b := newBackend(t)
		matched, err := b.UpdateOne(context.Background(), 10, storage.Update{
			Set: []storage.Assignment{{Path: storage.BucketPath("a"), Value: "1"}},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(0), matched)
	})

	t.Run("combined set and unset", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.InsertOne(ctx, storage.Document{
			ID:     11,
			Bucket: map[string]string{"keep": "1", "drop": "2", "change": "3"},
		}))

		matched, err := b.UpdateOne(ctx, 11, storage.Update{
			Set: []storage.Assignment{
				{Path: storage.BucketPath("change"), Value: "33"},
				{Path: storage.BucketPath("new"), Value: "4"},
			},
			Unset: []storage.Path{storage.BucketPath("drop"), storage.BucketPath("never-there")},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), matched)

		doc, err := b.FindOne(ctx, 11, []storage.Path{
			storage.BucketPath("keep"), storage.BucketPath("drop"),
			storage.BucketPath("change"), storage.BucketPath("new"),
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"keep": "1", "change": "33", "new": "4"}, doc.Bucket)
	})

	t.Run("empty update still reports match", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.InsertOne(ctx, storage.Document{ID: 12}))

		matched, err := b.UpdateOne(ctx, 12, storage.Update{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), matched)

		matched, err = b.UpdateOne(ctx, 13, storage.Update{})
		require.NoError(t, err)
		assert.Equal(t, int64(0), matched)
	})

	t.Run("service overlay lifecycle", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.InsertOne(ctx, storage.Document{
			ID:     14,
			Bucket: map[string]string{"theme": "light"},
		}))

		matched, err := b.UpdateOne(ctx, 14, storage.Update{
			Set: []storage.Assignment{
				{Path: storage.ServicePath("mail", "theme"), Value: "dark"},
				{Path: storage.ServicePath("mail", "sig"), Value: "--"},
			},
		})
		require.NoError(t, err)
		require.Equal(t, int64(1), matched)

		doc, err := b.FindOne(ctx, 14, []storage.Path{
			storage.ServicePath("mail", "theme"),
			storage.ServicePath("mail", "absent"),
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"theme": "dark"}, doc.Overlay("mail"))
		assert.Empty(t, doc.Bucket)

		doc, err = b.FindOne(ctx, 14, []storage.Path{storage.ServiceRoot("mail")})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"theme": "dark", "sig": "--"}, doc.Overlay("mail"))

		_, err = b.UpdateOne(ctx, 14, storage.Update{Unset: []storage.Path{storage.ServicePath("mail", "sig")}})
		require.NoError(t, err)
		doc, err = b.FindOne(ctx, 14, []storage.Path{storage.ServiceRoot("mail")})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"theme": "dark"}, doc.Overlay("mail"))

		matched, err = b.UpdateOne(ctx, 14, storage.Update{Unset: []storage.Path{storage.ServiceRoot("mail")}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), matched)
		doc, err = b.FindOne(ctx, 14, []storage.Path{storage.ServiceRoot("mail"), storage.BucketPath("theme")})
		require.NoError(t, err)
		assert.Nil(t, doc.Overlay("mail"))
		assert.Equal(t, map[string]string{"theme": "light"}, doc.Bucket)
	})

	t.Run("invalid path rejected", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.InsertOne(ctx, storage.Document{ID: 15}))
		_, err := b.UpdateOne(ctx, 15, storage.Update{
			Set: []storage.Assignment{{Path: storage.Path{"bucket"}, Value: "x"}},
		})
		assert.ErrorIs(t, err, storage.ErrInvalidPath)
	})

	t.Run("delete", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.InsertOne(ctx, storage.Document{ID: 16}))

		deleted, err := b.DeleteOne(ctx, 16)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		deleted, err = b.DeleteOne(ctx, 16)
		require.NoError(t, err)
		assert.Equal(t, int64(0), deleted)

		_, err = b.FindOne(ctx, 16, nil)
		assert.ErrorIs(t, err, storage.ErrDocumentNotFound)
	})

	t.Run("large ids round trip", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		const id = uint64(1) << 62
		require.NoError(t, b.InsertOne(ctx, storage.Document{ID: id, Bucket: map[string]string{"k": "v"}}))
		doc, err := b.FindOne(ctx, id, []storage.Path{storage.BucketPath("k")})
		require.NoError(t, err)
		assert.Equal(t, id, doc.ID)
		assert.Equal(t, "v", doc.Bucket["k"])
	})

	t.Run("concurrent updates to one document", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.InsertOne(ctx, storage.Document{ID: 17}))

		const writers = 8
		var wg sync.WaitGroup
		wg.Add(writers)
		for i := 0; i < writers; i++ {
			go func(i int) {
				defer wg.Done()
				key := fmt.Sprintf("k%d", i)
				if _, err := b.UpdateOne(ctx, 17, storage.Update{
					Set: []storage.Assignment{{Path: storage.BucketPath(key), Value: key}},
				}); err != nil {
					t.Errorf("writer %d: %v", i, err)
				}
			}(i)
		}
		wg.Wait()

		projection := make([]storage.Path, 0, writers)
		for i := 0; i < writers; i++ {
			projection = append(projection, storage.BucketPath(fmt.Sprintf("k%d", i)))
		}
		doc, err := b.FindOne(ctx, 17, projection)
		require.NoError(t, err)
		assert.Len(t, doc.Bucket, writers, "no update may be lost")
	})
}
