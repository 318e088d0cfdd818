package mongostore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/dreamware/profilestore/internal/storage"
	"github.com/dreamware/profilestore/internal/storage/storagetest"
)

func TestMongoContract(t *testing.T) {
	uri := os.Getenv("PROFILE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("PROFILE_TEST_MONGO_URI not set")
	}

	n := 0
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		n++
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		store, err := Open(ctx, Config{
			URI:        uri,
			Database:   "profilestore_test",
			Collection: fmt.Sprintf("profile_%d_%d", time.Now().UnixNano(), n),
		})
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = store.Collection().Drop(context.Background())
			_ = store.Close()
		})
		return store
	})
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultURI, cfg.URI)
	assert.Equal(t, "admin", cfg.AuthSource)
	assert.Equal(t, "atomics", cfg.Database)
	assert.Equal(t, "profile", cfg.Collection)

	cfg = Config{Database: "custom"}.withDefaults()
	assert.Equal(t, "custom", cfg.Database)
}

func TestBuildUpdate(t *testing.T) {
	tests := []struct {
		name   string
		update storage.Update
		want   bson.D
	}{
		{
			name: "set only",
			update: storage.Update{Set: []storage.Assignment{
				{Path: storage.BucketPath("a$pb"), Value: "1"},
			}},
			want: bson.D{{Key: "$set", Value: bson.D{{Key: "bucket.a$pb", Value: "1"}}}},
		},
		{
			name:   "unset only",
			update: storage.Update{Unset: []storage.Path{storage.ServiceRoot("mail")}},
			want:   bson.D{{Key: "$unset", Value: bson.D{{Key: "services.mail", Value: ""}}}},
		},
		{
			name: "combined",
			update: storage.Update{
				Set:   []storage.Assignment{{Path: storage.ServicePath("mail", "x"), Value: "1"}},
				Unset: []storage.Path{storage.ServicePath("mail", "y")},
			},
			want: bson.D{
				{Key: "$set", Value: bson.D{{Key: "services.mail.x", Value: "1"}}},
				{Key: "$unset", Value: bson.D{{Key: "services.mail.y", Value: ""}}},
			},
		},
		{
			name: "set shadows unset",
			update: storage.Update{
				Set: []storage.Assignment{{Path: storage.ServicePath("mail", "x"), Value: "1"}},
				Unset: []storage.Path{
					storage.ServicePath("mail", "x"),
					storage.ServiceRoot("mail"),
					storage.BucketPath("x"),
				},
			},
			want: bson.D{
				{Key: "$set", Value: bson.D{{Key: "services.mail.x", Value: "1"}}},
				{Key: "$unset", Value: bson.D{{Key: "bucket.x", Value: ""}}},
			},
		},
		{
			name: "repeated paths",
			update: storage.Update{
				Set: []storage.Assignment{
					{Path: storage.BucketPath("a"), Value: "1"},
					{Path: storage.BucketPath("a"), Value: "2"},
				},
				Unset: []storage.Path{storage.BucketPath("b"), storage.BucketPath("b")},
			},
			want: bson.D{
				{Key: "$set", Value: bson.D{{Key: "bucket.a", Value: "2"}}},
				{Key: "$unset", Value: bson.D{{Key: "bucket.b", Value: ""}}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildUpdate(tt.update))
		})
	}
}

func TestBuildProjection(t *testing.T) {
	id := bson.E{Key: storage.FieldID, Value: 1}

	tests := []struct {
		name  string
		paths []storage.Path
		want  bson.D
	}{
		{name: "none", want: bson.D{id}},
		{
			name:  "distinct keys",
			paths: []storage.Path{storage.BucketPath("a"), storage.BucketPath("b$pc")},
			want:  bson.D{id, {Key: "bucket.a", Value: 1}, {Key: "bucket.b$pc", Value: 1}},
		},
		{
			name:  "repeated key",
			paths: []storage.Path{storage.BucketPath("a"), storage.BucketPath("b"), storage.BucketPath("a")},
			want:  bson.D{id, {Key: "bucket.a", Value: 1}, {Key: "bucket.b", Value: 1}},
		},
		{
			name: "parent wins over children",
			paths: []storage.Path{
				storage.ServicePath("mail", "x"),
				storage.ServiceRoot("mail"),
				storage.ServicePath("mail", "y"),
				storage.ServicePath("chat", "x"),
			},
			want: bson.D{id, {Key: "services.mail", Value: 1}, {Key: "services.chat.x", Value: 1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildProjection(tt.paths))
		})
	}
}

// TestMongoStoredLayout checks that a freshly inserted profile carries both
// top-level maps even when they are empty.
func TestMongoStoredLayout(t *testing.T) {
	uri := os.Getenv("PROFILE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("PROFILE_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := Open(ctx, Config{
		URI:        uri,
		Database:   "profilestore_test",
		Collection: fmt.Sprintf("profile_layout_%d", time.Now().UnixNano()),
	})
	require.NoError(t, err)
	defer func() {
		_ = store.Collection().Drop(context.Background())
		_ = store.Close()
	}()

	require.NoError(t, store.InsertOne(ctx, storage.Document{ID: 3}))

	var raw bson.M
	require.NoError(t, store.Collection().FindOne(ctx, bson.D{{Key: "_id", Value: int64(3)}}).Decode(&raw))
	assert.Equal(t, bson.M{"_id": int64(3), "bucket": bson.M{}, "services": bson.M{}}, raw)
}
