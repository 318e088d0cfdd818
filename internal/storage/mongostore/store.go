// Package mongostore keeps profile documents in a MongoDB collection and
// translates storage updates into native $set/$unset operators.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dreamware/profilestore/internal/storage"
)

var _ storage.Backend = (*Store)(nil)

// Defaults used when Config leaves a field empty.
const (
	DefaultURI           = "mongodb://localhost:27017"
	DefaultAuthSource    = "admin"
	DefaultDatabase      = "atomics"
	DefaultCollection    = "profile"
	DefaultAuthMechanism = "SCRAM-SHA-1"
)

// Config describes how to reach the profile collection.
type Config struct {
	URI        string
	Username   string
	Password   string
	AuthSource string
	Database   string
	Collection string
}

func (c Config) withDefaults() Config {
	if c.URI == "" {
		c.URI = DefaultURI
	}
	if c.AuthSource == "" {
		c.AuthSource = DefaultAuthSource
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
	return c
}

// Store implements storage.Backend against a mongo collection.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// record is the BSON shape of a stored profile.
type record struct {
	ID       int64                        `bson:"_id"`
	Bucket   map[string]string            `bson:"bucket"`
	Services map[string]map[string]string `bson:"services"`
}

// Open connects, pings the server and returns a Store bound to the
// configured collection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()

	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.Username != "" {
		opts.SetAuth(options.Credential{
			AuthMechanism: DefaultAuthMechanism,
			AuthSource:    cfg.AuthSource,
			Username:      cfg.Username,
			Password:      cfg.Password,
		})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Store{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

// Collection exposes the backing collection for test setup.
func (s *Store) Collection() *mongo.Collection { return s.collection }

// Close disconnects the client.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

func byID(id uint64) bson.D {
	return bson.D{{Key: storage.FieldID, Value: int64(id)}}
}

// FindOne runs a projected find on _id.
func (s *Store) FindOne(ctx context.Context, id uint64, projection []storage.Path) (storage.Document, error) {
	var rec record
	opts := options.FindOne().SetProjection(buildProjection(projection))
	err := s.collection.FindOne(ctx, byID(id), opts).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.Document{}, storage.ErrDocumentNotFound
	}
	if err != nil {
		return storage.Document{}, fmt.Errorf("find profile %d: %w", id, err)
	}
	return storage.Document{ID: uint64(rec.ID), Bucket: rec.Bucket, Services: rec.Services}, nil
}

// UpdateOne sends the set and unset halves as a single update command.
func (s *Store) UpdateOne(ctx context.Context, id uint64, update storage.Update) (int64, error) {
	if err := update.Validate(); err != nil {
		return 0, err
	}
	if update.Empty() {
		n, err := s.collection.CountDocuments(ctx, byID(id), options.Count().SetLimit(1))
		if err != nil {
			return 0, fmt.Errorf("count profile %d: %w", id, err)
		}
		return n, nil
	}

	res, err := s.collection.UpdateOne(ctx, byID(id), buildUpdate(update))
	if err != nil {
		return 0, fmt.Errorf("update profile %d: %w", id, err)
	}
	return res.MatchedCount, nil
}

// InsertOne inserts a new profile; an existing _id yields storage.ErrDuplicateKey.
func (s *Store) InsertOne(ctx context.Context, doc storage.Document) error {
	doc = doc.Normalized()
	_, err := s.collection.InsertOne(ctx, record{
		ID:       int64(doc.ID),
		Bucket:   doc.Bucket,
		Services: doc.Services,
	})
	if mongo.IsDuplicateKeyError(err) {
		return storage.ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert profile %d: %w", doc.ID, err)
	}
	return nil
}

// DeleteOne removes the profile and reports how many were deleted.
func (s *Store) DeleteOne(ctx context.Context, id uint64) (int64, error) {
	res, err := s.collection.DeleteOne(ctx, byID(id))
	if err != nil {
		return 0, fmt.Errorf("delete profile %d: %w", id, err)
	}
	return res.DeletedCount, nil
}

// buildUpdate renders an update document. Mongo rejects an update that
// touches the same path (or a parent of it) in both operators, so unsets
// shadowed by a set are dropped; the set wins, as it does in Document.Apply.
// Repeated set paths keep the last value.
func buildUpdate(update storage.Update) bson.D {
	setIndex := make(map[string]int, len(update.Set))
	var set bson.D
	for _, a := range update.Set {
		key := a.Path.String()
		if i, ok := setIndex[key]; ok {
			set[i].Value = a.Value
			continue
		}
		setIndex[key] = len(set)
		set = append(set, bson.E{Key: key, Value: a.Value})
	}

	seen := make(map[string]bool, len(update.Unset))
	var unset bson.D
	for _, p := range update.Unset {
		key := p.String()
		if seen[key] || shadowed(p, update.Set) {
			continue
		}
		seen[key] = true
		unset = append(unset, bson.E{Key: key, Value: ""})
	}

	var out bson.D
	if len(set) > 0 {
		out = append(out, bson.E{Key: "$set", Value: set})
	}
	if len(unset) > 0 {
		out = append(out, bson.E{Key: "$unset", Value: unset})
	}
	return out
}

// buildProjection renders a projection on _id plus every path. Mongo
// rejects a projection naming the same field twice or a field together with
// its parent, so repeats and paths under an included parent are dropped.
func buildProjection(paths []storage.Path) bson.D {
	proj := bson.D{{Key: storage.FieldID, Value: 1}}
	for i, p := range paths {
		if !coveredBy(p, i, paths) {
			proj = append(proj, bson.E{Key: p.String(), Value: 1})
		}
	}
	return proj
}

// coveredBy reports whether paths holds a strict ancestor of p, or p itself
// at an index before i.
func coveredBy(p storage.Path, i int, paths []storage.Path) bool {
	for j, q := range paths {
		if j == i || !hasPrefix(p, q) {
			continue
		}
		if len(q) < len(p) || j < i {
			return true
		}
	}
	return false
}

// shadowed reports whether p equals or is a prefix of any set path.
func shadowed(p storage.Path, sets []storage.Assignment) bool {
	for _, a := range sets {
		if hasPrefix(a.Path, p) {
			return true
		}
	}
	return false
}

// hasPrefix reports whether prefix equals p or is one of its ancestors.
func hasPrefix(p, prefix storage.Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}
