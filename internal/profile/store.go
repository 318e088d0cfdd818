package profile

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dreamware/profilestore/internal/directory"
	"github.com/dreamware/profilestore/internal/keycodec"
	"github.com/dreamware/profilestore/internal/storage"
)

const tracerName = "github.com/dreamware/profilestore/internal/profile"

// Entry is one key/value pair of a set call. An empty Value removes Key.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Store implements the profile operations on top of a persistence backend
// and a service directory.
type Store struct {
	backend storage.Backend
	dir     directory.Directory
	metrics *Metrics
	tracer  trace.Tracer
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics records every operation on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithTracer replaces the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Store) { s.tracer = t }
}

// New returns a Store. The backend and directory must be safe for
// concurrent use; the Store adds no locking of its own.
func New(backend storage.Backend, dir directory.Directory, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		dir:     dir,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Show returns the requested global attributes that are present.
func (s *Store) Show(ctx context.Context, id uint64, keys []string) (map[string]string, error) {
	var out map[string]string
	err := s.observe(ctx, OpShow, id, "", len(keys), func(ctx context.Context) error {
		var err error
		out, err = s.show(ctx, id, keys)
		return err
	})
	return out, err
}

// ShowService returns the requested attributes present in one service's
// overlay.
func (s *Store) ShowService(ctx context.Context, id uint64, service string, keys []string) (map[string]string, error) {
	var out map[string]string
	err := s.observe(ctx, OpShowService, id, service, len(keys), func(ctx context.Context) error {
		if err := s.checkService(ctx, service); err != nil {
			return err
		}
		var err error
		out, err = s.showService(ctx, id, service, keys)
		return err
	})
	return out, err
}

// ShowOverlay merges the service view over the global view. Keys found in
// the overlay win; the rest are looked up globally; keys found in neither
// are omitted. The profile must exist.
func (s *Store) ShowOverlay(ctx context.Context, id uint64, service string, keys []string) (map[string]string, error) {
	var out map[string]string
	err := s.observe(ctx, OpShowOverlay, id, service, len(keys), func(ctx context.Context) error {
		if err := s.checkService(ctx, service); err != nil {
			return err
		}
		scoped, err := s.showService(ctx, id, service, keys)
		if err != nil {
			return err
		}

		remaining := make([]string, 0, len(keys))
		for _, k := range keys {
			if _, ok := scoped[k]; !ok {
				remaining = append(remaining, k)
			}
		}
		global, err := s.show(ctx, id, remaining)
		if err != nil {
			return err
		}

		for k, v := range global {
			scoped[k] = v
		}
		out = scoped
		return nil
	})
	return out, err
}

// Set writes global attributes, creating the profile when it does not
// exist yet.
func (s *Store) Set(ctx context.Context, id uint64, entries []Entry) error {
	return s.observe(ctx, OpSet, id, "", len(entries), func(ctx context.Context) error {
		update, initial := buildUpdate(entries, storage.BucketPath)
		matched, err := s.backend.UpdateOne(ctx, id, update)
		if err != nil {
			return StorageError(err)
		}
		if matched > 0 {
			return nil
		}

		err = s.backend.InsertOne(ctx, storage.Document{
			ID:       id,
			Bucket:   initial,
			Services: map[string]map[string]string{},
		})
		if errors.Is(err, storage.ErrDuplicateKey) {
			// A concurrent Set created the profile between our update and
			// insert. Apply the update to the document that won.
			matched, err = s.backend.UpdateOne(ctx, id, update)
			if err != nil {
				return StorageError(err)
			}
			if matched == 0 {
				return NotFound()
			}
			return nil
		}
		if err != nil {
			return StorageError(err)
		}
		return nil
	})
}

// SetService writes attributes into one service's overlay. The profile
// must already exist.
func (s *Store) SetService(ctx context.Context, id uint64, service string, entries []Entry) error {
	return s.observe(ctx, OpSetService, id, service, len(entries), func(ctx context.Context) error {
		if err := s.checkService(ctx, service); err != nil {
			return err
		}
		update, _ := buildUpdate(entries, func(key string) storage.Path {
			return storage.ServicePath(service, key)
		})
		return s.mustMatch(s.backend.UpdateOne(ctx, id, update))
	})
}

// Remove deletes the whole profile.
func (s *Store) Remove(ctx context.Context, id uint64) error {
	return s.observe(ctx, OpRemove, id, "", 0, func(ctx context.Context) error {
		return s.mustMatch(s.backend.DeleteOne(ctx, id))
	})
}

// RemoveService drops one service's overlay. The overlay itself need not
// exist; the profile must.
func (s *Store) RemoveService(ctx context.Context, id uint64, service string) error {
	return s.observe(ctx, OpRemoveService, id, service, 0, func(ctx context.Context) error {
		if err := s.checkService(ctx, service); err != nil {
			return err
		}
		return s.mustMatch(s.backend.UpdateOne(ctx, id, storage.Update{
			Unset: []storage.Path{storage.ServiceRoot(service)},
		}))
	})
}

func (s *Store) show(ctx context.Context, id uint64, keys []string) (map[string]string, error) {
	projection := make([]storage.Path, 0, len(keys))
	for _, k := range keycodec.EncodeAll(keys) {
		projection = append(projection, storage.BucketPath(k))
	}
	doc, err := s.find(ctx, id, projection)
	if err != nil {
		return nil, err
	}
	return decodeKeys(doc.Bucket)
}

func (s *Store) showService(ctx context.Context, id uint64, service string, keys []string) (map[string]string, error) {
	projection := make([]storage.Path, 0, len(keys))
	for _, k := range keycodec.EncodeAll(keys) {
		projection = append(projection, storage.ServicePath(service, k))
	}
	doc, err := s.find(ctx, id, projection)
	if err != nil {
		return nil, err
	}
	return decodeKeys(doc.Overlay(service))
}

func (s *Store) find(ctx context.Context, id uint64, projection []storage.Path) (storage.Document, error) {
	doc, err := s.backend.FindOne(ctx, id, projection)
	if errors.Is(err, storage.ErrDocumentNotFound) {
		return storage.Document{}, NotFound()
	}
	if err != nil {
		return storage.Document{}, StorageError(err)
	}
	return doc, nil
}

// checkService gates every service-scoped operation on the directory.
func (s *Store) checkService(ctx context.Context, service string) error {
	ok, err := s.dir.Exists(ctx, service)
	if err != nil {
		e := InternalError(err.Error())
		e.Cause = err
		return e
	}
	if !ok {
		return ServiceNotFound()
	}
	return nil
}

// mustMatch turns a zero match or delete count into NotFound.
func (s *Store) mustMatch(n int64, err error) error {
	if err != nil {
		return StorageError(err)
	}
	if n == 0 {
		return NotFound()
	}
	return nil
}

func (s *Store) observe(ctx context.Context, op string, id uint64, service string, keys int, fn func(context.Context) error) error {
	attrs := []attribute.KeyValue{
		attribute.Int64("profile.id", int64(id)),
		attribute.Int("profile.keys", keys),
	}
	if service != "" {
		attrs = append(attrs, attribute.String("profile.service", service))
	}
	ctx, span := s.tracer.Start(ctx, "profile."+op, trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	s.metrics.observe(op, err, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// buildUpdate encodes the entries and partitions them into set and unset
// instructions. When a key repeats, its last entry wins. initial holds the
// encoded non-empty entries for lazy creation.
func buildUpdate(entries []Entry, path func(encodedKey string) storage.Path) (update storage.Update, initial map[string]string) {
	values := make(map[string]string, len(entries))
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		key := keycodec.Encode(e.Key)
		if _, seen := values[key]; !seen {
			order = append(order, key)
		}
		values[key] = e.Value
	}

	initial = make(map[string]string, len(order))
	for _, key := range order {
		v := values[key]
		if v == "" {
			update.Unset = append(update.Unset, path(key))
			continue
		}
		update.Set = append(update.Set, storage.Assignment{Path: path(key), Value: v})
		initial[key] = v
	}
	return update, initial
}

func decodeKeys(m map[string]string) (map[string]string, error) {
	out, err := keycodec.DecodeMap(m)
	if err != nil {
		return nil, ValidationError(err)
	}
	return out, nil
}
