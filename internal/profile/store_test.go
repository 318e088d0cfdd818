package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/profilestore/internal/directory"
	"github.com/dreamware/profilestore/internal/keycodec"
	"github.com/dreamware/profilestore/internal/storage"
)

// fakeDirectory answers Exists from a fixed set and counts calls.
type fakeDirectory struct {
	mu    sync.Mutex
	known map[string]bool
	err   error
	calls int
}

func (d *fakeDirectory) Exists(ctx context.Context, name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return false, d.err
	}
	return d.known[name], nil
}

// countingBackend records how many times each method was called.
type countingBackend struct {
	storage.Backend
	mu    sync.Mutex
	finds int
	calls int
}

func (b *countingBackend) FindOne(ctx context.Context, id uint64, projection []storage.Path) (storage.Document, error) {
	b.mu.Lock()
	b.finds++
	b.calls++
	b.mu.Unlock()
	return b.Backend.FindOne(ctx, id, projection)
}

func (b *countingBackend) UpdateOne(ctx context.Context, id uint64, u storage.Update) (int64, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	return b.Backend.UpdateOne(ctx, id, u)
}

func (b *countingBackend) DeleteOne(ctx context.Context, id uint64) (int64, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	return b.Backend.DeleteOne(ctx, id)
}

// failingBackend fails every call with err.
type failingBackend struct{ err error }

func (b failingBackend) FindOne(context.Context, uint64, []storage.Path) (storage.Document, error) {
	return storage.Document{}, b.err
}
func (b failingBackend) UpdateOne(context.Context, uint64, storage.Update) (int64, error) {
	return 0, b.err
}
func (b failingBackend) InsertOne(context.Context, storage.Document) error { return b.err }
func (b failingBackend) DeleteOne(context.Context, uint64) (int64, error) { return 0, b.err }
func (b failingBackend) Close() error                                   { return nil }

// racingBackend simulates a concurrent creator: the first update misses,
// and the document appears before our insert runs.
type racingBackend struct {
	*storage.MemoryStore
	once sync.Once
}

func (b *racingBackend) UpdateOne(ctx context.Context, id uint64, u storage.Update) (int64, error) {
	raced := false
	b.once.Do(func() {
		raced = true
		_ = b.MemoryStore.InsertOne(ctx, storage.Document{ID: id, Bucket: map[string]string{"other": "x"}})
	})
	if raced {
		return 0, nil
	}
	return b.MemoryStore.UpdateOne(ctx, id, u)
}

// corruptBackend returns keys this codec could never have produced.
type corruptBackend struct {
	*storage.MemoryStore
}

func (corruptBackend) FindOne(_ context.Context, id uint64, _ []storage.Path) (storage.Document, error) {
	bad := map[string]string{"bad$x": "1"}
	return storage.Document{ID: id, Bucket: bad, Services: map[string]map[string]string{"mail": bad}}, nil
}

func newStore(t *testing.T, services ...string) (*Store, *storage.MemoryStore, *fakeDirectory) {
	t.Helper()
	mem := storage.NewMemoryStore()
	dir := &fakeDirectory{known: map[string]bool{}}
	for _, s := range services {
		dir.known[s] = true
	}
	return New(mem, dir), mem, dir
}

func TestSetThenShow(t *testing.T) {
	store, _, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, 1, []Entry{{Key: "theme", Value: "dark"}, {Key: "a.b$c", Value: "x"}}))

	got, err := store.Show(ctx, 1, []string{"theme", "a.b$c", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"theme": "dark", "a.b$c": "x"}, got)
}

func TestShowRepeatedKeys(t *testing.T) {
	store, _, _ := newStore(t, "mail")
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, 1, []Entry{{Key: "a.b", Value: "1"}, {Key: "c", Value: "2"}}))
	require.NoError(t, store.SetService(ctx, 1, "mail", []Entry{{Key: "a.b", Value: "3"}}))

	got, err := store.Show(ctx, 1, []string{"a.b", "c", "a.b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.b": "1", "c": "2"}, got)

	got, err = store.ShowOverlay(ctx, 1, "mail", []string{"a.b", "a.b", "c", "c"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.b": "3", "c": "2"}, got)
}

func TestSetStoresEncodedKeys(t *testing.T) {
	store, mem, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, 1, []Entry{{Key: "a.b$c", Value: "x"}}))

	doc, err := mem.FindOne(ctx, 1, []storage.Path{storage.BucketPath(keycodec.Encode("a.b$c"))})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a$pb$dc": "x"}, doc.Bucket)
}

func TestEmptyValueDeletes(t *testing.T) {
	store, _, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, 1, []Entry{{Key: "k", Value: "v"}, {Key: "keep", Value: "1"}}))
	require.NoError(t, store.Set(ctx, 1, []Entry{{Key: "k", Value: ""}}))

	got, err := store.Show(ctx, 1, []string{"k", "keep"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"keep": "1"}, got)
}

func TestCombinedSetAndUnset(t *testing.T) {
	store, _, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, 1, []Entry{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}))
	require.NoError(t, store.Set(ctx, 1, []Entry{{Key: "a", Value: ""}, {Key: "c", Value: "3"}}))

	got, err := store.Show(ctx, 1, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b": "2", "c": "3"}, got)
}

func TestLastEntryWins(t *testing.T) {
	store, _, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, 1, []Entry{{Key: "a", Value: "1"}, {Key: "a", Value: "2"}}))
	got, err := store.Show(ctx, 1, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "2"}, got)

	require.NoError(t, store.Set(ctx, 1, []Entry{{Key: "a", Value: "3"}, {Key: "a", Value: ""}}))
	got, err = store.Show(ctx, 1, []string{"a"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLazyCreation(t *testing.T) {
	store, mem, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, 99, []Entry{{Key: "a", Value: "1"}, {Key: "gone", Value: ""}}))
	assert.Equal(t, 1, mem.Len())

	got, err := store.Show(ctx, 99, []string{"a", "gone"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1"}, got)

	require.NoError(t, store.Remove(ctx, 99))
	assert.Equal(t, 0, mem.Len())
}

func TestLazyCreationRace(t *testing.T) {
	backend := &racingBackend{MemoryStore: storage.NewMemoryStore()}
	store := New(backend, &fakeDirectory{})
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, 5, []Entry{{Key: "a", Value: "1"}}))

	got, err := store.Show(ctx, 5, []string{"a", "other"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "other": "x"}, got)
}

func TestConcurrentFirstSets(t *testing.T) {
	store, mem, _ := newStore(t)
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i)
			if err := store.Set(ctx, 7, []Entry{{Key: key, Value: key}}); err != nil {
				t.Errorf("set %s: %v", key, err)
			}
		}(i)
	}
	wg.Wait()

	keys := make([]string, writers)
	for i := range keys {
		keys[i] = fmt.Sprintf("k%d", i)
	}
	got, err := store.Show(ctx, 7, keys)
	require.NoError(t, err)
	assert.Len(t, got, writers)
	assert.Equal(t, 1, mem.Len())
}

func TestShowNotFound(t *testing.T) {
	store, _, _ := newStore(t, "mail")
	ctx := context.Background()

	_, err := store.Show(ctx, 1, []string{"a"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "profile not found", err.Error())

	_, err = store.ShowService(ctx, 1, "mail", []string{"a"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.ShowOverlay(ctx, 1, "mail", []string{"a"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemove(t *testing.T) {
	store, _, _ := newStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.Remove(ctx, 1), ErrNotFound)

	require.NoError(t, store.Set(ctx, 1, []Entry{{Key: "a", Value: "1"}}))
	require.NoError(t, store.Remove(ctx, 1))
	assert.ErrorIs(t, store.Remove(ctx, 1), ErrNotFound)

	_, err := store.Show(ctx, 1, []string{"a"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceOperations(t *testing.T) {
	store, _, _ := newStore(t, "mail")
	ctx := context.Background()

	t.Run("set service on absent profile", func(t *testing.T) {
		err := store.SetService(ctx, 1, "mail", []Entry{{Key: "a", Value: "1"}})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	require.NoError(t, store.Set(ctx, 1, []Entry{{Key: "a", Value: "global"}}))

	t.Run("set and show service", func(t *testing.T) {
		require.NoError(t, store.SetService(ctx, 1, "mail", []Entry{{Key: "a", Value: "9"}, {Key: "x.y", Value: "z"}}))

		got, err := store.ShowService(ctx, 1, "mail", []string{"a", "x.y", "missing"})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"a": "9", "x.y": "z"}, got)

		global, err := store.Show(ctx, 1, []string{"a"})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"a": "global"}, global)
	})

	t.Run("empty value removes service key", func(t *testing.T) {
		require.NoError(t, store.SetService(ctx, 1, "mail", []Entry{{Key: "x.y", Value: ""}}))
		got, err := store.ShowService(ctx, 1, "mail", []string{"a", "x.y"})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"a": "9"}, got)
	})

	t.Run("remove service", func(t *testing.T) {
		require.NoError(t, store.RemoveService(ctx, 1, "mail"))
		got, err := store.ShowService(ctx, 1, "mail", []string{"a"})
		require.NoError(t, err)
		assert.Empty(t, got)

		// the overlay need not exist
		require.NoError(t, store.RemoveService(ctx, 1, "mail"))

		global, err := store.Show(ctx, 1, []string{"a"})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"a": "global"}, global)
	})

	t.Run("remove service on absent profile", func(t *testing.T) {
		assert.ErrorIs(t, store.RemoveService(ctx, 2, "mail"), ErrNotFound)
	})
}

func TestServiceGating(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{Backend: storage.NewMemoryStore()}
	dir := &fakeDirectory{known: map[string]bool{"mail": true}}
	store := New(backend, dir)

	require.NoError(t, store.Set(ctx, 1, []Entry{{Key: "a", Value: "1"}}))
	require.NoError(t, store.SetService(ctx, 1, "mail", []Entry{{Key: "a", Value: "2"}}))
	backend.calls = 0

	ops := map[string]func() error{
		"show service": func() error {
			_, err := store.ShowService(ctx, 1, "unknown", []string{"a"})
			return err
		},
		"show overlay": func() error {
			_, err := store.ShowOverlay(ctx, 1, "unknown", []string{"a"})
			return err
		},
		"set service": func() error {
			return store.SetService(ctx, 1, "unknown", []Entry{{Key: "a", Value: "x"}})
		},
		"remove service": func() error {
			return store.RemoveService(ctx, 1, "unknown")
		},
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			err := op()
			assert.ErrorIs(t, err, ErrServiceNotFound)
			assert.Equal(t, "service not found", err.Error())
		})
	}
	assert.Equal(t, 0, backend.calls, "the backend must not be touched for unknown services")

	got, err := store.Show(ctx, 1, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1"}, got)
	overlay, err := store.ShowService(ctx, 1, "mail", []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "2"}, overlay)
	unknown, err := backend.FindOne(ctx, 1, []storage.Path{storage.ServiceRoot("unknown")})
	require.NoError(t, err)
	assert.Nil(t, unknown.Overlay("unknown"))
}

func TestDirectoryFailure(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	dir := &fakeDirectory{err: &directory.RemoteError{Reason: "directory unreachable"}}
	store := New(mem, dir)
	require.NoError(t, store.Set(ctx, 1, []Entry{{Key: "a", Value: "1"}}))

	err := store.SetService(ctx, 1, "mail", []Entry{{Key: "a", Value: "2"}})
	assert.ErrorIs(t, err, ErrInternal)
	assert.Equal(t, "directory unreachable", err.Error())

	var remote *directory.RemoteError
	assert.ErrorAs(t, err, &remote)

	_, err = store.ShowOverlay(ctx, 1, "mail", []string{"a"})
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestOverlay(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{Backend: storage.NewMemoryStore()}
	dir := &fakeDirectory{known: map[string]bool{"mail": true}}
	store := New(backend, dir)

	require.NoError(t, store.Set(ctx, 1, []Entry{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}))
	require.NoError(t, store.SetService(ctx, 1, "mail", []Entry{{Key: "a", Value: "9"}}))

	t.Run("service wins and global fills in", func(t *testing.T) {
		backend.finds = 0
		got, err := store.ShowOverlay(ctx, 1, "mail", []string{"a", "b"})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"a": "9", "b": "2"}, got)
		assert.Equal(t, 2, backend.finds)
	})

	t.Run("absent keys omitted", func(t *testing.T) {
		got, err := store.ShowOverlay(ctx, 1, "mail", []string{"a", "nowhere"})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"a": "9"}, got)
	})

	t.Run("only service keys still reads twice", func(t *testing.T) {
		backend.finds = 0
		got, err := store.ShowOverlay(ctx, 1, "mail", []string{"a"})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"a": "9"}, got)
		assert.Equal(t, 2, backend.finds)
	})

	t.Run("no overlay falls back to global", func(t *testing.T) {
		dir.known["chat"] = true
		got, err := store.ShowOverlay(ctx, 1, "chat", []string{"a", "b"})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"a": "1", "b": "2"}, got)
	})

	t.Run("directory asked once", func(t *testing.T) {
		dir.calls = 0
		_, err := store.ShowOverlay(ctx, 1, "mail", []string{"a"})
		require.NoError(t, err)
		assert.Equal(t, 1, dir.calls)
	})
}

func TestIdempotentSet(t *testing.T) {
	store, mem, _ := newStore(t, "mail")
	ctx := context.Background()
	entries := []Entry{{Key: "a", Value: "1"}, {Key: "b", Value: ""}}
	paths := []storage.Path{
		storage.BucketPath("a"), storage.BucketPath("b"), storage.ServiceRoot("mail"),
	}

	require.NoError(t, store.Set(ctx, 1, entries))
	require.NoError(t, store.SetService(ctx, 1, "mail", entries))
	once, err := mem.FindOne(ctx, 1, paths)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, 1, entries))
	require.NoError(t, store.SetService(ctx, 1, "mail", entries))
	twice, err := mem.FindOne(ctx, 1, paths)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, map[string]string{"a": "1"}, twice.Bucket)
	assert.Equal(t, map[string]string{"a": "1"}, twice.Overlay("mail"))
	assert.Equal(t, 1, mem.Len())
}

func TestStorageFailure(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("connection reset")
	store := New(failingBackend{err: cause}, &fakeDirectory{known: map[string]bool{"mail": true}})

	_, err := store.Show(ctx, 1, []string{"a"})
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "connection reset", err.Error())

	assert.ErrorIs(t, store.Set(ctx, 1, []Entry{{Key: "a", Value: "1"}}), ErrStorage)
	assert.ErrorIs(t, store.SetService(ctx, 1, "mail", nil), ErrStorage)
	assert.ErrorIs(t, store.Remove(ctx, 1), ErrStorage)
	assert.ErrorIs(t, store.RemoveService(ctx, 1, "mail"), ErrStorage)
}

func TestCorruptStoredKey(t *testing.T) {
	backend := corruptBackend{MemoryStore: storage.NewMemoryStore()}
	store := New(backend, &fakeDirectory{known: map[string]bool{"mail": true}})
	ctx := context.Background()

	_, err := store.Show(ctx, 1, []string{"a"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, keycodec.ErrInvalidEscape)

	_, err = store.ShowService(ctx, 1, "mail", []string{"a"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBuildUpdate(t *testing.T) {
	update, initial := buildUpdate([]Entry{
		{Key: "a", Value: "1"},
		{Key: "b", Value: ""},
		{Key: "c.d", Value: "2"},
		{Key: "a", Value: "3"},
	}, storage.BucketPath)

	assert.Equal(t, []storage.Assignment{
		{Path: storage.BucketPath("a"), Value: "3"},
		{Path: storage.BucketPath("c$pd"), Value: "2"},
	}, update.Set)
	assert.Equal(t, []storage.Path{storage.BucketPath("b")}, update.Unset)
	assert.Equal(t, map[string]string{"a": "3", "c$pd": "2"}, initial)
}

func TestErrorKinds(t *testing.T) {
	assert.ErrorIs(t, NotFound(), ErrNotFound)
	assert.NotErrorIs(t, NotFound(), ErrServiceNotFound)
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
	assert.Equal(t, KindStorage, KindOf(fmt.Errorf("wrapped: %w", StorageError(errors.New("x")))))
	assert.Equal(t, "service_not_found", KindServiceNotFound.String())
	assert.Equal(t, "unknown", Kind(42).String())
}
