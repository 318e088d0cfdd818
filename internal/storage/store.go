package storage

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrDocumentNotFound is returned by FindOne when no document has the id
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDuplicateKey is returned by InsertOne when the id is already taken
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidPath is returned when an update addresses a field the
	// document layout does not have
	ErrInvalidPath = errors.New("invalid field path")
)

// Backend defines the document store the profile core is written against.
// All implementations must be safe for concurrent use and must apply the
// set and unset halves of a single UpdateOne atomically.
type Backend interface {
	// FindOne returns the document with the given id narrowed to the
	// projected paths. An empty projection returns only the id.
	// Returns ErrDocumentNotFound if the document doesn't exist
	FindOne(ctx context.Context, id uint64, projection []Path) (Document, error)

	// UpdateOne applies the combined set/unset update to one document
	// Returns the number of matched documents (0 or 1)
	UpdateOne(ctx context.Context, id uint64, update Update) (int64, error)

	// InsertOne stores a new document
	// Returns ErrDuplicateKey if the id exists
	InsertOne(ctx context.Context, doc Document) error

	// DeleteOne removes a document
	// Returns the number of deleted documents (0 or 1)
	DeleteOne(ctx context.Context, id uint64) (int64, error)

	// Close releases pooled connections
	Close() error
}

// MemoryStore implements Backend with in-memory storage
// Uses sync.RWMutex for thread-safe concurrent access
type MemoryStore struct {
	mu   sync.RWMutex        // Protects concurrent access
	docs map[uint64]Document // Documents by id
}

var _ Backend = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[uint64]Document),
	}
}

// FindOne returns a projected copy of the stored document
func (m *MemoryStore) FindOne(ctx context.Context, id uint64, projection []Path) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, exists := m.docs[id]
	if !exists {
		return Document{}, ErrDocumentNotFound
	}
	return doc.Project(projection)
}

// UpdateOne applies the update to a working copy and swaps it in,
// so a failed update leaves the stored document untouched
func (m *MemoryStore) UpdateOne(ctx context.Context, id uint64, update Update) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, exists := m.docs[id]
	if !exists {
		return 0, nil
	}

	working := doc.Clone()
	if err := working.Apply(update); err != nil {
		return 0, err
	}
	m.docs[id] = working
	return 1, nil
}

// InsertOne stores a copy of doc
func (m *MemoryStore) InsertOne(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.docs[doc.ID]; exists {
		return ErrDuplicateKey
	}
	stored := doc.Clone()
	stored.normalize()
	m.docs[doc.ID] = stored
	return nil
}

// DeleteOne removes a document
func (m *MemoryStore) DeleteOne(ctx context.Context, id uint64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.docs[id]; !exists {
		return 0, nil
	}
	delete(m.docs, id)
	return 1, nil
}

// Len returns the number of stored documents
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Close is a no-op for the memory store
func (m *MemoryStore) Close() error { return nil }
