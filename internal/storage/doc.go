// Package storage defines the document-store contract behind the profile
// service and provides the in-memory implementation, with the database
// backends living in sub-packages.
//
// # Overview
//
// Every profile is persisted as one document:
//
//	{ "_id": <id>,
//	  "bucket":   { "<encoded key>": "<value>", ... },
//	  "services": { "<service>": { "<encoded key>": "<value>", ... }, ... } }
//
// The package never sees decoded attribute keys. Callers encode keys with
// package keycodec before building paths, so a key can never collide with
// the structural separator of a dotted field path.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│           profile.Store             │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│          storage.Backend            │
//	│ FindOne / UpdateOne / InsertOne /   │
//	│ DeleteOne                           │
//	└─────────────────────────────────────┘
//	                 │
//	    ┌────────────┼────────────┬────────────┐
//	    ▼            ▼            ▼            ▼
//	┌────────┐  ┌────────┐  ┌──────────┐  ┌─────────┐
//	│ Memory │  │ SQLite │  │ Postgres │  │ MongoDB │
//	└────────┘  └────────┘  └──────────┘  └─────────┘
//
// # Core Types
//
// Path: a field address as a list of segments (bucket/<k>,
// services/<svc>, services/<svc>/<k>). Backends that speak dotted notation
// join the segments with Path.String.
//
// Update: a combined set/unset instruction. Backends must apply both halves
// in one atomic step against one document. Unsetting a field that is not
// there is a no-op; setting a service attribute creates the overlay.
//
// Document.Apply and Document.Project implement these semantics for
// backends that store the document as an opaque blob (memory, SQLite,
// Postgres). The MongoDB backend translates them to native operators.
//
// # Concurrency and Thread Safety
//
// Implementations are safe for concurrent use. Per-document atomicity is
// the only guarantee: two concurrent updates against the same id are
// applied in some order, last write wins per field.
//
// # Error Handling
//
// ErrDocumentNotFound: FindOne found no document with the id.
//
// ErrDuplicateKey: InsertOne hit an existing id. Callers that raced on
// creation can re-apply their update.
//
// ErrInvalidPath: an update or projection addressed a field outside the
// document layout.
//
// Other errors are driver failures wrapped with the operation name.
//
// # Testing
//
// Package storagetest holds the contract suite every backend runs:
//
//	storagetest.Run(t, func(t *testing.T) storage.Backend {
//	    return storage.NewMemoryStore()
//	})
package storage
