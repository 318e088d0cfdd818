// Package sqlstore persists profile documents in a relational database, one
// JSON payload per row keyed by profile id. Combined updates run as a
// read-modify-write inside a transaction.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/dreamware/profilestore/internal/storage"
)

var _ storage.Backend = (*Store)(nil)

const (
	defaultSQLitePath  = "profiles.db"
	defaultPostgresDSN = "postgres://localhost/profiles?sslmode=disable"
)

// dialect carries the statements that differ between drivers.
type dialect struct {
	name      string
	driver    string
	ddl       string
	selectDoc string
	lockDoc   string
	insertDoc string
	updateDoc string
	deleteDoc string
}

var sqliteDialect = dialect{
	name:   "sqlite",
	driver: "sqlite",
	ddl: `CREATE TABLE IF NOT EXISTS profiles (
		id INTEGER PRIMARY KEY,
		payload TEXT NOT NULL
	)`,
	selectDoc: `SELECT payload FROM profiles WHERE id = ?`,
	lockDoc:   `SELECT payload FROM profiles WHERE id = ?`,
	insertDoc: `INSERT INTO profiles(id, payload) VALUES(?, ?) ON CONFLICT(id) DO NOTHING`,
	updateDoc: `UPDATE profiles SET payload = ? WHERE id = ?`,
	deleteDoc: `DELETE FROM profiles WHERE id = ?`,
}

var postgresDialect = dialect{
	name:   "postgres",
	driver: "pgx",
	ddl: `CREATE TABLE IF NOT EXISTS profiles (
		id BIGINT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
	selectDoc: `SELECT payload FROM profiles WHERE id = $1`,
	lockDoc:   `SELECT payload FROM profiles WHERE id = $1 FOR UPDATE`,
	insertDoc: `INSERT INTO profiles(id, payload) VALUES($1, $2) ON CONFLICT(id) DO NOTHING`,
	updateDoc: `UPDATE profiles SET payload = $1 WHERE id = $2`,
	deleteDoc: `DELETE FROM profiles WHERE id = $1`,
}

// Store implements storage.Backend on top of database/sql.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// OpenSQLite opens (creating if needed) an SQLite database file. Writes are
// funneled through a single connection so read-modify-write transactions
// never contend for the file lock.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = defaultSQLitePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open(sqliteDialect.driver, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return open(ctx, db, sqliteDialect)
}

// OpenPostgres connects to PostgreSQL using the pgx driver (falls back to
// defaultPostgresDSN).
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultPostgresDSN
	}
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return open(ctx, db, postgresDialect)
}

func open(ctx context.Context, db *sql.DB, d dialect) (*Store, error) {
	if _, err := db.ExecContext(ctx, d.ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create profiles table: %w", err)
	}
	return &Store{db: db, dialect: d}, nil
}

// Dialect reports which database the store talks to.
func (s *Store) Dialect() string { return s.dialect.name }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// FindOne loads the document and narrows it to the projection.
func (s *Store) FindOne(ctx context.Context, id uint64, projection []storage.Path) (storage.Document, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, s.dialect.selectDoc, int64(id)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Document{}, storage.ErrDocumentNotFound
	}
	if err != nil {
		return storage.Document{}, fmt.Errorf("select profile %d: %w", id, err)
	}
	doc, err := decode(id, payload)
	if err != nil {
		return storage.Document{}, err
	}
	return doc.Project(projection)
}

// UpdateOne locks the row, applies the update and writes it back in one
// transaction.
func (s *Store) UpdateOne(ctx context.Context, id uint64, update storage.Update) (int64, error) {
	if err := update.Validate(); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var payload []byte
	err = tx.QueryRowContext(ctx, s.dialect.lockDoc, int64(id)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("lock profile %d: %w", id, err)
	}
	if update.Empty() {
		return 1, nil
	}

	doc, err := decode(id, payload)
	if err != nil {
		return 0, err
	}
	if err := doc.Apply(update); err != nil {
		return 0, err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("encode profile %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, s.dialect.updateDoc, string(data), int64(id)); err != nil {
		return 0, fmt.Errorf("update profile %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return 1, nil
}

// InsertOne stores a new row; an existing id yields storage.ErrDuplicateKey.
func (s *Store) InsertOne(ctx context.Context, doc storage.Document) error {
	data, err := json.Marshal(doc.Normalized())
	if err != nil {
		return fmt.Errorf("encode profile %d: %w", doc.ID, err)
	}
	res, err := s.db.ExecContext(ctx, s.dialect.insertDoc, int64(doc.ID), string(data))
	if err != nil {
		return fmt.Errorf("insert profile %d: %w", doc.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert profile %d: %w", doc.ID, err)
	}
	if n == 0 {
		return storage.ErrDuplicateKey
	}
	return nil
}

// DeleteOne removes the row and reports how many were deleted.
func (s *Store) DeleteOne(ctx context.Context, id uint64) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.deleteDoc, int64(id))
	if err != nil {
		return 0, fmt.Errorf("delete profile %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete profile %d: %w", id, err)
	}
	return n, nil
}

func decode(id uint64, payload []byte) (storage.Document, error) {
	var doc storage.Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return storage.Document{}, fmt.Errorf("decode profile %d: %w", id, err)
	}
	doc.ID = id
	return doc, nil
}
