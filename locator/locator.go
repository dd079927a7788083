// Package locator is the mutable directory for Mid and Smid packets.
//
// A Mid's name is derived from the user's credentials rather than from its
// contents, so it cannot live in a content-addressed store. The locator maps
// that name to the packet value and the owner's signature over it.
package locator

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

var (
	ErrNotFound = errors.New("locator: not found")
	ErrInvalid  = errors.New("locator: invalid record")
)

// Record is one directory entry.
type Record struct {
	Name      []byte
	Value     []byte
	Signature []byte
	UpdatedAt time.Time
}

func (r Record) validate() error {
	if len(r.Name) == 0 || len(r.Value) == 0 || len(r.Signature) == 0 {
		return ErrInvalid
	}
	return nil
}

// Equal compares the content fields of two records.
func (r Record) Equal(o Record) bool {
	return bytes.Equal(r.Name, o.Name) && bytes.Equal(r.Value, o.Value) && bytes.Equal(r.Signature, o.Signature)
}

// Store is a SQLite-backed locator. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database file at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("locator: empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("locator: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("locator: open %s: %w", path, err)
	}
	return newStore(db)
}

// OpenMemory returns a private in-memory store.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("locator: open memory database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	return newStore(db)
}

func newStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("locator: initialise schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Put inserts or replaces the record for rec.Name.
func (s *Store) Put(ctx context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`insert into t_locator (name, value, signature, updated_ms)
		values (?, ?, ?, ?)
		on conflict (name) do
			update set
				value = excluded.value,
				signature = excluded.signature,
				updated_ms = excluded.updated_ms`,
		rec.Name, rec.Value, rec.Signature, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("locator: put: %w", err)
	}
	return nil
}

// Get returns the record stored under name, or ErrNotFound.
func (s *Store) Get(ctx context.Context, name []byte) (Record, error) {
	rec := Record{Name: append([]byte(nil), name...)}
	var ms int64
	err := s.db.QueryRowContext(ctx,
		"select value, signature, updated_ms from t_locator where name = ?", name,
	).Scan(&rec.Value, &rec.Signature, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("locator: get: %w", err)
	}
	rec.UpdatedAt = time.UnixMilli(ms)
	return rec, nil
}

// Delete removes the record under name. Deleting a missing name is not an error.
func (s *Store) Delete(ctx context.Context, name []byte) error {
	if _, err := s.db.ExecContext(ctx, "delete from t_locator where name = ?", name); err != nil {
		return fmt.Errorf("locator: delete: %w", err)
	}
	return nil
}

// Len returns the number of records.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "select count(*) from t_locator").Scan(&n); err != nil {
		return 0, fmt.Errorf("locator: count: %w", err)
	}
	return n, nil
}
