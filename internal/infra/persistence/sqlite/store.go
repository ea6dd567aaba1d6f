// Package sqlite persists committed store state to an embedded SQLite file as
// JSON bucket rows, snapshotting after every successful transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"tapcore/internal/infra/persistence/memory"
	"tapcore/pkg/domain"
)

var _ domain.Store = (*Store)(nil)

// Store wraps the in-memory store with SQLite snapshot persistence.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the database file, ensures the state table, and
// hydrates the in-memory store from any existing snapshot.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "tapcore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

var buckets = []string{"templates", "instances", "lineages", "sequences"}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := memory.Snapshot{}
	loaded := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		loaded = true
		switch bucket {
		case "templates":
			if err := json.Unmarshal(payload, &snapshot.Templates); err != nil {
				return fmt.Errorf("decode templates: %w", err)
			}
		case "instances":
			if err := json.Unmarshal(payload, &snapshot.Instances); err != nil {
				return fmt.Errorf("decode instances: %w", err)
			}
		case "lineages":
			if err := json.Unmarshal(payload, &snapshot.Lineages); err != nil {
				return fmt.Errorf("decode lineages: %w", err)
			}
		case "sequences":
			if err := json.Unmarshal(payload, &snapshot.Sequences); err != nil {
				return fmt.Errorf("decode sequences: %w", err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if loaded {
		s.ImportState(snapshot)
	}
	return nil
}

func (s *Store) persist() (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.ExportState()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range buckets {
		var data []byte
		switch bucket {
		case "templates":
			data, err = json.Marshal(snapshot.Templates)
		case "instances":
			data, err = json.Marshal(snapshot.Instances)
		case "lineages":
			data, err = json.Marshal(snapshot.Lineages)
		case "sequences":
			data, err = json.Marshal(snapshot.Sequences)
		}
		if err != nil {
			retErr = err
			return retErr
		}
		if _, err = tx.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			retErr = fmt.Errorf("upsert %s: %w", bucket, err)
			return retErr
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RunInTransaction applies fn in memory, then snapshots to SQLite on success.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Tx) error) error {
	if err := s.Store.RunInTransaction(ctx, fn); err != nil {
		return err
	}
	return s.persist()
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
