// Package postgres persists committed store state to PostgreSQL as JSONB
// bucket rows, snapshotting after every successful transaction.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver

	"tapcore/internal/infra/persistence/memory"
	"tapcore/pkg/domain"
)

var _ domain.Store = (*Store)(nil)

// sqlOpen is swappable so tests can inject a fake database handle.
var sqlOpen = sql.Open

// OverrideSQLOpen replaces the connection opener and returns a restore
// function. Test hook only.
func OverrideSQLOpen(fn func(driver, dsn string) (*sql.DB, error)) func() {
	prev := sqlOpen
	sqlOpen = fn
	return func() { sqlOpen = prev }
}

// Store wraps the in-memory store with PostgreSQL snapshot persistence.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore connects with the given DSN, ensures the state table, and hydrates
// the in-memory store from any existing snapshot.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sqlOpen("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS tapcore_state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db}
	if err := s.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

var buckets = []string{"templates", "instances", "lineages", "sequences"}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM tapcore_state`)
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

func (s *Store) persist(ctx context.Context) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
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
		if _, err = tx.ExecContext(ctx, `INSERT INTO tapcore_state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, data); err != nil {
			retErr = fmt.Errorf("upsert %s: %w", bucket, err)
			return retErr
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RunInTransaction applies fn in memory, then snapshots to PostgreSQL on
// success.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Tx) error) error {
	if err := s.Store.RunInTransaction(ctx, fn); err != nil {
		return err
	}
	return s.persist(ctx)
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
