// Package postgres mirrors the in-memory store into a Postgres state table.
// Each bucket is one JSONB row; only buckets whose encoded payload changed
// since the last successful write are upserted.
package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"campfees/internal/infra/persistence/memory"
	"campfees/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// DefaultDSN is used when no DSN is configured.
	DefaultDSN = "postgres://localhost/campfees?sslmode=disable"
)

const (
	stateDDL = `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	stateSelect = `SELECT bucket, payload FROM state`
	stateUpsert = `INSERT INTO state(bucket,payload) VALUES($1,$2)
		ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload, updated_at=now()`
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store runs transactions against the embedded memory store and writes the
// changed buckets to Postgres after each commit.
type Store struct {
	*memory.Store
	db *sql.DB

	mu      sync.Mutex
	written map[string][]byte
}

// NewStore connects to dsn (DefaultDSN when empty), creates the state table
// if needed and hydrates the memory store from it.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine) (*Store, error) {
	db, err := connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine)
	present, err := hydrate(ctx, db, mem)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	encoded, err := mem.ExportState().EncodeBuckets()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	// Buckets missing from the table are written on the first flush.
	written := make(map[string][]byte, len(present))
	for _, bucket := range present {
		written[bucket] = encoded[bucket]
	}
	return &Store{Store: mem, db: db, written: written}, nil
}

func connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, stateDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure state table: %w", err)
	}
	return db, nil
}

func hydrate(ctx context.Context, db *sql.DB, mem *memory.Store) ([]string, error) {
	rows, err := db.QueryContext(ctx, stateSelect)
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	var present []string
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		if err := snapshot.DecodeBucket(bucket, payload); err != nil {
			return nil, err
		}
		present = append(present, bucket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state: %w", err)
	}
	mem.ImportState(snapshot)
	return present, nil
}

// RunInTransaction runs fn on the memory store and writes changed buckets
// when it commits.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	return res, s.flush(ctx)
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	encoded, err := s.ExportState().EncodeBuckets()
	if err != nil {
		return err
	}
	var dirty []string
	for _, bucket := range memory.Buckets {
		prev, ok := s.written[bucket]
		if !ok || !bytes.Equal(prev, encoded[bucket]) {
			dirty = append(dirty, bucket)
		}
	}
	if len(dirty) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	for _, bucket := range dirty {
		if _, err := tx.ExecContext(ctx, stateUpsert, bucket, encoded[bucket]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	for _, bucket := range dirty {
		s.written[bucket] = encoded[bucket]
	}
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
