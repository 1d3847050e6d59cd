// Package sqlite persists the in-memory store to a single SQLite file so the
// CLI can run locally without PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"costengine/internal/infrastructure/storage/memory"
)

// Store snapshots the memory store state to one table of JSON buckets after
// every successful transaction.
type Store struct {
	*memory.Store
	db *sql.DB
}

// bucket maps a table row to one collection of the state.
type bucket struct {
	name string
	ptr  func(st *memory.State) any
}

var buckets = []bucket{
	{"branches", func(st *memory.State) any { return &st.Branches }},
	{"ingredients", func(st *memory.State) any { return &st.Ingredients }},
	{"recipes", func(st *memory.State) any { return &st.Recipes }},
	{"conversions", func(st *memory.State) any { return &st.Conversions }},
	{"sales", func(st *memory.State) any { return &st.Sales }},
	{"batches", func(st *memory.State) any { return &st.Batches }},
	{"movements", func(st *memory.State) any { return &st.Movements }},
	{"receipts", func(st *memory.State) any { return &st.Receipts }},
	{"units", func(st *memory.State) any { return &st.Units }},
	{"outbox", func(st *memory.State) any { return &st.Outbox }},
	{"audit", func(st *memory.State) any { return &st.Audit }},
	{"sequences", func(st *memory.State) any { return &st.Sequences }},
}

// Open opens (or creates) the database at path and loads its state.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "costengine.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; the memory store already serializes transactions.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}

	state, err := load(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db}
	s.Store = memory.NewFromState(state, s.persist)
	return s, nil
}

func load(ctx context.Context, db *sql.DB) (*memory.State, error) {
	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	raw := make(map[string][]byte)
	for rows.Next() {
		var (
			name    string
			payload []byte
		)
		if err := rows.Scan(&name, &payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		raw[name] = payload
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	state := memory.NewState()
	for _, b := range buckets {
		payload, ok := raw[b.name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(payload, b.ptr(state)); err != nil {
			return nil, fmt.Errorf("decode %s: %w", b.name, err)
		}
	}
	return state, nil
}

// persist is the memory store commit hook; it runs under the store lock.
func (s *Store) persist(ctx context.Context, state *memory.State) (retErr error) {
	tx, err := s.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, b := range buckets {
		data, err := json.Marshal(b.ptr(state))
		if err != nil {
			return fmt.Errorf("encode %s: %w", b.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`,
			b.name, data,
		); err != nil {
			return fmt.Errorf("upsert %s: %w", b.name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Ping checks the database file is still reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

