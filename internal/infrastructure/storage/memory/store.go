// Package memory is an in-process implementation of every engine repository.
// Transactions are serialized by one mutex and roll back by restoring a
// snapshot, which gives tests and local runs the same all-or-nothing unit
// semantics as PostgreSQL.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/tx"
	"costengine/pkg/logger"
)

// OutboxRecord is a published event with its JSON payload.
type OutboxRecord struct {
	ID            id.ID           `json:"id"`
	AggregateType string          `json:"aggregateType"`
	AggregateID   id.ID           `json:"aggregateId"`
	EventType     string          `json:"eventType"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// AuditRecord is a stored allocation audit entry.
type AuditRecord struct {
	UnitKey        string          `json:"unitKey"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// State is the complete store content. It is JSON-serializable so that the
// sqlite backend can persist it.
type State struct {
	Branches    map[id.ID]entity.Branch          `json:"branches"`
	Ingredients map[id.ID]entity.Ingredient      `json:"ingredients"`
	Recipes     map[id.ID]entity.Recipe          `json:"recipes"`
	Conversions []entity.UnitConversion          `json:"conversions"`
	Sales       map[id.ID]entity.SaleLine        `json:"sales"`
	Batches     map[id.ID]entity.StockBatch      `json:"batches"`
	Movements   []entity.StockMovement           `json:"movements"`
	Receipts    map[id.ID]entity.BackfillReceipt `json:"receipts"`
	Units       map[string]entity.UnitRecord     `json:"units"`
	Outbox      []OutboxRecord                   `json:"outbox"`
	Audit       []AuditRecord                    `json:"audit"`
	Sequences   map[string]int64                 `json:"sequences"`
}

// NewState returns an empty state.
func NewState() *State {
	s := &State{}
	s.ensureMaps()
	return s
}

func (s *State) ensureMaps() {
	if s.Branches == nil {
		s.Branches = make(map[id.ID]entity.Branch)
	}
	if s.Ingredients == nil {
		s.Ingredients = make(map[id.ID]entity.Ingredient)
	}
	if s.Recipes == nil {
		s.Recipes = make(map[id.ID]entity.Recipe)
	}
	if s.Sales == nil {
		s.Sales = make(map[id.ID]entity.SaleLine)
	}
	if s.Batches == nil {
		s.Batches = make(map[id.ID]entity.StockBatch)
	}
	if s.Receipts == nil {
		s.Receipts = make(map[id.ID]entity.BackfillReceipt)
	}
	if s.Units == nil {
		s.Units = make(map[string]entity.UnitRecord)
	}
	if s.Sequences == nil {
		s.Sequences = make(map[string]int64)
	}
}

// clone copies every collection. Records are values; their nested slices
// (recipe lines, sale options) are never mutated in place.
func (s *State) clone() *State {
	return &State{
		Branches:    cloneMap(s.Branches),
		Ingredients: cloneMap(s.Ingredients),
		Recipes:     cloneMap(s.Recipes),
		Conversions: append([]entity.UnitConversion(nil), s.Conversions...),
		Sales:       cloneMap(s.Sales),
		Batches:     cloneMap(s.Batches),
		Movements:   append([]entity.StockMovement(nil), s.Movements...),
		Receipts:    cloneMap(s.Receipts),
		Units:       cloneMap(s.Units),
		Outbox:      append([]OutboxRecord(nil), s.Outbox...),
		Audit:       append([]AuditRecord(nil), s.Audit...),
		Sequences:   cloneMap(s.Sequences),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// CommitHook runs at the end of every successful top-level transaction while
// the store is still locked. An error rolls the transaction back.
type CommitHook func(ctx context.Context, state *State) error

// Store implements the engine repositories in memory.
type Store struct {
	mu     sync.Mutex
	state  *State
	onSave CommitHook
}

var _ tx.Manager = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{state: NewState()}
}

// NewFromState creates a store over an existing state (e.g. loaded from disk).
func NewFromState(state *State, hook CommitHook) *Store {
	if state == nil {
		state = NewState()
	}
	state.ensureMaps()
	return &Store{state: state, onSave: hook}
}

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// RunInTransaction executes fn atomically. Nested calls join the outer
// transaction.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	backup := s.state.clone()
	txCtx := context.WithValue(ctx, txKey{}, s)
	if err := fn(txCtx); err != nil {
		s.state = backup
		return err
	}
	if s.onSave != nil {
		if err := s.onSave(txCtx, s.state); err != nil {
			s.state = backup
			logger.Error(ctx, "persist memory store", "error", err)
			return fmt.Errorf("persist state: %w", err)
		}
	}
	return nil
}

// read runs fn under the store lock unless ctx already holds it.
func (s *Store) read(ctx context.Context, fn func(st *State)) {
	if s.inTx(ctx) {
		fn(s.state)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

// write runs fn in the caller's transaction or in a new one.
func (s *Store) write(ctx context.Context, fn func(st *State) error) error {
	return s.RunInTransaction(ctx, func(ctx context.Context) error {
		return fn(s.state)
	})
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}
