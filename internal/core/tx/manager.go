// Package tx defines the transaction boundary the engine's services run in.
// Both the PostgreSQL and the in-memory stores implement it.
package tx

import (
	"context"
)

// Manager runs a unit of work atomically.
type Manager interface {
	// RunInTransaction executes fn within a transaction carried by ctx.
	// An error from fn rolls everything back, including sequence numbers.
	// Nested calls join the transaction already in ctx.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ReadOnlyManager can run reads against one consistent snapshot.
type ReadOnlyManager interface {
	Manager
	ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error
}

// ReadOnly runs fn through m's read-only transaction when m has one and
// through a regular transaction otherwise.
func ReadOnly(ctx context.Context, m Manager, fn func(ctx context.Context) error) error {
	if ro, ok := m.(ReadOnlyManager); ok {
		return ro.ReadOnly(ctx, fn)
	}
	return m.RunInTransaction(ctx, fn)
}
