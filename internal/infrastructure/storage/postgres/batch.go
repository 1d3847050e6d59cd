package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var errNoTx = errors.New("no transaction in context")

// CopyRows bulk-inserts rows with the COPY protocol. It requires the
// caller's transaction, so a failed COPY leaves nothing behind.
func (m *TxManager) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	tx := m.GetTx(ctx)
	if tx == nil {
		return 0, fmt.Errorf("copy into %s: %w", table, errNoTx)
	}
	return tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
}

// Statement is one queued statement of SendBatch.
type Statement struct {
	SQL  string
	Args []any
}

// SendBatch runs statements in one round-trip inside the caller's
// transaction and stops at the first failure.
func (m *TxManager) SendBatch(ctx context.Context, stmts []Statement) error {
	if len(stmts) == 0 {
		return nil
	}
	tx := m.GetTx(ctx)
	if tx == nil {
		return fmt.Errorf("send batch: %w", errNoTx)
	}

	b := &pgx.Batch{}
	for _, s := range stmts {
		b.Queue(s.SQL, s.Args...)
	}
	res := tx.SendBatch(ctx, b)
	defer func() { _ = res.Close() }()

	for i := range stmts {
		if _, err := res.Exec(); err != nil {
			return fmt.Errorf("batch statement %d: %w", i, err)
		}
	}
	return nil
}
