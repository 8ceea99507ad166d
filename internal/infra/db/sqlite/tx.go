package sqlite

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v4"

	"telegram-course-streams/internal/domain/ports/repository"
)

var _ repository.TransactionManager = (*TxManager)(nil)

// TxManager hands a *sql.Tx to fn. Only the read-only flag of txOpt is honoured;
// SQLite serializes writers itself.
type TxManager struct {
	store *Store
}

func NewTxManager(store *Store) *TxManager {
	return &TxManager{store: store}
}

func (m *TxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx, err := m.store.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: txOpt.AccessMode == pgx.ReadOnly})
	if err != nil {
		return opFailed(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return opFailed(tx.Commit())
}
