package repository

import "context"

// Tx is an opaque, backend-defined transaction handle (pgx.Tx for Postgres,
// *sql.Tx for SQLite). Repositories MUST accept a nil Tx and fall back to a
// non-transactional executor.
type Tx interface{}

var NoTX Tx

// TransactionManager runs fn inside one database transaction. The transaction
// is committed when fn returns nil and rolled back otherwise.
//
// USAGE
//
//	tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
//		if _, err := jobs.Enqueue(ctx, tx, batch); err != nil {
//			return err
//		}
//		return sources.AdvanceWatermark(ctx, tx, id, wm)
//	})
type TransactionManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
