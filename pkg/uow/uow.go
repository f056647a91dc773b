// Package uow scopes a group of writes to one relational transaction.
package uow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Beginner is satisfied by *pgxpool.Pool and by pgx.Tx (nested savepoints).
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Executor is the query surface shared by the pool and a transaction.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// UnitOfWork runs fn inside a transaction that commits only when fn returns nil.
type UnitOfWork struct {
	db   Beginner
	opts pgx.TxOptions
}

func New(pool *pgxpool.Pool) *UnitOfWork {
	return &UnitOfWork{db: pool}
}

// NewWith builds a UnitOfWork over any Beginner with explicit tx options.
func NewWith(db Beginner, opts pgx.TxOptions) *UnitOfWork {
	return &UnitOfWork{db: db, opts: opts}
}

// Do begins a transaction, hands it to fn and commits on success. Any error
// or panic from fn rolls the transaction back; the panic is re-raised. The
// connection goes back to the pool on every path.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	tx, err := u.db.BeginTx(ctx, u.opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx), tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// TxFromContext returns the transaction opened by Do, if any.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok
}

// ExecutorFrom picks the transaction in ctx, falling back to def.
func ExecutorFrom(ctx context.Context, def Executor) Executor {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return def
}
