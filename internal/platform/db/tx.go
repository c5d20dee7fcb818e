package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Beginner starts a transaction; *pgxpool.Pool implements it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type txKey struct{}

// unit is the state of one outermost unit of work.
type unit struct {
	tx    pgx.Tx
	hooks []func()
}

func unitFrom(ctx context.Context) *unit {
	u, _ := ctx.Value(txKey{}).(*unit)
	return u
}

// TxFromContext returns the transaction bound to ctx, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	if u := unitFrom(ctx); u != nil {
		return u.tx
	}
	return nil
}

// Conn returns the transaction bound to ctx or falls back to q. Repositories
// call it for every statement so they join a surrounding RunInTx.
func Conn(ctx context.Context, q Querier) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return q
}

// AfterCommit registers fn to run once the outermost unit of work commits.
// Outside a unit of work fn runs immediately.
func AfterCommit(ctx context.Context, fn func()) {
	if u := unitFrom(ctx); u != nil {
		u.hooks = append(u.hooks, fn)
		return
	}
	fn()
}

func runUnit(ctx context.Context, u *unit, fn func(ctx context.Context) error, commit func() error) error {
	if err := fn(context.WithValue(ctx, txKey{}, u)); err != nil {
		return err
	}
	if commit != nil {
		if err := commit(); err != nil {
			return err
		}
	}
	for _, h := range u.hooks {
		h()
	}
	return nil
}

// RunInTx runs fn inside a transaction and commits if fn returns nil. When ctx
// already carries a unit of work fn joins it and the outer call decides.
func RunInTx(ctx context.Context, b Beginner, fn func(ctx context.Context) error) error {
	if unitFrom(ctx) != nil {
		return fn(ctx)
	}

	tx, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	return runUnit(ctx, &unit{tx: tx}, fn, func() error {
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

// Transactor is what domain services depend on to make a group of repository
// calls all-or-nothing.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PoolTransactor runs units of work on a pool.
type PoolTransactor struct {
	b Beginner
}

func NewTransactor(b Beginner) *PoolTransactor { return &PoolTransactor{b: b} }

func (t *PoolTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return RunInTx(ctx, t.b, fn)
}

// NopTransactor gives in-memory repositories the same unit-of-work shape,
// including AfterCommit hooks, without a database.
type NopTransactor struct{}

func (NopTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if unitFrom(ctx) != nil {
		return fn(ctx)
	}
	return runUnit(ctx, &unit{}, fn, nil)
}
