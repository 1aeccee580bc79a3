package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNoScope is returned by repositories called without a database scope.
var ErrNoScope = errors.New("no database scope in context")

// Querier is the subset of pgx shared by *pgxpool.Pool, *pgxpool.Conn and
// pgx.Tx. Repositories run every statement through the Querier found in ctx,
// so the same code runs inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type contextKey string

const (
	// ScopeKey is the context key for storing the active Querier.
	ScopeKey contextKey = "dbScope"
)

// GetScope retrieves the active Querier from context.
// Returns nil and false if not present.
func GetScope(ctx context.Context) (Querier, bool) {
	q, ok := ctx.Value(ScopeKey).(Querier)
	return q, ok && q != nil
}

// SetScope stores q as the active Querier.
func SetScope(ctx context.Context, q Querier) context.Context {
	return context.WithValue(ctx, ScopeKey, q)
}

// MustScope returns the active Querier or ErrNoScope.
func MustScope(ctx context.Context) (Querier, error) {
	q, ok := GetScope(ctx)
	if !ok {
		return nil, ErrNoScope
	}
	return q, nil
}

// WithScope returns ctx with the pool attached as its Querier. Statements run
// in autocommit mode.
func (db *DB) WithScope(ctx context.Context) context.Context {
	return SetScope(ctx, db.Pool)
}

// WithTx runs fn inside a single transaction. The transaction is exposed to
// repositories through ctx and committed only when fn returns nil; any error
// or panic rolls back every write fn made.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("failed to roll back transaction: %w", rbErr))
			}
		}
	}()

	if err = fn(SetScope(ctx, tx)); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
