package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
)

type TxContextKey string

const txKey = TxContextKey("tx-context-key")

var savepointNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Tx interface {
	Querier
	IsOpen() bool
	Flavor() sqlbuilder.Flavor
	Savepoint(ctx context.Context, name string) error
	ReleaseSavepoint(ctx context.Context, name string) error
	RollbackToSavepoint(ctx context.Context, name string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Transaction is a struct that wraps the sqlx.Tx struct and provides additional functionality
type Transaction struct {
	*sqlx.Tx
	logger   ectologger.Logger
	flavor   sqlbuilder.Flavor
	isClosed bool
}

func NewTx(tx *sqlx.Tx, logger ectologger.Logger) *Transaction {
	return &Transaction{
		Tx:     tx,
		logger: logger,
		flavor: FlavorFor(tx.DriverName()),
	}
}

// joinedTx is handed to callers that found a transaction already open on the
// context. The opener owns commit and rollback, so both are no-ops here.
type joinedTx struct {
	*Transaction
}

func (j joinedTx) Commit(context.Context) error   { return nil }
func (j joinedTx) Rollback(context.Context) error { return nil }

// GetTx joins the transaction carried by ctx, or begins a new one and stores it on the returned context.
func GetTx(ctx context.Context, logger ectologger.Logger, db DB, opts *sql.TxOptions) (context.Context, Tx, error) {
	if ctxTx, ok := ctx.Value(txKey).(*Transaction); ok && ctxTx.IsOpen() {
		return ctx, joinedTx{ctxTx}, nil
	}

	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Errorf("error while beginning transaction")
		return ctx, nil, fmt.Errorf("error while beginning transaction: %w", err)
	}

	newTx := NewTx(tx, logger)
	return context.WithValue(ctx, txKey, newTx), newTx, nil
}

// Executor returns the transaction open on ctx, falling back to the pool
func Executor(ctx context.Context, db DB) Querier {
	if ctxTx, ok := ctx.Value(txKey).(*Transaction); ok && ctxTx.IsOpen() {
		return ctxTx
	}
	return db
}

// WithTx stores an already open transaction on ctx
func WithTx(ctx context.Context, tx *Transaction) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

func (t *Transaction) IsOpen() bool {
	return !t.isClosed
}

func (t *Transaction) Flavor() sqlbuilder.Flavor {
	return t.flavor
}

func (t *Transaction) Savepoint(ctx context.Context, name string) error {
	return t.savepointExec(ctx, "SAVEPOINT %s", name)
}

func (t *Transaction) ReleaseSavepoint(ctx context.Context, name string) error {
	return t.savepointExec(ctx, "RELEASE SAVEPOINT %s", name)
}

func (t *Transaction) RollbackToSavepoint(ctx context.Context, name string) error {
	return t.savepointExec(ctx, "ROLLBACK TO SAVEPOINT %s", name)
}

func (t *Transaction) savepointExec(ctx context.Context, statement, name string) error {
	if t.isClosed {
		return fmt.Errorf("transaction already closed")
	}
	if !savepointNameRe.MatchString(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}
	if _, err := t.Tx.ExecContext(ctx, fmt.Sprintf(statement, name)); err != nil {
		t.logger.WithContext(ctx).WithError(err).WithField("savepoint", name).Errorf("error while executing %s", fmt.Sprintf(statement, name))
		return err
	}
	return nil
}

func (t *Transaction) Rollback(ctx context.Context) error {
	if t.isClosed {
		return nil
	}
	t.isClosed = true

	if err := t.Tx.Rollback(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while rolling back transaction")
		return fmt.Errorf("error while rolling back transaction: %w", err)
	}
	return nil
}

func (t *Transaction) Commit(ctx context.Context) error {
	if t.isClosed {
		return fmt.Errorf("transaction already closed")
	}
	t.isClosed = true

	if err := t.Tx.Commit(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while committing transaction")
		return fmt.Errorf("error while committing transaction: %w", err)
	}
	return nil
}
