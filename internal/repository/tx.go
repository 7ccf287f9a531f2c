package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketloop/checkout/internal/domain/tx"
)

// ErrTxTimeout is returned when a transaction could not acquire a connection
// or finish its work within the configured deadlines. The operation left no
// partial state and may be retried.
var ErrTxTimeout = errors.New("transaction timed out")

var _ tx.Runner = (*TxManager)(nil)

// txKey carries the open pgx.Tx through the context so repositories join it.
type txKey struct{}

func txFromContext(ctx context.Context) pgx.Tx {
	if t, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return t
	}
	return nil
}

// TxManager runs functions inside a single database transaction with an
// acquire deadline (waiting for a pooled connection) and an execution
// deadline (total transaction time).
type TxManager struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
	execTimeout    time.Duration
}

// NewTxManager creates a TxManager. Non-positive timeouts fall back to
// conservative defaults.
func NewTxManager(pool *pgxpool.Pool, acquireTimeout, execTimeout time.Duration) *TxManager {
	if acquireTimeout <= 0 {
		acquireTimeout = 2 * time.Second
	}
	if execTimeout <= 0 {
		execTimeout = 10 * time.Second
	}
	return &TxManager{
		pool:           pool,
		acquireTimeout: acquireTimeout,
		execTimeout:    execTimeout,
	}
}

// InTx executes fn within one transaction. Repository calls made with the
// context passed to fn use that transaction. A nested call joins the
// enclosing transaction instead of opening a new one.
func (m *TxManager) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	acquireCtx, cancelAcquire := context.WithTimeout(ctx, m.acquireTimeout)
	conn, err := m.pool.Acquire(acquireCtx)
	cancelAcquire()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTxTimeout
		}
		return errors.Wrap(err, "acquire connection")
	}
	defer conn.Release()

	execCtx, cancelExec := context.WithTimeout(ctx, m.execTimeout)
	defer cancelExec()

	t, err := conn.BeginTx(execCtx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}

	err = fn(context.WithValue(execCtx, txKey{}, t))
	if err != nil {
		// Rollback with a fresh context: execCtx may already be expired.
		rbCtx, cancelRb := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		_ = t.Rollback(rbCtx)
		cancelRb()
		if errors.Is(err, context.DeadlineExceeded) && execCtx.Err() != nil {
			return ErrTxTimeout
		}
		return err
	}

	if err := t.Commit(execCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTxTimeout
		}
		return errors.Wrap(err, "commit transaction")
	}
	return nil
}
