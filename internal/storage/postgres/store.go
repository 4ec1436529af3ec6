package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/kart-fulfillment/internal/domain/auth"
	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/order"
	"github.com/xenking/kart-fulfillment/internal/domain/product"
)

const (
	maxTxAttempts  = 50
	retryBaseDelay = 2 * time.Millisecond
	retryMaxDelay  = 50 * time.Millisecond
)

const listOrdersSQL = `SELECT id, customer_id, status, total_amount, created_at, deadline, version
	FROM orders
	WHERE ($1::bigint = 0 OR customer_id = $1) AND ($2::text = '' OR status = $2)
	ORDER BY created_at DESC, id DESC`

const customerEmailSQL = `SELECT email FROM customers WHERE id = $1`

var (
	_ order.Store     = (*Store)(nil)
	_ cart.Repository = (*Store)(nil)
	_ auth.Repository = (*Store)(nil)
	_ product.Catalog = (*Store)(nil)
)

// Store implements every storage interface of the service on one pool.
type Store struct {
	pool *pgxpool.Pool
	lg   *zap.Logger
	now  func() time.Time
}

// NewStore returns a Store that uses the given pool.
func NewStore(pool *pgxpool.Pool, lg *zap.Logger) *Store {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Store{pool: pool, lg: lg, now: time.Now}
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InTx runs fn in a REPEATABLE READ transaction. When PostgreSQL aborts the
// transaction with a serialization failure or a deadlock, the whole of fn
// runs again on a fresh snapshot until it succeeds, fails otherwise, runs out
// of attempts, or ctx is done.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	op := func() error {
		err := s.runTx(ctx, fn)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(op, txBackOff(ctx), func(err error, next time.Duration) {
		s.lg.Debug("Retrying transaction",
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	})
}

// txBackOff allows maxTxAttempts runs in total with jittered exponential
// delays capped at retryMaxDelay.
func txBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryBaseDelay
	b.Multiplier = 2
	b.MaxInterval = retryMaxDelay
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, maxTxAttempts-1), ctx)
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	// Rollback after a successful commit is a no-op.
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetOrder implements order.Store.
func (s *Store) GetOrder(ctx context.Context, id int64) (*order.Order, error) {
	return getOrder(ctx, s.pool, id)
}

// ListOrders implements order.Store.
func (s *Store) ListOrders(ctx context.Context, f order.ListFilter) ([]order.Order, error) {
	rows, err := s.pool.Query(ctx, listOrdersSQL, f.CustomerID, string(f.Status))
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	out, err := collectOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return out, nil
}

// CustomerEmail implements order.Store.
func (s *Store) CustomerEmail(ctx context.Context, customerID int64) (string, error) {
	var email string
	err := s.pool.QueryRow(ctx, customerEmailSQL, customerID).Scan(&email)
	if err != nil {
		if isNoRows(err) {
			return "", auth.ErrCustomerNotFound
		}
		return "", fmt.Errorf("reading customer %d: %w", customerID, err)
	}
	return email, nil
}
