package order

import (
	"context"
	"time"

	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/stock"
	"github.com/xenking/kart-fulfillment/internal/notify"
)

// Store is the persistence boundary of the order flows.
//
// InTx runs fn inside one transaction with REPEATABLE READ or stronger
// isolation. The transaction commits when fn returns nil and rolls back
// otherwise. Implementations may call fn more than once when the database
// reports a serialization failure, so fn must not have side effects outside
// tx.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// GetOrder returns the order with its items and transaction, or ErrNotFound.
	GetOrder(ctx context.Context, id int64) (*Order, error)
	// ListOrders returns matching orders newest first, without items.
	ListOrders(ctx context.Context, f ListFilter) ([]Order, error)
	// CustomerEmail returns the notification address of a customer.
	CustomerEmail(ctx context.Context, customerID int64) (string, error)
}

// Tx is a storage transaction. Row locks taken through it are held until the
// transaction ends.
type Tx interface {
	stock.Locker

	// CartLines returns the stored cart of a customer.
	CartLines(ctx context.Context, customerID int64) ([]cart.Line, error)
	// RemoveCartItems removes the cart rows of a customer for the given
	// products. Other rows stay.
	RemoveCartItems(ctx context.Context, customerID int64, productIDs []int64) error

	// InsertOrder stores o and assigns o.ID.
	InsertOrder(ctx context.Context, o *Order) error
	// InsertItems stores the items of an order.
	InsertItems(ctx context.Context, orderID int64, items []Item) error
	// GetOrder reads an order with its items, or returns ErrNotFound.
	GetOrder(ctx context.Context, id int64) (*Order, error)

	// UpdateStatus sets status and increments version, but only while the
	// stored version equals expectedVersion. It reports whether a row changed.
	UpdateStatus(ctx context.Context, id int64, expectedVersion int, status Status) (bool, error)
	// ActivateOrder writes status, total amount and deadline of a placeholder
	// order under the same version guard as UpdateStatus.
	ActivateOrder(ctx context.Context, o *Order, expectedVersion int) (bool, error)
	// InsertTransaction stores a payment record.
	InsertTransaction(ctx context.Context, t *Transaction) error

	// ListOverdue locks and returns, with items, every WAITING_PAYMENT order
	// whose deadline is at or before now.
	ListOverdue(ctx context.Context, now time.Time) ([]Order, error)
	// ExpireOrders moves the given orders from WAITING_PAYMENT to EXPIRED and
	// increments their version. Orders no longer in WAITING_PAYMENT are left
	// alone. It returns the ids that actually changed.
	ExpireOrders(ctx context.Context, ids []int64) ([]int64, error)
}

// Notifier accepts notifications without blocking.
type Notifier interface {
	Notify(ctx context.Context, m notify.Message)
}

// JobSink accepts materialization jobs.
type JobSink interface {
	Push(job Job)
}
