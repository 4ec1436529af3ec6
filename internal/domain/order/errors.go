package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/stock"
)

var (
	// ErrEmptyCart is returned when checkout is attempted with no lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrNotFound is returned when the order does not exist or is not visible
	// to the caller.
	ErrNotFound = errors.New("order not found")
	// ErrConcurrencyConflict is returned when the version the caller read is
	// no longer current. The caller must re-read and decide whether to retry.
	ErrConcurrencyConflict = errors.New("order was modified concurrently")
	// ErrExpired is returned when paying at or after the payment deadline.
	ErrExpired = errors.New("payment deadline has passed")
	// ErrForbidden is returned when a customer attempts an admin operation.
	ErrForbidden = errors.New("operation requires an admin principal")
	// ErrCancelled is returned when an operation exceeded its time budget or
	// its caller went away. Nothing was committed.
	ErrCancelled = errors.New("operation cancelled")
)

// InvalidTransitionError reports a status change that is not an edge of the
// lifecycle, or that the caller is not allowed to request.
type InvalidTransitionError struct {
	OrderID int64
	From    Status
	To      Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %d cannot move from %s to %s", e.OrderID, e.From, e.To)
}

// Kind classifies errors returned by this package for callers that must
// react differently to each failure class.
type Kind int

const (
	KindInternal Kind = iota
	KindInsufficientStock
	KindConcurrencyConflict
	KindNotFound
	KindInvalidStateTransition
	KindInvalidInput
	KindForbidden
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindConcurrencyConflict:
		return "concurrency_conflict"
	case KindNotFound:
		return "not_found"
	case KindInvalidStateTransition:
		return "invalid_state_transition"
	case KindInvalidInput:
		return "invalid_input"
	case KindForbidden:
		return "forbidden"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// KindOf maps err to its failure class. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	var (
		ise *stock.InsufficientStockError
		pnf *stock.ProductNotFoundError
		ite *InvalidTransitionError
		pe  *ParseError
		iqe *cart.InvalidQuantityError
	)
	switch {
	case err == nil:
		return KindInternal
	case errors.As(err, &ise):
		return KindInsufficientStock
	case errors.Is(err, ErrConcurrencyConflict):
		return KindConcurrencyConflict
	case errors.Is(err, ErrNotFound), errors.As(err, &pnf):
		return KindNotFound
	case errors.Is(err, ErrExpired), errors.As(err, &ite):
		return KindInvalidStateTransition
	case errors.Is(err, ErrEmptyCart), errors.As(err, &pe), errors.As(err, &iqe),
		errors.Is(err, stock.ErrInvalidQuantity):
		return KindInvalidInput
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrCancelled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindInternal
	}
}

// cancelled converts a context failure into ErrCancelled while keeping the
// original cause in the chain.
func cancelled(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}
