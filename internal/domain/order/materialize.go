package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-fulfillment/internal/domain/auth"
	"github.com/xenking/kart-fulfillment/internal/domain/cart"
)

// ErrNoQueue is returned by Enqueue when the service has no job sink.
var ErrNoQueue = errors.New("order queue is not configured")

// Job asks the queue consumer to turn a PENDING placeholder into a real order.
type Job struct {
	ID         uuid.UUID
	OrderID    int64
	CustomerID int64
	Email      string
	Lines      []cart.Line
}

// Enqueue validates the cart, stores a PENDING placeholder order and hands a
// Job to the queue. It returns the placeholder without touching stock.
//
// The queue lives in process memory. Jobs not yet processed when the process
// stops are lost and their placeholders stay PENDING.
func (s *Service) Enqueue(ctx context.Context, p auth.Principal, lines []cart.Line) (*Order, error) {
	if p.CustomerID == 0 {
		return nil, ErrForbidden
	}
	if s.jobs == nil {
		return nil, ErrNoQueue
	}

	ctx, cancel := context.WithTimeout(ctx, s.createTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "order.Enqueue",
		trace.WithAttributes(attribute.Int64("customer.id", p.CustomerID)),
	)
	defer span.End()

	var (
		placeholder *Order
		snapshot    []cart.Line
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		src := lines
		if len(src) == 0 {
			stored, err := tx.CartLines(ctx, p.CustomerID)
			if err != nil {
				return errors.Wrap(err, "load cart")
			}
			src = stored
		}
		merged, err := cart.Merge(src)
		if err != nil {
			return err
		}
		if len(merged) == 0 {
			return ErrEmptyCart
		}

		now := s.now()
		o := &Order{
			CustomerID:  p.CustomerID,
			Status:      StatusPending,
			TotalAmount: decimal.Zero,
			CreatedAt:   now,
			Deadline:    now.Add(s.window),
			Version:     1,
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return errors.Wrap(err, "insert placeholder")
		}
		placeholder, snapshot = o, merged
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, span, "enqueue", err)
	}

	s.jobs.Push(Job{
		ID:         uuid.New(),
		OrderID:    placeholder.ID,
		CustomerID: p.CustomerID,
		Email:      p.Email,
		Lines:      snapshot,
	})
	return placeholder, nil
}

// Materialize runs the checkout protocol for a queued job in its own
// transaction: lock, check and decrement stock, write items, activate the
// placeholder and remove the ordered products from the cart. On failure, a
// panic included, the placeholder is marked FAILED in a separate transaction
// and the original error or panic is passed on.
func (s *Service) Materialize(ctx context.Context, job Job) error {
	ctx, span := s.tracer.Start(ctx, "order.Materialize", trace.WithAttributes(
		attribute.Int64("order.id", job.OrderID),
		attribute.String("job.id", job.ID.String()),
	))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			s.markFailed(ctx, job)
			panic(r)
		}
	}()

	var activated *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.GetOrder(ctx, job.OrderID)
		if err != nil {
			return err
		}
		if o.Status != StatusPending {
			return &InvalidTransitionError{OrderID: o.ID, From: o.Status, To: StatusWaitingPayment}
		}

		d, err := s.reserve(ctx, tx, job.CustomerID, job.Lines, o.CreatedAt)
		if err != nil {
			return err
		}
		d.Order.ID = o.ID
		ok, err := tx.ActivateOrder(ctx, &d.Order, o.Version)
		if err != nil {
			return errors.Wrap(err, "activate order")
		}
		if !ok {
			return ErrConcurrencyConflict
		}
		if err := tx.InsertItems(ctx, o.ID, d.Items); err != nil {
			return errors.Wrap(err, "insert items")
		}
		if err := tx.RemoveCartItems(ctx, job.CustomerID, productIDs(d.Items)); err != nil {
			return errors.Wrap(err, "remove cart items")
		}

		a := d.Order
		a.Version = o.Version + 1
		a.Items = withOrderID(d.Items, o.ID)
		activated = &a
		return nil
	})
	if err != nil {
		err = s.fail(ctx, span, "materialize", err)
		s.markFailed(ctx, job)
		return errors.Wrapf(err, "materialize order %d", job.OrderID)
	}

	s.created.Add(ctx, 1)
	s.notifier.Notify(ctx, createdMessage(job.Email, activated))
	return nil
}

// markFailed moves a PENDING placeholder to FAILED. It runs even when ctx is
// already cancelled so a shutdown does not leave the placeholder behind.
func (s *Service) markFailed(ctx context.Context, job Job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.updateTimeout)
	defer cancel()

	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.GetOrder(ctx, job.OrderID)
		if err != nil {
			return err
		}
		if o.Status != StatusPending {
			return nil
		}
		ok, err := tx.UpdateStatus(ctx, o.ID, o.Version, StatusFailed)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConcurrencyConflict
		}
		return nil
	})
	if err != nil {
		s.lg.Error("Mark order failed",
			zap.Int64("order_id", job.OrderID),
			zap.Int64("customer_id", job.CustomerID),
			zap.Error(err),
		)
	}
}

