package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/kart-fulfillment/internal/domain/auth"
	"github.com/xenking/kart-fulfillment/internal/notify"
)

// PayOrder records a successful payment and moves the order to PROCESS.
//
// Ownership, the WAITING_PAYMENT status and the deadline are all checked in
// the same transaction as the version-guarded update, so a sweep that expires
// the order concurrently makes this call fail instead of both succeeding.
func (s *Service) PayOrder(ctx context.Context, p auth.Principal, orderID int64, method PaymentMethod) (*Transaction, error) {
	if p.CustomerID == 0 {
		return nil, ErrForbidden
	}

	ctx, cancel := context.WithTimeout(ctx, s.updateTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "order.Pay", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("payment.method", string(method)),
	))
	defer span.End()

	var (
		paid *Order
		txn  *Transaction
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.CustomerID != p.CustomerID {
			return ErrNotFound
		}
		if o.Status != StatusWaitingPayment {
			return &InvalidTransitionError{OrderID: o.ID, From: o.Status, To: StatusProcess}
		}
		now := s.now()
		if !now.Before(o.Deadline) {
			return ErrExpired
		}

		ok, err := tx.UpdateStatus(ctx, o.ID, o.Version, StatusProcess)
		if err != nil {
			return errors.Wrap(err, "update status")
		}
		if !ok {
			return ErrConcurrencyConflict
		}
		t := &Transaction{
			OrderID:       o.ID,
			PaymentMethod: method,
			PaymentStatus: PaymentSuccess,
			CreatedAt:     now,
		}
		if err := tx.InsertTransaction(ctx, t); err != nil {
			return errors.Wrap(err, "insert transaction")
		}

		o.Status = StatusProcess
		o.Version++
		o.Transaction = t
		paid, txn = o, t
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, span, "pay", err)
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", string(StatusProcess))))
	s.notifier.Notify(ctx, notify.Message{
		Key:     fmt.Sprintf("order:%d:paid", paid.ID),
		To:      p.Email,
		Subject: fmt.Sprintf("Payment received for order #%d", paid.ID),
		Body: fmt.Sprintf("We received %s by %s for order #%d.",
			paid.TotalAmount.StringFixed(2), method, paid.ID),
	})
	return txn, nil
}

// UpdateOrderStatus advances an order along PROCESS -> SHIP -> COMPLETE.
// It is restricted to admins.
//
// The update only applies while the stored version equals expectedVersion.
// When another writer got there first the call fails with
// ErrConcurrencyConflict and is never retried here: the caller must re-read
// the order and decide again.
func (s *Service) UpdateOrderStatus(ctx context.Context, p auth.Principal, orderID int64, expectedVersion int, to Status) (*Order, error) {
	if !p.IsAdmin() {
		return nil, ErrForbidden
	}

	ctx, cancel := context.WithTimeout(ctx, s.updateTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.Int("order.expected_version", expectedVersion),
		attribute.String("order.status", string(to)),
	))
	defer span.End()

	var updated *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Version != expectedVersion {
			return ErrConcurrencyConflict
		}
		if !adminTarget(to) || !CanTransition(o.Status, to) {
			return &InvalidTransitionError{OrderID: o.ID, From: o.Status, To: to}
		}

		ok, err := tx.UpdateStatus(ctx, o.ID, expectedVersion, to)
		if err != nil {
			return errors.Wrap(err, "update status")
		}
		if !ok {
			return ErrConcurrencyConflict
		}
		o.Status = to
		o.Version = expectedVersion + 1
		updated = o
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, span, "update_status", err)
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", string(to))))
	s.notifyStatus(ctx, updated)
	return updated, nil
}

// adminTarget reports whether an admin may request a move into st directly.
// PROCESS is reached by payment, EXPIRED by the sweeper and the rest by the
// queue consumer.
func adminTarget(st Status) bool {
	return st == StatusShip || st == StatusComplete
}
