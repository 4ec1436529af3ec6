// Package stock implements the product stock ledger.
//
// Stock is only ever read through a Ledger, and a Ledger can only be obtained
// by locking the rows it covers. There is deliberately no way to read stock
// outside a lock and write it back later.
package stock

import (
	"context"
	"fmt"
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrInvalidQuantity is returned when a reservation or release is not positive.
var ErrInvalidQuantity = errors.New("quantity must be greater than 0")

// Row is a product row as seen under an exclusive row lock. It carries the
// pricing inputs as well, so prices are read from the same locked snapshot
// that the stock check uses.
type Row struct {
	ProductID          int64
	Stock              int
	Price              decimal.Decimal
	DiscountPercentage decimal.Decimal
	CategoryDiscount   decimal.Decimal
}

// InsufficientStockError reports that a product cannot cover a requested quantity.
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// ProductNotFoundError indicates a locked product id has no row.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

// Locker is implemented by a storage transaction.
//
// LockProducts must acquire exclusive row locks in exactly the order of ids and
// hold them until the transaction ends. Missing ids are omitted from the result.
// SetStock writes an absolute stock value for a row locked by the same
// transaction.
type Locker interface {
	LockProducts(ctx context.Context, ids []int64) ([]Row, error)
	SetStock(ctx context.Context, productID int64, stock int) error
}

// Ledger is a set of product rows locked by one transaction.
type Ledger struct {
	tx   Locker
	rows map[int64]*Row
}

// Lock de-duplicates ids, sorts them ascending and locks them through tx.
// The fixed global order prevents deadlock cycles between transactions that
// overlap on two or more products.
func Lock(ctx context.Context, tx Locker, ids []int64) (*Ledger, error) {
	ids = SortedUnique(ids)

	rows, err := tx.LockProducts(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "lock products")
	}

	l := &Ledger{tx: tx, rows: make(map[int64]*Row, len(rows))}
	for i := range rows {
		l.rows[rows[i].ProductID] = &rows[i]
	}
	for _, id := range ids {
		if _, ok := l.rows[id]; !ok {
			return nil, &ProductNotFoundError{ProductID: id}
		}
	}
	return l, nil
}

// Row returns the locked row for id.
func (l *Ledger) Row(id int64) (Row, bool) {
	r, ok := l.rows[id]
	if !ok {
		return Row{}, false
	}
	return *r, true
}

// Reserve decrements stock for id by qty. It fails with
// *InsufficientStockError when the locked stock cannot cover qty; the caller
// is expected to abort the transaction, so no partial decrement persists.
func (l *Ledger) Reserve(ctx context.Context, id int64, qty int) error {
	r, err := l.row(id, qty)
	if err != nil {
		return err
	}
	if r.Stock < qty {
		return &InsufficientStockError{ProductID: id, Requested: qty, Available: r.Stock}
	}
	return l.set(ctx, r, r.Stock-qty)
}

// Release returns qty units of id to stock.
func (l *Ledger) Release(ctx context.Context, id int64, qty int) error {
	r, err := l.row(id, qty)
	if err != nil {
		return err
	}
	return l.set(ctx, r, r.Stock+qty)
}

func (l *Ledger) row(id int64, qty int) (*Row, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	r, ok := l.rows[id]
	if !ok {
		return nil, errors.Errorf("product %d is not locked by this ledger", id)
	}
	return r, nil
}

func (l *Ledger) set(ctx context.Context, r *Row, stock int) error {
	if stock < 0 {
		return &InsufficientStockError{ProductID: r.ProductID, Requested: r.Stock - stock, Available: r.Stock}
	}
	if err := l.tx.SetStock(ctx, r.ProductID, stock); err != nil {
		return errors.Wrapf(err, "set stock for product %d", r.ProductID)
	}
	r.Stock = stock
	return nil
}

// SortedUnique returns the distinct ids in ascending order.
func SortedUnique(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
