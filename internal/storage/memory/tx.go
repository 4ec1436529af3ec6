package memory

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-fulfillment/internal/domain/auth"
	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/order"
	"github.com/xenking/kart-fulfillment/internal/domain/stock"
)

// tx stages writes until commit. keys is only touched by the goroutine
// running the transaction.
type tx struct {
	s    *Store
	keys []lockKey

	stock        map[int64]int
	orders       map[int64]*order.Order
	removedCart  map[int64][]int64
}

var _ order.Tx = (*tx)(nil)

func (t *tx) LockProducts(ctx context.Context, ids []int64) ([]stock.Row, error) {
	rows := make([]stock.Row, 0, len(ids))
	for _, id := range ids {
		if !t.productExists(id) {
			continue
		}
		if err := t.s.locks.acquire(ctx, lockKey{productsTable, id}, t); err != nil {
			return nil, err
		}
		row, ok := t.productRow(id)
		if !ok {
			// Deleted while we waited for the lock.
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (t *tx) productExists(id int64) bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	_, ok := t.s.products[id]
	return ok
}

func (t *tx) productRow(id int64) (stock.Row, bool) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	p, ok := t.s.products[id]
	if !ok {
		return stock.Row{}, false
	}
	row := stock.Row{
		ProductID:          p.ID,
		Stock:              p.Stock,
		Price:              p.Price,
		DiscountPercentage: p.DiscountPercentage,
		CategoryDiscount:   decimal.Zero,
	}
	if n, ok := t.stock[id]; ok {
		row.Stock = n
	}
	if p.CategoryID != nil {
		if c, ok := t.s.categories[*p.CategoryID]; ok {
			row.CategoryDiscount = c.DiscountPercentage
		}
	}
	return row, true
}

func (t *tx) SetStock(_ context.Context, productID int64, n int) error {
	if !t.s.locks.holds(lockKey{productsTable, productID}, t) {
		return errors.Errorf("product %d is not locked by this transaction", productID)
	}
	if n < 0 {
		return errors.Errorf("product %d: stock must not be negative", productID)
	}
	t.stock[productID] = n
	return nil
}

func (t *tx) CartLines(_ context.Context, customerID int64) ([]cart.Line, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return withoutProducts(t.s.carts[customerID], t.removedCart[customerID]), nil
}

func (t *tx) RemoveCartItems(_ context.Context, customerID int64, productIDs []int64) error {
	t.removedCart[customerID] = append(t.removedCart[customerID], productIDs...)
	return nil
}

func withoutProducts(lines []cart.Line, productIDs []int64) []cart.Line {
	out := make([]cart.Line, 0, len(lines))
	for _, l := range lines {
		if !slices.Contains(productIDs, l.ProductID) {
			out = append(out, l)
		}
	}
	return out
}

func (t *tx) InsertOrder(ctx context.Context, o *order.Order) error {
	t.s.mu.Lock()
	if _, ok := t.s.customers[o.CustomerID]; !ok {
		t.s.mu.Unlock()
		return auth.ErrCustomerNotFound
	}
	t.s.nextOrder++
	id := t.s.nextOrder
	t.s.mu.Unlock()

	if err := t.s.locks.acquire(ctx, lockKey{ordersTable, id}, t); err != nil {
		return err
	}
	o.ID = id
	stored := cloneOrder(o)
	stored.Items = nil
	stored.Transaction = nil
	t.orders[id] = stored
	return nil
}

func (t *tx) InsertItems(ctx context.Context, orderID int64, items []order.Item) error {
	o, err := t.lockOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o == nil {
		return errors.Wrap(order.ErrNotFound, "insert items")
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			return errors.Errorf("order %d: item quantity must be positive", orderID)
		}
		for _, existing := range o.Items {
			if existing.ProductID == it.ProductID {
				return errors.Errorf("order %d already has product %d", orderID, it.ProductID)
			}
		}
		it.OrderID = orderID
		o.Items = append(o.Items, it)
	}
	t.orders[orderID] = o
	return nil
}

func (t *tx) GetOrder(_ context.Context, id int64) (*order.Order, error) {
	o := t.view(id)
	if o == nil {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (t *tx) UpdateStatus(ctx context.Context, id int64, expectedVersion int, status order.Status) (bool, error) {
	o, err := t.lockOrder(ctx, id)
	if err != nil || o == nil || o.Version != expectedVersion {
		return false, err
	}
	o.Status = status
	o.Version++
	t.orders[id] = o
	return true, nil
}

func (t *tx) ActivateOrder(ctx context.Context, a *order.Order, expectedVersion int) (bool, error) {
	o, err := t.lockOrder(ctx, a.ID)
	if err != nil || o == nil || o.Version != expectedVersion {
		return false, err
	}
	o.Status = a.Status
	o.TotalAmount = a.TotalAmount
	o.Deadline = a.Deadline
	o.Version++
	t.orders[a.ID] = o
	return true, nil
}

func (t *tx) InsertTransaction(ctx context.Context, p *order.Transaction) error {
	o, err := t.lockOrder(ctx, p.OrderID)
	if err != nil {
		return err
	}
	if o == nil {
		return errors.Wrap(order.ErrNotFound, "insert transaction")
	}
	if o.Transaction != nil {
		return errors.Errorf("order %d already has a transaction", p.OrderID)
	}
	c := *p
	o.Transaction = &c
	t.orders[p.OrderID] = o
	return nil
}

func (t *tx) ListOverdue(ctx context.Context, now time.Time) ([]order.Order, error) {
	t.s.mu.Lock()
	var ids []int64
	for id, o := range t.s.orders {
		if o.Overdue(now) {
			ids = append(ids, id)
		}
	}
	t.s.mu.Unlock()
	slices.Sort(ids)

	out := make([]order.Order, 0, len(ids))
	for _, id := range ids {
		o, err := t.lockOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		// Re-check after the lock: another transaction may have paid or
		// expired the order in the meantime.
		if o != nil && o.Overdue(now) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (t *tx) ExpireOrders(ctx context.Context, ids []int64) ([]int64, error) {
	var expired []int64
	for _, id := range ids {
		o, err := t.lockOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		if o == nil || o.Status != order.StatusWaitingPayment {
			continue
		}
		o.Status = order.StatusExpired
		o.Version++
		t.orders[id] = o
		expired = append(expired, id)
	}
	return expired, nil
}

// lockOrder acquires the order's row lock and returns a private copy of the
// latest version visible to this transaction, or nil when it does not exist.
func (t *tx) lockOrder(ctx context.Context, id int64) (*order.Order, error) {
	if err := t.s.locks.acquire(ctx, lockKey{ordersTable, id}, t); err != nil {
		return nil, err
	}
	return t.view(id), nil
}

func (t *tx) view(id int64) *order.Order {
	if o, ok := t.orders[id]; ok {
		return cloneOrder(o)
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	o, ok := t.s.orders[id]
	if !ok {
		return nil
	}
	return cloneOrder(o)
}
