package postgres

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-fulfillment/internal/domain/auth"
	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/order"
	"github.com/xenking/kart-fulfillment/internal/domain/stock"
)

// Rows are locked in the order of the sort, which is the order LockProducts
// receives its ids in.
const lockProductsSQL = `SELECT p.id, p.stock, p.price, p.discount_percentage,
		COALESCE(c.discount_percentage, 0)
	FROM products p
	LEFT JOIN categories c ON c.id = p.category_id
	WHERE p.id = ANY($1)
	ORDER BY p.id
	FOR UPDATE OF p`

const setStockSQL = `UPDATE products SET stock = $2 WHERE id = $1`

const cartLinesSQL = `SELECT product_id, quantity FROM cart_items
	WHERE customer_id = $1 ORDER BY product_id`

const removeCartItemsSQL = `DELETE FROM cart_items WHERE customer_id = $1 AND product_id = ANY($2)`

const insertOrderSQL = `INSERT INTO orders (customer_id, status, total_amount, created_at, deadline, version)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id`

const insertItemSQL = `INSERT INTO order_items (order_id, product_id, quantity, amount)
	VALUES ($1, $2, $3, $4)`

const updateStatusSQL = `UPDATE orders SET status = $3, version = version + 1
	WHERE id = $1 AND version = $2`

const activateOrderSQL = `UPDATE orders
	SET status = $3, total_amount = $4, deadline = $5, version = version + 1
	WHERE id = $1 AND version = $2`

const insertTransactionSQL = `INSERT INTO order_transactions (order_id, payment_method, payment_status, created_at)
	VALUES ($1, $2, $3, $4)`

const listOverdueSQL = `SELECT id, customer_id, status, total_amount, created_at, deadline, version
	FROM orders
	WHERE status = 'WAITING_PAYMENT' AND deadline <= $1
	ORDER BY id
	FOR UPDATE`

const expireOrdersSQL = `UPDATE orders SET status = 'EXPIRED', version = version + 1
	WHERE id = ANY($1) AND status = 'WAITING_PAYMENT'
	RETURNING id`

var _ order.Tx = (*pgTx)(nil)

// pgTx adapts a pgx transaction to order.Tx.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockProducts(ctx context.Context, ids []int64) ([]stock.Row, error) {
	rows, err := t.tx.Query(ctx, lockProductsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("locking products: %w", err)
	}
	defer rows.Close()

	out := make([]stock.Row, 0, len(ids))
	for rows.Next() {
		var r stock.Row
		if err := rows.Scan(&r.ProductID, &r.Stock, &r.Price, &r.DiscountPercentage, &r.CategoryDiscount); err != nil {
			return nil, fmt.Errorf("scanning product row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("locking products: %w", err)
	}
	return out, nil
}

func (t *pgTx) SetStock(ctx context.Context, productID int64, n int) error {
	tag, err := t.tx.Exec(ctx, setStockSQL, productID, n)
	if err != nil {
		return fmt.Errorf("setting stock of product %d: %w", productID, err)
	}
	if tag.RowsAffected() != 1 {
		return &stock.ProductNotFoundError{ProductID: productID}
	}
	return nil
}

func (t *pgTx) CartLines(ctx context.Context, customerID int64) ([]cart.Line, error) {
	rows, err := t.tx.Query(ctx, cartLinesSQL, customerID)
	if err != nil {
		return nil, fmt.Errorf("reading cart: %w", err)
	}
	return collectCart(rows)
}

func (t *pgTx) RemoveCartItems(ctx context.Context, customerID int64, productIDs []int64) error {
	if _, err := t.tx.Exec(ctx, removeCartItemsSQL, customerID, productIDs); err != nil {
		return fmt.Errorf("removing cart items of customer %d: %w", customerID, err)
	}
	return nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *order.Order) error {
	err := t.tx.QueryRow(ctx, insertOrderSQL,
		o.CustomerID, string(o.Status), o.TotalAmount, o.CreatedAt, o.Deadline, o.Version,
	).Scan(&o.ID)
	if err != nil {
		if violates(err, codeForeignKeyViolation, fkOrderCustomer) {
			return auth.ErrCustomerNotFound
		}
		return fmt.Errorf("inserting order: %w", err)
	}
	return nil
}

func (t *pgTx) InsertItems(ctx context.Context, orderID int64, items []order.Item) error {
	if len(items) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, it := range items {
		b.Queue(insertItemSQL, orderID, it.ProductID, it.Quantity, it.Amount)
	}
	br := t.tx.SendBatch(ctx, b)
	defer br.Close()

	for _, it := range items {
		if _, err := br.Exec(); err != nil {
			if violates(err, codeForeignKeyViolation, "") {
				return &stock.ProductNotFoundError{ProductID: it.ProductID}
			}
			return fmt.Errorf("inserting item %d of order %d: %w", it.ProductID, orderID, err)
		}
	}
	return br.Close()
}

func (t *pgTx) GetOrder(ctx context.Context, id int64) (*order.Order, error) {
	return getOrder(ctx, t.tx, id)
}

func (t *pgTx) UpdateStatus(ctx context.Context, id int64, expectedVersion int, status order.Status) (bool, error) {
	tag, err := t.tx.Exec(ctx, updateStatusSQL, id, expectedVersion, string(status))
	if err != nil {
		return false, fmt.Errorf("updating status of order %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) ActivateOrder(ctx context.Context, o *order.Order, expectedVersion int) (bool, error) {
	tag, err := t.tx.Exec(ctx, activateOrderSQL,
		o.ID, expectedVersion, string(o.Status), o.TotalAmount, o.Deadline,
	)
	if err != nil {
		return false, fmt.Errorf("activating order %d: %w", o.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, p *order.Transaction) error {
	_, err := t.tx.Exec(ctx, insertTransactionSQL,
		p.OrderID, string(p.PaymentMethod), string(p.PaymentStatus), p.CreatedAt,
	)
	if err != nil {
		if violates(err, codeUniqueViolation, "") {
			return fmt.Errorf("order %d already has a transaction: %w", p.OrderID, err)
		}
		return fmt.Errorf("inserting transaction of order %d: %w", p.OrderID, err)
	}
	return nil
}

func (t *pgTx) ListOverdue(ctx context.Context, now time.Time) ([]order.Order, error) {
	rows, err := t.tx.Query(ctx, listOverdueSQL, now)
	if err != nil {
		return nil, fmt.Errorf("listing overdue orders: %w", err)
	}
	out, err := collectOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("listing overdue orders: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]int64, len(out))
	for i := range out {
		ids[i] = out[i].ID
	}
	items, err := listItems(ctx, t.tx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

func (t *pgTx) ExpireOrders(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := t.tx.Query(ctx, expireOrdersSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("expiring orders: %w", err)
	}
	expired, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("expiring orders: %w", err)
	}
	slices.Sort(expired)
	return expired, nil
}

func collectCart(rows pgx.Rows) ([]cart.Line, error) {
	defer rows.Close()

	var out []cart.Line
	for rows.Next() {
		var l cart.Line
		if err := rows.Scan(&l.ProductID, &l.Quantity); err != nil {
			return nil, fmt.Errorf("scanning cart line: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading cart: %w", err)
	}
	return out, nil
}
