package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-fulfillment/internal/domain/order"
)

const getOrderSQL = `SELECT o.id, o.customer_id, o.status, o.total_amount, o.created_at, o.deadline, o.version,
		t.payment_method, t.payment_status, t.created_at
	FROM orders o
	LEFT JOIN order_transactions t ON t.order_id = o.id
	WHERE o.id = $1`

const listItemsSQL = `SELECT order_id, product_id, quantity, amount
	FROM order_items
	WHERE order_id = ANY($1)
	ORDER BY order_id, product_id`

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// getOrder reads one order with its items and payment through q.
func getOrder(ctx context.Context, q querier, id int64) (*order.Order, error) {
	var (
		o       order.Order
		status  string
		method  *string
		pstatus *string
		paidAt  *time.Time
	)
	err := q.QueryRow(ctx, getOrderSQL, id).Scan(
		&o.ID, &o.CustomerID, &status, &o.TotalAmount, &o.CreatedAt, &o.Deadline, &o.Version,
		&method, &pstatus, &paidAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("reading order %d: %w", id, err)
	}
	o.Status = order.Status(status)
	if method != nil && pstatus != nil {
		o.Transaction = &order.Transaction{
			OrderID:       o.ID,
			PaymentMethod: order.PaymentMethod(*method),
			PaymentStatus: order.PaymentStatus(*pstatus),
		}
		if paidAt != nil {
			o.Transaction.CreatedAt = *paidAt
		}
	}

	items, err := listItems(ctx, q, []int64{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return &o, nil
}

// listItems returns the items of the given orders keyed by order id.
func listItems(ctx context.Context, q querier, ids []int64) (map[int64][]order.Item, error) {
	rows, err := q.Query(ctx, listItemsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("listing order items: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]order.Item, len(ids))
	for rows.Next() {
		var it order.Item
		if err := rows.Scan(&it.OrderID, &it.ProductID, &it.Quantity, &it.Amount); err != nil {
			return nil, fmt.Errorf("scanning order item: %w", err)
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing order items: %w", err)
	}
	return out, nil
}

// collectOrders scans rows of (id, customer_id, status, total_amount,
// created_at, deadline, version) and closes them.
func collectOrders(rows pgx.Rows) ([]order.Order, error) {
	defer rows.Close()

	out := make([]order.Order, 0)
	for rows.Next() {
		var (
			o      order.Order
			status string
		)
		if err := rows.Scan(&o.ID, &o.CustomerID, &status, &o.TotalAmount, &o.CreatedAt, &o.Deadline, &o.Version); err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		o.Status = order.Status(status)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
