package postgres

import (
	"context"
	"fmt"

	"github.com/xenking/kart-fulfillment/internal/domain/auth"
	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/product"
)

const putCartLineSQL = `INSERT INTO cart_items (customer_id, product_id, quantity)
	VALUES ($1, $2, $3)
	ON CONFLICT (customer_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity`

// List implements cart.Repository.
func (s *Store) List(ctx context.Context, customerID int64) ([]cart.Line, error) {
	rows, err := s.pool.Query(ctx, cartLinesSQL, customerID)
	if err != nil {
		return nil, fmt.Errorf("reading cart: %w", err)
	}
	return collectCart(rows)
}

// Put implements cart.Repository. A line for a product already in the cart
// replaces its quantity.
func (s *Store) Put(ctx context.Context, customerID int64, line cart.Line) error {
	if line.Quantity <= 0 {
		return &cart.InvalidQuantityError{ProductID: line.ProductID}
	}
	_, err := s.pool.Exec(ctx, putCartLineSQL, customerID, line.ProductID, line.Quantity)
	switch {
	case err == nil:
		return nil
	case violates(err, codeForeignKeyViolation, fkCartCustomer):
		return auth.ErrCustomerNotFound
	case violates(err, codeForeignKeyViolation, fkCartProduct):
		return product.ErrNotFound
	default:
		return fmt.Errorf("putting cart line: %w", err)
	}
}
