package cart

import (
	"context"
	"fmt"
)

// Line is one entry of a customer's cart snapshot.
type Line struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// InvalidQuantityError indicates a line has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID int64
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %d", e.ProductID)
}

// Repository stores carts between requests. Rows are deleted by the order
// creation transaction, not through this interface.
type Repository interface {
	List(ctx context.Context, customerID int64) ([]Line, error)
	Put(ctx context.Context, customerID int64, line Line) error
}

// Merge validates lines and folds duplicate product ids into one line,
// keeping first-seen order.
func Merge(lines []Line) ([]Line, error) {
	idx := make(map[int64]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: l.ProductID}
		}
		if i, ok := idx[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		idx[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out, nil
}
