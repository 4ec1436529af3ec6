package product

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrCategoryNotFound is returned when a requested category does not exist.
	ErrCategoryNotFound = errors.New("category not found")
	// ErrInvalidDiscount is returned when a discount percentage is outside 0..100.
	ErrInvalidDiscount = errors.New("discount percentage must be between 0 and 100")
	// ErrAlreadyExists is returned when creating a row whose id is taken.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNegativeStock is returned when a product is created with stock below zero.
	ErrNegativeStock = errors.New("stock must not be negative")
)

// Product represents a catalog item available for purchase.
type Product struct {
	ID                 int64
	Name               string
	Description        string
	Price              decimal.Decimal
	Stock              int
	DiscountPercentage decimal.Decimal
	CategoryID         *int64
	CreatedAt          time.Time
}

// Category groups products and carries a category-wide discount.
// ProductCount is maintained in the same transaction as product create/delete.
type Category struct {
	ID                 int64
	Name               string
	DiscountPercentage decimal.Decimal
	ProductCount       int
}

// Catalog is the administrative side of the product tables. Order flows
// never touch stock through it; see package stock.
type Catalog interface {
	CreateCategory(ctx context.Context, c *Category) error
	CreateProduct(ctx context.Context, p *Product) error
	DeleteProduct(ctx context.Context, id int64) error
	GetProduct(ctx context.Context, id int64) (*Product, error)
	GetCategory(ctx context.Context, id int64) (*Category, error)
}

var hundred = decimal.NewFromInt(100)

// ValidateDiscount checks that pct lies within 0..100.
func ValidateDiscount(pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return ErrInvalidDiscount
	}
	return nil
}

// Validate checks the invariants enforced on admin writes.
func (p *Product) Validate() error {
	if p.Stock < 0 {
		return ErrNegativeStock
	}
	if p.Price.IsNegative() {
		return errors.New("price must not be negative")
	}
	return ValidateDiscount(p.DiscountPercentage)
}
