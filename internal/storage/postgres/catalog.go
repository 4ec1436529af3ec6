package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-fulfillment/internal/domain/product"
)

const (
	insertCategorySQL = `INSERT INTO categories (name, discount_percentage)
	VALUES ($1, $2) RETURNING id`
	insertCategoryWithIDSQL = `INSERT INTO categories (id, name, discount_percentage)
	VALUES ($1, $2, $3)`
	getCategorySQL = `SELECT id, name, discount_percentage, product_count
	FROM categories WHERE id = $1`

	insertProductSQL = `INSERT INTO products (name, description, price, stock, discount_percentage, category_id, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	insertProductWithIDSQL = `INSERT INTO products (id, name, description, price, stock, discount_percentage, category_id, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	getProductSQL = `SELECT id, name, description, price, stock, discount_percentage, category_id, created_at
	FROM products WHERE id = $1`
	deleteProductSQL = `DELETE FROM products WHERE id = $1 RETURNING category_id`

	incProductCountSQL = `UPDATE categories SET product_count = product_count + 1 WHERE id = $1`
	decProductCountSQL = `UPDATE categories SET product_count = product_count - 1
	WHERE id = $1 AND product_count > 0`

	// Explicit ids bypass the sequence; move it past them.
	syncCategorySeqSQL = `SELECT setval(pg_get_serial_sequence('categories', 'id'),
	GREATEST((SELECT max(id) FROM categories), 1))`
	syncProductSeqSQL = `SELECT setval(pg_get_serial_sequence('products', 'id'),
	GREATEST((SELECT max(id) FROM products), 1))`
)

// CreateCategory implements product.Catalog. A zero ID is assigned.
func (s *Store) CreateCategory(ctx context.Context, c *product.Category) error {
	if err := product.ValidateDiscount(c.DiscountPercentage); err != nil {
		return err
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if c.ID == 0 {
			return tx.QueryRow(ctx, insertCategorySQL, c.Name, c.DiscountPercentage).Scan(&c.ID)
		}
		if _, err := tx.Exec(ctx, insertCategoryWithIDSQL, c.ID, c.Name, c.DiscountPercentage); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, syncCategorySeqSQL)
		return err
	})
	if err != nil {
		if violates(err, codeUniqueViolation, "") {
			return product.ErrAlreadyExists
		}
		return fmt.Errorf("creating category %q: %w", c.Name, err)
	}
	c.ProductCount = 0
	return nil
}

// GetCategory implements product.Catalog.
func (s *Store) GetCategory(ctx context.Context, id int64) (*product.Category, error) {
	var c product.Category
	err := s.pool.QueryRow(ctx, getCategorySQL, id).Scan(&c.ID, &c.Name, &c.DiscountPercentage, &c.ProductCount)
	if err != nil {
		if isNoRows(err) {
			return nil, product.ErrCategoryNotFound
		}
		return nil, fmt.Errorf("reading category %d: %w", id, err)
	}
	return &c, nil
}

// CreateProduct implements product.Catalog. The category's product count is
// incremented in the same transaction as the insert.
func (s *Store) CreateProduct(ctx context.Context, p *product.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if p.ID == 0 {
			err := tx.QueryRow(ctx, insertProductSQL,
				p.Name, p.Description, p.Price, p.Stock, p.DiscountPercentage, p.CategoryID, p.CreatedAt,
			).Scan(&p.ID)
			if err != nil {
				return err
			}
		} else {
			_, err := tx.Exec(ctx, insertProductWithIDSQL,
				p.ID, p.Name, p.Description, p.Price, p.Stock, p.DiscountPercentage, p.CategoryID, p.CreatedAt,
			)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, syncProductSeqSQL); err != nil {
				return err
			}
		}
		if p.CategoryID == nil {
			return nil
		}
		_, err := tx.Exec(ctx, incProductCountSQL, *p.CategoryID)
		return err
	})
	switch {
	case err == nil:
		return nil
	case violates(err, codeForeignKeyViolation, fkProductCat):
		return product.ErrCategoryNotFound
	case violates(err, codeUniqueViolation, ""):
		return product.ErrAlreadyExists
	default:
		return fmt.Errorf("creating product %q: %w", p.Name, err)
	}
}

// GetProduct implements product.Catalog.
func (s *Store) GetProduct(ctx context.Context, id int64) (*product.Product, error) {
	var p product.Product
	err := s.pool.QueryRow(ctx, getProductSQL, id).Scan(
		&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.DiscountPercentage, &p.CategoryID, &p.CreatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("reading product %d: %w", id, err)
	}
	return &p, nil
}

// DeleteProduct implements product.Catalog. The delete waits for the row lock
// of any checkout holding the product.
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var categoryID *int64
		if err := tx.QueryRow(ctx, deleteProductSQL, id).Scan(&categoryID); err != nil {
			return err
		}
		if categoryID == nil {
			return nil
		}
		_, err := tx.Exec(ctx, decProductCountSQL, *categoryID)
		return err
	})
	switch {
	case err == nil:
		return nil
	case isNoRows(err):
		return product.ErrNotFound
	case violates(err, codeForeignKeyViolation, fkItemProduct):
		return fmt.Errorf("product %d is referenced by orders: %w", id, err)
	default:
		return fmt.Errorf("deleting product %d: %w", id, err)
	}
}
