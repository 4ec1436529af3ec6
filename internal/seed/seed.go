// Package seed loads a catalog file into storage.
package seed

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-fulfillment/internal/domain/auth"
	"github.com/xenking/kart-fulfillment/internal/domain/product"
)

// Catalog is the content of a seed file.
type Catalog struct {
	Categories []product.Category
	Products   []product.Product
	Customers  []Customer
}

// Customer is a seeded customer row.
type Customer struct {
	ID    int64
	Email string
}

// Target receives seeded rows. Both storage backends implement it.
type Target interface {
	product.Catalog
	UpsertCustomer(ctx context.Context, id int64, email string) error
	UpsertAPIKey(ctx context.Context, info auth.APIKeyInfo) error
}

// Key is an API key to seed in plain text; it is stored hashed.
type Key struct {
	ID         string
	Name       string
	Plain      string
	Role       auth.Role
	CustomerID int64
	Email      string
}

// ReadFile decodes a catalog file. Files ending in .gz are decompressed.
func ReadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".gz") {
		zr, err := pgzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip stream")
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}
	return Decode(r)
}

// Decode reads a catalog document:
//
//	{"categories": [...], "products": [...], "customers": [...]}
//
// Unknown keys are skipped. Decimal fields accept JSON numbers or strings.
func Decode(r io.Reader) (*Catalog, error) {
	var c Catalog
	d := jx.Decode(r, 4096)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "categories":
			return d.Arr(func(d *jx.Decoder) error {
				cat, err := decodeCategory(d)
				if err != nil {
					return err
				}
				c.Categories = append(c.Categories, cat)
				return nil
			})
		case "products":
			return d.Arr(func(d *jx.Decoder) error {
				p, err := decodeProduct(d)
				if err != nil {
					return err
				}
				c.Products = append(c.Products, p)
				return nil
			})
		case "customers":
			return d.Arr(func(d *jx.Decoder) error {
				cu, err := decodeCustomer(d)
				if err != nil {
					return err
				}
				c.Customers = append(c.Customers, cu)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	return &c, nil
}

func decodeCategory(d *jx.Decoder) (product.Category, error) {
	var c product.Category
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			c.ID, err = d.Int64()
		case "name":
			c.Name, err = d.Str()
		case "discountPercentage":
			c.DiscountPercentage, err = decodeDecimal(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return c, errors.Wrap(err, "category")
	}
	return c, nil
}

func decodeProduct(d *jx.Decoder) (product.Product, error) {
	var p product.Product
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Int64()
		case "name":
			p.Name, err = d.Str()
		case "description":
			p.Description, err = d.Str()
		case "price":
			p.Price, err = decodeDecimal(d)
		case "stock":
			p.Stock, err = d.Int()
		case "discountPercentage":
			p.DiscountPercentage, err = decodeDecimal(d)
		case "categoryId":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var id int64
			id, err = d.Int64()
			p.CategoryID = &id
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return p, errors.Wrap(err, "product")
	}
	return p, nil
}

func decodeCustomer(d *jx.Decoder) (Customer, error) {
	var c Customer
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			c.ID, err = d.Int64()
		case "email":
			c.Email, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return c, errors.Wrap(err, "customer")
	}
	return c, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(n.String())
}

// Apply writes c into t. Existing ids are reported and skipped so a catalog
// can be applied more than once.
func Apply(ctx context.Context, t Target, c *Catalog, lg *zap.Logger) error {
	if lg == nil {
		lg = zap.NewNop()
	}
	for i := range c.Categories {
		cat := c.Categories[i]
		err := t.CreateCategory(ctx, &cat)
		switch {
		case errors.Is(err, product.ErrAlreadyExists):
			lg.Info("Category exists, skipping", zap.Int64("category_id", cat.ID))
		case err != nil:
			return errors.Wrapf(err, "create category %q", cat.Name)
		default:
			lg.Info("Created category", zap.Int64("category_id", cat.ID), zap.String("name", cat.Name))
		}
	}
	for i := range c.Products {
		p := c.Products[i]
		err := t.CreateProduct(ctx, &p)
		switch {
		case errors.Is(err, product.ErrAlreadyExists):
			lg.Info("Product exists, skipping", zap.Int64("product_id", p.ID))
		case err != nil:
			return errors.Wrapf(err, "create product %q", p.Name)
		default:
			lg.Info("Created product",
				zap.Int64("product_id", p.ID),
				zap.String("name", p.Name),
				zap.Int("stock", p.Stock),
			)
		}
	}
	for _, cu := range c.Customers {
		if err := t.UpsertCustomer(ctx, cu.ID, cu.Email); err != nil {
			return errors.Wrapf(err, "upsert customer %d", cu.ID)
		}
		lg.Info("Upserted customer", zap.Int64("customer_id", cu.ID))
	}
	return nil
}

// ApplyKeys stores keys hashed under pepper.
func ApplyKeys(ctx context.Context, t Target, keys []Key, pepper []byte, lg *zap.Logger) error {
	if lg == nil {
		lg = zap.NewNop()
	}
	for _, k := range keys {
		if k.Plain == "" {
			continue
		}
		err := t.UpsertAPIKey(ctx, auth.APIKeyInfo{
			ID:         k.ID,
			KeyHash:    auth.HashKey(k.Plain, pepper),
			Name:       k.Name,
			CustomerID: k.CustomerID,
			Email:      k.Email,
			Role:       k.Role,
		})
		if err != nil {
			return errors.Wrapf(err, "upsert api key %q", k.ID)
		}
		lg.Info("Upserted API key", zap.String("id", k.ID), zap.String("role", string(k.Role)))
	}
	return nil
}
