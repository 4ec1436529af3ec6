// Package memory is an in-process implementation of the storage interfaces.
//
// It mirrors the PostgreSQL semantics the order flows rely on: exclusive row
// locks held until the end of the transaction, writes invisible to other
// transactions until commit, and conditional version updates that see the
// latest committed row once the row lock is acquired. Data does not survive
// the process.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-fulfillment/internal/domain/auth"
	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/order"
	"github.com/xenking/kart-fulfillment/internal/domain/product"
)

// Store holds all tables in memory.
type Store struct {
	locks *lockTable
	now   func() time.Time

	mu           sync.Mutex
	categories   map[int64]*product.Category
	products     map[int64]*product.Product
	customers    map[int64]string
	orders       map[int64]*order.Order
	carts        map[int64][]cart.Line
	apiKeys      map[string]auth.APIKeyInfo
	nextCategory int64
	nextProduct  int64
	nextOrder    int64
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		locks:      newLockTable(),
		now:        time.Now,
		categories: make(map[int64]*product.Category),
		products:   make(map[int64]*product.Product),
		customers:  make(map[int64]string),
		orders:     make(map[int64]*order.Order),
		carts:      make(map[int64][]cart.Line),
		apiKeys:    make(map[string]auth.APIKeyInfo),
	}
}

var (
	_ order.Store     = (*Store)(nil)
	_ cart.Repository = (*Store)(nil)
	_ auth.Repository = (*Store)(nil)
	_ product.Catalog = (*Store)(nil)
)

// InTx runs fn in a transaction. Staged writes are applied atomically when fn
// returns nil and ctx is still live; row locks are released afterwards.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := s.begin()
	defer s.locks.releaseAll(t)

	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.commit(t)
	return nil
}

func (s *Store) begin() *tx {
	return &tx{
		s:            s,
		stock:        make(map[int64]int),
		orders:       make(map[int64]*order.Order),
		removedCart:  make(map[int64][]int64),
	}
}

func (s *Store) commit(t *tx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, n := range t.stock {
		if p, ok := s.products[id]; ok {
			p.Stock = n
		}
	}
	for id, o := range t.orders {
		s.orders[id] = o
	}
	for id, productIDs := range t.removedCart {
		if lines := withoutProducts(s.carts[id], productIDs); len(lines) > 0 {
			s.carts[id] = lines
		} else {
			delete(s.carts, id)
		}
	}
}

// GetOrder returns the committed order with items and transaction.
func (s *Store) GetOrder(_ context.Context, id int64) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

// ListOrders returns committed orders newest first, without items.
func (s *Store) ListOrders(_ context.Context, f order.ListFilter) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]order.Order, 0)
	for _, o := range s.orders {
		if f.CustomerID != 0 && o.CustomerID != f.CustomerID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		c := *o
		c.Items = nil
		c.Transaction = nil
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b order.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

// CustomerEmail implements order.Store.
func (s *Store) CustomerEmail(_ context.Context, customerID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email, ok := s.customers[customerID]
	if !ok {
		return "", auth.ErrCustomerNotFound
	}
	return email, nil
}

// UpsertCustomer creates or renames a customer.
func (s *Store) UpsertCustomer(_ context.Context, id int64, email string) error {
	if id <= 0 {
		return errors.New("customer id must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.customers[id] = email
	return nil
}

// UpsertAPIKey stores an API key by hash.
func (s *Store) UpsertAPIKey(_ context.Context, info auth.APIKeyInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if info.CustomerID != 0 {
		email, ok := s.customers[info.CustomerID]
		if !ok {
			return auth.ErrCustomerNotFound
		}
		info.Email = email
	}
	s.apiKeys[info.KeyHash] = info
	return nil
}

// FindByHash implements auth.Repository.
func (s *Store) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.apiKeys[hash]
	if !ok {
		return nil, auth.ErrUnauthorized
	}
	return &info, nil
}

// List implements cart.Repository.
func (s *Store) List(_ context.Context, customerID int64) ([]cart.Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.carts[customerID]), nil
}

// Put implements cart.Repository. A line for a product already in the cart
// replaces its quantity.
func (s *Store) Put(_ context.Context, customerID int64, line cart.Line) error {
	if line.Quantity <= 0 {
		return &cart.InvalidQuantityError{ProductID: line.ProductID}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[customerID]; !ok {
		return auth.ErrCustomerNotFound
	}
	if _, ok := s.products[line.ProductID]; !ok {
		return product.ErrNotFound
	}
	lines := s.carts[customerID]
	for i := range lines {
		if lines[i].ProductID == line.ProductID {
			lines[i].Quantity = line.Quantity
			return nil
		}
	}
	s.carts[customerID] = append(lines, line)
	return nil
}

// CreateCategory implements product.Catalog. A zero ID is assigned.
func (s *Store) CreateCategory(_ context.Context, c *product.Category) error {
	if err := product.ValidateDiscount(c.DiscountPercentage); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == 0 {
		s.nextCategory++
		c.ID = s.nextCategory
	} else if _, ok := s.categories[c.ID]; ok {
		return product.ErrAlreadyExists
	}
	s.nextCategory = max(s.nextCategory, c.ID)
	c.ProductCount = 0
	stored := *c
	s.categories[c.ID] = &stored
	return nil
}

// GetCategory implements product.Catalog.
func (s *Store) GetCategory(_ context.Context, id int64) (*product.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.categories[id]
	if !ok {
		return nil, product.ErrCategoryNotFound
	}
	out := *c
	return &out, nil
}

// CreateProduct implements product.Catalog. The category's product count is
// incremented together with the insert.
func (s *Store) CreateProduct(_ context.Context, p *product.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var cat *product.Category
	if p.CategoryID != nil {
		c, ok := s.categories[*p.CategoryID]
		if !ok {
			return product.ErrCategoryNotFound
		}
		cat = c
	}
	if p.ID == 0 {
		s.nextProduct++
		p.ID = s.nextProduct
	} else if _, ok := s.products[p.ID]; ok {
		return product.ErrAlreadyExists
	}
	s.nextProduct = max(s.nextProduct, p.ID)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}

	stored := *p
	s.products[p.ID] = &stored
	if cat != nil {
		cat.ProductCount++
	}
	return nil
}

// GetProduct implements product.Catalog.
func (s *Store) GetProduct(_ context.Context, id int64) (*product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	out := *p
	return &out, nil
}

// DeleteProduct implements product.Catalog. It waits for the product's row
// lock so it never races a checkout holding it.
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	t := s.begin()
	defer s.locks.releaseAll(t)
	if err := s.locks.acquire(ctx, lockKey{productsTable, id}, t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return product.ErrNotFound
	}
	if p.CategoryID != nil {
		if c, ok := s.categories[*p.CategoryID]; ok && c.ProductCount > 0 {
			c.ProductCount--
		}
	}
	delete(s.products, id)
	return nil
}

func cloneOrder(o *order.Order) *order.Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	if o.Transaction != nil {
		t := *o.Transaction
		c.Transaction = &t
	}
	return &c
}
