package memory

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-fulfillment/internal/domain/auth"
	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/order"
	"github.com/xenking/kart-fulfillment/internal/domain/product"
)

// --- Helpers ---

func seeded(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s := New()

	cat := &product.Category{Name: "Shoes", DiscountPercentage: decimal.NewFromInt(10)}
	require.NoError(t, s.CreateCategory(ctx, cat))
	require.NoError(t, s.CreateProduct(ctx, &product.Product{
		ID: 1, Name: "Runner", Price: decimal.NewFromInt(100), Stock: 5, CategoryID: &cat.ID,
	}))
	require.NoError(t, s.CreateProduct(ctx, &product.Product{
		ID: 2, Name: "Sock", Price: decimal.RequireFromString("2.50"), Stock: 10,
	}))
	require.NoError(t, s.UpsertCustomer(ctx, 7, "c7@example.com"))
	return s
}

func insertOrder(t *testing.T, s *Store, o *order.Order) {
	t.Helper()
	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx order.Tx) error {
		return tx.InsertOrder(ctx, o)
	}))
}

// --- Tests ---

func TestStore_LockProductsReadsCategoryDiscount(t *testing.T) {
	s := seeded(t)

	err := s.InTx(context.Background(), func(ctx context.Context, tx order.Tx) error {
		rows, err := tx.LockProducts(ctx, []int64{1, 2, 99})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, int64(1), rows[0].ProductID)
		assert.True(t, decimal.NewFromInt(10).Equal(rows[0].CategoryDiscount))
		assert.True(t, rows[1].CategoryDiscount.IsZero())
		return nil
	})
	require.NoError(t, err)
}

func TestStore_StagedWritesInvisibleUntilCommit(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	locked := make(chan struct{})
	proceed := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
			if _, err := tx.LockProducts(ctx, []int64{1}); err != nil {
				return err
			}
			if err := tx.SetStock(ctx, 1, 2); err != nil {
				return err
			}
			close(locked)
			<-proceed
			return nil
		})
	}()

	<-locked
	p, err := s.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock, "uncommitted write must not be visible")

	close(proceed)
	require.NoError(t, <-done)

	p, err = s.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Stock)
}

func TestStore_RollbackDiscardsWrites(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		_, err := tx.LockProducts(ctx, []int64{1})
		require.NoError(t, err)
		require.NoError(t, tx.SetStock(ctx, 1, 0))
		require.NoError(t, tx.InsertOrder(ctx, &order.Order{CustomerID: 7, Status: order.StatusWaitingPayment, Version: 1}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := s.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)

	orders, err := s.ListOrders(ctx, order.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestStore_InsertOrderUnknownCustomer(t *testing.T) {
	s := seeded(t)

	err := s.InTx(context.Background(), func(ctx context.Context, tx order.Tx) error {
		return tx.InsertOrder(ctx, &order.Order{CustomerID: 99, Status: order.StatusWaitingPayment, Version: 1})
	})
	require.ErrorIs(t, err, auth.ErrCustomerNotFound)

	all, err := s.ListOrders(context.Background(), order.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStore_RowLockBlocksUntilRelease(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
			_, err := tx.LockProducts(ctx, []int64{1})
			close(held)
			<-release
			return err
		})
	}()
	<-held

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := s.InTx(short, func(ctx context.Context, tx order.Tx) error {
		_, err := tx.LockProducts(ctx, []int64{1})
		return err
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	err = s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		_, err := tx.LockProducts(ctx, []int64{1})
		return err
	})
	require.NoError(t, err)
}

func TestStore_SetStockRequiresLock(t *testing.T) {
	s := seeded(t)

	err := s.InTx(context.Background(), func(ctx context.Context, tx order.Tx) error {
		return tx.SetStock(ctx, 1, 3)
	})
	require.Error(t, err)
}

func TestStore_SetStockRejectsNegative(t *testing.T) {
	s := seeded(t)

	err := s.InTx(context.Background(), func(ctx context.Context, tx order.Tx) error {
		if _, err := tx.LockProducts(ctx, []int64{1}); err != nil {
			return err
		}
		return tx.SetStock(ctx, 1, -1)
	})
	require.Error(t, err)
}

func TestStore_UpdateStatusVersionGuard(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	o := &order.Order{CustomerID: 7, Status: order.StatusProcess, Version: 1, CreatedAt: time.Now()}
	insertOrder(t, s, o)

	var first, second bool
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		var err error
		first, err = tx.UpdateStatus(ctx, o.ID, 1, order.StatusShip)
		return err
	}))
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		var err error
		second, err = tx.UpdateStatus(ctx, o.ID, 1, order.StatusShip)
		return err
	}))
	assert.True(t, first)
	assert.False(t, second)

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, order.StatusShip, got.Status)
}

func TestStore_ListOverdueAndExpire(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	overdue := &order.Order{CustomerID: 7, Status: order.StatusWaitingPayment, Version: 1, Deadline: now}
	fresh := &order.Order{CustomerID: 7, Status: order.StatusWaitingPayment, Version: 1, Deadline: now.Add(time.Minute)}
	paid := &order.Order{CustomerID: 7, Status: order.StatusProcess, Version: 2, Deadline: now.Add(-time.Hour)}
	insertOrder(t, s, overdue)
	insertOrder(t, s, fresh)
	insertOrder(t, s, paid)

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		list, err := tx.ListOverdue(ctx, now)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, overdue.ID, list[0].ID)

		ids, err := tx.ExpireOrders(ctx, []int64{overdue.ID, paid.ID})
		require.NoError(t, err)
		assert.Equal(t, []int64{overdue.ID}, ids)
		return nil
	}))

	got, err := s.GetOrder(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusExpired, got.Status)
	assert.Equal(t, 2, got.Version)
}

func TestStore_InsertTransactionOnce(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	o := &order.Order{CustomerID: 7, Status: order.StatusProcess, Version: 2}
	insertOrder(t, s, o)

	txn := &order.Transaction{OrderID: o.ID, PaymentMethod: order.PaymentBank, PaymentStatus: order.PaymentSuccess}
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		return tx.InsertTransaction(ctx, txn)
	}))
	err := s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		return tx.InsertTransaction(ctx, txn)
	})
	require.Error(t, err)

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Transaction)
	assert.Equal(t, order.PaymentBank, got.Transaction.PaymentMethod)
}

func TestStore_ListOrdersNewestFirst(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertCustomer(ctx, 8, "c8@example.com"))
	base := time.Now()

	a := &order.Order{CustomerID: 7, Status: order.StatusWaitingPayment, CreatedAt: base}
	b := &order.Order{CustomerID: 7, Status: order.StatusExpired, CreatedAt: base.Add(time.Second)}
	c := &order.Order{CustomerID: 8, Status: order.StatusWaitingPayment, CreatedAt: base.Add(2 * time.Second)}
	insertOrder(t, s, a)
	insertOrder(t, s, b)
	insertOrder(t, s, c)

	all, err := s.ListOrders(ctx, order.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{c.ID, b.ID, a.ID}, []int64{all[0].ID, all[1].ID, all[2].ID})

	mine, err := s.ListOrders(ctx, order.ListFilter{CustomerID: 7, Status: order.StatusWaitingPayment})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, a.ID, mine[0].ID)
}

func TestStore_Cart(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, 7, cart.Line{ProductID: 1, Quantity: 2}))
	require.NoError(t, s.Put(ctx, 7, cart.Line{ProductID: 2, Quantity: 1}))
	require.NoError(t, s.Put(ctx, 7, cart.Line{ProductID: 1, Quantity: 4}))

	lines, err := s.List(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []cart.Line{{ProductID: 1, Quantity: 4}, {ProductID: 2, Quantity: 1}}, lines)

	require.ErrorIs(t, s.Put(ctx, 7, cart.Line{ProductID: 42, Quantity: 1}), product.ErrNotFound)
	require.ErrorIs(t, s.Put(ctx, 99, cart.Line{ProductID: 1, Quantity: 1}), auth.ErrCustomerNotFound)
	var iq *cart.InvalidQuantityError
	require.ErrorAs(t, s.Put(ctx, 7, cart.Line{ProductID: 1, Quantity: 0}), &iq)

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		require.NoError(t, tx.RemoveCartItems(ctx, 7, []int64{1}))
		staged, err := tx.CartLines(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, []cart.Line{{ProductID: 2, Quantity: 1}}, staged)
		return nil
	}))
	lines, err = s.List(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []cart.Line{{ProductID: 2, Quantity: 1}}, lines)

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		return tx.RemoveCartItems(ctx, 7, []int64{2})
	}))
	lines, err = s.List(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestStore_CatalogProductCount(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	c, err := s.GetCategory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, c.ProductCount)

	require.ErrorIs(t, s.CreateProduct(ctx, &product.Product{ID: 1, Name: "dup"}), product.ErrAlreadyExists)

	missing := int64(42)
	require.ErrorIs(t, s.CreateProduct(ctx, &product.Product{Name: "x", CategoryID: &missing}), product.ErrCategoryNotFound)

	require.NoError(t, s.DeleteProduct(ctx, 1))
	c, err = s.GetCategory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, c.ProductCount)
	require.ErrorIs(t, s.DeleteProduct(ctx, 1), product.ErrNotFound)
}

func TestStore_APIKeys(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertAPIKey(ctx, auth.APIKeyInfo{ID: "k1", KeyHash: "h1", CustomerID: 7, Role: auth.RoleCustomer}))
	require.ErrorIs(t, s.UpsertAPIKey(ctx, auth.APIKeyInfo{ID: "k2", KeyHash: "h2", CustomerID: 99, Role: auth.RoleCustomer}), auth.ErrCustomerNotFound)

	info, err := s.FindByHash(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "c7@example.com", info.Email)

	_, err = s.FindByHash(ctx, "nope")
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}
