package seed_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-fulfillment/internal/domain/auth"
	"github.com/xenking/kart-fulfillment/internal/seed"
	"github.com/xenking/kart-fulfillment/internal/storage/memory"
)

const catalogJSON = `{
	"version": 1,
	"categories": [
		{"id": 1, "name": "Shoes", "discountPercentage": "10"}
	],
	"products": [
		{"id": 1, "name": "Runner", "price": 100, "stock": 5, "categoryId": 1, "tags": ["x"]},
		{"id": 2, "name": "Sock", "description": "Cotton", "price": "2.50", "stock": 10,
		 "discountPercentage": 5.5, "categoryId": null}
	],
	"customers": [
		{"id": 7, "email": "c7@example.com"}
	]
}`

func TestDecode(t *testing.T) {
	c, err := seed.Decode(strings.NewReader(catalogJSON))
	require.NoError(t, err)

	require.Len(t, c.Categories, 1)
	assert.True(t, decimal.NewFromInt(10).Equal(c.Categories[0].DiscountPercentage))

	require.Len(t, c.Products, 2)
	require.NotNil(t, c.Products[0].CategoryID)
	assert.Equal(t, int64(1), *c.Products[0].CategoryID)
	assert.True(t, decimal.NewFromInt(100).Equal(c.Products[0].Price))
	assert.Nil(t, c.Products[1].CategoryID)
	assert.Equal(t, "Cotton", c.Products[1].Description)
	assert.True(t, decimal.RequireFromString("5.5").Equal(c.Products[1].DiscountPercentage))

	assert.Equal(t, []seed.Customer{{ID: 7, Email: "c7@example.com"}}, c.Customers)
}

func TestDecode_DiscountForms(t *testing.T) {
	for _, doc := range []string{
		`{"categories":[{"id":1,"name":"W","discountPercentage":"10"}]}`,
		`{"categories":[{"id":1,"name":"W","discountPercentage":10}]}`,
		`{"categories":[{"id":1,"name":"W"}]}`,
	} {
		c, err := seed.Decode(strings.NewReader(doc))
		require.NoError(t, err, doc)
		require.Len(t, c.Categories, 1, doc)
		assert.Equal(t, "W", c.Categories[0].Name)
	}
}

func TestReadFile_BundledCatalog(t *testing.T) {
	c, err := seed.ReadFile(filepath.Join("..", "..", "db", "seed", "catalog.json"))
	require.NoError(t, err)
	assert.NotEmpty(t, c.Categories)
	assert.NotEmpty(t, c.Products)
	assert.NotEmpty(t, c.Customers)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := seed.Decode(strings.NewReader(`{"products": [{"id": "one"}]}`))
	require.Error(t, err)

	_, err = seed.Decode(strings.NewReader(`{"products": [{"price": "abc"}]}`))
	require.Error(t, err)
}

func TestReadFile_Gzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := pgzip.NewWriter(f)
	_, err = zw.Write([]byte(catalogJSON))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	c, err := seed.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, c.Products, 2)
}

func TestApply_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c, err := seed.Decode(strings.NewReader(catalogJSON))
	require.NoError(t, err)

	require.NoError(t, seed.Apply(ctx, st, c, nil))
	require.NoError(t, seed.Apply(ctx, st, c, nil))

	cat, err := st.GetCategory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, cat.ProductCount)

	p, err := st.GetProduct(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 10, p.Stock)

	email, err := st.CustomerEmail(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "c7@example.com", email)
}

func TestApplyKeys(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.UpsertCustomer(ctx, 7, "c7@example.com"))
	pepper := []byte("pepper")

	require.NoError(t, seed.ApplyKeys(ctx, st, []seed.Key{
		{ID: "customer", Name: "Customer", Plain: "ck", Role: auth.RoleCustomer, CustomerID: 7},
		{ID: "admin", Name: "Admin", Plain: "ak", Role: auth.RoleAdmin, Email: "ops@example.com"},
		{ID: "unset", Name: "Skipped", Role: auth.RoleAdmin},
	}, pepper, nil))

	authn := auth.NewAuthenticator(st, pepper)
	p, err := authn.Authenticate(ctx, "ck")
	require.NoError(t, err)
	assert.Equal(t, auth.Principal{CustomerID: 7, Email: "c7@example.com", Role: auth.RoleCustomer}, p)

	p, err = authn.Authenticate(ctx, "ak")
	require.NoError(t, err)
	assert.True(t, p.IsAdmin())
	assert.Equal(t, "ops@example.com", p.Email)
}
