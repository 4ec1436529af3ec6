package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/stock"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDiscountFactor(t *testing.T) {
	tests := []struct {
		pct  string
		want string
	}{
		{"0", "1"},
		{"10", "0.9"},
		{"12.5", "0.875"},
		{"100", "0"},
		{"-5", "1"},
		{"100.01", "1"},
		{"250", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.pct, func(t *testing.T) {
			assert.True(t, dec(tt.want).Equal(DiscountFactor(dec(tt.pct))),
				"got %s", DiscountFactor(dec(tt.pct)))
		})
	}
}

func TestLineAmount(t *testing.T) {
	tests := []struct {
		name string
		p    Pricing
		qty  int
		want string
	}{
		{
			name: "category discount only",
			p:    Pricing{Price: dec("100"), CategoryDiscount: dec("10"), ProductDiscount: dec("0")},
			qty:  2,
			want: "180.00",
		},
		{
			name: "both discounts compose multiplicatively",
			p:    Pricing{Price: dec("100"), CategoryDiscount: dec("10"), ProductDiscount: dec("20")},
			qty:  1,
			want: "72.00",
		},
		{
			name: "rounded to cents",
			p:    Pricing{Price: dec("9.99"), ProductDiscount: dec("15")},
			qty:  3,
			want: "25.47",
		},
		{
			name: "out of range discount ignored",
			p:    Pricing{Price: dec("5"), ProductDiscount: dec("120")},
			qty:  4,
			want: "20.00",
		},
		{
			name: "full discount",
			p:    Pricing{Price: dec("5"), CategoryDiscount: dec("100")},
			qty:  4,
			want: "0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LineAmount(tt.p, tt.qty)
			assert.True(t, dec(tt.want).Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestBuildDraft(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	prices := map[int64]Pricing{
		1: {Price: dec("100"), CategoryDiscount: dec("10")},
		2: {Price: dec("2.50")},
	}

	d, err := BuildDraft(7, []cart.Line{
		{ProductID: 1, Quantity: 2},
		{ProductID: 2, Quantity: 1},
		{ProductID: 2, Quantity: 3},
	}, prices, now, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(7), d.Order.CustomerID)
	assert.Equal(t, StatusWaitingPayment, d.Order.Status)
	assert.Equal(t, 1, d.Order.Version)
	assert.Equal(t, now, d.Order.CreatedAt)
	assert.Equal(t, now.Add(24*time.Hour), d.Order.Deadline)
	assert.True(t, dec("190.00").Equal(d.Order.TotalAmount), "total %s", d.Order.TotalAmount)

	require.Len(t, d.Items, 2)
	assert.Equal(t, int64(1), d.Items[0].ProductID)
	assert.True(t, dec("180").Equal(d.Items[0].Amount))
	assert.Equal(t, int64(2), d.Items[1].ProductID)
	assert.Equal(t, 4, d.Items[1].Quantity)
	assert.True(t, dec("10").Equal(d.Items[1].Amount))
}

func TestBuildDraft_CustomWindow(t *testing.T) {
	now := time.Now()
	d, err := BuildDraft(1, []cart.Line{{ProductID: 1, Quantity: 1}},
		map[int64]Pricing{1: {Price: dec("1")}}, now, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), d.Order.Deadline)
}

func TestBuildDraft_Errors(t *testing.T) {
	now := time.Now()
	prices := map[int64]Pricing{1: {Price: dec("1")}}

	_, err := BuildDraft(1, nil, prices, now, 0)
	require.ErrorIs(t, err, ErrEmptyCart)

	_, err = BuildDraft(1, []cart.Line{{ProductID: 1, Quantity: 0}}, prices, now, 0)
	var iq *cart.InvalidQuantityError
	require.ErrorAs(t, err, &iq)

	_, err = BuildDraft(1, []cart.Line{{ProductID: 5, Quantity: 1}}, prices, now, 0)
	var nf *stock.ProductNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, int64(5), nf.ProductID)
}

func TestPricingFromRow(t *testing.T) {
	p := PricingFromRow(stock.Row{
		ProductID:          1,
		Price:              dec("3"),
		DiscountPercentage: dec("5"),
		CategoryDiscount:   dec("7"),
	})
	assert.True(t, dec("3").Equal(p.Price))
	assert.True(t, dec("5").Equal(p.ProductDiscount))
	assert.True(t, dec("7").Equal(p.CategoryDiscount))
}
