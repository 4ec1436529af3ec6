package order

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/stock"
)

// DefaultPaymentWindow is how long a new order waits for payment.
const DefaultPaymentWindow = 24 * time.Hour

// Pricing holds the inputs needed to price one product.
type Pricing struct {
	Price            decimal.Decimal
	ProductDiscount  decimal.Decimal
	CategoryDiscount decimal.Decimal
}

// PricingFromRow extracts pricing inputs from a locked stock row.
func PricingFromRow(r stock.Row) Pricing {
	return Pricing{
		Price:            r.Price,
		ProductDiscount:  r.DiscountPercentage,
		CategoryDiscount: r.CategoryDiscount,
	}
}

// Draft is an unsaved order with its items.
type Draft struct {
	Order Order
	Items []Item
}

var hundred = decimal.NewFromInt(100)

// DiscountFactor converts a percentage into a multiplier: (100-pct)/100 for
// 0 < pct <= 100, and 1 for everything else, including exactly 0 and any
// out-of-range value.
func DiscountFactor(pct decimal.Decimal) decimal.Decimal {
	if !pct.IsPositive() || pct.GreaterThan(hundred) {
		return decimal.NewFromInt(1)
	}
	return hundred.Sub(pct).Div(hundred)
}

// LineAmount is round(price * qty * categoryFactor * productFactor, 2).
func LineAmount(p Pricing, qty int) decimal.Decimal {
	return p.Price.
		Mul(decimal.NewFromInt(int64(qty))).
		Mul(DiscountFactor(p.CategoryDiscount)).
		Mul(DiscountFactor(p.ProductDiscount)).
		Round(2)
}

// BuildDraft assembles a WAITING_PAYMENT order at version 1 from a cart
// snapshot. It has no side effects. Duplicate product lines are merged, so the
// draft holds one item per distinct product.
func BuildDraft(customerID int64, lines []cart.Line, prices map[int64]Pricing, now time.Time, window time.Duration) (Draft, error) {
	merged, err := cart.Merge(lines)
	if err != nil {
		return Draft{}, err
	}
	if len(merged) == 0 {
		return Draft{}, ErrEmptyCart
	}
	if window <= 0 {
		window = DefaultPaymentWindow
	}

	items := make([]Item, 0, len(merged))
	total := decimal.Zero
	for _, l := range merged {
		p, ok := prices[l.ProductID]
		if !ok {
			return Draft{}, &stock.ProductNotFoundError{ProductID: l.ProductID}
		}
		amount := LineAmount(p, l.Quantity)
		items = append(items, Item{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			Amount:    amount,
		})
		total = total.Add(amount)
	}

	return Draft{
		Order: Order{
			CustomerID:  customerID,
			Status:      StatusWaitingPayment,
			TotalAmount: total,
			CreatedAt:   now,
			Deadline:    now.Add(window),
			Version:     1,
		},
		Items: items,
	}, nil
}
