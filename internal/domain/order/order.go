package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is a customer order. TotalAmount is fixed at creation; Status and
// Version change only through the transition paths in this package and the
// expiration sweeper.
type Order struct {
	ID          int64
	CustomerID  int64
	Status      Status
	TotalAmount decimal.Decimal
	CreatedAt   time.Time
	Deadline    time.Time
	Version     int
	Items       []Item
	Transaction *Transaction
}

// Item is a price/quantity snapshot of one product at order time.
type Item struct {
	OrderID   int64
	ProductID int64
	Quantity  int
	Amount    decimal.Decimal
}

// Transaction records a successful payment. There is at most one per order.
type Transaction struct {
	OrderID       int64
	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus
	CreatedAt     time.Time
}

// ListFilter narrows ListOrders. Zero values mean "any".
type ListFilter struct {
	CustomerID int64
	Status     Status
}

// Overdue reports whether o is still awaiting payment at or after its deadline.
func (o *Order) Overdue(now time.Time) bool {
	return o.Status == StatusWaitingPayment && !now.Before(o.Deadline)
}
