package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-fulfillment/internal/domain/auth"
	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/stock"
	"github.com/xenking/kart-fulfillment/internal/notify"
)

const instrumentationName = "github.com/xenking/kart-fulfillment/internal/domain/order"

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	// Now is the clock used for createdAt, deadlines and payment checks.
	Now           func() time.Time
	PaymentWindow time.Duration
	CreateTimeout time.Duration
	UpdateTimeout time.Duration
	ReadTimeout   time.Duration
	// Jobs receives asynchronous checkout jobs. Enqueue fails without it.
	Jobs           JobSink
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Service implements checkout, payment, admin status updates and the order
// read paths. Every method takes the caller's principal explicitly.
type Service struct {
	store    Store
	notifier Notifier
	jobs     JobSink
	lg       *zap.Logger
	now      func() time.Time

	window        time.Duration
	createTimeout time.Duration
	updateTimeout time.Duration
	readTimeout   time.Duration

	tracer      trace.Tracer
	created     metric.Int64Counter
	rejected    metric.Int64Counter
	transitions metric.Int64Counter
}

// NewService creates an order Service.
func NewService(store Store, notifier Notifier, lg *zap.Logger, opts Options) (*Service, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PaymentWindow <= 0 {
		opts.PaymentWindow = DefaultPaymentWindow
	}
	if opts.CreateTimeout <= 0 {
		opts.CreateTimeout = 3 * time.Second
	}
	if opts.UpdateTimeout <= 0 {
		opts.UpdateTimeout = 2 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 2 * time.Second
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = otel.GetMeterProvider()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	if notifier == nil {
		notifier = discard{}
	}

	s := &Service{
		store:         store,
		notifier:      notifier,
		jobs:          opts.Jobs,
		lg:            lg,
		now:           opts.Now,
		window:        opts.PaymentWindow,
		createTimeout: opts.CreateTimeout,
		updateTimeout: opts.UpdateTimeout,
		readTimeout:   opts.ReadTimeout,
		tracer:        opts.TracerProvider.Tracer(instrumentationName),
	}

	meter := opts.MeterProvider.Meter(instrumentationName)
	var err error
	if s.created, err = meter.Int64Counter("orders.created",
		metric.WithDescription("Orders committed in WAITING_PAYMENT"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.created")
	}
	if s.rejected, err = meter.Int64Counter("orders.rejected",
		metric.WithDescription("Failed order operations by reason"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.rejected")
	}
	if s.transitions, err = meter.Int64Counter("orders.status_transitions",
		metric.WithDescription("Committed order status changes"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.status_transitions")
	}
	return s, nil
}

// CreateOrder converts a cart into a WAITING_PAYMENT order in one
// transaction: product rows are locked in ascending id order, every line is
// checked against locked stock, stock is decremented, the order and its items
// are inserted and the ordered products are removed from the customer's cart.
// When lines is empty the stored cart is used, so the whole cart is cleared;
// explicit lines leave cart rows of other products in place.
//
// The "order created" notification is sent only after commit.
func (s *Service) CreateOrder(ctx context.Context, p auth.Principal, lines []cart.Line) (*Order, error) {
	if p.CustomerID == 0 {
		return nil, ErrForbidden
	}

	ctx, cancel := context.WithTimeout(ctx, s.createTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "order.Create",
		trace.WithAttributes(attribute.Int64("customer.id", p.CustomerID)),
	)
	defer span.End()

	var created *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		d, err := s.reserve(ctx, tx, p.CustomerID, lines, s.now())
		if err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, &d.Order); err != nil {
			return errors.Wrap(err, "insert order")
		}
		if err := tx.InsertItems(ctx, d.Order.ID, d.Items); err != nil {
			return errors.Wrap(err, "insert items")
		}
		if err := tx.RemoveCartItems(ctx, p.CustomerID, productIDs(d.Items)); err != nil {
			return errors.Wrap(err, "remove cart items")
		}
		o := d.Order
		o.Items = withOrderID(d.Items, o.ID)
		created = &o
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, span, "create", err)
	}

	s.created.Add(ctx, 1)
	span.SetAttributes(attribute.Int64("order.id", created.ID))
	s.notifier.Notify(ctx, createdMessage(p.Email, created))
	return created, nil
}

// reserve loads the cart when lines is empty, locks the referenced products,
// prices the cart from the locked rows and decrements stock for every line.
func (s *Service) reserve(ctx context.Context, tx Tx, customerID int64, lines []cart.Line, now time.Time) (Draft, error) {
	if len(lines) == 0 {
		stored, err := tx.CartLines(ctx, customerID)
		if err != nil {
			return Draft{}, errors.Wrap(err, "load cart")
		}
		lines = stored
	}
	merged, err := cart.Merge(lines)
	if err != nil {
		return Draft{}, err
	}
	if len(merged) == 0 {
		return Draft{}, ErrEmptyCart
	}

	ids := make([]int64, len(merged))
	for i, l := range merged {
		ids[i] = l.ProductID
	}
	ledger, err := stock.Lock(ctx, tx, ids)
	if err != nil {
		return Draft{}, err
	}

	prices := make(map[int64]Pricing, len(ids))
	for _, id := range ids {
		row, _ := ledger.Row(id)
		prices[id] = PricingFromRow(row)
	}
	d, err := BuildDraft(customerID, merged, prices, now, s.window)
	if err != nil {
		return Draft{}, err
	}
	for _, it := range d.Items {
		if err := ledger.Reserve(ctx, it.ProductID, it.Quantity); err != nil {
			return Draft{}, err
		}
	}
	return d, nil
}

// GetOrder returns an order with its items and payment. Customers only see
// their own orders; anything else is ErrNotFound.
func (s *Service) GetOrder(ctx context.Context, p auth.Principal, id int64) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, cancelled(ctx, err)
	}
	if !visible(p, o) {
		return nil, ErrNotFound
	}
	return o, nil
}

// ListOrders returns the caller's orders newest first, or every order for an
// admin. An empty status matches all statuses.
func (s *Service) ListOrders(ctx context.Context, p auth.Principal, status Status) ([]Order, error) {
	f := ListFilter{Status: status}
	if !p.IsAdmin() {
		if p.CustomerID == 0 {
			return nil, ErrForbidden
		}
		f.CustomerID = p.CustomerID
	}

	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	orders, err := s.store.ListOrders(ctx, f)
	if err != nil {
		return nil, cancelled(ctx, err)
	}
	return orders, nil
}

// fail records a rejected operation and converts context expiry into
// ErrCancelled.
func (s *Service) fail(ctx context.Context, span trace.Span, op string, err error) error {
	err = cancelled(ctx, err)
	kind := KindOf(err)
	s.rejected.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("reason", kind.String()),
	))
	span.RecordError(err)
	if kind == KindInternal {
		span.SetStatus(codes.Error, err.Error())
		s.lg.Error("Order operation failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

func (s *Service) notifyStatus(ctx context.Context, o *Order) {
	to, err := s.store.CustomerEmail(ctx, o.CustomerID)
	if err != nil {
		s.lg.Warn("Resolve customer email",
			zap.Int64("order_id", o.ID),
			zap.Int64("customer_id", o.CustomerID),
			zap.Error(err),
		)
		return
	}
	s.notifier.Notify(ctx, notify.Message{
		Key:     fmt.Sprintf("order:%d:%s", o.ID, o.Status),
		To:      to,
		Subject: fmt.Sprintf("Order #%d is now %s", o.ID, o.Status),
		Body:    fmt.Sprintf("Your order #%d changed status to %s.", o.ID, o.Status),
	})
}

func createdMessage(to string, o *Order) notify.Message {
	return notify.Message{
		Key:     fmt.Sprintf("order:%d:created", o.ID),
		To:      to,
		Subject: fmt.Sprintf("Order #%d received", o.ID),
		Body: fmt.Sprintf("Your order #%d totalling %s awaits payment until %s.",
			o.ID, o.TotalAmount.StringFixed(2), o.Deadline.UTC().Format(time.RFC1123)),
	}
}

type discard struct{}

func (discard) Notify(context.Context, notify.Message) {}

func visible(p auth.Principal, o *Order) bool {
	return p.IsAdmin() || (p.CustomerID != 0 && o.CustomerID == p.CustomerID)
}

func withOrderID(items []Item, id int64) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		it.OrderID = id
		out[i] = it
	}
	return out
}

func productIDs(items []Item) []int64 {
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.ProductID
	}
	return ids
}
