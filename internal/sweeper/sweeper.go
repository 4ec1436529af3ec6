// Package sweeper expires unpaid orders and returns their stock.
package sweeper

import (
	"context"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-fulfillment/internal/domain/order"
	"github.com/xenking/kart-fulfillment/internal/domain/stock"
)

const instrumentationName = "github.com/xenking/kart-fulfillment/internal/sweeper"

// Options tunes a Sweeper. Zero values select the defaults.
type Options struct {
	Interval       time.Duration
	Now            func() time.Time
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Result describes one committed sweep.
type Result struct {
	// Expired lists the orders moved to EXPIRED, ascending.
	Expired []int64
	// Restocked maps product id to the units returned to stock.
	Restocked map[int64]int
}

// Units is the total quantity returned to stock.
func (r Result) Units() int {
	var n int
	for _, q := range r.Restocked {
		n += q
	}
	return n
}

// Sweeper periodically expires WAITING_PAYMENT orders past their deadline.
type Sweeper struct {
	store    order.Store
	lg       *zap.Logger
	now      func() time.Time
	interval time.Duration
	lastRun  atomic.Int64

	tracer    trace.Tracer
	runs      metric.Int64Counter
	expired   metric.Int64Counter
	restocked metric.Int64Counter
}

// New creates a Sweeper.
func New(store order.Store, lg *zap.Logger, opts Options) (*Sweeper, error) {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
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

	s := &Sweeper{
		store:    store,
		lg:       lg,
		now:      opts.Now,
		interval: opts.Interval,
		tracer:   opts.TracerProvider.Tracer(instrumentationName),
	}
	meter := opts.MeterProvider.Meter(instrumentationName)
	var err error
	if s.runs, err = meter.Int64Counter("sweeper.runs"); err != nil {
		return nil, errors.Wrap(err, "sweeper.runs")
	}
	if s.expired, err = meter.Int64Counter("sweeper.expired_orders"); err != nil {
		return nil, errors.Wrap(err, "sweeper.expired_orders")
	}
	if s.restocked, err = meter.Int64Counter("sweeper.restocked_units"); err != nil {
		return nil, errors.Wrap(err, "sweeper.restocked_units")
	}
	return s, nil
}

// RunOnce performs a single sweep in one transaction. Overdue orders are
// locked, flipped to EXPIRED with their version bumped, and the quantities of
// the orders that actually changed are added back to stock. Running it again
// without the clock moving is a no-op.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "sweeper.Sweep")
	defer span.End()

	var res Result
	err := s.store.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		res = Result{}

		overdue, err := tx.ListOverdue(ctx, s.now())
		if err != nil {
			return errors.Wrap(err, "list overdue")
		}
		if len(overdue) == 0 {
			return nil
		}

		ids := make([]int64, len(overdue))
		for i, o := range overdue {
			ids[i] = o.ID
		}
		expired, err := tx.ExpireOrders(ctx, ids)
		if err != nil {
			return errors.Wrap(err, "expire orders")
		}
		if len(expired) == 0 {
			return nil
		}

		changed := make(map[int64]struct{}, len(expired))
		for _, id := range expired {
			changed[id] = struct{}{}
		}
		qty := make(map[int64]int)
		for _, o := range overdue {
			if _, ok := changed[o.ID]; !ok {
				continue
			}
			for _, it := range o.Items {
				qty[it.ProductID] += it.Quantity
			}
		}

		products := slices.Sorted(maps.Keys(qty))
		ledger, err := stock.Lock(ctx, tx, products)
		if err != nil {
			return err
		}
		for _, id := range products {
			if err := ledger.Release(ctx, id, qty[id]); err != nil {
				return err
			}
		}

		slices.Sort(expired)
		res = Result{Expired: expired, Restocked: qty}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "error")))
		return Result{}, err
	}

	s.lastRun.Store(s.now().UnixNano())
	s.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "ok")))
	s.expired.Add(ctx, int64(len(res.Expired)))
	s.restocked.Add(ctx, int64(res.Units()))
	span.SetAttributes(attribute.Int("sweeper.expired", len(res.Expired)))
	return res, nil
}

// Run sweeps immediately and then every interval until ctx is done. A failed
// sweep is logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()
	res, err := s.RunOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.lg.Error("Sweep failed", zap.Error(err))
		return
	}
	if len(res.Expired) == 0 {
		s.lg.Debug("Sweep completed, nothing expired", zap.Duration("took", time.Since(start)))
		return
	}
	s.lg.Info("Sweep completed",
		zap.Int64s("expired_orders", res.Expired),
		zap.Int("restocked_units", res.Units()),
		zap.Duration("took", time.Since(start)),
	)
}

// LastRun returns the clock reading of the last successful sweep, or the zero
// time if none succeeded yet.
func (s *Sweeper) LastRun() time.Time {
	n := s.lastRun.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// FreshnessCheck fails when no sweep succeeded within maxAge. It is meant for
// a liveness probe.
func (s *Sweeper) FreshnessCheck(maxAge time.Duration) func(ctx context.Context) error {
	started := s.now()
	return func(context.Context) error {
		last := s.LastRun()
		if last.IsZero() {
			last = started
		}
		if age := s.now().Sub(last); age > maxAge {
			return errors.Errorf("last successful sweep was %s ago", age.Round(time.Second))
		}
		return nil
	}
}
