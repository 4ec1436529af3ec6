// Package notify delivers best-effort customer notifications off the request
// path.
//
// Dispatcher.Notify never blocks and never reports delivery failures to the
// caller: a full buffer drops the message, a failing sender is logged.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"
)

// Message is a single notification.
type Message struct {
	// Key identifies the logical event, e.g. "order:42:created". Messages with
	// a key already seen by the dispatcher are suppressed. Empty keys are never
	// de-duplicated.
	Key            string
	To             string
	Subject        string
	Body           string
	AttachmentPath string
}

// Sender performs the actual delivery.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// Config tunes a Dispatcher.
type Config struct {
	Buffer        int
	DedupCapacity uint
	SendTimeout   time.Duration
}

// Dispatcher is a fire-and-forget notification sink with a single delivery
// goroutine.
type Dispatcher struct {
	sender  Sender
	lg      *zap.Logger
	timeout time.Duration
	ch      chan Message

	mu   sync.Mutex
	seen *bloom.BloomFilter
}

// NewDispatcher creates a Dispatcher. Call Run to start delivery.
func NewDispatcher(sender Sender, lg *zap.Logger, cfg Config) *Dispatcher {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.DedupCapacity == 0 {
		cfg.DedupCapacity = 100_000
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Dispatcher{
		sender:  sender,
		lg:      lg,
		timeout: cfg.SendTimeout,
		ch:      make(chan Message, cfg.Buffer),
		seen:    bloom.NewWithEstimates(cfg.DedupCapacity, 0.0001),
	}
}

// Notify queues m for delivery. It returns immediately.
func (d *Dispatcher) Notify(_ context.Context, m Message) {
	if m.To == "" {
		return
	}
	if m.Key != "" {
		d.mu.Lock()
		dup := d.seen.TestAndAddString(m.Key)
		d.mu.Unlock()
		if dup {
			d.lg.Debug("Duplicate notification suppressed", zap.String("key", m.Key))
			return
		}
	}

	select {
	case d.ch <- m:
	default:
		d.lg.Warn("Notification buffer full, dropping message",
			zap.String("key", m.Key),
			zap.String("to", m.To),
		)
	}
}

// Run delivers queued messages until ctx is cancelled. Messages still
// buffered at shutdown are dropped.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-d.ch:
			d.deliver(ctx, m)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, m Message) {
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.sender.Send(sendCtx, m); err != nil {
		d.lg.Error("Notification delivery failed",
			zap.String("key", m.Key),
			zap.String("to", m.To),
			zap.Error(err),
		)
	}
}

// LogSender writes notifications to the log instead of a mail server.
type LogSender struct {
	lg   *zap.Logger
	from string
}

// NewLogSender creates a LogSender reporting from the given sender address.
func NewLogSender(lg *zap.Logger, from string) *LogSender {
	return &LogSender{lg: lg, from: from}
}

// Send implements Sender.
func (s *LogSender) Send(_ context.Context, m Message) error {
	fields := []zap.Field{
		zap.String("from", s.from),
		zap.String("to", m.To),
		zap.String("subject", m.Subject),
		zap.String("body", m.Body),
	}
	if m.AttachmentPath != "" {
		fields = append(fields, zap.String("attachment", m.AttachmentPath))
	}
	s.lg.Info("Notification sent", fields...)
	return nil
}
