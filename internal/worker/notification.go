package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const (
	defaultSendTimeout  = 5 * time.Second
	defaultErrorBackoff = 500 * time.Millisecond
)

// Metrics counts delivery results: sent, duplicate or failed.
type Metrics interface {
	ObserveNotification(result string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveNotification(string) {}

type Option func(*Pool)

func WithMetrics(m Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

func WithSendTimeout(d time.Duration) Option {
	return func(p *Pool) { p.sendTimeout = d }
}

func WithErrorBackoff(d time.Duration) Option {
	return func(p *Pool) { p.errorBackoff = d }
}

// Pool delivers order confirmations from a queue. Delivery is at least
// once; repeats of an order are dropped through the idempotency store.
type Pool struct {
	source       port.NotificationSource
	dedupe       port.IdempotencyStore
	mailer       port.MailSender
	workers      int
	logger       *slog.Logger
	metrics      Metrics
	sendTimeout  time.Duration
	errorBackoff time.Duration
}

func NewPool(source port.NotificationSource, dedupe port.IdempotencyStore, mailer port.MailSender, workers int, logger *slog.Logger, opts ...Option) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		source:       source,
		dedupe:       dedupe,
		mailer:       mailer,
		workers:      workers,
		logger:       logger,
		metrics:      noopMetrics{},
		sendTimeout:  defaultSendTimeout,
		errorBackoff: defaultErrorBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run blocks until ctx is cancelled or the source is closed, and returns
// once every worker has exited.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.workerLoop(ctx, id)
		}(i)
	}
	p.logger.Info("notification workers started", "workers", p.workers)

	wg.Wait()
	p.logger.Info("notification workers stopped")
}

func (p *Pool) workerLoop(ctx context.Context, id int) {
	for {
		event, err := p.source.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, port.ErrSourceClosed) {
				return
			}
			p.logger.Error("receive notification", "worker", id, "err", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(p.errorBackoff):
			}
			continue
		}

		p.handle(ctx, id, event)
	}
}

func (p *Pool) handle(ctx context.Context, id int, event domain.OrderConfirmedEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.sendTimeout)
	defer cancel()

	key := fmt.Sprintf("notified:order:%d", event.OrderID)
	first, err := p.dedupe.SetIdempotency(ctx, key)
	if err != nil {
		// a duplicate mail beats a lost one
		p.logger.Warn("notification dedupe unavailable", "worker", id, "order_id", event.OrderID, "err", err)
		first = true
	}
	if !first {
		p.metrics.ObserveNotification("duplicate")
		p.logger.Debug("skip duplicate notification", "worker", id, "order_id", event.OrderID, "event_id", event.EventID)
		return
	}

	if err := p.mailer.SendOrderConfirmation(ctx, event); err != nil {
		p.metrics.ObserveNotification("failed")
		p.logger.Error("send order confirmation", "worker", id, "order_id", event.OrderID, "err", err)
		return
	}

	p.metrics.ObserveNotification("sent")
	p.logger.Info("order confirmation sent", "worker", id, "order_id", event.OrderID, "email", event.UserEmail)
}
