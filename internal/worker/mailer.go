package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// LogMailer stands in for an e-mail provider and only writes a log line.
type LogMailer struct {
	logger *slog.Logger
	delay  time.Duration
}

var _ port.MailSender = (*LogMailer)(nil)

// NewLogMailer returns a sender that waits delay before reporting success,
// roughly the latency of a real provider.
func NewLogMailer(logger *slog.Logger, delay time.Duration) *LogMailer {
	return &LogMailer{logger: logger, delay: delay}
}

func (m *LogMailer) SendOrderConfirmation(ctx context.Context, event domain.OrderConfirmedEvent) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.logger.InfoContext(ctx, "email sent",
		"to", event.UserEmail,
		"order_id", event.OrderID,
		"total", event.TotalPrice.StringFixed(2),
	)
	return nil
}
