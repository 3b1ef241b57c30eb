package port

import (
	"context"
	"errors"

	"github.com/rl1809/storefront/internal/core/domain"
)

// ErrSourceClosed is returned by a NotificationSource that will never
// produce another event.
var ErrSourceClosed = errors.New("notification source closed")

// NotificationDispatcher hands an event to a queue. Delivery happens
// elsewhere.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, event domain.OrderConfirmedEvent) error
}

// NotificationSource blocks until the next queued event or ctx is done.
type NotificationSource interface {
	Receive(ctx context.Context) (domain.OrderConfirmedEvent, error)
}

type MailSender interface {
	SendOrderConfirmation(ctx context.Context, event domain.OrderConfirmedEvent) error
}
