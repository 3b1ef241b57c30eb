package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const EventOrderConfirmed = "order.confirmed"

type OrderConfirmedEvent struct {
	EventID    string          `json:"event_id"`
	Type       string          `json:"type"`
	OrderID    int64           `json:"order_id"`
	UserID     int64           `json:"user_id"`
	UserEmail  string          `json:"user_email"`
	TotalPrice decimal.Decimal `json:"total_price"`
	OccurredAt time.Time       `json:"occurred_at"`
}
