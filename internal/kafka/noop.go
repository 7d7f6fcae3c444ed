package kafka

import (
	"context"
	"log/slog"

	"github.com/dejobratic/paygate/internal/payments/domain"
)

// NoopEventBus logs events without sending them to Kafka. Used when no brokers are configured.
type NoopEventBus struct{}

// NewNoopEventBus returns a new no-op event publisher.
func NewNoopEventBus() *NoopEventBus {
	return &NoopEventBus{}
}

func (n *NoopEventBus) PublishPaymentEvent(_ context.Context, payment domain.Payment) error {
	slog.Debug("event::"+EventType(payment.State),
		"payment_id", payment.ID,
		"order_id", payment.OrderID,
	)
	return nil
}
