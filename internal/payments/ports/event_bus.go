package ports

import (
	"context"

	"github.com/dejobratic/paygate/internal/payments/domain"
)

// EventBus publishes payment lifecycle events after a payment is persisted.
type EventBus interface {
	PublishPaymentEvent(ctx context.Context, payment domain.Payment) error
}
