package adapters

import (
	"context"
	"time"

	"github.com/dejobratic/paygate/internal/kafka"
	"github.com/dejobratic/paygate/internal/payments/domain"
	"github.com/dejobratic/paygate/internal/payments/ports"
	"github.com/dejobratic/paygate/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

type ObservableEventBus struct {
	bus     ports.EventBus
	topic   string
	metrics *kafka.Metrics
}

func NewObservableEventBus(bus ports.EventBus, topic string, metrics *kafka.Metrics) *ObservableEventBus {
	return &ObservableEventBus{
		bus:     bus,
		topic:   topic,
		metrics: metrics,
	}
}

func (e *ObservableEventBus) PublishPaymentEvent(ctx context.Context, payment domain.Payment) error {
	eventType := kafka.EventType(payment.State)
	ctx, span := telemetry.StartSpan(ctx, "EventBus.PublishPaymentEvent")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("payment.id", payment.ID),
		attribute.String("order.id", payment.OrderID),
		attribute.String("event.type", eventType),
		attribute.String("topic", e.topic),
	)

	start := time.Now()
	err := e.bus.PublishPaymentEvent(ctx, payment)
	e.metrics.RecordPublish(ctx, e.topic, eventType, time.Since(start).Seconds(), err)

	return finish(span, err)
}
