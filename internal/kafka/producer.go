package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dejobratic/paygate/internal/payments/domain"
	"github.com/twmb/franz-go/pkg/kgo"
)

// PaymentEvent is the message published whenever a payment is persisted.
type PaymentEvent struct {
	Type        string              `json:"type"`
	PaymentID   string              `json:"payment_id"`
	OrderID     string              `json:"order_id"`
	State       domain.PaymentState `json:"state"`
	AmountCents int64               `json:"amount_cents"`
	Currency    string              `json:"currency"`
	MerchantRef string              `json:"merchant_ref,omitempty"`
	RemoteID    string              `json:"remote_id,omitempty"`
	OccurredAt  time.Time           `json:"occurred_at"`
}

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// EventBus publishes payment events to a single topic, keyed by order id so
// events for one order stay ordered.
type EventBus struct {
	client producer
	topic  string
}

// NewEventBus connects a franz-go producer to the given brokers.
func NewEventBus(brokers []string, topic string) (*EventBus, *kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID("paygate"),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(0),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &EventBus{client: client, topic: topic}, client, nil
}

func (b *EventBus) Topic() string { return b.topic }

func (b *EventBus) PublishPaymentEvent(ctx context.Context, payment domain.Payment) error {
	value, err := json.Marshal(newPaymentEvent(payment))
	if err != nil {
		return fmt.Errorf("encode payment event: %w", err)
	}

	record := &kgo.Record{
		Topic: b.topic,
		Key:   []byte(payment.OrderID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event-type", Value: []byte(EventType(payment.State))},
		},
	}
	if err := b.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce payment event: %w", err)
	}
	return nil
}

func newPaymentEvent(p domain.Payment) PaymentEvent {
	occurred := p.UpdatedAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return PaymentEvent{
		Type:        EventType(p.State),
		PaymentID:   p.ID,
		OrderID:     p.OrderID,
		State:       p.State,
		AmountCents: p.AmountCents,
		Currency:    p.Currency,
		MerchantRef: p.MerchantRef,
		RemoteID:    p.RemoteID,
		OccurredAt:  occurred,
	}
}

// EventType names the event emitted for a payment entering state.
func EventType(state domain.PaymentState) string {
	return "payment." + string(state)
}
