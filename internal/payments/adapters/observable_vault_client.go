package adapters

import (
	"context"
	"time"

	"github.com/dejobratic/paygate/internal/payments/domain"
	"github.com/dejobratic/paygate/internal/payments/metrics"
	"github.com/dejobratic/paygate/internal/payments/ports"
	"github.com/dejobratic/paygate/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type ObservableVaultClient struct {
	client  ports.VaultClient
	metrics *metrics.Metrics
}

func NewObservableVaultClient(client ports.VaultClient, metrics *metrics.Metrics) *ObservableVaultClient {
	return &ObservableVaultClient{
		client:  client,
		metrics: metrics,
	}
}

func (v *ObservableVaultClient) CreateProfile(ctx context.Context, merchantCustomerID string, customer domain.Customer, billing domain.BillingAddress) (string, error) {
	ctx, span := v.start(ctx, domain.OpCreateProfile, attribute.String("customer.id", customer.ID))
	defer span.End()

	start := time.Now()
	id, err := v.client.CreateProfile(ctx, merchantCustomerID, customer, billing)
	v.record(ctx, domain.OpCreateProfile, start, err)

	return id, finish(span, err)
}

func (v *ObservableVaultClient) CreateAddress(ctx context.Context, profileID string, billing domain.BillingAddress) (string, error) {
	ctx, span := v.start(ctx, domain.OpCreateAddress, attribute.String("vault.profile_id", profileID))
	defer span.End()

	start := time.Now()
	id, err := v.client.CreateAddress(ctx, profileID, billing)
	v.record(ctx, domain.OpCreateAddress, start, err)

	return id, finish(span, err)
}

func (v *ObservableVaultClient) UpdateAddress(ctx context.Context, profileID, addressID string, billing domain.BillingAddress) error {
	ctx, span := v.start(ctx, domain.OpUpdateAddress,
		attribute.String("vault.profile_id", profileID),
		attribute.String("vault.address_id", addressID),
	)
	defer span.End()

	start := time.Now()
	err := v.client.UpdateAddress(ctx, profileID, addressID, billing)
	v.record(ctx, domain.OpUpdateAddress, start, err)

	return finish(span, err)
}

func (v *ObservableVaultClient) CreateCard(ctx context.Context, profileID, addressID string, holderName string, card domain.CardDetails) (domain.RemoteCard, error) {
	ctx, span := v.start(ctx, domain.OpCreateCard,
		attribute.String("vault.profile_id", profileID),
		attribute.String("card.type", string(card.Type)),
		attribute.String("card.last4", card.Last4()),
	)
	defer span.End()

	start := time.Now()
	remote, err := v.client.CreateCard(ctx, profileID, addressID, holderName, card)
	v.record(ctx, domain.OpCreateCard, start, err)

	return remote, finish(span, err)
}

func (v *ObservableVaultClient) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := telemetry.StartSpan(ctx, "VaultClient."+op)
	telemetry.AddSpanAttributes(span, append(attrs, attribute.String("operation", op))...)
	return ctx, span
}

func (v *ObservableVaultClient) record(ctx context.Context, op string, start time.Time, err error) {
	v.metrics.RecordVaultOperation(ctx, op, err == nil)
	v.metrics.RecordGatewayRequest(ctx, op, err == nil, time.Since(start).Seconds())
}
