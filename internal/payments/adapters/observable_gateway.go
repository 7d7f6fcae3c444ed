package adapters

import (
	"context"
	"time"

	"github.com/dejobratic/paygate/internal/payments/domain"
	"github.com/dejobratic/paygate/internal/payments/metrics"
	"github.com/dejobratic/paygate/internal/payments/ports"
	"github.com/dejobratic/paygate/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

type capabilityReporter interface {
	Capabilities() domain.Capabilities
}

type ObservableGateway struct {
	gateway ports.Gateway
	metrics *metrics.Metrics
}

func NewObservableGateway(gateway ports.Gateway, metrics *metrics.Metrics) *ObservableGateway {
	return &ObservableGateway{
		gateway: gateway,
		metrics: metrics,
	}
}

// Capabilities passes through the wrapped gateway's flags.
func (g *ObservableGateway) Capabilities() domain.Capabilities {
	if r, ok := g.gateway.(capabilityReporter); ok {
		return r.Capabilities()
	}
	return domain.Capabilities{AuthorizesOnsite: true}
}

func (g *ObservableGateway) IsReachable(ctx context.Context) bool {
	ctx, span := telemetry.StartSpan(ctx, "Gateway.IsReachable")
	defer span.End()

	start := time.Now()
	ok := g.gateway.IsReachable(ctx)
	g.metrics.RecordGatewayRequest(ctx, "monitor", ok, time.Since(start).Seconds())

	telemetry.AddSpanAttributes(span, attribute.Bool("gateway.reachable", ok))
	telemetry.SetSpanSuccess(span)
	return ok
}

func (g *ObservableGateway) Authorize(ctx context.Context, req domain.ChargeRequest, settleImmediately bool) (domain.GatewayResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "Gateway.Authorize")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("payment.merchant_ref", req.MerchantRef()),
		attribute.Int64("payment.amount_cents", req.AmountCents()),
		attribute.String("payment.currency", req.Currency()),
		attribute.Bool("payment.settle", settleImmediately),
		attribute.Bool("payment.tokenized", req.UsesToken()),
	)

	start := time.Now()
	resp, err := g.gateway.Authorize(ctx, req, settleImmediately)
	g.metrics.RecordGatewayRequest(ctx, "authorize", err == nil, time.Since(start).Seconds())

	if err != nil {
		telemetry.RecordSpanError(span, err)
		return resp, err
	}

	telemetry.AddSpanAttributes(span,
		attribute.String("gateway.status", string(resp.Status)),
		attribute.String("gateway.transaction_id", resp.TransactionID),
	)
	telemetry.SetSpanSuccess(span)
	return resp, nil
}
