package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Metrics struct {
	paymentsChargedTotal   metric.Int64Counter
	paymentChargeDuration  metric.Float64Histogram
	gatewayRequestDuration metric.Float64Histogram
	vaultOperationsTotal   metric.Int64Counter
	paymentMethodsCreated  metric.Int64Counter
	hostedReturnsTotal     metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.paymentsChargedTotal, err = meter.Int64Counter(
		"payments_charged_total",
		metric.WithDescription("Total number of charge attempts by outcome"),
		metric.WithUnit("{payment}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create payments_charged_total counter: %w", err)
	}

	m.paymentChargeDuration, err = meter.Float64Histogram(
		"payment_charge_duration_seconds",
		metric.WithDescription("Duration of charge operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create payment_charge_duration histogram: %w", err)
	}

	m.gatewayRequestDuration, err = meter.Float64Histogram(
		"gateway_request_duration_seconds",
		metric.WithDescription("Duration of payment gateway requests"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create gateway_request_duration histogram: %w", err)
	}

	m.vaultOperationsTotal, err = meter.Int64Counter(
		"vault_operations_total",
		metric.WithDescription("Total number of remote vault operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create vault_operations_total counter: %w", err)
	}

	m.paymentMethodsCreated, err = meter.Int64Counter(
		"payment_methods_created_total",
		metric.WithDescription("Total number of payment method creations"),
		metric.WithUnit("{method}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create payment_methods_created_total counter: %w", err)
	}

	m.hostedReturnsTotal, err = meter.Int64Counter(
		"hosted_returns_total",
		metric.WithDescription("Total number of hosted payment page returns by outcome"),
		metric.WithUnit("{return}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create hosted_returns_total counter: %w", err)
	}

	return m, nil
}

// RecordCharge counts one charge attempt. outcome is the resulting payment
// state, or "error" when no state was reached.
func (m *Metrics) RecordCharge(ctx context.Context, outcome string) {
	m.paymentsChargedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordChargeDuration(ctx context.Context, durationSeconds float64) {
	m.paymentChargeDuration.Record(ctx, durationSeconds)
}

func (m *Metrics) RecordGatewayRequest(ctx context.Context, operation string, success bool, durationSeconds float64) {
	m.gatewayRequestDuration.Record(ctx, durationSeconds, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", statusLabel(success)),
	))
}

func (m *Metrics) RecordVaultOperation(ctx context.Context, operation string, success bool) {
	m.vaultOperationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", statusLabel(success)),
	))
}

func (m *Metrics) RecordPaymentMethodCreated(ctx context.Context, success bool) {
	m.paymentMethodsCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", statusLabel(success)),
	))
}

// RecordReturn counts one hosted-page return. outcome is the recorded payment
// state, "rejected" for a bad signature, or "error".
func (m *Metrics) RecordReturn(ctx context.Context, outcome string) {
	m.hostedReturnsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
