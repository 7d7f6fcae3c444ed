package commands

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dejobratic/paygate/internal/payments/domain"
	"github.com/dejobratic/paygate/internal/payments/metrics"
	"github.com/dejobratic/paygate/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

type ObservableChargeHandler struct {
	handler ChargeHandler
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewObservableChargeHandler(handler ChargeHandler, logger *slog.Logger, metrics *metrics.Metrics) *ObservableChargeHandler {
	return &ObservableChargeHandler{
		handler: handler,
		logger:  logger,
		metrics: metrics,
	}
}

func (o *ObservableChargeHandler) Handle(ctx context.Context, cmd ChargeCommand) (ChargeResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "ChargeCommand.Handle")
	defer span.End()

	start := time.Now()
	outcome := "error"
	defer func() {
		o.metrics.RecordChargeDuration(ctx, time.Since(start).Seconds())
		o.metrics.RecordCharge(ctx, outcome)
	}()

	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", cmd.OrderID),
		attribute.String("customer.id", cmd.Customer.ID),
		attribute.Bool("payment.capture", cmd.Capture),
		attribute.Bool("payment.vaulted", cmd.UseVault),
	)

	o.logger.InfoContext(ctx, "charging order",
		"order_id", cmd.OrderID,
		"customer_id", cmd.Customer.ID,
		"capture", cmd.Capture,
	)

	result, err := o.handler.Handle(ctx, cmd)

	if result.Payment != nil {
		outcome = string(result.Payment.State)
		telemetry.AddSpanAttributes(span,
			attribute.String("payment.id", result.Payment.ID),
			attribute.String("payment.merchant_ref", result.Payment.MerchantRef),
			attribute.String("payment.state", string(result.Payment.State)),
			attribute.Int64("payment.amount_cents", result.Payment.AmountCents),
		)
	}

	return result, telemetry.EndSpan(span, err, domain.ErrDeclined, domain.ErrUnderReview)
}

type ObservablePaymentMethodHandler struct {
	handler PaymentMethodHandler
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewObservablePaymentMethodHandler(handler PaymentMethodHandler, logger *slog.Logger, metrics *metrics.Metrics) *ObservablePaymentMethodHandler {
	return &ObservablePaymentMethodHandler{
		handler: handler,
		logger:  logger,
		metrics: metrics,
	}
}

func (o *ObservablePaymentMethodHandler) Handle(ctx context.Context, cmd CreatePaymentMethodCommand) (*domain.PaymentMethod, error) {
	ctx, span := telemetry.StartSpan(ctx, "CreatePaymentMethodCommand.Handle")
	defer span.End()

	var success bool
	defer func() {
		o.metrics.RecordPaymentMethodCreated(ctx, success)
	}()

	telemetry.AddSpanAttributes(span,
		attribute.String("customer.id", cmd.Customer.ID),
		attribute.String("card.type", string(cmd.Card.Type)),
	)

	method, err := o.handler.Handle(ctx, cmd)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		o.logger.ErrorContext(ctx, "failed to create payment method",
			"customer_id", cmd.Customer.ID,
			"error", err,
		)
		return nil, err
	}

	o.logger.InfoContext(ctx, "payment method created",
		"customer_id", method.CustomerID,
		"remote_id", method.RemoteID,
		"last4", method.Last4,
	)

	success = true
	telemetry.SetSpanSuccess(span)
	return method, nil
}

type ObservableReturnHandler struct {
	handler ReturnHandler
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewObservableReturnHandler(handler ReturnHandler, logger *slog.Logger, metrics *metrics.Metrics) *ObservableReturnHandler {
	return &ObservableReturnHandler{
		handler: handler,
		logger:  logger,
		metrics: metrics,
	}
}

func (o *ObservableReturnHandler) Handle(ctx context.Context, cmd HandleReturnCommand) (*domain.Payment, error) {
	ctx, span := telemetry.StartSpan(ctx, "HandleReturnCommand.Handle")
	defer span.End()

	outcome := "error"
	defer func() {
		o.metrics.RecordReturn(ctx, outcome)
	}()

	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", cmd.OrderID),
		attribute.String("payment.remote_id", cmd.TxnID),
		attribute.String("payment.remote_status", cmd.PaymentStatus),
	)

	payment, err := o.handler.Handle(ctx, cmd)
	switch {
	case err == nil:
		outcome = string(payment.State)
		telemetry.AddSpanAttributes(span,
			attribute.String("payment.id", payment.ID),
			attribute.String("payment.state", string(payment.State)),
		)
	case errors.Is(err, domain.ErrInvalidSignature):
		outcome = "rejected"
	case !errors.Is(err, domain.ErrValidation):
		o.logger.ErrorContext(ctx, "failed to handle hosted page return",
			"order_id", cmd.OrderID,
			"remote_id", cmd.TxnID,
			"error", err,
		)
	}

	return payment, telemetry.EndSpan(span, err, domain.ErrInvalidSignature, domain.ErrValidation)
}
