package adapters

import (
	"context"
	"errors"
	"time"

	"github.com/dejobratic/paygate/internal/database"
	"github.com/dejobratic/paygate/internal/payments/domain"
	"github.com/dejobratic/paygate/internal/payments/ports"
	"github.com/dejobratic/paygate/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Repository is the order and payment storage the service runs on.
type Repository interface {
	ports.OrderRepository
	ports.OrderRegistry
	ports.PaymentRepository
}

type ObservableRepository struct {
	repo    Repository
	metrics *database.Metrics
}

func NewObservableRepository(repo Repository, metrics *database.Metrics) *ObservableRepository {
	return &ObservableRepository{
		repo:    repo,
		metrics: metrics,
	}
}

func (r *ObservableRepository) UpsertOrder(ctx context.Context, order domain.Order) error {
	ctx, span := telemetry.StartSpan(ctx, "PaymentRepository.UpsertOrder")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", order.ID),
		attribute.String("operation", "upsert_order"),
	)

	start := time.Now()
	err := r.repo.UpsertOrder(ctx, order)
	r.metrics.RecordQuery(ctx, "upsert_order", time.Since(start).Seconds(), queryErr(err))

	return finish(span, err)
}

func (r *ObservableRepository) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	ctx, span := telemetry.StartSpan(ctx, "PaymentRepository.GetOrder")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", id),
		attribute.String("operation", "get_order"),
	)

	start := time.Now()
	order, err := r.repo.GetOrder(ctx, id)
	r.metrics.RecordQuery(ctx, "get_order", time.Since(start).Seconds(), queryErr(err))

	if err := finish(span, err); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *ObservableRepository) Balance(ctx context.Context, orderID string) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "PaymentRepository.Balance")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", orderID),
		attribute.String("operation", "order_balance"),
	)

	start := time.Now()
	balance, err := r.repo.Balance(ctx, orderID)
	r.metrics.RecordQuery(ctx, "order_balance", time.Since(start).Seconds(), queryErr(err))

	if err := finish(span, err); err != nil {
		return 0, err
	}
	telemetry.AddSpanAttributes(span, attribute.Int64("order.balance_cents", balance))
	return balance, nil
}

func (r *ObservableRepository) NextAttempt(ctx context.Context, orderID string) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "PaymentRepository.NextAttempt")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", orderID),
		attribute.String("operation", "next_attempt"),
	)

	start := time.Now()
	attempt, err := r.repo.NextAttempt(ctx, orderID)
	r.metrics.RecordQuery(ctx, "next_attempt", time.Since(start).Seconds(), queryErr(err))

	if err := finish(span, err); err != nil {
		return 0, err
	}
	telemetry.AddSpanAttributes(span, attribute.Int("order.attempt", attempt))
	return attempt, nil
}

func (r *ObservableRepository) Save(ctx context.Context, payment domain.Payment) error {
	ctx, span := telemetry.StartSpan(ctx, "PaymentRepository.Save")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("payment.id", payment.ID),
		attribute.String("payment.state", string(payment.State)),
		attribute.String("operation", "save_payment"),
	)

	start := time.Now()
	err := r.repo.Save(ctx, payment)
	r.metrics.RecordQuery(ctx, "save_payment", time.Since(start).Seconds(), queryErr(err))

	return finish(span, err)
}

func (r *ObservableRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	ctx, span := telemetry.StartSpan(ctx, "PaymentRepository.GetByID")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("payment.id", id),
		attribute.String("operation", "get_payment_by_id"),
	)

	start := time.Now()
	payment, err := r.repo.GetByID(ctx, id)
	r.metrics.RecordQuery(ctx, "get_payment_by_id", time.Since(start).Seconds(), queryErr(err))

	if err := finish(span, err); err != nil {
		return nil, err
	}
	return payment, nil
}

func (r *ObservableRepository) GetByRemoteID(ctx context.Context, remoteID string) (*domain.Payment, error) {
	ctx, span := telemetry.StartSpan(ctx, "PaymentRepository.GetByRemoteID")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("payment.remote_id", remoteID),
		attribute.String("operation", "get_payment_by_remote_id"),
	)

	start := time.Now()
	payment, err := r.repo.GetByRemoteID(ctx, remoteID)
	r.metrics.RecordQuery(ctx, "get_payment_by_remote_id", time.Since(start).Seconds(), queryErr(err))

	if err := finish(span, err); err != nil {
		return nil, err
	}
	return payment, nil
}

// queryErr hides misses from the error counter; they are answers, not faults.
func queryErr(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}
