package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dejobratic/paygate/internal/payments/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores host orders and their payments.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertOrder registers or refreshes a host order. The attempt counter is
// never reset.
func (r *Repository) UpsertOrder(ctx context.Context, order domain.Order) error {
	query := `
		INSERT INTO orders (id, customer_id, total_cents, currency)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET customer_id = EXCLUDED.customer_id,
		    total_cents = EXCLUDED.total_cents,
		    currency = EXCLUDED.currency,
		    updated_at = NOW()
	`

	_, err := r.pool.Exec(ctx, query, order.ID, order.CustomerID, order.TotalCents, order.Currency)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}

	return nil
}

func (r *Repository) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	query := `
		SELECT id, customer_id, total_cents, currency
		FROM orders
		WHERE id = $1
	`

	var order domain.Order
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&order.ID,
		&order.CustomerID,
		&order.TotalCents,
		&order.Currency,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select order: %w", err)
	}

	return &order, nil
}

func (r *Repository) Balance(ctx context.Context, orderID string) (int64, error) {
	query := `
		SELECT o.total_cents - COALESCE(SUM(p.amount_cents) FILTER (WHERE p.state IN ($2, $3)), 0)
		FROM orders o
		LEFT JOIN payments p ON p.order_id = o.id
		WHERE o.id = $1
		GROUP BY o.id, o.total_cents
	`

	var balance int64
	err := r.pool.QueryRow(ctx, query, orderID, domain.StateAuthorized, domain.StateCompleted).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("select order balance: %w", err)
	}

	return balance, nil
}

func (r *Repository) NextAttempt(ctx context.Context, orderID string) (int, error) {
	query := `
		UPDATE orders
		SET payment_attempt = payment_attempt + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING payment_attempt
	`

	var attempt int
	if err := r.pool.QueryRow(ctx, query, orderID).Scan(&attempt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("increment payment attempt: %w", err)
	}

	return attempt, nil
}

// Save inserts a payment or updates its mutable fields.
func (r *Repository) Save(ctx context.Context, payment domain.Payment) error {
	query := `
		INSERT INTO payments (
			id, order_id, customer_id, merchant_ref, state, amount_cents, currency,
			remote_id, remote_state, expires_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, NULLIF($8, ''), $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE
		SET state = EXCLUDED.state,
		    remote_id = EXCLUDED.remote_id,
		    remote_state = EXCLUDED.remote_state,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = EXCLUDED.updated_at
	`

	createdAt := payment.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := payment.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err := r.pool.Exec(ctx, query,
		payment.ID,
		payment.OrderID,
		payment.CustomerID,
		payment.MerchantRef,
		payment.State,
		payment.AmountCents,
		payment.Currency,
		payment.RemoteID,
		payment.RemoteState,
		payment.ExpiresAt,
		createdAt,
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert payment: %w", err)
	}

	return nil
}

const selectPayment = `
	SELECT id, order_id, customer_id, COALESCE(merchant_ref, ''), state, amount_cents, currency,
	       COALESCE(remote_id, ''), remote_state, expires_at, created_at, updated_at
	FROM payments
`

func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	return r.getPayment(ctx, selectPayment+`WHERE id = $1`, id)
}

func (r *Repository) GetByRemoteID(ctx context.Context, remoteID string) (*domain.Payment, error) {
	return r.getPayment(ctx, selectPayment+`WHERE remote_id = $1`, remoteID)
}

func (r *Repository) getPayment(ctx context.Context, query string, arg string) (*domain.Payment, error) {
	var p domain.Payment
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&p.ID,
		&p.OrderID,
		&p.CustomerID,
		&p.MerchantRef,
		&p.State,
		&p.AmountCents,
		&p.Currency,
		&p.RemoteID,
		&p.RemoteState,
		&p.ExpiresAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select payment: %w", err)
	}

	return &p, nil
}
