package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dejobratic/paygate/internal/payments/ports"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultRetention is how long a charge response can be replayed.
const DefaultRetention = 24 * time.Hour

// DefaultProcessingTTL bounds how long a crashed request can hold a key.
const DefaultProcessingTTL = 5 * time.Minute

const (
	stateProcessing = "processing"
	stateCompleted  = "completed"
)

type Store struct {
	pool          *pgxpool.Pool
	retention     time.Duration
	processingTTL time.Duration
}

type Option func(*Store)

// WithProcessingTTL sets how long a reservation survives without a response.
// It must outlast the slowest charge.
func WithProcessingTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.processingTTL = ttl
		}
	}
}

func NewStore(pool *pgxpool.Pool, retention time.Duration, opts ...Option) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	s := &Store{pool: pool, retention: retention, processingTTL: DefaultProcessingTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Get(ctx context.Context, key string) (*ports.StoredResponse, error) {
	query := `
		SELECT status_code, body, payment_id
		FROM idempotency_keys
		WHERE key = $1 AND state = $2 AND created_at > $3
	`

	var (
		resp      ports.StoredResponse
		paymentID *string
	)
	err := s.pool.QueryRow(ctx, query, key, stateCompleted, s.responseCutoff()).Scan(
		&resp.StatusCode,
		&resp.Body,
		&paymentID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select idempotency key: %w", err)
	}
	if paymentID != nil {
		resp.PaymentID = *paymentID
	}

	return &resp, nil
}

// Reserve inserts a processing row. An expired response or an abandoned
// reservation under the key is taken over.
func (s *Store) Reserve(ctx context.Context, key string) (bool, error) {
	query := `
		INSERT INTO idempotency_keys (key, state)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE
		SET state = EXCLUDED.state,
		    status_code = NULL,
		    body = NULL,
		    payment_id = NULL,
		    created_at = NOW()
		WHERE (idempotency_keys.state = $3 AND idempotency_keys.created_at <= $4)
		   OR (idempotency_keys.state = $2 AND idempotency_keys.created_at <= $5)
	`

	tag, err := s.pool.Exec(ctx, query, key, stateProcessing, stateCompleted, s.responseCutoff(), s.processingCutoff())
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Save completes a reservation. Without one it keeps the first live response
// stored for a key.
func (s *Store) Save(ctx context.Context, key string, response ports.StoredResponse) error {
	query := `
		INSERT INTO idempotency_keys (key, state, status_code, body, payment_id)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		ON CONFLICT (key) DO UPDATE
		SET state = EXCLUDED.state,
		    status_code = EXCLUDED.status_code,
		    body = EXCLUDED.body,
		    payment_id = EXCLUDED.payment_id,
		    created_at = NOW()
		WHERE idempotency_keys.state = $6 OR idempotency_keys.created_at <= $7
	`

	_, err := s.pool.Exec(ctx, query,
		key, stateCompleted, response.StatusCode, response.Body, response.PaymentID,
		stateProcessing, s.responseCutoff(),
	)
	if err != nil {
		return fmt.Errorf("insert idempotency key: %w", err)
	}

	return nil
}

func (s *Store) Release(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE key = $1 AND state = $2`,
		key, stateProcessing,
	)
	if err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// DeleteExpired removes responses past the retention window and abandoned
// reservations, and reports how many went.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM idempotency_keys
		WHERE (state = $1 AND created_at <= $2)
		   OR (state = $3 AND created_at <= $4)
	`, stateCompleted, s.responseCutoff(), stateProcessing, s.processingCutoff())
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) responseCutoff() time.Time {
	return time.Now().UTC().Add(-s.retention)
}

func (s *Store) processingCutoff() time.Time {
	return time.Now().UTC().Add(-s.processingTTL)
}
