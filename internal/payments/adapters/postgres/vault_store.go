package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dejobratic/paygate/internal/payments/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// VaultStore keeps one row of remote vault identifiers per customer.
type VaultStore struct {
	pool *pgxpool.Pool
}

func NewVaultStore(pool *pgxpool.Pool) *VaultStore {
	return &VaultStore{pool: pool}
}

func (s *VaultStore) Get(ctx context.Context, customerID string) (*domain.VaultRecord, error) {
	query := `
		SELECT customer_id, profile_id, address_id, card_id, payment_token, card_fingerprint, address, updated_at
		FROM vault_records
		WHERE customer_id = $1
	`

	var (
		rec     domain.VaultRecord
		address []byte
	)
	err := s.pool.QueryRow(ctx, query, customerID).Scan(
		&rec.CustomerID,
		&rec.ProfileID,
		&rec.AddressID,
		&rec.CardID,
		&rec.PaymentToken,
		&rec.CardFingerprint,
		&address,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select vault record: %w", err)
	}

	if err := json.Unmarshal(address, &rec.Address); err != nil {
		return nil, fmt.Errorf("decode vault address: %w", err)
	}

	return &rec, nil
}

func (s *VaultStore) SaveProfile(ctx context.Context, customerID, profileID string) error {
	query := `
		INSERT INTO vault_records (customer_id, profile_id)
		VALUES ($1, $2)
		ON CONFLICT (customer_id) DO UPDATE
		SET profile_id = EXCLUDED.profile_id, updated_at = NOW()
	`

	if _, err := s.pool.Exec(ctx, query, customerID, profileID); err != nil {
		return fmt.Errorf("upsert vault profile: %w", err)
	}
	return nil
}

func (s *VaultStore) SaveAddress(ctx context.Context, customerID, addressID string, address domain.BillingAddress) error {
	payload, err := json.Marshal(address)
	if err != nil {
		return fmt.Errorf("encode vault address: %w", err)
	}

	query := `
		INSERT INTO vault_records (customer_id, address_id, address)
		VALUES ($1, $2, $3)
		ON CONFLICT (customer_id) DO UPDATE
		SET address_id = EXCLUDED.address_id, address = EXCLUDED.address, updated_at = NOW()
	`

	if _, err := s.pool.Exec(ctx, query, customerID, addressID, payload); err != nil {
		return fmt.Errorf("upsert vault address: %w", err)
	}
	return nil
}

func (s *VaultStore) SaveCard(ctx context.Context, customerID string, card domain.RemoteCard, fingerprint string) error {
	query := `
		INSERT INTO vault_records (customer_id, card_id, payment_token, card_fingerprint)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (customer_id) DO UPDATE
		SET card_id = EXCLUDED.card_id,
		    payment_token = EXCLUDED.payment_token,
		    card_fingerprint = EXCLUDED.card_fingerprint,
		    updated_at = NOW()
	`

	if _, err := s.pool.Exec(ctx, query, customerID, card.ID, card.PaymentToken, fingerprint); err != nil {
		return fmt.Errorf("upsert vault card: %w", err)
	}
	return nil
}
