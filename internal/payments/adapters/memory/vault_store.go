package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dejobratic/paygate/internal/payments/domain"
)

// VaultStore keeps vault records in memory, keyed by customer id.
type VaultStore struct {
	mu      sync.RWMutex
	records map[string]domain.VaultRecord
}

// NewVaultStore creates an empty store.
func NewVaultStore() *VaultStore {
	return &VaultStore{records: make(map[string]domain.VaultRecord)}
}

// Get returns the record for a customer or domain.ErrNotFound.
func (s *VaultStore) Get(_ context.Context, customerID string) (*domain.VaultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[customerID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copy := rec
	return &copy, nil
}

func (s *VaultStore) SaveProfile(_ context.Context, customerID, profileID string) error {
	s.update(customerID, func(rec *domain.VaultRecord) {
		rec.ProfileID = profileID
	})
	return nil
}

func (s *VaultStore) SaveAddress(_ context.Context, customerID, addressID string, address domain.BillingAddress) error {
	s.update(customerID, func(rec *domain.VaultRecord) {
		rec.AddressID = addressID
		rec.Address = address
	})
	return nil
}

func (s *VaultStore) SaveCard(_ context.Context, customerID string, card domain.RemoteCard, fingerprint string) error {
	s.update(customerID, func(rec *domain.VaultRecord) {
		rec.CardID = card.ID
		rec.PaymentToken = card.PaymentToken
		rec.CardFingerprint = fingerprint
	})
	return nil
}

func (s *VaultStore) update(customerID string, fn func(*domain.VaultRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[customerID]
	rec.CustomerID = customerID
	fn(&rec)
	rec.UpdatedAt = time.Now().UTC()
	s.records[customerID] = rec
}
