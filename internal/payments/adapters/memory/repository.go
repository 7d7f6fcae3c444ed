package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dejobratic/paygate/internal/payments/domain"
)

// Repository provides an in-memory order and payment store useful for local development and tests.
type Repository struct {
	mu       sync.RWMutex
	orders   map[string]domain.Order
	attempts map[string]int
	payments map[string]domain.Payment
}

// NewRepository constructs a new in-memory repository.
func NewRepository() *Repository {
	return &Repository{
		orders:   make(map[string]domain.Order),
		attempts: make(map[string]int),
		payments: make(map[string]domain.Payment),
	}
}

// UpsertOrder registers or refreshes a host order.
func (r *Repository) UpsertOrder(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = order
	return nil
}

// GetOrder fetches a single order by identifier.
func (r *Repository) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copy := order
	return &copy, nil
}

// Balance subtracts authorized and completed payments from the order total.
func (r *Repository) Balance(_ context.Context, orderID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[orderID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	balance := order.TotalCents
	for _, p := range r.payments {
		if p.OrderID == orderID && p.CountsTowardBalance() {
			balance -= p.AmountCents
		}
	}
	return balance, nil
}

// NextAttempt increments the per-order attempt counter.
func (r *Repository) NextAttempt(_ context.Context, orderID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[orderID]; !ok {
		return 0, domain.ErrNotFound
	}
	r.attempts[orderID]++
	return r.attempts[orderID], nil
}

// Save inserts or replaces a payment.
func (r *Repository) Save(_ context.Context, payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	payment.UpdatedAt = time.Now().UTC()
	r.payments[payment.ID] = payment
	return nil
}

// GetByID fetches a payment by identifier.
func (r *Repository) GetByID(_ context.Context, id string) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	payment, ok := r.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copy := payment
	return &copy, nil
}

// GetByRemoteID fetches a payment by the provider's transaction id.
func (r *Repository) GetByRemoteID(_ context.Context, remoteID string) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.payments {
		if remoteID != "" && p.RemoteID == remoteID {
			copy := p
			return &copy, nil
		}
	}
	return nil, domain.ErrNotFound
}

// Payments returns every stored payment ordered by creation time.
func (r *Repository) Payments() []domain.Payment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]domain.Payment, 0, len(r.payments))
	for _, p := range r.payments {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}
