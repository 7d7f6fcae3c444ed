package ports

import "context"

// StoredResponse contains the response data to replay for a reused key.
type StoredResponse struct {
	StatusCode int
	Body       []byte
	PaymentID  string
}

// IdempotencyStore lets clients retry the charge endpoint without a second charge.
type IdempotencyStore interface {
	// Get returns the stored response for key, or nil while none is stored.
	Get(ctx context.Context, key string) (*StoredResponse, error)
	// Reserve claims key for one in-flight request. It reports false while
	// another request holds the key or a live response is stored under it.
	Reserve(ctx context.Context, key string) (bool, error)
	// Save stores the response and ends the reservation.
	Save(ctx context.Context, key string, response StoredResponse) error
	// Release ends a reservation without storing anything, so the key can be
	// retried.
	Release(ctx context.Context, key string) error
}
