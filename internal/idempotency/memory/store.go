package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dejobratic/paygate/internal/payments/ports"
)

// DefaultProcessingTTL bounds how long a crashed request can hold a key.
const DefaultProcessingTTL = 5 * time.Minute

type entry struct {
	response   ports.StoredResponse
	processing bool
	savedAt    time.Time
}

// Store retains charge responses for replaying duplicate requests.
type Store struct {
	mu            sync.Mutex
	items         map[string]entry
	retention     time.Duration
	processingTTL time.Duration
	now           func() time.Time
}

// NewStore creates a new in-memory idempotency store. Stored responses never
// expire; reservations lapse after DefaultProcessingTTL.
func NewStore() *Store {
	return &Store{items: make(map[string]entry), processingTTL: DefaultProcessingTTL, now: time.Now}
}

// NewStoreWithRetention creates a store whose responses lapse after retention.
func NewStoreWithRetention(retention time.Duration) *Store {
	s := NewStore()
	s.retention = retention
	return s
}

// Get returns the stored response for a given key if present.
func (s *Store) Get(_ context.Context, key string) (*ports.StoredResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.items[key]
	if !ok || value.processing || s.expired(value) {
		return nil, nil
	}
	copy := value.response
	return &copy, nil
}

func (s *Store) Reserve(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.items[key]; ok && !s.expired(existing) {
		return false, nil
	}
	s.items[key] = entry{processing: true, savedAt: s.now()}
	return true, nil
}

// Save keeps the first live response stored for a key.
func (s *Store) Save(_ context.Context, key string, response ports.StoredResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.items[key]; ok && !existing.processing && !s.expired(existing) {
		return nil
	}
	s.items[key] = entry{response: response, savedAt: s.now()}
	return nil
}

func (s *Store) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.items[key]; ok && existing.processing {
		delete(s.items, key)
	}
	return nil
}

// DeleteExpired drops lapsed responses and abandoned reservations.
func (s *Store) DeleteExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, value := range s.items {
		if s.expired(value) {
			delete(s.items, key)
			n++
		}
	}
	return n, nil
}

func (s *Store) expired(e entry) bool {
	ttl := s.retention
	if e.processing {
		ttl = s.processingTTL
	}
	return ttl > 0 && s.now().Sub(e.savedAt) >= ttl
}
