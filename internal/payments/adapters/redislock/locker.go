// Package redislock serializes work on one key (a customer's vault records,
// an order's charge) across service instances.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultKeyPrefix = "paygate:vault-lock:"

	DefaultTTL          = 30 * time.Second
	DefaultPollInterval = 50 * time.Millisecond
)

// releaseScript deletes the key only while it still carries our token, so an
// expired lock taken over by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry out while the key still carries our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker holds one SET NX PX key per locked id. While a lock is held its
// expiry is renewed every third of the TTL, so the TTL only bounds how long a
// crashed holder blocks others.
type Locker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	poll   time.Duration
	logger *slog.Logger
}

type Option func(*Locker)

// WithKeyPrefix separates lock families sharing one redis.
func WithKeyPrefix(prefix string) Option {
	return func(l *Locker) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithTTL bounds how long a crashed holder can block the key.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(l *Locker) {
		if d > 0 {
			l.poll = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Locker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func New(client redis.UniversalClient, opts ...Option) *Locker {
	l := &Locker{client: client, prefix: DefaultKeyPrefix, ttl: DefaultTTL, poll: DefaultPollInterval, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock polls until the key for id is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, id string) (func(), error) {
	key := l.prefix + id
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return l.hold(key, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// hold starts the renewal loop and returns the release func.
func (l *Locker) hold(key, token string) func() {
	renewCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.keepAlive(renewCtx, key, token)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			<-done
			// The caller's context may already be cancelled; release regardless.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				l.logger.Warn("failed to release lock, waiting for ttl",
					"key", key,
					"ttl", l.ttl,
					"error", err,
				)
			}
		})
	}
}

func (l *Locker) keepAlive(ctx context.Context, key, token string) {
	ticker := time.NewTicker(max(l.ttl/3, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		extended, err := extendScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int64()
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			// Retried on the next tick; the key survives until its TTL.
			l.logger.Warn("failed to renew lock", "key", key, "error", err)
		case extended == 0:
			l.logger.Error("lock lost before release", "key", key)
			return
		}
	}
}

// Ping reports whether the lock backend is reachable.
func (l *Locker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
