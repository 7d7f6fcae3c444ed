//go:build integration

package redislock_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dejobratic/paygate/internal/payments/adapters/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	return client
}

func TestLockerSerializesSameCustomer(t *testing.T) {
	client := setupRedis(t)
	locker := redislock.New(client, redislock.WithPollInterval(5*time.Millisecond))
	ctx := context.Background()

	var (
		inside  atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "cust-1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(10 * time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load(), "two holders entered the same customer's lock")
}

func TestLockerIndependentCustomers(t *testing.T) {
	client := setupRedis(t)
	locker := redislock.New(client)
	ctx := context.Background()

	unlockA, err := locker.Lock(ctx, "cust-a")
	require.NoError(t, err)
	defer unlockA()

	timeout, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := locker.Lock(timeout, "cust-b")
	require.NoError(t, err)
	unlockB()
}

func TestLockerHonoursContext(t *testing.T) {
	client := setupRedis(t)
	locker := redislock.New(client, redislock.WithPollInterval(5*time.Millisecond))
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "cust-1")
	require.NoError(t, err)
	defer unlock()

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, "cust-1")
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "expected deadline exceeded, got %v", err)
}

func TestLockerRenewsWhileHeld(t *testing.T) {
	client := setupRedis(t)
	locker := redislock.New(client, redislock.WithTTL(150*time.Millisecond), redislock.WithPollInterval(5*time.Millisecond))
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "cust-1")
	require.NoError(t, err)

	// A slow vault call outlives several TTLs; nobody else may get in.
	waitCtx, cancel := context.WithTimeout(ctx, 600*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, "cust-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()

	exists, err := client.Exists(ctx, redislock.DefaultKeyPrefix+"cust-1").Result()
	require.NoError(t, err)
	assert.Zero(t, exists, "released lock still present")
}

func TestLockerReleaseKeepsForeignToken(t *testing.T) {
	client := setupRedis(t)
	locker := redislock.New(client, redislock.WithTTL(100*time.Millisecond), redislock.WithPollInterval(5*time.Millisecond))
	ctx := context.Background()
	key := redislock.DefaultKeyPrefix + "cust-1"

	unlockStale, err := locker.Lock(ctx, "cust-1")
	require.NoError(t, err)

	// Another instance took the key over, e.g. after a network partition.
	require.NoError(t, client.Set(ctx, key, "foreign-token", time.Minute).Err())
	time.Sleep(100 * time.Millisecond)

	unlockStale()

	got, err := client.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, "foreign-token", got, "stale holder touched the new holder's lock")
}

func TestLockerKeyPrefixSeparatesFamilies(t *testing.T) {
	client := setupRedis(t)
	customers := redislock.New(client)
	orders := redislock.New(client, redislock.WithKeyPrefix("paygate:order-lock:"))
	ctx := context.Background()

	unlockCustomer, err := customers.Lock(ctx, "42")
	require.NoError(t, err)
	defer unlockCustomer()

	timeout, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockOrder, err := orders.Lock(timeout, "42")
	require.NoError(t, err)
	unlockOrder()
}
