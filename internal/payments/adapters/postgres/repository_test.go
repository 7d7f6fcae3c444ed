//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dejobratic/paygate/internal/database/dbtest"
	"github.com/dejobratic/paygate/internal/payments/adapters/postgres"
	"github.com/dejobratic/paygate/internal/payments/domain"
)

func seedOrder(t *testing.T, repo *postgres.Repository, id string, total int64) {
	t.Helper()
	order := domain.Order{ID: id, CustomerID: "cust-" + id, TotalCents: total, Currency: "CAD"}
	if err := repo.UpsertOrder(context.Background(), order); err != nil {
		t.Fatalf("failed to upsert order: %v", err)
	}
}

func newPayment(t *testing.T, orderID, ref string, amount int64) *domain.Payment {
	t.Helper()
	p, err := domain.NewPayment(domain.PaymentFields{
		OrderID:     orderID,
		CustomerID:  "cust-" + orderID,
		MerchantRef: ref,
		AmountCents: amount,
		Currency:    "cad",
	})
	if err != nil {
		t.Fatalf("failed to build payment: %v", err)
	}
	return p
}

func TestRepositoryOrders(t *testing.T) {
	pool := dbtest.NewPool(t)
	repo := postgres.NewRepository(pool)
	ctx := context.Background()

	seedOrder(t, repo, "order-1", 10098)

	order, err := repo.GetOrder(ctx, "order-1")
	if err != nil {
		t.Fatalf("failed to get order: %v", err)
	}
	if order.TotalCents != 10098 || order.Currency != "CAD" || order.CustomerID != "cust-order-1" {
		t.Errorf("unexpected order %+v", order)
	}

	if _, err := repo.GetOrder(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.Balance(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for balance, got %v", err)
	}
	if _, err := repo.NextAttempt(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for attempt, got %v", err)
	}
}

func TestRepositoryBalance(t *testing.T) {
	pool := dbtest.NewPool(t)
	repo := postgres.NewRepository(pool)
	ctx := context.Background()

	seedOrder(t, repo, "order-b", 10000)

	balance, err := repo.Balance(ctx, "order-b")
	if err != nil {
		t.Fatalf("failed to get balance: %v", err)
	}
	if balance != 10000 {
		t.Fatalf("expected untouched balance 10000, got %d", balance)
	}

	states := []domain.PaymentState{domain.StateCompleted, domain.StateAuthorized, domain.StateDeclined, domain.StateFailed, domain.StatePending}
	for i, state := range states {
		p := newPayment(t, "order-b", domain.MerchantRef("pg", "order-b", i+1), 1000)
		p.State = state
		if err := repo.Save(ctx, *p); err != nil {
			t.Fatalf("failed to save payment: %v", err)
		}
	}

	balance, err = repo.Balance(ctx, "order-b")
	if err != nil {
		t.Fatalf("failed to get balance: %v", err)
	}
	if balance != 8000 {
		t.Errorf("expected balance 8000 after authorized and completed payments, got %d", balance)
	}
}

func TestRepositoryNextAttemptIsUnique(t *testing.T) {
	pool := dbtest.NewPool(t)
	repo := postgres.NewRepository(pool)
	ctx := context.Background()

	seedOrder(t, repo, "order-n", 500)

	const workers = 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int]bool)
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			attempt, err := repo.NextAttempt(ctx, "order-n")
			if err != nil {
				t.Errorf("failed to get attempt: %v", err)
				return
			}
			mu.Lock()
			seen[attempt] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != workers {
		t.Errorf("expected %d distinct attempts, got %d", workers, len(seen))
	}

	// Re-registering the order must not reset the counter.
	seedOrder(t, repo, "order-n", 700)
	attempt, err := repo.NextAttempt(ctx, "order-n")
	if err != nil {
		t.Fatalf("failed to get attempt: %v", err)
	}
	if attempt != workers+1 {
		t.Errorf("expected attempt %d, got %d", workers+1, attempt)
	}
}

func TestRepositorySavePayment(t *testing.T) {
	pool := dbtest.NewPool(t)
	repo := postgres.NewRepository(pool)
	ctx := context.Background()

	seedOrder(t, repo, "order-p", 2500)
	payment := newPayment(t, "order-p", "pg-order-p-1", 2500)

	if err := repo.Save(ctx, *payment); err != nil {
		t.Fatalf("failed to save pending payment: %v", err)
	}

	stored, err := repo.GetByID(ctx, payment.ID)
	if err != nil {
		t.Fatalf("failed to get payment: %v", err)
	}
	if stored.State != domain.StatePending || stored.RemoteID != "" || stored.ExpiresAt != nil {
		t.Errorf("unexpected pending payment %+v", stored)
	}
	if stored.Currency != "CAD" {
		t.Errorf("expected currency CAD, got %s", stored.Currency)
	}

	expires := time.Now().UTC().Add(5 * 24 * time.Hour).Truncate(time.Microsecond)
	payment.State = domain.StateAuthorized
	payment.RemoteID = "txn-123"
	payment.RemoteState = "COMPLETED"
	payment.ExpiresAt = &expires
	payment.UpdatedAt = time.Now().UTC()
	if err := repo.Save(ctx, *payment); err != nil {
		t.Fatalf("failed to update payment: %v", err)
	}

	byRemote, err := repo.GetByRemoteID(ctx, "txn-123")
	if err != nil {
		t.Fatalf("failed to get payment by remote id: %v", err)
	}
	if byRemote.ID != payment.ID {
		t.Errorf("expected payment %s, got %s", payment.ID, byRemote.ID)
	}
	if byRemote.State != domain.StateAuthorized {
		t.Errorf("expected authorized, got %s", byRemote.State)
	}
	if byRemote.ExpiresAt == nil || !byRemote.ExpiresAt.Equal(expires) {
		t.Errorf("expected expiry %s, got %v", expires, byRemote.ExpiresAt)
	}

	if _, err := repo.GetByRemoteID(ctx, "unknown"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRepositoryRejectsDuplicateMerchantRef(t *testing.T) {
	pool := dbtest.NewPool(t)
	repo := postgres.NewRepository(pool)
	ctx := context.Background()

	seedOrder(t, repo, "order-d", 2500)

	if err := repo.Save(ctx, *newPayment(t, "order-d", "pg-order-d-1", 100)); err != nil {
		t.Fatalf("failed to save first payment: %v", err)
	}
	if err := repo.Save(ctx, *newPayment(t, "order-d", "pg-order-d-1", 100)); err == nil {
		t.Error("expected duplicate merchant reference to be rejected")
	}
}
