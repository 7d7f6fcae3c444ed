package queries_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dejobratic/paygate/internal/payments/adapters/memory"
	"github.com/dejobratic/paygate/internal/payments/app/queries"
	"github.com/dejobratic/paygate/internal/payments/domain"
)

func TestGetOrder(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	handler := queries.NewGetOrderQueryHandler(repo)

	if err := repo.UpsertOrder(ctx, domain.Order{ID: "O1", CustomerID: "C1", TotalCents: 1000, Currency: "CAD"}); err != nil {
		t.Fatalf("UpsertOrder() failed: %v", err)
	}

	paid, err := domain.NewPayment(domain.PaymentFields{OrderID: "O1", AmountCents: 400, Currency: "CAD", State: domain.StateCompleted})
	if err != nil {
		t.Fatalf("NewPayment() failed: %v", err)
	}
	declined, err := domain.NewPayment(domain.PaymentFields{OrderID: "O1", AmountCents: 600, Currency: "CAD", State: domain.StateDeclined})
	if err != nil {
		t.Fatalf("NewPayment() failed: %v", err)
	}
	for _, p := range []*domain.Payment{paid, declined} {
		if err := repo.Save(ctx, *p); err != nil {
			t.Fatalf("Save() failed: %v", err)
		}
	}

	t.Run("returns order with balance", func(t *testing.T) {
		got, err := handler.Handle(ctx, queries.GetOrderQuery{OrderID: "O1"})
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if got.Order.ID != "O1" {
			t.Errorf("expected order O1, got %s", got.Order.ID)
		}
		if got.BalanceCents != 600 {
			t.Errorf("expected balance 600, got %d", got.BalanceCents)
		}
	})

	t.Run("returns not found for unknown order", func(t *testing.T) {
		_, err := handler.Handle(ctx, queries.GetOrderQuery{OrderID: "missing"})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("rejects blank order id", func(t *testing.T) {
		_, err := handler.Handle(ctx, queries.GetOrderQuery{OrderID: "  "})
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})
}
