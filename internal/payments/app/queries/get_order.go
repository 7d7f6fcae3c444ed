package queries

import (
	"context"
	"errors"
	"strings"

	"github.com/dejobratic/paygate/internal/payments/domain"
	"github.com/dejobratic/paygate/internal/payments/ports"
)

// GetOrderQuery asks for an order together with what is left to pay on it.
type GetOrderQuery struct {
	OrderID string
}

// OrderSummary is an order and its outstanding balance.
type OrderSummary struct {
	Order        domain.Order `json:"order"`
	BalanceCents int64        `json:"balance_cents"`
}

type GetOrderQueryHandler struct {
	repo ports.OrderRepository
}

func NewGetOrderQueryHandler(repo ports.OrderRepository) *GetOrderQueryHandler {
	return &GetOrderQueryHandler{repo: repo}
}

func (h *GetOrderQueryHandler) Handle(ctx context.Context, query GetOrderQuery) (*OrderSummary, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	order, err := h.repo.GetOrder(ctx, query.OrderID)
	if err != nil {
		return nil, err
	}

	balance, err := h.repo.Balance(ctx, query.OrderID)
	if err != nil {
		return nil, err
	}

	return &OrderSummary{Order: *order, BalanceCents: balance}, nil
}

func (q GetOrderQuery) Validate() error {
	if strings.TrimSpace(q.OrderID) == "" {
		return errors.Join(domain.ErrValidation, errors.New("order_id is required"))
	}
	return nil
}
