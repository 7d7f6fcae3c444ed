package commands

import (
	"context"
	"errors"
	"strings"

	"github.com/dejobratic/paygate/internal/payments/domain"
	"github.com/dejobratic/paygate/internal/payments/ports"
)

// RegisterOrderCommand pushes a host order so it can be charged.
type RegisterOrderCommand struct {
	OrderID    string
	CustomerID string
	TotalCents int64
	Currency   string
}

func (c RegisterOrderCommand) Validate() error {
	if strings.TrimSpace(c.OrderID) == "" {
		return errors.Join(domain.ErrValidation, errors.New("order_id is required"))
	}
	if strings.TrimSpace(c.CustomerID) == "" {
		return errors.Join(domain.ErrValidation, errors.New("customer_id is required"))
	}
	if c.TotalCents < 0 {
		return errors.Join(domain.ErrValidation, errors.New("total_cents must not be negative"))
	}
	if len(strings.TrimSpace(c.Currency)) != 3 {
		return errors.Join(domain.ErrValidation, errors.New("currency must be a 3-letter code"))
	}
	return nil
}

type RegisterOrderCommandHandler struct {
	registry ports.OrderRegistry
}

func NewRegisterOrderCommandHandler(registry ports.OrderRegistry) *RegisterOrderCommandHandler {
	return &RegisterOrderCommandHandler{registry: registry}
}

func (h *RegisterOrderCommandHandler) Handle(ctx context.Context, cmd RegisterOrderCommand) (*domain.Order, error) {
	if h.registry == nil {
		return nil, errors.Join(domain.ErrConfiguration, errors.New("orders are read-only in this deployment"))
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	order := domain.Order{
		ID:         strings.TrimSpace(cmd.OrderID),
		CustomerID: strings.TrimSpace(cmd.CustomerID),
		TotalCents: cmd.TotalCents,
		Currency:   strings.ToUpper(strings.TrimSpace(cmd.Currency)),
	}
	if err := h.registry.UpsertOrder(ctx, order); err != nil {
		return nil, err
	}

	return &order, nil
}
