package commands

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dejobratic/paygate/internal/payments/domain"
	"github.com/dejobratic/paygate/internal/payments/ports"
)

type CreatePaymentMethodCommand struct {
	Customer domain.Customer
	Billing  domain.BillingAddress
	Card     domain.CardDetails
}

func (c CreatePaymentMethodCommand) Validate(now time.Time) error {
	if strings.TrimSpace(c.Customer.ID) == "" {
		return errors.Join(domain.ErrValidation, errors.New("customer id is required"))
	}
	if err := c.Billing.Validate(); err != nil {
		return err
	}
	return c.Card.Validate(now)
}

type PaymentMethodHandler interface {
	Handle(ctx context.Context, cmd CreatePaymentMethodCommand) (*domain.PaymentMethod, error)
}

// CreatePaymentMethodCommandHandler stores a card in the remote vault so it
// can be charged later by token.
type CreatePaymentMethodCommandHandler struct {
	vault ports.CardVault
	now   func() time.Time
}

func NewCreatePaymentMethodCommandHandler(vault ports.CardVault) *CreatePaymentMethodCommandHandler {
	return &CreatePaymentMethodCommandHandler{
		vault: vault,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (h *CreatePaymentMethodCommandHandler) Handle(ctx context.Context, cmd CreatePaymentMethodCommand) (*domain.PaymentMethod, error) {
	if err := cmd.Validate(h.now()); err != nil {
		return nil, err
	}

	rec, err := h.vault.ResolveCard(ctx, cmd.Customer, cmd.Billing, cmd.Card)
	if err != nil {
		return nil, err
	}

	return &domain.PaymentMethod{
		CustomerID: cmd.Customer.ID,
		RemoteID:   rec.CardID,
		CardType:   cmd.Card.Type,
		Last4:      cmd.Card.Last4(),
		ExpMonth:   cmd.Card.ExpMonth,
		ExpYear:    cmd.Card.ExpYear,
		ExpiresAt:  cmd.Card.ExpiresAt(),
		Vaulted:    true,
	}, nil
}
