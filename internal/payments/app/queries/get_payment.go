package queries

import (
	"context"
	"errors"
	"strings"

	"github.com/dejobratic/paygate/internal/payments/domain"
	"github.com/dejobratic/paygate/internal/payments/ports"
)

// GetPaymentQuery represents a request to retrieve a payment by its ID.
type GetPaymentQuery struct {
	PaymentID string
}

// GetPaymentQueryHandler executes GetPaymentQuery and returns the payment if found.
type GetPaymentQueryHandler struct {
	repo ports.PaymentRepository
}

// NewGetPaymentQueryHandler constructs a GetPaymentQueryHandler.
func NewGetPaymentQueryHandler(repo ports.PaymentRepository) *GetPaymentQueryHandler {
	return &GetPaymentQueryHandler{repo: repo}
}

// Handle executes the query and retrieves the payment.
func (h *GetPaymentQueryHandler) Handle(ctx context.Context, query GetPaymentQuery) (*domain.Payment, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	payment, err := h.repo.GetByID(ctx, query.PaymentID)
	if err != nil {
		return nil, err
	}

	return payment, nil
}

// Validate ensures the query has valid parameters.
func (q GetPaymentQuery) Validate() error {
	if strings.TrimSpace(q.PaymentID) == "" {
		return errors.Join(domain.ErrValidation, errors.New("payment_id is required"))
	}
	return nil
}
