package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PaymentState captures the lifecycle of a payment attempt.
type PaymentState string

const (
	StatePending    PaymentState = "pending"
	StateAuthorized PaymentState = "authorized"
	StateCompleted  PaymentState = "completed"
	StateDeclined   PaymentState = "declined"
	StateHeld       PaymentState = "held"
	StateFailed     PaymentState = "failed"
)

// Payment is the local record of a single charge attempt.
type Payment struct {
	ID          string       `json:"id"`
	OrderID     string       `json:"order_id"`
	CustomerID  string       `json:"customer_id,omitempty"`
	MerchantRef string       `json:"merchant_ref,omitempty"`
	State       PaymentState `json:"state"`
	AmountCents int64        `json:"amount_cents"`
	Currency    string       `json:"currency"`
	RemoteID    string       `json:"remote_id,omitempty"`
	RemoteState string       `json:"remote_state,omitempty"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// PaymentFields is the input for creating a payment record.
type PaymentFields struct {
	OrderID     string
	CustomerID  string
	MerchantRef string
	State       PaymentState
	AmountCents int64
	Currency    string
	RemoteID    string
	RemoteState string
}

// NewPayment builds an unsaved payment. State defaults to pending.
func NewPayment(fields PaymentFields) (*Payment, error) {
	if strings.TrimSpace(fields.OrderID) == "" {
		return nil, errors.Join(ErrValidation, errors.New("order_id is required"))
	}
	if fields.AmountCents <= 0 {
		return nil, errors.Join(ErrValidation, errors.New("amount_cents must be positive"))
	}
	state := fields.State
	if state == "" {
		state = StatePending
	}

	now := time.Now().UTC()
	return &Payment{
		ID:          uuid.NewString(),
		OrderID:     fields.OrderID,
		CustomerID:  fields.CustomerID,
		MerchantRef: fields.MerchantRef,
		State:       state,
		AmountCents: fields.AmountCents,
		Currency:    strings.ToUpper(fields.Currency),
		RemoteID:    fields.RemoteID,
		RemoteState: fields.RemoteState,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// IsTerminal indicates whether the payment can no longer transition.
func (p Payment) IsTerminal() bool {
	switch p.State {
	case StateCompleted, StateDeclined, StateHeld, StateFailed:
		return true
	default:
		return false
	}
}

// CountsTowardBalance reports whether the payment reduces the order balance.
func (p Payment) CountsTowardBalance() bool {
	return p.State == StateAuthorized || p.State == StateCompleted
}

// Order is the host-owned order a payment is taken against.
type Order struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	TotalCents int64  `json:"total_cents"`
	Currency   string `json:"currency"`
}
