package commands

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dejobratic/paygate/internal/payments/domain"
	"github.com/dejobratic/paygate/internal/payments/ports"
	"github.com/dejobratic/paygate/internal/payments/statemachine"
)

// HandleReturnCommand carries the query parameters of a hosted-page return.
type HandleReturnCommand struct {
	OrderID       string
	TxnID         string
	PaymentStatus string
	Signature     string
}

func (c HandleReturnCommand) Validate() error {
	switch {
	case strings.TrimSpace(c.OrderID) == "":
		return errors.Join(domain.ErrValidation, errors.New("order_id is required"))
	case strings.TrimSpace(c.TxnID) == "":
		return errors.Join(domain.ErrValidation, errors.New("txn_id is required"))
	case strings.TrimSpace(c.PaymentStatus) == "":
		return errors.Join(domain.ErrValidation, errors.New("payment_status is required"))
	}
	return nil
}

type ReturnHandler interface {
	Handle(ctx context.Context, cmd HandleReturnCommand) (*domain.Payment, error)
}

// HandleReturnCommandHandler records the payment the customer made on the
// hosted page. Returns are signed; a replayed return yields the payment
// already recorded for the transaction.
type HandleReturnCommandHandler struct {
	orders   ports.OrderRepository
	payments ports.PaymentRepository
	events   ports.EventBus
	machine  *statemachine.Machine
	logger   *slog.Logger
	secret   []byte
}

func NewHandleReturnCommandHandler(
	orders ports.OrderRepository,
	payments ports.PaymentRepository,
	events ports.EventBus,
	machine *statemachine.Machine,
	logger *slog.Logger,
	returnSecret string,
) *HandleReturnCommandHandler {
	return &HandleReturnCommandHandler{
		orders:   orders,
		payments: payments,
		events:   events,
		machine:  machine,
		logger:   logger,
		secret:   []byte(returnSecret),
	}
}

func (h *HandleReturnCommandHandler) Handle(ctx context.Context, cmd HandleReturnCommand) (*domain.Payment, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if len(h.secret) == 0 {
		return nil, fmt.Errorf("%w: return secret is not set", domain.ErrConfiguration)
	}
	if !VerifyReturnSignature(h.secret, cmd) {
		h.logger.WarnContext(ctx, "rejected return with invalid signature",
			"order_id", cmd.OrderID,
			"remote_id", cmd.TxnID,
		)
		return nil, domain.ErrInvalidSignature
	}

	existing, err := h.payments.GetByRemoteID(ctx, cmd.TxnID)
	switch {
	case err == nil:
		if existing.OrderID != cmd.OrderID {
			return nil, errors.Join(domain.ErrValidation, fmt.Errorf("transaction %s belongs to another order", cmd.TxnID))
		}
		return existing, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("lookup payment by remote id: %w", err)
	}

	order, err := h.orders.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", cmd.OrderID, err)
	}
	balance, err := h.orders.Balance(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("order balance: %w", err)
	}
	if balance <= 0 {
		return nil, errors.Join(domain.ErrValidation, fmt.Errorf("order %s has no outstanding balance", order.ID))
	}

	payment, err := domain.NewPayment(domain.PaymentFields{
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		AmountCents: balance,
		Currency:    order.Currency,
	})
	if err != nil {
		return nil, err
	}

	status, ok := domain.ParseGatewayStatus(cmd.PaymentStatus)
	if !ok {
		h.logger.WarnContext(ctx, "return carried unmapped payment status",
			"order_id", order.ID,
			"remote_id", cmd.TxnID,
			"status", cmd.PaymentStatus,
		)
	}
	transition, err := h.machine.Next(payment.State, domain.GatewayResponse{
		Status:        status,
		TransactionID: cmd.TxnID,
		RemoteState:   cmd.PaymentStatus,
	}, true)
	if err != nil {
		return nil, err
	}

	payment.State = transition.State
	for _, c := range transition.Commands {
		switch c := c.(type) {
		case statemachine.SetRemote:
			payment.RemoteID = c.ID
			payment.RemoteState = c.State
		case statemachine.SetExpiry:
			at := c.At
			payment.ExpiresAt = &at
		}
	}

	if err := h.payments.Save(ctx, *payment); err != nil {
		return nil, fmt.Errorf("save payment %s: %w", payment.ID, err)
	}
	if err := h.events.PublishPaymentEvent(ctx, *payment); err != nil {
		h.logger.WarnContext(ctx, "payment saved but failed to publish event",
			"payment_id", payment.ID,
			"error", err,
		)
	}

	h.logger.InfoContext(ctx, "recorded payment from hosted page return",
		"order_id", order.ID,
		"payment_id", payment.ID,
		"remote_id", payment.RemoteID,
		"state", payment.State,
	)
	return payment, nil
}

// SignReturn computes the hex HMAC-SHA256 a hosted-page return must carry.
func SignReturn(secret []byte, orderID, txnID, paymentStatus string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(orderID + "|" + txnID + "|" + paymentStatus))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyReturnSignature compares in constant time.
func VerifyReturnSignature(secret []byte, cmd HandleReturnCommand) bool {
	got, err := hex.DecodeString(cmd.Signature)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(SignReturn(secret, cmd.OrderID, cmd.TxnID, cmd.PaymentStatus))
	return hmac.Equal(got, want)
}
