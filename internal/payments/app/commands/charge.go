package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dejobratic/paygate/internal/payments/domain"
	"github.com/dejobratic/paygate/internal/payments/ports"
	"github.com/dejobratic/paygate/internal/payments/statemachine"
)

const maxLoggedPayload = 4 << 10

// ChargeCommand asks for the outstanding balance of an order to be charged.
type ChargeCommand struct {
	OrderID  string
	Customer domain.Customer
	Billing  domain.BillingAddress
	// Card is required for raw card charges and optional for vaulted ones,
	// where it replaces or refreshes the stored card.
	Card     *domain.CardDetails
	UseVault bool
	Capture  bool
}

func (c ChargeCommand) Validate() error {
	if strings.TrimSpace(c.OrderID) == "" {
		return errors.Join(domain.ErrValidation, errors.New("order_id is required"))
	}
	if !c.UseVault && c.Card == nil {
		return errors.Join(domain.ErrValidation, errors.New("card details are required"))
	}
	return nil
}

// ChargeResult is the payment record plus any messages for the customer.
type ChargeResult struct {
	Payment *domain.Payment
	Notices []domain.Notice
}

type ChargeHandler interface {
	Handle(ctx context.Context, cmd ChargeCommand) (ChargeResult, error)
}

type ChargeCommandHandler struct {
	gateway  ports.Gateway
	vault    ports.CardVault
	orders   ports.OrderRepository
	payments ports.PaymentRepository
	events   ports.EventBus
	locks    ports.OrderLocker
	machine  *statemachine.Machine
	logger   *slog.Logger
	prefix   string
	now      func() time.Time
}

func NewChargeCommandHandler(
	gateway ports.Gateway,
	vault ports.CardVault,
	orders ports.OrderRepository,
	payments ports.PaymentRepository,
	events ports.EventBus,
	locks ports.OrderLocker,
	machine *statemachine.Machine,
	logger *slog.Logger,
	merchantPrefix string,
) *ChargeCommandHandler {
	return &ChargeCommandHandler{
		gateway:  gateway,
		vault:    vault,
		orders:   orders,
		payments: payments,
		events:   events,
		locks:    locks,
		machine:  machine,
		logger:   logger,
		prefix:   merchantPrefix,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (h *ChargeCommandHandler) Handle(ctx context.Context, cmd ChargeCommand) (ChargeResult, error) {
	if err := cmd.Validate(); err != nil {
		return ChargeResult{}, err
	}

	if !h.gateway.IsReachable(ctx) {
		h.logger.ErrorContext(ctx, "payment gateway not reachable, charge aborted",
			"order_id", cmd.OrderID,
			"operation", "probe",
		)
		return ChargeResult{Notices: []domain.Notice{statemachine.NoticeUnavailable}}, domain.ErrGatewayUnavailable
	}

	order, err := h.orders.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("load order %s: %w", cmd.OrderID, err)
	}
	customer := cmd.Customer
	if customer.ID == "" {
		customer.ID = order.CustomerID
	}

	source, billing, err := h.resolveSource(ctx, customer, cmd)
	if err != nil {
		return ChargeResult{}, err
	}

	// Held until the payment is saved so a concurrent charge sees the
	// balance this one consumed.
	unlock, err := h.locks.Lock(ctx, order.ID)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("lock order %s: %w", order.ID, err)
	}
	defer unlock()

	balance, err := h.orders.Balance(ctx, order.ID)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("order balance: %w", err)
	}
	if balance <= 0 {
		return ChargeResult{}, errors.Join(domain.ErrValidation, fmt.Errorf("order %s has no outstanding balance", order.ID))
	}

	attempt, err := h.orders.NextAttempt(ctx, order.ID)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("next payment attempt: %w", err)
	}
	merchantRef := domain.MerchantRef(h.prefix, order.ID, attempt)

	req, err := domain.NewChargeRequest(domain.ChargeRequestParams{
		AmountCents: balance,
		Currency:    order.Currency,
		MerchantRef: merchantRef,
		Source:      source,
		Billing:     billing,
	})
	if err != nil {
		return ChargeResult{}, err
	}

	payment, err := domain.NewPayment(domain.PaymentFields{
		OrderID:     order.ID,
		CustomerID:  customer.ID,
		MerchantRef: merchantRef,
		AmountCents: balance,
		Currency:    order.Currency,
	})
	if err != nil {
		return ChargeResult{}, err
	}

	resp, err := h.gateway.Authorize(ctx, req, cmd.Capture)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ChargeResult{}, h.abandon(ctx, payment, ctxErr)
	}
	if err != nil {
		if errors.Is(err, domain.ErrConfiguration) || errors.Is(err, domain.ErrValidation) {
			h.logger.ErrorContext(ctx, "authorization rejected before reaching a decision",
				"merchant_ref", merchantRef,
				"customer_id", customer.ID,
				"operation", "authorize",
				"error", err,
			)
			return ChargeResult{}, err
		}
		resp = domain.Unreachable(err)
	}

	transition, err := h.machine.Next(payment.State, resp, cmd.Capture)
	if err != nil {
		return ChargeResult{}, err
	}

	result := ChargeResult{Payment: payment}
	if err := h.apply(ctx, payment, transition, &result); err != nil {
		return result, err
	}

	signal := transition.Err()
	h.logOutcome(ctx, payment, signal)
	return result, signal
}

func (h *ChargeCommandHandler) resolveSource(ctx context.Context, customer domain.Customer, cmd ChargeCommand) (domain.ChargeSource, domain.BillingAddress, error) {
	if !cmd.UseVault {
		if err := cmd.Billing.Validate(); err != nil {
			return domain.ChargeSource{}, domain.BillingAddress{}, err
		}
		if err := cmd.Card.Validate(h.now()); err != nil {
			return domain.ChargeSource{}, domain.BillingAddress{}, err
		}
		return domain.ChargeSource{Card: cmd.Card}, cmd.Billing, nil
	}

	var (
		rec domain.VaultRecord
		err error
	)
	if cmd.Card != nil {
		rec, err = h.vault.ResolveCard(ctx, customer, cmd.Billing, *cmd.Card)
	} else {
		rec, err = h.vault.Lookup(ctx, customer.ID)
	}
	if err != nil {
		return domain.ChargeSource{}, domain.BillingAddress{}, err
	}
	return domain.ChargeSource{PaymentToken: rec.PaymentToken}, rec.Address, nil
}

// abandon keeps the pending payment for out-of-band reconciliation when the
// caller went away after the gateway call. The gateway response is dropped.
func (h *ChargeCommandHandler) abandon(ctx context.Context, payment *domain.Payment, cause error) error {
	detached := context.WithoutCancel(ctx)
	h.logger.WarnContext(detached, "charge cancelled after authorization was sent, response discarded",
		"merchant_ref", payment.MerchantRef,
		"customer_id", payment.CustomerID,
		"payment_id", payment.ID,
	)
	if err := h.payments.Save(detached, *payment); err != nil {
		h.logger.ErrorContext(detached, "failed to record pending payment for reconciliation",
			"merchant_ref", payment.MerchantRef,
			"operation", "save_payment",
			"error", err,
		)
		return errors.Join(cause, err)
	}
	return cause
}

// apply runs the transition's commands against the payment. Only a failed
// save is returned; the signalled error is read from the transition.
func (h *ChargeCommandHandler) apply(ctx context.Context, payment *domain.Payment, transition statemachine.Transition, result *ChargeResult) error {
	payment.State = transition.State

	persisted := false
	for _, c := range transition.Commands {
		switch c := c.(type) {
		case statemachine.SetRemote:
			payment.RemoteID = c.ID
			payment.RemoteState = c.State
		case statemachine.SetExpiry:
			at := c.At
			payment.ExpiresAt = &at
		case statemachine.Persist:
			payment.UpdatedAt = h.now()
			if err := h.payments.Save(ctx, *payment); err != nil {
				h.logger.ErrorContext(ctx, "failed to save payment",
					"merchant_ref", payment.MerchantRef,
					"customer_id", payment.CustomerID,
					"operation", "save_payment",
					"error", err,
				)
				return fmt.Errorf("save payment %s: %w", payment.ID, err)
			}
			persisted = true
		case statemachine.Notify:
			result.Notices = append(result.Notices, c.Notice)
		}
	}

	if persisted {
		if err := h.events.PublishPaymentEvent(ctx, *payment); err != nil {
			h.logger.WarnContext(ctx, "payment saved but failed to publish event",
				"payment_id", payment.ID,
				"merchant_ref", payment.MerchantRef,
				"error", err,
			)
		}
	}
	return nil
}

func (h *ChargeCommandHandler) logOutcome(ctx context.Context, payment *domain.Payment, signal error) {
	attrs := []any{
		"merchant_ref", payment.MerchantRef,
		"customer_id", payment.CustomerID,
		"state", payment.State,
		"remote_id", payment.RemoteID,
	}
	switch {
	case signal == nil:
		h.logger.InfoContext(ctx, "payment authorized", attrs...)
	case domain.IsBusinessOutcome(signal):
		h.logger.InfoContext(ctx, "payment not approved", append(attrs, "reason", signal)...)
	default:
		attrs = append(attrs, "operation", "authorize", "error", signal)
		if payload, ok := protocolPayload(signal); ok {
			attrs = append(attrs, "payload", payload)
		}
		h.logger.ErrorContext(ctx, "payment failed", attrs...)
	}
}

// protocolPayload returns the start of an undecodable gateway body.
func protocolPayload(err error) (string, bool) {
	var protoErr *domain.ProtocolError
	if !errors.As(err, &protoErr) {
		return "", false
	}
	payload := protoErr.Payload
	if len(payload) > maxLoggedPayload {
		payload = payload[:maxLoggedPayload]
	}
	return string(payload), true
}
