package app

import (
	"context"
	"log/slog"

	"github.com/dejobratic/paygate/internal/payments/app/commands"
	"github.com/dejobratic/paygate/internal/payments/app/queries"
	"github.com/dejobratic/paygate/internal/payments/domain"
	"github.com/dejobratic/paygate/internal/payments/metrics"
	"github.com/dejobratic/paygate/internal/payments/ports"
	"github.com/dejobratic/paygate/internal/payments/statemachine"
)

// CapabilityReporter is implemented by gateways that advertise their flows.
type CapabilityReporter interface {
	Capabilities() domain.Capabilities
}

// Dependencies are the collaborators of Service.
type Dependencies struct {
	Gateway   ports.Gateway
	Vault     ports.CardVault
	Orders    ports.OrderRepository
	Registry  ports.OrderRegistry
	Payments  ports.PaymentRepository
	Events    ports.EventBus
	OrderLock ports.OrderLocker
	IdemStore ports.IdempotencyStore
	Machine   *statemachine.Machine
}

// Settings are the merchant-level options of Service.
type Settings struct {
	MerchantPrefix string
	ReturnSecret   string
	Redirect       RedirectConfig
}

// Service bundles use cases for taking payments via the API.
type Service struct {
	gateway        ports.Gateway
	orders         ports.OrderRepository
	idemStore      ports.IdempotencyStore
	merchantPrefix string
	redirect       RedirectConfig

	chargeHandler        commands.ChargeHandler
	paymentMethodHandler commands.PaymentMethodHandler
	returnHandler        commands.ReturnHandler
	registerOrderHandler *commands.RegisterOrderCommandHandler
	getPaymentHandler    *queries.GetPaymentQueryHandler
	getOrderHandler      *queries.GetOrderQueryHandler
}

// NewService wires required dependencies.
func NewService(deps Dependencies, settings Settings, logger *slog.Logger, metrics *metrics.Metrics) *Service {
	machine := deps.Machine
	if machine == nil {
		machine = statemachine.New()
	}

	charge := commands.NewChargeCommandHandler(
		deps.Gateway, deps.Vault, deps.Orders, deps.Payments, deps.Events, deps.OrderLock, machine, logger, settings.MerchantPrefix,
	)
	paymentMethod := commands.NewCreatePaymentMethodCommandHandler(deps.Vault)
	onReturn := commands.NewHandleReturnCommandHandler(
		deps.Orders, deps.Payments, deps.Events, machine, logger, settings.ReturnSecret,
	)

	registry := deps.Registry
	if registry == nil {
		registry, _ = deps.Orders.(ports.OrderRegistry)
	}

	redirect := settings.Redirect
	if redirect.Method == "" {
		redirect.Method = RedirectPost
	}

	return &Service{
		gateway:              deps.Gateway,
		orders:               deps.Orders,
		idemStore:            deps.IdemStore,
		merchantPrefix:       settings.MerchantPrefix,
		redirect:             redirect,
		chargeHandler:        commands.NewObservableChargeHandler(charge, logger, metrics),
		paymentMethodHandler: commands.NewObservablePaymentMethodHandler(paymentMethod, logger, metrics),
		returnHandler:        commands.NewObservableReturnHandler(onReturn, logger, metrics),
		registerOrderHandler: commands.NewRegisterOrderCommandHandler(registry),
		getPaymentHandler:    queries.NewGetPaymentQueryHandler(deps.Payments),
		getOrderHandler:      queries.NewGetOrderQueryHandler(deps.Orders),
	}
}

// ChargeInput captures the payload for charging an order.
type ChargeInput struct {
	OrderID  string                `json:"-"`
	Customer domain.Customer       `json:"customer"`
	Billing  domain.BillingAddress `json:"billing"`
	Card     *domain.CardDetails   `json:"card,omitempty"`
	UseVault bool                  `json:"use_vault"`
	Capture  bool                  `json:"capture"`
}

// Charge authorizes the outstanding balance of an order. Declines and holds
// come back as ErrDeclined and ErrUnderReview alongside the saved payment.
func (s *Service) Charge(ctx context.Context, input ChargeInput) (commands.ChargeResult, error) {
	return s.chargeHandler.Handle(ctx, commands.ChargeCommand{
		OrderID:  input.OrderID,
		Customer: input.Customer,
		Billing:  input.Billing,
		Card:     input.Card,
		UseVault: input.UseVault,
		Capture:  input.Capture,
	})
}

// PaymentMethodInput captures the payload for storing a card.
type PaymentMethodInput struct {
	Customer domain.Customer       `json:"customer"`
	Billing  domain.BillingAddress `json:"billing"`
	Card     domain.CardDetails    `json:"card"`
}

// CreatePaymentMethod vaults a card for later charges.
func (s *Service) CreatePaymentMethod(ctx context.Context, input PaymentMethodInput) (*domain.PaymentMethod, error) {
	return s.paymentMethodHandler.Handle(ctx, commands.CreatePaymentMethodCommand{
		Customer: input.Customer,
		Billing:  input.Billing,
		Card:     input.Card,
	})
}

// HandleReturn records the payment reported by a signed hosted-page return.
func (s *Service) HandleReturn(ctx context.Context, cmd commands.HandleReturnCommand) (*domain.Payment, error) {
	return s.returnHandler.Handle(ctx, cmd)
}

// OrderInput captures the host order pushed to the service.
type OrderInput struct {
	OrderID    string `json:"-"`
	CustomerID string `json:"customer_id"`
	TotalCents int64  `json:"total_cents"`
	Currency   string `json:"currency"`
}

// RegisterOrder creates or refreshes a host order.
func (s *Service) RegisterOrder(ctx context.Context, input OrderInput) (*domain.Order, error) {
	return s.registerOrderHandler.Handle(ctx, commands.RegisterOrderCommand{
		OrderID:    input.OrderID,
		CustomerID: input.CustomerID,
		TotalCents: input.TotalCents,
		Currency:   input.Currency,
	})
}

// GetOrder retrieves an order and its outstanding balance.
func (s *Service) GetOrder(ctx context.Context, id string) (*queries.OrderSummary, error) {
	return s.getOrderHandler.Handle(ctx, queries.GetOrderQuery{OrderID: id})
}

// GetPayment retrieves a payment by ID.
func (s *Service) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return s.getPaymentHandler.Handle(ctx, queries.GetPaymentQuery{PaymentID: id})
}

// Capabilities reports the flows the configured gateway supports.
func (s *Service) Capabilities() domain.Capabilities {
	if reporter, ok := s.gateway.(CapabilityReporter); ok {
		return reporter.Capabilities()
	}
	return domain.Capabilities{AuthorizesOnsite: true}
}

// Ready reports whether the gateway answers its liveness probe.
func (s *Service) Ready(ctx context.Context) bool {
	return s.gateway.IsReachable(ctx)
}

// ReserveIdempotencyKey claims key for the current request.
func (s *Service) ReserveIdempotencyKey(ctx context.Context, key string) (bool, error) {
	return s.idemStore.Reserve(ctx, key)
}

// ReleaseIdempotencyKey frees a reserved key without storing a response.
func (s *Service) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return s.idemStore.Release(ctx, key)
}

// SaveIdempotentResponse writes response details for a key.
func (s *Service) SaveIdempotentResponse(ctx context.Context, key string, response ports.StoredResponse) error {
	return s.idemStore.Save(ctx, key, response)
}

// GetIdempotentResponse retrieves previously stored response data.
func (s *Service) GetIdempotentResponse(ctx context.Context, key string) (*ports.StoredResponse, error) {
	return s.idemStore.Get(ctx, key)
}
