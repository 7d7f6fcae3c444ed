package ports

import (
	"context"

	"github.com/dejobratic/paygate/internal/payments/domain"
)

// OrderRepository reads the host-owned orders a payment is taken against.
type OrderRepository interface {
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	// Balance is the order total minus authorized and completed payments.
	Balance(ctx context.Context, orderID string) (int64, error)
	// NextAttempt returns a counter that is never handed out twice for the same order.
	NextAttempt(ctx context.Context, orderID string) (int, error)
}

// OrderRegistry lets the host push the orders it owns.
type OrderRegistry interface {
	UpsertOrder(ctx context.Context, order domain.Order) error
}

// PaymentRepository persists payment records.
type PaymentRepository interface {
	Save(ctx context.Context, payment domain.Payment) error
	GetByID(ctx context.Context, id string) (*domain.Payment, error)
	GetByRemoteID(ctx context.Context, remoteID string) (*domain.Payment, error)
}

// VaultStore persists the remote identifiers of each customer. Every setter
// is written as soon as the matching remote object exists.
type VaultStore interface {
	Get(ctx context.Context, customerID string) (*domain.VaultRecord, error)
	SaveProfile(ctx context.Context, customerID, profileID string) error
	SaveAddress(ctx context.Context, customerID, addressID string, address domain.BillingAddress) error
	SaveCard(ctx context.Context, customerID string, card domain.RemoteCard, fingerprint string) error
}
