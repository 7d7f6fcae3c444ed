package ports

import (
	"context"

	"github.com/dejobratic/paygate/internal/payments/domain"
)

// Gateway authorizes charges against the remote card processor.
type Gateway interface {
	IsReachable(ctx context.Context) bool
	Authorize(ctx context.Context, req domain.ChargeRequest, settleImmediately bool) (domain.GatewayResponse, error)
}

// VaultClient manages remote customer profiles, addresses and cards.
type VaultClient interface {
	CreateProfile(ctx context.Context, merchantCustomerID string, customer domain.Customer, billing domain.BillingAddress) (string, error)
	CreateAddress(ctx context.Context, profileID string, billing domain.BillingAddress) (string, error)
	UpdateAddress(ctx context.Context, profileID, addressID string, billing domain.BillingAddress) error
	CreateCard(ctx context.Context, profileID, addressID string, holderName string, card domain.CardDetails) (domain.RemoteCard, error)
}

// CardVault resolves the stored card a charge is made against.
type CardVault interface {
	ResolveCard(ctx context.Context, customer domain.Customer, billing domain.BillingAddress, card domain.CardDetails) (domain.VaultRecord, error)
	Lookup(ctx context.Context, customerID string) (domain.VaultRecord, error)
}
