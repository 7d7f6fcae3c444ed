// Package vault keeps a customer's remote profile, billing address and card in
// step with the local billing snapshot.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dejobratic/paygate/internal/payments/domain"
	"github.com/dejobratic/paygate/internal/payments/ports"
)

const opLock = "lock"

// Adapter resolves vault records. Mutations for one customer never overlap.
type Adapter struct {
	client ports.VaultClient
	store  ports.VaultStore
	locker ports.CustomerLocker
	logger *slog.Logger
	prefix string
	now    func() time.Time
}

// NewAdapter wires the adapter. prefix namespaces merchant customer ids.
func NewAdapter(client ports.VaultClient, store ports.VaultStore, locker ports.CustomerLocker, logger *slog.Logger, prefix string) *Adapter {
	return &Adapter{
		client: client,
		store:  store,
		locker: locker,
		logger: logger,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// MerchantCustomerID is the id the provider knows the customer by.
func (a *Adapter) MerchantCustomerID(customerID string) string {
	return a.prefix + "-" + customerID
}

// ResolveCard returns a complete vault record for the customer, creating or
// updating only what is missing or stale.
func (a *Adapter) ResolveCard(ctx context.Context, customer domain.Customer, billing domain.BillingAddress, card domain.CardDetails) (domain.VaultRecord, error) {
	if strings.TrimSpace(customer.ID) == "" {
		return domain.VaultRecord{}, errors.Join(domain.ErrValidation, errors.New("customer id is required"))
	}
	if err := billing.Validate(); err != nil {
		return domain.VaultRecord{}, err
	}
	if err := card.Validate(a.now()); err != nil {
		return domain.VaultRecord{}, err
	}

	unlock, err := a.locker.Lock(ctx, customer.ID)
	if err != nil {
		return domain.VaultRecord{}, &domain.VaultError{Op: opLock, CustomerID: customer.ID, Err: err}
	}
	defer unlock()

	rec, err := a.load(ctx, customer.ID)
	if err != nil {
		return domain.VaultRecord{}, err
	}

	if err := a.ensureProfile(ctx, &rec, customer, billing); err != nil {
		return domain.VaultRecord{}, err
	}
	if err := a.syncAddress(ctx, &rec, billing); err != nil {
		return domain.VaultRecord{}, err
	}
	if err := a.ensureCard(ctx, &rec, billing, card); err != nil {
		return domain.VaultRecord{}, err
	}

	return rec, nil
}

// Lookup returns the stored record for charging a vaulted payment method.
func (a *Adapter) Lookup(ctx context.Context, customerID string) (domain.VaultRecord, error) {
	rec, err := a.store.Get(ctx, customerID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.VaultRecord{}, fmt.Errorf("load vault record: %w", err)
	}
	if rec == nil || !rec.Complete() {
		return domain.VaultRecord{}, fmt.Errorf("vault record for customer %s: %w", customerID, domain.ErrNotFound)
	}
	return *rec, nil
}

func (a *Adapter) load(ctx context.Context, customerID string) (domain.VaultRecord, error) {
	rec, err := a.store.Get(ctx, customerID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.VaultRecord{}, &domain.VaultError{Op: domain.OpStoreRecord, CustomerID: customerID, Err: err}
	}
	if rec == nil {
		return domain.VaultRecord{CustomerID: customerID}, nil
	}
	return *rec, nil
}

func (a *Adapter) ensureProfile(ctx context.Context, rec *domain.VaultRecord, customer domain.Customer, billing domain.BillingAddress) error {
	if rec.ProfileID != "" {
		return nil
	}

	profileID, err := a.client.CreateProfile(ctx, a.MerchantCustomerID(customer.ID), customer, billing)
	if err != nil {
		return a.fail(ctx, domain.OpCreateProfile, customer.ID, err)
	}
	if err := a.store.SaveProfile(ctx, customer.ID, profileID); err != nil {
		a.logOrphan(ctx, domain.OpCreateProfile, customer.ID, profileID, err)
		return &domain.VaultError{Op: domain.OpStoreRecord, CustomerID: customer.ID, Err: err}
	}

	rec.ProfileID = profileID
	return nil
}

func (a *Adapter) syncAddress(ctx context.Context, rec *domain.VaultRecord, billing domain.BillingAddress) error {
	if rec.AddressID == "" {
		addressID, err := a.client.CreateAddress(ctx, rec.ProfileID, billing)
		if err != nil {
			return a.fail(ctx, domain.OpCreateAddress, rec.CustomerID, err)
		}
		if err := a.store.SaveAddress(ctx, rec.CustomerID, addressID, billing); err != nil {
			a.logOrphan(ctx, domain.OpCreateAddress, rec.CustomerID, addressID, err)
			return &domain.VaultError{Op: domain.OpStoreRecord, CustomerID: rec.CustomerID, Err: err}
		}
		rec.AddressID = addressID
		rec.Address = billing
		return nil
	}

	changed := rec.Address.Differs(billing)
	if len(changed) == 0 {
		return nil
	}

	a.logger.InfoContext(ctx, "billing address changed, updating vault address",
		"customer_id", rec.CustomerID,
		"address_id", rec.AddressID,
		"changed_fields", changed,
	)
	if err := a.client.UpdateAddress(ctx, rec.ProfileID, rec.AddressID, billing); err != nil {
		return a.fail(ctx, domain.OpUpdateAddress, rec.CustomerID, err)
	}
	if err := a.store.SaveAddress(ctx, rec.CustomerID, rec.AddressID, billing); err != nil {
		return &domain.VaultError{Op: domain.OpStoreRecord, CustomerID: rec.CustomerID, Err: err}
	}
	rec.Address = billing
	return nil
}

func (a *Adapter) ensureCard(ctx context.Context, rec *domain.VaultRecord, billing domain.BillingAddress, card domain.CardDetails) error {
	fingerprint := card.Fingerprint()
	if rec.CardID != "" && rec.CardFingerprint == fingerprint {
		return nil
	}

	remote, err := a.client.CreateCard(ctx, rec.ProfileID, rec.AddressID, billing.RecipientName(), card)
	if err != nil {
		return a.fail(ctx, domain.OpCreateCard, rec.CustomerID, err)
	}
	if err := a.store.SaveCard(ctx, rec.CustomerID, remote, fingerprint); err != nil {
		a.logOrphan(ctx, domain.OpCreateCard, rec.CustomerID, remote.ID, err)
		return &domain.VaultError{Op: domain.OpStoreRecord, CustomerID: rec.CustomerID, Err: err}
	}

	rec.CardID = remote.ID
	rec.PaymentToken = remote.PaymentToken
	rec.CardFingerprint = fingerprint
	return nil
}

func (a *Adapter) fail(ctx context.Context, op, customerID string, err error) error {
	a.logger.ErrorContext(ctx, "vault operation failed",
		"operation", op,
		"customer_id", customerID,
		"error", err,
	)
	return &domain.VaultError{Op: op, CustomerID: customerID, Err: err}
}

// logOrphan records a remote object that exists but could not be stored locally.
func (a *Adapter) logOrphan(ctx context.Context, op, customerID, remoteID string, err error) {
	a.logger.ErrorContext(ctx, "remote vault object created but not stored; reconcile manually",
		"operation", op,
		"customer_id", customerID,
		"remote_id", remoteID,
		"error", err,
	)
}
