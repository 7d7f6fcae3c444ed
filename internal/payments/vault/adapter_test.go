package vault_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dejobratic/paygate/internal/payments/adapters/memory"
	"github.com/dejobratic/paygate/internal/payments/domain"
	"github.com/dejobratic/paygate/internal/payments/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVaultClient struct {
	mu             sync.Mutex
	createProfiles int
	createAddrs    int
	updateAddrs    int
	createCards    int
	profileDelay   time.Duration

	createAddressErr error
	createCardErr    error
}

func (f *fakeVaultClient) CreateProfile(_ context.Context, merchantCustomerID string, _ domain.Customer, _ domain.BillingAddress) (string, error) {
	if f.profileDelay > 0 {
		time.Sleep(f.profileDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createProfiles++
	return "profile-" + merchantCustomerID, nil
}

func (f *fakeVaultClient) CreateAddress(_ context.Context, profileID string, _ domain.BillingAddress) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createAddressErr != nil {
		return "", f.createAddressErr
	}
	f.createAddrs++
	return "address-" + profileID, nil
}

func (f *fakeVaultClient) UpdateAddress(_ context.Context, _, _ string, _ domain.BillingAddress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateAddrs++
	return nil
}

func (f *fakeVaultClient) CreateCard(_ context.Context, profileID, _ string, _ string, card domain.CardDetails) (domain.RemoteCard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createCardErr != nil {
		return domain.RemoteCard{}, f.createCardErr
	}
	f.createCards++
	return domain.RemoteCard{ID: "card-" + card.Last4(), PaymentToken: "tok-" + card.Last4()}, nil
}

func (f *fakeVaultClient) counts() (profiles, addrs, updates, cards int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createProfiles, f.createAddrs, f.updateAddrs, f.createCards
}

func testBilling() domain.BillingAddress {
	return domain.BillingAddress{
		GivenName:  "Ada",
		FamilyName: "Lovelace",
		Street:     "100 Queen Street West",
		City:       "Toronto",
		State:      "ON",
		Country:    "CA",
		Zip:        "M5H 2N2",
	}
}

func testCard() domain.CardDetails {
	return domain.CardDetails{
		Type:     domain.CardVisa,
		Number:   "4111111111111111",
		ExpMonth: 2,
		ExpYear:  time.Now().Year() + 2,
	}
}

func newAdapter(client *fakeVaultClient, store *memory.VaultStore) *vault.Adapter {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return vault.NewAdapter(client, store, memory.NewKeyedLocker(), logger, "paygate")
}

func TestResolveCard(t *testing.T) {
	ctx := context.Background()
	customer := domain.Customer{ID: "C1", Email: "ada@example.com"}

	t.Run("creates profile, address and card for a new customer", func(t *testing.T) {
		client := &fakeVaultClient{}
		store := memory.NewVaultStore()
		adapter := newAdapter(client, store)

		rec, err := adapter.ResolveCard(ctx, customer, testBilling(), testCard())
		require.NoError(t, err)

		assert.Equal(t, "profile-paygate-C1", rec.ProfileID)
		assert.Equal(t, "address-profile-paygate-C1", rec.AddressID)
		assert.Equal(t, "card-1111", rec.CardID)
		assert.Equal(t, "tok-1111", rec.PaymentToken)
		assert.True(t, rec.Complete())

		stored, err := store.Get(ctx, "C1")
		require.NoError(t, err)
		assert.Equal(t, rec.ProfileID, stored.ProfileID)
		assert.True(t, stored.Address.Equal(testBilling()))
	})

	t.Run("second call with identical details issues no remote writes", func(t *testing.T) {
		client := &fakeVaultClient{}
		adapter := newAdapter(client, memory.NewVaultStore())

		first, err := adapter.ResolveCard(ctx, customer, testBilling(), testCard())
		require.NoError(t, err)
		second, err := adapter.ResolveCard(ctx, customer, testBilling(), testCard())
		require.NoError(t, err)

		assert.Equal(t, first.ProfileID, second.ProfileID)
		assert.Equal(t, first.AddressID, second.AddressID)
		assert.Equal(t, first.PaymentToken, second.PaymentToken)
		profiles, addrs, updates, cards := client.counts()
		assert.Equal(t, 1, profiles)
		assert.Equal(t, 1, addrs)
		assert.Equal(t, 0, updates)
		assert.Equal(t, 1, cards)
	})

	t.Run("changed postal code updates the address once without recreating", func(t *testing.T) {
		client := &fakeVaultClient{}
		adapter := newAdapter(client, memory.NewVaultStore())

		first, err := adapter.ResolveCard(ctx, customer, testBilling(), testCard())
		require.NoError(t, err)

		moved := testBilling()
		moved.Zip = "M5V 3L9"
		second, err := adapter.ResolveCard(ctx, customer, moved, testCard())
		require.NoError(t, err)

		profiles, addrs, updates, cards := client.counts()
		assert.Equal(t, 1, profiles)
		assert.Equal(t, 1, addrs)
		assert.Equal(t, 1, updates)
		assert.Equal(t, 1, cards)
		assert.Equal(t, first.AddressID, second.AddressID)
		assert.Equal(t, "M5V 3L9", second.Address.Zip)
	})

	t.Run("new card is created under the existing profile", func(t *testing.T) {
		client := &fakeVaultClient{}
		adapter := newAdapter(client, memory.NewVaultStore())

		first, err := adapter.ResolveCard(ctx, customer, testBilling(), testCard())
		require.NoError(t, err)

		other := testCard()
		other.Type = domain.CardMastercard
		other.Number = "5555555555554444"
		second, err := adapter.ResolveCard(ctx, customer, testBilling(), other)
		require.NoError(t, err)

		profiles, _, _, cards := client.counts()
		assert.Equal(t, 1, profiles)
		assert.Equal(t, 2, cards)
		assert.Equal(t, first.ProfileID, second.ProfileID)
		assert.Equal(t, "card-4444", second.CardID)
	})

	t.Run("partial failure keeps created identifiers for resumption", func(t *testing.T) {
		client := &fakeVaultClient{createAddressErr: errors.New("connection reset")}
		store := memory.NewVaultStore()
		adapter := newAdapter(client, store)

		_, err := adapter.ResolveCard(ctx, customer, testBilling(), testCard())
		require.Error(t, err)

		var vaultErr *domain.VaultError
		require.ErrorAs(t, err, &vaultErr)
		assert.Equal(t, domain.OpCreateAddress, vaultErr.Op)
		assert.Equal(t, "C1", vaultErr.CustomerID)
		assert.ErrorIs(t, err, domain.ErrVault)
		assert.True(t, domain.Retryable(err))

		stored, err := store.Get(ctx, "C1")
		require.NoError(t, err)
		assert.Equal(t, "profile-paygate-C1", stored.ProfileID)
		assert.Empty(t, stored.AddressID)

		client.createAddressErr = nil
		rec, err := adapter.ResolveCard(ctx, customer, testBilling(), testCard())
		require.NoError(t, err)
		assert.True(t, rec.Complete())

		profiles, addrs, _, _ := client.counts()
		assert.Equal(t, 1, profiles, "profile must not be recreated on retry")
		assert.Equal(t, 1, addrs)
	})

	t.Run("card failure is reported with its operation", func(t *testing.T) {
		client := &fakeVaultClient{createCardErr: errors.New("card rejected")}
		adapter := newAdapter(client, memory.NewVaultStore())

		_, err := adapter.ResolveCard(ctx, customer, testBilling(), testCard())

		var vaultErr *domain.VaultError
		require.ErrorAs(t, err, &vaultErr)
		assert.Equal(t, domain.OpCreateCard, vaultErr.Op)
	})

	t.Run("rejects invalid card before touching the vault", func(t *testing.T) {
		client := &fakeVaultClient{}
		adapter := newAdapter(client, memory.NewVaultStore())

		card := testCard()
		card.Number = "4111111111111112"
		_, err := adapter.ResolveCard(ctx, customer, testBilling(), card)

		assert.ErrorIs(t, err, domain.ErrValidation)
		profiles, _, _, _ := client.counts()
		assert.Zero(t, profiles)
	})
}

func TestResolveCardConcurrentSameCustomer(t *testing.T) {
	client := &fakeVaultClient{profileDelay: 20 * time.Millisecond}
	adapter := newAdapter(client, memory.NewVaultStore())
	customer := domain.Customer{ID: "C1", Email: "ada@example.com"}

	var wg sync.WaitGroup
	results := make([]domain.VaultRecord, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = adapter.ResolveCard(context.Background(), customer, testBilling(), testCard())
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].ProfileID, results[1].ProfileID)
	assert.Equal(t, results[0].AddressID, results[1].AddressID)

	profiles, addrs, _, cards := client.counts()
	assert.Equal(t, 1, profiles)
	assert.Equal(t, 1, addrs)
	assert.Equal(t, 1, cards)
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	adapter := newAdapter(&fakeVaultClient{}, memory.NewVaultStore())

	_, err := adapter.Lookup(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	created, err := adapter.ResolveCard(ctx, domain.Customer{ID: "C2"}, testBilling(), testCard())
	require.NoError(t, err)

	found, err := adapter.Lookup(ctx, "C2")
	require.NoError(t, err)
	assert.Equal(t, created.PaymentToken, found.PaymentToken)
}
