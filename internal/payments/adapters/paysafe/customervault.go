package paysafe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dejobratic/paygate/internal/payments/domain"
)

const (
	profilesPath  = "/customervault/v1/profiles"
	addressesPath = "/customervault/v1/profiles/%s/addresses"
	addressPath   = "/customervault/v1/profiles/%s/addresses/%s"
	cardsPath     = "/customervault/v1/profiles/%s/cards"

	defaultLocale = "en_US"
)

// VaultClient manages customer profiles, addresses and cards.
type VaultClient struct {
	*transport
}

// NewVaultClient validates the credentials and builds a vault client.
func NewVaultClient(creds Credentials, opts ...Option) (*VaultClient, error) {
	t, err := newTransport(creds, opts)
	if err != nil {
		return nil, err
	}
	return &VaultClient{transport: t}, nil
}

type profileRequest struct {
	MerchantCustomerID string `json:"merchantCustomerId"`
	Locale             string `json:"locale"`
	FirstName          string `json:"firstName,omitempty"`
	LastName           string `json:"lastName,omitempty"`
	Email              string `json:"email,omitempty"`
}

type addressRequest struct {
	NickName      string `json:"nickName"`
	Street        string `json:"street"`
	Street2       string `json:"street2,omitempty"`
	City          string `json:"city"`
	Country       string `json:"country"`
	State         string `json:"state,omitempty"`
	Zip           string `json:"zip"`
	RecipientName string `json:"recipientName,omitempty"`
}

type cardRequest struct {
	HolderName       string     `json:"holderName,omitempty"`
	CardNum          string     `json:"cardNum"`
	CardExpiry       cardExpiry `json:"cardExpiry"`
	BillingAddressID string     `json:"billingAddressId,omitempty"`
}

type resourceResponse struct {
	ID           string `json:"id"`
	PaymentToken string `json:"paymentToken"`
}

func (c *VaultClient) CreateProfile(ctx context.Context, merchantCustomerID string, customer domain.Customer, billing domain.BillingAddress) (string, error) {
	body := profileRequest{
		MerchantCustomerID: merchantCustomerID,
		Locale:             defaultLocale,
		FirstName:          billing.GivenName,
		LastName:           billing.FamilyName,
		Email:              customer.Email,
	}
	resp, err := c.create(ctx, http.MethodPost, profilesPath, body)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *VaultClient) CreateAddress(ctx context.Context, profileID string, billing domain.BillingAddress) (string, error) {
	resp, err := c.create(ctx, http.MethodPost, fmt.Sprintf(addressesPath, profileID), newAddressRequest(billing))
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *VaultClient) UpdateAddress(ctx context.Context, profileID, addressID string, billing domain.BillingAddress) error {
	status, payload, err := c.do(ctx, http.MethodPut, fmt.Sprintf(addressPath, profileID, addressID), newAddressRequest(billing))
	if err != nil {
		return err
	}
	if !isSuccess(status) {
		return vaultFailure(status, payload)
	}
	return nil
}

func (c *VaultClient) CreateCard(ctx context.Context, profileID, addressID string, holderName string, card domain.CardDetails) (domain.RemoteCard, error) {
	body := cardRequest{
		HolderName:       holderName,
		CardNum:          strings.NewReplacer(" ", "", "-", "").Replace(card.Number),
		CardExpiry:       cardExpiry{Month: card.ExpMonth, Year: card.ExpYear},
		BillingAddressID: addressID,
	}
	resp, err := c.create(ctx, http.MethodPost, fmt.Sprintf(cardsPath, profileID), body)
	if err != nil {
		return domain.RemoteCard{}, err
	}
	if resp.PaymentToken == "" {
		return domain.RemoteCard{}, &domain.ProtocolError{StatusCode: http.StatusOK, Err: errors.New("card response without payment token")}
	}
	return domain.RemoteCard{ID: resp.ID, PaymentToken: resp.PaymentToken}, nil
}

func (c *VaultClient) create(ctx context.Context, method, path string, body any) (resourceResponse, error) {
	status, payload, err := c.do(ctx, method, path, body)
	if err != nil {
		return resourceResponse{}, err
	}
	if !isSuccess(status) {
		return resourceResponse{}, vaultFailure(status, payload)
	}

	var resp resourceResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return resourceResponse{}, &domain.ProtocolError{StatusCode: status, Payload: payload, Err: err}
	}
	if resp.ID == "" {
		return resourceResponse{}, &domain.ProtocolError{StatusCode: status, Payload: payload, Err: errors.New("response without id")}
	}
	return resp, nil
}

func vaultFailure(status int, payload []byte) error {
	apiErr, err := decodeError(status, payload)
	if err != nil {
		return err
	}
	return fmt.Errorf("http %d: %w", status, apiErr)
}

func newAddressRequest(billing domain.BillingAddress) addressRequest {
	return addressRequest{
		NickName:      billing.NickName(),
		Street:        billing.Street,
		Street2:       billing.Street2,
		City:          billing.City,
		Country:       billing.Country,
		State:         billing.State,
		Zip:           billing.Zip,
		RecipientName: billing.RecipientName(),
	}
}
