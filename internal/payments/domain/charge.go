package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ChargeSource is either a vaulted payment token or a raw card. Exactly one is set.
type ChargeSource struct {
	PaymentToken string
	Card         *CardDetails
}

// ChargeRequest is an immutable description of one authorization attempt.
type ChargeRequest struct {
	amount      int64
	currency    string
	merchantRef string
	source      ChargeSource
	billing     BillingAddress
}

// ChargeRequestParams carries the fields for NewChargeRequest.
type ChargeRequestParams struct {
	AmountCents int64
	Currency    string
	MerchantRef string
	Source      ChargeSource
	Billing     BillingAddress
}

// NewChargeRequest validates params and returns a request that cannot be mutated.
func NewChargeRequest(p ChargeRequestParams) (ChargeRequest, error) {
	if p.AmountCents <= 0 {
		return ChargeRequest{}, errors.Join(ErrValidation, errors.New("amount must be positive"))
	}
	if strings.TrimSpace(p.MerchantRef) == "" {
		return ChargeRequest{}, errors.Join(ErrValidation, errors.New("merchant reference is required"))
	}
	if len(p.Currency) != 3 {
		return ChargeRequest{}, errors.Join(ErrValidation, fmt.Errorf("currency %q is not an ISO 4217 code", p.Currency))
	}
	hasToken := p.Source.PaymentToken != ""
	hasCard := p.Source.Card != nil
	if hasToken == hasCard {
		return ChargeRequest{}, errors.Join(ErrValidation, errors.New("exactly one of payment token or card is required"))
	}

	source := p.Source
	if hasCard {
		card := *p.Source.Card
		source.Card = &card
	}

	return ChargeRequest{
		amount:      p.AmountCents,
		currency:    strings.ToUpper(p.Currency),
		merchantRef: p.MerchantRef,
		source:      source,
		billing:     p.Billing,
	}, nil
}

func (r ChargeRequest) AmountCents() int64      { return r.amount }
func (r ChargeRequest) Currency() string        { return r.currency }
func (r ChargeRequest) MerchantRef() string     { return r.merchantRef }
func (r ChargeRequest) Billing() BillingAddress { return r.billing }
func (r ChargeRequest) PaymentToken() string    { return r.source.PaymentToken }
func (r ChargeRequest) UsesToken() bool         { return r.source.PaymentToken != "" }

// Card returns a copy of the raw card, if the request carries one.
func (r ChargeRequest) Card() (CardDetails, bool) {
	if r.source.Card == nil {
		return CardDetails{}, false
	}
	return *r.source.Card, true
}

// MerchantRef derives the reference for one attempt against an order.
func MerchantRef(prefix, orderID string, attempt int) string {
	return fmt.Sprintf("%s-%s-%d", prefix, orderID, attempt)
}
