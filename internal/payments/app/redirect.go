package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/dejobratic/paygate/internal/payments/domain"
)

// RedirectMethod is how the customer is sent to the hosted payment page.
type RedirectMethod string

const (
	RedirectGet        RedirectMethod = "get"
	RedirectPost       RedirectMethod = "post"
	RedirectPostManual RedirectMethod = "post_manual"
)

// ParseRedirectMethod accepts the configured value, defaulting to post.
func ParseRedirectMethod(s string) (RedirectMethod, error) {
	switch RedirectMethod(s) {
	case "":
		return RedirectPost, nil
	case RedirectGet, RedirectPost, RedirectPostManual:
		return RedirectMethod(s), nil
	default:
		return "", fmt.Errorf("%w: unknown redirect method %q", domain.ErrConfiguration, s)
	}
}

// RedirectForm describes the hop to the hosted payment page. For GET the
// parameters are already encoded into URL.
type RedirectForm struct {
	Method RedirectMethod    `json:"method"`
	URL    string            `json:"url"`
	Params map[string]string `json:"params,omitempty"`
}

// RedirectConfig points at the hosted payment page.
type RedirectConfig struct {
	Method RedirectMethod
	URL    string
}

// BuildRedirect prepares the hosted page hop for the order's outstanding balance.
func (s *Service) BuildRedirect(ctx context.Context, orderID, returnURL string) (RedirectForm, error) {
	if s.redirect.URL == "" {
		return RedirectForm{}, fmt.Errorf("%w: hosted payment page url is not set", domain.ErrConfiguration)
	}
	if _, err := url.ParseRequestURI(returnURL); err != nil {
		return RedirectForm{}, errors.Join(domain.ErrValidation, fmt.Errorf("invalid return url: %w", err))
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return RedirectForm{}, fmt.Errorf("load order %s: %w", orderID, err)
	}
	balance, err := s.orders.Balance(ctx, order.ID)
	if err != nil {
		return RedirectForm{}, fmt.Errorf("order balance: %w", err)
	}
	if balance <= 0 {
		return RedirectForm{}, errors.Join(domain.ErrValidation, fmt.Errorf("order %s has no outstanding balance", order.ID))
	}
	attempt, err := s.orders.NextAttempt(ctx, order.ID)
	if err != nil {
		return RedirectForm{}, fmt.Errorf("next payment attempt: %w", err)
	}

	params := map[string]string{
		"merchantRefNum": domain.MerchantRef(s.merchantPrefix, order.ID, attempt),
		"amount":         strconv.FormatInt(balance, 10),
		"currencyCode":   order.Currency,
		"returnUrl":      returnURL,
	}

	form := RedirectForm{Method: s.redirect.Method, URL: s.redirect.URL}
	if form.Method != RedirectGet {
		form.Params = params
		return form, nil
	}

	target, err := url.Parse(s.redirect.URL)
	if err != nil {
		return RedirectForm{}, fmt.Errorf("%w: invalid hosted payment page url: %w", domain.ErrConfiguration, err)
	}
	query := target.Query()
	for k, v := range params {
		query.Set(k, v)
	}
	target.RawQuery = query.Encode()
	form.URL = target.String()
	return form, nil
}
