package paysafe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dejobratic/paygate/internal/payments/domain"
)

const (
	monitorPath = "/cardpayments/monitor"
	authsPath   = "/cardpayments/v1/accounts/%s/auths"

	statusReady = "READY"

	// readyFreshness is how long a READY monitor answer lets Authorize skip
	// its own check.
	readyFreshness = 10 * time.Second
)

// Client authorizes card payments.
type Client struct {
	*transport

	readyUntil atomic.Int64 // unix nanos
	now        func() time.Time
}

// NewClient validates the credentials and builds a client.
func NewClient(creds Credentials, opts ...Option) (*Client, error) {
	t, err := newTransport(creds, opts)
	if err != nil {
		return nil, err
	}
	return &Client{transport: t, now: time.Now}, nil
}

// Capabilities reports that this gateway authorizes onsite and can also send
// the customer to the hosted payment page.
func (c *Client) Capabilities() domain.Capabilities {
	return domain.Capabilities{AuthorizesOnsite: true, SupportsOffsiteRedirect: true}
}

type monitorResponse struct {
	Status string `json:"status"`
}

// IsReachable probes the monitor endpoint. Any failure counts as unreachable.
func (c *Client) IsReachable(ctx context.Context) bool {
	ready := c.checkMonitor(ctx)
	if ready {
		c.readyUntil.Store(c.now().Add(readyFreshness).UnixNano())
	} else {
		c.readyUntil.Store(0)
	}
	return ready
}

// recentlyReady reports whether a READY answer is still fresh.
func (c *Client) recentlyReady() bool {
	return c.now().UnixNano() < c.readyUntil.Load()
}

func (c *Client) checkMonitor(ctx context.Context) bool {
	status, payload, err := c.do(ctx, http.MethodGet, monitorPath, nil)
	if err != nil {
		c.logger.WarnContext(ctx, "paysafe monitor probe failed", "error", err)
		return false
	}
	if status != http.StatusOK {
		c.logger.WarnContext(ctx, "paysafe monitor returned unexpected status", "http_status", status)
		return false
	}

	var resp monitorResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		c.logger.WarnContext(ctx, "paysafe monitor returned undecodable body", "error", err)
		return false
	}
	return strings.EqualFold(resp.Status, statusReady)
}

type cardExpiry struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

type authCard struct {
	PaymentToken string      `json:"paymentToken,omitempty"`
	CardNum      string      `json:"cardNum,omitempty"`
	CardExpiry   *cardExpiry `json:"cardExpiry,omitempty"`
	CVV          string      `json:"cvv,omitempty"`
}

type billingDetails struct {
	Street  string `json:"street"`
	Street2 string `json:"street2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state,omitempty"`
	Country string `json:"country"`
	Zip     string `json:"zip"`
}

type authRequest struct {
	MerchantRefNum string         `json:"merchantRefNum"`
	Amount         int64          `json:"amount"`
	SettleWithAuth bool           `json:"settleWithAuth"`
	Card           authCard       `json:"card"`
	BillingDetails billingDetails `json:"billingDetails"`
	CurrencyCode   string         `json:"currencyCode"`
}

type authResponse struct {
	ID             string    `json:"id"`
	MerchantRefNum string    `json:"merchantRefNum"`
	Status         string    `json:"status"`
	Error          *apiError `json:"error"`
}

// Authorize submits one authorization. It checks the monitor first, unless
// IsReachable saw READY moments ago, and never calls the auths endpoint when
// the provider is not ready.
func (c *Client) Authorize(ctx context.Context, req domain.ChargeRequest, settleImmediately bool) (domain.GatewayResponse, error) {
	if !c.recentlyReady() && !c.IsReachable(ctx) {
		return domain.GatewayResponse{}, domain.ErrGatewayUnavailable
	}

	path := fmt.Sprintf(authsPath, c.creds.AccountID)
	status, payload, err := c.do(ctx, http.MethodPost, path, newAuthRequest(req, settleImmediately))
	if err != nil {
		return domain.GatewayResponse{}, err
	}

	if !isSuccess(status) {
		apiErr, err := decodeError(status, payload)
		if err != nil {
			return domain.GatewayResponse{}, err
		}
		var declined authResponse
		_ = json.Unmarshal(payload, &declined)
		c.logger.InfoContext(ctx, "paysafe declined authorization",
			"merchant_ref", req.MerchantRef(),
			"http_status", status,
			"error_code", apiErr.Code,
		)
		return domain.GatewayResponse{
			Status:        domain.StatusFailed,
			TransactionID: declined.ID,
			RemoteState:   apiErr.Code,
			Raw:           payload,
		}, nil
	}

	var resp authResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return domain.GatewayResponse{}, &domain.ProtocolError{StatusCode: status, Payload: payload, Err: err}
	}
	if resp.Status == "" {
		return domain.GatewayResponse{}, &domain.ProtocolError{StatusCode: status, Payload: payload, Err: errors.New("authorization response without status")}
	}

	mapped, ok := domain.ParseGatewayStatus(resp.Status)
	if !ok {
		c.logger.WarnContext(ctx, "paysafe returned unmapped authorization status",
			"merchant_ref", req.MerchantRef(),
			"status", resp.Status,
			"payload", string(payload),
		)
	}

	return domain.GatewayResponse{
		Status:        mapped,
		TransactionID: resp.ID,
		RemoteState:   resp.Status,
		Raw:           payload,
	}, nil
}

func newAuthRequest(req domain.ChargeRequest, settleImmediately bool) authRequest {
	billing := req.Billing()
	out := authRequest{
		MerchantRefNum: req.MerchantRef(),
		Amount:         req.AmountCents(),
		SettleWithAuth: settleImmediately,
		CurrencyCode:   req.Currency(),
		BillingDetails: billingDetails{
			Street:  billing.Street,
			Street2: billing.Street2,
			City:    billing.City,
			State:   billing.State,
			Country: billing.Country,
			Zip:     billing.Zip,
		},
	}

	if req.UsesToken() {
		out.Card = authCard{PaymentToken: req.PaymentToken()}
		return out
	}
	if card, ok := req.Card(); ok {
		out.Card = authCard{
			CardNum:    strings.NewReplacer(" ", "", "-", "").Replace(card.Number),
			CardExpiry: &cardExpiry{Month: card.ExpMonth, Year: card.ExpYear},
			CVV:        card.CVV,
		}
	}
	return out
}
