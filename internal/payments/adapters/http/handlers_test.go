package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	idemmemory "github.com/dejobratic/paygate/internal/idempotency/memory"
	"github.com/dejobratic/paygate/internal/kafka"
	paymenthttp "github.com/dejobratic/paygate/internal/payments/adapters/http"
	"github.com/dejobratic/paygate/internal/payments/adapters/memory"
	"github.com/dejobratic/paygate/internal/payments/app"
	"github.com/dejobratic/paygate/internal/payments/app/commands"
	"github.com/dejobratic/paygate/internal/payments/domain"
	"github.com/dejobratic/paygate/internal/payments/metrics"
	"github.com/dejobratic/paygate/internal/payments/ports"
	"github.com/dejobratic/paygate/internal/payments/vault"
)

const secret = "return-secret"

type stubGateway struct {
	reachable atomic.Bool
	calls     atomic.Int32
	resp      domain.GatewayResponse
	// entered and gate, when set, let a test hold a charge inside Authorize.
	entered chan struct{}
	gate    chan struct{}
}

func (g *stubGateway) IsReachable(context.Context) bool { return g.reachable.Load() }

func (g *stubGateway) Authorize(context.Context, domain.ChargeRequest, bool) (domain.GatewayResponse, error) {
	g.calls.Add(1)
	if g.entered != nil {
		g.entered <- struct{}{}
	}
	if g.gate != nil {
		<-g.gate
	}
	return g.resp, nil
}

type stubVaultClient struct{}

func (stubVaultClient) CreateProfile(context.Context, string, domain.Customer, domain.BillingAddress) (string, error) {
	return "profile-1", nil
}

func (stubVaultClient) CreateAddress(context.Context, string, domain.BillingAddress) (string, error) {
	return "address-1", nil
}

func (stubVaultClient) UpdateAddress(context.Context, string, string, domain.BillingAddress) error {
	return nil
}

func (stubVaultClient) CreateCard(_ context.Context, _, _, _ string, card domain.CardDetails) (domain.RemoteCard, error) {
	return domain.RemoteCard{ID: "card-" + card.Last4(), PaymentToken: "tok-" + card.Last4()}, nil
}

type server struct {
	router  chi.Router
	gateway *stubGateway
	repo    *memory.Repository
}

func newServer(t *testing.T, resp domain.GatewayResponse) *server {
	t.Helper()
	return newServerWithStore(t, resp, idemmemory.NewStore())
}

func newServerWithStore(t *testing.T, resp domain.GatewayResponse, store ports.IdempotencyStore) *server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := metrics.NewMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	repo := memory.NewRepository()
	require.NoError(t, repo.UpsertOrder(context.Background(), domain.Order{ID: "O1", CustomerID: "C1", TotalCents: 4200, Currency: "CAD"}))

	gateway := &stubGateway{resp: resp}
	gateway.reachable.Store(true)

	service := app.NewService(app.Dependencies{
		Gateway:   gateway,
		Vault:     vault.NewAdapter(stubVaultClient{}, memory.NewVaultStore(), memory.NewKeyedLocker(), logger, "paygate"),
		Orders:    repo,
		Payments:  repo,
		Events:    kafka.NewNoopEventBus(),
		OrderLock: memory.NewKeyedLocker(),
		IdemStore: store,
	}, app.Settings{
		MerchantPrefix: "paygate",
		ReturnSecret:   secret,
		Redirect:       app.RedirectConfig{Method: app.RedirectPost, URL: "https://hosted.test.paysafe.com/pay"},
	}, logger, m)

	httpMetrics, err := paymenthttp.NewMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	r := chi.NewRouter()
	paymenthttp.NewHandler(service, logger, httpMetrics).Register(r)

	return &server{router: r, gateway: gateway, repo: repo}
}

func (s *server) do(t *testing.T, method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		payload, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, target, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func chargeBody() map[string]any {
	return map[string]any{
		"customer": map[string]any{"id": "C1", "email": "ada@example.com"},
		"billing": map[string]any{
			"given_name": "Ada", "family_name": "Lovelace", "street": "1 Main",
			"city": "Toronto", "country": "CA", "zip": "M5H 2N2",
		},
		"card": map[string]any{
			"type": "visa", "number": "4111111111111111",
			"exp_month": 12, "exp_year": time.Now().Year() + 1, "cvv": "123",
		},
		"use_vault": true,
		"capture":   true,
	}
}

type chargeReply struct {
	Payment *domain.Payment `json:"payment"`
	Notices []domain.Notice `json:"notices"`
	Error   string          `json:"error"`
}

func decodeCharge(t *testing.T, rec *httptest.ResponseRecorder) chargeReply {
	t.Helper()
	var reply chargeReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	return reply
}

func completed() domain.GatewayResponse {
	return domain.GatewayResponse{Status: domain.StatusCompleted, TransactionID: "txn-1", RemoteState: "COMPLETED"}
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (*ports.StoredResponse, error) {
	return nil, errors.New("pq: connection refused to 10.0.0.7")
}

func (failingStore) Reserve(context.Context, string) (bool, error) { return false, nil }

func (failingStore) Save(context.Context, string, ports.StoredResponse) error { return nil }

func (failingStore) Release(context.Context, string) error { return nil }

func TestChargeEndpointConcurrency(t *testing.T) {
	t.Run("same key while in flight gets 409 and later replays", func(t *testing.T) {
		s := newServer(t, completed())
		s.gateway.entered = make(chan struct{}, 1)
		s.gateway.gate = make(chan struct{})
		headers := map[string]string{"Idempotency-Key": "same"}

		done := make(chan *httptest.ResponseRecorder, 1)
		go func() { done <- s.do(t, http.MethodPost, "/v1/orders/O1/payments", chargeBody(), headers) }()
		<-s.gateway.entered

		second := s.do(t, http.MethodPost, "/v1/orders/O1/payments", chargeBody(), headers)
		assert.Equal(t, http.StatusConflict, second.Code, second.Body.String())

		close(s.gateway.gate)
		first := <-done
		require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

		third := s.do(t, http.MethodPost, "/v1/orders/O1/payments", chargeBody(), headers)
		assert.Equal(t, http.StatusCreated, third.Code)
		assert.Equal(t, "true", third.Header().Get("Idempotent-Replayed"))
		assert.Equal(t, int32(1), s.gateway.calls.Load())
	})

	t.Run("different keys on one order authorize once", func(t *testing.T) {
		s := newServer(t, completed())
		s.gateway.entered = make(chan struct{}, 2)
		s.gateway.gate = make(chan struct{})

		codes := make(chan int, 2)
		for _, key := range []string{"k1", "k2"} {
			go func() {
				rec := s.do(t, http.MethodPost, "/v1/orders/O1/payments", chargeBody(), map[string]string{"Idempotency-Key": key})
				codes <- rec.Code
			}()
		}
		<-s.gateway.entered
		close(s.gateway.gate)

		got := []int{<-codes, <-codes}
		assert.ElementsMatch(t, []int{http.StatusCreated, http.StatusUnprocessableEntity}, got)
		assert.Equal(t, int32(1), s.gateway.calls.Load())

		summary := s.do(t, http.MethodGet, "/v1/orders/O1", nil, nil)
		require.Equal(t, http.StatusOK, summary.Code)
		assert.Contains(t, summary.Body.String(), `"balance_cents":0`)
	})

	t.Run("retryable failure frees the key", func(t *testing.T) {
		s := newServer(t, completed())
		s.gateway.reachable.Store(false)
		headers := map[string]string{"Idempotency-Key": "retry"}

		first := s.do(t, http.MethodPost, "/v1/orders/O1/payments", chargeBody(), headers)
		require.Equal(t, http.StatusServiceUnavailable, first.Code)

		s.gateway.reachable.Store(true)
		second := s.do(t, http.MethodPost, "/v1/orders/O1/payments", chargeBody(), headers)
		assert.Equal(t, http.StatusCreated, second.Code, second.Body.String())
	})
}

func TestChargeEndpointHidesStoreErrors(t *testing.T) {
	s := newServerWithStore(t, completed(), failingStore{})

	rec := s.do(t, http.MethodPost, "/v1/orders/O1/payments", chargeBody(), map[string]string{"Idempotency-Key": "k"})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
	assert.Zero(t, s.gateway.calls.Load())
}

func TestChargeEndpoint(t *testing.T) {
	t.Run("completed charge returns 201 and replays under the same key", func(t *testing.T) {
		s := newServer(t, completed())
		headers := map[string]string{"Idempotency-Key": "key-1"}

		first := s.do(t, http.MethodPost, "/v1/orders/O1/payments", chargeBody(), headers)
		require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

		reply := decodeCharge(t, first)
		require.NotNil(t, reply.Payment)
		assert.Equal(t, domain.StateCompleted, reply.Payment.State)
		assert.Equal(t, int64(4200), reply.Payment.AmountCents)

		second := s.do(t, http.MethodPost, "/v1/orders/O1/payments", chargeBody(), headers)
		assert.Equal(t, http.StatusCreated, second.Code)
		assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
		assert.JSONEq(t, first.Body.String(), second.Body.String())
		assert.Equal(t, int32(1), s.gateway.calls.Load())
	})

	t.Run("declined charge returns 402 with notices", func(t *testing.T) {
		s := newServer(t, domain.GatewayResponse{Status: domain.StatusFailed, TransactionID: "txn-2", RemoteState: "FAILED"})

		rec := s.do(t, http.MethodPost, "/v1/orders/O1/payments", chargeBody(), map[string]string{"Idempotency-Key": "key-2"})
		require.Equal(t, http.StatusPaymentRequired, rec.Code)

		reply := decodeCharge(t, rec)
		assert.Equal(t, domain.StateDeclined, reply.Payment.State)
		assert.NotEmpty(t, reply.Notices)
		assert.Empty(t, reply.Error)
	})

	t.Run("held charge returns 202", func(t *testing.T) {
		s := newServer(t, domain.GatewayResponse{Status: domain.StatusHeld, TransactionID: "txn-3", RemoteState: "HELD"})

		rec := s.do(t, http.MethodPost, "/v1/orders/O1/payments", chargeBody(), map[string]string{"Idempotency-Key": "key-3"})
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, domain.StateHeld, decodeCharge(t, rec).Payment.State)
	})

	t.Run("unreachable gateway returns 503 and is not pinned to the key", func(t *testing.T) {
		s := newServer(t, completed())
		s.gateway.reachable.Store(false)
		headers := map[string]string{"Idempotency-Key": "key-4"}

		rec := s.do(t, http.MethodPost, "/v1/orders/O1/payments", chargeBody(), headers)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "30", rec.Header().Get("Retry-After"))
		assert.Equal(t, "payment gateway unavailable", decodeCharge(t, rec).Error)

		s.gateway.reachable.Store(true)
		retry := s.do(t, http.MethodPost, "/v1/orders/O1/payments", chargeBody(), headers)
		assert.Equal(t, http.StatusCreated, retry.Code)
		assert.Empty(t, retry.Header().Get("Idempotent-Replayed"))
	})

	t.Run("requires an idempotency key", func(t *testing.T) {
		s := newServer(t, completed())

		rec := s.do(t, http.MethodPost, "/v1/orders/O1/payments", chargeBody(), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		s := newServer(t, completed())

		rec := s.do(t, http.MethodPost, "/v1/orders/O1/payments", `{"customer":`, map[string]string{"Idempotency-Key": "key-5"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown order returns 404", func(t *testing.T) {
		s := newServer(t, completed())

		rec := s.do(t, http.MethodPost, "/v1/orders/missing/payments", chargeBody(), map[string]string{"Idempotency-Key": "key-6"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("settled order returns 422", func(t *testing.T) {
		s := newServer(t, completed())

		first := s.do(t, http.MethodPost, "/v1/orders/O1/payments", chargeBody(), map[string]string{"Idempotency-Key": "key-7"})
		require.Equal(t, http.StatusCreated, first.Code)

		rec := s.do(t, http.MethodPost, "/v1/orders/O1/payments", chargeBody(), map[string]string{"Idempotency-Key": "key-8"})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestOrderEndpoints(t *testing.T) {
	s := newServer(t, completed())

	rec := s.do(t, http.MethodPut, "/v1/orders/O2", map[string]any{"customer_id": "C2", "total_cents": 1500, "currency": "usd"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/v1/orders/O2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary struct {
		Order        domain.Order `json:"order"`
		BalanceCents int64        `json:"balance_cents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "USD", summary.Order.Currency)
	assert.Equal(t, int64(1500), summary.BalanceCents)

	rec = s.do(t, http.MethodPut, "/v1/orders/O3", map[string]any{"customer_id": "C3", "total_cents": -1, "currency": "USD"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/orders/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaymentMethodEndpoint(t *testing.T) {
	s := newServer(t, completed())
	body := chargeBody()
	delete(body, "use_vault")
	delete(body, "capture")

	rec := s.do(t, http.MethodPost, "/v1/payment-methods", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var reply struct {
		PaymentMethod domain.PaymentMethod `json:"payment_method"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, "1111", reply.PaymentMethod.Last4)
	assert.NotContains(t, rec.Body.String(), "4111111111111111")
}

func TestRedirectAndReturn(t *testing.T) {
	s := newServer(t, completed())

	rec := s.do(t, http.MethodGet, "/v1/orders/O1/redirect?return_url="+url.QueryEscape("https://shop.example.com/return"), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var redirect struct {
		Redirect app.RedirectForm `json:"redirect"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &redirect))
	assert.Equal(t, app.RedirectPost, redirect.Redirect.Method)
	assert.Equal(t, "4200", redirect.Redirect.Params["amount"])

	q := url.Values{
		"txn_id":         {"txn-9"},
		"payment_status": {"COMPLETED"},
		"signature":      {"deadbeef"},
	}
	rec = s.do(t, http.MethodGet, "/v1/orders/O1/return?"+q.Encode(), nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	q.Set("signature", commands.SignReturn([]byte(secret), "O1", "txn-9", "COMPLETED"))
	rec = s.do(t, http.MethodGet, "/v1/orders/O1/return?"+q.Encode(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var reply struct {
		Payment domain.Payment `json:"payment"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, domain.StateCompleted, reply.Payment.State)

	rec = s.do(t, http.MethodGet, "/v1/payments/"+reply.Payment.ID, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCapabilitiesEndpoint(t *testing.T) {
	s := newServer(t, completed())

	rec := s.do(t, http.MethodGet, "/v1/capabilities", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"authorizes_onsite":true,"supports_offsite_redirect":false}`, rec.Body.String())
}
