// Package paysafe talks to the Paysafe card payments and customer vault REST APIs.
package paysafe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dejobratic/paygate/internal/payments/domain"
)

// DefaultTimeout bounds every outbound call unless overridden.
const DefaultTimeout = 30 * time.Second

const maxBodyBytes = 1 << 20

// Credentials identify the merchant account against the provider.
type Credentials struct {
	Endpoint  string
	AccountID string
	Username  string
	APIKey    string
}

// Validate reports missing credentials as configuration errors.
func (c Credentials) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Endpoint) == "" {
		missing = append(missing, "endpoint")
	}
	if strings.TrimSpace(c.AccountID) == "" {
		missing = append(missing, "account id")
	}
	if strings.TrimSpace(c.Username) == "" {
		missing = append(missing, "username")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		missing = append(missing, "api key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", domain.ErrConfiguration, strings.Join(missing, ", "))
	}

	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: invalid endpoint %q", domain.ErrConfiguration, c.Endpoint)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%w: endpoint must use https", domain.ErrConfiguration)
	}
	return nil
}

// Option customizes a client.
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *slog.Logger
	timeout    time.Duration
}

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithLogger sets the logger used for warnings about provider responses.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTimeout bounds each request.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// transport is the shared request plumbing of the card payments and vault clients.
type transport struct {
	creds   Credentials
	http    *http.Client
	logger  *slog.Logger
	timeout time.Duration
	base    string
}

func newTransport(creds Credentials, opts []Option) (*transport, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	o := options{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{
			Timeout:   o.timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	return &transport{
		creds:   creds,
		http:    o.httpClient,
		logger:  o.logger,
		timeout: o.timeout,
		base:    strings.TrimRight(creds.Endpoint, "/"),
	}, nil
}

// apiError is the provider's error envelope.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("paysafe error %s: %s", e.Code, e.Message)
}

type errorEnvelope struct {
	Error *apiError `json:"error"`
}

// do sends one request and returns the status code and raw body. Transport
// failures and 5xx responses come back as ErrGatewayTransport, rejected
// credentials as ErrConfiguration.
func (t *transport) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.base+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.SetBasicAuth(t.creds.Username, t.creds.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s %s: %w", domain.ErrGatewayTransport, method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%w: read %s %s: %w", domain.ErrGatewayTransport, method, path, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return resp.StatusCode, payload, fmt.Errorf("%w: %s %s rejected credentials (http %d)", domain.ErrConfiguration, method, path, resp.StatusCode)
	case resp.StatusCode >= http.StatusInternalServerError:
		return resp.StatusCode, payload, fmt.Errorf("%w: %s %s returned http %d", domain.ErrGatewayTransport, method, path, resp.StatusCode)
	}
	return resp.StatusCode, payload, nil
}

// decodeError extracts the provider error from a 4xx body, or a ProtocolError
// when the body does not carry one.
func decodeError(status int, payload []byte) (*apiError, error) {
	var env errorEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, &domain.ProtocolError{StatusCode: status, Payload: payload, Err: err}
	}
	if env.Error == nil {
		return nil, &domain.ProtocolError{StatusCode: status, Payload: payload, Err: errors.New("error response without error object")}
	}
	return env.Error, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
