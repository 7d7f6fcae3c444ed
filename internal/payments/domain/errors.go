package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks missing or invalid gateway credentials.
	ErrConfiguration = errors.New("gateway configuration error")
	// ErrGatewayUnavailable is returned when the liveness probe fails.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrGatewayTransport covers network, TLS and timeout failures mid-call.
	ErrGatewayTransport = errors.New("payment gateway transport error")
	// ErrGatewayProtocol marks a response body that could not be understood.
	ErrGatewayProtocol = errors.New("payment gateway protocol error")
	// ErrVault wraps failed remote vault operations.
	ErrVault = errors.New("customer vault error")
	// ErrDeclined is a business outcome: the issuer or provider refused the charge.
	ErrDeclined = errors.New("payment declined")
	// ErrUnderReview is a business outcome: the charge is held for manual review.
	ErrUnderReview = errors.New("payment held for review")

	ErrInvalidTransition = errors.New("invalid payment state transition")
	ErrNotFound          = errors.New("not found")
	ErrInvalidSignature  = errors.New("invalid return signature")
	ErrValidation        = errors.New("validation failed")
)

// Vault operation names attached to VaultError.
const (
	OpCreateProfile = "create-profile"
	OpCreateAddress = "create-address"
	OpUpdateAddress = "update-address"
	OpCreateCard    = "create-card"
	OpStoreRecord   = "store-record"
)

// VaultError reports which remote vault operation failed for which customer.
type VaultError struct {
	Op         string
	CustomerID string
	Err        error
}

func (e *VaultError) Error() string {
	return fmt.Sprintf("vault %s for customer %s: %v", e.Op, e.CustomerID, e.Err)
}

func (e *VaultError) Unwrap() []error {
	return []error{ErrVault, e.Err}
}

// ProtocolError keeps the raw payload of a response that could not be decoded.
type ProtocolError struct {
	StatusCode int
	Payload    []byte
	Err        error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%v (http %d): %v", ErrGatewayProtocol, e.StatusCode, e.Err)
}

func (e *ProtocolError) Unwrap() []error {
	return []error{ErrGatewayProtocol, e.Err}
}

// Retryable reports whether a caller may retry. Gateway retries must use a
// fresh merchant reference; vault retries resume from the stored identifiers.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrDeclined), errors.Is(err, ErrUnderReview), errors.Is(err, ErrConfiguration):
		return false
	case errors.Is(err, ErrGatewayUnavailable), errors.Is(err, ErrGatewayTransport), errors.Is(err, ErrVault):
		return true
	default:
		return false
	}
}

// IsBusinessOutcome reports errors that describe a result rather than a fault.
func IsBusinessOutcome(err error) bool {
	return errors.Is(err, ErrDeclined) || errors.Is(err, ErrUnderReview)
}
