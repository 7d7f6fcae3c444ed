package domain

import "strings"

// GatewayStatus is the normalized outcome of an authorization call.
type GatewayStatus string

const (
	StatusCompleted   GatewayStatus = "COMPLETED"
	StatusFailed      GatewayStatus = "FAILED"
	StatusHeld        GatewayStatus = "HELD"
	StatusUnreachable GatewayStatus = "UNREACHABLE"
)

// ParseGatewayStatus maps a provider status string. Unknown values map to
// StatusFailed with ok=false so callers can log the raw payload.
func ParseGatewayStatus(s string) (GatewayStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "COMPLETED":
		return StatusCompleted, true
	case "FAILED", "CANCELLED":
		return StatusFailed, true
	case "HELD":
		return StatusHeld, true
	default:
		return StatusFailed, false
	}
}

// GatewayResponse is produced by the gateway client and consumed once by the state machine.
type GatewayResponse struct {
	Status        GatewayStatus
	TransactionID string
	RemoteState   string
	Raw           []byte
	// Cause is set when no usable response was obtained.
	Cause error
}

// Unreachable builds the response used when the gateway call produced no response.
func Unreachable(cause error) GatewayResponse {
	return GatewayResponse{Status: StatusUnreachable, Cause: cause}
}

// Capabilities describes which flows a gateway supports.
type Capabilities struct {
	AuthorizesOnsite        bool `json:"authorizes_onsite"`
	SupportsOffsiteRedirect bool `json:"supports_offsite_redirect"`
}
