package domain

import "time"

// Customer identifies the local owner of a vault record.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// VaultRecord holds the remote identifiers memoized for a local customer.
type VaultRecord struct {
	CustomerID      string
	ProfileID       string
	AddressID       string
	CardID          string
	PaymentToken    string
	CardFingerprint string
	Address         BillingAddress
	UpdatedAt       time.Time
}

// Complete reports whether profile, address and card have all been created.
func (r VaultRecord) Complete() bool {
	return r.ProfileID != "" && r.AddressID != "" && r.CardID != "" && r.PaymentToken != ""
}

// RemoteCard is the provider's view of a stored card.
type RemoteCard struct {
	ID           string
	PaymentToken string
}

// PaymentMethod is the stored, reusable card reference returned to the host.
type PaymentMethod struct {
	CustomerID string    `json:"customer_id"`
	RemoteID   string    `json:"remote_id"`
	CardType   CardType  `json:"card_type"`
	Last4      string    `json:"last4"`
	ExpMonth   int       `json:"exp_month"`
	ExpYear    int       `json:"exp_year"`
	ExpiresAt  time.Time `json:"expires_at"`
	Vaulted    bool      `json:"vaulted"`
}

// NoticeLevel grades a user-facing message.
type NoticeLevel string

const (
	NoticeError   NoticeLevel = "error"
	NoticeWarning NoticeLevel = "warning"
)

// Notice is a message meant for the end user.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}
