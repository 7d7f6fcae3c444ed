package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CardType names a card brand accepted by the onsite gateway.
type CardType string

const (
	CardVisa       CardType = "visa"
	CardMastercard CardType = "mastercard"
)

// SupportedCardTypes lists the brands the onsite flow accepts.
var SupportedCardTypes = []CardType{CardVisa, CardMastercard}

// CardDetails are the raw card fields collected from the customer.
type CardDetails struct {
	Type     CardType `json:"type"`
	Number   string   `json:"number"`
	ExpMonth int      `json:"exp_month"`
	ExpYear  int      `json:"exp_year"`
	CVV      string   `json:"cvv,omitempty"`
}

// Validate checks brand, number checksum and expiry against now.
func (c CardDetails) Validate(now time.Time) error {
	if !c.supported() {
		return errors.Join(ErrValidation, fmt.Errorf("card type %q is not supported", c.Type))
	}
	number := c.normalizedNumber()
	if len(number) < 12 || len(number) > 19 || !luhnValid(number) {
		return errors.Join(ErrValidation, errors.New("card number is invalid"))
	}
	if c.ExpMonth < 1 || c.ExpMonth > 12 {
		return errors.Join(ErrValidation, errors.New("card expiry month is invalid"))
	}
	if !c.ExpiresAt().After(now) {
		return errors.Join(ErrValidation, errors.New("card is expired"))
	}
	return nil
}

// ExpiresAt is the first instant after the card's expiry month.
func (c CardDetails) ExpiresAt() time.Time {
	return time.Date(c.ExpYear, time.Month(c.ExpMonth)+1, 1, 0, 0, 0, 0, time.UTC)
}

// Last4 returns the trailing digits for display.
func (c CardDetails) Last4() string {
	number := c.normalizedNumber()
	if len(number) < 4 {
		return number
	}
	return number[len(number)-4:]
}

// Fingerprint identifies the same physical card without storing its number.
func (c CardDetails) Fingerprint() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%02d|%04d", c.normalizedNumber(), c.ExpMonth, c.ExpYear)))
	return hex.EncodeToString(sum[:])
}

func (c CardDetails) normalizedNumber() string {
	return strings.NewReplacer(" ", "", "-", "").Replace(c.Number)
}

func (c CardDetails) supported() bool {
	for _, t := range SupportedCardTypes {
		if c.Type == t {
			return true
		}
	}
	return false
}

func luhnValid(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
