package domain

import (
	"errors"
	"strings"
)

// BillingAddress is a snapshot of the billing details used for a charge.
type BillingAddress struct {
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Street     string `json:"street"`
	Street2    string `json:"street2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	Country    string `json:"country"`
	Zip        string `json:"zip"`
}

// RecipientName is the name printed on the remote address record.
func (a BillingAddress) RecipientName() string {
	return strings.TrimSpace(a.GivenName + " " + a.FamilyName)
}

// NickName labels the remote address record.
func (a BillingAddress) NickName() string {
	return a.GivenName + "-" + a.FamilyName
}

// Validate requires the fields the provider needs for address verification.
func (a BillingAddress) Validate() error {
	switch {
	case strings.TrimSpace(a.Street) == "":
		return errors.Join(ErrValidation, errors.New("billing street is required"))
	case strings.TrimSpace(a.City) == "":
		return errors.Join(ErrValidation, errors.New("billing city is required"))
	case len(strings.TrimSpace(a.Country)) != 2:
		return errors.Join(ErrValidation, errors.New("billing country must be a 2-letter code"))
	case strings.TrimSpace(a.Zip) == "":
		return errors.Join(ErrValidation, errors.New("billing zip is required"))
	}
	return nil
}

// Differs returns the names of the fields that changed between two snapshots.
func (a BillingAddress) Differs(other BillingAddress) []string {
	var changed []string
	check := func(name, x, y string) {
		if x != y {
			changed = append(changed, name)
		}
	}
	check("street", a.Street, other.Street)
	check("street2", a.Street2, other.Street2)
	check("city", a.City, other.City)
	check("state", a.State, other.State)
	check("country", a.Country, other.Country)
	check("zip", a.Zip, other.Zip)
	check("recipient_name", a.RecipientName(), other.RecipientName())
	return changed
}

// Equal compares snapshots field by field.
func (a BillingAddress) Equal(other BillingAddress) bool {
	return len(a.Differs(other)) == 0
}
