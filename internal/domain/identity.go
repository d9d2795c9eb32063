package domain

import (
	"strings"

	"github.com/totegamma/sharedbag"
)

// IdentityEntry is one invited identity slot of a group setup.
type IdentityEntry struct {
	ID               string `json:"id"`
	RawInput         string `json:"rawInput"`
	Kind             Kind   `json:"kind"`
	CanonicalAddress string `json:"canonicalAddress,omitempty"`
	DisplayName      string `json:"displayName,omitempty"`
	Resolving        bool   `json:"resolving"`
}

// IsValid is true for a classified address, or an ENS name / email that
// resolved to a wallet.
func (e IdentityEntry) IsValid() bool {
	switch e.Kind {
	case KindAddress:
		return e.CanonicalAddress != ""
	case KindENSName, KindEmail:
		return !e.Resolving && e.CanonicalAddress != ""
	default:
		return false
	}
}

// Classify applies the fixed priority order: empty, address, ENS name, email.
func Classify(input string) Kind {
	if strings.TrimSpace(input) == "" {
		return KindInvalid
	}
	if sharedbag.IsAddress(input) {
		return KindAddress
	}
	if sharedbag.IsENSName(input) {
		return KindENSName
	}
	if sharedbag.IsEmail(input) {
		return KindEmail
	}
	return KindInvalid
}

// Resolution is what an identity resolver reports to its owner.
type Resolution struct {
	RawInput         string `json:"rawInput"`
	Kind             Kind   `json:"kind"`
	IsValid          bool   `json:"isValid"`
	CanonicalAddress string `json:"canonicalAddress,omitempty"`
	DisplayName      string `json:"displayName,omitempty"`
	Pending          bool   `json:"pending"`
}

func (e IdentityEntry) Resolution() Resolution {
	return Resolution{
		RawInput:         e.RawInput,
		Kind:             e.Kind,
		IsValid:          e.IsValid(),
		CanonicalAddress: e.CanonicalAddress,
		DisplayName:      e.DisplayName,
		Pending:          e.Resolving,
	}
}

// Apply overwrites the entry with a reported resolution, keeping its ID.
func (e *IdentityEntry) Apply(r Resolution) {
	e.RawInput = r.RawInput
	e.Kind = r.Kind
	e.CanonicalAddress = r.CanonicalAddress
	e.DisplayName = r.DisplayName
	e.Resolving = r.Pending
}
