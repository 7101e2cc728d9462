package domain

import (
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Address is a base58-encoded 32-byte account identifier.
type Address string

// ParseAddress validates and normalizes a base58 account address.
func ParseAddress(s string) (Address, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return "", fmt.Errorf("decode address: %w", err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("address must decode to 32 bytes, got %d", len(raw))
	}
	return Address(base58.Encode(raw)), nil
}

// Valid reports whether the address is well-formed base58 of 32 bytes.
func (a Address) Valid() bool {
	raw, err := base58.Decode(string(a))
	return err == nil && len(raw) == 32
}

// OnCurve reports whether the address bytes form a valid ed25519 point.
// Program-derived accounts are deliberately off-curve, so this distinguishes
// wallet addresses (which can hold certificates) from derived ones.
func (a Address) OnCurve() bool {
	raw, err := base58.Decode(string(a))
	if err != nil || len(raw) != 32 {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(raw)
	return err == nil
}

func (a Address) String() string {
	return string(a)
}
