// Package address validates and normalizes EVM account addresses and
// recognizes canonical burn/null addresses.
package address

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var hexAddressRegex = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// burnAddresses are destinations known to be unspendable. Keys are the
// lowercase hex form.
var burnAddresses = map[string]string{
	lowerHex(common.Address{}): "zero address",
	lowerHex(common.HexToAddress("0x0000000000000000000000000000000000000001")): "ecrecover precompile",
	lowerHex(common.HexToAddress("0x000000000000000000000000000000000000dEaD")): "dead address",
	lowerHex(common.HexToAddress("0xdEAD000000000000000042069420694206942069")): "dead address",
}

// Address is a validated, normalized address. The zero value is invalid.
type Address struct {
	Raw        string `json:"raw"`
	Normalized string `json:"normalized"`
	Valid      bool   `json:"valid"`
	Burn       bool   `json:"burn"`
}

// Validate normalizes raw and reports whether it is a well-formed address
// and whether it is a known burn address. It never fails: malformed input
// yields Valid == false.
func Validate(raw string) Address {
	norm := Normalize(raw)
	a := Address{
		Raw:        raw,
		Normalized: norm,
		Valid:      hexAddressRegex.MatchString(norm),
	}
	if a.Valid {
		_, a.Burn = burnAddresses[norm]
	}
	return a
}

// Normalize trims surrounding whitespace and lowercases s.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsValid reports whether s normalizes to a well-formed address.
func IsValid(s string) bool {
	return hexAddressRegex.MatchString(Normalize(s))
}

// BurnLabel returns a short description of the burn address, or "" if the
// address is not a burn address.
func (a Address) BurnLabel() string {
	if !a.Burn {
		return ""
	}
	return burnAddresses[a.Normalized]
}

// Common returns the go-ethereum form of the address. Only meaningful when
// Valid is true.
func (a Address) Common() common.Address {
	return common.HexToAddress(a.Normalized)
}

func (a Address) String() string {
	if a.Normalized != "" {
		return a.Normalized
	}
	return a.Raw
}

func lowerHex(a common.Address) string {
	return strings.ToLower(a.Hex())
}
