// Package onchain gathers per-address on-chain history for risk scoring.
//
// Each of the four lookups (transaction count, contract code, source
// verification, deployment time) is independently fallible. A failed lookup
// leaves its field nil, which downstream scoring treats as unknown rather
// than safe.
package onchain

import (
	"bytes"
	"errors"
)

var (
	// ErrUnsupported is returned by a Provider that cannot answer a query,
	// e.g. verification status without a block explorer configured.
	ErrUnsupported = errors.New("onchain: query not supported by provider")

	// ErrNotFound is returned when the data source has no answer for the
	// address, e.g. no creation record.
	ErrNotFound = errors.New("onchain: no data for address")
)

// Signal names, used as metric labels and in Signals.Unavailable.
const (
	SignalTxCount      = "tx_count"
	SignalCode         = "code"
	SignalVerification = "verification"
	SignalAge          = "age"
)

// ContractType classifies the code deployed at an address.
type ContractType string

const (
	ContractTypeEOA      ContractType = "eoa"
	ContractTypeContract ContractType = "contract"
	ContractTypeProxy    ContractType = "proxy"
	ContractTypeUnknown  ContractType = "unknown"
)

// Signals is the on-chain view of one address. nil fields are unknown.
type Signals struct {
	TxCount         *int64       `json:"txCount"`
	IsContract      *bool        `json:"isContract"`
	IsVerified      *bool        `json:"isVerified"`
	ContractType    ContractType `json:"contractType"`
	ContractAgeDays *int64       `json:"contractAgeDays"`
	// Unavailable lists the lookups that failed, in fixed signal order.
	Unavailable []string `json:"unavailable,omitempty"`
}

// Unknown returns Signals with every field unknown.
func Unknown() Signals {
	return Signals{
		ContractType: ContractTypeUnknown,
		Unavailable:  []string{SignalTxCount, SignalCode, SignalVerification, SignalAge},
	}
}

// AllUnknown reports whether no lookup produced a value.
func (s Signals) AllUnknown() bool {
	return s.TxCount == nil && s.IsContract == nil && s.IsVerified == nil && s.ContractAgeDays == nil
}

// Contract reports whether the address is known to hold code.
func (s Signals) Contract() bool {
	return s.IsContract != nil && *s.IsContract
}

// MaybeContract reports whether the address holds code or that is unknown.
func (s Signals) MaybeContract() bool {
	return s.IsContract == nil || *s.IsContract
}

var (
	// EIP-1167 minimal proxy runtime prefix.
	eip1167Prefix = []byte{0x36, 0x3d, 0x3d, 0x37, 0x3d, 0x3d, 0x3d, 0x36, 0x3d, 0x73}
	// EIP-1967 implementation slot, keccak256("eip1967.proxy.implementation") - 1.
	eip1967Slot = []byte{
		0x36, 0x08, 0x94, 0xa1, 0x3b, 0xa1, 0xa3, 0x21, 0x06, 0x67, 0xc8, 0x28, 0x49, 0x2d, 0xb9, 0x8d,
		0xca, 0x3e, 0x20, 0x76, 0xcc, 0x37, 0x35, 0xa9, 0x20, 0xa3, 0xca, 0x50, 0x5d, 0x38, 0x2b, 0xbc,
	}
)

// ClassifyCode derives the contract type from runtime bytecode.
func ClassifyCode(code []byte) ContractType {
	switch {
	case len(code) == 0:
		return ContractTypeEOA
	case bytes.HasPrefix(code, eip1167Prefix), bytes.Contains(code, eip1967Slot):
		return ContractTypeProxy
	default:
		return ContractTypeContract
	}
}
