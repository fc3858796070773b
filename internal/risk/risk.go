// Package risk scores a proposed transaction as SAFE, CAUTION or DANGEROUS.
//
// A verdict is a pure function of the fused signal bundle: address checks,
// on-chain history for both parties, scam intelligence matches, association
// graph proximity and the transaction impact simulation. Every contributing
// condition adds points from a fixed weight table and exactly one reason, in
// a fixed order, so identical inputs produce byte-identical verdicts.
package risk

import (
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/txguard/internal/address"
	"github.com/mbd888/txguard/internal/graph"
	"github.com/mbd888/txguard/internal/intel"
	"github.com/mbd888/txguard/internal/onchain"
	"github.com/mbd888/txguard/internal/simulate"
)

// Band is the three-way classification of a score.
type Band int

const (
	BandSafe Band = iota + 1
	BandCaution
	BandDangerous
)

// Band boundaries, inclusive.
const (
	MaxScore   = 100
	SafeMax    = 29
	CautionMax = 69
)

// BandFor classifies a score. Scores are clamped to [0, MaxScore] first.
func BandFor(score int) Band {
	switch s := clampScore(score); {
	case s <= SafeMax:
		return BandSafe
	case s <= CautionMax:
		return BandCaution
	default:
		return BandDangerous
	}
}

func (b Band) String() string {
	switch b {
	case BandSafe:
		return "SAFE"
	case BandCaution:
		return "CAUTION"
	case BandDangerous:
		return "DANGEROUS"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (b Band) MarshalText() ([]byte, error) {
	if b < BandSafe || b > BandDangerous {
		return nil, fmt.Errorf("risk: invalid band %d", int(b))
	}
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Band) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "SAFE":
		*b = BandSafe
	case "CAUTION":
		*b = BandCaution
	case "DANGEROUS":
		*b = BandDangerous
	default:
		return fmt.Errorf("risk: unknown band %q", text)
	}
	return nil
}

// Request is the call shape accepted by Engine.Assess.
type Request struct {
	Wallet   string `json:"wallet"`
	Contract string `json:"contract"`
	TxType   string `json:"txType"`
}

// Signals is the complete fused bundle scored by Aggregate and returned to
// the caller for audit. Pointer fields are nil when the pipeline stopped
// before computing them (address short-circuit) or the dataset was absent.
type Signals struct {
	Wallet          address.Address  `json:"wallet"`
	Contract        address.Address  `json:"contract"`
	TxType          simulate.TxType  `json:"txType"`
	WalletOnChain   *onchain.Signals `json:"walletOnChain"`
	ContractOnChain *onchain.Signals `json:"contractOnChain"`
	WalletScam      *intel.Match     `json:"walletScam"`
	ContractScam    *intel.Match     `json:"contractScam"`
	WalletGraph     *graph.Result    `json:"walletGraph"`
	ContractGraph   *graph.Result    `json:"contractGraph"`
	Simulation      *simulate.Result `json:"simulation"`
	SnapshotLoaded  bool             `json:"snapshotLoaded"`
	DatasetVersion  string           `json:"datasetVersion,omitempty"`
	MaxHopDepth     int              `json:"maxHopDepth"`
}

// Verdict is the engine's answer for one transaction.
type Verdict struct {
	Risk      Band     `json:"risk"`
	RiskScore int      `json:"riskScore"`
	Reasons   []string `json:"reasons"`
	Signals   *Signals `json:"signals"`
	Timestamp string   `json:"timestamp"`
}

// timestampLayout is RFC 3339 with fixed millisecond precision, so output
// width does not depend on the clock value.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
