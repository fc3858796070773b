// Package simulate estimates how likely signing a transaction is to end in
// an unauthorized loss of funds. It is a deterministic formula over the
// transaction type and signals already gathered; no bytecode is executed.
package simulate

import (
	"fmt"
	"math"
	"strings"
)

// TxType is the kind of transaction the user is about to sign.
type TxType int

const (
	Transfer TxType = iota + 1
	Swap
	Approve
)

// Types lists every transaction type, lowest baseline risk first.
var Types = []TxType{Transfer, Swap, Approve}

// ParseTxType maps a case-insensitive tag to a TxType.
func ParseTxType(s string) (TxType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "transfer":
		return Transfer, nil
	case "swap":
		return Swap, nil
	case "approve":
		return Approve, nil
	default:
		return 0, fmt.Errorf("simulate: unknown transaction type %q", s)
	}
}

func (t TxType) String() string {
	switch t {
	case Transfer:
		return "transfer"
	case Swap:
		return "swap"
	case Approve:
		return "approve"
	default:
		return "unknown"
	}
}

// Valid reports whether t is one of the declared types.
func (t TxType) Valid() bool {
	return t == Transfer || t == Swap || t == Approve
}

// MarshalText implements encoding.TextMarshaler.
func (t TxType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("simulate: invalid transaction type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TxType) UnmarshalText(b []byte) error {
	v, err := ParseTxType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Baseline is the drain probability of a type before any signal scaling.
// Approve grants a standing spend authorization, swap carries execution
// risk, transfer moves funds once.
func (t TxType) Baseline() float64 {
	switch t {
	case Transfer:
		return 0.10
	case Swap:
		return 0.25
	case Approve:
		return 0.50
	default:
		return 0.50
	}
}

// Input holds the scaling factors. Each is clamped to [0,1]; larger is worse.
type Input struct {
	CounterpartyScam float64 // severity-weighted scam match strength of the counterparty
	Proximity        float64 // graph closeness of the nearer side to a flagged node
	Unverified       float64 // 1 unverified, 0.5 unknown, 0 verified or not a contract
	NewContract      float64 // 1 deployed within a week, 0.5 within a month
	FreshWallet      float64 // 1 no history, 0.5 thin or unknown history
}

// Result is the simulator output.
type Result struct {
	TxType           TxType  `json:"txType"`
	Baseline         float64 `json:"baseline"`
	Multiplier       float64 `json:"multiplier"`
	DrainProbability float64 `json:"drainProbability"`
}

// Simulate computes the drain probability for t under in. It is monotonic:
// raising any input never lowers the result.
func Simulate(t TxType, in Input) Result {
	scam := clamp01(in.CounterpartyScam)
	prox := clamp01(in.Proximity)
	unv := clamp01(in.Unverified)
	fresh := clamp01(in.NewContract)
	wallet := clamp01(in.FreshWallet)

	mult := (1 + 1.0*scam + 0.5*prox) *
		(1 + 0.5*unv + 0.5*fresh) *
		(1 + 0.25*wallet)

	base := t.Baseline()
	p := math.Min(1, base*mult)
	return Result{
		TxType:           t,
		Baseline:         base,
		Multiplier:       round3(mult),
		DrainProbability: round3(p),
	}
}

// Proximity converts a hop distance into a closeness factor in (0,1] for
// distances within maxDepth: distance 0 is 1, maxDepth is 1/(maxDepth+1).
func Proximity(distance, maxDepth int) float64 {
	if distance < 0 || maxDepth < 0 || distance > maxDepth {
		return 0
	}
	return float64(maxDepth+1-distance) / float64(maxDepth+1)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
