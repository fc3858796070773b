package risk

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mbd888/txguard/internal/intel"
	"github.com/mbd888/txguard/internal/simulate"
)

// ladder moves one signal from its least to its most suspicious level.
type ladder struct {
	name  string
	steps []func(*Signals)
}

func ladders() []ladder {
	return []ladder{
		{"wallet history", []func(*Signals){
			func(s *Signals) { s.WalletOnChain.TxCount = i64(150) },
			func(s *Signals) { s.WalletOnChain.TxCount = i64(5) },
			func(s *Signals) { s.WalletOnChain.TxCount = nil },
			func(s *Signals) { s.WalletOnChain.TxCount = i64(0) },
		}},
		{"verification", []func(*Signals){
			func(s *Signals) { s.ContractOnChain.IsVerified = boolp(true) },
			func(s *Signals) { s.ContractOnChain.IsVerified = nil },
			func(s *Signals) { s.ContractOnChain.IsVerified = boolp(false) },
		}},
		{"contract age", []func(*Signals){
			func(s *Signals) { s.ContractOnChain.ContractAgeDays = i64(500) },
			func(s *Signals) { s.ContractOnChain.ContractAgeDays = nil },
			func(s *Signals) { s.ContractOnChain.ContractAgeDays = i64(20) },
			func(s *Signals) { s.ContractOnChain.ContractAgeDays = i64(3) },
		}},
		{"counterparty kind", []func(*Signals){
			func(s *Signals) { s.ContractOnChain.IsContract = boolp(false) },
			func(s *Signals) { s.ContractOnChain.IsContract = boolp(true) },
		}},
		{"unknown to fresh wallet", []func(*Signals){
			func(s *Signals) { s.WalletOnChain.TxCount = nil },
			func(s *Signals) { s.WalletOnChain.TxCount = i64(0) },
		}},
		{"unknown to unverified", []func(*Signals){
			func(s *Signals) { s.ContractOnChain.IsVerified = nil },
			func(s *Signals) { s.ContractOnChain.IsVerified = boolp(false) },
		}},
		{"graph unknown to near", []func(*Signals){
			func(s *Signals) { s.WalletGraph = nil },
			func(s *Signals) { s.WalletGraph = near(2) },
		}},
		{"counterparty kind unknown", []func(*Signals){
			func(s *Signals) { s.ContractOnChain.IsContract = boolp(false) },
			func(s *Signals) { s.ContractOnChain.IsContract = nil },
		}},
		{"contract scam", []func(*Signals){
			func(s *Signals) { s.ContractScam = nil },
			func(s *Signals) { s.ContractScam = match(intel.CategoryMixer, 0.5, false) },
			func(s *Signals) { s.ContractScam = match(intel.CategoryMixer, 0.5, true) },
			func(s *Signals) { s.ContractScam = match(intel.CategoryDrainer, 0.9, true) },
		}},
		{"wallet scam", []func(*Signals){
			func(s *Signals) { s.WalletScam = nil },
			func(s *Signals) { s.WalletScam = match(intel.CategoryPhishing, 0.3, false) },
			func(s *Signals) { s.WalletScam = match(intel.CategoryPhishing, 0.8, true) },
		}},
		{"wallet graph", []func(*Signals){
			func(s *Signals) { s.WalletGraph = distant() },
			func(s *Signals) { s.WalletGraph = near(3) },
			func(s *Signals) { s.WalletGraph = near(2) },
			func(s *Signals) { s.WalletGraph = near(1) },
			func(s *Signals) { s.WalletGraph = near(0) },
		}},
		{"contract graph", []func(*Signals){
			func(s *Signals) { s.ContractGraph = distant() },
			func(s *Signals) { s.ContractGraph = near(2) },
			func(s *Signals) { s.ContractGraph = near(0) },
		}},
		{"snapshot", []func(*Signals){
			func(s *Signals) { s.SnapshotLoaded = true },
			func(s *Signals) { s.SnapshotLoaded = false },
		}},
		{"tx type", []func(*Signals){
			func(s *Signals) { s.TxType = simulate.Transfer },
			func(s *Signals) { s.TxType = simulate.Swap },
			func(s *Signals) { s.TxType = simulate.Approve },
		}},
	}
}

// backgrounds are starting points the ladders are climbed from.
func backgrounds() map[string]func() *Signals {
	out := make(map[string]func() *Signals)
	for _, tx := range simulate.Types {
		out["neutral/"+tx.String()] = func() *Signals { return neutralSignals(tx) }
		out["suspicious/"+tx.String()] = func() *Signals {
			s := neutralSignals(tx)
			s.WalletOnChain.TxCount = i64(2)
			s.ContractOnChain.IsVerified = boolp(false)
			s.ContractOnChain.ContractAgeDays = i64(10)
			s.ContractGraph = near(3)
			return s
		}
		out["unknown contract/"+tx.String()] = func() *Signals {
			s := neutralSignals(tx)
			s.ContractOnChain = unknownOnChain()
			return s
		}
		out["blind/"+tx.String()] = func() *Signals {
			s := neutralSignals(tx)
			s.WalletOnChain = unknownOnChain()
			s.ContractOnChain = unknownOnChain()
			s.WalletGraph, s.ContractGraph = nil, nil
			return s
		}
	}
	return out
}

func TestMonotonicity(t *testing.T) {
	for bgName, bg := range backgrounds() {
		for _, l := range ladders() {
			t.Run(fmt.Sprintf("%s/%s", bgName, l.name), func(t *testing.T) {
				prev := -1
				prevBand := Band(0)
				for i, step := range l.steps {
					sig := bg()
					step(sig)
					v := Aggregate(sig, fixedNow)
					assert.GreaterOrEqual(t, v.RiskScore, prev, "step %d lowered score: %v", i, v.Reasons)
					assert.GreaterOrEqual(t, v.Risk, prevBand, "step %d lowered band", i)
					prev, prevBand = v.RiskScore, v.Risk
				}
			})
		}
	}
}

func TestSimulationInputMonotonic(t *testing.T) {
	for _, l := range ladders() {
		if strings.HasPrefix(l.name, "snapshot") || strings.HasPrefix(l.name, "wallet scam") {
			continue
		}
		prev := -1.0
		for i, step := range l.steps {
			sig := neutralSignals(simulate.Swap)
			step(sig)
			p := Simulate(sig).DrainProbability
			assert.GreaterOrEqual(t, p, prev, "%s step %d", l.name, i)
			prev = p
		}
	}
}
