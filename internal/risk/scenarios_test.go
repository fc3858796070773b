package risk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/txguard/internal/address"
	"github.com/mbd888/txguard/internal/intel"
	"github.com/mbd888/txguard/internal/onchain"
	"github.com/mbd888/txguard/internal/simulate"
)

func TestScenario_FreshWalletUnverifiedApprove(t *testing.T) {
	sig := neutralSignals(simulate.Approve)
	sig.WalletOnChain.TxCount = i64(0)
	sig.ContractOnChain.IsVerified = boolp(false)
	sig.WalletGraph, sig.ContractGraph = nil, nil

	v := Aggregate(sig, fixedNow)
	assert.Equal(t, 83, v.RiskScore)
	assert.Equal(t, BandDangerous, v.Risk)
	assert.True(t, hasReason(v, "fresh wallet"))
	assert.True(t, hasReason(v, "unverified contract"))
	assert.InDelta(t, 0.938, v.Signals.Simulation.DrainProbability, 1e-9)
}

func TestScenario_EstablishedWalletVerifiedTransfer(t *testing.T) {
	sig := neutralSignals(simulate.Transfer)
	sig.WalletGraph, sig.ContractGraph = nil, nil

	v := Aggregate(sig, fixedNow)
	assert.Equal(t, 8, v.RiskScore)
	assert.Equal(t, BandSafe, v.Risk)
}

func TestScenario_KnownDrainerCounterparty(t *testing.T) {
	sig := neutralSignals(simulate.Transfer)
	sig.ContractScam = match(intel.CategoryDrainer, 0.95, true)

	v := Aggregate(sig, fixedNow)
	assert.GreaterOrEqual(t, v.RiskScore, 95)
	assert.Equal(t, BandDangerous, v.Risk)
	assert.True(t, hasReason(v, "scam intelligence: contract flagged as drainer"))
}

func TestScenario_WalletIsFlaggedNode(t *testing.T) {
	sig := neutralSignals(simulate.Transfer)
	sig.WalletGraph = near(0)

	v := Aggregate(sig, fixedNow)
	assert.Equal(t, 80+simulationPoints(v.Signals.Simulation.DrainProbability), v.RiskScore)
	assert.Equal(t, BandDangerous, v.Risk)
	assert.True(t, hasReason(v, "graph proximity: wallet is itself a flagged address"))
}

func TestScenario_TwoHopsSwap(t *testing.T) {
	sig := neutralSignals(simulate.Swap)
	sig.WalletGraph = near(2)

	v := Aggregate(sig, fixedNow)
	assert.Equal(t, 39, v.RiskScore)
	assert.Equal(t, BandCaution, v.Risk)
	assert.True(t, hasReason(v, "graph proximity: wallet is 2 hop(s) from flagged address "+scamAddr))
	assert.InDelta(t, 0.313, v.Signals.Simulation.DrainProbability, 1e-9)
}

func TestScenario_MalformedWallet(t *testing.T) {
	sig := &Signals{
		Wallet:   address.Validate("0x1234"),
		Contract: address.Validate(contractAddr),
		TxType:   simulate.Transfer,
	}
	v := Aggregate(sig, fixedNow)
	assert.Equal(t, BandDangerous, v.Risk)
	assert.Equal(t, MaxScore, v.RiskScore)
	require.NotEmpty(t, v.Reasons)
	assert.True(t, strings.HasPrefix(v.Reasons[0], "invalid address"))
	assert.Nil(t, v.Signals.Simulation)
}

func TestScenario_EOACounterparty(t *testing.T) {
	sig := neutralSignals(simulate.Transfer)
	sig.ContractOnChain = &onchain.Signals{
		TxCount:      i64(40),
		IsContract:   boolp(false),
		ContractType: onchain.ContractTypeEOA,
	}
	v := Aggregate(sig, fixedNow)
	assert.Equal(t, BandSafe, v.Risk)
	assert.Equal(t, 3, v.RiskScore)
}
