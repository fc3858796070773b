package risk

import (
	"strings"
	"time"

	"github.com/mbd888/txguard/internal/address"
	"github.com/mbd888/txguard/internal/graph"
	"github.com/mbd888/txguard/internal/intel"
	"github.com/mbd888/txguard/internal/onchain"
	"github.com/mbd888/txguard/internal/simulate"
)

var (
	walletAddr   = "0x" + strings.Repeat("11", 20)
	contractAddr = "0x" + strings.Repeat("22", 20)
	scamAddr     = "0x" + strings.Repeat("99", 20)
	hopAddr      = "0x" + strings.Repeat("33", 20)
	fixedNow     = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)
)

func i64(v int64) *int64 { return &v }
func boolp(v bool) *bool { return &v }

func near(d int) *graph.Result {
	return &graph.Result{InGraph: true, Distance: &d, Nearest: scamAddr}
}

func distant() *graph.Result {
	return &graph.Result{InGraph: true}
}

func establishedWallet() *onchain.Signals {
	return &onchain.Signals{
		TxCount:      i64(150),
		IsContract:   boolp(false),
		ContractType: onchain.ContractTypeEOA,
	}
}

func establishedContract() *onchain.Signals {
	return &onchain.Signals{
		TxCount:         i64(5000),
		IsContract:      boolp(true),
		IsVerified:      boolp(true),
		ContractType:    onchain.ContractTypeContract,
		ContractAgeDays: i64(500),
	}
}

func unknownOnChain() *onchain.Signals {
	u := onchain.Unknown()
	return &u
}

func match(cat intel.Category, conf float64, exact bool) *intel.Match {
	rec := intel.ScamRecord{Address: scamAddr, Category: cat, Confidence: conf, Source: "testfeed"}
	m := &intel.Match{Record: rec, Exact: exact}
	if !exact {
		m.ClusterID = "c-1"
	}
	return m
}

// neutralSignals is a well-established pair, both in the graph with no
// flagged address nearby.
func neutralSignals(tx simulate.TxType) *Signals {
	return &Signals{
		Wallet:          address.Validate(walletAddr),
		Contract:        address.Validate(contractAddr),
		TxType:          tx,
		WalletOnChain:   establishedWallet(),
		ContractOnChain: establishedContract(),
		WalletGraph:     distant(),
		ContractGraph:   distant(),
		SnapshotLoaded:  true,
		DatasetVersion:  "test",
		MaxHopDepth:     graph.DefaultMaxDepth,
	}
}
