package risk

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/txguard/internal/address"
	"github.com/mbd888/txguard/internal/graph"
	"github.com/mbd888/txguard/internal/intel"
	"github.com/mbd888/txguard/internal/onchain"
	"github.com/mbd888/txguard/internal/snapshot"
	"github.com/mbd888/txguard/internal/validation"
)

// fakeCollector serves canned signals and counts calls.
type fakeCollector struct {
	mu      sync.Mutex
	signals map[string]onchain.Signals
	calls   atomic.Int32
	hook    func()
}

func newFakeCollector() *fakeCollector {
	return &fakeCollector{signals: make(map[string]onchain.Signals)}
}

func (f *fakeCollector) set(addr string, s *onchain.Signals) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals[address.Normalize(addr)] = *s
}

func (f *fakeCollector) Collect(_ context.Context, addr address.Address) onchain.Signals {
	f.calls.Add(1)
	if f.hook != nil {
		f.hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.signals[addr.Normalized]; ok {
		return s
	}
	return onchain.Unknown()
}

// testDataset flags scamAddr and links wallet -> hop -> scam.
func testDataset(t *testing.T) *snapshot.Dataset {
	t.Helper()
	reg, err := intel.NewRegistry([]intel.ScamRecord{
		{Address: scamAddr, Category: intel.CategoryDrainer, Confidence: 0.9, Source: "testfeed"},
	}, nil)
	require.NoError(t, err)

	b := graph.NewBuilder()
	b.AddEdge(walletAddr, hopAddr)
	b.AddEdge(hopAddr, scamAddr)
	b.AddNode(contractAddr)
	return snapshot.NewDataset(reg, b.Build(reg.IsFlagged, graph.DefaultMaxDepth), fixedNow)
}

func testEngine(t *testing.T) (*Engine, *fakeCollector) {
	t.Helper()
	fc := newFakeCollector()
	fc.set(walletAddr, establishedWallet())
	fc.set(contractAddr, establishedContract())
	e := NewEngine(snapshot.NewHolder(testDataset(t)), fc).
		WithClock(func() time.Time { return fixedNow })
	return e, fc
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"missing wallet", Request{Contract: contractAddr, TxType: "swap"}, "wallet"},
		{"missing contract", Request{Wallet: walletAddr, TxType: "swap"}, "contract"},
		{"missing type", Request{Wallet: walletAddr, Contract: contractAddr}, "txType"},
		{"bad type", Request{Wallet: walletAddr, Contract: contractAddr, TxType: "mint"}, "txType"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateRequest(tt.req)
			var verrs validation.ValidationErrors
			require.True(t, errors.As(err, &verrs), "got %v", err)
			assert.Equal(t, tt.field, verrs[0].Field)
		})
	}

	tx, err := ValidateRequest(Request{Wallet: walletAddr, Contract: contractAddr, TxType: "APPROVE"})
	require.NoError(t, err)
	assert.Equal(t, "approve", tx.String())
}

func TestEngine_RejectsBadShapeWithoutWork(t *testing.T) {
	e, fc := testEngine(t)
	v, err := e.Assess(context.Background(), Request{Wallet: walletAddr, Contract: contractAddr, TxType: "stake"})
	assert.Nil(t, v)
	assert.Error(t, err)
	assert.Zero(t, fc.calls.Load())
}

func TestEngine_InvalidAddressIsAVerdict(t *testing.T) {
	e, fc := testEngine(t)
	v, err := e.Assess(context.Background(), Request{Wallet: "0x1234", Contract: contractAddr, TxType: "transfer"})
	require.NoError(t, err)
	assert.Equal(t, BandDangerous, v.Risk)
	assert.Equal(t, MaxScore, v.RiskScore)
	assert.Zero(t, fc.calls.Load(), "no lookups for an invalid address")
	assert.Nil(t, v.Signals.WalletOnChain)
}

func TestEngine_BurnAddressShortCircuits(t *testing.T) {
	e, fc := testEngine(t)
	v, err := e.Assess(context.Background(), Request{
		Wallet:   walletAddr,
		Contract: "0x000000000000000000000000000000000000dEaD",
		TxType:   "transfer",
	})
	require.NoError(t, err)
	assert.Equal(t, BandDangerous, v.Risk)
	assert.Equal(t, MaxScore, v.RiskScore)
	assert.Zero(t, fc.calls.Load())
	assert.Nil(t, v.Signals.WalletGraph)
}

func TestEngine_FusesAllSignals(t *testing.T) {
	e, fc := testEngine(t)
	v, err := e.Assess(context.Background(), Request{Wallet: walletAddr, Contract: contractAddr, TxType: "swap"})
	require.NoError(t, err)

	assert.Equal(t, int32(2), fc.calls.Load())
	sig := v.Signals
	assert.True(t, sig.SnapshotLoaded)
	assert.Equal(t, e.Snapshot().Load().Version, sig.DatasetVersion)
	require.NotNil(t, sig.WalletGraph)
	require.NotNil(t, sig.WalletGraph.Distance)
	assert.Equal(t, 2, *sig.WalletGraph.Distance)
	assert.Equal(t, scamAddr, sig.WalletGraph.Nearest)
	require.NotNil(t, sig.ContractGraph)
	assert.True(t, sig.ContractGraph.InGraph)
	assert.Nil(t, sig.ContractGraph.Distance)
	assert.Nil(t, sig.WalletScam)
	assert.Nil(t, sig.ContractScam)
	require.NotNil(t, sig.Simulation)

	// Two hops on a swap with an established pair.
	assert.Equal(t, 39, v.RiskScore)
	assert.Equal(t, BandCaution, v.Risk)
}

func TestEngine_ScamCounterparty(t *testing.T) {
	e, fc := testEngine(t)
	fc.set(scamAddr, establishedContract())
	v, err := e.Assess(context.Background(), Request{Wallet: walletAddr, Contract: scamAddr, TxType: "approve"})
	require.NoError(t, err)
	require.NotNil(t, v.Signals.ContractScam)
	assert.True(t, v.Signals.ContractScam.Exact)
	assert.Equal(t, 0, *v.Signals.ContractGraph.Distance)
	assert.Equal(t, MaxScore, v.RiskScore)
	assert.Equal(t, BandDangerous, v.Risk)
}

func TestEngine_NoSnapshotNoChain(t *testing.T) {
	e := NewEngine(nil, nil).WithClock(func() time.Time { return fixedNow })
	v, err := e.Assess(context.Background(), Request{Wallet: walletAddr, Contract: contractAddr, TxType: "transfer"})
	require.NoError(t, err)
	assert.False(t, v.Signals.SnapshotLoaded)
	assert.Nil(t, v.Signals.WalletGraph)
	assert.Equal(t, BandDangerous, v.Risk)
	assert.True(t, hasReason(v, "fail-closed"))
}

func TestEngine_Deterministic(t *testing.T) {
	e, _ := testEngine(t)
	req := Request{Wallet: walletAddr, Contract: contractAddr, TxType: "approve"}

	first, err := e.Assess(context.Background(), req)
	require.NoError(t, err)
	want, err := json.Marshal(first)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		v, err := e.Assess(context.Background(), req)
		require.NoError(t, err)
		got, err := json.Marshal(v)
		require.NoError(t, err)
		assert.Equal(t, string(want), string(got))
	}
}

func TestEngine_PinsDatasetForRequest(t *testing.T) {
	e, fc := testEngine(t)
	before := e.Snapshot().Load()

	replacement := snapshot.NewDataset(nil, nil, fixedNow.Add(time.Hour))
	var once sync.Once
	fc.hook = func() {
		once.Do(func() { e.Snapshot().Swap(replacement) })
	}

	v, err := e.Assess(context.Background(), Request{Wallet: walletAddr, Contract: contractAddr, TxType: "transfer"})
	require.NoError(t, err)
	assert.Equal(t, before.Version, v.Signals.DatasetVersion)
	require.NotNil(t, v.Signals.WalletGraph.Distance, "graph read from the pinned dataset")
	assert.Same(t, replacement, e.Snapshot().Load())
}

func TestEngine_ConcurrentAssessments(t *testing.T) {
	e, _ := testEngine(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := e.Assess(context.Background(), Request{Wallet: walletAddr, Contract: contractAddr, TxType: "swap"})
			if assert.NoError(t, err) {
				assert.Equal(t, 39, v.RiskScore)
			}
		}()
	}
	wg.Wait()
}
