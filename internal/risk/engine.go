package risk

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbd888/txguard/internal/address"
	"github.com/mbd888/txguard/internal/graph"
	"github.com/mbd888/txguard/internal/logging"
	"github.com/mbd888/txguard/internal/metrics"
	"github.com/mbd888/txguard/internal/onchain"
	"github.com/mbd888/txguard/internal/simulate"
	"github.com/mbd888/txguard/internal/snapshot"
	"github.com/mbd888/txguard/internal/traces"
	"github.com/mbd888/txguard/internal/validation"
)

// SignalCollector gathers on-chain signals for one address. Implementations
// must not fail; unavailable lookups are reported as nil fields.
type SignalCollector interface {
	Collect(ctx context.Context, addr address.Address) onchain.Signals
}

// Engine orchestrates one assessment: validate, match, collect, traverse,
// simulate, aggregate.
type Engine struct {
	holder    *snapshot.Holder
	collector SignalCollector
	now       func() time.Time
}

// NewEngine creates an engine reading datasets from holder. A nil collector
// reports every on-chain signal as unknown.
func NewEngine(holder *snapshot.Holder, collector SignalCollector) *Engine {
	if holder == nil {
		holder = snapshot.NewHolder(nil)
	}
	if collector == nil {
		collector = onchain.NewCollector(nil)
	}
	return &Engine{
		holder:    holder,
		collector: collector,
		now:       time.Now,
	}
}

// WithClock overrides the time source used for verdict timestamps.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Snapshot returns the dataset holder.
func (e *Engine) Snapshot() *snapshot.Holder {
	return e.holder
}

// ValidateRequest checks the call shape. It is the only rejection path:
// malformed addresses are not errors, they are scored.
func ValidateRequest(req Request) (simulate.TxType, error) {
	errs := validation.Validate(
		validation.Required("wallet", req.Wallet),
		validation.MaxLength("wallet", req.Wallet, validation.MaxStringLength),
		validation.Required("contract", req.Contract),
		validation.MaxLength("contract", req.Contract, validation.MaxStringLength),
		validation.Required("txType", req.TxType),
		validation.OneOf("txType", req.TxType, txTypeNames()...),
	)
	if len(errs) > 0 {
		return 0, errs
	}
	return simulate.ParseTxType(req.TxType)
}

func txTypeNames() []string {
	names := make([]string, len(simulate.Types))
	for i, t := range simulate.Types {
		names[i] = t.String()
	}
	return names
}

// Assess scores req. The only error is validation.ValidationErrors for an
// invalid call shape; every other condition yields a verdict.
func (e *Engine) Assess(ctx context.Context, req Request) (*Verdict, error) {
	start := time.Now()
	txType, err := ValidateRequest(req)
	if err != nil {
		return nil, err
	}

	ctx, span := traces.StartSpan(ctx, "risk.Assess", traces.TxType(txType.String()))
	defer span.End()

	sig := &Signals{
		Wallet:      address.Validate(req.Wallet),
		Contract:    address.Validate(req.Contract),
		TxType:      txType,
		MaxHopDepth: graph.DefaultMaxDepth,
	}
	span.SetAttributes(traces.Wallet(sig.Wallet.Normalized), traces.Contract(sig.Contract.Normalized))

	// One dataset for the whole request, whatever reloads happen meanwhile.
	ds := e.holder.Load()
	if ds != nil {
		sig.SnapshotLoaded = true
		sig.DatasetVersion = ds.Version
		sig.MaxHopDepth = ds.Graph.MaxDepth()
		span.SetAttributes(traces.DatasetVersion(ds.Version))
	}

	if reason := shortCircuitReason(sig); reason != "" {
		metrics.ShortCircuitsTotal.WithLabelValues(reason).Inc()
	} else {
		e.gather(ctx, sig, ds)
	}

	v := Aggregate(sig, e.now())

	metrics.AssessmentsTotal.WithLabelValues(v.Risk.String()).Inc()
	metrics.AssessmentDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(traces.Risk(v.Risk.String(), v.RiskScore)...)
	logging.L(ctx).Info("transaction assessed",
		"wallet", sig.Wallet.Normalized,
		"contract", sig.Contract.Normalized,
		"tx_type", txType.String(),
		"risk", v.Risk.String(),
		"score", v.RiskScore,
		"dataset", sig.DatasetVersion,
		"took", time.Since(start).String(),
	)
	return v, nil
}

// gather fills the intelligence, on-chain, graph and simulation signals.
func (e *Engine) gather(ctx context.Context, sig *Signals, ds *snapshot.Dataset) {
	if ds != nil {
		sig.WalletScam = ds.Registry.Match(sig.Wallet.Normalized)
		sig.ContractScam = ds.Registry.Match(sig.Contract.Normalized)
	}

	var wallet, contract onchain.Signals
	var g errgroup.Group
	g.Go(func() error {
		wallet = e.collector.Collect(ctx, sig.Wallet)
		return nil
	})
	g.Go(func() error {
		contract = e.collector.Collect(ctx, sig.Contract)
		return nil
	})
	_ = g.Wait()
	sig.WalletOnChain = &wallet
	sig.ContractOnChain = &contract

	if ds != nil {
		wg := ds.Graph.HopDistance(sig.Wallet.Normalized)
		cg := ds.Graph.HopDistance(sig.Contract.Normalized)
		sig.WalletGraph = &wg
		sig.ContractGraph = &cg
	}

	sim := Simulate(sig)
	sig.Simulation = &sim
}

// shortCircuitReason returns the metric label for an address check that
// decides the verdict on its own, or "".
func shortCircuitReason(sig *Signals) string {
	var reasons []string
	if !sig.Wallet.Valid || !sig.Contract.Valid {
		reasons = append(reasons, "invalid_address")
	}
	if sig.Wallet.Burn || sig.Contract.Burn {
		reasons = append(reasons, "burn_address")
	}
	return strings.Join(reasons, "+")
}
