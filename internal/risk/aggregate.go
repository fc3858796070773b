package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/mbd888/txguard/internal/graph"
	"github.com/mbd888/txguard/internal/intel"
	"github.com/mbd888/txguard/internal/onchain"
	"github.com/mbd888/txguard/internal/simulate"
)

// Weight table, in points.
const (
	WeightFreshWallet     = 25 // wallet has no transactions
	WeightLimitedHistory  = 10 // wallet has 1..LimitedHistoryMax transactions
	WeightWalletUnknown   = 10 // wallet transaction count unavailable
	WeightContractUnknown = 5  // counterparty code lookup unavailable
	WeightUnverified      = 25 // counterparty contract source not verified
	WeightVerifyUnknown   = 10 // verification status unavailable
	WeightNewContract     = 15 // deployed less than NewContractDays ago
	WeightRecentContract  = 8  // deployed less than RecentContractDays ago
	WeightAgeUnknown      = 5  // deployment time unavailable
	WeightNoGraphData     = 5  // neither address is in the association graph
	WeightNoSnapshot      = 10 // intelligence snapshot not loaded
	WeightSimulation      = 30 // multiplied by drain probability
	ScamMatchScale        = 100

	// FailClosedFloor is the minimum score while no on-chain fact vouches
	// for either party.
	FailClosedFloor = 80

	// MinScamPoints is the least a scam match contributes.
	MinScamPoints = 1
)

// Thresholds used by the weight table.
const (
	LimitedHistoryMax  = 9
	NewContractDays    = 7
	RecentContractDays = 30
)

// graphWeights maps hop distance to points; distances past the table but
// within the search bound score graphWeightDeep.
var graphWeights = [...]int{80, 50, 30, 15}

const graphWeightDeep = 5

// contribution is one triggered condition.
type contribution struct {
	points int
	reason string
}

// Aggregate scores sig and returns its verdict stamped with now. It never
// fails; nil sub-signals are treated as unknown. If sig carries no
// simulation result one is computed from the other signals.
func Aggregate(sig *Signals, now time.Time) *Verdict {
	if sig == nil {
		sig = &Signals{}
	}
	out := *sig
	if out.Simulation == nil && out.Wallet.Valid && out.Contract.Valid && out.TxType.Valid() {
		r := Simulate(&out)
		out.Simulation = &r
	}

	parts, shortCircuit := contributions(&out)

	score := 0
	reasons := make([]string, 0, len(parts)+1)
	for _, p := range parts {
		score += p.points
		reasons = append(reasons, p.reason)
	}
	if shortCircuit {
		score = MaxScore
	} else if failClosed(&out) {
		score = max(score, FailClosedFloor)
		reasons = append(reasons, failClosedReason(&out))
	}
	score = clampScore(score)

	return &Verdict{
		Risk:      BandFor(score),
		RiskScore: score,
		Reasons:   reasons,
		Signals:   &out,
		Timestamp: formatTimestamp(now),
	}
}

// contributions evaluates the weight table in reason order: address, wallet
// on-chain, counterparty on-chain, scam intelligence, graph, simulation.
// The second result reports an address short-circuit.
func contributions(sig *Signals) ([]contribution, bool) {
	if parts := addressChecks(sig); len(parts) > 0 {
		return parts, true
	}

	var parts []contribution
	add := func(points int, format string, args ...any) {
		if points > 0 {
			parts = append(parts, contribution{points: points, reason: fmt.Sprintf(format, args...)})
		}
	}

	w := onChainOrUnknown(sig.WalletOnChain)
	switch {
	case w.TxCount == nil:
		add(WeightWalletUnknown, "insufficient data: wallet transaction count unavailable")
	case *w.TxCount == 0:
		add(WeightFreshWallet, "fresh wallet: no prior transactions")
	case *w.TxCount <= LimitedHistoryMax:
		add(WeightLimitedHistory, "limited history: wallet has only %d transactions", *w.TxCount)
	}

	c := onChainOrUnknown(sig.ContractOnChain)
	if c.IsContract == nil {
		add(WeightContractUnknown, "insufficient data: unable to determine whether counterparty is a contract")
	}
	if c.MaybeContract() {
		switch {
		case c.IsVerified == nil:
			add(WeightVerifyUnknown, "insufficient data: contract verification status unavailable")
		case !*c.IsVerified:
			add(WeightUnverified, "unverified contract: source code is not published")
		}
		switch {
		case c.ContractAgeDays == nil:
			add(WeightAgeUnknown, "insufficient data: contract age unavailable")
		case *c.ContractAgeDays < NewContractDays:
			add(WeightNewContract, "new contract: deployed %s", daysAgo(*c.ContractAgeDays))
		case *c.ContractAgeDays < RecentContractDays:
			add(WeightRecentContract, "recent contract: deployed %s", daysAgo(*c.ContractAgeDays))
		}
	}

	if !sig.SnapshotLoaded {
		add(WeightNoSnapshot, "insufficient data: scam intelligence snapshot not loaded")
	}
	if m := sig.WalletScam; m != nil {
		add(scamPoints(m), "scam intelligence: %s", describeMatch("wallet", m))
	}
	if m := sig.ContractScam; m != nil {
		add(scamPoints(m), "scam intelligence: %s", describeMatch("contract", m))
	}

	if points, reason := graphContribution(sig); points > 0 {
		add(points, "%s", reason)
	}

	if s := sig.Simulation; s != nil {
		add(simulationPoints(s.DrainProbability),
			"simulation: %s carries an estimated %.1f%% drain probability", s.TxType, s.DrainProbability*100)
	}

	return parts, false
}

func addressChecks(sig *Signals) []contribution {
	var parts []contribution
	if !sig.Wallet.Valid {
		parts = append(parts, contribution{MaxScore, fmt.Sprintf("invalid address: wallet %q is not a 0x-prefixed 40 hex digit address", sig.Wallet.Raw)})
	}
	if !sig.Contract.Valid {
		parts = append(parts, contribution{MaxScore, fmt.Sprintf("invalid address: contract %q is not a 0x-prefixed 40 hex digit address", sig.Contract.Raw)})
	}
	if sig.Wallet.Burn {
		parts = append(parts, contribution{MaxScore, fmt.Sprintf("burn address: wallet is the %s %s", sig.Wallet.BurnLabel(), sig.Wallet.Normalized)})
	}
	if sig.Contract.Burn {
		parts = append(parts, contribution{MaxScore, fmt.Sprintf("burn address: contract is the %s %s", sig.Contract.BurnLabel(), sig.Contract.Normalized)})
	}
	return parts
}

// failClosed reports that no scored on-chain field vouches for either
// party: every such field is unknown or on the risky side of unknown.
// Learning a worse value therefore never lifts the floor. Graph data does
// not count; it only adds points.
func failClosed(sig *Signals) bool {
	w := onChainOrUnknown(sig.WalletOnChain)
	if w.TxCount != nil && *w.TxCount > 0 {
		return false
	}
	c := onChainOrUnknown(sig.ContractOnChain)
	if c.IsContract != nil && !*c.IsContract {
		return false
	}
	if c.IsVerified != nil && *c.IsVerified {
		return false
	}
	if c.ContractAgeDays != nil && *c.ContractAgeDays >= RecentContractDays {
		return false
	}
	return true
}

func failClosedReason(sig *Signals) string {
	if onChainOrUnknown(sig.WalletOnChain).AllUnknown() && onChainOrUnknown(sig.ContractOnChain).AllUnknown() {
		return "fail-closed: no on-chain data is available for either address"
	}
	return "fail-closed: no on-chain data vouches for either address"
}

// graphContribution scores the closer of the two parties.
func graphContribution(sig *Signals) (int, string) {
	if !inGraph(sig.WalletGraph) && !inGraph(sig.ContractGraph) {
		return WeightNoGraphData, "insufficient data: neither address appears in the association graph"
	}

	best, side, nearest := -1, "", ""
	for _, s := range []struct {
		name string
		r    *graph.Result
	}{{"wallet", sig.WalletGraph}, {"contract", sig.ContractGraph}} {
		if s.r == nil || s.r.Distance == nil {
			continue
		}
		if best < 0 || *s.r.Distance < best {
			best, side, nearest = *s.r.Distance, s.name, s.r.Nearest
		}
	}
	if best < 0 {
		return 0, ""
	}
	points := graphPoints(best)
	if best == 0 {
		return points, fmt.Sprintf("graph proximity: %s is itself a flagged address", side)
	}
	return points, fmt.Sprintf("graph proximity: %s is %d hop(s) from flagged address %s", side, best, nearest)
}

func graphPoints(distance int) int {
	if distance < 0 {
		return 0
	}
	if distance < len(graphWeights) {
		return graphWeights[distance]
	}
	return graphWeightDeep
}

// scamPoints never drops a match to zero, so every match keeps its reason.
func scamPoints(m *intel.Match) int {
	return max(MinScamPoints, int(math.Round(ScamMatchScale*m.Weight())))
}

func simulationPoints(p float64) int {
	return int(math.Round(WeightSimulation * p))
}

func describeMatch(side string, m *intel.Match) string {
	rec := m.Record
	if m.Exact {
		return fmt.Sprintf("%s flagged as %s by %s (confidence %.2f)", side, rec.Category, rec.Source, rec.Confidence)
	}
	return fmt.Sprintf("%s belongs to cluster %s linked to %s activity (confidence %.2f)", side, m.ClusterID, rec.Category, rec.Confidence)
}

func daysAgo(d int64) string {
	switch d {
	case 0:
		return "today"
	case 1:
		return "1 day ago"
	default:
		return fmt.Sprintf("%d days ago", d)
	}
}

func inGraph(r *graph.Result) bool {
	return r != nil && r.InGraph
}

func onChainOrUnknown(s *onchain.Signals) onchain.Signals {
	if s == nil {
		return onchain.Unknown()
	}
	return *s
}

func clampScore(s int) int {
	return min(max(s, 0), MaxScore)
}

// Simulate derives the simulator input from sig and runs it.
func Simulate(sig *Signals) simulate.Result {
	return simulate.Simulate(sig.TxType, SimulationInput(sig))
}

// SimulationInput maps fused signals onto simulator factors. Unknown values
// sit between the best and worst known values so the mapping stays monotonic.
func SimulationInput(sig *Signals) simulate.Input {
	in := simulate.Input{CounterpartyScam: sig.ContractScam.Weight()}

	depth := sig.MaxHopDepth
	if depth <= 0 {
		depth = graph.DefaultMaxDepth
	}
	for _, r := range []*graph.Result{sig.WalletGraph, sig.ContractGraph} {
		if r != nil && r.Distance != nil {
			in.Proximity = max(in.Proximity, simulate.Proximity(*r.Distance, depth))
		}
	}

	c := onChainOrUnknown(sig.ContractOnChain)
	if c.MaybeContract() {
		switch {
		case c.IsVerified == nil:
			in.Unverified = 0.5
		case !*c.IsVerified:
			in.Unverified = 1
		}
		switch {
		case c.ContractAgeDays == nil:
			in.NewContract = 0.25
		case *c.ContractAgeDays < NewContractDays:
			in.NewContract = 1
		case *c.ContractAgeDays < RecentContractDays:
			in.NewContract = 0.5
		}
	}

	w := onChainOrUnknown(sig.WalletOnChain)
	switch {
	case w.TxCount == nil:
		in.FreshWallet = 0.5
	case *w.TxCount == 0:
		in.FreshWallet = 1
	case *w.TxCount <= LimitedHistoryMax:
		in.FreshWallet = 0.5
	}
	return in
}
