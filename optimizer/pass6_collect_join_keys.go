package optimizer

import (
	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/flow"
	"github.com/brindledb/planopt/keyterm"
	"github.com/brindledb/planopt/planerr"
	"github.com/brindledb/planopt/predicate"
	"github.com/brindledb/planopt/rel"
	"github.com/brindledb/planopt/scalar"
)

// runCollectJoinKeys implements spec §4.B.6: for every remaining
// join_relation (pass5 found no index to rewrite it onto), trace
// stream-variable flow at each input to find candidate join-key
// variables, merge the join condition's atoms into per-side terms, and
// record both a cogroup key-pair list and a candidate broadcast search
// key for the step-plan builder to choose between (spec §4.D.1). Unlike
// rewrite_scan/rewrite_join, this pass never purges an atom out of the
// condition — per scenario S4, the condition keeps evaluating after a
// cogroup/broadcast strategy also exploits it for partitioning.
func runCollectJoinKeys(rc *runCtx) (PassStats, error) {
	stats := PassStats{Name: "collect_join_keys"}
	g := rc.graph

	var joins []rel.NodeID
	for _, n := range g.Nodes() {
		if _, ok := n.Op().(*rel.JoinRelationOp); ok {
			joins = append(joins, n.ID())
		}
	}

	for _, id := range joins {
		n := g.Node(id)
		if n == nil {
			continue
		}
		op, ok := n.Op().(*rel.JoinRelationOp)
		if !ok {
			continue
		}
		stats.NodesVisited++
		changed, err := collectOneJoinKeys(rc, g, n, op)
		if err != nil {
			return stats, err
		}
		if changed {
			stats.NodesChanged++
		}
	}
	return stats, nil
}

// termCandidate is one side's best-scoring term for a broadcast search
// key, ranked by the tiered priority spec §4.B.6 describes: key-pair
// equivalents first, then other equivalents (if broadcast-find is
// enabled), then at most one range (if broadcast-scan is enabled),
// preferring a full-bounded range over a half-bounded one.
type termCandidate struct {
	v     *bind.Descriptor
	term  *keyterm.Term
	tier  int
	score float64
}

func betterCandidate(a, b *termCandidate) bool {
	if b == nil {
		return true
	}
	if a.tier != b.tier {
		return a.tier < b.tier
	}
	return a.score > b.score
}

// collectOneJoinKeys populates op's CogroupKeys and, if the broadcast
// feature is enabled and op's kind permits it, its Broadcast* fields.
func collectOneJoinKeys(rc *runCtx, g *rel.Graph, n *rel.Node, op *rel.JoinRelationOp) (bool, error) {
	if op.Condition == nil {
		return false, nil
	}

	leftIn := rel.Port{Node: n.ID(), Dir: rel.In, Index: 0}
	rightIn := rel.Port{Node: n.ID(), Dir: rel.In, Index: 1}
	leftOpp, ok := g.Opposite(leftIn)
	if !ok {
		return false, planerr.ErrDomainViolation.New("collect_join_keys: left input not connected")
	}
	rightOpp, ok := g.Opposite(rightIn)
	if !ok {
		return false, planerr.ErrDomainViolation.New("collect_join_keys: right input not connected")
	}

	var atoms []scalar.Expr
	predicate.Decompose(predicate.Clone(op.Condition), func(a scalar.Expr) {
		atoms = append(atoms, a)
	})
	if len(atoms) == 0 {
		return false, nil
	}

	allVars := make(map[*bind.Descriptor]bool)
	for _, a := range atoms {
		predicate.CollectStreamVariables(a, func(v *bind.Descriptor) { allVars[v] = true })
	}

	leftCand := make(map[*bind.Descriptor]bool)
	rightCand := make(map[*bind.Descriptor]bool)
	var leftList, rightList []*bind.Descriptor
	for v := range allVars {
		if flow.Visible(g, v, leftOpp) {
			leftCand[v] = true
			leftList = append(leftList, v)
		}
		if flow.Visible(g, v, rightOpp) {
			rightCand[v] = true
			rightList = append(rightList, v)
		}
	}

	// purge is nil throughout this pass: keyterm.Factor.Purge() falls
	// back to cloning when its purge hook is nil, so every factor we
	// pull out below leaves the original condition atom untouched.
	leftBuilder := keyterm.NewBuilder(leftList)
	rightBuilder := keyterm.NewBuilder(rightList)
	for _, a := range atoms {
		if _, err := leftBuilder.Add(a, nil); err != nil {
			return false, err
		}
		if _, err := rightBuilder.Add(a, nil); err != nil {
			return false, err
		}
	}
	leftTerms := leftBuilder.Terms()
	rightTerms := rightBuilder.Terms()

	changed := false

	if pairs := joinKeyPairs(rightTerms, leftCand); len(pairs) > 0 {
		op.CogroupKeys = pairs
		changed = true
	}

	if !rc.opts.RuntimeFeatures.Has(FeatureBroadcastExchange) || op.Kind == rel.FullOuter {
		return changed, nil
	}
	allowScan := rc.opts.RuntimeFeatures.Has(FeatureBroadcastJoinScan)

	rightPairs := pairVarSet(rightTerms, leftCand)
	rightBest := pickBestTerm(rightTerms, rightPairs, allowScan)

	chosenSide := rel.SideRight
	chosenBest := rightBest

	if op.Kind == rel.Inner {
		leftBest := pickBestTerm(leftTerms, pairVarSet(leftTerms, rightCand), allowScan)
		if betterCandidate(leftBest, rightBest) {
			chosenSide, chosenBest = rel.SideLeft, leftBest
		}
	}

	// Volume tiebreaker (spec §3.4, §4.B.6): when both sides carry a
	// flow-volume estimate and one outweighs the other by 100x, the
	// larger side is preferred as the build (broadcast-materialized)
	// side even if the score-based pick above disagreed.
	if rc.opts.FlowVolume != nil {
		if lv, lok := rc.opts.FlowVolume.Get(leftOpp); lok {
			if rv, rok := rc.opts.FlowVolume.Get(rightOpp); rok {
				lBytes := lv.RowCount * lv.ColumnSize
				rBytes := rv.RowCount * rv.ColumnSize
				if lBytes > 0 && rBytes > 0 {
					switch {
					case float64(lBytes) >= float64(rBytes)*100 && chosenSide != rel.SideLeft:
						if leftBest := pickBestTerm(leftTerms, pairVarSet(leftTerms, rightCand), allowScan); leftBest != nil {
							chosenSide, chosenBest = rel.SideLeft, leftBest
						}
					case float64(rBytes) >= float64(lBytes)*100 && chosenSide != rel.SideRight:
						chosenSide, chosenBest = rel.SideRight, rightBest
					}
				}
			}
		}
	}

	if chosenBest == nil {
		return changed, nil
	}

	if chosenSide == rel.SideLeft {
		if err := swapJoinInputs(g, n); err != nil {
			return false, err
		}
		for i, p := range op.CogroupKeys {
			op.CogroupKeys[i] = rel.JoinKeyPair{Left: p.Right, Right: p.Left}
		}
	}

	lower, upper := buildBroadcastEndpoint(chosenBest.v, chosenBest.term)
	op.BroadcastEligible = true
	op.BroadcastLower = lower
	op.BroadcastUpper = upper
	return true, nil
}

// joinKeyPairs reports, for every right-side term that resolved to a
// variable visible on the left (a genuine equi-join pair), the
// (left, right) variable pair (spec §4.B.6 "key-pair detection").
func joinKeyPairs(rightTerms map[*bind.Descriptor]*keyterm.Term, leftCand map[*bind.Descriptor]bool) []rel.JoinKeyPair {
	var pairs []rel.JoinKeyPair
	for v, t := range rightTerms {
		if t == nil || !t.Equivalent() {
			continue
		}
		ref, ok := t.EquivalentFactor().Value().(*scalar.VariableRef)
		if !ok || !leftCand[ref.Var] {
			continue
		}
		pairs = append(pairs, rel.JoinKeyPair{Left: ref.Var, Right: v})
	}
	return pairs
}

// pairVarSet returns the subset of terms' keys whose equivalent factor
// is a variable reference visible on the opposite side, i.e. the
// genuine join-key pairs among this side's terms.
func pairVarSet(terms map[*bind.Descriptor]*keyterm.Term, oppositeCand map[*bind.Descriptor]bool) map[*bind.Descriptor]bool {
	out := make(map[*bind.Descriptor]bool)
	for v, t := range terms {
		if t == nil || !t.Equivalent() {
			continue
		}
		if ref, ok := t.EquivalentFactor().Value().(*scalar.VariableRef); ok && oppositeCand[ref.Var] {
			out[v] = true
		}
	}
	return out
}

// pickBestTerm finds the highest-priority usable term among terms, per
// spec §4.B.6's tiered scoring (key-pair > other equivalent > range).
func pickBestTerm(terms map[*bind.Descriptor]*keyterm.Term, pairSet map[*bind.Descriptor]bool, allowScan bool) *termCandidate {
	var best *termCandidate
	for v, t := range terms {
		if t == nil {
			continue
		}
		var tier int
		var score float64
		switch {
		case t.Equivalent() && pairSet[v]:
			tier, score = 0, 3
		case t.Equivalent():
			tier, score = 1, 3
		case allowScan && t.FullBounded():
			tier, score = 2, 2
		case allowScan && (t.LowerFactor() != nil || t.UpperFactor() != nil):
			tier, score = 2, 1
		default:
			continue
		}
		cand := &termCandidate{v: v, term: t, tier: tier, score: score}
		if betterCandidate(cand, best) {
			best = cand
		}
	}
	return best
}

// buildBroadcastEndpoint mirrors spec §4.C's single-term endpoint
// construction over a broadcast key variable instead of an index's
// ordered key columns: there is exactly one position because a
// broadcast exchange has no declared key order to chain a prefix
// against. Every factor is cloned, never purged, per this pass's
// non-destructive contract (see runCollectJoinKeys).
func buildBroadcastEndpoint(v *bind.Descriptor, t *keyterm.Term) (lower, upper rel.BroadcastEndpoint) {
	if t.Equivalent() {
		lower.Keys = []rel.BroadcastKeyValue{{Var: v, Value: t.CloneEquivalent()}}
		upper.Keys = []rel.BroadcastKeyValue{{Var: v, Value: t.CloneEquivalent()}}
		lower.Kind, upper.Kind = rel.PrefixedInclusive, rel.PrefixedInclusive
		return lower, upper
	}
	if t.LowerFactor() != nil {
		lower.Keys = []rel.BroadcastKeyValue{{Var: v, Value: t.CloneLower()}}
		if t.LowerInclusive() {
			lower.Kind = rel.Inclusive
		} else {
			lower.Kind = rel.Exclusive
		}
	}
	if t.UpperFactor() != nil {
		upper.Keys = []rel.BroadcastKeyValue{{Var: v, Value: t.CloneUpper()}}
		if t.UpperInclusive() {
			upper.Kind = rel.Inclusive
		} else {
			upper.Kind = rel.Exclusive
		}
	}
	return lower, upper
}
