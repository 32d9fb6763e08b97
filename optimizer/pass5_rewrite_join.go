package optimizer

import (
	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/catalog"
	"github.com/brindledb/planopt/estimator"
	"github.com/brindledb/planopt/keyterm"
	"github.com/brindledb/planopt/planerr"
	"github.com/brindledb/planopt/rel"
	"github.com/brindledb/planopt/scalar"
)

// joinRewriteDecision is one candidate way to replace a join_relation by
// a join_find/join_scan, found while probing one of its two inputs (spec
// §4.B.5).
type joinRewriteDecision struct {
	onLeft     bool
	result     estimator.Result
	index      *catalog.Index
	terms      []*keyterm.Term
	scanNode   rel.NodeID
	scanOp     *rel.ScanOp
	filters    []rel.NodeID
}

// runRewriteJoin implements spec §4.B.5: for each join_relation, probe
// its right input (always) and its left input (inner joins only) for a
// bare scan whose table has an index usable against the join condition
// and any absorbed filters, then replace the join by join_find or
// join_scan on whichever side scored best.
func runRewriteJoin(rc *runCtx) (PassStats, error) {
	stats := PassStats{Name: "rewrite_join"}
	if !rc.opts.RuntimeFeatures.Has(FeatureIndexJoin) {
		return stats, nil
	}
	allowScan := rc.opts.RuntimeFeatures.Has(FeatureIndexJoinScan)
	g := rc.graph
	est := rc.estimator()
	provider := rc.opts.StorageProvider

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

		decision, err := planJoinRewrite(g, n, op, provider, est, allowScan)
		if err != nil {
			return stats, err
		}
		if decision == nil {
			continue
		}
		if err := applyJoinRewrite(g, n, op, decision); err != nil {
			return stats, err
		}
		stats.NodesChanged++
	}
	return stats, nil
}

// planJoinRewrite probes the eligible input(s) of a join_relation and
// returns the winning decision, or nil if neither side offered a usable
// candidate. Per §4.B.5, a later-found candidate replaces the saved one
// on a tie, not just a strict improvement.
func planJoinRewrite(g *rel.Graph, n *rel.Node, op *rel.JoinRelationOp, provider *catalog.Provider, est estimator.Estimator, allowScan bool) (*joinRewriteDecision, error) {
	var best *joinRewriteDecision
	usable := func(d *joinRewriteDecision) bool {
		if d == nil {
			return false
		}
		// Without index_join_scan, only a find-capable candidate may
		// replace the join (spec §6.1).
		if !allowScan && !d.result.Attributes.Has(estimator.AttrFind) {
			return false
		}
		return best == nil || atLeastAsGood(d.result, best.result)
	}

	switch op.Kind {
	case rel.Inner, rel.Semi, rel.Anti, rel.LeftOuter:
		direct := op.Kind == rel.Anti || op.Kind == rel.LeftOuter
		d, err := probeJoinSide(g, n, false, direct, provider, est)
		if err != nil {
			return nil, err
		}
		if usable(d) {
			best = d
		}
	}

	if op.Kind == rel.Inner {
		d, err := probeJoinSide(g, n, true, false, provider, est)
		if err != nil {
			return nil, err
		}
		if usable(d) {
			best = d
		}
	}

	return best, nil
}

// atLeastAsGood reports whether a is at least as attractive as b: a
// single-row candidate always wins over a non-single-row one, and
// otherwise the higher (or tying) score wins, so a later-found
// candidate replaces the saved one on a tie (spec §4.B.5).
func atLeastAsGood(a, b estimator.Result) bool {
	aSingle := a.Attributes.Has(estimator.AttrSingleRow)
	bSingle := b.Attributes.Has(estimator.AttrSingleRow)
	if aSingle != bSingle {
		return aSingle
	}
	return a.Score >= b.Score
}

// probeJoinSide looks for a bare, endpoint-free scan upstream of the
// join's indicated input (left if onLeft, else right). When direct is
// set, no intervening filter is allowed — the scan must sit immediately
// on that input. On success it absorbs the join condition and any
// filters found along the way into a search-key builder and evaluates
// every index on the scan's table.
func probeJoinSide(g *rel.Graph, n *rel.Node, onLeft, direct bool, provider *catalog.Provider, est estimator.Estimator) (*joinRewriteDecision, error) {
	idx := 1
	if onLeft {
		idx = 0
	}
	scanNode, filters, ok := findBareScanUpstream(g, rel.Port{Node: n.ID(), Dir: rel.In, Index: idx}, direct)
	if !ok {
		return nil, nil
	}
	scanOp := scanNode.Op().(*rel.ScanOp)

	byColumn := scanKeyByColumn(scanOp.Columns)
	candidates := make([]*bind.Descriptor, 0, len(scanOp.Columns))
	for _, c := range scanOp.Columns {
		candidates = append(candidates, c.Dest)
	}

	builder, err := collectScanKeyTerms(g, rel.Port{Node: scanNode.ID(), Dir: rel.Out, Index: 0}, candidates, true)
	if err != nil {
		return nil, err
	}
	terms := builder.Terms()

	var referenced []*catalog.Column
	for c := range byColumn {
		referenced = append(referenced, c)
	}

	result, bestIdx, bestTerms := evaluateIndices(provider, scanOp.Source.Table().Name(), terms, byColumn, referenced, est)
	if bestIdx == nil {
		return nil, nil
	}

	return &joinRewriteDecision{
		onLeft:   onLeft,
		result:   result,
		index:    bestIdx,
		terms:    bestTerms,
		scanNode: scanNode.ID(),
		scanOp:   scanOp,
		filters:  filters,
	}, nil
}

// findBareScanUpstream walks upstream from start looking for a
// zero-endpoint scan, optionally allowing a chain of filters in between.
// Returns the scan node and, in upstream-to-downstream order, the
// filters that sat between it and start.
func findBareScanUpstream(g *rel.Graph, start rel.Port, direct bool) (*rel.Node, []rel.NodeID, bool) {
	var filters []rel.NodeID
	cur := start
	for {
		opp, ok := g.Opposite(cur)
		if !ok {
			return nil, nil, false
		}
		node := g.Node(opp.Node)
		if node == nil {
			return nil, nil, false
		}
		switch op := node.Op().(type) {
		case *rel.ScanOp:
			if op.Limit != nil || op.Lower.Kind != rel.Unbound || op.Upper.Kind != rel.Unbound {
				return nil, nil, false
			}
			// filters were collected downstream-to-upstream; reverse to
			// upstream-to-downstream order.
			for i, j := 0, len(filters)-1; i < j; i, j = i+1, j-1 {
				filters[i], filters[j] = filters[j], filters[i]
			}
			return node, filters, true
		case *rel.FilterOp:
			if direct {
				return nil, nil, false
			}
			filters = append(filters, opp.Node)
			cur = rel.Port{Node: opp.Node, Dir: rel.In, Index: 0}
			continue
		default:
			return nil, nil, false
		}
	}
}

// applyJoinRewrite replaces n (a join_relation) by a join_find or
// join_scan per the winning decision, per spec §4.B.5 step 3.
func applyJoinRewrite(g *rel.Graph, n *rel.Node, op *rel.JoinRelationOp, d *joinRewriteDecision) error {
	if d.onLeft {
		if err := swapJoinInputs(g, n); err != nil {
			return err
		}
	}

	drivingPort := rel.Port{Node: n.ID(), Dir: rel.In, Index: 0}
	drivingUpstream, ok := g.Opposite(drivingPort)
	if !ok {
		return planerr.ErrDomainViolation.New("rewrite_join: driving input not connected")
	}

	joinOut := rel.Port{Node: n.ID(), Dir: rel.Out, Index: 0}
	downstream, ok := g.Opposite(joinOut)
	if !ok {
		return planerr.ErrDomainViolation.New("rewrite_join: join has no downstream")
	}

	var condParts []scalar.Expr
	if op.Condition != nil {
		condParts = append(condParts, op.Condition)
	}
	for _, fid := range d.filters {
		if fn := g.Node(fid); fn != nil {
			if fop, ok := fn.Op().(*rel.FilterOp); ok && fop.Condition != nil {
				condParts = append(condParts, fop.Condition)
			}
		}
	}
	mergedCond := andAll(condParts)

	var newNode rel.NodeID
	if d.result.Attributes.Has(estimator.AttrFind) {
		keys := make([]rel.KeyValue, len(d.terms))
		for i, t := range d.terms {
			keys[i] = rel.KeyValue{Column: d.index.KeyColumns()[i], Value: t.PurgeEquivalent()}
		}
		newNode = g.Add(&rel.JoinFindOp{
			Kind:      op.Kind,
			Index:     d.index,
			Keys:      keys,
			Columns:   d.scanOp.Columns,
			Condition: mergedCond,

			SourceExchange: rel.InvalidExchangeID,
		})
	} else {
		lower, upper := buildEndpoints(d.index, d.terms)
		newNode = g.Add(&rel.JoinScanOp{
			Kind:      op.Kind,
			Index:     d.index,
			Columns:   d.scanOp.Columns,
			Lower:     lower,
			Upper:     upper,
			Condition: mergedCond,

			SourceExchange: rel.InvalidExchangeID,
		})
	}

	for _, fid := range d.filters {
		g.Delete(fid)
	}
	g.Delete(d.scanNode)
	g.Delete(n.ID())

	if err := g.Connect(drivingUpstream, rel.Port{Node: newNode, Dir: rel.In, Index: 0}); err != nil {
		return err
	}
	return g.Connect(rel.Port{Node: newNode, Dir: rel.Out, Index: 0}, downstream)
}

// swapJoinInputs exchanges n's left and right upstream connections,
// leaving the join's own output untouched (spec §4.B.5: "swap left/right
// upstreams of the join (symmetric rewrite)").
func swapJoinInputs(g *rel.Graph, n *rel.Node) error {
	leftIn := rel.Port{Node: n.ID(), Dir: rel.In, Index: 0}
	rightIn := rel.Port{Node: n.ID(), Dir: rel.In, Index: 1}
	leftUp, ok := g.Opposite(leftIn)
	if !ok {
		return planerr.ErrDomainViolation.New("rewrite_join: left input not connected")
	}
	rightUp, ok := g.Opposite(rightIn)
	if !ok {
		return planerr.ErrDomainViolation.New("rewrite_join: right input not connected")
	}
	if err := g.Connect(rightUp, leftIn); err != nil {
		return err
	}
	return g.Connect(leftUp, rightIn)
}
