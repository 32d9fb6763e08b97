package optimizer

import (
	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/catalog"
	"github.com/brindledb/planopt/estimator"
	"github.com/brindledb/planopt/keyterm"
	"github.com/brindledb/planopt/predicate"
	"github.com/brindledb/planopt/rel"
	"github.com/brindledb/planopt/scalar"
)

// runRewriteScan implements spec §4.B.4: for every bare scan with no
// endpoints and no limit, absorb downstream filter terms into a
// search-key builder, evaluate every candidate index on the scan's
// table, and retarget the scan into a find or a tighter range scan on
// whichever index the estimator prefers.
func runRewriteScan(rc *runCtx) (PassStats, error) {
	stats := PassStats{Name: "rewrite_scan"}
	g := rc.graph
	est := rc.estimator()

	for _, n := range g.Nodes() {
		op, ok := n.Op().(*rel.ScanOp)
		if !ok {
			continue
		}
		stats.NodesVisited++
		if op.Limit != nil || op.Lower.Kind != rel.Unbound || op.Upper.Kind != rel.Unbound {
			continue
		}
		changed, err := rewriteOneScan(g, n, op, rc.opts.StorageProvider, est)
		if err != nil {
			return stats, err
		}
		if changed {
			stats.NodesChanged++
		}
	}
	return stats, nil
}

// estimator returns the options-supplied estimator, defaulting to
// estimator.Default (spec §6.1: embeddings may plug in their own).
func (rc *runCtx) estimator() estimator.Estimator {
	if rc.opts.IndexEstimator != nil {
		return rc.opts.IndexEstimator
	}
	return estimator.Default
}

// scanKeyByColumn maps each of a scan's key variables back to the
// catalog column it came from, so a candidate index's declared key
// column order can be matched against the absorbed terms.
func scanKeyByColumn(cols []rel.ColumnMap) map[*catalog.Column]*bind.Descriptor {
	out := make(map[*catalog.Column]*bind.Descriptor, len(cols))
	for _, c := range cols {
		if c.Source.Kind() == bind.TableColumn {
			out[c.Source.Column()] = c.Dest
		}
	}
	return out
}

// collectScanKeyTerms absorbs every filter condition sitting downstream
// of output, stopping at the first non-filter operator (or, when
// includeJoin is set, also absorbing a join_relation's condition before
// stopping there).
func collectScanKeyTerms(g *rel.Graph, output rel.Port, candidates []*bind.Descriptor, includeJoin bool) (*keyterm.Builder, error) {
	b := keyterm.NewBuilder(candidates)
	port := output
	for {
		opp, ok := g.Opposite(port)
		if !ok {
			break
		}
		node := g.Node(opp.Node)
		if node == nil {
			break
		}
		switch op := node.Op().(type) {
		case *rel.FilterOp:
			if err := absorbCondition(b, op.Condition, candidates, func(remaining scalar.Expr) {
				op.Condition = remaining
			}); err != nil {
				return nil, err
			}
			port = rel.Port{Node: opp.Node, Dir: rel.Out, Index: 0}
			continue
		case *rel.JoinRelationOp:
			if includeJoin {
				if err := absorbCondition(b, op.Condition, candidates, func(remaining scalar.Expr) {
					op.Condition = remaining
				}); err != nil {
					return nil, err
				}
			}
		}
		break
	}
	return b, nil
}

// absorbCondition decomposes cond into atoms and offers each to b. A
// claimed atom's purge hook is invoked lazily, only if the chosen index
// actually consumes that term; it drops just that atom from the
// condition (rebuilding it via setRemaining) and returns the atom's
// non-key-side value, mirroring keyterm.Builder's own key/value split.
func absorbCondition(b *keyterm.Builder, cond scalar.Expr, candidates []*bind.Descriptor, setRemaining func(scalar.Expr)) error {
	if cond == nil {
		return nil
	}
	keys := make(map[*bind.Descriptor]bool, len(candidates))
	for _, v := range candidates {
		keys[v] = true
	}

	var atoms []scalar.Expr
	predicate.Decompose(predicate.Clone(cond), func(atom scalar.Expr) {
		atoms = append(atoms, atom)
	})

	claimed := make([]bool, len(atoms))
	for i, atom := range atoms {
		idx := i
		if _, err := b.Add(atom, func() scalar.Expr {
			claimed[idx] = true
			rebuildRemaining(atoms, claimed, setRemaining)
			rhs, _ := atomRHS(atoms[idx], keys)
			return rhs
		}); err != nil {
			return err
		}
	}
	return nil
}

// atomRHS extracts a comparison atom's non-key-side expression, given
// the set of stream variables the caller treats as key candidates —
// mirroring keyterm.Builder.Add's own classification so a purged
// factor's value matches what the builder would have captured.
func atomRHS(atom scalar.Expr, keys map[*bind.Descriptor]bool) (scalar.Expr, bool) {
	cmp, ok := atom.(*scalar.Compare)
	if !ok {
		if u, ok := atom.(*scalar.Unary); ok && u.Op == scalar.Not {
			cmp, ok = u.Operand.(*scalar.Compare)
			if !ok {
				return nil, false
			}
		} else {
			return nil, false
		}
	}
	leftIsKey := isKeyRef(cmp.Left, keys)
	rightIsKey := isKeyRef(cmp.Right, keys)
	switch {
	case leftIsKey && !rightIsKey:
		return cmp.Right, true
	case rightIsKey && !leftIsKey:
		return cmp.Left, true
	default:
		return nil, false
	}
}

func isKeyRef(e scalar.Expr, keys map[*bind.Descriptor]bool) bool {
	ref, ok := e.(*scalar.VariableRef)
	return ok && keys[ref.Var]
}

func rebuildRemaining(atoms []scalar.Expr, claimed []bool, setRemaining func(scalar.Expr)) {
	var remaining []scalar.Expr
	for i, a := range atoms {
		if !claimed[i] {
			remaining = append(remaining, a)
		}
	}
	cond := andAll(remaining)
	if cond == nil {
		// Every atom was absorbed into an index endpoint: the filter's
		// condition slot must still hold a valid expression (spec §3.4
		// "purge": "leaving a literal TRUE in place"), so
		// remove_redundant_conditions has something to simplify away.
		cond = scalar.NewBool(true)
	}
	setRemaining(cond)
}

// candidateSearchKey builds an estimator.SearchKey for idx from terms,
// stopping at the first non-equivalent term (at most one range suffix is
// supported), and returns the ordered per-key-element terms actually
// used (shorter than idx's key columns when the prefix runs out).
func candidateSearchKey(idx *catalog.Index, terms map[*bind.Descriptor]*keyterm.Term, byColumn map[*catalog.Column]*bind.Descriptor) (estimator.SearchKey, []*keyterm.Term) {
	var used []*keyterm.Term
	var sk estimator.SearchKey
	for _, ke := range idx.KeyColumns() {
		v, ok := byColumn[ke]
		if !ok {
			break
		}
		t := terms[v]
		if t == nil {
			break
		}
		used = append(used, t)
		if t.Equivalent() {
			sk.EquivalentPrefixLen++
			continue
		}
		if t.LowerFactor() != nil || t.UpperFactor() != nil {
			sk.HasRangeSuffix = true
		}
		break
	}
	return sk, used
}

// evaluateIndices scores every index on tableName against terms,
// returning the best-scoring index (per estimator.Result.Better, with
// short-circuiting), its chosen search key's per-position terms, and the
// winning result. bestIdx is nil if no index on the table yielded a
// usable (non-empty) search key.
func evaluateIndices(provider *catalog.Provider, tableName string, terms map[*bind.Descriptor]*keyterm.Term, byColumn map[*catalog.Column]*bind.Descriptor, referenced []*catalog.Column, est estimator.Estimator) (estimator.Result, *catalog.Index, []*keyterm.Term) {
	var best estimator.Result
	var bestIdx *catalog.Index
	var bestTerms []*keyterm.Term
	hasBest := false

	if provider == nil {
		return best, nil, nil
	}

	for _, idx := range provider.IndicesFor(tableName) {
		sk, used := candidateSearchKey(idx, terms, byColumn)
		if len(used) == 0 {
			continue
		}
		result := est(idx, sk, nil, referenced)
		if !hasBest || result.Better(best) {
			best, bestIdx, bestTerms, hasBest = result, idx, used, true
			if result.ShortCircuit() {
				break
			}
		}
	}
	return best, bestIdx, bestTerms
}

// rewriteOneScan evaluates every index on op's table and, if a usable
// candidate exists, retargets n into a find or a tighter scan.
func rewriteOneScan(g *rel.Graph, n *rel.Node, op *rel.ScanOp, provider *catalog.Provider, est estimator.Estimator) (bool, error) {
	byColumn := scanKeyByColumn(op.Columns)
	candidates := make([]*bind.Descriptor, 0, len(op.Columns))
	for _, c := range op.Columns {
		candidates = append(candidates, c.Dest)
	}

	output := rel.Port{Node: n.ID(), Dir: rel.Out, Index: 0}
	builder, err := collectScanKeyTerms(g, output, candidates, false)
	if err != nil {
		return false, err
	}
	terms := builder.Terms()

	var referenced []*catalog.Column
	for c := range byColumn {
		referenced = append(referenced, c)
	}

	best, bestIdx, bestTerms := evaluateIndices(provider, op.Source.Table().Name(), terms, byColumn, referenced, est)
	if bestIdx == nil {
		return false, nil
	}

	if best.Attributes.Has(estimator.AttrFind) {
		keys := make([]rel.KeyValue, len(bestTerms))
		for i, t := range bestTerms {
			keys[i] = rel.KeyValue{Column: bestIdx.KeyColumns()[i], Value: t.PurgeEquivalent()}
		}
		n.SetOp(&rel.FindOp{Index: bestIdx, Keys: keys, Columns: op.Columns})
		return true, nil
	}

	lower, upper := buildEndpoints(bestIdx, bestTerms)
	n.SetOp(&rel.ScanOp{Source: bestIdx, Columns: op.Columns, Lower: lower, Upper: upper})
	return true, nil
}

// buildEndpoints implements spec §4.C: given terms paralleling an
// index's key columns (possibly shorter), build the scan's lower/upper
// range endpoints, consuming terms' factors by ownership.
func buildEndpoints(idx *catalog.Index, terms []*keyterm.Term) (lower, upper rel.RangeEndpoint) {
	if len(terms) == 0 {
		return rel.RangeEndpoint{Kind: rel.Unbound}, rel.RangeEndpoint{Kind: rel.Unbound}
	}
	keyCols := idx.KeyColumns()
	for i, t := range terms {
		col := keyCols[i]
		last := i == len(terms)-1
		if !last {
			lower.Keys = append(lower.Keys, rel.KeyValue{Column: col, Value: t.CloneEquivalent()})
			upper.Keys = append(upper.Keys, rel.KeyValue{Column: col, Value: t.PurgeEquivalent()})
			continue
		}
		if t.Equivalent() {
			lower.Keys = append(lower.Keys, rel.KeyValue{Column: col, Value: t.CloneEquivalent()})
			upper.Keys = append(upper.Keys, rel.KeyValue{Column: col, Value: t.PurgeEquivalent()})
			lower.Kind, upper.Kind = rel.PrefixedInclusive, rel.PrefixedInclusive
			continue
		}
		if t.LowerFactor() != nil {
			lower.Keys = append(lower.Keys, rel.KeyValue{Column: col, Value: t.PurgeLower()})
			if t.LowerInclusive() {
				lower.Kind = rel.Inclusive
			} else {
				lower.Kind = rel.Exclusive
			}
		} else if len(lower.Keys) > 0 {
			lower.Kind = rel.PrefixedInclusive
		}
		if t.UpperFactor() != nil {
			upper.Keys = append(upper.Keys, rel.KeyValue{Column: col, Value: t.PurgeUpper()})
			if t.UpperInclusive() {
				upper.Kind = rel.Inclusive
			} else {
				upper.Kind = rel.Exclusive
			}
		} else if len(upper.Keys) > 0 {
			upper.Kind = rel.PrefixedInclusive
		}
	}
	return lower, upper
}
