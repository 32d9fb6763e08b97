package optimizer

import (
	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/planerr"
	"github.com/brindledb/planopt/predicate"
	"github.com/brindledb/planopt/rel"
	"github.com/brindledb/planopt/scalar"
)

// runRemoveRedundantStreamVariables implements spec §4.B.1: walk
// downstream-to-upstream, track which stream variables are actually
// consumed, and drop column mappings / declarators / whole operators
// that produce none that anyone uses.
func runRemoveRedundantStreamVariables(rc *runCtx) (PassStats, error) {
	stats := PassStats{Name: "remove_redundant_stream_variables"}
	g := rc.graph
	used := make(map[*bind.Descriptor]bool)
	var toSplice []rel.NodeID

	order := downstreamToUpstreamOrder(g)
	for _, n := range order {
		stats.NodesVisited++
		changed, deleteMe, err := pruneOperator(g, n, used)
		if err != nil {
			return stats, err
		}
		if changed {
			stats.NodesChanged++
		}
		if deleteMe {
			toSplice = append(toSplice, n.ID())
		}
	}

	for _, id := range toSplice {
		if err := g.Splice(id); err != nil {
			return stats, planerr.Wrap(err, "remove_redundant_stream_variables: splice")
		}
		stats.NodesChanged++
	}
	return stats, nil
}

// downstreamToUpstreamOrder returns every live node ordered so that
// every node appears before all of its upstream (input-side) neighbors,
// via BFS from the roots (emit/write).
func downstreamToUpstreamOrder(g *rel.Graph) []*rel.Node {
	visited := make(map[rel.NodeID]bool)
	var order []*rel.Node
	var queue []rel.NodeID
	for _, id := range g.Roots() {
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		n := g.Node(id)
		if n == nil {
			continue
		}
		visited[id] = true
		order = append(order, n)
		for i := 0; i < n.NumInputs(); i++ {
			if opp, ok := g.Opposite(rel.Port{Node: id, Dir: rel.In, Index: i}); ok {
				queue = append(queue, opp.Node)
			}
		}
	}
	return order
}

func markUsed(used map[*bind.Descriptor]bool, vs ...*bind.Descriptor) {
	for _, v := range vs {
		if v != nil {
			used[v] = true
		}
	}
}

// pruneOperator mutates n's operator in place according to spec §4.B.1,
// returning whether it changed anything and whether n should be spliced
// out of the graph entirely.
func pruneOperator(g *rel.Graph, n *rel.Node, used map[*bind.Descriptor]bool) (changed, deleteMe bool, err error) {
	switch op := n.Op().(type) {
	case *rel.EmitOp:
		markUsed(used, op.Sources...)
	case *rel.WriteOp:
		markUsed(used, op.KeyColumns...)
		markUsed(used, op.ValueColumns...)

	case *rel.FindOp:
		changed = filterColumnMaps(&op.Columns, used)
	case *rel.ScanOp:
		changed = filterColumnMaps(&op.Columns, used)
	case *rel.JoinFindOp:
		changed = filterColumnMaps(&op.Columns, used)
		predicate.CollectStreamVariables(op.Condition, func(v *bind.Descriptor) { markUsed(used, v) })
		for _, k := range op.Keys {
			predicate.CollectStreamVariables(k.Value, func(v *bind.Descriptor) { markUsed(used, v) })
		}
	case *rel.JoinScanOp:
		changed = filterColumnMaps(&op.Columns, used)
		predicate.CollectStreamVariables(op.Condition, func(v *bind.Descriptor) { markUsed(used, v) })
		for _, k := range append(append([]rel.KeyValue(nil), op.Lower.Keys...), op.Upper.Keys...) {
			predicate.CollectStreamVariables(k.Value, func(v *bind.Descriptor) { markUsed(used, v) })
		}

	case *rel.ProjectOp:
		kept := op.Projections[:0]
		for _, p := range op.Projections {
			if used[p.Var] {
				kept = append(kept, p)
			} else {
				changed = true
			}
		}
		op.Projections = kept
		for _, p := range kept {
			predicate.CollectStreamVariables(p.Value, func(v *bind.Descriptor) { markUsed(used, v) })
		}
		if len(op.Projections) == 0 {
			deleteMe = true
		}

	case *rel.IdentifyOp:
		if !used[op.Var] {
			deleteMe = true
			changed = true
		}

	case *rel.FilterOp:
		predicate.CollectStreamVariables(op.Condition, func(v *bind.Descriptor) { markUsed(used, v) })

	case *rel.JoinRelationOp:
		predicate.CollectStreamVariables(op.Condition, func(v *bind.Descriptor) { markUsed(used, v) })

	case *rel.AggregateRelationOp:
		kept := op.Aggregations[:0]
		for _, a := range op.Aggregations {
			if used[a.Var] {
				kept = append(kept, a)
			} else {
				changed = true
			}
		}
		op.Aggregations = kept
		markUsed(used, op.GroupKeys...)
		for _, a := range kept {
			predicate.CollectStreamVariables(a.Arg, func(v *bind.Descriptor) { markUsed(used, v) })
		}

	case *rel.DistinctRelationOp:
		markUsed(used, op.GroupKeys...)
	case *rel.LimitRelationOp:
		markUsed(used, op.GroupKeys...)
		for _, sk := range op.SortKeys {
			markUsed(used, sk.Var)
		}

	case *rel.UnionOp:
		keepIdx := make([]int, 0, len(op.Dest))
		for i, d := range op.Dest {
			if used[d] {
				keepIdx = append(keepIdx, i)
			} else {
				changed = true
			}
		}
		if changed {
			newDest := make([]*bind.Descriptor, len(keepIdx))
			newSources := make([][]*bind.Descriptor, len(op.Sources))
			for si := range op.Sources {
				newSources[si] = make([]*bind.Descriptor, len(keepIdx))
			}
			for j, i := range keepIdx {
				newDest[j] = op.Dest[i]
				for si := range op.Sources {
					newSources[si][j] = op.Sources[si][i]
				}
			}
			op.Dest = newDest
			op.Sources = newSources
		}
		for _, src := range op.Sources {
			markUsed(used, src...)
		}

	case *rel.IntersectionOp:
		markUsed(used, op.LeftKeys...)
		markUsed(used, op.RightKeys...)
	case *rel.DifferenceOp:
		markUsed(used, op.LeftKeys...)
		markUsed(used, op.RightKeys...)

	case *rel.ValuesOp:
		keepIdx := make([]int, 0, len(op.Columns))
		for i, c := range op.Columns {
			if used[c] {
				keepIdx = append(keepIdx, i)
			} else {
				changed = true
			}
		}
		if changed {
			newCols := make([]*bind.Descriptor, len(keepIdx))
			for j, i := range keepIdx {
				newCols[j] = op.Columns[i]
			}
			newRows := make([][]scalar.Expr, len(op.Rows))
			for ri, row := range op.Rows {
				nr := make([]scalar.Expr, len(keepIdx))
				for j, i := range keepIdx {
					nr[j] = row[i]
				}
				newRows[ri] = nr
			}
			op.Columns = newCols
			op.Rows = newRows
		}

	case *rel.EscapeOp:
		kept := op.Columns[:0]
		for _, c := range op.Columns {
			if used[c.Dest] {
				kept = append(kept, c)
			} else {
				changed = true
			}
		}
		op.Columns = kept
		for _, c := range kept {
			markUsed(used, c.Source)
		}
	}
	return changed, deleteMe, nil
}

func filterColumnMaps(cols *[]rel.ColumnMap, used map[*bind.Descriptor]bool) bool {
	kept := (*cols)[:0]
	changed := false
	for _, c := range *cols {
		if used[c.Dest] {
			kept = append(kept, c)
		} else {
			changed = true
		}
	}
	*cols = kept
	return changed
}
