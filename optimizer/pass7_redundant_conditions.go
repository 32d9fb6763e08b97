package optimizer

import (
	"github.com/brindledb/planopt/planerr"
	"github.com/brindledb/planopt/predicate"
	"github.com/brindledb/planopt/rel"
)

// runRemoveRedundantConditions implements spec §4.B.7: simplify every
// filter's condition and splice out filters that collapse to constant
// TRUE; clear join conditions that simplify to constant TRUE.
func runRemoveRedundantConditions(rc *runCtx) (PassStats, error) {
	stats := PassStats{Name: "remove_redundant_conditions"}
	g := rc.graph
	var toSplice []rel.NodeID

	for _, n := range g.Nodes() {
		stats.NodesVisited++
		switch op := n.Op().(type) {
		case *rel.FilterOp:
			if predicate.Simplify(op.Condition) == predicate.True {
				toSplice = append(toSplice, n.ID())
				stats.NodesChanged++
			}
		case *rel.JoinRelationOp:
			if op.Condition != nil && predicate.Simplify(op.Condition) == predicate.True {
				op.Condition = nil
				stats.NodesChanged++
			}
		case *rel.JoinFindOp:
			if op.Condition != nil && predicate.Simplify(op.Condition) == predicate.True {
				op.Condition = nil
				stats.NodesChanged++
			}
		case *rel.JoinScanOp:
			if op.Condition != nil && predicate.Simplify(op.Condition) == predicate.True {
				op.Condition = nil
				stats.NodesChanged++
			}
		}
	}

	for _, id := range toSplice {
		if err := g.Splice(id); err != nil {
			return stats, planerr.Wrap(err, "remove_redundant_conditions: splice")
		}
	}
	return stats, nil
}
