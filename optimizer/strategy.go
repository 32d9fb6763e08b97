package optimizer

import (
	"github.com/brindledb/planopt/rel"
)

// AvailableJoinStrategies returns the subset of strategies permissible
// for a join_relation given its kind and the endpoint style
// collect_join_keys recorded on it (spec §6.6): full_outer excludes
// broadcast, and prefix/range endpoints with no key-pair equivalences
// exclude cogroup.
func AvailableJoinStrategies(op *rel.JoinRelationOp) []JoinStrategy {
	var out []JoinStrategy
	if len(op.CogroupKeys) > 0 || !op.BroadcastEligible {
		out = append(out, StrategyCogroup)
	}
	if op.Kind != rel.FullOuter && op.BroadcastEligible {
		out = append(out, StrategyBroadcast)
	}
	return out
}
