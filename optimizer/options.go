// Package optimizer runs the seven fixed intermediate-plan rewrite
// passes (spec §4.B) over a relational graph, in order, mutating it in
// place.
package optimizer

import (
	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/catalog"
	"github.com/brindledb/planopt/estimator"
	"github.com/brindledb/planopt/flow"
	"github.com/brindledb/planopt/rel"
)

// Feature is one opt-in runtime capability (spec §6.1).
type Feature uint16

const (
	FeatureBroadcastExchange Feature = 1 << iota
	FeatureIndexJoin
	FeatureIndexJoinScan
	FeatureBroadcastJoinScan
	FeatureAggregateExchange
	FeatureAlwaysInlineScalarLocalVariables
)

// FeatureSet is the bitset of enabled Features.
type FeatureSet uint16

func NewFeatureSet(fs ...Feature) FeatureSet {
	var s FeatureSet
	for _, f := range fs {
		s |= FeatureSet(f)
	}
	return s
}

func (s FeatureSet) Has(f Feature) bool { return s&FeatureSet(f) != 0 }

// JoinStrategy is one of the two cogroup/broadcast families named in
// §6.6, usable as a per-join hint.
type JoinStrategy int

const (
	StrategyUnspecified JoinStrategy = iota
	StrategyCogroup
	StrategyBroadcast
)

// Options is carried by both the intermediate-plan optimizer and the
// step-plan builder (spec §6.1).
type Options struct {
	StorageProvider *catalog.Provider
	IndexEstimator  estimator.Estimator
	RuntimeFeatures FeatureSet

	// JoinHints maps a join_relation node to a forced strategy,
	// overriding the feature-driven default (spec §4.D.1: "if a
	// per-operator hint is present use it").
	JoinHints map[rel.NodeID]JoinStrategy

	// AggregateHints forces per-aggregate exchange-vs-group strategy,
	// overriding FeatureAggregateExchange for a specific operator.
	AggregateHints map[rel.NodeID]bool

	// FlowVolume supplies per-edge row-count/column-size estimates for
	// collect_join_keys' volume tiebreaker (spec §3.4, §4.B.6). Nil
	// means no estimates are available, and the tiebreaker is skipped.
	FlowVolume *flow.VolumeMap
}

// runCtx threads the graph, options, shared descriptor factory, and the
// in-progress diagnostic report through every pass.
type runCtx struct {
	graph   *rel.Graph
	opts    Options
	factory *bind.Factory
	report  *Report
}
