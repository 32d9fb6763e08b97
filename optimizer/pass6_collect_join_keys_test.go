package optimizer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/rel"
	"github.com/brindledb/planopt/scalar"
)

func buildJoinGraph(t *testing.T, kind rel.JoinKind) (*rel.Graph, *bind.Factory, rel.NodeID, []*bind.Descriptor, []*bind.Descriptor) {
	t.Helper()
	factory := bind.NewFactory()
	g := rel.NewGraph()
	scanL, varsL := newScan(t, g, factory, "t0", "cl0", "cl1")
	scanR, varsR := newScan(t, g, factory, "t1", "cr0", "cr1")

	join := g.Add(&rel.JoinRelationOp{
		Kind:      kind,
		Condition: scalar.NewEquals(scalar.NewVariableRef(varsL[0]), scalar.NewVariableRef(varsR[0])),
	})
	emit := g.Add(&rel.EmitOp{Sources: []*bind.Descriptor{varsL[1], varsR[1]}})
	mustConnect(t, g, scanL, 0, join, 0)
	mustConnect(t, g, scanR, 0, join, 1)
	mustConnect(t, g, join, 0, emit, 0)
	return g, factory, join, varsL, varsR
}

// TestCollectJoinKeysCogroupPair checks §4.B.6's key-pair detection: an
// equality between one variable per side becomes a cogroup key pair,
// and the condition itself is left intact.
func TestCollectJoinKeysCogroupPair(t *testing.T) {
	g, factory, join, varsL, varsR := buildJoinGraph(t, rel.Inner)

	rc := &runCtx{graph: g, factory: factory, report: &Report{}}
	_, err := runCollectJoinKeys(rc)
	require.NoError(t, err)

	op := g.Node(join).Op().(*rel.JoinRelationOp)
	require.Len(t, op.CogroupKeys, 1)
	require.Same(t, varsL[0], op.CogroupKeys[0].Left)
	require.Same(t, varsR[0], op.CogroupKeys[0].Right)
	require.NotNil(t, op.Condition, "collect_join_keys never purges the condition")
	require.False(t, op.BroadcastEligible, "broadcast requires the feature")
}

// TestCollectJoinKeysFullOuterForbidsBroadcast implements spec S4: even
// with the broadcast feature on, a full_outer join only offers cogroup,
// and its condition atoms survive.
func TestCollectJoinKeysFullOuterForbidsBroadcast(t *testing.T) {
	g, factory, join, _, _ := buildJoinGraph(t, rel.FullOuter)

	rc := &runCtx{
		graph:   g,
		factory: factory,
		report:  &Report{},
		opts: Options{
			RuntimeFeatures: NewFeatureSet(FeatureBroadcastExchange, FeatureBroadcastJoinScan),
		},
	}
	_, err := runCollectJoinKeys(rc)
	require.NoError(t, err)

	op := g.Node(join).Op().(*rel.JoinRelationOp)
	require.Len(t, op.CogroupKeys, 1)
	require.False(t, op.BroadcastEligible)
	require.NotNil(t, op.Condition)

	require.Equal(t, []JoinStrategy{StrategyCogroup}, AvailableJoinStrategies(op))
}

// TestCollectJoinKeysBroadcastEndpoint checks that with the feature on,
// an inner equi-join records a prefixed_inclusive broadcast endpoint
// over the right-side key.
func TestCollectJoinKeysBroadcastEndpoint(t *testing.T) {
	g, factory, join, varsL, varsR := buildJoinGraph(t, rel.Inner)

	rc := &runCtx{
		graph:   g,
		factory: factory,
		report:  &Report{},
		opts:    Options{RuntimeFeatures: NewFeatureSet(FeatureBroadcastExchange)},
	}
	_, err := runCollectJoinKeys(rc)
	require.NoError(t, err)

	op := g.Node(join).Op().(*rel.JoinRelationOp)
	require.True(t, op.BroadcastEligible)
	require.Equal(t, rel.PrefixedInclusive, op.BroadcastLower.Kind)
	require.Equal(t, rel.PrefixedInclusive, op.BroadcastUpper.Kind)
	require.Len(t, op.BroadcastLower.Keys, 1)
	require.Same(t, varsR[0], op.BroadcastLower.Keys[0].Var)
	require.Same(t, varsL[0], op.BroadcastLower.Keys[0].Value.(*scalar.VariableRef).Var)

	strategies := AvailableJoinStrategies(op)
	require.Contains(t, strategies, StrategyCogroup)
	require.Contains(t, strategies, StrategyBroadcast)
}
