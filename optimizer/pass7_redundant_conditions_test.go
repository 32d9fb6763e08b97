package optimizer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/rel"
	"github.com/brindledb/planopt/scalar"
)

// TestRemoveRedundantConditionsSplicesConstantTrueFilter covers spec P4:
// a filter whose condition simplifies to constant_true is spliced out.
func TestRemoveRedundantConditionsSplicesConstantTrueFilter(t *testing.T) {
	factory := bind.NewFactory()
	dv := factory.StreamVariable("v")

	g := rel.NewGraph()
	src := g.Add(&rel.ValuesOp{Columns: []*bind.Descriptor{dv}})
	filterID := g.Add(&rel.FilterOp{Condition: scalar.NewOr(scalar.NewBool(true), scalar.NewVariableRef(dv))})
	emit := g.Add(&rel.EmitOp{Sources: []*bind.Descriptor{dv}})

	require.NoError(t, g.Connect(rel.Port{Node: src, Dir: rel.Out, Index: 0}, rel.Port{Node: filterID, Dir: rel.In, Index: 0}))
	require.NoError(t, g.Connect(rel.Port{Node: filterID, Dir: rel.Out, Index: 0}, rel.Port{Node: emit, Dir: rel.In, Index: 0}))

	rc := &runCtx{graph: g, factory: factory, report: &Report{}}
	stats, err := runRemoveRedundantConditions(rc)
	require.NoError(t, err)
	require.Equal(t, 1, stats.NodesChanged)
	require.Nil(t, g.Node(filterID))

	opp, ok := g.Opposite(rel.Port{Node: src, Dir: rel.Out, Index: 0})
	require.True(t, ok)
	require.Equal(t, rel.Port{Node: emit, Dir: rel.In, Index: 0}, opp)
}

// TestRemoveRedundantConditionsKeepsUnsureFilter confirms a filter whose
// condition does not simplify to constant_true is left in place.
func TestRemoveRedundantConditionsKeepsUnsureFilter(t *testing.T) {
	factory := bind.NewFactory()
	dv := factory.StreamVariable("v")

	g := rel.NewGraph()
	src := g.Add(&rel.ValuesOp{Columns: []*bind.Descriptor{dv}})
	filterID := g.Add(&rel.FilterOp{Condition: scalar.NewVariableRef(dv)})
	emit := g.Add(&rel.EmitOp{Sources: []*bind.Descriptor{dv}})
	require.NoError(t, g.Connect(rel.Port{Node: src, Dir: rel.Out, Index: 0}, rel.Port{Node: filterID, Dir: rel.In, Index: 0}))
	require.NoError(t, g.Connect(rel.Port{Node: filterID, Dir: rel.Out, Index: 0}, rel.Port{Node: emit, Dir: rel.In, Index: 0}))

	rc := &runCtx{graph: g, factory: factory, report: &Report{}}
	stats, err := runRemoveRedundantConditions(rc)
	require.NoError(t, err)
	require.Equal(t, 0, stats.NodesChanged)
	require.NotNil(t, g.Node(filterID))
}

// TestRemoveRedundantConditionsClearsJoinCondition covers the join_find
// /join_scan/join_relation branch: a constant_true condition is cleared
// rather than spliced (these operators have no "remove me" semantics).
func TestRemoveRedundantConditionsClearsJoinCondition(t *testing.T) {
	g := rel.NewGraph()
	joinID := g.Add(&rel.JoinRelationOp{Kind: rel.Inner, Condition: scalar.NewBool(true)})

	rc := &runCtx{graph: g, report: &Report{}}
	stats, err := runRemoveRedundantConditions(rc)
	require.NoError(t, err)
	require.Equal(t, 1, stats.NodesChanged)

	op := g.Node(joinID).Op().(*rel.JoinRelationOp)
	require.Nil(t, op.Condition)
}
