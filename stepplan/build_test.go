package stepplan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/catalog"
	"github.com/brindledb/planopt/optimizer"
	"github.com/brindledb/planopt/rel"
	"github.com/brindledb/planopt/scalar"
)

func newTable(t *testing.T, name string) (*catalog.Relation, []*catalog.Column, *catalog.Index) {
	t.Helper()
	c0 := catalog.NewColumn("c0", catalog.Int32, false, catalog.NoDefault())
	c1 := catalog.NewColumn("c1", catalog.Int32, true, catalog.NoDefault())
	c2 := catalog.NewColumn("c2", catalog.Int32, true, catalog.NoDefault())
	table := catalog.NewTable(name, []*catalog.Column{c0, c1, c2})
	primary := catalog.NewIndex("I_"+name, table, []catalog.KeyElement{{Column: c0}}, nil,
		catalog.NewFeatureSet(catalog.FeaturePrimary, catalog.FeatureUnique))
	return table, []*catalog.Column{c0, c1, c2}, primary
}

func addScan(t *testing.T, g *rel.Graph, factory *bind.Factory, idx *catalog.Index, cols []*catalog.Column, prefix string) (rel.NodeID, []*bind.Descriptor) {
	t.Helper()
	vars := make([]*bind.Descriptor, len(cols))
	maps := make([]rel.ColumnMap, len(cols))
	for i, c := range cols {
		vars[i] = factory.StreamVariable(prefix + c.Name())
		maps[i] = rel.ColumnMap{Source: factory.TableColumn(c), Dest: vars[i]}
	}
	return g.Add(&rel.ScanOp{Source: idx, Columns: maps}), vars
}

func connect(t *testing.T, g *rel.Graph, from rel.NodeID, fromIdx int, to rel.NodeID, toIdx int) {
	t.Helper()
	require.NoError(t, g.Connect(
		rel.Port{Node: from, Dir: rel.Out, Index: fromIdx},
		rel.Port{Node: to, Dir: rel.In, Index: toIdx},
	))
}

func stepsByTag(g *StepGraph, tag rel.Tag) []*Step {
	var out []*Step
	for _, s := range g.Steps() {
		if s.Tag() == tag {
			out = append(out, s)
		}
	}
	return out
}

func findOp(t *testing.T, g *StepGraph, tag rel.Tag) rel.Operator {
	t.Helper()
	for _, s := range stepsByTag(g, rel.Process) {
		for _, n := range s.Ops.Nodes() {
			if n.Tag() == tag {
				return n.Op()
			}
		}
	}
	t.Fatalf("no %s operator in any process", tag)
	return nil
}

// requireColumnAgreement asserts spec P7: every offer writing to and
// every take-like operator reading from an exchange carries a column
// list agreeing in order and count with the exchange's own.
func requireColumnAgreement(t *testing.T, g *StepGraph) {
	t.Helper()
	check := func(id rel.ExchangeID, cols []rel.ColumnMap, takeSide bool) {
		x := g.Step(StepID(id))
		require.NotNil(t, x)
		info := x.Columns
		if !takeSide {
			// Offers into an aggregate exchange write its source side.
			info = offerInfo(x)
		}
		entries := info.Columns()
		require.Len(t, cols, len(entries))
		for i, e := range entries {
			if takeSide {
				require.Same(t, e.Column, cols[i].Source)
			} else {
				require.Same(t, e.Column, cols[i].Dest)
			}
		}
	}
	for _, s := range stepsByTag(g, rel.Process) {
		for _, n := range s.Ops.Nodes() {
			switch op := n.Op().(type) {
			case *rel.OfferOp:
				check(op.Exchange, op.Columns, false)
			case *rel.TakeFlatOp:
				check(op.Exchange, op.Columns, true)
			case *rel.TakeGroupOp:
				check(op.Exchange, op.Columns, true)
			case *rel.TakeCogroupOp:
				for _, grp := range op.Groups {
					check(grp.Exchange, grp.Columns, true)
				}
			}
		}
	}
}

// TestBuildCogroupJoin implements spec S3: an inner equi-join with no
// index rewrite splits into two producing processes, two group
// exchanges keyed by the join columns, and a consumer running
// take_cogroup + join_group + emit with a nil residual condition.
func TestBuildCogroupJoin(t *testing.T) {
	_, colsL, idxL := newTable(t, "t0")
	_, colsR, idxR := newTable(t, "t1")

	factory := bind.NewFactory()
	g := rel.NewGraph()
	scanL, varsL := addScan(t, g, factory, idxL, colsL, "l_")
	scanR, varsR := addScan(t, g, factory, idxR, colsR, "r_")

	join := g.Add(&rel.JoinRelationOp{
		Kind:      rel.Inner,
		Condition: scalar.NewEquals(scalar.NewVariableRef(varsL[0]), scalar.NewVariableRef(varsR[0])),
	})
	emit := g.Add(&rel.EmitOp{Sources: []*bind.Descriptor{varsL[1], varsR[1]}})
	connect(t, g, scanL, 0, join, 0)
	connect(t, g, scanR, 0, join, 1)
	connect(t, g, join, 0, emit, 0)

	opts := optimizer.Options{}
	_, err := optimizer.Run(context.Background(), g, factory, opts)
	require.NoError(t, err)

	plan, err := Build(context.Background(), g, factory, opts)
	require.NoError(t, err)

	require.Empty(t, g.Nodes(), "source graph is consumed")
	require.Len(t, stepsByTag(plan, rel.Process), 3)
	groups := stepsByTag(plan, rel.GroupStep)
	require.Len(t, groups, 2)
	for _, x := range groups {
		require.Len(t, x.GroupKeys, 1)
		require.Equal(t, bind.ExchangeColumn, x.GroupKeys[0].Kind())
		// c2 was never referenced, so each side publishes its join key
		// plus the emitted column only.
		require.Len(t, x.Columns.Columns(), 2)
	}

	jg := findOp(t, plan, rel.JoinGroup).(*rel.JoinGroupOp)
	require.Equal(t, rel.Inner, jg.Kind)
	require.Nil(t, jg.Condition, "equi-join atom is enforced by the group exchanges")

	take := findOp(t, plan, rel.TakeCogroup).(*rel.TakeCogroupOp)
	require.Len(t, take.Groups, 2)

	requireColumnAgreement(t, plan)
}

// TestBuildBroadcastJoin covers §4.D.1's broadcast strategy: with the
// broadcast_exchange feature on and an equivalent join key available,
// the right side is offered into a broadcast exchange and the join
// becomes a join_find probing it from the left process.
func TestBuildBroadcastJoin(t *testing.T) {
	_, colsL, idxL := newTable(t, "t0")
	_, colsR, idxR := newTable(t, "t1")

	factory := bind.NewFactory()
	g := rel.NewGraph()
	scanL, varsL := addScan(t, g, factory, idxL, colsL, "l_")
	scanR, varsR := addScan(t, g, factory, idxR, colsR, "r_")

	join := g.Add(&rel.JoinRelationOp{
		Kind:      rel.Inner,
		Condition: scalar.NewEquals(scalar.NewVariableRef(varsL[0]), scalar.NewVariableRef(varsR[0])),
	})
	emit := g.Add(&rel.EmitOp{Sources: []*bind.Descriptor{varsL[1], varsR[1]}})
	connect(t, g, scanL, 0, join, 0)
	connect(t, g, scanR, 0, join, 1)
	connect(t, g, join, 0, emit, 0)

	opts := optimizer.Options{
		RuntimeFeatures: optimizer.NewFeatureSet(optimizer.FeatureBroadcastExchange),
	}
	_, err := optimizer.Run(context.Background(), g, factory, opts)
	require.NoError(t, err)

	plan, err := Build(context.Background(), g, factory, opts)
	require.NoError(t, err)

	require.Len(t, stepsByTag(plan, rel.Broadcast), 1)
	require.Len(t, stepsByTag(plan, rel.Process), 2)

	probe := findOp(t, plan, rel.JoinFind).(*rel.JoinFindOp)
	require.NotEqual(t, rel.InvalidExchangeID, probe.SourceExchange)
	require.Len(t, probe.ExchangeKeys, 1)
	require.Equal(t, bind.ExchangeColumn, probe.ExchangeKeys[0].Var.Kind())
	require.NotNil(t, probe.Condition)

	requireColumnAgreement(t, plan)
}

// TestBuildLimitForward covers the flat limit shape of §4.D.1: no group
// keys and no sort keys means a forward exchange carrying the limit and
// a take_flat on the consuming side.
func TestBuildLimitForward(t *testing.T) {
	_, cols, idx := newTable(t, "t0")

	factory := bind.NewFactory()
	g := rel.NewGraph()
	scan, vars := addScan(t, g, factory, idx, cols[:1], "")
	limit := g.Add(&rel.LimitRelationOp{N: 10})
	emit := g.Add(&rel.EmitOp{Sources: []*bind.Descriptor{vars[0]}})
	connect(t, g, scan, 0, limit, 0)
	connect(t, g, limit, 0, emit, 0)

	plan, err := Build(context.Background(), g, factory, optimizer.Options{})
	require.NoError(t, err)

	forwards := stepsByTag(plan, rel.Forward)
	require.Len(t, forwards, 1)
	require.NotNil(t, forwards[0].Limit)
	require.Equal(t, 10, *forwards[0].Limit)
	require.Len(t, forwards[0].Columns.Columns(), 1)

	take := findOp(t, plan, rel.TakeFlat).(*rel.TakeFlatOp)
	require.Len(t, take.Columns, 1)
	requireColumnAgreement(t, plan)
}

// TestBuildDistinct covers §4.D.1's distinct shape: a group exchange
// with limit 1 on the distinct keys, then take_group + flatten.
func TestBuildDistinct(t *testing.T) {
	_, cols, idx := newTable(t, "t0")

	factory := bind.NewFactory()
	g := rel.NewGraph()
	scan, vars := addScan(t, g, factory, idx, cols[:2], "")
	distinct := g.Add(&rel.DistinctRelationOp{GroupKeys: []*bind.Descriptor{vars[0], vars[1]}})
	emit := g.Add(&rel.EmitOp{Sources: []*bind.Descriptor{vars[0], vars[1]}})
	connect(t, g, scan, 0, distinct, 0)
	connect(t, g, distinct, 0, emit, 0)

	plan, err := Build(context.Background(), g, factory, optimizer.Options{})
	require.NoError(t, err)

	groups := stepsByTag(plan, rel.GroupStep)
	require.Len(t, groups, 1)
	require.NotNil(t, groups[0].Limit)
	require.Equal(t, 1, *groups[0].Limit)
	require.Len(t, groups[0].GroupKeys, 2)

	findOp(t, plan, rel.TakeGroup)
	findOp(t, plan, rel.Flatten)
	requireColumnAgreement(t, plan)
}

// TestBuildUnionAll covers §4.D.1's union-all shape: one forward
// exchange, an offer per input with pre-declared columns sharing the
// destination's exchange column, and a take_flat consumer.
func TestBuildUnionAll(t *testing.T) {
	_, colsA, idxA := newTable(t, "t0")
	_, colsB, idxB := newTable(t, "t1")

	factory := bind.NewFactory()
	g := rel.NewGraph()
	scanA, varsA := addScan(t, g, factory, idxA, colsA[:1], "a_")
	scanB, varsB := addScan(t, g, factory, idxB, colsB[:1], "b_")

	dest := factory.StreamVariable("u0")
	union := g.Add(rel.NewUnionOp(true, []*bind.Descriptor{dest},
		[][]*bind.Descriptor{{varsA[0]}, {varsB[0]}}))
	emit := g.Add(&rel.EmitOp{Sources: []*bind.Descriptor{dest}})
	connect(t, g, scanA, 0, union, 0)
	connect(t, g, scanB, 0, union, 1)
	connect(t, g, union, 0, emit, 0)

	plan, err := Build(context.Background(), g, factory, optimizer.Options{})
	require.NoError(t, err)

	forwards := stepsByTag(plan, rel.Forward)
	require.Len(t, forwards, 1)
	require.Len(t, forwards[0].Columns.Columns(), 1)

	var offers []*rel.OfferOp
	for _, s := range stepsByTag(plan, rel.Process) {
		for _, n := range s.Ops.Nodes() {
			if op, ok := n.Op().(*rel.OfferOp); ok {
				offers = append(offers, op)
			}
		}
	}
	require.Len(t, offers, 2)
	require.Same(t, offers[0].Columns[0].Dest, offers[1].Columns[0].Dest,
		"both sides land in the same exchange column")
	requireColumnAgreement(t, plan)
}

// TestBuildUnionDistinctAsymmetric covers §7: a distinct union whose
// side mappings disagree in arity is a domain violation.
func TestBuildUnionDistinctAsymmetric(t *testing.T) {
	_, colsA, idxA := newTable(t, "t0")
	_, colsB, idxB := newTable(t, "t1")

	factory := bind.NewFactory()
	g := rel.NewGraph()
	scanA, varsA := addScan(t, g, factory, idxA, colsA[:2], "a_")
	scanB, varsB := addScan(t, g, factory, idxB, colsB[:2], "b_")

	d0 := factory.StreamVariable("u0")
	d1 := factory.StreamVariable("u1")
	union := g.Add(rel.NewUnionOp(false, []*bind.Descriptor{d0, d1},
		[][]*bind.Descriptor{{varsA[0], varsA[1]}, {varsB[0]}}))
	emit := g.Add(&rel.EmitOp{Sources: []*bind.Descriptor{d0}})
	connect(t, g, scanA, 0, union, 0)
	connect(t, g, scanB, 0, union, 1)
	connect(t, g, union, 0, emit, 0)

	_, err := Build(context.Background(), g, factory, optimizer.Options{})
	require.Error(t, err)
}

// TestBuildAggregateGroupMode covers the group-exchange aggregate
// shape: without the aggregate_exchange feature the exchange groups by
// key and a step-aggregate runs inside the consuming process.
func TestBuildAggregateGroupMode(t *testing.T) {
	_, cols, idx := newTable(t, "t0")

	factory := bind.NewFactory()
	g := rel.NewGraph()
	scan, vars := addScan(t, g, factory, idx, cols[:2], "")
	sum := factory.StreamVariable("s")
	agg := g.Add(&rel.AggregateRelationOp{
		GroupKeys: []*bind.Descriptor{vars[0]},
		Aggregations: []rel.AggDecl{
			{Var: sum, Func: "sum", Arg: scalar.NewVariableRef(vars[1])},
		},
	})
	emit := g.Add(&rel.EmitOp{Sources: []*bind.Descriptor{vars[0], sum}})
	connect(t, g, scan, 0, agg, 0)
	connect(t, g, agg, 0, emit, 0)

	plan, err := Build(context.Background(), g, factory, optimizer.Options{})
	require.NoError(t, err)

	require.Len(t, stepsByTag(plan, rel.GroupStep), 1)
	require.Empty(t, stepsByTag(plan, rel.AggregateStep))

	stepAgg := findOp(t, plan, rel.AggregateGroup).(*rel.AggregateGroupOp)
	require.Len(t, stepAgg.Aggregations, 1)
	require.Len(t, stepAgg.GroupKeys, 1)
	requireColumnAgreement(t, plan)
}

// TestBuildAggregateExchangeMode covers the aggregate-exchange shape
// (§4.D.1, §4.D.4): the exchange itself carries group keys and
// aggregations, exposes only keys + aggregation destinations
// downstream, and keeps its raw offered columns as the source side.
func TestBuildAggregateExchangeMode(t *testing.T) {
	_, cols, idx := newTable(t, "t0")

	factory := bind.NewFactory()
	g := rel.NewGraph()
	scan, vars := addScan(t, g, factory, idx, cols[:2], "")
	sum := factory.StreamVariable("s")
	agg := g.Add(&rel.AggregateRelationOp{
		GroupKeys: []*bind.Descriptor{vars[0]},
		Aggregations: []rel.AggDecl{
			{Var: sum, Func: "sum", Arg: scalar.NewVariableRef(vars[1])},
		},
	})
	emit := g.Add(&rel.EmitOp{Sources: []*bind.Descriptor{vars[0], sum}})
	connect(t, g, scan, 0, agg, 0)
	connect(t, g, agg, 0, emit, 0)

	opts := optimizer.Options{
		RuntimeFeatures: optimizer.NewFeatureSet(optimizer.FeatureAggregateExchange),
	}
	plan, err := Build(context.Background(), g, factory, opts)
	require.NoError(t, err)

	aggs := stepsByTag(plan, rel.AggregateStep)
	require.Len(t, aggs, 1)
	x := aggs[0]
	require.Len(t, x.Aggregations, 1)
	require.Len(t, x.GroupKeys, 1)
	require.Equal(t, bind.ExchangeColumn, x.GroupKeys[0].Kind())
	require.Len(t, x.Columns.Columns(), 2, "group key + aggregation destination")
	require.NotNil(t, x.SourceColumns)
	require.Len(t, x.SourceColumns.Columns(), 2, "group key + aggregation argument")

	// The aggregation argument was rewritten onto the source exchange
	// columns.
	ref, ok := x.Aggregations[0].Arg.(*scalar.VariableRef)
	require.True(t, ok)
	require.Equal(t, bind.ExchangeColumn, ref.Var.Kind())

	findOp(t, plan, rel.Flatten)
	requireColumnAgreement(t, plan)
}

// TestBuildIntersection covers §4.D.1's binary-group shape: one group
// exchange per side with limit 1, matched by take_cogroup into
// intersection_group.
func TestBuildIntersection(t *testing.T) {
	_, colsA, idxA := newTable(t, "t0")
	_, colsB, idxB := newTable(t, "t1")

	factory := bind.NewFactory()
	g := rel.NewGraph()
	scanA, varsA := addScan(t, g, factory, idxA, colsA[:1], "a_")
	scanB, varsB := addScan(t, g, factory, idxB, colsB[:1], "b_")

	inter := g.Add(&rel.IntersectionOp{
		LeftKeys:  []*bind.Descriptor{varsA[0]},
		RightKeys: []*bind.Descriptor{varsB[0]},
	})
	emit := g.Add(&rel.EmitOp{Sources: []*bind.Descriptor{varsA[0]}})
	connect(t, g, scanA, 0, inter, 0)
	connect(t, g, scanB, 0, inter, 1)
	connect(t, g, inter, 0, emit, 0)

	plan, err := Build(context.Background(), g, factory, optimizer.Options{})
	require.NoError(t, err)

	groups := stepsByTag(plan, rel.GroupStep)
	require.Len(t, groups, 2)
	for _, x := range groups {
		require.NotNil(t, x.Limit)
		require.Equal(t, 1, *x.Limit)
	}
	findOp(t, plan, rel.IntersectionGroup)
	take := findOp(t, plan, rel.TakeCogroup).(*rel.TakeCogroupOp)
	require.Len(t, take.Groups, 2)
	requireColumnAgreement(t, plan)
}

// TestBuildEscapeRemoved checks §4.D.5's escape collapse: the rename
// turns into aliases, the operator disappears, and the emit still
// resolves through to the scan's column.
func TestBuildEscapeRemoved(t *testing.T) {
	_, cols, idx := newTable(t, "t0")

	factory := bind.NewFactory()
	g := rel.NewGraph()
	scan, vars := addScan(t, g, factory, idx, cols[:1], "")
	renamed := factory.StreamVariable("r0")
	escape := g.Add(&rel.EscapeOp{Columns: []rel.ColumnMap{{Source: vars[0], Dest: renamed}}})
	emit := g.Add(&rel.EmitOp{Sources: []*bind.Descriptor{renamed}})
	connect(t, g, scan, 0, escape, 0)
	connect(t, g, escape, 0, emit, 0)

	plan, err := Build(context.Background(), g, factory, optimizer.Options{})
	require.NoError(t, err)

	procs := stepsByTag(plan, rel.Process)
	require.Len(t, procs, 1)
	for _, n := range procs[0].Ops.Nodes() {
		require.NotEqual(t, rel.Escape, n.Tag())
	}
	// No exchange at all: the whole plan is a single process.
	require.Len(t, plan.Steps(), 1)

	scanOp := findOp(t, plan, rel.Scan).(*rel.ScanOp)
	emitOp := findOp(t, plan, rel.Emit).(*rel.EmitOp)
	require.Len(t, scanOp.Columns, 1)
	require.Same(t, scanOp.Columns[0].Dest, emitOp.Sources[0])
}
