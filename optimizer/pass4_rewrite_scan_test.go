package optimizer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/catalog"
	"github.com/brindledb/planopt/estimator"
	"github.com/brindledb/planopt/rel"
	"github.com/brindledb/planopt/scalar"
)

func newT0(t *testing.T) (*catalog.Relation, *catalog.Column, *catalog.Column) {
	t.Helper()
	c0 := catalog.NewColumn("c0", catalog.Int32, false, catalog.NoDefault())
	c1 := catalog.NewColumn("c1", catalog.Int32, true, catalog.NoDefault())
	table := catalog.NewTable("t0", []*catalog.Column{c0, c1})
	return table, c0, c1
}

// TestRewriteScanRangeToIndexScan implements spec S1: a scan bound to an
// index with no scan feature, filtered by a two-sided range on its only
// key column, is retargeted to whichever candidate index actually
// supports a range scan, and the endpoints are built per §4.C.
func TestRewriteScanRangeToIndexScan(t *testing.T) {
	table, c0, c1 := newT0(t)
	i0 := catalog.NewIndex("I0", table, []catalog.KeyElement{{Column: c0}}, nil,
		catalog.NewFeatureSet(catalog.FeaturePrimary, catalog.FeatureFind, catalog.FeatureUnique))
	x0 := catalog.NewIndex("X0", table, []catalog.KeyElement{{Column: c0}}, nil,
		catalog.NewFeatureSet(catalog.FeatureScan))

	provider := catalog.NewProvider(nil, nil)
	require.NoError(t, provider.AddRelation("t0", table, false))
	require.NoError(t, provider.AddIndex("I0", i0, false))
	require.NoError(t, provider.AddIndex("X0", x0, false))

	factory := bind.NewFactory()
	dc0 := factory.StreamVariable("c0")
	dc1 := factory.StreamVariable("c1")

	g := rel.NewGraph()
	scanID := g.Add(&rel.ScanOp{
		Source: i0,
		Columns: []rel.ColumnMap{
			{Source: factory.TableColumn(c0), Dest: dc0},
			{Source: factory.TableColumn(c1), Dest: dc1},
		},
	})
	cond := scalar.NewAnd(
		scalar.NewCompare(scalar.Ge, scalar.NewVariableRef(dc0), scalar.NewLiteral(int32(0))),
		scalar.NewCompare(scalar.Lt, scalar.NewVariableRef(dc0), scalar.NewLiteral(int32(100))),
	)
	filterID := g.Add(&rel.FilterOp{Condition: cond})
	emitID := g.Add(&rel.EmitOp{Sources: []*bind.Descriptor{dc0}})

	require.NoError(t, g.Connect(rel.Port{Node: scanID, Dir: rel.Out, Index: 0}, rel.Port{Node: filterID, Dir: rel.In, Index: 0}))
	require.NoError(t, g.Connect(rel.Port{Node: filterID, Dir: rel.Out, Index: 0}, rel.Port{Node: emitID, Dir: rel.In, Index: 0}))

	scanNode := g.Node(scanID)
	changed, err := rewriteOneScan(g, scanNode, scanNode.Op().(*rel.ScanOp), provider, estimator.Default)
	require.NoError(t, err)
	require.True(t, changed)

	rewritten, ok := scanNode.Op().(*rel.ScanOp)
	require.True(t, ok, "scan should remain a scan (no find-capable candidate)")
	require.Equal(t, "X0", rewritten.Source.Name())

	require.Equal(t, rel.Inclusive, rewritten.Lower.Kind)
	require.Len(t, rewritten.Lower.Keys, 1)
	require.Equal(t, c0, rewritten.Lower.Keys[0].Column)
	require.Equal(t, int32(0), rewritten.Lower.Keys[0].Value.(*scalar.Literal).Value)

	require.Equal(t, rel.Exclusive, rewritten.Upper.Kind)
	require.Len(t, rewritten.Upper.Keys, 1)
	require.Equal(t, int32(100), rewritten.Upper.Keys[0].Value.(*scalar.Literal).Value)

	// The filter's condition was fully absorbed; remove_redundant_conditions
	// (spec §4.B.7) should now drop it entirely (P4).
	filterNode := g.Node(filterID)
	filterOp := filterNode.Op().(*rel.FilterOp)
	require.True(t, scalar.IsTrueLiteral(filterOp.Condition))
}

// TestRewriteScanPointToFind implements spec S2: an equality predicate
// against a find+unique index rewrites the scan into a find.
func TestRewriteScanPointToFind(t *testing.T) {
	table, c0, c1 := newT0(t)
	xu := catalog.NewIndex("Xu", table, []catalog.KeyElement{{Column: c0}}, nil,
		catalog.NewFeatureSet(catalog.FeatureFind, catalog.FeatureUnique))

	provider := catalog.NewProvider(nil, nil)
	require.NoError(t, provider.AddRelation("t0", table, false))
	require.NoError(t, provider.AddIndex("Xu", xu, false))

	factory := bind.NewFactory()
	dc0 := factory.StreamVariable("c0")
	dc1 := factory.StreamVariable("c1")

	g := rel.NewGraph()
	scanID := g.Add(&rel.ScanOp{
		Source: xu,
		Columns: []rel.ColumnMap{
			{Source: factory.TableColumn(c0), Dest: dc0},
			{Source: factory.TableColumn(c1), Dest: dc1},
		},
	})
	cond := scalar.NewEquals(scalar.NewVariableRef(dc0), scalar.NewLiteral(int32(0)))
	filterID := g.Add(&rel.FilterOp{Condition: cond})
	emitID := g.Add(&rel.EmitOp{Sources: []*bind.Descriptor{dc0}})

	require.NoError(t, g.Connect(rel.Port{Node: scanID, Dir: rel.Out, Index: 0}, rel.Port{Node: filterID, Dir: rel.In, Index: 0}))
	require.NoError(t, g.Connect(rel.Port{Node: filterID, Dir: rel.Out, Index: 0}, rel.Port{Node: emitID, Dir: rel.In, Index: 0}))

	scanNode := g.Node(scanID)
	changed, err := rewriteOneScan(g, scanNode, scanNode.Op().(*rel.ScanOp), provider, estimator.Default)
	require.NoError(t, err)
	require.True(t, changed)

	found, ok := scanNode.Op().(*rel.FindOp)
	require.True(t, ok, "equality against a find+unique index must rewrite to find")
	require.Equal(t, "Xu", found.Index.Name())
	require.Len(t, found.Keys, 1)
	require.Equal(t, c0, found.Keys[0].Column)
	require.Equal(t, int32(0), found.Keys[0].Value.(*scalar.Literal).Value)
	require.Equal(t, dc1, found.Columns[1].Dest)
}

// TestRewriteScanLeavesScanWithoutUsableIndex confirms a scan with no
// downstream filter (no candidate terms at all) is left untouched.
func TestRewriteScanLeavesScanWithoutUsableIndex(t *testing.T) {
	table, c0, _ := newT0(t)
	i0 := catalog.NewIndex("I0", table, []catalog.KeyElement{{Column: c0}}, nil,
		catalog.NewFeatureSet(catalog.FeaturePrimary, catalog.FeatureFind, catalog.FeatureUnique))

	provider := catalog.NewProvider(nil, nil)
	require.NoError(t, provider.AddRelation("t0", table, false))
	require.NoError(t, provider.AddIndex("I0", i0, false))

	factory := bind.NewFactory()
	dc0 := factory.StreamVariable("c0")

	g := rel.NewGraph()
	scanID := g.Add(&rel.ScanOp{
		Source:  i0,
		Columns: []rel.ColumnMap{{Source: factory.TableColumn(c0), Dest: dc0}},
	})
	emitID := g.Add(&rel.EmitOp{Sources: []*bind.Descriptor{dc0}})
	require.NoError(t, g.Connect(rel.Port{Node: scanID, Dir: rel.Out, Index: 0}, rel.Port{Node: emitID, Dir: rel.In, Index: 0}))

	scanNode := g.Node(scanID)
	changed, err := rewriteOneScan(g, scanNode, scanNode.Op().(*rel.ScanOp), provider, estimator.Default)
	require.NoError(t, err)
	require.False(t, changed)
}
