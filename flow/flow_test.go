package flow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/catalog"
	"github.com/brindledb/planopt/rel"
)

func newScanGraph(t *testing.T) (*rel.Graph, *bind.Factory, *bind.Descriptor, rel.NodeID) {
	t.Helper()
	f := bind.NewFactory()
	tbl := catalog.NewTable("t0", []*catalog.Column{
		catalog.NewColumn("c0", catalog.Int32, false, catalog.NoDefault()),
	})
	col, _ := tbl.Column("c0")
	tc := f.TableColumn(col)
	sv := f.StreamVariable("c0")

	g := rel.NewGraph()
	idx := catalog.NewIndex("I0", tbl, []catalog.KeyElement{{Column: col}}, nil, catalog.NewFeatureSet(catalog.FeaturePrimary, catalog.FeatureFind, catalog.FeatureScan))
	scan := g.Add(&rel.ScanOp{Source: idx, Columns: []rel.ColumnMap{{Source: tc, Dest: sv}}})
	return g, f, sv, scan
}

func TestFindThroughPassThroughOps(t *testing.T) {
	g, _, sv, scan := newScanGraph(t)
	filt := g.Add(&rel.FilterOp{})
	emit := g.Add(&rel.EmitOp{Sources: []*bind.Descriptor{sv}})

	require.NoError(t, g.Connect(rel.Port{Node: scan, Dir: rel.Out, Index: 0}, rel.Port{Node: filt, Dir: rel.In, Index: 0}))
	require.NoError(t, g.Connect(rel.Port{Node: filt, Dir: rel.Out, Index: 0}, rel.Port{Node: emit, Dir: rel.In, Index: 0}))

	origin, ok := Find(g, sv, rel.Port{Node: filt, Dir: rel.Out, Index: 0})
	require.True(t, ok)
	require.Equal(t, rel.Port{Node: scan, Dir: rel.Out, Index: 0}, origin)
}

func TestFindAccumulatesThroughProject(t *testing.T) {
	g, f, sv, scan := newScanGraph(t)
	other := f.StreamVariable("derived")
	proj := g.Add(&rel.ProjectOp{Projections: []rel.ProjectDecl{{Var: other}}})

	require.NoError(t, g.Connect(rel.Port{Node: scan, Dir: rel.Out, Index: 0}, rel.Port{Node: proj, Dir: rel.In, Index: 0}))

	// A project declares its own columns but does not hide its input's:
	// the scan's variable stays visible through it, originating at the
	// scan.
	origin, ok := Find(g, sv, rel.Port{Node: proj, Dir: rel.Out, Index: 0})
	require.True(t, ok)
	require.Equal(t, rel.Port{Node: scan, Dir: rel.Out, Index: 0}, origin)

	// The projected variable itself is found right at the project.
	origin, ok = Find(g, other, rel.Port{Node: proj, Dir: rel.Out, Index: 0})
	require.True(t, ok)
	require.Equal(t, rel.Port{Node: proj, Dir: rel.Out, Index: 0}, origin)
}

func TestFindAccumulatesThroughAggregate(t *testing.T) {
	g, f, sv, scan := newScanGraph(t)
	sum := f.StreamVariable("s")
	agg := g.Add(&rel.AggregateRelationOp{
		GroupKeys:    nil,
		Aggregations: []rel.AggDecl{{Var: sum, Func: "sum"}},
	})

	require.NoError(t, g.Connect(rel.Port{Node: scan, Dir: rel.Out, Index: 0}, rel.Port{Node: agg, Dir: rel.In, Index: 0}))

	origin, ok := Find(g, sv, rel.Port{Node: agg, Dir: rel.Out, Index: 0})
	require.True(t, ok)
	require.Equal(t, rel.Port{Node: scan, Dir: rel.Out, Index: 0}, origin)

	origin, ok = Find(g, sum, rel.Port{Node: agg, Dir: rel.Out, Index: 0})
	require.True(t, ok)
	require.Equal(t, rel.Port{Node: agg, Dir: rel.Out, Index: 0}, origin)
}

func TestFindStopsAtEscapeSeparator(t *testing.T) {
	g, f, sv, scan := newScanGraph(t)
	renamed := f.StreamVariable("renamed")
	esc := g.Add(&rel.EscapeOp{Columns: []rel.ColumnMap{{Source: sv, Dest: renamed}}})

	require.NoError(t, g.Connect(rel.Port{Node: scan, Dir: rel.Out, Index: 0}, rel.Port{Node: esc, Dir: rel.In, Index: 0}))

	_, ok := Find(g, sv, rel.Port{Node: esc, Dir: rel.Out, Index: 0})
	require.False(t, ok)

	origin, ok := Find(g, renamed, rel.Port{Node: esc, Dir: rel.Out, Index: 0})
	require.True(t, ok)
	require.Equal(t, rel.Port{Node: esc, Dir: rel.Out, Index: 0}, origin)
}

func TestFindThroughJoinRelationEitherSide(t *testing.T) {
	gLeft, _, leftVar, leftScan := newScanGraph(t)
	g := gLeft
	f := bind.NewFactory()
	rightVar := f.StreamVariable("right")
	rightSrc := g.Add(&rel.ValuesOp{Columns: []*bind.Descriptor{rightVar}})

	join := g.Add(&rel.JoinRelationOp{Kind: rel.Inner})
	require.NoError(t, g.Connect(rel.Port{Node: leftScan, Dir: rel.Out, Index: 0}, rel.Port{Node: join, Dir: rel.In, Index: 0}))
	require.NoError(t, g.Connect(rel.Port{Node: rightSrc, Dir: rel.Out, Index: 0}, rel.Port{Node: join, Dir: rel.In, Index: 1}))

	_, ok := Find(g, leftVar, rel.Port{Node: join, Dir: rel.Out, Index: 0})
	require.True(t, ok)
	_, ok = Find(g, rightVar, rel.Port{Node: join, Dir: rel.Out, Index: 0})
	require.True(t, ok)
}

func TestVisibleWrapsFind(t *testing.T) {
	g, _, sv, scan := newScanGraph(t)
	require.True(t, Visible(g, sv, rel.Port{Node: scan, Dir: rel.Out, Index: 0}))
}

func TestVolumeMapAndPrefer(t *testing.T) {
	_, _, _, scan := newScanGraph(t)
	m := NewVolumeMap()
	p := rel.Port{Node: scan, Dir: rel.Out, Index: 0}
	m.Set(p, VolumeInfo{RowCount: 100, ColumnSize: 8})

	got, ok := m.Get(p)
	require.True(t, ok)
	require.Equal(t, int64(800), got.RowCount*got.ColumnSize)

	small := VolumeInfo{RowCount: 10, ColumnSize: 8}
	require.True(t, Prefer(small, got))
	require.False(t, Prefer(got, small))
}
