package prototype

import (
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"

	"github.com/brindledb/planopt/catalog"
)

func newProto() *TablePrototype {
	c0 := catalog.NewColumn("c0", catalog.Int32, false, catalog.NoDefault())
	c1 := catalog.NewColumn("c1", catalog.Int32, true, catalog.NoDefault())
	table := catalog.NewTable("t0", []*catalog.Column{c0, c1})
	primary := catalog.NewIndex("t0_pk", table, []catalog.KeyElement{{Column: c0}},
		nil, catalog.NewFeatureSet(catalog.FeaturePrimary, catalog.FeatureFind))
	return &TablePrototype{Table: table, Primary: primary}
}

func TestInstantiateClonesAreFreshAndUnowned(t *testing.T) {
	proto := newProto()
	p := NewProcessor(nil)

	table1, primary1, ok := p.Instantiate(Location{}, proto, nil)
	require.True(t, ok)
	require.Nil(t, table1.Owner())

	table2, primary2, ok := p.Instantiate(Location{}, proto, nil)
	require.True(t, ok)

	require.NotSame(t, table1, table2)
	require.NotSame(t, primary1, primary2)
	require.Equal(t, table1.Name(), table2.Name())

	// The prototype itself is untouched by instantiation.
	require.Nil(t, proto.Table.Owner())
}

func TestPrimaryIndexRebindsToClonedTableColumns(t *testing.T) {
	proto := newProto()
	p := NewProcessor(nil)

	table, primary, ok := p.Instantiate(Location{}, proto, nil)
	require.True(t, ok)

	key := primary.KeyColumns()[0]
	cloned, found := table.Column("c0")
	require.True(t, found)
	require.Same(t, cloned, key)
	require.NotSame(t, proto.Table.Columns()[0], key)
}

type rejectAllHooks struct{}

func (rejectAllHooks) EnsureTable(loc Location, table *catalog.Relation, primary *catalog.Index, diag *multierror.Error) bool {
	multierror.Append(diag, nil)
	return false
}

func (rejectAllHooks) EnsureSecondaryIndex(Location, *catalog.Index, *multierror.Error) bool {
	return false
}

func TestHooksCanRejectInstantiation(t *testing.T) {
	proto := newProto()
	p := NewProcessor(rejectAllHooks{})

	table, primary, ok := p.Instantiate(Location{Label: "tenant-a"}, proto, nil)
	require.False(t, ok)
	// Even a rejected instantiation returns the clone shape, so the
	// caller can inspect what would have been registered.
	require.NotNil(t, table)
	require.NotNil(t, primary)
}

func TestInstantiateSecondaryIndexRebinds(t *testing.T) {
	proto := newProto()
	p := NewProcessor(nil)
	table, _, _ := p.Instantiate(Location{}, proto, nil)

	c1, _ := proto.Table.Column("c1")
	secProto := &SecondaryIndexPrototype{
		Index: catalog.NewIndex("t0_c1", proto.Table, []catalog.KeyElement{{Column: c1}},
			nil, catalog.NewFeatureSet(catalog.FeatureScan)),
	}

	idx, ok := p.InstantiateSecondaryIndex(Location{}, table, secProto, nil)
	require.True(t, ok)
	require.Same(t, table, idx.Table())
	gotC1, _ := table.Column("c1")
	require.Same(t, gotC1, idx.KeyColumns()[0])
}
