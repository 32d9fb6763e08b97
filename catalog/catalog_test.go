package catalog

import (
	"testing"

	"github.com/brindledb/planopt/planerr"
	"github.com/stretchr/testify/require"
)

func newT0() *Relation {
	c0 := NewColumn("c0", Int32, false, NoDefault())
	c1 := NewColumn("c1", Int32, true, NoDefault())
	c2 := NewColumn("c2", Text, true, NoDefault())
	return NewTable("t0", []*Column{c0, c1, c2})
}

func TestColumnOwnership(t *testing.T) {
	t0 := newT0()
	for _, c := range t0.Columns() {
		require.Same(t, t0, c.Owner())
	}
}

func TestProviderAddFindRemove(t *testing.T) {
	p := NewProvider(nil, nil)
	t0 := newT0()
	require.NoError(t, p.AddRelation("t0", t0, false))

	got, ok := p.FindRelation("t0")
	require.True(t, ok)
	require.Same(t, t0, got)

	err := p.AddRelation("t0", t0, false)
	require.Error(t, err)
	require.True(t, ErrCatalogConflictIs(err))

	require.True(t, p.RemoveRelation("t0"))
	require.False(t, p.RemoveRelation("t0"))
	_, ok = p.FindRelation("t0")
	require.False(t, ok)
	require.Nil(t, t0.Owner())
	for _, c := range t0.Columns() {
		require.Nil(t, c.Owner())
	}
}

func TestProviderParentShadowing(t *testing.T) {
	parent := NewProvider(nil, nil)
	t0 := newT0()
	require.NoError(t, parent.AddRelation("t0", t0, false))

	child := NewProvider(parent, nil)
	got, ok := child.FindRelation("t0")
	require.True(t, ok)
	require.Same(t, t0, got)

	shadow := NewTable("t0", nil)
	require.NoError(t, child.AddRelation("t0", shadow, true))
	got, ok = child.FindRelation("t0")
	require.True(t, ok)
	require.Same(t, shadow, got)

	var seen []*Relation
	child.EachRelation(func(r *Relation) bool {
		seen = append(seen, r)
		return true
	})
	require.Len(t, seen, 1)
	require.Same(t, shadow, seen[0])
}

func TestProviderAddRejectsWrongOwner(t *testing.T) {
	p1 := NewProvider(nil, nil)
	p2 := NewProvider(nil, nil)
	t0 := newT0()
	require.NoError(t, p1.AddRelation("t0", t0, false))
	err := p2.AddRelation("t0", t0, true)
	require.Error(t, err)
}

func TestIndexPrimaryAndCover(t *testing.T) {
	t0 := newT0()
	c0, _ := t0.Column("c0")
	c1, _ := t0.Column("c1")
	primary := NewIndex("I0", t0, []KeyElement{{Column: c0}}, nil, NewFeatureSet(FeaturePrimary, FeatureFind, FeatureScan, FeatureUnique))
	secondary := NewIndex("X0", t0, []KeyElement{{Column: c0}}, []*Column{c1}, NewFeatureSet(FeatureFind))

	p := NewProvider(nil, nil)
	require.NoError(t, p.AddRelation("t0", t0, false))
	require.NoError(t, p.AddIndex("I0", primary, false))
	require.NoError(t, p.AddIndex("X0", secondary, false))

	found, ok := p.FindPrimaryIndex("t0")
	require.True(t, ok)
	require.Same(t, primary, found)

	require.True(t, secondary.Covers([]*Column{c0, c1}))
	require.False(t, primary.Covers([]*Column{c1}))

	idxs := p.IndicesFor("t0")
	require.Len(t, idxs, 2)
}

func TestSequenceValidation(t *testing.T) {
	_, err := NewSequence("s", 0, 0, 0, 10, false)
	require.Error(t, err)
	_, err = NewSequence("s", 20, 1, 0, 10, false)
	require.Error(t, err)
	s, err := NewSequence("s", 0, 1, 0, 10, false)
	require.NoError(t, err)
	require.Equal(t, int64(0), s.Initial())
}

func TestDefaultCoerce(t *testing.T) {
	d := ImmediateDefault("42")
	v, err := d.Coerce(Int32)
	require.NoError(t, err)
	require.Equal(t, int32(42), v)
}

// ErrCatalogConflictIs is a tiny helper kept local to this test file so
// the test doesn't need to import the errors-kind matching API twice.
func ErrCatalogConflictIs(err error) bool {
	return planerr.ErrCatalogConflict.Is(err)
}
