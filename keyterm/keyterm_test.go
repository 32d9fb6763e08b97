package keyterm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/scalar"
)

func TestEquivalentTerm(t *testing.T) {
	f := bind.NewFactory()
	k := f.StreamVariable("k")
	b := NewBuilder([]*bind.Descriptor{k})

	atom := scalar.NewEquals(scalar.NewVariableRef(k), scalar.NewLiteral(int64(1)))
	matched, err := b.Add(atom, nil)
	require.NoError(t, err)
	require.True(t, matched)

	term := b.Term(k)
	require.NotNil(t, term)
	require.True(t, term.Equivalent())
	require.Equal(t, int64(1), term.CloneEquivalent().(*scalar.Literal).Value)
}

func TestEquivalentTransposed(t *testing.T) {
	f := bind.NewFactory()
	k := f.StreamVariable("k")
	b := NewBuilder([]*bind.Descriptor{k})

	// e = k, i.e. literal on the left.
	atom := scalar.NewEquals(scalar.NewLiteral(int64(9)), scalar.NewVariableRef(k))
	matched, err := b.Add(atom, nil)
	require.NoError(t, err)
	require.True(t, matched)

	term := b.Term(k)
	require.True(t, term.Equivalent())
	require.Equal(t, int64(9), term.CloneEquivalent().(*scalar.Literal).Value)
}

func TestRangeTermLowerUpper(t *testing.T) {
	f := bind.NewFactory()
	k := f.StreamVariable("k")
	b := NewBuilder([]*bind.Descriptor{k})

	lower := scalar.NewGreaterThan(scalar.NewVariableRef(k), scalar.NewLiteral(int64(0)))
	upper := scalar.NewCompare(scalar.Le, scalar.NewVariableRef(k), scalar.NewLiteral(int64(10)))

	_, err := b.Add(lower, nil)
	require.NoError(t, err)
	_, err = b.Add(upper, nil)
	require.NoError(t, err)

	term := b.Term(k)
	require.True(t, term.FullBounded())
	require.False(t, term.LowerInclusive())
	require.True(t, term.UpperInclusive())
	require.Equal(t, int64(0), term.CloneLower().(*scalar.Literal).Value)
	require.Equal(t, int64(10), term.CloneUpper().(*scalar.Literal).Value)
}

func TestNegatedComparisonsRewrite(t *testing.T) {
	f := bind.NewFactory()
	k := f.StreamVariable("k")

	// NOT (k < e) => k >= e (lower, inclusive).
	b := NewBuilder([]*bind.Descriptor{k})
	atom := scalar.NewNot(scalar.NewCompare(scalar.Lt, scalar.NewVariableRef(k), scalar.NewLiteral(int64(5))))
	matched, err := b.Add(atom, nil)
	require.NoError(t, err)
	require.True(t, matched)
	term := b.Term(k)
	require.NotNil(t, term.LowerFactor())
	require.True(t, term.LowerInclusive())
}

func TestNegatedEqualsIsUnusable(t *testing.T) {
	f := bind.NewFactory()
	k := f.StreamVariable("k")
	b := NewBuilder([]*bind.Descriptor{k})

	atom := scalar.NewNot(scalar.NewEquals(scalar.NewVariableRef(k), scalar.NewLiteral(int64(1))))
	matched, err := b.Add(atom, nil)
	require.NoError(t, err)
	require.True(t, matched) // recognized as a comparison on k...
	term := b.Term(k)
	require.False(t, term.Equivalent()) // ...but carries no usable endpoint
	require.Nil(t, term.LowerFactor())
	require.Nil(t, term.UpperFactor())
}

func TestNotNotEqualsBecomesEquivalent(t *testing.T) {
	f := bind.NewFactory()
	k := f.StreamVariable("k")
	b := NewBuilder([]*bind.Descriptor{k})

	atom := scalar.NewNot(scalar.NewCompare(scalar.Ne, scalar.NewVariableRef(k), scalar.NewLiteral(int64(3))))
	_, err := b.Add(atom, nil)
	require.NoError(t, err)
	term := b.Term(k)
	require.True(t, term.Equivalent())
}

func TestFirstMatchWinsConflictDropped(t *testing.T) {
	f := bind.NewFactory()
	k := f.StreamVariable("k")
	b := NewBuilder([]*bind.Descriptor{k})

	first := scalar.NewEquals(scalar.NewVariableRef(k), scalar.NewLiteral(int64(1)))
	second := scalar.NewEquals(scalar.NewVariableRef(k), scalar.NewLiteral(int64(2)))
	_, err := b.Add(first, nil)
	require.NoError(t, err)
	_, err = b.Add(second, nil)
	require.NoError(t, err)

	term := b.Term(k)
	require.Equal(t, int64(1), term.CloneEquivalent().(*scalar.Literal).Value)
}

func TestBothSidesKeyIsUnusable(t *testing.T) {
	f := bind.NewFactory()
	k1 := f.StreamVariable("k1")
	k2 := f.StreamVariable("k2")
	b := NewBuilder([]*bind.Descriptor{k1, k2})

	atom := scalar.NewEquals(scalar.NewVariableRef(k1), scalar.NewVariableRef(k2))
	matched, err := b.Add(atom, nil)
	require.NoError(t, err)
	require.False(t, matched)
}

func TestNonKeyAtomIgnored(t *testing.T) {
	f := bind.NewFactory()
	k := f.StreamVariable("k")
	other := f.StreamVariable("other")
	b := NewBuilder([]*bind.Descriptor{k})

	atom := scalar.NewEquals(scalar.NewVariableRef(other), scalar.NewLiteral(int64(1)))
	matched, err := b.Add(atom, nil)
	require.NoError(t, err)
	require.False(t, matched)
}

func TestPurgeMovesExpressionOutOnce(t *testing.T) {
	f := bind.NewFactory()
	k := f.StreamVariable("k")
	b := NewBuilder([]*bind.Descriptor{k})

	var homeCondition scalar.Expr = scalar.NewEquals(scalar.NewVariableRef(k), scalar.NewLiteral(int64(1)))
	atom := homeCondition
	rhs := scalar.NewLiteral(int64(1))

	purgeCalled := false
	purge := func() scalar.Expr {
		purgeCalled = true
		homeCondition = scalar.NewBool(true)
		return rhs
	}

	_, err := b.Add(atom, purge)
	require.NoError(t, err)
	term := b.Term(k)

	got := term.PurgeEquivalent()
	require.True(t, purgeCalled)
	require.Same(t, rhs, got)
	require.True(t, scalar.IsTrueLiteral(homeCondition))
}

func TestQueryThenAddIsInconsistentRewriteState(t *testing.T) {
	f := bind.NewFactory()
	k := f.StreamVariable("k")
	b := NewBuilder([]*bind.Descriptor{k})
	b.Term(k) // query before any Add, but already marks queried

	atom := scalar.NewEquals(scalar.NewVariableRef(k), scalar.NewLiteral(int64(1)))
	_, err := b.Add(atom, nil)
	require.Error(t, err)
}
