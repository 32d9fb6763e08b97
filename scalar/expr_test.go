package scalar

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brindledb/planopt/bind"
)

func TestLiteralPredicates(t *testing.T) {
	require.True(t, IsTrueLiteral(NewBool(true)))
	require.False(t, IsTrueLiteral(NewBool(false)))
	require.True(t, IsFalseLiteral(NewBool(false)))
	require.True(t, IsNullLiteral(NewLiteral(nil)))
	require.True(t, IsUnknownLiteral(NewLiteral(Unknown)))
	require.False(t, IsUnknownLiteral(NewLiteral(nil)))
}

func TestCompareOpNegateTranspose(t *testing.T) {
	require.Equal(t, Ne, Eq.Negate())
	require.Equal(t, Eq, Ne.Negate())
	require.Equal(t, Ge, Lt.Negate())
	require.Equal(t, Lt, Ge.Negate())
	require.Equal(t, Gt, Lt.Transpose())
	require.Equal(t, Lt, Gt.Transpose())
}

func TestChildren(t *testing.T) {
	f := bind.NewFactory()
	k := f.StreamVariable("k")
	e := NewAnd(
		NewEquals(NewVariableRef(k), NewLiteral(int64(1))),
		NewIsNull(NewVariableRef(k)),
	)
	require.Len(t, e.Children(), 2)
	require.Equal(t, "((k = 1) AND IS NULL k)", e.String())
}

func TestLetString(t *testing.T) {
	f := bind.NewFactory()
	x := f.LocalVariable("x")
	k := f.StreamVariable("k")
	let := NewLet([]LetDecl{{Var: x, Value: NewVariableRef(k)}}, NewAnd(NewVariableRef(x), NewVariableRef(x)))
	require.Contains(t, let.String(), "LET x := k IN")
}
