package optimizer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/scalar"
)

// TestCollectLocalVariablesInlinesTrivial implements spec S6: a let
// binding a bare variable reference is trivial and gets inlined even
// without always_inline.
func TestCollectLocalVariablesInlinesTrivial(t *testing.T) {
	factory := bind.NewFactory()
	c0 := factory.StreamVariable("c0")
	x := factory.LocalVariable("x")

	expr := scalar.NewLet(
		[]scalar.LetDecl{{Var: x, Value: scalar.NewVariableRef(c0)}},
		scalar.NewBinary(scalar.Add, scalar.NewVariableRef(x), scalar.NewVariableRef(x)),
	)

	touched := false
	out := collectLocalVariables(expr, false, &touched)
	require.True(t, touched)

	sum, ok := out.(*scalar.Binary)
	require.True(t, ok, "the let is elided entirely")
	require.Equal(t, scalar.Add, sum.Op)
	require.Same(t, c0, sum.Left.(*scalar.VariableRef).Var)
	require.Same(t, c0, sum.Right.(*scalar.VariableRef).Var)
}

// TestCollectLocalVariablesKeepsNonTrivial checks the other half of
// §4.B.2: a non-trivial binding stays a let unless always_inline is on.
func TestCollectLocalVariablesKeepsNonTrivial(t *testing.T) {
	factory := bind.NewFactory()
	c0 := factory.StreamVariable("c0")
	x := factory.LocalVariable("x")

	value := scalar.NewBinary(scalar.Add, scalar.NewVariableRef(c0), scalar.NewLiteral(int32(1)))
	body := scalar.NewBinary(scalar.Mul, scalar.NewVariableRef(x), scalar.NewVariableRef(x))

	touched := false
	out := collectLocalVariables(scalar.NewLet([]scalar.LetDecl{{Var: x, Value: value}}, body), false, &touched)
	let, ok := out.(*scalar.Let)
	require.True(t, ok, "a non-trivial binding survives")
	require.Len(t, let.Decls, 1)
	require.False(t, touched)

	// With always_inline the same expression collapses.
	touched = false
	out = collectLocalVariables(scalar.NewLet([]scalar.LetDecl{{Var: x, Value: value}}, body), true, &touched)
	_, isLet := out.(*scalar.Let)
	require.False(t, isLet)
	require.True(t, touched)
}

// TestCollectLocalVariablesLaterDeclaratorSeesEarlier checks that a
// pending inlining applies to subsequent declarators, not just the
// body.
func TestCollectLocalVariablesLaterDeclaratorSeesEarlier(t *testing.T) {
	factory := bind.NewFactory()
	c0 := factory.StreamVariable("c0")
	x := factory.LocalVariable("x")
	y := factory.LocalVariable("y")

	expr := scalar.NewLet(
		[]scalar.LetDecl{
			{Var: x, Value: scalar.NewVariableRef(c0)},
			{Var: y, Value: scalar.NewBinary(scalar.Add, scalar.NewVariableRef(x), scalar.NewLiteral(int32(1)))},
		},
		scalar.NewVariableRef(y),
	)

	touched := false
	out := collectLocalVariables(expr, false, &touched)
	let, ok := out.(*scalar.Let)
	require.True(t, ok)
	require.Len(t, let.Decls, 1)
	require.Same(t, y, let.Decls[0].Var)

	// x was inlined into y's value.
	sum := let.Decls[0].Value.(*scalar.Binary)
	require.Same(t, c0, sum.Left.(*scalar.VariableRef).Var)
}
