package predicate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/scalar"
)

func TestDecomposeRoundTrip(t *testing.T) {
	f := bind.NewFactory()
	a := scalar.NewVariableRef(f.StreamVariable("a"))
	b := scalar.NewVariableRef(f.StreamVariable("b"))
	c := scalar.NewVariableRef(f.StreamVariable("c"))
	d := scalar.NewVariableRef(f.StreamVariable("d"))

	tree := scalar.NewAnd(scalar.NewAnd(a, b), scalar.NewAnd(c, d))

	var got []scalar.Expr
	Decompose(tree, func(atom scalar.Expr) { got = append(got, atom) })
	require.Equal(t, []scalar.Expr{a, b, c, d}, got)
}

func TestDecomposeNonAndIsSingleAtom(t *testing.T) {
	lit := scalar.NewBool(true)
	var got []scalar.Expr
	Decompose(lit, func(atom scalar.Expr) { got = append(got, atom) })
	require.Equal(t, []scalar.Expr{lit}, got)
}

func TestSimplifyAndOrIdentities(t *testing.T) {
	f := bind.NewFactory()
	x := scalar.NewVariableRef(f.StreamVariable("x"))

	require.Equal(t, Unsure, Simplify(scalar.NewAnd(scalar.NewBool(true), x)))
	require.Equal(t, False, Simplify(scalar.NewAnd(scalar.NewBool(false), x)))
	require.Equal(t, Unsure, Simplify(scalar.NewOr(scalar.NewBool(false), x)))
	require.Equal(t, True, Simplify(scalar.NewOr(scalar.NewBool(true), x)))
}

func TestSimplifyUnknownPropagation(t *testing.T) {
	require.Equal(t, UnknownTruth, Simplify(scalar.NewAnd(scalar.NewLiteral(scalar.Unknown), scalar.NewBool(true))))
	require.Equal(t, False, Simplify(scalar.NewAnd(scalar.NewLiteral(scalar.Unknown), scalar.NewBool(false))))
	require.Equal(t, UnknownTruth, Simplify(scalar.NewOr(scalar.NewLiteral(scalar.Unknown), scalar.NewBool(false))))
	require.Equal(t, True, Simplify(scalar.NewOr(scalar.NewLiteral(scalar.Unknown), scalar.NewBool(true))))
}

func TestSimplifyNotAndIsNull(t *testing.T) {
	require.Equal(t, False, Simplify(scalar.NewNot(scalar.NewBool(true))))
	require.Equal(t, True, Simplify(scalar.NewIsNull(scalar.NewLiteral(nil))))
	require.Equal(t, False, Simplify(scalar.NewIsNull(scalar.NewBool(true))))
}

func TestCollectStreamVariables(t *testing.T) {
	f := bind.NewFactory()
	sv := f.StreamVariable("v")
	ext := f.ExternalVariable("p")
	e := scalar.NewAnd(scalar.NewEquals(scalar.NewVariableRef(sv), scalar.NewVariableRef(ext)), scalar.NewBool(true))

	var got []*bind.Descriptor
	CollectStreamVariables(e, func(v *bind.Descriptor) { got = append(got, v) })
	require.Equal(t, []*bind.Descriptor{sv}, got)
}

func TestInlineVariables(t *testing.T) {
	f := bind.NewFactory()
	v := f.StreamVariable("v")
	replacement := scalar.NewLiteral(int64(7))

	target := scalar.NewAnd(scalar.NewVariableRef(v), scalar.NewVariableRef(v))
	got := InlineVariables(target, map[*bind.Descriptor]scalar.Expr{v: replacement})

	b := got.(*scalar.Binary)
	left := b.Left.(*scalar.Literal)
	right := b.Right.(*scalar.Literal)
	require.Equal(t, int64(7), left.Value)
	require.Equal(t, int64(7), right.Value)
	require.NotSame(t, left, right) // each inlined occurrence is a fresh clone
}

func TestClassifyLiteralAndVariable(t *testing.T) {
	f := bind.NewFactory()
	require.True(t, Classify(scalar.NewBool(true)).Has(ClassConstant))
	require.True(t, Classify(scalar.NewBool(true)).Has(ClassTrivial))

	v := Classify(scalar.NewVariableRef(f.StreamVariable("v")))
	require.True(t, v.Has(ClassTrivial))
	require.False(t, v.Has(ClassConstant))
}

func TestClassifyFunctionCallAndMatch(t *testing.T) {
	require.True(t, Classify(scalar.NewFuncCall("f")).Has(ClassFunctionCall))
	require.True(t, Classify(scalar.NewMatch(scalar.NewBool(true), scalar.NewBool(true))).Has(ClassUnknown))
}

func TestClassifyLetContributesVariableDeclaration(t *testing.T) {
	f := bind.NewFactory()
	x := f.LocalVariable("x")
	let := scalar.NewLet([]scalar.LetDecl{{Var: x, Value: scalar.NewBool(true)}}, scalar.NewVariableRef(x))
	require.True(t, Classify(let).Has(ClassVariableDeclaration))
}
