package rel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// stubOp is a minimal Operator for graph-mechanics tests that don't
// care about any particular payload.
type stubOp struct {
	tag     Tag
	ins     int
	outs    int
	label   string
}

func (s *stubOp) Tag() Tag        { return s.tag }
func (s *stubOp) NumInputs() int  { return s.ins }
func (s *stubOp) NumOutputs() int { return s.outs }
func (s *stubOp) String() string  { return s.label }

func src(label string) *stubOp    { return &stubOp{tag: Values, ins: 0, outs: 1, label: label} }
func pass(label string) *stubOp   { return &stubOp{tag: Filter, ins: 1, outs: 1, label: label} }
func sink(label string) *stubOp   { return &stubOp{tag: Emit, ins: 1, outs: 0, label: label} }

func TestConnectDisconnectOpposite(t *testing.T) {
	g := NewGraph()
	a := g.Add(src("a"))
	b := g.Add(sink("b"))

	out := Port{Node: a, Dir: Out, Index: 0}
	in := Port{Node: b, Dir: In, Index: 0}
	require.NoError(t, g.Connect(out, in))
	require.True(t, g.Connected(out))
	require.True(t, g.Connected(in))

	opp, ok := g.Opposite(out)
	require.True(t, ok)
	require.Equal(t, in, opp)

	g.Disconnect(out)
	require.False(t, g.Connected(out))
	require.False(t, g.Connected(in))
}

func TestConnectRejectsWrongDirections(t *testing.T) {
	g := NewGraph()
	a := g.Add(src("a"))
	b := g.Add(sink("b"))
	err := g.Connect(Port{Node: a, Dir: In, Index: 0}, Port{Node: b, Dir: In, Index: 0})
	require.Error(t, err)
}

func TestSpliceRewiresUpstreamToDownstream(t *testing.T) {
	g := NewGraph()
	a := g.Add(src("a"))
	mid := g.Add(pass("mid"))
	b := g.Add(sink("b"))

	require.NoError(t, g.Connect(Port{Node: a, Dir: Out, Index: 0}, Port{Node: mid, Dir: In, Index: 0}))
	require.NoError(t, g.Connect(Port{Node: mid, Dir: Out, Index: 0}, Port{Node: b, Dir: In, Index: 0}))

	require.NoError(t, g.Splice(mid))
	require.Nil(t, g.Node(mid))

	opp, ok := g.Opposite(Port{Node: a, Dir: Out, Index: 0})
	require.True(t, ok)
	require.Equal(t, Port{Node: b, Dir: In, Index: 0}, opp)
}

func TestSpliceRejectsMultiPort(t *testing.T) {
	g := NewGraph()
	multi := g.Add(&stubOp{tag: JoinRelation, ins: 2, outs: 1, label: "j"})
	require.Error(t, g.Splice(multi))
}

func TestInsertBetween(t *testing.T) {
	g := NewGraph()
	a := g.Add(src("a"))
	b := g.Add(sink("b"))
	newNode := g.Add(pass("new"))

	out := Port{Node: a, Dir: Out, Index: 0}
	in := Port{Node: b, Dir: In, Index: 0}
	require.NoError(t, g.Connect(out, in))

	require.NoError(t, g.InsertBetween(out, in, newNode))

	opp, ok := g.Opposite(out)
	require.True(t, ok)
	require.Equal(t, Port{Node: newNode, Dir: In, Index: 0}, opp)

	opp, ok = g.Opposite(in)
	require.True(t, ok)
	require.Equal(t, Port{Node: newNode, Dir: Out, Index: 0}, opp)
}

func TestRootsAndSources(t *testing.T) {
	g := NewGraph()
	a := g.Add(src("a"))
	mid := g.Add(pass("mid"))
	b := g.Add(sink("b"))
	require.NoError(t, g.Connect(Port{Node: a, Dir: Out, Index: 0}, Port{Node: mid, Dir: In, Index: 0}))
	require.NoError(t, g.Connect(Port{Node: mid, Dir: Out, Index: 0}, Port{Node: b, Dir: In, Index: 0}))

	require.Equal(t, []NodeID{a}, g.Sources())
	require.Equal(t, []NodeID{b}, g.Roots())
}

func TestDeleteThenNodeNil(t *testing.T) {
	g := NewGraph()
	a := g.Add(src("a"))
	g.Delete(a)
	require.Nil(t, g.Node(a))
	require.Empty(t, g.Nodes())
}

func TestRequireConnected(t *testing.T) {
	g := NewGraph()
	a := g.Add(src("a"))
	err := g.RequireConnected(Port{Node: a, Dir: Out, Index: 0})
	require.Error(t, err)
}
