// Package rel implements the relational operator graph the core
// consumes and rewrites (spec §3.1, §9). Operators live in a
// graph-owned arena ("slab"); ports are addressed by (owner, direction,
// index) and a connection is a pair of opposite port references stored
// symmetrically, so following an edge in either direction is an O(1)
// slice lookup rather than a map probe.
package rel

import (
	"fmt"
	"strings"

	"github.com/brindledb/planopt/planerr"
)

// Direction is a port's side of an edge.
type Direction uint8

const (
	In Direction = iota
	Out
)

func (d Direction) String() string {
	if d == Out {
		return "out"
	}
	return "in"
}

// NodeID addresses an operator within a Graph's arena. Ids are
// allocated from 0 upward; InvalidID is never a valid allocated node.
type NodeID int32

const InvalidID NodeID = -1

// Port identifies one connection point of a node.
type Port struct {
	Node  NodeID
	Dir   Direction
	Index int
}

func (p Port) String() string { return fmt.Sprintf("%d.%s[%d]", p.Node, p.Dir, p.Index) }

// endpoint is the opposite side of a Port, or the zero value meaning
// "disconnected" (spec §9: "Port opposites are Option<Index>").
type endpoint struct {
	node  NodeID
	index int
	valid bool
}

// Node is one operator in the arena. Its Inputs/Outputs slices parallel
// its logical input/output ports; Inputs[i] names what is connected to
// input port i (from the opposite, an Out port), and vice versa.
type Node struct {
	id      NodeID
	tag     Tag
	op      Operator
	inputs  []endpoint
	outputs []endpoint
	deleted bool
}

func (n *Node) ID() NodeID   { return n.id }
func (n *Node) Tag() Tag     { return n.tag }
func (n *Node) Op() Operator { return n.op }
func (n *Node) SetOp(op Operator) {
	n.op = op
	n.tag = op.Tag()
}
func (n *Node) NumInputs() int  { return len(n.inputs) }
func (n *Node) NumOutputs() int { return len(n.outputs) }

// Graph is an owning arena of operators forming a directed multigraph
// with typed ports (spec §3.1).
type Graph struct {
	nodes []*Node
}

func NewGraph() *Graph { return &Graph{} }

// Add allocates a new node for op, sized according to op's declared
// port counts.
func (g *Graph) Add(op Operator) NodeID {
	id := NodeID(len(g.nodes))
	n := &Node{
		id:      id,
		tag:     op.Tag(),
		op:      op,
		inputs:  make([]endpoint, op.NumInputs()),
		outputs: make([]endpoint, op.NumOutputs()),
	}
	g.nodes = append(g.nodes, n)
	return id
}

// Node returns the node for id, or nil if id is out of range or the
// node has been deleted.
func (g *Graph) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	n := g.nodes[id]
	if n.deleted {
		return nil
	}
	return n
}

func (g *Graph) portSlice(p Port) ([]endpoint, error) {
	n := g.Node(p.Node)
	if n == nil {
		return nil, planerr.ErrDomainViolation.New(fmt.Sprintf("port %s: node not live", p))
	}
	var s []endpoint
	if p.Dir == In {
		s = n.inputs
	} else {
		s = n.outputs
	}
	if p.Index < 0 || p.Index >= len(s) {
		return nil, planerr.ErrDomainViolation.New(fmt.Sprintf("port %s: index out of range", p))
	}
	return s, nil
}

// Connect joins an Out port to an In port symmetrically. Either side
// may already be connected; its previous opposite is simply
// disconnected first (callers that need to preserve the old edge must
// reroute explicitly).
func (g *Graph) Connect(out, in Port) error {
	if out.Dir != Out || in.Dir != In {
		return planerr.ErrDomainViolation.New("Connect requires an Out port and an In port")
	}
	g.Disconnect(out)
	g.Disconnect(in)
	outs, err := g.portSlice(out)
	if err != nil {
		return err
	}
	ins, err := g.portSlice(in)
	if err != nil {
		return err
	}
	outs[out.Index] = endpoint{node: in.Node, index: in.Index, valid: true}
	ins[in.Index] = endpoint{node: out.Node, index: out.Index, valid: true}
	return nil
}

// Disconnect clears whatever p is connected to, and the opposite side's
// pointer back to p, if any.
func (g *Graph) Disconnect(p Port) {
	s, err := g.portSlice(p)
	if err != nil {
		return
	}
	e := s[p.Index]
	if !e.valid {
		return
	}
	s[p.Index] = endpoint{}
	opp := Port{Node: e.node, Dir: oppositeDir(p.Dir), Index: e.index}
	if os, err := g.portSlice(opp); err == nil {
		os[opp.Index] = endpoint{}
	}
}

func oppositeDir(d Direction) Direction {
	if d == In {
		return Out
	}
	return In
}

// Opposite returns the port connected to p, if any.
func (g *Graph) Opposite(p Port) (Port, bool) {
	s, err := g.portSlice(p)
	if err != nil {
		return Port{}, false
	}
	e := s[p.Index]
	if !e.valid {
		return Port{}, false
	}
	return Port{Node: e.node, Dir: oppositeDir(p.Dir), Index: e.index}, true
}

// Connected reports whether p has an opposite (spec P1: dangling-port
// check).
func (g *Graph) Connected(p Port) bool {
	_, ok := g.Opposite(p)
	return ok
}

// RequireConnected returns planerr.ErrDomainViolation if p has no
// opposite, for passes that require connectivity as a precondition
// (spec §7).
func (g *Graph) RequireConnected(p Port) error {
	if !g.Connected(p) {
		return planerr.ErrDomainViolation.New(fmt.Sprintf("port %s is disconnected", p))
	}
	return nil
}

// Delete removes a node from the graph. The node must already be fully
// disconnected; callers that want to excise a node and reroute its
// neighbors should use Splice instead.
func (g *Graph) Delete(id NodeID) {
	n := g.Node(id)
	if n == nil {
		return
	}
	n.deleted = true
	n.op = nil
}

// Splice removes a single-input, single-output node whose input and
// output are both connected, wiring its upstream directly to its
// downstream. Used by dead-operator removal (§4.B.1) and redundant
// -filter removal (§4.B.7).
func (g *Graph) Splice(id NodeID) error {
	n := g.Node(id)
	if n == nil {
		return planerr.ErrDomainViolation.New("splice: node not live")
	}
	if n.NumInputs() != 1 || n.NumOutputs() != 1 {
		return planerr.ErrDomainViolation.New("splice: node must have exactly one input and one output")
	}
	inPort := Port{Node: id, Dir: In, Index: 0}
	outPort := Port{Node: id, Dir: Out, Index: 0}
	upstream, ok := g.Opposite(inPort)
	if !ok {
		return planerr.ErrDomainViolation.New("splice: input not connected")
	}
	downstream, ok := g.Opposite(outPort)
	if !ok {
		return planerr.ErrDomainViolation.New("splice: output not connected")
	}
	g.Disconnect(inPort)
	g.Disconnect(outPort)
	if err := g.Connect(upstream, downstream); err != nil {
		return err
	}
	g.Delete(id)
	return nil
}

// InsertBetween splices a new single-in/single-out node n onto the edge
// currently running out -> in, so that out -> n.in and n.out -> in.
// Used by predicate push-down (§4.B.3) to flush an atom as a new filter.
func (g *Graph) InsertBetween(out, in Port, n NodeID) error {
	if g.Node(n).NumInputs() != 1 || g.Node(n).NumOutputs() != 1 {
		return planerr.ErrDomainViolation.New("InsertBetween: node must have exactly one input and one output")
	}
	if err := g.Connect(out, Port{Node: n, Dir: In, Index: 0}); err != nil {
		return err
	}
	return g.Connect(Port{Node: n, Dir: Out, Index: 0}, in)
}

// Nodes returns every live node, in allocation order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		if !n.deleted {
			out = append(out, n)
		}
	}
	return out
}

// Roots returns live nodes with no output ports at all (the "bottom"
// operators push-down schedules from: emit, write — spec §4.B.3).
func (g *Graph) Roots() []NodeID {
	var out []NodeID
	for _, n := range g.Nodes() {
		if n.NumOutputs() == 0 {
			out = append(out, n.id)
		}
	}
	return out
}

// Sources returns live nodes with no input ports at all (find, scan,
// values).
func (g *Graph) Sources() []NodeID {
	var out []NodeID
	for _, n := range g.Nodes() {
		if n.NumInputs() == 0 {
			out = append(out, n.id)
		}
	}
	return out
}

func (g *Graph) String() string {
	var sb strings.Builder
	for _, n := range g.Nodes() {
		fmt.Fprintf(&sb, "N%d: %s\n", n.id, n.op)
	}
	return sb.String()
}
