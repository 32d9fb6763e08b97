// Package stepplan implements the step-plan builder (spec §4.D): it
// consumes the intermediate relational graph the optimizer has already
// rewritten and produces a two-level step graph — processes (each
// owning its own operator sub-graph) linked by exchanges (forward,
// group, aggregate, broadcast, discard) — ready for a physical executor
// to schedule.
package stepplan

import (
	"fmt"
	"strings"

	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/planerr"
	"github.com/brindledb/planopt/rel"
)

// StepID addresses a step (process or exchange) within a StepGraph's
// arena, the same role rel.NodeID plays in an operator graph.
type StepID int32

const InvalidStepID StepID = -1

// stepEndpoint is the opposite side of a StepPort, or the zero value
// meaning "disconnected" — mirrors rel.Graph's own endpoint type.
type stepEndpoint struct {
	step  StepID
	index int
	valid bool
}

// StepPort identifies one connection point of a step. Unlike rel.Port,
// a step's port count is not known until the whole topology has been
// planned — collect_exchange_steps inserts exchanges before
// collect_process_steps has even partitioned processes, and link_steps
// only wires ports once both exist (spec §4.D.1-3) — so ports are
// appended on demand rather than sized at allocation time.
type StepPort struct {
	Step  StepID
	Dir   rel.Direction
	Index int
}

// Step is one node of the top-level step graph: either a process (a
// sub-graph of step-plan operators) or an exchange. Which fields are
// meaningful depends on Tag(): Process uses only Ops; every exchange
// kind uses Columns plus whichever of GroupKeys/SortKeys/Limit/
// Aggregations its kind calls for (spec §3.3, §4.D.1).
type Step struct {
	id  StepID
	tag rel.Tag

	// Process payload.
	Ops *rel.Graph

	// Exchange payload.
	GroupKeys    []*bind.Descriptor
	SortKeys     []rel.SortKey
	Limit        *int
	Aggregations []rel.AggDecl
	Columns      *ExchangeColumnInfo

	// SourceColumns holds an aggregate exchange's pre-aggregation raw
	// column info, set aside by collect_exchange_columns before Columns
	// is overwritten with the post-aggregation (group keys + aggregation
	// destinations) view (spec §4.D.4, §4.D.5). Nil for every other kind.
	SourceColumns *ExchangeColumnInfo

	inputs  []stepEndpoint
	outputs []stepEndpoint
}

func (s *Step) ID() StepID      { return s.id }
func (s *Step) Tag() rel.Tag    { return s.tag }
func (s *Step) NumInputs() int  { return len(s.inputs) }
func (s *Step) NumOutputs() int { return len(s.outputs) }

// StepGraph is the top-level two-level graph the step-plan builder
// produces (spec §4.D): a graph of steps, each process owning its own
// operator sub-graph.
type StepGraph struct {
	steps []*Step
}

func newStepGraph() *StepGraph { return &StepGraph{} }

func (g *StepGraph) addStep(tag rel.Tag) *Step {
	s := &Step{id: StepID(len(g.steps)), tag: tag}
	g.steps = append(g.steps, s)
	return s
}

// Step returns the step for id, or nil if out of range.
func (g *StepGraph) Step(id StepID) *Step {
	if id < 0 || int(id) >= len(g.steps) {
		return nil
	}
	return g.steps[id]
}

// Steps returns every step, in allocation order.
func (g *StepGraph) Steps() []*Step {
	return append([]*Step(nil), g.steps...)
}

func addInputPort(s *Step) int {
	s.inputs = append(s.inputs, stepEndpoint{})
	return len(s.inputs) - 1
}

func addOutputPort(s *Step) int {
	s.outputs = append(s.outputs, stepEndpoint{})
	return len(s.outputs) - 1
}

func (g *StepGraph) portSlice(p StepPort) ([]stepEndpoint, error) {
	s := g.Step(p.Step)
	if s == nil {
		return nil, planerr.ErrDomainViolation.New("step port: step not live")
	}
	var sl []stepEndpoint
	if p.Dir == rel.In {
		sl = s.inputs
	} else {
		sl = s.outputs
	}
	if p.Index < 0 || p.Index >= len(sl) {
		return nil, planerr.ErrDomainViolation.New("step port: index out of range")
	}
	return sl, nil
}

// Connect joins an Out step port to an In step port symmetrically.
func (g *StepGraph) Connect(out, in StepPort) error {
	if out.Dir != rel.Out || in.Dir != rel.In {
		return planerr.ErrDomainViolation.New("step Connect requires an Out port and an In port")
	}
	outs, err := g.portSlice(out)
	if err != nil {
		return err
	}
	ins, err := g.portSlice(in)
	if err != nil {
		return err
	}
	outs[out.Index] = stepEndpoint{step: in.Step, index: in.Index, valid: true}
	ins[in.Index] = stepEndpoint{step: out.Step, index: out.Index, valid: true}
	return nil
}

// Opposite returns the port connected to p, if any.
func (g *StepGraph) Opposite(p StepPort) (StepPort, bool) {
	s, err := g.portSlice(p)
	if err != nil {
		return StepPort{}, false
	}
	e := s[p.Index]
	if !e.valid {
		return StepPort{}, false
	}
	dir := rel.In
	if p.Dir == rel.In {
		dir = rel.Out
	}
	return StepPort{Step: e.step, Dir: dir, Index: e.index}, true
}

// link grows a fresh output port on from and a fresh input port on to,
// then connects them — the step-graph equivalent of rel.Graph's
// InsertBetween, used by link_steps (spec §4.D.3) to wire a
// process<->exchange edge whose existence is only discovered by
// walking the process's take_*/offer operators.
func (g *StepGraph) link(from, to *Step) {
	oi := addOutputPort(from)
	ii := addInputPort(to)
	_ = g.Connect(StepPort{Step: from.id, Dir: rel.Out, Index: oi}, StepPort{Step: to.id, Dir: rel.In, Index: ii})
}

// topoOrder computes a Kahn's-algorithm topological order of the step
// graph. Spec §9 requires this be recomputed fresh whenever it is
// needed, never cached, since the graph is still being built while
// earlier phases consult it.
func (g *StepGraph) topoOrder() ([]*Step, error) {
	indeg := make(map[StepID]int, len(g.steps))
	for _, s := range g.steps {
		cnt := 0
		for i := 0; i < s.NumInputs(); i++ {
			if _, ok := g.Opposite(StepPort{Step: s.id, Dir: rel.In, Index: i}); ok {
				cnt++
			}
		}
		indeg[s.id] = cnt
	}

	var queue []*Step
	for _, s := range g.steps {
		if indeg[s.id] == 0 {
			queue = append(queue, s)
		}
	}

	visited := make(map[StepID]bool, len(g.steps))
	order := make([]*Step, 0, len(g.steps))
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		if visited[s.id] {
			continue
		}
		visited[s.id] = true
		order = append(order, s)
		for i := 0; i < s.NumOutputs(); i++ {
			opp, ok := g.Opposite(StepPort{Step: s.id, Dir: rel.Out, Index: i})
			if !ok {
				continue
			}
			indeg[opp.Step]--
			if indeg[opp.Step] == 0 {
				queue = append(queue, g.Step(opp.Step))
			}
		}
	}

	if len(order) != len(g.steps) {
		return nil, planerr.ErrDomainViolation.New("stepplan: step graph has a cycle")
	}
	return order, nil
}

func (s *Step) String() string {
	switch s.tag {
	case rel.Process:
		return fmt.Sprintf("process[%d ops]", len(s.Ops.Nodes()))
	case rel.GroupStep:
		limit := ""
		if s.Limit != nil {
			limit = fmt.Sprintf(", limit=%d", *s.Limit)
		}
		return fmt.Sprintf("group(keys=%d%s)", len(s.GroupKeys), limit)
	case rel.AggregateStep:
		return fmt.Sprintf("aggregate(keys=%d, aggs=%d)", len(s.GroupKeys), len(s.Aggregations))
	case rel.Forward:
		if s.Limit != nil {
			return fmt.Sprintf("forward(limit=%d)", *s.Limit)
		}
		return "forward"
	default:
		return s.tag.String()
	}
}

// String renders the step graph as an indented two-level tree: one line
// per step, each process's operators nested under it.
func (g *StepGraph) String() string {
	var sb strings.Builder
	for _, s := range g.steps {
		fmt.Fprintf(&sb, "S%d: %s\n", s.id, s)
		if s.Tag() != rel.Process {
			continue
		}
		ops := s.Ops.Nodes()
		for i, n := range ops {
			prefix := "├──"
			if i == len(ops)-1 {
				prefix = "└──"
			}
			fmt.Fprintf(&sb, "  %s %s\n", prefix, n.Op())
		}
	}
	return sb.String()
}
