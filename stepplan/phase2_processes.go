package stepplan

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/brindledb/planopt/rel"
)

// collectProcessSteps implements spec §4.D.2: partition the mutated
// intermediate graph into weakly connected components (exchanges are
// already steps, not operators, so nothing crosses them) and move each
// component into its own process step's operator sub-graph. The source
// graph is left empty of live operators afterward, per §6.1's "may
// leave it empty".
func collectProcessSteps(b *buildCtx) error {
	nodes := b.src.Nodes()
	visited := make(map[rel.NodeID]bool, len(nodes))

	var components [][]*rel.Node
	for _, n := range nodes {
		if visited[n.ID()] {
			continue
		}
		var comp []*rel.Node
		stack := []*rel.Node{n}
		visited[n.ID()] = true
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			comp = append(comp, cur)
			for _, opp := range neighborPorts(b.src, cur) {
				next := b.src.Node(opp.Node)
				if next == nil || visited[next.ID()] {
					continue
				}
				visited[next.ID()] = true
				stack = append(stack, next)
			}
		}
		sort.Slice(comp, func(i, j int) bool { return comp[i].ID() < comp[j].ID() })
		components = append(components, comp)
	}

	for _, comp := range components {
		step := b.graph.addStep(rel.Process)
		step.Ops = rel.NewGraph()

		// Copy into the destination slab, then rewrite the port
		// opposites against the new node ids (spec §9 "moving a node
		// between graphs").
		idMap := make(map[rel.NodeID]rel.NodeID, len(comp))
		for _, n := range comp {
			idMap[n.ID()] = step.Ops.Add(n.Op())
		}
		for _, n := range comp {
			for i := 0; i < n.NumOutputs(); i++ {
				out := rel.Port{Node: n.ID(), Dir: rel.Out, Index: i}
				opp, ok := b.src.Opposite(out)
				if !ok {
					continue
				}
				err := step.Ops.Connect(
					rel.Port{Node: idMap[n.ID()], Dir: rel.Out, Index: i},
					rel.Port{Node: idMap[opp.Node], Dir: rel.In, Index: opp.Index},
				)
				if err != nil {
					return err
				}
			}
		}
		logrus.WithFields(logrus.Fields{
			"component": "stepplan",
			"process":   step.ID(),
			"operators": len(comp),
		}).Debug("process step collected")
	}

	// Empty the source graph: its operators now live in process
	// sub-graphs.
	for _, n := range b.src.Nodes() {
		for i := 0; i < n.NumInputs(); i++ {
			b.src.Disconnect(rel.Port{Node: n.ID(), Dir: rel.In, Index: i})
		}
		for i := 0; i < n.NumOutputs(); i++ {
			b.src.Disconnect(rel.Port{Node: n.ID(), Dir: rel.Out, Index: i})
		}
		b.src.Delete(n.ID())
	}
	return nil
}

func neighborPorts(g *rel.Graph, n *rel.Node) []rel.Port {
	var out []rel.Port
	for i := 0; i < n.NumInputs(); i++ {
		if opp, ok := g.Opposite(rel.Port{Node: n.ID(), Dir: rel.In, Index: i}); ok {
			out = append(out, opp)
		}
	}
	for i := 0; i < n.NumOutputs(); i++ {
		if opp, ok := g.Opposite(rel.Port{Node: n.ID(), Dir: rel.Out, Index: i}); ok {
			out = append(out, opp)
		}
	}
	return out
}
