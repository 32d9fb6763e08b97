// Package flow implements stream-variable flow tracing and flow-volume
// bookkeeping over an intermediate relational graph (spec §3.4). Tracing
// answers "is variable v visible at this output port", walking upstream
// through operators that pass their input's visible set through
// unchanged, and stopping at operators that either redeclare the
// visible set outright or act as a rename separator (escape).
package flow

import (
	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/rel"
)

// declaredSet returns the operator's output-visible variable set along
// with whether the operator terminates the upstream walk when the
// sought variable is not among them. Sources (find, scan, values) and
// operators that replace their input's columns outright (join_find,
// join_scan, union) block; escape blocks as the rename separator.
// Project and aggregate declare their outputs but fall through —
// a variable they do not declare may still be visible further upstream.
// Pure pass-through operators (filter, buffer, identify's unaffected
// columns, limit, distinct, join_relation, intersection, difference)
// declare nothing and continue.
func declaredSet(op rel.Operator) (vars map[*bind.Descriptor]bool, blocking bool) {
	switch o := op.(type) {
	case *rel.FindOp:
		return destSet(o.Columns), true
	case *rel.ScanOp:
		return destSet(o.Columns), true
	case *rel.ValuesOp:
		return varSet(o.Columns), true
	case *rel.ProjectOp:
		vs := make(map[*bind.Descriptor]bool, len(o.Projections))
		for _, p := range o.Projections {
			vs[p.Var] = true
		}
		return vs, false
	case *rel.JoinFindOp:
		return destSet(o.Columns), true
	case *rel.JoinScanOp:
		return destSet(o.Columns), true
	case *rel.AggregateRelationOp:
		vs := make(map[*bind.Descriptor]bool, len(o.GroupKeys)+len(o.Aggregations))
		for _, k := range o.GroupKeys {
			vs[k] = true
		}
		for _, a := range o.Aggregations {
			vs[a.Var] = true
		}
		return vs, false
	case *rel.UnionOp:
		return varSet(o.Dest), true
	case *rel.EscapeOp:
		return destSet(o.Columns), true
	case *rel.IdentifyOp:
		return map[*bind.Descriptor]bool{o.Var: true}, false
	default:
		return nil, false
	}
}

func destSet(cols []rel.ColumnMap) map[*bind.Descriptor]bool {
	vs := make(map[*bind.Descriptor]bool, len(cols))
	for _, c := range cols {
		vs[c.Dest] = true
	}
	return vs
}

func varSet(vars []*bind.Descriptor) map[*bind.Descriptor]bool {
	vs := make(map[*bind.Descriptor]bool, len(vars))
	for _, v := range vars {
		vs[v] = true
	}
	return vs
}

// Find walks upstream from output port p looking for v, per spec §3.4.
// It returns the port that originates v (the output port of the
// operator that first declares it) and true, or the zero Port and false
// if v is never declared before either the search runs off the graph or
// an escape separator is crossed.
func Find(g *rel.Graph, v *bind.Descriptor, p rel.Port) (rel.Port, bool) {
	n := g.Node(p.Node)
	if n == nil {
		return rel.Port{}, false
	}

	vars, blocking := declaredSet(n.Op())
	if vars[v] {
		return p, true
	}
	if blocking {
		// A source, a column-replacing operator, or the escape rename
		// separator: the search cannot continue past it.
		return rel.Port{}, false
	}

	switch n.Tag() {
	case rel.JoinRelation:
		if origin, ok := findUpstream(g, v, n, 0); ok {
			return origin, true
		}
		return findUpstream(g, v, n, 1)
	case rel.Intersection, rel.Difference:
		return findUpstream(g, v, n, 0)
	default:
		if n.NumInputs() == 0 {
			return rel.Port{}, false
		}
		return findUpstream(g, v, n, 0)
	}
}

func findUpstream(g *rel.Graph, v *bind.Descriptor, n *rel.Node, inputIndex int) (rel.Port, bool) {
	if inputIndex >= n.NumInputs() {
		return rel.Port{}, false
	}
	opp, ok := g.Opposite(rel.Port{Node: n.ID(), Dir: rel.In, Index: inputIndex})
	if !ok {
		return rel.Port{}, false
	}
	return Find(g, v, opp)
}

// Visible reports whether v is declared somewhere upstream of p (spec
// §4.B.3's left_mask/right_mask classification).
func Visible(g *rel.Graph, v *bind.Descriptor, p rel.Port) bool {
	_, ok := Find(g, v, p)
	return ok
}

// VolumeInfo is the row-count/column-size estimate attached to an
// output port, used only by the join-rewrite cost tiebreaker (spec
// §3.4, §4.B.6).
type VolumeInfo struct {
	RowCount   int64
	ColumnSize int64
}

// VolumeMap records VolumeInfo per output port.
type VolumeMap struct {
	byPort map[rel.Port]VolumeInfo
}

func NewVolumeMap() *VolumeMap { return &VolumeMap{byPort: make(map[rel.Port]VolumeInfo)} }

func (m *VolumeMap) Set(p rel.Port, info VolumeInfo) { m.byPort[p] = info }

func (m *VolumeMap) Get(p rel.Port) (VolumeInfo, bool) {
	info, ok := m.byPort[p]
	return info, ok
}

// Prefer reports whether candidate is a preferable join-probe side over
// current under the volume tiebreaker: smaller total estimated byte
// volume (RowCount * ColumnSize) wins.
func Prefer(candidate, current VolumeInfo) bool {
	return candidate.RowCount*candidate.ColumnSize < current.RowCount*current.ColumnSize
}
