package optimizer

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/flow"
	"github.com/brindledb/planopt/planerr"
	"github.com/brindledb/planopt/predicate"
	"github.com/brindledb/planopt/rel"
	"github.com/brindledb/planopt/scalar"
)

// predicateInfo is one entry of the push-down pass's ordered predicate
// list P (spec §4.B.3): an owned atom, the stream variables it uses, and
// a reference count tracking how many places still need their own copy
// of it before it can be safely moved rather than cloned.
type predicateInfo struct {
	atom     scalar.Expr
	vars     map[*bind.Descriptor]bool
	refCount int
}

func newPredicateInfo(atom scalar.Expr) *predicateInfo {
	vars := make(map[*bind.Descriptor]bool)
	predicate.CollectStreamVariables(atom, func(v *bind.Descriptor) { vars[v] = true })
	return &predicateInfo{atom: atom, vars: vars, refCount: 1}
}

// use consumes one reference: the last consumer gets the atom moved
// (its own expression), every earlier consumer gets an independent
// clone, matching spec §9's reference-counted release.
func (p *predicateInfo) use() scalar.Expr {
	p.refCount--
	if p.refCount <= 0 {
		return p.atom
	}
	return predicate.Clone(p.atom)
}

func (p *predicateInfo) visibleAt(g *rel.Graph, port rel.Port) bool {
	for v := range p.vars {
		if !flow.Visible(g, v, port) {
			return false
		}
	}
	return true
}

// pushDownCtx threads the pass's shared predicate list P and its graph
// through the recursive upstream walk.
type pushDownCtx struct {
	g *rel.Graph
	p []*predicateInfo
	stats *PassStats
}

// runPushDownSelections implements spec §4.B.3: schedule every root
// (operator with no outputs) with an empty mask, then walk upstream,
// duplicating, carrying, or flushing predicate atoms per operator kind
// until they are blocked from moving any further.
func runPushDownSelections(rc *runCtx) (PassStats, error) {
	stats := PassStats{Name: "push_down_selections"}
	pc := &pushDownCtx{g: rc.graph, stats: &stats}

	for _, root := range rc.graph.Roots() {
		if err := pc.walk(root, roaring.New()); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (pc *pushDownCtx) addAtom(atom scalar.Expr) uint32 {
	idx := uint32(len(pc.p))
	pc.p = append(pc.p, newPredicateInfo(atom))
	return idx
}

func (pc *pushDownCtx) info(idx uint32) *predicateInfo { return pc.p[idx] }

// flushMask combines every atom indexed by mask via AND and inserts it
// as a new filter sitting on n's output port (spec §4.B.3 "flush an
// atom a on an output port o"). No-op if mask is empty.
func (pc *pushDownCtx) flushMask(n rel.NodeID, mask *roaring.Bitmap) error {
	if mask.IsEmpty() {
		return nil
	}
	var exprs []scalar.Expr
	it := mask.Iterator()
	for it.HasNext() {
		exprs = append(exprs, pc.info(it.Next()).use())
	}
	return pc.flushExprs(n, exprs)
}

func (pc *pushDownCtx) flushExprs(n rel.NodeID, exprs []scalar.Expr) error {
	cond := andAll(exprs)
	if cond == nil {
		return nil
	}
	out := rel.Port{Node: n, Dir: rel.Out, Index: 0}
	downstream, ok := pc.g.Opposite(out)
	if !ok {
		return planerr.ErrDomainViolation.New("push_down_selections: flush target has no downstream")
	}
	filterNode := pc.g.Add(&rel.FilterOp{Condition: cond})
	if err := pc.g.InsertBetween(out, downstream, filterNode); err != nil {
		return err
	}
	pc.stats.NodesChanged++
	return nil
}

func andAll(exprs []scalar.Expr) scalar.Expr {
	if len(exprs) == 0 {
		return nil
	}
	result := exprs[0]
	for _, e := range exprs[1:] {
		result = scalar.NewAnd(result, e)
	}
	return result
}

// upstreamOf returns the node connected to n's single input index idx.
func (pc *pushDownCtx) upstreamOf(n rel.NodeID, idx int) (rel.NodeID, error) {
	opp, ok := pc.g.Opposite(rel.Port{Node: n, Dir: rel.In, Index: idx})
	if !ok {
		return rel.InvalidID, planerr.ErrDomainViolation.New("push_down_selections: input not connected")
	}
	return opp.Node, nil
}

// walk processes node n, which has been reached with mask riding on its
// output edge (empty for roots), per spec §4.B.3's operator-kind table.
func (pc *pushDownCtx) walk(n rel.NodeID, mask *roaring.Bitmap) error {
	node := pc.g.Node(n)
	if node == nil {
		return planerr.ErrDomainViolation.New("push_down_selections: node not live")
	}
	pc.stats.NodesVisited++

	switch op := node.Op().(type) {
	case *rel.FilterOp:
		return pc.walkFilter(n, op, mask)
	case *rel.JoinRelationOp:
		return pc.walkJoin(n, op, mask)
	case *rel.JoinFindOp:
		if err := pc.flushMask(n, mask); err != nil {
			return err
		}
		up, err := pc.upstreamOf(n, 0)
		if err != nil {
			return err
		}
		return pc.walk(up, roaring.New())
	case *rel.JoinScanOp:
		if err := pc.flushMask(n, mask); err != nil {
			return err
		}
		up, err := pc.upstreamOf(n, 0)
		if err != nil {
			return err
		}
		return pc.walk(up, roaring.New())
	case *rel.ProjectOp:
		return pc.walkProject(n, op, mask)
	case *rel.AggregateRelationOp:
		return pc.walkGroupLike(n, op.GroupKeys, false, mask)
	case *rel.DistinctRelationOp:
		return pc.walkGroupLike(n, op.GroupKeys, true, mask)
	case *rel.LimitRelationOp:
		return pc.walkGroupLike(n, op.GroupKeys, true, mask)
	case *rel.UnionOp:
		if err := pc.flushMask(n, mask); err != nil {
			return err
		}
		for i := 0; i < node.NumInputs(); i++ {
			up, err := pc.upstreamOf(n, i)
			if err != nil {
				return err
			}
			if err := pc.walk(up, roaring.New()); err != nil {
				return err
			}
		}
		return nil
	case *rel.IntersectionOp:
		return pc.carryLeftOnly(n, mask)
	case *rel.DifferenceOp:
		return pc.carryLeftOnly(n, mask)
	case *rel.IdentifyOp:
		return pc.walkIdentify(n, op, mask)
	case *rel.EscapeOp:
		if err := pc.flushMask(n, mask); err != nil {
			return err
		}
		up, err := pc.upstreamOf(n, 0)
		if err != nil {
			return err
		}
		return pc.walk(up, roaring.New())
	case *rel.BufferOp:
		return pc.flushMask(n, mask)
	case *rel.FindOp, *rel.ScanOp, *rel.ValuesOp:
		return pc.flushMask(n, mask)
	default:
		// Emit, Write, and anything else with exactly one input is a
		// transparent pass-through for this pass.
		if node.NumInputs() != 1 {
			return nil
		}
		up, err := pc.upstreamOf(n, 0)
		if err != nil {
			return err
		}
		return pc.walk(up, mask)
	}
}

func (pc *pushDownCtx) walkFilter(n rel.NodeID, op *rel.FilterOp, mask *roaring.Bitmap) error {
	extended := mask.Clone()
	predicate.Decompose(op.Condition, func(atom scalar.Expr) {
		extended.Add(pc.addAtom(atom))
	})
	up, err := pc.upstreamOf(n, 0)
	if err != nil {
		return err
	}
	if err := pc.g.Splice(n); err != nil {
		return planerr.Wrap(err, "push_down_selections: splice filter")
	}
	pc.stats.NodesChanged++
	return pc.walk(up, extended)
}

func (pc *pushDownCtx) walkJoin(n rel.NodeID, op *rel.JoinRelationOp, mask *roaring.Bitmap) error {
	leftIn := rel.Port{Node: n, Dir: rel.In, Index: 0}
	rightIn := rel.Port{Node: n, Dir: rel.In, Index: 1}
	leftOpp, ok := pc.g.Opposite(leftIn)
	if !ok {
		return planerr.ErrDomainViolation.New("push_down_selections: join left input not connected")
	}
	rightOpp, ok := pc.g.Opposite(rightIn)
	if !ok {
		return planerr.ErrDomainViolation.New("push_down_selections: join right input not connected")
	}

	switch op.Kind {
	case rel.Inner, rel.Semi:
		combined := mask.Clone()
		if op.Condition != nil {
			predicate.Decompose(op.Condition, func(atom scalar.Expr) {
				combined.Add(pc.addAtom(atom))
			})
		}

		leftMask := roaring.New()
		rightMask := roaring.New()
		var finalCond []scalar.Expr

		it := combined.Iterator()
		for it.HasNext() {
			idx := it.Next()
			info := pc.info(idx)
			visL := info.visibleAt(pc.g, leftOpp)
			visR := info.visibleAt(pc.g, rightOpp)
			switch {
			case visL && visR:
				info.refCount++
				leftMask.Add(idx)
				rightMask.Add(idx)
			case visL:
				leftMask.Add(idx)
			case visR:
				rightMask.Add(idx)
			default:
				finalCond = append(finalCond, info.use())
			}
		}
		op.Condition = andAll(finalCond)

		if err := pc.walk(leftOpp.Node, leftMask); err != nil {
			return err
		}
		return pc.walk(rightOpp.Node, rightMask)

	case rel.LeftOuter, rel.Anti:
		leftMask := roaring.New()
		var flushExprs []scalar.Expr
		it := mask.Iterator()
		for it.HasNext() {
			idx := it.Next()
			info := pc.info(idx)
			if info.visibleAt(pc.g, leftOpp) {
				leftMask.Add(idx)
			} else {
				flushExprs = append(flushExprs, info.use())
			}
		}
		if err := pc.flushExprs(n, flushExprs); err != nil {
			return err
		}
		if err := pc.walk(leftOpp.Node, leftMask); err != nil {
			return err
		}
		return pc.walk(rightOpp.Node, roaring.New())

	default: // FullOuter
		if err := pc.flushMask(n, mask); err != nil {
			return err
		}
		if err := pc.walk(leftOpp.Node, roaring.New()); err != nil {
			return err
		}
		return pc.walk(rightOpp.Node, roaring.New())
	}
}

func (pc *pushDownCtx) walkProject(n rel.NodeID, op *rel.ProjectOp, mask *roaring.Bitmap) error {
	declared := make(map[*bind.Descriptor]bool, len(op.Projections))
	for _, p := range op.Projections {
		declared[p.Var] = true
	}

	stay := roaring.New()
	var flushExprs []scalar.Expr
	it := mask.Iterator()
	for it.HasNext() {
		idx := it.Next()
		info := pc.info(idx)
		references := false
		for v := range info.vars {
			if declared[v] {
				references = true
				break
			}
		}
		if references {
			flushExprs = append(flushExprs, info.use())
		} else {
			stay.Add(idx)
		}
	}
	if err := pc.flushExprs(n, flushExprs); err != nil {
		return err
	}
	up, err := pc.upstreamOf(n, 0)
	if err != nil {
		return err
	}
	return pc.walk(up, stay)
}

// walkGroupLike implements the shared aggregate_relation/distinct/limit
// handling of spec §4.B.3: atoms over only group-key variables may
// continue upstream; duplicateFlush additionally keeps a flushed copy
// right here (distinct/limit), where group collapse could otherwise
// change what the filter sees.
func (pc *pushDownCtx) walkGroupLike(n rel.NodeID, groupKeys []*bind.Descriptor, duplicateFlush bool, mask *roaring.Bitmap) error {
	keySet := make(map[*bind.Descriptor]bool, len(groupKeys))
	for _, k := range groupKeys {
		keySet[k] = true
	}

	passMask := roaring.New()
	var flushExprs []scalar.Expr
	it := mask.Iterator()
	for it.HasNext() {
		idx := it.Next()
		info := pc.info(idx)
		onlyKeys := true
		for v := range info.vars {
			if !keySet[v] {
				onlyKeys = false
				break
			}
		}
		if onlyKeys {
			if duplicateFlush {
				info.refCount++
				flushExprs = append(flushExprs, info.use())
			}
			passMask.Add(idx)
		} else {
			flushExprs = append(flushExprs, info.use())
		}
	}
	if err := pc.flushExprs(n, flushExprs); err != nil {
		return err
	}
	up, err := pc.upstreamOf(n, 0)
	if err != nil {
		return err
	}
	return pc.walk(up, passMask)
}

func (pc *pushDownCtx) carryLeftOnly(n rel.NodeID, mask *roaring.Bitmap) error {
	up, err := pc.upstreamOf(n, 0)
	if err != nil {
		return err
	}
	if err := pc.walk(up, mask); err != nil {
		return err
	}
	right, err := pc.upstreamOf(n, 1)
	if err != nil {
		return err
	}
	return pc.walk(right, roaring.New())
}

func (pc *pushDownCtx) walkIdentify(n rel.NodeID, op *rel.IdentifyOp, mask *roaring.Bitmap) error {
	stay := roaring.New()
	var flushExprs []scalar.Expr
	it := mask.Iterator()
	for it.HasNext() {
		idx := it.Next()
		info := pc.info(idx)
		if info.vars[op.Var] {
			flushExprs = append(flushExprs, info.use())
		} else {
			stay.Add(idx)
		}
	}
	if err := pc.flushExprs(n, flushExprs); err != nil {
		return err
	}
	up, err := pc.upstreamOf(n, 0)
	if err != nil {
		return err
	}
	return pc.walk(up, stay)
}
