package stepplan

import (
	"github.com/sirupsen/logrus"

	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/optimizer"
	"github.com/brindledb/planopt/planerr"
	"github.com/brindledb/planopt/rel"
	"github.com/brindledb/planopt/scalar"
)

// collectExchangeSteps implements spec §4.D.1: every intermediate-plan
// operator that cannot run inside a single process is replaced, in the
// source graph, by step-plan operators (take_*, offer, join_group, ...)
// around a newly inserted exchange step. Operators already step-plan
// available stay in place; escape stays too (removed later, in the
// variable-rewrite phase).
func collectExchangeSteps(b *buildCtx) error {
	log := logrus.WithField("component", "stepplan")

	// Snapshot up front: the loop body adds take/offer nodes to the
	// same graph, and those must not be revisited.
	nodes := b.src.Nodes()
	for _, n := range nodes {
		if b.src.Node(n.ID()) == nil {
			continue
		}
		var err error
		switch op := n.Op().(type) {
		case *rel.JoinRelationOp:
			err = exchangeJoin(b, n, op)
		case *rel.AggregateRelationOp:
			err = exchangeAggregate(b, n, op)
		case *rel.DistinctRelationOp:
			err = exchangeDistinct(b, n, op)
		case *rel.LimitRelationOp:
			err = exchangeLimit(b, n, op)
		case *rel.UnionOp:
			err = exchangeUnion(b, n, op)
		case *rel.IntersectionOp:
			err = exchangeBinaryGroup(b, n, op.LeftKeys, op.RightKeys, &rel.IntersectionGroupOp{})
		case *rel.DifferenceOp:
			err = exchangeBinaryGroup(b, n, op.LeftKeys, op.RightKeys, &rel.DifferenceGroupOp{})
		default:
			// find/scan/values/project/filter/buffer/identify/escape/
			// emit/write/join_find/join_scan run inside one process
			// unchanged.
		}
		if err != nil {
			return err
		}
		log.WithField("op", n.Tag().String()).Debug("exchange collection visited operator")
	}
	return nil
}

func (b *buildCtx) addExchange(tag rel.Tag) *Step {
	s := b.graph.addStep(tag)
	s.Columns = newExchangeColumnInfo(b.factory)
	return s
}

func exchangeID(s *Step) rel.ExchangeID { return rel.ExchangeID(s.ID()) }

func (b *buildCtx) exchangeStep(id rel.ExchangeID) (*Step, error) {
	s := b.graph.Step(StepID(id))
	if s == nil || s.Tag() == rel.Process {
		return nil, planerr.ErrDomainViolation.New("operator references a step that is not an exchange")
	}
	return s, nil
}

// detach disconnects n's ports and returns its upstream output ports
// (one per input, in order) and its downstream input port, if any.
func detach(b *buildCtx, n *rel.Node) (upstreams []rel.Port, downstream rel.Port, hasDown bool, err error) {
	for i := 0; i < n.NumInputs(); i++ {
		in := rel.Port{Node: n.ID(), Dir: rel.In, Index: i}
		up, ok := b.src.Opposite(in)
		if !ok {
			return nil, rel.Port{}, false, planerr.ErrDomainViolation.New("exchange collection: operator input not connected")
		}
		b.src.Disconnect(in)
		upstreams = append(upstreams, up)
	}
	if n.NumOutputs() > 0 {
		out := rel.Port{Node: n.ID(), Dir: rel.Out, Index: 0}
		downstream, hasDown = b.src.Opposite(out)
		b.src.Disconnect(out)
	}
	return upstreams, downstream, hasDown, nil
}

func connectChain(b *buildCtx, upstream rel.Port, ids ...rel.NodeID) error {
	prev := upstream
	for _, id := range ids {
		if err := b.src.Connect(prev, rel.Port{Node: id, Dir: rel.In, Index: 0}); err != nil {
			return err
		}
		prev = rel.Port{Node: id, Dir: rel.Out, Index: 0}
	}
	return nil
}

func connectSourceChain(b *buildCtx, ids ...rel.NodeID) error {
	for i := 1; i < len(ids); i++ {
		out := rel.Port{Node: ids[i-1], Dir: rel.Out, Index: 0}
		in := rel.Port{Node: ids[i], Dir: rel.In, Index: 0}
		if err := b.src.Connect(out, in); err != nil {
			return err
		}
	}
	return nil
}

// dedupeVars drops exact-duplicate descriptor references from a
// group-key list, preserving first-occurrence order (spec §4.D.1
// "group-key de-duplication").
func dedupeVars(vars []*bind.Descriptor) []*bind.Descriptor {
	seen := make(map[*bind.Descriptor]bool, len(vars))
	out := make([]*bind.Descriptor, 0, len(vars))
	for _, v := range vars {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// joinStrategy picks cogroup or broadcast for one join (spec §4.D.1): a
// per-operator hint wins; otherwise broadcast when the feature is on
// and collect_join_keys left a usable endpoint; otherwise cogroup.
// full_outer never broadcasts (spec §6.6, S4).
func joinStrategy(b *buildCtx, n *rel.Node, op *rel.JoinRelationOp) optimizer.JoinStrategy {
	broadcastOK := op.Kind != rel.FullOuter && op.BroadcastEligible &&
		b.opts.RuntimeFeatures.Has(optimizer.FeatureBroadcastExchange)
	if hint, ok := b.opts.JoinHints[n.ID()]; ok && hint != optimizer.StrategyUnspecified {
		if hint == optimizer.StrategyBroadcast && broadcastOK {
			return optimizer.StrategyBroadcast
		}
		return optimizer.StrategyCogroup
	}
	if broadcastOK {
		return optimizer.StrategyBroadcast
	}
	return optimizer.StrategyCogroup
}

func exchangeJoin(b *buildCtx, n *rel.Node, op *rel.JoinRelationOp) error {
	if joinStrategy(b, n, op) == optimizer.StrategyBroadcast {
		return exchangeJoinBroadcast(b, n, op)
	}
	return exchangeJoinCogroup(b, n, op)
}

func exchangeJoinCogroup(b *buildCtx, n *rel.Node, op *rel.JoinRelationOp) error {
	ups, down, hasDown, err := detach(b, n)
	if err != nil {
		return err
	}

	left := b.addExchange(rel.GroupStep)
	right := b.addExchange(rel.GroupStep)
	for _, p := range op.CogroupKeys {
		left.GroupKeys = append(left.GroupKeys, p.Left)
		right.GroupKeys = append(right.GroupKeys, p.Right)
	}
	left.GroupKeys = dedupeVars(left.GroupKeys)
	right.GroupKeys = dedupeVars(right.GroupKeys)

	offerL := b.src.Add(&rel.OfferOp{Exchange: exchangeID(left)})
	offerR := b.src.Add(&rel.OfferOp{Exchange: exchangeID(right)})
	take := b.src.Add(&rel.TakeCogroupOp{Groups: []rel.CogroupSide{
		{Exchange: exchangeID(left)},
		{Exchange: exchangeID(right)},
	}})
	join := b.src.Add(&rel.JoinGroupOp{
		Kind:      op.Kind,
		Condition: residualJoinCondition(op),
	})

	if err := connectChain(b, ups[0], offerL); err != nil {
		return err
	}
	if err := connectChain(b, ups[1], offerR); err != nil {
		return err
	}
	if err := connectSourceChain(b, take, join); err != nil {
		return err
	}
	if hasDown {
		if err := b.src.Connect(rel.Port{Node: join, Dir: rel.Out, Index: 0}, down); err != nil {
			return err
		}
	}
	b.src.Delete(n.ID())
	return nil
}

// residualJoinCondition returns op's condition with the atoms that
// became cogroup key pairs stripped out: the group exchanges already
// enforce key equality, so re-evaluating those atoms inside the process
// is pure waste (spec S3: the step-join's condition ends up nil). A
// full_outer join keeps every atom — its NULL-extension semantics need
// the original condition intact (spec S4).
func residualJoinCondition(op *rel.JoinRelationOp) scalar.Expr {
	if op.Condition == nil {
		return nil
	}
	if op.Kind == rel.FullOuter || len(op.CogroupKeys) == 0 {
		return op.Condition
	}
	pairs := make(map[[2]*bind.Descriptor]bool, len(op.CogroupKeys))
	for _, p := range op.CogroupKeys {
		pairs[[2]*bind.Descriptor{p.Left, p.Right}] = true
		pairs[[2]*bind.Descriptor{p.Right, p.Left}] = true
	}
	var kept []scalar.Expr
	flattenAnd(op.Condition, func(atom scalar.Expr) {
		if cmp, ok := atom.(*scalar.Compare); ok && cmp.Op == scalar.Eq {
			l, lok := cmp.Left.(*scalar.VariableRef)
			r, rok := cmp.Right.(*scalar.VariableRef)
			if lok && rok && pairs[[2]*bind.Descriptor{l.Var, r.Var}] {
				return
			}
		}
		kept = append(kept, atom)
	})
	return andChain(kept)
}

func flattenAnd(e scalar.Expr, consume func(scalar.Expr)) {
	if bin, ok := e.(*scalar.Binary); ok && bin.Op == scalar.And {
		flattenAnd(bin.Left, consume)
		flattenAnd(bin.Right, consume)
		return
	}
	consume(e)
}

func andChain(atoms []scalar.Expr) scalar.Expr {
	switch len(atoms) {
	case 0:
		return nil
	case 1:
		return atoms[0]
	default:
		mid := len(atoms) / 2
		return scalar.NewAnd(andChain(atoms[:mid]), andChain(atoms[mid:]))
	}
}

func exchangeJoinBroadcast(b *buildCtx, n *rel.Node, op *rel.JoinRelationOp) error {
	ups, down, hasDown, err := detach(b, n)
	if err != nil {
		return err
	}

	x := b.addExchange(rel.Broadcast)
	offer := b.src.Add(&rel.OfferOp{Exchange: exchangeID(x)})
	if err := connectChain(b, ups[1], offer); err != nil {
		return err
	}

	// A pure equality prefix probes the broadcast like a find; anything
	// carrying an inequality endpoint scans it (spec §4.D.1, with the
	// endpoints migrated from collect_join_keys' Broadcast* fields).
	var probe rel.NodeID
	if op.BroadcastLower.Kind == rel.PrefixedInclusive && op.BroadcastUpper.Kind == rel.PrefixedInclusive {
		probe = b.src.Add(&rel.JoinFindOp{
			Kind:           op.Kind,
			Condition:      op.Condition,
			SourceExchange: exchangeID(x),
			ExchangeKeys:   op.BroadcastLower.Keys,
		})
	} else {
		probe = b.src.Add(&rel.JoinScanOp{
			Kind:           op.Kind,
			Condition:      op.Condition,
			SourceExchange: exchangeID(x),
			ExchangeLower:  op.BroadcastLower,
			ExchangeUpper:  op.BroadcastUpper,
		})
	}

	if err := connectChain(b, ups[0], probe); err != nil {
		return err
	}
	if hasDown {
		if err := b.src.Connect(rel.Port{Node: probe, Dir: rel.Out, Index: 0}, down); err != nil {
			return err
		}
	}
	b.src.Delete(n.ID())
	return nil
}

// useAggregateExchange resolves the per-aggregate strategy: an explicit
// hint wins, else the aggregate_exchange runtime feature decides.
func useAggregateExchange(b *buildCtx, id rel.NodeID) bool {
	if forced, ok := b.opts.AggregateHints[id]; ok {
		return forced
	}
	return b.opts.RuntimeFeatures.Has(optimizer.FeatureAggregateExchange)
}

func exchangeAggregate(b *buildCtx, n *rel.Node, op *rel.AggregateRelationOp) error {
	ups, down, hasDown, err := detach(b, n)
	if err != nil {
		return err
	}
	keys := dedupeVars(op.GroupKeys)

	var tail rel.NodeID
	var take rel.NodeID
	if useAggregateExchange(b, n.ID()) {
		x := b.addExchange(rel.AggregateStep)
		x.GroupKeys = keys
		x.Aggregations = op.Aggregations
		offer := b.src.Add(&rel.OfferOp{Exchange: exchangeID(x)})
		if err := connectChain(b, ups[0], offer); err != nil {
			return err
		}
		take = b.src.Add(&rel.TakeGroupOp{Exchange: exchangeID(x)})
		tail = b.src.Add(&rel.FlattenOp{})
	} else {
		x := b.addExchange(rel.GroupStep)
		x.GroupKeys = keys
		offer := b.src.Add(&rel.OfferOp{Exchange: exchangeID(x)})
		if err := connectChain(b, ups[0], offer); err != nil {
			return err
		}
		take = b.src.Add(&rel.TakeGroupOp{Exchange: exchangeID(x)})
		tail = b.src.Add(&rel.AggregateGroupOp{GroupKeys: keys, Aggregations: op.Aggregations})
	}

	if err := connectSourceChain(b, take, tail); err != nil {
		return err
	}
	if hasDown {
		if err := b.src.Connect(rel.Port{Node: tail, Dir: rel.Out, Index: 0}, down); err != nil {
			return err
		}
	}
	b.src.Delete(n.ID())
	return nil
}

func one() *int {
	v := 1
	return &v
}

func exchangeDistinct(b *buildCtx, n *rel.Node, op *rel.DistinctRelationOp) error {
	ups, down, hasDown, err := detach(b, n)
	if err != nil {
		return err
	}
	x := b.addExchange(rel.GroupStep)
	x.GroupKeys = dedupeVars(op.GroupKeys)
	x.Limit = one()

	offer := b.src.Add(&rel.OfferOp{Exchange: exchangeID(x)})
	take := b.src.Add(&rel.TakeGroupOp{Exchange: exchangeID(x)})
	flatten := b.src.Add(&rel.FlattenOp{})

	if err := connectChain(b, ups[0], offer); err != nil {
		return err
	}
	if err := connectSourceChain(b, take, flatten); err != nil {
		return err
	}
	if hasDown {
		if err := b.src.Connect(rel.Port{Node: flatten, Dir: rel.Out, Index: 0}, down); err != nil {
			return err
		}
	}
	b.src.Delete(n.ID())
	return nil
}

func exchangeLimit(b *buildCtx, n *rel.Node, op *rel.LimitRelationOp) error {
	ups, down, hasDown, err := detach(b, n)
	if err != nil {
		return err
	}
	limit := op.N

	var tailIDs []rel.NodeID
	if len(op.GroupKeys) == 0 && len(op.SortKeys) == 0 {
		x := b.addExchange(rel.Forward)
		x.Limit = &limit
		offer := b.src.Add(&rel.OfferOp{Exchange: exchangeID(x)})
		if err := connectChain(b, ups[0], offer); err != nil {
			return err
		}
		tailIDs = []rel.NodeID{b.src.Add(&rel.TakeFlatOp{Exchange: exchangeID(x)})}
	} else {
		x := b.addExchange(rel.GroupStep)
		x.GroupKeys = dedupeVars(op.GroupKeys)
		x.SortKeys = op.SortKeys
		x.Limit = &limit
		offer := b.src.Add(&rel.OfferOp{Exchange: exchangeID(x)})
		if err := connectChain(b, ups[0], offer); err != nil {
			return err
		}
		tailIDs = []rel.NodeID{
			b.src.Add(&rel.TakeGroupOp{Exchange: exchangeID(x)}),
			b.src.Add(&rel.FlattenOp{}),
		}
	}

	if err := connectSourceChain(b, tailIDs...); err != nil {
		return err
	}
	if hasDown {
		tail := tailIDs[len(tailIDs)-1]
		if err := b.src.Connect(rel.Port{Node: tail, Dir: rel.Out, Index: 0}, down); err != nil {
			return err
		}
	}
	b.src.Delete(n.ID())
	return nil
}

func exchangeUnion(b *buildCtx, n *rel.Node, op *rel.UnionOp) error {
	if !op.All {
		for _, side := range op.Sources {
			if len(side) != len(op.Dest) {
				return planerr.ErrDomainViolation.New("union with distinct quantifier has asymmetric mappings")
			}
		}
	}
	ups, down, hasDown, err := detach(b, n)
	if err != nil {
		return err
	}

	var x *Step
	var tailIDs []rel.NodeID
	if op.All {
		x = b.addExchange(rel.Forward)
		tailIDs = []rel.NodeID{b.src.Add(&rel.TakeFlatOp{Exchange: exchangeID(x)})}
	} else {
		x = b.addExchange(rel.GroupStep)
		x.GroupKeys = op.Dest
		x.Limit = one()
		tailIDs = []rel.NodeID{
			b.src.Add(&rel.TakeGroupOp{Exchange: exchangeID(x)}),
			b.src.Add(&rel.FlattenOp{}),
		}
	}

	// Each input gets its own offer with pre-declared columns whose
	// destinations are still stream variables; collect_exchange_columns
	// later allocates one shared exchange column per destination
	// variable, so every side lands in the same column slots (spec
	// §4.D.1 "temporary offer columns").
	for i, up := range ups {
		cols := make([]rel.ColumnMap, 0, len(op.Dest))
		for j, dest := range op.Dest {
			if j < len(op.Sources[i]) {
				cols = append(cols, rel.ColumnMap{Source: op.Sources[i][j], Dest: dest})
			}
		}
		offer := b.src.Add(&rel.OfferOp{Exchange: exchangeID(x), Columns: cols})
		if err := connectChain(b, up, offer); err != nil {
			return err
		}
	}

	if err := connectSourceChain(b, tailIDs...); err != nil {
		return err
	}
	if hasDown {
		tail := tailIDs[len(tailIDs)-1]
		if err := b.src.Connect(rel.Port{Node: tail, Dir: rel.Out, Index: 0}, down); err != nil {
			return err
		}
	}
	b.src.Delete(n.ID())
	return nil
}

// exchangeBinaryGroup handles intersection and difference identically
// up to the step operator that consumes the matched cogroup (spec
// §4.D.1): one group exchange per side keyed by that side's paired
// keys, with limit 1 since both set operations are distinct by
// definition here, then take_cogroup into the given group operator. The
// left input is by convention the first cogroup group (spec §9 open
// questions).
func exchangeBinaryGroup(b *buildCtx, n *rel.Node, leftKeys, rightKeys []*bind.Descriptor, groupOp rel.Operator) error {
	ups, down, hasDown, err := detach(b, n)
	if err != nil {
		return err
	}

	left := b.addExchange(rel.GroupStep)
	left.GroupKeys = dedupeVars(leftKeys)
	left.Limit = one()
	right := b.addExchange(rel.GroupStep)
	right.GroupKeys = dedupeVars(rightKeys)
	right.Limit = one()

	offerL := b.src.Add(&rel.OfferOp{Exchange: exchangeID(left)})
	offerR := b.src.Add(&rel.OfferOp{Exchange: exchangeID(right)})
	take := b.src.Add(&rel.TakeCogroupOp{Groups: []rel.CogroupSide{
		{Exchange: exchangeID(left)},
		{Exchange: exchangeID(right)},
	}})
	group := b.src.Add(groupOp)

	if err := connectChain(b, ups[0], offerL); err != nil {
		return err
	}
	if err := connectChain(b, ups[1], offerR); err != nil {
		return err
	}
	if err := connectSourceChain(b, take, group); err != nil {
		return err
	}
	if hasDown {
		if err := b.src.Connect(rel.Port{Node: group, Dir: rel.Out, Index: 0}, down); err != nil {
			return err
		}
	}
	b.src.Delete(n.ID())
	return nil
}
