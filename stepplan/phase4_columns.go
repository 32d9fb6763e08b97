package stepplan

import (
	"github.com/sirupsen/logrus"

	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/planerr"
	"github.com/brindledb/planopt/predicate"
	"github.com/brindledb/planopt/rel"
	"github.com/brindledb/planopt/scalar"
)

// collectExchangeColumns implements spec §4.D.4: a sort-from-upstream
// walk over steps that tracks, inside each process, which stream
// variables are in scope at every edge, lets offers allocate exchange
// columns for what they publish, fills every take-like operator's
// column list from its exchange's mapping, and rewrites exchange-keyed
// operands (group keys, sort keys, aggregate arguments, broadcast
// search keys) onto the allocated exchange columns.
func collectExchangeColumns(b *buildCtx) error {
	order, err := b.graph.topoOrder()
	if err != nil {
		return err
	}
	for _, step := range order {
		switch step.Tag() {
		case rel.Process:
			if err := processColumns(b, step); err != nil {
				return err
			}
		case rel.Forward, rel.Broadcast, rel.Discard:
			// Columns were built up by the offers feeding the exchange;
			// nothing to rewrite.
		case rel.GroupStep:
			if err := groupExchangeColumns(step); err != nil {
				return err
			}
		case rel.AggregateStep:
			if err := aggregateExchangeColumns(b, step); err != nil {
				return err
			}
		}
	}
	return nil
}

// chainOrder returns a process sub-graph's operators in upstream-to-
// downstream order (Kahn over connected inputs). After exchange
// collection every process operator has at most one input and one
// output, so this is the process's single chain.
func chainOrder(g *rel.Graph) ([]*rel.Node, error) {
	indeg := make(map[rel.NodeID]int)
	for _, n := range g.Nodes() {
		cnt := 0
		for i := 0; i < n.NumInputs(); i++ {
			if g.Connected(rel.Port{Node: n.ID(), Dir: rel.In, Index: i}) {
				cnt++
			}
		}
		indeg[n.ID()] = cnt
	}
	var queue []*rel.Node
	for _, n := range g.Nodes() {
		if indeg[n.ID()] == 0 {
			queue = append(queue, n)
		}
	}
	var order []*rel.Node
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for i := 0; i < n.NumOutputs(); i++ {
			opp, ok := g.Opposite(rel.Port{Node: n.ID(), Dir: rel.Out, Index: i})
			if !ok {
				continue
			}
			indeg[opp.Node]--
			if indeg[opp.Node] == 0 {
				queue = append(queue, g.Node(opp.Node))
			}
		}
	}
	if len(order) != len(g.Nodes()) {
		return nil, planerr.ErrDomainViolation.New("process operator graph has a cycle")
	}
	return order, nil
}

// upstreamOp walks the process chain upstream from n until it meets an
// operator with the wanted tag.
func upstreamOp(g *rel.Graph, n *rel.Node, want rel.Tag) (*rel.Node, bool) {
	cur := n
	for {
		if cur.NumInputs() == 0 {
			return nil, false
		}
		opp, ok := g.Opposite(rel.Port{Node: cur.ID(), Dir: rel.In, Index: 0})
		if !ok {
			return nil, false
		}
		cur = g.Node(opp.Node)
		if cur == nil {
			return nil, false
		}
		if cur.Tag() == want {
			return cur, true
		}
	}
}

// takeColumns derives a take-like operator's column list from an
// exchange's current mapping: each exchange column is read back into
// the stream variable it originated from.
func takeColumns(info *ExchangeColumnInfo) []rel.ColumnMap {
	entries := info.Columns()
	cols := make([]rel.ColumnMap, len(entries))
	for i, e := range entries {
		cols[i] = rel.ColumnMap{Source: e.Column, Dest: e.Origin}
	}
	return cols
}

func colMapDests(cols []rel.ColumnMap) []*bind.Descriptor {
	out := make([]*bind.Descriptor, len(cols))
	for i, c := range cols {
		out[i] = c.Dest
	}
	return out
}

func processColumns(b *buildCtx, step *Step) error {
	order, err := chainOrder(step.Ops)
	if err != nil {
		return err
	}

	var available []*bind.Descriptor
	for _, n := range order {
		switch op := n.Op().(type) {
		case *rel.FindOp:
			if len(available) != 0 {
				return planerr.ErrDomainViolation.New("find with columns already in scope")
			}
			available = append(available, colMapDests(op.Columns)...)
		case *rel.ScanOp:
			if len(available) != 0 {
				return planerr.ErrDomainViolation.New("scan with columns already in scope")
			}
			available = append(available, colMapDests(op.Columns)...)
		case *rel.JoinFindOp:
			if op.SourceExchange != rel.InvalidExchangeID {
				x, err := b.exchangeStep(op.SourceExchange)
				if err != nil {
					return err
				}
				op.Columns = takeColumns(x.Columns)
				for i := range op.ExchangeKeys {
					op.ExchangeKeys[i].Var = x.Columns.allocate(op.ExchangeKeys[i].Var)
				}
			}
			if op.Kind != rel.Semi && op.Kind != rel.Anti {
				available = append(available, colMapDests(op.Columns)...)
			}
		case *rel.JoinScanOp:
			if op.SourceExchange != rel.InvalidExchangeID {
				x, err := b.exchangeStep(op.SourceExchange)
				if err != nil {
					return err
				}
				op.Columns = takeColumns(x.Columns)
				for i := range op.ExchangeLower.Keys {
					op.ExchangeLower.Keys[i].Var = x.Columns.allocate(op.ExchangeLower.Keys[i].Var)
				}
				for i := range op.ExchangeUpper.Keys {
					op.ExchangeUpper.Keys[i].Var = x.Columns.allocate(op.ExchangeUpper.Keys[i].Var)
				}
			}
			if op.Kind != rel.Semi && op.Kind != rel.Anti {
				available = append(available, colMapDests(op.Columns)...)
			}
		case *rel.ProjectOp:
			for _, p := range op.Projections {
				available = append(available, p.Var)
			}
		case *rel.FilterOp, *rel.BufferOp:
		case *rel.IdentifyOp:
			available = append(available, op.Var)
		case *rel.ValuesOp:
			available = append(available, op.Columns...)
		case *rel.EmitOp, *rel.WriteOp:
			available = available[:0]
		case *rel.EscapeOp:
			available = append(available[:0], colMapDests(op.Columns)...)
		case *rel.JoinGroupOp:
			if op.Kind == rel.Semi || op.Kind == rel.Anti {
				first, err := firstCogroupColumns(b, step.Ops, n)
				if err != nil {
					return err
				}
				available = append(available[:0], first...)
			}
		case *rel.AggregateGroupOp:
			take, ok := upstreamOp(step.Ops, n, rel.TakeGroup)
			if !ok {
				return planerr.ErrDomainViolation.New("aggregate_group without an upstream take_group")
			}
			takeDests := make(map[*bind.Descriptor]bool)
			for _, c := range take.Op().(*rel.TakeGroupOp).Columns {
				takeDests[c.Dest] = true
			}
			available = available[:0]
			for _, k := range op.GroupKeys {
				if takeDests[k] {
					available = append(available, k)
				}
			}
			for _, a := range op.Aggregations {
				available = append(available, a.Var)
			}
		case *rel.IntersectionGroupOp, *rel.DifferenceGroupOp:
			first, err := firstCogroupColumns(b, step.Ops, n)
			if err != nil {
				return err
			}
			available = append(available[:0], first...)
		case *rel.TakeFlatOp:
			x, err := b.exchangeStep(op.Exchange)
			if err != nil {
				return err
			}
			op.Columns = takeColumns(x.Columns)
			available = append(available, colMapDests(op.Columns)...)
		case *rel.TakeGroupOp:
			x, err := b.exchangeStep(op.Exchange)
			if err != nil {
				return err
			}
			op.Columns = takeColumns(x.Columns)
			available = append(available, colMapDests(op.Columns)...)
		case *rel.TakeCogroupOp:
			for i := range op.Groups {
				x, err := b.exchangeStep(op.Groups[i].Exchange)
				if err != nil {
					return err
				}
				op.Groups[i].Columns = takeColumns(x.Columns)
				available = append(available, colMapDests(op.Groups[i].Columns)...)
			}
		case *rel.OfferOp:
			x, err := b.exchangeStep(op.Exchange)
			if err != nil {
				return err
			}
			if len(op.Columns) == 0 {
				for _, v := range available {
					op.Columns = append(op.Columns, rel.ColumnMap{Source: v, Dest: x.Columns.allocate(v)})
				}
			} else {
				for i := range op.Columns {
					op.Columns[i].Dest = x.Columns.allocate(op.Columns[i].Dest)
				}
			}
			available = available[:0]
		case *rel.FlattenOp:
		default:
			return planerr.ErrDomainViolation.New("unexpected operator " + n.Tag().String() + " in exchange-column walk")
		}
	}

	logrus.WithFields(logrus.Fields{
		"component": "stepplan",
		"process":   step.ID(),
	}).Debug("exchange columns collected for process")
	return nil
}

// firstCogroupColumns resolves the left (first, by spec §9 convention)
// cogroup group's destination columns for the shrink performed by
// semi/anti step-joins and intersection/difference group operators.
func firstCogroupColumns(b *buildCtx, g *rel.Graph, n *rel.Node) ([]*bind.Descriptor, error) {
	take, ok := upstreamOp(g, n, rel.TakeCogroup)
	if !ok {
		return nil, planerr.ErrDomainViolation.New(n.Tag().String() + " without an upstream take_cogroup")
	}
	groups := take.Op().(*rel.TakeCogroupOp).Groups
	if len(groups) == 0 {
		return nil, planerr.ErrDomainViolation.New("take_cogroup with no groups")
	}
	return colMapDests(groups[0].Columns), nil
}

// groupExchangeColumns rewrites a group exchange's group keys and sort
// keys onto the exchange columns its offers allocated.
func groupExchangeColumns(step *Step) error {
	for i, k := range step.GroupKeys {
		step.GroupKeys[i] = step.Columns.allocate(k)
	}
	for i := range step.SortKeys {
		step.SortKeys[i].Var = step.Columns.allocate(step.SortKeys[i].Var)
	}
	return nil
}

// aggregateExchangeColumns implements §4.D.4's aggregate exchange step:
// the raw offered columns are set aside as the exchange's source side,
// group keys and aggregation arguments are rewritten onto them, fresh
// exchange columns are allocated for aggregation destinations, and the
// downstream-visible column info is rebuilt to expose only group keys
// plus aggregation destinations.
func aggregateExchangeColumns(b *buildCtx, step *Step) error {
	source := step.Columns
	step.SourceColumns = source

	repl := make(map[*bind.Descriptor]scalar.Expr, len(source.Columns()))
	for _, e := range source.Columns() {
		repl[e.Origin] = scalar.NewVariableRef(e.Column)
	}

	rebuilt := newExchangeColumnInfo(b.factory)
	for i, k := range step.GroupKeys {
		col := source.allocate(k)
		rebuilt.bind(k, col)
		step.GroupKeys[i] = col
	}
	for i := range step.Aggregations {
		if step.Aggregations[i].Arg != nil {
			step.Aggregations[i].Arg = predicate.InlineVariables(step.Aggregations[i].Arg, repl)
		}
		rebuilt.allocate(step.Aggregations[i].Var)
	}
	step.Columns = rebuilt
	return nil
}
