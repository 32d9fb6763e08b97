package stepplan

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/planerr"
	"github.com/brindledb/planopt/rel"
	"github.com/brindledb/planopt/scalar"
)

// rewriteStreamVariables implements spec §4.D.5: a sort-from-downstream
// walk that gives every process a fresh set of stream variables (old
// descriptors were scoped to the pre-partitioning graph), drops columns
// and declarations nothing downstream consumes, and filters every
// exchange's column list down to what its consumers actually touched.
func rewriteStreamVariables(b *buildCtx) error {
	order, err := b.graph.topoOrder()
	if err != nil {
		return err
	}
	for i := len(order) - 1; i >= 0; i-- {
		step := order[i]
		switch step.Tag() {
		case rel.Process:
			if err := rewriteProcess(b, step); err != nil {
				return err
			}
		case rel.Forward, rel.Broadcast:
			step.Columns.filter()
		case rel.GroupStep:
			for _, k := range step.GroupKeys {
				step.Columns.touch(k)
			}
			for _, s := range step.SortKeys {
				step.Columns.touch(s.Var)
			}
			step.Columns.filter()
		case rel.AggregateStep:
			rewriteAggregateExchange(step)
		case rel.Discard:
		}
	}
	return nil
}

func rewriteProcess(b *buildCtx, step *Step) error {
	ctx := newStreamVariableRewriterContext(b.factory)

	// Escapes go first: each one collapses into per-column aliases so a
	// downstream use of the renamed variable resolves to the upstream
	// original's rewrite slot.
	for _, n := range step.Ops.Nodes() {
		op, ok := n.Op().(*rel.EscapeOp)
		if !ok {
			continue
		}
		for _, c := range op.Columns {
			ctx.alias(c.Source, c.Dest)
		}
		if err := step.Ops.Splice(n.ID()); err != nil {
			return err
		}
	}

	order, err := chainOrder(step.Ops)
	if err != nil {
		return err
	}

	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		if err := rewriteOperator(b, ctx, step.Ops, n); err != nil {
			return err
		}
	}

	if dangling := ctx.undefined(); len(dangling) > 0 {
		for _, v := range dangling {
			b.warn(planerr.ErrDomainViolation.New(fmt.Sprintf("dangling stream-variable reference %s in process %d", v, step.ID())))
		}
		logrus.WithFields(logrus.Fields{
			"component": "stepplan",
			"process":   step.ID(),
			"dangling":  len(dangling),
		}).Warn("stream-variable rewrite left dangling references")
	}
	return nil
}

func rewriteOperator(b *buildCtx, ctx *StreamVariableRewriterContext, g *rel.Graph, n *rel.Node) error {
	switch op := n.Op().(type) {
	case *rel.EmitOp:
		for i, v := range op.Sources {
			op.Sources[i] = ctx.rewriteUse(v)
		}
	case *rel.WriteOp:
		for i, v := range op.KeyColumns {
			op.KeyColumns[i] = ctx.rewriteUse(v)
		}
		for i, v := range op.ValueColumns {
			op.ValueColumns[i] = ctx.rewriteUse(v)
		}
	case *rel.FilterOp:
		cond, err := rewriteScalar(ctx, b.factory, nil, op.Condition)
		if err != nil {
			return err
		}
		op.Condition = cond
	case *rel.ProjectOp:
		kept := make([]rel.ProjectDecl, 0, len(op.Projections))
		for i := len(op.Projections) - 1; i >= 0; i-- {
			d := op.Projections[i]
			r, ok := ctx.tryRewriteDefine(d.Var)
			if !ok {
				continue
			}
			val, err := rewriteScalar(ctx, b.factory, nil, d.Value)
			if err != nil {
				return err
			}
			kept = append(kept, rel.ProjectDecl{Var: r, Value: val})
		}
		reverseDecls(kept)
		op.Projections = kept
	case *rel.FindOp:
		op.Columns = rewriteDefineColumns(ctx, op.Columns, nil, nil)
		for i := range op.Keys {
			v, err := rewriteScalar(ctx, b.factory, nil, op.Keys[i].Value)
			if err != nil {
				return err
			}
			op.Keys[i].Value = v
		}
	case *rel.ScanOp:
		op.Columns = rewriteDefineColumns(ctx, op.Columns, nil, nil)
		if err := rewriteEndpointValues(ctx, b, &op.Lower); err != nil {
			return err
		}
		if err := rewriteEndpointValues(ctx, b, &op.Upper); err != nil {
			return err
		}
	case *rel.ValuesOp:
		var keptIdx []int
		var keptVars []*bind.Descriptor
		for i, v := range op.Columns {
			if r, ok := ctx.tryRewriteDefine(v); ok {
				keptIdx = append(keptIdx, i)
				keptVars = append(keptVars, r)
			}
		}
		op.Columns = keptVars
		for ri, row := range op.Rows {
			next := make([]scalar.Expr, len(keptIdx))
			for j, idx := range keptIdx {
				next[j] = row[idx]
			}
			op.Rows[ri] = next
		}
	case *rel.JoinFindOp:
		// The condition reads the probed columns, so it must be
		// rewritten (as a use) before the column list is define
		// -filtered below.
		cond, err := rewriteScalar(ctx, b.factory, nil, op.Condition)
		if err != nil {
			return err
		}
		op.Condition = cond
		for i := range op.Keys {
			v, err := rewriteScalar(ctx, b.factory, nil, op.Keys[i].Value)
			if err != nil {
				return err
			}
			op.Keys[i].Value = v
		}
		if err := rewriteBroadcastValues(ctx, b, op.ExchangeKeys); err != nil {
			return err
		}
		if err := rewriteJoinProbe(b, ctx, op.SourceExchange, &op.Columns, op.ExchangeKeys, nil); err != nil {
			return err
		}
	case *rel.JoinScanOp:
		cond, err := rewriteScalar(ctx, b.factory, nil, op.Condition)
		if err != nil {
			return err
		}
		op.Condition = cond
		if err := rewriteEndpointValues(ctx, b, &op.Lower); err != nil {
			return err
		}
		if err := rewriteEndpointValues(ctx, b, &op.Upper); err != nil {
			return err
		}
		if err := rewriteBroadcastValues(ctx, b, op.ExchangeLower.Keys); err != nil {
			return err
		}
		if err := rewriteBroadcastValues(ctx, b, op.ExchangeUpper.Keys); err != nil {
			return err
		}
		if err := rewriteJoinProbe(b, ctx, op.SourceExchange, &op.Columns, op.ExchangeLower.Keys, op.ExchangeUpper.Keys); err != nil {
			return err
		}
	case *rel.TakeFlatOp:
		x, err := b.exchangeStep(op.Exchange)
		if err != nil {
			return err
		}
		op.Columns = rewriteTakeColumns(ctx, x, op.Columns)
	case *rel.TakeGroupOp:
		x, err := b.exchangeStep(op.Exchange)
		if err != nil {
			return err
		}
		op.Columns = rewriteTakeColumns(ctx, x, op.Columns)
	case *rel.TakeCogroupOp:
		for i := range op.Groups {
			x, err := b.exchangeStep(op.Groups[i].Exchange)
			if err != nil {
				return err
			}
			op.Groups[i].Columns = rewriteTakeColumns(ctx, x, op.Groups[i].Columns)
		}
	case *rel.OfferOp:
		x, err := b.exchangeStep(op.Exchange)
		if err != nil {
			return err
		}
		info := offerInfo(x)
		kept := op.Columns[:0:0]
		for _, c := range op.Columns {
			if !info.isTouched(c.Dest) {
				continue
			}
			kept = append(kept, rel.ColumnMap{Source: ctx.rewriteUse(c.Source), Dest: c.Dest})
		}
		op.Columns = kept
	case *rel.JoinGroupOp:
		cond, err := rewriteScalar(ctx, b.factory, nil, op.Condition)
		if err != nil {
			return err
		}
		op.Condition = cond
	case *rel.AggregateGroupOp:
		kept := op.Aggregations[:0:0]
		for _, a := range op.Aggregations {
			r, ok := ctx.tryRewriteDefine(a.Var)
			if !ok {
				continue
			}
			arg, err := rewriteScalar(ctx, b.factory, nil, a.Arg)
			if err != nil {
				return err
			}
			kept = append(kept, rel.AggDecl{Var: r, Func: a.Func, Arg: arg})
		}
		op.Aggregations = kept
		for i, k := range op.GroupKeys {
			op.GroupKeys[i] = ctx.rewriteUse(k)
		}
	case *rel.IdentifyOp:
		if r, ok := ctx.tryRewriteDefine(op.Var); ok {
			op.Var = r
		}
	case *rel.IntersectionGroupOp, *rel.DifferenceGroupOp, *rel.FlattenOp, *rel.BufferOp:
	default:
		return planerr.ErrDomainViolation.New("unexpected operator " + n.Tag().String() + " in stream-variable rewrite")
	}
	return nil
}

func reverseDecls(decls []rel.ProjectDecl) {
	for i, j := 0, len(decls)-1; i < j; i, j = i+1, j-1 {
		decls[i], decls[j] = decls[j], decls[i]
	}
}

// rewriteDefineColumns keeps only the column mappings whose destination
// some downstream consumer touched, retargeting each kept destination
// to its replacement.
func rewriteDefineColumns(ctx *StreamVariableRewriterContext, cols []rel.ColumnMap, info *ExchangeColumnInfo, keySet map[*bind.Descriptor]bool) []rel.ColumnMap {
	kept := cols[:0:0]
	for _, c := range cols {
		r, ok := ctx.tryRewriteDefine(c.Dest)
		if !ok && keySet[c.Source] {
			ctx.rewriteUse(c.Dest)
			r, ok = ctx.tryRewriteDefine(c.Dest)
		}
		if !ok {
			continue
		}
		if info != nil {
			info.touch(c.Source)
		}
		kept = append(kept, rel.ColumnMap{Source: c.Source, Dest: r})
	}
	return kept
}

// exchangeKeySet returns the set of exchange columns an exchange can
// never drop: its group keys and sort keys. Takes force-keep these so
// their column lists stay aligned with the exchange's own (spec P7).
func exchangeKeySet(x *Step) map[*bind.Descriptor]bool {
	if len(x.GroupKeys) == 0 && len(x.SortKeys) == 0 {
		return nil
	}
	set := make(map[*bind.Descriptor]bool, len(x.GroupKeys)+len(x.SortKeys))
	for _, k := range x.GroupKeys {
		set[k] = true
	}
	for _, s := range x.SortKeys {
		set[s.Var] = true
	}
	return set
}

func rewriteTakeColumns(ctx *StreamVariableRewriterContext, x *Step, cols []rel.ColumnMap) []rel.ColumnMap {
	return rewriteDefineColumns(ctx, cols, x.Columns, exchangeKeySet(x))
}

// rewriteJoinProbe handles the exchange-sourced part of a
// join_find/join_scan: every search-key exchange column is touched
// (keys are always consumed), and the probed column list is filtered to
// the destinations downstream actually uses.
func rewriteJoinProbe(b *buildCtx, ctx *StreamVariableRewriterContext, source rel.ExchangeID, cols *[]rel.ColumnMap, lowerKeys, upperKeys []rel.BroadcastKeyValue) error {
	if source == rel.InvalidExchangeID {
		*cols = rewriteDefineColumns(ctx, *cols, nil, nil)
		return nil
	}
	x, err := b.exchangeStep(source)
	if err != nil {
		return err
	}
	for _, k := range lowerKeys {
		x.Columns.touch(k.Var)
	}
	for _, k := range upperKeys {
		x.Columns.touch(k.Var)
	}
	*cols = rewriteDefineColumns(ctx, *cols, x.Columns, nil)
	return nil
}

func rewriteEndpointValues(ctx *StreamVariableRewriterContext, b *buildCtx, e *rel.RangeEndpoint) error {
	for i := range e.Keys {
		v, err := rewriteScalar(ctx, b.factory, nil, e.Keys[i].Value)
		if err != nil {
			return err
		}
		e.Keys[i].Value = v
	}
	return nil
}

func rewriteBroadcastValues(ctx *StreamVariableRewriterContext, b *buildCtx, keys []rel.BroadcastKeyValue) error {
	for i := range keys {
		v, err := rewriteScalar(ctx, b.factory, nil, keys[i].Value)
		if err != nil {
			return err
		}
		keys[i].Value = v
	}
	return nil
}

// offerInfo returns the column info an offer's destinations were
// allocated against: an aggregate exchange's offers write its source
// side, every other exchange has a single column list.
func offerInfo(x *Step) *ExchangeColumnInfo {
	if x.SourceColumns != nil {
		return x.SourceColumns
	}
	return x.Columns
}

// rewriteAggregateExchange applies §4.D.5's aggregate exchange step:
// group keys are always retained, aggregations whose destination
// nobody touched are dropped, the destination column list is filtered,
// and then the touched set is rebuilt from scratch against the source
// side so only the columns the surviving group keys and aggregation
// arguments read survive upstream.
func rewriteAggregateExchange(step *Step) {
	info := step.Columns
	for _, k := range step.GroupKeys {
		info.touch(k)
	}
	kept := step.Aggregations[:0:0]
	for _, a := range step.Aggregations {
		col, ok := info.lookup(a.Var)
		if ok && info.isTouched(col) {
			kept = append(kept, a)
		}
	}
	step.Aggregations = kept
	info.filter()

	source := step.SourceColumns
	if source == nil {
		return
	}
	source.clearTouched()
	for _, k := range step.GroupKeys {
		source.touch(k)
	}
	for _, a := range step.Aggregations {
		touchScalarVars(source, a.Arg)
	}
	source.filter()
}
