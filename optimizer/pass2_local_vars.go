package optimizer

import (
	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/predicate"
	"github.com/brindledb/planopt/rel"
	"github.com/brindledb/planopt/scalar"
)

// runCollectLocalVariables implements spec §4.B.2: within every scalar
// expression reachable from the graph, inline let-bound declarators
// whose value is safe to duplicate (always_inline is on, or the value
// is trivial and declares no further locals), threading each inlining
// into the let's remaining declarators and its body.
func runCollectLocalVariables(rc *runCtx) (PassStats, error) {
	stats := PassStats{Name: "collect_local_variables"}
	alwaysInline := rc.opts.RuntimeFeatures.Has(FeatureAlwaysInlineScalarLocalVariables)

	for _, n := range rc.graph.Nodes() {
		stats.NodesVisited++
		touched := false
		rewriteOperatorExprs(n.Op(), func(e scalar.Expr) scalar.Expr {
			return collectLocalVariables(e, alwaysInline, &touched)
		})
		if touched {
			stats.NodesChanged++
		}
	}
	return stats, nil
}

// rewriteOperatorExprs applies rewrite to every scalar.Expr field an
// operator carries, in place.
func rewriteOperatorExprs(op rel.Operator, rewrite func(scalar.Expr) scalar.Expr) {
	switch o := op.(type) {
	case *rel.FilterOp:
		o.Condition = rewrite(o.Condition)
	case *rel.ProjectOp:
		for i := range o.Projections {
			o.Projections[i].Value = rewrite(o.Projections[i].Value)
		}
	case *rel.JoinRelationOp:
		o.Condition = rewrite(o.Condition)
	case *rel.JoinFindOp:
		o.Condition = rewrite(o.Condition)
	case *rel.JoinScanOp:
		o.Condition = rewrite(o.Condition)
	case *rel.AggregateRelationOp:
		for i := range o.Aggregations {
			o.Aggregations[i].Arg = rewrite(o.Aggregations[i].Arg)
		}
	case *rel.ValuesOp:
		for _, row := range o.Rows {
			for i := range row {
				row[i] = rewrite(row[i])
			}
		}
	}
}

// collectLocalVariables rebuilds e, resolving every let it finds per
// spec §4.B.2. touched is set whenever a let is elided or a declarator
// is dropped.
func collectLocalVariables(e scalar.Expr, alwaysInline bool, touched *bool) scalar.Expr {
	if e == nil {
		return nil
	}
	switch n := e.(type) {
	case *scalar.Literal, *scalar.VariableRef:
		return e
	case *scalar.Unary:
		return scalar.NewUnary(n.Op, collectLocalVariables(n.Operand, alwaysInline, touched))
	case *scalar.Binary:
		return scalar.NewBinary(n.Op,
			collectLocalVariables(n.Left, alwaysInline, touched),
			collectLocalVariables(n.Right, alwaysInline, touched))
	case *scalar.Compare:
		return scalar.NewCompare(n.Op,
			collectLocalVariables(n.Left, alwaysInline, touched),
			collectLocalVariables(n.Right, alwaysInline, touched))
	case *scalar.Match:
		return scalar.NewMatch(
			collectLocalVariables(n.Target, alwaysInline, touched),
			collectLocalVariables(n.Pattern, alwaysInline, touched))
	case *scalar.Conditional:
		branches := make([]scalar.CaseBranch, len(n.Branches))
		for i, b := range n.Branches {
			branches[i] = scalar.CaseBranch{
				When: collectLocalVariables(b.When, alwaysInline, touched),
				Then: collectLocalVariables(b.Then, alwaysInline, touched),
			}
		}
		var els scalar.Expr
		if n.Else != nil {
			els = collectLocalVariables(n.Else, alwaysInline, touched)
		}
		return scalar.NewConditional(branches, els)
	case *scalar.Coalesce:
		args := make([]scalar.Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = collectLocalVariables(a, alwaysInline, touched)
		}
		return scalar.NewCoalesce(args...)
	case *scalar.FuncCall:
		args := make([]scalar.Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = collectLocalVariables(a, alwaysInline, touched)
		}
		return scalar.NewFuncCall(n.Name, args...)
	case *scalar.Let:
		return collectLet(n, alwaysInline, touched)
	default:
		return e
	}
}

func collectLet(l *scalar.Let, alwaysInline bool, touched *bool) scalar.Expr {
	pending := make(map[*bind.Descriptor]scalar.Expr)
	kept := make([]scalar.LetDecl, 0, len(l.Decls))

	for _, d := range l.Decls {
		v := collectLocalVariables(d.Value, alwaysInline, touched)
		if len(pending) > 0 {
			v = predicate.InlineVariables(v, pending)
		}
		cls := predicate.Classify(v)
		inline := alwaysInline || (cls.Has(predicate.ClassTrivial) && !cls.Has(predicate.ClassVariableDeclaration))
		if inline {
			pending[d.Var] = v
			*touched = true
		} else {
			kept = append(kept, scalar.LetDecl{Var: d.Var, Value: v})
		}
	}

	body := collectLocalVariables(l.Body, alwaysInline, touched)
	if len(pending) > 0 {
		body = predicate.InlineVariables(body, pending)
	}

	if len(kept) == 0 {
		*touched = true
		return body
	}
	return scalar.NewLet(kept, body)
}
