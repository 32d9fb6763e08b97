package stepplan

import (
	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/planerr"
	"github.com/brindledb/planopt/scalar"
)

// StreamVariableRewriterContext threads one process's downstream-to-
// upstream stream-variable rewrite (spec §3.5, §4.D.5): each stream
// variable referenced downstream of its declaration gets a single fresh
// replacement, allocated lazily the first time a consumer touches it;
// an operator that declares a variable nobody ended up touching is
// dropped instead of rewritten.
type StreamVariableRewriterContext struct {
	factory *bind.Factory

	// replacement holds the fresh variable standing in for an original
	// stream variable, allocated the first time rewriteUse/touch sees it.
	replacement map[*bind.Descriptor]*bind.Descriptor
	// defined marks a replacement as bound by its declaring operator
	// (tryRewriteDefine succeeded for it).
	defined map[*bind.Descriptor]bool
	// aliases maps an escape operator's renamed (destination) variable
	// back to its pre-rename source, so uses of the renamed variable
	// resolve to the same rewrite slot as the original (spec §4.D.5:
	// "recording each (source, destination) pair as an alias").
	aliases map[*bind.Descriptor]*bind.Descriptor
}

func newStreamVariableRewriterContext(factory *bind.Factory) *StreamVariableRewriterContext {
	return &StreamVariableRewriterContext{
		factory:     factory,
		replacement: make(map[*bind.Descriptor]*bind.Descriptor),
		defined:     make(map[*bind.Descriptor]bool),
		aliases:     make(map[*bind.Descriptor]*bind.Descriptor),
	}
}

// alias records that uses of dest should resolve as if they referenced
// source.
func (c *StreamVariableRewriterContext) alias(source, dest *bind.Descriptor) {
	c.aliases[dest] = source
}

func (c *StreamVariableRewriterContext) resolve(v *bind.Descriptor) *bind.Descriptor {
	for {
		src, ok := c.aliases[v]
		if !ok {
			return v
		}
		v = src
	}
}

// touch guarantees a replacement exists for v and returns it, without
// asserting anything about whether v is ever defined upstream. Used for
// search-key/exchange-key references, which are always "uses", never
// "definitions".
func (c *StreamVariableRewriterContext) touch(v *bind.Descriptor) *bind.Descriptor {
	v = c.resolve(v)
	if r, ok := c.replacement[v]; ok {
		return r
	}
	r := c.factory.StreamVariable(v.Label())
	c.replacement[v] = r
	return r
}

// rewriteUse returns the fresh replacement for v, allocating one on
// first reference (spec §4.D.5's rewrite_use).
func (c *StreamVariableRewriterContext) rewriteUse(v *bind.Descriptor) *bind.Descriptor {
	return c.touch(v)
}

// tryRewriteDefine reports whether v has a live replacement — some
// downstream consumer already touched it — and if so returns it and
// marks it defined. A false result means the declaring operator's
// column for v should be dropped (spec §4.D.5's try_rewrite_define).
func (c *StreamVariableRewriterContext) tryRewriteDefine(v *bind.Descriptor) (*bind.Descriptor, bool) {
	v = c.resolve(v)
	r, ok := c.replacement[v]
	if !ok {
		return nil, false
	}
	c.defined[r] = true
	return r, true
}

// undefined returns every replacement referenced downstream but never
// defined upstream — a dangling stream-variable reference (spec §4.D.5,
// §7).
func (c *StreamVariableRewriterContext) undefined() []*bind.Descriptor {
	var out []*bind.Descriptor
	for orig, r := range c.replacement {
		if !c.defined[r] {
			out = append(out, orig)
		}
	}
	return out
}

// rewriteScalar implements spec §4.D.6: walk e, retargeting
// local_variable references through the active let-scope stack and
// stream_variable references through rewriter.rewriteUse. Each Let
// allocates one fresh local per declarator, walking the declarator's
// value before the fresh local is pushed (so a declarator can never
// reference its own binding) and popping the scope on return.
func rewriteScalar(rewriter *StreamVariableRewriterContext, factory *bind.Factory, locals []map[*bind.Descriptor]*bind.Descriptor, e scalar.Expr) (scalar.Expr, error) {
	if e == nil {
		return nil, nil
	}
	switch n := e.(type) {
	case *scalar.Literal:
		return n, nil
	case *scalar.VariableRef:
		if n.Var.Kind() == bind.LocalVariable {
			for i := len(locals) - 1; i >= 0; i-- {
				if repl, ok := locals[i][n.Var]; ok {
					return scalar.NewVariableRef(repl), nil
				}
			}
			return n, nil
		}
		return scalar.NewVariableRef(rewriter.rewriteUse(n.Var)), nil
	case *scalar.Unary:
		operand, err := rewriteScalar(rewriter, factory, locals, n.Operand)
		if err != nil {
			return nil, err
		}
		return scalar.NewUnary(n.Op, operand), nil
	case *scalar.Binary:
		l, err := rewriteScalar(rewriter, factory, locals, n.Left)
		if err != nil {
			return nil, err
		}
		r, err := rewriteScalar(rewriter, factory, locals, n.Right)
		if err != nil {
			return nil, err
		}
		return scalar.NewBinary(n.Op, l, r), nil
	case *scalar.Compare:
		l, err := rewriteScalar(rewriter, factory, locals, n.Left)
		if err != nil {
			return nil, err
		}
		r, err := rewriteScalar(rewriter, factory, locals, n.Right)
		if err != nil {
			return nil, err
		}
		return scalar.NewCompare(n.Op, l, r), nil
	case *scalar.Match:
		t, err := rewriteScalar(rewriter, factory, locals, n.Target)
		if err != nil {
			return nil, err
		}
		p, err := rewriteScalar(rewriter, factory, locals, n.Pattern)
		if err != nil {
			return nil, err
		}
		return scalar.NewMatch(t, p), nil
	case *scalar.Conditional:
		branches := make([]scalar.CaseBranch, len(n.Branches))
		for i, b := range n.Branches {
			w, err := rewriteScalar(rewriter, factory, locals, b.When)
			if err != nil {
				return nil, err
			}
			t, err := rewriteScalar(rewriter, factory, locals, b.Then)
			if err != nil {
				return nil, err
			}
			branches[i] = scalar.CaseBranch{When: w, Then: t}
		}
		var els scalar.Expr
		if n.Else != nil {
			var err error
			els, err = rewriteScalar(rewriter, factory, locals, n.Else)
			if err != nil {
				return nil, err
			}
		}
		return scalar.NewConditional(branches, els), nil
	case *scalar.Coalesce:
		args := make([]scalar.Expr, len(n.Args))
		for i, a := range n.Args {
			r, err := rewriteScalar(rewriter, factory, locals, a)
			if err != nil {
				return nil, err
			}
			args[i] = r
		}
		return scalar.NewCoalesce(args...), nil
	case *scalar.FuncCall:
		args := make([]scalar.Expr, len(n.Args))
		for i, a := range n.Args {
			r, err := rewriteScalar(rewriter, factory, locals, a)
			if err != nil {
				return nil, err
			}
			args[i] = r
		}
		return scalar.NewFuncCall(n.Name, args...), nil
	case *scalar.Let:
		decls := make([]scalar.LetDecl, len(n.Decls))
		scope := make(map[*bind.Descriptor]*bind.Descriptor, len(n.Decls))
		for i, d := range n.Decls {
			val, err := rewriteScalar(rewriter, factory, locals, d.Value)
			if err != nil {
				return nil, err
			}
			if _, dup := scope[d.Var]; dup {
				return nil, planerr.ErrArgumentViolation.New("duplicate local-variable declaration within a single let")
			}
			fresh := factory.LocalVariable(d.Var.Label())
			scope[d.Var] = fresh
			decls[i] = scalar.LetDecl{Var: fresh, Value: val}
		}
		body, err := rewriteScalar(rewriter, factory, append(locals, scope), n.Body)
		if err != nil {
			return nil, err
		}
		return scalar.NewLet(decls, body), nil
	default:
		return e, nil
	}
}

// touchScalarVars walks an already-rewritten (exchange-column-targeted)
// scalar expression and touches info for every exchange_column
// reference it finds — used by the aggregate exchange's source-column
// retouch pass (spec §4.D.5).
func touchScalarVars(info *ExchangeColumnInfo, e scalar.Expr) {
	if e == nil {
		return
	}
	if ref, ok := e.(*scalar.VariableRef); ok {
		if ref.Var.Kind() == bind.ExchangeColumn {
			info.touch(ref.Var)
		}
		return
	}
	for _, c := range e.Children() {
		touchScalarVars(info, c)
	}
}
