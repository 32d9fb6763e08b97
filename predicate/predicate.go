// Package predicate implements the scalar-predicate transforms shared by
// the intermediate-plan passes (spec §4.A): conjunction decomposition,
// three-valued simplification, stream-variable collection, local-variable
// inlining, and a lightweight expression classifier used to decide
// whether a let-bound value is safe to inline in place.
package predicate

import (
	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/scalar"
)

// Truth is the result of Simplify: a three-valued boolean, optionally
// qualified by UNKNOWN-ness, or UNSURE when the expression could not be
// evaluated statically.
type Truth int

const (
	True Truth = iota
	False
	UnknownTruth
	TrueOrUnknown
	FalseOrUnknown
	Unsure
)

func (t Truth) String() string {
	switch t {
	case True:
		return "TRUE"
	case False:
		return "FALSE"
	case UnknownTruth:
		return "UNKNOWN"
	case TrueOrUnknown:
		return "TRUE_OR_UNKNOWN"
	case FalseOrUnknown:
		return "FALSE_OR_UNKNOWN"
	default:
		return "UNSURE"
	}
}

// Decompose walks P, handing every leaf atom of a binary-AND tree to
// consume exactly once, in left-to-right order. It owns P: the tree
// above the handed-out atoms is not reused by the caller afterward.
func Decompose(p scalar.Expr, consume func(atom scalar.Expr)) {
	if b, ok := p.(*scalar.Binary); ok && b.Op == scalar.And {
		Decompose(b.Left, consume)
		Decompose(b.Right, consume)
		return
	}
	consume(p)
}

// Simplify classifies p into one of the six three-valued-logic buckets.
// For AND/OR, if one side resolves to the operator's identity, the other
// side's truth is hoisted in its place (the spec's "exchange the owner
// pointer" is, in this value-returning form, simply returning the other
// side's truth unevaluated-further).
func Simplify(p scalar.Expr) Truth {
	switch e := p.(type) {
	case *scalar.Literal:
		if scalar.IsTrueLiteral(e) {
			return True
		}
		if scalar.IsFalseLiteral(e) {
			return False
		}
		if scalar.IsUnknownLiteral(e) || scalar.IsNullLiteral(e) {
			return UnknownTruth
		}
		return Unsure
	case *scalar.Unary:
		return simplifyUnary(e)
	case *scalar.Binary:
		switch e.Op {
		case scalar.And:
			return simplifyAnd(Simplify(e.Left), Simplify(e.Right))
		case scalar.Or:
			return simplifyOr(Simplify(e.Left), Simplify(e.Right))
		}
		return Unsure
	default:
		return Unsure
	}
}

func simplifyUnary(u *scalar.Unary) Truth {
	switch u.Op {
	case scalar.Not:
		return negate(Simplify(u.Operand))
	case scalar.IsNull:
		inner := Simplify(u.Operand)
		if inner == UnknownTruth {
			return True
		}
		if inner == True || inner == False {
			return False
		}
		return Unsure
	case scalar.IsTrue:
		inner := Simplify(u.Operand)
		if inner == True {
			return True
		}
		if inner == False || inner == UnknownTruth {
			return False
		}
		return Unsure
	case scalar.IsFalse:
		inner := Simplify(u.Operand)
		if inner == False {
			return True
		}
		if inner == True || inner == UnknownTruth {
			return False
		}
		return Unsure
	case scalar.IsUnknown:
		inner := Simplify(u.Operand)
		if inner == UnknownTruth {
			return True
		}
		if inner == True || inner == False {
			return False
		}
		return Unsure
	default:
		return Unsure
	}
}

func negate(t Truth) Truth {
	switch t {
	case True:
		return False
	case False:
		return True
	case UnknownTruth:
		return UnknownTruth
	case TrueOrUnknown:
		return FalseOrUnknown
	case FalseOrUnknown:
		return TrueOrUnknown
	default:
		return Unsure
	}
}

// simplifyAnd implements SQL's three-valued AND: FALSE is absorbing,
// TRUE is the identity (hoisting the other side), otherwise UNKNOWN
// propagates.
func simplifyAnd(l, r Truth) Truth {
	if l == False || r == False {
		return False
	}
	if l == True {
		return r
	}
	if r == True {
		return l
	}
	if l == Unsure || r == Unsure {
		return Unsure
	}
	// both sides are UNKNOWN-flavored and neither is definite-false
	return UnknownTruth
}

// simplifyOr implements SQL's three-valued OR: TRUE is absorbing, FALSE
// is the identity.
func simplifyOr(l, r Truth) Truth {
	if l == True || r == True {
		return True
	}
	if l == False {
		return r
	}
	if r == False {
		return l
	}
	if l == Unsure || r == Unsure {
		return Unsure
	}
	return UnknownTruth
}

// CollectStreamVariables walks e and invokes consume for every
// variable_reference whose descriptor kind is stream_variable.
func CollectStreamVariables(e scalar.Expr, consume func(v *bind.Descriptor)) {
	if e == nil {
		return
	}
	if ref, ok := e.(*scalar.VariableRef); ok {
		if ref.Var.Kind() == bind.StreamVariable {
			consume(ref.Var)
		}
		return
	}
	for _, c := range e.Children() {
		CollectStreamVariables(c, consume)
	}
}

// InlineVariables walks target and replaces every variable_reference
// whose descriptor has a mapping in replacements by a fresh clone of the
// replacement. Variables absent from replacements are left untouched.
func InlineVariables(target scalar.Expr, replacements map[*bind.Descriptor]scalar.Expr) scalar.Expr {
	if target == nil {
		return nil
	}
	if ref, ok := target.(*scalar.VariableRef); ok {
		if repl, found := replacements[ref.Var]; found {
			return cloneExpr(repl)
		}
		return target
	}
	return rebuildWithInlinedChildren(target, replacements)
}

func rebuildWithInlinedChildren(e scalar.Expr, repl map[*bind.Descriptor]scalar.Expr) scalar.Expr {
	switch n := e.(type) {
	case *scalar.Literal:
		return scalar.NewLiteral(n.Value)
	case *scalar.VariableRef:
		return scalar.NewVariableRef(n.Var)
	case *scalar.Unary:
		return scalar.NewUnary(n.Op, InlineVariables(n.Operand, repl))
	case *scalar.Binary:
		return scalar.NewBinary(n.Op, InlineVariables(n.Left, repl), InlineVariables(n.Right, repl))
	case *scalar.Compare:
		return scalar.NewCompare(n.Op, InlineVariables(n.Left, repl), InlineVariables(n.Right, repl))
	case *scalar.Match:
		return scalar.NewMatch(InlineVariables(n.Target, repl), InlineVariables(n.Pattern, repl))
	case *scalar.Conditional:
		branches := make([]scalar.CaseBranch, len(n.Branches))
		for i, b := range n.Branches {
			branches[i] = scalar.CaseBranch{When: InlineVariables(b.When, repl), Then: InlineVariables(b.Then, repl)}
		}
		var els scalar.Expr
		if n.Else != nil {
			els = InlineVariables(n.Else, repl)
		}
		return scalar.NewConditional(branches, els)
	case *scalar.Coalesce:
		args := make([]scalar.Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = InlineVariables(a, repl)
		}
		return scalar.NewCoalesce(args...)
	case *scalar.Let:
		decls := make([]scalar.LetDecl, len(n.Decls))
		for i, d := range n.Decls {
			decls[i] = scalar.LetDecl{Var: d.Var, Value: InlineVariables(d.Value, repl)}
		}
		return scalar.NewLet(decls, InlineVariables(n.Body, repl))
	case *scalar.FuncCall:
		args := make([]scalar.Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = InlineVariables(a, repl)
		}
		return scalar.NewFuncCall(n.Name, args...)
	default:
		return e
	}
}

// cloneExpr produces a structurally fresh copy of e so every inlined
// occurrence is an independently owned subtree.
func cloneExpr(e scalar.Expr) scalar.Expr {
	return rebuildWithInlinedChildren(e, nil)
}

// Clone produces a structurally fresh copy of e. Exported for other
// packages (e.g. keyterm) that need to hand out an independent copy of
// an owned subtree without consuming the original.
func Clone(e scalar.Expr) scalar.Expr {
	return cloneExpr(e)
}

// Class is one bit of the expression classification set (spec §4.A).
type Class uint8

const (
	ClassUnknown Class = 1 << iota
	ClassConstant
	ClassTrivial
	ClassSmall
	ClassVariableDeclaration
	ClassFunctionCall
)

// ClassSet is a bitset of Class values.
type ClassSet uint8

func (s ClassSet) Has(c Class) bool { return s&ClassSet(c) != 0 }

// Classify describes e per spec §4.A: leaves are trivial/constant except
// variable_reference (trivial, not constant); cast/binary/compare
// /conditional/coalesce/let are non-trivial; match/function_call are
// non-constant, non-trivial, non-small; let additionally contributes
// variable_declaration.
func Classify(e scalar.Expr) ClassSet {
	switch n := e.(type) {
	case *scalar.Literal:
		return ClassSet(ClassConstant | ClassTrivial | ClassSmall)
	case *scalar.VariableRef:
		return ClassSet(ClassTrivial | ClassSmall)
	case *scalar.Unary:
		return classifyNonTrivial(n.Operand)
	case *scalar.Binary:
		return classifyNonTrivial(n.Left, n.Right)
	case *scalar.Compare:
		return classifyNonTrivial(n.Left, n.Right)
	case *scalar.Conditional:
		children := n.Children()
		return classifyNonTrivial(children...)
	case *scalar.Coalesce:
		return classifyNonTrivial(n.Args...)
	case *scalar.Let:
		inner := classifyNonTrivial(n.Children()...)
		return inner | ClassSet(ClassVariableDeclaration)
	case *scalar.Match:
		return ClassSet(ClassUnknown)
	case *scalar.FuncCall:
		return ClassSet(ClassUnknown | ClassFunctionCall)
	default:
		return ClassSet(ClassUnknown)
	}
}

// classifyNonTrivial folds the classification of subexpressions into a
// single "non-trivial, small-if-all-children-small" verdict, since none
// of binary/compare/conditional/coalesce/let are themselves trivial.
func classifyNonTrivial(children ...scalar.Expr) ClassSet {
	small := true
	for _, c := range children {
		if !Classify(c).Has(ClassSmall) {
			small = false
			break
		}
	}
	if small {
		return ClassSet(ClassSmall)
	}
	return 0
}
