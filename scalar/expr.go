// Package scalar is the tagged-union scalar-expression tree the core
// consumes (spec §3.1). It is intentionally minimal: the core never
// constructs a new variant outside the closed set used by its own
// rewrites (immediate boolean, binary AND, variable reference) — it
// replaces, clones, and releases subtrees built by an external
// resolver. Everything else (type checking, function resolution) is an
// external concern this package does not perform.
package scalar

import (
	"fmt"
	"strings"

	"github.com/brindledb/planopt/bind"
)

// Expr is a node in the scalar expression tree. Every non-leaf variant
// owns its operand subtrees exclusively.
type Expr interface {
	fmt.Stringer
	// Children returns this node's direct operand subtrees, in
	// evaluation order, for visitors that do not special-case variants.
	Children() []Expr
}

// UnaryOp enumerates the unary operators the core must recognize in
// order to evaluate three-valued predicates (spec §4.A).
type UnaryOp int

const (
	Not UnaryOp = iota
	IsNull
	IsTrue
	IsFalse
	IsUnknown
	Negate
)

func (o UnaryOp) String() string {
	switch o {
	case Not:
		return "NOT"
	case IsNull:
		return "IS NULL"
	case IsTrue:
		return "IS TRUE"
	case IsFalse:
		return "IS FALSE"
	case IsUnknown:
		return "IS UNKNOWN"
	case Negate:
		return "-"
	default:
		return "?unary?"
	}
}

// BinaryOp enumerates non-comparison binary operators. AND/OR are the
// two the core interprets directly; the rest pass through untouched.
type BinaryOp int

const (
	And BinaryOp = iota
	Or
	Add
	Sub
	Mul
	Div
	Mod
	BitAnd
	BitOr
	BitXor
)

func (o BinaryOp) String() string {
	switch o {
	case And:
		return "AND"
	case Or:
		return "OR"
	case Add:
		return "+"
	case Sub:
		return "-"
	case Mul:
		return "*"
	case Div:
		return "/"
	case Mod:
		return "%"
	case BitAnd:
		return "&"
	case BitOr:
		return "|"
	case BitXor:
		return "^"
	default:
		return "?binary?"
	}
}

// CompareOp enumerates the comparison operators the search-key term
// builder (spec §3.4) recognizes.
type CompareOp int

const (
	Eq CompareOp = iota
	Ne
	Lt
	Le
	Gt
	Ge
)

func (o CompareOp) String() string {
	switch o {
	case Eq:
		return "="
	case Ne:
		return "<>"
	case Lt:
		return "<"
	case Le:
		return "<="
	case Gt:
		return ">"
	case Ge:
		return ">="
	default:
		return "?cmp?"
	}
}

// Negate returns the logical negation of a comparison operator, used
// when the search-key term builder pushes a NOT through a comparison.
func (o CompareOp) Negate() CompareOp {
	switch o {
	case Eq:
		return Ne
	case Ne:
		return Eq
	case Lt:
		return Ge
	case Le:
		return Gt
	case Gt:
		return Le
	case Ge:
		return Lt
	default:
		return o
	}
}

// Transpose returns the operator that holds when its operands are
// swapped (k ⊙ e becomes e ⊙' k).
func (o CompareOp) Transpose() CompareOp {
	switch o {
	case Lt:
		return Gt
	case Le:
		return Ge
	case Gt:
		return Lt
	case Ge:
		return Le
	default:
		return o
	}
}

// Literal is an immediate constant value, including SQL NULL
// (Value == nil) and the three-valued UNKNOWN boolean (Value ==
// Unknown).
type Literal struct {
	Value any
}

// unknownT is the sentinel type for SQL's three-valued UNKNOWN, distinct
// from NULL so that IS_UNKNOWN can be told apart from IS_NULL on a
// boolean-typed expression.
type unknownT struct{}

// Unknown is the three-valued logic UNKNOWN value.
var Unknown = unknownT{}

func NewLiteral(v any) *Literal { return &Literal{Value: v} }

func NewBool(b bool) *Literal { return &Literal{Value: b} }

func (l *Literal) Children() []Expr { return nil }
func (l *Literal) String() string {
	if l.Value == nil {
		return "NULL"
	}
	if _, ok := l.Value.(unknownT); ok {
		return "UNKNOWN"
	}
	return fmt.Sprintf("%v", l.Value)
}

// IsTrueLiteral reports whether e is the immediate boolean TRUE.
func IsTrueLiteral(e Expr) bool {
	l, ok := e.(*Literal)
	if !ok {
		return false
	}
	b, ok := l.Value.(bool)
	return ok && b
}

// IsFalseLiteral reports whether e is the immediate boolean FALSE.
func IsFalseLiteral(e Expr) bool {
	l, ok := e.(*Literal)
	if !ok {
		return false
	}
	b, ok := l.Value.(bool)
	return ok && !b
}

// IsNullLiteral reports whether e is the immediate SQL NULL.
func IsNullLiteral(e Expr) bool {
	l, ok := e.(*Literal)
	return ok && l.Value == nil
}

// IsUnknownLiteral reports whether e is the immediate three-valued
// UNKNOWN.
func IsUnknownLiteral(e Expr) bool {
	l, ok := e.(*Literal)
	if !ok {
		return false
	}
	_, ok = l.Value.(unknownT)
	return ok
}

// VariableRef is a reference to a variable descriptor (spec §3.2). Two
// VariableRefs refer to the same logical variable iff their descriptors
// are equal (identity, per bind.Descriptor).
type VariableRef struct {
	Var *bind.Descriptor
}

func NewVariableRef(v *bind.Descriptor) *VariableRef { return &VariableRef{Var: v} }

func (v *VariableRef) Children() []Expr { return nil }
func (v *VariableRef) String() string   { return v.Var.String() }

// Unary applies a unary operator to a single operand.
type Unary struct {
	Op      UnaryOp
	Operand Expr
}

func NewUnary(op UnaryOp, operand Expr) *Unary { return &Unary{Op: op, Operand: operand} }
func NewNot(e Expr) *Unary                     { return NewUnary(Not, e) }
func NewIsNull(e Expr) *Unary                  { return NewUnary(IsNull, e) }
func NewIsTrue(e Expr) *Unary                  { return NewUnary(IsTrue, e) }
func NewIsFalse(e Expr) *Unary                 { return NewUnary(IsFalse, e) }
func NewIsUnknown(e Expr) *Unary               { return NewUnary(IsUnknown, e) }

func (u *Unary) Children() []Expr { return []Expr{u.Operand} }
func (u *Unary) String() string {
	if u.Op == Negate {
		return fmt.Sprintf("-%s", u.Operand)
	}
	return fmt.Sprintf("%s %s", u.Op, u.Operand)
}

// Binary applies a non-comparison binary operator. AND/OR are the two
// variants the core's own rewrites construct and interpret.
type Binary struct {
	Op          BinaryOp
	Left, Right Expr
}

func NewBinary(op BinaryOp, l, r Expr) *Binary { return &Binary{Op: op, Left: l, Right: r} }
func NewAnd(l, r Expr) *Binary                 { return NewBinary(And, l, r) }
func NewOr(l, r Expr) *Binary                  { return NewBinary(Or, l, r) }

func (b *Binary) Children() []Expr { return []Expr{b.Left, b.Right} }
func (b *Binary) String() string   { return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right) }

// Compare applies a comparison operator. This is the variant the
// search-key term builder pattern-matches against (spec §3.4).
type Compare struct {
	Op          CompareOp
	Left, Right Expr
}

func NewCompare(op CompareOp, l, r Expr) *Compare { return &Compare{Op: op, Left: l, Right: r} }
func NewEquals(l, r Expr) *Compare                { return NewCompare(Eq, l, r) }
func NewLessThan(l, r Expr) *Compare              { return NewCompare(Lt, l, r) }
func NewGreaterThan(l, r Expr) *Compare           { return NewCompare(Gt, l, r) }

func (c *Compare) Children() []Expr { return []Expr{c.Left, c.Right} }
func (c *Compare) String() string   { return fmt.Sprintf("(%s %s %s)", c.Left, c.Op, c.Right) }

// Match is a side-effect-free pattern match (e.g. LIKE / regex match).
type Match struct {
	Target, Pattern Expr
}

func NewMatch(target, pattern Expr) *Match { return &Match{Target: target, Pattern: pattern} }

func (m *Match) Children() []Expr { return []Expr{m.Target, m.Pattern} }
func (m *Match) String() string   { return fmt.Sprintf("(%s MATCH %s)", m.Target, m.Pattern) }

// CaseBranch is one WHEN/THEN arm of a Conditional.
type CaseBranch struct {
	When, Then Expr
}

// Conditional is a CASE-like expression: the first branch whose When
// evaluates true supplies the value, else Else (which may be nil,
// meaning implicit NULL).
type Conditional struct {
	Branches []CaseBranch
	Else     Expr
}

func NewConditional(branches []CaseBranch, els Expr) *Conditional {
	return &Conditional{Branches: branches, Else: els}
}

func (c *Conditional) Children() []Expr {
	out := make([]Expr, 0, len(c.Branches)*2+1)
	for _, b := range c.Branches {
		out = append(out, b.When, b.Then)
	}
	if c.Else != nil {
		out = append(out, c.Else)
	}
	return out
}

func (c *Conditional) String() string {
	var sb strings.Builder
	sb.WriteString("CASE")
	for _, b := range c.Branches {
		fmt.Fprintf(&sb, " WHEN %s THEN %s", b.When, b.Then)
	}
	if c.Else != nil {
		fmt.Fprintf(&sb, " ELSE %s", c.Else)
	}
	sb.WriteString(" END")
	return sb.String()
}

// Coalesce returns the first non-NULL argument.
type Coalesce struct {
	Args []Expr
}

func NewCoalesce(args ...Expr) *Coalesce { return &Coalesce{Args: args} }

func (c *Coalesce) Children() []Expr { return c.Args }
func (c *Coalesce) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("COALESCE(%s)", strings.Join(parts, ", "))
}

// LetDecl binds Var to Value within the enclosing Let's Body.
type LetDecl struct {
	Var   *bind.Descriptor
	Value Expr
}

// Let introduces one or more local-variable bindings (spec §3.2,
// local_variable) valid only within Body.
type Let struct {
	Decls []LetDecl
	Body  Expr
}

func NewLet(decls []LetDecl, body Expr) *Let { return &Let{Decls: decls, Body: body} }

func (l *Let) Children() []Expr {
	out := make([]Expr, 0, len(l.Decls)+1)
	for _, d := range l.Decls {
		out = append(out, d.Value)
	}
	return append(out, l.Body)
}

func (l *Let) String() string {
	var sb strings.Builder
	sb.WriteString("LET ")
	for i, d := range l.Decls {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s := %s", d.Var, d.Value)
	}
	fmt.Fprintf(&sb, " IN %s", l.Body)
	return sb.String()
}

// FuncCall is an opaque call to an externally resolved function.
type FuncCall struct {
	Name string
	Args []Expr
}

func NewFuncCall(name string, args ...Expr) *FuncCall { return &FuncCall{Name: name, Args: args} }

func (f *FuncCall) Children() []Expr { return f.Args }
func (f *FuncCall) String() string {
	parts := make([]string, len(f.Args))
	for i, a := range f.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", f.Name, strings.Join(parts, ", "))
}
