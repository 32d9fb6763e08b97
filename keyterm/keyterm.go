// Package keyterm implements the search-key term algebra (spec §3.4,
// §4.B.4, §4.C): it merges comparison atoms extracted from decomposed
// predicates into, per declared key variable, at most one equivalent
// term or one lower/upper bounded range term, so the scan- and join
// -rewrite passes can turn them into index endpoints.
package keyterm

import (
	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/planerr"
	"github.com/brindledb/planopt/predicate"
	"github.com/brindledb/planopt/scalar"
)

// Factor is an ownership reference to one comparison atom's non-key
// side, so it can later be moved out of its source tree ("purged",
// leaving TRUE in its place) or copied ("cloned") without disturbing
// the other.
type Factor struct {
	value scalar.Expr
	purge func() scalar.Expr
	spent bool
}

// Value returns the factor's expression without consuming it.
func (f *Factor) Value() scalar.Expr { return f.value }

// Purge moves the factor's expression out of its home tree (the source
// atom becomes TRUE there) and returns it. Calling Purge twice on the
// same factor is a programming error in the caller (only one consumer
// should ever take ownership); the second call returns a clone instead
// of panicking, since downstream passes cooperate rather than race.
func (f *Factor) Purge() scalar.Expr {
	if f.spent || f.purge == nil {
		return predicate.Clone(f.value)
	}
	f.spent = true
	return f.purge()
}

// Clone returns an independent copy of the factor's expression,
// leaving the original untouched.
func (f *Factor) Clone() scalar.Expr { return predicate.Clone(f.value) }

// Term is the merged comparison state for one key variable: at most one
// equivalent term, or a lower/upper bounded range.
type Term struct {
	key        *bind.Descriptor
	equivalent *Factor
	lower      *Factor
	lowerIncl  bool
	upper      *Factor
	upperIncl  bool
}

func (t *Term) Equivalent() bool { return t.equivalent != nil }

// FullBounded reports whether the term has both a lower and an upper
// range endpoint.
func (t *Term) FullBounded() bool { return t.lower != nil && t.upper != nil }

func (t *Term) EquivalentKey() *bind.Descriptor { return t.key }
func (t *Term) EquivalentFactor() *Factor       { return t.equivalent }

func (t *Term) LowerFactor() *Factor  { return t.lower }
func (t *Term) LowerInclusive() bool  { return t.lowerIncl }
func (t *Term) UpperFactor() *Factor  { return t.upper }
func (t *Term) UpperInclusive() bool  { return t.upperIncl }

// PurgeEquivalent moves the equivalent term's right-hand expression out
// of its home tree. Valid only when Equivalent() is true.
func (t *Term) PurgeEquivalent() scalar.Expr { return t.equivalent.Purge() }

// CloneEquivalent copies the equivalent term's right-hand expression.
func (t *Term) CloneEquivalent() scalar.Expr { return t.equivalent.Clone() }

func (t *Term) PurgeLower() scalar.Expr { return t.lower.Purge() }
func (t *Term) CloneLower() scalar.Expr { return t.lower.Clone() }
func (t *Term) PurgeUpper() scalar.Expr { return t.upper.Purge() }
func (t *Term) CloneUpper() scalar.Expr { return t.upper.Clone() }

// Builder collects comparison atoms against a fixed set of candidate key
// variables and merges them into Terms, first-match-wins. A Builder is
// single-use: once a Term has been queried via Term/Terms, further Add
// calls raise planerr.ErrInconsistentRewriteState.
type Builder struct {
	keys    map[*bind.Descriptor]bool
	terms   map[*bind.Descriptor]*Term
	queried bool
}

// NewBuilder constructs a Builder over the given candidate key
// variables (typically a scan's output column mappings, indexed by
// stream variable).
func NewBuilder(keys []*bind.Descriptor) *Builder {
	keySet := make(map[*bind.Descriptor]bool, len(keys))
	for _, k := range keys {
		keySet[k] = true
	}
	return &Builder{keys: keySet, terms: make(map[*bind.Descriptor]*Term)}
}

func (b *Builder) termFor(key *bind.Descriptor) *Term {
	t, ok := b.terms[key]
	if !ok {
		t = &Term{key: key}
		b.terms[key] = t
	}
	return t
}

// Add classifies a single comparison atom and merges it into the
// matching key's Term, per spec §3.4's mapping table. purge, when
// non-nil, is the caller's hook to move the atom's right-hand
// expression out of its home tree; it is invoked lazily, only if the
// resulting factor is later Purge()d. Add returns false if the atom did
// not match any candidate key (the caller should leave it where it is).
func (b *Builder) Add(atom scalar.Expr, purge func() scalar.Expr) (bool, error) {
	if b.queried {
		return false, planerr.ErrInconsistentRewriteState.New("search-key builder reconfigured after its first query")
	}

	negated := false
	cmp, ok := atom.(*scalar.Compare)
	if !ok {
		if u, ok := atom.(*scalar.Unary); ok && u.Op == scalar.Not {
			if c, ok := u.Operand.(*scalar.Compare); ok {
				cmp = c
				negated = true
			}
		}
	}
	if cmp == nil {
		return false, nil
	}

	leftKey, leftIsKey := b.asKey(cmp.Left)
	rightKey, rightIsKey := b.asKey(cmp.Right)
	if leftIsKey && rightIsKey {
		// Both sides reference keys: unusable as a single-key endpoint.
		return false, nil
	}

	var key *bind.Descriptor
	var rhs scalar.Expr
	op := cmp.Op
	switch {
	case leftIsKey:
		key = leftKey
		rhs = cmp.Right
	case rightIsKey:
		key = rightKey
		rhs = cmp.Left
		op = op.Transpose()
	default:
		return false, nil
	}

	if negated {
		op = op.Negate()
	}

	factor := &Factor{value: rhs, purge: purge}
	term := b.termFor(key)

	switch op {
	case scalar.Eq:
		if term.equivalent == nil {
			term.equivalent = factor
		}
	case scalar.Ne:
		// NOT (k = e) carries no usable endpoint; NOT (k <> e) was
		// already normalized to Eq above by Negate().
	case scalar.Lt:
		if term.upper == nil {
			term.upper = factor
			term.upperIncl = false
		}
	case scalar.Le:
		if term.upper == nil {
			term.upper = factor
			term.upperIncl = true
		}
	case scalar.Gt:
		if term.lower == nil {
			term.lower = factor
			term.lowerIncl = false
		}
	case scalar.Ge:
		if term.lower == nil {
			term.lower = factor
			term.lowerIncl = true
		}
	}
	return true, nil
}

func (b *Builder) asKey(e scalar.Expr) (*bind.Descriptor, bool) {
	ref, ok := e.(*scalar.VariableRef)
	if !ok {
		return nil, false
	}
	if !b.keys[ref.Var] {
		return nil, false
	}
	return ref.Var, true
}

// Term returns the merged term for key, or nil if no atom matched it.
// Calling Term marks the Builder as queried: further Add calls fail.
func (b *Builder) Term(key *bind.Descriptor) *Term {
	b.queried = true
	return b.terms[key]
}

// Terms returns every term the Builder has accumulated. Calling Terms
// marks the Builder as queried.
func (b *Builder) Terms() map[*bind.Descriptor]*Term {
	b.queried = true
	return b.terms
}
