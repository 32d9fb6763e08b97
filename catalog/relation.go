package catalog

import "github.com/brindledb/planopt/planerr"

// RelationKind discriminates a table (has ordered columns this package
// models) from a view (opaque; spec §6.5 wire-stable tags: table=0,
// view=1).
type RelationKind uint8

const (
	KindTable RelationKind = iota
	KindView
)

func (k RelationKind) String() string {
	if k == KindView {
		return "view"
	}
	return "table"
}

// Relation is either a table (ordered columns known to this package) or
// a view (opaque body, not modeled here — views are resolved and
// inlined by an external component before the core ever sees them).
// Invariant: a relation is owned by at most one catalog provider at a
// time (spec §3.3).
type Relation struct {
	kind    RelationKind
	name    string
	columns []*Column
	owner   *Provider
}

// NewTable constructs a table relation and sets each column's owner to
// it.
func NewTable(name string, columns []*Column) *Relation {
	r := &Relation{kind: KindTable, name: name, columns: columns}
	for _, c := range columns {
		c.owner = r
	}
	return r
}

// NewView constructs an opaque view relation.
func NewView(name string) *Relation {
	return &Relation{kind: KindView, name: name}
}

func (r *Relation) Kind() RelationKind { return r.kind }
func (r *Relation) Name() string       { return r.name }

// Columns returns the table's ordered columns. Empty for a view.
func (r *Relation) Columns() []*Column { return r.columns }

// Column looks up a column by name, case-sensitive (identifier equality
// is byte-exact per spec §6.2).
func (r *Relation) Column(name string) (*Column, bool) {
	for _, c := range r.columns {
		if c.name == name {
			return c, true
		}
	}
	return nil, false
}

func (r *Relation) Owner() *Provider { return r.owner }

// bless marks r as owned by p. Registering an entity already owned by
// another provider is rejected (spec §3.3, §7 ArgumentViolation).
func (r *Relation) bless(p *Provider) error {
	if r.owner != nil && r.owner != p {
		return planerr.ErrArgumentViolation.New("relation " + r.name + " already owned by another provider")
	}
	r.owner = p
	return nil
}

// Clone returns an unowned copy of r (spec §4.E: "invocation always
// returns a fresh clone of the prototype; the caller is responsible for
// registration"). Column clones are re-owned to the new relation, not
// the prototype's.
func (r *Relation) Clone() *Relation {
	if r.kind == KindView {
		return NewView(r.name)
	}
	cols := make([]*Column, len(r.columns))
	for i, c := range r.columns {
		cols[i] = c.Clone()
	}
	return NewTable(r.name, cols)
}

// unbless clears ownership when unregistered from p. Clearing ownership
// also clears it from every column (spec §3.3: "ownership is set
// exactly once and cleared when the relation is unregistered").
func (r *Relation) unbless(p *Provider) {
	if r.owner == p {
		r.owner = nil
		for _, c := range r.columns {
			c.owner = nil
		}
	}
}
