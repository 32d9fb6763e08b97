package catalog

import (
	"fmt"

	"github.com/spf13/cast"
)

// Criterion is an opaque check-like constraint on a column's values.
// The scalar expression it is built from belongs to an external
// resolver; this package only carries its display form, since
// evaluating it is out of scope (spec §1: type checking is external).
type Criterion struct {
	Name  string
	Check string
}

// DefaultKind enumerates a column default value's shape (spec §6.4).
// The tag ordering below is wire-stable: nothing=0, null=1,
// immediate=2, sequence=3.
type DefaultKind uint8

const (
	DefaultNothing DefaultKind = iota
	DefaultNull
	DefaultImmediate
	DefaultSequence
)

// Default is a column's default-value declaration.
type Default struct {
	Kind      DefaultKind
	Immediate any
	Sequence  *Sequence
}

func NoDefault() Default                      { return Default{Kind: DefaultNothing} }
func NullDefault() Default                    { return Default{Kind: DefaultNull} }
func ImmediateDefault(v any) Default          { return Default{Kind: DefaultImmediate, Immediate: v} }
func SequenceDefault(seq *Sequence) Default   { return Default{Kind: DefaultSequence, Sequence: seq} }

// Coerce converts an immediate default's literal into t's Go
// representation using spf13/cast, the way an ALTER ... SET DEFAULT
// statement's literal must agree with the column's declared type before
// it is stored. Only DefaultImmediate participates; other kinds return
// the value unchanged.
func (d Default) Coerce(t Type) (any, error) {
	if d.Kind != DefaultImmediate {
		return d.Immediate, nil
	}
	switch t {
	case Int32:
		v, err := cast.ToInt32E(d.Immediate)
		return v, err
	case Int64:
		v, err := cast.ToInt64E(d.Immediate)
		return v, err
	case Float:
		v, err := cast.ToFloat64E(d.Immediate)
		return v, err
	case Bool:
		v, err := cast.ToBoolE(d.Immediate)
		return v, err
	case Text:
		v, err := cast.ToStringE(d.Immediate)
		return v, err
	default:
		return d.Immediate, nil
	}
}

// Column is a simple name, an opaque data type, nullability and
// check-like criteria, and an optional default (spec §3.3). A column's
// owner is the single relation it belongs to; ownership is set exactly
// once and cleared when the relation is unregistered.
type Column struct {
	name      string
	typ       Type
	nullable  bool
	criteria  []Criterion
	def       Default
	owner     *Relation
}

func NewColumn(name string, typ Type, nullable bool, def Default, criteria ...Criterion) *Column {
	return &Column{name: name, typ: typ, nullable: nullable, def: def, criteria: criteria}
}

func (c *Column) Name() string           { return c.name }
func (c *Column) Type() Type             { return c.typ }
func (c *Column) Nullable() bool         { return c.nullable }
func (c *Column) Criteria() []Criterion  { return c.criteria }
func (c *Column) Default() Default       { return c.def }
func (c *Column) Owner() *Relation       { return c.owner }

func (c *Column) String() string {
	return fmt.Sprintf("%s %s", c.name, c.typ)
}

// Clone returns an unowned copy of c, sharing the default's sequence
// reference (a prototype's sequence is registered independently by the
// caller, same as a primary index's table). Criteria are copied by
// value since Criterion holds no owner back-pointer.
func (c *Column) Clone() *Column {
	criteria := make([]Criterion, len(c.criteria))
	copy(criteria, c.criteria)
	return &Column{
		name:     c.name,
		typ:      c.typ,
		nullable: c.nullable,
		criteria: criteria,
		def:      c.def,
	}
}
