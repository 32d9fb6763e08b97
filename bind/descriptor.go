// Package bind implements the uniform variable-descriptor kinds over
// catalog objects and stream/local variables (spec §3.2). Descriptors
// compare by object identity: the Factory allocates exactly one
// descriptor per logical entity, and every consumer holds and compares
// the same pointer.
package bind

import (
	"fmt"
	"sync"

	"github.com/brindledb/planopt/catalog"
	"github.com/brindledb/planopt/planerr"
)

// Kind is the variable-descriptor discriminant (spec §3.2).
type Kind int

const (
	TableColumn Kind = iota
	ExternalVariable
	FrameVariable
	StreamVariable
	ExchangeColumn
	LocalVariable
)

func (k Kind) String() string {
	switch k {
	case TableColumn:
		return "table_column"
	case ExternalVariable:
		return "external_variable"
	case FrameVariable:
		return "frame_variable"
	case StreamVariable:
		return "stream_variable"
	case ExchangeColumn:
		return "exchange_column"
	case LocalVariable:
		return "local_variable"
	default:
		return "?kind?"
	}
}

// Descriptor is an opaque variable handle. It is always used by
// pointer; the pointer itself is the identity. Only the fields for its
// own Kind are meaningful.
type Descriptor struct {
	kind  Kind
	id    uint64
	label string

	// TableColumn payload.
	column *catalog.Column

	// ExternalVariable / FrameVariable payload.
	name string
}

func (d *Descriptor) Kind() Kind { return d.kind }

// ID is a stable small integer assigned at allocation time, used only
// for ColSet membership and debug display — it is not part of the
// identity contract (pointer equality is).
func (d *Descriptor) ID() uint64 { return d.id }

func (d *Descriptor) Label() string { return d.label }

// Column returns the catalog column this descriptor refers to. Valid
// only when Kind() == TableColumn.
func (d *Descriptor) Column() *catalog.Column { return d.column }

// Name returns the declared external-parameter or frame-correlation
// name. Valid only when Kind() is ExternalVariable or FrameVariable.
func (d *Descriptor) Name() string { return d.name }

func (d *Descriptor) String() string {
	if d.label != "" {
		return d.label
	}
	return fmt.Sprintf("%s#%d", d.kind, d.id)
}

// RequireKind returns planerr.ErrArgumentViolation when d is not of the
// expected kind (spec §7: "a variable descriptor of an unexpected kind
// where a specific kind is required").
func RequireKind(d *Descriptor, want Kind) error {
	if d.kind != want {
		return planerr.ErrArgumentViolation.New(fmt.Sprintf("expected %s descriptor, got %s (%s)", want, d.kind, d))
	}
	return nil
}

// Factory allocates descriptors. One Factory is shared across a single
// optimization invocation so identity is consistent throughout.
type Factory struct {
	mu        sync.Mutex
	next      uint64
	byColumn  map[*catalog.Column]*Descriptor
}

func NewFactory() *Factory {
	return &Factory{byColumn: make(map[*catalog.Column]*Descriptor)}
}

func (f *Factory) alloc(kind Kind, label string) *Descriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return &Descriptor{kind: kind, id: f.next, label: label}
}

// TableColumn returns the (memoized) descriptor for a catalog column.
// Repeated calls with the same column return the same pointer, because
// a table column is one logical entity regardless of how many operators
// reference it.
func (f *Factory) TableColumn(col *catalog.Column) *Descriptor {
	f.mu.Lock()
	if d, ok := f.byColumn[col]; ok {
		f.mu.Unlock()
		return d
	}
	f.mu.Unlock()
	d := f.alloc(TableColumn, col.Name())
	d.column = col
	f.mu.Lock()
	f.byColumn[col] = d
	f.mu.Unlock()
	return d
}

// ExternalVariable allocates a descriptor for a declared host parameter.
// Each call is a new logical entity (callers that need sharing must
// memoize themselves, same as the external resolver would).
func (f *Factory) ExternalVariable(name string) *Descriptor {
	d := f.alloc(ExternalVariable, name)
	d.name = name
	return d
}

// FrameVariable allocates a descriptor for an outer-query correlation.
func (f *Factory) FrameVariable(name string) *Descriptor {
	d := f.alloc(FrameVariable, name)
	d.name = name
	return d
}

// StreamVariable allocates a fresh descriptor for a tuple column flowing
// on an edge within a single process (spec §3.2 invariant: valid only on
// the edge/operator that declared it and its transitive downstream
// within the same process).
func (f *Factory) StreamVariable(label string) *Descriptor {
	return f.alloc(StreamVariable, label)
}

// ExchangeColumn allocates a fresh descriptor for a column declared by
// exactly one exchange step.
func (f *Factory) ExchangeColumn(label string) *Descriptor {
	return f.alloc(ExchangeColumn, label)
}

// LocalVariable allocates a fresh descriptor for a let-bound name,
// valid only inside the let expression that introduced it.
func (f *Factory) LocalVariable(label string) *Descriptor {
	return f.alloc(LocalVariable, label)
}
