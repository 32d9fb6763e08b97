// Package prototype implements the catalog complement described in
// spec §4.E: it clones table-and-primary-index prototypes and
// secondary-index prototypes, and offers two extension points for an
// embedding program to validate or reject an instantiation before the
// caller registers it in a catalog.Provider. The package never touches
// a Provider itself — "invocation always returns a fresh clone of the
// prototype; the caller is responsible for registration."
package prototype

import (
	"github.com/hashicorp/go-multierror"

	"github.com/brindledb/planopt/catalog"
)

// TablePrototype is a template for a table and its primary index,
// instantiated as a pair since a table's primary index shares the
// table's column identities (spec §3.3: "primary — the index IS the
// table").
type TablePrototype struct {
	Table   *catalog.Relation
	Primary *catalog.Index
}

// SecondaryIndexPrototype is a template for a single secondary index
// over an already-instantiated table.
type SecondaryIndexPrototype struct {
	Index *catalog.Index
}

// Location is where an instantiation is destined — the provider that
// will eventually register the clone, plus a free-form label an
// embedding program's hooks can use for logging or policy (e.g. a
// tenant or schema name). The processor itself never registers into
// Location.Provider; it only passes it through to the hooks.
type Location struct {
	Provider *catalog.Provider
	Label    string
}

// Hooks are the two extension points named in spec §4.E. The default
// implementations do nothing and report success; an embedding program
// overrides one or both to enforce policy (e.g. a naming convention, a
// quota, a required key column) before the caller registers the clone.
type Hooks interface {
	// EnsureTable validates a freshly cloned table and its primary
	// index before registration. Returning false rejects the
	// instantiation; diag collects the reason.
	EnsureTable(loc Location, table *catalog.Relation, primary *catalog.Index, diag *multierror.Error) bool

	// EnsureSecondaryIndex validates a freshly cloned secondary index
	// before registration.
	EnsureSecondaryIndex(loc Location, idx *catalog.Index, diag *multierror.Error) bool
}

// DefaultHooks is the no-op Hooks implementation: every instantiation
// succeeds.
type DefaultHooks struct{}

func (DefaultHooks) EnsureTable(Location, *catalog.Relation, *catalog.Index, *multierror.Error) bool {
	return true
}

func (DefaultHooks) EnsureSecondaryIndex(Location, *catalog.Index, *multierror.Error) bool {
	return true
}

// Processor clones table and secondary-index prototypes, running them
// past its Hooks before handing the clone back to the caller.
type Processor struct {
	Hooks Hooks
}

// NewProcessor constructs a Processor; a nil hooks argument installs
// DefaultHooks.
func NewProcessor(hooks Hooks) *Processor {
	if hooks == nil {
		hooks = DefaultHooks{}
	}
	return &Processor{Hooks: hooks}
}

// Instantiate clones proto's table and primary index and runs
// EnsureTable. It always returns fresh clones — even on rejection — so
// a caller inspecting a rejected instantiation sees the same shape it
// would have registered; the caller decides whether to register them,
// guided by the returned ok flag.
func (p *Processor) Instantiate(loc Location, proto *TablePrototype, diag *multierror.Error) (*catalog.Relation, *catalog.Index, bool) {
	table := proto.Table.Clone()
	var primary *catalog.Index
	if proto.Primary != nil {
		primary = proto.Primary.Clone(table)
	}
	ok := p.Hooks.EnsureTable(loc, table, primary, diag)
	return table, primary, ok
}

// InstantiateSecondaryIndex clones proto's index rebound to table and
// runs EnsureSecondaryIndex.
func (p *Processor) InstantiateSecondaryIndex(loc Location, table *catalog.Relation, proto *SecondaryIndexPrototype, diag *multierror.Error) (*catalog.Index, bool) {
	idx := proto.Index.Clone(table)
	ok := p.Hooks.EnsureSecondaryIndex(loc, idx, diag)
	return idx, ok
}
