package rel

import (
	"fmt"
	"strings"

	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/catalog"
	"github.com/brindledb/planopt/scalar"
)

// ColumnMap pairs a source descriptor (typically a table_column, or a
// stream_variable when the mapping renames within a process, or an
// exchange_column across a process boundary) with the stream_variable
// that carries it downstream on this operator's output.
type ColumnMap struct {
	Source *bind.Descriptor
	Dest   *bind.Descriptor
}

func colMapsString(cols []ColumnMap) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s->%s", c.Source, c.Dest)
	}
	return strings.Join(parts, ", ")
}

// JoinKind is one of the five join kinds spec §4.B distinguishes.
type JoinKind int

const (
	Inner JoinKind = iota
	Semi
	Anti
	LeftOuter
	FullOuter
)

func (k JoinKind) String() string {
	switch k {
	case Inner:
		return "inner"
	case Semi:
		return "semi"
	case Anti:
		return "anti"
	case LeftOuter:
		return "left_outer"
	case FullOuter:
		return "full_outer"
	default:
		return "?join?"
	}
}

// EndpointKind is a range-scan boundary shape (GLOSSARY "Endpoint").
type EndpointKind int

const (
	Unbound EndpointKind = iota
	Inclusive
	Exclusive
	PrefixedInclusive
	PrefixedExclusive
)

func (k EndpointKind) String() string {
	switch k {
	case Unbound:
		return "unbound"
	case Inclusive:
		return "inclusive"
	case Exclusive:
		return "exclusive"
	case PrefixedInclusive:
		return "prefixed_inclusive"
	case PrefixedExclusive:
		return "prefixed_exclusive"
	default:
		return "?endpoint?"
	}
}

// KeyValue binds one index key column to a scalar expression endpoint
// value.
type KeyValue struct {
	Column *catalog.Column
	Value  scalar.Expr
}

// RangeEndpoint is one side (lower or upper) of a scan's range (spec
// §4.C). Unbound carries no Keys. Inclusive/Exclusive carry exactly one
// trailing Keys entry beyond any leading equalities; the
// Prefixed{Inclusive,Exclusive} kinds describe a pure equality prefix
// with no trailing inequality.
type RangeEndpoint struct {
	Kind EndpointKind
	Keys []KeyValue
}

func (e RangeEndpoint) String() string {
	if e.Kind == Unbound {
		return "unbound"
	}
	parts := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		parts[i] = fmt.Sprintf("%s=%s", k.Column.Name(), k.Value)
	}
	return fmt.Sprintf("%s(%s)", e.Kind, strings.Join(parts, ","))
}

// SortKey pairs a variable with a sort direction for limit/sort-bearing
// operators.
type SortKey struct {
	Var *bind.Descriptor
	Dir catalog.SortDirection
}

// AggDecl is one aggregation column: Var := Func(Arg).
type AggDecl struct {
	Var  *bind.Descriptor
	Func string
	Arg  scalar.Expr
}

func aggDeclsString(aggs []AggDecl) string {
	parts := make([]string, len(aggs))
	for i, a := range aggs {
		parts[i] = fmt.Sprintf("%s:=%s(%s)", a.Var, a.Func, a.Arg)
	}
	return strings.Join(parts, ", ")
}

// ProjectDecl is one projected column: Var := Value.
type ProjectDecl struct {
	Var   *bind.Descriptor
	Value scalar.Expr
}

func varsString(vs []*bind.Descriptor) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}
