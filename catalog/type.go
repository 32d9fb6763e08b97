// Package catalog implements the storage-catalog slice of the core that
// the optimizer depends on (spec §3.3): tables with ordered columns,
// indices with key columns and declared features, sequences, and
// hierarchical provider lookup. Type checking, persistence, and DDL
// execution are external concerns (spec §1); this package only models
// the shapes the optimizer reads.
package catalog

// Type is the column/value data type. It is opaque to this package
// (spec §3.3: "a data type (opaque)") — the optimizer never interprets
// it beyond identity and display; type checking is an external concern.
type Type interface {
	String() string
}

type simpleType string

func (t simpleType) String() string { return string(t) }

// A small set of concrete types sufficient for tests and for the
// default index estimator's key-coercion needs; an embedding program is
// expected to supply its own richer Type implementations.
var (
	Int32  Type = simpleType("INT32")
	Int64  Type = simpleType("INT64")
	Float  Type = simpleType("FLOAT64")
	Text   Type = simpleType("TEXT")
	Bool   Type = simpleType("BOOL")
	Bytes  Type = simpleType("BYTES")
)
