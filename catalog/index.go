package catalog

import (
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
)

// SortDirection is a key element's declared sort order.
type SortDirection uint8

const (
	Ascending SortDirection = iota
	Descending
)

// Feature is a single declared index capability (spec §3.3). Encoded as
// a compact bitset (spec §6.3: wire-stable identifiers).
type Feature uint8

const (
	FeaturePrimary Feature = 1 << iota
	FeatureFind
	FeatureScan
	FeatureUnique
	FeatureUniqueConstraint
)

// FeatureSet is the bitset of Features an index declares.
type FeatureSet uint8

func NewFeatureSet(fs ...Feature) FeatureSet {
	var s FeatureSet
	for _, f := range fs {
		s |= FeatureSet(f)
	}
	return s
}

func (s FeatureSet) Has(f Feature) bool { return s&FeatureSet(f) != 0 }

func (s FeatureSet) String() string {
	var names []string
	for f, name := range map[Feature]string{
		FeaturePrimary:          "primary",
		FeatureFind:             "find",
		FeatureScan:             "scan",
		FeatureUnique:           "unique",
		FeatureUniqueConstraint: "unique_constraint",
	} {
		if s.Has(f) {
			names = append(names, name)
		}
	}
	return "{" + strings.Join(names, ",") + "}"
}

// KeyElement is one ordered key column of an index.
type KeyElement struct {
	Column *Column
	Dir    SortDirection
}

// Index is an origin table, a simple name, an ordered list of key
// elements, an unordered list of additionally stored value columns, and
// a declared feature set (spec §3.3).
type Index struct {
	name     string
	table    *Relation
	keys     []KeyElement
	values   []*Column
	features FeatureSet
}

func NewIndex(name string, table *Relation, keys []KeyElement, values []*Column, features FeatureSet) *Index {
	return &Index{name: name, table: table, keys: keys, values: values, features: features}
}

func (i *Index) Name() string          { return i.name }
func (i *Index) Table() *Relation      { return i.table }
func (i *Index) Keys() []KeyElement    { return i.keys }
func (i *Index) Values() []*Column     { return i.values }
func (i *Index) Features() FeatureSet  { return i.features }

// KeyColumns returns just the columns of the key elements, in order.
func (i *Index) KeyColumns() []*Column {
	out := make([]*Column, len(i.keys))
	for j, k := range i.keys {
		out[j] = k.Column
	}
	return out
}

// Clone returns an unowned copy of i rebound to table — its key and
// value columns are looked up by name on table rather than shared with
// i's own table, so a prototype index can be cloned alongside a freshly
// cloned table and still reference that table's columns (spec §4.E).
func (i *Index) Clone(table *Relation) *Index {
	keys := make([]KeyElement, len(i.keys))
	for j, k := range i.keys {
		c, _ := table.Column(k.Column.Name())
		keys[j] = KeyElement{Column: c, Dir: k.Dir}
	}
	values := make([]*Column, len(i.values))
	for j, v := range i.values {
		c, _ := table.Column(v.Name())
		values[j] = c
	}
	return NewIndex(i.name, table, keys, values, i.features)
}

// ColumnSet returns the set of columns (key + value) physically
// available from this index, keyed by the column's position within its
// owning table — used to decide index-only ("covered") access.
func (i *Index) ColumnSet() ColumnSet {
	var cs ColumnSet
	for _, k := range i.keys {
		cs.add(i.table, k.Column)
	}
	for _, v := range i.values {
		cs.add(i.table, v)
	}
	return cs
}

// Covers reports whether every column in cols is physically present in
// the index (key or value columns) — used for the index_only estimator
// attribute (spec §6.1).
func (i *Index) Covers(cols []*Column) bool {
	cs := i.ColumnSet()
	for _, c := range cols {
		if !cs.Contains(i.table, c) {
			return false
		}
	}
	return true
}

func (i *Index) String() string {
	parts := make([]string, len(i.keys))
	for j, k := range i.keys {
		d := "asc"
		if k.Dir == Descending {
			d = "desc"
		}
		parts[j] = fmt.Sprintf("%s %s", k.Column.Name(), d)
	}
	return fmt.Sprintf("%s(%s) on %s %s", i.name, strings.Join(parts, ", "), i.table.Name(), i.features)
}

// ColumnSet is a bitset of column positions scoped to a single table,
// used by Index.Covers. Columns are addressed by their ordinal position
// in the owning table's Columns() list.
type ColumnSet struct {
	table *Relation
	bm    *roaring.Bitmap
}

func (cs *ColumnSet) add(table *Relation, c *Column) {
	if cs.bm == nil {
		cs.bm = roaring.New()
		cs.table = table
	}
	for idx, tc := range table.Columns() {
		if tc == c {
			cs.bm.Add(uint32(idx))
			return
		}
	}
}

func (cs ColumnSet) Contains(table *Relation, c *Column) bool {
	if cs.bm == nil || cs.table != table {
		return false
	}
	for idx, tc := range table.Columns() {
		if tc == c {
			return cs.bm.Contains(uint32(idx))
		}
	}
	return false
}
