package stepplan

import (
	"fmt"

	uuid "github.com/satori/go.uuid"

	"github.com/brindledb/planopt/bind"
)

// ExchangeColumnEntry is one column of an exchange, in declared order:
// the origin descriptor an offer bound it from, and the exchange_column
// descriptor the rest of the step plan references it by (spec §3.2,
// §3.5).
type ExchangeColumnEntry struct {
	Origin *bind.Descriptor
	Column *bind.Descriptor
}

// ExchangeColumnInfo is the per-exchange bookkeeping spec §3.5
// describes: the ordered column list an exchange declares, plus the
// "touched" working set the downstream rewrite walk (§4.D.5) uses to
// decide which columns survive.
type ExchangeColumnInfo struct {
	factory  *bind.Factory
	byOrigin map[*bind.Descriptor]*bind.Descriptor
	columns  []ExchangeColumnEntry
	touched  map[*bind.Descriptor]bool
}

func newExchangeColumnInfo(factory *bind.Factory) *ExchangeColumnInfo {
	return &ExchangeColumnInfo{
		factory:  factory,
		byOrigin: make(map[*bind.Descriptor]*bind.Descriptor),
		touched:  make(map[*bind.Descriptor]bool),
	}
}

// allocate returns the exchange column bound to origin, allocating a
// fresh one on first use. Two distinct origins can carry the same
// printable label — e.g. two renamed copies of the same column name on
// either side of a self-join — so the uuid suffix keeps their exchange
// column labels collision-proof for debug output even though identity
// is always by pointer, never by label.
func (e *ExchangeColumnInfo) allocate(origin *bind.Descriptor) *bind.Descriptor {
	if col, ok := e.byOrigin[origin]; ok {
		return col
	}
	label := origin.Label()
	if label == "" {
		label = origin.String()
	}
	col := e.factory.ExchangeColumn(fmt.Sprintf("%s#%s", label, uuid.NewV4().String()[:8]))
	e.byOrigin[origin] = col
	e.columns = append(e.columns, ExchangeColumnEntry{Origin: origin, Column: col})
	return col
}

// bind records col as the exchange column for origin without
// allocating a fresh one — used when an exchange's columns are known in
// advance (e.g. an aggregate exchange's rebuilt group-key columns).
func (e *ExchangeColumnInfo) bind(origin, col *bind.Descriptor) {
	if _, ok := e.byOrigin[origin]; ok {
		return
	}
	e.byOrigin[origin] = col
	e.columns = append(e.columns, ExchangeColumnEntry{Origin: origin, Column: col})
}

// lookup returns the exchange column already bound to origin, if any.
func (e *ExchangeColumnInfo) lookup(origin *bind.Descriptor) (*bind.Descriptor, bool) {
	col, ok := e.byOrigin[origin]
	return col, ok
}

// touch marks col (an exchange_column descriptor) as referenced by some
// downstream consumer (spec §4.D.5); untouched columns are dropped when
// the exchange's column list is filtered.
func (e *ExchangeColumnInfo) touch(col *bind.Descriptor) {
	if col == nil {
		return
	}
	e.touched[col] = true
}

func (e *ExchangeColumnInfo) isTouched(col *bind.Descriptor) bool {
	return e.touched[col]
}

// clearTouched resets the touched set — the aggregate exchange rewrite
// (§4.D.5) clears and re-touches a derived set after filtering
// destination columns, to separately decide which source columns
// survive.
func (e *ExchangeColumnInfo) clearTouched() {
	e.touched = make(map[*bind.Descriptor]bool)
}

// Columns returns the exchange's current column list, in declared
// order.
func (e *ExchangeColumnInfo) Columns() []ExchangeColumnEntry {
	return append([]ExchangeColumnEntry(nil), e.columns...)
}

// filter keeps only the columns whose Column descriptor is touched,
// preserving relative order (spec §4.D.5's column-list filtering step).
func (e *ExchangeColumnInfo) filter() {
	kept := e.columns[:0:0]
	byOrigin := make(map[*bind.Descriptor]*bind.Descriptor, len(e.byOrigin))
	for _, c := range e.columns {
		if e.touched[c.Column] {
			kept = append(kept, c)
			byOrigin[c.Origin] = c.Column
		}
	}
	e.columns = kept
	e.byOrigin = byOrigin
}
