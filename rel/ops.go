package rel

import (
	"fmt"
	"strings"

	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/catalog"
	"github.com/brindledb/planopt/scalar"
)

// FindOp is a single-key point lookup against an index (spec §3.1).
// 0 inputs, 1 output.
type FindOp struct {
	Index   *catalog.Index
	Keys    []KeyValue
	Columns []ColumnMap
}

func (o *FindOp) Tag() Tag        { return Find }
func (o *FindOp) NumInputs() int  { return 0 }
func (o *FindOp) NumOutputs() int { return 1 }
func (o *FindOp) String() string {
	return fmt.Sprintf("find(%s, %v, cols={%s})", o.Index.Name(), o.Keys, colMapsString(o.Columns))
}

// ScanOp is an ordered range traversal of an index (spec §3.1, GLOSSARY
// "Scan"). 0 inputs, 1 output.
type ScanOp struct {
	Source  *catalog.Index
	Columns []ColumnMap
	Lower   RangeEndpoint
	Upper   RangeEndpoint
	Limit   *int
}

func (o *ScanOp) Tag() Tag        { return Scan }
func (o *ScanOp) NumInputs() int  { return 0 }
func (o *ScanOp) NumOutputs() int { return 1 }
func (o *ScanOp) String() string {
	return fmt.Sprintf("scan(%s, cols={%s}, lower=%s, upper=%s)", o.Source.Name(), colMapsString(o.Columns), o.Lower, o.Upper)
}

// ValuesOp materializes a literal row set. 0 inputs, 1 output.
type ValuesOp struct {
	Columns []*bind.Descriptor
	Rows    [][]scalar.Expr
}

func (o *ValuesOp) Tag() Tag        { return Values }
func (o *ValuesOp) NumInputs() int  { return 0 }
func (o *ValuesOp) NumOutputs() int { return 1 }
func (o *ValuesOp) String() string {
	return fmt.Sprintf("values(cols=[%s], rows=%d)", varsString(o.Columns), len(o.Rows))
}

// ProjectOp computes declared columns from its input. 1 input, 1
// output.
type ProjectOp struct {
	Projections []ProjectDecl
}

func (o *ProjectOp) Tag() Tag        { return Project }
func (o *ProjectOp) NumInputs() int  { return 1 }
func (o *ProjectOp) NumOutputs() int { return 1 }
func (o *ProjectOp) String() string {
	parts := ""
	for i, p := range o.Projections {
		if i > 0 {
			parts += ", "
		}
		parts += fmt.Sprintf("%s:=%s", p.Var, p.Value)
	}
	return fmt.Sprintf("project(%s)", parts)
}

// FilterOp discards rows for which Condition is not true. 1 input, 1
// output.
type FilterOp struct {
	Condition scalar.Expr
}

func (o *FilterOp) Tag() Tag        { return Filter }
func (o *FilterOp) NumInputs() int  { return 1 }
func (o *FilterOp) NumOutputs() int { return 1 }
func (o *FilterOp) String() string  { return fmt.Sprintf("filter(%s)", o.Condition) }

// BufferOp is an opaque materialization barrier. 1 input, 1 output.
type BufferOp struct{}

func (o *BufferOp) Tag() Tag        { return Buffer }
func (o *BufferOp) NumInputs() int  { return 1 }
func (o *BufferOp) NumOutputs() int { return 1 }
func (o *BufferOp) String() string  { return "buffer()" }

// IdentifyOp appends a row-identity variable to its input. 1 input, 1
// output.
type IdentifyOp struct {
	Var *bind.Descriptor
}

func (o *IdentifyOp) Tag() Tag        { return Identify }
func (o *IdentifyOp) NumInputs() int  { return 1 }
func (o *IdentifyOp) NumOutputs() int { return 1 }
func (o *IdentifyOp) String() string  { return fmt.Sprintf("identify(%s)", o.Var) }

// JoinKeyPair is one equi-join key pair discovered by collect_join_keys
// (spec §4.B.6): a left-input stream variable paired with the
// right-input stream variable the join condition requires it to equal.
type JoinKeyPair struct {
	Left, Right *bind.Descriptor
}

// JoinSide names one of a join_relation's two inputs.
type JoinSide int

const (
	SideLeft JoinSide = iota
	SideRight
)

func (s JoinSide) String() string {
	if s == SideLeft {
		return "left"
	}
	return "right"
}

// BroadcastKeyValue binds one broadcast-side key variable (in the order
// collect_join_keys chose them) to the scalar expression endpoint value
// extracted from the join condition. It plays the role spec §4.C's
// KeyValue plays for an index's key column, but a broadcast exchange
// has no catalog index to order by, so it names the variable directly.
type BroadcastKeyValue struct {
	Var   *bind.Descriptor
	Value scalar.Expr
}

// BroadcastEndpoint is one side (lower or upper) of a broadcast join's
// synthetic range, mirroring RangeEndpoint's shape (spec §4.C) over
// BroadcastKeyValue instead of KeyValue.
type BroadcastEndpoint struct {
	Kind EndpointKind
	Keys []BroadcastKeyValue
}

func (e BroadcastEndpoint) String() string {
	if e.Kind == Unbound {
		return "unbound"
	}
	parts := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		parts[i] = fmt.Sprintf("%s=%s", k.Var, k.Value)
	}
	return fmt.Sprintf("%s(%s)", e.Kind, strings.Join(parts, ","))
}

// JoinRelationOp is a pre-rewrite logical join of two inputs. 2 inputs
// (0=left, 1=right), 1 output. CogroupKeys and the Broadcast* fields are
// populated by collect_join_keys (spec §4.B.6) for the step-plan
// builder's benefit (spec §4.D.1); neither implies the other strategy
// was ruled out, the step-plan builder picks.
type JoinRelationOp struct {
	Kind      JoinKind
	Condition scalar.Expr

	// CogroupKeys are the equi-join key-variable pairs usable to key the
	// two group exchanges of a cogroup strategy.
	CogroupKeys []JoinKeyPair

	// BroadcastEligible reports whether collect_join_keys found a usable
	// broadcast search key. When true, the join's right input (after any
	// swap collect_join_keys performed) is the side to broadcast, and
	// BroadcastLower/BroadcastUpper describe the join_find/join_scan
	// endpoints to drive from the left input's rows.
	BroadcastEligible bool
	BroadcastLower    BroadcastEndpoint
	BroadcastUpper    BroadcastEndpoint
}

func (o *JoinRelationOp) Tag() Tag        { return JoinRelation }
func (o *JoinRelationOp) NumInputs() int  { return 2 }
func (o *JoinRelationOp) NumOutputs() int { return 1 }
func (o *JoinRelationOp) String() string {
	return fmt.Sprintf("join_relation(%s, %s)", o.Kind, o.Condition)
}

// JoinFindOp rewrites a join's right input into a single-key point
// lookup driven by the left input's rows. 1 input (left), 1 output.
// Source is either a catalog index (Index set, SourceExchange ==
// InvalidExchangeID — the rewrite_join/§4.B.5 shape) or a step-plan
// broadcast exchange (SourceExchange set, Index nil — the
// collect_exchange_steps/§4.D.1 broadcast shape); exactly one applies.
type JoinFindOp struct {
	Kind      JoinKind
	Index     *catalog.Index
	Keys      []KeyValue
	Columns   []ColumnMap
	Condition scalar.Expr

	// SourceExchange, when not InvalidExchangeID, names the broadcast
	// exchange this find probes instead of a catalog index; ExchangeKeys
	// then holds the search key in terms of broadcast-side variables,
	// rewritten to the exchange's own columns by collect_exchange_columns
	// (spec §4.D.4).
	SourceExchange ExchangeID
	ExchangeKeys   []BroadcastKeyValue
}

func (o *JoinFindOp) Tag() Tag        { return JoinFind }
func (o *JoinFindOp) NumInputs() int  { return 1 }
func (o *JoinFindOp) NumOutputs() int { return 1 }
func (o *JoinFindOp) String() string {
	if o.SourceExchange != InvalidExchangeID {
		return fmt.Sprintf("join_find(%s, X%d, keys=%v, cols={%s}, cond=%s)", o.Kind, o.SourceExchange, o.ExchangeKeys, colMapsString(o.Columns), o.Condition)
	}
	return fmt.Sprintf("join_find(%s, %s, keys=%v, cols={%s}, cond=%s)", o.Kind, o.Index.Name(), o.Keys, colMapsString(o.Columns), o.Condition)
}

// JoinScanOp rewrites a join's right input into a range scan driven by
// the left input's rows. 1 input (left), 1 output. See JoinFindOp for
// the catalog-index-vs-broadcast-exchange source convention.
type JoinScanOp struct {
	Kind      JoinKind
	Index     *catalog.Index
	Columns   []ColumnMap
	Lower     RangeEndpoint
	Upper     RangeEndpoint
	Condition scalar.Expr

	SourceExchange ExchangeID
	ExchangeLower  BroadcastEndpoint
	ExchangeUpper  BroadcastEndpoint
}

func (o *JoinScanOp) Tag() Tag        { return JoinScan }
func (o *JoinScanOp) NumInputs() int  { return 1 }
func (o *JoinScanOp) NumOutputs() int { return 1 }
func (o *JoinScanOp) String() string {
	if o.SourceExchange != InvalidExchangeID {
		return fmt.Sprintf("join_scan(%s, X%d, lower=%s, upper=%s, cond=%s)", o.Kind, o.SourceExchange, o.ExchangeLower, o.ExchangeUpper, o.Condition)
	}
	return fmt.Sprintf("join_scan(%s, %s, lower=%s, upper=%s, cond=%s)", o.Kind, o.Index.Name(), o.Lower, o.Upper, o.Condition)
}

// AggregateRelationOp groups by GroupKeys and computes Aggregations. 1
// input, 1 output.
type AggregateRelationOp struct {
	GroupKeys    []*bind.Descriptor
	Aggregations []AggDecl
}

func (o *AggregateRelationOp) Tag() Tag        { return AggregateRelation }
func (o *AggregateRelationOp) NumInputs() int  { return 1 }
func (o *AggregateRelationOp) NumOutputs() int { return 1 }
func (o *AggregateRelationOp) String() string {
	return fmt.Sprintf("aggregate(keys=[%s], aggs=[%s])", varsString(o.GroupKeys), aggDeclsString(o.Aggregations))
}

// DistinctRelationOp removes duplicate rows by GroupKeys (all visible
// columns). 1 input, 1 output.
type DistinctRelationOp struct {
	GroupKeys []*bind.Descriptor
}

func (o *DistinctRelationOp) Tag() Tag        { return DistinctRelation }
func (o *DistinctRelationOp) NumInputs() int  { return 1 }
func (o *DistinctRelationOp) NumOutputs() int { return 1 }
func (o *DistinctRelationOp) String() string  { return fmt.Sprintf("distinct(keys=[%s])", varsString(o.GroupKeys)) }

// LimitRelationOp caps the input to N rows, optionally grouped and
// sorted. 1 input, 1 output.
type LimitRelationOp struct {
	GroupKeys []*bind.Descriptor
	SortKeys  []SortKey
	N         int
}

func (o *LimitRelationOp) Tag() Tag        { return LimitRelation }
func (o *LimitRelationOp) NumInputs() int  { return 1 }
func (o *LimitRelationOp) NumOutputs() int { return 1 }
func (o *LimitRelationOp) String() string {
	return fmt.Sprintf("limit(%d, keys=[%s])", o.N, varsString(o.GroupKeys))
}

// UnionOp concatenates its inputs (optionally deduplicating). Inputs
// are dynamic in number (2..N), 1 output.
type UnionOp struct {
	All     bool
	Dest    []*bind.Descriptor
	Sources [][]*bind.Descriptor // one slice per input, parallel to Dest
}

func NewUnionOp(all bool, dest []*bind.Descriptor, sources [][]*bind.Descriptor) *UnionOp {
	return &UnionOp{All: all, Dest: dest, Sources: sources}
}

func (o *UnionOp) Tag() Tag        { return Union }
func (o *UnionOp) NumInputs() int  { return len(o.Sources) }
func (o *UnionOp) NumOutputs() int { return 1 }
func (o *UnionOp) String() string {
	return fmt.Sprintf("union(all=%v, dest=[%s])", o.All, varsString(o.Dest))
}

// IntersectionOp keeps rows present (by paired group keys) on both
// inputs. 2 inputs, 1 output.
type IntersectionOp struct {
	LeftKeys, RightKeys []*bind.Descriptor
}

func (o *IntersectionOp) Tag() Tag        { return Intersection }
func (o *IntersectionOp) NumInputs() int  { return 2 }
func (o *IntersectionOp) NumOutputs() int { return 1 }
func (o *IntersectionOp) String() string {
	return fmt.Sprintf("intersection(left=[%s], right=[%s])", varsString(o.LeftKeys), varsString(o.RightKeys))
}

// DifferenceOp keeps left-input rows (by paired group keys) absent from
// the right input. 2 inputs, 1 output.
type DifferenceOp struct {
	LeftKeys, RightKeys []*bind.Descriptor
}

func (o *DifferenceOp) Tag() Tag        { return Difference }
func (o *DifferenceOp) NumInputs() int  { return 2 }
func (o *DifferenceOp) NumOutputs() int { return 1 }
func (o *DifferenceOp) String() string {
	return fmt.Sprintf("difference(left=[%s], right=[%s])", varsString(o.LeftKeys), varsString(o.RightKeys))
}

// EscapeOp renames its input's stream variables and acts as a flow
// -trace separator (spec §3.4: "terminates the search ... because it
// renames variables"). 1 input, 1 output.
type EscapeOp struct {
	Columns []ColumnMap
}

func (o *EscapeOp) Tag() Tag        { return Escape }
func (o *EscapeOp) NumInputs() int  { return 1 }
func (o *EscapeOp) NumOutputs() int { return 1 }
func (o *EscapeOp) String() string  { return fmt.Sprintf("escape(%s)", colMapsString(o.Columns)) }

// EmitOp is a terminal operator producing the plan's result rows. 1
// input, 0 outputs.
type EmitOp struct {
	Sources []*bind.Descriptor
}

func (o *EmitOp) Tag() Tag        { return Emit }
func (o *EmitOp) NumInputs() int  { return 1 }
func (o *EmitOp) NumOutputs() int { return 0 }
func (o *EmitOp) String() string  { return fmt.Sprintf("emit(%s)", varsString(o.Sources)) }

// WriteOp is a terminal operator writing rows into a table. 1 input, 0
// outputs.
type WriteOp struct {
	Target       *catalog.Relation
	KeyColumns   []*bind.Descriptor
	ValueColumns []*bind.Descriptor
}

func (o *WriteOp) Tag() Tag        { return Write }
func (o *WriteOp) NumInputs() int  { return 1 }
func (o *WriteOp) NumOutputs() int { return 0 }
func (o *WriteOp) String() string {
	return fmt.Sprintf("write(%s, keys=[%s], values=[%s])", o.Target.Name(), varsString(o.KeyColumns), varsString(o.ValueColumns))
}
