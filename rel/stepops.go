package rel

import (
	"fmt"

	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/scalar"
)

// ExchangeID addresses an exchange step in the owning step graph
// (defined in package stepplan). It is carried here, rather than a
// pointer, so operator payloads stay serializable-shaped and so package
// rel does not need to import stepplan.
type ExchangeID int32

const InvalidExchangeID ExchangeID = -1

// TakeFlatOp reads an unordered exchange's rows into a process. 0
// inputs, 1 output.
type TakeFlatOp struct {
	Exchange ExchangeID
	Columns  []ColumnMap
}

func (o *TakeFlatOp) Tag() Tag        { return TakeFlat }
func (o *TakeFlatOp) NumInputs() int  { return 0 }
func (o *TakeFlatOp) NumOutputs() int { return 1 }
func (o *TakeFlatOp) String() string {
	return fmt.Sprintf("take_flat(X%d, cols={%s})", o.Exchange, colMapsString(o.Columns))
}

// TakeGroupOp reads a single grouped exchange's rows into a process,
// one group at a time. 0 inputs, 1 output.
type TakeGroupOp struct {
	Exchange ExchangeID
	Columns  []ColumnMap
}

func (o *TakeGroupOp) Tag() Tag        { return TakeGroup }
func (o *TakeGroupOp) NumInputs() int  { return 0 }
func (o *TakeGroupOp) NumOutputs() int { return 1 }
func (o *TakeGroupOp) String() string {
	return fmt.Sprintf("take_group(X%d, cols={%s})", o.Exchange, colMapsString(o.Columns))
}

// CogroupSide is one side of a TakeCogroupOp.
type CogroupSide struct {
	Exchange ExchangeID
	Columns  []ColumnMap
}

// TakeCogroupOp reads two grouped exchanges, matched key group by key
// group, into a process. 0 inputs, 1 output. By convention (spec §9
// open questions) the first entry in Groups is the left input.
type TakeCogroupOp struct {
	Groups []CogroupSide
}

func (o *TakeCogroupOp) Tag() Tag        { return TakeCogroup }
func (o *TakeCogroupOp) NumInputs() int  { return 0 }
func (o *TakeCogroupOp) NumOutputs() int { return 1 }
func (o *TakeCogroupOp) String() string {
	return fmt.Sprintf("take_cogroup(%d groups)", len(o.Groups))
}

// OfferOp writes a process's rows into an exchange. 1 input, 0 outputs.
// Empty Columns means "allocate an exchange column for every currently
// available stream variable" (spec §4.D.4).
type OfferOp struct {
	Exchange ExchangeID
	Columns  []ColumnMap
}

func (o *OfferOp) Tag() Tag        { return Offer }
func (o *OfferOp) NumInputs() int  { return 1 }
func (o *OfferOp) NumOutputs() int { return 0 }
func (o *OfferOp) String() string {
	return fmt.Sprintf("offer(X%d, cols={%s})", o.Exchange, colMapsString(o.Columns))
}

// JoinGroupOp (step-join) combines matched cogroup rows. 1 input, 1
// output.
type JoinGroupOp struct {
	Kind      JoinKind
	Condition scalar.Expr
}

func (o *JoinGroupOp) Tag() Tag        { return JoinGroup }
func (o *JoinGroupOp) NumInputs() int  { return 1 }
func (o *JoinGroupOp) NumOutputs() int { return 1 }
func (o *JoinGroupOp) String() string  { return fmt.Sprintf("join_group(%s, %s)", o.Kind, o.Condition) }

// AggregateGroupOp (step-aggregate) computes aggregations within a
// single take_group's groups. 1 input, 1 output.
type AggregateGroupOp struct {
	GroupKeys    []*bind.Descriptor
	Aggregations []AggDecl
}

func (o *AggregateGroupOp) Tag() Tag        { return AggregateGroup }
func (o *AggregateGroupOp) NumInputs() int  { return 1 }
func (o *AggregateGroupOp) NumOutputs() int { return 1 }
func (o *AggregateGroupOp) String() string {
	return fmt.Sprintf("aggregate_group(keys=[%s], aggs=[%s])", varsString(o.GroupKeys), aggDeclsString(o.Aggregations))
}

// IntersectionGroupOp keeps the first cogroup's rows when both groups
// are non-empty. 1 input, 1 output.
type IntersectionGroupOp struct{}

func (o *IntersectionGroupOp) Tag() Tag        { return IntersectionGroup }
func (o *IntersectionGroupOp) NumInputs() int  { return 1 }
func (o *IntersectionGroupOp) NumOutputs() int { return 1 }
func (o *IntersectionGroupOp) String() string  { return "intersection_group()" }

// DifferenceGroupOp keeps the first cogroup's rows when the second
// group is empty. 1 input, 1 output.
type DifferenceGroupOp struct{}

func (o *DifferenceGroupOp) Tag() Tag        { return DifferenceGroup }
func (o *DifferenceGroupOp) NumInputs() int  { return 1 }
func (o *DifferenceGroupOp) NumOutputs() int { return 1 }
func (o *DifferenceGroupOp) String() string  { return "difference_group()" }

// FlattenOp expands a grouped stream back into a flat row stream. 1
// input, 1 output.
type FlattenOp struct{}

func (o *FlattenOp) Tag() Tag        { return Flatten }
func (o *FlattenOp) NumInputs() int  { return 1 }
func (o *FlattenOp) NumOutputs() int { return 1 }
func (o *FlattenOp) String() string  { return "flatten()" }
