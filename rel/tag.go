package rel

// Tag discriminates an operator's role (spec §3.1). The three disjoint
// categories — intermediate, step-plan operator, step — share one
// numbering so a pass can tag-switch without caring which category it
// is inspecting; Category reports which one a given Tag belongs to.
type Tag int

const (
	// Intermediate (pre-optimization) operators.
	Find Tag = iota
	Scan
	Values
	Project
	Filter
	Buffer
	Identify
	JoinRelation
	JoinFind
	JoinScan
	AggregateRelation
	DistinctRelation
	LimitRelation
	Union
	Intersection
	Difference
	Escape
	Emit
	Write

	// Step-plan operators (process contents, beyond the shared
	// find/scan/filter/project/buffer/identify/emit/write/values/
	// join_find/join_scan above).
	TakeFlat
	TakeGroup
	TakeCogroup
	Offer
	JoinGroup
	AggregateGroup
	IntersectionGroup
	DifferenceGroup
	Flatten

	// Steps (top level of the step plan).
	Process
	Forward
	GroupStep
	AggregateStep
	Broadcast
	Discard
)

type Category int

const (
	CategoryIntermediate Category = iota
	CategoryStepOperator
	CategoryStep
)

func (t Tag) Category() Category {
	switch t {
	case Process, Forward, GroupStep, AggregateStep, Broadcast, Discard:
		return CategoryStep
	case TakeFlat, TakeGroup, TakeCogroup, Offer, JoinGroup, AggregateGroup,
		IntersectionGroup, DifferenceGroup, Flatten:
		return CategoryStepOperator
	default:
		return CategoryIntermediate
	}
}

func (t Tag) String() string {
	switch t {
	case Find:
		return "find"
	case Scan:
		return "scan"
	case Values:
		return "values"
	case Project:
		return "project"
	case Filter:
		return "filter"
	case Buffer:
		return "buffer"
	case Identify:
		return "identify"
	case JoinRelation:
		return "join_relation"
	case JoinFind:
		return "join_find"
	case JoinScan:
		return "join_scan"
	case AggregateRelation:
		return "aggregate_relation"
	case DistinctRelation:
		return "distinct_relation"
	case LimitRelation:
		return "limit_relation"
	case Union:
		return "union"
	case Intersection:
		return "intersection"
	case Difference:
		return "difference"
	case Escape:
		return "escape"
	case Emit:
		return "emit"
	case Write:
		return "write"
	case TakeFlat:
		return "take_flat"
	case TakeGroup:
		return "take_group"
	case TakeCogroup:
		return "take_cogroup"
	case Offer:
		return "offer"
	case JoinGroup:
		return "join_group"
	case AggregateGroup:
		return "aggregate_group"
	case IntersectionGroup:
		return "intersection_group"
	case DifferenceGroup:
		return "difference_group"
	case Flatten:
		return "flatten"
	case Process:
		return "process"
	case Forward:
		return "forward"
	case GroupStep:
		return "group"
	case AggregateStep:
		return "aggregate"
	case Broadcast:
		return "broadcast"
	case Discard:
		return "discard"
	default:
		return "?tag?"
	}
}

// Operator is the payload of a Node: each concrete type owns the fields
// specific to its Tag.
type Operator interface {
	Tag() Tag
	NumInputs() int
	NumOutputs() int
	String() string
}
