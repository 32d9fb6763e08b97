package stepplan

import (
	"github.com/brindledb/planopt/planerr"
	"github.com/brindledb/planopt/rel"
)

// linkSteps implements spec §4.D.3: wire every process step to the
// exchanges its operators consume (take_*, or a join_find/join_scan
// probing a broadcast exchange) and produce (offer), deduplicating
// repeated references to the same exchange.
func linkSteps(b *buildCtx) error {
	for _, step := range b.graph.Steps() {
		if step.Tag() != rel.Process {
			continue
		}
		linkedUp := make(map[StepID]bool)
		linkedDown := make(map[StepID]bool)
		for _, n := range step.Ops.Nodes() {
			var consumes []rel.ExchangeID
			var produces []rel.ExchangeID
			switch op := n.Op().(type) {
			case *rel.TakeFlatOp:
				consumes = append(consumes, op.Exchange)
			case *rel.TakeGroupOp:
				consumes = append(consumes, op.Exchange)
			case *rel.TakeCogroupOp:
				for _, grp := range op.Groups {
					consumes = append(consumes, grp.Exchange)
				}
			case *rel.JoinFindOp:
				if op.SourceExchange != rel.InvalidExchangeID {
					consumes = append(consumes, op.SourceExchange)
				}
			case *rel.JoinScanOp:
				if op.SourceExchange != rel.InvalidExchangeID {
					consumes = append(consumes, op.SourceExchange)
				}
			case *rel.OfferOp:
				produces = append(produces, op.Exchange)
			default:
				if n.Tag().Category() == rel.CategoryIntermediate {
					switch n.Tag() {
					case rel.Find, rel.Scan, rel.Values, rel.Project, rel.Filter,
						rel.Buffer, rel.Identify, rel.Escape, rel.Emit, rel.Write:
					default:
						return planerr.ErrDomainViolation.New("intermediate-only operator " + n.Tag().String() + " survived exchange collection")
					}
				}
			}
			for _, id := range consumes {
				x, err := b.exchangeStep(id)
				if err != nil {
					return err
				}
				if linkedUp[x.ID()] {
					continue
				}
				linkedUp[x.ID()] = true
				b.graph.link(x, step)
			}
			for _, id := range produces {
				x, err := b.exchangeStep(id)
				if err != nil {
					return err
				}
				if linkedDown[x.ID()] {
					continue
				}
				linkedDown[x.ID()] = true
				b.graph.link(step, x)
			}
		}
	}
	return nil
}
