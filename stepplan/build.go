package stepplan

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"

	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/optimizer"
	"github.com/brindledb/planopt/planerr"
	"github.com/brindledb/planopt/rel"
)

// buildCtx threads the source graph, descriptor factory, options, the
// step graph under construction, and the in-progress diagnostic report
// through every phase (mirrors optimizer.runCtx).
type buildCtx struct {
	src     *rel.Graph
	factory *bind.Factory
	opts    optimizer.Options

	graph       *StepGraph
	diagnostics *multierror.Error
}

func (b *buildCtx) warn(err error) {
	b.diagnostics = multierror.Append(b.diagnostics, err)
}

// Build runs the step-plan builder's five phases, in order, over src
// (already rewritten by optimizer.Run), producing a StepGraph (spec
// §4.D). It returns a fatal error if any phase hit a planerr condition;
// non-fatal diagnostics (e.g. a dangling stream-variable reference) are
// folded into the returned error via multierror, same as optimizer.Run.
func Build(ctx context.Context, src *rel.Graph, factory *bind.Factory, opts optimizer.Options) (*StepGraph, error) {
	span, spanCtx := opentracing.StartSpanFromContext(ctx, "stepplan.Build")
	defer span.Finish()

	log := logrus.WithField("component", "stepplan")
	b := &buildCtx{
		src:     src,
		factory: factory,
		opts:    opts,
		graph:   newStepGraph(),
	}

	phases := []struct {
		name string
		fn   func(*buildCtx) error
	}{
		{"collect_exchange_steps", collectExchangeSteps},
		{"collect_process_steps", collectProcessSteps},
		{"link_steps", linkSteps},
		{"collect_exchange_columns", collectExchangeColumns},
		{"rewrite_stream_variables", rewriteStreamVariables},
	}

	for _, p := range phases {
		phaseSpan, _ := opentracing.StartSpanFromContext(spanCtx, "stepplan.phase."+p.name)
		err := p.fn(b)
		phaseSpan.Finish()
		if err != nil {
			log.WithError(err).WithField("phase", p.name).Error("step-plan phase failed")
			return b.graph, planerr.Wrap(err, "phase "+p.name)
		}
		log.WithField("phase", p.name).Debug("step-plan phase complete")
	}

	return b.graph, b.diagnostics.ErrorOrNil()
}
