package optimizer

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"

	"github.com/brindledb/planopt/bind"
	"github.com/brindledb/planopt/planerr"
	"github.com/brindledb/planopt/rel"
)

// PassStats counts what one pass changed, for observability (spec §1
// table's per-pass weighting is about implementation effort, not
// runtime stats, but a real embedding wants to know what each pass
// actually did to a given plan).
type PassStats struct {
	Name        string
	NodesVisited int
	NodesChanged int
}

// Report summarizes one optimizer.Run invocation: per-pass stats plus
// any non-fatal diagnostics accumulated along the way (e.g. a dangling
// stream-variable warning that the embedding chooses to tolerate rather
// than fail on).
type Report struct {
	Passes      []PassStats
	Diagnostics *multierror.Error
}

// Run executes the seven fixed passes, in order, over g, mutating it in
// place (spec §4.B, §6.1). It returns a Report describing what each
// pass did, and a fatal error if any pass hit a condition in planerr's
// taxonomy (spec §7). Diagnostics that are not fatal are collected in
// the Report's Diagnostics and, once every pass has run, also returned
// as the combined error.
func Run(ctx context.Context, g *rel.Graph, factory *bind.Factory, opts Options) (*Report, error) {
	span, spanCtx := opentracing.StartSpanFromContext(ctx, "optimizer.Run")
	defer span.Finish()

	log := logrus.WithField("component", "optimizer")
	rc := &runCtx{graph: g, opts: opts, factory: factory, report: &Report{}}

	passes := []struct {
		name string
		fn   func(*runCtx) (PassStats, error)
	}{
		{"remove_redundant_stream_variables", runRemoveRedundantStreamVariables},
		{"collect_local_variables", runCollectLocalVariables},
		{"push_down_selections", runPushDownSelections},
		{"rewrite_scan", runRewriteScan},
		{"rewrite_join", runRewriteJoin},
		{"collect_join_keys", runCollectJoinKeys},
		{"remove_redundant_conditions", runRemoveRedundantConditions},
	}

	for _, p := range passes {
		passSpan, _ := opentracing.StartSpanFromContext(spanCtx, "optimizer.pass."+p.name)
		stats, err := p.fn(rc)
		passSpan.Finish()
		if err != nil {
			log.WithError(err).WithField("pass", p.name).Error("optimizer pass failed")
			return rc.report, planerr.Wrap(err, "pass "+p.name)
		}
		log.WithFields(logrus.Fields{
			"pass":    p.name,
			"visited": stats.NodesVisited,
			"changed": stats.NodesChanged,
		}).Debug("optimizer pass complete")
		rc.report.Passes = append(rc.report.Passes, stats)
	}

	return rc.report, rc.report.Diagnostics.ErrorOrNil()
}

// warn appends a non-fatal diagnostic to the run's report.
func (rc *runCtx) warn(err error) {
	rc.report.Diagnostics = multierror.Append(rc.report.Diagnostics, err)
}
