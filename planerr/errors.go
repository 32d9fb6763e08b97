// Package planerr defines the error taxonomy raised by every pass and
// builder in this module (spec §7). None of these kinds are recoverable
// by the core itself; they are raised to the embedding caller.
package planerr

import (
	"github.com/pkg/errors"
	kinds "gopkg.in/src-d/go-errors.v1"
)

// ErrArgumentViolation covers a catalog addition whose declared name
// disagrees with the entity's own name, an entity already owned by
// another provider, a duplicate local-variable declaration within a
// single let, or a variable descriptor of an unexpected kind.
var ErrArgumentViolation = kinds.NewKind("argument violation: %s")

// ErrDomainViolation covers a disconnected port where a pass requires
// connectivity, an intermediate-only operator surfacing in a step-plan
// walk, an unsupported operator in a pass, an aggregate/take connection
// that does not match its declared exchange kind, dangling stream
// variables after rewrite, or an asymmetric distinct union.
var ErrDomainViolation = kinds.NewKind("domain violation: %s")

// ErrCatalogConflict covers add_X(overwrite=false) against an existing
// local or parent entry.
var ErrCatalogConflict = kinds.NewKind("catalog conflict: %s")

// ErrInconsistentRewriteState covers a scan-key builder reconfigured
// after its first query, or any other rewrite-pass object used outside
// its single-query lifetime.
var ErrInconsistentRewriteState = kinds.NewKind("inconsistent rewrite state: %s")

// Wrap attaches a stack trace to an unexpected internal error (one that
// is not one of the four declared kinds above) so it can be diagnosed
// without being mistaken for a recoverable condition.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}
