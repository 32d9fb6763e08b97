package catalog

import "github.com/brindledb/planopt/planerr"

// Sequence is a name plus int64 generation attributes (spec §3.3).
// Constraints min <= initial <= max and increment != 0 are enforced at
// construction.
type Sequence struct {
	name      string
	initial   int64
	increment int64
	min       int64
	max       int64
	cycle     bool
	owner     *Provider
}

func NewSequence(name string, initial, increment, min, max int64, cycle bool) (*Sequence, error) {
	if increment == 0 {
		return nil, planerr.ErrArgumentViolation.New("sequence " + name + ": increment must be non-zero")
	}
	if !(min <= initial && initial <= max) {
		return nil, planerr.ErrArgumentViolation.New("sequence " + name + ": require min <= initial <= max")
	}
	return &Sequence{name: name, initial: initial, increment: increment, min: min, max: max, cycle: cycle}, nil
}

func (s *Sequence) Name() string      { return s.name }
func (s *Sequence) Initial() int64    { return s.initial }
func (s *Sequence) Increment() int64  { return s.increment }
func (s *Sequence) Min() int64        { return s.min }
func (s *Sequence) Max() int64        { return s.max }
func (s *Sequence) Cycle() bool       { return s.cycle }
func (s *Sequence) Owner() *Provider  { return s.owner }

func (s *Sequence) bless(p *Provider) error {
	if s.owner != nil && s.owner != p {
		return planerr.ErrArgumentViolation.New("sequence " + s.name + " already owned by another provider")
	}
	s.owner = p
	return nil
}

func (s *Sequence) unbless(p *Provider) {
	if s.owner == p {
		s.owner = nil
	}
}
