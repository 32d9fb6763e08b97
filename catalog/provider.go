package catalog

import (
	"github.com/brindledb/planopt/planerr"
	uuid "github.com/satori/go.uuid"
)

// RWLocker is the mutex shape a Provider is parameterized by (spec §5:
// "providers may be parameterized by a mutex type"). *sync.RWMutex
// satisfies it directly; tests and single-threaded embeddings may
// supply a no-op implementation.
type RWLocker interface {
	Lock()
	Unlock()
	RLock()
	RUnlock()
}

// noopLocker is an RWLocker for single-threaded use (e.g. inside a pass
// that already owns exclusive access to the whole graph and catalog).
type noopLocker struct{}

func (noopLocker) Lock()    {}
func (noopLocker) Unlock()  {}
func (noopLocker) RLock()   {}
func (noopLocker) RUnlock() {}

// NoopLocker is a shared no-op RWLocker.
var NoopLocker RWLocker = noopLocker{}

// Provider is a lookup of relations, indices, and sequences by
// identifier, with an optional parent forming a stack (spec §3.3).
// find_X searches locally then delegates to the parent; each_X yields
// local entries first, then parent entries not shadowed locally.
type Provider struct {
	id     uuid.UUID
	mu     RWLocker
	parent *Provider

	relations map[string]*Relation
	indices   map[string]*Index
	sequences map[string]*Sequence
}

// NewProvider constructs a Provider with the given parent (nil for the
// root of the stack) and locker (NoopLocker if nil).
func NewProvider(parent *Provider, locker RWLocker) *Provider {
	if locker == nil {
		locker = NoopLocker
	}
	return &Provider{
		id:        uuid.NewV4(),
		mu:        locker,
		parent:    parent,
		relations: make(map[string]*Relation),
		indices:   make(map[string]*Index),
		sequences: make(map[string]*Sequence),
	}
}

// ID identifies this provider instance for log correlation only.
func (p *Provider) ID() uuid.UUID { return p.id }

func (p *Provider) Parent() *Provider { return p.parent }

// --- relations ---

func (p *Provider) FindRelation(id string) (*Relation, bool) {
	p.mu.RLock()
	r, ok := p.relations[id]
	p.mu.RUnlock()
	if ok {
		return r, true
	}
	if p.parent != nil {
		return p.parent.FindRelation(id)
	}
	return nil, false
}

// FindPrimaryIndex returns the table's primary index, if any (spec §5
// names find_primary_index explicitly as a read operation).
func (p *Provider) FindPrimaryIndex(table string) (*Index, bool) {
	var found *Index
	p.EachIndex(func(idx *Index) bool {
		if idx.Table().Name() == table && idx.Features().Has(FeaturePrimary) {
			found = idx
			return false
		}
		return true
	})
	return found, found != nil
}

// EachRelation yields local relations first, then parent relations not
// shadowed locally, stopping early if consumer returns false. The local
// entries are copied under the read lock, and the lock is released
// before consumer is called; it is not held during the walk.
func (p *Provider) EachRelation(consumer func(*Relation) bool) {
	p.mu.RLock()
	local := make(map[string]*Relation, len(p.relations))
	for k, v := range p.relations {
		local[k] = v
	}
	p.mu.RUnlock()

	for _, r := range local {
		if !consumer(r) {
			return
		}
	}
	if p.parent != nil {
		p.parent.eachRelationShadowed(local, consumer)
	}
}

func (p *Provider) eachRelationShadowed(shadow map[string]*Relation, consumer func(*Relation) bool) {
	p.mu.RLock()
	local := make(map[string]*Relation, len(p.relations))
	for k, v := range p.relations {
		if _, shadowed := shadow[k]; !shadowed {
			local[k] = v
		}
	}
	p.mu.RUnlock()
	for _, r := range local {
		if !consumer(r) {
			return
		}
	}
	if p.parent != nil {
		merged := make(map[string]*Relation, len(shadow)+len(local))
		for k, v := range shadow {
			merged[k] = v
		}
		for k, v := range local {
			merged[k] = v
		}
		p.parent.eachRelationShadowed(merged, consumer)
	}
}

// AddRelation registers a relation under id. When overwrite is false, a
// conflict with a local or parent entry is rejected (spec §7
// CatalogConflict). When the declared id disagrees with the relation's
// own name, or the relation is already owned by a different provider,
// it is an ArgumentViolation.
func (p *Provider) AddRelation(id string, r *Relation, overwrite bool) error {
	if id != r.Name() {
		return planerr.ErrArgumentViolation.New("relation id " + id + " disagrees with relation name " + r.Name())
	}
	if !overwrite {
		if _, ok := p.FindRelation(id); ok {
			return planerr.ErrCatalogConflict.New("relation " + id + " already exists")
		}
	}
	if err := r.bless(p); err != nil {
		return err
	}
	p.mu.Lock()
	p.relations[id] = r
	p.mu.Unlock()
	return nil
}

// RemoveRelation unregisters id if present locally, returning whether it
// was found. Per spec §7, removing an unknown id is not an error.
func (p *Provider) RemoveRelation(id string) bool {
	p.mu.Lock()
	r, ok := p.relations[id]
	if ok {
		delete(p.relations, id)
	}
	p.mu.Unlock()
	if ok {
		r.unbless(p)
	}
	return ok
}

// --- indices ---

func (p *Provider) FindIndex(id string) (*Index, bool) {
	p.mu.RLock()
	idx, ok := p.indices[id]
	p.mu.RUnlock()
	if ok {
		return idx, true
	}
	if p.parent != nil {
		return p.parent.FindIndex(id)
	}
	return nil, false
}

// IndicesFor returns every index (local, then non-shadowed parent) whose
// Table().Name() matches table — the enumeration scan/join rewrite uses
// to evaluate index candidates.
func (p *Provider) IndicesFor(table string) []*Index {
	var out []*Index
	p.EachIndex(func(idx *Index) bool {
		if idx.Table().Name() == table {
			out = append(out, idx)
		}
		return true
	})
	return out
}

func (p *Provider) EachIndex(consumer func(*Index) bool) {
	p.mu.RLock()
	local := make(map[string]*Index, len(p.indices))
	for k, v := range p.indices {
		local[k] = v
	}
	p.mu.RUnlock()

	for _, idx := range local {
		if !consumer(idx) {
			return
		}
	}
	if p.parent != nil {
		p.parent.eachIndexShadowed(local, consumer)
	}
}

func (p *Provider) eachIndexShadowed(shadow map[string]*Index, consumer func(*Index) bool) {
	p.mu.RLock()
	local := make(map[string]*Index, len(p.indices))
	for k, v := range p.indices {
		if _, shadowed := shadow[k]; !shadowed {
			local[k] = v
		}
	}
	p.mu.RUnlock()
	for _, idx := range local {
		if !consumer(idx) {
			return
		}
	}
	if p.parent != nil {
		merged := make(map[string]*Index, len(shadow)+len(local))
		for k, v := range shadow {
			merged[k] = v
		}
		for k, v := range local {
			merged[k] = v
		}
		p.parent.eachIndexShadowed(merged, consumer)
	}
}

func (p *Provider) AddIndex(id string, idx *Index, overwrite bool) error {
	if id != idx.Name() {
		return planerr.ErrArgumentViolation.New("index id " + id + " disagrees with index name " + idx.Name())
	}
	if !overwrite {
		if _, ok := p.FindIndex(id); ok {
			return planerr.ErrCatalogConflict.New("index " + id + " already exists")
		}
	}
	p.mu.Lock()
	p.indices[id] = idx
	p.mu.Unlock()
	return nil
}

func (p *Provider) RemoveIndex(id string) bool {
	p.mu.Lock()
	_, ok := p.indices[id]
	if ok {
		delete(p.indices, id)
	}
	p.mu.Unlock()
	return ok
}

// --- sequences ---

func (p *Provider) FindSequence(id string) (*Sequence, bool) {
	p.mu.RLock()
	s, ok := p.sequences[id]
	p.mu.RUnlock()
	if ok {
		return s, true
	}
	if p.parent != nil {
		return p.parent.FindSequence(id)
	}
	return nil, false
}

func (p *Provider) EachSequence(consumer func(*Sequence) bool) {
	p.mu.RLock()
	local := make(map[string]*Sequence, len(p.sequences))
	for k, v := range p.sequences {
		local[k] = v
	}
	p.mu.RUnlock()
	for _, s := range local {
		if !consumer(s) {
			return
		}
	}
	if p.parent != nil {
		p.parent.eachSequenceShadowed(local, consumer)
	}
}

func (p *Provider) eachSequenceShadowed(shadow map[string]*Sequence, consumer func(*Sequence) bool) {
	p.mu.RLock()
	local := make(map[string]*Sequence, len(p.sequences))
	for k, v := range p.sequences {
		if _, shadowed := shadow[k]; !shadowed {
			local[k] = v
		}
	}
	p.mu.RUnlock()
	for _, s := range local {
		if !consumer(s) {
			return
		}
	}
	if p.parent != nil {
		merged := make(map[string]*Sequence, len(shadow)+len(local))
		for k, v := range shadow {
			merged[k] = v
		}
		for k, v := range local {
			merged[k] = v
		}
		p.parent.eachSequenceShadowed(merged, consumer)
	}
}

func (p *Provider) AddSequence(id string, s *Sequence, overwrite bool) error {
	if id != s.Name() {
		return planerr.ErrArgumentViolation.New("sequence id " + id + " disagrees with sequence name " + s.Name())
	}
	if !overwrite {
		if _, ok := p.FindSequence(id); ok {
			return planerr.ErrCatalogConflict.New("sequence " + id + " already exists")
		}
	}
	if err := s.bless(p); err != nil {
		return err
	}
	p.mu.Lock()
	p.sequences[id] = s
	p.mu.Unlock()
	return nil
}

func (p *Provider) RemoveSequence(id string) bool {
	p.mu.Lock()
	s, ok := p.sequences[id]
	if ok {
		delete(p.sequences, id)
	}
	p.mu.Unlock()
	if ok {
		s.unbless(p)
	}
	return ok
}
