package bind

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// ColSet is a compact set of descriptor ordinals, backed by a Roaring
// bitmap.
type ColSet struct {
	bm *roaring.Bitmap
}

func NewColSet(ds ...*Descriptor) ColSet {
	cs := ColSet{bm: roaring.New()}
	for _, d := range ds {
		cs.Add(d)
	}
	return cs
}

func (c *ColSet) ensure() {
	if c.bm == nil {
		c.bm = roaring.New()
	}
}

func (c *ColSet) Add(d *Descriptor) {
	c.ensure()
	c.bm.Add(uint32(d.ID()))
}

func (c *ColSet) Remove(d *Descriptor) {
	if c.bm == nil {
		return
	}
	c.bm.Remove(uint32(d.ID()))
}

func (c ColSet) Contains(d *Descriptor) bool {
	if c.bm == nil {
		return false
	}
	return c.bm.Contains(uint32(d.ID()))
}

// ContainsAll reports whether every descriptor in ds is a member.
func (c ColSet) ContainsAll(ds []*Descriptor) bool {
	for _, d := range ds {
		if !c.Contains(d) {
			return false
		}
	}
	return true
}

func (c ColSet) Len() int {
	if c.bm == nil {
		return 0
	}
	return int(c.bm.GetCardinality())
}

func (c ColSet) Union(o ColSet) ColSet {
	out := ColSet{bm: roaring.New()}
	if c.bm != nil {
		out.bm.Or(c.bm)
	}
	if o.bm != nil {
		out.bm.Or(o.bm)
	}
	return out
}

func (c ColSet) Intersect(o ColSet) ColSet {
	out := ColSet{bm: roaring.New()}
	if c.bm != nil && o.bm != nil {
		out.bm.Or(c.bm)
		out.bm.And(o.bm)
	}
	return out
}

func (c ColSet) Clone() ColSet {
	out := ColSet{bm: roaring.New()}
	if c.bm != nil {
		out.bm.Or(c.bm)
	}
	return out
}

func (c ColSet) Empty() bool {
	return c.bm == nil || c.bm.IsEmpty()
}
