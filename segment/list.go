package segment

import "github.com/benbjohnson/immutable"

// List is an immutable, address-ordered collection of segments. A region
// publishes a *List through an atomic.Value on every mutation (alloc,
// free); readers load the current *List without taking any lock, per
// spec.md §5's "lock-free ordered list" option. Insert and Remove return a
// new List, leaving the receiver untouched, so a writer under the region's
// list mutex can build up a new snapshot while readers keep observing the
// last published one.
type List struct {
	m *immutable.SortedMap[uint64, *Segment]
}

// NewList returns an empty segment list.
func NewList() *List {
	return &List{m: &immutable.SortedMap[uint64, *Segment]{}}
}

// Insert returns a new List with seg inserted, ordered by its base address.
// Base addresses are always disjoint because the region's bump allocator
// never reissues an address, so this never overwrites an existing entry.
func (l *List) Insert(seg *Segment) *List {
	return &List{m: l.m.Set(seg.Base, seg)}
}

// Remove returns a new List with the segment based at base removed.
func (l *List) Remove(base uint64) *List {
	return &List{m: l.m.Delete(base)}
}

// Find locates the segment whose [Base, End) range contains addr. The
// segment list is address-ordered; a linear scan suffices (spec.md §4.2)
// and segment counts per region are small relative to word counts, so the
// iteration cost is negligible next to the per-word lock traffic it guards.
func (l *List) Find(addr uint64) (*Segment, bool) {
	it := l.m.Iterator()
	for !it.Done() {
		_, seg, ok := it.Next()
		if !ok {
			continue
		}
		if seg.Contains(addr) {
			return seg, true
		}
		if seg.Base > addr {
			break
		}
	}
	return nil, false
}

// Segments returns every segment in ascending base-address order.
func (l *List) Segments() []*Segment {
	out := make([]*Segment, 0, l.m.Len())
	it := l.m.Iterator()
	for !it.Done() {
		_, seg, ok := it.Next()
		if ok {
			out = append(out, seg)
		}
	}
	return out
}

// Len returns the number of segments in the list.
func (l *List) Len() int {
	return l.m.Len()
}
