package phys

// Store is the arena that owns every physics object. All other components
// refer to objects by the integer index returned from Add; indices stay
// stable for the lifetime of the object because removal tombstones the slot
// and recycles it through a free list instead of shifting the slice.
//
// The store itself is not synchronized: the world's pipeline guarantees that
// only one stage touches it at a time, and parallel stages partition the
// index space into disjoint slices.
type Store struct {
	slots []Object // nil = tombstone
	free  []int
	count int
}

// NewStore returns an empty store.
func NewStore() *Store { return &Store{} }

// Add inserts an object and returns its index.
func (s *Store) Add(obj Object) int {
	s.count++
	if n := len(s.free); n > 0 {
		idx := s.free[n-1]
		s.free = s.free[:n-1]
		s.slots[idx] = obj
		return idx
	}
	s.slots = append(s.slots, obj)
	return len(s.slots) - 1
}

// Remove tombstones the slot at idx. The index is recycled by a later Add.
func (s *Store) Remove(idx int) bool {
	if idx < 0 || idx >= len(s.slots) || s.slots[idx] == nil {
		return false
	}
	s.slots[idx] = nil
	s.free = append(s.free, idx)
	s.count--
	return true
}

// Get returns the object at idx, or nil for a removed or out-of-range index.
func (s *Store) Get(idx int) Object {
	if idx < 0 || idx >= len(s.slots) {
		return nil
	}
	return s.slots[idx]
}

// Valid reports whether idx names a live object.
func (s *Store) Valid(idx int) bool {
	return idx >= 0 && idx < len(s.slots) && s.slots[idx] != nil
}

// Len is the slot count including tombstones; iteration over [0, Len) with a
// nil check visits every live object at a stable index.
func (s *Store) Len() int { return len(s.slots) }

// Count is the number of live objects.
func (s *Store) Count() int { return s.count }
