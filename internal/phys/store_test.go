package phys

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestStoreAddGet(t *testing.T) {
	s := NewStore()
	body := NewRigidBody(mgl32.Vec3{1, 2, 3}, 1, 0.5)
	idx := s.Add(body)

	if got := s.Get(idx); got != Object(body) {
		t.Error("Get did not return the stored object")
	}
	if s.Count() != 1 || s.Len() != 1 {
		t.Errorf("count=%d len=%d after one add", s.Count(), s.Len())
	}
}

func TestStoreRemoveTombstones(t *testing.T) {
	s := NewStore()
	a := s.Add(bodyAt(0))
	b := s.Add(bodyAt(1))

	if !s.Remove(a) {
		t.Fatal("remove of live index failed")
	}
	if s.Get(a) != nil {
		t.Error("removed slot still returns an object")
	}
	if s.Valid(a) {
		t.Error("removed slot reported valid")
	}
	// Len keeps the slot for stable iteration; Count drops it.
	if s.Len() != 2 || s.Count() != 1 {
		t.Errorf("len=%d count=%d after remove", s.Len(), s.Count())
	}
	if !s.Valid(b) {
		t.Error("unrelated slot invalidated by remove")
	}

	if s.Remove(a) {
		t.Error("double remove reported success")
	}
	if s.Remove(99) {
		t.Error("out-of-range remove reported success")
	}
}

func TestStoreIndexRecycling(t *testing.T) {
	s := NewStore()
	a := s.Add(bodyAt(0))
	s.Add(bodyAt(1))
	s.Remove(a)

	c := s.Add(bodyAt(2))
	if c != a {
		t.Errorf("expected freed index %d to be recycled, got %d", a, c)
	}
	if s.Len() != 2 {
		t.Errorf("recycling should not grow the slot array, len=%d", s.Len())
	}
}

func TestStoreGetOutOfRange(t *testing.T) {
	s := NewStore()
	if s.Get(-1) != nil || s.Get(0) != nil {
		t.Error("out-of-range Get should return nil")
	}
}
