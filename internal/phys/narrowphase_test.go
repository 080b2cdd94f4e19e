package phys

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestSeparatedBoxesNoManifold(t *testing.T) {
	a := NewRigidBody(mgl32.Vec3{0, 0, 0}, 1, 1)
	b := NewRigidBody(mgl32.Vec3{5, 0, 0}, 1, 1)
	if m := DetectCollision(a, b, 4); m != nil {
		t.Errorf("separated boxes produced manifold %+v", m)
	}
}

func TestOverlappingBoxesManifold(t *testing.T) {
	a := NewRigidBody(mgl32.Vec3{0, 0, 0}, 1, 1)
	b := NewRigidBody(mgl32.Vec3{1.5, 0, 0}, 1, 1)
	m := DetectCollision(a, b, 4)
	if m == nil {
		t.Fatal("overlapping boxes produced no manifold")
	}
	approx(t, m.Penetration, 0.5, 1e-5, "penetration")
	approx(t, m.Normal.Len(), 1, 1e-5, "normal length")
	// Normal points from b toward a, pushing a in -x.
	if m.Normal.X() >= 0 {
		t.Errorf("normal should push first box away along -x, got %v", m.Normal)
	}
	if len(m.Contacts) == 0 || len(m.Contacts) > 4 {
		t.Errorf("contact count %d outside (0, 4]", len(m.Contacts))
	}
}

func TestRotatedBoxesSAT(t *testing.T) {
	a := NewRigidBody(mgl32.Vec3{0, 0, 0}, 1, 1)
	b := NewRigidBody(mgl32.Vec3{2.3, 0, 0}, 1, 1)
	// Rotate 45 degrees about z: the corner now reaches sqrt(2) along x.
	b.Orientation = mgl32.QuatRotate(mgl32.DegToRad(45), mgl32.Vec3{0, 0, 1})

	if m := DetectCollision(a, b, 4); m == nil {
		t.Error("rotated box corner should overlap the unit box")
	}

	// At 2.3 separation axis-aligned boxes would not touch.
	c := NewRigidBody(mgl32.Vec3{2.3, 0, 0}, 1, 1)
	if m := DetectCollision(a, c, 4); m != nil {
		t.Errorf("axis-aligned boxes at 2.3 should not touch, got %+v", m)
	}
}

func TestPointInTetrahedron(t *testing.T) {
	t0 := mgl32.Vec3{0, 0, 0}
	t1 := mgl32.Vec3{1, 0, 0}
	t2 := mgl32.Vec3{0, 1, 0}
	t3 := mgl32.Vec3{0, 0, 1}

	if _, _, inside := pointInTetrahedron(mgl32.Vec3{0.1, 0.1, 0.1}, t0, t1, t2, t3); !inside {
		t.Error("interior point reported outside")
	}
	if _, _, inside := pointInTetrahedron(mgl32.Vec3{0.5, 0.5, 0.5}, t0, t1, t2, t3); inside {
		t.Error("point beyond the diagonal face reported inside")
	}
	if _, _, inside := pointInTetrahedron(mgl32.Vec3{-0.1, 0.1, 0.1}, t0, t1, t2, t3); inside {
		t.Error("point outside a face reported inside")
	}

	depth, _, inside := pointInTetrahedron(mgl32.Vec3{0.25, 0.25, 0.01}, t0, t1, t2, t3)
	if !inside {
		t.Fatal("near-base point reported outside")
	}
	approx(t, depth, 0.01, 1e-4, "penetration depth above base face")
}

func TestRigidSoftContact(t *testing.T) {
	rigid := NewRigidBody(mgl32.Vec3{0, 0, 0}, 1, 1)
	// Small cube nearest the +x face so its embedded particles all escape
	// through that face.
	positions, tets := CubeLattice(mgl32.Vec3{1.2, 0, 0}, 1)
	soft := NewDeformableBody(positions, tets, 1)

	m := DetectCollision(rigid, soft, 4)
	if m == nil {
		t.Fatal("expected rigid-soft manifold")
	}
	// Normal points from the soft body (second) toward the rigid body.
	if m.Normal.X() >= 0 {
		t.Errorf("normal should point toward the rigid body in -x, got %v", m.Normal)
	}

	// Argument order swap flips the normal.
	m2 := DetectCollision(soft, rigid, 4)
	if m2 == nil {
		t.Fatal("expected soft-rigid manifold")
	}
	if m2.Normal.X() <= 0 {
		t.Errorf("swapped order should flip the normal, got %v", m2.Normal)
	}
}

func TestSoftSoftContact(t *testing.T) {
	posA, tets := CubeLattice(mgl32.Vec3{0, 0, 0}, 2)
	posB, tetsB := CubeLattice(mgl32.Vec3{1.2, 0.3, 0.2}, 1)
	a := NewDeformableBody(posA, tets, 1)
	b := NewDeformableBody(posB, tetsB, 1)

	if m := DetectCollision(a, b, 4); m == nil {
		t.Error("expected soft-soft manifold for interpenetrating cubes")
	}

	far, _ := CubeLattice(mgl32.Vec3{10, 0, 0}, 2)
	c := NewDeformableBody(far, tets, 1)
	if m := DetectCollision(a, c, 4); m != nil {
		t.Errorf("distant soft bodies produced manifold %+v", m)
	}
}

func TestReduceContactsPreservesSpread(t *testing.T) {
	candidates := []mgl32.Vec3{
		{0, 0, 0}, {0.1, 0, 0}, {0.2, 0, 0},
		{10, 0, 0}, {0, 10, 0}, {10, 10, 0},
	}
	kept := reduceContacts(candidates, 4)
	if len(kept) != 4 {
		t.Fatalf("expected 4 contacts, got %d", len(kept))
	}
	// The three far-flung points must survive clustering.
	for _, want := range []mgl32.Vec3{{10, 0, 0}, {0, 10, 0}, {10, 10, 0}} {
		found := false
		for _, k := range kept {
			if k == want {
				found = true
			}
		}
		if !found {
			t.Errorf("spread-preserving reduction dropped %v", want)
		}
	}
}

func TestReduceContactsUnderLimit(t *testing.T) {
	candidates := []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}}
	kept := reduceContacts(candidates, 4)
	if len(kept) != 2 {
		t.Errorf("reduction should pass small sets through, got %d", len(kept))
	}
}
