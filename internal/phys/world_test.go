package phys

import (
	"errors"
	"testing"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"physengine/internal/spatial"
)

const dt = 1.0 / 60.0

func approx(t *testing.T, got, want, tol float32, what string) {
	t.Helper()
	if math32.Abs(got-want) > tol {
		t.Errorf("%s = %v, want %v (tol %v)", what, got, want, tol)
	}
}

func TestFallingBody(t *testing.T) {
	world := NewWorld(mgl32.Vec3{0, -9.81, 0})
	defer world.Close()

	idx, err := world.AddObject(NewRigidBody(mgl32.Vec3{0, 10, 0}, 1, 0.5))
	if err != nil {
		t.Fatal(err)
	}
	world.Update(dt)

	body := world.Object(idx).(*RigidBody)
	// Semi-implicit Euler: v = -9.81/60, then p = 10 + v/60.
	approx(t, body.Velocity.Y(), -0.1635, 1e-4, "velocity.y")
	approx(t, body.Position.Y(), 9.99728, 1e-4, "position.y")
}

func TestZeroGravityBodyUnchanged(t *testing.T) {
	world := NewWorld(mgl32.Vec3{})
	defer world.Close()

	idx, _ := world.AddObject(NewRigidBody(mgl32.Vec3{0, 10, 0}, 1, 0.5))
	world.Update(dt)

	body := world.Object(idx).(*RigidBody)
	if body.Velocity != (mgl32.Vec3{}) {
		t.Errorf("velocity changed with no forces: %v", body.Velocity)
	}
	if !body.Orientation.ApproxEqual(mgl32.QuatIdent()) {
		t.Errorf("orientation changed with no angular velocity: %v", body.Orientation)
	}
}

func TestZeroDtIsNoOp(t *testing.T) {
	world := NewWorld(mgl32.Vec3{0, -9.81, 0})
	defer world.Close()

	idx, _ := world.AddObject(NewRigidBody(mgl32.Vec3{0, 10, 0}, 1, 0.5))
	world.Update(0)
	world.Update(-dt)

	body := world.Object(idx).(*RigidBody)
	if body.Position.Y() != 10 || body.Velocity.Y() != 0 {
		t.Errorf("state changed on zero dt: pos %v vel %v", body.Position, body.Velocity)
	}
}

func TestStaticBodyNeverMoves(t *testing.T) {
	world := NewWorld(mgl32.Vec3{0, -9.81, 0})
	defer world.Close()

	idx, err := world.AddObject(NewRigidBody(mgl32.Vec3{0, 0, 0}, 0, 5))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		world.Update(dt)
	}
	body := world.Object(idx).(*RigidBody)
	if body.Position != (mgl32.Vec3{}) {
		t.Errorf("static body moved to %v", body.Position)
	}
}

func TestOrientationStaysNormalized(t *testing.T) {
	world := NewWorld(mgl32.Vec3{})
	defer world.Close()

	body := NewRigidBody(mgl32.Vec3{0, 10, 0}, 1, 0.5)
	body.AngularVelocity = mgl32.Vec3{3, 1, 2}
	idx, _ := world.AddObject(body)

	for i := 0; i < 120; i++ {
		world.Update(dt)
	}
	got := world.Object(idx).(*RigidBody).Orientation
	approx(t, got.Len(), 1, 1e-4, "orientation length")
}

func TestCollisionSeparatesOverlappingBodies(t *testing.T) {
	world := NewWorld(mgl32.Vec3{})
	defer world.Close()

	a, _ := world.AddObject(NewRigidBody(mgl32.Vec3{0, 0, 0}, 1, 1))
	b, _ := world.AddObject(NewRigidBody(mgl32.Vec3{1.5, 0, 0}, 1, 1))

	before := world.Object(b).(*RigidBody).Position.X() - world.Object(a).(*RigidBody).Position.X()
	for i := 0; i < 60; i++ {
		world.Update(dt)
	}
	after := world.Object(b).(*RigidBody).Position.X() - world.Object(a).(*RigidBody).Position.X()
	if after <= before {
		t.Errorf("overlapping bodies did not separate: gap %v -> %v", before, after)
	}
}

func TestDeformableFallsUnderGravity(t *testing.T) {
	world := NewWorld(mgl32.Vec3{0, -9.81, 0})
	defer world.Close()

	positions, tets := CubeLattice(mgl32.Vec3{0, 10, 0}, 2)
	idx, err := world.AddObject(NewDeformableBody(positions, tets, 1))
	if err != nil {
		t.Fatal(err)
	}
	world.Update(dt)

	body := world.Object(idx).(*DeformableBody)
	for i, p := range body.Positions {
		if p.Y() >= positions[i].Y() {
			t.Errorf("particle %d did not fall: %v", i, p.Y())
		}
		// Velocity must match the position delta.
		wantVel := (p.Y() - body.PrevPositions[i].Y()) / dt
		approx(t, body.Velocities[i].Y(), wantVel, 1e-3, "particle velocity")
	}
}

func TestAddObjectValidates(t *testing.T) {
	world := NewWorld(mgl32.Vec3{})
	defer world.Close()

	if _, err := world.AddObject(NewRigidBody(mgl32.Vec3{}, -1, 0.5)); err == nil {
		t.Error("negative mass accepted")
	}
	if _, err := world.AddObject(nil); err == nil {
		t.Error("nil object accepted")
	}
	bad := &DeformableBody{
		Positions:     []mgl32.Vec3{{0, 0, 0}},
		PrevPositions: []mgl32.Vec3{{0, 0, 0}},
		Velocities:    make([]mgl32.Vec3, 1),
		Masses:        []float32{1},
		Tetrahedra:    [][4]int{{0, 0, 0, 9}},
		Volumes:       make([]float32, 1),
	}
	if _, err := world.AddObject(bad); err == nil {
		t.Error("out-of-bounds tetrahedron index accepted")
	}
}

func TestAddConstraintValidatesReferences(t *testing.T) {
	world := NewWorld(mgl32.Vec3{})
	defer world.Close()

	a, _ := world.AddObject(NewRigidBody(mgl32.Vec3{}, 1, 0.5))
	if _, err := world.AddConstraint(NewDistance(a, 42, 1, 1)); !errors.Is(err, ErrInvalidConstraintReference) {
		t.Errorf("expected ErrInvalidConstraintReference, got %v", err)
	}
	b, _ := world.AddObject(NewRigidBody(mgl32.Vec3{1, 0, 0}, 1, 0.5))
	if _, err := world.AddConstraint(NewDistance(a, b, 1, 1)); err != nil {
		t.Errorf("valid constraint rejected: %v", err)
	}
}

func TestRemoveObjectDropsConstraints(t *testing.T) {
	world := NewWorld(mgl32.Vec3{})
	defer world.Close()

	a, _ := world.AddObject(NewRigidBody(mgl32.Vec3{}, 1, 0.5))
	b, _ := world.AddObject(NewRigidBody(mgl32.Vec3{5, 0, 0}, 1, 0.5))
	c, _ := world.AddObject(NewRigidBody(mgl32.Vec3{10, 0, 0}, 1, 0.5))
	world.AddConstraint(NewDistance(a, b, 5, 1))
	world.AddConstraint(NewDistance(b, c, 5, 1))

	world.RemoveObject(b)
	if world.ConstraintCount() != 0 {
		t.Errorf("constraints referencing removed object survived: %d", world.ConstraintCount())
	}
	if world.ObjectCount() != 2 {
		t.Errorf("expected 2 objects, got %d", world.ObjectCount())
	}
	// Updating after removal must not touch the tombstoned slot.
	world.Update(dt)
}

func TestResidualReportedInStats(t *testing.T) {
	world := NewWorld(mgl32.Vec3{})
	defer world.Close()
	if world.Relaxation != DefaultRelaxation || world.ErrorTolerance != DefaultErrorTolerance {
		t.Fatalf("solver defaults: relaxation=%v tolerance=%v",
			world.Relaxation, world.ErrorTolerance)
	}

	// Zero stiffness means the distance error never shrinks, so the
	// post-solve residual must report the full gap.
	a, _ := world.AddObject(NewRigidBody(mgl32.Vec3{}, 1, 0.5))
	b, _ := world.AddObject(NewRigidBody(mgl32.Vec3{4, 0, 0}, 1, 0.5))
	world.AddConstraint(NewDistance(a, b, 2, 0))

	world.Update(dt)
	approx(t, world.Stats().Residual, 2, 1e-4, "unsolved residual")

	// Full stiffness converges well under the default tolerance.
	solved := NewWorld(mgl32.Vec3{})
	defer solved.Close()
	a, _ = solved.AddObject(NewRigidBody(mgl32.Vec3{}, 1, 0.5))
	b, _ = solved.AddObject(NewRigidBody(mgl32.Vec3{4, 0, 0}, 1, 0.5))
	solved.AddConstraint(NewDistance(a, b, 2, 1))

	solved.Update(dt)
	if r := solved.Stats().Residual; r > solved.ErrorTolerance {
		t.Errorf("residual %v above tolerance %v after solve", r, solved.ErrorTolerance)
	}
}

func TestRelaxationSlowsConvergence(t *testing.T) {
	world := NewWorld(mgl32.Vec3{})
	defer world.Close()
	world.Iterations = 1
	world.Relaxation = 0.5

	a, _ := world.AddObject(NewRigidBody(mgl32.Vec3{}, 1, 0.5))
	b, _ := world.AddObject(NewRigidBody(mgl32.Vec3{4, 0, 0}, 1, 0.5))
	world.AddConstraint(NewDistance(a, b, 2, 1))

	world.Update(dt)
	// One half-relaxed iteration removes half of the 2-unit error.
	approx(t, world.Stats().Residual, 1, 1e-4, "residual after half-relaxed iteration")
}

func TestIndexReuseAfterRemove(t *testing.T) {
	world := NewWorld(mgl32.Vec3{})
	defer world.Close()

	a, _ := world.AddObject(NewRigidBody(mgl32.Vec3{}, 1, 0.5))
	world.RemoveObject(a)
	b, _ := world.AddObject(NewRigidBody(mgl32.Vec3{1, 0, 0}, 1, 0.5))
	if b != a {
		t.Errorf("expected freed index %d to be reused, got %d", a, b)
	}
}

func TestWorldWithMortonBroadphase(t *testing.T) {
	world := NewWorld(mgl32.Vec3{}, WithBroadphase(spatial.NewMortonHash(10)))
	defer world.Close()

	world.AddObject(NewRigidBody(mgl32.Vec3{0, 0, 0}, 1, 1))
	world.AddObject(NewRigidBody(mgl32.Vec3{1.5, 0, 0}, 1, 1))
	world.Update(dt)

	if world.Stats().Pairs != 1 {
		t.Errorf("expected 1 candidate pair, got %d", world.Stats().Pairs)
	}
	if world.Stats().Contacts == 0 {
		t.Error("overlapping bodies produced no contacts")
	}
}
