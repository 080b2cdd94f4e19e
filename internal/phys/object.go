// Package phys implements the physics simulation core: the object store,
// constraint model, broad- and narrow-phase collision detection, and the
// island-based parallel solver.
package phys

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Object is the closed set of simulated body kinds. The two variants are
// *RigidBody and *DeformableBody; everything downstream dispatches with a
// type switch.
type Object interface {
	// Bounds returns the world-space AABB of the object at its current
	// positions.
	Bounds() AABB
	// Validate checks the object's structural invariants before it enters
	// the store.
	Validate() error
}

// RigidBody is a single rigid object with a cubic oriented bounding box of
// half-extent HalfExtent.
type RigidBody struct {
	Position            mgl32.Vec3
	Velocity            mgl32.Vec3
	Acceleration        mgl32.Vec3
	Orientation         mgl32.Quat
	AngularVelocity     mgl32.Vec3
	AngularAcceleration mgl32.Vec3
	Mass                float32
	InertiaTensor       mgl32.Vec3 // diagonal, body space
	HalfExtent          float32
}

// NewRigidBody returns a body at position with the given mass and half-extent,
// identity orientation and a unit-diagonal inertia tensor.
func NewRigidBody(position mgl32.Vec3, mass, halfExtent float32) *RigidBody {
	return &RigidBody{
		Position:      position,
		Orientation:   mgl32.QuatIdent(),
		Mass:          mass,
		InertiaTensor: mgl32.Vec3{1, 1, 1},
		HalfExtent:    halfExtent,
	}
}

// Validate rejects malformed bodies. Zero mass is legal and marks the body
// static: it never integrates and has infinite effective mass in the solver.
func (rb *RigidBody) Validate() error {
	if rb.Mass < 0 {
		return fmt.Errorf("rigid body mass must be non-negative, got %v", rb.Mass)
	}
	if rb.HalfExtent <= 0 {
		return fmt.Errorf("rigid body half extent must be positive, got %v", rb.HalfExtent)
	}
	return nil
}

func (rb *RigidBody) invMass() float32 {
	if rb.Mass == 0 {
		return 0
	}
	return 1 / rb.Mass
}

// Bounds rotates the 8 box corners and folds them into an AABB.
func (rb *RigidBody) Bounds() AABB {
	min := mgl32.Vec3{math32.MaxFloat32, math32.MaxFloat32, math32.MaxFloat32}
	max := min.Mul(-1)
	for _, c := range boxCorners(rb.Position, rb.HalfExtent, rb.Orientation) {
		min = vecMin(min, c)
		max = vecMax(max, c)
	}
	return AABB{Min: min, Max: max}
}

// DeformableBody is a particle system with tetrahedral connectivity, solved
// with position-based dynamics. Positions, PrevPositions, Velocities and
// Masses are parallel arrays of equal length.
type DeformableBody struct {
	Positions     []mgl32.Vec3
	PrevPositions []mgl32.Vec3
	Velocities    []mgl32.Vec3
	Masses        []float32
	Tetrahedra    [][4]int
	RestVolume    float32
	Volumes       []float32
}

// NewDeformableBody builds a body from particle positions and tetrahedral
// connectivity, with uniform particle mass. Rest volume is taken from the
// initial configuration.
func NewDeformableBody(positions []mgl32.Vec3, tetrahedra [][4]int, particleMass float32) *DeformableBody {
	b := &DeformableBody{
		Positions:     positions,
		PrevPositions: append([]mgl32.Vec3(nil), positions...),
		Velocities:    make([]mgl32.Vec3, len(positions)),
		Masses:        make([]float32, len(positions)),
		Tetrahedra:    tetrahedra,
		Volumes:       make([]float32, len(tetrahedra)),
	}
	for i := range b.Masses {
		b.Masses[i] = particleMass
	}
	b.RestVolume = b.TotalVolume()
	return b
}

func (db *DeformableBody) Validate() error {
	n := len(db.Positions)
	if len(db.PrevPositions) != n || len(db.Velocities) != n || len(db.Masses) != n {
		return fmt.Errorf("deformable body particle arrays disagree: positions=%d prev=%d velocities=%d masses=%d",
			n, len(db.PrevPositions), len(db.Velocities), len(db.Masses))
	}
	for ti, tet := range db.Tetrahedra {
		for _, idx := range tet {
			if idx < 0 || idx >= n {
				return fmt.Errorf("tetrahedron %d references particle %d, body has %d particles", ti, idx, n)
			}
		}
	}
	if len(db.Volumes) != len(db.Tetrahedra) {
		return fmt.Errorf("volume array length %d does not match %d tetrahedra", len(db.Volumes), len(db.Tetrahedra))
	}
	return nil
}

// TotalVolume recomputes per-tetrahedron volumes and returns their sum.
// Volumes are taken unsigned so winding order in the connectivity does not
// flip the total.
func (db *DeformableBody) TotalVolume() float32 {
	var total float32
	for i, tet := range db.Tetrahedra {
		v := math32.Abs(tetVolume(db.Positions[tet[0]], db.Positions[tet[1]], db.Positions[tet[2]], db.Positions[tet[3]]))
		db.Volumes[i] = v
		total += v
	}
	return total
}

// CubeLattice returns the 8 corner particles of an axis-aligned cube around
// center together with its standard 5-tetrahedron decomposition. Useful for
// seeding simple deformable bodies.
func CubeLattice(center mgl32.Vec3, size float32) ([]mgl32.Vec3, [][4]int) {
	h := size / 2
	positions := []mgl32.Vec3{
		center.Add(mgl32.Vec3{-h, -h, -h}),
		center.Add(mgl32.Vec3{h, -h, -h}),
		center.Add(mgl32.Vec3{h, h, -h}),
		center.Add(mgl32.Vec3{-h, h, -h}),
		center.Add(mgl32.Vec3{-h, -h, h}),
		center.Add(mgl32.Vec3{h, -h, h}),
		center.Add(mgl32.Vec3{h, h, h}),
		center.Add(mgl32.Vec3{-h, h, h}),
	}
	tets := [][4]int{
		{0, 1, 2, 5},
		{0, 2, 3, 7},
		{0, 4, 5, 7},
		{2, 5, 6, 7},
		{0, 2, 5, 7},
	}
	return positions, tets
}

// Centroid is the mass-weighted center of the particle set.
func (db *DeformableBody) Centroid() mgl32.Vec3 {
	var c mgl32.Vec3
	var m float32
	for i, p := range db.Positions {
		c = c.Add(p.Mul(db.Masses[i]))
		m += db.Masses[i]
	}
	if m == 0 {
		return c
	}
	return c.Mul(1 / m)
}

func (db *DeformableBody) Bounds() AABB {
	if len(db.Positions) == 0 {
		return AABB{}
	}
	min, max := db.Positions[0], db.Positions[0]
	for _, p := range db.Positions[1:] {
		min = vecMin(min, p)
		max = vecMax(max, p)
	}
	return AABB{Min: min, Max: max}
}

func tetVolume(p0, p1, p2, p3 mgl32.Vec3) float32 {
	return p1.Sub(p0).Cross(p2.Sub(p0)).Dot(p3.Sub(p0)) / 6
}

func vecMin(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{math32.Min(a.X(), b.X()), math32.Min(a.Y(), b.Y()), math32.Min(a.Z(), b.Z())}
}

func vecMax(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{math32.Max(a.X(), b.X()), math32.Max(a.Y(), b.Y()), math32.Max(a.Z(), b.Z())}
}
