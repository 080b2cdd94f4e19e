package phys

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// ConstraintKind tags the closed constraint variant set.
type ConstraintKind uint8

const (
	DistanceConstraint ConstraintKind = iota
	VolumeConstraint
	CollisionConstraint
	ShapeMatchingConstraint
)

func (k ConstraintKind) String() string {
	switch k {
	case DistanceConstraint:
		return "distance"
	case VolumeConstraint:
		return "volume"
	case CollisionConstraint:
		return "collision"
	case ShapeMatchingConstraint:
		return "shape-matching"
	}
	return "unknown"
}

// Constraint is a tagged union over the four constraint kinds. A single
// struct instead of boxed interfaces keeps constraints contiguous in memory
// and lets the solver batch-iterate them without pointer chasing.
//
// Collision constraints are ephemeral: the world synthesizes them from
// narrow-phase output each frame and discards them after the solve pass.
type Constraint struct {
	Kind ConstraintKind

	// Object indices. B is unused for the single-body kinds.
	A, B int

	RestDistance float32
	Stiffness    float32
	Restitution  float32
	Friction     float32
	Manifold     *Manifold

	// Rest configuration for shape matching, captured at constraint
	// creation, with its centroid.
	restShape    []mgl32.Vec3
	restCentroid mgl32.Vec3
}

// NewDistance constrains two rigid bodies to rest distance apart. Stiffness
// in [0,1] scales how much of the error one projection removes.
func NewDistance(a, b int, restDistance, stiffness float32) Constraint {
	return Constraint{
		Kind:         DistanceConstraint,
		A:            a,
		B:            b,
		RestDistance: restDistance,
		Stiffness:    clampf(stiffness, 0, 1),
	}
}

// NewVolume constrains a deformable body to its rest volume.
func NewVolume(obj int, stiffness float32) Constraint {
	return Constraint{
		Kind:      VolumeConstraint,
		A:         obj,
		B:         obj,
		Stiffness: clampf(stiffness, 0, 1),
	}
}

// NewShapeMatching pulls a deformable body's particles toward a rigidly
// transformed copy of the given rest configuration.
func NewShapeMatching(obj int, rest []mgl32.Vec3, stiffness float32) Constraint {
	shape := append([]mgl32.Vec3(nil), rest...)
	var centroid mgl32.Vec3
	for _, p := range shape {
		centroid = centroid.Add(p)
	}
	if len(shape) > 0 {
		centroid = centroid.Mul(1 / float32(len(shape)))
	}
	return Constraint{
		Kind:         ShapeMatchingConstraint,
		A:            obj,
		B:            obj,
		Stiffness:    clampf(stiffness, 0, 1),
		restShape:    shape,
		restCentroid: centroid,
	}
}

// newCollision wraps a narrow-phase manifold into a one-frame constraint.
func newCollision(a, b int, m *Manifold, restitution, friction float32) Constraint {
	return Constraint{
		Kind:        CollisionConstraint,
		A:           a,
		B:           b,
		Restitution: restitution,
		Friction:    friction,
		Manifold:    m,
		Stiffness:   1,
	}
}

// ephemeral reports whether the constraint is discarded at frame end.
func (c Constraint) ephemeral() bool { return c.Kind == CollisionConstraint }

// refs returns the object indices the constraint touches.
func (c Constraint) refs() (int, int) { return c.A, c.B }

// project applies one solver iteration of the constraint. relax scales the
// positional corrections (under-relaxation below 1, over-relaxation above).
// It reads and writes only the objects it references; island partitioning
// guarantees no other goroutine touches those objects during the solve stage.
func (c *Constraint) project(store *Store, relax float32) {
	switch c.Kind {
	case DistanceConstraint:
		c.projectDistance(store, relax)
	case VolumeConstraint:
		c.projectVolume(store, relax)
	case CollisionConstraint:
		c.projectCollision(store, relax)
	case ShapeMatchingConstraint:
		c.projectShapeMatching(store, relax)
	}
}

// residual measures how far the constraint is from satisfied. The world
// reports the worst residual per frame against the configured error
// tolerance; it never gates the solve. Collision and shape-matching
// constraints contribute nothing since their manifolds and goals are
// recomputed each frame.
func (c *Constraint) residual(store *Store) float32 {
	switch c.Kind {
	case DistanceConstraint:
		a, okA := store.Get(c.A).(*RigidBody)
		b, okB := store.Get(c.B).(*RigidBody)
		if !okA || !okB {
			return 0
		}
		return math32.Abs(b.Position.Sub(a.Position).Len() - c.RestDistance)
	case VolumeConstraint:
		body, ok := store.Get(c.A).(*DeformableBody)
		if !ok || body.RestVolume == 0 {
			return 0
		}
		return math32.Abs(body.TotalVolume()-body.RestVolume) / body.RestVolume
	}
	return 0
}

// projectDistance moves both endpoints along their connecting vector toward
// rest distance, split by inverse mass so the lighter body moves more.
func (c *Constraint) projectDistance(store *Store, relax float32) {
	a, okA := store.Get(c.A).(*RigidBody)
	b, okB := store.Get(c.B).(*RigidBody)
	if !okA || !okB {
		return
	}

	delta := b.Position.Sub(a.Position)
	distance := delta.Len()
	if distance == 0 {
		return
	}

	wA, wB := a.invMass(), b.invMass()
	wSum := wA + wB
	if wSum == 0 {
		return
	}

	correction := delta.Mul((distance - c.RestDistance) / distance * c.Stiffness * relax)
	a.Position = a.Position.Add(correction.Mul(wA / wSum))
	b.Position = b.Position.Sub(correction.Mul(wB / wSum))
}

// projectVolume scales the particle cloud about its centroid by
// cbrt(rest/current), blended by stiffness so partial corrections integrate
// over iterations without overshoot.
func (c *Constraint) projectVolume(store *Store, relax float32) {
	body, ok := store.Get(c.A).(*DeformableBody)
	if !ok || body.RestVolume == 0 {
		return
	}

	current := body.TotalVolume()
	if current <= 0 {
		return
	}
	if math32.Abs(current-body.RestVolume) < 1e-6 {
		return
	}

	scale := 1 + (math32.Cbrt(body.RestVolume/current)-1)*c.Stiffness*relax
	centroid := body.Centroid()
	for i, p := range body.Positions {
		body.Positions[i] = centroid.Add(p.Sub(centroid).Mul(scale))
	}
}

// projectCollision applies impulse, friction and positional correction from
// the manifold. Positional relaxation uses a fixed fraction per iteration so
// stacked contacts converge without jitter.
const positionalCorrection = 0.2

func (c *Constraint) projectCollision(store *Store, relax float32) {
	if c.Manifold == nil {
		return
	}
	objA, objB := store.Get(c.A), store.Get(c.B)

	switch a := objA.(type) {
	case *RigidBody:
		if b, ok := objB.(*RigidBody); ok {
			c.collideRigidRigid(a, b, relax)
			return
		}
		if b, ok := objB.(*DeformableBody); ok {
			c.collideRigidSoft(a, b, 1, relax)
			return
		}
	case *DeformableBody:
		if b, ok := objB.(*RigidBody); ok {
			c.collideRigidSoft(b, a, -1, relax)
			return
		}
		if b, ok := objB.(*DeformableBody); ok {
			c.collideSoftSoft(a, b, relax)
			return
		}
	}
}

func (c *Constraint) collideRigidRigid(a, b *RigidBody, relax float32) {
	m := c.Manifold
	wA, wB := a.invMass(), b.invMass()
	if wA+wB == 0 {
		return
	}

	invInertiaA := invDiag(a.InertiaTensor)
	invInertiaB := invDiag(b.InertiaTensor)

	for _, contact := range m.Contacts {
		rA := contact.Sub(a.Position)
		rB := contact.Sub(b.Position)

		velA := a.Velocity.Add(a.AngularVelocity.Cross(rA))
		velB := b.Velocity.Add(b.AngularVelocity.Cross(rB))
		relVel := velA.Sub(velB)

		alongNormal := relVel.Dot(m.Normal)
		if alongNormal >= 0 {
			continue // separating already
		}

		angA := rotateDiag(a.Orientation, invInertiaA, rA.Cross(m.Normal)).Cross(rA)
		angB := rotateDiag(b.Orientation, invInertiaB, rB.Cross(m.Normal)).Cross(rB)
		denom := wA + wB + angA.Add(angB).Dot(m.Normal)
		if denom == 0 {
			continue
		}

		j := -(1 + c.Restitution) * alongNormal / denom
		impulse := m.Normal.Mul(j)

		a.Velocity = a.Velocity.Add(impulse.Mul(wA))
		b.Velocity = b.Velocity.Sub(impulse.Mul(wB))
		a.AngularVelocity = a.AngularVelocity.Add(rotateDiag(a.Orientation, invInertiaA, rA.Cross(impulse)))
		b.AngularVelocity = b.AngularVelocity.Sub(rotateDiag(b.Orientation, invInertiaB, rB.Cross(impulse)))

		// Friction along the tangent of the relative motion.
		tangent := relVel.Sub(m.Normal.Mul(alongNormal))
		if tangent.Len() > 1e-6 {
			tangent = tangent.Normalize()
			frictionImpulse := tangent.Mul(-j * c.Friction)
			a.Velocity = a.Velocity.Add(frictionImpulse.Mul(wA))
			b.Velocity = b.Velocity.Sub(frictionImpulse.Mul(wB))
		}
	}

	// Positional correction, split by inverse mass.
	correction := m.Normal.Mul(m.Penetration * positionalCorrection * relax / (wA + wB))
	a.Position = a.Position.Add(correction.Mul(wA))
	b.Position = b.Position.Sub(correction.Mul(wB))
}

// collideRigidSoft pushes contact particles out of the rigid body and gives
// the rigid body the opposite correction. sign is +1 when the manifold
// normal points from soft toward rigid.
func (c *Constraint) collideRigidSoft(rigid *RigidBody, soft *DeformableBody, sign, relax float32) {
	m := c.Manifold
	normal := m.Normal.Mul(sign) // from soft toward rigid
	push := normal.Mul(-m.Penetration * positionalCorrection * relax)

	for _, contact := range m.Contacts {
		idx := nearestParticle(soft, contact)
		if idx < 0 {
			continue
		}
		soft.Positions[idx] = soft.Positions[idx].Add(push)

		// Kill approach velocity plus restitution bounce.
		alongNormal := soft.Velocities[idx].Dot(normal)
		if alongNormal > 0 {
			soft.Velocities[idx] = soft.Velocities[idx].Sub(normal.Mul((1 + c.Restitution) * alongNormal))
		}
	}

	rigid.Position = rigid.Position.Add(normal.Mul(m.Penetration * positionalCorrection * relax * rigid.invMass() /
		(rigid.invMass() + 1)))
}

func (c *Constraint) collideSoftSoft(a, b *DeformableBody, relax float32) {
	m := c.Manifold
	push := m.Normal.Mul(m.Penetration * positionalCorrection * relax * 0.5)

	for _, contact := range m.Contacts {
		if ia := nearestParticle(a, contact); ia >= 0 {
			a.Positions[ia] = a.Positions[ia].Add(push)
		}
		if ib := nearestParticle(b, contact); ib >= 0 {
			b.Positions[ib] = b.Positions[ib].Sub(push)
		}
	}
}

// projectShapeMatching computes the best rigid transform of the rest shape
// onto the current particles and blends each particle toward its goal.
func (c *Constraint) projectShapeMatching(store *Store, relax float32) {
	body, ok := store.Get(c.A).(*DeformableBody)
	if !ok || len(c.restShape) != len(body.Positions) || len(body.Positions) == 0 {
		return
	}

	var centroid mgl32.Vec3
	for _, p := range body.Positions {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Mul(1 / float32(len(body.Positions)))

	// Covariance of current offsets against rest offsets.
	var cov mat3
	for i, p := range body.Positions {
		q := c.restShape[i].Sub(c.restCentroid)
		d := p.Sub(centroid)
		cov = cov.addOuter(d, q)
	}

	rotation := extractRotation(cov, 12)
	for i := range body.Positions {
		goal := centroid.Add(rotation.Rotate(c.restShape[i].Sub(c.restCentroid)))
		body.Positions[i] = body.Positions[i].Add(goal.Sub(body.Positions[i]).Mul(c.Stiffness * relax))
	}
}

func nearestParticle(body *DeformableBody, point mgl32.Vec3) int {
	best := -1
	bestDist := float32(math32.MaxFloat32)
	for i, p := range body.Positions {
		if d := p.Sub(point).LenSqr(); d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

func invDiag(v mgl32.Vec3) mgl32.Vec3 {
	inv := mgl32.Vec3{}
	for i := 0; i < 3; i++ {
		if v[i] != 0 {
			inv[i] = 1 / v[i]
		}
	}
	return inv
}

// rotateDiag applies a body-space diagonal tensor to a world-space vector:
// rotate into body space, scale, rotate back.
func rotateDiag(orientation mgl32.Quat, diag, v mgl32.Vec3) mgl32.Vec3 {
	local := orientation.Conjugate().Rotate(v)
	scaled := mgl32.Vec3{local.X() * diag.X(), local.Y() * diag.Y(), local.Z() * diag.Z()}
	return orientation.Rotate(scaled)
}

// mat3 is a minimal column-major 3x3 used by shape matching; only the
// operations the polar decomposition needs.
type mat3 struct {
	cols [3]mgl32.Vec3
}

func (m mat3) addOuter(a, b mgl32.Vec3) mat3 {
	for j := 0; j < 3; j++ {
		m.cols[j] = m.cols[j].Add(a.Mul(b[j]))
	}
	return m
}

func (m mat3) col(i int) mgl32.Vec3 { return m.cols[i] }

func quatCols(q mgl32.Quat) [3]mgl32.Vec3 {
	return [3]mgl32.Vec3{
		q.Rotate(mgl32.Vec3{1, 0, 0}),
		q.Rotate(mgl32.Vec3{0, 1, 0}),
		q.Rotate(mgl32.Vec3{0, 0, 1}),
	}
}

// extractRotation pulls the rotational part out of a covariance matrix by
// iterative quaternion refinement (Muller-style polar decomposition). A
// dozen iterations is plenty for solver use.
func extractRotation(a mat3, iterations int) mgl32.Quat {
	q := mgl32.QuatIdent()
	for iter := 0; iter < iterations; iter++ {
		r := quatCols(q)
		var omega mgl32.Vec3
		var denom float32
		for i := 0; i < 3; i++ {
			omega = omega.Add(r[i].Cross(a.col(i)))
			denom += r[i].Dot(a.col(i))
		}
		denom = math32.Abs(denom) + 1e-9
		omega = omega.Mul(1 / denom)
		angle := omega.Len()
		if angle < 1e-9 {
			break
		}
		q = mgl32.QuatRotate(angle, omega.Mul(1/angle)).Mul(q).Normalize()
	}
	return q
}
