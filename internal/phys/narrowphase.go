package phys

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Manifold describes one contact between two objects: a unit normal pointing
// from the second object toward the first, the penetration depth along it,
// and a bounded set of world-space contact points.
type Manifold struct {
	Normal      mgl32.Vec3
	Penetration float32
	Contacts    []mgl32.Vec3
}

// DefaultMaxContacts bounds manifold size; larger candidate sets are reduced
// by farthest-point clustering so off-center contacts survive.
const DefaultMaxContacts = 4

// DetectCollision runs the precise pairwise test for any combination of body
// kinds and returns nil when the objects do not touch.
func DetectCollision(a, b Object, maxContacts int) *Manifold {
	if maxContacts <= 0 {
		maxContacts = DefaultMaxContacts
	}
	switch oa := a.(type) {
	case *RigidBody:
		switch ob := b.(type) {
		case *RigidBody:
			return detectRigidRigid(oa, ob, maxContacts)
		case *DeformableBody:
			return detectRigidSoft(oa, ob, maxContacts)
		}
	case *DeformableBody:
		switch ob := b.(type) {
		case *RigidBody:
			m := detectRigidSoft(ob, oa, maxContacts)
			if m != nil {
				m.Normal = m.Normal.Mul(-1)
			}
			return m
		case *DeformableBody:
			return detectSoftSoft(oa, ob, maxContacts)
		}
	}
	return nil
}

// detectRigidRigid runs SAT over both boxes' axes and collects corner
// containment contacts.
func detectRigidRigid(a, b *RigidBody, maxContacts int) *Manifold {
	obbA := NewOBB(a.Position, a.HalfExtent, a.Orientation)
	obbB := NewOBB(b.Position, b.HalfExtent, b.Orientation)

	normal, penetration, hit := obbA.Separation(obbB)
	if !hit {
		return nil
	}

	var candidates []mgl32.Vec3
	for _, c := range obbA.Corners() {
		if obbB.ContainsPoint(c) {
			candidates = append(candidates, c)
		}
	}
	for _, c := range obbB.Corners() {
		if obbA.ContainsPoint(c) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		// Shallow face contact with no corner inside the other box; fall
		// back to the midpoint between centers projected onto the overlap.
		candidates = append(candidates, obbA.ClosestPoint(obbB.Center))
	}

	return &Manifold{
		Normal:      normal,
		Penetration: penetration,
		Contacts:    reduceContacts(candidates, maxContacts),
	}
}

// detectSoftSoft tests every particle of each body against every tetrahedron
// of the other and aggregates one manifold.
func detectSoftSoft(a, b *DeformableBody, maxContacts int) *Manifold {
	if !a.Bounds().Intersects(b.Bounds()) {
		return nil
	}

	var candidates []mgl32.Vec3
	var totalNormal mgl32.Vec3
	var maxPenetration float32

	collect := func(points []mgl32.Vec3, other *DeformableBody) {
		for _, p := range points {
			for _, tet := range other.Tetrahedra {
				depth, normal, inside := pointInTetrahedron(p,
					other.Positions[tet[0]], other.Positions[tet[1]],
					other.Positions[tet[2]], other.Positions[tet[3]])
				if inside {
					candidates = append(candidates, p)
					totalNormal = totalNormal.Add(normal)
					maxPenetration = math32.Max(maxPenetration, depth)
				}
			}
		}
	}
	collect(a.Positions, b)
	collect(b.Positions, a)

	if len(candidates) == 0 || totalNormal.Len() < 1e-6 {
		return nil
	}
	return &Manifold{
		Normal:      totalNormal.Normalize(),
		Penetration: maxPenetration,
		Contacts:    reduceContacts(candidates, maxContacts),
	}
}

// detectRigidSoft tests soft particles against the rigid box and rigid
// corners against soft tetrahedra. The returned normal points from the soft
// body toward the rigid body.
func detectRigidSoft(rigid *RigidBody, soft *DeformableBody, maxContacts int) *Manifold {
	obb := NewOBB(rigid.Position, rigid.HalfExtent, rigid.Orientation)

	var candidates []mgl32.Vec3
	var totalNormal mgl32.Vec3
	var maxPenetration float32

	for _, p := range soft.Positions {
		if !obb.ContainsPoint(p) {
			continue
		}
		// Penetration is the distance to the nearest face, normal is the
		// face direction pushing the particle out.
		depth, normal := boxInteriorEscape(obb, p)
		candidates = append(candidates, p)
		totalNormal = totalNormal.Sub(normal) // push rigid away from particle
		maxPenetration = math32.Max(maxPenetration, depth)
	}

	for _, c := range obb.Corners() {
		for _, tet := range soft.Tetrahedra {
			depth, normal, inside := pointInTetrahedron(c,
				soft.Positions[tet[0]], soft.Positions[tet[1]],
				soft.Positions[tet[2]], soft.Positions[tet[3]])
			if inside {
				candidates = append(candidates, c)
				totalNormal = totalNormal.Add(normal)
				maxPenetration = math32.Max(maxPenetration, depth)
			}
		}
	}

	if len(candidates) == 0 || totalNormal.Len() < 1e-6 {
		return nil
	}
	return &Manifold{
		Normal:      totalNormal.Normalize(),
		Penetration: maxPenetration,
		Contacts:    reduceContacts(candidates, maxContacts),
	}
}

// boxInteriorEscape returns, for a point inside the box, the distance to the
// nearest face and the outward face normal.
func boxInteriorEscape(o OBB, p mgl32.Vec3) (float32, mgl32.Vec3) {
	local := p.Sub(o.Center)
	best := float32(math32.MaxFloat32)
	var normal mgl32.Vec3
	for i := 0; i < 3; i++ {
		d := local.Dot(o.Axes[i])
		if pos := o.HalfSize[i] - d; pos < best {
			best = pos
			normal = o.Axes[i]
		}
		if neg := o.HalfSize[i] + d; neg < best {
			best = neg
			normal = o.Axes[i].Mul(-1)
		}
	}
	return best, normal
}

// pointInTetrahedron tests a point against a tetrahedron with barycentric
// coordinates. On containment it returns the penetration depth relative to
// the base face and the inward-facing normal.
func pointInTetrahedron(p, t0, t1, t2, t3 mgl32.Vec3) (float32, mgl32.Vec3, bool) {
	v0 := t1.Sub(t0)
	v1 := t2.Sub(t0)
	v2 := t3.Sub(t0)
	vp := p.Sub(t0)

	d00 := v0.Dot(v0)
	d01 := v0.Dot(v1)
	d02 := v0.Dot(v2)
	d11 := v1.Dot(v1)
	d12 := v1.Dot(v2)
	d22 := v2.Dot(v2)
	d30 := vp.Dot(v0)
	d31 := vp.Dot(v1)
	d32 := vp.Dot(v2)

	denom := d00*d11*d22 + 2*d01*d12*d02 - d02*d11*d02 - d01*d01*d22 - d00*d12*d12
	if denom == 0 {
		return 0, mgl32.Vec3{}, false
	}
	inv := 1 / denom

	u := (d11*d22*d30 + d02*d12*d31 + d01*d32*d12 - d02*d11*d32 - d01*d31*d22 - d12*d12*d30) * inv
	v := (d00*d22*d31 + d02*d32*d01 + d02*d30*d12 - d02*d02*d31 - d00*d32*d12 - d02*d30*d01) * inv
	w := (d00*d11*d32 + d01*d31*d02 + d01*d30*d12 - d02*d11*d30 - d00*d31*d12 - d01*d01*d32) * inv

	if u < 0 || v < 0 || w < 0 || u+v+w > 1 {
		return 0, mgl32.Vec3{}, false
	}

	faceNormal := v1.Cross(v2)
	if faceNormal.Len() < 1e-9 {
		return 0, mgl32.Vec3{}, false
	}
	faceNormal = faceNormal.Normalize()
	penetration := math32.Abs(p.Dot(faceNormal) - t0.Dot(faceNormal))
	return penetration, faceNormal.Mul(-1), true
}

// reduceContacts trims a candidate set to at most max points. The first kept
// point seeds the set; each subsequent pick is the candidate farthest from
// all points kept so far, which preserves the spread of the contact area
// rather than a tight cluster around the deepest point.
func reduceContacts(candidates []mgl32.Vec3, max int) []mgl32.Vec3 {
	if len(candidates) <= max {
		return candidates
	}

	kept := make([]mgl32.Vec3, 0, max)
	used := make([]bool, len(candidates))
	kept = append(kept, candidates[0])
	used[0] = true

	for len(kept) < max {
		bestIdx := -1
		bestDist := float32(-1)
		for i, c := range candidates {
			if used[i] {
				continue
			}
			// Distance to the nearest already-kept point.
			nearest := float32(math32.MaxFloat32)
			for _, k := range kept {
				if d := c.Sub(k).LenSqr(); d < nearest {
					nearest = d
				}
			}
			if nearest > bestDist {
				bestDist = nearest
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		kept = append(kept, candidates[bestIdx])
		used[bestIdx] = true
	}
	return kept
}
