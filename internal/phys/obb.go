package phys

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// OBB represents an oriented bounding box.
type OBB struct {
	Center   mgl32.Vec3
	HalfSize mgl32.Vec3
	Axes     [3]mgl32.Vec3 // rotated local X, Y, Z axes
}

// NewOBB creates a cubic OBB from center, half-extent and orientation.
func NewOBB(center mgl32.Vec3, halfExtent float32, orientation mgl32.Quat) OBB {
	return OBB{
		Center:   center,
		HalfSize: mgl32.Vec3{halfExtent, halfExtent, halfExtent},
		Axes: [3]mgl32.Vec3{
			orientation.Rotate(mgl32.Vec3{1, 0, 0}),
			orientation.Rotate(mgl32.Vec3{0, 1, 0}),
			orientation.Rotate(mgl32.Vec3{0, 0, 1}),
		},
	}
}

// Intersects tests two OBBs with the Separating Axis Theorem: 3 face normals
// from each box plus the 9 edge cross products.
func (a OBB) Intersects(b OBB) bool {
	t := b.Center.Sub(a.Center)

	for i := 0; i < 3; i++ {
		if !overlapOnAxis(a, b, a.Axes[i], t) {
			return false
		}
	}
	for i := 0; i < 3; i++ {
		if !overlapOnAxis(a, b, b.Axes[i], t) {
			return false
		}
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			axis := a.Axes[i].Cross(b.Axes[j])
			// Parallel edges produce a near-zero axis; skip it.
			if axis.Len() > 1e-4 {
				if !overlapOnAxis(a, b, axis.Normalize(), t) {
					return false
				}
			}
		}
	}
	return true
}

// projectRadius is the half-length of the box's projection onto axis.
func (o OBB) projectRadius(axis mgl32.Vec3) float32 {
	return o.HalfSize.X()*math32.Abs(o.Axes[0].Dot(axis)) +
		o.HalfSize.Y()*math32.Abs(o.Axes[1].Dot(axis)) +
		o.HalfSize.Z()*math32.Abs(o.Axes[2].Dot(axis))
}

func overlapOnAxis(a, b OBB, axis, t mgl32.Vec3) bool {
	return math32.Abs(t.Dot(axis)) <= a.projectRadius(axis)+b.projectRadius(axis)
}

// Separation finds the axis of least penetration between two overlapping
// boxes. It returns the unit normal pointing from b toward a, the penetration
// depth along it, and false when the boxes do not overlap.
func (a OBB) Separation(b OBB) (mgl32.Vec3, float32, bool) {
	if !a.Intersects(b) {
		return mgl32.Vec3{}, 0, false
	}

	t := b.Center.Sub(a.Center)
	minPenetration := float32(math32.MaxFloat32)
	var normal mgl32.Vec3

	testAxis := func(axis mgl32.Vec3) {
		if axis.Len() < 1e-4 {
			return
		}
		axis = axis.Normalize()
		dist := t.Dot(axis)
		penetration := a.projectRadius(axis) + b.projectRadius(axis) - math32.Abs(dist)
		if penetration < minPenetration {
			minPenetration = penetration
			// Flip so the normal pushes a away from b.
			if dist > 0 {
				axis = axis.Mul(-1)
			}
			normal = axis
		}
	}

	for i := 0; i < 3; i++ {
		testAxis(a.Axes[i])
	}
	for i := 0; i < 3; i++ {
		testAxis(b.Axes[i])
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			testAxis(a.Axes[i].Cross(b.Axes[j]))
		}
	}

	return normal, minPenetration, true
}

// ContainsPoint reports whether a world-space point lies inside the box.
func (o OBB) ContainsPoint(p mgl32.Vec3) bool {
	local := p.Sub(o.Center)
	return math32.Abs(local.Dot(o.Axes[0])) <= o.HalfSize.X() &&
		math32.Abs(local.Dot(o.Axes[1])) <= o.HalfSize.Y() &&
		math32.Abs(local.Dot(o.Axes[2])) <= o.HalfSize.Z()
}

// ClosestPoint returns the point on or in the box nearest to p.
func (o OBB) ClosestPoint(p mgl32.Vec3) mgl32.Vec3 {
	local := p.Sub(o.Center)
	result := o.Center
	for i := 0; i < 3; i++ {
		d := clampf(local.Dot(o.Axes[i]), -o.HalfSize[i], o.HalfSize[i])
		result = result.Add(o.Axes[i].Mul(d))
	}
	return result
}

// Corners returns the 8 world-space corners of the box.
func (o OBB) Corners() [8]mgl32.Vec3 {
	var corners [8]mgl32.Vec3
	i := 0
	for _, sx := range [2]float32{-1, 1} {
		for _, sy := range [2]float32{-1, 1} {
			for _, sz := range [2]float32{-1, 1} {
				corners[i] = o.Center.
					Add(o.Axes[0].Mul(sx * o.HalfSize.X())).
					Add(o.Axes[1].Mul(sy * o.HalfSize.Y())).
					Add(o.Axes[2].Mul(sz * o.HalfSize.Z()))
				i++
			}
		}
	}
	return corners
}

// boxCorners is the corner set of a cubic box without building an OBB.
func boxCorners(center mgl32.Vec3, halfExtent float32, orientation mgl32.Quat) [8]mgl32.Vec3 {
	return NewOBB(center, halfExtent, orientation).Corners()
}

func clampf(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
