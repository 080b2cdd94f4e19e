package compute

import "github.com/chewxy/math32"

// Particle matches the GPU layout exactly: two vec4s, 32 bytes. The fourth
// component of each vector is padding the shader preserves.
type Particle struct {
	Pos [4]float32
	Vel [4]float32
}

// ParticleSize is the wire size of one particle in bytes.
const ParticleSize = 32

// Params mirrors the SimParams uniform.
type Params struct {
	DeltaTime   float32
	MaxVelocity float32
	BoundsMin   float32
	BoundsMax   float32
}

// simParams is the uniform block as uploaded, padded to 32 bytes.
type simParams struct {
	DeltaTime     float32
	MaxVelocity   float32
	BoundsMin     float32
	BoundsMax     float32
	ParticleCount uint32
	_             [3]uint32
}

// IntegrateCPU runs the particle kernel on the CPU, operation for operation
// identical to the WGSL in shader.go. Tests diff GPU output against it, and
// hosts without an adapter fall back to it. A nil masses slice treats every
// particle as dynamic; non-positive mass pins the particle.
func IntegrateCPU(particles []Particle, masses []float32, p Params) {
	for i := range particles {
		if masses != nil && masses[i] <= 0 {
			continue
		}
		stepParticle(&particles[i], p)
	}
}

func stepParticle(pt *Particle, p Params) {
	for axis := 0; axis < 3; axis++ {
		pt.Pos[axis] += pt.Vel[axis] * p.DeltaTime
	}

	for axis := 0; axis < 3; axis++ {
		if pt.Pos[axis] < p.BoundsMin {
			pt.Pos[axis] = p.BoundsMin
			pt.Vel[axis] = -pt.Vel[axis]
		} else if pt.Pos[axis] > p.BoundsMax {
			pt.Pos[axis] = p.BoundsMax
			pt.Vel[axis] = -pt.Vel[axis]
		}
	}

	speed := math32.Sqrt(pt.Vel[0]*pt.Vel[0] + pt.Vel[1]*pt.Vel[1] + pt.Vel[2]*pt.Vel[2])
	if speed > p.MaxVelocity {
		scale := p.MaxVelocity / speed
		for axis := 0; axis < 3; axis++ {
			pt.Vel[axis] *= scale
		}
	}
}
