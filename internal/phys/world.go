package phys

import (
	"fmt"
	"log"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"physengine/internal/spatial"
)

// Broadphase is the grid interface the world drives each frame. Both the
// plain hash grid and its Morton-ordered variant satisfy it.
type Broadphase interface {
	Insert(id int, box spatial.AABB)
	Remove(id int)
	PotentialPairs() [][2]int
	Clear()
	AdjustCellSize() bool
}

// FrameStats captures per-frame solver diagnostics. Residual is the worst
// persistent-constraint error left after the solve, measured against the
// world's ErrorTolerance in the frame log.
type FrameStats struct {
	Objects  int
	Pairs    int
	Contacts int
	Islands  int
	Residual float32
	StepTime time.Duration
}

// Solver tuning defaults.
const (
	DefaultIterations = 10
	DefaultSubsteps   = 1

	// DefaultRelaxation leaves projections at full strength; values below
	// 1 trade convergence speed for stability on stiff stacks.
	DefaultRelaxation = 1.0

	// DefaultErrorTolerance bounds the acceptable post-solve residual. It
	// only drives diagnostics, never an early out of the iteration loop.
	DefaultErrorTolerance = 1e-3

	// Contact material defaults applied to synthesized collision
	// constraints.
	defaultRestitution = 0.5
	defaultFriction    = 0.3

	// Diagnostics go out at most once per this many frames.
	logInterval = 120
)

// World owns the object store, the persistent constraints and the per-frame
// pipeline: predict, broad phase, narrow phase, island solve, velocity
// update. One worker pool is shared by all parallel stages.
type World struct {
	Gravity mgl32.Vec3

	Iterations  int
	Substeps    int
	MaxContacts int

	Relaxation     float32
	ErrorTolerance float32

	store       *Store
	constraints []Constraint
	hash        Broadphase
	pool        *Pool

	stats      FrameStats
	frameCount uint64

	// scratch reused across frames to keep steady-state allocation low
	boxes     []spatial.AABB
	boxValid  []bool
	manifolds []*Manifold
}

// Option tweaks world construction.
type Option func(*World)

// WithBroadphase swaps the default hash grid for another implementation.
func WithBroadphase(b Broadphase) Option {
	return func(w *World) { w.hash = b }
}

// WithWorkers fixes the worker pool size instead of NumCPU.
func WithWorkers(n int) Option {
	return func(w *World) {
		w.pool.Close()
		w.pool = NewPool(n)
	}
}

// NewWorld builds an empty world under the given gravity.
func NewWorld(gravity mgl32.Vec3, opts ...Option) *World {
	w := &World{
		Gravity:        gravity,
		Iterations:     DefaultIterations,
		Substeps:       DefaultSubsteps,
		MaxContacts:    DefaultMaxContacts,
		Relaxation:     DefaultRelaxation,
		ErrorTolerance: DefaultErrorTolerance,
		store:          NewStore(),
		hash:           spatial.NewHash(0),
		pool:           NewPool(0),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Close stops the worker pool.
func (w *World) Close() { w.pool.Close() }

// Stats returns the diagnostics from the most recent Update.
func (w *World) Stats() FrameStats { return w.stats }

// ObjectCount reports the number of live objects.
func (w *World) ObjectCount() int { return w.store.Count() }

// Object returns the live object at index, or nil.
func (w *World) Object(index int) Object { return w.store.Get(index) }

// AddObject validates and stores an object, returning its stable index.
func (w *World) AddObject(obj Object) (int, error) {
	if obj == nil {
		return 0, fmt.Errorf("add object: %w", ErrInvalidObject)
	}
	if err := obj.Validate(); err != nil {
		return 0, fmt.Errorf("add object: %w", err)
	}
	return w.store.Add(obj), nil
}

// RemoveObject deletes the object and every constraint referencing it. The
// index may be reused by a later AddObject.
func (w *World) RemoveObject(index int) {
	if !w.store.Valid(index) {
		return
	}
	kept := w.constraints[:0]
	for _, c := range w.constraints {
		a, b := c.refs()
		if a != index && b != index {
			kept = append(kept, c)
		}
	}
	w.constraints = kept
	w.hash.Remove(index)
	w.store.Remove(index)
}

// AddConstraint registers a persistent constraint after checking that every
// object it references is live.
func (w *World) AddConstraint(c Constraint) (int, error) {
	a, b := c.refs()
	if !w.store.Valid(a) || !w.store.Valid(b) {
		return 0, fmt.Errorf("add %s constraint (%d, %d): %w",
			c.Kind, a, b, ErrInvalidConstraintReference)
	}
	w.constraints = append(w.constraints, c)
	return len(w.constraints) - 1, nil
}

// ConstraintCount reports the number of persistent constraints.
func (w *World) ConstraintCount() int { return len(w.constraints) }

// Update advances the simulation by dt, split across the configured number
// of substeps. Zero and negative dt are no-ops.
func (w *World) Update(dt float32) {
	if dt <= 0 || w.store.Count() == 0 {
		return
	}
	start := time.Now()

	steps := w.Substeps
	if steps < 1 {
		steps = 1
	}
	sub := dt / float32(steps)
	for i := 0; i < steps; i++ {
		w.step(sub)
	}

	w.stats.Objects = w.store.Count()
	w.stats.StepTime = time.Since(start)
	w.frameCount++
	if w.frameCount%logInterval == 0 {
		log.Printf("world: frame %d objects=%d pairs=%d contacts=%d islands=%d residual=%.3g step=%s",
			w.frameCount, w.stats.Objects, w.stats.Pairs, w.stats.Contacts,
			w.stats.Islands, w.stats.Residual, w.stats.StepTime)
		if w.ErrorTolerance > 0 && w.stats.Residual > w.ErrorTolerance {
			log.Printf("world: frame %d residual %.3g exceeds tolerance %.3g",
				w.frameCount, w.stats.Residual, w.ErrorTolerance)
		}
	}
}

func (w *World) step(dt float32) {
	n := w.store.Len()

	// Stage 1: integrate forces and predict positions. Objects are
	// independent here, so the fan-out is a straight index split.
	w.pool.ParallelFor(n, func(start, end int) {
		for i := start; i < end; i++ {
			switch obj := w.store.Get(i).(type) {
			case *RigidBody:
				integrateRigid(obj, w.Gravity, dt)
			case *DeformableBody:
				integrateDeformable(obj, w.Gravity, dt)
			}
		}
	})

	// Stage 2: broad phase. Bounds are computed in parallel; the grid
	// itself is rebuilt serially since map writes cannot race.
	w.rebuildBroadphase(n)
	pairs := w.hash.PotentialPairs()
	w.stats.Pairs = len(pairs)

	// Stage 3: narrow phase over candidate pairs.
	if cap(w.manifolds) < len(pairs) {
		w.manifolds = make([]*Manifold, len(pairs))
	}
	w.manifolds = w.manifolds[:len(pairs)]
	w.pool.ParallelFor(len(pairs), func(start, end int) {
		for i := start; i < end; i++ {
			a, b := w.store.Get(pairs[i][0]), w.store.Get(pairs[i][1])
			if a == nil || b == nil {
				w.manifolds[i] = nil
				continue
			}
			w.manifolds[i] = DetectCollision(a, b, w.MaxContacts)
		}
	})

	// Stage 4: synthesize one-frame collision constraints and solve
	// islands. Constraint order inside an island is deterministic.
	frame := append([]Constraint(nil), w.constraints...)
	contacts := 0
	for i, m := range w.manifolds {
		if m == nil {
			continue
		}
		contacts += len(m.Contacts)
		frame = append(frame, newCollision(pairs[i][0], pairs[i][1], m,
			defaultRestitution, defaultFriction))
	}
	w.stats.Contacts = contacts

	islands := buildIslands(w.store, frame)
	w.stats.Islands = len(islands)
	w.pool.ParallelFor(len(islands), func(start, end int) {
		for i := start; i < end; i++ {
			w.solveIsland(&islands[i], frame)
		}
	})
	w.stats.Residual = w.measureResidual(frame)

	// Stage 5: deformable velocities follow from the positional solve.
	w.pool.ParallelFor(n, func(start, end int) {
		for i := start; i < end; i++ {
			if body, ok := w.store.Get(i).(*DeformableBody); ok {
				finalizeDeformable(body, dt)
			}
		}
	})
}

func (w *World) solveIsland(island *Island, frame []Constraint) {
	relax := w.Relaxation
	if relax <= 0 {
		relax = DefaultRelaxation
	}
	for iter := 0; iter < w.Iterations; iter++ {
		for _, ci := range island.Constraints {
			frame[ci].project(w.store, relax)
		}
	}
}

// measureResidual reports the worst remaining constraint error after the
// solve pass.
func (w *World) measureResidual(frame []Constraint) float32 {
	var worst float32
	for i := range frame {
		if r := frame[i].residual(w.store); r > worst {
			worst = r
		}
	}
	return worst
}

func (w *World) rebuildBroadphase(n int) {
	if cap(w.boxes) < n {
		w.boxes = make([]spatial.AABB, n)
		w.boxValid = make([]bool, n)
	}
	w.boxes = w.boxes[:n]
	w.boxValid = w.boxValid[:n]

	w.pool.ParallelFor(n, func(start, end int) {
		for i := start; i < end; i++ {
			obj := w.store.Get(i)
			if obj == nil {
				w.boxValid[i] = false
				continue
			}
			bounds := obj.Bounds()
			w.boxes[i] = spatial.AABB{Min: bounds.Min, Max: bounds.Max}
			w.boxValid[i] = true
		}
	})

	w.hash.Clear()
	for i := 0; i < n; i++ {
		if w.boxValid[i] {
			w.hash.Insert(i, w.boxes[i])
		}
	}
	// Retune cell size from this frame's occupancy. A resize clears the
	// grid, so reinsert under the new cell size.
	if w.hash.AdjustCellSize() {
		for i := 0; i < n; i++ {
			if w.boxValid[i] {
				w.hash.Insert(i, w.boxes[i])
			}
		}
	}
}

// integrateRigid applies semi-implicit Euler: velocity first, then position
// from the new velocity. Accumulated accelerations are consumed by the step.
func integrateRigid(body *RigidBody, gravity mgl32.Vec3, dt float32) {
	if body.Mass <= 0 {
		return
	}
	body.Velocity = body.Velocity.Add(body.Acceleration.Add(gravity).Mul(dt))
	body.Position = body.Position.Add(body.Velocity.Mul(dt))

	body.AngularVelocity = body.AngularVelocity.Add(body.AngularAcceleration.Mul(dt))
	if body.AngularVelocity.LenSqr() > 0 {
		spin := mgl32.Quat{W: 0, V: body.AngularVelocity}
		dq := spin.Mul(body.Orientation).Scale(0.5 * dt)
		body.Orientation = body.Orientation.Add(dq).Normalize()
	}

	body.Acceleration = mgl32.Vec3{}
	body.AngularAcceleration = mgl32.Vec3{}
}

// integrateDeformable predicts particle positions, remembering the previous
// positions so the solve can recover velocities afterwards.
func integrateDeformable(body *DeformableBody, gravity mgl32.Vec3, dt float32) {
	for i := range body.Positions {
		body.PrevPositions[i] = body.Positions[i]
		if body.Masses[i] <= 0 {
			continue
		}
		body.Velocities[i] = body.Velocities[i].Add(gravity.Mul(dt))
		body.Positions[i] = body.Positions[i].Add(body.Velocities[i].Mul(dt))
	}
}

// finalizeDeformable derives velocities from the positional change the
// constraint solve produced.
func finalizeDeformable(body *DeformableBody, dt float32) {
	inv := 1 / dt
	for i := range body.Positions {
		if body.Masses[i] <= 0 {
			continue
		}
		body.Velocities[i] = body.Positions[i].Sub(body.PrevPositions[i]).Mul(inv)
	}
}
