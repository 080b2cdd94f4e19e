// Package spatial provides the broad-phase acceleration structures: a
// uniform hash grid keyed by integer cell coordinates, with a Morton-coded
// variant for cache-friendlier key distribution.
package spatial

import "github.com/go-gl/mathgl/mgl32"

// DefaultCellSize matches the expected scale of scene objects; the grid
// retunes itself from the observed load factor as the scene changes.
const DefaultCellSize = 10.0

// Load factor hysteresis. Growing cells at 0.75 and shrinking only below a
// quarter of that keeps a scene oscillating near the threshold from
// thrashing cell sizes every frame.
const (
	growThreshold   = 0.75
	shrinkThreshold = growThreshold / 4
)

// Cell identifies one grid cell by its integer coordinates.
type Cell struct {
	X, Y, Z int32
}

// AABB is the axis-aligned box the grid stores per object.
type AABB struct {
	Min, Max mgl32.Vec3
}

// Hash is a sparse uniform grid. Each object occupies every cell its AABB
// overlaps; Insert replaces any previous placement of the same object.
type Hash struct {
	CellSize float32

	grid        map[Cell][]int
	objectCells map[int][]Cell

	// capacity doubles whenever occupied cells outgrow it, giving the load
	// factor a stable power-of-two denominator between retunings.
	capacity int
}

// NewHash builds an empty grid. cellSize <= 0 selects DefaultCellSize.
func NewHash(cellSize float32) *Hash {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	return &Hash{
		CellSize:    cellSize,
		grid:        make(map[Cell][]int),
		objectCells: make(map[int][]Cell),
		capacity:    16,
	}
}

func (h *Hash) cellOf(p mgl32.Vec3) Cell {
	return Cell{
		X: int32(floorDiv(p.X(), h.CellSize)),
		Y: int32(floorDiv(p.Y(), h.CellSize)),
		Z: int32(floorDiv(p.Z(), h.CellSize)),
	}
}

func floorDiv(v, size float32) float32 {
	q := v / size
	f := float32(int32(q))
	if q < 0 && q != f {
		f--
	}
	return f
}

// Insert places id into every cell box overlaps, removing it from its
// previous cells first so updates never leave stale references behind.
func (h *Hash) Insert(id int, box AABB) {
	h.Remove(id)

	lo := h.cellOf(box.Min)
	hi := h.cellOf(box.Max)

	var cells []Cell
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for z := lo.Z; z <= hi.Z; z++ {
				c := Cell{x, y, z}
				h.grid[c] = append(h.grid[c], id)
				cells = append(cells, c)
			}
		}
	}
	h.objectCells[id] = cells

	for len(h.grid) > h.capacity {
		h.capacity *= 2
	}
}

// Remove takes id out of the grid. Unknown ids are a no-op.
func (h *Hash) Remove(id int) {
	cells, ok := h.objectCells[id]
	if !ok {
		return
	}
	for _, c := range cells {
		bucket := h.grid[c]
		for i, other := range bucket {
			if other == id {
				bucket[i] = bucket[len(bucket)-1]
				bucket = bucket[:len(bucket)-1]
				break
			}
		}
		if len(bucket) == 0 {
			delete(h.grid, c)
		} else {
			h.grid[c] = bucket
		}
	}
	delete(h.objectCells, id)
}

// QueryRadius returns the ids of all objects occupying cells the sphere
// overlaps. This is conservative: callers narrow-phase the results. Order is
// unspecified.
func (h *Hash) QueryRadius(center mgl32.Vec3, radius float32) []int {
	r := mgl32.Vec3{radius, radius, radius}
	lo := h.cellOf(center.Sub(r))
	hi := h.cellOf(center.Add(r))

	seen := make(map[int]struct{})
	var out []int
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for z := lo.Z; z <= hi.Z; z++ {
				for _, id := range h.grid[Cell{x, y, z}] {
					if _, dup := seen[id]; !dup {
						seen[id] = struct{}{}
						out = append(out, id)
					}
				}
			}
		}
	}
	return out
}

// PotentialPairs returns each pair of objects sharing at least one cell,
// exactly once, with the smaller id first.
func (h *Hash) PotentialPairs() [][2]int {
	seen := make(map[[2]int]struct{})
	var pairs [][2]int
	for _, bucket := range h.grid {
		for i := 0; i < len(bucket); i++ {
			for j := i + 1; j < len(bucket); j++ {
				a, b := bucket[i], bucket[j]
				if a > b {
					a, b = b, a
				}
				key := [2]int{a, b}
				if _, dup := seen[key]; !dup {
					seen[key] = struct{}{}
					pairs = append(pairs, key)
				}
			}
		}
	}
	return pairs
}

// Clear drops all placements but keeps the tuned cell size and capacity.
func (h *Hash) Clear() {
	h.grid = make(map[Cell][]int)
	h.objectCells = make(map[int][]Cell)
}

// LoadFactor is occupied cells over the capacity high-water mark.
func (h *Hash) LoadFactor() float32 {
	if h.capacity == 0 {
		return 0
	}
	return float32(len(h.grid)) / float32(h.capacity)
}

// Len reports the number of tracked objects.
func (h *Hash) Len() int { return len(h.objectCells) }

// AdjustCellSize retunes CellSize from the current load factor: overloaded
// grids get coarser cells, nearly empty grids get finer ones. Placements are
// cleared; the caller rebuilds on the next frame. Returns true if the size
// changed.
func (h *Hash) AdjustCellSize() bool {
	load := h.LoadFactor()
	switch {
	case load > growThreshold:
		h.CellSize *= 2
	case load < shrinkThreshold && len(h.objectCells) > 0:
		h.CellSize *= 0.5
	default:
		return false
	}
	h.capacity = 16
	h.Clear()
	return true
}
