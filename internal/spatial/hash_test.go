package spatial

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func unitBox(center mgl32.Vec3) AABB {
	half := mgl32.Vec3{0.4, 0.4, 0.4}
	return AABB{Min: center.Sub(half), Max: center.Add(half)}
}

func TestInsertAndQueryRadius(t *testing.T) {
	h := NewHash(10)
	h.Insert(0, unitBox(mgl32.Vec3{5, 5, 5}))
	h.Insert(1, unitBox(mgl32.Vec3{6, 5, 5}))
	h.Insert(2, unitBox(mgl32.Vec3{105, 5, 5}))

	got := h.QueryRadius(mgl32.Vec3{5, 5, 5}, 3)
	if len(got) != 2 {
		t.Fatalf("expected 2 objects near origin cell, got %v", got)
	}
	for _, id := range got {
		if id == 2 {
			t.Error("distant object should not appear in query results")
		}
	}
}

func TestInsertReplacesPriorCells(t *testing.T) {
	h := NewHash(10)
	h.Insert(0, unitBox(mgl32.Vec3{5, 5, 5}))
	h.Insert(0, unitBox(mgl32.Vec3{105, 5, 5}))

	if got := h.QueryRadius(mgl32.Vec3{5, 5, 5}, 3); len(got) != 0 {
		t.Errorf("object should have left its old cell, query returned %v", got)
	}
	if got := h.QueryRadius(mgl32.Vec3{105, 5, 5}, 3); len(got) != 1 {
		t.Errorf("object should be in its new cell, query returned %v", got)
	}
}

func TestMultiCellObjectAppearsOncePerCell(t *testing.T) {
	h := NewHash(10)
	// Spans 2x1x1 cells.
	h.Insert(0, AABB{Min: mgl32.Vec3{8, 1, 1}, Max: mgl32.Vec3{12, 2, 2}})

	if len(h.objectCells[0]) != 2 {
		t.Fatalf("expected object in 2 cells, got %d", len(h.objectCells[0]))
	}
	for _, c := range h.objectCells[0] {
		count := 0
		for _, id := range h.grid[c] {
			if id == 0 {
				count++
			}
		}
		if count != 1 {
			t.Errorf("object appears %d times in cell %v, want 1", count, c)
		}
	}
}

func TestPotentialPairsDedup(t *testing.T) {
	h := NewHash(10)
	// Two objects sharing two cells: the pair must still come out once.
	h.Insert(0, AABB{Min: mgl32.Vec3{8, 1, 1}, Max: mgl32.Vec3{12, 2, 2}})
	h.Insert(1, AABB{Min: mgl32.Vec3{8, 1, 1}, Max: mgl32.Vec3{12, 2, 2}})
	h.Insert(2, unitBox(mgl32.Vec3{105, 5, 5}))

	pairs := h.PotentialPairs()
	if len(pairs) != 1 {
		t.Fatalf("expected exactly 1 pair, got %v", pairs)
	}
	if pairs[0] != [2]int{0, 1} {
		t.Errorf("expected pair (0,1), got %v", pairs[0])
	}
}

func TestPotentialPairsNeverSelfPair(t *testing.T) {
	h := NewHash(10)
	for i := 0; i < 8; i++ {
		h.Insert(i, unitBox(mgl32.Vec3{float32(i), 1, 1}))
	}
	for _, p := range h.PotentialPairs() {
		if p[0] == p[1] {
			t.Errorf("self pair %v", p)
		}
		if p[0] > p[1] {
			t.Errorf("pair %v not ordered", p)
		}
	}
}

func TestRemove(t *testing.T) {
	h := NewHash(10)
	h.Insert(0, unitBox(mgl32.Vec3{5, 5, 5}))
	h.Insert(1, unitBox(mgl32.Vec3{5, 5, 5}))
	h.Remove(0)

	if h.Len() != 1 {
		t.Errorf("expected 1 tracked object, got %d", h.Len())
	}
	if got := h.QueryRadius(mgl32.Vec3{5, 5, 5}, 3); len(got) != 1 || got[0] != 1 {
		t.Errorf("expected only object 1, got %v", got)
	}
	// Removing twice is a no-op.
	h.Remove(0)
}

func TestAdjustCellSizeGrows(t *testing.T) {
	h := NewHash(10)
	// Default capacity is 16; 13 occupied cells puts load at 0.8125.
	for i := 0; i < 13; i++ {
		h.Insert(i, unitBox(mgl32.Vec3{float32(i)*10 + 5, 5, 5}))
	}
	if load := h.LoadFactor(); load <= growThreshold {
		t.Fatalf("setup failed, load %v not above threshold", load)
	}

	if !h.AdjustCellSize() {
		t.Fatal("expected a resize")
	}
	if h.CellSize != 20 {
		t.Errorf("expected cell size to double to 20, got %v", h.CellSize)
	}
}

func TestAdjustCellSizeShrinks(t *testing.T) {
	h := NewHash(10)
	// 2 of 16 cells is load 0.125, below the quarter-threshold band.
	h.Insert(0, unitBox(mgl32.Vec3{5, 5, 5}))
	h.Insert(1, unitBox(mgl32.Vec3{105, 5, 5}))

	if !h.AdjustCellSize() {
		t.Fatal("expected a resize")
	}
	if h.CellSize != 5 {
		t.Errorf("expected cell size to halve to 5, got %v", h.CellSize)
	}
}

func TestAdjustCellSizeHysteresisBand(t *testing.T) {
	h := NewHash(10)
	// 8 of 16 cells is load 0.5, inside the band: no resize.
	for i := 0; i < 8; i++ {
		h.Insert(i, unitBox(mgl32.Vec3{float32(i)*10 + 5, 5, 5}))
	}
	if h.AdjustCellSize() {
		t.Errorf("load 0.5 should not trigger a resize, cell size now %v", h.CellSize)
	}
}

func TestNegativeCoordinates(t *testing.T) {
	h := NewHash(10)
	h.Insert(0, unitBox(mgl32.Vec3{-5, -5, -5}))
	h.Insert(1, unitBox(mgl32.Vec3{-6, -5, -5}))

	pairs := h.PotentialPairs()
	if len(pairs) != 1 {
		t.Errorf("objects in the same negative cell should pair, got %v", pairs)
	}
	// Cell -1 and cell 0 must be distinct.
	a := h.cellOf(mgl32.Vec3{-0.5, 0, 0})
	b := h.cellOf(mgl32.Vec3{0.5, 0, 0})
	if a == b {
		t.Error("points either side of the origin share a cell")
	}
}
