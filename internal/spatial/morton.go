package spatial

import "sort"

// MortonKey interleaves the bits of the three cell coordinates into a single
// Z-order key. Spatially adjacent cells land on nearby keys, which improves
// locality when keys are sorted or used to shard work.
func MortonKey(c Cell) uint64 {
	x := uint64(uint32(c.X)) & 0x1fffff // 21 bits per axis
	y := uint64(uint32(c.Y)) & 0x1fffff
	z := uint64(uint32(c.Z)) & 0x1fffff
	return expandBits(x) | expandBits(y)<<1 | expandBits(z)<<2
}

// expandBits spreads the low 21 bits of v so there are two zero bits between
// each original bit.
func expandBits(v uint64) uint64 {
	v = (v | v<<32) & 0x1f00000000ffff
	v = (v | v<<16) & 0x1f0000ff0000ff
	v = (v | v<<8) & 0x100f00f00f00f00f
	v = (v | v<<4) & 0x10c30c30c30c30c3
	v = (v | v<<2) & 0x1249249249249249
	return v
}

// MortonHash wraps Hash with a PotentialPairs that visits buckets in Z-order
// so pair generation for neighboring regions stays contiguous.
type MortonHash struct {
	Hash
}

// NewMortonHash builds an empty Morton-ordered grid.
func NewMortonHash(cellSize float32) *MortonHash {
	return &MortonHash{Hash: *NewHash(cellSize)}
}

// PotentialPairs returns the same pair set as Hash.PotentialPairs but
// deterministically ordered by the Morton key of the first shared cell.
func (h *MortonHash) PotentialPairs() [][2]int {
	type keyed struct {
		key  uint64
		pair [2]int
	}
	firstKey := make(map[[2]int]uint64)
	for c, bucket := range h.grid {
		k := MortonKey(c)
		for i := 0; i < len(bucket); i++ {
			for j := i + 1; j < len(bucket); j++ {
				a, b := bucket[i], bucket[j]
				if a > b {
					a, b = b, a
				}
				p := [2]int{a, b}
				if prev, ok := firstKey[p]; !ok || k < prev {
					firstKey[p] = k
				}
			}
		}
	}
	out := make([]keyed, 0, len(firstKey))
	for p, k := range firstKey {
		out = append(out, keyed{key: k, pair: p})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].key != out[j].key {
			return out[i].key < out[j].key
		}
		if out[i].pair[0] != out[j].pair[0] {
			return out[i].pair[0] < out[j].pair[0]
		}
		return out[i].pair[1] < out[j].pair[1]
	})
	pairs := make([][2]int, len(out))
	for i, kp := range out {
		pairs[i] = kp.pair
	}
	return pairs
}
