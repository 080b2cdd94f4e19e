package phys

// Island is a connected component of objects linked by constraints. Islands
// share no objects, so distinct islands can be solved on separate goroutines
// with no locking.
type Island struct {
	Objects     []int
	Constraints []int
}

type unionFind struct {
	parent []int
	rank   []uint8
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]uint8, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]] // path halving
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
}

// buildIslands partitions the live objects into connected components under
// the given constraints. Objects touched by no constraint each form a
// singleton island so the predict and velocity stages still visit them
// through the same fan-out.
func buildIslands(store *Store, constraints []Constraint) []Island {
	n := store.Len()
	if n == 0 {
		return nil
	}

	uf := newUnionFind(n)
	for i := range constraints {
		a, b := constraints[i].refs()
		if store.Valid(a) && store.Valid(b) && a != b {
			uf.union(a, b)
		}
	}

	byRoot := make(map[int]int) // root index -> island slot
	var islands []Island

	slot := func(root int) int {
		s, ok := byRoot[root]
		if !ok {
			s = len(islands)
			byRoot[root] = s
			islands = append(islands, Island{})
		}
		return s
	}

	for i := 0; i < n; i++ {
		if !store.Valid(i) {
			continue
		}
		s := slot(uf.find(i))
		islands[s].Objects = append(islands[s].Objects, i)
	}
	for ci := range constraints {
		a, _ := constraints[ci].refs()
		if !store.Valid(a) {
			continue
		}
		s := slot(uf.find(a))
		islands[s].Constraints = append(islands[s].Constraints, ci)
	}
	return islands
}
