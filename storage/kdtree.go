package storage

import (
	"gonum.org/v1/gonum/spatial/kdtree"
)

// kdEntry is a kdtree.Comparable pointing at a slot in KDTree.values. Queries use slot -1.
type kdEntry struct {
	idx  Index
	slot int
	dims int
}

func (e kdEntry) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return float64(e.idx[d] - c.(kdEntry).idx[d])
}

func (e kdEntry) Dims() int { return e.dims }

// Distance returns the squared euclidean distance between indices.
func (e kdEntry) Distance(c kdtree.Comparable) float64 {
	o := c.(kdEntry)
	var sum float64
	for k := 0; k < e.dims; k++ {
		d := float64(e.idx[k] - o.idx[k])
		sum += d * d
	}
	return sum
}

// kdEntries is the kdtree.Interface used to build a balanced tree.
type kdEntries []kdEntry

func (p kdEntries) Index(i int) kdtree.Comparable { return p[i] }
func (p kdEntries) Len() int                      { return len(p) }
func (p kdEntries) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}

func (p kdEntries) Pivot(d kdtree.Dim) int {
	plane := kdPlane{entries: p, dim: d}
	return kdtree.Partition(plane, kdtree.MedianOfRandoms(plane, kdMedianSamples))
}

// kdPlane orders entries along one dimension.
type kdPlane struct {
	entries kdEntries
	dim     kdtree.Dim
}

func (p kdPlane) Len() int           { return len(p.entries) }
func (p kdPlane) Less(i, j int) bool { return p.entries[i].idx[p.dim] < p.entries[j].idx[p.dim] }
func (p kdPlane) Swap(i, j int)      { p.entries[i], p.entries[j] = p.entries[j], p.entries[i] }
func (p kdPlane) Slice(start, end int) kdtree.SortSlicer {
	p.entries = p.entries[start:end]
	return p
}

const (
	kdMedianSamples = 100
	// kdMinTail is how many entries may wait outside the tree before the first build.
	kdMinTail = 64
)

// KDTree is an unbounded Storage backed by a gonum k-d tree. New entries collect in a tail
// until it outgrows the tree, then the tree is rebuilt balanced over everything, so lookups
// stay logarithmic however the indices arrive.
type KDTree[V any] struct {
	dims    int
	tree    *kdtree.Tree
	entries []kdEntry // entries[:built] are in tree, the rest in tail
	built   int
	tail    map[Index]int
	values  []V
}

// NewKDTree returns an empty KDTree over 2 or 3 dimensional indices.
func NewKDTree[V any](dims int) *KDTree[V] {
	return &KDTree[V]{dims: dims, tree: &kdtree.Tree{}, tail: map[Index]int{}}
}

func (t *KDTree[V]) query(idx Index) kdEntry {
	if t.dims == 2 {
		idx[2] = 0
	}
	return kdEntry{idx: idx, slot: -1, dims: t.dims}
}

// find descends to the only node that can hold q. Building and inserting both put entries equal
// to a node on its plane to the left.
func (t *KDTree[V]) find(idx Index) (int, bool) {
	q := t.query(idx)
	if slot, ok := t.tail[q.idx]; ok {
		return slot, true
	}
	for n := t.tree.Root; n != nil; {
		e := n.Point.(kdEntry)
		if e.idx == q.idx {
			return e.slot, true
		}
		if q.Compare(e, n.Plane) <= 0 {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return 0, false
}

func (t *KDTree[V]) rebuild() {
	points := make(kdEntries, len(t.entries))
	copy(points, t.entries)
	t.tree = kdtree.New(points, false)
	t.built = len(t.entries)
	clear(t.tail)
}

// depth returns the length of the longest path from the root.
func (t *KDTree[V]) depth() int {
	var walk func(n *kdtree.Node) int
	walk = func(n *kdtree.Node) int {
		if n == nil {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(t.tree.Root)
}

// Get returns the value at idx.
func (t *KDTree[V]) Get(idx Index) (V, bool) {
	slot, ok := t.find(idx)
	if !ok {
		var zero V
		return zero, false
	}
	return t.values[slot], true
}

// Insert stores v at idx if nothing is there yet. Every index is in range; a 2D tree
// ignores the third component.
func (t *KDTree[V]) Insert(idx Index, v V) (V, bool) {
	if slot, ok := t.find(idx); ok {
		return t.values[slot], true
	}
	e := t.query(idx)
	e.slot = len(t.values)
	t.values = append(t.values, v)
	t.entries = append(t.entries, e)
	t.tail[e.idx] = e.slot
	if len(t.tail) > max(kdMinTail, t.built) {
		t.rebuild()
	}
	return v, true
}

// Contains reports whether idx holds a value.
func (t *KDTree[V]) Contains(idx Index) bool {
	_, ok := t.find(idx)
	return ok
}

// Traverse visits the values in the tree in tree order, then the ones still waiting in the tail
// in insertion order.
func (t *KDTree[V]) Traverse(fn func(idx Index, v V) bool) {
	stopped := t.tree.Do(func(c kdtree.Comparable, _ *kdtree.Bounding, _ int) bool {
		e := c.(kdEntry)
		return !fn(e.idx, t.values[e.slot])
	})
	if stopped {
		return
	}
	for _, e := range t.entries[t.built:] {
		if !fn(e.idx, t.values[e.slot]) {
			return
		}
	}
}

// Size returns the number of stored values.
func (t *KDTree[V]) Size() int {
	return len(t.values)
}
