// Package raycast walks the voxels a line segment passes through.
package raycast

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/ndtmap/storage"
)

// Iterator visits the cells of a grid with cubic cells of side step crossed by the segment from
// start to end, beginning with the cell holding start and stopping before the cell holding end.
// Consecutive cells share a face, so the number of visited cells is the manhattan distance
// between the first and last cell.
type Iterator struct {
	dims      int
	current   storage.Index
	end       storage.Index
	step      storage.Index
	tMax      [3]float64
	tDelta    [3]float64
	remaining int
}

// NewIterator returns an Iterator over a grid of the given step size. dims is 2 or 3; a 2D
// iterator ignores z.
func NewIterator(start, end r3.Vector, step float64, dims int) *Iterator {
	it := &Iterator{dims: dims}
	from := [3]float64{start.X, start.Y, start.Z}
	to := [3]float64{end.X, end.Y, end.Z}

	for k := 0; k < 3; k++ {
		it.tMax[k] = math.Inf(1)
		it.tDelta[k] = math.Inf(1)
		if k >= dims {
			continue
		}
		it.current[k] = int(math.Floor(from[k] / step))
		it.end[k] = int(math.Floor(to[k] / step))

		dir := to[k] - from[k]
		switch {
		case it.end[k] > it.current[k]:
			it.step[k] = 1
			it.tMax[k] = (float64(it.current[k]+1)*step - from[k]) / dir
			it.tDelta[k] = step / dir
		case it.end[k] < it.current[k]:
			it.step[k] = -1
			it.tMax[k] = (float64(it.current[k])*step - from[k]) / dir
			it.tDelta[k] = -step / dir
		}

		d := it.end[k] - it.current[k]
		if d < 0 {
			d = -d
		}
		it.remaining += d
	}
	return it
}

// Done reports whether the iterator has reached the end cell.
func (it *Iterator) Done() bool {
	return it.remaining <= 0
}

// Next advances to the neighbouring cell the segment enters first. Only axes that have not
// reached the end cell are considered, which keeps the walk bounded under rounding.
func (it *Iterator) Next() {
	if it.Done() {
		return
	}
	axis := -1
	for k := 0; k < it.dims; k++ {
		if it.current[k] == it.end[k] {
			continue
		}
		if axis < 0 || it.tMax[k] < it.tMax[axis] {
			axis = k
		}
	}
	it.current[axis] += it.step[axis]
	it.tMax[axis] += it.tDelta[axis]
	it.remaining--
}

// Index returns the current cell.
func (it *Iterator) Index() storage.Index {
	return it.current
}

// X returns the x index of the current cell.
func (it *Iterator) X() int { return it.current[0] }

// Y returns the y index of the current cell.
func (it *Iterator) Y() int { return it.current[1] }

// Z returns the z index of the current cell.
func (it *Iterator) Z() int { return it.current[2] }

// Remaining returns how many cells are left before the end cell.
func (it *Iterator) Remaining() int {
	return it.remaining
}
