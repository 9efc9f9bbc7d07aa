package raycast

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"go.viam.com/test"

	"go.viam.com/ndtmap/storage"
)

func walk(it *Iterator) []storage.Index {
	var out []storage.Index
	for !it.Done() {
		out = append(out, it.Index())
		it.Next()
	}
	return out
}

func TestIteratorAxisAligned(t *testing.T) {
	got := walk(NewIterator(r3.Vector{}, r3.Vector{X: 5}, 0.5, 3))
	var want []storage.Index
	for x := 0; x < 10; x++ {
		want = append(want, storage.Index{x, 0, 0})
	}
	test.That(t, cmp.Diff(want, got), test.ShouldBeEmpty)

	got = walk(NewIterator(r3.Vector{X: 0.2, Y: 0.2}, r3.Vector{X: 0.2, Y: -1.8}, 1, 3))
	test.That(t, cmp.Diff([]storage.Index{{0, 0, 0}, {0, -1, 0}}, got), test.ShouldBeEmpty)
}

func TestIteratorSameCell(t *testing.T) {
	it := NewIterator(r3.Vector{X: 0.1, Y: 0.1, Z: 0.1}, r3.Vector{X: 0.4, Y: 0.3, Z: 0.2}, 0.5, 3)
	test.That(t, it.Done(), test.ShouldBeTrue)
	test.That(t, it.Remaining(), test.ShouldEqual, 0)
	it.Next()
	test.That(t, it.Index(), test.ShouldResemble, storage.Index{0, 0, 0})
}

func TestIteratorDiagonal(t *testing.T) {
	start := r3.Vector{X: 0.25, Y: 0.1, Z: -0.3}
	end := r3.Vector{X: 3.7, Y: -2.2, Z: 1.9}
	step := 0.5
	cells := walk(NewIterator(start, end, step, 3))

	first := storage.Index{0, 0, -1}
	last := storage.Index{
		int(math.Floor(end.X / step)),
		int(math.Floor(end.Y / step)),
		int(math.Floor(end.Z / step)),
	}
	manhattan := 0
	for k := 0; k < 3; k++ {
		manhattan += int(math.Abs(float64(last[k] - first[k])))
	}
	test.That(t, len(cells), test.ShouldEqual, manhattan)
	test.That(t, cells[0], test.ShouldResemble, first)

	// every step moves one axis by one cell toward the end
	prev := cells[0]
	for _, c := range cells[1:] {
		moved := 0
		for k := 0; k < 3; k++ {
			d := c[k] - prev[k]
			test.That(t, d*d <= 1, test.ShouldBeTrue)
			moved += d * d
		}
		test.That(t, moved, test.ShouldEqual, 1)
		prev = c
	}
	test.That(t, cells, test.ShouldNotContain, last)

	// each visited cell is crossed by the segment
	for _, c := range cells {
		lo := r3.Vector{X: float64(c[0]) * step, Y: float64(c[1]) * step, Z: float64(c[2]) * step}
		hi := lo.Add(r3.Vector{X: step, Y: step, Z: step})
		test.That(t, segmentHitsBox(start, end, lo, hi), test.ShouldBeTrue)
	}
}

func TestIterator2D(t *testing.T) {
	it := NewIterator(r3.Vector{X: 0.1, Y: 0.1, Z: 5}, r3.Vector{X: 1.1, Y: 1.1, Z: -5}, 1, 2)
	test.That(t, it.Remaining(), test.ShouldEqual, 2)
	cells := walk(it)
	test.That(t, len(cells), test.ShouldEqual, 2)
	for _, c := range cells {
		test.That(t, c[2], test.ShouldEqual, 0)
	}
	test.That(t, it.X(), test.ShouldEqual, 1)
	test.That(t, it.Y(), test.ShouldEqual, 1)
	test.That(t, it.Z(), test.ShouldEqual, 0)
}

// segmentHitsBox is a slab test with a small tolerance for rays that graze an edge.
func segmentHitsBox(start, end, lo, hi r3.Vector) bool {
	const eps = 1e-9
	tmin, tmax := 0.0, 1.0
	s := [3]float64{start.X, start.Y, start.Z}
	d := [3]float64{end.X - start.X, end.Y - start.Y, end.Z - start.Z}
	l := [3]float64{lo.X, lo.Y, lo.Z}
	h := [3]float64{hi.X, hi.Y, hi.Z}
	for k := 0; k < 3; k++ {
		if d[k] == 0 {
			if s[k] < l[k]-eps || s[k] > h[k]+eps {
				return false
			}
			continue
		}
		t0 := (l[k] - s[k]) / d[k]
		t1 := (h[k] - s[k]) / d[k]
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		tmin = math.Max(tmin, t0)
		tmax = math.Min(tmax, t1)
	}
	return tmin <= tmax+eps
}
