package storage

import (
	"github.com/pkg/errors"
)

// Array is a dense Storage over the inclusive index box [min, max]. Indices outside
// the box are rejected by Insert.
type Array[V any] struct {
	min, max Index
	strides  Index
	cells    []V
	present  []bool
	size     int
}

// NewArray returns an empty Array covering [lo, hi].
func NewArray[V any](lo, hi Index) (*Array[V], error) {
	var extent Index
	for k := 0; k < 3; k++ {
		if hi[k] < lo[k] {
			return nil, errors.Errorf("array storage max %v is below min %v", hi, lo)
		}
		extent[k] = hi[k] - lo[k] + 1
	}
	total := extent[0] * extent[1] * extent[2]
	if total <= 0 || total/extent[0]/extent[1] != extent[2] {
		return nil, errors.Errorf("array storage range %v..%v is too large", lo, hi)
	}
	return &Array[V]{
		min:     lo,
		max:     hi,
		strides: Index{1, extent[0], extent[0] * extent[1]},
		cells:   make([]V, total),
		present: make([]bool, total),
	}, nil
}

// Min returns the lowest index the array holds.
func (a *Array[V]) Min() Index { return a.min }

// Max returns the highest index the array holds.
func (a *Array[V]) Max() Index { return a.max }

// InRange reports whether idx falls inside the array's box.
func (a *Array[V]) InRange(idx Index) bool {
	for k := 0; k < 3; k++ {
		if idx[k] < a.min[k] || idx[k] > a.max[k] {
			return false
		}
	}
	return true
}

func (a *Array[V]) offset(idx Index) int {
	off := 0
	for k := 0; k < 3; k++ {
		off += (idx[k] - a.min[k]) * a.strides[k]
	}
	return off
}

func (a *Array[V]) index(off int) Index {
	var idx Index
	for k := 2; k >= 0; k-- {
		idx[k] = off/a.strides[k] + a.min[k]
		off %= a.strides[k]
	}
	return idx
}

// Get returns the value at idx.
func (a *Array[V]) Get(idx Index) (V, bool) {
	var zero V
	if !a.InRange(idx) {
		return zero, false
	}
	off := a.offset(idx)
	if !a.present[off] {
		return zero, false
	}
	return a.cells[off], true
}

// Insert stores v at idx if nothing is there yet.
func (a *Array[V]) Insert(idx Index, v V) (V, bool) {
	if !a.InRange(idx) {
		var zero V
		return zero, false
	}
	off := a.offset(idx)
	if a.present[off] {
		return a.cells[off], true
	}
	a.cells[off] = v
	a.present[off] = true
	a.size++
	return v, true
}

// Contains reports whether idx holds a value.
func (a *Array[V]) Contains(idx Index) bool {
	return a.InRange(idx) && a.present[a.offset(idx)]
}

// Traverse visits values in memory order: x fastest, z slowest.
func (a *Array[V]) Traverse(fn func(idx Index, v V) bool) {
	for off, ok := range a.present {
		if ok && !fn(a.index(off), a.cells[off]) {
			return
		}
	}
}

// Size returns the number of stored values.
func (a *Array[V]) Size() int {
	return a.size
}
