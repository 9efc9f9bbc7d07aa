package storage

// Hashed is an unbounded Storage backed by a Go map.
type Hashed[V any] struct {
	cells map[Index]V
}

// NewHashed returns an empty Hashed storage.
func NewHashed[V any]() *Hashed[V] {
	return &Hashed[V]{cells: map[Index]V{}}
}

// Get returns the value at idx.
func (h *Hashed[V]) Get(idx Index) (V, bool) {
	v, ok := h.cells[idx]
	return v, ok
}

// Insert stores v at idx if nothing is there yet. Every index is in range.
func (h *Hashed[V]) Insert(idx Index, v V) (V, bool) {
	if existing, ok := h.cells[idx]; ok {
		return existing, true
	}
	h.cells[idx] = v
	return v, true
}

// Contains reports whether idx holds a value.
func (h *Hashed[V]) Contains(idx Index) bool {
	_, ok := h.cells[idx]
	return ok
}

// Traverse visits values in no particular order.
func (h *Hashed[V]) Traverse(fn func(idx Index, v V) bool) {
	for idx, v := range h.cells {
		if !fn(idx, v) {
			return
		}
	}
}

// Size returns the number of stored values.
func (h *Hashed[V]) Size() int {
	return len(h.cells)
}
