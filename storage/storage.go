// Package storage provides sparse integer-indexed containers for grid cells.
//
// None of the backends are safe for concurrent use; callers that share a Storage
// across goroutines must serialize access themselves.
package storage

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Index addresses a cell of an integer lattice. Two dimensional users leave the
// third component at zero.
type Index [3]int

// Add returns the component-wise sum of two indices.
func (i Index) Add(o Index) Index {
	return Index{i[0] + o[0], i[1] + o[1], i[2] + o[2]}
}

// String returns the index as (x, y, z).
func (i Index) String() string {
	return fmt.Sprintf("(%d, %d, %d)", i[0], i[1], i[2])
}

// Less orders indices lexicographically by x, then y, then z.
func (i Index) Less(o Index) bool {
	for k := 0; k < 3; k++ {
		if i[k] != o[k] {
			return i[k] < o[k]
		}
	}
	return false
}

// Storage maps indices to values.
type Storage[V any] interface {
	// Get returns the value at idx and whether one is present.
	Get(idx Index) (V, bool)

	// Insert stores v at idx unless a value is already present there, and returns the
	// value now held at idx. It returns false if idx cannot be held by this storage, in
	// which case nothing is stored.
	Insert(idx Index, v V) (V, bool)

	// Contains reports whether a value is present at idx.
	Contains(idx Index) bool

	// Traverse calls fn for every present value. Returning false from fn stops the
	// traversal.
	Traverse(fn func(idx Index, v V) bool)

	// Size returns the number of present values.
	Size() int
}

// Bounded is implemented by storages that only hold a fixed range of indices.
type Bounded interface {
	InRange(idx Index) bool
}

// Backend selects a Storage implementation.
type Backend int

const (
	// BackendHashed is an unbounded hash map.
	BackendHashed Backend = iota
	// BackendKDTree is an unbounded k-d tree.
	BackendKDTree
	// BackendArray is a dense array over a fixed index range.
	BackendArray
)

var backendNames = map[Backend]string{
	BackendHashed: "hashed",
	BackendKDTree: "kdtree",
	BackendArray:  "array",
}

func (b Backend) String() string {
	if name, ok := backendNames[b]; ok {
		return name
	}
	return fmt.Sprintf("Backend(%d)", int(b))
}

// ParseBackend returns the Backend with the given name. The empty string selects BackendHashed.
func ParseBackend(name string) (Backend, error) {
	if name == "" {
		return BackendHashed, nil
	}
	for b, n := range backendNames {
		if strings.EqualFold(n, name) {
			return b, nil
		}
	}
	return 0, errors.Errorf("unknown storage backend %q", name)
}

// Options configures a Storage built by New.
type Options struct {
	Backend Backend
	// Dimensions is 2 or 3. Only the kdtree backend uses it.
	Dimensions int
	// Min and Max bound the array backend, inclusive.
	Min, Max Index
}

// New returns an empty Storage of the requested backend.
func New[V any](opts Options) (Storage[V], error) {
	switch opts.Backend {
	case BackendHashed:
		return NewHashed[V](), nil
	case BackendKDTree:
		dims := opts.Dimensions
		if dims == 0 {
			dims = 3
		}
		if dims != 2 && dims != 3 {
			return nil, errors.Errorf("kdtree storage needs 2 or 3 dimensions, got %d", dims)
		}
		return NewKDTree[V](dims), nil
	case BackendArray:
		return NewArray[V](opts.Min, opts.Max)
	default:
		return nil, errors.Errorf("unknown storage backend %v", opts.Backend)
	}
}

// FloorDiv returns a/b rounded toward negative infinity. b must be positive.
func FloorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

// FloorMod returns the non-negative remainder of a/b. b must be positive.
func FloorMod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
