// Package gridmap implements a dynamic normal distributions transform occupancy map.
//
// Space is covered by 2^d corner lattices of full resolution cells, each shifted by half a cell
// along a different subset of axes. A half resolution bundle cell picks one cell out of every
// lattice; those cells all overlap the bundle, and averaging them interpolates the map between
// cell centres. Bundles and their cells are allocated on first touch and never freed.
package gridmap

import (
	"math"
	"sort"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.viam.com/ndtmap/logging"
	"go.viam.com/ndtmap/ndt"
	"go.viam.com/ndtmap/pointcloud"
	"go.viam.com/ndtmap/spatialmath"
	"go.viam.com/ndtmap/storage"
)

// Options selects the dimensionality and storage backend of a map.
type Options struct {
	// Dimensions is 2 or 3. Zero means 3.
	Dimensions int
	Backend    storage.Backend
	// BundleMin and BundleMax bound the bundle indices an array backed map can hold, inclusive.
	BundleMin, BundleMax storage.Index
}

// lattice is one corner lattice and the lock serializing its get-or-insert.
type lattice struct {
	mu    sync.Mutex
	store storage.Storage[*ndt.OccupancyDistribution]
}

func (l *lattice) getAllocate(si storage.Index, dims int) (*ndt.OccupancyDistribution, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d, ok := l.store.Get(si); ok {
		return d, true
	}
	return l.store.Insert(si, ndt.NewOccupancyDistribution(dims))
}

// OccupancyGridmap is an unbounded NDT occupancy map. All methods are safe for concurrent use.
type OccupancyGridmap struct {
	id     uuid.UUID
	logger logging.Logger
	opts   Options
	dims   int

	resolution          float64
	bundleResolution    float64
	bundleResolutionInv float64
	wTm                 spatialmath.Pose
	mTw                 spatialmath.Pose

	// mu guards bundles and the bounding index. It is always taken before a lattice lock.
	mu       sync.RWMutex
	bundles  storage.Storage[*Bundle]
	minIndex storage.Index
	maxIndex storage.Index

	lattices []*lattice
	counters counters
}

// NewOccupancyGridmap returns an empty 3D map with hashed storage whose map frame sits at origin
// in the world.
func NewOccupancyGridmap(origin spatialmath.Pose, resolution float64, logger logging.Logger) (*OccupancyGridmap, error) {
	return NewOccupancyGridmapWithOptions(origin, resolution, Options{}, logger)
}

// NewOccupancyGridmapWithOptions returns an empty map with the given dimensionality and backend.
func NewOccupancyGridmapWithOptions(
	origin spatialmath.Pose,
	resolution float64,
	opts Options,
	logger logging.Logger,
) (*OccupancyGridmap, error) {
	if opts.Dimensions == 0 {
		opts.Dimensions = 3
	}
	if opts.Dimensions != 2 && opts.Dimensions != 3 {
		return nil, errors.Errorf("map dimensions must be 2 or 3, got %d", opts.Dimensions)
	}

	bundles, err := storage.New[*Bundle](storage.Options{
		Backend:    opts.Backend,
		Dimensions: opts.Dimensions,
		Min:        opts.BundleMin,
		Max:        opts.BundleMax,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating bundle storage")
	}

	// every corner of an in-range bundle lands inside these bounds
	var latticeMin, latticeMax storage.Index
	for k := 0; k < opts.Dimensions; k++ {
		latticeMin[k] = storage.FloorDiv(opts.BundleMin[k], 2)
		latticeMax[k] = storage.FloorDiv(opts.BundleMax[k], 2) + 1
	}
	lattices := make([]storage.Storage[*ndt.OccupancyDistribution], NumCorners(opts.Dimensions))
	for k := range lattices {
		lattices[k], err = storage.New[*ndt.OccupancyDistribution](storage.Options{
			Backend:    opts.Backend,
			Dimensions: opts.Dimensions,
			Min:        latticeMin,
			Max:        latticeMax,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "creating corner lattice %d", k)
		}
	}

	return newOccupancyGridmap(origin, resolution, opts, bundles, lattices, emptyMinIndex(), emptyMaxIndex(), logger)
}

// NewOccupancyGridmapFromStorages returns a map over existing storages, for example ones
// restored from elsewhere. The bundles must point into the given lattices, and the storages
// must not be used by anything else afterwards.
func NewOccupancyGridmapFromStorages(
	origin spatialmath.Pose,
	resolution float64,
	dims int,
	bundles storage.Storage[*Bundle],
	lattices []storage.Storage[*ndt.OccupancyDistribution],
	minIndex, maxIndex storage.Index,
	logger logging.Logger,
) (*OccupancyGridmap, error) {
	if dims != 2 && dims != 3 {
		return nil, errors.Errorf("map dimensions must be 2 or 3, got %d", dims)
	}
	if len(lattices) != NumCorners(dims) {
		return nil, errors.Errorf("a %dD map needs %d corner lattices, got %d", dims, NumCorners(dims), len(lattices))
	}
	opts := Options{Dimensions: dims}
	switch store := bundles.(type) {
	case *storage.Array[*Bundle]:
		opts.Backend = storage.BackendArray
		opts.BundleMin, opts.BundleMax = store.Min(), store.Max()
	case *storage.KDTree[*Bundle]:
		opts.Backend = storage.BackendKDTree
	}
	return newOccupancyGridmap(origin, resolution, opts, bundles, lattices, minIndex, maxIndex, logger)
}

func newOccupancyGridmap(
	origin spatialmath.Pose,
	resolution float64,
	opts Options,
	bundles storage.Storage[*Bundle],
	lattices []storage.Storage[*ndt.OccupancyDistribution],
	minIndex, maxIndex storage.Index,
	logger logging.Logger,
) (*OccupancyGridmap, error) {
	if !(resolution > 0) || math.IsInf(resolution, 0) {
		return nil, errors.Errorf("map resolution must be positive, got %v", resolution)
	}
	if origin == nil {
		origin = spatialmath.NewZeroPose()
	}
	m := &OccupancyGridmap{
		id:                  uuid.New(),
		logger:              logger,
		opts:                opts,
		dims:                opts.Dimensions,
		resolution:          resolution,
		bundleResolution:    resolution / 2,
		bundleResolutionInv: 2 / resolution,
		wTm:                 origin,
		mTw:                 spatialmath.PoseInverse(origin),
		bundles:             bundles,
		minIndex:            minIndex,
		maxIndex:            maxIndex,
	}
	for _, store := range lattices {
		m.lattices = append(m.lattices, &lattice{store: store})
	}
	m.logger.Debugw("created occupancy gridmap",
		"map", m.id, "resolution", resolution, "dimensions", m.dims, "backend", opts.Backend)
	return m, nil
}

func emptyMinIndex() storage.Index {
	return storage.Index{math.MaxInt, math.MaxInt, math.MaxInt}
}

func emptyMaxIndex() storage.Index {
	return storage.Index{math.MinInt, math.MinInt, math.MinInt}
}

// ID returns the identity of the map, used in logs and metrics.
func (m *OccupancyGridmap) ID() uuid.UUID {
	return m.id
}

// Dimensions returns 2 or 3.
func (m *OccupancyGridmap) Dimensions() int {
	return m.dims
}

// Resolution returns the side length of a corner lattice cell.
func (m *OccupancyGridmap) Resolution() float64 {
	return m.resolution
}

// BundleResolution returns the side length of a bundle cell, half the resolution.
func (m *OccupancyGridmap) BundleResolution() float64 {
	return m.bundleResolution
}

// InitialOrigin returns the pose of the map frame in the world as constructed.
func (m *OccupancyGridmap) InitialOrigin() spatialmath.Pose {
	return m.wTm
}

// Origin returns the construction pose with its translation replaced by Min.
func (m *OccupancyGridmap) Origin() spatialmath.Pose {
	return spatialmath.NewPoseWithTranslation(m.wTm, m.Min())
}

func (m *OccupancyGridmap) toMap(p r3.Vector) r3.Vector {
	pm := spatialmath.TransformPoint(m.mTw, p)
	if m.dims == 2 {
		pm.Z = 0
	}
	return pm
}

// toGrid scales map coordinates so that bundle cells have unit size.
func (m *OccupancyGridmap) toGrid(pm r3.Vector) r3.Vector {
	return pm.Mul(m.bundleResolutionInv)
}

// BundleIndex returns the index of the bundle holding the world point p.
func (m *OccupancyGridmap) BundleIndex(p r3.Vector) storage.Index {
	g := m.toGrid(m.toMap(p))
	bi := storage.Index{int(math.Floor(g.X)), int(math.Floor(g.Y)), int(math.Floor(g.Z))}
	if m.dims == 2 {
		bi[2] = 0
	}
	return bi
}

// FromBundleIndex returns the world position of the centre of bundle bi.
func (m *OccupancyGridmap) FromBundleIndex(bi storage.Index) r3.Vector {
	centre := r3.Vector{
		X: (float64(bi[0]) + 0.5) * m.bundleResolution,
		Y: (float64(bi[1]) + 0.5) * m.bundleResolution,
	}
	if m.dims == 3 {
		centre.Z = (float64(bi[2]) + 0.5) * m.bundleResolution
	}
	return spatialmath.TransformPoint(m.wTm, centre)
}

// DistributionBundle returns the bundle at bi, or nil if it was never allocated. It never
// allocates.
func (m *OccupancyGridmap) DistributionBundle(bi storage.Index) *Bundle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, _ := m.bundles.Get(bi)
	return b
}

// AllocateDistributionBundle returns the bundle at bi, allocating it and its corners if needed.
// It returns nil if the storage cannot hold bi.
func (m *OccupancyGridmap) AllocateDistributionBundle(bi storage.Index) *Bundle {
	return m.getAllocate(bi)
}

func (m *OccupancyGridmap) getAllocate(bi storage.Index) *Bundle {
	m.mu.RLock()
	b, ok := m.bundles.Get(bi)
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bundles.Get(bi); ok {
		return b
	}
	if bounded, ok := m.bundles.(storage.Bounded); ok && !bounded.InRange(bi) {
		m.counters.outOfRange.Inc()
		return nil
	}

	corners := make([]*ndt.OccupancyDistribution, len(m.lattices))
	for k, l := range m.lattices {
		d, ok := l.getAllocate(CornerIndex(bi, k, m.dims), m.dims)
		if !ok {
			m.counters.outOfRange.Inc()
			return nil
		}
		corners[k] = d
	}
	b = &Bundle{index: bi, corners: corners}
	if _, ok := m.bundles.Insert(bi, b); !ok {
		m.counters.outOfRange.Inc()
		return nil
	}
	m.updateIndices(bi)
	return b
}

// updateIndices grows the bounding index to include bi. Callers hold mu for writing.
func (m *OccupancyGridmap) updateIndices(bi storage.Index) {
	for k := 0; k < 3; k++ {
		if bi[k] < m.minIndex[k] {
			m.minIndex[k] = bi[k]
		}
		if bi[k] > m.maxIndex[k] {
			m.maxIndex[k] = bi[k]
		}
	}
}

// Bounds returns the smallest and largest bundle index along each axis, and false if no bundle
// has been allocated.
func (m *OccupancyGridmap) Bounds() (storage.Index, storage.Index, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.minIndex, m.maxIndex, m.minIndex[0] <= m.maxIndex[0]
}

// MinIndex returns the component-wise minimum allocated bundle index.
func (m *OccupancyGridmap) MinIndex() storage.Index {
	minIndex, _, _ := m.Bounds()
	return minIndex
}

// MaxIndex returns the component-wise maximum allocated bundle index.
func (m *OccupancyGridmap) MaxIndex() storage.Index {
	_, maxIndex, _ := m.Bounds()
	return maxIndex
}

// Min returns the lower corner of the allocated extent in the map frame, or the zero vector for
// an empty map.
func (m *OccupancyGridmap) Min() r3.Vector {
	minIndex, _, ok := m.Bounds()
	if !ok {
		return r3.Vector{}
	}
	return m.indexToMap(minIndex)
}

// Max returns the upper corner of the allocated extent in the map frame, or the zero vector for
// an empty map.
func (m *OccupancyGridmap) Max() r3.Vector {
	_, maxIndex, ok := m.Bounds()
	if !ok {
		return r3.Vector{}
	}
	return m.indexToMap(maxIndex.Add(storage.Index{1, 1, 1}))
}

func (m *OccupancyGridmap) indexToMap(bi storage.Index) r3.Vector {
	v := r3.Vector{X: float64(bi[0]) * m.bundleResolution, Y: float64(bi[1]) * m.bundleResolution}
	if m.dims == 3 {
		v.Z = float64(bi[2]) * m.bundleResolution
	}
	return v
}

func (m *OccupancyGridmap) extent(axis int) float64 {
	minIndex, maxIndex, ok := m.Bounds()
	if !ok || axis >= m.dims {
		return 0
	}
	return float64(maxIndex[axis]-minIndex[axis]+1) * m.bundleResolution
}

// Width returns the extent along x.
func (m *OccupancyGridmap) Width() float64 { return m.extent(0) }

// Height returns the extent along y.
func (m *OccupancyGridmap) Height() float64 { return m.extent(1) }

// Depth returns the extent along z. It is 0 for 2D maps.
func (m *OccupancyGridmap) Depth() float64 { return m.extent(2) }

// BundleCount returns the number of allocated bundles.
func (m *OccupancyGridmap) BundleCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bundles.Size()
}

// BundleIndices returns every allocated bundle index in ascending order.
func (m *OccupancyGridmap) BundleIndices() []storage.Index {
	m.mu.RLock()
	indices := make([]storage.Index, 0, m.bundles.Size())
	m.bundles.Traverse(func(bi storage.Index, _ *Bundle) bool {
		indices = append(indices, bi)
		return true
	})
	m.mu.RUnlock()
	sort.Slice(indices, func(i, j int) bool { return indices[i].Less(indices[j]) })
	return indices
}

// Storages returns the corner lattices. They must only be read, and not while the map is being
// written.
func (m *OccupancyGridmap) Storages() []storage.Storage[*ndt.OccupancyDistribution] {
	out := make([]storage.Storage[*ndt.OccupancyDistribution], len(m.lattices))
	for k, l := range m.lattices {
		out[k] = l.store
	}
	return out
}

// Clone returns a deep copy of the map with a new ID. Updates that run concurrently with Clone
// may or may not be included.
func (m *OccupancyGridmap) Clone() (*OccupancyGridmap, error) {
	c, err := NewOccupancyGridmapWithOptions(m.wTm, m.resolution, m.opts, m.logger)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, l := range m.lattices {
		dst := c.lattices[k].store
		l.mu.Lock()
		l.store.Traverse(func(si storage.Index, d *ndt.OccupancyDistribution) bool {
			dst.Insert(si, d.Clone())
			return true
		})
		l.mu.Unlock()
	}
	m.bundles.Traverse(func(bi storage.Index, _ *Bundle) bool {
		corners := make([]*ndt.OccupancyDistribution, len(c.lattices))
		for k, l := range c.lattices {
			corners[k], _ = l.store.Get(CornerIndex(bi, k, c.dims))
		}
		c.bundles.Insert(bi, &Bundle{index: bi, corners: corners})
		return true
	})
	c.minIndex, c.maxIndex = m.minIndex, m.maxIndex
	return c, nil
}

// Add fuses end as a hit and marks every bundle the ray from start passes through before end as
// free. It returns the bundle index of end, and false if either point is not finite, in which
// case nothing is updated, or if the storage cannot hold the bundle of end. In the latter case
// the part of the ray the storage can hold is still marked free.
func (m *OccupancyGridmap) Add(start, end r3.Vector) (storage.Index, bool) {
	if !pointcloud.IsFinite(start) || !pointcloud.IsFinite(end) {
		m.counters.pointsSkipped.Inc()
		return storage.Index{}, false
	}
	bi := m.BundleIndex(end)
	b := m.getAllocate(bi)
	if b != nil {
		b.updateOccupied(end)
		m.counters.pointsInserted.Inc()
	}
	m.castFree(m.toMap(start), m.toMap(end), 1)
	return bi, b != nil
}

// castFree marks the bundles from the one holding start up to, but excluding, the one holding
// end as free n times. Both points are in the map frame.
func (m *OccupancyGridmap) castFree(start, end r3.Vector, n int) {
	m.counters.rays.Inc()
	it := m.newIterator(start, end)
	for ; !it.Done(); it.Next() {
		if b := m.getAllocate(it.Index()); b != nil {
			b.updateFree(n)
			m.counters.freeUpdates.Inc()
		}
	}
}

// Sample returns the occupancy weighted density at the world point p, interpolated over the
// corners of its bundle. Unallocated bundles yield 0 and are not allocated.
func (m *OccupancyGridmap) Sample(p r3.Vector, model *ndt.InverseModel) float64 {
	if b := m.DistributionBundle(m.BundleIndex(p)); b != nil {
		return b.Sample(p, model)
	}
	return 0
}

// SampleNonNormalized is Sample with each corner's density scaled to peak at 1.
func (m *OccupancyGridmap) SampleNonNormalized(p r3.Vector, model *ndt.InverseModel) float64 {
	if b := m.DistributionBundle(m.BundleIndex(p)); b != nil {
		return b.SampleNonNormalized(p, model)
	}
	return 0
}

// Occupancy returns the occupancy probability of the bundle holding p. If the bundle was never
// observed it returns the model's prior and false.
func (m *OccupancyGridmap) Occupancy(p r3.Vector, model *ndt.InverseModel) (float64, bool) {
	b := m.DistributionBundle(m.BundleIndex(p))
	if b == nil {
		return model.ProbPrior(), false
	}
	return b.Occupancy(model), true
}

// Class is the state of a cell.
type Class int

const (
	// Unknown cells have not been observed enough to tell.
	Unknown Class = iota
	// Free cells are at most as likely occupied as after a single miss.
	Free
	// Occupied cells are at least as likely occupied as after a single hit.
	Occupied
)

func (c Class) String() string {
	switch c {
	case Free:
		return "free"
	case Occupied:
		return "occupied"
	default:
		return "unknown"
	}
}

// classifyTolerance absorbs rounding in log odds so a single hit or miss reaches its threshold.
const classifyTolerance = 1e-9

// Classify reports whether the bundle holding p is free, occupied or unknown under model.
func (m *OccupancyGridmap) Classify(p r3.Vector, model *ndt.InverseModel) Class {
	occ, ok := m.Occupancy(p, model)
	switch {
	case !ok:
		return Unknown
	case occ >= model.ProbOccupied()-classifyTolerance:
		return Occupied
	case occ <= model.ProbFree()+classifyTolerance:
		return Free
	default:
		return Unknown
	}
}
