package ndt

import (
	"sync"

	"github.com/golang/geo/r3"
)

// OccupancyDistribution is the accumulator held in every voxel: a gaussian over the points that
// hit the voxel plus counts of hits and misses. It is safe for concurrent use.
type OccupancyDistribution struct {
	mu          sync.RWMutex
	dims        int
	numOccupied int
	numFree     int
	dist        *Distribution
}

// NewOccupancyDistribution returns an accumulator that has seen nothing.
func NewOccupancyDistribution(dims int) *OccupancyDistribution {
	return &OccupancyDistribution{dims: dims}
}

// UpdateOccupied records a hit at p.
func (o *OccupancyDistribution) UpdateOccupied(p r3.Vector) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dist == nil {
		o.dist = NewDistribution(o.dims)
	}
	o.dist.Add(p)
	o.numOccupied++
}

// UpdateOccupiedDistribution records every point of d as a hit.
func (o *OccupancyDistribution) UpdateOccupiedDistribution(d *Distribution) {
	if d == nil || d.N() == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dist == nil {
		o.dist = NewDistribution(o.dims)
	}
	o.dist.Merge(d)
	o.numOccupied += d.N()
}

// UpdateFree records a miss.
func (o *OccupancyDistribution) UpdateFree() {
	o.UpdateFreeN(1)
}

// UpdateFreeN records n misses.
func (o *OccupancyDistribution) UpdateFreeN(n int) {
	o.mu.Lock()
	o.numFree += n
	o.mu.Unlock()
}

// NumOccupied returns the number of hits recorded.
func (o *OccupancyDistribution) NumOccupied() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.numOccupied
}

// NumFree returns the number of misses recorded.
func (o *OccupancyDistribution) NumFree() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.numFree
}

// Occupancy returns the probability the voxel is occupied under model. A nil model yields 0.
func (o *OccupancyDistribution) Occupancy(model *InverseModel) float64 {
	if model == nil {
		return 0
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return model.Occupancy(o.numOccupied, o.numFree)
}

// Distribution returns a copy of the hit distribution, or nil if there have been no hits.
func (o *OccupancyDistribution) Distribution() *Distribution {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.dist == nil {
		return nil
	}
	return o.dist.Clone()
}

// Gaussian returns the gaussian fitted to the hits, or nil if none can be fitted yet.
func (o *OccupancyDistribution) Gaussian() *Gaussian {
	o.mu.RLock()
	if o.dist == nil {
		o.mu.RUnlock()
		return nil
	}
	g, ok := o.dist.cached()
	o.mu.RUnlock()
	if ok {
		return g
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dist.Gaussian()
}

// Sample returns the normalized density at p weighted by the occupancy under model. Voxels
// without a fitted gaussian yield 0.
func (o *OccupancyDistribution) Sample(p r3.Vector, model *InverseModel) float64 {
	g := o.Gaussian()
	if g == nil {
		return 0
	}
	return g.Sample(p) * o.Occupancy(model)
}

// SampleNonNormalized is Sample with the density scaled so its peak is 1.
func (o *OccupancyDistribution) SampleNonNormalized(p r3.Vector, model *InverseModel) float64 {
	g := o.Gaussian()
	if g == nil {
		return 0
	}
	return g.SampleNonNormalized(p) * o.Occupancy(model)
}

// Clone returns a deep copy of o.
func (o *OccupancyDistribution) Clone() *OccupancyDistribution {
	o.mu.RLock()
	defer o.mu.RUnlock()
	c := &OccupancyDistribution{dims: o.dims, numOccupied: o.numOccupied, numFree: o.numFree}
	if o.dist != nil {
		c.dist = o.dist.Clone()
	}
	return c
}
