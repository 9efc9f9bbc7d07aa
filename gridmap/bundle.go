package gridmap

import (
	"github.com/golang/geo/r3"

	"go.viam.com/ndtmap/ndt"
	"go.viam.com/ndtmap/storage"
)

// Bundle is the interpolation stencil of one half resolution cell: one accumulator from each
// corner lattice. The accumulators are owned by the lattices; a Bundle only points at them.
type Bundle struct {
	index   storage.Index
	corners []*ndt.OccupancyDistribution
}

// Index returns the bundle index of b.
func (b *Bundle) Index() storage.Index {
	return b.index
}

// Len returns the number of corners: 8 in 3D and 4 in 2D.
func (b *Bundle) Len() int {
	return len(b.corners)
}

// At returns the accumulator of corner k.
func (b *Bundle) At(k int) *ndt.OccupancyDistribution {
	return b.corners[k]
}

// Occupancy returns the mean occupancy of the corners.
func (b *Bundle) Occupancy(model *ndt.InverseModel) float64 {
	var sum float64
	for _, c := range b.corners {
		sum += c.Occupancy(model)
	}
	return sum / float64(len(b.corners))
}

// Sample returns the mean over corners of density times occupancy at p.
func (b *Bundle) Sample(p r3.Vector, model *ndt.InverseModel) float64 {
	var sum float64
	for _, c := range b.corners {
		sum += c.Sample(p, model)
	}
	return sum / float64(len(b.corners))
}

// SampleNonNormalized is Sample with each corner's density scaled to peak at 1.
func (b *Bundle) SampleNonNormalized(p r3.Vector, model *ndt.InverseModel) float64 {
	var sum float64
	for _, c := range b.corners {
		sum += c.SampleNonNormalized(p, model)
	}
	return sum / float64(len(b.corners))
}

func (b *Bundle) updateOccupied(p r3.Vector) {
	for _, c := range b.corners {
		c.UpdateOccupied(p)
	}
}

func (b *Bundle) updateOccupiedDistribution(d *ndt.Distribution) {
	for _, c := range b.corners {
		c.UpdateOccupiedDistribution(d)
	}
}

func (b *Bundle) updateFree(n int) {
	for _, c := range b.corners {
		c.UpdateFreeN(n)
	}
}

// NumCorners returns how many corner lattices a map of the given dimensionality has.
func NumCorners(dims int) int {
	return 1 << dims
}

// CornerIndex returns the storage index bundle bi occupies in corner lattice k. Bit i of k
// selects whether axis i is offset by the bundle's parity along that axis.
func CornerIndex(bi storage.Index, k, dims int) storage.Index {
	var si storage.Index
	for axis := 0; axis < dims; axis++ {
		si[axis] = storage.FloorDiv(bi[axis], 2)
		if k&(1<<axis) != 0 {
			si[axis] += storage.FloorMod(bi[axis], 2)
		}
	}
	return si
}
