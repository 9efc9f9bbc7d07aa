// Package pointcloud defines the ordered point clouds a range sensor produces in one scan and the
// file formats they are read from.
//
// Unlike a spatial index, a scan keeps every return it is given, including repeated positions:
// the number of returns landing in a voxel is what weights free-space evidence along the ray.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// float64 represents every integer in this range exactly.
const (
	minPreciseFloat64 = float64(-(1 << 53))
	maxPreciseFloat64 = float64(1 << 53)
)

func preciseFloat(f float64) bool {
	return f >= minPreciseFloat64 && f <= maxPreciseFloat64
}

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64

	inited bool // just to prevent someone creating the wrong way
}

// PointCloud is an ordered container of sensor returns.
type PointCloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// MetaData returns meta data
	MetaData() MetaData

	// Append adds the given point to the end of the cloud.
	Append(p r3.Vector)

	// Iterate iterates over all points in the cloud and calls the given
	// function for each point. If the supplied function returns false,
	// iteration will stop after the function returns.
	// numBatches lets you divide up he work. 0 means don't divide
	// myBatch is used iff numBatches > 0 and is which batch you want
	Iterate(numBatches, myBatch int, fn func(p r3.Vector) bool)
}

// NewMetaData creates a new MetaData.
func NewMetaData() MetaData {
	return MetaData{
		MinX:   math.MaxFloat64,
		MinY:   math.MaxFloat64,
		MinZ:   math.MaxFloat64,
		MaxX:   -math.MaxFloat64,
		MaxY:   -math.MaxFloat64,
		MaxZ:   -math.MaxFloat64,
		inited: true,
	}
}

// Merge updates the bounds with a new point. Non-finite points do not contribute.
func (meta *MetaData) Merge(v r3.Vector) {
	if !meta.inited {
		*meta = NewMetaData()
	}
	if !IsFinite(v) {
		return
	}

	if v.X > meta.MaxX {
		meta.MaxX = v.X
	}
	if v.Y > meta.MaxY {
		meta.MaxY = v.Y
	}
	if v.Z > meta.MaxZ {
		meta.MaxZ = v.Z
	}

	if v.X < meta.MinX {
		meta.MinX = v.X
	}
	if v.Y < meta.MinY {
		meta.MinY = v.Y
	}
	if v.Z < meta.MinZ {
		meta.MinZ = v.Z
	}
}

// Empty returns whether no finite point has been merged.
func (meta MetaData) Empty() bool {
	return !meta.inited || meta.MinX > meta.MaxX
}

// IsFinite returns whether every component of v is a finite number.
func IsFinite(v r3.Vector) bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) &&
		!math.IsNaN(v.Y) && !math.IsInf(v.Y, 0) &&
		!math.IsNaN(v.Z) && !math.IsInf(v.Z, 0)
}

// CloudCentroid returns the centroid of a pointcloud as a vector.
func CloudCentroid(pc PointCloud) r3.Vector {
	if pc.Size() == 0 {
		return r3.Vector{}
	}
	var sum r3.Vector
	count := 0
	pc.Iterate(0, 0, func(p r3.Vector) bool {
		if IsFinite(p) {
			sum = sum.Add(p)
			count++
		}
		return true
	})
	if count == 0 {
		return r3.Vector{}
	}
	return sum.Mul(1 / float64(count))
}
