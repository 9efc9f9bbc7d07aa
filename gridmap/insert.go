package gridmap

import (
	"github.com/golang/geo/r3"

	"go.viam.com/ndtmap/ndt"
	"go.viam.com/ndtmap/pointcloud"
	"go.viam.com/ndtmap/raycast"
	"go.viam.com/ndtmap/spatialmath"
	"go.viam.com/ndtmap/storage"
)

func (m *OccupancyGridmap) newIterator(start, end r3.Vector) *raycast.Iterator {
	return raycast.NewIterator(m.toGrid(start), m.toGrid(end), 1, m.dims)
}

// fuse groups the finite points of a scan, taken from origin, by bundle. Each group is a
// distribution of world points.
func (m *OccupancyGridmap) fuse(origin spatialmath.Pose, cloud pointcloud.PointCloud) *storage.Hashed[*ndt.Distribution] {
	scratch := storage.NewHashed[*ndt.Distribution]()
	var skipped int64
	cloud.Iterate(0, 0, func(p r3.Vector) bool {
		pw := spatialmath.TransformPoint(origin, p)
		if !pointcloud.IsFinite(pw) {
			skipped++
			return true
		}
		bi := m.BundleIndex(pw)
		d, ok := scratch.Get(bi)
		if !ok {
			d, _ = scratch.Insert(bi, ndt.NewDistribution(m.dims))
		}
		d.Add(pw)
		return true
	})
	m.counters.pointsSkipped.Add(skipped)
	if skipped > 0 {
		m.logger.Debugw("skipped non-finite points", "map", m.id, "count", skipped)
	}
	return scratch
}

// Insert fuses a scan taken by a sensor at origin. Points are first grouped per bundle; each
// group is merged into its bundle as hits and one ray per group, aimed at the group's mean,
// marks the bundles before it free once per point in the group.
func (m *OccupancyGridmap) Insert(origin spatialmath.Pose, cloud pointcloud.PointCloud) {
	scratch := m.fuse(origin, cloud)
	start := m.toMap(origin.Point())
	scratch.Traverse(func(bi storage.Index, d *ndt.Distribution) bool {
		if b := m.getAllocate(bi); b != nil {
			b.updateOccupiedDistribution(d)
			m.counters.pointsInserted.Add(int64(d.N()))
		}
		m.castFree(start, m.toMap(d.Mean()), d.N())
		return true
	})
	m.logger.Debugw("inserted scan", "map", m.id, "points", cloud.Size(), "bundles", scratch.Size())
}

// InsertVolumetric is Insert where every ray tracks how likely the sensor could see along it.
// Visibility starts at 1 and is scaled at every bundle by how open its neighbours facing away
// from the sensor are. A ray stops, leaving the rest of its bundles and its end untouched, once
// visibility falls below the visibility model's prior.
func (m *OccupancyGridmap) InsertVolumetric(
	origin spatialmath.Pose,
	cloud pointcloud.PointCloud,
	sensorModel, visibilityModel *ndt.InverseModel,
) {
	scratch := m.fuse(origin, cloud)
	startIndex := m.BundleIndex(origin.Point())
	start := m.toMap(origin.Point())
	threshold := visibilityModel.ProbPrior()

	var occluded int
	scratch.Traverse(func(bi storage.Index, d *ndt.Distribution) bool {
		m.counters.rays.Inc()
		n := d.N()
		visibility := 1.0
		for it := m.newIterator(start, m.toMap(d.Mean())); !it.Done(); it.Next() {
			cell := it.Index()
			visibility *= m.visibility(cell, startIndex, sensorModel, visibilityModel)
			if visibility < threshold {
				m.counters.raysOccluded.Inc()
				occluded++
				return true
			}
			if b := m.getAllocate(cell); b != nil {
				b.updateFree(n)
				m.counters.freeUpdates.Inc()
			}
		}

		visibility *= m.visibility(bi, startIndex, sensorModel, visibilityModel)
		if visibility < threshold {
			m.counters.raysOccluded.Inc()
			occluded++
			return true
		}
		if b := m.getAllocate(bi); b != nil {
			b.updateOccupiedDistribution(d)
			m.counters.pointsInserted.Add(int64(n))
		}
		return true
	})
	m.logger.Debugw("inserted volumetric scan",
		"map", m.id, "points", cloud.Size(), "bundles", scratch.Size(), "occluded", occluded)
}

// visibility returns the chance of seeing through bundle bi given its neighbours on the far side
// from the sensor. The most open neighbour decides.
func (m *OccupancyGridmap) visibility(bi, startIndex storage.Index, sensorModel, visibilityModel *ndt.InverseModel) float64 {
	occlusion := 1.0
	for axis := 0; axis < m.dims; axis++ {
		neighbour := bi
		if bi[axis] > startIndex[axis] {
			neighbour[axis]++
		} else {
			neighbour[axis]--
		}
		if occ := m.bundleOccupancy(neighbour, sensorModel); occ < occlusion {
			occlusion = occ
		}
	}
	return visibilityModel.ProbFree()*occlusion + visibilityModel.ProbOccupied()*(1-occlusion)
}

// bundleOccupancy returns the occupancy of bundle bi without allocating it. Unobserved bundles
// report the model prior.
func (m *OccupancyGridmap) bundleOccupancy(bi storage.Index, model *ndt.InverseModel) float64 {
	if b := m.DistributionBundle(bi); b != nil {
		return b.Occupancy(model)
	}
	return model.ProbPrior()
}
