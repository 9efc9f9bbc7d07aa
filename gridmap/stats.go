package gridmap

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

// Stats counts what a map has been asked to do since it was created.
type Stats struct {
	PointsInserted int64
	PointsSkipped  int64
	OutOfRange     int64
	Rays           int64
	RaysOccluded   int64
	FreeUpdates    int64
}

type counters struct {
	pointsInserted atomic.Int64
	pointsSkipped  atomic.Int64
	outOfRange     atomic.Int64
	rays           atomic.Int64
	raysOccluded   atomic.Int64
	freeUpdates    atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		PointsInserted: c.pointsInserted.Load(),
		PointsSkipped:  c.pointsSkipped.Load(),
		OutOfRange:     c.outOfRange.Load(),
		Rays:           c.rays.Load(),
		RaysOccluded:   c.raysOccluded.Load(),
		FreeUpdates:    c.freeUpdates.Load(),
	}
}

// Stats returns a snapshot of the map's counters.
func (m *OccupancyGridmap) Stats() Stats {
	return m.counters.snapshot()
}

const mapLabel = "map"

type metricSpec struct {
	name, help string
	valueType  prometheus.ValueType
}

var metricSpecs = []metricSpec{
	{"ndtmap_points_inserted_total", "The number of finite points fused into the map.", prometheus.CounterValue},
	{"ndtmap_points_skipped_total", "The number of non-finite points dropped on insertion.", prometheus.CounterValue},
	{"ndtmap_out_of_range_total", "The number of cell updates dropped because the storage could not hold the cell.", prometheus.CounterValue},
	{"ndtmap_rays_total", "The number of rays cast to carve free space.", prometheus.CounterValue},
	{"ndtmap_rays_occluded_total", "The number of volumetric rays stopped because visibility fell below the prior.", prometheus.CounterValue},
	{"ndtmap_free_updates_total", "The number of bundles marked free along rays.", prometheus.CounterValue},
	{"ndtmap_bundles", "The number of allocated bundles.", prometheus.GaugeValue},
}

type collector struct {
	m     *OccupancyGridmap
	descs []*prometheus.Desc
}

// NewCollector returns a prometheus.Collector exporting the counters and size of m. Every
// metric carries a map label holding m's ID.
func NewCollector(m *OccupancyGridmap) prometheus.Collector {
	labels := prometheus.Labels{mapLabel: m.ID().String()}
	c := &collector{m: m}
	for _, spec := range metricSpecs {
		c.descs = append(c.descs, prometheus.NewDesc(spec.name, spec.help, nil, labels))
	}
	return c
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Stats()
	values := []float64{
		float64(s.PointsInserted),
		float64(s.PointsSkipped),
		float64(s.OutOfRange),
		float64(s.Rays),
		float64(s.RaysOccluded),
		float64(s.FreeUpdates),
		float64(c.m.BundleCount()),
	}
	for i, v := range values {
		ch <- prometheus.MustNewConstMetric(c.descs[i], metricSpecs[i].valueType, v)
	}
}
