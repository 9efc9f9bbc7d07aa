// Package main builds an occupancy map from point cloud scans and samples it.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/samber/lo"
	"github.com/spf13/cast"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"go.viam.com/ndtmap/gridmap"
	"go.viam.com/ndtmap/logging"
	"go.viam.com/ndtmap/ndt"
	"go.viam.com/ndtmap/pointcloud"
)

var logger = logging.NewLogger("ndtmap")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"config,required,usage=map config file"`
	Scans      string `flag:"scans,usage=comma separated .pcd or .las scans to insert"`
	Volumetric bool   `flag:"volumetric,usage=insert with visibility weighted ray casting"`
	Query      string `flag:"query,usage=semicolon separated x,y,z points to sample"`
	Workers    int    `flag:"workers,default=4,usage=number of scans inserted at once"`
	PCDOut     string `flag:"pcd-out,usage=write the centres of occupied bundles to this pcd file"`
	Metrics    bool   `flag:"metrics,usage=print the map metrics in prometheus text format"`
}

func mainWithArgs(ctx context.Context, args []string, logger *zap.SugaredLogger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	return run(ctx, argsParsed, os.Stdout, logger)
}

func run(ctx context.Context, args Arguments, out io.Writer, logger logging.Logger) error {
	cfg, err := gridmap.ReadConfigFile(args.ConfigFile)
	if err != nil {
		return err
	}
	sensorModel, visibilityModel, err := cfg.Models()
	if err != nil {
		return err
	}
	queries, err := parseQueries(args.Query)
	if err != nil {
		return err
	}
	m, err := gridmap.NewOccupancyGridmapFromConfig(cfg, logger)
	if err != nil {
		return err
	}

	durations, err := insertScans(ctx, m, splitList(args.Scans), args, sensorModel, visibilityModel, logger)
	if err != nil {
		return err
	}

	if err := writeSummary(out, m, sensorModel, durations); err != nil {
		return err
	}
	if len(queries) > 0 {
		writeQueries(out, m, sensorModel, queries)
	}
	if args.PCDOut != "" {
		if err := writeOccupied(m, sensorModel, args.PCDOut); err != nil {
			return err
		}
		logger.Infow("wrote occupied bundles", "path", args.PCDOut)
	}
	if args.Metrics {
		return writeMetrics(out, m)
	}
	return nil
}

func splitList(list string) []string {
	items := lo.Map(strings.Split(list, ","), func(item string, _ int) string {
		return strings.TrimSpace(item)
	})
	return lo.Uniq(lo.Filter(items, func(item string, _ int) bool {
		return item != ""
	}))
}

func parseQueries(query string) ([]r3.Vector, error) {
	var points []r3.Vector
	for _, q := range strings.Split(query, ";") {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		parts := strings.Split(q, ",")
		if len(parts) != 3 {
			return nil, errors.Errorf("query %q needs x,y,z", q)
		}
		var coords [3]float64
		for i, part := range parts {
			f, err := cast.ToFloat64E(strings.TrimSpace(part))
			if err != nil {
				return nil, errors.Wrapf(err, "query %q", q)
			}
			coords[i] = f
		}
		points = append(points, r3.Vector{X: coords[0], Y: coords[1], Z: coords[2]})
	}
	return points, nil
}

// insertScans inserts every scan into m, several at once, and returns how long each took.
func insertScans(
	ctx context.Context,
	m *gridmap.OccupancyGridmap,
	scans []string,
	args Arguments,
	sensorModel, visibilityModel *ndt.InverseModel,
	logger logging.Logger,
) ([]float64, error) {
	workers := args.Workers
	if workers <= 0 {
		workers = 1
	}
	var mu sync.Mutex
	durations := make([]float64, 0, len(scans))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, scan := range scans {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cloud, origin, err := pointcloud.NewFromFile(scan, logger)
			if err != nil {
				return errors.Wrapf(err, "reading scan %q", filepath.Base(scan))
			}
			start := time.Now()
			if args.Volumetric {
				m.InsertVolumetric(origin, cloud, sensorModel, visibilityModel)
			} else {
				m.Insert(origin, cloud)
			}
			took := time.Since(start)
			logger.Infow("inserted scan", "scan", scan, "points", cloud.Size(), "took", took)

			mu.Lock()
			durations = append(durations, float64(took.Microseconds())/1000)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return durations, nil
}

func writeSummary(out io.Writer, m *gridmap.OccupancyGridmap, model *ndt.InverseModel, durations []float64) error {
	occupancies := make([]float64, 0, m.BundleCount())
	classes := map[gridmap.Class]int{}
	for _, bi := range m.BundleIndices() {
		b := m.DistributionBundle(bi)
		occupancies = append(occupancies, b.Occupancy(model))
		classes[m.Classify(m.FromBundleIndex(bi), model)]++
	}

	s := m.Stats()
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Property", "Value"})
	t.AppendRows([]table.Row{
		{"Map", m.ID()},
		{"Resolution", m.Resolution()},
		{"Bundles", m.BundleCount()},
		{"Free", classes[gridmap.Free]},
		{"Occupied", classes[gridmap.Occupied]},
		{"Unknown", classes[gridmap.Unknown]},
		{"Min", formatVector(m.Min())},
		{"Max", formatVector(m.Max())},
		{"Size", fmt.Sprintf("%.2f x %.2f x %.2f", m.Width(), m.Height(), m.Depth())},
		{"Points", s.PointsInserted},
		{"Skipped", s.PointsSkipped},
		{"Out of range", s.OutOfRange},
		{"Rays", s.Rays},
		{"Occluded rays", s.RaysOccluded},
	})

	var err error
	if len(occupancies) > 0 {
		mean, meanErr := stats.Mean(occupancies)
		median, medianErr := stats.Median(occupancies)
		sd, sdErr := stats.StandardDeviation(occupancies)
		if err = multierr.Combine(meanErr, medianErr, sdErr); err != nil {
			return err
		}
		t.AppendSeparator()
		t.AppendRow(table.Row{"Occupancy mean", fmt.Sprintf("%.3f", mean)})
		t.AppendRow(table.Row{"Occupancy median", fmt.Sprintf("%.3f", median)})
		t.AppendRow(table.Row{"Occupancy stddev", fmt.Sprintf("%.3f", sd)})
	}
	if len(durations) > 0 {
		mean, meanErr := stats.Mean(durations)
		p95, p95Err := stats.Percentile(durations, 95)
		if err = multierr.Combine(meanErr, p95Err); err != nil {
			return err
		}
		t.AppendSeparator()
		t.AppendRow(table.Row{"Scans", len(durations)})
		t.AppendRow(table.Row{"Insert mean (ms)", fmt.Sprintf("%.2f", mean)})
		t.AppendRow(table.Row{"Insert p95 (ms)", fmt.Sprintf("%.2f", p95)})
	}
	t.Render()
	return nil
}

func writeQueries(out io.Writer, m *gridmap.OccupancyGridmap, model *ndt.InverseModel, queries []r3.Vector) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Point", "Bundle", "Class", "Occupancy", "Sample"})
	for _, p := range queries {
		occ, _ := m.Occupancy(p, model)
		t.AppendRow(table.Row{
			formatVector(p),
			m.BundleIndex(p),
			m.Classify(p, model),
			fmt.Sprintf("%.3f", occ),
			fmt.Sprintf("%.4g", m.Sample(p, model)),
		})
	}
	t.Render()
}

// writeOccupied writes the world centre of every occupied bundle as a binary pcd, or as a LAS
// file when the path ends in .las.
func writeOccupied(m *gridmap.OccupancyGridmap, model *ndt.InverseModel, path string) (err error) {
	cloud := pointcloud.New()
	for _, bi := range m.BundleIndices() {
		centre := m.FromBundleIndex(bi)
		if m.Classify(centre, model) == gridmap.Occupied {
			cloud.Append(centre)
		}
	}
	if filepath.Ext(path) == ".las" {
		return pointcloud.WriteToLASFile(cloud, path)
	}

	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return pointcloud.ToPCD(cloud, nil, f, pointcloud.PCDBinary)
}

func writeMetrics(out io.Writer, m *gridmap.OccupancyGridmap) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(gridmap.NewCollector(m)); err != nil {
		return err
	}
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(out, mf); err != nil {
			return err
		}
	}
	return nil
}

func formatVector(v r3.Vector) string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", v.X, v.Y, v.Z)
}
