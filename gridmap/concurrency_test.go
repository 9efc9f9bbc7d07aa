package gridmap

import (
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"golang.org/x/sync/errgroup"

	"go.viam.com/ndtmap/pointcloud"
	"go.viam.com/ndtmap/spatialmath"
	"go.viam.com/ndtmap/storage"
)

var errNegativeSample = errors.New("negative sample")

func TestConcurrentAddSameBundle(t *testing.T) {
	const workers = 16
	const perWorker = 50

	m := newTestMap(t, 1, Options{})
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				p := r3.Vector{X: 0.05 + 0.01*float64(w), Y: 0.05 + 0.005*float64(i), Z: 0.2}
				m.Add(p, p)
			}
			return nil
		})
	}
	test.That(t, g.Wait(), test.ShouldBeNil)

	test.That(t, m.BundleCount(), test.ShouldEqual, 1)
	b := m.DistributionBundle(storage.Index{0, 0, 0})
	test.That(t, b, test.ShouldNotBeNil)
	for k := 0; k < b.Len(); k++ {
		test.That(t, b.At(k).NumOccupied(), test.ShouldEqual, workers*perWorker)
	}
	checkCorners(t, m)
}

func TestConcurrentRays(t *testing.T) {
	for _, opts := range []Options{
		{},
		{Backend: storage.BackendKDTree},
		{Backend: storage.BackendArray, BundleMin: storage.Index{-30, -30, -30}, BundleMax: storage.Index{30, 30, 30}},
	} {
		t.Run(opts.Backend.String(), func(t *testing.T) {
			const workers = 8
			rnd := rand.New(rand.NewSource(5))
			ends := make([]r3.Vector, 200)
			for i := range ends {
				ends[i] = r3.Vector{X: rnd.Float64()*12 - 6, Y: rnd.Float64()*12 - 6, Z: rnd.Float64()*12 - 6}
			}
			start := r3.Vector{X: 0.01, Y: 0.02, Z: 0.03}

			m := newTestMap(t, 0.5, opts)
			var g errgroup.Group
			g.SetLimit(workers)
			for w := 0; w < workers; w++ {
				g.Go(func() error {
					for _, end := range ends {
						m.Add(start, end)
					}
					return nil
				})
			}
			test.That(t, g.Wait(), test.ShouldBeNil)
			checkCorners(t, m)

			serial := newTestMap(t, 0.5, opts)
			for w := 0; w < workers; w++ {
				for _, end := range ends {
					serial.Add(start, end)
				}
			}
			test.That(t, m.BundleIndices(), test.ShouldResemble, serial.BundleIndices())
			test.That(t, m.Stats(), test.ShouldResemble, serial.Stats())
			for _, bi := range serial.BundleIndices() {
				want, got := serial.DistributionBundle(bi), m.DistributionBundle(bi)
				for k := 0; k < want.Len(); k++ {
					test.That(t, got.At(k).NumOccupied(), test.ShouldEqual, want.At(k).NumOccupied())
					test.That(t, got.At(k).NumFree(), test.ShouldEqual, want.At(k).NumFree())
				}
			}
		})
	}
}

func TestConcurrentInsertAndSample(t *testing.T) {
	model := testSensorModel(t)
	m := newTestMap(t, 1, Options{})
	rnd := rand.New(rand.NewSource(9))
	clouds := make([]pointcloud.PointCloud, 8)
	for i := range clouds {
		cloud := pointcloud.NewWithPrealloc(100)
		for j := 0; j < 100; j++ {
			cloud.Append(r3.Vector{X: rnd.Float64()*8 - 4, Y: rnd.Float64()*8 - 4, Z: rnd.Float64() * 2})
		}
		clouds[i] = cloud
	}

	var g errgroup.Group
	for i, cloud := range clouds {
		origin := spatialmath.NewPoseFromPoint(r3.Vector{X: 0.1 * float64(i), Y: 0.05})
		g.Go(func() error {
			m.Insert(origin, cloud)
			return nil
		})
		g.Go(func() error {
			for j := 0; j < 200; j++ {
				p := r3.Vector{X: float64(j%16)*0.5 - 4, Y: float64(j/16)*0.5 - 3, Z: 0.5}
				if s := m.Sample(p, model); s < 0 {
					return errNegativeSample
				}
				m.Bounds()
				m.Occupancy(p, model)
			}
			return nil
		})
	}
	test.That(t, g.Wait(), test.ShouldBeNil)
	test.That(t, m.Stats().PointsInserted, test.ShouldEqual, 800)
	checkCorners(t, m)
}
