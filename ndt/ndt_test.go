package ndt

import (
	"math"
	"sync"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func testPoints() []r3.Vector {
	return []r3.Vector{
		{X: 1, Y: 2, Z: 3},
		{X: 2, Y: 2.5, Z: 2},
		{X: 0.5, Y: 1, Z: 3.5},
		{X: 1.5, Y: 3, Z: 2.5},
		{X: 1, Y: 1.5, Z: 4},
		{X: 2.5, Y: 2, Z: 3},
	}
}

func TestDistributionMoments(t *testing.T) {
	d := NewDistribution(3)
	pts := testPoints()
	for _, p := range pts {
		d.Add(p)
	}
	test.That(t, d.N(), test.ShouldEqual, len(pts))

	var mean r3.Vector
	for _, p := range pts {
		mean = mean.Add(p)
	}
	mean = mean.Mul(1 / float64(len(pts)))
	test.That(t, d.Mean().X, test.ShouldAlmostEqual, mean.X)
	test.That(t, d.Mean().Y, test.ShouldAlmostEqual, mean.Y)
	test.That(t, d.Mean().Z, test.ShouldAlmostEqual, mean.Z)

	cov := d.Covariance()
	test.That(t, cov, test.ShouldNotBeNil)
	var cxy float64
	for _, p := range pts {
		cxy += (p.X - mean.X) * (p.Y - mean.Y)
	}
	cxy /= float64(len(pts) - 1)
	test.That(t, cov.At(0, 1), test.ShouldAlmostEqual, cxy)
	test.That(t, cov.At(1, 0), test.ShouldAlmostEqual, cxy)
}

func TestDistributionMerge(t *testing.T) {
	pts := testPoints()
	all := NewDistribution(3)
	a := NewDistribution(3)
	b := NewDistribution(3)
	for i, p := range pts {
		all.Add(p)
		if i < 2 {
			a.Add(p)
		} else {
			b.Add(p)
		}
	}
	a.Merge(b)
	test.That(t, a.N(), test.ShouldEqual, all.N())
	test.That(t, a.Mean().Sub(all.Mean()).Norm(), test.ShouldBeLessThan, 1e-12)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, a.Covariance().At(i, j), test.ShouldAlmostEqual, all.Covariance().At(i, j))
		}
	}

	empty := NewDistribution(3)
	empty.Merge(all)
	test.That(t, empty.N(), test.ShouldEqual, all.N())
	empty.Merge(nil)
	test.That(t, empty.N(), test.ShouldEqual, all.N())
}

func TestDistributionValidity(t *testing.T) {
	d := NewDistribution(3)
	test.That(t, d.Valid(), test.ShouldBeFalse)
	test.That(t, d.Covariance(), test.ShouldBeNil)
	test.That(t, d.Sample(r3.Vector{}), test.ShouldEqual, 0)

	pts := testPoints()
	for _, p := range pts[:3] {
		d.Add(p)
	}
	test.That(t, d.Valid(), test.ShouldBeFalse)
	d.Add(pts[3])
	test.That(t, d.Valid(), test.ShouldBeTrue)

	same := NewDistribution(3)
	for i := 0; i < 10; i++ {
		same.Add(r3.Vector{X: 1, Y: 1, Z: 1})
	}
	test.That(t, same.Valid(), test.ShouldBeFalse)

	// a flat cloud is regularized rather than rejected
	flat := NewDistribution(3)
	for _, p := range []r3.Vector{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}, {X: 0.5, Y: 0.5}} {
		flat.Add(p)
	}
	test.That(t, flat.Valid(), test.ShouldBeTrue)
	test.That(t, flat.Gaussian().Determinant(), test.ShouldBeGreaterThan, 0)
}

func TestDistributionSample(t *testing.T) {
	d := NewDistribution(3)
	for _, p := range testPoints() {
		d.Add(p)
	}
	mean := d.Mean()
	test.That(t, d.SampleNonNormalized(mean), test.ShouldAlmostEqual, 1)

	g := d.Gaussian()
	peak := 1 / math.Sqrt(math.Pow(2*math.Pi, 3)*g.Determinant())
	test.That(t, d.Sample(mean), test.ShouldAlmostEqual, peak)

	far := mean.Add(r3.Vector{X: 10})
	test.That(t, d.Sample(far), test.ShouldBeLessThan, d.Sample(mean))
	test.That(t, d.SampleNonNormalized(far), test.ShouldBeLessThan, 1e-6)

	d.Add(r3.Vector{X: 30})
	test.That(t, d.Gaussian() != g, test.ShouldBeTrue)
}

func TestDistribution2D(t *testing.T) {
	d := NewDistribution(2)
	for _, p := range []r3.Vector{{X: 0, Y: 0, Z: 5}, {X: 1, Y: 0.2, Z: -5}, {X: 0.3, Y: 1, Z: 9}} {
		d.Add(p)
	}
	test.That(t, d.Valid(), test.ShouldBeTrue)
	test.That(t, d.Mean().Z, test.ShouldEqual, 0)
	test.That(t, d.Covariance().SymmetricDim(), test.ShouldEqual, 2)
	test.That(t, d.SampleNonNormalized(d.Mean().Add(r3.Vector{Z: 100})), test.ShouldAlmostEqual, 1)
}

func TestInverseModel(t *testing.T) {
	_, err := NewInverseModel(0.5, 0, 0.6)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewInverseModel(1, 0.4, 0.6)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewInverseModel(0.5, 0.4, math.NaN())
	test.That(t, err, test.ShouldNotBeNil)

	m, err := NewInverseModel(0.5, 0.45, 0.65)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.ProbPrior(), test.ShouldEqual, 0.5)
	test.That(t, m.ProbFree(), test.ShouldEqual, 0.45)
	test.That(t, m.ProbOccupied(), test.ShouldEqual, 0.65)
	test.That(t, m.LogOddsPrior(), test.ShouldAlmostEqual, 0)
	test.That(t, ProbFromLogOdds(m.LogOddsOccupied()), test.ShouldAlmostEqual, 0.65)
	test.That(t, ProbFromLogOdds(m.LogOddsFree()), test.ShouldAlmostEqual, 0.45)

	test.That(t, m.Occupancy(0, 0), test.ShouldAlmostEqual, 0.5)
	test.That(t, m.Occupancy(1, 0), test.ShouldAlmostEqual, 0.65)
	test.That(t, m.Occupancy(0, 1), test.ShouldAlmostEqual, 0.45)
	test.That(t, m.Occupancy(5, 0), test.ShouldBeGreaterThan, m.Occupancy(4, 0))
	test.That(t, m.Occupancy(1, 4), test.ShouldBeLessThan, 0.5)

	skewed, err := NewInverseModel(0.2, 0.1, 0.7)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, skewed.Occupancy(0, 0), test.ShouldAlmostEqual, 0.2)
	test.That(t, skewed.Occupancy(1, 0), test.ShouldAlmostEqual, 0.7)
}

func TestOccupancyDistribution(t *testing.T) {
	m, err := NewInverseModel(0.5, 0.45, 0.65)
	test.That(t, err, test.ShouldBeNil)

	o := NewOccupancyDistribution(3)
	test.That(t, o.Occupancy(m), test.ShouldAlmostEqual, 0.5)
	test.That(t, o.Occupancy(nil), test.ShouldEqual, 0)
	test.That(t, o.Distribution(), test.ShouldBeNil)
	test.That(t, o.Gaussian(), test.ShouldBeNil)
	test.That(t, o.Sample(r3.Vector{}, m), test.ShouldEqual, 0)

	pts := testPoints()
	for _, p := range pts {
		o.UpdateOccupied(p)
	}
	o.UpdateFree()
	o.UpdateFreeN(2)
	test.That(t, o.NumOccupied(), test.ShouldEqual, len(pts))
	test.That(t, o.NumFree(), test.ShouldEqual, 3)
	test.That(t, o.Occupancy(m), test.ShouldAlmostEqual, m.Occupancy(len(pts), 3))

	mean := o.Distribution().Mean()
	want := o.Gaussian().Sample(mean) * o.Occupancy(m)
	test.That(t, o.Sample(mean, m), test.ShouldAlmostEqual, want)
	test.That(t, o.SampleNonNormalized(mean, m), test.ShouldAlmostEqual, o.Occupancy(m))

	fused := NewDistribution(3)
	fused.Add(r3.Vector{X: 9})
	fused.Add(r3.Vector{X: 9, Y: 1})
	o.UpdateOccupiedDistribution(fused)
	test.That(t, o.NumOccupied(), test.ShouldEqual, len(pts)+2)
	test.That(t, o.Distribution().N(), test.ShouldEqual, len(pts)+2)

	c := o.Clone()
	c.UpdateFree()
	test.That(t, c.NumFree(), test.ShouldEqual, 4)
	test.That(t, o.NumFree(), test.ShouldEqual, 3)
}

func TestOccupancyDistributionConcurrent(t *testing.T) {
	m, err := NewInverseModel(0.5, 0.45, 0.65)
	test.That(t, err, test.ShouldBeNil)
	o := NewOccupancyDistribution(3)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				o.UpdateOccupied(r3.Vector{X: float64(i), Y: float64(j % 7), Z: float64(j % 3)})
				o.UpdateFree()
				o.Sample(r3.Vector{X: 1, Y: 1, Z: 1}, m)
			}
		}(i)
	}
	wg.Wait()
	test.That(t, o.NumOccupied(), test.ShouldEqual, 800)
	test.That(t, o.NumFree(), test.ShouldEqual, 800)
	test.That(t, o.Distribution().N(), test.ShouldEqual, 800)
}
