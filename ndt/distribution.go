// Package ndt implements the per-voxel statistics of a normal distributions transform map: a
// running gaussian of the points seen in a voxel and the hit/miss counts behind its occupancy.
package ndt

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// minEigenRatio bounds how flat a fitted gaussian may be relative to its widest axis.
const minEigenRatio = 0.01

// Distribution is a running mean and scatter matrix over 2 or 3 dimensional points. It is not
// safe for concurrent use.
type Distribution struct {
	dims    int
	n       int
	mean    [3]float64
	scatter [3][3]float64

	dirty bool
	fit   *Gaussian
}

// NewDistribution returns an empty distribution over dims dimensions. 2D distributions ignore z.
func NewDistribution(dims int) *Distribution {
	return &Distribution{dims: dims, dirty: true}
}

func (d *Distribution) components(p r3.Vector) [3]float64 {
	v := [3]float64{p.X, p.Y, p.Z}
	if d.dims == 2 {
		v[2] = 0
	}
	return v
}

// Add folds one point into the distribution.
func (d *Distribution) Add(p r3.Vector) {
	v := d.components(p)
	d.n++
	w := float64(d.n-1) / float64(d.n)
	var delta [3]float64
	for i := 0; i < d.dims; i++ {
		delta[i] = v[i] - d.mean[i]
		d.mean[i] += delta[i] / float64(d.n)
	}
	for i := 0; i < d.dims; i++ {
		for j := 0; j < d.dims; j++ {
			d.scatter[i][j] += delta[i] * delta[j] * w
		}
	}
	d.dirty = true
}

// Merge folds all points of o into d.
func (d *Distribution) Merge(o *Distribution) {
	if o == nil || o.n == 0 {
		return
	}
	if d.n == 0 {
		d.n, d.mean, d.scatter = o.n, o.mean, o.scatter
		d.dirty = true
		return
	}
	n := d.n + o.n
	w := float64(d.n) * float64(o.n) / float64(n)
	var delta [3]float64
	for i := 0; i < d.dims; i++ {
		delta[i] = o.mean[i] - d.mean[i]
		d.mean[i] += delta[i] * float64(o.n) / float64(n)
	}
	for i := 0; i < d.dims; i++ {
		for j := 0; j < d.dims; j++ {
			d.scatter[i][j] += o.scatter[i][j] + delta[i]*delta[j]*w
		}
	}
	d.n = n
	d.dirty = true
}

// N returns the number of points added.
func (d *Distribution) N() int { return d.n }

// Dims returns the dimensionality of the distribution.
func (d *Distribution) Dims() int { return d.dims }

// Mean returns the mean of the points added.
func (d *Distribution) Mean() r3.Vector {
	return r3.Vector{X: d.mean[0], Y: d.mean[1], Z: d.mean[2]}
}

// Covariance returns the sample covariance, or nil with fewer than two points.
func (d *Distribution) Covariance() *mat.SymDense {
	if d.n < 2 {
		return nil
	}
	data := make([]float64, d.dims*d.dims)
	for i := 0; i < d.dims; i++ {
		for j := 0; j < d.dims; j++ {
			data[i*d.dims+j] = d.scatter[i][j] / float64(d.n-1)
		}
	}
	return mat.NewSymDense(d.dims, data)
}

// Valid reports whether there are enough points to fit a gaussian.
func (d *Distribution) Valid() bool {
	return d.Gaussian() != nil
}

// Gaussian returns the fitted gaussian, or nil if there are not enough points or they
// all coincide. The result is cached until the next Add or Merge.
func (d *Distribution) Gaussian() *Gaussian {
	if d.dirty {
		d.fit = fitGaussian(d)
		d.dirty = false
	}
	return d.fit
}

// cached returns the fitted gaussian without refitting and whether it is current.
func (d *Distribution) cached() (*Gaussian, bool) {
	return d.fit, !d.dirty
}

// Sample returns the normalized density at p, or 0 if no gaussian can be fitted.
func (d *Distribution) Sample(p r3.Vector) float64 {
	if g := d.Gaussian(); g != nil {
		return g.Sample(p)
	}
	return 0
}

// SampleNonNormalized returns the density at p scaled so its peak is 1, or 0 if no gaussian
// can be fitted.
func (d *Distribution) SampleNonNormalized(p r3.Vector) float64 {
	if g := d.Gaussian(); g != nil {
		return g.SampleNonNormalized(p)
	}
	return 0
}

// Clone returns a deep copy of d.
func (d *Distribution) Clone() *Distribution {
	c := *d
	return &c
}

// Gaussian is an immutable fitted normal distribution. It is safe for concurrent use.
type Gaussian struct {
	dims    int
	mean    [3]float64
	inverse [3][3]float64
	det     float64
	norm    float64
}

func fitGaussian(d *Distribution) *Gaussian {
	if d.n <= d.dims {
		return nil
	}
	cov := d.Covariance()

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return nil
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	maxValue := 0.0
	for _, v := range values {
		maxValue = math.Max(maxValue, v)
	}
	if maxValue <= 0 {
		return nil
	}
	det := 1.0
	for i, v := range values {
		values[i] = math.Max(v, minEigenRatio*maxValue)
		det *= values[i]
	}

	g := &Gaussian{dims: d.dims, mean: d.mean, det: det}
	for i := 0; i < d.dims; i++ {
		for j := 0; j < d.dims; j++ {
			var sum float64
			for k := 0; k < d.dims; k++ {
				sum += vectors.At(i, k) * vectors.At(j, k) / values[k]
			}
			g.inverse[i][j] = sum
		}
	}
	g.norm = 1 / math.Sqrt(math.Pow(2*math.Pi, float64(d.dims))*det)
	return g
}

// Mean returns the mean of the gaussian.
func (g *Gaussian) Mean() r3.Vector {
	return r3.Vector{X: g.mean[0], Y: g.mean[1], Z: g.mean[2]}
}

// Determinant returns the determinant of the regularized covariance.
func (g *Gaussian) Determinant() float64 { return g.det }

// SampleNonNormalized returns exp(-0.5 * mahalanobis(p)^2).
func (g *Gaussian) SampleNonNormalized(p r3.Vector) float64 {
	v := [3]float64{p.X, p.Y, p.Z}
	var q float64
	for i := 0; i < g.dims; i++ {
		for j := 0; j < g.dims; j++ {
			q += (v[i] - g.mean[i]) * g.inverse[i][j] * (v[j] - g.mean[j])
		}
	}
	return math.Exp(-0.5 * q)
}

// Sample returns the probability density at p.
func (g *Gaussian) Sample(p r3.Vector) float64 {
	return g.norm * g.SampleNonNormalized(p)
}
