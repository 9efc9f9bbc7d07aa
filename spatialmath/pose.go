package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/dualquat"
	"gonum.org/v1/gonum/num/quat"
)

// Pose represents a rigid transform: a rotation followed by a translation.
type Pose interface {
	// Point returns the translation of the pose.
	Point() r3.Vector
	// Orientation returns the rotation of the pose.
	Orientation() Orientation
}

// dualQuaternion is the Pose implementation. The real part is the unit rotation quaternion and the
// dual part is half the translation multiplied by the rotation.
type dualQuaternion struct {
	dualquat.Number
}

// NewZeroPose returns a pose at (0,0,0) with same orientation as whatever frame it is placed in.
func NewZeroPose() Pose {
	return &dualQuaternion{dualquat.Number{Real: quat.Number{Real: 1}}}
}

// NewPose returns a pose from the given translation and orientation.
func NewPose(point r3.Vector, o Orientation) Pose {
	if o == nil {
		o = NewZeroOrientation()
	}
	return newDualQuaternion(point, Normalize(o.Quaternion()))
}

// NewPoseFromPoint returns a pose with the given translation and no rotation.
func NewPoseFromPoint(point r3.Vector) Pose {
	return newDualQuaternion(point, quat.Number{Real: 1})
}

// NewPose2D returns a planar pose at (x, y) rotated by theta radians about the z axis.
func NewPose2D(x, y, theta float64) Pose {
	return NewPose(r3.Vector{X: x, Y: y}, &EulerAngles{Yaw: theta})
}

// NewPoseWithTranslation returns a pose with the orientation of p and the given translation.
func NewPoseWithTranslation(p Pose, point r3.Vector) Pose {
	return newDualQuaternion(point, p.Orientation().Quaternion())
}

func newDualQuaternion(point r3.Vector, rot quat.Number) *dualQuaternion {
	trans := quat.Number{Imag: point.X / 2, Jmag: point.Y / 2, Kmag: point.Z / 2}
	return &dualQuaternion{dualquat.Number{
		Real: rot,
		Dual: quat.Mul(trans, rot),
	}}
}

func toDualQuaternion(p Pose) *dualQuaternion {
	if dq, ok := p.(*dualQuaternion); ok {
		return dq
	}
	return newDualQuaternion(p.Point(), Normalize(p.Orientation().Quaternion()))
}

// Point multiplies the dual part of the quaternion by the conjugate of the real part to recover
// the translation.
func (q *dualQuaternion) Point() r3.Vector {
	t := quat.Scale(2, quat.Mul(q.Dual, quat.Conj(q.Real)))
	return r3.Vector{X: t.Imag, Y: t.Jmag, Z: t.Kmag}
}

// Orientation returns the rotation quaternion as an Orientation.
func (q *dualQuaternion) Orientation() Orientation {
	o := quaternion(q.Real)
	return &o
}

// Compose takes two poses and returns the pose that applies b then a, i.e. the transform of b
// expressed in the frame a is expressed in.
func Compose(a, b Pose) Pose {
	return &dualQuaternion{dualquat.Mul(toDualQuaternion(a).Number, toDualQuaternion(b).Number)}
}

// PoseInverse returns the inverse of a pose.
func PoseInverse(p Pose) Pose {
	return &dualQuaternion{dualquat.ConjQuat(toDualQuaternion(p).Number)}
}

// TransformPoint applies the pose to v: rotation first, then translation.
func TransformPoint(p Pose, v r3.Vector) r3.Vector {
	return Rotate(p.Orientation(), v).Add(p.Point())
}

// Rotate rotates v by the given orientation.
func Rotate(o Orientation, v r3.Vector) r3.Vector {
	q := o.Quaternion()
	rotated := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag}
}

// PoseAlmostEqual will return a bool describing whether 2 poses are approximately the same.
func PoseAlmostEqual(a, b Pose) bool {
	return PoseAlmostEqualEps(a, b, 1e-8)
}

// PoseAlmostEqualEps will return a bool describing whether 2 poses are approximately the same
// within the given translation tolerance.
func PoseAlmostEqualEps(a, b Pose, epsilon float64) bool {
	return R3VectorAlmostEqual(a.Point(), b.Point(), epsilon) && OrientationAlmostEqual(a.Orientation(), b.Orientation())
}

// R3VectorAlmostEqual compares two r3.Vector objects and returns if the all elementwise differences are less than epsilon.
func R3VectorAlmostEqual(a, b r3.Vector, epsilon float64) bool {
	return math.Abs(a.X-b.X) < epsilon && math.Abs(a.Y-b.Y) < epsilon && math.Abs(a.Z-b.Z) < epsilon
}
