// Package spatialmath defines spatial mathematical operations on rigid body poses.
package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose represents a rigid body transform (SE3): a translation followed by a rotation.
type Pose interface {
	Point() r3.Vector
	Orientation() quat.Number
}

type pose struct {
	point       r3.Vector
	orientation quat.Number
}

// NewZeroPose returns the identity pose.
func NewZeroPose() Pose {
	return &pose{orientation: quat.Number{Real: 1}}
}

// NewPose returns a pose with the given translation and rotation. The rotation is normalized.
func NewPose(pt r3.Vector, q quat.Number) Pose {
	return &pose{point: pt, orientation: Normalize(q)}
}

// NewPoseFromPoint returns a pose with the given translation and no rotation.
func NewPoseFromPoint(pt r3.Vector) Pose {
	return &pose{point: pt, orientation: quat.Number{Real: 1}}
}

// NewPoseFromOrientation returns a pose at the origin with the given rotation.
func NewPoseFromOrientation(q quat.Number) Pose {
	return &pose{orientation: Normalize(q)}
}

func (p *pose) Point() r3.Vector {
	return p.point
}

func (p *pose) Orientation() quat.Number {
	return p.orientation
}

func (p *pose) String() string {
	q := p.orientation
	return fmt.Sprintf("{X:%.4f Y:%.4f Z:%.4f | W:%.4f I:%.4f J:%.4f K:%.4f}",
		p.point.X, p.point.Y, p.point.Z, q.Real, q.Imag, q.Jmag, q.Kmag)
}

// Compose returns the pose a*b, i.e. b expressed in the frame a is expressed in.
func Compose(a, b Pose) Pose {
	qa := a.Orientation()
	return &pose{
		point:       a.Point().Add(QuatRotate(qa, b.Point())),
		orientation: Normalize(quat.Mul(qa, b.Orientation())),
	}
}

// PoseInverse returns the inverse transform of p.
func PoseInverse(p Pose) Pose {
	qInv := quat.Conj(p.Orientation())
	return &pose{
		point:       QuatRotate(qInv, p.Point()).Mul(-1),
		orientation: qInv,
	}
}

// PoseBetween returns the pose which, composed onto a, yields b.
func PoseBetween(a, b Pose) Pose {
	return Compose(PoseInverse(a), b)
}

// PoseAlmostEqual returns whether two poses agree to within eps in translation and rotation.
func PoseAlmostEqual(a, b Pose, eps float64) bool {
	return a.Point().Sub(b.Point()).Norm() < eps &&
		QuaternionAlmostEqual(a.Orientation(), b.Orientation(), eps)
}

// PoseIsFinite reports whether every component of p is a finite number.
func PoseIsFinite(p Pose) bool {
	pt, q := p.Point(), p.Orientation()
	for _, v := range []float64{pt.X, pt.Y, pt.Z, q.Real, q.Imag, q.Jmag, q.Kmag} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// PoseExp applies a tangent space increment to p on the right. The first three components of
// delta are a translation in p's frame, the last three an R3 axis angle.
func PoseExp(p Pose, delta []float64) Pose {
	inc := &pose{
		point:       r3.Vector{X: delta[0], Y: delta[1], Z: delta[2]},
		orientation: R3ToQuat(r3.Vector{X: delta[3], Y: delta[4], Z: delta[5]}),
	}
	return Compose(p, inc)
}
