package spatialmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Below this rotation angle the exponential map switches to its first order expansion.
const angleEpsilon = 1e-9

// QuatRotate rotates the vector v by the unit quaternion q.
func QuatRotate(q quat.Number, v r3.Vector) r3.Vector {
	p := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: p.Imag, Y: p.Jmag, Z: p.Kmag}
}

// Normalize returns q scaled to unit length. A zero quaternion becomes the identity.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// Flip will multiply a quaternion by -1, returning a quaternion representing the same orientation but in the opposing octant.
func Flip(q quat.Number) quat.Number {
	return quat.Number{Real: -q.Real, Imag: -q.Imag, Jmag: -q.Jmag, Kmag: -q.Kmag}
}

// QuaternionAlmostEqual checks whether two quaternions describe the same rotation within tol,
// accounting for the double cover.
func QuaternionAlmostEqual(a, b quat.Number, tol float64) bool {
	near := func(p, q quat.Number) bool {
		return math.Abs(p.Real-q.Real) < tol &&
			math.Abs(p.Imag-q.Imag) < tol &&
			math.Abs(p.Jmag-q.Jmag) < tol &&
			math.Abs(p.Kmag-q.Kmag) < tol
	}
	return near(a, b) || near(a, Flip(b))
}

// QuatFromRPY builds a rotation from fixed-axis roll, pitch and yaw (radians), applied in that
// order about x, y and z.
func QuatFromRPY(roll, pitch, yaw float64) quat.Number {
	qx := quat.Number{Real: math.Cos(roll / 2), Imag: math.Sin(roll / 2)}
	qy := quat.Number{Real: math.Cos(pitch / 2), Jmag: math.Sin(pitch / 2)}
	qz := quat.Number{Real: math.Cos(yaw / 2), Kmag: math.Sin(yaw / 2)}
	return quat.Mul(qz, quat.Mul(qy, qx))
}

// QuatToRPY is the inverse of QuatFromRPY.
// Euler angles are terrible, don't use them outside of sensor boundaries.
func QuatToRPY(q quat.Number) (roll, pitch, yaw float64) {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	roll = math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))
	sinp := 2 * (w*y - z*x)
	switch {
	case sinp >= 1:
		pitch = math.Pi / 2
	case sinp <= -1:
		pitch = -math.Pi / 2
	default:
		pitch = math.Asin(sinp)
	}
	yaw = math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
	return roll, pitch, yaw
}

// R3ToQuat converts an R3 axis angle to a unit quaternion.
func R3ToQuat(aa r3.Vector) quat.Number {
	theta := aa.Norm()
	if theta < angleEpsilon {
		return Normalize(quat.Number{Real: 1, Imag: aa.X / 2, Jmag: aa.Y / 2, Kmag: aa.Z / 2})
	}
	s := math.Sin(theta/2) / theta
	return quat.Number{Real: math.Cos(theta / 2), Imag: aa.X * s, Jmag: aa.Y * s, Kmag: aa.Z * s}
}

// RotationMatrix returns the 3x3 rotation matrix of the unit quaternion q.
func RotationMatrix(q quat.Number) mgl64.Mat3 {
	mq := mgl64.Quat{W: q.Real, V: mgl64.Vec3{q.Imag, q.Jmag, q.Kmag}}
	return mq.Normalize().Mat4().Mat3()
}

// MatRotate applies a rotation matrix to v.
func MatRotate(m mgl64.Mat3, v r3.Vector) r3.Vector {
	out := m.Mul3x1(mgl64.Vec3{v.X, v.Y, v.Z})
	return r3.Vector{X: out[0], Y: out[1], Z: out[2]}
}
