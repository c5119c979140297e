package localization

import (
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/coloc/spatialmath"
)

// SensorType names a per-robot vertex stream.
type SensorType int

// The vertex streams. Inertial events create vertices on the range stream since each one is
// paired with a range exchange.
const (
	SensorPose SensorType = iota
	SensorTwist
	SensorRange
)

func (s SensorType) String() string {
	switch s {
	case SensorPose:
		return "pose"
	case SensorTwist:
		return "twist"
	case SensorRange:
		return "range"
	default:
		return "unknown"
	}
}

// FrameNone is the frame id that matches every other frame id in range exchanges.
const FrameNone = "none"

// Header carries the stamp and frame of a measurement.
type Header struct {
	Seq     uint32
	Stamp   time.Time
	FrameID string
}

// PoseMeasurement is a relative pose fix of the self robot with a row-major 6x6 covariance over
// (x, y, z, rx, ry, rz).
type PoseMeasurement struct {
	Header     Header
	Pose       spatialmath.Pose
	Covariance [36]float64
}

// TwistMeasurement is a body frame velocity of the self robot.
type TwistMeasurement struct {
	Header     Header
	Linear     r3.Vector
	Angular    r3.Vector
	Covariance [36]float64
}

// RangeMeasurement is a single ranging exchange initiated by RequesterID.
type RangeMeasurement struct {
	Header      Header
	RequesterID int
	ResponderID int
	Distance    float64
	DistanceErr float64
}

// ImuMeasurement is an orientation, angular velocity and linear acceleration sample with
// row-major 3x3 covariances.
type ImuMeasurement struct {
	Header                       Header
	Orientation                  quat.Number
	OrientationCovariance        [9]float64
	AngularVelocity              r3.Vector
	AngularVelocityCovariance    [9]float64
	LinearAcceleration           r3.Vector
	LinearAccelerationCovariance [9]float64
}

// InertialMeasurement pairs a range exchange with the IMU sample of its requester.
type InertialMeasurement struct {
	Range RangeMeasurement
	Imu   ImuMeasurement
}

// PoseStamped is a published pose.
type PoseStamped struct {
	Stamp   time.Time
	FrameID string
	Pose    spatialmath.Pose
}
