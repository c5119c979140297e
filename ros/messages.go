package ros

import (
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/coloc/localization"
	"go.viam.com/coloc/spatialmath"
)

// Time is a ROS time as exported to JSON.
type Time struct {
	Secs  int64 `json:"secs"`
	Nsecs int64 `json:"nsecs"`
}

// Time converts to a time.Time.
func (t Time) Time() time.Time {
	return time.Unix(t.Secs, t.Nsecs)
}

// NewTime converts from a time.Time.
func NewTime(t time.Time) Time {
	return Time{Secs: t.Unix(), Nsecs: int64(t.Nanosecond())}
}

// Header is std_msgs/Header.
type Header struct {
	Seq     uint32 `json:"seq"`
	Stamp   Time   `json:"stamp"`
	FrameID string `json:"frame_id"`
}

func (h Header) toHeader() localization.Header {
	return localization.Header{Seq: h.Seq, Stamp: h.Stamp.Time(), FrameID: h.FrameID}
}

func fromHeader(h localization.Header) Header {
	return Header{Seq: h.Seq, Stamp: NewTime(h.Stamp), FrameID: h.FrameID}
}

// Vector3 is geometry_msgs/Vector3 and geometry_msgs/Point.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vector3) r3() r3.Vector {
	return r3.Vector{X: v.X, Y: v.Y, Z: v.Z}
}

func fromR3(v r3.Vector) Vector3 {
	return Vector3{X: v.X, Y: v.Y, Z: v.Z}
}

// Quaternion is geometry_msgs/Quaternion.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

func (q Quaternion) quat() quat.Number {
	return quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
}

func fromQuat(q quat.Number) Quaternion {
	return Quaternion{X: q.Imag, Y: q.Jmag, Z: q.Kmag, W: q.Real}
}

// Pose is geometry_msgs/Pose.
type Pose struct {
	Position    Vector3    `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// FromPose converts a pose into its message form.
func FromPose(p spatialmath.Pose) Pose {
	return Pose{Position: fromR3(p.Point()), Orientation: fromQuat(p.Orientation())}
}

// Pose converts the message into a pose.
func (p Pose) Pose() spatialmath.Pose {
	return spatialmath.NewPose(p.Position.r3(), p.Orientation.quat())
}

// PoseWithCovarianceStamped is geometry_msgs/PoseWithCovarianceStamped, published on
// incremental_pose_cov.
type PoseWithCovarianceStamped struct {
	Meta Time `json:"meta"`
	Data struct {
		Header Header `json:"header"`
		Pose   struct {
			Pose       Pose        `json:"pose"`
			Covariance [36]float64 `json:"covariance"`
		} `json:"pose"`
	} `json:"data"`
}

// Measurement converts the message.
func (m *PoseWithCovarianceStamped) Measurement() localization.PoseMeasurement {
	return localization.PoseMeasurement{
		Header:     m.Data.Header.toHeader(),
		Pose:       m.Data.Pose.Pose.Pose(),
		Covariance: m.Data.Pose.Covariance,
	}
}

// TwistWithCovarianceStamped is geometry_msgs/TwistWithCovarianceStamped, published on twiststamp.
type TwistWithCovarianceStamped struct {
	Meta Time `json:"meta"`
	Data struct {
		Header Header `json:"header"`
		Twist  struct {
			Twist struct {
				Linear  Vector3 `json:"linear"`
				Angular Vector3 `json:"angular"`
			} `json:"twist"`
			Covariance [36]float64 `json:"covariance"`
		} `json:"twist"`
	} `json:"data"`
}

// Measurement converts the message.
func (m *TwistWithCovarianceStamped) Measurement() localization.TwistMeasurement {
	return localization.TwistMeasurement{
		Header:     m.Data.Header.toHeader(),
		Linear:     m.Data.Twist.Twist.Linear.r3(),
		Angular:    m.Data.Twist.Twist.Angular.r3(),
		Covariance: m.Data.Twist.Covariance,
	}
}

// UwbRange is a UWB ranging exchange, published on /uwb_exorange_info.
type UwbRange struct {
	Meta Time `json:"meta"`
	Data struct {
		Header      Header  `json:"header"`
		RequesterID int     `json:"requester_id"`
		ResponderID int     `json:"responder_id"`
		Distance    float64 `json:"distance"`
		DistanceErr float64 `json:"distance_err"`
	} `json:"data"`
}

// Measurement converts the message.
func (m *UwbRange) Measurement() localization.RangeMeasurement {
	return localization.RangeMeasurement{
		Header:      m.Data.Header.toHeader(),
		RequesterID: m.Data.RequesterID,
		ResponderID: m.Data.ResponderID,
		Distance:    m.Data.Distance,
		DistanceErr: m.Data.DistanceErr,
	}
}

// ImuMessage is sensor_msgs/Imu, published on /imu.
type ImuMessage struct {
	Meta Time `json:"meta"`
	Data struct {
		Header                       Header     `json:"header"`
		Orientation                  Quaternion `json:"orientation"`
		OrientationCovariance        [9]float64 `json:"orientation_covariance"`
		AngularVelocity              Vector3    `json:"angular_velocity"`
		AngularVelocityCovariance    [9]float64 `json:"angular_velocity_covariance"`
		LinearAcceleration           Vector3    `json:"linear_acceleration"`
		LinearAccelerationCovariance [9]float64 `json:"linear_acceleration_covariance"`
	} `json:"data"`
}

// Measurement converts the message.
func (m *ImuMessage) Measurement() localization.ImuMeasurement {
	return localization.ImuMeasurement{
		Header:                       m.Data.Header.toHeader(),
		Orientation:                  m.Data.Orientation.quat(),
		OrientationCovariance:        m.Data.OrientationCovariance,
		AngularVelocity:              m.Data.AngularVelocity.r3(),
		AngularVelocityCovariance:    m.Data.AngularVelocityCovariance,
		LinearAcceleration:           m.Data.LinearAcceleration.r3(),
		LinearAccelerationCovariance: m.Data.LinearAccelerationCovariance,
	}
}

// PoseStamped is geometry_msgs/PoseStamped.
type PoseStamped struct {
	Header Header `json:"header"`
	Pose   Pose   `json:"pose"`
}

// FromPoseStamped converts an optimized pose into its message form.
func FromPoseStamped(p localization.PoseStamped) PoseStamped {
	return PoseStamped{
		Header: fromHeader(localization.Header{Stamp: p.Stamp, FrameID: p.FrameID}),
		Pose:   FromPose(p.Pose),
	}
}

// Path is nav_msgs/Path.
type Path struct {
	Header Header        `json:"header"`
	Poses  []PoseStamped `json:"poses"`
}
