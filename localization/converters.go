package localization

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/coloc/logging"
	"go.viam.com/coloc/posegraph"
	"go.viam.com/coloc/spatialmath"
)

// PriorParameterID is the sensor offset every prior edge is measured through.
const PriorParameterID = 0

// ConvertOptions carries the settings shared by all converters.
type ConvertOptions struct {
	Kernel posegraph.RobustKernel
	// MinVariance is the eigenvalue floor for covariances that are not positive definite and the
	// variance floor for ranges and dead reckoned translations.
	MinVariance float64
	// Logger, if set, is warned when a covariance had to be clamped.
	Logger logging.Logger
}

func (o ConvertOptions) information(cov []float64, dim int, what string) (*mat.SymDense, error) {
	info, clamped, err := InformationFromCovariance(cov, dim, o.MinVariance)
	if err != nil {
		return nil, errors.Wrapf(err, "%s covariance", what)
	}
	if clamped && o.Logger != nil {
		o.Logger.Warnw("covariance was not positive definite; clamped", "measurement", what, "floor", o.MinVariance)
	}
	return info, nil
}

// RelativePoseEdge builds an SE3 edge whose information is the inverse of cov.
func RelativePoseEdge(
	from, to posegraph.VertexID,
	measurement spatialmath.Pose,
	cov [36]float64,
	opts ConvertOptions,
) (*posegraph.EdgeSE3, error) {
	if !spatialmath.PoseIsFinite(measurement) {
		return nil, errors.New("pose measurement is not finite")
	}
	info, err := opts.information(cov[:], 6, "pose")
	if err != nil {
		return nil, err
	}
	return &posegraph.EdgeSE3{
		Kind:        posegraph.KindRelativePose,
		From:        from,
		To:          to,
		Measurement: measurement,
		Info:        info,
		Kernel:      opts.Kernel,
	}, nil
}

// TwistToPose integrates a constant body twist over dt. The angular part is applied as roll,
// pitch and yaw.
func TwistToPose(linear, angular r3.Vector, dt time.Duration) spatialmath.Pose {
	secs := dt.Seconds()
	return spatialmath.NewPose(
		linear.Mul(secs),
		spatialmath.QuatFromRPY(angular.X*secs, angular.Y*secs, angular.Z*secs),
	)
}

// TwistEdge builds an SE3 edge from a twist held for dt, with the covariance scaled by dt^2.
func TwistEdge(
	from, to posegraph.VertexID,
	linear, angular r3.Vector,
	cov [36]float64,
	dt time.Duration,
	opts ConvertOptions,
) (*posegraph.EdgeSE3, error) {
	if dt <= 0 {
		return nil, &DegenerateTimingError{Sensor: SensorTwist, Dt: dt}
	}
	secs := dt.Seconds()
	scaled := make([]float64, len(cov))
	for i, v := range cov {
		scaled[i] = v * secs * secs
	}
	measurement := TwistToPose(linear, angular, dt)
	if !spatialmath.PoseIsFinite(measurement) {
		return nil, errors.New("twist measurement is not finite")
	}
	info, err := opts.information(scaled, 6, "twist")
	if err != nil {
		return nil, err
	}
	return &posegraph.EdgeSE3{
		Kind:        posegraph.KindTwistIntegrated,
		From:        from,
		To:          to,
		Measurement: measurement,
		Info:        info,
		Kernel:      opts.Kernel,
	}, nil
}

// RangeEdge builds a distance edge with information 1/variance, the variance raised to
// opts.MinVariance.
func RangeEdge(from, to posegraph.VertexID, distance, variance float64, opts ConvertOptions) (*posegraph.EdgeSE3Range, error) {
	if math.IsNaN(distance) || math.IsInf(distance, 0) || distance < 0 {
		return nil, errors.Errorf("invalid range %v", distance)
	}
	if math.IsNaN(variance) || math.IsInf(variance, 0) {
		return nil, &InvalidCovarianceError{Reason: "non-finite range variance"}
	}
	if variance < opts.MinVariance {
		variance = opts.MinVariance
	}
	return &posegraph.EdgeSE3Range{
		From:        from,
		To:          to,
		Measurement: distance,
		Info:        1 / variance,
		Kernel:      opts.Kernel,
	}, nil
}

// MotionVariance is the variance of a displacement bounded by maxVelocity*dt at three sigma.
func MotionVariance(maxVelocity float64, dt time.Duration) float64 {
	sigma := maxVelocity * dt.Seconds() / 3
	return sigma * sigma
}

// InertialOptions configures InertialEdges.
type InertialOptions struct {
	ConvertOptions
	Gravity          float64
	WarmupSamples    int
	PriorInformation float64
}

// InertialInput is the state an inertial event integrates.
type InertialInput struct {
	From, To posegraph.VertexID
	// Samples counts inertial events including this one.
	Samples int
	Dt      time.Duration
	// FromPosition and PreviousFromPosition are the estimates of the vertices the last two
	// events integrated from.
	FromPosition         r3.Vector
	PreviousFromPosition r3.Vector
	PreviousOrientation  quat.Number
	Imu                  ImuMeasurement
	Mobile               bool
}

// InertialResult holds the dead reckoning estimate of an event and, past warm-up, its edges.
type InertialResult struct {
	Velocity     r3.Vector
	Acceleration r3.Vector
	Translation  r3.Vector
	Rotation     quat.Number
	// Motion and Prior are nil during warm-up and for static requesters.
	Motion *posegraph.EdgeSE3
	Prior  *posegraph.EdgeSE3Prior
}

// InertialVelocity is the finite difference velocity between the last two integration origins.
// It is zero until two samples were seen.
func InertialVelocity(samples int, from, previousFrom r3.Vector, dt time.Duration) r3.Vector {
	if samples < 2 || dt <= 0 {
		return r3.Vector{}
	}
	return from.Sub(previousFrom).Mul(1 / dt.Seconds())
}

// InertialEdges dead reckons the motion since the previous inertial event and, once more than
// WarmupSamples events were seen for a mobile requester, returns the SE3 edge for it and a prior
// pinning the new vertex's orientation to the IMU's.
func InertialEdges(in InertialInput, opts InertialOptions) (InertialResult, error) {
	var res InertialResult
	if in.Dt <= 0 {
		return res, &DegenerateTimingError{Sensor: SensorRange, Dt: in.Dt}
	}
	res.Velocity = InertialVelocity(in.Samples, in.FromPosition, in.PreviousFromPosition, in.Dt)
	if in.Samples <= opts.WarmupSamples || !in.Mobile {
		return res, nil
	}

	qNow := spatialmath.Normalize(in.Imu.Orientation)
	qPrev := spatialmath.Normalize(in.PreviousOrientation)

	// body acceleration into the reference frame, minus gravity
	bodyToWorld := spatialmath.RotationMatrix(qNow)
	res.Acceleration = spatialmath.MatRotate(bodyToWorld, in.Imu.LinearAcceleration).Sub(r3.Vector{Z: opts.Gravity})

	secs := in.Dt.Seconds()
	world := res.Velocity.Mul(secs).Add(res.Acceleration.Mul(0.5 * secs * secs))
	worldToPrev := spatialmath.RotationMatrix(qPrev).Transpose()
	res.Translation = spatialmath.MatRotate(worldToPrev, world)
	res.Rotation = spatialmath.Normalize(quat.Mul(quat.Conj(qPrev), qNow))

	measurement := spatialmath.NewPose(res.Translation, res.Rotation)
	if !spatialmath.PoseIsFinite(measurement) {
		return res, errors.New("inertial measurement is not finite")
	}

	translationCov := []float64{
		math.Max(math.Abs(res.Translation.X), opts.MinVariance), 0, 0,
		0, math.Max(math.Abs(res.Translation.Y), opts.MinVariance), 0,
		0, 0, math.Max(math.Abs(res.Translation.Z), opts.MinVariance),
	}
	cov := BlockDiagonal(translationCov, 3, in.Imu.OrientationCovariance[:], 3)
	info, err := opts.information(cov, 6, "inertial")
	if err != nil {
		return res, err
	}
	res.Motion = &posegraph.EdgeSE3{
		Kind:        posegraph.KindInertialDeadReckoning,
		From:        in.From,
		To:          in.To,
		Measurement: measurement,
		Info:        info,
		Kernel:      opts.Kernel,
	}

	priorInfo := mat.NewSymDense(6, nil)
	for i := 3; i < 6; i++ {
		priorInfo.SetSym(i, i, opts.PriorInformation)
	}
	res.Prior = &posegraph.EdgeSE3Prior{
		Vertex:      in.To,
		Measurement: spatialmath.NewPoseFromOrientation(qNow),
		ParameterID: PriorParameterID,
		Info:        priorInfo,
		Kernel:      opts.Kernel,
	}
	return res, nil
}
