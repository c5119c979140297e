// Package localization builds a pose graph for a team of robots from relative pose, twist, range
// and inertial measurements, re-solves it on every accepted measurement and publishes the self
// robot's optimized pose and path.
package localization

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/coloc/logging"
	"go.viam.com/coloc/posegraph"
	"go.viam.com/coloc/spatialmath"
)

// SolveObserver is called after every optimization with its summary and wall time.
type SolveObserver func(summary posegraph.Summary, took time.Duration)

// Option configures a Localizer.
type Option func(*Localizer)

// WithClock sets the clock used to stamp seed vertices and time optimizations.
func WithClock(clk clock.Clock) Option {
	return func(l *Localizer) {
		l.clock = clk
	}
}

// WithMetrics records the localizer's activity in m.
func WithMetrics(m *Metrics) Option {
	return func(l *Localizer) {
		l.metrics = m
	}
}

// WithSolveObserver registers a callback run after every optimization.
func WithSolveObserver(obs SolveObserver) Option {
	return func(l *Localizer) {
		l.observer = obs
	}
}

// Localizer fuses measurements into the pose graph. Every handler holds a single lock from
// endpoint resolution through optimization and publication, so measurements are applied one at a
// time in arrival order.
type Localizer struct {
	mu        sync.Mutex
	logger    logging.Logger
	cfg       Config
	clock     clock.Clock
	backend   Backend
	registry  *Registry
	timeline  *Timeline
	publisher Publisher
	metrics   *Metrics
	observer  SolveObserver
	convert   ConvertOptions
	inertial  InertialOptions
	selfID    int

	inertialSamples  int
	prevFromPosition r3.Vector
	prevOrientation  quat.Number
	pendingRange     *RangeMeasurement

	lastPublished *PoseStamped
}

// NewLocalizer validates cfg, registers the prior offset parameter and provisions a seed vertex
// for every robot. The self robot is seeded at the identity and pinned there; other robots are
// seeded at their configured position. A nil publisher disables publication.
func NewLocalizer(
	cfg *Config,
	backend Backend,
	publisher Publisher,
	logger logging.Logger,
	opts ...Option,
) (*Localizer, error) {
	if err := cfg.Validate("localization"); err != nil {
		return nil, err
	}
	l := &Localizer{
		logger:          logger,
		cfg:             cfg.withDefaults(),
		clock:           clock.New(),
		backend:         backend,
		publisher:       publisher,
		selfID:          cfg.SelfID(),
		prevOrientation: quat.Number{Real: 1},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.registry = NewRegistry(backend, logger.Sublogger("registry"))
	l.timeline = NewTimeline(l.registry)
	l.convert = ConvertOptions{
		Kernel:      posegraph.NewHuber(l.cfg.HuberDelta),
		MinVariance: l.cfg.MinVariance,
		Logger:      logger,
	}
	l.inertial = InertialOptions{
		ConvertOptions:   l.convert,
		Gravity:          l.cfg.Gravity,
		WarmupSamples:    l.cfg.WarmupSamples,
		PriorInformation: l.cfg.PriorInformation,
	}

	if err := backend.AddParameter(PriorParameterID, spatialmath.NewZeroPose()); err != nil {
		return nil, errors.Wrap(err, "failed to register prior offset parameter")
	}

	seed := Header{Stamp: l.clock.Now(), FrameID: FrameNone}
	l.registry.Provision(l.selfID, false, true, spatialmath.NewZeroPose(), seed)
	logger.Infow("provisioned self robot", "id", l.selfID)
	for i, id := range l.cfg.RobotIDs[:len(l.cfg.RobotIDs)-1] {
		pos := r3.Vector{X: l.cfg.RobotPositions[3*i], Y: l.cfg.RobotPositions[3*i+1], Z: l.cfg.RobotPositions[3*i+2]}
		static := !lo.Contains(l.cfg.MobileRobotIDs, id)
		l.registry.Provision(id, static, false, spatialmath.NewPoseFromPoint(pos), seed)
		logger.Infow("provisioned robot", "id", id, "static", static, "position", pos)
	}
	l.updateVertexGauge()
	return l, nil
}

// SelfID returns the id of the robot being localized.
func (l *Localizer) SelfID() int {
	return l.selfID
}

// LastPublished returns the last pose handed to the publisher.
func (l *Localizer) LastPublished() (PoseStamped, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lastPublished == nil {
		return PoseStamped{}, false
	}
	return *l.lastPublished, true
}

// Path returns the current estimate of every vertex of robot id in arrival order.
func (l *Localizer) Path(id int) ([]PoseStamped, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path(id)
}

func (l *Localizer) path(id int) ([]PoseStamped, error) {
	traj, err := l.registry.Trajectory(id)
	if err != nil {
		return nil, err
	}
	poses, err := l.backend.Path(lo.Map(traj, func(e Entry, _ int) posegraph.VertexID { return e.Vertex }))
	if err != nil {
		return nil, err
	}
	return lo.Map(traj, func(e Entry, i int) PoseStamped {
		return PoseStamped{Stamp: e.Stamp, FrameID: WorldFrame, Pose: poses[i]}
	}), nil
}

// AddPoseEdge inserts a relative pose measurement of the self robot between its key vertex and a
// new pose vertex.
func (l *Localizer) AddPoseEdge(ctx context.Context, m PoseMeasurement) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics.event("pose")

	// validate before any vertex is created
	edge, err := RelativePoseEdge(0, 0, m.Pose, m.Covariance, l.convert)
	if err != nil {
		return l.drop("pose", err)
	}
	key, next, err := l.timeline.PoseEndpoints(l.selfID, m.Header)
	if err != nil {
		return l.drop("pose", err)
	}
	edge.From, edge.To = key, next
	if err := l.insert(edge, posegraph.KindRelativePose.String()); err != nil {
		return err
	}
	l.logger.Debugw("added pose edge", "seq", m.Header.Seq, "frame", m.Header.FrameID, "from", key, "to", next)
	return l.solveAndPublish(ctx)
}

// AddTwistEdge integrates a body twist of the self robot since its previous twist vertex.
func (l *Localizer) AddTwistEdge(ctx context.Context, m TwistMeasurement) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics.event("twist")

	// validate before any vertex is created
	if err := checkTwist(m); err != nil {
		return l.drop("twist", err)
	}
	from, to, dt, err := l.timeline.TwistEndpoints(l.selfID, m.Header)
	if err != nil {
		return l.drop("twist", err)
	}
	edge, err := TwistEdge(from, to, m.Linear, m.Angular, m.Covariance, dt, l.convert)
	if err != nil {
		return l.drop("twist", err)
	}
	if err := l.insert(edge, posegraph.KindTwistIntegrated.String()); err != nil {
		return err
	}
	l.logger.Debugw("added twist edge", "seq", m.Header.Seq, "dt", dt, "from", from, "to", to)
	return l.solveAndPublish(ctx)
}

// AddRangeEdge inserts the edges of a range exchange. When the requester's latest frame matches
// the exchange (or is FrameNone) the requester gets a new vertex, tied to the responder's new
// vertex by the range and to its previous vertex by a motion bound. Otherwise the range ties the
// requester's previous vertex to the responder with the motion bound folded into its variance.
// Mobile responders are tied to their previous vertex by a motion bound too.
func (l *Localizer) AddRangeEdge(ctx context.Context, m RangeMeasurement) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addRangeEdge(ctx, m)
}

func (l *Localizer) addRangeEdge(ctx context.Context, m RangeMeasurement) error {
	l.metrics.event("range")
	errVariance := m.DistanceErr * m.DistanceErr
	if _, err := RangeEdge(0, 1, m.Distance, errVariance, l.convert); err != nil {
		return l.drop("range", err)
	}
	ep, err := l.timeline.RangeEndpoints(m)
	if err != nil {
		return l.drop("range", err)
	}

	reqMotion := MotionVariance(l.cfg.MaxVelocity, ep.RequesterDt)
	var edges []*posegraph.EdgeSE3Range
	if ep.SameFrame {
		trajectory, err := RangeEdge(ep.RequesterLast, ep.Requester, 0, reqMotion, l.convert)
		if err != nil {
			return l.drop("range", err)
		}
		direct, err := RangeEdge(ep.Requester, ep.Responder, m.Distance, errVariance, l.convert)
		if err != nil {
			return l.drop("range", err)
		}
		edges = append(edges, trajectory, direct)
	} else {
		direct, err := RangeEdge(ep.RequesterLast, ep.Responder, m.Distance, errVariance+reqMotion, l.convert)
		if err != nil {
			return l.drop("range", err)
		}
		edges = append(edges, direct)
	}
	if !ep.ResponderStatic {
		trajectory, err := RangeEdge(ep.ResponderLast, ep.Responder, 0,
			MotionVariance(l.cfg.MaxVelocity, ep.ResponderDt), l.convert)
		if err != nil {
			return l.drop("range", err)
		}
		edges = append(edges, trajectory)
	}
	for _, e := range edges {
		if err := l.insert(e, "range"); err != nil {
			return err
		}
	}
	l.logger.Debugw("added range edges", "seq", m.Header.Seq, "requester", m.RequesterID,
		"responder", m.ResponderID, "distance", m.Distance, "edges", len(edges), "sameFrame", ep.SameFrame)
	return l.solveAndPublish(ctx)
}

// AddInertialEdge inserts a range exchange paired with an IMU sample of its requester. The new
// requester vertex takes the IMU orientation. Once more than the warm-up number of samples was
// seen for a mobile requester, a dead reckoned SE3 edge from the previous range vertex and an
// orientation prior are added as well.
func (l *Localizer) AddInertialEdge(ctx context.Context, m InertialMeasurement) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addInertialEdge(ctx, m)
}

func (l *Localizer) addInertialEdge(ctx context.Context, m InertialMeasurement) error {
	l.metrics.event("inertial")
	errVariance := m.Range.DistanceErr * m.Range.DistanceErr
	if _, err := RangeEdge(0, 1, m.Range.Distance, errVariance, l.convert); err != nil {
		return l.drop("inertial", err)
	}
	if err := checkImu(m.Imu); err != nil {
		return l.drop("inertial", err)
	}
	requester, err := l.registry.Get(m.Range.RequesterID)
	if err != nil {
		return l.drop("inertial", err)
	}
	if _, err := l.registry.Get(m.Range.ResponderID); err != nil {
		return l.drop("inertial", err)
	}

	qNow := spatialmath.Normalize(m.Imu.Orientation)
	l.inertialSamples++
	ep, err := l.timeline.InertialEndpoints(m.Range)
	if err != nil {
		l.prevOrientation = qNow
		return l.drop("inertial", err)
	}

	fromPose, err := l.backend.Pose(ep.From)
	if err != nil {
		return err
	}
	if !requester.Static {
		current, err := l.backend.Pose(ep.Requester)
		if err != nil {
			return err
		}
		if err := l.backend.SetEstimate(ep.Requester, spatialmath.NewPose(current.Point(), qNow)); err != nil {
			return err
		}
	}

	res, convErr := InertialEdges(InertialInput{
		From:                 ep.From,
		To:                   ep.Requester,
		Samples:              l.inertialSamples,
		Dt:                   ep.Dt,
		FromPosition:         fromPose.Point(),
		PreviousFromPosition: l.prevFromPosition,
		PreviousOrientation:  l.prevOrientation,
		Imu:                  m.Imu,
		Mobile:               !requester.Static,
	}, l.inertial)
	l.prevFromPosition = fromPose.Point()
	l.prevOrientation = qNow
	if convErr != nil {
		l.logger.Warnw("dropping inertial motion edge", "seq", m.Imu.Header.Seq, "error", convErr)
		l.metrics.dropped("inertial", "motion")
	}

	rangeEdge, err := RangeEdge(ep.Requester, ep.Responder, m.Range.Distance, errVariance, l.convert)
	if err != nil {
		return err
	}
	if err := l.insert(rangeEdge, "range"); err != nil {
		return err
	}
	if res.Motion != nil {
		if err := l.insert(res.Motion, posegraph.KindInertialDeadReckoning.String()); err != nil {
			return err
		}
		if err := l.insert(res.Prior, "prior"); err != nil {
			return err
		}
	}
	l.logger.Debugw("added inertial edges", "seq", m.Range.Header.Seq, "samples", l.inertialSamples,
		"dt", ep.Dt, "velocity", res.Velocity, "motion", res.Motion != nil)
	return multierr.Combine(convErr, l.solveAndPublish(ctx))
}

// HandleRange routes a range exchange. With inertial fusion enabled, exchanges requested by the
// self robot wait for its next IMU sample; a newer exchange replaces a waiting one.
func (l *Localizer) HandleRange(ctx context.Context, m RangeMeasurement) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cfg.InertialFusion && m.RequesterID == l.selfID {
		if l.pendingRange != nil {
			l.metrics.dropped("range", "superseded")
			l.logger.Debugw("superseded unpaired range", "seq", l.pendingRange.Header.Seq)
		}
		l.pendingRange = &m
		return nil
	}
	return l.addRangeEdge(ctx, m)
}

// HandleImu pairs an IMU sample with the waiting range exchange, if any. Each exchange is paired
// at most once.
func (l *Localizer) HandleImu(ctx context.Context, m ImuMeasurement) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pendingRange == nil {
		return nil
	}
	r := *l.pendingRange
	l.pendingRange = nil
	return l.addInertialEdge(ctx, InertialMeasurement{Range: r, Imu: m})
}

func (l *Localizer) insert(e posegraph.Edge, kind string) error {
	if err := l.backend.AddEdge(e); err != nil {
		return errors.Wrapf(err, "failed to insert %s edge", kind)
	}
	l.metrics.edge(kind)
	return nil
}

func (l *Localizer) drop(measurement string, err error) error {
	reason := "invalid"
	var (
		unknown  *UnknownRobotError
		timing   *DegenerateTimingError
		badCov   *InvalidCovarianceError
		noVertex *NoVertexYetError
	)
	switch {
	case errors.As(err, &unknown):
		reason = "unknown_robot"
	case errors.As(err, &timing):
		reason = "degenerate_timing"
	case errors.As(err, &badCov):
		reason = "invalid_covariance"
	case errors.As(err, &noVertex):
		reason = "no_vertex"
	}
	l.metrics.dropped(measurement, reason)
	l.logger.Warnw("dropping measurement", "measurement", measurement, "reason", reason, "error", err)
	return err
}

func (l *Localizer) solveAndPublish(ctx context.Context) error {
	l.updateVertexGauge()
	start := l.clock.Now()
	summary, err := l.backend.Optimize(l.cfg.MaxIterations)
	took := l.clock.Since(start)
	l.logger.Debugw("graph optimized", "took", took, "iterations", summary.Iterations,
		"initialChi2", summary.InitialChi2, "finalChi2", summary.FinalChi2)
	if l.metrics != nil {
		l.metrics.OptimizeDuration.Observe(took.Seconds())
		l.metrics.Chi2.Set(summary.FinalChi2)
	}
	if l.observer != nil {
		l.observer(summary, took)
	}
	if err != nil && !errors.Is(err, posegraph.ErrNonFinite) {
		return errors.Wrap(err, "optimization failed")
	}

	latest, lerr := l.registry.Latest(l.selfID)
	if lerr != nil {
		return lerr
	}
	pose, perr := l.backend.Pose(latest.Vertex)
	if perr != nil {
		return perr
	}
	if err != nil || !spatialmath.PoseIsFinite(pose) {
		l.metrics.dropped("publish", "non_finite")
		l.logger.Errorw("optimized pose is not finite; keeping last published pose", "pose", pose)
		return &NonFiniteOptimizationResultError{ID: l.selfID}
	}
	path, err := l.path(l.selfID)
	if err != nil {
		return err
	}
	if lo.ContainsBy(path, func(p PoseStamped) bool { return !spatialmath.PoseIsFinite(p.Pose) }) {
		l.metrics.dropped("publish", "non_finite")
		return &NonFiniteOptimizationResultError{ID: l.selfID}
	}

	stamped := PoseStamped{Stamp: latest.Stamp, FrameID: WorldFrame, Pose: pose}
	l.lastPublished = &stamped
	l.logger.CDebugw(ctx, "optimized pose", "stamp", stamped.Stamp, "pose", pose, "pathLen", len(path))
	if l.publisher == nil {
		return nil
	}
	if l.metrics != nil {
		l.metrics.PublishedTotal.Inc()
	}
	return multierr.Combine(
		l.publisher.PublishPose(ctx, stamped),
		l.publisher.PublishPath(ctx, path),
	)
}

func (l *Localizer) updateVertexGauge() {
	if l.metrics != nil {
		l.metrics.Vertices.Set(float64(l.backend.NumVertices()))
	}
}

func checkTwist(m TwistMeasurement) error {
	for _, v := range []float64{m.Linear.X, m.Linear.Y, m.Linear.Z, m.Angular.X, m.Angular.Y, m.Angular.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("twist measurement is not finite")
		}
	}
	for _, v := range m.Covariance {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &InvalidCovarianceError{Reason: "non-finite entry"}
		}
	}
	return nil
}

func checkImu(m ImuMeasurement) error {
	q := m.Orientation
	for _, v := range []float64{q.Real, q.Imag, q.Jmag, q.Kmag,
		m.LinearAcceleration.X, m.LinearAcceleration.Y, m.LinearAcceleration.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("imu sample is not finite")
		}
	}
	if quat.Abs(q) < 1e-9 {
		return errors.New("imu orientation is not a rotation")
	}
	return nil
}
