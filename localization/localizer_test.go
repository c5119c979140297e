package localization

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/coloc/logging"
	"go.viam.com/coloc/posegraph"
	"go.viam.com/coloc/spatialmath"
)

type recordingPublisher struct {
	poses []PoseStamped
	paths [][]PoseStamped
}

func (p *recordingPublisher) PublishPose(_ context.Context, pose PoseStamped) error {
	p.poses = append(p.poses, pose)
	return nil
}

func (p *recordingPublisher) PublishPath(_ context.Context, path []PoseStamped) error {
	p.paths = append(p.paths, path)
	return nil
}

type harness struct {
	loc   *Localizer
	graph *posegraph.Graph
	clk   *clock.Mock
	pub   *recordingPublisher
}

func (h *harness) at(secs float64) time.Time {
	return time.Unix(0, 0).Add(time.Duration(secs * float64(time.Second)))
}

func newHarness(t *testing.T, cfg *Config) *harness {
	t.Helper()
	logger := logging.NewTestLogger(t)
	graph := posegraph.NewGraph(logger.Sublogger("graph"))
	clk := clock.NewMock()
	pub := &recordingPublisher{}
	loc, err := NewLocalizer(cfg, graph, pub, logger, WithClock(clk))
	test.That(t, err, test.ShouldBeNil)
	return &harness{loc: loc, graph: graph, clk: clk, pub: pub}
}

// robot 1 static at the origin, robot 5 is self
func twoRobotConfig() *Config {
	return &Config{RobotIDs: []int{1, 5}, RobotPositions: []float64{0, 0, 0}}
}

func identityCovariance() [36]float64 {
	var c [36]float64
	for i := 0; i < 6; i++ {
		c[i*7] = 1
	}
	return c
}

func countEdges(g *posegraph.Graph) (se3, ranges, priors int) {
	for _, e := range g.Edges() {
		switch e.(type) {
		case *posegraph.EdgeSE3:
			se3++
		case *posegraph.EdgeSE3Range:
			ranges++
		case *posegraph.EdgeSE3Prior:
			priors++
		}
	}
	return
}

func TestNewLocalizer(t *testing.T) {
	t.Run("provisioning", func(t *testing.T) {
		h := newHarness(t, &Config{
			RobotIDs:       []int{1, 2, 5},
			RobotPositions: []float64{1, 2, 3, 4, 5, 6},
			MobileRobotIDs: []int{2},
		})
		test.That(t, h.loc.SelfID(), test.ShouldEqual, 5)
		test.That(t, h.graph.NumVertices(), test.ShouldEqual, 3)
		test.That(t, h.graph.NumEdges(), test.ShouldEqual, 0)

		for _, tc := range []struct {
			id     int
			static bool
			fixed  bool
			point  r3.Vector
		}{
			{5, false, true, r3.Vector{}},
			{1, true, true, r3.Vector{X: 1, Y: 2, Z: 3}},
			{2, false, false, r3.Vector{X: 4, Y: 5, Z: 6}},
		} {
			static, err := h.loc.registry.IsStatic(tc.id)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, static, test.ShouldEqual, tc.static)

			e, err := h.loc.registry.LastEntry(tc.id, SensorPose)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, e.FrameID, test.ShouldEqual, FrameNone)
			test.That(t, e.Stamp, test.ShouldEqual, h.at(0))

			fixed, err := h.graph.Fixed(e.Vertex)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, fixed, test.ShouldEqual, tc.fixed)

			p, err := h.graph.Pose(e.Vertex)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, p.Point(), test.ShouldResemble, tc.point)
		}

		// the prior offset is registered exactly once
		test.That(t, h.graph.AddParameter(PriorParameterID, spatialmath.NewZeroPose()), test.ShouldNotBeNil)
	})

	t.Run("invalid config", func(t *testing.T) {
		logger := logging.NewTestLogger(t)
		_, err := NewLocalizer(&Config{}, posegraph.NewGraph(logger), nil, logger)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "robot_ids")
	})
}

func TestScenarioSinglePose(t *testing.T) {
	h := newHarness(t, twoRobotConfig())
	measured := spatialmath.NewPose(r3.Vector{X: 1, Y: 2}, spatialmath.QuatFromRPY(0, 0, 0.5))

	err := h.loc.AddPoseEdge(context.Background(), PoseMeasurement{
		Header:     Header{Seq: 1, Stamp: h.at(1), FrameID: "odom"},
		Pose:       measured,
		Covariance: identityCovariance(),
	})
	test.That(t, err, test.ShouldBeNil)

	traj, err := h.loc.registry.Trajectory(5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(traj), test.ShouldEqual, 2)
	test.That(t, h.graph.NumVertices(), test.ShouldEqual, 3)
	se3, ranges, priors := countEdges(h.graph)
	test.That(t, se3, test.ShouldEqual, 1)
	test.That(t, ranges+priors, test.ShouldEqual, 0)

	test.That(t, len(h.pub.poses), test.ShouldEqual, 1)
	published := h.pub.poses[0]
	test.That(t, published.Stamp, test.ShouldEqual, h.at(1))
	test.That(t, published.FrameID, test.ShouldEqual, WorldFrame)
	test.That(t, spatialmath.PoseAlmostEqual(published.Pose, measured, 1e-4), test.ShouldBeTrue)

	test.That(t, len(h.pub.paths), test.ShouldEqual, 1)
	test.That(t, len(h.pub.paths[0]), test.ShouldEqual, 2)
	test.That(t, spatialmath.PoseAlmostEqual(h.pub.paths[0][0].Pose, spatialmath.NewZeroPose(), 1e-9), test.ShouldBeTrue)

	last, ok := h.loc.LastPublished()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, spatialmath.PoseAlmostEqual(last.Pose, measured, 1e-4), test.ShouldBeTrue)
}

func TestScenarioStaticRange(t *testing.T) {
	h := newHarness(t, twoRobotConfig())

	err := h.loc.AddRangeEdge(context.Background(), RangeMeasurement{
		Header:      Header{Seq: 1, Stamp: h.at(10), FrameID: "uwb"},
		RequesterID: 5,
		ResponderID: 1,
		Distance:    3.0,
		DistanceErr: 0.1,
	})
	test.That(t, err, test.ShouldBeNil)

	se3, ranges, priors := countEdges(h.graph)
	test.That(t, ranges, test.ShouldEqual, 2)
	test.That(t, se3+priors, test.ShouldEqual, 0)

	self, err := h.loc.registry.Latest(5)
	test.That(t, err, test.ShouldBeNil)
	other, err := h.loc.registry.Latest(1)
	test.That(t, err, test.ShouldBeNil)
	selfPose, err := h.graph.Pose(self.Vertex)
	test.That(t, err, test.ShouldBeNil)
	otherPose, err := h.graph.Pose(other.Vertex)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, otherPose.Point(), test.ShouldResemble, r3.Vector{})
	test.That(t, selfPose.Point().Sub(otherPose.Point()).Norm(), test.ShouldAlmostEqual, 3.0, 0.1)

	test.That(t, len(h.pub.poses), test.ShouldEqual, 1)
	test.That(t, h.pub.poses[0].Pose.Point().Norm(), test.ShouldAlmostEqual, 3.0, 0.1)
}

func TestVertexMonotonicity(t *testing.T) {
	h := newHarness(t, twoRobotConfig())
	ctx := context.Background()
	r, err := h.loc.registry.Get(5)
	test.That(t, err, test.ShouldBeNil)

	poseBefore := r.StreamLen(SensorPose)
	for i := 1; i <= 4; i++ {
		err := h.loc.AddPoseEdge(ctx, PoseMeasurement{
			Header:     Header{Seq: uint32(i), Stamp: h.at(float64(i)), FrameID: "odom"},
			Pose:       spatialmath.NewPoseFromPoint(r3.Vector{X: float64(i)}),
			Covariance: identityCovariance(),
		})
		test.That(t, err, test.ShouldBeNil)
	}
	test.That(t, r.StreamLen(SensorPose), test.ShouldEqual, poseBefore+4)

	twistBefore := r.StreamLen(SensorTwist)
	for i := 1; i <= 3; i++ {
		err := h.loc.AddTwistEdge(ctx, TwistMeasurement{
			Header:     Header{Seq: uint32(i), Stamp: h.at(float64(10 + i))},
			Linear:     r3.Vector{X: 0.5},
			Covariance: identityCovariance(),
		})
		test.That(t, err, test.ShouldBeNil)
	}
	test.That(t, r.StreamLen(SensorTwist), test.ShouldEqual, twistBefore+3)

	traj, err := h.loc.registry.Trajectory(5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(traj), test.ShouldEqual, 1+4+3)
	for i := 1; i < len(traj); i++ {
		test.That(t, int(traj[i].Vertex), test.ShouldBeGreaterThan, int(traj[i-1].Vertex))
	}
}

func TestKeyVertexInvariance(t *testing.T) {
	h := newHarness(t, twoRobotConfig())
	ctx := context.Background()
	r, err := h.loc.registry.Get(5)
	test.That(t, err, test.ShouldBeNil)
	seed := r.Key()

	send := func(secs float64, frame string, x float64) posegraph.VertexID {
		t.Helper()
		err := h.loc.AddPoseEdge(ctx, PoseMeasurement{
			Header:     Header{Stamp: h.at(secs), FrameID: frame},
			Pose:       spatialmath.NewPoseFromPoint(r3.Vector{X: x}),
			Covariance: identityCovariance(),
		})
		test.That(t, err, test.ShouldBeNil)
		v, err := h.loc.registry.LastVertex(5)
		test.That(t, err, test.ShouldBeNil)
		return v
	}
	lastEdge := func() *posegraph.EdgeSE3 {
		edges := h.graph.Edges()
		e, ok := edges[len(edges)-1].(*posegraph.EdgeSE3)
		test.That(t, ok, test.ShouldBeTrue)
		return e
	}

	v1 := send(1, "a", 1)
	test.That(t, r.Key(), test.ShouldEqual, seed)
	test.That(t, lastEdge().From, test.ShouldEqual, seed)
	test.That(t, lastEdge().To, test.ShouldEqual, v1)

	v2 := send(2, "a", 2)
	test.That(t, r.Key(), test.ShouldEqual, seed)
	test.That(t, lastEdge().From, test.ShouldEqual, seed)
	test.That(t, lastEdge().To, test.ShouldEqual, v2)

	v3 := send(3, "b", 1)
	test.That(t, r.Key(), test.ShouldEqual, v2)
	test.That(t, lastEdge().From, test.ShouldEqual, v2)
	test.That(t, lastEdge().To, test.ShouldEqual, v3)

	v4 := send(4, "b", 2)
	test.That(t, r.Key(), test.ShouldEqual, v2)
	test.That(t, lastEdge().From, test.ShouldEqual, v2)
	test.That(t, lastEdge().To, test.ShouldEqual, v4)

	p, err := h.graph.Pose(v4)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Point().X, test.ShouldAlmostEqual, 4, 1e-3)
}

func TestPoseStreamKeyIgnoresOtherStreams(t *testing.T) {
	h := newHarness(t, twoRobotConfig())
	ctx := context.Background()
	r, err := h.loc.registry.Get(5)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, h.loc.AddPoseEdge(ctx, PoseMeasurement{
		Header:     Header{Stamp: h.at(1), FrameID: "a"},
		Pose:       spatialmath.NewPoseFromPoint(r3.Vector{X: 1}),
		Covariance: identityCovariance(),
	}), test.ShouldBeNil)
	poseVertex, err := h.loc.registry.LastVertex(5)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, h.loc.AddTwistEdge(ctx, TwistMeasurement{
		Header:     Header{Stamp: h.at(2)},
		Linear:     r3.Vector{X: 1},
		Covariance: identityCovariance(),
	}), test.ShouldBeNil)

	// a frame change anchors on the last pose vertex, not on the twist vertex in between
	test.That(t, h.loc.AddPoseEdge(ctx, PoseMeasurement{
		Header:     Header{Stamp: h.at(3), FrameID: "b"},
		Pose:       spatialmath.NewPoseFromPoint(r3.Vector{X: 1}),
		Covariance: identityCovariance(),
	}), test.ShouldBeNil)
	test.That(t, r.Key(), test.ShouldEqual, poseVertex)
}

func TestTwistEdge(t *testing.T) {
	t.Run("integrates", func(t *testing.T) {
		h := newHarness(t, twoRobotConfig())
		err := h.loc.AddTwistEdge(context.Background(), TwistMeasurement{
			Header:     Header{Stamp: h.at(2)},
			Linear:     r3.Vector{X: 1},
			Angular:    r3.Vector{Z: 0.1},
			Covariance: identityCovariance(),
		})
		test.That(t, err, test.ShouldBeNil)

		edges := h.graph.Edges()
		test.That(t, len(edges), test.ShouldEqual, 1)
		e, ok := edges[0].(*posegraph.EdgeSE3)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, e.Kind, test.ShouldEqual, posegraph.KindTwistIntegrated)
		expected := spatialmath.NewPose(r3.Vector{X: 2}, spatialmath.QuatFromRPY(0, 0, 0.2))
		test.That(t, spatialmath.PoseAlmostEqual(e.Measurement, expected, 1e-12), test.ShouldBeTrue)
		// covariance scaled by dt^2
		test.That(t, e.Info.At(0, 0), test.ShouldAlmostEqual, 0.25)
		test.That(t, e.Info.At(5, 5), test.ShouldAlmostEqual, 0.25)

		test.That(t, len(h.pub.poses), test.ShouldEqual, 1)
		test.That(t, spatialmath.PoseAlmostEqual(h.pub.poses[0].Pose, expected, 1e-4), test.ShouldBeTrue)
	})

	t.Run("zero elapsed time", func(t *testing.T) {
		h := newHarness(t, twoRobotConfig())
		vertices := h.graph.NumVertices()
		err := h.loc.AddTwistEdge(context.Background(), TwistMeasurement{
			Header:     Header{Stamp: h.at(0)},
			Linear:     r3.Vector{X: 1},
			Covariance: identityCovariance(),
		})
		var timing *DegenerateTimingError
		test.That(t, errors.As(err, &timing), test.ShouldBeTrue)
		test.That(t, timing.ID, test.ShouldEqual, 5)
		test.That(t, h.graph.NumVertices(), test.ShouldEqual, vertices)
		test.That(t, h.graph.NumEdges(), test.ShouldEqual, 0)
		test.That(t, len(h.pub.poses), test.ShouldEqual, 0)
	})

	t.Run("negative elapsed time", func(t *testing.T) {
		h := newHarness(t, twoRobotConfig())
		test.That(t, h.loc.AddTwistEdge(context.Background(), TwistMeasurement{
			Header:     Header{Stamp: h.at(5)},
			Covariance: identityCovariance(),
		}), test.ShouldBeNil)
		err := h.loc.AddTwistEdge(context.Background(), TwistMeasurement{
			Header:     Header{Stamp: h.at(4)},
			Covariance: identityCovariance(),
		})
		var timing *DegenerateTimingError
		test.That(t, errors.As(err, &timing), test.ShouldBeTrue)
		test.That(t, h.graph.NumEdges(), test.ShouldEqual, 1)
	})

	t.Run("chains twist vertices", func(t *testing.T) {
		h := newHarness(t, twoRobotConfig())
		seed, err := h.loc.registry.LastVertex(5)
		test.That(t, err, test.ShouldBeNil)
		for _, secs := range []float64{1, 1.5} {
			test.That(t, h.loc.AddTwistEdge(context.Background(), TwistMeasurement{
				Header:     Header{Stamp: h.at(secs)},
				Linear:     r3.Vector{X: 1},
				Covariance: identityCovariance(),
			}), test.ShouldBeNil)
		}
		test.That(t, h.loc.registry.robots[5].StreamLen(SensorTwist), test.ShouldEqual, 2)
		last, err := h.loc.registry.LastVertex(5, SensorTwist)
		test.That(t, err, test.ShouldBeNil)

		edges := h.graph.Edges()
		test.That(t, len(edges), test.ShouldEqual, 2)
		test.That(t, edges[0].Vertices(), test.ShouldResemble, []posegraph.VertexID{seed, last - 1})
		test.That(t, edges[1].Vertices(), test.ShouldResemble, []posegraph.VertexID{last - 1, last})
		test.That(t, edges[1].(*posegraph.EdgeSE3).Measurement.Point().X, test.ShouldAlmostEqual, 0.5)
	})

	t.Run("invalid covariance creates no vertex", func(t *testing.T) {
		h := newHarness(t, twoRobotConfig())
		vertices := h.graph.NumVertices()
		cov := identityCovariance()
		cov[14] = math.Inf(1)
		err := h.loc.AddTwistEdge(context.Background(), TwistMeasurement{
			Header:     Header{Stamp: h.at(1)},
			Linear:     r3.Vector{X: 1},
			Covariance: cov,
		})
		var invalid *InvalidCovarianceError
		test.That(t, errors.As(err, &invalid), test.ShouldBeTrue)
		test.That(t, h.graph.NumVertices(), test.ShouldEqual, vertices)
		test.That(t, h.loc.registry.robots[5].StreamLen(SensorTwist), test.ShouldEqual, 0)
	})
}

func TestInvalidCovarianceRejected(t *testing.T) {
	h := newHarness(t, twoRobotConfig())
	cov := identityCovariance()
	cov[7] = math.NaN()
	vertices := h.graph.NumVertices()

	err := h.loc.AddPoseEdge(context.Background(), PoseMeasurement{
		Header:     Header{Stamp: h.at(1), FrameID: "odom"},
		Pose:       spatialmath.NewZeroPose(),
		Covariance: cov,
	})
	var invalid *InvalidCovarianceError
	test.That(t, errors.As(err, &invalid), test.ShouldBeTrue)
	test.That(t, h.graph.NumVertices(), test.ShouldEqual, vertices)
	test.That(t, h.graph.NumEdges(), test.ShouldEqual, 0)
}

func TestRangeEdgeTopology(t *testing.T) {
	ctx := context.Background()

	t.Run("mismatched frame", func(t *testing.T) {
		h := newHarness(t, twoRobotConfig())
		test.That(t, h.loc.AddPoseEdge(ctx, PoseMeasurement{
			Header:     Header{Stamp: h.at(1), FrameID: "odom"},
			Pose:       spatialmath.NewPoseFromPoint(r3.Vector{X: 2}),
			Covariance: identityCovariance(),
		}), test.ShouldBeNil)
		reqLast, err := h.loc.registry.Latest(5)
		test.That(t, err, test.ShouldBeNil)
		edgesBefore := h.graph.NumEdges()

		test.That(t, h.loc.AddRangeEdge(ctx, RangeMeasurement{
			Header:      Header{Stamp: h.at(4), FrameID: "uwb"},
			RequesterID: 5,
			ResponderID: 1,
			Distance:    2,
			DistanceErr: 0.1,
		}), test.ShouldBeNil)

		edges := h.graph.Edges()
		test.That(t, len(edges)-edgesBefore, test.ShouldEqual, 1)
		e, ok := edges[len(edges)-1].(*posegraph.EdgeSE3Range)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, e.From, test.ShouldEqual, reqLast.Vertex)
		responder, err := h.loc.registry.LastVertex(1, SensorRange)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, e.To, test.ShouldEqual, responder)
		// distance variance plus the requester's motion bound over 3s
		test.That(t, e.Info, test.ShouldAlmostEqual, 1/(0.01+1))

		// the requester got no new vertex
		latest, err := h.loc.registry.Latest(5)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, latest.Vertex, test.ShouldEqual, reqLast.Vertex)
	})

	t.Run("matching frame", func(t *testing.T) {
		h := newHarness(t, twoRobotConfig())
		test.That(t, h.loc.AddRangeEdge(ctx, RangeMeasurement{
			Header:      Header{Stamp: h.at(3), FrameID: "uwb"},
			RequesterID: 5,
			ResponderID: 1,
			Distance:    2,
			DistanceErr: 0.1,
		}), test.ShouldBeNil)
		test.That(t, h.loc.AddRangeEdge(ctx, RangeMeasurement{
			Header:      Header{Stamp: h.at(6), FrameID: "uwb"},
			RequesterID: 5,
			ResponderID: 1,
			Distance:    2,
			DistanceErr: 0.1,
		}), test.ShouldBeNil)
		_, ranges, _ := countEdges(h.graph)
		test.That(t, ranges, test.ShouldEqual, 4)

		edges := h.graph.Edges()
		trajectory, ok := edges[2].(*posegraph.EdgeSE3Range)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, trajectory.Measurement, test.ShouldEqual, 0.)
		test.That(t, trajectory.Info, test.ShouldAlmostEqual, 1.)
		direct, ok := edges[3].(*posegraph.EdgeSE3Range)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, direct.Measurement, test.ShouldEqual, 2.)
		test.That(t, direct.From, test.ShouldEqual, trajectory.To)
	})

	t.Run("mobile responder", func(t *testing.T) {
		cfg := twoRobotConfig()
		cfg.MobileRobotIDs = []int{1}
		h := newHarness(t, cfg)
		respLast, err := h.loc.registry.Latest(1)
		test.That(t, err, test.ShouldBeNil)

		test.That(t, h.loc.AddRangeEdge(ctx, RangeMeasurement{
			Header:      Header{Stamp: h.at(3), FrameID: "uwb"},
			RequesterID: 5,
			ResponderID: 1,
			Distance:    2,
			DistanceErr: 0.1,
		}), test.ShouldBeNil)
		edges := h.graph.Edges()
		test.That(t, len(edges), test.ShouldEqual, 3)
		e, ok := edges[2].(*posegraph.EdgeSE3Range)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, e.From, test.ShouldEqual, respLast.Vertex)
		test.That(t, e.Measurement, test.ShouldEqual, 0.)
	})

	t.Run("static responder never gets a trajectory edge", func(t *testing.T) {
		h := newHarness(t, twoRobotConfig())
		for i := 1; i <= 3; i++ {
			test.That(t, h.loc.AddRangeEdge(ctx, RangeMeasurement{
				Header:      Header{Stamp: h.at(float64(i)), FrameID: "uwb"},
				RequesterID: 5,
				ResponderID: 1,
				Distance:    2,
				DistanceErr: 0.1,
			}), test.ShouldBeNil)
		}
		anchors, err := h.loc.registry.Trajectory(1)
		test.That(t, err, test.ShouldBeNil)
		for _, e := range h.graph.Edges() {
			vs := e.Vertices()
			for _, a := range anchors {
				for _, b := range anchors {
					test.That(t, vs[0] == a.Vertex && vs[1] == b.Vertex, test.ShouldBeFalse)
				}
			}
		}
		for _, a := range anchors {
			fixed, err := h.graph.Fixed(a.Vertex)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, fixed, test.ShouldBeTrue)
		}
	})

	t.Run("unknown robot", func(t *testing.T) {
		h := newHarness(t, twoRobotConfig())
		vertices := h.graph.NumVertices()
		err := h.loc.AddRangeEdge(ctx, RangeMeasurement{
			Header:      Header{Stamp: h.at(1), FrameID: "uwb"},
			RequesterID: 5,
			ResponderID: 42,
			Distance:    1,
			DistanceErr: 0.1,
		})
		var unknown *UnknownRobotError
		test.That(t, errors.As(err, &unknown), test.ShouldBeTrue)
		test.That(t, unknown.ID, test.ShouldEqual, 42)
		test.That(t, h.graph.NumVertices(), test.ShouldEqual, vertices)
		test.That(t, h.graph.NumEdges(), test.ShouldEqual, 0)
	})
}

func imuAt(h *harness, secs float64) ImuMeasurement {
	return ImuMeasurement{
		Header:                Header{Stamp: h.at(secs), FrameID: "imu"},
		Orientation:           quat.Number{Real: 1},
		OrientationCovariance: [9]float64{0.01, 0, 0, 0, 0.01, 0, 0, 0, 0.01},
		LinearAcceleration:    r3.Vector{Z: DefaultGravity},
	}
}

func rangeAt(h *harness, secs float64) RangeMeasurement {
	return RangeMeasurement{
		Header:      Header{Stamp: h.at(secs), FrameID: "uwb"},
		RequesterID: 5,
		ResponderID: 1,
		Distance:    3,
		DistanceErr: 0.1,
	}
}

func inertialConfig() *Config {
	return &Config{RobotIDs: []int{1, 5}, RobotPositions: []float64{3, 0, 0}, InertialFusion: true}
}

func TestInertialWarmup(t *testing.T) {
	h := newHarness(t, inertialConfig())
	ctx := context.Background()

	for i := 1; i <= DefaultWarmupSamples; i++ {
		err := h.loc.AddInertialEdge(ctx, InertialMeasurement{Range: rangeAt(h, float64(i)), Imu: imuAt(h, float64(i))})
		test.That(t, err, test.ShouldBeNil)
		se3, ranges, priors := countEdges(h.graph)
		test.That(t, se3, test.ShouldEqual, 0)
		test.That(t, priors, test.ShouldEqual, 0)
		test.That(t, ranges, test.ShouldEqual, i)
	}
	r, err := h.loc.registry.Get(5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.StreamLen(SensorRange), test.ShouldEqual, DefaultWarmupSamples)

	err = h.loc.AddInertialEdge(ctx, InertialMeasurement{
		Range: rangeAt(h, DefaultWarmupSamples+1),
		Imu:   imuAt(h, DefaultWarmupSamples+1),
	})
	test.That(t, err, test.ShouldBeNil)
	se3, ranges, priors := countEdges(h.graph)
	test.That(t, se3, test.ShouldEqual, 1)
	test.That(t, priors, test.ShouldEqual, 1)
	test.That(t, ranges, test.ShouldEqual, DefaultWarmupSamples+1)

	edges := h.graph.Edges()
	motion, ok := edges[len(edges)-2].(*posegraph.EdgeSE3)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, motion.Kind, test.ShouldEqual, posegraph.KindInertialDeadReckoning)
	prior, ok := edges[len(edges)-1].(*posegraph.EdgeSE3Prior)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, prior.Vertex, test.ShouldEqual, motion.To)
	test.That(t, prior.ParameterID, test.ShouldEqual, PriorParameterID)
	test.That(t, prior.Info.At(3, 3), test.ShouldEqual, DefaultPriorInformation)
	test.That(t, prior.Info.At(0, 0), test.ShouldEqual, 0.)

	last, ok := h.loc.LastPublished()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, spatialmath.PoseIsFinite(last.Pose), test.ShouldBeTrue)
	test.That(t, last.Pose.Point().Sub(r3.Vector{X: 3}).Norm(), test.ShouldAlmostEqual, 3, 0.1)
}

func TestInertialStaticRequester(t *testing.T) {
	h := newHarness(t, inertialConfig())
	ctx := context.Background()
	for i := 1; i <= DefaultWarmupSamples+3; i++ {
		m := rangeAt(h, float64(i))
		m.RequesterID, m.ResponderID = 1, 5
		err := h.loc.AddInertialEdge(ctx, InertialMeasurement{Range: m, Imu: imuAt(h, float64(i))})
		test.That(t, err, test.ShouldBeNil)
	}
	se3, _, priors := countEdges(h.graph)
	test.That(t, se3, test.ShouldEqual, 0)
	test.That(t, priors, test.ShouldEqual, 0)
}

func TestInertialDegenerateTiming(t *testing.T) {
	h := newHarness(t, inertialConfig())
	ctx := context.Background()

	test.That(t, h.loc.AddInertialEdge(ctx, InertialMeasurement{Range: rangeAt(h, 1), Imu: imuAt(h, 1)}), test.ShouldBeNil)
	vertices, edges := h.graph.NumVertices(), h.graph.NumEdges()

	err := h.loc.AddInertialEdge(ctx, InertialMeasurement{Range: rangeAt(h, 1), Imu: imuAt(h, 1)})
	var timing *DegenerateTimingError
	test.That(t, errors.As(err, &timing), test.ShouldBeTrue)
	test.That(t, h.graph.NumVertices(), test.ShouldEqual, vertices)
	test.That(t, h.graph.NumEdges(), test.ShouldEqual, edges)
	// bookkeeping still counts the sample
	test.That(t, h.loc.inertialSamples, test.ShouldEqual, 2)
}

func TestImuPairing(t *testing.T) {
	h := newHarness(t, inertialConfig())
	ctx := context.Background()

	test.That(t, h.loc.HandleImu(ctx, imuAt(h, 0.5)), test.ShouldBeNil)
	test.That(t, h.graph.NumEdges(), test.ShouldEqual, 0)

	test.That(t, h.loc.HandleRange(ctx, rangeAt(h, 1)), test.ShouldBeNil)
	test.That(t, h.graph.NumEdges(), test.ShouldEqual, 0)

	test.That(t, h.loc.HandleImu(ctx, imuAt(h, 1.01)), test.ShouldBeNil)
	test.That(t, h.graph.NumEdges(), test.ShouldEqual, 1)
	test.That(t, h.loc.inertialSamples, test.ShouldEqual, 1)

	// the exchange is consumed
	test.That(t, h.loc.HandleImu(ctx, imuAt(h, 1.02)), test.ShouldBeNil)
	test.That(t, h.graph.NumEdges(), test.ShouldEqual, 1)

	// exchanges requested by other robots go straight to the range handler
	m := rangeAt(h, 2)
	m.RequesterID, m.ResponderID = 1, 5
	test.That(t, h.loc.HandleRange(ctx, m), test.ShouldBeNil)
	test.That(t, h.graph.NumEdges(), test.ShouldBeGreaterThan, 1)
	test.That(t, h.loc.inertialSamples, test.ShouldEqual, 1)
}

func TestHandleRangeWithoutInertialFusion(t *testing.T) {
	h := newHarness(t, twoRobotConfig())
	test.That(t, h.loc.HandleRange(context.Background(), rangeAt(h, 1)), test.ShouldBeNil)
	test.That(t, h.graph.NumEdges(), test.ShouldEqual, 2)
}

func TestInertialRequesterTakesImuOrientation(t *testing.T) {
	h := newHarness(t, inertialConfig())
	imu := imuAt(h, 1)
	imu.Orientation = spatialmath.QuatFromRPY(0, 0, 0.7)

	err := h.loc.AddInertialEdge(context.Background(), InertialMeasurement{Range: rangeAt(h, 1), Imu: imu})
	test.That(t, err, test.ShouldBeNil)

	v, err := h.loc.registry.LastVertex(5, SensorRange)
	test.That(t, err, test.ShouldBeNil)
	p, err := h.graph.Pose(v)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.QuaternionAlmostEqual(p.Orientation(), imu.Orientation, 1e-9), test.ShouldBeTrue)
	test.That(t, spatialmath.QuaternionAlmostEqual(h.loc.prevOrientation, imu.Orientation, 1e-9), test.ShouldBeTrue)
}
