package trajfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"go.uber.org/goleak"
	"go.viam.com/test"

	"go.viam.com/coloc/localization"
	"go.viam.com/coloc/spatialmath"
)

func TestMain(m *testing.M) {
	// lumberjack starts its mill goroutine on the first write and never stops it
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"),
		goleak.IgnoreAnyFunction("gopkg.in/natefinch/lumberjack.v2.(*Logger).millRun"),
	)
}

func TestFileName(t *testing.T) {
	now := time.Date(2016, time.March, 7, 9, 5, 3, 0, time.UTC)
	test.That(t, FileName("/data/robot", now), test.ShouldEqual, "/data/robot_2016_Mar_07_09_05_03.txt")
}

func TestLine(t *testing.T) {
	pose := localization.PoseStamped{
		Stamp: time.Unix(1457341503, 120000000),
		Pose: spatialmath.NewPose(r3.Vector{X: 1.5, Y: -2, Z: 0.25},
			spatialmath.QuatFromRPY(0, 0, 0)),
	}
	test.That(t, Line(pose), test.ShouldEqual, "1457341503.120000000 1.5 -2 0.25 0 0 0 1\n")
}

func TestWriter(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewMock()
	clk.Set(time.Date(2016, time.March, 7, 9, 5, 3, 0, time.Local))

	w, err := New(filepath.Join(dir, "traj"), 30, clk)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, w.Path(), test.ShouldEqual, filepath.Join(dir, "traj_2016_Mar_07_09_05_03.txt"))

	pose := localization.PoseStamped{Stamp: time.Unix(10, 5), Pose: spatialmath.NewPoseFromPoint(r3.Vector{X: 1})}
	test.That(t, w.PublishPose(context.Background(), pose), test.ShouldBeNil)
	test.That(t, w.PublishPath(context.Background(), []localization.PoseStamped{pose}), test.ShouldBeNil)
	pose.Stamp = time.Unix(11, 0)
	test.That(t, w.PublishPose(context.Background(), pose), test.ShouldBeNil)
	test.That(t, w.Close(), test.ShouldBeNil)

	data, err := os.ReadFile(w.Path())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual,
		"# iteration_max:30\n"+
			"10.000000005 1 0 0 0 0 0 1\n"+
			"11.000000000 1 0 0 0 0 0 1\n")

	_, err = New("", 30, clk)
	test.That(t, err, test.ShouldNotBeNil)
}
