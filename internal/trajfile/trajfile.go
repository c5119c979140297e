// Package trajfile records the published trajectory as a text file of TUM lines,
// "stamp x y z qx qy qz qw", behind a "# iteration_max:N" header.
package trajfile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"

	"go.viam.com/coloc/localization"
)

const fileTimeLayout = "_2006_Jan_02_15_04_05.txt"

// FileName is the file a trajectory started at now is written to.
func FileName(prefix string, now time.Time) string {
	return prefix + now.Format(fileTimeLayout)
}

// Writer appends every published pose to a trajectory file. Path publications are ignored.
type Writer struct {
	mu   sync.Mutex
	out  *lumberjack.Logger
	path string
}

var _ localization.Publisher = (*Writer)(nil)

// New creates the trajectory file for prefix, named after the current local time of clk, and
// writes its header.
func New(prefix string, maxIterations int, clk clock.Clock) (*Writer, error) {
	if prefix == "" {
		return nil, errors.New("trajectory file needs a prefix")
	}
	path := FileName(prefix, clk.Now().Local())
	w := &Writer{
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    1024,
			MaxBackups: 2,
		},
		path: path,
	}
	if _, err := fmt.Fprintf(w.out, "# iteration_max:%d\n", maxIterations); err != nil {
		return nil, errors.Wrapf(err, "failed to create trajectory file %s", path)
	}
	return w, nil
}

// Path returns the file being written.
func (w *Writer) Path() string {
	return w.path
}

// Line formats one trajectory line.
func Line(pose localization.PoseStamped) string {
	pt, q := pose.Pose.Point(), pose.Pose.Orientation()
	return fmt.Sprintf("%d.%09d %g %g %g %g %g %g %g\n",
		pose.Stamp.Unix(), pose.Stamp.Nanosecond(),
		pt.X, pt.Y, pt.Z, q.Imag, q.Jmag, q.Kmag, q.Real)
}

// PublishPose appends pose to the file.
func (w *Writer) PublishPose(ctx context.Context, pose localization.PoseStamped) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.out.Write([]byte(Line(pose)))
	return err
}

// PublishPath does nothing.
func (w *Writer) PublishPath(ctx context.Context, path []localization.PoseStamped) error {
	return nil
}

// Close closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.Close()
}
