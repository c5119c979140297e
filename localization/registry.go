package localization

import (
	"time"

	"github.com/pkg/errors"

	"go.viam.com/coloc/logging"
	"go.viam.com/coloc/posegraph"
	"go.viam.com/coloc/spatialmath"
)

// Backend is the graph optimization back-end the localizer builds on. *posegraph.Graph
// implements it.
type Backend interface {
	AddParameter(id int, offset spatialmath.Pose) error
	AddVertex(estimate spatialmath.Pose, fixed bool) posegraph.VertexID
	SetEstimate(id posegraph.VertexID, estimate spatialmath.Pose) error
	AddEdge(e posegraph.Edge) error
	Optimize(maxIterations int) (posegraph.Summary, error)
	Pose(id posegraph.VertexID) (spatialmath.Pose, error)
	Path(ids []posegraph.VertexID) ([]spatialmath.Pose, error)
	NumVertices() int
	NumEdges() int
}

// Entry is one vertex in a robot's history.
type Entry struct {
	Stamp   time.Time
	FrameID string
	Vertex  posegraph.VertexID
	Sensor  SensorType
}

// Robot is the per-robot vertex bookkeeping.
type Robot struct {
	ID     int
	Static bool

	anchor     spatialmath.Pose
	streams    map[SensorType][]Entry
	trajectory []Entry
	key        posegraph.VertexID
}

// Key returns the vertex the next relative pose edge is anchored on.
func (r *Robot) Key() posegraph.VertexID {
	return r.key
}

// StreamLen returns the number of vertices in a stream.
func (r *Robot) StreamLen(sensor SensorType) int {
	return len(r.streams[sensor])
}

func (r *Robot) append(e Entry) {
	r.streams[e.Sensor] = append(r.streams[e.Sensor], e)
	r.trajectory = append(r.trajectory, e)
}

// Registry owns the Robot records and creates their vertices in the back-end. It is not safe for
// concurrent use; the Localizer serializes access.
type Registry struct {
	logger  logging.Logger
	backend Backend
	robots  map[int]*Robot
}

// NewRegistry returns an empty registry creating vertices in backend.
func NewRegistry(backend Backend, logger logging.Logger) *Registry {
	return &Registry{
		logger:  logger,
		backend: backend,
		robots:  map[int]*Robot{},
	}
}

// Provision creates a robot with a single seed vertex in its pose stream. Static robots are pinned
// at initial for their whole run.
func (reg *Registry) Provision(id int, static, fixed bool, initial spatialmath.Pose, header Header) *Robot {
	v := reg.backend.AddVertex(initial, fixed || static)
	r := &Robot{
		ID:      id,
		Static:  static,
		anchor:  initial,
		streams: map[SensorType][]Entry{},
		key:     v,
	}
	r.append(Entry{Stamp: header.Stamp, FrameID: header.FrameID, Vertex: v, Sensor: SensorPose})
	reg.robots[id] = r
	reg.logger.Debugw("provisioned robot", "id", id, "static", static, "fixed", fixed || static, "pose", initial)
	return r
}

// Get returns the robot with the given id.
func (reg *Registry) Get(id int) (*Robot, error) {
	r, ok := reg.robots[id]
	if !ok {
		return nil, NewUnknownRobotError(id)
	}
	return r, nil
}

// IsStatic reports whether the robot is pinned.
func (reg *Registry) IsStatic(id int) (bool, error) {
	r, err := reg.Get(id)
	if err != nil {
		return false, err
	}
	return r.Static, nil
}

// LastEntry returns the most recent entry of a stream.
func (reg *Registry) LastEntry(id int, sensor SensorType) (Entry, error) {
	r, err := reg.Get(id)
	if err != nil {
		return Entry{}, err
	}
	stream := r.streams[sensor]
	if len(stream) == 0 {
		return Entry{}, &NoVertexYetError{ID: id, Sensor: sensor}
	}
	return stream[len(stream)-1], nil
}

// LastVertex returns the most recent vertex of a stream, the pose stream if none is given.
func (reg *Registry) LastVertex(id int, sensor ...SensorType) (posegraph.VertexID, error) {
	s := SensorPose
	if len(sensor) > 0 {
		s = sensor[0]
	}
	e, err := reg.LastEntry(id, s)
	if err != nil {
		return 0, err
	}
	return e.Vertex, nil
}

// Latest returns the most recent entry over all of a robot's streams.
func (reg *Registry) Latest(id int) (Entry, error) {
	r, err := reg.Get(id)
	if err != nil {
		return Entry{}, err
	}
	if len(r.trajectory) == 0 {
		return Entry{}, &NoVertexYetError{ID: id, Sensor: SensorPose}
	}
	return r.trajectory[len(r.trajectory)-1], nil
}

// LastEntryOrLatest returns the last entry of a stream, falling back to the robot's latest
// entry when the stream is still empty.
func (reg *Registry) LastEntryOrLatest(id int, sensor SensorType) (Entry, error) {
	e, err := reg.LastEntry(id, sensor)
	if err == nil {
		return e, nil
	}
	var noVertex *NoVertexYetError
	if !errors.As(err, &noVertex) {
		return Entry{}, err
	}
	return reg.Latest(id)
}

// Trajectory returns every vertex of a robot in arrival order.
func (reg *Registry) Trajectory(id int) ([]Entry, error) {
	r, err := reg.Get(id)
	if err != nil {
		return nil, err
	}
	return append([]Entry(nil), r.trajectory...), nil
}

// NewVertex appends a vertex to a robot's stream, seeded with the robot's latest estimate.
// Vertices of static robots are pinned at their anchor.
func (reg *Registry) NewVertex(id int, sensor SensorType, header Header) (posegraph.VertexID, error) {
	r, err := reg.Get(id)
	if err != nil {
		return 0, err
	}
	estimate := r.anchor
	if !r.Static {
		latest, err := reg.Latest(id)
		if err != nil {
			return 0, err
		}
		if estimate, err = reg.backend.Pose(latest.Vertex); err != nil {
			return 0, err
		}
	}
	v := reg.backend.AddVertex(estimate, r.Static)
	r.append(Entry{Stamp: header.Stamp, FrameID: header.FrameID, Vertex: v, Sensor: sensor})
	return v, nil
}
