package localization

import (
	"time"

	"go.viam.com/coloc/posegraph"
)

// Timeline decides which existing vertices a measurement connects to and creates the new ones.
type Timeline struct {
	registry *Registry
}

// NewTimeline returns a timeline over registry.
func NewTimeline(registry *Registry) *Timeline {
	return &Timeline{registry: registry}
}

// PoseEndpoints returns the key vertex and a new pose vertex for robot id. A frame id that differs
// from the one of the last pose vertex first advances the key to that vertex.
func (tl *Timeline) PoseEndpoints(id int, header Header) (key, next posegraph.VertexID, err error) {
	r, err := tl.registry.Get(id)
	if err != nil {
		return 0, 0, err
	}
	last, err := tl.registry.LastEntry(id, SensorPose)
	if err != nil {
		return 0, 0, err
	}
	if header.FrameID != last.FrameID {
		r.key = last.Vertex
	}
	next, err = tl.registry.NewVertex(id, SensorPose, header)
	if err != nil {
		return 0, 0, err
	}
	return r.key, next, nil
}

// TwistEndpoints returns the last twist vertex of robot id (or its latest vertex before the first
// twist), a new twist vertex and the time elapsed between them. No vertex is created when the
// elapsed time is not positive.
func (tl *Timeline) TwistEndpoints(id int, header Header) (from, to posegraph.VertexID, dt time.Duration, err error) {
	last, err := tl.registry.LastEntryOrLatest(id, SensorTwist)
	if err != nil {
		return 0, 0, 0, err
	}
	dt = header.Stamp.Sub(last.Stamp)
	if dt <= 0 {
		return 0, 0, dt, &DegenerateTimingError{ID: id, Sensor: SensorTwist, Dt: dt}
	}
	to, err = tl.registry.NewVertex(id, SensorTwist, header)
	if err != nil {
		return 0, 0, 0, err
	}
	return last.Vertex, to, dt, nil
}

// RangeEndpoints are the vertices a range exchange connects.
type RangeEndpoints struct {
	RequesterLast posegraph.VertexID
	// Requester is only set when SameFrame is true.
	Requester   posegraph.VertexID
	RequesterDt time.Duration
	// SameFrame is true when the requester's latest frame matches the exchange or is FrameNone.
	SameFrame bool

	ResponderLast   posegraph.VertexID
	Responder       posegraph.VertexID
	ResponderDt     time.Duration
	ResponderStatic bool
}

// RangeEndpoints resolves both sides of a range exchange. The responder always gets a new vertex;
// the requester only gets one when its latest frame matches the exchange. Each side's elapsed time
// is measured against its own latest vertex.
func (tl *Timeline) RangeEndpoints(m RangeMeasurement) (RangeEndpoints, error) {
	// resolve both robots before creating any vertex so an unknown id leaves no trace
	requester, err := tl.registry.Get(m.RequesterID)
	if err != nil {
		return RangeEndpoints{}, err
	}
	responder, err := tl.registry.Get(m.ResponderID)
	if err != nil {
		return RangeEndpoints{}, err
	}
	reqLast, err := tl.registry.Latest(requester.ID)
	if err != nil {
		return RangeEndpoints{}, err
	}
	respLast, err := tl.registry.Latest(responder.ID)
	if err != nil {
		return RangeEndpoints{}, err
	}

	ep := RangeEndpoints{
		RequesterLast:   reqLast.Vertex,
		RequesterDt:     m.Header.Stamp.Sub(reqLast.Stamp),
		SameFrame:       reqLast.FrameID == m.Header.FrameID || reqLast.FrameID == FrameNone,
		ResponderLast:   respLast.Vertex,
		ResponderDt:     m.Header.Stamp.Sub(respLast.Stamp),
		ResponderStatic: responder.Static,
	}
	if ep.Responder, err = tl.registry.NewVertex(responder.ID, SensorRange, m.Header); err != nil {
		return RangeEndpoints{}, err
	}
	if ep.SameFrame {
		if ep.Requester, err = tl.registry.NewVertex(requester.ID, SensorRange, m.Header); err != nil {
			return RangeEndpoints{}, err
		}
	}
	return ep, nil
}

// InertialEndpoints are the vertices an inertial event connects.
type InertialEndpoints struct {
	// From is the requester's previous range vertex, or its latest vertex before the first one.
	From      posegraph.VertexID
	Requester posegraph.VertexID
	Responder posegraph.VertexID
	Dt        time.Duration
}

// InertialFrom returns the entry an inertial event for requester id integrates from and the
// elapsed time since it.
func (tl *Timeline) InertialFrom(id int, header Header) (Entry, time.Duration, error) {
	from, err := tl.registry.LastEntryOrLatest(id, SensorRange)
	if err != nil {
		return Entry{}, 0, err
	}
	return from, header.Stamp.Sub(from.Stamp), nil
}

// InertialEndpoints creates the requester and responder range vertices of an inertial event.
func (tl *Timeline) InertialEndpoints(m RangeMeasurement) (InertialEndpoints, error) {
	if _, err := tl.registry.Get(m.ResponderID); err != nil {
		return InertialEndpoints{}, err
	}
	from, dt, err := tl.InertialFrom(m.RequesterID, m.Header)
	if err != nil {
		return InertialEndpoints{}, err
	}
	if dt <= 0 {
		return InertialEndpoints{}, &DegenerateTimingError{ID: m.RequesterID, Sensor: SensorRange, Dt: dt}
	}
	ep := InertialEndpoints{From: from.Vertex, Dt: dt}
	if ep.Requester, err = tl.registry.NewVertex(m.RequesterID, SensorRange, m.Header); err != nil {
		return InertialEndpoints{}, err
	}
	if ep.Responder, err = tl.registry.NewVertex(m.ResponderID, SensorRange, m.Header); err != nil {
		return InertialEndpoints{}, err
	}
	return ep, nil
}
