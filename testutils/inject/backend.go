package inject

import (
	"go.viam.com/coloc/localization"
	"go.viam.com/coloc/posegraph"
	"go.viam.com/coloc/spatialmath"
)

// Backend is an injected graph back-end.
type Backend struct {
	localization.Backend
	AddParameterFunc func(id int, offset spatialmath.Pose) error
	AddEdgeFunc      func(e posegraph.Edge) error
	OptimizeFunc     func(maxIterations int) (posegraph.Summary, error)
	PoseFunc         func(id posegraph.VertexID) (spatialmath.Pose, error)
}

// AddParameter calls the injected AddParameter or the real version.
func (b *Backend) AddParameter(id int, offset spatialmath.Pose) error {
	if b.AddParameterFunc == nil {
		return b.Backend.AddParameter(id, offset)
	}
	return b.AddParameterFunc(id, offset)
}

// AddEdge calls the injected AddEdge or the real version.
func (b *Backend) AddEdge(e posegraph.Edge) error {
	if b.AddEdgeFunc == nil {
		return b.Backend.AddEdge(e)
	}
	return b.AddEdgeFunc(e)
}

// Optimize calls the injected Optimize or the real version.
func (b *Backend) Optimize(maxIterations int) (posegraph.Summary, error) {
	if b.OptimizeFunc == nil {
		return b.Backend.Optimize(maxIterations)
	}
	return b.OptimizeFunc(maxIterations)
}

// Pose calls the injected Pose or the real version.
func (b *Backend) Pose(id posegraph.VertexID) (spatialmath.Pose, error) {
	if b.PoseFunc == nil {
		return b.Backend.Pose(id)
	}
	return b.PoseFunc(id)
}
