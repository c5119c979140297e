// Package posegraph implements a pose graph of SE3 vertices and the nonlinear least squares
// machinery that solves it.
package posegraph

import (
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/coloc/logging"
	"go.viam.com/coloc/spatialmath"
)

// VertexID is a handle to a vertex owned by a Graph.
type VertexID int

// ErrNonFinite is returned when optimization produced NaN or Inf values.
var ErrNonFinite = errors.New("optimization produced non-finite values")

type vertex struct {
	estimate spatialmath.Pose
	fixed    bool
}

// Graph stores vertices, parameters and edges, and optimizes vertex estimates against the edges.
// All methods are safe to call concurrently; Optimize holds the graph lock for its full duration.
type Graph struct {
	mu         sync.Mutex
	logger     logging.Logger
	vertices   []vertex
	parameters map[int]spatialmath.Pose
	edges      []Edge
	solver     *levenbergMarquardt
}

// NewGraph returns an empty graph.
func NewGraph(logger logging.Logger) *Graph {
	return &Graph{
		logger:     logger,
		parameters: map[int]spatialmath.Pose{},
		solver:     newLevenbergMarquardt(logger.Sublogger("solver")),
	}
}

// AddParameter registers a fixed sensor offset that prior edges can reference by id.
func (g *Graph) AddParameter(id int, offset spatialmath.Pose) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.parameters[id]; ok {
		return errors.Errorf("parameter %d already registered", id)
	}
	g.parameters[id] = offset
	return nil
}

// AddVertex inserts a vertex with the given initial estimate.
func (g *Graph) AddVertex(estimate spatialmath.Pose, fixed bool) VertexID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.vertices = append(g.vertices, vertex{estimate: estimate, fixed: fixed})
	return VertexID(len(g.vertices) - 1)
}

// SetEstimate overwrites the current estimate of a vertex.
func (g *Graph) SetEstimate(id VertexID, estimate spatialmath.Pose) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkVertex(id); err != nil {
		return err
	}
	g.vertices[id].estimate = estimate
	return nil
}

// AddEdge inserts an edge. Every vertex it references must already exist.
func (g *Graph) AddEdge(e Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	seen := map[VertexID]struct{}{}
	for _, v := range e.Vertices() {
		if err := g.checkVertex(v); err != nil {
			return err
		}
		if _, ok := seen[v]; ok {
			return errors.Errorf("edge references vertex %d more than once", v)
		}
		seen[v] = struct{}{}
	}
	if err := e.bind(g); err != nil {
		return err
	}
	g.edges = append(g.edges, e)
	return nil
}

// Pose returns the current estimate of a vertex.
func (g *Graph) Pose(id VertexID) (spatialmath.Pose, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkVertex(id); err != nil {
		return nil, err
	}
	return g.vertices[id].estimate, nil
}

// Path returns the current estimates of the given vertices in order.
func (g *Graph) Path(ids []VertexID) ([]spatialmath.Pose, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	path := make([]spatialmath.Pose, 0, len(ids))
	for _, id := range ids {
		if err := g.checkVertex(id); err != nil {
			return nil, err
		}
		path = append(path, g.vertices[id].estimate)
	}
	return path, nil
}

// Fixed reports whether a vertex is pinned.
func (g *Graph) Fixed(id VertexID) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkVertex(id); err != nil {
		return false, err
	}
	return g.vertices[id].fixed, nil
}

// NumVertices returns the number of vertices.
func (g *Graph) NumVertices() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.vertices)
}

// NumEdges returns the number of edges.
func (g *Graph) NumEdges() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.edges)
}

// Edges returns a copy of the edge list in insertion order.
func (g *Graph) Edges() []Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Edge(nil), g.edges...)
}

// Chi2 returns the robustified total error of the current estimates.
func (g *Graph) Chi2() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return totalChi2(g.edges, g.estimates())
}

// Optimize runs at most maxIterations Levenberg-Marquardt iterations over all edges.
func (g *Graph) Optimize(maxIterations int) (Summary, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if maxIterations <= 0 {
		return Summary{}, errors.Errorf("max iterations must be positive, got %d", maxIterations)
	}

	estimates := g.estimates()
	fixed := make([]bool, len(g.vertices))
	for i, v := range g.vertices {
		fixed[i] = v.fixed
	}
	summary, err := g.solver.solve(g.edges, estimates, fixed, maxIterations)
	// accepted steps are always kept, even if a later step diverged
	for i := range g.vertices {
		g.vertices[i].estimate = estimates[i]
	}
	return summary, err
}

func (g *Graph) estimates() []spatialmath.Pose {
	out := make([]spatialmath.Pose, len(g.vertices))
	for i, v := range g.vertices {
		out[i] = v.estimate
	}
	return out
}

func (g *Graph) checkVertex(id VertexID) error {
	if id < 0 || int(id) >= len(g.vertices) {
		return errors.Errorf("unknown vertex %d", id)
	}
	return nil
}
