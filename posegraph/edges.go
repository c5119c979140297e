package posegraph

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/coloc/spatialmath"
)

// EdgeKind tags the measurement an SE3 edge was synthesized from.
type EdgeKind int

// The SE3 edge kinds.
const (
	KindRelativePose EdgeKind = iota
	KindTwistIntegrated
	KindInertialDeadReckoning
)

func (k EdgeKind) String() string {
	switch k {
	case KindRelativePose:
		return "pose"
	case KindTwistIntegrated:
		return "twist"
	case KindInertialDeadReckoning:
		return "inertial"
	default:
		return "unknown"
	}
}

// Edge is a measurement constraint on one or two vertices. The set of implementations is closed:
// *EdgeSE3, *EdgeSE3Range and *EdgeSE3Prior.
type Edge interface {
	// Vertices returns the vertices the edge constrains, in measurement order.
	Vertices() []VertexID
	// Dimension is the length of the error vector.
	Dimension() int
	// Information is the Dimension x Dimension weight of the error.
	Information() *mat.SymDense
	// RobustKernel returns the loss applied to the weighted squared error, or nil for none.
	RobustKernel() RobustKernel

	// residual computes the error vector given the current estimates of Vertices().
	residual(poses []spatialmath.Pose) []float64
	bind(g *Graph) error
}

// EdgeSE3 is a relative 6-DoF pose measurement from From to To.
type EdgeSE3 struct {
	Kind        EdgeKind
	From, To    VertexID
	Measurement spatialmath.Pose
	Info        *mat.SymDense
	Kernel      RobustKernel

	measurementInv spatialmath.Pose
}

// Vertices returns From and To.
func (e *EdgeSE3) Vertices() []VertexID { return []VertexID{e.From, e.To} }

// Dimension is 6: translation then quaternion vector part.
func (e *EdgeSE3) Dimension() int { return 6 }

// Information returns the 6x6 information matrix.
func (e *EdgeSE3) Information() *mat.SymDense { return e.Info }

// RobustKernel returns the edge's kernel.
func (e *EdgeSE3) RobustKernel() RobustKernel { return e.Kernel }

func (e *EdgeSE3) bind(_ *Graph) error {
	if err := checkInformation(e.Info, 6); err != nil {
		return err
	}
	e.measurementInv = spatialmath.PoseInverse(e.Measurement)
	return nil
}

func (e *EdgeSE3) residual(poses []spatialmath.Pose) []float64 {
	delta := spatialmath.Compose(e.measurementInv, spatialmath.PoseBetween(poses[0], poses[1]))
	return poseErrorVector(delta)
}

// EdgeSE3Range is a scalar distance measurement between the translations of two vertices.
type EdgeSE3Range struct {
	From, To    VertexID
	Measurement float64
	// Info is the inverse variance of the distance.
	Info   float64
	Kernel RobustKernel
}

// Vertices returns From and To.
func (e *EdgeSE3Range) Vertices() []VertexID { return []VertexID{e.From, e.To} }

// Dimension is 1.
func (e *EdgeSE3Range) Dimension() int { return 1 }

// Information returns the 1x1 information matrix.
func (e *EdgeSE3Range) Information() *mat.SymDense { return mat.NewSymDense(1, []float64{e.Info}) }

// RobustKernel returns the edge's kernel.
func (e *EdgeSE3Range) RobustKernel() RobustKernel { return e.Kernel }

func (e *EdgeSE3Range) bind(_ *Graph) error {
	if e.Info <= 0 || math.IsNaN(e.Info) || math.IsInf(e.Info, 0) {
		return errors.Errorf("range edge information must be positive and finite, got %v", e.Info)
	}
	return nil
}

func (e *EdgeSE3Range) residual(poses []spatialmath.Pose) []float64 {
	return []float64{poses[1].Point().Sub(poses[0].Point()).Norm() - e.Measurement}
}

// EdgeSE3Prior is an absolute pose measurement of a single vertex, taken through the sensor offset
// registered under ParameterID.
type EdgeSE3Prior struct {
	Vertex      VertexID
	Measurement spatialmath.Pose
	ParameterID int
	Info        *mat.SymDense
	Kernel      RobustKernel

	offset         spatialmath.Pose
	measurementInv spatialmath.Pose
}

// Vertices returns the constrained vertex.
func (e *EdgeSE3Prior) Vertices() []VertexID { return []VertexID{e.Vertex} }

// Dimension is 6.
func (e *EdgeSE3Prior) Dimension() int { return 6 }

// Information returns the 6x6 information matrix.
func (e *EdgeSE3Prior) Information() *mat.SymDense { return e.Info }

// RobustKernel returns the edge's kernel.
func (e *EdgeSE3Prior) RobustKernel() RobustKernel { return e.Kernel }

func (e *EdgeSE3Prior) bind(g *Graph) error {
	offset, ok := g.parameters[e.ParameterID]
	if !ok {
		return errors.Errorf("prior edge references unknown parameter %d", e.ParameterID)
	}
	// a prior may legitimately ignore some directions, so only symmetry and non-negativity of the
	// diagonal are required here
	if err := checkSymmetric(e.Info, 6); err != nil {
		return err
	}
	e.offset = offset
	e.measurementInv = spatialmath.PoseInverse(e.Measurement)
	return nil
}

func (e *EdgeSE3Prior) residual(poses []spatialmath.Pose) []float64 {
	delta := spatialmath.Compose(e.measurementInv, spatialmath.Compose(poses[0], e.offset))
	return poseErrorVector(delta)
}

// poseErrorVector flattens a small pose into translation and the vector part of its quaternion,
// taken in the hemisphere with a non-negative real part.
func poseErrorVector(p spatialmath.Pose) []float64 {
	pt, q := p.Point(), p.Orientation()
	if q.Real < 0 {
		q = spatialmath.Flip(q)
	}
	return []float64{pt.X, pt.Y, pt.Z, q.Imag, q.Jmag, q.Kmag}
}

func checkSymmetric(info *mat.SymDense, dim int) error {
	if info == nil {
		return errors.New("missing information matrix")
	}
	if r, _ := info.Dims(); r != dim {
		return errors.Errorf("information matrix must be %dx%d, got %dx%d", dim, dim, r, r)
	}
	for i := 0; i < dim; i++ {
		for j := 0; j <= i; j++ {
			v := info.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.New("information matrix has non-finite entries")
			}
		}
		if info.At(i, i) < 0 {
			return errors.Errorf("information matrix has negative diagonal entry at %d", i)
		}
	}
	return nil
}

func checkInformation(info *mat.SymDense, dim int) error {
	if err := checkSymmetric(info, dim); err != nil {
		return err
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(info); !ok {
		return errors.New("information matrix is not positive definite")
	}
	return nil
}
