package posegraph

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/coloc/logging"
	"go.viam.com/coloc/spatialmath"
)

// blockDim is the tangent space dimension of an SE3 vertex.
const blockDim = 6

const (
	defaultTau          = 1e-5
	defaultMaxTrials    = 10
	defaultJacobianStep = 1e-7
	minChi2Improvement  = 1e-12
	minStepNorm         = 1e-10
)

// Summary describes a single call to Optimize.
type Summary struct {
	Iterations  int
	InitialChi2 float64
	FinalChi2   float64
	Lambda      float64
}

// levenbergMarquardt solves the graph with damped Gauss-Newton steps. The normal equations are
// kept block sparse (one 6x6 block per pair of connected free vertices) and solved with
// block-Jacobi preconditioned conjugate gradients, so the cost of an iteration grows with the
// number of edges rather than cubically in the number of vertices.
type levenbergMarquardt struct {
	logger       logging.Logger
	tau          float64
	maxTrials    int
	jacobianStep float64
}

func newLevenbergMarquardt(logger logging.Logger) *levenbergMarquardt {
	return &levenbergMarquardt{
		logger:       logger,
		tau:          defaultTau,
		maxTrials:    defaultMaxTrials,
		jacobianStep: defaultJacobianStep,
	}
}

// solve updates est in place. Fixed vertices are never moved.
func (lm *levenbergMarquardt) solve(edges []Edge, est []spatialmath.Pose, fixed []bool, maxIterations int) (Summary, error) {
	index := make([]int, len(est))
	free := 0
	for i := range est {
		if fixed[i] {
			index[i] = -1
			continue
		}
		index[i] = free
		free++
	}

	chi := totalChi2(edges, est)
	summary := Summary{InitialChi2: chi, FinalChi2: chi}
	if !isFinite(chi) {
		return summary, ErrNonFinite
	}
	if free == 0 || len(edges) == 0 {
		return summary, nil
	}

	var lambda float64
	nu := 2.0
	for iter := 0; iter < maxIterations; iter++ {
		sys := lm.linearize(edges, est, index, free)
		if iter == 0 {
			lambda = lm.tau * sys.maxDiagonal()
			if lambda <= 0 {
				lambda = lm.tau
			}
		}

		accepted := false
		var stepNorm, prevChi float64
		for trial := 0; trial < lm.maxTrials; trial++ {
			delta := sys.solve(lambda)
			if delta == nil {
				lambda *= nu
				nu *= 2
				continue
			}
			candidate := applyIncrement(est, index, delta)
			newChi := totalChi2(edges, candidate)
			if isFinite(newChi) && newChi < chi {
				rho := 1e-3
				if predicted := predictedReduction(delta, sys.b, lambda); predicted > 0 {
					rho = (chi - newChi) / predicted
				}
				copy(est, candidate)
				prevChi, chi = chi, newChi
				lambda *= math.Max(1./3., 1-math.Pow(2*rho-1, 3))
				nu = 2
				stepNorm = floats.Norm(delta, 2)
				accepted = true
				break
			}
			lambda *= nu
			nu *= 2
		}
		summary.Iterations = iter + 1
		if !accepted {
			lm.logger.Debugw("no improving step found", "iteration", iter, "lambda", lambda, "chi2", chi)
			break
		}
		if prevChi-chi < minChi2Improvement*(1+prevChi) || stepNorm < minStepNorm {
			break
		}
	}
	summary.FinalChi2 = chi
	summary.Lambda = lambda

	for _, p := range est {
		if !spatialmath.PoseIsFinite(p) {
			return summary, ErrNonFinite
		}
	}
	lm.logger.Debugw("optimized", "iterations", summary.Iterations,
		"initialChi2", summary.InitialChi2, "finalChi2", summary.FinalChi2)
	return summary, nil
}

// linearize builds the robustly weighted normal equations J^T W J and J^T W e at est.
func (lm *levenbergMarquardt) linearize(edges []Edge, est []spatialmath.Pose, index []int, free int) *linearSystem {
	sys := newLinearSystem(free)
	for _, e := range edges {
		vs := e.Vertices()
		poses := make([]spatialmath.Pose, len(vs))
		var blocks, cols []int
		for k, v := range vs {
			poses[k] = est[v]
			if index[v] >= 0 {
				blocks = append(blocks, index[v])
				cols = append(cols, k)
			}
		}
		if len(blocks) == 0 {
			continue
		}

		res := e.residual(poses)
		info := e.Information()
		chi2 := mat.Inner(mat.NewVecDense(len(res), res), info, mat.NewVecDense(len(res), res))
		weight := 1.0
		if k := e.RobustKernel(); k != nil {
			_, weight = k.Robustify(chi2)
		}

		m, nx := len(res), blockDim*len(blocks)
		jac := mat.NewDense(m, nx, nil)
		local := make([]spatialmath.Pose, len(poses))
		fd.Jacobian(jac, func(y, x []float64) {
			copy(local, poses)
			for c, k := range cols {
				local[k] = spatialmath.PoseExp(poses[k], x[c*blockDim:(c+1)*blockDim])
			}
			copy(y, e.residual(local))
		}, make([]float64, nx), &fd.JacobianSettings{
			Formula:     fd.Forward,
			OriginValue: res,
			Step:        lm.jacobianStep,
		})

		var w mat.Dense
		w.Scale(weight, info)
		var jtw mat.Dense
		jtw.Mul(jac.T(), &w)

		for a, ia := range blocks {
			jtwA := jtw.Slice(a*blockDim, (a+1)*blockDim, 0, m)
			var g mat.VecDense
			g.MulVec(jtwA, mat.NewVecDense(m, res))
			sys.addGradient(ia, &g)
			for b, ib := range blocks {
				if ib < ia {
					continue
				}
				var h mat.Dense
				h.Mul(jtwA, jac.Slice(0, m, b*blockDim, (b+1)*blockDim))
				sys.addBlock(ia, ib, &h)
			}
		}
	}
	return sys
}

// linearSystem is the block sparse symmetric system (H + lambda*I) x = -b.
type linearSystem struct {
	n    int
	diag []*mat.Dense
	off  map[[2]int]*mat.Dense
	b    []float64
}

func newLinearSystem(n int) *linearSystem {
	diag := make([]*mat.Dense, n)
	for i := range diag {
		diag[i] = mat.NewDense(blockDim, blockDim, nil)
	}
	return &linearSystem{
		n:    n,
		diag: diag,
		off:  map[[2]int]*mat.Dense{},
		b:    make([]float64, n*blockDim),
	}
}

// addBlock accumulates into H_ij for i <= j.
func (s *linearSystem) addBlock(i, j int, h mat.Matrix) {
	if i == j {
		s.diag[i].Add(s.diag[i], h)
		return
	}
	key := [2]int{i, j}
	blk, ok := s.off[key]
	if !ok {
		blk = mat.NewDense(blockDim, blockDim, nil)
		s.off[key] = blk
	}
	blk.Add(blk, h)
}

func (s *linearSystem) addGradient(i int, g *mat.VecDense) {
	for k := 0; k < blockDim; k++ {
		s.b[i*blockDim+k] += g.AtVec(k)
	}
}

func (s *linearSystem) maxDiagonal() float64 {
	var maxDiag float64
	for _, d := range s.diag {
		for k := 0; k < blockDim; k++ {
			maxDiag = math.Max(maxDiag, d.At(k, k))
		}
	}
	return maxDiag
}

// mulVec computes (H + lambda*I) x.
func (s *linearSystem) mulVec(x []float64, lambda float64) []float64 {
	y := make([]float64, len(x))
	for i, d := range s.diag {
		xi := mat.NewVecDense(blockDim, x[i*blockDim:(i+1)*blockDim])
		var yi mat.VecDense
		yi.MulVec(d, xi)
		floats.Add(y[i*blockDim:(i+1)*blockDim], yi.RawVector().Data)
	}
	for key, blk := range s.off {
		i, j := key[0], key[1]
		xi := mat.NewVecDense(blockDim, x[i*blockDim:(i+1)*blockDim])
		xj := mat.NewVecDense(blockDim, x[j*blockDim:(j+1)*blockDim])
		var yi, yj mat.VecDense
		yi.MulVec(blk, xj)
		yj.MulVec(blk.T(), xi)
		floats.Add(y[i*blockDim:(i+1)*blockDim], yi.RawVector().Data)
		floats.Add(y[j*blockDim:(j+1)*blockDim], yj.RawVector().Data)
	}
	floats.AddScaled(y, lambda, x)
	return y
}

// solve returns the damped step, or nil if the preconditioner could not be factorized.
func (s *linearSystem) solve(lambda float64) []float64 {
	dim := s.n * blockDim
	precond := make([]*mat.SymDense, s.n)
	for i, d := range s.diag {
		sym := mat.NewSymDense(blockDim, nil)
		for r := 0; r < blockDim; r++ {
			for c := r; c < blockDim; c++ {
				v := (d.At(r, c) + d.At(c, r)) / 2
				if r == c {
					v += lambda
				}
				sym.SetSym(r, c, v)
			}
		}
		var chol mat.Cholesky
		if ok := chol.Factorize(sym); !ok {
			return nil
		}
		precond[i] = mat.NewSymDense(blockDim, nil)
		if err := chol.InverseTo(precond[i]); err != nil {
			return nil
		}
	}
	applyPrecond := func(r []float64) []float64 {
		z := make([]float64, dim)
		for i, p := range precond {
			var zi mat.VecDense
			zi.MulVec(p, mat.NewVecDense(blockDim, r[i*blockDim:(i+1)*blockDim]))
			copy(z[i*blockDim:(i+1)*blockDim], zi.RawVector().Data)
		}
		return z
	}

	x := make([]float64, dim)
	r := make([]float64, dim)
	floats.ScaleTo(r, -1, s.b)
	rhsNorm := floats.Norm(r, 2)
	if rhsNorm == 0 {
		return x
	}
	tol := 1e-12 * rhsNorm
	z := applyPrecond(r)
	p := append([]float64(nil), z...)
	rz := floats.Dot(r, z)
	for it := 0; it < 2*dim+10; it++ {
		ap := s.mulVec(p, lambda)
		pap := floats.Dot(p, ap)
		if pap <= 0 {
			break
		}
		alpha := rz / pap
		floats.AddScaled(x, alpha, p)
		floats.AddScaled(r, -alpha, ap)
		if floats.Norm(r, 2) < tol {
			break
		}
		z = applyPrecond(r)
		rzNext := floats.Dot(r, z)
		beta := rzNext / rz
		rz = rzNext
		for k := range p {
			p[k] = z[k] + beta*p[k]
		}
	}
	return x
}

// predictedReduction is the decrease of chi2 the linear model expects from delta.
func predictedReduction(delta, b []float64, lambda float64) float64 {
	var pred float64
	for k := range delta {
		pred += delta[k] * (lambda*delta[k] - b[k])
	}
	return pred
}

func applyIncrement(est []spatialmath.Pose, index []int, delta []float64) []spatialmath.Pose {
	out := make([]spatialmath.Pose, len(est))
	for i, p := range est {
		if index[i] < 0 {
			out[i] = p
			continue
		}
		out[i] = spatialmath.PoseExp(p, delta[index[i]*blockDim:(index[i]+1)*blockDim])
	}
	return out
}

func edgeChi2(e Edge, est []spatialmath.Pose) float64 {
	vs := e.Vertices()
	poses := make([]spatialmath.Pose, len(vs))
	for k, v := range vs {
		poses[k] = est[v]
	}
	res := e.residual(poses)
	vec := mat.NewVecDense(len(res), res)
	chi2 := mat.Inner(vec, e.Information(), vec)
	if k := e.RobustKernel(); k != nil {
		chi2, _ = k.Robustify(chi2)
	}
	return chi2
}

func totalChi2(edges []Edge, est []spatialmath.Pose) float64 {
	var sum float64
	for _, e := range edges {
		sum += edgeChi2(e, est)
	}
	return sum
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
