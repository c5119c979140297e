package localization

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// asymmetryTolerance is the largest |S_ij - S_ji| accepted without clamping.
	asymmetryTolerance = 1e-9
	// minEigenRatio is the smallest eigenvalue, relative to the largest, of a covariance treated
	// as positive definite.
	minEigenRatio = 1e-12
)

// InformationFromCovariance inverts a row-major dim x dim covariance. Covariances with
// non-finite entries or the wrong size are rejected with an InvalidCovarianceError. Positive
// definite covariances are inverted exactly, however small. Asymmetric input is symmetrized, and
// only when the covariance is not positive definite are its eigenvalues raised to floor before
// inversion; clamped reports whether either happened.
func InformationFromCovariance(cov []float64, dim int, floor float64) (info *mat.SymDense, clamped bool, err error) {
	if len(cov) != dim*dim {
		return nil, false, &InvalidCovarianceError{Reason: "expected a square covariance"}
	}
	for _, v := range cov {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false, &InvalidCovarianceError{Reason: "non-finite entry"}
		}
	}

	sym := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			a, b := cov[i*dim+j], cov[j*dim+i]
			if math.Abs(a-b) > asymmetryTolerance {
				clamped = true
			}
			sym.SetSym(i, j, (a+b)/2)
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(sym, true); !ok {
		return nil, false, &InvalidCovarianceError{Reason: "eigen decomposition failed"}
	}
	// ascending
	values := eig.Values(nil)
	largest := values[len(values)-1]
	definite := values[0] > 0 && values[0] > largest*minEigenRatio
	if !definite {
		clamped = true
	}

	if !clamped {
		var chol mat.Cholesky
		if ok := chol.Factorize(sym); ok {
			info = mat.NewSymDense(dim, nil)
			if err := chol.InverseTo(info); err == nil {
				return info, false, nil
			}
		}
		clamped = true
	}

	// V diag(1/lambda) V^T, lambda raised to floor for indefinite input
	var vectors mat.Dense
	eig.VectorsTo(&vectors)
	info = mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			var sum float64
			for k, lambda := range values {
				if !definite {
					lambda = math.Max(lambda, floor)
				}
				sum += vectors.At(i, k) * vectors.At(j, k) / lambda
			}
			info.SetSym(i, j, sum)
		}
	}
	return info, clamped, nil
}

// BlockDiagonal places a and b on the diagonal of a row-major (na+nb) square matrix.
func BlockDiagonal(a []float64, na int, b []float64, nb int) []float64 {
	n := na + nb
	out := make([]float64, n*n)
	for i := 0; i < na; i++ {
		copy(out[i*n:i*n+na], a[i*na:(i+1)*na])
	}
	for i := 0; i < nb; i++ {
		copy(out[(na+i)*n+na:(na+i)*n+n], b[i*nb:(i+1)*nb])
	}
	return out
}
