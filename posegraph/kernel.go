package posegraph

import "math"

// RobustKernel is a loss applied to the squared Mahalanobis error of an edge to bound the
// influence of outliers.
type RobustKernel interface {
	// Robustify returns rho(chi2) and its first derivative, which weighs the edge in the normal
	// equations.
	Robustify(chi2 float64) (rho, weight float64)
}

// DefaultHuberDelta is the Huber threshold on the square root of chi2.
const DefaultHuberDelta = 1.0

// Huber is quadratic for errors below Delta and linear above.
type Huber struct {
	Delta float64
}

// NewHuber returns a Huber kernel with the given threshold. Non-positive thresholds fall back to
// DefaultHuberDelta.
func NewHuber(delta float64) *Huber {
	if delta <= 0 {
		delta = DefaultHuberDelta
	}
	return &Huber{Delta: delta}
}

// Robustify implements RobustKernel.
func (h *Huber) Robustify(chi2 float64) (float64, float64) {
	dsqr := h.Delta * h.Delta
	if chi2 <= dsqr {
		return chi2, 1
	}
	sqrte := math.Sqrt(chi2)
	return 2*sqrte*h.Delta - dsqr, h.Delta / sqrte
}
