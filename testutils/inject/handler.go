package inject

import (
	"context"

	"go.viam.com/coloc/localization"
)

// Handler is an injected measurement handler.
type Handler struct {
	localization.Handler
	AddPoseEdgeFunc  func(ctx context.Context, m localization.PoseMeasurement) error
	AddTwistEdgeFunc func(ctx context.Context, m localization.TwistMeasurement) error
	HandleRangeFunc  func(ctx context.Context, m localization.RangeMeasurement) error
	HandleImuFunc    func(ctx context.Context, m localization.ImuMeasurement) error
}

// AddPoseEdge calls the injected AddPoseEdge or the real version.
func (h *Handler) AddPoseEdge(ctx context.Context, m localization.PoseMeasurement) error {
	if h.AddPoseEdgeFunc == nil {
		return h.Handler.AddPoseEdge(ctx, m)
	}
	return h.AddPoseEdgeFunc(ctx, m)
}

// AddTwistEdge calls the injected AddTwistEdge or the real version.
func (h *Handler) AddTwistEdge(ctx context.Context, m localization.TwistMeasurement) error {
	if h.AddTwistEdgeFunc == nil {
		return h.Handler.AddTwistEdge(ctx, m)
	}
	return h.AddTwistEdgeFunc(ctx, m)
}

// HandleRange calls the injected HandleRange or the real version.
func (h *Handler) HandleRange(ctx context.Context, m localization.RangeMeasurement) error {
	if h.HandleRangeFunc == nil {
		return h.Handler.HandleRange(ctx, m)
	}
	return h.HandleRangeFunc(ctx, m)
}

// HandleImu calls the injected HandleImu or the real version.
func (h *Handler) HandleImu(ctx context.Context, m localization.ImuMeasurement) error {
	if h.HandleImuFunc == nil {
		return h.Handler.HandleImu(ctx, m)
	}
	return h.HandleImuFunc(ctx, m)
}
