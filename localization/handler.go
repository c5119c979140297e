package localization

import "context"

// Handler consumes measurements as they arrive from a transport or a recording. *Localizer
// implements it.
type Handler interface {
	AddPoseEdge(ctx context.Context, m PoseMeasurement) error
	AddTwistEdge(ctx context.Context, m TwistMeasurement) error
	HandleRange(ctx context.Context, m RangeMeasurement) error
	HandleImu(ctx context.Context, m ImuMeasurement) error
}

var _ Handler = (*Localizer)(nil)
