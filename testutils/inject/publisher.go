package inject

import (
	"context"

	"go.viam.com/coloc/localization"
)

// Publisher is an injected pose publisher.
type Publisher struct {
	localization.Publisher
	PublishPoseFunc func(ctx context.Context, pose localization.PoseStamped) error
	PublishPathFunc func(ctx context.Context, path []localization.PoseStamped) error
}

// PublishPose calls the injected PublishPose or the real version.
func (p *Publisher) PublishPose(ctx context.Context, pose localization.PoseStamped) error {
	if p.PublishPoseFunc == nil {
		return p.Publisher.PublishPose(ctx, pose)
	}
	return p.PublishPoseFunc(ctx, pose)
}

// PublishPath calls the injected PublishPath or the real version.
func (p *Publisher) PublishPath(ctx context.Context, path []localization.PoseStamped) error {
	if p.PublishPathFunc == nil {
		return p.Publisher.PublishPath(ctx, path)
	}
	return p.PublishPathFunc(ctx, path)
}
