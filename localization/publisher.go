package localization

import (
	"context"

	"go.uber.org/multierr"
)

// WorldFrame is the frame id of published poses.
const WorldFrame = "world"

// Publisher receives the optimized self pose and path after every accepted measurement.
type Publisher interface {
	PublishPose(ctx context.Context, pose PoseStamped) error
	PublishPath(ctx context.Context, path []PoseStamped) error
}

// MultiPublisher fans out to several publishers, attempting all of them.
type MultiPublisher []Publisher

// PublishPose publishes to every publisher and combines their errors.
func (mp MultiPublisher) PublishPose(ctx context.Context, pose PoseStamped) error {
	var err error
	for _, p := range mp {
		err = multierr.Combine(err, p.PublishPose(ctx, pose))
	}
	return err
}

// PublishPath publishes to every publisher and combines their errors.
func (mp MultiPublisher) PublishPath(ctx context.Context, path []PoseStamped) error {
	var err error
	for _, p := range mp {
		err = multierr.Combine(err, p.PublishPath(ctx, path))
	}
	return err
}
