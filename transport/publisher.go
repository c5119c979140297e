package transport

import (
	"context"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pub"
	"go.uber.org/multierr"

	"go.viam.com/coloc/localization"
	"go.viam.com/coloc/ros"
)

// Publisher sends the optimized pose and path to every connected subscriber.
type Publisher struct {
	sock mangos.Socket
}

var _ localization.Publisher = (*Publisher)(nil)

// NewPublisher listens on addr.
func NewPublisher(addr string) (*Publisher, error) {
	sock, err := pub.NewSocket()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create pub socket")
	}
	if err := sock.Listen(addr); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "failed to listen on %s", addr), sock.Close())
	}
	return &Publisher{sock: sock}, nil
}

// PublishPose sends pose on PoseTopic.
func (p *Publisher) PublishPose(ctx context.Context, pose localization.PoseStamped) error {
	return p.send(PoseTopic, ros.FromPoseStamped(pose))
}

// PublishPath sends path on PathTopic.
func (p *Publisher) PublishPath(ctx context.Context, path []localization.PoseStamped) error {
	msg := ros.Path{
		Poses: lo.Map(path, func(ps localization.PoseStamped, _ int) ros.PoseStamped {
			return ros.FromPoseStamped(ps)
		}),
	}
	msg.Header.FrameID = localization.WorldFrame
	if len(path) > 0 {
		msg.Header = msg.Poses[len(msg.Poses)-1].Header
	}
	return p.send(PathTopic, msg)
}

func (p *Publisher) send(topic string, v interface{}) error {
	frame, err := EncodeFrame(topic, v)
	if err != nil {
		return err
	}
	return errors.Wrapf(p.sock.Send(frame), "failed to publish %s", topic)
}

// Close closes the socket.
func (p *Publisher) Close() error {
	return p.sock.Close()
}
