package transport

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/sub"
	"go.uber.org/multierr"

	// register all transports
	_ "go.nanomsg.org/mangos/v3/transport/all"

	"go.viam.com/coloc/localization"
	"go.viam.com/coloc/logging"
	"go.viam.com/coloc/ros"
	"go.viam.com/coloc/utils"
)

const recvDeadline = 100 * time.Millisecond

// Subscriber receives measurement frames from one or more sensor publishers and hands them to a
// localization.Handler in arrival order.
type Subscriber struct {
	sock    mangos.Socket
	topics  ros.Topics
	handler localization.Handler
	logger  logging.Logger
	workers *utils.StoppableWorkers
}

// NewSubscriber dials every address in addrs, subscribes to the enabled topics and starts
// receiving. Addresses that are not up yet are retried in the background.
func NewSubscriber(
	ctx context.Context,
	addrs []string,
	topics ros.Topics,
	handler localization.Handler,
	logger logging.Logger,
) (*Subscriber, error) {
	if len(addrs) == 0 {
		return nil, errors.New("subscriber needs at least one address")
	}
	sock, err := sub.NewSocket()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create sub socket")
	}
	if err := setup(sock, addrs, topics.Names()); err != nil {
		return nil, multierr.Combine(err, sock.Close())
	}
	s := &Subscriber{sock: sock, topics: topics, handler: handler, logger: logger}
	s.workers = utils.NewStoppableWorkers(ctx, s.receive)
	logger.Infow("subscribed", "addrs", addrs, "topics", topics.Names())
	return s, nil
}

func setup(sock mangos.Socket, addrs, topics []string) error {
	if err := sock.SetOption(mangos.OptionDialAsynch, true); err != nil {
		return err
	}
	if err := sock.SetOption(mangos.OptionRecvDeadline, recvDeadline); err != nil {
		return err
	}
	for _, topic := range topics {
		if err := sock.SetOption(mangos.OptionSubscribe, subscription(topic)); err != nil {
			return errors.Wrapf(err, "failed to subscribe to %s", topic)
		}
	}
	for _, addr := range addrs {
		if err := sock.Dial(addr); err != nil {
			return errors.Wrapf(err, "failed to dial %s", addr)
		}
	}
	return nil
}

func (s *Subscriber) receive(ctx context.Context) {
	for ctx.Err() == nil {
		frame, err := s.sock.Recv()
		if err != nil {
			if errors.Is(err, mangos.ErrClosed) {
				return
			}
			// deadline expired
			continue
		}
		topic, payload, err := DecodeFrame(frame)
		if err != nil {
			s.logger.Warnw("dropping frame", "error", err)
			continue
		}
		if err := s.topics.Dispatch(ctx, s.handler, topic, payload); err != nil {
			s.logger.Debugw("measurement rejected", "topic", topic, "error", err)
		}
	}
}

// Close stops receiving and closes the socket.
func (s *Subscriber) Close() error {
	s.workers.Stop()
	return s.sock.Close()
}
