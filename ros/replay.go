package ros

import (
	"context"
	"sort"
	"time"

	"github.com/edaniels/gobag/rosbag"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/coloc/localization"
	"go.viam.com/coloc/logging"
)

// BagMessages returns the messages of every enabled topic in rb, merged in recording order.
func BagMessages(rb *rosbag.RosBag, topics Topics) ([]Message, error) {
	names := topics.Names()
	if err := ParseTopics(rb, names); err != nil {
		return nil, err
	}
	var all []Message
	for _, name := range names {
		msgs, err := AllMessagesForTopic(rb, name)
		if err != nil {
			return nil, err
		}
		all = append(all, msgs...)
	}
	SortMessages(all)
	return all, nil
}

// SortMessages orders messages by stamp, keeping the per-topic order of equal stamps.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Stamp.Before(msgs[j].Stamp)
	})
}

// ReplayStats summarizes a replay.
type ReplayStats struct {
	// Messages and Failed count dispatched and rejected messages per topic.
	Messages    map[string]int
	Failed      map[string]int
	First, Last time.Time
}

// Total returns the number of dispatched messages.
func (s ReplayStats) Total() int {
	return lo.Sum(lo.Values(s.Messages))
}

// Replay dispatches msgs to h in order. Rejected measurements are logged and counted; only a
// cancelled context stops the replay.
func Replay(
	ctx context.Context,
	h localization.Handler,
	topics Topics,
	msgs []Message,
	logger logging.Logger,
) (ReplayStats, error) {
	stats := ReplayStats{Messages: map[string]int{}, Failed: map[string]int{}}
	for i, m := range msgs {
		if err := ctx.Err(); err != nil {
			return stats, errors.Wrapf(err, "replay stopped after %d of %d messages", i, len(msgs))
		}
		if stats.First.IsZero() {
			stats.First = m.Stamp
		}
		stats.Last = m.Stamp
		stats.Messages[m.Topic]++
		logger.CDebugw(ctx, "dispatching message", "topic", m.Topic, "stamp", m.Stamp)
		if err := topics.Dispatch(ctx, h, m.Topic, m.Data); err != nil {
			stats.Failed[m.Topic]++
			logger.Debugw("message rejected", "topic", m.Topic, "stamp", m.Stamp, "error", err)
		}
	}
	logger.Infow("replay finished", "messages", stats.Total(), "failed", lo.Sum(lo.Values(stats.Failed)),
		"first", stats.First, "last", stats.Last)
	return stats, nil
}
