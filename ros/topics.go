package ros

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/coloc/localization"
)

// Default topic names.
const (
	DefaultPoseTopic  = "incremental_pose_cov"
	DefaultRangeTopic = "/uwb_exorange_info"
	DefaultTwistTopic = "twiststamp"
	DefaultImuTopic   = "/imu"
)

// Topics names the topic each measurement arrives on. An empty name disables that input.
type Topics struct {
	Pose  string `json:"pose"`
	Range string `json:"range"`
	Twist string `json:"twist"`
	Imu   string `json:"imu"`
}

// DefaultTopics returns the topic names the localizer subscribes to by default.
func DefaultTopics() Topics {
	return Topics{
		Pose:  DefaultPoseTopic,
		Range: DefaultRangeTopic,
		Twist: DefaultTwistTopic,
		Imu:   DefaultImuTopic,
	}
}

// Names returns the enabled topic names.
func (t Topics) Names() []string {
	var names []string
	for _, n := range []string{t.Pose, t.Range, t.Twist, t.Imu} {
		if n != "" {
			names = append(names, n)
		}
	}
	return names
}

// UnknownTopicError is returned for messages on a topic no input is bound to.
type UnknownTopicError struct {
	Topic string
}

func (e *UnknownTopicError) Error() string {
	return "unknown topic " + e.Topic
}

// Stamp decodes only the envelope time of a message.
func Stamp(data []byte) (time.Time, error) {
	var envelope struct {
		Meta Time `json:"meta"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return time.Time{}, errors.Wrap(err, "failed to decode message envelope")
	}
	return envelope.Meta.Time(), nil
}

// Dispatch decodes a JSON message received on topic and hands it to h.
func (t Topics) Dispatch(ctx context.Context, h localization.Handler, topic string, data []byte) error {
	if topic == "" {
		return &UnknownTopicError{Topic: topic}
	}
	switch topic {
	case t.Pose:
		var m PoseWithCovarianceStamped
		if err := json.Unmarshal(data, &m); err != nil {
			return errors.Wrapf(err, "failed to decode %s message", topic)
		}
		return h.AddPoseEdge(ctx, m.Measurement())
	case t.Twist:
		var m TwistWithCovarianceStamped
		if err := json.Unmarshal(data, &m); err != nil {
			return errors.Wrapf(err, "failed to decode %s message", topic)
		}
		return h.AddTwistEdge(ctx, m.Measurement())
	case t.Range:
		var m UwbRange
		if err := json.Unmarshal(data, &m); err != nil {
			return errors.Wrapf(err, "failed to decode %s message", topic)
		}
		return h.HandleRange(ctx, m.Measurement())
	case t.Imu:
		var m ImuMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return errors.Wrapf(err, "failed to decode %s message", topic)
		}
		return h.HandleImu(ctx, m.Measurement())
	default:
		return &UnknownTopicError{Topic: topic}
	}
}
