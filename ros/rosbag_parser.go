// Package ros reads the ROS message shapes the localizer consumes, from recorded bags or from the
// wire, and replays them into a localization.Handler.
package ros

import (
	"bytes"
	"io"
	"os"
	"strings"
	"time"

	"github.com/edaniels/gobag/rosbag"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// ReadBag reads the contents of a rosbag into a gobag data structure.
func ReadBag(filename string) (*rosbag.RosBag, error) {
	//nolint:gosec
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open input file")
	}
	defer utils.UncheckedErrorFunc(f.Close)

	rb := rosbag.NewRosBag()
	if err := rb.Read(f); err != nil {
		return nil, errors.Wrapf(err, "unable to read ros bag")
	}
	return rb, nil
}

// bagKey is the key gobag files a topic's JSON under.
func bagKey(topic string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(topic, "/"), "/", "_"))
}

// Message is one JSON encoded message of a topic, stamped with its recording time.
type Message struct {
	Topic string
	Stamp time.Time
	Data  []byte
}

// ParseTopics converts the messages of the given topics to JSON.
func ParseTopics(rb *rosbag.RosBag, topics []string) error {
	keep := make(map[string]bool, len(topics))
	for _, topic := range topics {
		keep[topic] = true
	}
	if err := rb.ParseTopicsToJSON(
		"",
		func(int64) bool { return true },
		func(t string) bool { return keep[t] },
		false,
	); err != nil {
		return errors.Wrapf(err, "error while parsing bag to JSON")
	}
	return nil
}

// AllMessagesForTopic returns the JSON lines parsed for topic, in recording order. ParseTopics must
// have been called first. A topic without messages yields no error.
func AllMessagesForTopic(rb *rosbag.RosBag, topic string) ([]Message, error) {
	buf, ok := rb.TopicsAsJSON[bagKey(topic)]
	if !ok || buf == nil {
		return nil, nil
	}
	// read from a copy so the bag can be consumed more than once
	r := bytes.NewBuffer(buf.Bytes())
	var all []Message
	for {
		line, err := r.ReadBytes('\n')
		if data := bytes.TrimSpace(line); len(data) > 0 {
			stamp, serr := Stamp(data)
			if serr != nil {
				return nil, errors.Wrapf(serr, "topic %s message %d", topic, len(all))
			}
			all = append(all, Message{Topic: topic, Stamp: stamp, Data: data})
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
	}
	return all, nil
}
