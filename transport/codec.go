// Package transport carries measurements to the localizer and optimized poses away from it over
// nanomsg pub/sub sockets. Every frame is a topic name, a single space and a JSON payload; the
// payloads use the message shapes of package ros.
package transport

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Topics the optimized output is published on.
const (
	PoseTopic = "optimized/pose"
	PathTopic = "optimized/path"
)

const separator = ' '

// EncodeFrame marshals v as the payload of a frame on topic.
func EncodeFrame(topic string, v interface{}) ([]byte, error) {
	if topic == "" || bytes.IndexByte([]byte(topic), separator) >= 0 {
		return nil, errors.Errorf("invalid topic %q", topic)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s frame", topic)
	}
	frame := make([]byte, 0, len(topic)+1+len(payload))
	frame = append(frame, topic...)
	frame = append(frame, separator)
	return append(frame, payload...), nil
}

// DecodeFrame splits a frame into its topic and payload.
func DecodeFrame(frame []byte) (string, []byte, error) {
	i := bytes.IndexByte(frame, separator)
	if i <= 0 {
		return "", nil, errors.New("frame has no topic")
	}
	return string(frame[:i]), frame[i+1:], nil
}

func subscription(topic string) []byte {
	return append([]byte(topic), separator)
}
