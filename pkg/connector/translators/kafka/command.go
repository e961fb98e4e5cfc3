package kafka

import (
	"strconv"
	"strings"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"

	"github.com/ajitpratap0/federate/pkg/errors"
)

// Command selects the records of one topic
type Command struct {
	Topic string `json:"topic"`
	// Partitions restricts the read; empty means every partition
	Partitions []int32 `json:"partitions,omitempty"`
	// Start is "oldest", "newest" or an absolute offset
	Start  string `json:"start,omitempty"`
	Follow bool   `json:"follow,omitempty"`
	Limit  int64  `json:"limit,omitempty"`
}

// ParseCommand parses a JSON command. An empty text reads defaultTopic
// from the oldest offset.
func ParseCommand(text, defaultTopic string) (*Command, error) {
	cmd := &Command{}
	if t := strings.TrimSpace(text); t != "" {
		if err := json.Unmarshal([]byte(t), cmd); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeProcessing, "invalid kafka command")
		}
	}
	if cmd.Topic == "" {
		cmd.Topic = defaultTopic
	}
	if cmd.Topic == "" {
		return nil, errors.New(errors.ErrorTypeProcessing, "kafka command names no topic")
	}
	if cmd.Limit < 0 {
		return nil, errors.New(errors.ErrorTypeProcessing, "limit must not be negative")
	}
	if _, err := cmd.startOffset(); err != nil {
		return nil, err
	}
	if cmd.Start == "newest" && !cmd.Follow {
		return nil, errors.New(errors.ErrorTypeProcessing, "start newest reads nothing unless follow is set")
	}
	return cmd, nil
}

// startOffset returns an absolute offset or one of sarama.OffsetOldest
// and sarama.OffsetNewest
func (c *Command) startOffset() (int64, error) {
	switch c.Start {
	case "", "oldest":
		return sarama.OffsetOldest, nil
	case "newest":
		return sarama.OffsetNewest, nil
	default:
		n, err := strconv.ParseInt(c.Start, 10, 64)
		if err != nil || n < 0 {
			return 0, errors.Newf(errors.ErrorTypeProcessing, "invalid start offset %q", c.Start)
		}
		return n, nil
	}
}
