package kafka

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/federate/pkg/connector/core"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/message"
)

// offsetReader resolves logical offsets; sarama.Client implements it
type offsetReader interface {
	GetOffset(topic string, partitionID int32, time int64) (int64, error)
}

type partitionState struct {
	id       int32
	consumer sarama.PartitionConsumer
	// end is the high-water mark captured at execute, -1 when following
	end  int64
	done bool
}

type execution struct {
	cmd          *Command
	symbols      []message.Symbol
	pollInterval time.Duration
	offsets      offsetReader
	newConsumer  func() (sarama.Consumer, error)
	scope        *core.ExecutionScope
	logger       *zap.Logger

	consumer   sarama.Consumer
	partitions []*partitionState
	next       int
	read       int64
	closed     bool
}

func (e *execution) Execute(_ context.Context) error {
	consumer, err := e.newConsumer()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create consumer")
	}
	e.consumer = consumer

	ids := e.cmd.Partitions
	if len(ids) == 0 {
		ids, err = consumer.Partitions(e.cmd.Topic)
		if err != nil {
			return err
		}
	}
	ids = append([]int32(nil), ids...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	start, _ := e.cmd.startOffset()
	for _, id := range ids {
		ps := &partitionState{id: id, end: -1}
		from := start
		if !e.cmd.Follow {
			if ps.end, err = e.offsets.GetOffset(e.cmd.Topic, id, sarama.OffsetNewest); err != nil {
				return err
			}
			if from == sarama.OffsetOldest {
				if from, err = e.offsets.GetOffset(e.cmd.Topic, id, sarama.OffsetOldest); err != nil {
					return err
				}
			}
			if from >= ps.end {
				ps.done = true
				e.partitions = append(e.partitions, ps)
				continue
			}
		}
		if ps.consumer, err = consumer.ConsumePartition(e.cmd.Topic, id, from); err != nil {
			return errors.Wrap(err, errors.ErrorTypeTranslator, "failed to consume partition").
				WithDetail("partition", id)
		}
		e.partitions = append(e.partitions, ps)
	}
	if e.logger != nil {
		e.logger.Debug("consuming topic",
			zap.String("topic", e.cmd.Topic),
			zap.Int("partitions", len(e.partitions)),
			zap.Bool("follow", e.cmd.Follow))
	}
	return nil
}

func (e *execution) Next(_ context.Context) (message.Row, error) {
	if e.closed {
		return nil, nil
	}
	if e.consumer == nil {
		return nil, errors.New(errors.ErrorTypeProcessing, "command was not executed")
	}
	if err := e.scope.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCancelled, "kafka read cancelled")
	}
	if e.cmd.Limit > 0 && e.read >= e.cmd.Limit {
		return nil, e.Close()
	}

	active := 0
	for i := 0; i < len(e.partitions); i++ {
		ps := e.partitions[(e.next+i)%len(e.partitions)]
		if ps.done {
			continue
		}
		active++
		select {
		case msg, ok := <-ps.consumer.Messages():
			if !ok {
				ps.done = true
				continue
			}
			e.next = (e.next + i + 1) % len(e.partitions)
			if ps.end >= 0 && msg.Offset >= ps.end-1 {
				ps.done = true
			}
			e.read++
			return RecordRow(msg, e.symbols)
		case cerr, ok := <-ps.consumer.Errors():
			if ok && cerr != nil {
				return nil, errors.Wrap(cerr.Err, errors.ErrorTypeTranslator, "partition read failed").
					WithDetail("partition", ps.id)
			}
		default:
		}
	}

	if active == 0 {
		return nil, e.Close()
	}
	return nil, core.NotAvailable(e.pollInterval)
}

func (e *execution) Cancel() error {
	e.scope.Cancel()
	return nil
}

func (e *execution) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.scope.Cancel()
	var errs []error
	for _, ps := range e.partitions {
		if ps.consumer != nil {
			ps.consumer.AsyncClose()
		}
	}
	if e.consumer != nil {
		if err := e.consumer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordRow maps a record onto symbols. Supported names are topic,
// partition, offset, key, value, timestamp, headers.<name> and
// value.<path> for fields of a JSON value.
func RecordRow(msg *sarama.ConsumerMessage, symbols []message.Symbol) (message.Row, error) {
	if len(symbols) == 0 {
		return message.Row{msg.Topic, msg.Partition, msg.Offset, msg.Key, msg.Value, msg.Timestamp}, nil
	}

	var decoded interface{}
	decodedOK := false
	values := make([]interface{}, len(symbols))
	for i, s := range symbols {
		switch {
		case s.Name == "topic":
			values[i] = msg.Topic
		case s.Name == "partition":
			values[i] = msg.Partition
		case s.Name == "offset":
			values[i] = msg.Offset
		case s.Name == "key":
			values[i] = bytesValue(msg.Key)
		case s.Name == "value":
			values[i] = bytesValue(msg.Value)
		case s.Name == "timestamp":
			values[i] = msg.Timestamp
		case strings.HasPrefix(s.Name, "headers."):
			name := strings.TrimPrefix(s.Name, "headers.")
			for _, h := range msg.Headers {
				if h != nil && string(h.Key) == name {
					values[i] = bytesValue(h.Value)
				}
			}
		case strings.HasPrefix(s.Name, "value."):
			if !decodedOK {
				if err := json.Unmarshal(msg.Value, &decoded); err != nil {
					return nil, errors.Wrap(err, errors.ErrorTypeTranslator, "record value is not JSON").
						WithDetail("offset", msg.Offset)
				}
				decodedOK = true
			}
			values[i] = lookup(decoded, strings.TrimPrefix(s.Name, "value."))
		default:
			return nil, errors.Newf(errors.ErrorTypeProcessing, "unknown kafka column %q", s.Name)
		}
	}
	return core.CoerceRow(values, symbols)
}

func bytesValue(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return b
}

func lookup(v interface{}, path string) interface{} {
	for _, part := range strings.Split(path, ".") {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil
		}
		v = m[part]
	}
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return string(encoded)
	}
	return v
}
