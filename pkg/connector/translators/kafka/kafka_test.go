package kafka

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/federate/pkg/config"
	"github.com/ajitpratap0/federate/pkg/connector/core"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/message"
	"github.com/ajitpratap0/federate/pkg/testutil"
)

// stubOffsets serves fixed oldest and newest offsets per partition
type stubOffsets map[int32][2]int64

func (s stubOffsets) GetOffset(_ string, p int32, t int64) (int64, error) {
	o, ok := s[p]
	if !ok {
		return 0, fmt.Errorf("unknown partition %d", p)
	}
	if t == sarama.OffsetOldest {
		return o[0], nil
	}
	return o[1], nil
}

func newTestExecution(t *testing.T, cmd *Command, consumer *mocks.Consumer, offsets stubOffsets, symbols []message.Symbol) *execution {
	t.Helper()
	return &execution{
		cmd:          cmd,
		symbols:      symbols,
		pollInterval: 100 * time.Millisecond,
		offsets:      offsets,
		newConsumer:  func() (sarama.Consumer, error) { return consumer, nil },
		scope:        core.NewExecutionScope(context.Background()),
		logger:       testutil.TestLogger(t),
	}
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand(`{"topic": "events", "partitions": [1, 0], "start": "42", "limit": 10}`, "")
	require.NoError(t, err)
	assert.Equal(t, "events", cmd.Topic)
	assert.Equal(t, []int32{1, 0}, cmd.Partitions)
	start, err := cmd.startOffset()
	require.NoError(t, err)
	assert.Equal(t, int64(42), start)

	cmd, err = ParseCommand("", "audit")
	require.NoError(t, err)
	assert.Equal(t, "audit", cmd.Topic)
	start, _ = cmd.startOffset()
	assert.Equal(t, sarama.OffsetOldest, start)

	for _, text := range []string{
		`{`,
		`{"start": "oldest"}`,
		`{"topic": "t", "start": "yesterday"}`,
		`{"topic": "t", "start": "-5"}`,
		`{"topic": "t", "limit": -1}`,
		`{"topic": "t", "start": "newest"}`,
	} {
		_, err := ParseCommand(text, "")
		assert.True(t, errors.IsType(err, errors.ErrorTypeProcessing), text)
	}
}

func TestBuildConfig(t *testing.T) {
	c, err := BuildConfig(&config.SourceConfig{Name: "events", Properties: map[string]string{
		"sasl_mechanism": "scram-sha-512",
		"sasl_username":  "reader",
		"sasl_password":  "secret",
		"tls":            "true",
	}})
	require.NoError(t, err)
	assert.True(t, c.Net.SASL.Enable)
	assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypeSCRAMSHA512), c.Net.SASL.Mechanism)
	assert.True(t, c.Net.TLS.Enable)
	assert.Equal(t, "federate", c.ClientID)
	require.NotNil(t, c.Net.SASL.SCRAMClientGeneratorFunc)
	client := c.Net.SASL.SCRAMClientGeneratorFunc()
	require.NoError(t, client.Begin("reader", "secret", ""))
	first, err := client.Step("")
	require.NoError(t, err)
	assert.Contains(t, first, "n=reader")
	assert.False(t, client.Done())

	_, err = BuildConfig(&config.SourceConfig{Name: "events", Properties: map[string]string{"sasl_mechanism": "kerberos"}})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestRecordRow(t *testing.T) {
	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	msg := &sarama.ConsumerMessage{
		Topic:     "orders",
		Partition: 2,
		Offset:    17,
		Key:       []byte("o-17"),
		Value:     []byte(`{"total": 12.5, "customer": {"id": 7, "tags": ["a"]}}`),
		Timestamp: ts,
		Headers:   []*sarama.RecordHeader{{Key: []byte("trace"), Value: []byte("abc")}},
	}
	symbols := []message.Symbol{
		{Name: "partition", Type: message.TypeInteger},
		{Name: "offset", Type: message.TypeLong},
		{Name: "key", Type: message.TypeString},
		{Name: "timestamp", Type: message.TypeTimestamp},
		{Name: "headers.trace", Type: message.TypeString},
		{Name: "headers.missing", Type: message.TypeString},
		{Name: "value.total", Type: message.TypeDouble},
		{Name: "value.customer.id", Type: message.TypeLong},
		{Name: "value.customer", Type: message.TypeString},
	}
	row, err := RecordRow(msg, symbols)
	require.NoError(t, err)
	assert.Equal(t, message.Row{int32(2), int64(17), "o-17", ts, "abc", nil, 12.5, int64(7), `{"id":7,"tags":["a"]}`}, row)

	_, err = RecordRow(msg, []message.Symbol{{Name: "nope"}})
	assert.True(t, errors.IsType(err, errors.ErrorTypeProcessing))

	msg.Value = []byte("plain")
	_, err = RecordRow(msg, []message.Symbol{{Name: "value.x", Type: message.TypeString}})
	assert.True(t, errors.IsType(err, errors.ErrorTypeTranslator))
}

func TestReadToHighWaterMark(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)
	consumer.SetTopicMetadata(map[string][]int32{"events": {0, 1}})
	pc := consumer.ExpectConsumePartition("events", 0, 0)
	pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte("first")})
	pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte("second")})

	cmd, err := ParseCommand(`{"topic": "events"}`, "")
	require.NoError(t, err)
	offsets := stubOffsets{0: {0, 2}, 1: {5, 5}}
	e := newTestExecution(t, cmd, consumer, offsets, []message.Symbol{
		{Name: "offset", Type: message.TypeLong},
		{Name: "value", Type: message.TypeString},
	})
	ctx := context.Background()
	require.NoError(t, e.Execute(ctx))

	var rows []message.Row
	for {
		row, err := e.Next(ctx)
		var dna *core.DataNotAvailableError
		if errors.As(err, &dna) {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		require.NoError(t, err)
		if row == nil {
			break
		}
		rows = append(rows, row)
	}
	assert.Equal(t, []message.Row{{int64(0), "first"}, {int64(1), "second"}}, rows)
	assert.True(t, e.closed)
}

func TestFollowSignalsNotAvailable(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)
	pc := consumer.ExpectConsumePartition("events", 3, 10)

	cmd, err := ParseCommand(`{"topic": "events", "partitions": [3], "start": "10", "follow": true, "limit": 1}`, "")
	require.NoError(t, err)
	e := newTestExecution(t, cmd, consumer, stubOffsets{}, []message.Symbol{{Name: "value", Type: message.TypeString}})
	ctx := context.Background()
	require.NoError(t, e.Execute(ctx))

	_, err = e.Next(ctx)
	var dna *core.DataNotAvailableError
	require.True(t, errors.As(err, &dna))
	assert.Equal(t, 100*time.Millisecond, dna.Delay)

	pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte("late")})
	var row message.Row
	testutil.AssertEventually(t, func() bool {
		row, err = e.Next(ctx)
		return err == nil && row != nil
	}, time.Second, "record delivered")
	assert.Equal(t, message.Row{"late"}, row)

	row, err = e.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, row, "limit reached")
}

func TestNextAfterCancel(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)
	consumer.ExpectConsumePartition("events", 0, sarama.OffsetOldest)
	cmd, _ := ParseCommand(`{"topic": "events", "partitions": [0], "follow": true}`, "")
	e := newTestExecution(t, cmd, consumer, stubOffsets{}, nil)
	require.NoError(t, e.Execute(context.Background()))

	require.NoError(t, e.Cancel())
	_, err := e.Next(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeCancelled))
	require.NoError(t, e.Close())
}

func TestInitializeRequiresBrokers(t *testing.T) {
	tr := NewTranslator()
	err := tr.Initialize(context.Background(), &config.SourceConfig{Name: "events"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	_, err = tr.Connect(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

func TestKafkaIntegration(t *testing.T) {
	brokers := testutil.RequireEnv(t, "FEDERATE_KAFKA_BROKERS")
	topic := testutil.RequireEnv(t, "FEDERATE_KAFKA_TOPIC")
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	tr := NewTranslator()
	require.NoError(t, tr.Initialize(ctx, &config.SourceConfig{
		Name:       "events",
		Properties: map[string]string{"brokers": brokers, "topic": topic, "poll_interval": "20ms"},
	}))
	defer tr.Close(ctx)
	require.NoError(t, tr.Ping(ctx))

	c, err := tr.Connect(ctx)
	require.NoError(t, err)
	exec, err := tr.CreateExecution(ctx, &message.NativeCommand{
		Text:    `{"limit": 5}`,
		Symbols: []message.Symbol{{Name: "offset", Type: message.TypeLong}},
	}, &core.ExecutionContext{}, c)
	require.NoError(t, err)
	defer exec.Close()
	require.NoError(t, exec.Execute(ctx))

	rs := exec.(core.ResultSetExecution)
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		row, err := rs.Next(ctx)
		var dna *core.DataNotAvailableError
		if errors.As(err, &dna) {
			time.Sleep(dna.Delay)
			continue
		}
		require.NoError(t, err)
		if row == nil {
			return
		}
	}
	t.Fatal("topic was not read to its high-water mark")
}
