package results

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/lob"
	"github.com/ajitpratap0/federate/pkg/message"
)

func request(symbols ...message.Symbol) *message.AtomicRequestMessage {
	return &message.AtomicRequestMessage{
		ID:      message.AtomicRequestID{Request: message.RequestID{SessionID: "s1", ExecutionID: 7}, NodeID: 2},
		Source:  "docs",
		Command: &message.NativeCommand{Text: "select", Symbols: symbols},
	}
}

func batch(final int, rows ...message.Row) *message.AtomicResultsMessage {
	return &message.AtomicResultsMessage{Rows: rows, FinalRow: final}
}

func TestMetadataResult(t *testing.T) {
	cmd := &message.ProcedureCommand{
		Name:       "refresh",
		Symbols:    []message.Symbol{{Name: "id", Type: message.TypeLong}, {Name: "body", Type: message.TypeClob}},
		OutSymbols: []message.Symbol{{Name: "updated", Type: message.TypeInteger}},
	}
	md := NewMetadataResult("crm", cmd)

	require.Len(t, md.Columns, 2)
	assert.Equal(t, ColumnMetadata{Name: "id", Type: message.TypeLong, Nullable: true, Source: "crm"}, md.Columns[0])
	require.Len(t, md.Parameters, 1)
	assert.Equal(t, "updated", md.Parameters[0].Name)
	assert.Equal(t, []int{1}, md.LobColumns())

	native := NewMetadataResult("crm", &message.NativeCommand{Symbols: cmd.Symbols})
	assert.Empty(t, native.Parameters)
}

func TestAssemblerNumbersRows(t *testing.T) {
	a := NewAssembler(request(message.Symbol{Name: "id", Type: message.TypeLong}), nil, 0)
	ctx := context.Background()

	first, err := a.Assemble(ctx, batch(message.FinalRowUnknown, message.Row{int64(1)}, message.Row{int64(2)}))
	require.NoError(t, err)
	assert.Equal(t, 1, first.FirstRow)
	assert.Equal(t, 2, first.LastRow)
	assert.False(t, first.IsFinal())
	assert.Equal(t, "s1.7.2.0", first.RequestID)

	empty, err := a.Assemble(ctx, batch(message.FinalRowUnknown))
	require.NoError(t, err)
	assert.Equal(t, 3, empty.FirstRow)
	assert.Equal(t, 2, empty.LastRow)

	last, err := a.Assemble(ctx, &message.AtomicResultsMessage{
		Rows:             []message.Row{{int64(3)}},
		FinalRow:         3,
		OutputParameters: []interface{}{"ok"},
		Warnings:         []error{fmt.Errorf("truncated")},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, last.FirstRow)
	assert.Equal(t, 3, last.LastRow)
	assert.True(t, last.IsFinal())
	assert.Equal(t, []string{"truncated"}, last.Warnings)
	assert.Equal(t, []interface{}{"ok"}, last.OutputParameters)

	_, err = a.Assemble(ctx, batch(3))
	assert.True(t, errors.IsType(err, errors.ErrorTypeProcessing))
}

func TestAssemblerStreamsLobs(t *testing.T) {
	streams := lob.NewStreamRegistry(4, nil)
	a := NewAssembler(request(
		message.Symbol{Name: "id", Type: message.TypeLong},
		message.Symbol{Name: "content", Type: message.TypeBlob},
	), streams, 0)
	ctx := context.Background()

	in := batch(2, message.Row{int64(1), lob.Bytes("payload")}, message.Row{int64(2), nil})
	msg, err := a.Assemble(ctx, in)
	require.NoError(t, err)

	ref, ok := msg.Rows[0][1].(LobReference)
	require.True(t, ok)
	assert.Equal(t, message.TypeBlob, ref.Type)
	assert.Nil(t, msg.Rows[1][1])
	assert.Equal(t, lob.Bytes("payload"), in.Rows[0][1], "input rows are not modified")
	assert.Equal(t, []LobReference{ref}, msg.LobReferences())
	assert.Equal(t, []string{ref.StreamID}, a.StreamIDs())
	assert.Equal(t, 1, streams.Len())

	var got []byte
	for {
		chunk, err := streams.RequestNextChunk(ctx, ref.StreamID)
		require.NoError(t, err)
		got = append(got, chunk.Bytes...)
		if chunk.Last {
			break
		}
	}
	assert.Equal(t, "payload", string(got))
	assert.Equal(t, 0, streams.Len())
}

func TestAssemblerInlineThreshold(t *testing.T) {
	streams := lob.NewStreamRegistry(0, nil)
	a := NewAssembler(request(message.Symbol{Name: "note", Type: message.TypeClob}), streams, 8)

	msg, err := a.Assemble(context.Background(), batch(message.FinalRowUnknown,
		message.Row{lob.Text("short")},
		message.Row{"a much longer note"},
	))
	require.NoError(t, err)
	assert.Equal(t, "short", msg.Rows[0][0])
	_, streamed := msg.Rows[1][0].(LobReference)
	assert.True(t, streamed)
	assert.Equal(t, 1, streams.Len())
}

func TestAssemblerLobOpenFailure(t *testing.T) {
	streams := lob.NewStreamRegistry(0, nil)
	a := NewAssembler(request(message.Symbol{Name: "content", Type: message.TypeBlob}), streams, 0)
	broken := lob.SourceFunc(func(context.Context) (io.ReadCloser, error) {
		return nil, fmt.Errorf("object deleted")
	})

	_, err := a.Assemble(context.Background(), batch(2, message.Row{lob.Bytes("ok")}, message.Row{broken}))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTranslator))
	assert.Equal(t, 0, streams.Len(), "streams of the failed batch are closed")
	assert.Empty(t, a.StreamIDs())
}

func TestAssemblerWithoutRegistry(t *testing.T) {
	a := NewAssembler(request(message.Symbol{Name: "content", Type: message.TypeBlob}), nil, 0)
	_, err := a.Assemble(context.Background(), batch(1, message.Row{[]byte("x")}))
	assert.Error(t, err)
}

func TestToArrowRecord(t *testing.T) {
	day := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	msg := &ResultsMessage{
		Columns: []ColumnMetadata{
			{Name: "id", Type: message.TypeLong, Nullable: true, Source: "docs"},
			{Name: "qty", Type: message.TypeInteger, Nullable: true},
			{Name: "price", Type: message.TypeDouble, Nullable: true},
			{Name: "name", Type: message.TypeString, Nullable: true},
			{Name: "active", Type: message.TypeBoolean, Nullable: true},
			{Name: "created", Type: message.TypeTimestamp, Nullable: true},
			{Name: "body", Type: message.TypeClob, Nullable: true},
		},
		Rows: []message.Row{
			{int64(1), 3, 9.5, "widget", true, day, LobReference{StreamID: "abc", Type: message.TypeClob}},
			{int64(2), nil, 1, nil, false, day, "inline"},
		},
		FirstRow: 1,
		LastRow:  2,
	}

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rec, err := ToArrowRecord(mem, msg)
	require.NoError(t, err)
	defer rec.Release()

	assert.Equal(t, int64(2), rec.NumRows())
	assert.Equal(t, int64(7), rec.NumCols())
	assert.Equal(t, int64(2), rec.Column(0).(*array.Int64).Value(1))
	assert.True(t, rec.Column(1).IsNull(1))
	assert.Equal(t, float64(1), rec.Column(2).(*array.Float64).Value(1))
	assert.Equal(t, "widget", rec.Column(3).(*array.String).Value(0))
	assert.True(t, rec.Column(4).(*array.Boolean).Value(0))
	assert.Equal(t, day.UnixMicro(), int64(rec.Column(5).(*array.Timestamp).Value(0)))

	body := rec.Column(6).(*array.Struct)
	assert.Equal(t, "abc", body.Field(0).(*array.String).Value(0))
	assert.True(t, body.Field(1).IsNull(0))
	assert.True(t, body.Field(0).IsNull(1))
	assert.Equal(t, []byte("inline"), body.Field(1).(*array.Binary).Value(1))

	md, ok := rec.Schema().Field(0).Metadata.GetValue("source")
	assert.True(t, ok)
	assert.Equal(t, "docs", md)
}

func TestToArrowRecordRejectsBadValues(t *testing.T) {
	msg := &ResultsMessage{
		Columns:  []ColumnMetadata{{Name: "qty", Type: message.TypeInteger}},
		Rows:     []message.Row{{"three"}},
		FirstRow: 1,
	}
	_, err := ToArrowRecord(nil, msg)
	assert.True(t, errors.IsType(err, errors.ErrorTypeProcessing))

	msg.Rows = []message.Row{{int64(1) << 40}}
	_, err = ToArrowRecord(nil, msg)
	assert.Error(t, err)

	msg.Rows = []message.Row{{1, 2}}
	_, err = ToArrowRecord(nil, msg)
	assert.Error(t, err)
}

func TestJSONRoundTrip(t *testing.T) {
	msg := &ResultsMessage{
		RequestID: "s1.1.0.0",
		Source:    "docs",
		Columns:   []ColumnMetadata{{Name: "id", Type: message.TypeLong}, {Name: "body", Type: message.TypeBlob}},
		Rows: []message.Row{
			{int64(1), LobReference{StreamID: "abc", Type: message.TypeBlob}},
		},
		FirstRow: 1,
		LastRow:  1,
		FinalRow: 1,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, msg))
	assert.Contains(t, buf.String(), `"stream_id":"abc"`)

	got, err := ReadJSON(&buf)
	require.NoError(t, err)
	assert.Equal(t, msg.RequestID, got.RequestID)
	assert.Equal(t, msg.Columns, got.Columns)
	assert.True(t, got.IsFinal())
	require.Len(t, got.Rows, 1)
	body, ok := got.Rows[0][1].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "abc", body["stream_id"])
}
