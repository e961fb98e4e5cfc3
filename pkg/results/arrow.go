package results

import (
	"fmt"
	"math"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/message"
)

// lobType holds a LOB column value: a stream reference or an inline value
var lobType = arrow.StructOf(
	arrow.Field{Name: "stream_id", Type: arrow.BinaryTypes.String, Nullable: true},
	arrow.Field{Name: "inline", Type: arrow.BinaryTypes.Binary, Nullable: true},
)

// ArrowType maps an engine data type to its Arrow type. Decimals are
// carried as strings to keep their precision.
func ArrowType(t message.DataType) arrow.DataType {
	switch t {
	case message.TypeInteger:
		return arrow.PrimitiveTypes.Int32
	case message.TypeLong:
		return arrow.PrimitiveTypes.Int64
	case message.TypeDouble:
		return arrow.PrimitiveTypes.Float64
	case message.TypeBoolean:
		return arrow.FixedWidthTypes.Boolean
	case message.TypeDate:
		return arrow.FixedWidthTypes.Date32
	case message.TypeTimestamp:
		return arrow.FixedWidthTypes.Timestamp_us
	case message.TypeVarbinary:
		return arrow.BinaryTypes.Binary
	case message.TypeBlob, message.TypeClob:
		return lobType
	default:
		return arrow.BinaryTypes.String
	}
}

// ArrowSchema builds the Arrow schema of cols. Each field records its
// engine type and source in the field metadata.
func ArrowSchema(cols []ColumnMetadata) *arrow.Schema {
	fields := make([]arrow.Field, len(cols))
	for i, c := range cols {
		fields[i] = arrow.Field{
			Name:     c.Name,
			Type:     ArrowType(c.Type),
			Nullable: c.Nullable,
			Metadata: arrow.NewMetadata([]string{"type", "source"}, []string{string(c.Type), c.Source}),
		}
	}
	return arrow.NewSchema(fields, nil)
}

// ToArrowRecord converts msg into an Arrow record allocated from mem. A nil
// mem uses the Go allocator. The caller releases the record.
func ToArrowRecord(mem memory.Allocator, msg *ResultsMessage) (arrow.Record, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	schema := ArrowSchema(msg.Columns)
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for r, row := range msg.Rows {
		if len(row) != len(msg.Columns) {
			return nil, errors.Newf(errors.ErrorTypeProcessing, "row %d has %d values, expected %d",
				msg.FirstRow+r, len(row), len(msg.Columns))
		}
		for i, v := range row {
			if err := appendValue(b.Field(i), v); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeProcessing, "failed to convert value").
					WithDetail("column", msg.Columns[i].Name).
					WithDetail("row", msg.FirstRow+r)
			}
		}
	}
	return b.NewRecord(), nil
}

func appendValue(fb array.Builder, v interface{}) error {
	if v == nil {
		fb.AppendNull()
		return nil
	}
	switch builder := fb.(type) {
	case *array.Int32Builder:
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return fmt.Errorf("value %d overflows integer", n)
		}
		builder.Append(int32(n))
	case *array.Int64Builder:
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		builder.Append(n)
	case *array.Float64Builder:
		f, err := toFloat64(v)
		if err != nil {
			return err
		}
		builder.Append(f)
	case *array.BooleanBuilder:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", v)
		}
		builder.Append(b)
	case *array.Date32Builder:
		t, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("expected time.Time, got %T", v)
		}
		builder.Append(arrow.Date32FromTime(t))
	case *array.TimestampBuilder:
		t, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("expected time.Time, got %T", v)
		}
		builder.Append(arrow.Timestamp(t.UnixMicro()))
	case *array.BinaryBuilder:
		switch b := v.(type) {
		case []byte:
			builder.Append(b)
		case string:
			builder.AppendString(b)
		default:
			return fmt.Errorf("expected []byte, got %T", v)
		}
	case *array.StringBuilder:
		switch s := v.(type) {
		case string:
			builder.Append(s)
		case []byte:
			builder.Append(string(s))
		case fmt.Stringer:
			builder.Append(s.String())
		default:
			builder.Append(fmt.Sprint(v))
		}
	case *array.StructBuilder:
		return appendLob(builder, v)
	default:
		return fmt.Errorf("unsupported builder %T", fb)
	}
	return nil
}

func appendLob(b *array.StructBuilder, v interface{}) error {
	stream := b.FieldBuilder(0).(*array.StringBuilder)
	inline := b.FieldBuilder(1).(*array.BinaryBuilder)
	switch val := v.(type) {
	case LobReference:
		b.Append(true)
		stream.Append(val.StreamID)
		inline.AppendNull()
	case []byte:
		b.Append(true)
		stream.AppendNull()
		inline.Append(val)
	case string:
		b.Append(true)
		stream.AppendNull()
		inline.AppendString(val)
	default:
		return fmt.Errorf("expected a lob reference or inline lob, got %T", v)
	}
	return nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows long", n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected an integer, got %T", v)
	}
}

func toFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	default:
		i, err := toInt64(v)
		if err != nil {
			return 0, fmt.Errorf("expected a number, got %T", v)
		}
		return float64(i), nil
	}
}
