package core

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/lob"
	"github.com/ajitpratap0/federate/pkg/message"
)

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999", "2006-01-02"}

// Coerce converts a value read from a source client library to the Go
// representation of t used in result rows. Blob and clob values become
// lob.Bytes and lob.Text so they are streamed.
func Coerce(v interface{}, t message.DataType) (interface{}, error) {
	if valuer, ok := v.(driver.Valuer); ok {
		dv, err := valuer.Value()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeTranslator, "failed to read source value")
		}
		v = dv
	}
	if v == nil {
		return nil, nil
	}

	switch t {
	case message.TypeString, message.TypeDecimal:
		return toString(v), nil
	case message.TypeInteger:
		n, err := toInt(v)
		if err != nil {
			return nil, coerceError(v, t, err)
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, coerceError(v, t, fmt.Errorf("out of range"))
		}
		return int32(n), nil
	case message.TypeLong:
		n, err := toInt(v)
		if err != nil {
			return nil, coerceError(v, t, err)
		}
		return n, nil
	case message.TypeDouble:
		f, err := toFloat(v)
		if err != nil {
			return nil, coerceError(v, t, err)
		}
		return f, nil
	case message.TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, coerceError(v, t, err)
			}
			return parsed, nil
		default:
			n, err := toInt(v)
			if err != nil {
				return nil, coerceError(v, t, err)
			}
			return n != 0, nil
		}
	case message.TypeDate, message.TypeTimestamp:
		switch tv := v.(type) {
		case time.Time:
			return tv, nil
		case string:
			for _, layout := range timeLayouts {
				if parsed, err := time.Parse(layout, tv); err == nil {
					return parsed, nil
				}
			}
			return nil, coerceError(v, t, fmt.Errorf("unrecognized time format"))
		default:
			return nil, coerceError(v, t, fmt.Errorf("not a time"))
		}
	case message.TypeVarbinary:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		default:
			return nil, coerceError(v, t, fmt.Errorf("not binary"))
		}
	case message.TypeBlob:
		switch b := v.(type) {
		case []byte:
			return lob.Bytes(b), nil
		case string:
			return lob.Bytes(b), nil
		case lob.Source:
			return b, nil
		default:
			return nil, coerceError(v, t, fmt.Errorf("not binary"))
		}
	case message.TypeClob:
		switch s := v.(type) {
		case lob.Source:
			return s, nil
		default:
			return lob.Text(toString(v)), nil
		}
	default:
		return v, nil
	}
}

// CoerceRow converts values positioned as symbols into a result row
func CoerceRow(values []interface{}, symbols []message.Symbol) (message.Row, error) {
	if len(values) != len(symbols) {
		return nil, errors.Newf(errors.ErrorTypeTranslator, "source returned %d values for %d projected symbols",
			len(values), len(symbols))
	}
	row := make(message.Row, len(values))
	for i, v := range values {
		c, err := Coerce(v, symbols[i].Type)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeTranslator, "failed to convert column").
				WithDetail("column", symbols[i].Name)
		}
		row[i] = c
	}
	return row, nil
}

func coerceError(v interface{}, t message.DataType, err error) error {
	return errors.Wrap(err, errors.ErrorTypeTranslator, fmt.Sprintf("cannot convert %T to %s", v, t))
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32)
	case time.Time:
		return s.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

func toInt(v interface{}) (int64, error) {
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
			return 0, fmt.Errorf("out of range")
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("not an integral value")
		}
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	default:
		return 0, fmt.Errorf("not a number")
	}
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	case []byte:
		return strconv.ParseFloat(string(n), 64)
	default:
		i, err := toInt(v)
		return float64(i), err
	}
}
