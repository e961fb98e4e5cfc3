package core

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/lob"
	"github.com/ajitpratap0/federate/pkg/message"
)

type numeric string

func (n numeric) Value() (driver.Value, error) { return string(n), nil }

func TestCoerce(t *testing.T) {
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		in   interface{}
		typ  message.DataType
		want interface{}
	}{
		{nil, message.TypeLong, nil},
		{int32(7), message.TypeLong, int64(7)},
		{"42", message.TypeInteger, int32(42)},
		{[]byte("3.5"), message.TypeDouble, 3.5},
		{int64(2), message.TypeDouble, 2.0},
		{[]byte("text"), message.TypeString, "text"},
		{1.25, message.TypeDecimal, "1.25"},
		{int64(1), message.TypeBoolean, true},
		{"false", message.TypeBoolean, false},
		{"2024-05-01", message.TypeDate, day},
		{day, message.TypeTimestamp, day},
		{"abc", message.TypeVarbinary, []byte("abc")},
		{[]byte{1, 2}, message.TypeBlob, lob.Bytes{1, 2}},
		{"note", message.TypeClob, lob.Text("note")},
		{map[string]interface{}{"a": 1}, message.TypeObject, map[string]interface{}{"a": 1}},
	}
	for _, c := range cases {
		got, err := Coerce(c.in, c.typ)
		require.NoError(t, err, "%v to %s", c.in, c.typ)
		assert.Equal(t, c.want, got, "%v to %s", c.in, c.typ)
	}
}

func TestCoerceFailures(t *testing.T) {
	for _, c := range []struct {
		in  interface{}
		typ message.DataType
	}{
		{int64(1) << 40, message.TypeInteger},
		{"x", message.TypeLong},
		{2.5, message.TypeLong},
		{"soon", message.TypeTimestamp},
		{42, message.TypeVarbinary},
		{"maybe", message.TypeBoolean},
	} {
		_, err := Coerce(c.in, c.typ)
		assert.True(t, errors.IsType(err, errors.ErrorTypeTranslator), "%v to %s", c.in, c.typ)
	}
}

func TestCoerceRow(t *testing.T) {
	symbols := []message.Symbol{{Name: "id", Type: message.TypeLong}, {Name: "price", Type: message.TypeDecimal}}
	row, err := CoerceRow([]interface{}{int32(1), numeric("9.99")}, symbols)
	require.NoError(t, err)
	assert.Equal(t, message.Row{int64(1), "9.99"}, row)

	_, err = CoerceRow([]interface{}{1}, symbols)
	assert.Error(t, err)
}

func TestExecutionScope(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	scope := NewExecutionScope(parent)
	cancelParent()
	assert.NoError(t, scope.Err(), "scope outlives the creating call")

	step, cancelStep := context.WithCancel(context.Background())
	stop := scope.Bind(step)
	assert.True(t, stop())
	cancelStep()
	assert.NoError(t, scope.Err(), "finished steps do not cancel the scope")

	step, cancelStep = context.WithCancel(context.Background())
	defer cancelStep()
	scope.Bind(step)
	cancelStep()
	require.Eventually(t, func() bool { return scope.Err() != nil }, time.Second, time.Millisecond)

	var dna *DataNotAvailableError
	assert.True(t, errors.As(NotAvailable(time.Second), &dna))
	assert.Contains(t, dna.Error(), "1s")
}
