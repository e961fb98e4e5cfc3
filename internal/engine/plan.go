package engine

import (
	"strings"

	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/message"
)

// Plan builds a request running native text against source, projecting
// symbols. Each call gets a new execution id within sessionID.
func (e *Engine) Plan(sessionID, source, text string, symbols []message.Symbol, args ...interface{}) *Request {
	id := message.RequestID{SessionID: sessionID, ExecutionID: e.executions.Add(1)}
	return &Request{
		ID: id,
		Atomic: []*message.AtomicRequestMessage{{
			ID:     message.AtomicRequestID{Request: id},
			Source: source,
			Command: &message.NativeCommand{
				Text:    text,
				Args:    args,
				Symbols: symbols,
			},
		}},
	}
}

var dataTypes = map[string]message.DataType{
	"string":    message.TypeString,
	"integer":   message.TypeInteger,
	"long":      message.TypeLong,
	"double":    message.TypeDouble,
	"decimal":   message.TypeDecimal,
	"boolean":   message.TypeBoolean,
	"date":      message.TypeDate,
	"timestamp": message.TypeTimestamp,
	"varbinary": message.TypeVarbinary,
	"blob":      message.TypeBlob,
	"clob":      message.TypeClob,
	"object":    message.TypeObject,
}

// ParseSymbols parses a column list of the form "id:long,name:string".
// A column without a type is a string.
func ParseSymbols(columns string) ([]message.Symbol, error) {
	columns = strings.TrimSpace(columns)
	if columns == "" {
		return nil, nil
	}
	var symbols []message.Symbol
	for _, col := range strings.Split(columns, ",") {
		name, typ, _ := strings.Cut(strings.TrimSpace(col), ":")
		if name == "" {
			return nil, errors.New(errors.ErrorTypeValidation, "empty column name").WithDetail("columns", columns)
		}
		dt := message.TypeString
		if typ != "" {
			var ok bool
			if dt, ok = dataTypes[strings.ToLower(typ)]; !ok {
				return nil, errors.Newf(errors.ErrorTypeValidation, "unknown column type %q", typ).
					WithDetail("column", name)
			}
		}
		symbols = append(symbols, message.Symbol{Name: name, Type: dt})
	}
	return symbols, nil
}
