package message

import "strings"

// DataType is the engine level type of a projected value.
type DataType string

const (
	TypeString    DataType = "string"
	TypeInteger   DataType = "integer"
	TypeLong      DataType = "long"
	TypeDouble    DataType = "double"
	TypeDecimal   DataType = "decimal"
	TypeBoolean   DataType = "boolean"
	TypeDate      DataType = "date"
	TypeTimestamp DataType = "timestamp"
	TypeVarbinary DataType = "varbinary"
	TypeBlob      DataType = "blob"
	TypeClob      DataType = "clob"
	TypeObject    DataType = "object"
)

// IsLob reports whether values of t are streamed as LOBs
func (t DataType) IsLob() bool {
	return t == TypeBlob || t == TypeClob
}

// Symbol is a projected column of a command.
type Symbol struct {
	Name string
	Type DataType
}

// Command is the source-specific command carried by an atomic request.
// The planner produces commands already rewritten for the capabilities of
// the target source.
type Command interface {
	// ProjectedSymbols describes the columns of each returned row
	ProjectedSymbols() []Symbol
}

// NativeCommand passes text straight through to the source in its own
// language: SQL for relational sources, a filter document for MongoDB, a
// key prefix for object stores.
type NativeCommand struct {
	Text    string
	Args    []interface{}
	Symbols []Symbol
}

// ProjectedSymbols implements Command
func (c *NativeCommand) ProjectedSymbols() []Symbol {
	return c.Symbols
}

func (c *NativeCommand) String() string {
	return strings.TrimSpace(c.Text)
}

// ProcedureCommand invokes a stored procedure. Output parameters are
// returned on the final batch.
type ProcedureCommand struct {
	Name       string
	Args       []interface{}
	Symbols    []Symbol
	OutSymbols []Symbol
}

// ProjectedSymbols implements Command
func (c *ProcedureCommand) ProjectedSymbols() []Symbol {
	return c.Symbols
}
