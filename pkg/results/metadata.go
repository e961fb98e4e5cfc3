// Package results assembles atomic result batches into client facing
// results: column metadata, globally numbered rows and LOB values replaced by
// stream references. Assembled results render as Arrow records or JSON.
package results

import "github.com/ajitpratap0/federate/pkg/message"

// ColumnMetadata describes one result column or procedure parameter.
type ColumnMetadata struct {
	Name     string           `json:"name"`
	Type     message.DataType `json:"type"`
	Nullable bool             `json:"nullable"`
	// Source is the physical source the column is read from
	Source string `json:"source"`
}

// MetadataResult describes the shape of a command's results.
type MetadataResult struct {
	Columns []ColumnMetadata `json:"columns"`
	// Parameters lists procedure output parameters, empty for other commands
	Parameters []ColumnMetadata `json:"parameters,omitempty"`
}

// NewMetadataResult builds the metadata of cmd executed against source.
// Source values carry no nullability information, so every column is
// nullable.
func NewMetadataResult(source string, cmd message.Command) *MetadataResult {
	md := &MetadataResult{Columns: columns(source, cmd.ProjectedSymbols())}
	if proc, ok := cmd.(*message.ProcedureCommand); ok {
		md.Parameters = columns(source, proc.OutSymbols)
	}
	return md
}

func columns(source string, symbols []message.Symbol) []ColumnMetadata {
	cols := make([]ColumnMetadata, len(symbols))
	for i, s := range symbols {
		cols[i] = ColumnMetadata{Name: s.Name, Type: s.Type, Nullable: true, Source: source}
	}
	return cols
}

// LobColumns returns the positions of LOB typed columns
func (m *MetadataResult) LobColumns() []int {
	var idx []int
	for i, c := range m.Columns {
		if c.Type.IsLob() {
			idx = append(idx, i)
		}
	}
	return idx
}
