package results

import (
	"github.com/ajitpratap0/federate/pkg/message"
)

// LobReference replaces a LOB value in an assembled row. The client pulls
// the value's chunks from the stream registry by StreamID.
type LobReference struct {
	StreamID string           `json:"stream_id"`
	Type     message.DataType `json:"type"`
}

// ResultsMessage is one assembled batch of an atomic request's results.
// Rows are numbered from 1 across every batch of the request; FirstRow and
// LastRow bound this batch, and LastRow is FirstRow-1 for an empty batch.
type ResultsMessage struct {
	RequestID string           `json:"request_id"`
	Source    string           `json:"source"`
	Columns   []ColumnMetadata `json:"columns"`
	Rows      []message.Row    `json:"rows"`
	FirstRow  int              `json:"first_row"`
	LastRow   int              `json:"last_row"`
	// FinalRow is the total row count on the last batch, message.FinalRowUnknown before
	FinalRow         int           `json:"final_row"`
	OutputParameters []interface{} `json:"output_parameters,omitempty"`
	Warnings         []string      `json:"warnings,omitempty"`
}

// IsFinal reports whether this is the last batch of the request
func (r *ResultsMessage) IsFinal() bool {
	return r.FinalRow != message.FinalRowUnknown
}

// RowCount returns the number of rows in the batch
func (r *ResultsMessage) RowCount() int {
	return len(r.Rows)
}

// LobReferences returns every stream reference in the batch, in row order
func (r *ResultsMessage) LobReferences() []LobReference {
	var refs []LobReference
	for _, row := range r.Rows {
		for _, v := range row {
			if ref, ok := v.(LobReference); ok {
				refs = append(refs, ref)
			}
		}
	}
	return refs
}
