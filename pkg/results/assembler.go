package results

import (
	"context"

	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/lob"
	"github.com/ajitpratap0/federate/pkg/message"
)

// Assembler turns the batches of one atomic request into ResultsMessages.
// It is not safe for concurrent use; a request's batches arrive in order.
type Assembler struct {
	requestID string
	source    string
	metadata  *MetadataResult
	lobCols   []int
	streams   *lob.StreamRegistry
	inline    int

	nextRow   int
	final     bool
	streamIDs []string
}

// NewAssembler creates the assembler for req. LOB values are registered in
// streams; byte and string LOB values no longer than inlineThreshold stay
// inline (0 streams every LOB value).
func NewAssembler(req *message.AtomicRequestMessage, streams *lob.StreamRegistry, inlineThreshold int) *Assembler {
	md := NewMetadataResult(req.Source, req.Command)
	return &Assembler{
		requestID: req.ID.String(),
		source:    req.Source,
		metadata:  md,
		lobCols:   md.LobColumns(),
		streams:   streams,
		inline:    inlineThreshold,
		nextRow:   1,
	}
}

// Metadata returns the column metadata of the request
func (a *Assembler) Metadata() *MetadataResult {
	return a.metadata
}

// StreamIDs returns the LOB streams registered so far
func (a *Assembler) StreamIDs() []string {
	return append([]string(nil), a.streamIDs...)
}

// Assemble numbers the rows of batch and replaces its LOB values. The
// batch's rows are not modified.
func (a *Assembler) Assemble(ctx context.Context, batch *message.AtomicResultsMessage) (*ResultsMessage, error) {
	if a.final {
		return nil, errors.New(errors.ErrorTypeProcessing, "batch received after the final batch").
			WithDetail("atomic_request", a.requestID)
	}

	rows := batch.Rows
	if len(a.lobCols) > 0 && len(rows) > 0 {
		var registered []string
		rows = make([]message.Row, len(batch.Rows))
		for i, row := range batch.Rows {
			out := append(message.Row(nil), row...)
			for _, col := range a.lobCols {
				if col >= len(out) {
					continue
				}
				v, id, err := a.lobValue(ctx, out[col], a.metadata.Columns[col].Type)
				if err != nil {
					for _, id := range registered {
						_ = a.streams.CloseStream(ctx, id)
					}
					return nil, errors.Wrap(err, errors.ErrorTypeTranslator, "failed to stream lob value").
						WithDetail("atomic_request", a.requestID).
						WithDetail("column", a.metadata.Columns[col].Name)
				}
				if id != "" {
					registered = append(registered, id)
				}
				out[col] = v
			}
			rows[i] = out
		}
		a.streamIDs = append(a.streamIDs, registered...)
	}

	msg := &ResultsMessage{
		RequestID:        a.requestID,
		Source:           a.source,
		Columns:          a.metadata.Columns,
		Rows:             rows,
		FirstRow:         a.nextRow,
		LastRow:          a.nextRow + len(rows) - 1,
		FinalRow:         batch.FinalRow,
		OutputParameters: batch.OutputParameters,
	}
	for _, w := range batch.Warnings {
		msg.Warnings = append(msg.Warnings, w.Error())
	}
	a.nextRow += len(rows)
	a.final = batch.IsFinal()
	return msg, nil
}

// lobValue returns the value to place in the row and the id of the stream
// registered for it, if any
func (a *Assembler) lobValue(ctx context.Context, v interface{}, dataType message.DataType) (interface{}, string, error) {
	var src lob.Source
	switch val := v.(type) {
	case nil:
		return nil, "", nil
	case LobReference:
		return val, "", nil
	case []byte:
		if a.inlines(len(val)) {
			return val, "", nil
		}
		src = lob.Bytes(val)
	case lob.Bytes:
		if a.inlines(len(val)) {
			return []byte(val), "", nil
		}
		src = val
	case string:
		if a.inlines(len(val)) {
			return val, "", nil
		}
		src = lob.Text(val)
	case lob.Text:
		if a.inlines(len(val)) {
			return string(val), "", nil
		}
		src = val
	case lob.Source:
		src = val
	default:
		return nil, "", errors.Newf(errors.ErrorTypeProcessing, "unsupported lob value of type %T", v)
	}

	if a.streams == nil {
		return nil, "", errors.New(errors.ErrorTypeInternal, "no lob stream registry configured")
	}
	id, err := a.streams.Register(ctx, src, dataType)
	if err != nil {
		return nil, "", err
	}
	return LobReference{StreamID: id, Type: dataType}, id, nil
}

func (a *Assembler) inlines(n int) bool {
	return a.inline > 0 && n <= a.inline
}
