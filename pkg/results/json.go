package results

import (
	"io"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/federate/pkg/errors"
)

// WriteJSON writes msg to w as one JSON document followed by a newline.
// Binary values are base64 encoded and LOB values appear as their stream
// reference.
func WriteJSON(w io.Writer, msg *ResultsMessage) error {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(msg); err != nil {
		return errors.Wrap(err, errors.ErrorTypeProcessing, "failed to encode results").
			WithDetail("atomic_request", msg.RequestID)
	}
	return nil
}

// ReadJSON decodes a message written by WriteJSON. Row values decode to
// their generic JSON form.
func ReadJSON(r io.Reader) (*ResultsMessage, error) {
	var msg ResultsMessage
	dec := gojson.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&msg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeProcessing, "failed to decode results")
	}
	return &msg, nil
}
