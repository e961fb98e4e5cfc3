// Package lob streams large object values as sequences of chunks pulled on
// demand.
//
// A LobChunkProducer yields chunks until one is marked last. A
// LobChunkInputStream turns a producer back into an io.Reader for the
// consumer; a StreamRegistry holds the producers of the LOB values of
// returned batches so that a remote client can pull them by stream id
// through a RemoteProducer.
package lob

import (
	"github.com/ajitpratap0/federate/pkg/errors"
)

// LobChunk is one piece of a LOB value. Last marks the final chunk.
type LobChunk struct {
	Bytes []byte
	Last  bool
}

// LobChunkProducer yields the chunks of one LOB value in order. After the
// chunk marked Last it is not called again.
type LobChunkProducer interface {
	GetNextChunk() (*LobChunk, error)
	Close() error
}

// ErrStreamClosed is returned when a closed stream is read
var ErrStreamClosed = errors.New(errors.ErrorTypeProtocol, "lob stream is closed")

func protocolError(msg string) *errors.Error {
	return errors.New(errors.ErrorTypeProtocol, msg)
}
