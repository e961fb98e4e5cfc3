package lob

import (
	"context"
)

// ChunkRequester pulls the chunks of a registered stream across a session
// boundary
type ChunkRequester interface {
	RequestNextLobChunk(ctx context.Context, streamID string) (*EncodedChunk, error)
	CloseLobChunkStream(ctx context.Context, streamID string) error
}

// RemoteProducer is a LobChunkProducer backed by a ChunkRequester
type RemoteProducer struct {
	ctx       context.Context
	requester ChunkRequester
	streamID  string
	codec     *Codec
	done      bool
	closed    bool
}

// NewRemoteProducer creates a producer for streamID decoding chunks with codec
func NewRemoteProducer(ctx context.Context, requester ChunkRequester, streamID string, codec *Codec) *RemoteProducer {
	return &RemoteProducer{ctx: ctx, requester: requester, streamID: streamID, codec: codec}
}

// GetNextChunk implements LobChunkProducer
func (p *RemoteProducer) GetNextChunk() (*LobChunk, error) {
	if p.closed {
		return nil, ErrStreamClosed
	}
	enc, err := p.requester.RequestNextLobChunk(p.ctx, p.streamID)
	if err != nil {
		return nil, err
	}
	chunk, err := p.codec.Decode(enc)
	if err != nil {
		return nil, err
	}
	if chunk != nil && chunk.Last {
		p.done = true
	}
	return chunk, nil
}

// Close implements LobChunkProducer. A stream that was not read to the end
// is closed on the remote side.
func (p *RemoteProducer) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.done {
		return nil
	}
	return p.requester.CloseLobChunkStream(p.ctx, p.streamID)
}
