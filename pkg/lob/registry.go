package lob

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/logger"
	"github.com/ajitpratap0/federate/pkg/message"
	"github.com/ajitpratap0/federate/pkg/metrics"
)

type stream struct {
	producer LobChunkProducer
	dataType message.DataType
	created  time.Time
	mu       sync.Mutex
	served   int64
}

// StreamRegistry holds the producers of LOB values awaiting a client pull.
// A stream is removed once its last chunk is served or it is closed.
type StreamRegistry struct {
	mu        sync.Mutex
	streams   map[string]*stream
	chunkSize int
	codec     *Codec
	logger    *zap.Logger
}

// NewStreamRegistry creates a registry producing chunkSize chunks encoded
// with codec
func NewStreamRegistry(chunkSize int, codec *Codec) *StreamRegistry {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &StreamRegistry{
		streams:   make(map[string]*stream),
		chunkSize: chunkSize,
		codec:     codec,
		logger:    logger.Get().With(zap.String("component", "lob_registry")),
	}
}

// Codec returns the codec used for encoded chunks
func (r *StreamRegistry) Codec() *Codec {
	return r.codec
}

// Register opens src and registers a stream for it. Clob values are
// transferred in ClobEncoding.
func (r *StreamRegistry) Register(ctx context.Context, src Source, dataType message.DataType) (string, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeTranslator, "failed to open lob value").
			WithDetail("type", string(dataType))
	}
	var producer LobChunkProducer
	if dataType == message.TypeClob {
		producer = NewClobProducer(rc, r.chunkSize)
	} else {
		producer = NewReaderProducer(rc, r.chunkSize)
	}
	return r.RegisterProducer(producer, dataType), nil
}

// RegisterProducer registers producer and returns its stream id
func (r *StreamRegistry) RegisterProducer(producer LobChunkProducer, dataType message.DataType) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.streams[id] = &stream{producer: producer, dataType: dataType, created: time.Now()}
	r.mu.Unlock()
	metrics.OpenLobStreams.Inc()
	r.logger.Debug("lob stream registered", zap.String("stream_id", id), zap.String("type", string(dataType)))
	return id
}

// RequestNextChunk returns the next chunk of the stream
func (r *StreamRegistry) RequestNextChunk(ctx context.Context, streamID string) (*LobChunk, error) {
	r.mu.Lock()
	s, ok := r.streams[streamID]
	r.mu.Unlock()
	if !ok {
		return nil, errors.New(errors.ErrorTypeNotFound, "unknown lob stream").
			WithDetail("stream_id", streamID)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCancelled, "lob chunk request cancelled")
	}

	s.mu.Lock()
	chunk, err := s.producer.GetNextChunk()
	if err == nil && chunk == nil {
		err = protocolError("lob producer returned no chunk before the last one")
	}
	if err == nil {
		s.served += int64(len(chunk.Bytes))
	}
	served := s.served
	s.mu.Unlock()

	if err != nil {
		logger.FromContext(ctx, r.logger).Warn("lob stream failed", zap.String("stream_id", streamID), zap.Error(err))
		r.remove(streamID)
		return nil, err
	}

	metrics.LobChunksServed.Inc()
	metrics.LobBytesServed.Add(float64(len(chunk.Bytes)))
	if chunk.Last {
		r.logger.Debug("lob stream exhausted", zap.String("stream_id", streamID), zap.Int64("bytes", served))
		r.remove(streamID)
	}
	return chunk, nil
}

// RequestNextEncodedChunk returns the next chunk of the stream encoded for
// transfer
func (r *StreamRegistry) RequestNextEncodedChunk(ctx context.Context, streamID string) (*EncodedChunk, error) {
	chunk, err := r.RequestNextChunk(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if r.codec == nil {
		return &EncodedChunk{Payload: chunk.Bytes, Length: len(chunk.Bytes), Last: chunk.Last}, nil
	}
	return r.codec.Encode(chunk)
}

// CloseStream closes and removes the stream. Closing an unknown or
// finished stream is not an error.
func (r *StreamRegistry) CloseStream(_ context.Context, streamID string) error {
	return r.remove(streamID)
}

func (r *StreamRegistry) remove(streamID string) error {
	r.mu.Lock()
	s, ok := r.streams[streamID]
	delete(r.streams, streamID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	metrics.OpenLobStreams.Dec()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.producer.Close()
}

// Len returns the number of open streams
func (r *StreamRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// CloseAll closes every open stream
func (r *StreamRegistry) CloseAll() error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.streams))
	for id := range r.streams {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := r.remove(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
