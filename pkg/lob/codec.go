package lob

import (
	"github.com/ajitpratap0/federate/pkg/compression"
	"github.com/ajitpratap0/federate/pkg/errors"
)

// EncodedChunk is a LobChunk prepared for transfer. Length is the size of
// the uncompressed payload.
type EncodedChunk struct {
	Algorithm compression.Algorithm `json:"algorithm"`
	Payload   []byte                `json:"payload"`
	Length    int                   `json:"length"`
	Last      bool                  `json:"last"`
}

// minCompressSize is the smallest payload worth compressing
const minCompressSize = 512

// Codec compresses chunk payloads with one algorithm and decompresses any
// supported algorithm.
type Codec struct {
	algorithm compression.Algorithm
	pools     map[compression.Algorithm]*compression.CompressorPool
}

// NewCodec creates a codec compressing with algorithm at level
func NewCodec(algorithm compression.Algorithm, level compression.Level) (*Codec, error) {
	if _, err := compression.NewCompressor(&compression.Config{Algorithm: algorithm, Level: level}); err != nil {
		return nil, err
	}
	c := &Codec{
		algorithm: algorithm,
		pools:     make(map[compression.Algorithm]*compression.CompressorPool, len(compression.Algorithms)),
	}
	for _, a := range compression.Algorithms {
		lvl := compression.Default
		if a == algorithm {
			lvl = level
		}
		c.pools[a] = compression.NewCompressorPool(&compression.Config{Algorithm: a, Level: lvl})
	}
	return c, nil
}

// Algorithm returns the algorithm used by Encode
func (c *Codec) Algorithm() compression.Algorithm {
	return c.algorithm
}

// Encode prepares chunk for transfer. Small payloads are sent uncompressed.
func (c *Codec) Encode(chunk *LobChunk) (*EncodedChunk, error) {
	enc := &EncodedChunk{Algorithm: compression.None, Payload: chunk.Bytes, Length: len(chunk.Bytes), Last: chunk.Last}
	if c.algorithm == compression.None || len(chunk.Bytes) < minCompressSize {
		return enc, nil
	}
	payload, err := c.pools[c.algorithm].Compress(chunk.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeProtocol, "failed to compress lob chunk")
	}
	enc.Algorithm, enc.Payload = c.algorithm, payload
	return enc, nil
}

// Decode restores the chunk of enc
func (c *Codec) Decode(enc *EncodedChunk) (*LobChunk, error) {
	if enc == nil {
		return nil, nil
	}
	algorithm := enc.Algorithm
	if algorithm == "" {
		algorithm = compression.None
	}
	pool, ok := c.pools[algorithm]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeProtocol, "unknown lob chunk algorithm: %s", enc.Algorithm)
	}
	payload, err := pool.Decompress(enc.Payload)
	if err != nil {
		return nil, err
	}
	if len(payload) != enc.Length {
		return nil, errors.Newf(errors.ErrorTypeProtocol, "lob chunk length %d, expected %d", len(payload), enc.Length)
	}
	return &LobChunk{Bytes: payload, Last: enc.Last}, nil
}
