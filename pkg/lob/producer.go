package lob

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// DefaultChunkSize is the chunk size used when none is configured
const DefaultChunkSize = 100 * 1024

// ReaderProducer produces chunks of at most chunkSize bytes read from an
// io.Reader.
type ReaderProducer struct {
	r         *bufio.Reader
	closer    io.Closer
	chunkSize int
	done      bool
	closed    bool
}

// NewReaderProducer creates a producer over r. r is closed with the
// producer when it is an io.Closer.
func NewReaderProducer(r io.Reader, chunkSize int) *ReaderProducer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	p := &ReaderProducer{r: bufio.NewReaderSize(r, chunkSize), chunkSize: chunkSize}
	if c, ok := r.(io.Closer); ok {
		p.closer = c
	}
	return p
}

// GetNextChunk implements LobChunkProducer
func (p *ReaderProducer) GetNextChunk() (*LobChunk, error) {
	if p.closed {
		return nil, ErrStreamClosed
	}
	if p.done {
		return nil, protocolError("chunk requested after the last chunk")
	}

	buf := make([]byte, p.chunkSize)
	n, err := io.ReadFull(p.r, buf)
	switch err {
	case nil:
		if _, perr := p.r.Peek(1); perr == io.EOF {
			p.done = true
		} else if perr != nil {
			return nil, perr
		}
	case io.EOF, io.ErrUnexpectedEOF:
		p.done = true
	default:
		return nil, err
	}
	return &LobChunk{Bytes: buf[:n], Last: p.done}, nil
}

// Close implements LobChunkProducer
func (p *ReaderProducer) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}

// Source is a LOB-valued column value. Translators return Sources for blob
// and clob columns; the values are streamed instead of inlined.
type Source interface {
	// Open returns the value's content. Clob content is UTF-8 text.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context) (io.ReadCloser, error)

// Open implements Source
func (f SourceFunc) Open(ctx context.Context) (io.ReadCloser, error) {
	return f(ctx)
}

// Bytes is an in-memory blob value
type Bytes []byte

// Open implements Source
func (b Bytes) Open(_ context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

// Text is an in-memory clob value
type Text string

// Open implements Source
func (t Text) Open(_ context.Context) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(string(t))), nil
}

// ClobEncoding is the transfer encoding of clob values: UTF-16, big-endian,
// with a leading byte order mark
var ClobEncoding = unicode.UTF16(unicode.BigEndian, unicode.UseBOM)

// NewClobProducer creates a producer of the UTF-16 transfer encoding of the
// UTF-8 text read from r
func NewClobProducer(r io.Reader, chunkSize int) *ReaderProducer {
	chars := chunkSize / 2
	if chars <= 0 {
		chars = DefaultCharBufferSize
	}
	return NewReaderProducer(NewReaderInputStream(r, ClobEncoding, chars), chunkSize)
}
