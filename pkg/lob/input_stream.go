package lob

import (
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/ajitpratap0/federate/pkg/errors"
)

// LobChunkInputStream reads the bytes of a LOB value from its producer,
// fetching the next chunk only when the current one is exhausted. It is
// owned by a single reader and is not safe for concurrent use.
type LobChunkInputStream struct {
	producer LobChunkProducer
	buf      []byte
	pos      int
	last     bool
	closed   bool
	contents []byte
	drained  bool
}

// NewLobChunkInputStream creates a stream over producer
func NewLobChunkInputStream(producer LobChunkProducer) *LobChunkInputStream {
	return &LobChunkInputStream{producer: producer}
}

// fill makes sure unread bytes are buffered. It returns io.EOF after the
// last chunk without calling the producer again.
func (s *LobChunkInputStream) fill() error {
	if s.closed {
		return ErrStreamClosed
	}
	for s.pos >= len(s.buf) {
		if s.last {
			return io.EOF
		}
		chunk, err := s.producer.GetNextChunk()
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeProtocol, "failed to get next lob chunk")
		}
		if chunk == nil {
			return protocolError("lob producer returned no chunk before the last one")
		}
		s.buf, s.pos, s.last = chunk.Bytes, 0, chunk.Last
	}
	return nil
}

// ReadByte implements io.ByteReader
func (s *LobChunkInputStream) ReadByte() (byte, error) {
	if err := s.fill(); err != nil {
		return 0, err
	}
	b := s.buf[s.pos]
	s.pos++
	return b, nil
}

// Read implements io.Reader
func (s *LobChunkInputStream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		if s.closed {
			return 0, ErrStreamClosed
		}
		return 0, nil
	}
	if err := s.fill(); err != nil {
		return 0, err
	}
	n := copy(p, s.buf[s.pos:])
	s.pos += n
	return n, nil
}

// ByteContents reads the rest of the stream into memory and caches it;
// later calls return the cached bytes. The whole value is held in memory,
// so this is only suitable for values of known modest size.
func (s *LobChunkInputStream) ByteContents() ([]byte, error) {
	if s.drained {
		return s.contents, nil
	}
	contents, err := io.ReadAll(s)
	if err != nil {
		return nil, err
	}
	s.contents, s.drained = contents, true
	return contents, nil
}

// UTF16Reader decodes the stream as UTF-16 text. A byte order mark selects
// the byte order; without one big-endian is assumed. The producer must emit
// UTF-16 bytes.
func (s *LobChunkInputStream) UTF16Reader() io.Reader {
	dec := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder()
	return transform.NewReader(s, dec)
}

// Close closes the producer. It is safe to call more than once.
func (s *LobChunkInputStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.buf = nil
	return s.producer.Close()
}
