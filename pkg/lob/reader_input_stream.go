package lob

import (
	"bufio"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding"

	"github.com/ajitpratap0/federate/pkg/errors"
)

// DefaultCharBufferSize is the number of characters encoded per refill
const DefaultCharBufferSize = 4096

// ReaderInputStream encodes character data from an io.Reader of UTF-8 text
// into bytes of another character set. Characters are encoded a bounded
// buffer at a time. An encoding that writes a prefix such as a byte order
// mark writes it only before the first buffer.
type ReaderInputStream struct {
	src      *bufio.Reader
	closer   io.Closer
	enc      encoding.Encoding
	runes    []byte
	maxRunes int
	out      []byte
	pos      int
	prefix   int
	started  bool
	eof      bool
	closed   bool
}

// NewReaderInputStream creates a stream encoding r with enc, bufferSize
// characters at a time
func NewReaderInputStream(r io.Reader, enc encoding.Encoding, bufferSize int) *ReaderInputStream {
	if bufferSize <= 0 {
		bufferSize = DefaultCharBufferSize
	}
	s := &ReaderInputStream{
		src:      bufio.NewReader(r),
		enc:      enc,
		maxRunes: bufferSize,
		prefix:   prefixLen(enc),
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// prefixLen measures the bytes an encoder writes once per encoding call:
// twice the encoding of one character minus the encoding of two.
func prefixLen(enc encoding.Encoding) int {
	one, err := enc.NewEncoder().Bytes([]byte("a"))
	if err != nil {
		return 0
	}
	two, err := enc.NewEncoder().Bytes([]byte("aa"))
	if err != nil {
		return 0
	}
	if n := 2*len(one) - len(two); n > 0 {
		return n
	}
	return 0
}

// refill encodes the next buffer of characters
func (s *ReaderInputStream) refill() error {
	s.runes = s.runes[:0]
	for n := 0; n < s.maxRunes; n++ {
		r, size, err := s.src.ReadRune()
		if err == io.EOF {
			s.eof = true
			break
		}
		if err != nil {
			return err
		}
		if r == utf8.RuneError && size == 1 {
			return errors.New(errors.ErrorTypeProtocol, "invalid utf-8 in character stream")
		}
		s.runes = utf8.AppendRune(s.runes, r)
	}
	if len(s.runes) == 0 {
		s.out, s.pos = nil, 0
		return nil
	}

	encoded, err := s.enc.NewEncoder().Bytes(s.runes)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeProtocol, "failed to encode characters")
	}
	if s.started && s.prefix > 0 && len(encoded) >= s.prefix {
		encoded = encoded[s.prefix:]
	}
	s.started = true
	s.out, s.pos = encoded, 0
	return nil
}

func (s *ReaderInputStream) fill() error {
	if s.closed {
		return ErrStreamClosed
	}
	for s.pos >= len(s.out) {
		if s.eof {
			return io.EOF
		}
		if err := s.refill(); err != nil {
			return err
		}
	}
	return nil
}

// ReadByte implements io.ByteReader
func (s *ReaderInputStream) ReadByte() (byte, error) {
	if err := s.fill(); err != nil {
		return 0, err
	}
	b := s.out[s.pos]
	s.pos++
	return b, nil
}

// Read implements io.Reader
func (s *ReaderInputStream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := s.fill(); err != nil {
		return 0, err
	}
	n := copy(p, s.out[s.pos:])
	s.pos += n
	return n, nil
}

// Close closes the underlying reader if it is an io.Closer
func (s *ReaderInputStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
