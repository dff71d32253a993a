package core

// streaming.go wraps source files so the CSV reader sees clean UTF-8:
//
//   - a leading UTF-8 BOM (0xEF 0xBB 0xBF) from spreadsheet exports is dropped
//   - invalid UTF-8 bytes are replaced with '?' so a single bad byte never
//     fails a whole file
//   - bytes consumed are counted for ingest logging
//
// Memory use is bounded by the bufio buffer regardless of file size.

import (
	"bufio"
	"bytes"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// SanitizingReader yields valid UTF-8 from an arbitrary byte stream.
type SanitizingReader struct {
	br      *bufio.Reader
	started bool
	pending []byte
}

// NewSanitizingReader creates a BOM-skipping, UTF-8 sanitizing reader.
func NewSanitizingReader(r io.Reader) *SanitizingReader {
	return &SanitizingReader{br: bufio.NewReaderSize(r, 64*1024)}
}

// Read implements io.Reader.
func (s *SanitizingReader) Read(p []byte) (int, error) {
	if !s.started {
		s.started = true
		if head, _ := s.br.Peek(len(utf8BOM)); bytes.Equal(head, utf8BOM) {
			_, _ = s.br.Discard(len(utf8BOM))
		}
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]

	for n < len(p) {
		r, size, err := s.br.ReadRune()
		if err != nil {
			if n > 0 && err == io.EOF {
				return n, nil
			}
			return n, err
		}

		if r == utf8.RuneError && size == 1 {
			p[n] = '?'
			n++
			continue
		}

		var buf [utf8.UTFMax]byte
		w := utf8.EncodeRune(buf[:], r)
		c := copy(p[n:], buf[:w])
		n += c
		if c < w {
			s.pending = append(s.pending[:0], buf[c:w]...)
			break
		}
		if s.br.Buffered() == 0 && n > 0 {
			// Return what we have instead of blocking on the next fill.
			break
		}
	}
	return n, nil
}

// CountingReader tracks bytes read from the wrapped reader.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
}

// NewCountingReader wraps r.
func NewCountingReader(r io.Reader) *CountingReader {
	return &CountingReader{reader: r}
}

// Read implements io.Reader.
func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	c.BytesRead += int64(n)
	return n, err
}

// WrapSource applies counting beneath sanitizing so the count is raw file bytes.
func WrapSource(r io.Reader) (io.Reader, *CountingReader) {
	counter := NewCountingReader(r)
	return NewSanitizingReader(counter), counter
}
