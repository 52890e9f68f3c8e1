package core

// streaming.go wraps source files so large exports can be read in one pass
// with constant memory:
//
//   - bomStripper drops a leading UTF-8 byte order mark
//   - utf8Sanitizer replaces invalid byte sequences with '?'
//   - countingReader tracks bytes consumed for progress logging
//
// wrapSource applies them in that order.

import (
	"bufio"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// bomStripper skips the UTF-8 BOM commonly written by Windows tools.
type bomStripper struct {
	r       *bufio.Reader
	checked bool
}

func newBOMStripper(r io.Reader) *bomStripper {
	return &bomStripper{r: bufio.NewReader(r)}
}

func (b *bomStripper) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true
		head, err := b.r.Peek(len(utf8BOM))
		if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
			return 0, err
		}
		if len(head) == len(utf8BOM) && head[0] == utf8BOM[0] && head[1] == utf8BOM[1] && head[2] == utf8BOM[2] {
			if _, err := b.r.Discard(len(utf8BOM)); err != nil {
				return 0, err
			}
		}
	}
	return b.r.Read(p)
}

// utf8Sanitizer rewrites invalid UTF-8 in place. A multi-byte sequence split
// across two reads is held back until the next read completes it.
type utf8Sanitizer struct {
	r      io.Reader
	carry  [utf8.UTFMax]byte
	ncarry int
}

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{r: r}
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) < utf8.UTFMax {
		return 0, io.ErrShortBuffer
	}

	n := copy(p, s.carry[:s.ncarry])
	s.ncarry = 0

	m, err := s.r.Read(p[n:])
	n += m
	if n == 0 {
		return 0, err
	}

	atEOF := err == io.EOF
	return s.sanitize(p[:n], atEOF), err
}

// sanitize compacts data in place and returns the number of bytes to hand
// out. Trailing bytes of an incomplete rune are kept in carry unless atEOF.
func (s *utf8Sanitizer) sanitize(data []byte, atEOF bool) int {
	w := 0
	for i := 0; i < len(data); {
		c := data[i]
		if c < utf8.RuneSelf {
			data[w] = c
			w++
			i++
			continue
		}
		if !atEOF && !utf8.FullRune(data[i:]) {
			s.ncarry = copy(s.carry[:], data[i:])
			return w
		}
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			data[w] = '?'
			w++
			i++
			continue
		}
		copy(data[w:], data[i:i+size])
		w += size
		i += size
	}
	return w
}

// countingReader tracks bytes read for progress logging.
type countingReader struct {
	r     io.Reader
	n     int64
	total int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Percent returns read progress in the range 0-100, or 0 when the total size
// is unknown.
func (c *countingReader) Percent() int {
	if c.total <= 0 {
		return 0
	}
	return int(c.n * 100 / c.total)
}

// wrapSource applies BOM stripping, UTF-8 sanitization and byte counting.
// BOM stripping must run first so the sanitizer never sees the mark.
func wrapSource(r io.Reader, size int64) *countingReader {
	return &countingReader{r: newUTF8Sanitizer(newBOMStripper(r)), total: size}
}
