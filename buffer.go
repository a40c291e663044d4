package framing

import (
	"bytes"
	"strconv"

	"github.com/pkg/errors"
)

// Default sizes for a Buffer.
const (
	// DefaultChunkSize is the initial capacity of a Buffer and the unit it grows by.
	DefaultChunkSize = 8192
	// DefaultMaxHeaderSize bounds how many header bytes are buffered while
	// waiting for the header terminator.
	DefaultMaxHeaderSize = 4096
)

var contentLengthPrefix = []byte("Content-Length: ")

// Buffer accumulates inbound bytes and cuts them into Content-Length frames.
//
// Bytes in data[:length] have been appended but not yet consumed. Consuming
// bytes shifts the remainder to the front of data; the backing array is never
// shrunk.
//
// A Buffer is not safe for concurrent use.
type Buffer struct {
	data          []byte
	length        int
	chunkSize     int
	maxHeaderSize int

	// resyncing is set after a malformed header. Bytes are then dropped
	// without further errors until the next header prefix shows up.
	resyncing bool
}

// NewBuffer returns an empty Buffer with chunkSize bytes of capacity.
// Capacity grows in multiples of chunkSize. A non-positive chunkSize selects
// DefaultChunkSize.
func NewBuffer(chunkSize int) *Buffer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Buffer{
		data:          make([]byte, chunkSize),
		chunkSize:     chunkSize,
		maxHeaderSize: DefaultMaxHeaderSize,
	}
}

// Append copies p to the end of the buffered bytes.
func (b *Buffer) Append(p []byte) {
	b.grow(len(p))
	b.length += copy(b.data[b.length:], p)
}

// AppendString copies the UTF-8 bytes of s to the end of the buffered bytes.
func (b *Buffer) AppendString(s string) {
	b.grow(len(s))
	b.length += copy(b.data[b.length:], s)
}

// grow makes room for n more bytes. The new capacity is the smallest multiple
// of the chunk size that holds everything.
func (b *Buffer) grow(n int) {
	need := b.length + n
	if need <= len(b.data) {
		return
	}
	size := (need + b.chunkSize - 1) / b.chunkSize * b.chunkSize
	grown := make([]byte, size)
	copy(grown, b.data[:b.length])
	b.data = grown
}

// TryReadHeader parses a "Content-Length: N\r\n\r\n" header at the front of
// the buffer, skipping leading spaces and line terminators.
//
// It returns ok == false with a nil error when the header is incomplete;
// nothing is consumed in that case. Once the terminator is seen the header
// bytes are consumed whether or not N parses. Extra "Name: value" lines
// between the Content-Length line and the blank line are skipped.
//
// Errors:
//   - ErrMalformedHeader: the bytes are not a Content-Length header, an
//     extra line has no colon, or another Content-Length line shows up
//     before the blank line. The
//     buffer drops bytes up to the next "Content-Length: ". Garbage that
//     keeps arriving before that prefix is dropped silently, so one run of
//     garbage yields one error.
//   - ErrInvalidContentLength: N is empty, not decimal, or out of range.
//   - ErrHeaderTooLarge: no terminator within the maximum header size.
func (b *Buffer) TryReadHeader() (int, bool, error) {
	if b.resyncing && !b.resync(0) {
		return 0, false, nil
	}

	pos := 0
	for pos < b.length && isHeaderFiller(b.data[pos]) {
		pos++
	}
	if b.length-pos < len(contentLengthPrefix) {
		return 0, false, nil
	}

	if !bytes.HasPrefix(b.data[pos:b.length], contentLengthPrefix) {
		got := string(preview(b.data[pos:b.length]))
		b.resync(pos + 1)
		return 0, false, errors.Wrapf(ErrMalformedHeader, "unexpected %q", got)
	}

	start := pos + len(contentLengthPrefix)
	cr := bytes.IndexByte(b.data[start:b.length], '\r')
	if cr < 0 {
		return 0, false, b.checkHeaderSize(pos)
	}
	cr += start

	end, ok, err := b.headerEnd(pos, cr)
	if !ok {
		return 0, false, err
	}

	n, err := parseContentLength(b.data[start:cr])
	b.consume(end)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// headerEnd locates the end of the header block whose first line ends at cr.
// It returns the offset just past the blank line.
func (b *Buffer) headerEnd(pos, cr int) (int, bool, error) {
	if cr+1 >= b.length {
		return 0, false, nil
	}
	if b.data[cr+1] != '\n' {
		b.consume(cr + 1)
		b.resyncing = true
		return 0, false, errors.Wrap(ErrMalformedHeader, "bare carriage return in header")
	}
	if cr+3 >= b.length {
		return 0, false, nil
	}
	if b.data[cr+2] == '\r' {
		if b.data[cr+3] != '\n' {
			b.consume(cr + 3)
			b.resyncing = true
			return 0, false, errors.Wrap(ErrMalformedHeader, "bare carriage return in header")
		}
		return cr + 4, true, nil
	}

	// More header lines follow, e.g. Content-Type.
	for line := cr + 2; ; {
		rest := b.data[line:b.length]
		eol := bytes.IndexByte(rest, '\r')
		text := rest
		if eol >= 0 {
			text = rest[:eol]
		}

		// A new header before the blank line means this one never ended.
		if idx := bytes.Index(text, contentLengthPrefix); idx >= 0 {
			b.consume(line + idx)
			return 0, false, errors.Wrap(ErrMalformedHeader, "header not terminated by a blank line")
		}
		if eol < 0 || eol+1 >= len(rest) {
			return 0, false, b.checkHeaderSize(pos)
		}
		if rest[eol+1] != '\n' {
			b.consume(line + eol + 1)
			b.resyncing = true
			return 0, false, errors.Wrap(ErrMalformedHeader, "bare carriage return in header")
		}
		if eol == 0 {
			return line + 2, true, nil
		}
		if bytes.IndexByte(text, ':') < 0 {
			got := string(preview(text))
			b.consume(line)
			b.resyncing = true
			return 0, false, errors.Wrapf(ErrMalformedHeader, "header line %q", got)
		}
		line += eol + 2
	}
}

// checkHeaderSize fails an unterminated header that starts at pos once it
// outgrows the limit. The prefix is dropped so the next read resynchronises.
func (b *Buffer) checkHeaderSize(pos int) error {
	if b.length-pos <= b.maxHeaderSize {
		return nil
	}
	size := b.length - pos
	b.consume(pos + len(contentLengthPrefix))
	b.resyncing = true
	return errors.Wrapf(ErrHeaderTooLarge, "%d bytes without terminator", size)
}

// TryReadBody removes the next n bytes and returns a copy of them. Line
// terminators directly after the body are dropped too. It returns false and
// consumes nothing when fewer than n bytes are buffered.
func (b *Buffer) TryReadBody(n int) ([]byte, bool) {
	if n < 0 || b.length < n {
		return nil, false
	}
	body := make([]byte, n)
	copy(body, b.data[:n])

	end := n
	for end < b.length && isLineTerminator(b.data[end]) {
		end++
	}
	b.consume(end)
	return body, true
}

// Discard drops up to n buffered bytes and reports how many were dropped.
func (b *Buffer) Discard(n int) int {
	if n > b.length {
		n = b.length
	}
	if n <= 0 {
		return 0
	}
	b.consume(n)
	return n
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int { return b.length }

// Cap returns the capacity of the backing storage.
func (b *Buffer) Cap() int { return len(b.data) }

// Bytes returns the buffered bytes. The slice is only valid until the next
// call that modifies the buffer.
func (b *Buffer) Bytes() []byte { return b.data[:b.length] }

// Reset drops all buffered bytes and keeps the storage.
func (b *Buffer) Reset() {
	b.length = 0
	b.resyncing = false
}

// consume compacts the first n bytes away.
func (b *Buffer) consume(n int) {
	copy(b.data, b.data[n:b.length])
	b.length -= n
}

// resync drops everything before the next header prefix at or after from and
// reports whether one was found. If there is none, only a tail that could
// still grow into a prefix is kept and the buffer stays in resync mode.
func (b *Buffer) resync(from int) bool {
	if idx := bytes.Index(b.data[from:b.length], contentLengthPrefix); idx >= 0 {
		b.consume(from + idx)
		b.resyncing = false
		return true
	}
	keep := min(len(contentLengthPrefix)-1, b.length-from)
	for ; keep > 0; keep-- {
		if bytes.HasPrefix(contentLengthPrefix, b.data[b.length-keep:b.length]) {
			break
		}
	}
	b.consume(b.length - keep)
	b.resyncing = true
	return false
}

// parseContentLength parses ASCII decimal digits. Trailing spaces and tabs
// are allowed.
func parseContentLength(digits []byte) (int, error) {
	digits = bytes.TrimRight(digits, " \t")
	if len(digits) == 0 {
		return 0, errors.Wrap(ErrInvalidContentLength, "empty")
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, errors.Wrapf(ErrInvalidContentLength, "%q", digits)
		}
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidContentLength, "%q out of range", digits)
	}
	return n, nil
}

func isHeaderFiller(c byte) bool {
	return c == ' ' || c == '\r' || c == '\n'
}

func isLineTerminator(c byte) bool {
	return c == '\r' || c == '\n'
}

func preview(p []byte) []byte {
	const size = 16
	if len(p) > size {
		return p[:size]
	}
	return p
}
