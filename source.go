package framing

import (
	"io"
	"time"
)

// Source delivers the inbound byte stream one chunk at a time.
// Next returns io.EOF once the stream has ended. A chunk returned by Next
// belongs to the caller.
type Source interface {
	Next() ([]byte, error)
}

// deadliner is implemented by transports that support read deadlines,
// such as net.Conn and *websocket.Conn.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// readerSource cuts an io.Reader into chunks of at most size bytes.
type readerSource struct {
	r    io.Reader
	size int
}

// NewReaderSource returns a Source reading up to size bytes per chunk from r.
// A non-positive size selects 32KB. If r is an io.Closer or supports read
// deadlines, the Source does too.
func NewReaderSource(r io.Reader, size int) Source {
	if size <= 0 {
		size = defaultReadSize
	}
	return &readerSource{r: r, size: size}
}

func (s *readerSource) Next() ([]byte, error) {
	for {
		p := make([]byte, s.size)
		n, err := s.r.Read(p)
		if n > 0 {
			// Hand the data over now; a sticky error comes back on the next call.
			return p[:n], nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (s *readerSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *readerSource) SetReadDeadline(t time.Time) error {
	if d, ok := s.r.(deadliner); ok {
		return d.SetReadDeadline(t)
	}
	return nil
}
