package framing

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// awaitingHeader is the pending length while no header has been parsed for
// the frame being assembled.
const awaitingHeader = -1

// Reader turns inbound byte chunks into decoded messages.
//
// Each Write appends a chunk and then extracts every complete frame that is
// buffered: header, then body, then decode, then the data event. A chunk may
// yield zero, one or many messages. Messages are emitted in stream order.
// Malformed frames are reported on the error event and dropped; the reader
// keeps going with the bytes that follow.
//
// Writes are serialised. Handlers run on the writing goroutine and must not
// call Write themselves; they may call Close.
type Reader struct {
	mu      sync.Mutex
	buf     *Buffer
	pending int // declared body length, or awaitingHeader
	skip    int // bytes of an oversized body still to drop

	decoder     Decoder
	logger      Logger
	maxBodySize int

	closed atomic.Bool
	data   listeners[Message]
	errs   listeners[error]
}

// NewReader creates a Reader in the awaiting-header state.
// Connection options (OnMessageOption, HeartbeatOption, ...) are ignored.
func NewReader(opt ...Option) *Reader {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	setDefaults(&opts)
	return newReaderWithOptions(opts)
}

func newReaderWithOptions(opts options) *Reader {
	buf := NewBuffer(opts.chunkSize)
	buf.maxHeaderSize = opts.maxHeaderSize
	return &Reader{
		buf:         buf,
		pending:     awaitingHeader,
		decoder:     opts.decoder,
		logger:      opts.logger,
		maxBodySize: opts.maxBodySize,
	}
}

// OnData registers fn to receive every decoded message.
// The returned function removes the registration.
func (r *Reader) OnData(fn func(Message)) (cancel func()) {
	return r.data.add(fn)
}

// OnError registers fn to receive malformed-frame and decode errors.
// The returned function removes the registration.
func (r *Reader) OnError(fn func(error)) (cancel func()) {
	return r.errs.add(fn)
}

// Write feeds one chunk of the inbound stream. It never blocks on I/O and
// always consumes all of p unless the reader is closed.
func (r *Reader) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return 0, ErrReaderClosed
	}
	r.buf.Append(p)
	r.drain()
	return len(p), nil
}

// WriteString feeds the UTF-8 bytes of s.
func (r *Reader) WriteString(s string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return 0, ErrReaderClosed
	}
	r.buf.AppendString(s)
	r.drain()
	return len(s), nil
}

// drain extracts frames until the buffered bytes run out.
func (r *Reader) drain() {
	for !r.closed.Load() {
		if r.skip > 0 {
			r.skip -= r.buf.Discard(r.skip)
			if r.skip > 0 {
				return
			}
			continue
		}

		if r.pending == awaitingHeader {
			n, ok, err := r.buf.TryReadHeader()
			if err != nil {
				r.fail(err)
				continue
			}
			if !ok {
				return
			}
			if r.maxBodySize > 0 && n > r.maxBodySize {
				r.skip = n
				r.fail(errors.Wrapf(ErrMessageTooLarge, "%d bytes, limit %d", n, r.maxBodySize))
				continue
			}
			r.pending = n
		}

		body, ok := r.buf.TryReadBody(r.pending)
		if !ok {
			return
		}
		r.pending = awaitingHeader

		value, err := r.decoder.Decode(body)
		if err != nil {
			r.fail(&DecodeError{Body: body, Err: err})
			continue
		}
		r.data.emit(Message{Raw: body, Value: value}, &r.closed)
	}

	// Closed from a handler: whatever is left belongs to no one.
	r.buf.Reset()
	r.pending = awaitingHeader
	r.skip = 0
}

func (r *Reader) fail(err error) {
	r.logger.Debug("dropping frame", "error", err)
	r.errs.emit(err, &r.closed)
}

// Pending returns the declared length of the body being assembled, or -1
// while waiting for a header.
func (r *Reader) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Buffered returns the number of received bytes not yet consumed.
func (r *Reader) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Len()
}

// Close detaches every handler and discards a partial frame. Safe to call
// multiple times and from inside a handler.
//
// Called from a handler, or from the goroutine that writes, no event fires
// after Close returns. Called from another goroutine while a Write is
// running, Close does not wait: a handler that already started finishes,
// and the partial frame is discarded when that Write returns.
func (r *Reader) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.data.clear()
	r.errs.clear()

	// The lock is held by a running Write, possibly the one calling us.
	if r.mu.TryLock() {
		r.buf.Reset()
		r.pending = awaitingHeader
		r.skip = 0
		r.mu.Unlock()
	}
	return nil
}

// IsClosed returns true if the reader has been closed.
func (r *Reader) IsClosed() bool {
	return r.closed.Load()
}

type listener[T any] struct {
	fn      func(T)
	removed atomic.Bool
}

// listeners is a multicast list of handlers. Emission works on a snapshot,
// so handlers may register or cancel while an event is being delivered.
type listeners[T any] struct {
	mu   sync.Mutex
	list []*listener[T]
}

func (l *listeners[T]) add(fn func(T)) func() {
	entry := &listener[T]{fn: fn}

	l.mu.Lock()
	l.list = append(l.list, entry)
	l.mu.Unlock()

	return func() {
		if entry.removed.Swap(true) {
			return
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, e := range l.list {
			if e == entry {
				l.list = append(l.list[:i:i], l.list[i+1:]...)
				return
			}
		}
	}
}

func (l *listeners[T]) emit(v T, closed *atomic.Bool) {
	l.mu.Lock()
	snapshot := l.list
	l.mu.Unlock()

	for _, e := range snapshot {
		if closed.Load() {
			return
		}
		if e.removed.Load() {
			continue
		}
		e.fn(v)
	}
}

func (l *listeners[T]) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.list {
		e.removed.Store(true)
	}
	l.list = nil
}
