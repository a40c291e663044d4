// Package framing reads Content-Length framed messages from a byte stream.
//
// A frame is "Content-Length: N\r\n\r\n" followed by N body bytes; the body is
// decoded as JSON. Reader does the framing and decoding over arbitrarily
// chunked input. Conn drives a Reader from a transport, and Server does so for
// every accepted TCP connection.
package framing

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// errSourceDrained ends Run once every chunk of a finished stream has been
// parsed.
var errSourceDrained = errors.New("source drained")

// Conn pumps a transport into a Reader and hands the decoded messages to the
// OnMessageOption callback, one at a time and in stream order.
type Conn struct {
	src      Source
	deadline deadliner // nil when reads must not time out
	addr     string
	reader *Reader
	logger Logger

	opts options

	chunks chan []byte
	closed atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	failure error

	closeSrc sync.Once
	closeErr error
}

// NewConn creates a connection reading from r. If r is a net.Conn its remote
// address is used in logs, and reads get an idle deadline. Other readers,
// such as stdin, may stay idle forever.
// Returns ErrInvalidOnMessage if OnMessageOption is missing.
func NewConn(r io.Reader, opt ...Option) (*Conn, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	addr := ""
	if rc, ok := r.(interface{ RemoteAddr() net.Addr }); ok && rc.RemoteAddr() != nil {
		addr = rc.RemoteAddr().String()
	}

	c := newConnWithOptions(NewReaderSource(r, opts.readSize), addr, opts)
	// Only network peers get an idle deadline.
	if _, ok := r.(net.Conn); !ok {
		c.deadline = nil
	}
	return c, nil
}

// NewSourceConn creates a connection reading from src.
// Returns ErrInvalidOnMessage if OnMessageOption is missing.
func NewSourceConn(src Source, opt ...Option) (*Conn, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	return newConnWithOptions(src, "", opts), nil
}

// newConnWithOptions creates a new Conn with the given options.
func newConnWithOptions(src Source, addr string, opts options) *Conn {
	c := &Conn{
		src:    src,
		addr:   addr,
		reader: newReaderWithOptions(opts),
		logger: opts.logger,
		opts:   opts,
		chunks: make(chan []byte, opts.bufferSize),
	}
	if d, ok := src.(deadliner); ok {
		c.deadline = d
	}
	c.reader.OnData(c.handleMessage)
	c.reader.OnError(c.handleError)
	return c
}

// Run reads and parses until the stream ends, the context is canceled, or a
// callback asks to disconnect. The end of the stream is not an error.
// The transport is closed when Run returns.
func (c *Conn) Run(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	c.logger.Info("connection established", "addr", c.addr)
	c.logger.Debug("connection options", "addr", c.addr,
		"buffer_size", c.opts.bufferSize,
		"read_size", c.opts.readSize,
		"max_body_size", c.opts.maxBodySize,
		"heartbeat", c.opts.heartbeat)

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.readLoop(child)
	})

	group.Go(func() error {
		return c.dispatchLoop(child)
	})

	// A blocked read only returns once the transport is closed.
	group.Go(func() error {
		<-child.Done()
		_ = c.closeSource()
		return nil
	})

	err := group.Wait()
	c.closeConn()

	if errors.Is(err, errSourceDrained) {
		err = nil
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Info("connection closed with error", "addr", c.addr, "error", err)
	} else {
		c.logger.Info("connection closed", "addr", c.addr)
	}

	return err
}

// Close stops the connection and closes the transport.
// Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}

	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	_ = c.reader.Close()
	return c.closeSource()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Addr returns the remote address of the transport, or "" when unknown.
func (c *Conn) Addr() string {
	return c.addr
}

// readLoop pulls chunks from the transport and queues them for dispatch.
// Idle transports that support deadlines time out after heartbeat * 2.
func (c *Conn) readLoop(ctx context.Context) error {
	defer close(c.chunks)

	for {
		if c.deadline != nil {
			_ = c.deadline.SetReadDeadline(time.Now().Add(c.opts.heartbeat * 2))
		}

		chunk, err := c.src.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			c.logger.Debug("read error", "addr", c.addr, "error", err)
			var netErr net.Error
			if c.opts.onError(err) == Continue && errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return errors.Wrap(err, "read")
		}

		select {
		case c.chunks <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// dispatchLoop feeds queued chunks to the reader in arrival order.
func (c *Conn) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-c.chunks:
			if !ok {
				return errSourceDrained
			}

			_, err := c.reader.Write(chunk)
			if failure := c.failed(); failure != nil {
				return failure
			}
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
		}
	}
}

func (c *Conn) handleMessage(message Message) {
	if err := c.opts.onMessage(message); err != nil {
		c.fail(err)
	}
}

func (c *Conn) handleError(err error) {
	c.logger.Debug("frame error", "addr", c.addr, "error", err)
	if c.opts.onError(err) == Disconnect {
		c.fail(err)
	}
}

// fail records the first callback error and stops further deliveries.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.failure == nil {
		c.failure = err
	}
	c.mu.Unlock()
	_ = c.reader.Close()
}

func (c *Conn) failed() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

func (c *Conn) closeSource() error {
	c.closeSrc.Do(func() {
		if closer, ok := c.src.(io.Closer); ok {
			c.closeErr = closer.Close()
		}
	})
	return c.closeErr
}

// closeConn marks the connection as closed and releases the transport.
func (c *Conn) closeConn() {
	c.closed.Store(true)
	_ = c.reader.Close()
	_ = c.closeSource()
}
