package framing

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Handler receives the messages of every connection accepted by a Server.
// Methods are called from the connection's own goroutine; calls for one
// connection never overlap.
type Handler interface {
	// HandleMessage is called for each decoded message. Returning an error
	// closes the connection.
	HandleMessage(id string, message Message) error
	// HandleError is called for malformed frames and transport errors.
	HandleError(id string, err error) ErrorAction
}

// Server accepts TCP connections and reads framed messages from each of them.
type Server struct {
	listener        *net.TCPListener
	logger          Logger
	shutdownTimeout time.Duration
	connOpts        []Option

	mu          sync.Mutex
	shutdown    bool
	conns       map[string]*Conn
	shutdownNow chan struct{} // signals immediate shutdown, bypassing timeout
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server and its connections.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerConnOption sets the reader and connection options applied to every
// accepted connection. Message and error callbacks come from the Handler.
func ServerConnOption(opts ...Option) ServerOption {
	return func(s *Server) {
		s.connOpts = append(s.connOpts, opts...)
	}
}

// ServerShutdownTimeoutOption sets the graceful shutdown timeout.
// When the context is canceled, the server keeps accepting and reading for up
// to this duration before it stops. Default is 0 (immediate shutdown).
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// New creates a new TCP server bound to the specified address.
// Returns an error if the address cannot be bound.
func New(addr *net.TCPAddr, opts ...ServerOption) (*Server, error) {
	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}

	s := &Server{
		listener:    listener,
		logger:      slog.Default(),
		conns:       make(map[string]*Conn),
		shutdownNow: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Serve accepts connections and reads each one until it ends. It blocks until
// the context is canceled, Close is called, or accepting fails, and then
// waits for every open connection to finish.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.logger.Info("server started", "addr", s.listener.Addr())

	connCtx, stopConns := context.WithCancel(context.WithoutCancel(ctx))
	var conns errgroup.Group
	defer func() {
		stopConns()
		_ = conns.Wait()
	}()

	go func() {
		select {
		case <-ctx.Done():
		case <-connCtx.Done():
			return
		}

		if s.shutdownTimeout > 0 {
			s.logger.Info("graceful shutdown initiated", "timeout", s.shutdownTimeout)
			select {
			case <-time.After(s.shutdownTimeout):
			case <-s.shutdownNow:
				s.logger.Debug("shutdown timeout bypassed via Close()")
			}
		}

		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		// Unblock Accept.
		_ = s.listener.SetDeadline(time.Now())
	}()

	for {
		tcpConn, err := s.listener.AcceptTCP()
		if err != nil {
			s.mu.Lock()
			isShutdown := s.shutdown
			s.mu.Unlock()

			if isShutdown {
				s.logger.Info("server stopped", "addr", s.listener.Addr())
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return nil
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept error", "error", err)
			return errors.Wrap(err, "accept")
		}

		_ = tcpConn.SetNoDelay(true)
		conn, id, err := s.newConn(tcpConn, handler)
		if err != nil {
			s.logger.Error("create connection", "error", err)
			_ = tcpConn.Close()
			continue
		}

		s.logger.Debug("accepted connection", "id", id, "remote_addr", tcpConn.RemoteAddr())
		conns.Go(func() error {
			defer s.untrack(id)
			_ = conn.Run(connCtx)
			return nil
		})
	}
}

func (s *Server) newConn(tcpConn *net.TCPConn, handler Handler) (*Conn, string, error) {
	id := uuid.NewString()

	opts := make([]Option, 0, len(s.connOpts)+3)
	opts = append(opts, LoggerOption(s.logger))
	opts = append(opts, s.connOpts...)
	opts = append(opts,
		OnMessageOption(func(m Message) error {
			return handler.HandleMessage(id, m)
		}),
		OnErrorOption(func(err error) ErrorAction {
			return handler.HandleError(id, err)
		}),
	)

	conn, err := NewConn(tcpConn, opts...)
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	s.conns[id] = conn
	s.mu.Unlock()
	return conn, id, nil
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

// Conns returns the number of open connections.
func (s *Server) Conns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close stops the server by closing the underlying listener.
// If a shutdown timeout is configured, Close() bypasses the remaining timeout.
// Serve then closes every open connection before returning.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	// Signal to bypass any pending shutdown timeout
	select {
	case s.shutdownNow <- struct{}{}:
	default:
	}

	return s.listener.Close()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
