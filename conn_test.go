package framing

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

// createTestTCPPair creates a connected pair of TCP connections for testing
func createTestTCPPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()

	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer listener.Close()

	clientChan := make(chan *net.TCPConn, 1)
	errChan := make(chan error, 1)
	go func() {
		conn, err := net.DialTCP("tcp", nil, listener.Addr().(*net.TCPAddr))
		if err != nil {
			errChan <- err
			return
		}
		clientChan <- conn
	}()

	serverConn, err := listener.AcceptTCP()
	if err != nil {
		t.Fatalf("failed to accept: %v", err)
	}

	select {
	case clientConn := <-clientChan:
		return serverConn, clientConn
	case err := <-errChan:
		serverConn.Close()
		t.Fatalf("client dial failed: %v", err)
		return nil, nil
	case <-time.After(5 * time.Second):
		serverConn.Close()
		t.Fatal("timeout waiting for client connection")
		return nil, nil
	}
}

// sliceSource replays fixed chunks and then reports io.EOF.
type sliceSource struct {
	chunks []string
	closed bool
}

func (s *sliceSource) Next() ([]byte, error) {
	if len(s.chunks) == 0 {
		return nil, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return []byte(c), nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

func runWithTimeout(t *testing.T, conn *Conn, ctx context.Context) error {
	t.Helper()

	done := make(chan error, 1)
	go func() {
		done <- conn.Run(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestNewConn_MissingOnMessage(t *testing.T) {
	_, err := NewConn(strings.NewReader(""))
	if err != ErrInvalidOnMessage {
		t.Errorf("expected ErrInvalidOnMessage, got %v", err)
	}

	_, err = NewSourceConn(&sliceSource{})
	if err != ErrInvalidOnMessage {
		t.Errorf("expected ErrInvalidOnMessage, got %v", err)
	}
}

func TestNewConn_WithAllOptions(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	conn, err := NewConn(serverConn,
		OnMessageOption(func(Message) error { return nil }),
		OnErrorOption(func(error) ErrorAction { return Continue }),
		BufferSizeOption(10),
		ReadSizeOption(128),
		HeartbeatOption(time.Minute),
		MessageMaxSize(2048),
		LoggerOption(DiscardLogger()),
	)
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}

	if conn.opts.bufferSize != 10 {
		t.Errorf("bufferSize = %d, want 10", conn.opts.bufferSize)
	}
	if cap(conn.chunks) != 10 {
		t.Errorf("chunk queue capacity = %d, want 10", cap(conn.chunks))
	}
	if conn.opts.heartbeat != time.Minute {
		t.Errorf("heartbeat = %v, want %v", conn.opts.heartbeat, time.Minute)
	}
	if conn.reader.maxBodySize != 2048 {
		t.Errorf("reader maxBodySize = %d, want 2048", conn.reader.maxBodySize)
	}
	if conn.Addr() != serverConn.RemoteAddr().String() {
		t.Errorf("Addr() = %q, want %q", conn.Addr(), serverConn.RemoteAddr())
	}
}

func TestConn_Run_TCP(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer serverConn.Close()

	var got []any
	conn, err := NewConn(serverConn,
		OnMessageOption(func(m Message) error {
			got = append(got, m.Value)
			return nil
		}),
		ReadSizeOption(7),
		LoggerOption(DiscardLogger()),
	)
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}

	go func() {
		wire := frame(`{"id":1}`) + "\r\n" + frame(`{"id":2}`) + frame(`"three"`)
		for len(wire) > 0 {
			n := min(5, len(wire))
			clientConn.Write([]byte(wire[:n]))
			wire = wire[n:]
		}
		clientConn.Close()
	}()

	if err := runWithTimeout(t, conn, context.Background()); err != nil {
		t.Fatalf("Run returned %v, want nil at end of stream", err)
	}

	want := []any{map[string]any{"id": 1.0}, map[string]any{"id": 2.0}, "three"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("messages = %#v, want %#v", got, want)
	}
	if !conn.IsClosed() {
		t.Error("connection should be closed after Run")
	}
}

func TestConn_Run_SourceClosedAfterDrain(t *testing.T) {
	src := &sliceSource{chunks: []string{"Content-Length: 2\r\n", "\r\n[]", frame(`7`)}}

	var got []any
	conn, err := NewSourceConn(src,
		OnMessageOption(func(m Message) error {
			got = append(got, m.Value)
			return nil
		}),
		LoggerOption(DiscardLogger()),
	)
	if err != nil {
		t.Fatalf("NewSourceConn failed: %v", err)
	}

	if err := runWithTimeout(t, conn, context.Background()); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if !reflect.DeepEqual(got, []any{[]any{}, 7.0}) {
		t.Errorf("messages = %#v", got)
	}
	if !src.closed {
		t.Error("source was not closed")
	}
}

func TestConn_Run_OnMessageError(t *testing.T) {
	handlerErr := errors.New("handler failed")

	calls := 0
	conn, err := NewConn(strings.NewReader(frame(`1`)+frame(`2`)+frame(`3`)),
		OnMessageOption(func(Message) error {
			calls++
			return handlerErr
		}),
		LoggerOption(DiscardLogger()),
	)
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}

	err = runWithTimeout(t, conn, context.Background())
	if !errors.Is(err, handlerErr) {
		t.Errorf("Run returned %v, want %v", err, handlerErr)
	}
	if calls != 1 {
		t.Errorf("onMessage called %d times, want 1", calls)
	}
}

func TestConn_Run_DecodeErrorDisconnects(t *testing.T) {
	var got []any
	conn, err := NewConn(strings.NewReader(frame(`{`)+frame(`1`)),
		OnMessageOption(func(m Message) error {
			got = append(got, m.Value)
			return nil
		}),
		LoggerOption(DiscardLogger()),
	)
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}

	err = runWithTimeout(t, conn, context.Background())
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("Run returned %v, want *DecodeError", err)
	}
	if len(got) != 0 {
		t.Errorf("messages after disconnect: %#v", got)
	}
}

func TestConn_Run_DecodeErrorContinue(t *testing.T) {
	var got []any
	var errs []error
	conn, err := NewConn(strings.NewReader(frame(`{`)+frame(`1`)+"junk junk junk junk"+frame(`2`)),
		OnMessageOption(func(m Message) error {
			got = append(got, m.Value)
			return nil
		}),
		OnErrorOption(func(err error) ErrorAction {
			errs = append(errs, err)
			return Continue
		}),
		LoggerOption(DiscardLogger()),
	)
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}

	if err := runWithTimeout(t, conn, context.Background()); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if !reflect.DeepEqual(got, []any{1.0, 2.0}) {
		t.Errorf("messages = %#v, want [1 2]", got)
	}
	if len(errs) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(errs), errs)
	}
	if !errors.Is(errs[1], ErrMalformedHeader) {
		t.Errorf("second error = %v, want ErrMalformedHeader", errs[1])
	}
}

func TestConn_Run_ContextCanceled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	conn, err := NewConn(pr,
		OnMessageOption(func(Message) error { return nil }),
		LoggerOption(DiscardLogger()),
	)
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err = runWithTimeout(t, conn, ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}

func TestConn_Close(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	received := make(chan struct{}, 1)
	conn, err := NewConn(pr,
		OnMessageOption(func(Message) error {
			received <- struct{}{}
			return nil
		}),
		LoggerOption(DiscardLogger()),
	)
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- conn.Run(context.Background())
	}()

	go pw.Write([]byte(frame(`{}`)))
	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}

	if err := conn.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	if err := conn.Run(context.Background()); err != ErrConnectionClosed {
		t.Errorf("Run after Close returned %v, want ErrConnectionClosed", err)
	}
}

func TestConn_Run_IdleTimeout(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	conn, err := NewConn(serverSide,
		OnMessageOption(func(Message) error { return nil }),
		HeartbeatOption(25*time.Millisecond),
		LoggerOption(DiscardLogger()),
	)
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}

	err = runWithTimeout(t, conn, context.Background())
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Errorf("Run returned %v, want a timeout", err)
	}
}

func TestConn_Run_IdlePipeDoesNotTimeOut(t *testing.T) {
	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer pw.Close()

	var got []any
	var errs []error
	conn, err := NewConn(pr,
		OnMessageOption(func(m Message) error {
			got = append(got, m.Value)
			return nil
		}),
		OnErrorOption(func(err error) ErrorAction {
			errs = append(errs, err)
			return Disconnect
		}),
		HeartbeatOption(10*time.Millisecond),
		LoggerOption(DiscardLogger()),
	)
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		pw.Write([]byte(frame(`"idle"`)))
		pw.Close()
	}()

	if err := runWithTimeout(t, conn, context.Background()); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
	if !reflect.DeepEqual(got, []any{"idle"}) {
		t.Errorf("messages = %#v, want [idle]", got)
	}
	if len(errs) != 0 {
		t.Errorf("errors = %v, want none", errs)
	}
}
