package framing

import (
	"time"
)

// ErrorAction defines the action to take when an error occurs.
type ErrorAction int

const (
	// Disconnect stops the connection when an error occurs.
	Disconnect ErrorAction = iota
	// Continue drops the offending frame and keeps reading.
	Continue
)

// Default configuration values.
const (
	// defaultBufferSize is the number of chunks a Conn queues between its
	// read and dispatch loops.
	defaultBufferSize = 1
	// defaultReadSize is how many bytes a Conn asks its transport for per read.
	defaultReadSize = 32 * 1024
	// defaultHeartbeat sets the idle read deadline (heartbeat * 2).
	defaultHeartbeat = 30 * time.Second
)

// options holds the configuration for a reader or connection.
type options struct {
	decoder Decoder
	logger  Logger

	onMessage func(message Message) error
	// onError is called for every protocol, decode or transport error.
	// Returns Disconnect to close the connection, Continue to keep reading.
	onError func(error) ErrorAction

	chunkSize     int           // growth unit of the framing buffer
	maxHeaderSize int           // maximum buffered header bytes
	maxBodySize   int           // maximum declared body length, 0 for none
	bufferSize    int           // size of the chunk channel
	readSize      int           // bytes requested per transport read
	heartbeat     time.Duration // heartbeat interval for read deadlines
}

// Option is a function that configures reader and connection options.
type Option func(*options)

// setDefaults fills in everything a Reader needs.
func setDefaults(opts *options) {
	if opts.decoder == nil {
		opts.decoder = JSONDecoder{}
	}
	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
	if opts.chunkSize <= 0 {
		opts.chunkSize = DefaultChunkSize
	}
	if opts.maxHeaderSize <= 0 {
		opts.maxHeaderSize = DefaultMaxHeaderSize
	}
	if opts.maxBodySize < 0 {
		opts.maxBodySize = 0
	}
}

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options) error {
	setDefaults(opts)

	if opts.onMessage == nil {
		return ErrInvalidOnMessage
	}

	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}

	if opts.readSize <= 0 {
		opts.readSize = defaultReadSize
	}

	if opts.heartbeat <= 0 {
		opts.heartbeat = defaultHeartbeat
	}

	if opts.onError == nil {
		opts.onError = func(err error) ErrorAction { return Disconnect }
	}

	return nil
}

// DecoderOption returns an Option that sets the body decoder.
// JSONDecoder is used when not set.
func DecoderOption(decoder Decoder) Option {
	return func(o *options) {
		o.decoder = decoder
	}
}

// ChunkSizeOption returns an Option that sets the initial capacity of the
// framing buffer and the unit it grows by.
func ChunkSizeOption(size int) Option {
	return func(o *options) {
		o.chunkSize = size
	}
}

// HeaderMaxSize returns an Option that bounds the number of header bytes
// buffered while waiting for the blank line.
func HeaderMaxSize(size int) Option {
	return func(o *options) {
		o.maxHeaderSize = size
	}
}

// MessageMaxSize returns an Option that sets the maximum declared body length.
// Larger bodies are skipped and reported as ErrMessageTooLarge.
// Zero disables the limit.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxBodySize = size
	}
}

// BufferSizeOption returns an Option that sets how many inbound chunks a Conn
// queues between reading and parsing.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// ReadSizeOption returns an Option that sets the size of each transport read.
func ReadSizeOption(size int) Option {
	return func(o *options) {
		o.readSize = size
	}
}

// HeartbeatOption returns an Option that sets the heartbeat interval.
// Transports that support deadlines get a read deadline of heartbeat * 2.
func HeartbeatOption(heartbeat time.Duration) Option {
	return func(o *options) {
		o.heartbeat = heartbeat
	}
}

// OnErrorOption returns an Option that sets the error callback.
// The callback is invoked for malformed frames and transport read errors.
// Return Disconnect to close the connection, or Continue to keep reading.
func OnErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// OnMessageOption returns an Option that sets the message handler callback.
// It is required by connections and invoked for each decoded message in
// stream order. A non-nil error closes the connection.
func OnMessageOption(cb func(Message) error) Option {
	return func(o *options) {
		o.onMessage = cb
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
