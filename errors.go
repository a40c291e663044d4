package framing

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errors surfaced through the reader's error event or returned by its methods.
var (
	// ErrReaderClosed is returned by Write after Close.
	ErrReaderClosed = errors.New("reader closed")
	// ErrMalformedHeader is reported when the bytes at the head of the buffer
	// are not a Content-Length header. The offending bytes are dropped.
	ErrMalformedHeader = errors.New("malformed header")
	// ErrInvalidContentLength is reported when the header digits do not form
	// a non-negative decimal integer. The header is consumed.
	ErrInvalidContentLength = errors.New("invalid content length")
	// ErrHeaderTooLarge is reported when no header terminator shows up within
	// the configured maximum header size.
	ErrHeaderTooLarge = errors.New("header too large")
	// ErrMessageTooLarge is reported when a declared body length exceeds the
	// configured maximum. The body is skipped.
	ErrMessageTooLarge = errors.New("message too large")
)

// Errors returned by connection operations.
var (
	// ErrInvalidOnMessage is returned when no message handler is provided.
	ErrInvalidOnMessage = errors.New("invalid on message callback")
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
)

// DecodeError reports a body that could not be decoded. The frame it came
// from has already been dropped.
type DecodeError struct {
	Body []byte
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode body (%d bytes): %v", len(e.Body), e.Err)
}

// Unwrap returns the decoder error.
func (e *DecodeError) Unwrap() error { return e.Err }

// Cause implements the causer interface used by errors.Cause.
func (e *DecodeError) Cause() error { return e.Err }
