package framing

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// Message is one decoded frame.
type Message struct {
	// Raw holds the body bytes exactly as they arrived.
	Raw json.RawMessage
	// Value is what the Decoder produced from Raw.
	Value any
}

// Length returns the length of the message body.
func (m Message) Length() int {
	return len(m.Raw)
}

// Body returns the raw message data.
func (m Message) Body() []byte {
	return m.Raw
}

// Decode unmarshals the raw body into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Raw, v)
}

// Decoder turns a frame body into a structured value.
// The reader treats any error as a malformed message and drops the frame.
type Decoder interface {
	Decode(body []byte) (any, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(body []byte) (any, error)

// Decode calls f(body).
func (f DecoderFunc) Decode(body []byte) (any, error) {
	return f(body)
}

// JSONDecoder decodes bodies as a single JSON value into maps, slices and
// scalars. Trailing non-whitespace data is an error.
type JSONDecoder struct {
	// UseNumber keeps numbers as json.Number instead of float64.
	UseNumber bool
}

// Decode implements Decoder.
func (d JSONDecoder) Decode(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	if d.UseNumber {
		dec.UseNumber()
	}

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("invalid character after top-level value")
	}
	return v, nil
}
