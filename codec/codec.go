// Package codec converts erased envelopes to self-describing wire frames and
// back. A frame carries the protocol qualified message name next to the
// payload bytes, so the receiving side resolves the capability table first
// and only then touches the payload.
package codec

import (
	"encoding/json"

	"github.com/voklev/missive/internal"
	"github.com/voklev/missive/message"
)

type CodecError string

const (
	ErrEncodeFrame    CodecError = "encode_frame"
	ErrEncodePayload  CodecError = "encode_payload"
	ErrDecodeFrame    CodecError = "decode_frame"
	ErrDecodePayload  CodecError = "decode_payload"
	ErrUnknownMessage CodecError = "unknown_message"
)

// Frame is the wire form of one envelope.
type Frame struct {
	Protocol string          `json:"protocol" msgpack:"protocol"`
	Name     string          `json:"name"     msgpack:"name"`
	Payload  json.RawMessage `json:"payload"  msgpack:"payload"`
}

// Custom marshaler and unmarshaler. Message types implementing these bypass
// the transcoder's payload format.
type Unmarshaler interface {
	UnmarshalMessage(data []byte) error
}

type Marshaler interface {
	MarshalMessage() ([]byte, error)
}

// Unmarshal fills v from data, honoring the Unmarshaler override and falling
// back to the process-wide default encoding.
func Unmarshal(data []byte, v message.Message) error {
	if customUnmarshal, ok := v.(Unmarshaler); ok {
		return customUnmarshal.UnmarshalMessage(data)
	}

	return internal.Config.Unmarshal(data, v)
}

// Marshal renders v, honoring the Marshaler override and falling back to the
// process-wide default encoding.
func Marshal(v message.Message) ([]byte, error) {
	if customMarshal, ok := v.(Marshaler); ok {
		return customMarshal.MarshalMessage()
	}

	return internal.Config.Marshal(v)
}
