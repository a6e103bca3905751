package codec

import (
	"context"

	"github.com/DeluxeOwl/zerrors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/voklev/missive/internal"
	"github.com/voklev/missive/message"
)

// Transcoder encodes envelopes into frames of one wire format and decodes
// them back, resolving message types through a registry.
type Transcoder struct {
	registry  *message.Registry
	format    string
	marshal   func(v any) ([]byte, error)
	unmarshal func(data []byte, v any) error
}

type Option func(*Transcoder)

// WithRegistry restricts the set of decodable messages to the given
// registry. The default is [message.DefaultRegistry], accepting every
// registered type.
func WithRegistry(r *message.Registry) Option {
	return func(t *Transcoder) {
		t.registry = r
	}
}

// NewJSON returns a transcoder using the process-wide default encoding,
// which is JSON unless reconfigured.
func NewJSON(opts ...Option) *Transcoder {
	t := &Transcoder{
		registry: message.DefaultRegistry,
		format:   "json",
		marshal: func(v any) ([]byte, error) {
			return internal.Config.Marshal(v)
		},
		unmarshal: func(data []byte, v any) error {
			return internal.Config.Unmarshal(data, v)
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewMsgpack returns a transcoder producing msgpack frames, the compact
// choice for inter-node transport.
func NewMsgpack(opts ...Option) *Transcoder {
	t := &Transcoder{
		registry:  message.DefaultRegistry,
		format:    "msgpack",
		marshal:   msgpack.Marshal,
		unmarshal: msgpack.Unmarshal,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Format reports the transcoder's wire format name.
func (t *Transcoder) Format() string { return t.format }

// Encode renders the envelope's payload into a frame without consuming the
// envelope.
func (t *Transcoder) Encode(ctx context.Context, env *message.AnyMessage) ([]byte, error) {
	value, err := env.Unwrap()
	if err != nil {
		return nil, zerrors.New(ErrEncodeFrame).WithError(err)
	}

	payload, err := t.marshalPayload(value)
	if err != nil {
		return nil, zerrors.New(ErrEncodePayload).
			With("protocol", message.ProtocolOf(value)).
			With("name", message.NameOf(value)).
			WithError(err)
	}

	frame := Frame{
		Protocol: message.ProtocolOf(value),
		Name:     message.NameOf(value),
		Payload:  payload,
	}

	data, err := t.marshal(frame)
	if err != nil {
		return nil, zerrors.New(ErrEncodeFrame).With("name", frame.Name).WithError(err)
	}

	emitEncoded(ctx, t.format, &frame, len(data))
	return data, nil
}

// Decode rebuilds an envelope from a frame. The message type is resolved by
// protocol and name before the payload is parsed; unknown names fail without
// touching the payload.
func (t *Transcoder) Decode(ctx context.Context, data []byte) (*message.AnyMessage, error) {
	var frame Frame
	if err := t.unmarshal(data, &frame); err != nil {
		return nil, zerrors.New(ErrDecodeFrame).WithError(err)
	}

	vt, ok := t.registry.Lookup(frame.Protocol, frame.Name)
	if !ok {
		return nil, zerrors.New(ErrUnknownMessage).
			With("protocol", frame.Protocol).
			With("name", frame.Name)
	}

	env, err := vt.DecodeErased(func(v any) error {
		return t.unmarshalPayload(frame.Payload, v)
	})
	if err != nil {
		return nil, zerrors.New(ErrDecodePayload).
			With("protocol", frame.Protocol).
			With("name", frame.Name).
			WithError(err)
	}

	emitDecoded(ctx, t.format, &frame, len(data))
	return env, nil
}

func (t *Transcoder) marshalPayload(v message.Message) ([]byte, error) {
	if customMarshal, ok := v.(Marshaler); ok {
		return customMarshal.MarshalMessage()
	}
	return t.marshal(v)
}

func (t *Transcoder) unmarshalPayload(data []byte, v any) error {
	if customUnmarshal, ok := v.(Unmarshaler); ok {
		return customUnmarshal.UnmarshalMessage(data)
	}
	return t.unmarshal(data, v)
}
