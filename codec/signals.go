package codec

import (
	"context"

	"github.com/zoobzio/capitan"
)

// Signals for codec operations.
var (
	SignalEncoded = capitan.NewSignal("missive.codec.encoded", "Envelope encoded to a wire frame")
	SignalDecoded = capitan.NewSignal("missive.codec.decoded", "Wire frame decoded to an envelope")
)

// Keys for typed event data.
var (
	KeyFormat   = capitan.NewStringKey("format")
	KeyProtocol = capitan.NewStringKey("protocol")
	KeyName     = capitan.NewStringKey("name")
	KeySize     = capitan.NewIntKey("size")
)

func emitEncoded(ctx context.Context, format string, frame *Frame, size int) {
	capitan.Emit(ctx, SignalEncoded,
		KeyFormat.Field(format),
		KeyProtocol.Field(frame.Protocol),
		KeyName.Field(frame.Name),
		KeySize.Field(size),
	)
}

func emitDecoded(ctx context.Context, format string, frame *Frame, size int) {
	capitan.Emit(ctx, SignalDecoded,
		KeyFormat.Field(format),
		KeyProtocol.Field(frame.Protocol),
		KeyName.Field(frame.Name),
		KeySize.Field(size),
	)
}
