package message

import (
	"context"

	"github.com/zoobzio/capitan"
)

// Signals for message lifecycle events.
var (
	SignalRegistered = capitan.NewSignal("missive.message.registered", "Message type registered")
)

// Keys for typed event data. KeyMessage and KeyProtocol are also the keys of
// the pre-built attribution labels carried by every vtable.
var (
	KeyMessage  = capitan.NewStringKey("message")
	KeyProtocol = capitan.NewStringKey("protocol")
	KeyType     = capitan.NewStringKey("type")
)

// emitRegistered emits an event when a vtable is published.
func emitRegistered(ctx context.Context, vt *VTable) {
	capitan.Emit(ctx, SignalRegistered,
		KeyMessage.Field(vt.Name()),
		KeyProtocol.Field(vt.Protocol()),
		KeyType.Field(vt.TypeID().String()),
	)
}
