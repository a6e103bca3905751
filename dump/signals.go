package dump

import (
	"context"

	"github.com/zoobzio/capitan"
)

// Signals for dump capture.
var (
	SignalRecorded = capitan.NewSignal("missive.dump.recorded", "Envelope captured into a journal")
	SignalSkipped  = capitan.NewSignal("missive.dump.skipped", "Envelope skipped by dumping policy")
)

// Keys for typed event data.
var (
	KeyStream    = capitan.NewStringKey("stream")
	KeyDirection = capitan.NewStringKey("direction")
	KeyProtocol  = capitan.NewStringKey("protocol")
	KeyName      = capitan.NewStringKey("name")
	KeySeq       = capitan.NewIntKey("seq")
)

func emitRecorded(ctx context.Context, stream StreamID, dir Direction, er *Erased, seq Seq) {
	capitan.Emit(ctx, SignalRecorded,
		KeyStream.Field(string(stream)),
		KeyDirection.Field(string(dir)),
		KeyProtocol.Field(er.Protocol()),
		KeyName.Field(er.Name()),
		//nolint:gosec // Sequence numbers stay far below the int boundary.
		KeySeq.Field(int(seq)),
	)
}

func emitSkipped(ctx context.Context, stream StreamID, dir Direction, protocol, name string) {
	capitan.Emit(ctx, SignalSkipped,
		KeyStream.Field(string(stream)),
		KeyDirection.Field(string(dir)),
		KeyProtocol.Field(protocol),
		KeyName.Field(name),
	)
}
