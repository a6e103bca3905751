package dump

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/voklev/missive/codec"
	"github.com/voklev/missive/message"
	"github.com/voklev/missive/pkg/timeutils"
)

// Recorder is the capture side of dumping: it snapshots envelopes crossing a
// mailbox boundary and appends them to a journal. Message types registered
// with dumping disabled are skipped silently; skipping is policy, not
// failure.
type Recorder struct {
	journal Journal
	clock   timeutils.TimeProvider
	log     *slog.Logger
}

type RecorderOption func(*Recorder)

// WithRecorderClock swaps the time source used to stamp captures.
func WithRecorderClock(clock timeutils.TimeProvider) RecorderOption {
	return func(r *Recorder) {
		r.clock = clock
	}
}

// WithRecorderSlogHandler sets the recorder's log destination. A nil handler
// silences it.
func WithRecorderSlogHandler(handler slog.Handler) RecorderOption {
	return func(r *Recorder) {
		if handler == nil {
			r.log = slog.New(slog.DiscardHandler)
			return
		}
		r.log = slog.New(handler)
	}
}

func NewRecorder(journal Journal, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		journal: journal,
		clock:   timeutils.NewRealTimeProvider(),
		log:     slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Record captures one envelope into the stream and returns the stream's new
// head position. A capture skipped by dumping policy returns Zero with no
// error. The envelope is never consumed.
//
// Record holds the policy side of dumping: the type's permission is checked
// here, before the unconditional [Erase] mechanism runs.
func (r *Recorder) Record(
	ctx context.Context,
	stream StreamID,
	dir Direction,
	env *message.AnyMessage,
) (Seq, error) {
	vt, err := message.VTableOf(env)
	if err != nil {
		return Zero, fmt.Errorf("record dump: %w", err)
	}

	if !vt.DumpingAllowed() {
		r.log.DebugContext(ctx, "dump skipped by policy",
			"stream", string(stream),
			"message", vt.Name(),
		)
		emitSkipped(ctx, stream, dir, vt.Protocol(), vt.Name())
		return Zero, nil
	}

	er, err := Erase(env)
	if err != nil {
		return Zero, fmt.Errorf("record dump: %w", err)
	}

	payload, err := codec.Marshal(er.Value())
	if err != nil {
		return Zero, fmt.Errorf("record dump: render payload: %w", err)
	}

	raw := NewRaw(dir, er.Protocol(), er.Name(), r.clock.Now(), payload)

	seq, err := r.journal.Append(ctx, stream, Raws{raw})
	if err != nil {
		return Zero, fmt.Errorf("record dump: %w", err)
	}

	r.log.DebugContext(ctx, "dump recorded",
		"stream", string(stream),
		"direction", string(dir),
		"message", er.Name(),
		"seq", uint64(seq),
	)
	emitRecorded(ctx, stream, dir, er, seq)

	return seq, nil
}
