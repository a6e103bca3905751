package dump

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/voklev/missive/internal"
)

var _ Journal = new(WriterJournal)

// WriterJournal streams entries to an io.Writer, one encoded line per entry.
// It is the classic "dump file" sink: point it at a file and inspect the
// traffic later with standard line tools. The sink is write-only.
type WriterJournal struct {
	w          io.Writer
	heads      map[StreamID]Seq
	globalHead Seq
	mu         sync.Mutex
}

type writerLine struct {
	Stream     StreamID        `json:"stream"`
	Seq        Seq             `json:"seq"`
	GlobalSeq  Seq             `json:"global_seq"`
	Direction  string          `json:"direction"`
	Protocol   string          `json:"protocol"`
	Name       string          `json:"name"`
	RecordedAt time.Time       `json:"recorded_at"`
	Payload    json.RawMessage `json:"payload"`
}

func NewWriterJournal(w io.Writer) *WriterJournal {
	return &WriterJournal{
		w:     w,
		heads: make(map[StreamID]Seq),
	}
}

func (wj *WriterJournal) Append(ctx context.Context, stream StreamID, raws Raws) (Seq, error) {
	if err := ctx.Err(); err != nil {
		return Zero, fmt.Errorf("append entries: %w", err)
	}
	if len(raws) == 0 {
		return Zero, fmt.Errorf("append entries: %w", ErrNoEntries)
	}

	wj.mu.Lock()
	defer wj.mu.Unlock()

	head := wj.heads[stream]
	entries := raws.ToEntries(stream, head, wj.globalHead)

	for _, entry := range entries {
		data, err := internal.Config.Marshal(writerLine{
			Stream:     entry.Stream(),
			Seq:        entry.Seq(),
			GlobalSeq:  entry.GlobalSeq(),
			Direction:  string(entry.Direction()),
			Protocol:   entry.Protocol(),
			Name:       entry.Name(),
			RecordedAt: entry.RecordedAt(),
			Payload:    entry.Payload(),
		})
		if err != nil {
			return Zero, fmt.Errorf("encode entry line: %w", err)
		}

		data = append(data, '\n')
		if _, err := wj.w.Write(data); err != nil {
			return Zero, fmt.Errorf("write entry line: %w", err)
		}
	}

	wj.heads[stream] = head + Seq(len(raws))
	wj.globalHead += Seq(len(raws))

	return wj.heads[stream], nil
}

// Read always yields ErrReadUnsupported: lines handed to the writer are gone
// as far as this journal is concerned.
func (wj *WriterJournal) Read(_ context.Context, _ StreamID, _ Selector) Entries {
	return func(yield func(*Entry, error) bool) {
		yield(nil, fmt.Errorf("read entries: %w", ErrReadUnsupported))
	}
}
