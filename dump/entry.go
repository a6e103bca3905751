package dump

import (
	"iter"
	"time"
)

// Direction records which side of an actor's mailbox an entry was captured
// on.
type Direction string

const (
	DirIn  Direction = "in"
	DirOut Direction = "out"
)

// Raw is one captured message before a journal assigns it a position: the
// message coordinates, the rendered payload and the capture time.
type Raw struct {
	direction  Direction
	protocol   string
	name       string
	recordedAt time.Time
	payload    []byte
}

func NewRaw(
	direction Direction,
	protocol string,
	name string,
	recordedAt time.Time,
	payload []byte,
) *Raw {
	return &Raw{
		direction:  direction,
		protocol:   protocol,
		name:       name,
		recordedAt: recordedAt,
		payload:    payload,
	}
}

func (r *Raw) Direction() Direction { return r.direction }

func (r *Raw) Protocol() string { return r.protocol }

func (r *Raw) Name() string { return r.name }

func (r *Raw) RecordedAt() time.Time { return r.recordedAt }

func (r *Raw) Payload() []byte { return r.payload }

type Raws []*Raw

func (rs Raws) All() iter.Seq[*Raw] {
	return func(yield func(*Raw) bool) {
		for _, r := range rs {
			if !yield(r) {
				return
			}
		}
	}
}

// ToEntries assigns stream positions to raw captures, continuing after
// lastSeq within the stream and after lastGlobal across the journal.
func (rs Raws) ToEntries(stream StreamID, lastSeq, lastGlobal Seq) []*Entry {
	entries := make([]*Entry, len(rs))
	for i, r := range rs {
		//nolint:gosec // len(rs) fits in a sequence number.
		offset := Seq(i) + 1
		entries[i] = NewEntry(lastSeq+offset, lastGlobal+offset, stream, r)
	}
	return entries
}

// Entry is one journaled capture: a Raw plus the stream it belongs to and
// its positions within that stream and across the whole journal.
type Entry struct {
	seq    Seq
	global Seq
	stream StreamID
	raw    Raw
}

func NewEntry(seq, global Seq, stream StreamID, raw *Raw) *Entry {
	return &Entry{
		seq:    seq,
		global: global,
		stream: stream,
		raw:    *raw,
	}
}

func (e *Entry) Seq() Seq { return e.seq }

func (e *Entry) GlobalSeq() Seq { return e.global }

func (e *Entry) Stream() StreamID { return e.stream }

func (e *Entry) Direction() Direction { return e.raw.direction }

func (e *Entry) Protocol() string { return e.raw.protocol }

func (e *Entry) Name() string { return e.raw.name }

func (e *Entry) RecordedAt() time.Time { return e.raw.recordedAt }

func (e *Entry) Payload() []byte { return e.raw.payload }

// PatternKey is the protocol qualified name auditors match their glob
// patterns against, e.g. "net/Ping".
func (e *Entry) PatternKey() string { return e.raw.protocol + "/" + e.raw.name }

// Entries streams journal entries in order; iteration stops at the first
// yielded error.
type Entries func(yield func(*Entry, error) bool)

// Collect drains the iterator into a slice, stopping at the first error.
func (es Entries) Collect() ([]*Entry, error) {
	var out []*Entry
	for entry, err := range es {
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}
