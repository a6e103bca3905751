package dump

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

var (
	_ Journal      = new(Pebble)
	_ GlobalReader = new(Pebble)
	_ Trimmer      = new(Pebble)
)

var (
	entryKeyPrefix       = []byte("d/")
	headKeyPrefix        = []byte("h/")
	globalEntryKeyPrefix = []byte("gd/")
	globalHeadKey        = []byte("g_head")
)

// Stream and seq already live in the key, so the value carries the rest.
type pebbleEntryData struct {
	GlobalSeq  Seq       `json:"globalSeq"`
	Direction  Direction `json:"direction"`
	Protocol   string    `json:"protocol"`
	Name       string    `json:"name"`
	RecordedAt time.Time `json:"recordedAt"`
	Payload    []byte    `json:"payload"`
}

// pebbleGlobalEntryData backs the global index; the global seq is part of the
// key.
type pebbleGlobalEntryData struct {
	Stream     StreamID  `json:"stream"`
	Seq        Seq       `json:"seq"`
	Direction  Direction `json:"direction"`
	Protocol   string    `json:"protocol"`
	Name       string    `json:"name"`
	RecordedAt time.Time `json:"recordedAt"`
	Payload    []byte    `json:"payload"`
}

type Pebble struct {
	db *pebble.DB
	mu sync.Mutex
}

func NewPebble(db *pebble.DB) *Pebble {
	return &Pebble{
		db: db,
		mu: sync.Mutex{},
	}
}

func (p *Pebble) Append(ctx context.Context, stream StreamID, raws Raws) (Seq, error) {
	if err := ctx.Err(); err != nil {
		return Zero, fmt.Errorf("append entries: %w", err)
	}
	if len(raws) == 0 {
		return Zero, fmt.Errorf("append entries: %w", ErrNoEntries)
	}

	// The lock makes the read-heads-then-write sequence atomic.
	p.mu.Lock()
	defer p.mu.Unlock()

	head, err := p.getSeq(headKeyFor(stream))
	if err != nil {
		return Zero, fmt.Errorf("append entries: %w", err)
	}
	globalHead, err := p.getSeq(globalHeadKey)
	if err != nil {
		return Zero, fmt.Errorf("append entries: could not get global head: %w", err)
	}

	batch := p.db.NewBatch()
	defer batch.Close()

	for _, entry := range raws.ToEntries(stream, head, globalHead) {
		key := entryKeyFor(entry.Stream(), entry.Seq())
		value, err := json.Marshal(pebbleEntryData{
			GlobalSeq:  entry.GlobalSeq(),
			Direction:  entry.Direction(),
			Protocol:   entry.Protocol(),
			Name:       entry.Name(),
			RecordedAt: entry.RecordedAt(),
			Payload:    entry.Payload(),
		})
		if err != nil {
			return Zero, fmt.Errorf("append entries: could not marshal entry data: %w", err)
		}
		if err := batch.Set(key, value, pebble.NoSync); err != nil {
			return Zero, fmt.Errorf("append entries: could not add entry to batch: %w", err)
		}

		globalKey := globalEntryKeyFor(entry.GlobalSeq())
		globalValue, err := json.Marshal(pebbleGlobalEntryData{
			Stream:     entry.Stream(),
			Seq:        entry.Seq(),
			Direction:  entry.Direction(),
			Protocol:   entry.Protocol(),
			Name:       entry.Name(),
			RecordedAt: entry.RecordedAt(),
			Payload:    entry.Payload(),
		})
		if err != nil {
			return Zero, fmt.Errorf("append entries: could not marshal global entry data: %w", err)
		}
		if err := batch.Set(globalKey, globalValue, pebble.NoSync); err != nil {
			return Zero, fmt.Errorf("append entries: could not add global entry to batch: %w", err)
		}
	}

	newHead := head + Seq(len(raws))
	headValue := make([]byte, uint64sizeBytes)
	binary.BigEndian.PutUint64(headValue, uint64(newHead))
	if err := batch.Set(headKeyFor(stream), headValue, pebble.NoSync); err != nil {
		return Zero, fmt.Errorf("append entries: could not add head to batch: %w", err)
	}

	newGlobalHead := globalHead + Seq(len(raws))
	globalHeadValue := make([]byte, uint64sizeBytes)
	binary.BigEndian.PutUint64(globalHeadValue, uint64(newGlobalHead))
	if err := batch.Set(globalHeadKey, globalHeadValue, pebble.NoSync); err != nil {
		return Zero, fmt.Errorf("append entries: could not add global head to batch: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return Zero, fmt.Errorf("append entries: commit batch: %w", err)
	}

	return newHead, nil
}

func (p *Pebble) Read(ctx context.Context, stream StreamID, sel Selector) Entries {
	return func(yield func(*Entry, error) bool) {
		prefix := entryKeyPrefixFor(stream)

		upperBound := prefixEndKey(prefix)
		if sel.To > 0 {
			upperBound = entryKeyFor(stream, sel.To+1)
		}

		// Bounded iterator so only keys of this stream are scanned.
		//nolint:exhaustruct // Unnecessary.
		iter, err := p.db.NewIter(&pebble.IterOptions{
			LowerBound: entryKeyFor(stream, sel.From),
			UpperBound: upperBound,
		})
		if err != nil {
			yield(nil, fmt.Errorf("read entries: create iterator: %w", err))
			return
		}
		defer iter.Close()

		for iter.First(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			_, seq, err := parseEntryKey(iter.Key())
			if err != nil {
				yield(nil, fmt.Errorf("read entries: could not parse entry key: %w", err))
				return
			}

			var data pebbleEntryData
			if err := json.Unmarshal(iter.Value(), &data); err != nil {
				yield(nil, fmt.Errorf("read entries: could not unmarshal entry data: %w", err))
				return
			}

			entry := NewEntry(seq, data.GlobalSeq, stream,
				NewRaw(data.Direction, data.Protocol, data.Name, data.RecordedAt, data.Payload))

			if !yield(entry, nil) {
				return
			}
		}
		if err := iter.Error(); err != nil {
			yield(nil, fmt.Errorf("read entries: iterator error: %w", err))
		}
	}
}

func (p *Pebble) ReadAll(ctx context.Context, sel Selector) Entries {
	return func(yield func(*Entry, error) bool) {
		upperBound := prefixEndKey(globalEntryKeyPrefix)
		if sel.To > 0 {
			upperBound = globalEntryKeyFor(sel.To + 1)
		}

		//nolint:exhaustruct // Unnecessary.
		iter, err := p.db.NewIter(&pebble.IterOptions{
			LowerBound: globalEntryKeyFor(sel.From),
			UpperBound: upperBound,
		})
		if err != nil {
			yield(nil, fmt.Errorf("read all entries: create iterator: %w", err))
			return
		}
		defer iter.Close()

		for iter.First(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			globalSeq, err := parseGlobalEntryKey(iter.Key())
			if err != nil {
				yield(nil, fmt.Errorf("read all entries: could not parse global entry key: %w", err))
				return
			}

			var data pebbleGlobalEntryData
			if err := json.Unmarshal(iter.Value(), &data); err != nil {
				yield(nil, fmt.Errorf("read all entries: could not unmarshal global entry data: %w", err))
				return
			}

			entry := NewEntry(data.Seq, globalSeq, data.Stream,
				NewRaw(data.Direction, data.Protocol, data.Name, data.RecordedAt, data.Payload))

			if !yield(entry, nil) {
				return
			}
		}
		if err := iter.Error(); err != nil {
			yield(nil, fmt.Errorf("read all entries: iterator error: %w", err))
		}
	}
}

// Trim removes the stream's entries up to and including upTo from both the
// per-stream range and the global index. Heads are left untouched, so
// sequence numbers never regress.
func (p *Pebble) Trim(ctx context.Context, stream StreamID, upTo Seq) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("trim entries: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	//nolint:exhaustruct // Unnecessary.
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: entryKeyFor(stream, Zero),
		UpperBound: entryKeyFor(stream, upTo+1),
	})
	if err != nil {
		return fmt.Errorf("trim entries: create iterator: %w", err)
	}
	defer iter.Close()

	batch := p.db.NewBatch()
	defer batch.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var data pebbleEntryData
		if err := json.Unmarshal(iter.Value(), &data); err != nil {
			return fmt.Errorf("trim entries: could not unmarshal entry data: %w", err)
		}

		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		if err := batch.Delete(key, pebble.NoSync); err != nil {
			return fmt.Errorf("trim entries: could not delete entry: %w", err)
		}
		if err := batch.Delete(globalEntryKeyFor(data.GlobalSeq), pebble.NoSync); err != nil {
			return fmt.Errorf("trim entries: could not delete global entry: %w", err)
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("trim entries: iterator error: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("trim entries: commit batch: %w", err)
	}

	return nil
}

// parseEntryKey extracts the stream ID and seq from an entry key. It is
// robust against stream IDs that contain '/'.
func parseEntryKey(key []byte) (StreamID, Seq, error) {
	// Key structure: d/{stream}/[8-byte-seq]
	if !bytes.HasPrefix(key, entryKeyPrefix) {
		return "", 0, fmt.Errorf("invalid entry key prefix: %q", key)
	}
	if len(key) < len(entryKeyPrefix)+1+uint64sizeBytes+slashSizeBytes {
		return "", 0, fmt.Errorf("invalid entry key length: %q", key)
	}

	// Seq is the last 8 bytes.
	seqBytes := key[len(key)-uint64sizeBytes:]
	seq := Seq(binary.BigEndian.Uint64(seqBytes))

	// Stream is between the prefix and the final slash before the seq.
	streamBytes := key[len(entryKeyPrefix) : len(key)-uint64sizeBytes-slashSizeBytes]
	stream := StreamID(streamBytes)

	return stream, seq, nil
}

func parseGlobalEntryKey(key []byte) (Seq, error) {
	if !bytes.HasPrefix(key, globalEntryKeyPrefix) {
		return 0, fmt.Errorf("invalid global entry key prefix: %q", key)
	}
	if len(key) != len(globalEntryKeyPrefix)+uint64sizeBytes {
		return 0, fmt.Errorf("invalid global entry key length: %q", key)
	}
	seqBytes := key[len(globalEntryKeyPrefix):]
	return Seq(binary.BigEndian.Uint64(seqBytes)), nil
}

// prefixEndKey returns the key that immediately follows all keys with the
// given prefix.
func prefixEndKey(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (p *Pebble) getSeq(key []byte) (Seq, error) {
	value, closer, err := p.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Zero, nil
		}
		return Zero, fmt.Errorf("get head: %w", err)
	}
	defer closer.Close()

	return Seq(binary.BigEndian.Uint64(value)), nil
}

func headKeyFor(stream StreamID) []byte {
	return append(headKeyPrefix, []byte(stream)...)
}

func entryKeyPrefixFor(stream StreamID) []byte {
	return append(entryKeyPrefix, []byte(stream+"/")...)
}

const (
	uint64sizeBytes = 8
	slashSizeBytes  = 1
)

func entryKeyFor(stream StreamID, seq Seq) []byte {
	streamBytes := []byte(stream)
	key := make([]byte, 0, len(entryKeyPrefix)+len(streamBytes)+slashSizeBytes+uint64sizeBytes)
	key = append(key, entryKeyPrefix...)
	key = append(key, streamBytes...)
	key = append(key, '/')
	key = binary.BigEndian.AppendUint64(key, uint64(seq))
	return key
}

func globalEntryKeyFor(globalSeq Seq) []byte {
	key := make([]byte, 0, len(globalEntryKeyPrefix)+uint64sizeBytes)
	key = append(key, globalEntryKeyPrefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(globalSeq))
	return key
}
