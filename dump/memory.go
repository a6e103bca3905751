package dump

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

var (
	_ Journal      = new(Memory)
	_ GlobalReader = new(Memory)
	_ Trimmer      = new(Memory)
)

// Memory is an in-memory journal, the default for tests and single-process
// diagnostics.
type Memory struct {
	entries        map[StreamID][]*Entry
	heads          map[StreamID]Seq
	globalHead     Seq
	mu             sync.RWMutex
	tailingEnabled bool
	cond           *sync.Cond
}

type MemoryOption func(*Memory)

// WithMemoryGlobalTailing enables the subscription mode of ReadAll. The
// iterator first yields all historical entries and then blocks, yielding new
// entries as they are appended, until the context is canceled.
func WithMemoryGlobalTailing() MemoryOption {
	return func(m *Memory) {
		m.tailingEnabled = true
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	mem := &Memory{
		entries: make(map[StreamID][]*Entry),
		heads:   make(map[StreamID]Seq),
	}

	for _, opt := range opts {
		opt(mem)
	}

	// The condition variable shares the RWMutex so broadcasts happen under
	// the same lock that guards the entries.
	if mem.tailingEnabled {
		mem.cond = sync.NewCond(&mem.mu)
	}

	return mem
}

func (mem *Memory) Append(ctx context.Context, stream StreamID, raws Raws) (Seq, error) {
	if err := ctx.Err(); err != nil {
		return Zero, fmt.Errorf("append entries: %w", err)
	}
	if len(raws) == 0 {
		return Zero, fmt.Errorf("append entries: %w", ErrNoEntries)
	}

	mem.mu.Lock()
	defer mem.mu.Unlock()

	head := mem.heads[stream]
	mem.entries[stream] = append(mem.entries[stream], raws.ToEntries(stream, head, mem.globalHead)...)

	mem.heads[stream] = head + Seq(len(raws))
	mem.globalHead += Seq(len(raws))

	if mem.tailingEnabled {
		mem.cond.Broadcast()
	}

	return mem.heads[stream], nil
}

func (mem *Memory) Read(ctx context.Context, stream StreamID, sel Selector) Entries {
	return func(yield func(*Entry, error) bool) {
		mem.mu.RLock()
		defer mem.mu.RUnlock()

		entries, ok := mem.entries[stream]
		if !ok {
			return
		}

		for _, entry := range entries {
			if entry.Seq() < sel.From {
				continue
			}
			if sel.To > 0 && entry.Seq() > sel.To {
				break
			}
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

// ReadAll returns an iterator over every stream in global capture order. With
// WithMemoryGlobalTailing it keeps yielding as new entries arrive.
func (mem *Memory) ReadAll(ctx context.Context, sel Selector) Entries {
	if !mem.tailingEnabled {
		return mem.readAllOnce(ctx, sel)
	}
	return mem.subscribeAll(ctx, sel)
}

func (mem *Memory) readAllOnce(ctx context.Context, sel Selector) Entries {
	return func(yield func(*Entry, error) bool) {
		all := mem.collectAfter(Zero)

		for _, entry := range all {
			if entry.GlobalSeq() < sel.From {
				continue
			}
			if sel.To > 0 && entry.GlobalSeq() > sel.To {
				break
			}
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

// collectAfter snapshots every entry with a global position above lastSeen,
// sorted by global order.
func (mem *Memory) collectAfter(lastSeen Seq) []*Entry {
	mem.mu.RLock()
	all := make([]*Entry, 0)
	for _, entries := range mem.entries {
		for _, entry := range entries {
			if entry.GlobalSeq() > lastSeen {
				all = append(all, entry)
			}
		}
	}
	mem.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].GlobalSeq() < all[j].GlobalSeq()
	})
	return all
}

func (mem *Memory) subscribeAll(ctx context.Context, sel Selector) Entries {
	return func(yield func(*Entry, error) bool) {
		var lastSeen Seq
		if sel.From > 0 {
			lastSeen = sel.From - 1
		}

		for _, entry := range mem.collectAfter(lastSeen) {
			if sel.To > 0 && entry.GlobalSeq() > sel.To {
				break
			}
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(entry, nil) {
				return
			}
			lastSeen = entry.GlobalSeq()
		}

		if sel.To > 0 && lastSeen >= sel.To {
			return
		}

		// Wake the wait loop up when the context is canceled.
		if ctx.Done() != nil {
			go func() {
				<-ctx.Done()
				mem.cond.Broadcast()
			}()
		}

		for {
			mem.mu.Lock()
			for mem.globalHead <= lastSeen && ctx.Err() == nil {
				mem.cond.Wait()
			}
			mem.mu.Unlock()

			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			for _, entry := range mem.collectAfter(lastSeen) {
				if sel.To > 0 && entry.GlobalSeq() > sel.To {
					return
				}
				if !yield(entry, nil) {
					return
				}
				lastSeen = entry.GlobalSeq()
			}

			if sel.To > 0 && lastSeen >= sel.To {
				return
			}
		}
	}
}

// Trim drops all entries of the stream up to and including upTo. Trimming is
// how long-running processes keep their diagnostic footprint bounded.
func (mem *Memory) Trim(ctx context.Context, stream StreamID, upTo Seq) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	mem.mu.Lock()
	defer mem.mu.Unlock()

	entries, ok := mem.entries[stream]
	if !ok {
		return nil
	}

	n := 0
	for _, entry := range entries {
		if entry.Seq() > upTo {
			entries[n] = entry
			n++
		}
	}
	mem.entries[stream] = entries[:n]

	return nil
}
