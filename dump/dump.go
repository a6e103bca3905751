// Package dump captures erased message traffic into append-only journals for
// diagnostics and audit. A [Recorder] snapshots envelopes as they cross a
// mailbox boundary, honoring each type's dumping permission; journals order
// the captures per stream and globally; a [Group] of auditors tails the
// global feed.
package dump

import (
	"context"
	"errors"
)

// StreamID names one dump stream, usually an actor or actor group.
type StreamID string

var (
	// ErrNoEntries is returned when an append carries nothing.
	ErrNoEntries = errors.New("empty entries")

	// ErrReadUnsupported is returned by write-only journals.
	ErrReadUnsupported = errors.New("journal does not support reads")
)

// Journal is an append-only store of dump entries, ordered per stream.
type Journal interface {
	// Append journals the captures at the end of the stream and returns the
	// stream's new head position.
	Append(ctx context.Context, stream StreamID, raws Raws) (Seq, error)

	// Read streams the entries of one stream within the selector's bounds.
	Read(ctx context.Context, stream StreamID, sel Selector) Entries
}

// GlobalReader is implemented by journals that can replay every stream in
// global capture order. Auditor groups require it.
type GlobalReader interface {
	ReadAll(ctx context.Context, sel Selector) Entries
}

// GlobalJournal is a journal with a global feed.
type GlobalJournal interface {
	Journal
	GlobalReader
}

// Trimmer is implemented by journals that support dropping old entries of a
// stream, for retention control.
type Trimmer interface {
	Trim(ctx context.Context, stream StreamID, upTo Seq) error
}
