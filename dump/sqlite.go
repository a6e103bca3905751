package dump

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

var (
	_ Journal      = new(Sqlite)
	_ GlobalReader = new(Sqlite)
	_ Trimmer      = new(Sqlite)
)

type Sqlite struct {
	db *sql.DB
	mu sync.Mutex
}

type SqliteOption func(*Sqlite)

func NewSqlite(db *sql.DB, opts ...SqliteOption) (*Sqlite, error) {
	journal := &Sqlite{
		db: db,
		mu: sync.Mutex{},
	}

	for _, o := range opts {
		o(journal)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS missive_dump_entries (
			global_seq  INTEGER PRIMARY KEY AUTOINCREMENT,
			stream_id   TEXT      NOT NULL,
			seq         INTEGER   NOT NULL,
			direction   TEXT      NOT NULL,
			protocol    TEXT      NOT NULL,
			name        TEXT      NOT NULL,
			recorded_at TIMESTAMP NOT NULL,
			payload     BLOB,
			UNIQUE (stream_id, seq)
		);`); err != nil {
		return nil, fmt.Errorf("new sqlite journal: create entries table failed: %w", err)
	}

	return journal, nil
}

func (s *Sqlite) Append(ctx context.Context, stream StreamID, raws Raws) (Seq, error) {
	if err := ctx.Err(); err != nil {
		return Zero, fmt.Errorf("append entries: %w", err)
	}
	if len(raws) == 0 {
		return Zero, fmt.Errorf("append entries: %w", ErrNoEntries)
	}

	// The lock serializes the read-head-then-insert sequence across appenders.
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Zero, fmt.Errorf("append entries: begin transaction: %w", err)
	}

	//nolint:errcheck // not needed.
	defer tx.Rollback()

	var maxSeq uint64
	if err := tx.QueryRowContext(
		ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM missive_dump_entries WHERE stream_id = ?",
		stream,
	).Scan(&maxSeq); err != nil {
		return Zero, fmt.Errorf("append entries: query head: %w", err)
	}
	head := Seq(maxSeq)

	stmt, err := tx.PrepareContext(
		ctx,
		"INSERT INTO missive_dump_entries (stream_id, seq, direction, protocol, name, recorded_at, payload) VALUES (?, ?, ?, ?, ?, ?, ?)",
	)
	if err != nil {
		return Zero, fmt.Errorf("append entries: prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, raw := range raws {
		//nolint:gosec // len(raws) fits in a sequence number.
		seq := head + Seq(i) + 1
		if _, err := stmt.ExecContext(
			ctx,
			stream,
			seq,
			string(raw.Direction()),
			raw.Protocol(),
			raw.Name(),
			raw.RecordedAt(),
			raw.Payload(),
		); err != nil {
			return Zero, fmt.Errorf("append entries: exec statement: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Zero, fmt.Errorf("append entries: commit transaction: %w", err)
	}

	return head + Seq(len(raws)), nil
}

func (s *Sqlite) Read(ctx context.Context, stream StreamID, sel Selector) Entries {
	return func(yield func(*Entry, error) bool) {
		rows, err := s.db.QueryContext(
			ctx,
			"SELECT seq, global_seq, direction, protocol, name, recorded_at, payload FROM missive_dump_entries WHERE stream_id = ? AND seq >= ? AND (? = 0 OR seq <= ?) ORDER BY seq ASC",
			stream,
			sel.From,
			sel.To,
			sel.To,
		)
		if err != nil {
			yield(nil, fmt.Errorf("read entries: query context: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			var seq, globalSeq uint64 // database/sql scans INTEGER into uint64.
			var direction, protocol, name string
			var recordedAt time.Time
			var payload []byte

			if err := rows.Scan(&seq, &globalSeq, &direction, &protocol, &name, &recordedAt, &payload); err != nil {
				yield(nil, fmt.Errorf("read entries: scan row: %w", err))
				return
			}

			entry := NewEntry(Seq(seq), Seq(globalSeq), stream,
				NewRaw(Direction(direction), protocol, name, recordedAt, payload))
			if !yield(entry, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("read entries: rows error: %w", err))
		}
	}
}

func (s *Sqlite) ReadAll(ctx context.Context, sel Selector) Entries {
	return func(yield func(*Entry, error) bool) {
		rows, err := s.db.QueryContext(
			ctx,
			"SELECT global_seq, seq, stream_id, direction, protocol, name, recorded_at, payload FROM missive_dump_entries WHERE global_seq >= ? AND (? = 0 OR global_seq <= ?) ORDER BY global_seq ASC",
			sel.From,
			sel.To,
			sel.To,
		)
		if err != nil {
			yield(nil, fmt.Errorf("read all entries: query context: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			var globalSeq, seq uint64
			var stream, direction, protocol, name string
			var recordedAt time.Time
			var payload []byte

			if err := rows.Scan(&globalSeq, &seq, &stream, &direction, &protocol, &name, &recordedAt, &payload); err != nil {
				yield(nil, fmt.Errorf("read all entries: scan row: %w", err))
				return
			}

			entry := NewEntry(Seq(seq), Seq(globalSeq), StreamID(stream),
				NewRaw(Direction(direction), protocol, name, recordedAt, payload))
			if !yield(entry, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("read all entries: rows error: %w", err))
		}
	}
}

// Trim permanently deletes the stream's entries up to and including upTo.
// Sequence numbers are derived from the remaining maximum, so trimming the
// whole stream restarts its numbering; trim only fully captured prefixes.
func (s *Sqlite) Trim(ctx context.Context, stream StreamID, upTo Seq) error {
	_, err := s.db.ExecContext(
		ctx,
		"DELETE FROM missive_dump_entries WHERE stream_id = ? AND seq <= ?",
		stream,
		upTo,
	)
	if err != nil {
		return fmt.Errorf("trim entries for stream '%s' up to seq %d: %w", stream, upTo, err)
	}
	return nil
}
