package dump

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/voklev/missive/pkg/migrations"
)

var (
	_ Journal      = (*Postgres)(nil)
	_ GlobalReader = (*Postgres)(nil)
	_ Trimmer      = (*Postgres)(nil)
)

//go:embed postgresmigrations/*.sql
var postgresMigrations embed.FS

// Postgres journals entries in a single table managed by goose migrations.
// The global order comes from a BIGINT identity column; per-stream appends
// are serialized with a transaction-scoped advisory lock keyed by stream ID.
type Postgres struct {
	db    *sql.DB
	mopts migrations.Options
}

type PostgresOption func(*Postgres)

// WithPostgresMigrations customizes the migration behavior, such as skipping
// migrations or providing a custom logger.
func WithPostgresMigrations(options migrations.Options) PostgresOption {
	return func(p *Postgres) {
		p.mopts = options
	}
}

const (
	qPostgresLockStream = "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))"
	qPostgresMaxSeq     = "SELECT COALESCE(MAX(seq), 0) FROM missive_dump_entries WHERE stream_id = $1"
	qPostgresInsert     = "INSERT INTO missive_dump_entries (stream_id, seq, direction, protocol, name, recorded_at, payload) VALUES ($1, $2, $3, $4, $5, $6, $7)"
	qPostgresRead       = "SELECT seq, global_seq, direction, protocol, name, recorded_at, payload FROM missive_dump_entries WHERE stream_id = $1 AND seq >= $2 AND ($3 = 0 OR seq <= $3) ORDER BY seq ASC"
	qPostgresReadAll    = "SELECT global_seq, seq, stream_id, direction, protocol, name, recorded_at, payload FROM missive_dump_entries WHERE global_seq >= $1 AND ($2 = 0 OR global_seq <= $2) ORDER BY global_seq ASC"
	qPostgresTrim       = "DELETE FROM missive_dump_entries WHERE stream_id = $1 AND seq <= $2"
)

// NewPostgres creates a PostgreSQL-backed journal. Upon initialization it
// runs goose migrations to ensure the missive_dump_entries table exists.
func NewPostgres(db *sql.DB, opts ...PostgresOption) (*Postgres, error) {
	journal := &Postgres{
		db: db,
		mopts: migrations.Options{
			SkipMigrations: false,
			Logger:         migrations.NopLogger(),
		},
	}

	for _, opt := range opts {
		opt(journal)
	}

	if journal.mopts.SkipMigrations {
		return journal, nil
	}

	if err := migrations.RunMigrations(migrations.Migrations{
		DB:      db,
		Fsys:    postgresMigrations,
		Logger:  journal.mopts.Logger,
		Dialect: "pgx",
		Dir:     "postgresmigrations",
	}); err != nil {
		return nil, fmt.Errorf("new postgres journal: %w", err)
	}

	return journal, nil
}

func (p *Postgres) Append(ctx context.Context, stream StreamID, raws Raws) (Seq, error) {
	if err := ctx.Err(); err != nil {
		return Zero, fmt.Errorf("append entries: %w", err)
	}
	if len(raws) == 0 {
		return Zero, fmt.Errorf("append entries: %w", ErrNoEntries)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return Zero, fmt.Errorf("append entries: begin transaction: %w", err)
	}

	//nolint:errcheck // not needed.
	defer tx.Rollback()

	// The advisory lock is released automatically when the transaction ends.
	if _, err := tx.ExecContext(ctx, qPostgresLockStream, string(stream)); err != nil {
		return Zero, fmt.Errorf("append entries: lock stream: %w", err)
	}

	var maxSeq uint64
	if err := tx.QueryRowContext(ctx, qPostgresMaxSeq, stream).Scan(&maxSeq); err != nil {
		return Zero, fmt.Errorf("append entries: query head: %w", err)
	}
	head := Seq(maxSeq)

	stmt, err := tx.PrepareContext(ctx, qPostgresInsert)
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

//nolint:dupl // I think it's better to keep them separate.
func (p *Postgres) Read(ctx context.Context, stream StreamID, sel Selector) Entries {
	return func(yield func(*Entry, error) bool) {
		rows, err := p.db.QueryContext(ctx, qPostgresRead, stream, sel.From, sel.To)
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

			var seq, globalSeq uint64
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

func (p *Postgres) ReadAll(ctx context.Context, sel Selector) Entries {
	return func(yield func(*Entry, error) bool) {
		rows, err := p.db.QueryContext(ctx, qPostgresReadAll, sel.From, sel.To)
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
func (p *Postgres) Trim(ctx context.Context, stream StreamID, upTo Seq) error {
	if _, err := p.db.ExecContext(ctx, qPostgresTrim, stream, upTo); err != nil {
		return fmt.Errorf("trim entries for stream '%s' up to seq %d: %w", stream, upTo, err)
	}
	return nil
}
