package testutils

import (
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"github.com/voklev/missive/dump"

	_ "github.com/jackc/pgx/v5/stdlib" // Import the pgx stdlib driver
	_ "github.com/mattn/go-sqlite3"
)

// Backends that need a running server join the suite through environment
// variables, so the default `go test` run stays self-contained.
const (
	EnvPostgresDSN = "MISSIVE_TEST_POSTGRES_DSN"
	EnvNATSURL     = "MISSIVE_TEST_NATS_URL"
)

type JournalCase struct {
	Name    string
	Journal dump.Journal
}

type GlobalJournalCase struct {
	Name    string
	Journal dump.GlobalJournal
}

// SetupJournals returns every journal backend available in this test
// environment. Memory, sqlite and pebble always run; postgres and NATS join
// when their environment variables are set.
func SetupJournals(t *testing.T) ([]JournalCase, func()) {
	t.Helper()

	globals, closeGlobals := SetupGlobalJournals(t)

	journals := make([]JournalCase, 0, len(globals)+1)
	for _, g := range globals {
		journals = append(journals, JournalCase{Name: g.Name, Journal: g.Journal})
	}

	closeNATS := func() {}
	if url := os.Getenv(EnvNATSURL); url != "" {
		nc, err := nats.Connect(url)
		require.NoError(t, err)

		natsJournal, err := dump.NewNATSJetStream(nc)
		require.NoError(t, err)

		journals = append(journals, JournalCase{
			Name:    "nats journal",
			Journal: natsJournal,
		})
		closeNATS = nc.Close
	}

	return journals, func() {
		closeNATS()
		closeGlobals()
	}
}

//nolint:dupl // not needed.
func SetupGlobalJournals(t *testing.T) ([]GlobalJournalCase, func()) {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "sqlite-*.db")
	require.NoError(t, err)

	sqliteDB, err := sql.Open("sqlite3", f.Name())
	require.NoError(t, err)

	sqliteJournal, err := dump.NewSqlite(sqliteDB)
	require.NoError(t, err)

	//nolint:exhaustruct // Defaults are fine for tests.
	pebbleDB, err := pebble.Open(t.TempDir(), &pebble.Options{})
	require.NoError(t, err)

	journals := []GlobalJournalCase{
		{
			Name:    "memory journal",
			Journal: dump.NewMemory(),
		},
		{
			Name:    "sqlite journal",
			Journal: sqliteJournal,
		},
		{
			Name:    "pebble journal",
			Journal: dump.NewPebble(pebbleDB),
		},
	}

	closePostgres := func() {}
	if dsn := os.Getenv(EnvPostgresDSN); dsn != "" {
		pg, err := sql.Open("pgx", dsn)
		require.NoError(t, err)

		postgresJournal, err := dump.NewPostgres(pg)
		require.NoError(t, err)

		journals = append(journals, GlobalJournalCase{
			Name:    "postgres journal",
			Journal: postgresJournal,
		})
		closePostgres = func() {
			require.NoError(t, pg.Close())
		}
	}

	return journals, func() {
		require.NoError(t, sqliteDB.Close())
		require.NoError(t, pebbleDB.Close())
		closePostgres()
	}
}

// UniqueStream returns a stream ID that is unique across test runs, so
// suites stay correct against shared backends that keep state between runs.
func UniqueStream(prefix string) dump.StreamID {
	return dump.StreamID(fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano()))
}

func CollectEntries(t *testing.T, entries dump.Entries) []*dump.Entry {
	t.Helper()
	collected, err := entries.Collect()
	require.NoError(t, err)

	return collected
}
