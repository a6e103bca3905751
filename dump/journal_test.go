package dump_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voklev/missive/dump"
	"github.com/voklev/missive/internal/testutils"
)

func rawIn(name string, payload []byte, at time.Time) *dump.Raw {
	return dump.NewRaw(dump.DirIn, "net", name, at, payload)
}

// Test_AppendAndReadEntries_Successful tests the happy path of appending
// captures and reading them back, ensuring seq numbering continues across
// multiple appends.
func Test_AppendAndReadEntries_Successful(t *testing.T) {
	journals, closeDBs := testutils.SetupJournals(t)
	defer closeDBs()

	for _, jc := range journals {
		t.Run(jc.Name, func(t *testing.T) {
			stream := testutils.UniqueStream("stream-happy")
			ctx := t.Context()
			capturedAt := time.Now().UTC()

			raws1 := dump.Raws{
				rawIn("Ping", []byte(`{"a": 1}`), capturedAt),
				dump.NewRaw(dump.DirOut, "net", "Pong", capturedAt, []byte(`{"b": 2}`)),
			}
			head1, err := jc.Journal.Append(ctx, stream, raws1)
			require.NoError(t, err)
			require.Equal(t, dump.Seq(2), head1)

			read1 := testutils.CollectEntries(
				t,
				jc.Journal.Read(ctx, stream, dump.SelectFromBeginning),
			)
			require.Len(t, read1, 2)
			require.Equal(t, "Ping", read1[0].Name())
			require.Equal(t, dump.Seq(1), read1[0].Seq())
			require.Equal(t, dump.DirIn, read1[0].Direction())
			require.Equal(t, "net", read1[0].Protocol())
			require.Equal(t, []byte(`{"a": 1}`), read1[0].Payload())
			require.WithinDuration(t, capturedAt, read1[0].RecordedAt(), time.Second)
			require.Equal(t, "Pong", read1[1].Name())
			require.Equal(t, dump.Seq(2), read1[1].Seq())
			require.Equal(t, dump.DirOut, read1[1].Direction())

			raws2 := dump.Raws{
				rawIn("Ping", []byte(`{"c": 3}`), capturedAt),
			}
			head2, err := jc.Journal.Append(ctx, stream, raws2)
			require.NoError(t, err)
			require.Equal(t, dump.Seq(3), head2)

			// Read all entries back and verify the complete stream.
			all := testutils.CollectEntries(
				t,
				jc.Journal.Read(ctx, stream, dump.SelectFromBeginning),
			)
			require.Len(t, all, 3)
			require.Equal(t, dump.Seq(3), all[2].Seq())
			require.Equal(t, "Ping", all[2].Name())
			require.Equal(t, stream, all[2].Stream())
		})
	}
}

func Test_Append_EmptyEntries(t *testing.T) {
	journals, closeDBs := testutils.SetupJournals(t)
	defer closeDBs()

	for _, jc := range journals {
		t.Run(jc.Name, func(t *testing.T) {
			stream := testutils.UniqueStream("stream-empty")

			_, err := jc.Journal.Append(t.Context(), stream, dump.Raws{})
			require.ErrorIs(t, err, dump.ErrNoEntries)
		})
	}
}

// Test_ReadEntries_WithSelector tests reading a slice of a stream using the
// selector's bounds.
func Test_ReadEntries_WithSelector(t *testing.T) {
	journals, closeDBs := testutils.SetupJournals(t)
	defer closeDBs()

	for _, jc := range journals {
		t.Run(jc.Name, func(t *testing.T) {
			stream := testutils.UniqueStream("stream-selector")
			ctx := t.Context()
			now := time.Now().UTC()

			var raws dump.Raws
			for i := 1; i <= 5; i++ {
				raws = append(raws, rawIn(fmt.Sprintf("Msg%d", i), nil, now))
			}
			_, err := jc.Journal.Append(ctx, stream, raws)
			require.NoError(t, err)

			// Read entries starting from seq 3.
			entries := testutils.CollectEntries(
				t,
				jc.Journal.Read(ctx, stream, dump.Selector{From: 3}),
			)
			require.Len(t, entries, 3)
			require.Equal(t, dump.Seq(3), entries[0].Seq())
			require.Equal(t, "Msg3", entries[0].Name())
			require.Equal(t, dump.Seq(5), entries[2].Seq())

			// A bounded window: seqs 2 through 4.
			window := testutils.CollectEntries(
				t,
				jc.Journal.Read(ctx, stream, dump.Selector{From: 2, To: 4}),
			)
			require.Len(t, window, 3)
			require.Equal(t, dump.Seq(2), window[0].Seq())
			require.Equal(t, "Msg2", window[0].Name())
			require.Equal(t, dump.Seq(4), window[2].Seq())
			require.Equal(t, "Msg4", window[2].Name())
		})
	}
}

func Test_ReadEntries_UnknownStream(t *testing.T) {
	journals, closeDBs := testutils.SetupJournals(t)
	defer closeDBs()

	for _, jc := range journals {
		t.Run(jc.Name, func(t *testing.T) {
			entries := testutils.CollectEntries(
				t,
				jc.Journal.Read(t.Context(), testutils.UniqueStream("never-written"), dump.SelectFromBeginning),
			)
			require.Empty(t, entries)
		})
	}
}

// Test_Append_ContextCancellation verifies that Append respects context
// cancellation and aborts the operation.
func Test_Append_ContextCancellation(t *testing.T) {
	journals, closeDBs := testutils.SetupJournals(t)
	defer closeDBs()

	for _, jc := range journals {
		t.Run(jc.Name, func(t *testing.T) {
			stream := testutils.UniqueStream("stream-cancel")
			ctx, cancel := context.WithCancel(t.Context())

			cancel() // cancel the context

			raws := dump.Raws{rawIn("Ping", nil, time.Now())}
			_, err := jc.Journal.Append(ctx, stream, raws)

			require.Error(t, err)
			require.ErrorContains(t, err, context.Canceled.Error())
		})
	}
}

// Test_Trim verifies that trimming drops the old prefix of a stream while
// sequence numbering keeps growing afterward.
func Test_Trim(t *testing.T) {
	journals, closeDBs := testutils.SetupJournals(t)
	defer closeDBs()

	for _, jc := range journals {
		t.Run(jc.Name, func(t *testing.T) {
			trimmer, ok := jc.Journal.(dump.Trimmer)
			require.True(t, ok, "journal should support trimming")

			stream := testutils.UniqueStream("stream-trim")
			ctx := t.Context()
			now := time.Now().UTC()

			_, err := jc.Journal.Append(ctx, stream, dump.Raws{
				rawIn("Msg1", nil, now),
				rawIn("Msg2", nil, now),
				rawIn("Msg3", nil, now),
			})
			require.NoError(t, err)

			require.NoError(t, trimmer.Trim(ctx, stream, 2))

			remaining := testutils.CollectEntries(
				t,
				jc.Journal.Read(ctx, stream, dump.SelectFromBeginning),
			)
			require.Len(t, remaining, 1)
			require.Equal(t, dump.Seq(3), remaining[0].Seq())
			require.Equal(t, "Msg3", remaining[0].Name())

			// Numbering continues after the trim.
			head, err := jc.Journal.Append(ctx, stream, dump.Raws{rawIn("Msg4", nil, now)})
			require.NoError(t, err)
			require.Equal(t, dump.Seq(4), head)
		})
	}
}

// Test_Append_Concurrency ensures concurrent appends to one stream never
// produce duplicate or missing sequence numbers.
func Test_Append_Concurrency(t *testing.T) {
	journals, closeDBs := testutils.SetupJournals(t)
	defer closeDBs()

	for _, jc := range journals {
		t.Run(jc.Name, func(t *testing.T) {
			const (
				numGoroutines       = 10
				entriesPerGoroutine = 5
				totalEntries        = numGoroutines * entriesPerGoroutine
			)

			stream := testutils.UniqueStream("stream-concurrent")
			ctx := t.Context()
			now := time.Now().UTC()

			var wg sync.WaitGroup
			wg.Add(numGoroutines)

			for i := range numGoroutines {
				go func(gID int) {
					defer wg.Done()

					raws := dump.Raws{}
					for j := range entriesPerGoroutine {
						raws = append(raws, rawIn(fmt.Sprintf("Msg-g%d-e%d", gID, j), nil, now))
					}

					_, err := jc.Journal.Append(ctx, stream, raws)
					assert.NoError(t, err, "unexpected error during concurrent append")
				}(i)
			}

			wg.Wait()

			entries := testutils.CollectEntries(
				t,
				jc.Journal.Read(ctx, stream, dump.SelectFromBeginning),
			)
			require.Len(t, entries, totalEntries, "incorrect number of total entries written")

			seqs := make(map[dump.Seq]bool)
			for _, e := range entries {
				seqs[e.Seq()] = true
			}
			require.Len(t, seqs, totalEntries, "duplicate or missing seqs found")

			for i := 1; i <= totalEntries; i++ {
				require.True(t, seqs[dump.Seq(i)], "missing seq %d", i)
			}
		})
	}
}

func Test_ReadAllEntries(t *testing.T) {
	journals, closeDBs := testutils.SetupGlobalJournals(t)
	defer closeDBs()

	for _, jc := range journals {
		t.Run(jc.Name, func(t *testing.T) {
			ctx := t.Context()
			now := time.Now().UTC()

			fooStream := testutils.UniqueStream("foo")
			barStream := testutils.UniqueStream("bar")

			for i := range 10 {
				_, err := jc.Journal.Append(ctx, fooStream, dump.Raws{
					rawIn(fmt.Sprintf("Foo%d", i), []byte(`{"data":"value"}`), now),
				})
				require.NoError(t, err)
			}
			for i := range 10 {
				_, err := jc.Journal.Append(ctx, barStream, dump.Raws{
					rawIn(fmt.Sprintf("Bar%d", i), []byte(`{"data":"value"}`), now),
				})
				require.NoError(t, err)
			}

			// Shared backends may hold entries of other runs, so look only
			// at the streams this test wrote.
			var ours []*dump.Entry
			for entry, err := range jc.Journal.ReadAll(ctx, dump.SelectFromBeginning) {
				require.NoError(t, err)
				if entry.Stream() == fooStream || entry.Stream() == barStream {
					ours = append(ours, entry)
				}
			}

			require.Len(t, ours, 20)
			for i, entry := range ours {
				if i == 0 {
					continue
				}
				require.Greater(t, entry.GlobalSeq(), ours[i-1].GlobalSeq(),
					"global order must be strictly increasing")
			}

			// The append order was all foos, then all bars.
			for i := range 10 {
				require.Equal(t, fmt.Sprintf("Foo%d", i), ours[i].Name())
				require.Equal(t, fooStream, ours[i].Stream())
			}
			for i := range 10 {
				require.Equal(t, fmt.Sprintf("Bar%d", i), ours[10+i].Name())
				require.Equal(t, barStream, ours[10+i].Stream())
			}

			// Resuming after a checkpoint skips everything up to it.
			checkpoint := ours[14].GlobalSeq()
			var resumed []*dump.Entry
			for entry, err := range jc.Journal.ReadAll(ctx, dump.SelectAfter(checkpoint)) {
				require.NoError(t, err)
				if entry.Stream() == fooStream || entry.Stream() == barStream {
					resumed = append(resumed, entry)
				}
			}
			require.Len(t, resumed, 5)
			require.Equal(t, ours[15].GlobalSeq(), resumed[0].GlobalSeq())
		})
	}
}
