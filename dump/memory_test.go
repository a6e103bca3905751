package dump_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voklev/missive/dump"
)

func TestMemory_ReadAll_WithTailing(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	journal := dump.NewMemory(dump.WithMemoryGlobalTailing())

	var wg sync.WaitGroup

	entriesChan := make(chan *dump.Entry, 10)

	initial := rawIn("InitialMsg", []byte(`{"id":1}`), time.Now())
	_, err := journal.Append(ctx, "stream-1", dump.Raws{initial})
	require.NoError(t, err, "Failed to append initial entry")

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(entriesChan)

		t.Log("Reader: Starting to iterate over entries...")

		// This loop will block automatically when it runs out of entries.
		for entry, err := range journal.ReadAll(ctx, dump.Selector{From: 1}) {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					t.Log("Reader: Context canceled, shutting down gracefully.")
					return
				}

				assert.NoError(t, err, "Iterator returned an unexpected error")
				return
			}

			t.Logf("Reader: Received entry with global seq %d", entry.GlobalSeq())

			entriesChan <- entry
		}
	}()

	// Give the reader a moment to start and process the first entry.
	time.Sleep(100 * time.Millisecond)

	// Append new entries with a delay.
	// The blocked reader should wake up and receive them
	t.Log("Main: Appending tailed entry 1...")
	tailed1 := dump.Raws{rawIn("TailedMsg1", []byte(`{"id":2}`), time.Now())}
	_, err = journal.Append(ctx, "stream-1", tailed1)
	require.NoError(t, err, "Failed to append tailed entry 1")

	time.Sleep(600 * time.Millisecond)

	t.Log("Main: Appending tailed entry 2...")
	tailed2 := dump.Raws{rawIn("TailedMsg2", []byte(`{"id":3}`), time.Now())}
	_, err = journal.Append(ctx, "stream-2", tailed2)
	require.NoError(t, err, "Failed to append tailed entry 2")

	// Give the reader a moment to process the final entry.
	time.Sleep(100 * time.Millisecond)

	t.Log("Main: All entries sent. Cancelling context to stop reader.")
	cancel()
	wg.Wait()
	t.Log("Main: Reader has shut down. Verifying results.")

	var received []*dump.Entry
	for entry := range entriesChan {
		received = append(received, entry)
	}

	require.Len(t, received, 3, "Expected to receive 3 entries")

	expectedNames := []string{"InitialMsg", "TailedMsg1", "TailedMsg2"}
	for i, name := range expectedNames {
		require.Equal(t, name, received[i].Name(),
			"Entry %d: expected name %q", i, name)
		require.Equal(t, dump.Seq(i+1), received[i].GlobalSeq(),
			"Entry %d: expected global seq %d", i, i+1)
	}

	// The tailed entry on stream-2 keeps its per-stream numbering.
	require.Equal(t, dump.StreamID("stream-2"), received[2].Stream())
	require.Equal(t, dump.Seq(1), received[2].Seq())

	t.Log("Test finished successfully!")
}
