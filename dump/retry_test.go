package dump_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voklev/missive/dump"
	"github.com/voklev/missive/internal/testutils"
)

// flakyJournal fails the first failures appends, then delegates.
type flakyJournal struct {
	inner    dump.Journal
	failures int
	calls    int
}

func (f *flakyJournal) Append(ctx context.Context, stream dump.StreamID, raws dump.Raws) (dump.Seq, error) {
	f.calls++
	if f.calls <= f.failures {
		return dump.Zero, errors.New("backend hiccup")
	}
	return f.inner.Append(ctx, stream, raws)
}

func (f *flakyJournal) Read(ctx context.Context, stream dump.StreamID, sel dump.Selector) dump.Entries {
	return f.inner.Read(ctx, stream, sel)
}

func Test_RetryJournal_RecoversTransientFailure(t *testing.T) {
	inner := dump.NewMemory()
	flaky := &flakyJournal{inner: inner, failures: 2}
	journal := dump.NewRetryJournal(flaky)

	head, err := journal.Append(t.Context(), "stream-1", dump.Raws{
		rawIn("Ping", []byte(`{"id":1}`), time.Now()),
	})
	require.NoError(t, err)
	require.Equal(t, dump.Seq(1), head)
	assert.Equal(t, 3, flaky.calls, "two failures then one success")

	entries := testutils.CollectEntries(
		t,
		journal.Read(t.Context(), "stream-1", dump.SelectFromBeginning),
	)
	require.Len(t, entries, 1)
	assert.Equal(t, "Ping", entries[0].Name())
}

func Test_RetryJournal_GivesUpAfterAttempts(t *testing.T) {
	flaky := &flakyJournal{inner: dump.NewMemory(), failures: 10}
	journal := dump.NewRetryJournal(flaky)

	_, err := journal.Append(t.Context(), "stream-1", dump.Raws{
		rawIn("Ping", nil, time.Now()),
	})
	require.Error(t, err)
	require.ErrorContains(t, err, "backend hiccup")
	assert.Equal(t, 3, flaky.calls, "default attempt budget is 3")
}

func Test_RetryJournal_NoRetryOnEmptyAppend(t *testing.T) {
	flaky := &flakyJournal{inner: dump.NewMemory()}
	journal := dump.NewRetryJournal(flaky)

	_, err := journal.Append(t.Context(), "stream-1", dump.Raws{})
	require.ErrorIs(t, err, dump.ErrNoEntries)
	assert.Equal(t, 1, flaky.calls, "an empty append never heals, so no retry")
}

func Test_RetryJournal_NoRetryOnCanceledContext(t *testing.T) {
	flaky := &flakyJournal{inner: dump.NewMemory()}
	journal := dump.NewRetryJournal(flaky)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := journal.Append(ctx, "stream-1", dump.Raws{
		rawIn("Ping", nil, time.Now()),
	})
	require.Error(t, err)
	require.ErrorContains(t, err, context.Canceled.Error())
	assert.LessOrEqual(t, flaky.calls, 1, "a canceled context must not be retried")
}
