package dump

import (
	"context"
	"errors"

	"github.com/avast/retry-go/v4"
)

var _ Journal = (*RetryJournal)(nil)

// RetryJournal retries failed appends against the wrapped journal. Capture
// sits on the hot path of message handling, so transient backend hiccups
// should not lose entries. By default, retries up to 3 times.
type RetryJournal struct {
	internal Journal
	opts     []retry.Option
}

func NewRetryJournal(journal Journal, opts ...retry.Option) *RetryJournal {
	return &RetryJournal{
		internal: journal,
		opts:     opts,
	}
}

func (r *RetryJournal) Append(ctx context.Context, stream StreamID, raws Raws) (Seq, error) {
	opts := append([]retry.Option{
		retry.Attempts(3),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			// Canceled contexts and empty batches never heal on retry.
			return !errors.Is(err, context.Canceled) && !errors.Is(err, ErrNoEntries)
		}),
	}, r.opts...)

	return retry.DoWithData(
		func() (Seq, error) {
			return r.internal.Append(ctx, stream, raws)
		},
		opts...,
	)
}

func (r *RetryJournal) Read(ctx context.Context, stream StreamID, sel Selector) Entries {
	return r.internal.Read(ctx, stream, sel)
}
