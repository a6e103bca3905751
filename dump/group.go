package dump

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
)

// Auditor processes journaled entries asynchronously, e.g. to feed alerting,
// invariant checks or protocol analyzers.
type Auditor interface {
	Name() string
	// Patterns returns a slice of glob patterns to match against entry
	// pattern keys. For example: "net/Ping", "net/*", or "*" for all
	// entries.
	Patterns() []string
	Audit(ctx context.Context, entry *Entry) error
}

// Checkpointer persists how far each auditor has read into the journal.
type Checkpointer interface {
	GetCheckpoint(ctx context.Context, auditorName string) (Seq, error)
	SaveCheckpoint(ctx context.Context, auditorName string, seq Seq) error
}

type OnSaveCheckpointErrFunc = func(ctx context.Context, err error) error

// Group runs a set of auditors against a journal's global feed, each at its
// own pace with its own checkpoint.
type Group struct {
	journal      GlobalReader
	checkpointer Checkpointer

	// configurable
	pollInterval            time.Duration
	cancelCheckpointTimeout time.Duration
	log                     *slog.Logger
	onSaveCheckpointErrFunc OnSaveCheckpointErrFunc

	managedAuditors []managedAuditor
	wg              *errgroup.Group `exhaustruct:"optional"`
}

type GroupOption func(*Group)

func WithPollInterval(interval time.Duration) GroupOption {
	return func(g *Group) {
		g.pollInterval = interval
	}
}

func WithCancelCheckpointTimeout(timeout time.Duration) GroupOption {
	return func(g *Group) {
		g.cancelCheckpointTimeout = timeout
	}
}

func WithSlogHandler(handler slog.Handler) GroupOption {
	return func(g *Group) {
		if handler == nil {
			g.log = slog.New(slog.DiscardHandler)
			return
		}
		g.log = slog.New(handler)
	}
}

func WithOnSaveCheckpointErrFunc(errFunc OnSaveCheckpointErrFunc) GroupOption {
	return func(g *Group) {
		if errFunc == nil {
			return
		}
		g.onSaveCheckpointErrFunc = errFunc
	}
}

type managedAuditor struct {
	auditor    Auditor
	patterns   []string
	matchesAll bool // Optimization for the "*" pattern.
}

// isInterested checks if an auditor should handle a given pattern key.
// Pattern keys contain a '/', which filepath.Match treats as a separator, so
// a bare "*" only works through the matchesAll shortcut.
func (ma *managedAuditor) isInterested(patternKey string) bool {
	if ma.matchesAll {
		return true
	}
	for _, pattern := range ma.patterns {
		// We can safely ignore the error from filepath.Match because we
		// validate all patterns when the Group is created in NewGroup. A
		// malformed pattern is a startup-time error, not a runtime one.
		if matched, _ := filepath.Match(pattern, patternKey); matched {
			return true
		}
	}
	return false
}

const (
	DefaultPollInterval            = 200 * time.Millisecond
	DefaultCancelCheckpointTimeout = 5 * time.Second
)

var ErrBadPattern = errors.New("bad entry pattern")

// NewGroup creates a new auditor group. The pollInterval determines how often
// each auditor checks for new entries. It returns an error if any auditor
// provides a malformed pattern.
func NewGroup(
	journal GlobalReader,
	checkpointer Checkpointer,
	auditors []Auditor,
	opts ...GroupOption,
) (*Group, error) {
	g := &Group{
		journal:                 journal,
		checkpointer:            checkpointer,
		pollInterval:            DefaultPollInterval,
		cancelCheckpointTimeout: DefaultCancelCheckpointTimeout,
		log:                     slog.Default(),
		managedAuditors:         make([]managedAuditor, len(auditors)),
		onSaveCheckpointErrFunc: func(ctx context.Context, err error) error { return nil },
	}

	for _, o := range opts {
		o(g)
	}

	for i, a := range auditors {
		patterns := a.Patterns()
		if len(patterns) == 0 {
			// An auditor that listens to nothing. This is valid.
			//nolint:exhaustruct // not needed.
			g.managedAuditors[i] = managedAuditor{auditor: a}
			continue
		}

		// Validate patterns and check for the special "*" wildcard.
		matchesAll := false
		for _, pattern := range patterns {
			if _, err := filepath.Match(pattern, ""); err != nil {
				return nil, fmt.Errorf(
					"auditor %q has an invalid pattern %q: %w",
					a.Name(),
					pattern,
					ErrBadPattern,
				)
			}
			if pattern == "*" {
				matchesAll = true
				break // If we match all, no need to check other patterns.
			}
		}

		g.managedAuditors[i] = managedAuditor{
			auditor:    a,
			patterns:   patterns,
			matchesAll: matchesAll,
		}
	}

	return g, nil
}

func (g *Group) Run(ctx context.Context) {
	wg, ctx := errgroup.WithContext(ctx)
	g.wg = wg

	for _, ma := range g.managedAuditors {
		g.wg.Go(func() error {
			return g.runAuditorLoop(ctx, ma)
		})
	}
}

// Wait blocks until all auditors have stopped, either due to an error or
// context cancellation. It returns the first error encountered by any
// auditor.
func (g *Group) Wait() error {
	err := g.wg.Wait()
	// If the context was canceled, the shutdown is considered clean.
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

//nolint:gocognit,funlen // Channels.
func (g *Group) runAuditorLoop(ctx context.Context, ma managedAuditor) error {
	aname := ma.auditor.Name()
	// An auditor with no patterns to listen to is a no-op that just gets a
	// checkpoint.
	if len(ma.patterns) == 0 {
		g.log.InfoContext(
			ctx,
			"Auditor has no patterns to handle, will not run.",
			"name",
			aname,
		)
		return nil
	}

	g.log.InfoContext(ctx, "Starting auditor", "name", aname, "poll_interval", g.pollInterval)

	current, err := g.checkpointer.GetCheckpoint(ctx, aname)
	if err != nil {
		return fmt.Errorf("auditor %q: failed to get initial checkpoint: %w", aname, err)
	}
	g.log.InfoContext(
		ctx,
		"Loaded initial checkpoint",
		"auditor",
		aname,
		"seq",
		current,
	)

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.log.InfoContext(
				ctx,
				"Auditor stopping, saving final checkpoint",
				"auditor",
				aname,
				"seq",
				current,
			)
			saveCtx, cancel := context.WithTimeout(context.Background(), g.cancelCheckpointTimeout)
			defer cancel()
			if err := g.checkpointer.SaveCheckpoint(saveCtx, aname, current); err != nil {
				g.log.ErrorContext(
					saveCtx,
					"Failed to save final checkpoint on shutdown",
					"auditor",
					aname,
					"error",
					err,
				)
				if cerr := g.onSaveCheckpointErrFunc(saveCtx, err); cerr != nil {
					return fmt.Errorf("auditor %q: save checkpoint err: %w", aname, cerr)
				}
			}
			return ctx.Err()

		case <-ticker.C:
			var processedInBatch int
			for entry, streamErr := range g.journal.ReadAll(ctx, SelectAfter(current)) { // This is a go 1.23+ iterator, NOT a channel
				if streamErr != nil {
					g.log.ErrorContext(
						ctx,
						"Stream error, stopping auditor",
						"auditor",
						aname,
						"error",
						streamErr,
					)
					return fmt.Errorf("auditor %q: stream error: %w", aname, streamErr)
				}

				if ma.isInterested(entry.PatternKey()) {
					if err := ma.auditor.Audit(ctx, entry); err != nil {
						return fmt.Errorf(
							"auditor %q: handler failed on entry %d: %w",
							aname,
							entry.GlobalSeq(),
							err,
						)
					}
				}

				// Always advance the checkpoint, even for entries we don't
				// handle.
				current = entry.GlobalSeq()
				processedInBatch++
			}

			// Only save if we actually processed entries.
			if processedInBatch == 0 {
				continue
			}

			if err := g.checkpointer.SaveCheckpoint(ctx, aname, current); err != nil {
				g.log.ErrorContext(
					ctx,
					"Failed to save checkpoint",
					"auditor",
					aname,
					"error",
					err,
				)
				if cerr := g.onSaveCheckpointErrFunc(ctx, err); cerr != nil {
					return fmt.Errorf("auditor %q: save checkpoint err: %w", aname, cerr)
				}
				continue
			}

			g.log.DebugContext(
				ctx,
				"Processed batch and saved checkpoint",
				"auditor",
				aname,
				"count",
				processedInBatch,
				"new_seq",
				current,
			)
		}
	}
}
