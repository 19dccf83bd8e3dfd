package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Witriol/clipdl/internal/library"
)

// OrphanSource finds and removes artifacts of jobs that never finished.
type OrphanSource interface {
	Orphans(live func(id string) bool, minAge time.Duration) ([]string, error)
	Cleanup(ctx context.Context, id string, delay time.Duration) library.CleanupResult
}

// Sweeper removes leftovers of jobs a previous daemon run was killed in
// the middle of, then keeps checking periodically.
type Sweeper struct {
	Library   OrphanSource
	Registry  *Registry
	Store     *Store
	PollEvery time.Duration
	MinAge    time.Duration
}

// Recover marks history rows a previous run left in downloading as
// interrupted. It must run before the first job is submitted.
func (w *Sweeper) Recover(ctx context.Context) error {
	if w.Store == nil {
		return nil
	}
	n, err := w.Store.MarkInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("mark interrupted jobs: %w", err)
	}
	if n > 0 {
		slog.Info("sweeper: interrupted jobs", "count", n)
	}
	return nil
}

// Start sweeps once and then every PollEvery until ctx is done.
func (w *Sweeper) Start(ctx context.Context) {
	if w.PollEvery <= 0 {
		w.PollEvery = 10 * time.Minute
	}
	w.Sweep(ctx)
	ticker := time.NewTicker(w.PollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns how many job ids were cleaned.
func (w *Sweeper) Sweep(ctx context.Context) int {
	minAge := w.MinAge
	if minAge <= 0 {
		minAge = time.Hour
	}
	live := func(id string) bool {
		if w.Registry == nil {
			return false
		}
		_, ok := w.Registry.Get(id)
		return ok
	}
	ids, err := w.Library.Orphans(live, minAge)
	if err != nil {
		slog.Warn("sweeper: scan library", "err", err)
		return 0
	}
	for _, id := range ids {
		res := w.Library.Cleanup(ctx, id, 0)
		slog.Info("sweeper: removed orphaned artifacts", "id", id, "removed", len(res.Removed), "failed", len(res.Failed))
	}
	return len(ids)
}
