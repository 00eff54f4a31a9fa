package tracker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/autolyrix/aligntrack/internal/model"
	"github.com/autolyrix/aligntrack/internal/remote"
)

// Correlate discovers which remote run the dispatch caused. It repeatedly
// lists recent runs and filters to those created within the tolerance window
// around the dispatch time, preferring a run whose name echoes the job ID.
// If nothing matches within the correlation budget the job times out; this is
// a reported outcome, not a crash.
func (t *Tracker) Correlate(ctx context.Context) (*remote.Run, error) {
	t.mu.Lock()
	dispatchedAt := t.dispatchedAt
	t.mu.Unlock()
	if dispatchedAt.IsZero() {
		return nil, errors.New("correlate called before dispatch")
	}

	t.setState(model.StateCorrelating)

	deadline := dispatchedAt.Add(t.opts.CorrelateBudget)
	windowStart := dispatchedAt.Add(-t.opts.WindowBefore)
	windowEnd := dispatchedAt.Add(t.opts.WindowAfter)

	attempt := 0
	for {
		if t.isCancelled() {
			return nil, ErrCancelled
		}
		if t.opts.Now().After(deadline) {
			t.finish(model.StateTimedOut, ErrCorrelationTimeout)
			return nil, ErrCorrelationTimeout
		}

		runs, err := t.api.ListRuns(ctx, windowStart)
		if err != nil {
			// The listing is eventually consistent anyway; a transient
			// failure just means we look again on the next tick.
			t.logger.Debug("run listing failed, will retry",
				"job_id", t.payload.JobID, "error", err)
		} else if match := selectRun(runs, t.payload.JobID, dispatchedAt, windowStart, windowEnd); match != nil {
			if t.isCancelled() {
				return nil, ErrCancelled
			}
			t.setRun(match)
			t.setProgress(progressCorrelated)
			return match, nil
		}

		attempt++
		t.setProgress(min(progressDispatched+attempt*progressStepCorrelate, progressCorrelatingCap))

		if err := t.sleep(ctx, t.opts.PollInterval); err != nil {
			return nil, t.interrupted(err)
		}
	}
}

// selectRun picks the run attributed to this dispatch. A run whose name or
// title carries the job ID wins outright, since the remote workflow echoes
// the ID from the dispatch payload. Otherwise the candidates are narrowed to
// the tolerance window and tie-broken by the earliest creation timestamp at
// or after the dispatch time, falling back to the earliest in the window.
func selectRun(runs []remote.Run, jobID string, dispatchedAt, windowStart, windowEnd time.Time) *remote.Run {
	for i := range runs {
		r := &runs[i]
		if strings.Contains(r.Name, jobID) || strings.Contains(r.DisplayTitle, jobID) {
			out := *r
			return &out
		}
	}

	var candidates []remote.Run
	for _, r := range runs {
		if r.CreatedAt.Before(windowStart) || r.CreatedAt.After(windowEnd) {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return nil
	}

	var best *remote.Run
	for i := range candidates {
		c := &candidates[i]
		if c.CreatedAt.Before(dispatchedAt) {
			continue
		}
		if best == nil || c.CreatedAt.Before(best.CreatedAt) {
			best = c
		}
	}
	if best == nil {
		for i := range candidates {
			c := &candidates[i]
			if best == nil || c.CreatedAt.Before(best.CreatedAt) {
				best = c
			}
		}
	}

	out := *best
	return &out
}

// interrupted maps a sleep error to the right lifecycle outcome: Cancel has
// already recorded the cancelled state; a dying context is treated the same
// way so no partial state leaks out afterwards.
func (t *Tracker) interrupted(err error) error {
	if errors.Is(err, ErrCancelled) {
		return ErrCancelled
	}
	t.Cancel()
	return err
}
