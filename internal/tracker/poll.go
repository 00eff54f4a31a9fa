package tracker

import (
	"context"
	"fmt"

	"github.com/autolyrix/aligntrack/internal/model"
	"github.com/autolyrix/aligntrack/internal/remote"
)

// AwaitTerminal polls the correlated run on a fixed interval until it reaches
// a terminal status or the wall-clock ceiling elapses. The ceiling is
// measured from dispatch time: transient poll failures are swallowed and
// retried on the next tick but never extend the budget. Polls are strictly
// sequential; the next one is scheduled only after the previous network call
// resolves.
func (t *Tracker) AwaitTerminal(ctx context.Context, run *remote.Run) (*remote.Run, error) {
	t.mu.Lock()
	dispatchedAt := t.dispatchedAt
	t.mu.Unlock()

	t.setState(model.StatePolling)
	t.setProgress(progressPollingFloor)

	deadline := dispatchedAt.Add(t.opts.MaxWait)
	current := run
	polls := 0

	for {
		if t.isCancelled() {
			return nil, ErrCancelled
		}
		if current.Terminal() {
			t.setRun(current)
			return current, nil
		}
		if t.opts.Now().After(deadline) {
			t.finish(model.StateTimedOut, ErrMaxWaitExceeded)
			return nil, ErrMaxWaitExceeded
		}

		if err := t.sleep(ctx, t.opts.PollInterval); err != nil {
			return nil, t.interrupted(err)
		}

		snap, err := t.api.GetRun(ctx, current.ID)
		if err != nil {
			// Retryable during polling: keep the last known snapshot and
			// try again next tick. The deadline check above keeps a
			// persistent outage from polling forever.
			t.logger.Debug("run poll failed, will retry",
				"job_id", t.payload.JobID, "run_id", current.ID, "error", err)
			continue
		}
		if t.isCancelled() {
			// Response arrived after Cancel; must not mutate state.
			return nil, ErrCancelled
		}

		current = snap
		t.setRun(snap)
		polls++
		if snap.Status == remote.StatusInProgress {
			t.setProgress(min(progressPollingFloor+polls*progressStepPoll, progressPollingCap))
		}
	}
}

// FetchArtifacts lists artifact metadata for a successfully concluded run.
// A successful run with no artifacts yields an empty list, not an error.
func (t *Tracker) FetchArtifacts(ctx context.Context, run *remote.Run) ([]remote.Artifact, error) {
	if run.Conclusion != model.ConclusionSuccess {
		return nil, fmt.Errorf("artifacts require a successful conclusion, run %d concluded %q", run.ID, run.Conclusion)
	}

	artifacts, err := t.api.ListArtifacts(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts for run %d: %w", run.ID, err)
	}
	if artifacts == nil {
		artifacts = []remote.Artifact{}
	}
	return artifacts, nil
}
