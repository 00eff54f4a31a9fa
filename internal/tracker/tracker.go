// Package tracker implements the dispatch-correlate-poll lifecycle for a
// single lyrics-alignment job. The remote trigger endpoint returns no run
// handle, so after dispatching the tracker must discover which run it caused
// by matching against the service's eventually-consistent run listing, then
// poll that run to a terminal status and collect artifact metadata.
//
// A Tracker owns exactly one outstanding job. Callers needing parallel jobs
// create one Tracker per job (the engine does exactly that).
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/autolyrix/aligntrack/internal/model"
	"github.com/autolyrix/aligntrack/internal/remote"
)

// Lifecycle errors reported through the job's terminal state.
var (
	// ErrCancelled is returned when Cancel stops the lifecycle.
	ErrCancelled = errors.New("job cancelled")
	// ErrCorrelationTimeout means no run matching the dispatch appeared
	// within the correlation budget. The job ends timed_out, not failed:
	// the pipeline may still be running somewhere, we just never found it.
	ErrCorrelationTimeout = errors.New("no matching run found within correlation budget")
	// ErrMaxWaitExceeded means the correlated run never reached a terminal
	// status within the wall-clock ceiling measured from dispatch time.
	ErrMaxWaitExceeded = errors.New("run did not complete within max wait")
)

// Progress checkpoints for the synthetic progress curve. Real progress is
// unknowable (the remote status has three coarse values), so displayed
// progress interpolates between lifecycle checkpoints and only hits 100 on a
// verified successful conclusion.
const (
	progressDispatched     = 10
	progressCorrelatingCap = 24
	progressCorrelated     = 25
	progressPollingFloor   = 30
	progressPollingCap     = 80
	progressDone           = 100

	progressStepCorrelate = 2
	progressStepPoll      = 5
)

// Options configures a Tracker. Zero durations fall back to defaults; Now
// and Sleep are injectable for tests.
type Options struct {
	PollInterval    time.Duration
	MaxWait         time.Duration
	CorrelateBudget time.Duration
	WindowBefore    time.Duration
	WindowAfter     time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.MaxWait <= 0 {
		o.MaxWait = 5 * time.Minute
	}
	if o.CorrelateBudget <= 0 {
		o.CorrelateBudget = 90 * time.Second
	}
	if o.WindowBefore <= 0 {
		o.WindowBefore = 5 * time.Second
	}
	if o.WindowAfter <= 0 {
		o.WindowAfter = 30 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Snapshot is the externally visible state of a job at one instant.
type Snapshot struct {
	JobID      string
	State      string
	Progress   int
	RunID      *int64
	RunURL     string
	Conclusion string
	Error      string
}

// Observer receives a snapshot after every state or progress change.
type Observer func(Snapshot)

// Result is the terminal outcome of a full lifecycle run.
type Result struct {
	State           string
	Run             *remote.Run
	Artifacts       []remote.Artifact
	ArtifactWarning string
	Err             error
}

// Tracker drives one job through starting → dispatched → correlating →
// polling → terminal. All terminal states are sticky until Reset.
type Tracker struct {
	api     remote.API
	payload remote.DispatchPayload
	logger  *slog.Logger
	opts    Options
	observe Observer

	mu           sync.Mutex
	state        string
	progress     int
	cancelled    bool
	dispatchedAt time.Time
	run          *remote.Run
	lastErr      error

	cancelOnce sync.Once
	cancelCh   chan struct{}
}

// New creates a tracker for a single dispatch payload. observer may be nil.
func New(api remote.API, payload remote.DispatchPayload, logger *slog.Logger, opts Options, observer Observer) *Tracker {
	opts.applyDefaults()
	if observer == nil {
		observer = func(Snapshot) {}
	}
	return &Tracker{
		api:      api,
		payload:  payload,
		logger:   logger,
		opts:     opts,
		observe:  observer,
		state:    model.StateStarting,
		cancelCh: make(chan struct{}),
	}
}

// Run executes the full lifecycle and returns the terminal outcome. It is
// cooperative and single-threaded: each poll is scheduled only after the
// previous network call resolves.
func (t *Tracker) Run(ctx context.Context) Result {
	if err := t.Dispatch(ctx); err != nil {
		return t.result(nil, "")
	}

	run, err := t.Correlate(ctx)
	if err != nil {
		return t.result(nil, "")
	}

	final, err := t.AwaitTerminal(ctx, run)
	if err != nil {
		return t.result(nil, "")
	}

	if final.Conclusion != model.ConclusionSuccess {
		t.finish(model.StateFailed, &remoteFailureError{conclusion: final.Conclusion})
		return t.result(nil, "")
	}

	// Run succeeded. An artifact listing failure must not downgrade the
	// outcome: report completion with an empty artifact list instead.
	var warning string
	artifacts, err := t.FetchArtifacts(ctx, final)
	if err != nil {
		t.logger.Warn("artifact listing failed after successful run",
			"job_id", t.payload.JobID, "run_id", final.ID, "error", err)
		warning = "run succeeded but artifact listing failed: " + err.Error()
		artifacts = nil
	}

	t.finish(model.StateCompleted, nil)
	return t.result(artifacts, warning)
}

// Dispatch sends the work request to the remote trigger endpoint and records
// the dispatch time used by correlation and the overall wait ceiling. A
// transport failure here is fatal for the job.
func (t *Tracker) Dispatch(ctx context.Context) error {
	t.mu.Lock()
	if t.state != model.StateStarting {
		t.mu.Unlock()
		return errors.New("tracker already used; Reset before reuse")
	}
	t.mu.Unlock()

	if err := t.api.Dispatch(ctx, t.payload); err != nil {
		t.finish(model.StateFailed, err)
		return err
	}

	t.mu.Lock()
	t.dispatchedAt = t.opts.Now()
	t.mu.Unlock()

	t.setState(model.StateDispatched)
	t.setProgress(progressDispatched)
	return nil
}

// Cancel stops the lifecycle. It is race-free: a network response arriving
// after Cancel cannot mutate state, and no further snapshots are published.
func (t *Tracker) Cancel() {
	t.cancelOnce.Do(func() { close(t.cancelCh) })

	t.mu.Lock()
	if t.cancelled || model.IsTerminal(t.state) {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	t.state = model.StateCancelled
	t.lastErr = ErrCancelled
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.observe(snap)
}

// Reset reinitializes a terminal tracker back to starting so it can run
// another lifecycle. Resetting a non-terminal tracker is an error.
func (t *Tracker) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !model.IsTerminal(t.state) && !t.cancelled {
		return errors.New("cannot reset a job that is still in flight")
	}

	t.state = model.StateStarting
	t.progress = 0
	t.cancelled = false
	t.dispatchedAt = time.Time{}
	t.run = nil
	t.lastErr = nil
	t.cancelOnce = sync.Once{}
	t.cancelCh = make(chan struct{})
	return nil
}

// Snapshot returns the current externally visible state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// remoteFailureError reports a run that completed with an unsuccessful
// conclusion. Distinct from a timeout: the outcome is confirmed.
type remoteFailureError struct {
	conclusion string
}

func (e *remoteFailureError) Error() string {
	return "run concluded with " + e.conclusion
}

// setState applies a lifecycle transition. Invalid transitions and updates
// after cancellation are dropped; terminal states are sticky.
func (t *Tracker) setState(state string) {
	t.mu.Lock()
	if t.cancelled || !model.ValidTransition(t.state, state) {
		t.mu.Unlock()
		return
	}
	t.state = state
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.observe(snap)
}

// finish moves the job to a terminal state and records the cause.
func (t *Tracker) finish(state string, cause error) {
	t.mu.Lock()
	if t.cancelled || model.IsTerminal(t.state) {
		t.mu.Unlock()
		return
	}
	if !model.ValidTransition(t.state, state) {
		t.mu.Unlock()
		return
	}
	t.state = state
	t.lastErr = cause
	if state == model.StateCompleted {
		t.progress = progressDone
	}
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.observe(snap)
}

// setProgress raises displayed progress. It saturates rather than decreases:
// a stale or lower value is dropped.
func (t *Tracker) setProgress(p int) {
	t.mu.Lock()
	if t.cancelled || model.IsTerminal(t.state) || p <= t.progress {
		t.mu.Unlock()
		return
	}
	if p > progressDone {
		p = progressDone
	}
	t.progress = p
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.observe(snap)
}

func (t *Tracker) setRun(run *remote.Run) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.run = run
	t.mu.Unlock()
}

func (t *Tracker) snapshotLocked() Snapshot {
	snap := Snapshot{
		JobID:    t.payload.JobID,
		State:    t.state,
		Progress: t.progress,
	}
	if t.run != nil {
		id := t.run.ID
		snap.RunID = &id
		snap.RunURL = t.run.HTMLURL
		snap.Conclusion = t.run.Conclusion
	}
	if t.lastErr != nil {
		snap.Error = t.lastErr.Error()
	}
	return snap
}

func (t *Tracker) result(artifacts []remote.Artifact, warning string) Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Result{
		State:           t.state,
		Run:             t.run,
		Artifacts:       artifacts,
		ArtifactWarning: warning,
		Err:             t.lastErr,
	}
}

// sleep suspends between poll iterations. It wakes early on context
// cancellation or Cancel; no busy-waiting.
func (t *Tracker) sleep(ctx context.Context, d time.Duration) error {
	if t.opts.Sleep != nil {
		if err := t.opts.Sleep(ctx, d); err != nil {
			return err
		}
		select {
		case <-t.cancelCh:
			return ErrCancelled
		default:
			return nil
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.cancelCh:
		return ErrCancelled
	}
}

func (t *Tracker) isCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}
