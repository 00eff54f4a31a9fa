package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/autolyrix/aligntrack/internal/model"
	"github.com/autolyrix/aligntrack/internal/remote"
	"github.com/autolyrix/aligntrack/internal/store"
	"github.com/autolyrix/aligntrack/internal/tracker"
)

// ErrNotActive is returned by Cancel when the job has no in-flight tracker.
var ErrNotActive = errors.New("job is not active")

// Engine runs alignment job lifecycles asynchronously.
type Engine struct {
	store  store.Store
	api    remote.API
	logger *slog.Logger
	opts   tracker.Options
	broker *ProgressBroker

	mu     sync.Mutex
	active map[string]*tracker.Tracker
	wg     sync.WaitGroup
}

// NewEngine creates a new job engine. opts configures every tracker the
// engine spawns.
func NewEngine(s store.Store, api remote.API, logger *slog.Logger, opts tracker.Options) *Engine {
	return &Engine{
		store:  s,
		api:    api,
		logger: logger,
		opts:   opts,
		broker: NewProgressBroker(),
		active: make(map[string]*tracker.Tracker),
	}
}

// Broker returns the engine's progress broker for SSE subscription.
func (e *Engine) Broker() *ProgressBroker {
	return e.broker
}

// Submit persists the job record with state "starting" and launches its
// lifecycle in a goroutine. One tracker per job: jobs never share polling
// state, so independent jobs proceed in parallel.
func (e *Engine) Submit(ctx context.Context, j *model.Job, payload remote.DispatchPayload) error {
	if err := e.store.CreateJob(ctx, j); err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	tr := tracker.New(e.api, payload, e.logger, e.opts, e.observer(j.ID))

	e.mu.Lock()
	e.active[j.ID] = tr
	e.mu.Unlock()

	e.wg.Go(func() {
		e.run(j.ID, tr)
	})

	return nil
}

// Cancel stops the in-flight tracker for the given job. The tracker's own
// cancellation guard ensures no state mutation lands afterwards.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	tr, ok := e.active[id]
	e.mu.Unlock()

	if !ok {
		return ErrNotActive
	}
	tr.Cancel()
	return nil
}

// Wait blocks until all in-flight job goroutines complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// run drives one job to its terminal state and records the outcome.
func (e *Engine) run(jobID string, tr *tracker.Tracker) {
	defer e.broker.Close(jobID)
	defer func() {
		e.mu.Lock()
		delete(e.active, jobID)
		e.mu.Unlock()
	}()

	activeJobs.Inc()
	defer activeJobs.Dec()
	start := time.Now()

	// The lifecycle outlives the submitting HTTP request; cancellation goes
	// through Cancel, not a request context.
	res := tr.Run(context.Background())

	ctx := context.Background()
	now := time.Now().UTC()

	j, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		e.logger.Error("load job for terminal update", "job_id", jobID, "error", err)
		return
	}

	snap := tr.Snapshot()
	j.State = res.State
	j.Progress = snap.Progress
	j.FinishedAt = &now
	if res.Run != nil {
		id := res.Run.ID
		j.RunID = &id
		j.RunURL = res.Run.HTMLURL
		j.Conclusion = res.Run.Conclusion
	}
	if res.Err != nil {
		j.Error = res.Err.Error()
	}
	if res.ArtifactWarning != "" {
		j.Error = res.ArtifactWarning
	}

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("record terminal job state", "job_id", jobID, "error", err)
	}

	for _, a := range res.Artifacts {
		artifact := &model.Artifact{
			JobID:              jobID,
			Name:               a.Name,
			ArchiveDownloadURL: a.ArchiveDownloadURL,
			SizeBytes:          a.SizeInBytes,
			Expired:            a.Expired,
			CreatedAt:          now,
		}
		if err := e.store.InsertArtifact(ctx, artifact); err != nil {
			e.logger.Error("record artifact", "job_id", jobID, "name", a.Name, "error", err)
		}
	}

	jobsTotal.WithLabelValues(res.State, j.Format).Inc()
	jobDuration.Observe(time.Since(start).Seconds())
	if j.DispatchedAt != nil && j.CorrelatedAt != nil {
		correlationDuration.Observe(j.CorrelatedAt.Sub(*j.DispatchedAt).Seconds())
	}

	e.logger.Info("job finished",
		"job_id", jobID,
		"state", res.State,
		"artifacts", len(res.Artifacts),
	)
}

// observer returns the tracker callback that persists snapshots and fans
// them out to SSE subscribers.
func (e *Engine) observer(jobID string) tracker.Observer {
	var runRecorded bool

	return func(s tracker.Snapshot) {
		ctx := context.Background()

		if err := e.store.UpdateJobState(ctx, jobID, s.State); err != nil &&
			!errors.Is(err, store.ErrInvalidTransition) {
			e.logger.Error("persist job state", "job_id", jobID, "state", s.State, "error", err)
		}
		if err := e.store.UpdateJobProgress(ctx, jobID, s.Progress); err != nil {
			e.logger.Error("persist job progress", "job_id", jobID, "error", err)
		}
		if s.RunID != nil && !runRecorded {
			runRecorded = true
			if err := e.store.UpdateJobRun(ctx, jobID, *s.RunID, s.RunURL, time.Now().UTC()); err != nil {
				e.logger.Error("persist job run", "job_id", jobID, "error", err)
			}
		}

		e.broker.Publish(ProgressEvent{
			JobID:      jobID,
			State:      s.State,
			Progress:   s.Progress,
			RunID:      s.RunID,
			RunURL:     s.RunURL,
			Conclusion: s.Conclusion,
			Error:      s.Error,
		})
	}
}
