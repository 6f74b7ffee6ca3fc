// Package worker implements the job-processing runner: a pool of loops that
// claim work from the queue coordinator, keep their leases alive, and drive
// interview sessions and analysis generation.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/greenroomhq/greenroom/internal/profile"
	"github.com/greenroomhq/greenroom/plugin/questions"
	"github.com/greenroomhq/greenroom/plugin/voicestream"
	coreerrors "github.com/greenroomhq/greenroom/server/internal/errors"
	"github.com/greenroomhq/greenroom/server/internal/observability"
	"github.com/greenroomhq/greenroom/server/interview"
	"github.com/greenroomhq/greenroom/server/live"
	"github.com/greenroomhq/greenroom/server/queue"
	"github.com/greenroomhq/greenroom/server/transcript"
	"github.com/greenroomhq/greenroom/store"
)

// Options wires the runner's collaborators.
type Options struct {
	Store      *store.Store
	Queue      *queue.Coordinator
	Machine    *interview.Machine
	Transcript *transcript.Log
	Dialer     voicestream.Dialer
	Generator  questions.Generator
	Pauses     *live.PauseRegistry
	Classifier live.Classifier
	Profile    *profile.Profile
	Logger     *slog.Logger
}

// Runner runs the worker pool.
type Runner struct {
	store      *store.Store
	queue      *queue.Coordinator
	machine    *interview.Machine
	transcript *transcript.Log
	dialer     voicestream.Dialer
	generator  questions.Generator
	pauses     *live.PauseRegistry
	classifier live.Classifier
	profile    *profile.Profile
	logger     *slog.Logger

	id      string
	limiter *rate.Limiter
}

var workerJobTypes = []string{store.JobTypeRunSession, store.JobTypeGenerateAnalysis}

func NewRunner(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := opts.Profile.Workers
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		store:      opts.Store,
		queue:      opts.Queue,
		machine:    opts.Machine,
		transcript: opts.Transcript,
		dialer:     opts.Dialer,
		generator:  opts.Generator,
		pauses:     opts.Pauses,
		classifier: opts.Classifier,
		profile:    opts.Profile,
		logger:     logger,
		id:         "worker-" + uuid.New().String()[:8],
		// One claim query per poll interval across the pool, with headroom
		// to drain a backlog burst.
		limiter: rate.NewLimiter(rate.Every(opts.Profile.PollInterval), workers),
	}
}

// ID returns the runner's base worker identity.
func (r *Runner) ID() string {
	return r.id
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.profile.Workers; i++ {
		workerID := fmt.Sprintf("%s-%d", r.id, i)
		g.Go(func() error {
			return r.loop(ctx, workerID)
		})
	}
	slog.Info("worker pool started", "base_id", r.id, "workers", r.profile.Workers)
	return g.Wait()
}

func (r *Runner) loop(ctx context.Context, workerID string) error {
	for {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil
		}
		job, err := r.queue.ClaimNext(ctx, workerID, workerJobTypes)
		if err != nil {
			slog.Warn("claim failed", "worker_id", workerID, "error", err)
			job = nil
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.profile.PollInterval):
			}
			continue
		}
		r.process(ctx, workerID, job)
	}
}

// process drives one claimed job to completion, failure, or abandonment.
// The lease is kept alive by a heartbeat goroutine; losing it cancels the
// job context and the work is dropped without touching the ledger.
func (r *Runner) process(ctx context.Context, workerID string, job *store.Job) {
	run := observability.NewRunContext(r.logger, job.SessionUID, workerID)
	run.Info("job claimed", slog.String(observability.LogFieldJobUID, job.UID), slog.String("type", job.Type))

	if err := r.queue.MarkRunning(ctx, job.ID, workerID); err != nil {
		run.Warn("job no longer owned before start", slog.Any("error", err))
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		r.heartbeatLoop(jobCtx, cancel, job.ID, workerID, run)
	}()

	var err error
	switch job.Type {
	case store.JobTypeRunSession:
		err = r.runSession(jobCtx, run, job, workerID)
	case store.JobTypeGenerateAnalysis:
		err = r.generateAnalysis(jobCtx, run, job)
	default:
		err = coreerrors.InvalidArgument("unknown job type: " + job.Type)
	}

	cancel()
	<-hbDone

	switch {
	case err == nil:
		if cerr := r.queue.Complete(ctx, job.ID, workerID); cerr != nil {
			run.Warn("complete rejected", slog.Any("error", cerr))
			return
		}
		run.Info("job done", slog.Int64(observability.LogFieldDuration, run.DurationMs()))

	case coreerrors.IsCode(err, coreerrors.ErrCodeLeaseLost):
		// Someone else owns the job now. Abandon without recording anything.
		run.Warn("lease lost, abandoning job")

	default:
		run.Error("job failed", err)
		if ferr := r.queue.Fail(ctx, job.ID, workerID, err); ferr != nil {
			run.Warn("fail rejected", slog.Any("error", ferr))
			return
		}
		r.markSessionDeadIfExhausted(ctx, run, job)
	}
}

// heartbeatLoop extends the lease until the job context ends. A rejected
// heartbeat cancels the job context so in-flight work stops promptly.
func (r *Runner) heartbeatLoop(ctx context.Context, cancel context.CancelFunc, jobID int32, workerID string, run *observability.RunContext) {
	ticker := time.NewTicker(r.profile.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.queue.Heartbeat(ctx, jobID, workerID); err != nil {
				if coreerrors.IsCode(err, coreerrors.ErrCodeLeaseLost) {
					run.Warn("heartbeat rejected, cancelling job")
					cancel()
					return
				}
				run.Warn("heartbeat error", slog.Any("error", err))
			}
		}
	}
}

// markSessionDeadIfExhausted moves the session to error once its job has
// burned through all attempts.
func (r *Runner) markSessionDeadIfExhausted(ctx context.Context, run *observability.RunContext, job *store.Job) {
	fresh, err := r.store.GetJob(ctx, &store.FindJob{ID: &job.ID})
	if err != nil || fresh == nil || fresh.Status != store.JobStatusDead {
		return
	}
	sess, err := r.store.GetSession(ctx, &store.FindSession{UID: &job.SessionUID})
	if err != nil || sess == nil {
		return
	}
	cause := errors.New(fresh.LastError)
	if merr := r.machine.MarkError(ctx, sess.ID, cause); merr != nil {
		run.Warn("mark error failed", slog.Any("error", merr))
		return
	}
	run.Warn("session moved to error after retries exhausted", slog.String("last_error", fresh.LastError))
}
