// Package queue implements the job queue coordinator: lease-based exclusive
// claims over the durable work ledger, heartbeats, completion, and retry
// with capped exponential backoff.
//
// A worker that crashes while holding a lease needs no recovery path: the
// job silently becomes reclaimable once the lease expires. Attempts count
// claim-fail cycles, never claim attempts alone.
package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/greenroomhq/greenroom/internal/profile"
	coreerrors "github.com/greenroomhq/greenroom/server/internal/errors"
	"github.com/greenroomhq/greenroom/store"
)

// Coordinator mediates all mutations of the work ledger.
type Coordinator struct {
	store *store.Store

	leaseDuration time.Duration
	backoffBase   time.Duration
	backoffCap    time.Duration
	maxAttempts   int32

	now func() time.Time
}

// NewCoordinator creates a coordinator configured from the profile.
func NewCoordinator(s *store.Store, p *profile.Profile) *Coordinator {
	return &Coordinator{
		store:         s,
		leaseDuration: p.LeaseDuration,
		backoffBase:   p.BackoffBase,
		backoffCap:    p.BackoffCap,
		maxAttempts:   int32(p.MaxAttempts),
		now:           time.Now,
	}
}

// LeaseDuration returns the configured lease duration.
func (c *Coordinator) LeaseDuration() time.Duration {
	return c.leaseDuration
}

// Enqueue inserts a pending job. It only fails on storage unavailability.
func (c *Coordinator) Enqueue(ctx context.Context, jobType, sessionUID, payload string) (*store.Job, error) {
	if payload == "" {
		payload = "{}"
	}
	job, err := c.store.CreateJob(ctx, &store.Job{
		UID:         shortuuid.New(),
		Type:        jobType,
		SessionUID:  sessionUID,
		Payload:     payload,
		Status:      store.JobStatusPending,
		MaxAttempts: c.maxAttempts,
	})
	if err != nil {
		return nil, coreerrors.StorageUnavailable(err)
	}
	slog.Info("job enqueued", "job_uid", job.UID, "type", jobType, "session_uid", sessionUID)
	return job, nil
}

// EnqueueUnique inserts a pending job unless a non-terminal job of the same
// type for the same session already exists. Returns the existing or created
// job and whether a new one was created. The duplicate check and the insert
// run as one statement at the storage layer, so concurrent callers can never
// produce two live jobs for the same session and type.
func (c *Coordinator) EnqueueUnique(ctx context.Context, jobType, sessionUID, payload string) (*store.Job, bool, error) {
	if payload == "" {
		payload = "{}"
	}

	for attempt := 0; attempt < 2; attempt++ {
		job, err := c.store.CreateJobExclusive(ctx, &store.Job{
			UID:         shortuuid.New(),
			Type:        jobType,
			SessionUID:  sessionUID,
			Payload:     payload,
			Status:      store.JobStatusPending,
			MaxAttempts: c.maxAttempts,
		})
		if err != nil {
			return nil, false, coreerrors.StorageUnavailable(err)
		}
		if job != nil {
			slog.Info("job enqueued", "job_uid", job.UID, "type", jobType, "session_uid", sessionUID)
			return job, true, nil
		}

		existing, err := c.store.ListJobs(ctx, &store.FindJob{
			Type:       &jobType,
			SessionUID: &sessionUID,
			Statuses: []store.JobStatus{
				store.JobStatusPending,
				store.JobStatusClaimed,
				store.JobStatusRunning,
			},
		})
		if err != nil {
			return nil, false, coreerrors.StorageUnavailable(err)
		}
		if len(existing) > 0 {
			return existing[0], false, nil
		}
		// The blocking job finished between the insert and the read; a
		// second insert attempt settles it.
	}
	return nil, false, coreerrors.StorageUnavailable(errors.New("enqueue contention"))
}

// ClaimNext atomically claims the next eligible job of the given types for
// workerID. Returns nil when nothing is claimable. The claim is a single
// conditional statement at the storage layer, so no two callers can ever
// receive the same job.
func (c *Coordinator) ClaimNext(ctx context.Context, workerID string, jobTypes []string) (*store.Job, error) {
	now := c.now().Unix()
	job, err := c.store.ClaimNextJob(ctx, &store.ClaimJob{
		WorkerID:   workerID,
		Types:      jobTypes,
		Now:        now,
		LeaseUntil: now + int64(c.leaseDuration.Seconds()),
	})
	if err != nil {
		return nil, coreerrors.StorageUnavailable(err)
	}
	return job, nil
}

// Heartbeat extends the lease on a job the worker owns. A LEASE_LOST error
// means the job was reclaimed, completed, or never held: the caller must
// abandon the work immediately.
func (c *Coordinator) Heartbeat(ctx context.Context, jobID int32, workerID string) error {
	now := c.now().Unix()
	leaseUntil := now + int64(c.leaseDuration.Seconds())
	updated, err := c.store.UpdateJobOwned(ctx, &store.UpdateJob{
		ID:             jobID,
		LeaseExpiresTs: &leaseUntil,
	}, workerID, now)
	if err != nil {
		return coreerrors.StorageUnavailable(err)
	}
	if !updated {
		return coreerrors.LeaseLost("heartbeat rejected")
	}
	return nil
}

// MarkRunning flips a claimed job to running under the caller's lease.
func (c *Coordinator) MarkRunning(ctx context.Context, jobID int32, workerID string) error {
	status := store.JobStatusRunning
	updated, err := c.store.UpdateJobOwned(ctx, &store.UpdateJob{
		ID:     jobID,
		Status: &status,
	}, workerID, c.now().Unix())
	if err != nil {
		return coreerrors.StorageUnavailable(err)
	}
	if !updated {
		return coreerrors.LeaseLost("job is no longer owned by this worker")
	}
	return nil
}

// Complete marks a job completed under the caller's lease.
func (c *Coordinator) Complete(ctx context.Context, jobID int32, workerID string) error {
	status := store.JobStatusCompleted
	updated, err := c.store.UpdateJobOwned(ctx, &store.UpdateJob{
		ID:     jobID,
		Status: &status,
	}, workerID, c.now().Unix())
	if err != nil {
		return coreerrors.StorageUnavailable(err)
	}
	if !updated {
		return coreerrors.LeaseLost("complete rejected")
	}
	slog.Info("job completed", "job_id", jobID, "worker_id", workerID)
	return nil
}

// Fail records a failure under the caller's lease. The job is rescheduled
// with exponential backoff until attempts reach max_attempts, then moved to
// dead with the last error retained for operator diagnosis.
func (c *Coordinator) Fail(ctx context.Context, jobID int32, workerID string, cause error) error {
	job, err := c.store.GetJob(ctx, &store.FindJob{ID: &jobID})
	if err != nil {
		return coreerrors.StorageUnavailable(err)
	}
	if job == nil {
		return coreerrors.StaleClaim("job does not exist")
	}

	now := c.now().Unix()
	attempts := job.Attempts + 1
	lastError := errors.Cause(cause).Error()

	update := &store.UpdateJob{
		ID:        jobID,
		Attempts:  &attempts,
		LastError: &lastError,
	}
	if attempts >= job.MaxAttempts {
		status := store.JobStatusDead
		update.Status = &status
	} else {
		status := store.JobStatusPending
		nextRetry := now + int64(c.backoff(attempts).Seconds())
		var zero int64
		empty := ""
		update.Status = &status
		update.NextRetryTs = &nextRetry
		update.ClaimedBy = &empty
		update.LeaseExpiresTs = &zero
	}

	updated, err := c.store.UpdateJobOwned(ctx, update, workerID, now)
	if err != nil {
		return coreerrors.StorageUnavailable(err)
	}
	if !updated {
		return coreerrors.LeaseLost("fail rejected")
	}

	slog.Warn("job failed",
		"job_id", jobID,
		"worker_id", workerID,
		"attempts", attempts,
		"max_attempts", job.MaxAttempts,
		"error", lastError)
	return nil
}

// backoff returns the retry delay after the given number of failed attempts:
// base * 2^(attempts-1), capped.
func (c *Coordinator) backoff(attempts int32) time.Duration {
	d := c.backoffBase
	for i := int32(1); i < attempts; i++ {
		d *= 2
		if d >= c.backoffCap {
			return c.backoffCap
		}
	}
	if d > c.backoffCap {
		return c.backoffCap
	}
	return d
}
