package store

import "context"

// JobStatus is the lifecycle status of a work ledger entry.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusClaimed   JobStatus = "claimed"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusDead      JobStatus = "dead"
)

// Well-known job types.
const (
	JobTypeRunSession       = "run_session"
	JobTypeGenerateAnalysis = "generate_analysis"
)

// Job is a unit of asynchronous work with lease-based exclusive ownership.
// At most one non-expired lease holder exists at a time; this is enforced by
// the driver's atomic claim, never by application-level read-then-write.
type Job struct {
	ID         int32
	UID        string
	Type       string
	SessionUID string
	Payload    string // JSON
	Status     JobStatus
	Priority   int32

	Attempts    int32
	MaxAttempts int32
	LastError   string

	ClaimedBy      string
	ClaimedTs      int64
	LeaseExpiresTs int64
	NextRetryTs    int64

	CreatedTs int64
	UpdatedTs int64
}

// Terminal returns true when the job can never be claimed again.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusDead
}

// FindJob is the find condition for jobs.
type FindJob struct {
	ID         *int32
	UID        *string
	Type       *string
	SessionUID *string
	Statuses   []JobStatus

	Limit *int
}

// UpdateJob is the update request for a job.
type UpdateJob struct {
	ID             int32
	Status         *JobStatus
	Attempts       *int32
	LastError      *string
	ClaimedBy      *string
	ClaimedTs      *int64
	LeaseExpiresTs *int64
	NextRetryTs    *int64
	UpdatedTs      *int64
}

// ClaimJob is the atomic claim request. The driver selects one eligible job
// (pending with next_retry_ts passed, or claimed/running with an expired
// lease) ordered by priority descending then creation time ascending, and
// marks it claimed in the same statement.
type ClaimJob struct {
	WorkerID   string
	Types      []string
	Now        int64
	LeaseUntil int64
}

// CreateJob creates a new job.
func (s *Store) CreateJob(ctx context.Context, create *Job) (*Job, error) {
	return s.driver.CreateJob(ctx, create)
}

// CreateJobExclusive creates the job unless a live job of the same type
// already exists for the session. Returns nil when a duplicate blocked the
// insert.
func (s *Store) CreateJobExclusive(ctx context.Context, create *Job) (*Job, error) {
	return s.driver.CreateJobExclusive(ctx, create)
}

// ListJobs lists jobs with filter.
func (s *Store) ListJobs(ctx context.Context, find *FindJob) ([]*Job, error) {
	return s.driver.ListJobs(ctx, find)
}

// GetJob gets a single job, or nil when none matches.
func (s *Store) GetJob(ctx context.Context, find *FindJob) (*Job, error) {
	list, err := s.driver.ListJobs(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// UpdateJob updates a job unconditionally.
func (s *Store) UpdateJob(ctx context.Context, update *UpdateJob) error {
	return s.driver.UpdateJob(ctx, update)
}

// UpdateJobOwned applies an update only while workerID still holds a live
// lease on the job. Returns false when the lease is lost.
func (s *Store) UpdateJobOwned(ctx context.Context, update *UpdateJob, workerID string, now int64) (bool, error) {
	return s.driver.UpdateJobOwned(ctx, update, workerID, now)
}

// ClaimNextJob atomically claims the next eligible job, or returns nil.
func (s *Store) ClaimNextJob(ctx context.Context, claim *ClaimJob) (*Job, error) {
	return s.driver.ClaimNextJob(ctx, claim)
}
