package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// Job model related methods.
	CreateJob(ctx context.Context, create *Job) (*Job, error)

	// CreateJobExclusive inserts the job only when no live job (pending,
	// claimed, or running) of the same type exists for the session, as one
	// atomic statement. Returns nil when a live duplicate exists.
	CreateJobExclusive(ctx context.Context, create *Job) (*Job, error)
	ListJobs(ctx context.Context, find *FindJob) ([]*Job, error)
	UpdateJob(ctx context.Context, update *UpdateJob) error

	// UpdateJobOwned applies the update only while workerID holds a live
	// lease (claimed_by matches and lease_expires_ts > now). Returns whether
	// a row was updated.
	UpdateJobOwned(ctx context.Context, update *UpdateJob, workerID string, now int64) (bool, error)

	// ClaimNextJob atomically selects and claims one eligible job in a
	// single conditional statement. Returns nil when no job is eligible.
	ClaimNextJob(ctx context.Context, claim *ClaimJob) (*Job, error)

	// Session model related methods.
	CreateSession(ctx context.Context, create *Session) (*Session, error)
	ListSessions(ctx context.Context, find *FindSession) ([]*Session, error)
	UpdateSession(ctx context.Context, update *UpdateSession) (bool, error)

	// Utterance model related methods.
	CreateUtterance(ctx context.Context, create *Utterance) (*Utterance, error)
	ListUtterances(ctx context.Context, find *FindUtterance) ([]*Utterance, error)
	StrikeUtterance(ctx context.Context, sessionID, seq int32) (int64, error)
}
