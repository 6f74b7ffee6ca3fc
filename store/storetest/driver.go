// Package storetest provides an in-memory store.Driver for tests. The fake
// honors the same atomicity contracts as the SQL drivers: claims and owned
// updates are check-and-mutate under one lock, so concurrency tests exercise
// the real coordination semantics without a database.
package storetest

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/greenroomhq/greenroom/store"
)

type Driver struct {
	mu sync.Mutex

	jobs       map[int32]*store.Job
	sessions   map[int32]*store.Session
	utterances map[int32][]*store.Utterance // keyed by session id

	nextJobID       int32
	nextSessionID   int32
	nextUtteranceID int32
}

// New creates an empty in-memory driver.
func New() *Driver {
	return &Driver{
		jobs:       make(map[int32]*store.Job),
		sessions:   make(map[int32]*store.Session),
		utterances: make(map[int32][]*store.Utterance),
	}
}

func (d *Driver) GetDB() *sql.DB { return nil }

func (d *Driver) Close() error { return nil }

func (d *Driver) IsInitialized(_ context.Context) (bool, error) { return true, nil }

func (d *Driver) CreateJob(_ context.Context, create *store.Job) (*store.Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createJobLocked(create), nil
}

func (d *Driver) CreateJobExclusive(_ context.Context, create *store.Job) (*store.Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, job := range d.jobs {
		if job.SessionUID != create.SessionUID || job.Type != create.Type {
			continue
		}
		if job.Status == store.JobStatusPending || job.Status == store.JobStatusClaimed || job.Status == store.JobStatusRunning {
			return nil, nil
		}
	}
	return d.createJobLocked(create), nil
}

func (d *Driver) createJobLocked(create *store.Job) *store.Job {
	d.nextJobID++
	create.ID = d.nextJobID
	now := time.Now().Unix()
	if create.CreatedTs == 0 {
		create.CreatedTs = now
	}
	if create.UpdatedTs == 0 {
		create.UpdatedTs = now
	}
	copied := *create
	d.jobs[create.ID] = &copied
	return create
}

func (d *Driver) ListJobs(_ context.Context, find *store.FindJob) ([]*store.Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := make([]*store.Job, 0)
	for _, job := range d.jobs {
		if !matchJob(job, find) {
			continue
		}
		copied := *job
		list = append(list, &copied)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority > list[j].Priority
		}
		if list[i].CreatedTs != list[j].CreatedTs {
			return list[i].CreatedTs < list[j].CreatedTs
		}
		return list[i].ID < list[j].ID
	})
	if find.Limit != nil && len(list) > *find.Limit {
		list = list[:*find.Limit]
	}
	return list, nil
}

func (d *Driver) UpdateJob(_ context.Context, update *store.UpdateJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	job, ok := d.jobs[update.ID]
	if !ok {
		return nil
	}
	applyJobUpdate(job, update)
	return nil
}

func (d *Driver) UpdateJobOwned(_ context.Context, update *store.UpdateJob, workerID string, now int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	job, ok := d.jobs[update.ID]
	if !ok {
		return false, nil
	}
	if job.ClaimedBy != workerID || job.LeaseExpiresTs <= now {
		return false, nil
	}
	if job.Status != store.JobStatusClaimed && job.Status != store.JobStatusRunning {
		return false, nil
	}
	applyJobUpdate(job, update)
	return true, nil
}

func (d *Driver) ClaimNextJob(_ context.Context, claim *store.ClaimJob) (*store.Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	typeSet := make(map[string]bool, len(claim.Types))
	for _, t := range claim.Types {
		typeSet[t] = true
	}

	var candidates []*store.Job
	for _, job := range d.jobs {
		if !typeSet[job.Type] {
			continue
		}
		eligible := (job.Status == store.JobStatusPending && job.NextRetryTs <= claim.Now) ||
			((job.Status == store.JobStatusClaimed || job.Status == store.JobStatusRunning) && job.LeaseExpiresTs <= claim.Now)
		if eligible {
			candidates = append(candidates, job)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		if candidates[i].CreatedTs != candidates[j].CreatedTs {
			return candidates[i].CreatedTs < candidates[j].CreatedTs
		}
		return candidates[i].ID < candidates[j].ID
	})

	job := candidates[0]
	job.Status = store.JobStatusClaimed
	job.ClaimedBy = claim.WorkerID
	job.ClaimedTs = claim.Now
	job.LeaseExpiresTs = claim.LeaseUntil
	job.UpdatedTs = time.Now().Unix()

	copied := *job
	return &copied, nil
}

func (d *Driver) CreateSession(_ context.Context, create *store.Session) (*store.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextSessionID++
	create.ID = d.nextSessionID
	now := time.Now().Unix()
	create.CreatedTs = now
	create.UpdatedTs = now
	if create.Questions == nil {
		create.Questions = []string{}
	}
	copied := *create
	d.sessions[create.ID] = &copied
	return create, nil
}

func (d *Driver) ListSessions(_ context.Context, find *store.FindSession) ([]*store.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := make([]*store.Session, 0)
	for _, session := range d.sessions {
		if find.ID != nil && session.ID != *find.ID {
			continue
		}
		if find.UID != nil && session.UID != *find.UID {
			continue
		}
		if len(find.Statuses) > 0 && !containsStatus(find.Statuses, session.Status) {
			continue
		}
		copied := *session
		list = append(list, &copied)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	if find.Limit != nil && len(list) > *find.Limit {
		list = list[:*find.Limit]
	}
	return list, nil
}

func (d *Driver) UpdateSession(_ context.Context, update *store.UpdateSession) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	session, ok := d.sessions[update.ID]
	if !ok {
		return false, nil
	}
	if len(update.ExpectedStatuses) > 0 && !containsStatus(update.ExpectedStatuses, session.Status) {
		return false, nil
	}

	if v := update.Status; v != nil {
		session.Status = *v
	}
	if v := update.Questions; v != nil {
		session.Questions = append([]string(nil), (*v)...)
	}
	if v := update.ResearchSummary; v != nil {
		session.ResearchSummary = *v
	}
	if v := update.Angle; v != nil {
		session.Angle = *v
	}
	if v := update.AngleSecondary; v != nil {
		session.AngleSecondary = *v
	}
	if v := update.ContextNotes; v != nil {
		session.ContextNotes = *v
	}
	if update.ClearSnapshot {
		session.Snapshot = nil
	} else if v := update.Snapshot; v != nil {
		val := *v
		session.Snapshot = &val
	}
	if v := update.Analysis; v != nil {
		session.Analysis = *v
	}
	if v := update.LastError; v != nil {
		session.LastError = *v
	}
	if v := update.StartedTs; v != nil {
		session.StartedTs = *v
	}
	if v := update.PausedTs; v != nil {
		session.PausedTs = *v
	}
	if v := update.CompletedTs; v != nil {
		session.CompletedTs = *v
	}
	session.UpdatedTs = time.Now().Unix()
	return true, nil
}

func (d *Driver) CreateUtterance(_ context.Context, create *store.Utterance) (*store.Utterance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextUtteranceID++
	create.ID = d.nextUtteranceID
	create.CreatedTs = time.Now().Unix()

	var maxSeq int32
	for _, u := range d.utterances[create.SessionID] {
		if u.Seq > maxSeq {
			maxSeq = u.Seq
		}
	}
	create.Seq = maxSeq + 1

	copied := *create
	d.utterances[create.SessionID] = append(d.utterances[create.SessionID], &copied)
	return create, nil
}

func (d *Driver) ListUtterances(_ context.Context, find *store.FindUtterance) ([]*store.Utterance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := make([]*store.Utterance, 0)
	appendMatching := func(utterances []*store.Utterance) {
		for _, u := range utterances {
			if find.Seq != nil && u.Seq != *find.Seq {
				continue
			}
			if find.ExcludeStruck && u.Struck {
				continue
			}
			copied := *u
			list = append(list, &copied)
		}
	}
	if find.SessionID != nil {
		appendMatching(d.utterances[*find.SessionID])
	} else {
		for _, utterances := range d.utterances {
			appendMatching(utterances)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Seq < list[j].Seq })
	if find.Limit != nil && len(list) > *find.Limit {
		list = list[:*find.Limit]
	}
	return list, nil
}

func (d *Driver) StrikeUtterance(_ context.Context, sessionID, seq int32) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, u := range d.utterances[sessionID] {
		if u.Seq == seq {
			if u.Struck {
				return 0, nil
			}
			u.Struck = true
			return 1, nil
		}
	}
	return 0, nil
}

func matchJob(job *store.Job, find *store.FindJob) bool {
	if find.ID != nil && job.ID != *find.ID {
		return false
	}
	if find.UID != nil && job.UID != *find.UID {
		return false
	}
	if find.Type != nil && job.Type != *find.Type {
		return false
	}
	if find.SessionUID != nil && job.SessionUID != *find.SessionUID {
		return false
	}
	if len(find.Statuses) > 0 {
		found := false
		for _, status := range find.Statuses {
			if job.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func applyJobUpdate(job *store.Job, update *store.UpdateJob) {
	if v := update.Status; v != nil {
		job.Status = *v
	}
	if v := update.Attempts; v != nil {
		job.Attempts = *v
	}
	if v := update.LastError; v != nil {
		job.LastError = *v
	}
	if v := update.ClaimedBy; v != nil {
		job.ClaimedBy = *v
	}
	if v := update.ClaimedTs; v != nil {
		job.ClaimedTs = *v
	}
	if v := update.LeaseExpiresTs; v != nil {
		job.LeaseExpiresTs = *v
	}
	if v := update.NextRetryTs; v != nil {
		job.NextRetryTs = *v
	}
	if v := update.UpdatedTs; v != nil {
		job.UpdatedTs = *v
	} else {
		job.UpdatedTs = time.Now().Unix()
	}
}

func containsStatus(statuses []store.SessionStatus, status store.SessionStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
