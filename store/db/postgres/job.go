package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/greenroomhq/greenroom/store"
)

const jobColumns = "id, uid, type, session_uid, payload, status, priority, attempts, max_attempts, last_error, claimed_by, claimed_ts, lease_expires_ts, next_retry_ts, created_ts, updated_ts"

func (d *DB) CreateJob(ctx context.Context, create *store.Job) (*store.Job, error) {
	fields := []string{"uid", "type", "session_uid", "payload", "status", "priority", "max_attempts", "next_retry_ts"}
	args := []any{create.UID, create.Type, create.SessionUID, create.Payload, create.Status, create.Priority, create.MaxAttempts, create.NextRetryTs}

	if create.CreatedTs != 0 {
		fields = append(fields, "created_ts")
		args = append(args, create.CreatedTs)
	}
	if create.UpdatedTs != 0 {
		fields = append(fields, "updated_ts")
		args = append(args, create.UpdatedTs)
	}

	stmt := `INSERT INTO job (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id, created_ts, updated_ts`

	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&create.ID,
		&create.CreatedTs,
		&create.UpdatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	return create, nil
}

func (d *DB) CreateJobExclusive(ctx context.Context, create *store.Job) (*store.Job, error) {
	// idx_job_live_exclusive makes concurrent inserts for the same session
	// and type collide; the loser sees no returned row.
	stmt := `INSERT INTO job (uid, type, session_uid, payload, status, priority, max_attempts, next_retry_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_uid, type) WHERE status IN ('pending', 'claimed', 'running') DO NOTHING
		RETURNING id, created_ts, updated_ts`

	err := d.db.QueryRowContext(ctx, stmt,
		create.UID, create.Type, create.SessionUID, create.Payload, create.Status, create.Priority, create.MaxAttempts, create.NextRetryTs,
	).Scan(
		&create.ID,
		&create.CreatedTs,
		&create.UpdatedTs,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to create job exclusively: %w", err)
	}
	return create, nil
}

func (d *DB) ListJobs(ctx context.Context, find *store.FindJob) ([]*store.Job, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "job.id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UID; v != nil {
		where, args = append(where, "job.uid = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Type; v != nil {
		where, args = append(where, "job.type = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.SessionUID; v != nil {
		where, args = append(where, "job.session_uid = "+placeholder(len(args)+1)), append(args, *v)
	}
	if len(find.Statuses) > 0 {
		list := []string{}
		for _, status := range find.Statuses {
			list = append(list, placeholder(len(args)+1))
			args = append(args, status)
		}
		where = append(where, "job.status IN ("+strings.Join(list, ", ")+")")
	}

	query := `SELECT ` + jobColumns + ` FROM job WHERE ` + strings.Join(where, " AND ") + ` ORDER BY priority DESC, created_ts ASC, id ASC`
	if find.Limit != nil {
		query = fmt.Sprintf("%s LIMIT %d", query, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}

	return list, nil
}

func (d *DB) UpdateJob(ctx context.Context, update *store.UpdateJob) error {
	set, args := jobUpdateSet(update)
	if len(set) == 0 {
		return nil
	}
	args = append(args, update.ID)

	stmt := `UPDATE job SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args))
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

func (d *DB) UpdateJobOwned(ctx context.Context, update *store.UpdateJob, workerID string, now int64) (bool, error) {
	set, args := jobUpdateSet(update)
	if len(set) == 0 {
		return false, nil
	}
	args = append(args, update.ID, workerID, now)

	stmt := `UPDATE job SET ` + strings.Join(set, ", ") + `
		WHERE id = ` + placeholder(len(args)-2) + `
			AND claimed_by = ` + placeholder(len(args)-1) + `
			AND lease_expires_ts > ` + placeholder(len(args)) + `
			AND status IN ('claimed', 'running')`
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update owned job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

func (d *DB) ClaimNextJob(ctx context.Context, claim *store.ClaimJob) (*store.Job, error) {
	if len(claim.Types) == 0 {
		return nil, nil
	}

	args := []any{claim.WorkerID, claim.Now, claim.LeaseUntil, time.Now().Unix()}
	typeList := []string{}
	for _, t := range claim.Types {
		typeList = append(typeList, placeholder(len(args)+1))
		args = append(args, t)
	}
	nowPh := placeholder(len(args) + 1)
	args = append(args, claim.Now)

	// FOR UPDATE SKIP LOCKED makes the selection race-free: concurrent
	// claimers skip rows another transaction is already claiming.
	stmt := `UPDATE job
		SET status = 'claimed', claimed_by = $1, claimed_ts = $2, lease_expires_ts = $3, updated_ts = $4
		WHERE id = (
			SELECT id FROM job
			WHERE type IN (` + strings.Join(typeList, ", ") + `)
				AND (
					(status = 'pending' AND next_retry_ts <= ` + nowPh + `)
					OR (status IN ('claimed', 'running') AND lease_expires_ts <= ` + nowPh + `)
				)
			ORDER BY priority DESC, created_ts ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	job, err := scanJob(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

func jobUpdateSet(update *store.UpdateJob) ([]string, []any) {
	set, args := []string{}, []any{}
	if v := update.Status; v != nil {
		set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Attempts; v != nil {
		set, args = append(set, "attempts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.LastError; v != nil {
		set, args = append(set, "last_error = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.ClaimedBy; v != nil {
		set, args = append(set, "claimed_by = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.ClaimedTs; v != nil {
		set, args = append(set, "claimed_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.LeaseExpiresTs; v != nil {
		set, args = append(set, "lease_expires_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.NextRetryTs; v != nil {
		set, args = append(set, "next_retry_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.UpdatedTs; v != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *v)
	} else if len(set) > 0 {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, time.Now().Unix())
	}
	return set, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*store.Job, error) {
	job := &store.Job{}
	if err := row.Scan(
		&job.ID,
		&job.UID,
		&job.Type,
		&job.SessionUID,
		&job.Payload,
		&job.Status,
		&job.Priority,
		&job.Attempts,
		&job.MaxAttempts,
		&job.LastError,
		&job.ClaimedBy,
		&job.ClaimedTs,
		&job.LeaseExpiresTs,
		&job.NextRetryTs,
		&job.CreatedTs,
		&job.UpdatedTs,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	return job, nil
}
