package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const jobColumns = `id, type, status, progress, total_items, processed_items, parameters, result,
	error_message, created_at, started_at, completed_at`

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var status string
	var params, result, errMsg sql.NullString
	var createdAt int64
	var startedAt, completedAt sql.NullInt64

	if err := row.Scan(&j.ID, &j.Type, &status, &j.Progress, &j.TotalItems, &j.ProcessedItems,
		&params, &result, &errMsg, &createdAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}

	j.Status = JobStatus(status)
	if params.Valid && params.String != "" {
		j.Parameters = json.RawMessage(params.String)
	}
	if result.Valid && result.String != "" {
		j.Result = json.RawMessage(result.String)
	}
	if errMsg.Valid {
		msg := errMsg.String
		j.ErrorMessage = &msg
	}
	j.CreatedAt = time.Unix(createdAt, 0).UTC()
	j.StartedAt = timeFromNull(startedAt)
	j.CompletedAt = timeFromNull(completedAt)
	return &j, nil
}

func rawOrNil(m json.RawMessage) any {
	if len(m) == 0 {
		return nil
	}
	return string(m)
}

// CreateJob inserts a pending job.
func (d *Database) CreateJob(ctx context.Context, jobType string, params json.RawMessage) (*Job, error) {
	done := observeQuery("create_job")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	now := nowUnix()
	id, err := d.insertID(ctx, d.db, `
		INSERT INTO jobs (type, status, progress, total_items, processed_items, parameters, created_at)
		VALUES (?, ?, 0, 0, 0, ?, ?)`,
		jobType, string(JobPending), rawOrNil(params), now)
	done(err)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s job: %w", jobType, err)
	}

	return &Job{
		ID:         id,
		Type:       jobType,
		Status:     JobPending,
		Parameters: params,
		CreatedAt:  time.Unix(now, 0).UTC(),
	}, nil
}

// GetJob returns a job by id.
func (d *Database) GetJob(ctx context.Context, id int64) (*Job, error) {
	done := observeQuery("get_job")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	job, err := scanJob(d.db.QueryRowContext(ctx, d.rebind("SELECT "+jobColumns+" FROM jobs WHERE id = ?"), id))
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	done(err)
	return job, err
}

// FindActiveJob returns the oldest pending or running job of a type, or
// ErrNotFound.
func (d *Database) FindActiveJob(ctx context.Context, jobType string) (*Job, error) {
	done := observeQuery("find_active_job")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	job, err := scanJob(d.db.QueryRowContext(ctx, d.rebind(
		"SELECT "+jobColumns+" FROM jobs WHERE type = ? AND status IN (?, ?) ORDER BY id LIMIT 1"),
		jobType, string(JobPending), string(JobRunning)))
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("active %s job: %w", jobType, ErrNotFound)
	}
	done(err)
	return job, err
}

// ListJobs returns jobs newest first.
func (d *Database) ListJobs(ctx context.Context, f JobFilter) ([]Job, error) {
	done := observeQuery("list_jobs")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := "SELECT " + jobColumns + " FROM jobs WHERE 1=1"
	var args []any
	if f.Type != "" {
		query += " AND type = ?"
		args = append(args, f.Type)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	jobs, err := d.queryJobs(ctx, d.db, query, args...)
	done(err)
	return jobs, err
}

// ListJobsByStatus returns every job in a status, oldest first.
func (d *Database) ListJobsByStatus(ctx context.Context, status JobStatus) ([]Job, error) {
	done := observeQuery("list_jobs_by_status")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	jobs, err := d.queryJobs(ctx, d.db, "SELECT "+jobColumns+" FROM jobs WHERE status = ? ORDER BY id", string(status))
	done(err)
	return jobs, err
}

func (d *Database) queryJobs(ctx context.Context, q queryer, query string, args ...any) ([]Job, error) {
	rows, err := q.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer closeRows(rows, "jobs")

	jobs := []Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// MarkJobRunning moves a pending job to running and stamps started_at.
// It reports false when the job was not pending.
func (d *Database) MarkJobRunning(ctx context.Context, id int64) (bool, error) {
	return d.transition(ctx, "mark_job_running", id, `
		UPDATE jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		string(JobRunning), nowUnix(), id, string(JobPending))
}

// UpdateJobProgress writes counters. The write is not conditioned on status,
// so a runner that outlives a force-kill keeps updating counters on the
// failed record.
func (d *Database) UpdateJobProgress(ctx context.Context, id int64, p JobProgress) error {
	done := observeQuery("update_job_progress")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := d.db.ExecContext(ctx, d.rebind(
		"UPDATE jobs SET progress = ?, total_items = ?, processed_items = ? WHERE id = ?"),
		p.Progress, p.TotalItems, p.ProcessedItems, id)
	done(err)
	return err
}

// CompleteJob moves a running job to completed with its final counts and
// result. It reports false when the job was no longer running.
func (d *Database) CompleteJob(ctx context.Context, id int64, total int, result json.RawMessage) (bool, error) {
	return d.transition(ctx, "complete_job", id, `
		UPDATE jobs SET status = ?, progress = 100, total_items = ?, processed_items = ?,
			result = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(JobCompleted), total, total, rawOrNil(result), nowUnix(), id, string(JobRunning))
}

// FailJob moves a job in one of the from states to failed.
func (d *Database) FailJob(ctx context.Context, id int64, message string, from ...JobStatus) (bool, error) {
	if len(from) == 0 {
		from = []JobStatus{JobPending, JobRunning}
	}
	args := []any{string(JobFailed), message, nowUnix(), id}
	for _, s := range from {
		args = append(args, string(s))
	}
	return d.transition(ctx, "fail_job", id,
		"UPDATE jobs SET status = ?, error_message = ?, completed_at = ? WHERE id = ? AND status IN ("+placeholders(len(from))+")",
		args...)
}

// CancelJob moves a pending job to cancelled.
func (d *Database) CancelJob(ctx context.Context, id int64) (bool, error) {
	return d.transition(ctx, "cancel_job", id,
		"UPDATE jobs SET status = ?, completed_at = ? WHERE id = ? AND status = ?",
		string(JobCancelled), nowUnix(), id, string(JobPending))
}

func (d *Database) transition(ctx context.Context, op string, id int64, query string, args ...any) (bool, error) {
	done := observeQuery(op)

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, d.rebind(query), args...)
	if err != nil {
		done(err)
		return false, fmt.Errorf("failed to update job %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	done(err)
	return n > 0, err
}

// FailRunningJobsStartedBefore marks every running job started before cutoff
// as failed and returns the jobs as they were before the update.
func (d *Database) FailRunningJobsStartedBefore(ctx context.Context, cutoff time.Time, message string) ([]Job, error) {
	done := observeQuery("fail_stalled_jobs")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var killed []Job
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		jobs, err := d.queryJobs(ctx, tx,
			"SELECT "+jobColumns+" FROM jobs WHERE status = ? AND started_at IS NOT NULL AND started_at < ? ORDER BY id",
			string(JobRunning), cutoff.Unix())
		if err != nil {
			return err
		}

		now := nowUnix()
		for _, j := range jobs {
			if _, err := tx.ExecContext(ctx, d.rebind(
				"UPDATE jobs SET status = ?, error_message = ?, completed_at = ? WHERE id = ? AND status = ?"),
				string(JobFailed), message, now, j.ID, string(JobRunning)); err != nil {
				return fmt.Errorf("failed to fail job %d: %w", j.ID, err)
			}
		}
		killed = jobs
		return nil
	})
	done(err)
	if err != nil {
		return nil, err
	}
	return killed, nil
}

// SetJobStartedAt overrides started_at, which lets tests age a job.
func (d *Database) SetJobStartedAt(ctx context.Context, id int64, t time.Time) error {
	done := observeQuery("set_job_started_at")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, d.rebind("UPDATE jobs SET started_at = ? WHERE id = ?"), t.Unix(), id)
	if err == nil {
		err = requireAffected(res, fmt.Sprintf("job %d", id))
	}
	done(err)
	return err
}
