package repo

import (
	"context"
	"database/sql"

	"github.com/ferangarita01/rentman-sub000/internal/domain"
)

// Analysis job statuses.
const (
	JobPending = "pending"
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

// EnqueueAnalysis inserts a pending job for the task unless one already exists.
func (r Repo) EnqueueAnalysis(ctx context.Context, tx *sql.Tx, taskID, now string) (bool, error) {
	res, err := r.conn(tx).ExecContext(ctx, r.q(`INSERT INTO analysis_jobs(task_id,status,attempts,next_run_at,created_at,updated_at) VALUES (?,?,0,?,?,?)
ON CONFLICT(task_id) DO NOTHING`), taskID, JobPending, now, now, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func scanJob(row rowScanner) (domain.AnalysisJob, error) {
	var j domain.AnalysisJob
	var lastErr sql.NullString
	err := row.Scan(&j.TaskID, &j.Status, &j.Attempts, &j.NextRunAt, &lastErr, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	j.LastError = ptrFromNull(lastErr)
	return j, err
}

func (r Repo) GetJob(ctx context.Context, taskID string) (domain.AnalysisJob, error) {
	return scanJob(r.DB.QueryRowContext(ctx, r.q(`SELECT task_id,status,attempts,next_run_at,last_error,created_at,updated_at FROM analysis_jobs WHERE task_id=?`), taskID))
}

func (r Repo) ListJobs(ctx context.Context, status string, limit int) ([]domain.AnalysisJob, error) {
	query := `SELECT task_id,status,attempts,next_run_at,last_error,created_at,updated_at FROM analysis_jobs`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY next_run_at, task_id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AnalysisJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

// ClaimDueJobs marks up to limit due pending jobs as running and returns them
// with their incremented attempt counter.
func (r Repo) ClaimDueJobs(ctx context.Context, now string, limit int) ([]domain.AnalysisJob, error) {
	due, err := r.dueJobIDs(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	var claimed []domain.AnalysisJob
	for _, id := range due {
		res, err := r.DB.ExecContext(ctx, r.q(`UPDATE analysis_jobs SET status=?, attempts=attempts+1, updated_at=? WHERE task_id=? AND status=?`),
			JobRunning, now, id, JobPending)
		if err := expectOne(res, err, ErrConflict); err != nil {
			if err == ErrConflict {
				continue
			}
			return claimed, err
		}
		j, err := r.GetJob(ctx, id)
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, j)
	}
	return claimed, nil
}

func (r Repo) dueJobIDs(ctx context.Context, now string, limit int) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT task_id FROM analysis_jobs WHERE status=? AND next_run_at<=? ORDER BY next_run_at, task_id LIMIT ?`),
		JobPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FinishJob closes a running job with a terminal status.
func (r Repo) FinishJob(ctx context.Context, tx *sql.Tx, taskID, status string, lastErr *string, now string) error {
	res, err := r.conn(tx).ExecContext(ctx, r.q(`UPDATE analysis_jobs SET status=?, last_error=?, updated_at=? WHERE task_id=? AND status=?`),
		status, nullableStringPtr(lastErr), now, taskID, JobRunning)
	return expectOne(res, err, ErrConflict)
}

// RetryJob returns a running job to the queue with a new due time.
func (r Repo) RetryJob(ctx context.Context, taskID, lastErr, nextRunAt, now string) error {
	res, err := r.DB.ExecContext(ctx, r.q(`UPDATE analysis_jobs SET status=?, last_error=?, next_run_at=?, updated_at=? WHERE task_id=? AND status=?`),
		JobPending, lastErr, nextRunAt, now, taskID, JobRunning)
	return expectOne(res, err, ErrConflict)
}

// RequeueRunningJobs puts jobs orphaned by a previous process back in the queue.
func (r Repo) RequeueRunningJobs(ctx context.Context, now string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, r.q(`UPDATE analysis_jobs SET status=?, next_run_at=?, updated_at=? WHERE status=?`),
		JobPending, now, now, JobRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
