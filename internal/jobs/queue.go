// Package jobs is the rebuild job queue. Jobs live in the impact_jobs table
// of the relational database; the database, not any in-memory lock, is the
// arbiter of exclusivity, so at most one job is running across the process.
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"ariadne/internal/apperr"
	"ariadne/internal/graph"
	"ariadne/internal/logging"
)

// Job statuses.
const (
	StatusPending  = "pending"
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Job modes.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// Job is one rebuild job. Terminal jobs (complete/failed) are never
// reopened.
type Job struct {
	JobID          string     `json:"job_id"`
	Mode           string     `json:"mode"`
	Status         string     `json:"status"`
	Progress       int        `json:"progress"`
	TotalFiles     int        `json:"total_files"`
	ProcessedFiles int        `json:"processed_files"`
	TargetPaths    []string   `json:"target_paths,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Queue manages the job table through the graph manager, so job state
// survives database swaps only as far as the swapped file carries it; a
// full rebuild recreates its own job row during ingestion bookkeeping.
type Queue struct {
	mgr *graph.Manager
}

// NewQueue creates a queue over the live database.
func NewQueue(mgr *graph.Manager) *Queue {
	return &Queue{mgr: mgr}
}

const jobColumns = `job_id, mode, status, progress, total_files, processed_files, target_paths, started_at, completed_at, error_message, created_at`

// Create inserts a pending job and returns it.
func (q *Queue) Create(ctx context.Context, mode string, targetPaths []string) (Job, error) {
	if mode != ModeFull && mode != ModeIncremental {
		return Job{}, apperr.New(apperr.KindInvalidArgument, "unknown job mode %q", mode)
	}
	st, release := q.mgr.Acquire()
	defer release()

	job := Job{
		JobID:       uuid.NewString(),
		Mode:        mode,
		Status:      StatusPending,
		TargetPaths: targetPaths,
		CreatedAt:   time.Now().UTC(),
	}
	var paths interface{}
	if len(targetPaths) > 0 {
		b, err := json.Marshal(targetPaths)
		if err != nil {
			return Job{}, apperr.Wrap(apperr.KindInvalidArgument, err, "marshal target paths")
		}
		paths = string(b)
	}
	_, err := st.DB().ExecContext(ctx, `
		INSERT INTO impact_jobs (job_id, mode, status, progress, total_files, processed_files, target_paths, created_at)
		VALUES (?,?,?,0,0,0,?,?)`,
		job.JobID, job.Mode, job.Status, paths, job.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Job{}, apperr.Wrap(apperr.KindUnavailable, err, "create job")
	}
	logging.Get(logging.CategoryJobs).Infow("job created", "job_id", job.JobID, "mode", mode)
	return job, nil
}

// Get returns one job by id.
func (q *Queue) Get(ctx context.Context, jobID string) (Job, error) {
	st, release := q.mgr.Acquire()
	defer release()
	row := st.DB().QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM impact_jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return Job{}, apperr.New(apperr.KindNotFound, "job %q not found", jobID)
	}
	if err != nil {
		return Job{}, apperr.Wrap(apperr.KindUnavailable, err, "get job %s", jobID)
	}
	return job, nil
}

// GetPending returns the oldest pending job, or NotFound.
func (q *Queue) GetPending(ctx context.Context) (Job, error) {
	return q.firstWithStatus(ctx, StatusPending)
}

// GetRunning returns the running job, or NotFound.
func (q *Queue) GetRunning(ctx context.Context) (Job, error) {
	return q.firstWithStatus(ctx, StatusRunning)
}

func (q *Queue) firstWithStatus(ctx context.Context, status string) (Job, error) {
	st, release := q.mgr.Acquire()
	defer release()
	row := st.DB().QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM impact_jobs WHERE status = ? ORDER BY created_at LIMIT 1`, status)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return Job{}, apperr.New(apperr.KindNotFound, "no %s job", status)
	}
	if err != nil {
		return Job{}, apperr.Wrap(apperr.KindUnavailable, err, "query %s job", status)
	}
	return job, nil
}

// List returns jobs newest-first, optionally filtered by status.
func (q *Queue) List(ctx context.Context, status string, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	st, release := q.mgr.Acquire()
	defer release()

	query := `SELECT ` + jobColumns + ` FROM impact_jobs`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := st.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "list jobs")
	}
	defer rows.Close()
	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, err, "scan job")
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// Acquire atomically transitions a pending job to running. The single
// guarded UPDATE ... RETURNING replaces any read-then-write check: exactly
// one concurrent caller observes the returned row; the rest get Conflict.
// Acquisition also fails with Conflict while any other job is running.
func (q *Queue) Acquire(ctx context.Context, jobID string) (Job, error) {
	st, release := q.mgr.Acquire()
	defer release()

	row := st.DB().QueryRowContext(ctx, `
		UPDATE impact_jobs
		SET status = 'running', started_at = ?
		WHERE job_id = ?
		  AND status = 'pending'
		  AND NOT EXISTS (SELECT 1 FROM impact_jobs WHERE status = 'running')
		RETURNING `+jobColumns,
		time.Now().UTC().Format(time.RFC3339Nano), jobID)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		// Distinguish a lost race from a missing job.
		if _, gerr := q.getUnlocked(ctx, st, jobID); gerr != nil {
			return Job{}, gerr
		}
		return Job{}, apperr.New(apperr.KindConflict, "job %q already acquired or another job is running", jobID)
	}
	if err != nil {
		return Job{}, apperr.Wrap(apperr.KindUnavailable, err, "acquire job %s", jobID)
	}
	logging.Get(logging.CategoryJobs).Infow("job acquired", "job_id", jobID)
	return job, nil
}

func (q *Queue) getUnlocked(ctx context.Context, st *graph.Store, jobID string) (Job, error) {
	row := st.DB().QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM impact_jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return Job{}, apperr.New(apperr.KindNotFound, "job %q not found", jobID)
	}
	if err != nil {
		return Job{}, apperr.Wrap(apperr.KindUnavailable, err, "get job %s", jobID)
	}
	return job, nil
}

// Progress updates a running job's progress counters.
func (q *Queue) Progress(ctx context.Context, jobID string, progress, totalFiles, processedFiles int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	st, release := q.mgr.Acquire()
	defer release()
	_, err := st.DB().ExecContext(ctx, `
		UPDATE impact_jobs SET progress = ?, total_files = ?, processed_files = ?
		WHERE job_id = ? AND status = 'running'`,
		progress, totalFiles, processedFiles, jobID)
	return apperr.Wrap(apperr.KindUnavailable, err, "update progress for %s", jobID)
}

// Complete marks a running job complete at 100%. Terminal jobs are never
// reopened, so the guard is on status='running'.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	st, release := q.mgr.Acquire()
	defer release()
	res, err := st.DB().ExecContext(ctx, `
		UPDATE impact_jobs SET status = 'complete', progress = 100, completed_at = ?
		WHERE job_id = ? AND status = 'running'`,
		time.Now().UTC().Format(time.RFC3339Nano), jobID)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, err, "complete job %s", jobID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindConflict, "job %q is not running", jobID)
	}
	logging.Get(logging.CategoryJobs).Infow("job complete", "job_id", jobID)
	return nil
}

// Fail marks a running job failed with the error message.
func (q *Queue) Fail(ctx context.Context, jobID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	st, release := q.mgr.Acquire()
	defer release()
	res, err := st.DB().ExecContext(ctx, `
		UPDATE impact_jobs SET status = 'failed', error_message = ?, completed_at = ?
		WHERE job_id = ? AND status = 'running'`,
		msg, time.Now().UTC().Format(time.RFC3339Nano), jobID)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, err, "fail job %s", jobID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindConflict, "job %q is not running", jobID)
	}
	logging.Get(logging.CategoryJobs).Warnw("job failed", "job_id", jobID, "error", msg)
	return nil
}

func scanJob(r interface{ Scan(...interface{}) error }) (Job, error) {
	var (
		job                           Job
		paths, started, completed, em sql.NullString
		created                       string
	)
	err := r.Scan(&job.JobID, &job.Mode, &job.Status, &job.Progress, &job.TotalFiles,
		&job.ProcessedFiles, &paths, &started, &completed, &em, &created)
	if err != nil {
		return Job{}, err
	}
	if paths.Valid && paths.String != "" {
		if jerr := json.Unmarshal([]byte(paths.String), &job.TargetPaths); jerr != nil {
			logging.Get(logging.CategoryJobs).Warnw("corrupt target_paths column", "job_id", job.JobID)
		}
	}
	if started.Valid {
		if ts, perr := time.Parse(time.RFC3339Nano, started.String); perr == nil {
			job.StartedAt = &ts
		}
	}
	if completed.Valid {
		if ts, perr := time.Parse(time.RFC3339Nano, completed.String); perr == nil {
			job.CompletedAt = &ts
		}
	}
	job.ErrorMessage = em.String
	if ts, perr := time.Parse(time.RFC3339Nano, created); perr == nil {
		job.CreatedAt = ts
	}
	return job, nil
}
