package storage

import (
	"database/sql"
	"strings"
	"time"
)

// parseSQLiteTime parses a time string from SQLite which may be in different formats
func parseSQLiteTime(s string) time.Time {
	// Try RFC3339 first (what we write for started_at, finished_at)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	// Try SQLite datetime format (from datetime('now'))
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	// Try with timezone
	if t, err := time.Parse("2006-01-02T15:04:05Z07:00", s); err == nil {
		return t
	}
	return time.Time{}
}

// EnqueueJob creates a new review job for a pull request. If a queued or
// running job already exists for the same repo, PR and head SHA, that job
// is returned instead of creating a duplicate.
func (db *DB) EnqueueJob(repoID int64, prID *int64, prNumber int, headSHA, trigger string) (*ReviewJob, error) {
	if trigger == "" {
		trigger = TriggerAPI
	}

	// Dedupe against in-flight jobs for the same change
	var existingUUID string
	err := db.QueryRow(`
		SELECT uuid FROM review_jobs
		WHERE repo_id = ? AND pr_number = ? AND head_sha = ? AND status IN ('queued', 'running')
		ORDER BY enqueued_at DESC
		LIMIT 1
	`, repoID, prNumber, headSHA).Scan(&existingUUID)
	if err == nil {
		return db.GetJobByUUID(existingUUID)
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	jobUUID := GenerateUUID()
	now := time.Now()

	result, err := db.Exec(`INSERT INTO review_jobs (uuid, repo_id, pr_id, pr_number, head_sha, trigger_source, status) VALUES (?, ?, ?, ?, ?, ?, 'queued')`,
		jobUUID, repoID, prID, prNumber, headSHA, trigger)
	if err != nil {
		return nil, err
	}

	id, _ := result.LastInsertId()
	return &ReviewJob{
		ID:         id,
		UUID:       jobUUID,
		RepoID:     repoID,
		PRID:       prID,
		PRNumber:   prNumber,
		HeadSHA:    headSHA,
		Trigger:    trigger,
		Status:     JobStatusQueued,
		EnqueuedAt: now,
	}, nil
}

// ClaimJob atomically claims the next queued job for a worker
func (db *DB) ClaimJob(workerID string) (*ReviewJob, error) {
	now := time.Now()
	nowStr := now.Format(time.RFC3339)

	// Atomically claim a job by updating it in a single statement
	// This prevents race conditions where two workers select the same job
	result, err := db.Exec(`
		UPDATE review_jobs
		SET status = 'running', worker_id = ?, started_at = ?
		WHERE id = (
			SELECT id FROM review_jobs
			WHERE status = 'queued'
			ORDER BY enqueued_at
			LIMIT 1
		)
	`, workerID, nowStr)
	if err != nil {
		return nil, err
	}

	// Check if we claimed anything
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, nil // No jobs available
	}

	// Now fetch the job we just claimed
	var job ReviewJob
	var enqueuedAt string
	var prID sql.NullInt64
	var prTitle sql.NullString
	err = db.QueryRow(`
		SELECT j.id, j.uuid, j.repo_id, j.pr_id, j.pr_number, j.head_sha, j.trigger_source, j.status, j.enqueued_at,
		       j.retry_count, r.owner, r.name, pr.title
		FROM review_jobs j
		JOIN repos r ON r.id = j.repo_id
		LEFT JOIN pull_requests pr ON pr.id = j.pr_id
		WHERE j.worker_id = ? AND j.status = 'running'
		ORDER BY j.started_at DESC
		LIMIT 1
	`, workerID).Scan(&job.ID, &job.UUID, &job.RepoID, &prID, &job.PRNumber, &job.HeadSHA, &job.Trigger, &job.Status,
		&enqueuedAt, &job.RetryCount, &job.RepoOwner, &job.RepoName, &prTitle)
	if err != nil {
		return nil, err
	}

	if prID.Valid {
		job.PRID = &prID.Int64
	}
	if prTitle.Valid {
		job.PRTitle = prTitle.String
	}
	job.EnqueuedAt = parseSQLiteTime(enqueuedAt)
	job.Status = JobStatusRunning
	job.WorkerID = workerID
	job.StartedAt = &now
	return &job, nil
}

// CompleteJob marks a job as done and stores the review with its findings.
// Only updates if job is still in 'running' state (respects cancellation).
func (db *DB) CompleteJob(jobID int64, verdict, summary string, filesAnalyzed int, findings []Finding) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().Format(time.RFC3339)

	// Update job status only if still running (not canceled)
	result, err := tx.Exec(`UPDATE review_jobs SET status = 'done', finished_at = ? WHERE id = ? AND status = 'running'`, now, jobID)
	if err != nil {
		return err
	}

	// Check if we actually updated (job wasn't canceled)
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Job was canceled or in unexpected state, don't store review
		return nil
	}

	reviewResult, err := tx.Exec(`INSERT INTO reviews (job_id, verdict, summary, files_analyzed) VALUES (?, ?, ?, ?)`,
		jobID, verdict, summary, filesAnalyzed)
	if err != nil {
		return err
	}
	reviewID, _ := reviewResult.LastInsertId()

	for _, f := range findings {
		_, err = tx.Exec(`INSERT INTO findings (review_id, rule_id, category, severity, file, line, message, suggestion) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			reviewID, f.RuleID, f.Category, f.Severity, f.File, f.Line, f.Message, f.Suggestion)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// FailJob marks a job as failed with an error message.
// Only updates if job is still in 'running' state (respects cancellation).
func (db *DB) FailJob(jobID int64, errorMsg string) error {
	now := time.Now().Format(time.RFC3339)
	_, err := db.Exec(`UPDATE review_jobs SET status = 'failed', finished_at = ?, error = ? WHERE id = ? AND status = 'running'`,
		now, errorMsg, jobID)
	return err
}

// CancelJob marks a running or queued job as canceled
func (db *DB) CancelJob(jobID int64) error {
	now := time.Now().Format(time.RFC3339)
	result, err := db.Exec(`
		UPDATE review_jobs
		SET status = 'canceled', finished_at = ?
		WHERE id = ? AND status IN ('queued', 'running')
	`, now, jobID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RetryJob atomically resets a running job to queued for retry.
// Returns false if max retries reached or job is not in running state.
// maxRetries is the number of retries allowed (e.g., 3 means up to 4 total attempts).
func (db *DB) RetryJob(jobID int64, maxRetries int) (bool, error) {
	// Atomically update only if retry_count < maxRetries and status is running
	// This prevents race conditions with multiple workers
	result, err := db.Exec(`
		UPDATE review_jobs
		SET status = 'queued', worker_id = NULL, started_at = NULL, finished_at = NULL, error = NULL, retry_count = retry_count + 1
		WHERE id = ? AND retry_count < ? AND status = 'running'
	`, jobID, maxRetries)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

const jobSelect = `
	SELECT j.id, j.uuid, j.repo_id, j.pr_id, j.pr_number, j.head_sha, j.trigger_source, j.status, j.enqueued_at,
	       j.started_at, j.finished_at, j.worker_id, j.error, j.retry_count,
	       r.owner, r.name, pr.title, rv.verdict
	FROM review_jobs j
	JOIN repos r ON r.id = j.repo_id
	LEFT JOIN pull_requests pr ON pr.id = j.pr_id
	LEFT JOIN reviews rv ON rv.job_id = j.id
`

func scanJob(row *sql.Row) (*ReviewJob, error) {
	var j ReviewJob
	var enqueuedAt string
	var startedAt, finishedAt, workerID, errMsg, prTitle, verdict sql.NullString
	var prID sql.NullInt64

	err := row.Scan(&j.ID, &j.UUID, &j.RepoID, &prID, &j.PRNumber, &j.HeadSHA, &j.Trigger, &j.Status, &enqueuedAt,
		&startedAt, &finishedAt, &workerID, &errMsg, &j.RetryCount,
		&j.RepoOwner, &j.RepoName, &prTitle, &verdict)
	if err != nil {
		return nil, err
	}

	if prID.Valid {
		j.PRID = &prID.Int64
	}
	if prTitle.Valid {
		j.PRTitle = prTitle.String
	}
	j.EnqueuedAt = parseSQLiteTime(enqueuedAt)
	if startedAt.Valid {
		t := parseSQLiteTime(startedAt.String)
		j.StartedAt = &t
	}
	if finishedAt.Valid {
		t := parseSQLiteTime(finishedAt.String)
		j.FinishedAt = &t
	}
	if workerID.Valid {
		j.WorkerID = workerID.String
	}
	if errMsg.Valid {
		j.Error = errMsg.String
	}
	if verdict.Valid {
		j.Verdict = &verdict.String
	}
	return &j, nil
}

// GetJobByID returns a job by its internal ID with joined fields
func (db *DB) GetJobByID(id int64) (*ReviewJob, error) {
	return scanJob(db.QueryRow(jobSelect+` WHERE j.id = ?`, id))
}

// GetJobByUUID returns a job by its external review_id
func (db *DB) GetJobByUUID(jobUUID string) (*ReviewJob, error) {
	return scanJob(db.QueryRow(jobSelect+` WHERE j.uuid = ?`, jobUUID))
}

// ListJobs returns jobs with optional status and repo filters
func (db *DB) ListJobs(statusFilter, repoFilter string, limit, offset int) ([]ReviewJob, error) {
	query := jobSelect
	var args []interface{}
	var conditions []string

	if statusFilter != "" {
		conditions = append(conditions, "j.status = ?")
		args = append(args, statusFilter)
	}
	if repoFilter != "" {
		owner, name, ok := SplitFullName(repoFilter)
		if ok {
			conditions = append(conditions, "r.owner = ? AND r.name = ?")
			args = append(args, owner, name)
		} else {
			conditions = append(conditions, "r.name = ?")
			args = append(args, repoFilter)
		}
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY j.id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		// OFFSET requires LIMIT in SQLite
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []ReviewJob
	for rows.Next() {
		var j ReviewJob
		var enqueuedAt string
		var startedAt, finishedAt, workerID, errMsg, prTitle, verdict sql.NullString
		var prID sql.NullInt64

		err := rows.Scan(&j.ID, &j.UUID, &j.RepoID, &prID, &j.PRNumber, &j.HeadSHA, &j.Trigger, &j.Status, &enqueuedAt,
			&startedAt, &finishedAt, &workerID, &errMsg, &j.RetryCount,
			&j.RepoOwner, &j.RepoName, &prTitle, &verdict)
		if err != nil {
			return nil, err
		}

		if prID.Valid {
			j.PRID = &prID.Int64
		}
		if prTitle.Valid {
			j.PRTitle = prTitle.String
		}
		j.EnqueuedAt = parseSQLiteTime(enqueuedAt)
		if startedAt.Valid {
			t := parseSQLiteTime(startedAt.String)
			j.StartedAt = &t
		}
		if finishedAt.Valid {
			t := parseSQLiteTime(finishedAt.String)
			j.FinishedAt = &t
		}
		if workerID.Valid {
			j.WorkerID = workerID.String
		}
		if errMsg.Valid {
			j.Error = errMsg.String
		}
		if verdict.Valid {
			j.Verdict = &verdict.String
		}

		jobs = append(jobs, j)
	}

	return jobs, rows.Err()
}

// GetJobCounts returns counts of jobs by status
func (db *DB) GetJobCounts() (queued, running, done, failed, canceled int, err error) {
	rows, err := db.Query(`SELECT status, COUNT(*) FROM review_jobs GROUP BY status`)
	if err != nil {
		return
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err = rows.Scan(&status, &count); err != nil {
			return
		}
		switch JobStatus(status) {
		case JobStatusQueued:
			queued = count
		case JobStatusRunning:
			running = count
		case JobStatusDone:
			done = count
		case JobStatusFailed:
			failed = count
		case JobStatusCanceled:
			canceled = count
		}
	}
	err = rows.Err()
	return
}
