package storage

import (
	"database/sql"
)

// GetReviewByJobID finds a review by its job ID, including findings and job details
func (db *DB) GetReviewByJobID(jobID int64) (*Review, error) {
	var r Review
	var createdAt string
	err := db.QueryRow(`
		SELECT id, job_id, verdict, summary, files_analyzed, created_at
		FROM reviews WHERE job_id = ?
	`, jobID).Scan(&r.ID, &r.JobID, &r.Verdict, &r.Summary, &r.FilesAnalyzed, &createdAt)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = parseSQLiteTime(createdAt)

	r.Findings, err = db.GetFindingsForReview(r.ID)
	if err != nil {
		return nil, err
	}

	job, err := db.GetJobByID(jobID)
	if err != nil {
		return nil, err
	}
	r.Job = job

	return &r, nil
}

// GetFindingsForReview returns all findings for a review, worst severity first
func (db *DB) GetFindingsForReview(reviewID int64) ([]Finding, error) {
	rows, err := db.Query(`
		SELECT id, review_id, rule_id, category, severity, file, line, message, suggestion
		FROM findings
		WHERE review_id = ?
		ORDER BY
			CASE severity WHEN 'error' THEN 0 WHEN 'warning' THEN 1 ELSE 2 END,
			file, line
	`, reviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var findings []Finding
	for rows.Next() {
		var f Finding
		var suggestion sql.NullString
		if err := rows.Scan(&f.ID, &f.ReviewID, &f.RuleID, &f.Category, &f.Severity,
			&f.File, &f.Line, &f.Message, &suggestion); err != nil {
			return nil, err
		}
		f.Suggestion = suggestion.String
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

// GetRecentReviewsForRepo returns the N most recent reviews for a repo
func (db *DB) GetRecentReviewsForRepo(repoID int64, limit int) ([]Review, error) {
	rows, err := db.Query(`
		SELECT rv.id, rv.job_id, rv.verdict, rv.summary, rv.files_analyzed, rv.created_at
		FROM reviews rv
		JOIN review_jobs j ON j.id = rv.job_id
		WHERE j.repo_id = ?
		ORDER BY rv.created_at DESC
		LIMIT ?
	`, repoID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reviews []Review
	for rows.Next() {
		var r Review
		var createdAt string
		if err := rows.Scan(&r.ID, &r.JobID, &r.Verdict, &r.Summary, &r.FilesAnalyzed, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt = parseSQLiteTime(createdAt)
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

// RepoStats contains review statistics for a single repo
type RepoStats struct {
	Repo          *Repo
	TotalJobs     int
	QueuedJobs    int
	RunningJobs   int
	CompletedJobs int
	FailedJobs    int
	Approved      int
	ChangesWanted int
}

// GetRepoStats returns detailed statistics for a repo
func (db *DB) GetRepoStats(repoID int64) (*RepoStats, error) {
	repo, err := db.GetRepoByID(repoID)
	if err != nil {
		return nil, err
	}

	stats := &RepoStats{Repo: repo}

	rows, err := db.Query(`
		SELECT status, COUNT(*) FROM review_jobs WHERE repo_id = ? GROUP BY status
	`, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.TotalJobs += count
		switch JobStatus(status) {
		case JobStatusQueued:
			stats.QueuedJobs = count
		case JobStatusRunning:
			stats.RunningJobs = count
		case JobStatusDone:
			stats.CompletedJobs = count
		case JobStatusFailed:
			stats.FailedJobs = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = db.QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN rv.verdict = 'approve' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN rv.verdict = 'request_changes' THEN 1 ELSE 0 END), 0)
		FROM reviews rv
		JOIN review_jobs j ON rv.job_id = j.id
		WHERE j.repo_id = ?
	`, repoID).Scan(&stats.Approved, &stats.ChangesWanted)
	if err != nil {
		return nil, err
	}

	return stats, nil
}
