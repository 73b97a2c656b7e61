package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// GetOrCreateRepo finds or creates a repo by owner and name
func (db *DB) GetOrCreateRepo(owner, name string) (*Repo, error) {
	if owner == "" || name == "" {
		return nil, fmt.Errorf("owner and name are required")
	}

	// Try to find existing
	var repo Repo
	var cloneURL, defaultBranch sql.NullString
	var createdAt string
	err := db.QueryRow(`SELECT id, owner, name, clone_url, default_branch, created_at FROM repos WHERE owner = ? AND name = ?`, owner, name).
		Scan(&repo.ID, &repo.Owner, &repo.Name, &cloneURL, &defaultBranch, &createdAt)
	if err == nil {
		repo.CloneURL = cloneURL.String
		repo.DefaultBranch = defaultBranch.String
		repo.CreatedAt = parseSQLiteTime(createdAt)
		return &repo, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	// Create new
	result, err := db.Exec(`INSERT INTO repos (owner, name) VALUES (?, ?)`, owner, name)
	if err != nil {
		return nil, err
	}

	id, _ := result.LastInsertId()
	return &Repo{
		ID:        id,
		Owner:     owner,
		Name:      name,
		CreatedAt: time.Now(),
	}, nil
}

// GetRepoByFullName returns a repo by its "owner/name" identifier
func (db *DB) GetRepoByFullName(fullName string) (*Repo, error) {
	owner, name, ok := SplitFullName(fullName)
	if !ok {
		return nil, fmt.Errorf("invalid repository %q, expected owner/name", fullName)
	}

	var repo Repo
	var cloneURL, defaultBranch sql.NullString
	var createdAt string
	err := db.QueryRow(`SELECT id, owner, name, clone_url, default_branch, created_at FROM repos WHERE owner = ? AND name = ?`, owner, name).
		Scan(&repo.ID, &repo.Owner, &repo.Name, &cloneURL, &defaultBranch, &createdAt)
	if err != nil {
		return nil, err
	}
	repo.CloneURL = cloneURL.String
	repo.DefaultBranch = defaultBranch.String
	repo.CreatedAt = parseSQLiteTime(createdAt)
	return &repo, nil
}

// GetRepoByID returns a repo by its ID
func (db *DB) GetRepoByID(id int64) (*Repo, error) {
	var repo Repo
	var cloneURL, defaultBranch sql.NullString
	var createdAt string
	err := db.QueryRow(`SELECT id, owner, name, clone_url, default_branch, created_at FROM repos WHERE id = ?`, id).
		Scan(&repo.ID, &repo.Owner, &repo.Name, &cloneURL, &defaultBranch, &createdAt)
	if err != nil {
		return nil, err
	}
	repo.CloneURL = cloneURL.String
	repo.DefaultBranch = defaultBranch.String
	repo.CreatedAt = parseSQLiteTime(createdAt)
	return &repo, nil
}

// ListRepos returns all repos in the database
func (db *DB) ListRepos() ([]Repo, error) {
	rows, err := db.Query(`SELECT id, owner, name, clone_url, default_branch, created_at FROM repos ORDER BY owner, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []Repo
	for rows.Next() {
		var r Repo
		var cloneURL, defaultBranch sql.NullString
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Owner, &r.Name, &cloneURL, &defaultBranch, &createdAt); err != nil {
			return nil, err
		}
		r.CloneURL = cloneURL.String
		r.DefaultBranch = defaultBranch.String
		r.CreatedAt = parseSQLiteTime(createdAt)
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// UpdateRepoDetails records the clone URL and default branch learned from GitHub
func (db *DB) UpdateRepoDetails(repoID int64, cloneURL, defaultBranch string) error {
	_, err := db.Exec(`UPDATE repos SET clone_url = ?, default_branch = ? WHERE id = ?`,
		cloneURL, defaultBranch, repoID)
	return err
}

// SplitFullName splits "owner/name" into its parts
func SplitFullName(fullName string) (owner, name string, ok bool) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// UpsertPullRequest inserts or updates the tracked state of a pull request
func (db *DB) UpsertPullRequest(pr *PullRequest) (*PullRequest, error) {
	now := time.Now()
	nowStr := now.Format(time.RFC3339)
	merged := 0
	if pr.Merged {
		merged = 1
	}

	_, err := db.Exec(`
		INSERT INTO pull_requests (repo_id, number, title, author, head_sha, base_branch, state, merged, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id, number) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			head_sha = excluded.head_sha,
			base_branch = excluded.base_branch,
			state = excluded.state,
			merged = excluded.merged,
			updated_at = excluded.updated_at
	`, pr.RepoID, pr.Number, pr.Title, pr.Author, pr.HeadSHA, pr.BaseBranch, pr.State, merged, nowStr)
	if err != nil {
		return nil, err
	}

	return db.GetPullRequest(pr.RepoID, pr.Number)
}

// GetPullRequest returns a tracked pull request by repo and number
func (db *DB) GetPullRequest(repoID int64, number int) (*PullRequest, error) {
	var pr PullRequest
	var baseBranch sql.NullString
	var merged int
	var createdAt, updatedAt string
	err := db.QueryRow(`
		SELECT id, repo_id, number, title, author, head_sha, base_branch, state, merged, created_at, updated_at
		FROM pull_requests WHERE repo_id = ? AND number = ?
	`, repoID, number).Scan(&pr.ID, &pr.RepoID, &pr.Number, &pr.Title, &pr.Author, &pr.HeadSHA,
		&baseBranch, &pr.State, &merged, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	pr.BaseBranch = baseBranch.String
	pr.Merged = merged != 0
	pr.CreatedAt = parseSQLiteTime(createdAt)
	pr.UpdatedAt = parseSQLiteTime(updatedAt)
	return &pr, nil
}

// ListOpenPullRequests returns open pull requests for a repo
func (db *DB) ListOpenPullRequests(repoID int64) ([]PullRequest, error) {
	rows, err := db.Query(`
		SELECT id, repo_id, number, title, author, head_sha, base_branch, state, merged, created_at, updated_at
		FROM pull_requests WHERE repo_id = ? AND state = 'open'
		ORDER BY number
	`, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prs []PullRequest
	for rows.Next() {
		var pr PullRequest
		var baseBranch sql.NullString
		var merged int
		var createdAt, updatedAt string
		if err := rows.Scan(&pr.ID, &pr.RepoID, &pr.Number, &pr.Title, &pr.Author, &pr.HeadSHA,
			&baseBranch, &pr.State, &merged, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		pr.BaseBranch = baseBranch.String
		pr.Merged = merged != 0
		pr.CreatedAt = parseSQLiteTime(createdAt)
		pr.UpdatedAt = parseSQLiteTime(updatedAt)
		prs = append(prs, pr)
	}
	return prs, rows.Err()
}
