package storage

import (
	"time"
)

// ReplacePatterns atomically replaces the stored patterns for a repo with a
// fresh set mined by the analyzer. Patterns are repo-scoped snapshots, so a
// full replace is simpler and safer than reconciling diffs.
func (db *DB) ReplacePatterns(repoID int64, patterns []CodePattern) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM code_patterns WHERE repo_id = ?`, repoID); err != nil {
		return err
	}

	now := time.Now().Format(time.RFC3339)
	for _, p := range patterns {
		_, err = tx.Exec(`INSERT INTO code_patterns (repo_id, pattern_type, pattern_data, frequency, updated_at) VALUES (?, ?, ?, ?, ?)`,
			repoID, p.PatternType, p.PatternData, p.Frequency, now)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListPatterns returns stored patterns for a repo, optionally filtered by type
func (db *DB) ListPatterns(repoID int64, patternType string) ([]CodePattern, error) {
	query := `SELECT id, repo_id, pattern_type, pattern_data, frequency, updated_at FROM code_patterns WHERE repo_id = ?`
	args := []interface{}{repoID}
	if patternType != "" {
		query += ` AND pattern_type = ?`
		args = append(args, patternType)
	}
	query += ` ORDER BY frequency DESC, id`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []CodePattern
	for rows.Next() {
		var p CodePattern
		var updatedAt string
		if err := rows.Scan(&p.ID, &p.RepoID, &p.PatternType, &p.PatternData, &p.Frequency, &updatedAt); err != nil {
			return nil, err
		}
		p.UpdatedAt = parseSQLiteTime(updatedAt)
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// ReplaceDependencies atomically replaces the dependency graph rows for a repo
func (db *DB) ReplaceDependencies(repoID int64, deps []Dependency) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM dependencies WHERE repo_id = ?`, repoID); err != nil {
		return err
	}

	for _, d := range deps {
		depType := d.DependencyType
		if depType == "" {
			depType = "import"
		}
		_, err = tx.Exec(`INSERT OR IGNORE INTO dependencies (repo_id, source_file, target_file, dependency_type) VALUES (?, ?, ?, ?)`,
			repoID, d.SourceFile, d.TargetFile, depType)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListDependencies returns the stored dependency edges for a repo
func (db *DB) ListDependencies(repoID int64) ([]Dependency, error) {
	rows, err := db.Query(`
		SELECT id, repo_id, source_file, target_file, dependency_type
		FROM dependencies WHERE repo_id = ?
		ORDER BY source_file, target_file
	`, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deps []Dependency
	for rows.Next() {
		var d Dependency
		if err := rows.Scan(&d.ID, &d.RepoID, &d.SourceFile, &d.TargetFile, &d.DependencyType); err != nil {
			return nil, err
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// DependentsOf returns the files in a repo that import the given file.
// Used to flag changes with wide blast radius.
func (db *DB) DependentsOf(repoID int64, targetFile string) ([]string, error) {
	rows, err := db.Query(`
		SELECT source_file FROM dependencies
		WHERE repo_id = ? AND target_file = ?
		ORDER BY source_file
	`, repoID, targetFile)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// GetPatternByID returns a single stored pattern
func (db *DB) GetPatternByID(id int64) (*CodePattern, error) {
	var p CodePattern
	var updatedAt string
	err := db.QueryRow(`SELECT id, repo_id, pattern_type, pattern_data, frequency, updated_at FROM code_patterns WHERE id = ?`, id).
		Scan(&p.ID, &p.RepoID, &p.PatternType, &p.PatternData, &p.Frequency, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.UpdatedAt = parseSQLiteTime(updatedAt)
	return &p, nil
}
