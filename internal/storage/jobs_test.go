package storage

import (
	"database/sql"
	"testing"
)

func TestEnqueueAndClaimJob(t *testing.T) {
	db := openTestDB(t)

	repo, err := db.GetOrCreateRepo("acme", "widgets")
	if err != nil {
		t.Fatal(err)
	}

	job, err := db.EnqueueJob(repo.ID, nil, 42, "abc123", TriggerWebhook)
	if err != nil {
		t.Fatal(err)
	}
	if job.UUID == "" {
		t.Error("expected job to get a review_id")
	}
	if job.Status != JobStatusQueued {
		t.Errorf("expected queued, got %s", job.Status)
	}

	claimed, err := db.ClaimJob("worker-1")
	if err != nil {
		t.Fatal(err)
	}
	if claimed == nil {
		t.Fatal("expected to claim a job")
	}
	if claimed.ID != job.ID {
		t.Errorf("claimed wrong job: %d != %d", claimed.ID, job.ID)
	}
	if claimed.Status != JobStatusRunning {
		t.Errorf("expected running, got %s", claimed.Status)
	}
	if claimed.RepoOwner != "acme" || claimed.RepoName != "widgets" {
		t.Errorf("expected joined repo fields, got %s/%s", claimed.RepoOwner, claimed.RepoName)
	}

	// Queue is empty now
	second, err := db.ClaimJob("worker-2")
	if err != nil {
		t.Fatal(err)
	}
	if second != nil {
		t.Errorf("expected no job, claimed %d", second.ID)
	}
}

func TestEnqueueJobDedupes(t *testing.T) {
	db := openTestDB(t)

	repo, _ := db.GetOrCreateRepo("acme", "widgets")

	first, err := db.EnqueueJob(repo.ID, nil, 42, "abc123", TriggerAPI)
	if err != nil {
		t.Fatal(err)
	}
	second, err := db.EnqueueJob(repo.ID, nil, 42, "abc123", TriggerAPI)
	if err != nil {
		t.Fatal(err)
	}
	if second.UUID != first.UUID {
		t.Errorf("expected dedupe to return existing job, got %s != %s", second.UUID, first.UUID)
	}

	// Different head SHA is a new job
	third, err := db.EnqueueJob(repo.ID, nil, 42, "def456", TriggerAPI)
	if err != nil {
		t.Fatal(err)
	}
	if third.UUID == first.UUID {
		t.Error("expected new job for new head SHA")
	}
}

func TestClaimJobOrdering(t *testing.T) {
	db := openTestDB(t)

	repo, _ := db.GetOrCreateRepo("acme", "widgets")
	first, _ := db.EnqueueJob(repo.ID, nil, 1, "aaa", TriggerAPI)
	db.EnqueueJob(repo.ID, nil, 2, "bbb", TriggerAPI)

	// Make ordering deterministic; enqueued_at has second granularity
	db.Exec(`UPDATE review_jobs SET enqueued_at = datetime('now', '-1 minute') WHERE id = ?`, first.ID)

	claimed, err := db.ClaimJob("worker-1")
	if err != nil {
		t.Fatal(err)
	}
	if claimed.ID != first.ID {
		t.Errorf("expected FIFO claim of job %d, got %d", first.ID, claimed.ID)
	}
}

func TestCompleteJobStoresReviewAndFindings(t *testing.T) {
	db := openTestDB(t)

	repo, _ := db.GetOrCreateRepo("acme", "widgets")
	job, _ := db.EnqueueJob(repo.ID, nil, 1, "abc123", TriggerAPI)
	db.ClaimJob("worker-1")

	findings := []Finding{
		{RuleID: "style/line-length", Category: "style", Severity: "warning", File: "main.go", Line: 10, Message: "line exceeds 120 characters"},
		{RuleID: "security/hardcoded-secret", Category: "security", Severity: "error", File: "auth.go", Line: 3, Message: "hardcoded credential"},
	}
	if err := db.CompleteJob(job.ID, VerdictRequestChanges, "2 findings", 5, findings); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetJobByID(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != JobStatusDone {
		t.Errorf("expected done, got %s", got.Status)
	}
	if got.Verdict == nil || *got.Verdict != VerdictRequestChanges {
		t.Errorf("expected verdict joined onto job, got %v", got.Verdict)
	}

	review, err := db.GetReviewByJobID(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if review.FilesAnalyzed != 5 {
		t.Errorf("expected 5 files analyzed, got %d", review.FilesAnalyzed)
	}
	if len(review.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(review.Findings))
	}
	// Errors sort before warnings
	if review.Findings[0].Severity != "error" {
		t.Errorf("expected error finding first, got %s", review.Findings[0].Severity)
	}
}

func TestCompleteJobRespectsCancellation(t *testing.T) {
	db := openTestDB(t)

	repo, _ := db.GetOrCreateRepo("acme", "widgets")
	job, _ := db.EnqueueJob(repo.ID, nil, 1, "abc123", TriggerAPI)
	db.ClaimJob("worker-1")

	if err := db.CancelJob(job.ID); err != nil {
		t.Fatal(err)
	}

	// Worker finishing after cancel must not flip status or store a review
	if err := db.CompleteJob(job.ID, VerdictApprove, "clean", 1, nil); err != nil {
		t.Fatal(err)
	}

	got, _ := db.GetJobByID(job.ID)
	if got.Status != JobStatusCanceled {
		t.Errorf("expected canceled, got %s", got.Status)
	}
	if _, err := db.GetReviewByJobID(job.ID); err != sql.ErrNoRows {
		t.Errorf("expected no review stored, got %v", err)
	}
}

func TestFailJob(t *testing.T) {
	db := openTestDB(t)

	repo, _ := db.GetOrCreateRepo("acme", "widgets")
	job, _ := db.EnqueueJob(repo.ID, nil, 1, "abc123", TriggerAPI)
	db.ClaimJob("worker-1")

	if err := db.FailJob(job.ID, "clone failed"); err != nil {
		t.Fatal(err)
	}

	got, _ := db.GetJobByID(job.ID)
	if got.Status != JobStatusFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
	if got.Error != "clone failed" {
		t.Errorf("expected error message, got %q", got.Error)
	}
}

func TestRetryJobBounded(t *testing.T) {
	db := openTestDB(t)

	repo, _ := db.GetOrCreateRepo("acme", "widgets")
	job, _ := db.EnqueueJob(repo.ID, nil, 1, "abc123", TriggerAPI)

	maxRetries := 2
	for i := 0; i < maxRetries; i++ {
		if _, err := db.ClaimJob("worker-1"); err != nil {
			t.Fatal(err)
		}
		retried, err := db.RetryJob(job.ID, maxRetries)
		if err != nil {
			t.Fatal(err)
		}
		if !retried {
			t.Fatalf("expected retry %d to succeed", i+1)
		}
	}

	// Retry budget exhausted
	if _, err := db.ClaimJob("worker-1"); err != nil {
		t.Fatal(err)
	}
	retried, err := db.RetryJob(job.ID, maxRetries)
	if err != nil {
		t.Fatal(err)
	}
	if retried {
		t.Error("expected retry to fail after max retries")
	}
}

func TestCancelJobStates(t *testing.T) {
	db := openTestDB(t)

	repo, _ := db.GetOrCreateRepo("acme", "widgets")
	job, _ := db.EnqueueJob(repo.ID, nil, 1, "abc123", TriggerAPI)

	// Cancel while queued
	if err := db.CancelJob(job.ID); err != nil {
		t.Fatal(err)
	}

	// Cancel again is a no-op error
	if err := db.CancelJob(job.ID); err != sql.ErrNoRows {
		t.Errorf("expected ErrNoRows for terminal job, got %v", err)
	}
}

func TestGetJobByUUID(t *testing.T) {
	db := openTestDB(t)

	repo, _ := db.GetOrCreateRepo("acme", "widgets")
	job, _ := db.EnqueueJob(repo.ID, nil, 7, "abc123", TriggerAPI)

	got, err := db.GetJobByUUID(job.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != job.ID || got.PRNumber != 7 {
		t.Errorf("unexpected job: %+v", got)
	}

	if _, err := db.GetJobByUUID("no-such-uuid"); err != sql.ErrNoRows {
		t.Errorf("expected ErrNoRows, got %v", err)
	}
}

func TestListJobsFilters(t *testing.T) {
	db := openTestDB(t)

	repoA, _ := db.GetOrCreateRepo("acme", "widgets")
	repoB, _ := db.GetOrCreateRepo("acme", "gadgets")
	db.EnqueueJob(repoA.ID, nil, 1, "aaa", TriggerAPI)
	db.EnqueueJob(repoB.ID, nil, 2, "bbb", TriggerAPI)
	db.ClaimJob("worker-1")

	all, err := db.ListJobs("", "", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(all))
	}

	queued, err := db.ListJobs("queued", "", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 1 {
		t.Errorf("expected 1 queued job, got %d", len(queued))
	}

	byRepo, err := db.ListJobs("", "acme/widgets", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(byRepo) != 1 || byRepo[0].RepoName != "widgets" {
		t.Errorf("expected widgets job, got %+v", byRepo)
	}
}

func TestGetJobCounts(t *testing.T) {
	db := openTestDB(t)

	repo, _ := db.GetOrCreateRepo("acme", "widgets")
	db.EnqueueJob(repo.ID, nil, 1, "aaa", TriggerAPI)
	db.EnqueueJob(repo.ID, nil, 2, "bbb", TriggerAPI)
	db.ClaimJob("worker-1")

	queued, running, done, failed, canceled, err := db.GetJobCounts()
	if err != nil {
		t.Fatal(err)
	}
	if queued != 1 || running != 1 || done != 0 || failed != 0 || canceled != 0 {
		t.Errorf("unexpected counts: q=%d r=%d d=%d f=%d c=%d", queued, running, done, failed, canceled)
	}
}
