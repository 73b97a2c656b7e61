package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/analyzer"
	"github.com/Roxonn-FutureTech/github-review-agent/internal/config"
	"github.com/Roxonn-FutureTech/github-review-agent/internal/github"
	"github.com/Roxonn-FutureTech/github-review-agent/internal/gitrepo"
	"github.com/Roxonn-FutureTech/github-review-agent/internal/storage"
)

// GitHubClient is the subset of the GitHub API the daemon needs.
// Kept as an interface for mocking in tests.
type GitHubClient interface {
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error)
	RawDiff(ctx context.Context, owner, repo string, number int) (string, error)
	CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) error
	CreateStatus(ctx context.Context, owner, repo, sha, state, description string) error
	AddLabel(ctx context.Context, owner, repo string, number int, name string) error
	AssignReviewer(ctx context.Context, owner, repo string, number int, author string) (string, error)
	GetRepository(ctx context.Context, owner, repo string) (cloneURL, defaultBranch string, err error)
}

// WorkerPool manages a pool of review workers
type WorkerPool struct {
	db          *storage.DB
	cfgGetter   ConfigGetter
	gh          GitHubClient // nil when no GitHub auth is configured
	broadcaster Broadcaster

	numWorkers    int
	activeWorkers atomic.Int32
	stopCh        chan struct{}
	readyCh       chan struct{} // closed after wg.Add in Start
	startOnce     sync.Once
	stopOnce      sync.Once
	wg            sync.WaitGroup

	// Track running jobs for cancellation
	runningJobs    map[int64]context.CancelFunc
	pendingCancels map[int64]bool // jobs canceled before registered
	runningJobsMu  sync.Mutex
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(db *storage.DB, cfgGetter ConfigGetter, gh GitHubClient, numWorkers int, broadcaster Broadcaster) *WorkerPool {
	return &WorkerPool{
		db:             db,
		cfgGetter:      cfgGetter,
		gh:             gh,
		broadcaster:    broadcaster,
		numWorkers:     numWorkers,
		stopCh:         make(chan struct{}),
		readyCh:        make(chan struct{}),
		runningJobs:    make(map[int64]context.CancelFunc),
		pendingCancels: make(map[int64]bool),
	}
}

// Start begins the worker pool. Safe to call multiple times;
// only the first call spawns workers.
func (wp *WorkerPool) Start() {
	wp.startOnce.Do(func() {
		log.Printf("Starting worker pool with %d workers", wp.numWorkers)
		wp.wg.Add(wp.numWorkers)
		close(wp.readyCh)
		for i := 0; i < wp.numWorkers; i++ {
			go wp.worker(i)
		}
	})
}

// Stop gracefully shuts down the worker pool. Safe to call
// multiple times; only the first call performs shutdown.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		log.Println("Stopping worker pool...")
		close(wp.stopCh)
		// Wait for Start to finish wg.Add before calling Wait.
		// If Start was never called, readyCh stays open but
		// stopCh is closed, so any late workers exit immediately.
		select {
		case <-wp.readyCh:
			wp.wg.Wait()
		default:
		}
		log.Println("Worker pool stopped")
	})
}

// ActiveWorkers returns the number of currently active workers
func (wp *WorkerPool) ActiveWorkers() int {
	return int(wp.activeWorkers.Load())
}

// MaxWorkers returns the total number of workers in the pool
func (wp *WorkerPool) MaxWorkers() int {
	return wp.numWorkers
}

// CancelJob cancels a running job by its ID. Returns true if the job was
// canceled or marked for pending cancellation. Returns false only if the
// job doesn't exist or isn't in a cancellable state.
func (wp *WorkerPool) CancelJob(jobID int64) bool {
	wp.runningJobsMu.Lock()
	cancel, ok := wp.runningJobs[jobID]
	if ok {
		wp.runningJobsMu.Unlock()
		log.Printf("Canceling job %d", jobID)
		cancel()
		return true
	}
	wp.runningJobsMu.Unlock()

	// Job not registered yet - check it's a valid job before marking
	// pending. Prevents unbounded growth of pendingCancels.
	job, err := wp.db.GetJobByID(jobID)
	if err != nil || !wp.isJobCancellable(job) {
		return false
	}

	// Re-lock and check if the job registered while we were checking DB
	wp.runningJobsMu.Lock()
	defer wp.runningJobsMu.Unlock()
	if cancel, ok := wp.runningJobs[jobID]; ok {
		log.Printf("Canceling job %d (registered during DB check)", jobID)
		cancel()
		return true
	}

	wp.pendingCancels[jobID] = true
	log.Printf("Job %d not yet registered, marking for pending cancellation", jobID)
	return true
}

// isJobCancellable returns true if the job is in a state that can be canceled.
// A 'canceled' job with a worker still attached means db.CancelJob ran before
// the worker registered; accept it so the subprocess gets killed.
func (wp *WorkerPool) isJobCancellable(job *storage.ReviewJob) bool {
	return job.Status == storage.JobStatusQueued ||
		job.Status == storage.JobStatusRunning ||
		(job.Status == storage.JobStatusCanceled && job.WorkerID != "")
}

// registerRunningJob tracks a running job for potential cancellation.
// If the job was already marked for cancellation (race), it cancels now.
func (wp *WorkerPool) registerRunningJob(jobID int64, cancel context.CancelFunc) {
	wp.runningJobsMu.Lock()
	wp.runningJobs[jobID] = cancel

	if wp.pendingCancels[jobID] {
		delete(wp.pendingCancels, jobID)
		wp.runningJobsMu.Unlock()
		log.Printf("Job %d was pending cancellation, canceling now", jobID)
		cancel()
		return
	}
	wp.runningJobsMu.Unlock()
}

// unregisterRunningJob removes a job from the running jobs map
func (wp *WorkerPool) unregisterRunningJob(jobID int64) {
	wp.runningJobsMu.Lock()
	delete(wp.runningJobs, jobID)
	delete(wp.pendingCancels, jobID)
	wp.runningJobsMu.Unlock()
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	workerID := fmt.Sprintf("worker-%d", id)

	log.Printf("[%s] Started", workerID)

	for {
		select {
		case <-wp.stopCh:
			log.Printf("[%s] Shutting down", workerID)
			return
		default:
		}

		job, err := wp.db.ClaimJob(workerID)
		if err != nil {
			log.Printf("[%s] Error claiming job: %v", workerID, err)
			time.Sleep(5 * time.Second)
			continue
		}

		if job == nil {
			// No jobs available, wait and retry
			time.Sleep(2 * time.Second)
			continue
		}

		wp.activeWorkers.Add(1)
		wp.processJob(workerID, job)
		wp.activeWorkers.Add(-1)
	}
}

// maxRetries is the number of retry attempts allowed after initial failure.
// With maxRetries=3, a job can run up to 4 times total (1 initial + 3 retries).
const maxRetries = 3

func (wp *WorkerPool) processJob(workerID string, job *storage.ReviewJob) {
	repoFull := job.RepoOwner + "/" + job.RepoName
	log.Printf("[%s] Processing job %d %s#%d sha=%s",
		workerID, job.ID, repoFull, job.PRNumber, shortSHA(job.HeadSHA))

	// Snapshot config once so a mid-job reload can't mix settings
	cfg := wp.cfgGetter.Config()

	clonePath := gitrepo.LocalPath(cfg.CloneDir, job.RepoOwner, job.RepoName)
	timeoutMinutes := config.ResolveJobTimeout(clonePath, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutMinutes)*time.Minute)
	defer cancel()

	wp.registerRunningJob(job.ID, cancel)
	defer wp.unregisterRunningJob(job.ID)

	wp.broadcaster.Broadcast(Event{
		Type:     EventReviewStarted,
		TS:       time.Now(),
		ReviewID: job.UUID,
		JobID:    job.ID,
		Repo:     repoFull,
		PRNumber: job.PRNumber,
		SHA:      job.HeadSHA,
	})

	if wp.gh == nil {
		wp.failOrRetry(workerID, job, "github client not configured")
		return
	}

	pr, err := wp.gh.GetPullRequest(ctx, job.RepoOwner, job.RepoName, job.PRNumber)
	if err != nil {
		if wp.canceled(workerID, job, ctx) {
			return
		}
		wp.failOrRetry(workerID, job, fmt.Sprintf("fetch pull request: %v", err))
		return
	}

	// Keep the tracked PR state current; the head may have moved since enqueue
	headSHA := job.HeadSHA
	if headSHA == "" {
		headSHA = pr.HeadSHA
	}
	if _, err := wp.db.UpsertPullRequest(&storage.PullRequest{
		RepoID:     job.RepoID,
		Number:     pr.Number,
		Title:      pr.Title,
		Author:     pr.Author,
		HeadSHA:    pr.HeadSHA,
		BaseBranch: pr.BaseBranch,
		State:      pr.State,
		Merged:     pr.Merged,
	}); err != nil {
		log.Printf("[%s] Warning: failed to upsert PR state: %v", workerID, err)
	}
	if pr.CloneURL != "" {
		if err := wp.db.UpdateRepoDetails(job.RepoID, pr.CloneURL, pr.DefaultBranch); err != nil {
			log.Printf("[%s] Warning: failed to record repo details: %v", workerID, err)
		}
	}

	if err := wp.gh.CreateStatus(ctx, job.RepoOwner, job.RepoName, headSHA, "pending", "review in progress"); err != nil {
		log.Printf("[%s] Warning: failed to set pending status: %v", workerID, err)
	}

	// Keep the local checkout current so repo-level config works and a
	// local diff is available if the API diff fails. Clone failures
	// don't fail the review.
	rules := wp.cfgGetter.Rules()
	var checkout string
	if pr.CloneURL != "" {
		path, cloneErr := gitrepo.CloneOrUpdate(ctx, cfg.CloneDir, pr.CloneURL, job.RepoOwner, job.RepoName, pr.BaseBranch)
		if cloneErr != nil {
			log.Printf("[%s] Warning: clone failed for %s: %v", workerID, repoFull, cloneErr)
		} else {
			if err := gitrepo.FetchSHA(ctx, path, headSHA); err != nil {
				log.Printf("[%s] Warning: fetch %s: %v", workerID, shortSHA(headSHA), err)
			} else {
				checkout = path
			}
			rules = applyRepoRules(rules, path)
		}
	}

	diff, err := wp.gh.RawDiff(ctx, job.RepoOwner, job.RepoName, job.PRNumber)
	if err != nil && checkout != "" && pr.BaseBranch != "" {
		// Fall back to the checkout, which sits detached at the head SHA
		log.Printf("[%s] Warning: API diff failed, using local diff: %v", workerID, err)
		diff, err = gitrepo.DiffAgainst(ctx, checkout, "origin/"+pr.BaseBranch)
	}
	if err != nil {
		if wp.canceled(workerID, job, ctx) {
			return
		}
		wp.failOrRetry(workerID, job, fmt.Sprintf("fetch diff: %v", err))
		return
	}

	result, err := analyzer.New(rules).Analyze(ctx, diff)
	if err != nil {
		if wp.canceled(workerID, job, ctx) {
			return
		}
		wp.failOrRetry(workerID, job, fmt.Sprintf("analyze: %v", err))
		return
	}

	verdict := analyzer.DeriveVerdict(result.Findings)
	summary := analyzer.Summarize(result)

	// CompleteJob is a no-op if the job was canceled between the
	// analysis finishing and now. Re-read before posting anything to
	// GitHub so a canceled job gets no feedback.
	if err := wp.db.CompleteJob(job.ID, verdict, summary, result.FilesAnalyzed, convertFindings(result.Findings)); err != nil {
		log.Printf("[%s] Error storing review: %v", workerID, err)
		return
	}
	stored, err := wp.db.GetJobByID(job.ID)
	if err != nil {
		log.Printf("[%s] Error re-reading job %d: %v", workerID, job.ID, err)
		return
	}
	if stored.Status != storage.JobStatusDone {
		log.Printf("[%s] Job %d is %s after analysis, skipping feedback", workerID, job.ID, stored.Status)
		return
	}

	wp.storeKnowledge(workerID, job.RepoID, result)

	// Posting feedback is best-effort; the review is already stored
	comment := analyzer.BuildComment(repoFull, job.PRNumber, result)
	if err := wp.gh.CreateIssueComment(ctx, job.RepoOwner, job.RepoName, job.PRNumber, comment); err != nil {
		log.Printf("[%s] Warning: failed to post review comment: %v", workerID, err)
	}
	state := "success"
	if verdict == analyzer.VerdictRequestChanges {
		state = "failure"
	}
	if err := wp.gh.CreateStatus(ctx, job.RepoOwner, job.RepoName, headSHA, state, summary); err != nil {
		log.Printf("[%s] Warning: failed to set final status: %v", workerID, err)
	}

	log.Printf("[%s] Completed job %d %s#%d verdict=%s", workerID, job.ID, repoFull, job.PRNumber, verdict)

	wp.broadcaster.Broadcast(Event{
		Type:     EventReviewCompleted,
		TS:       time.Now(),
		ReviewID: job.UUID,
		JobID:    job.ID,
		Repo:     repoFull,
		PRNumber: job.PRNumber,
		SHA:      headSHA,
		Verdict:  verdict,
	})
}

// canceled checks for job cancellation and broadcasts the event.
// The job row was already marked canceled in the DB.
func (wp *WorkerPool) canceled(workerID string, job *storage.ReviewJob, ctx context.Context) bool {
	if ctx.Err() != context.Canceled {
		return false
	}
	log.Printf("[%s] Job %d was canceled", workerID, job.ID)
	wp.broadcaster.Broadcast(Event{
		Type:     EventReviewCanceled,
		TS:       time.Now(),
		ReviewID: job.UUID,
		JobID:    job.ID,
		Repo:     job.RepoOwner + "/" + job.RepoName,
		PRNumber: job.PRNumber,
		SHA:      job.HeadSHA,
	})
	return true
}

// failOrRetry attempts to retry the job, or marks it as failed if max
// retries are reached.
func (wp *WorkerPool) failOrRetry(workerID string, job *storage.ReviewJob, errorMsg string) {
	retried, err := wp.db.RetryJob(job.ID, maxRetries)
	if err != nil {
		log.Printf("[%s] Error retrying job %d: %v", workerID, job.ID, err)
	}
	if retried {
		log.Printf("[%s] Job %d queued for retry (attempt %d/%d)",
			workerID, job.ID, job.RetryCount+1, maxRetries)
		return
	}

	if err := wp.db.FailJob(job.ID, errorMsg); err != nil {
		log.Printf("[%s] Error failing job %d: %v", workerID, job.ID, err)
		return
	}
	log.Printf("[%s] Job %d failed after %d retries: %s", workerID, job.ID, job.RetryCount, errorMsg)

	wp.broadcaster.Broadcast(Event{
		Type:     EventReviewFailed,
		TS:       time.Now(),
		ReviewID: job.UUID,
		JobID:    job.ID,
		Repo:     job.RepoOwner + "/" + job.RepoName,
		PRNumber: job.PRNumber,
		SHA:      job.HeadSHA,
		Error:    errorMsg,
	})
}

// storeKnowledge persists mined patterns and the dependency graph.
// Failures are logged, not fatal; the knowledge base is advisory.
func (wp *WorkerPool) storeKnowledge(workerID string, repoID int64, result *analyzer.Result) {
	if len(result.Patterns) > 0 {
		patterns := make([]storage.CodePattern, 0, len(result.Patterns))
		for _, p := range result.Patterns {
			data, err := json.Marshal(p.Examples)
			if err != nil {
				continue
			}
			patterns = append(patterns, storage.CodePattern{
				PatternType: p.Type,
				PatternData: string(data),
				Frequency:   p.Frequency,
			})
		}
		if err := wp.db.ReplacePatterns(repoID, patterns); err != nil {
			log.Printf("[%s] Warning: failed to store patterns: %v", workerID, err)
		}
	}

	if len(result.Dependencies) > 0 {
		deps := make([]storage.Dependency, 0, len(result.Dependencies))
		for _, e := range result.Dependencies {
			deps = append(deps, storage.Dependency{
				SourceFile:     e.SourceFile,
				TargetFile:     e.Target,
				DependencyType: e.Kind,
			})
		}
		if err := wp.db.ReplaceDependencies(repoID, deps); err != nil {
			log.Printf("[%s] Warning: failed to store dependencies: %v", workerID, err)
		}
	}
}

// applyRepoRules overlays .reviewagent.toml overrides from a checkout
// onto the global rule set. The global rules are not mutated.
func applyRepoRules(rules *config.Rules, repoPath string) *config.Rules {
	repoCfg, err := config.LoadRepoConfig(repoPath)
	if err != nil {
		log.Printf("Warning: invalid repo config in %s: %v", repoPath, err)
		return rules
	}
	if repoCfg == nil {
		return rules
	}

	merged := *rules
	if repoCfg.MaxLineLength > 0 {
		merged.MaxLineLength = repoCfg.MaxLineLength
	}
	if len(repoCfg.ExcludePaths) > 0 {
		merged.ExcludePaths = append(append([]string{}, rules.ExcludePaths...), repoCfg.ExcludePaths...)
	}
	if len(repoCfg.DisabledRules) > 0 {
		merged.DisabledRules = append(append([]string{}, rules.DisabledRules...), repoCfg.DisabledRules...)
	}
	return &merged
}

func convertFindings(findings []analyzer.Finding) []storage.Finding {
	out := make([]storage.Finding, 0, len(findings))
	for _, f := range findings {
		out = append(out, storage.Finding{
			RuleID:     f.RuleID,
			Category:   f.Category,
			Severity:   f.Severity,
			File:       f.File,
			Line:       f.Line,
			Message:    f.Message,
			Suggestion: f.Suggestion,
		})
	}
	return out
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	if sha == "" {
		return "(head)"
	}
	return sha
}

// trimmedLower is a small helper shared by webhook handlers.
func trimmedLower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
