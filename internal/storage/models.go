package storage

import "time"

type Repo struct {
	ID            int64     `json:"id"`
	Owner         string    `json:"owner"`
	Name          string    `json:"name"`
	CloneURL      string    `json:"clone_url,omitempty"`
	DefaultBranch string    `json:"default_branch,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// FullName returns the owner/name form used in API requests and logs
func (r *Repo) FullName() string {
	return r.Owner + "/" + r.Name
}

type PullRequest struct {
	ID         int64     `json:"id"`
	RepoID     int64     `json:"repo_id"`
	Number     int       `json:"number"`
	Title      string    `json:"title"`
	Author     string    `json:"author"`
	HeadSHA    string    `json:"head_sha"`
	BaseBranch string    `json:"base_branch,omitempty"`
	State      string    `json:"state"` // open, closed
	Merged     bool      `json:"merged"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusDone     JobStatus = "done"
	JobStatusFailed   JobStatus = "failed"
	JobStatusCanceled JobStatus = "canceled"
)

// Job triggers record where a review request came from.
const (
	TriggerAPI     = "api"
	TriggerWebhook = "webhook"
	TriggerCLI     = "cli"
)

type ReviewJob struct {
	ID         int64      `json:"id"`
	UUID       string     `json:"review_id"` // external identifier used by the API
	RepoID     int64      `json:"repo_id"`
	PRID       *int64     `json:"pr_id,omitempty"`
	PRNumber   int        `json:"pr_number"`
	HeadSHA    string     `json:"head_sha"`
	Trigger    string     `json:"trigger"`
	Status     JobStatus  `json:"status"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	WorkerID   string     `json:"worker_id,omitempty"`
	Error      string     `json:"error,omitempty"`
	RetryCount int        `json:"retry_count"`

	// Joined fields for convenience
	RepoOwner string  `json:"repo_owner,omitempty"`
	RepoName  string  `json:"repo_name,omitempty"`
	PRTitle   string  `json:"pr_title,omitempty"`
	Verdict   *string `json:"verdict,omitempty"` // nil until a review exists
}

// Review verdicts, derived from the worst finding severity.
const (
	VerdictApprove        = "approve"
	VerdictComment        = "comment"
	VerdictRequestChanges = "request_changes"
)

type Review struct {
	ID            int64     `json:"id"`
	JobID         int64     `json:"job_id"`
	Verdict       string    `json:"verdict"`
	Summary       string    `json:"summary"`
	FilesAnalyzed int       `json:"files_analyzed"`
	CreatedAt     time.Time `json:"created_at"`

	// Joined fields
	Job      *ReviewJob `json:"job,omitempty"`
	Findings []Finding  `json:"findings,omitempty"`
}

type Finding struct {
	ID         int64  `json:"id"`
	ReviewID   int64  `json:"review_id"`
	RuleID     string `json:"rule_id"`
	Category   string `json:"category"` // style, security, performance, dependency, pattern
	Severity   string `json:"severity"` // info, warning, error
	File       string `json:"file"`
	Line       int    `json:"line,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// CodePattern is a recurring structure mined from a repo's source,
// kept as a lightweight knowledge base for the pattern analyzer.
type CodePattern struct {
	ID          int64     `json:"id"`
	RepoID      int64     `json:"repo_id"`
	PatternType string    `json:"pattern_type"`
	PatternData string    `json:"pattern_data"` // JSON blob
	Frequency   int       `json:"frequency"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Dependency records one source file importing another within a repo.
type Dependency struct {
	ID             int64  `json:"id"`
	RepoID         int64  `json:"repo_id"`
	SourceFile     string `json:"source_file"`
	TargetFile     string `json:"target_file"`
	DependencyType string `json:"dependency_type"` // import, include
}

// Webhook is an outbound subscription registered via POST /api/webhooks.
type Webhook struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Events    string    `json:"events"` // comma-separated, "*" for all
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type WebhookDelivery struct {
	ID          int64      `json:"id"`
	WebhookID   int64      `json:"webhook_id"`
	Event       string     `json:"event"`
	Payload     string     `json:"payload"`
	StatusCode  int        `json:"status_code,omitempty"`
	Error       string     `json:"error,omitempty"`
	Attempts    int        `json:"attempts"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type DaemonStatus struct {
	Version             string `json:"version"`
	QueuedJobs          int    `json:"queued_jobs"`
	RunningJobs         int    `json:"running_jobs"`
	CompletedJobs       int    `json:"completed_jobs"`
	FailedJobs          int    `json:"failed_jobs"`
	CanceledJobs        int    `json:"canceled_jobs"`
	ActiveWorkers       int    `json:"active_workers"`
	MaxWorkers          int    `json:"max_workers"`
	ConfigReloadedAt    string `json:"config_reloaded_at,omitempty"`
	ConfigReloadCounter uint64 `json:"config_reload_counter,omitempty"`
}
