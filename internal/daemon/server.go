package daemon

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/storage"
	"github.com/Roxonn-FutureTech/github-review-agent/internal/version"
)

// API error codes returned in the error envelope.
const (
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeNotFound       = "NOT_FOUND"
	CodeInternalError  = "INTERNAL_ERROR"
)

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 256 * 1024

// ErrorResponse is the JSON error envelope for all API errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Server is the daemon's HTTP API server.
type Server struct {
	db            *storage.DB
	configWatcher *ConfigWatcher
	gh            GitHubClient
	broadcaster   Broadcaster
	workerPool    *WorkerPool
	dispatcher    *Dispatcher
	limiter       *clientLimiter
	httpServer    *http.Server
	startTime     time.Time
}

// NewServer creates the API server. gh may be nil when no GitHub
// credentials are configured; review jobs will fail until they are.
func NewServer(db *storage.DB, configWatcher *ConfigWatcher, gh GitHubClient, broadcaster Broadcaster, workerPool *WorkerPool, addr string) *Server {
	s := &Server{
		db:            db,
		configWatcher: configWatcher,
		gh:            gh,
		broadcaster:   broadcaster,
		workerPool:    workerPool,
		dispatcher:    NewDispatcher(db, broadcaster),
		limiter:       newClientLimiter(),
		startTime:     time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/review", s.protect(s.handleEnqueueReview))
	mux.HandleFunc("/api/status/", s.protect(s.handleStatus))
	mux.HandleFunc("/api/config", s.protect(s.handleConfig))
	mux.HandleFunc("/api/webhooks", s.protect(s.handleWebhooks))
	mux.HandleFunc("/api/webhooks/", s.handleWebhookPath)
	mux.HandleFunc("/api/jobs", s.protect(s.handleJobs))
	mux.HandleFunc("/api/job/cancel", s.protect(s.handleCancelJob))
	mux.HandleFunc("/api/stream/events", s.protect(s.handleStreamEvents))
	mux.HandleFunc("/api/daemon/status", s.protect(s.handleDaemonStatus))
	mux.HandleFunc("/api/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Start requeues stale jobs, starts the workers and dispatcher, and
// serves HTTP. Blocks until Stop is called.
func (s *Server) Start(ctx context.Context) error {
	if err := s.db.ResetStaleJobs(); err != nil {
		return fmt.Errorf("reset stale jobs: %w", err)
	}

	if err := s.configWatcher.Start(ctx); err != nil {
		return fmt.Errorf("start config watcher: %w", err)
	}

	s.workerPool.Start()
	s.dispatcher.Start()

	log.Printf("API server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server and its components.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.dispatcher.Stop()
	s.configWatcher.Stop()
	s.workerPool.Stop()
	return err
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Warning: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// protect applies per-client rate limiting and bearer token auth.
// Auth is enforced only when api_token is configured.
func (s *Server) protect(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg := s.configWatcher.Config()

		if !s.limiter.Allow(r.RemoteAddr, cfg.RateLimitPerMin) {
			writeError(w, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded")
			return
		}

		if cfg.APIToken != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(cfg.APIToken)) != 1 {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid or missing API token")
				return
			}
		}

		next(w, r)
	}
}

// decodeJSON reads a capped JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxBytesErr.Limit)
		}
		return fmt.Errorf("invalid JSON: %v", err)
	}
	return nil
}

// EnqueueReviewRequest is the body of POST /api/review.
type EnqueueReviewRequest struct {
	Repository string `json:"repository"` // owner/name
	PRNumber   int    `json:"pr_number"`
	HeadSHA    string `json:"head_sha,omitempty"`
}

func (s *Server) handleEnqueueReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, CodeInvalidRequest, "method not allowed")
		return
	}

	var req EnqueueReviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	owner, name, ok := storage.SplitFullName(req.Repository)
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "repository must be owner/name")
		return
	}
	if req.PRNumber <= 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "pr_number must be positive")
		return
	}

	repo, err := s.db.GetOrCreateRepo(owner, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternalError, "failed to track repository")
		return
	}

	job, err := s.db.EnqueueJob(repo.ID, nil, req.PRNumber, req.HeadSHA, storage.TriggerAPI)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternalError, "failed to enqueue review")
		return
	}

	log.Printf("Enqueued review %s for %s#%d", job.UUID, repo.FullName(), req.PRNumber)
	writeJSON(w, http.StatusAccepted, job)
}

// StatusResponse is the body of GET /api/status/{review_id}.
type StatusResponse struct {
	ReviewID   string            `json:"review_id"`
	Status     storage.JobStatus `json:"status"`
	Repository string            `json:"repository"`
	PRNumber   int               `json:"pr_number"`
	HeadSHA    string            `json:"head_sha,omitempty"`
	Trigger    string            `json:"trigger"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	RetryCount int               `json:"retry_count"`
	Error      string            `json:"error,omitempty"`
	Review     *storage.Review   `json:"review,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, CodeInvalidRequest, "method not allowed")
		return
	}

	reviewID := strings.TrimPrefix(r.URL.Path, "/api/status/")
	if reviewID == "" || strings.Contains(reviewID, "/") {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "review_id required")
		return
	}

	job, err := s.db.GetJobByUUID(reviewID)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, CodeNotFound, fmt.Sprintf("review %s not found", reviewID))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternalError, "failed to load review")
		return
	}

	resp := StatusResponse{
		ReviewID:   job.UUID,
		Status:     job.Status,
		Repository: job.RepoOwner + "/" + job.RepoName,
		PRNumber:   job.PRNumber,
		HeadSHA:    job.HeadSHA,
		Trigger:    job.Trigger,
		EnqueuedAt: job.EnqueuedAt,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
		RetryCount: job.RetryCount,
		Error:      job.Error,
	}

	if job.Status == storage.JobStatusDone {
		review, err := s.db.GetReviewByJobID(job.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, CodeInternalError, "failed to load review result")
			return
		}
		review.Job = nil // already flattened into the response
		resp.Review = review
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.configWatcher.Rules())

	case http.MethodPut:
		// Decode over a copy of the current rules: omitted fields keep
		// their current values instead of silently resetting.
		updated := *s.configWatcher.Rules()
		if err := decodeJSON(w, r, &updated); err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
			return
		}
		if err := updated.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
			return
		}
		if err := s.configWatcher.SetRules(&updated); err != nil {
			writeError(w, http.StatusInternalServerError, CodeInternalError, "failed to save rules")
			return
		}
		log.Printf("Review rules updated via API")
		writeJSON(w, http.StatusOK, &updated)

	default:
		writeError(w, http.StatusMethodNotAllowed, CodeInvalidRequest, "method not allowed")
	}
}

// RegisterWebhookRequest is the body of POST /api/webhooks.
type RegisterWebhookRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret,omitempty"`
	Events []string `json:"events,omitempty"` // empty subscribes to all
}

func (s *Server) handleWebhooks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		hooks, err := s.db.ListWebhooks(false)
		if err != nil {
			writeError(w, http.StatusInternalServerError, CodeInternalError, "failed to list webhooks")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"webhooks": hooks})

	case http.MethodPost:
		var req RegisterWebhookRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
			return
		}
		u, err := url.Parse(req.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, "url must be a valid http(s) URL")
			return
		}
		hook, err := s.db.CreateWebhook(req.URL, req.Secret, req.Events)
		if err != nil {
			writeError(w, http.StatusInternalServerError, CodeInternalError, "failed to register webhook")
			return
		}
		log.Printf("Registered webhook %d -> %s", hook.ID, hook.URL)
		writeJSON(w, http.StatusCreated, hook)

	default:
		writeError(w, http.StatusMethodNotAllowed, CodeInvalidRequest, "method not allowed")
	}
}

// handleWebhookPath routes /api/webhooks/{id} and /api/webhooks/github.
// The GitHub receiver authenticates with an HMAC signature instead of
// the API token, so it bypasses the bearer auth wrapper.
func (s *Server) handleWebhookPath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/webhooks/")

	if rest == "github" {
		cfg := s.configWatcher.Config()
		if !s.limiter.Allow(r.RemoteAddr, cfg.RateLimitPerMin) {
			writeError(w, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded")
			return
		}
		s.handleGitHubWebhook(w, r)
		return
	}

	s.protect(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, CodeInvalidRequest, "method not allowed")
			return
		}
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid webhook id")
			return
		}
		if err := s.db.DeleteWebhook(id); err == sql.ErrNoRows {
			writeError(w, http.StatusNotFound, CodeNotFound, fmt.Sprintf("webhook %d not found", id))
			return
		} else if err != nil {
			writeError(w, http.StatusInternalServerError, CodeInternalError, "failed to delete webhook")
			return
		}
		log.Printf("Deleted webhook %d", id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	})(w, r)
}

const (
	defaultJobsLimit = 50
	maxJobsLimit     = 1000
)

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, CodeInvalidRequest, "method not allowed")
		return
	}

	q := r.URL.Query()
	status := q.Get("status")
	repo := q.Get("repo")

	limit := defaultJobsLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, "limit must be a positive integer")
			return
		}
		if n > maxJobsLimit {
			n = maxJobsLimit
		}
		limit = n
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	// Fetch one extra row to detect whether more pages exist
	jobs, err := s.db.ListJobs(status, repo, limit+1, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternalError, "failed to list jobs")
		return
	}
	hasMore := false
	if len(jobs) > limit {
		hasMore = true
		jobs = jobs[:limit]
	}
	if jobs == nil {
		jobs = []storage.ReviewJob{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":     jobs,
		"has_more": hasMore,
	})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, CodeInvalidRequest, "method not allowed")
		return
	}

	var req struct {
		ReviewID string `json:"review_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	if req.ReviewID == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "review_id required")
		return
	}

	job, err := s.db.GetJobByUUID(req.ReviewID)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, CodeNotFound, fmt.Sprintf("review %s not found", req.ReviewID))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternalError, "failed to load review")
		return
	}

	wasQueued := job.Status == storage.JobStatusQueued

	// DB first so the status flips even if no worker holds the job yet
	if err := s.db.CancelJob(job.ID); err == sql.ErrNoRows {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest,
			fmt.Sprintf("review %s is %s and cannot be canceled", req.ReviewID, job.Status))
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternalError, "failed to cancel review")
		return
	}

	s.workerPool.CancelJob(job.ID)

	// Running jobs broadcast their own cancellation from the worker
	if wasQueued {
		s.broadcaster.Broadcast(Event{
			Type:     EventReviewCanceled,
			TS:       time.Now(),
			ReviewID: job.UUID,
			JobID:    job.ID,
			Repo:     job.RepoOwner + "/" + job.RepoName,
			PRNumber: job.PRNumber,
			SHA:      job.HeadSHA,
		})
	}

	log.Printf("Canceled review %s", req.ReviewID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled", "review_id": req.ReviewID})
}

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, CodeInvalidRequest, "method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, CodeInternalError, "streaming not supported")
		return
	}

	repoFilter := r.URL.Query().Get("repo")
	id, ch := s.broadcaster.Subscribe(repoFilter)
	defer s.broadcaster.Unsubscribe(id)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := enc.Encode(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleDaemonStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, CodeInvalidRequest, "method not allowed")
		return
	}

	queued, running, done, failed, canceled, err := s.db.GetJobCounts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternalError, "failed to count jobs")
		return
	}

	status := storage.DaemonStatus{
		Version:             version.Version,
		QueuedJobs:          queued,
		RunningJobs:         running,
		CompletedJobs:       done,
		FailedJobs:          failed,
		CanceledJobs:        canceled,
		ActiveWorkers:       s.workerPool.ActiveWorkers(),
		MaxWorkers:          s.workerPool.MaxWorkers(),
		ConfigReloadCounter: s.configWatcher.ReloadCounter(),
	}
	if t := s.configWatcher.LastReloadedAt(); !t.IsZero() {
		status.ConfigReloadedAt = t.UTC().Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, status)
}

// ComponentHealth reports the health of one daemon component.
type ComponentHealth struct {
	Name   string `json:"name"`
	Status string `json:"status"` // ok, degraded, error
	Detail string `json:"detail,omitempty"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Uptime     string            `json:"uptime"`
	Components []ComponentHealth `json:"components"`
}

// stalledJobThreshold is how long a job may run before health reports
// the worker pool as degraded.
const stalledJobThreshold = 30 * time.Minute

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, CodeInvalidRequest, "method not allowed")
		return
	}

	overall := "ok"
	var components []ComponentHealth

	dbHealth := ComponentHealth{Name: "database", Status: "ok"}
	if err := s.db.Ping(); err != nil {
		dbHealth.Status = "error"
		dbHealth.Detail = err.Error()
		overall = "error"
	}
	components = append(components, dbHealth)

	workerHealth := ComponentHealth{
		Name:   "workers",
		Status: "ok",
		Detail: fmt.Sprintf("%d/%d active", s.workerPool.ActiveWorkers(), s.workerPool.MaxWorkers()),
	}
	if stalled, err := s.db.CountStalledJobs(stalledJobThreshold); err == nil && stalled > 0 {
		workerHealth.Status = "degraded"
		workerHealth.Detail = fmt.Sprintf("%d job(s) running longer than %s", stalled, formatDuration(stalledJobThreshold))
		if overall == "ok" {
			overall = "degraded"
		}
	}
	components = append(components, workerHealth)

	ghHealth := ComponentHealth{Name: "github", Status: "ok"}
	if s.gh == nil {
		ghHealth.Status = "degraded"
		ghHealth.Detail = "no GitHub credentials configured"
		if overall == "ok" {
			overall = "degraded"
		}
	}
	components = append(components, ghHealth)

	httpStatus := http.StatusOK
	if overall == "error" {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, HealthResponse{
		Status:     overall,
		Version:    version.Version,
		Uptime:     formatDuration(time.Since(s.startTime)),
		Components: components,
	})
}

// formatDuration renders a duration like "2h 15m" for human display.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
