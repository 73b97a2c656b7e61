package daemon

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/gitrepo"
	"github.com/Roxonn-FutureTech/github-review-agent/internal/storage"
)

// maxWebhookBody caps inbound GitHub webhook payloads.
const maxWebhookBody = 1024 * 1024

// Labels applied by issue automation.
const (
	labelAssigned = "assigned"
	labelResolved = "resolved"
)

// ghPayload is the subset of GitHub webhook payloads the daemon consumes.
type ghPayload struct {
	Action string `json:"action"`

	Repository struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
		FullName      string `json:"full_name"`
		CloneURL      string `json:"clone_url"`
		DefaultBranch string `json:"default_branch"`
	} `json:"repository"`

	PullRequest struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		State  string `json:"state"`
		Merged bool   `json:"merged"`
		User   struct {
			Login string `json:"login"`
		} `json:"user"`
		Head struct {
			SHA string `json:"sha"`
		} `json:"head"`
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
	} `json:"pull_request"`

	Issue struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		User   struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"issue"`

	Label struct {
		Name string `json:"name"`
	} `json:"label"`

	Ref   string `json:"ref"`   // push
	After string `json:"after"` // push head SHA
}

// handleGitHubWebhook receives GitHub events. The HMAC signature is
// verified before any payload byte takes effect; sha256 signatures are
// preferred, sha1 accepted for legacy senders.
func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, CodeInvalidRequest, "method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "failed to read payload")
		return
	}

	secret := s.configWatcher.Config().GitHub.WebhookSecret
	if !verifyGitHubSignature(secret, body, r.Header) {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid webhook signature")
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	var payload ghPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON payload")
		return
	}

	switch event {
	case "ping":
		writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
	case "pull_request":
		s.handlePullRequestEvent(w, r, &payload)
	case "issues":
		s.handleIssuesEvent(w, r, &payload)
	case "push":
		s.handlePushEvent(w, r, &payload)
	default:
		writeError(w, http.StatusBadRequest, CodeInvalidRequest,
			fmt.Sprintf("unsupported event type %q", event))
	}
}

// verifyGitHubSignature checks the request's HMAC signature against the
// shared secret. With no secret configured, all payloads are accepted.
func verifyGitHubSignature(secret string, body []byte, header http.Header) bool {
	if secret == "" {
		return true
	}

	check := func(got, prefix string, newHash func() hash.Hash) bool {
		mac := hmac.New(newHash, []byte(secret))
		mac.Write(body)
		want := prefix + hex.EncodeToString(mac.Sum(nil))
		return hmac.Equal([]byte(got), []byte(want))
	}

	if sig := header.Get("X-Hub-Signature-256"); sig != "" {
		return check(sig, "sha256=", sha256.New)
	}
	if sig := header.Get("X-Hub-Signature"); sig != "" {
		return check(sig, "sha1=", sha1.New)
	}
	return false
}

func (s *Server) handlePullRequestEvent(w http.ResponseWriter, r *http.Request, p *ghPayload) {
	owner := p.Repository.Owner.Login
	name := p.Repository.Name
	if owner == "" || name == "" || p.PullRequest.Number == 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "payload missing repository or pull request")
		return
	}

	repo, err := s.db.GetOrCreateRepo(owner, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternalError, "failed to track repository")
		return
	}
	if p.Repository.CloneURL != "" {
		if err := s.db.UpdateRepoDetails(repo.ID, p.Repository.CloneURL, p.Repository.DefaultBranch); err != nil {
			log.Printf("Warning: failed to record repo details: %v", err)
		}
	}

	pr, err := s.db.UpsertPullRequest(&storage.PullRequest{
		RepoID:     repo.ID,
		Number:     p.PullRequest.Number,
		Title:      p.PullRequest.Title,
		Author:     p.PullRequest.User.Login,
		HeadSHA:    p.PullRequest.Head.SHA,
		BaseBranch: p.PullRequest.Base.Ref,
		State:      p.PullRequest.State,
		Merged:     p.PullRequest.Merged,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternalError, "failed to track pull request")
		return
	}

	switch trimmedLower(p.Action) {
	case "opened", "synchronize", "reopened":
		job, err := s.db.EnqueueJob(repo.ID, &pr.ID, pr.Number, pr.HeadSHA, storage.TriggerWebhook)
		if err != nil {
			writeError(w, http.StatusInternalServerError, CodeInternalError, "failed to enqueue review")
			return
		}
		log.Printf("Webhook enqueued review %s for %s#%d (%s)", job.UUID, repo.FullName(), pr.Number, p.Action)
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"status":    "queued",
			"review_id": job.UUID,
		})

	case "closed":
		if p.PullRequest.Merged && s.gh != nil {
			msg := fmt.Sprintf("🎉 PR #%d merged. Thanks @%s!", pr.Number, pr.Author)
			if err := s.gh.CreateIssueComment(r.Context(), owner, name, pr.Number, msg); err != nil {
				log.Printf("Warning: failed to post merge comment: %v", err)
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "handled"})

	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	}
}

func (s *Server) handleIssuesEvent(w http.ResponseWriter, r *http.Request, p *ghPayload) {
	owner := p.Repository.Owner.Login
	name := p.Repository.Name
	if owner == "" || name == "" || p.Issue.Number == 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "payload missing repository or issue")
		return
	}
	if s.gh == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	switch trimmedLower(p.Action) {
	case "opened":
		reviewer, err := s.gh.AssignReviewer(r.Context(), owner, name, p.Issue.Number, p.Issue.User.Login)
		if err != nil {
			log.Printf("Warning: failed to assign reviewer for %s/%s#%d: %v", owner, name, p.Issue.Number, err)
		} else if reviewer != "" {
			log.Printf("Assigned %s to %s/%s#%d", reviewer, owner, name, p.Issue.Number)
			msg := fmt.Sprintf("@%s has been assigned to review this issue", reviewer)
			if err := s.gh.CreateIssueComment(r.Context(), owner, name, p.Issue.Number, msg); err != nil {
				log.Printf("Warning: failed to post assignment comment: %v", err)
			}
		}
		if err := s.gh.AddLabel(r.Context(), owner, name, p.Issue.Number, labelAssigned); err != nil {
			log.Printf("Warning: failed to label issue: %v", err)
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "handled"})

	case "closed":
		msg := fmt.Sprintf("Issue #%d closed. Marking as resolved.", p.Issue.Number)
		if err := s.gh.CreateIssueComment(r.Context(), owner, name, p.Issue.Number, msg); err != nil {
			log.Printf("Warning: failed to post resolution comment: %v", err)
		}
		if err := s.gh.AddLabel(r.Context(), owner, name, p.Issue.Number, labelResolved); err != nil {
			log.Printf("Warning: failed to label issue: %v", err)
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "handled"})

	case "labeled":
		log.Printf("Issue %s/%s#%d labeled %q", owner, name, p.Issue.Number, p.Label.Name)
		writeJSON(w, http.StatusOK, map[string]string{"status": "handled"})

	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	}
}

// handlePushEvent refreshes the local checkout for tracked repos so the
// next review starts from a warm clone, then acknowledges the pushed
// head with a commit status. All of it is best-effort; push handling
// never fails the webhook.
func (s *Server) handlePushEvent(w http.ResponseWriter, r *http.Request, p *ghPayload) {
	owner := p.Repository.Owner.Login
	name := p.Repository.Name
	if owner == "" || name == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "payload missing repository")
		return
	}

	cfg := s.configWatcher.Config()
	if p.Repository.CloneURL != "" && gitrepo.IsCloned(gitrepo.LocalPath(cfg.CloneDir, owner, name)) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
		defer cancel()
		path, err := gitrepo.CloneOrUpdate(ctx, cfg.CloneDir, p.Repository.CloneURL, owner, name, p.Repository.DefaultBranch)
		if err != nil {
			log.Printf("Warning: failed to refresh clone for %s/%s: %v", owner, name, err)
		} else if head, err := gitrepo.HeadSHA(ctx, path); err == nil {
			log.Printf("Refreshed clone for %s/%s at %s", owner, name, head)
		}
	}

	if s.gh != nil && p.After != "" {
		if err := s.gh.CreateStatus(r.Context(), owner, name, p.After, "success", "push received and processed"); err != nil {
			log.Printf("Warning: failed to set push status for %s/%s@%s: %v", owner, name, p.After, err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
