package daemon

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/config"
	"github.com/Roxonn-FutureTech/github-review-agent/internal/storage"
)

const webhookSecret = "whsec-test"

func newWebhookServer(t *testing.T, gh GitHubClient) (*storage.DB, string) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.CloneDir = t.TempDir()
	cfg.GitHub.WebhookSecret = webhookSecret
	_, db, ts := newTestServer(t, cfg, gh)
	return db, ts.URL + "/api/webhooks/github"
}

func signSHA256(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func signSHA1(secret string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}

func sendEvent(t *testing.T, url, event string, payload interface{}, sign func([]byte) (header, value string)) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	if sign != nil {
		h, v := sign(body)
		req.Header.Set(h, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func sha256Signer(body []byte) (string, string) {
	return "X-Hub-Signature-256", signSHA256(webhookSecret, body)
}

func prOpenedPayload() map[string]interface{} {
	return map[string]interface{}{
		"action": "opened",
		"repository": map[string]interface{}{
			"name":           "widgets",
			"owner":          map[string]string{"login": "acme"},
			"full_name":      "acme/widgets",
			"clone_url":      "https://example.com/acme/widgets.git",
			"default_branch": "main",
		},
		"pull_request": map[string]interface{}{
			"number": 12,
			"title":  "Fix parser",
			"state":  "open",
			"user":   map[string]string{"login": "octocat"},
			"head":   map[string]string{"sha": "feedface"},
			"base":   map[string]string{"ref": "main"},
		},
	}
}

func TestGitHubWebhookPullRequestOpened(t *testing.T) {
	db, url := newWebhookServer(t, nil)

	resp := sendEvent(t, url, "pull_request", prOpenedPayload(), sha256Signer)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var result struct {
		Status   string `json:"status"`
		ReviewID string `json:"review_id"`
	}
	decodeBody(t, resp, &result)
	if result.Status != "queued" || result.ReviewID == "" {
		t.Fatalf("unexpected response: %+v", result)
	}

	job, err := db.GetJobByUUID(result.ReviewID)
	if err != nil {
		t.Fatalf("job not stored: %v", err)
	}
	if job.Trigger != storage.TriggerWebhook {
		t.Errorf("expected webhook trigger, got %s", job.Trigger)
	}
	if job.HeadSHA != "feedface" || job.PRNumber != 12 {
		t.Errorf("unexpected job: %+v", job)
	}
	if job.PRID == nil {
		t.Error("expected job linked to tracked PR")
	}

	repo, err := db.GetRepoByFullName("acme/widgets")
	if err != nil {
		t.Fatalf("repo not tracked: %v", err)
	}
	if repo.CloneURL != "https://example.com/acme/widgets.git" {
		t.Errorf("clone URL not recorded: %q", repo.CloneURL)
	}
}

func TestGitHubWebhookLegacySHA1Signature(t *testing.T) {
	_, url := newWebhookServer(t, nil)

	resp := sendEvent(t, url, "pull_request", prOpenedPayload(), func(body []byte) (string, string) {
		return "X-Hub-Signature", signSHA1(webhookSecret, body)
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("expected 202 with sha1 signature, got %d", resp.StatusCode)
	}
}

func TestGitHubWebhookRejectsBadSignature(t *testing.T) {
	db, url := newWebhookServer(t, nil)

	resp := sendEvent(t, url, "pull_request", prOpenedPayload(), func(body []byte) (string, string) {
		return "X-Hub-Signature-256", signSHA256("wrong-secret", body)
	})
	assertErrorCode(t, resp, http.StatusUnauthorized, CodeUnauthorized)

	// Missing signature is also rejected
	resp = sendEvent(t, url, "pull_request", prOpenedPayload(), nil)
	assertErrorCode(t, resp, http.StatusUnauthorized, CodeUnauthorized)

	// No side effects before verification
	jobs, err := db.ListJobs("", "", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Errorf("rejected payloads must not enqueue jobs, got %d", len(jobs))
	}
}

func TestGitHubWebhookSynchronizeDedupes(t *testing.T) {
	db, url := newWebhookServer(t, nil)

	resp := sendEvent(t, url, "pull_request", prOpenedPayload(), sha256Signer)
	resp.Body.Close()

	payload := prOpenedPayload()
	payload["action"] = "synchronize"
	resp = sendEvent(t, url, "pull_request", payload, sha256Signer)
	resp.Body.Close()

	// Same head SHA in flight: one job, not two
	jobs, err := db.ListJobs("", "", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Errorf("expected deduped single job, got %d", len(jobs))
	}
}

func TestGitHubWebhookPullRequestMerged(t *testing.T) {
	gh := &fakeGitHub{}
	_, url := newWebhookServer(t, gh)

	payload := prOpenedPayload()
	payload["action"] = "closed"
	payload["pull_request"].(map[string]interface{})["merged"] = true
	payload["pull_request"].(map[string]interface{})["state"] = "closed"

	resp := sendEvent(t, url, "pull_request", payload, sha256Signer)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(gh.comments) != 1 {
		t.Fatalf("expected merge comment, got %v", gh.comments)
	}
}

func TestGitHubWebhookIssueOpened(t *testing.T) {
	gh := &fakeGitHub{}
	_, url := newWebhookServer(t, gh)

	payload := map[string]interface{}{
		"action": "opened",
		"repository": map[string]interface{}{
			"name":  "widgets",
			"owner": map[string]string{"login": "acme"},
		},
		"issue": map[string]interface{}{
			"number": 5,
			"title":  "Crash on startup",
			"user":   map[string]string{"login": "octocat"},
		},
	}
	resp := sendEvent(t, url, "issues", payload, sha256Signer)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(gh.assignees) != 1 {
		t.Error("expected a reviewer assignment")
	}
	if len(gh.comments) != 1 || !strings.Contains(gh.comments[0], "@reviewer1 has been assigned") {
		t.Errorf("expected assignment comment, got %v", gh.comments)
	}
	if len(gh.labels) != 1 || gh.labels[0] != labelAssigned {
		t.Errorf("expected %s label, got %v", labelAssigned, gh.labels)
	}
}

func TestGitHubWebhookIssueClosed(t *testing.T) {
	gh := &fakeGitHub{}
	_, url := newWebhookServer(t, gh)

	payload := map[string]interface{}{
		"action": "closed",
		"repository": map[string]interface{}{
			"name":  "widgets",
			"owner": map[string]string{"login": "acme"},
		},
		"issue": map[string]interface{}{
			"number": 5,
			"user":   map[string]string{"login": "octocat"},
		},
	}
	resp := sendEvent(t, url, "issues", payload, sha256Signer)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(gh.comments) != 1 {
		t.Error("expected resolution comment")
	}
	if len(gh.labels) != 1 || gh.labels[0] != labelResolved {
		t.Errorf("expected %s label, got %v", labelResolved, gh.labels)
	}
}

func TestGitHubWebhookPing(t *testing.T) {
	_, url := newWebhookServer(t, nil)

	resp := sendEvent(t, url, "ping", map[string]string{"zen": "Keep it simple."}, sha256Signer)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for ping, got %d", resp.StatusCode)
	}
}

func TestGitHubWebhookPush(t *testing.T) {
	gh := &fakeGitHub{}
	_, url := newWebhookServer(t, gh)

	payload := map[string]interface{}{
		"ref":   "refs/heads/main",
		"after": "cafebabe",
		"repository": map[string]interface{}{
			"name":  "widgets",
			"owner": map[string]string{"login": "acme"},
		},
	}
	resp := sendEvent(t, url, "push", payload, sha256Signer)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for push, got %d", resp.StatusCode)
	}

	// Pushed head is acknowledged with a commit status
	if len(gh.statuses) != 1 || !strings.HasPrefix(gh.statuses[0], "success") {
		t.Errorf("expected success status on pushed head, got %v", gh.statuses)
	}
}

func TestGitHubWebhookPushWithoutClient(t *testing.T) {
	_, url := newWebhookServer(t, nil)

	payload := map[string]interface{}{
		"ref":   "refs/heads/main",
		"after": "cafebabe",
		"repository": map[string]interface{}{
			"name":  "widgets",
			"owner": map[string]string{"login": "acme"},
		},
	}
	resp := sendEvent(t, url, "push", payload, sha256Signer)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for push without github client, got %d", resp.StatusCode)
	}
}

func TestGitHubWebhookUnsupportedEvent(t *testing.T) {
	_, url := newWebhookServer(t, nil)

	resp := sendEvent(t, url, "deployment", map[string]string{}, sha256Signer)
	assertErrorCode(t, resp, http.StatusBadRequest, CodeInvalidRequest)
}

func TestVerifyGitHubSignatureNoSecret(t *testing.T) {
	// Without a configured secret every payload is accepted
	if !verifyGitHubSignature("", []byte("body"), http.Header{}) {
		t.Error("expected acceptance with no secret configured")
	}
}
