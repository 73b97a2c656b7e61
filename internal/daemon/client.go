package daemon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/config"
	"github.com/Roxonn-FutureTech/github-review-agent/internal/storage"
)

// DefaultPollInterval is the polling interval for WaitForReview.
// Tests override this to speed up polling-based tests.
var DefaultPollInterval = 2 * time.Second

// Client is a typed HTTP client for the daemon API, used by the CLI.
type Client struct {
	addr         string
	token        string
	httpClient   *http.Client
	pollInterval time.Duration
}

// NewClient creates a daemon API client. addr includes the scheme,
// e.g. "http://127.0.0.1:7474". token may be empty when the daemon
// runs without auth.
func NewClient(addr, token string) *Client {
	return &Client{
		addr:         addr,
		token:        token,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		pollInterval: DefaultPollInterval,
	}
}

// SetPollInterval sets the polling interval for WaitForReview.
func (c *Client) SetPollInterval(interval time.Duration) {
	c.pollInterval = interval
}

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a NOT_FOUND API error.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Code == CodeNotFound
}

// do sends a request and decodes the JSON response into out (when
// non-nil). Error envelopes become *APIError.
func (c *Client) do(method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.addr+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope ErrorResponse
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Code: envelope.Code, Message: envelope.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(data)}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// EnqueueReview asks the daemon to review a pull request.
func (c *Client) EnqueueReview(repo string, prNumber int, headSHA string) (*storage.ReviewJob, error) {
	var job storage.ReviewJob
	err := c.do(http.MethodPost, "/api/review", EnqueueReviewRequest{
		Repository: repo,
		PRNumber:   prNumber,
		HeadSHA:    headSHA,
	}, &job)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetStatus fetches the state of one review by its external ID.
func (c *Client) GetStatus(reviewID string) (*StatusResponse, error) {
	var status StatusResponse
	if err := c.do(http.MethodGet, "/api/status/"+url.PathEscape(reviewID), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// WaitForReview polls until the review reaches a terminal status and
// returns it. Failed and canceled reviews return an error.
func (c *Client) WaitForReview(reviewID string) (*StatusResponse, error) {
	for {
		status, err := c.GetStatus(reviewID)
		if err != nil {
			return nil, err
		}

		switch status.Status {
		case storage.JobStatusDone:
			return status, nil
		case storage.JobStatusFailed:
			return nil, fmt.Errorf("review %s failed: %s", reviewID, status.Error)
		case storage.JobStatusCanceled:
			return nil, fmt.Errorf("review %s was canceled", reviewID)
		}

		time.Sleep(c.pollInterval)
	}
}

// CancelReview cancels a queued or running review.
func (c *Client) CancelReview(reviewID string) error {
	return c.do(http.MethodPost, "/api/job/cancel", map[string]string{"review_id": reviewID}, nil)
}

// ListJobs returns jobs with optional status and repo filters.
func (c *Client) ListJobs(status, repo string, limit int) ([]storage.ReviewJob, bool, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if repo != "" {
		q.Set("repo", repo)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	path := "/api/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result struct {
		Jobs    []storage.ReviewJob `json:"jobs"`
		HasMore bool                `json:"has_more"`
	}
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, false, err
	}
	return result.Jobs, result.HasMore, nil
}

// GetRules fetches the active review rule configuration.
func (c *Client) GetRules() (*config.Rules, error) {
	var rules config.Rules
	if err := c.do(http.MethodGet, "/api/config", nil, &rules); err != nil {
		return nil, err
	}
	return &rules, nil
}

// UpdateRules replaces the review rule configuration.
func (c *Client) UpdateRules(rules *config.Rules) (*config.Rules, error) {
	var updated config.Rules
	if err := c.do(http.MethodPut, "/api/config", rules, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// RegisterWebhook subscribes a URL to daemon events.
func (c *Client) RegisterWebhook(hookURL, secret string, events []string) (*storage.Webhook, error) {
	var hook storage.Webhook
	err := c.do(http.MethodPost, "/api/webhooks", RegisterWebhookRequest{
		URL:    hookURL,
		Secret: secret,
		Events: events,
	}, &hook)
	if err != nil {
		return nil, err
	}
	return &hook, nil
}

// ListWebhooks returns all registered outbound webhooks.
func (c *Client) ListWebhooks() ([]storage.Webhook, error) {
	var result struct {
		Webhooks []storage.Webhook `json:"webhooks"`
	}
	if err := c.do(http.MethodGet, "/api/webhooks", nil, &result); err != nil {
		return nil, err
	}
	return result.Webhooks, nil
}

// DeleteWebhook removes a webhook registration.
func (c *Client) DeleteWebhook(id int64) error {
	return c.do(http.MethodDelete, fmt.Sprintf("/api/webhooks/%d", id), nil, nil)
}

// DaemonStatus returns queue counts and worker utilization.
func (c *Client) DaemonStatus() (*storage.DaemonStatus, error) {
	var status storage.DaemonStatus
	if err := c.do(http.MethodGet, "/api/daemon/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Health returns component health for the daemon.
func (c *Client) Health() (*HealthResponse, error) {
	var health HealthResponse
	if err := c.do(http.MethodGet, "/api/health", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}
