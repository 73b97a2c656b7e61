package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v69/github"
	"golang.org/x/oauth2"
)

// StatusContext is the commit status context reviews are reported under.
const StatusContext = "reviewagent"

// defaultLabelColor is used when a label has to be created on the fly.
const defaultLabelColor = "0366d6"

// Client wraps the GitHub REST API for the operations the review
// pipeline needs. All methods take owner/repo explicitly so one client
// serves every repository the daemon tracks.
type Client struct {
	gh *gh.Client
}

// NewClient builds a client authenticated with a personal access token.
// baseURL overrides the API endpoint for testing; empty means api.github.com.
func NewClient(token, baseURL string) (*Client, error) {
	var httpClient *http.Client
	if token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), src)
	}
	return newClient(httpClient, baseURL)
}

// installationTokenSource adapts AppTokenProvider to oauth2.TokenSource,
// so App-authenticated clients share the same transport as token clients.
type installationTokenSource struct {
	provider       *AppTokenProvider
	installationID int64
}

func (s *installationTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.provider.TokenForInstallation(s.installationID)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok}, nil
}

// NewAppClient builds a client that authenticates as a GitHub App
// installation. Tokens are fetched and cached by the provider.
func NewAppClient(provider *AppTokenProvider, installationID int64, baseURL string) (*Client, error) {
	src := &installationTokenSource{provider: provider, installationID: installationID}
	httpClient := oauth2.NewClient(context.Background(), oauth2.ReuseTokenSource(nil, src))
	return newClient(httpClient, baseURL)
}

func newClient(httpClient *http.Client, baseURL string) (*Client, error) {
	client := gh.NewClient(httpClient)
	if baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("set base URL: %w", err)
		}
	}
	return &Client{gh: client}, nil
}

// PullRequest is the subset of PR metadata the review pipeline consumes.
type PullRequest struct {
	Number     int
	Title      string
	Author     string
	HeadSHA    string
	BaseBranch string
	State      string
	Merged     bool

	CloneURL      string
	DefaultBranch string
}

// ChangedFile is one file touched by a pull request.
type ChangedFile struct {
	Path      string
	Status    string // added, modified, removed, renamed
	Additions int
	Deletions int
	Patch     string
}

// GetPullRequest fetches PR metadata including the head SHA to review.
func (c *Client) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("get pull request %s/%s#%d: %w", owner, repo, number, err)
	}

	out := &PullRequest{
		Number: pr.GetNumber(),
		Title:  pr.GetTitle(),
		Author: pr.GetUser().GetLogin(),
		State:  pr.GetState(),
		Merged: pr.GetMerged(),
	}
	if head := pr.GetHead(); head != nil {
		out.HeadSHA = head.GetSHA()
	}
	if base := pr.GetBase(); base != nil {
		out.BaseBranch = base.GetRef()
		if r := base.GetRepo(); r != nil {
			out.CloneURL = r.GetCloneURL()
			out.DefaultBranch = r.GetDefaultBranch()
		}
	}
	return out, nil
}

// ListChangedFiles returns every file touched by the PR, following pagination.
func (c *Client) ListChangedFiles(ctx context.Context, owner, repo string, number int) ([]ChangedFile, error) {
	var files []ChangedFile
	opts := &gh.ListOptions{PerPage: 100}
	for {
		page, resp, err := c.gh.PullRequests.ListFiles(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("list files %s/%s#%d: %w", owner, repo, number, err)
		}
		for _, f := range page {
			files = append(files, ChangedFile{
				Path:      f.GetFilename(),
				Status:    f.GetStatus(),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
				Patch:     f.GetPatch(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return files, nil
}

// RawDiff fetches the unified diff for a pull request.
func (c *Client) RawDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	diff, _, err := c.gh.PullRequests.GetRaw(ctx, owner, repo, number, gh.RawOptions{Type: gh.Diff})
	if err != nil {
		return "", fmt.Errorf("get diff %s/%s#%d: %w", owner, repo, number, err)
	}
	return diff, nil
}

// CreateIssueComment posts a comment on a PR or issue.
func (c *Client) CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) error {
	_, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, &gh.IssueComment{
		Body: gh.Ptr(body),
	})
	if err != nil {
		return fmt.Errorf("create comment %s/%s#%d: %w", owner, repo, number, err)
	}
	return nil
}

// CreateStatus sets a commit status under the review context.
// state is one of pending, success, failure, error.
func (c *Client) CreateStatus(ctx context.Context, owner, repo, sha, state, description string) error {
	_, _, err := c.gh.Repositories.CreateStatus(ctx, owner, repo, sha, &gh.RepoStatus{
		State:       gh.Ptr(state),
		Description: gh.Ptr(description),
		Context:     gh.Ptr(StatusContext),
	})
	if err != nil {
		return fmt.Errorf("create status for %s/%s@%s: %w", owner, repo, sha, err)
	}
	return nil
}

// AddLabel attaches a label to an issue or PR, creating the label in the
// repository first if it does not exist yet.
func (c *Client) AddLabel(ctx context.Context, owner, repo string, number int, name string) error {
	_, resp, err := c.gh.Issues.GetLabel(ctx, owner, repo, name)
	if err != nil {
		if resp == nil || resp.StatusCode != http.StatusNotFound {
			return fmt.Errorf("get label %q: %w", name, err)
		}
		_, _, err = c.gh.Issues.CreateLabel(ctx, owner, repo, &gh.Label{
			Name:  gh.Ptr(name),
			Color: gh.Ptr(defaultLabelColor),
		})
		if err != nil {
			return fmt.Errorf("create label %q: %w", name, err)
		}
	}

	_, _, err = c.gh.Issues.AddLabelsToIssue(ctx, owner, repo, number, []string{name})
	if err != nil {
		return fmt.Errorf("add label %q to %s/%s#%d: %w", name, owner, repo, number, err)
	}
	return nil
}

// ListCollaborators returns the logins of repository collaborators.
func (c *Client) ListCollaborators(ctx context.Context, owner, repo string) ([]string, error) {
	var logins []string
	opts := &gh.ListCollaboratorsOptions{ListOptions: gh.ListOptions{PerPage: 100}}
	for {
		page, resp, err := c.gh.Repositories.ListCollaborators(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("list collaborators %s/%s: %w", owner, repo, err)
		}
		for _, u := range page {
			logins = append(logins, u.GetLogin())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return logins, nil
}

// AssignReviewer assigns the first collaborator other than the author to
// the issue and returns their login. Returns empty string when nobody
// else can review.
func (c *Client) AssignReviewer(ctx context.Context, owner, repo string, number int, author string) (string, error) {
	collaborators, err := c.ListCollaborators(ctx, owner, repo)
	if err != nil {
		return "", err
	}

	var reviewer string
	for _, login := range collaborators {
		if !strings.EqualFold(login, author) {
			reviewer = login
			break
		}
	}
	if reviewer == "" {
		return "", nil
	}

	_, _, err = c.gh.Issues.AddAssignees(ctx, owner, repo, number, []string{reviewer})
	if err != nil {
		return "", fmt.Errorf("assign %q to %s/%s#%d: %w", reviewer, owner, repo, number, err)
	}
	return reviewer, nil
}

// GetRepository fetches clone URL and default branch for a repository.
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (cloneURL, defaultBranch string, err error) {
	r, _, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", "", fmt.Errorf("get repository %s/%s: %w", owner, repo, err)
	}
	return r.GetCloneURL(), r.GetDefaultBranch(), nil
}
