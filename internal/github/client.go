package github

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	gh "github.com/google/go-github/v66/github"

	"github.com/speckit/taskbridge/internal/config"
)

// Client is the rate-limit-aware gateway to the GitHub API. Every
// operation goes through the retry policy in retry.go; calling any
// operation before the client has been initialized from an
// authenticated handle is a programming error (SYSTEM_ERROR), not a
// network failure.
type Client struct {
	gh     *gh.Client
	mode   AuthMode
	login  string
	scopes []string

	// mu guards the settings mutable through config_set; requests on
	// the HTTP transport run on their own goroutines.
	mu          sync.RWMutex
	timeout     time.Duration
	maxRetries  int
	retryBuffer int

	ready bool
}

// NewClient builds an initialized client from an authenticated handle.
func NewClient(h *Handle, cfg *config.Config) *Client {
	return &Client{
		gh:          h.Client,
		mode:        h.Mode,
		login:       h.Login,
		scopes:      h.Scopes,
		timeout:     cfg.RequestTimeout,
		maxRetries:  cfg.MaxRetries,
		retryBuffer: cfg.RateLimitRetryBuffer,
		ready:       true,
	}
}

func (c *Client) ensureReady(op string) error {
	if c == nil || !c.ready {
		return NewClassified(KindSystemError,
			fmt.Sprintf("GitHub client used before initialization (operation: %s)", op), nil)
	}
	return nil
}

// Mode returns the auth mode the client was initialized with.
func (c *Client) Mode() AuthMode { return c.mode }

// Login returns the authenticated identity confirmed at startup.
func (c *Client) Login() string { return c.login }

// Scopes returns the token scopes recovered at startup.
func (c *Client) Scopes() []string { return c.scopes }

// SetTimeout overrides the per-attempt request timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// SetMaxRetries overrides the retry cap.
func (c *Client) SetMaxRetries(n int) {
	c.mu.Lock()
	c.maxRetries = n
	c.mu.Unlock()
}

// retrySettings snapshots the mutable retry policy for one operation.
func (c *Client) retrySettings() (timeout time.Duration, maxRetries int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.timeout, c.maxRetries
}

// warnHeadroom logs when the remaining quota drops under the configured
// reserve so operators see throttling coming before it starts.
func (c *Client) warnHeadroom(resp *gh.Response) {
	if resp == nil {
		return
	}
	if remaining := resp.Rate.Remaining; remaining > 0 && remaining < c.retryBuffer {
		log.Printf("[GitHub] rate limit headroom low: %d remaining (buffer %d)", remaining, c.retryBuffer)
	}
}

// GetRateLimit fetches the current API quota. The snapshot is never
// cached beyond the response it is returned in.
func (c *Client) GetRateLimit(ctx context.Context) (*RateLimitSnapshot, error) {
	var snapshot *RateLimitSnapshot
	err := c.withRetry(ctx, "get-rate-limit", func(ctx context.Context) error {
		limits, _, err := c.gh.RateLimit.Get(ctx)
		if err != nil {
			return err
		}
		core := limits.GetCore()
		snapshot = &RateLimitSnapshot{
			Limit:     core.Limit,
			Remaining: core.Remaining,
			Used:      core.Limit - core.Remaining,
			Reset:     core.Reset.Time,
		}
		return nil
	})
	return snapshot, err
}

// ListRepositories lists the repositories visible to the authenticated
// user, newest activity first. repoType filters by all, owner or
// member; empty means all.
func (c *Client) ListRepositories(ctx context.Context, repoType, sort, direction string) ([]Repository, error) {
	switch repoType {
	case "", "all", "owner", "member":
	default:
		return nil, NewClassified(KindTaskValidation,
			fmt.Sprintf("invalid repository type %q (expected all, owner or member)", repoType), nil)
	}
	if sort == "" {
		sort = "updated"
	}
	if direction == "" {
		direction = "desc"
	}

	var repos []Repository
	err := c.withRetry(ctx, "list-repositories", func(ctx context.Context) error {
		opts := &gh.RepositoryListByAuthenticatedUserOptions{
			Type:        repoType,
			Sort:        sort,
			Direction:   direction,
			ListOptions: gh.ListOptions{PerPage: 100},
		}
		result, resp, err := c.gh.Repositories.ListByAuthenticatedUser(ctx, opts)
		if err != nil {
			return err
		}
		c.warnHeadroom(resp)

		repos = make([]Repository, 0, len(result))
		for _, r := range result {
			repos = append(repos, repositoryFromGitHub(r))
		}
		return nil
	})
	return repos, err
}

// GetRepository fetches a single repository reference.
func (c *Client) GetRepository(ctx context.Context, owner, name string) (*Repository, error) {
	var repo *Repository
	err := c.withRetry(ctx, "get-repository", func(ctx context.Context) error {
		result, resp, err := c.gh.Repositories.Get(ctx, owner, name)
		if err != nil {
			return err
		}
		c.warnHeadroom(resp)
		r := repositoryFromGitHub(result)
		repo = &r
		return nil
	})
	return repo, err
}

// CreateIssue creates an issue and returns the raw API representation.
func (c *Client) CreateIssue(ctx context.Context, owner, repo string, req *gh.IssueRequest) (*gh.Issue, error) {
	var issue *gh.Issue
	err := c.withRetry(ctx, "create-issue", func(ctx context.Context) error {
		result, resp, err := c.gh.Issues.Create(ctx, owner, repo, req)
		if err != nil {
			return err
		}
		c.warnHeadroom(resp)
		issue = result
		return nil
	})
	return issue, err
}

// CreateIssueDirect creates an issue from explicit fields, bypassing
// the task template, and returns the domain representation.
func (c *Client) CreateIssueDirect(ctx context.Context, owner, repo, title, body string, labels, assignees []string) (*Issue, error) {
	req := &gh.IssueRequest{
		Title: gh.String(title),
		Body:  gh.String(body),
	}
	if len(labels) > 0 {
		req.Labels = &labels
	}
	if len(assignees) > 0 {
		req.Assignees = &assignees
	}

	created, err := c.CreateIssue(ctx, owner, repo, req)
	if err != nil {
		return nil, err
	}
	return issueFromGitHub(created), nil
}

// EditIssue updates an existing issue by number.
func (c *Client) EditIssue(ctx context.Context, owner, repo string, number int, req *gh.IssueRequest) (*gh.Issue, error) {
	var issue *gh.Issue
	err := c.withRetry(ctx, "edit-issue", func(ctx context.Context) error {
		result, resp, err := c.gh.Issues.Edit(ctx, owner, repo, number, req)
		if err != nil {
			return err
		}
		c.warnHeadroom(resp)
		issue = result
		return nil
	})
	return issue, err
}

// GetIssue fetches a single issue by number.
func (c *Client) GetIssue(ctx context.Context, owner, repo string, number int) (*gh.Issue, error) {
	var issue *gh.Issue
	err := c.withRetry(ctx, "get-issue", func(ctx context.Context) error {
		result, resp, err := c.gh.Issues.Get(ctx, owner, repo, number)
		if err != nil {
			return err
		}
		c.warnHeadroom(resp)
		issue = result
		return nil
	})
	return issue, err
}
