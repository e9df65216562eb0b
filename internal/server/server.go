package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/speckit/taskbridge/internal/config"
	"github.com/speckit/taskbridge/internal/github"
)

// now is a seam for deterministic timestamps in tests.
var now = time.Now

func timestamp() string {
	return now().UTC().Format(time.RFC3339)
}

// Server is the tool server facade. It validates every operation's
// input before touching any component, stamps every success payload
// with a response timestamp and propagates classified errors untouched.
type Server struct {
	cfg    *config.Config
	client *github.Client
	conv   *github.Converter

	// mu guards the config fields config_set mutates; both transports
	// share one Server and the HTTP one serves requests concurrently.
	mu sync.RWMutex
}

// New wires the facade from its dependency-injected components.
func New(cfg *config.Config, client *github.Client, conv *github.Converter) *Server {
	return &Server{cfg: cfg, client: client, conv: conv}
}

// AuthStatusResult is the auth_status response payload.
type AuthStatusResult struct {
	Authenticated bool                      `json:"authenticated"`
	AuthType      string                    `json:"authType"`
	Login         string                    `json:"login,omitempty"`
	Scopes        []string                  `json:"scopes"`
	RateLimits    *github.RateLimitSnapshot `json:"rateLimits,omitempty"`
	Timestamp     string                    `json:"timestamp"`
}

// AuthStatus reports the authenticated identity and current quota.
func (s *Server) AuthStatus(ctx context.Context) (*AuthStatusResult, error) {
	limits, err := s.client.GetRateLimit(ctx)
	if err != nil {
		return nil, err
	}

	scopes := s.client.Scopes()
	if scopes == nil {
		scopes = []string{}
	}
	return &AuthStatusResult{
		Authenticated: true,
		AuthType:      string(s.client.Mode()),
		Login:         s.client.Login(),
		Scopes:        scopes,
		RateLimits:    limits,
		Timestamp:     timestamp(),
	}, nil
}

// ListRepositoriesParams is the list_repositories input shape.
type ListRepositoriesParams struct {
	Type      string `json:"type,omitempty" jsonschema:"Repository filter: all, owner or member (default all)"`
	Sort      string `json:"sort,omitempty" jsonschema:"Sort field (default updated)"`
	Direction string `json:"direction,omitempty" jsonschema:"Sort direction: asc or desc (default desc)"`
}

// ListRepositoriesResult is the list_repositories response payload.
type ListRepositoriesResult struct {
	Repositories []github.Repository `json:"repositories"`
	TotalCount   int                 `json:"totalCount"`
	Filters      map[string]string   `json:"filters"`
	Timestamp    string              `json:"timestamp"`
}

// ListRepositories lists repositories visible to the authenticated
// user. An empty result is a success, not an error.
func (s *Server) ListRepositories(ctx context.Context, params ListRepositoriesParams) (*ListRepositoriesResult, error) {
	repoType := params.Type
	if repoType == "" {
		repoType = "all"
	}
	sortField := params.Sort
	if sortField == "" {
		sortField = "updated"
	}
	direction := params.Direction
	if direction == "" {
		direction = "desc"
	}

	repos, err := s.client.ListRepositories(ctx, repoType, sortField, direction)
	if err != nil {
		return nil, err
	}
	if repos == nil {
		repos = []github.Repository{}
	}

	return &ListRepositoriesResult{
		Repositories: repos,
		TotalCount:   len(repos),
		Filters:      map[string]string{"type": repoType, "sort": sortField, "direction": direction},
		Timestamp:    timestamp(),
	}, nil
}

// CreateIssueParams is the create_issue input shape.
type CreateIssueParams struct {
	Repository string   `json:"repository" jsonschema:"Target repository as owner/name"`
	Title      string   `json:"title" jsonschema:"Issue title"`
	Body       string   `json:"body,omitempty" jsonschema:"Issue body in markdown"`
	Labels     []string `json:"labels,omitempty" jsonschema:"Labels to apply"`
	Assignees  []string `json:"assignees,omitempty" jsonschema:"Logins to assign"`
	Priority   string   `json:"priority,omitempty" jsonschema:"Optional priority label: low, medium or high"`
	TaskID     string   `json:"taskId,omitempty" jsonschema:"Optional task id embedded in the body for later recovery"`
}

// IssueResult is the create_issue / get_issue response payload.
type IssueResult struct {
	Success   bool          `json:"success"`
	Issue     *github.Issue `json:"issue"`
	Timestamp string        `json:"timestamp"`
}

// CreateIssue creates a single issue from explicit fields.
func (s *Server) CreateIssue(ctx context.Context, params CreateIssueParams) (*IssueResult, error) {
	if strings.TrimSpace(params.Title) == "" {
		return nil, github.NewClassified(github.KindTaskValidation, "title is required", nil)
	}
	owner, name, err := github.SplitRepository(params.Repository)
	if err != nil {
		return nil, err
	}

	labels := params.Labels
	if params.Priority != "" {
		labels = append(labels, params.Priority)
	}

	body := params.Body
	if params.TaskID != "" && github.ParseTaskID(body) == "" {
		// Embed the marker so the id survives a later get_issue.
		body = strings.TrimRight(body, "\n") + fmt.Sprintf("\n\n**Task ID**: %s\n", params.TaskID)
	}

	issue, err := s.client.CreateIssueDirect(ctx, owner, name, params.Title, body, labels, params.Assignees)
	if err != nil {
		return nil, err
	}

	return &IssueResult{Success: true, Issue: issue, Timestamp: timestamp()}, nil
}

// GetIssueParams is the get_issue input shape.
type GetIssueParams struct {
	Repository string `json:"repository" jsonschema:"Repository as owner/name"`
	IssueID    int    `json:"issueId" jsonschema:"Issue number"`
}

// GetIssue fetches one issue, recovering any embedded task id.
func (s *Server) GetIssue(ctx context.Context, params GetIssueParams) (*IssueResult, error) {
	if params.IssueID <= 0 {
		return nil, github.NewClassified(github.KindTaskValidation,
			fmt.Sprintf("issueId must be a positive issue number, got %d", params.IssueID), nil)
	}

	issue, err := s.conv.GetIssue(ctx, params.Repository, params.IssueID)
	if err != nil {
		return nil, err
	}
	return &IssueResult{Success: true, Issue: issue, Timestamp: timestamp()}, nil
}

// ConvertTasksParams is the convert_tasks input shape.
type ConvertTasksParams struct {
	Tasks          []github.Task  `json:"tasks" jsonschema:"Tasks to mirror as issues"`
	Repository     string         `json:"repository,omitempty" jsonschema:"Target repository as owner/name; falls back to the configured default"`
	CreateMissing  *bool          `json:"createMissing,omitempty" jsonschema:"Create issues for unmapped tasks (default true)"`
	UpdateExisting *bool          `json:"updateExisting,omitempty" jsonschema:"Update issues for mapped tasks (default false)"`
	ExtraLabels    []string       `json:"extraLabels,omitempty" jsonschema:"Additional labels for every converted issue"`
	Existing       map[string]int `json:"existing,omitempty" jsonschema:"Caller-tracked task id to issue number mapping"`
}

// ConvertTasksResult is the convert_tasks response payload.
type ConvertTasksResult struct {
	Success   bool             `json:"success"`
	Results   []github.Outcome `json:"results"`
	Summary   github.Summary   `json:"summary"`
	Timestamp string           `json:"timestamp"`
}

// ConvertTasks converts a batch of tasks sequentially, one outcome
// record per task, never aborting early.
func (s *Server) ConvertTasks(ctx context.Context, params ConvertTasksParams) (*ConvertTasksResult, error) {
	if len(params.Tasks) == 0 {
		return nil, github.NewClassified(github.KindTaskValidation, "tasks must not be empty", nil)
	}

	repository := params.Repository
	if repository == "" {
		s.mu.RLock()
		repository = s.cfg.DefaultRepository
		s.mu.RUnlock()
	}
	if repository == "" {
		return nil, github.NewClassified(github.KindTaskValidation,
			"no repository given and DEFAULT_REPOSITORY is not configured", nil)
	}

	opts := github.ConvertOptions{
		CreateMissing:  true,
		UpdateExisting: false,
		ExtraLabels:    params.ExtraLabels,
		Existing:       params.Existing,
	}
	if params.CreateMissing != nil {
		opts.CreateMissing = *params.CreateMissing
	}
	if params.UpdateExisting != nil {
		opts.UpdateExisting = *params.UpdateExisting
	}

	result, err := s.conv.ConvertTasks(ctx, params.Tasks, repository, opts)
	if err != nil {
		return nil, err
	}

	return &ConvertTasksResult{
		Success:   result.Success(),
		Results:   result.Outcomes,
		Summary:   result.Summary(),
		Timestamp: timestamp(),
	}, nil
}

// ConfigStatusResult is the config_status response payload.
type ConfigStatusResult struct {
	Configured  bool   `json:"configured"`
	AuthType    string `json:"authType"`
	DefaultRepo string `json:"defaultRepo"`
	ServerName  string `json:"serverName"`
	TimeoutMS   int    `json:"timeout"`
	Environment string `json:"environment"`
	Timestamp   string `json:"timestamp"`
}

// ConfigStatus reports the effective runtime configuration.
func (s *Server) ConfigStatus(ctx context.Context) (*ConfigStatusResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &ConfigStatusResult{
		Configured:  true,
		AuthType:    s.cfg.AuthType,
		DefaultRepo: s.cfg.DefaultRepository,
		ServerName:  s.cfg.ServerName,
		TimeoutMS:   int(s.cfg.RequestTimeout / time.Millisecond),
		Environment: s.cfg.Environment,
		Timestamp:   timestamp(),
	}, nil
}

// ConfigSetParams is the config_set input shape.
type ConfigSetParams struct {
	Key   string `json:"key" jsonschema:"Setting to change: default_repository, request_timeout_ms or max_retries"`
	Value string `json:"value" jsonschema:"New value"`
}

// ConfigSetResult is the config_set response payload.
type ConfigSetResult struct {
	Success   bool   `json:"success"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Timestamp string `json:"timestamp"`
}

// ConfigSet updates one of the mutable runtime settings.
func (s *Server) ConfigSet(ctx context.Context, params ConfigSetParams) (*ConfigSetResult, error) {
	switch params.Key {
	case "default_repository":
		if _, _, err := github.SplitRepository(params.Value); err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cfg.DefaultRepository = params.Value
		s.mu.Unlock()

	case "request_timeout_ms":
		ms, err := strconv.Atoi(params.Value)
		if err != nil || ms <= 0 {
			return nil, github.NewClassified(github.KindTaskValidation,
				fmt.Sprintf("request_timeout_ms must be a positive integer, got %q", params.Value), nil)
		}
		timeout := time.Duration(ms) * time.Millisecond
		s.mu.Lock()
		s.cfg.RequestTimeout = timeout
		s.mu.Unlock()
		s.client.SetTimeout(timeout)

	case "max_retries":
		n, err := strconv.Atoi(params.Value)
		if err != nil || n <= 0 {
			return nil, github.NewClassified(github.KindTaskValidation,
				fmt.Sprintf("max_retries must be a positive integer, got %q", params.Value), nil)
		}
		s.mu.Lock()
		s.cfg.MaxRetries = n
		s.mu.Unlock()
		s.client.SetMaxRetries(n)

	default:
		return nil, github.NewClassified(github.KindTaskValidation,
			fmt.Sprintf("unknown config key %q", params.Key), nil)
	}

	return &ConfigSetResult{Success: true, Key: params.Key, Value: params.Value, Timestamp: timestamp()}, nil
}

// decodeParams unmarshals a raw registry payload into the operation's
// typed shape, reporting malformed input as TASK_VALIDATION.
func decodeParams[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, github.NewClassified(github.KindTaskValidation, "invalid request payload: "+err.Error(), nil)
	}
	return v, nil
}

// RegisterAll binds every tool operation into the registry.
func (s *Server) RegisterAll(reg *Registry) {
	reg.Register(Operation{
		Name:        "auth_status",
		Description: "Report the authenticated identity, token scopes and current rate limits",
		Handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
			return s.AuthStatus(ctx)
		},
	})
	reg.Register(Operation{
		Name:        "list_repositories",
		Description: "List repositories visible to the authenticated user",
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			params, err := decodeParams[ListRepositoriesParams](raw)
			if err != nil {
				return nil, err
			}
			return s.ListRepositories(ctx, params)
		},
	})
	reg.Register(Operation{
		Name:        "create_issue",
		Description: "Create a GitHub issue",
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			params, err := decodeParams[CreateIssueParams](raw)
			if err != nil {
				return nil, err
			}
			return s.CreateIssue(ctx, params)
		},
	})
	reg.Register(Operation{
		Name:        "get_issue",
		Description: "Fetch a GitHub issue and recover its task id",
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			params, err := decodeParams[GetIssueParams](raw)
			if err != nil {
				return nil, err
			}
			return s.GetIssue(ctx, params)
		},
	})
	reg.Register(Operation{
		Name:        "convert_tasks",
		Description: "Convert a batch of tasks into GitHub issues",
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			params, err := decodeParams[ConvertTasksParams](raw)
			if err != nil {
				return nil, err
			}
			return s.ConvertTasks(ctx, params)
		},
	})
	reg.Register(Operation{
		Name:        "config_status",
		Description: "Report the effective server configuration",
		Handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
			return s.ConfigStatus(ctx)
		},
	})
	reg.Register(Operation{
		Name:        "config_set",
		Description: "Update a mutable server setting",
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			params, err := decodeParams[ConfigSetParams](raw)
			if err != nil {
				return nil, err
			}
			return s.ConfigSet(ctx, params)
		},
	})
}
