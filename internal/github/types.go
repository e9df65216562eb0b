package github

import (
	"fmt"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"
)

// TaskPriority is the priority of an internal task.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// TaskStatus is the workflow status of an internal task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in-progress"
	StatusCompleted  TaskStatus = "completed"
)

// Task is an internal work item to be mirrored as a GitHub issue.
// Tasks are caller-supplied and read-only input; the converter never
// mutates one.
type Task struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	Priority     TaskPriority   `json:"priority,omitempty"`
	Story        string         `json:"story,omitempty"`
	Status       TaskStatus     `json:"status,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Validate checks the fields required before a task can be converted.
func (t Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return NewClassified(KindTaskValidation, "task id is required", nil)
	}
	if strings.TrimSpace(t.Title) == "" {
		return NewClassified(KindTaskValidation, fmt.Sprintf("task %s: title is required", t.ID), nil)
	}
	switch t.Priority {
	case "", PriorityLow, PriorityMedium, PriorityHigh:
	default:
		return NewClassified(KindTaskValidation, fmt.Sprintf("task %s: invalid priority %q", t.ID, t.Priority), nil)
	}
	switch t.Status {
	case "", StatusPending, StatusInProgress, StatusCompleted:
	default:
		return NewClassified(KindTaskValidation, fmt.Sprintf("task %s: invalid status %q", t.ID, t.Status), nil)
	}
	return nil
}

// IssueState is the remote issue state.
type IssueState string

const (
	IssueOpen   IssueState = "open"
	IssueClosed IssueState = "closed"
	IssueLocked IssueState = "locked"
)

// Issue is the remote tracker's representation of a task. It is never
// persisted locally; instances live only for the duration of a response.
type Issue struct {
	ID        string     `json:"id"`
	URL       string     `json:"url"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	State     IssueState `json:"state"`
	Labels    []string   `json:"labels"`
	Assignees []string   `json:"assignees"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	// TaskID is recovered from the issue body; empty when the body
	// carries no task marker.
	TaskID string `json:"taskId"`
}

// issueFromGitHub maps a go-github issue to the domain shape, recovering
// the task id from the response body.
func issueFromGitHub(gi *gh.Issue) *Issue {
	if gi == nil {
		return nil
	}

	state := IssueState(gi.GetState())
	if gi.GetLocked() {
		state = IssueLocked
	}

	labels := make([]string, 0, len(gi.Labels))
	for _, l := range gi.Labels {
		labels = append(labels, l.GetName())
	}
	assignees := make([]string, 0, len(gi.Assignees))
	for _, a := range gi.Assignees {
		assignees = append(assignees, a.GetLogin())
	}

	return &Issue{
		ID:        fmt.Sprintf("%d", gi.GetNumber()),
		URL:       gi.GetHTMLURL(),
		Title:     gi.GetTitle(),
		Body:      gi.GetBody(),
		State:     state,
		Labels:    labels,
		Assignees: assignees,
		CreatedAt: gi.GetCreatedAt().Time,
		UpdatedAt: gi.GetUpdatedAt().Time,
		TaskID:    ParseTaskID(gi.GetBody()),
	}
}

// RateLimitSnapshot is a point-in-time view of the API quota. It is
// fetched on demand and never cached.
type RateLimitSnapshot struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Used      int       `json:"used"`
	Reset     time.Time `json:"reset"`
}

// RepoPermissions records what the authenticated identity may do in a
// repository.
type RepoPermissions struct {
	Pull   bool `json:"pull"`
	Push   bool `json:"push"`
	Admin  bool `json:"admin"`
	Issues bool `json:"issues"`
}

// Repository is a reference to a remote repository.
type Repository struct {
	Owner         string          `json:"owner"`
	Name          string          `json:"name"`
	FullName      string          `json:"fullName"`
	Private       bool            `json:"private"`
	Permissions   RepoPermissions `json:"permissions"`
	DefaultBranch string          `json:"defaultBranch"`
}

func repositoryFromGitHub(gr *gh.Repository) Repository {
	perms := gr.GetPermissions()
	return Repository{
		Owner:    gr.GetOwner().GetLogin(),
		Name:     gr.GetName(),
		FullName: gr.GetFullName(),
		Private:  gr.GetPrivate(),
		Permissions: RepoPermissions{
			Pull:  perms["pull"],
			Push:  perms["push"],
			Admin: perms["admin"],
			// GitHub has no standalone issues permission; push or
			// admin implies issue management.
			Issues: perms["push"] || perms["admin"],
		},
		DefaultBranch: gr.GetDefaultBranch(),
	}
}
