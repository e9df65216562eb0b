package github

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	gh "github.com/google/go-github/v66/github"
)

const (
	// taskIDMarker is the body marker the task id is recovered from.
	taskIDMarker = "**Task ID**: "

	// speckitLabel tags every converted issue as machine-generated.
	speckitLabel = "speckit"

	generatedTrailer = "_This issue was generated automatically from a speckit task. Do not edit the task fields by hand._"
)

// SplitRepository validates and splits an "owner/name" repository
// string. Any other shape is a TASK_VALIDATION failure raised before
// any network call.
func SplitRepository(repository string) (owner, name string, err error) {
	parts := strings.Split(repository, "/")
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return "", "", NewClassified(KindTaskValidation,
			fmt.Sprintf("invalid repository %q (expected owner/name)", repository), nil)
	}
	return parts[0], parts[1], nil
}

// BuildIssueTitle renders the issue title for a task.
func BuildIssueTitle(t Task) string {
	return fmt.Sprintf("%s (%s)", t.Title, t.ID)
}

// BuildIssueBody renders the fixed issue body template for a task. The
// "**Task ID**:" line is the marker ParseTaskID recovers the id from;
// the dependency section is omitted entirely when the task has none.
func BuildIssueBody(t Task) string {
	var b strings.Builder

	b.WriteString("## Task\n\n")
	fmt.Fprintf(&b, "%s%s\n", taskIDMarker, t.ID)
	fmt.Fprintf(&b, "**Title**: %s\n", t.Title)
	fmt.Fprintf(&b, "**Priority**: %s\n", t.Priority)
	fmt.Fprintf(&b, "**Story**: %s\n", t.Story)
	fmt.Fprintf(&b, "**Status**: %s\n", t.Status)

	b.WriteString("\n## Description\n\n")
	b.WriteString(t.Description)
	b.WriteString("\n")

	if len(t.Dependencies) > 0 {
		b.WriteString("\n## Dependencies\n\n")
		for _, dep := range t.Dependencies {
			fmt.Fprintf(&b, "- %s\n", dep)
		}
	}

	metadata := t.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	pretty, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		pretty = []byte("{}")
	}
	b.WriteString("\n## Metadata\n\n")
	fmt.Fprintf(&b, "```json\n%s\n```\n", pretty)

	b.WriteString("\n---\n")
	b.WriteString(generatedTrailer)
	b.WriteString("\n")

	return b.String()
}

// BuildIssueLabels is the union of the speckit tag, the task's priority
// and story, and any caller-supplied extras, with empty entries
// filtered out. First-occurrence order is preserved.
func BuildIssueLabels(t Task, extra []string) []string {
	candidates := []string{speckitLabel, string(t.Priority), t.Story}
	candidates = append(candidates, extra...)

	seen := make(map[string]bool, len(candidates))
	labels := make([]string, 0, len(candidates))
	for _, l := range candidates {
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		labels = append(labels, l)
	}
	return labels
}

// ParseTaskID recovers the task id embedded in an issue body: the first
// non-whitespace token after the task marker, or the empty string when
// the marker is absent.
func ParseTaskID(body string) string {
	idx := strings.Index(body, taskIDMarker)
	if idx < 0 {
		return ""
	}
	rest := body[idx+len(taskIDMarker):]
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Converter maps internal tasks onto remote issues through the
// rate-limited client.
type Converter struct {
	client *Client
}

// NewConverter builds a converter on top of an initialized client.
func NewConverter(client *Client) *Converter {
	return &Converter{client: client}
}

// CreateIssue converts a task into a new issue in the given repository.
// All validation happens before any network call.
func (c *Converter) CreateIssue(ctx context.Context, task Task, repository string, extraLabels []string) (*Issue, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	owner, name, err := SplitRepository(repository)
	if err != nil {
		return nil, err
	}

	labels := BuildIssueLabels(task, extraLabels)
	req := &gh.IssueRequest{
		Title:  gh.String(BuildIssueTitle(task)),
		Body:   gh.String(BuildIssueBody(task)),
		Labels: &labels,
	}

	created, err := c.client.CreateIssue(ctx, owner, name, req)
	if err != nil {
		return nil, err
	}
	return issueFromGitHub(created), nil
}

// UpdateIssue refreshes an existing issue from an updated task. The
// returned issue's task id is parsed out of the response body, not
// assumed to equal the input task's id.
func (c *Converter) UpdateIssue(ctx context.Context, task Task, repository string, number int, extraLabels []string) (*Issue, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	owner, name, err := SplitRepository(repository)
	if err != nil {
		return nil, err
	}

	labels := BuildIssueLabels(task, extraLabels)
	req := &gh.IssueRequest{
		Title:  gh.String(BuildIssueTitle(task)),
		Body:   gh.String(BuildIssueBody(task)),
		Labels: &labels,
	}

	updated, err := c.client.EditIssue(ctx, owner, name, number, req)
	if err != nil {
		return nil, err
	}
	return issueFromGitHub(updated), nil
}

// GetIssue fetches a single issue, recovering its task id.
func (c *Converter) GetIssue(ctx context.Context, repository string, number int) (*Issue, error) {
	owner, name, err := SplitRepository(repository)
	if err != nil {
		return nil, err
	}

	issue, err := c.client.GetIssue(ctx, owner, name, number)
	if err != nil {
		return nil, err
	}
	return issueFromGitHub(issue), nil
}

// ConvertOptions controls the create-vs-update decision per task.
// Existing is the caller-tracked task-to-issue-number mapping; the
// converter itself never persists one.
type ConvertOptions struct {
	CreateMissing  bool
	UpdateExisting bool
	ExtraLabels    []string
	Existing       map[string]int
}

// Outcome is exactly one result record per converted task: either the
// resulting issue or an error message, never both.
type Outcome struct {
	Task  Task   `json:"task"`
	Issue *Issue `json:"issue,omitempty"`
	Err   string `json:"error,omitempty"`
}

// Summary is derived from the outcomes, never stored separately.
type Summary struct {
	Total   int `json:"total"`
	Created int `json:"created"`
	Errors  int `json:"errors"`
}

// BatchResult is the full outcome list of a batch conversion, in input
// order.
type BatchResult struct {
	Outcomes []Outcome
}

// Summary derives the batch counts from the outcome records.
func (r BatchResult) Summary() Summary {
	s := Summary{Total: len(r.Outcomes)}
	for _, o := range r.Outcomes {
		if o.Err != "" {
			s.Errors++
		} else {
			s.Created++
		}
	}
	return s
}

// Success reports whether the batch produced zero error records.
func (r BatchResult) Success() bool {
	return r.Summary().Errors == 0
}

// ConvertTasks processes tasks strictly one at a time, in input order,
// and never aborts early: every task gets exactly one outcome record.
// The repository is validated once, before any network call.
func (c *Converter) ConvertTasks(ctx context.Context, tasks []Task, repository string, opts ConvertOptions) (BatchResult, error) {
	if _, _, err := SplitRepository(repository); err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{Outcomes: make([]Outcome, 0, len(tasks))}
	for _, task := range tasks {
		issue, err := c.convertOne(ctx, task, repository, opts)
		if err != nil {
			log.Printf("[Converter] task %s failed: %v", task.ID, err)
			result.Outcomes = append(result.Outcomes, Outcome{Task: task, Err: err.Error()})
			continue
		}
		result.Outcomes = append(result.Outcomes, Outcome{Task: task, Issue: issue})
	}
	return result, nil
}

func (c *Converter) convertOne(ctx context.Context, task Task, repository string, opts ConvertOptions) (*Issue, error) {
	number, exists := opts.Existing[task.ID]
	switch {
	case exists && opts.UpdateExisting:
		return c.UpdateIssue(ctx, task, repository, number, opts.ExtraLabels)
	case exists:
		// Updates disabled: report the live issue as-is.
		return c.GetIssue(ctx, repository, number)
	case opts.CreateMissing:
		return c.CreateIssue(ctx, task, repository, opts.ExtraLabels)
	default:
		return nil, NewClassified(KindTaskValidation,
			fmt.Sprintf("task %s has no existing issue and creation is disabled", task.ID), nil)
	}
}
