package main

import (
	"context"
	"encoding/json"
	"log"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/speckit/taskbridge/internal/github"
	"github.com/speckit/taskbridge/internal/server"
)

// Tools binds the facade's operations to the MCP transport.
type Tools struct {
	srv *server.Server
}

// AuthStatusParams is the (empty) input shape for auth_status.
type AuthStatusParams struct{}

// ConfigStatusParams is the (empty) input shape for config_status.
type ConfigStatusParams struct{}

// toolSuccess serializes a facade result as the tool call's text
// content.
func toolSuccess(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolFailure(err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

// toolFailure returns the classified-error JSON with IsError set.
// Nothing unclassified crosses this boundary; a raw Go error would
// abort the tool call instead of reporting a structured failure.
func toolFailure(err error) (*mcp.CallToolResult, any, error) {
	ce := github.ClassifyErr(err)
	log.Printf("[MCP GitHub Server] Tool call failed: %v", ce)

	data, merr := json.MarshalIndent(ce, "", "  ")
	if merr != nil {
		data = []byte(`{"kind":"UNKNOWN_ERROR","message":"failed to serialize error"}`)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		IsError: true,
	}, nil, nil
}

// HandleAuthStatus handles the auth_status tool call.
func (t *Tools) HandleAuthStatus(ctx context.Context, req *mcp.CallToolRequest, params AuthStatusParams) (*mcp.CallToolResult, any, error) {
	result, err := t.srv.AuthStatus(ctx)
	if err != nil {
		return toolFailure(err)
	}
	return toolSuccess(result)
}

// HandleListRepositories handles the list_repositories tool call.
func (t *Tools) HandleListRepositories(ctx context.Context, req *mcp.CallToolRequest, params server.ListRepositoriesParams) (*mcp.CallToolResult, any, error) {
	result, err := t.srv.ListRepositories(ctx, params)
	if err != nil {
		return toolFailure(err)
	}
	return toolSuccess(result)
}

// HandleCreateIssue handles the create_issue tool call.
func (t *Tools) HandleCreateIssue(ctx context.Context, req *mcp.CallToolRequest, params server.CreateIssueParams) (*mcp.CallToolResult, any, error) {
	result, err := t.srv.CreateIssue(ctx, params)
	if err != nil {
		return toolFailure(err)
	}
	return toolSuccess(result)
}

// HandleGetIssue handles the get_issue tool call.
func (t *Tools) HandleGetIssue(ctx context.Context, req *mcp.CallToolRequest, params server.GetIssueParams) (*mcp.CallToolResult, any, error) {
	result, err := t.srv.GetIssue(ctx, params)
	if err != nil {
		return toolFailure(err)
	}
	return toolSuccess(result)
}

// HandleConvertTasks handles the convert_tasks tool call.
func (t *Tools) HandleConvertTasks(ctx context.Context, req *mcp.CallToolRequest, params server.ConvertTasksParams) (*mcp.CallToolResult, any, error) {
	result, err := t.srv.ConvertTasks(ctx, params)
	if err != nil {
		return toolFailure(err)
	}
	return toolSuccess(result)
}

// HandleConfigStatus handles the config_status tool call.
func (t *Tools) HandleConfigStatus(ctx context.Context, req *mcp.CallToolRequest, params ConfigStatusParams) (*mcp.CallToolResult, any, error) {
	result, err := t.srv.ConfigStatus(ctx)
	if err != nil {
		return toolFailure(err)
	}
	return toolSuccess(result)
}

// HandleConfigSet handles the config_set tool call.
func (t *Tools) HandleConfigSet(ctx context.Context, req *mcp.CallToolRequest, params server.ConfigSetParams) (*mcp.CallToolResult, any, error) {
	result, err := t.srv.ConfigSet(ctx, params)
	if err != nil {
		return toolFailure(err)
	}
	return toolSuccess(result)
}

// registerTools wires every facade operation as an MCP tool.
func registerTools(s *mcp.Server, t *Tools) {
	mcp.AddTool(s, &mcp.Tool{
		Name:        "auth_status",
		Description: "Report the authenticated GitHub identity, token scopes and current rate limits",
	}, t.HandleAuthStatus)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "list_repositories",
		Description: "List repositories visible to the authenticated user, newest activity first",
	}, t.HandleListRepositories)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "create_issue",
		Description: "Create a GitHub issue in the given repository",
	}, t.HandleCreateIssue)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_issue",
		Description: "Fetch a GitHub issue by number and recover its embedded task id",
	}, t.HandleGetIssue)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "convert_tasks",
		Description: "Convert a batch of speckit tasks into GitHub issues (create or update)",
	}, t.HandleConvertTasks)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "config_status",
		Description: "Report the effective server configuration",
	}, t.HandleConfigStatus)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "config_set",
		Description: "Update a mutable server setting (default_repository, request_timeout_ms, max_retries)",
	}, t.HandleConfigSet)

	log.Println("[MCP GitHub Server] Registered 7 tools")
}
