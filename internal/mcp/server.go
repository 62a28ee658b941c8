package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/prboard/internal/dashboard"
	"github.com/joescharf/prboard/internal/models"
	"github.com/joescharf/prboard/internal/store"
)

// Server exposes review reports as MCP tools.
type Server struct {
	events        store.EventStore
	defaultTenant models.TenantSlug
	pageSize      int
	version       string
}

// NewServer creates the MCP server wrapper. defaultTenant scopes calls that
// pass no tenant; empty means all tenants.
func NewServer(events store.EventStore, defaultTenant models.TenantSlug, pageSize int, version string) *Server {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Server{
		events:        events,
		defaultTenant: defaultTenant,
		pageSize:      pageSize,
		version:       version,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("prboard", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.listReportsTool())
	srv.AddTool(s.getReportTool())
	srv.AddTool(s.dashboardMetricsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func (s *Server) tenant(request mcp.CallToolRequest) models.TenantSlug {
	if t := request.GetString("tenant", ""); t != "" {
		return models.TenantSlug(t)
	}
	return s.defaultTenant
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// prboard_list_reports
func (s *Server) listReportsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prboard_list_reports",
		mcp.WithDescription("List PR review runs grouped by PR, latest run first. Each group has the repository, PR, branch, recommendation, pass rate, test counts and the ids of earlier runs."),
		mcp.WithString("tenant", mcp.Description("Customer slug to filter by")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs to read (default 100)")),
	)
	return tool, s.handleListReports
}

type groupOut struct {
	Key         string            `json:"key"`
	Latest      dashboard.Summary `json:"latest"`
	PreviousIDs []int64           `json:"previous_ids"`
}

func (s *Server) handleListReports(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", s.pageSize)
	if limit <= 0 {
		return mcp.NewToolResultError("limit must be positive"), nil
	}

	events, err := s.events.ListEvents(ctx, s.tenant(request), limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list reports: %v", err)), nil
	}

	groups := dashboard.GroupRuns(events)
	out := make([]groupOut, len(groups))
	for i, g := range groups {
		ids := make([]int64, len(g.Previous))
		for j, e := range g.Previous {
			ids[j] = e.ID
		}
		out[i] = groupOut{Key: g.Key, Latest: dashboard.Summarize(g.Latest), PreviousIDs: ids}
	}
	return jsonResult(out)
}

// prboard_get_report
func (s *Server) getReportTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prboard_get_report",
		mcp.WithDescription("Get one review run by id, including the full structured analysis and the raw review comment."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Report id")),
	)
	return tool, s.handleGetReport
}

func (s *Server) handleGetReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireInt("id")
	if err != nil || id <= 0 {
		return mcp.NewToolResultError("Invalid report ID. Must be a number."), nil
	}

	event, err := s.events.GetEvent(ctx, int64(id))
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError("Report not found"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get report: %v", err)), nil
	}
	if s.defaultTenant != "" && event.CustomerSlug != s.defaultTenant {
		return mcp.NewToolResultError("Report not found"), nil
	}
	return jsonResult(event)
}

// prboard_dashboard_metrics
func (s *Server) dashboardMetricsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prboard_dashboard_metrics",
		mcp.WithDescription("Get totals for a tenant: unique repositories, runs, and unique PR numbers."),
		mcp.WithString("tenant", mcp.Description("Customer slug to filter by")),
	)
	return tool, s.handleDashboardMetrics
}

func (s *Server) handleDashboardMetrics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m, err := s.events.AggregateCounts(ctx, s.tenant(request))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get metrics: %v", err)), nil
	}
	return jsonResult(m)
}
