package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/recall/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Searcher Searcher
}

// NewMCPServer creates an MCP server exposing the activity memory to
// model-driven clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"recall",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("recall: queryable personal activity memory built from screen recordings."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_memory",
			mcp.WithDescription("Search the activity memory's narrative summaries and return relevant passages."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchMemory(deps),
	)

	s.AddTool(
		mcp.NewTool("get_summary",
			mcp.WithDescription("Fetch the generated summary for a period and date key (e.g. day + 2026-08-31, week + 2026-W35, month + 2026-08)."),
			mcp.WithString("period", mcp.Description("One of: day, week, month"), mcp.Required()),
			mcp.WithString("date", mcp.Description("Date key for the period"), mcp.Required()),
		),
		mcpGetSummary(deps),
	)

	s.AddTool(
		mcp.NewTool("list_projects",
			mcp.WithDescription("List recognized projects, most recently active first."),
		),
		mcpListProjects(deps),
	)

	s.AddTool(
		mcp.NewTool("list_habits",
			mcp.WithDescription("List detected behavioral habits, highest confidence first."),
		),
		mcpListHabits(deps),
	)

	return s
}

func mcpSearchMemory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		results, err := deps.Searcher.Query(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		out := make([]SearchResult, len(results))
		for i, r := range results {
			out[i] = SearchResult{
				Path:      r.Chunk.Path,
				StartLine: r.Chunk.StartLine,
				EndLine:   r.Chunk.EndLine,
				Content:   r.Chunk.Content,
				Score:     r.Score,
			}
		}
		return marshalResult(out)
	}
}

func mcpGetSummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		period, err := req.RequireString("period")
		if err != nil {
			return mcpError("period is required"), nil
		}
		dateKey, err := req.RequireString("date")
		if err != nil {
			return mcpError("date is required"), nil
		}

		sum, err := deps.Store.GetSummary(period, dateKey)
		if err != nil {
			return mcpError(fmt.Sprintf("no %s summary for %s", period, dateKey)), nil
		}
		return mcpText(sum.Content), nil
	}
}

func mcpListProjects(deps MCPDeps) server.ToolHandlerFunc {
	return func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projects, err := deps.Store.ListProjects()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list projects: %v", err)), nil
		}
		out := make([]ProjectResponse, len(projects))
		for i, p := range projects {
			out[i] = ProjectResponse{
				ID:        p.ID,
				Name:      p.Name,
				Signature: unmarshalStrings(p.Signature),
				CreatedAt: p.CreatedAt,
				UpdatedAt: p.UpdatedAt,
			}
		}
		return marshalResult(out)
	}
}

func mcpListHabits(deps MCPDeps) server.ToolHandlerFunc {
	return func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		habits, err := deps.Store.ListHabits()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list habits: %v", err)), nil
		}
		out := make([]HabitResponse, len(habits))
		for i, h := range habits {
			out[i] = HabitResponse{
				ID:         h.ID,
				Kind:       h.Kind,
				Signature:  h.Signature,
				Payload:    json.RawMessage(h.Payload),
				Confidence: h.Confidence,
				FirstSeen:  h.FirstSeen,
				LastSeen:   h.LastSeen,
			}
		}
		return marshalResult(out)
	}
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
