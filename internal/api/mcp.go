package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/digestd/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store   *storage.Store
	Runner  Runner
	Dedup   Deduplicator
	Version string
}

// NewMCPServer creates an MCP server exposing the newsletter knowledge base
// to local agents: item search, digest views and pipeline triggering.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"digestd",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("digestd: local newsletter digest pipeline. Search extracted items, build deduplicated digests, trigger ingestion runs."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_items",
			mcp.WithDescription("Search extracted newsletter items by title or summary text."),
			mcp.WithString("query", mcp.Description("Search text"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
		),
		mcpSearchItems(deps),
	)

	s.AddTool(
		mcp.NewTool("latest_digest",
			mcp.WithDescription("Build a deduplicated digest of items from the last N days."),
			mcp.WithNumber("days", mcp.Description("Window size in days (default 7)")),
		),
		mcpLatestDigest(deps),
	)

	s.AddTool(
		mcp.NewTool("run_pipeline",
			mcp.WithDescription("Run one ingestion batch: collect, convert and extract pending newsletters."),
		),
		mcpRunPipeline(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"digestd://status",
			"Pipeline Status",
			mcp.WithResourceDescription("Email ledger counts per processing status"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStatus(deps),
	)

	return s
}

func mcpSearchItems(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > maxItemLimit {
			limit = maxItemLimit
		}

		items, err := deps.Store.SearchItems(query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		b, err := json.Marshal(itemViews(items))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpLatestDigest(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		days := req.GetInt("days", defaultDigestDays)

		digest, err := BuildDigest(ctx, deps.Store, deps.Dedup, days)
		if err != nil {
			return mcpError(fmt.Sprintf("digest failed: %v", err)), nil
		}
		return mcpText(RenderMarkdown(digest)), nil
	}
}

func mcpRunPipeline(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := deps.Runner.Run(ctx)

		b, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal run result: %v", err)), nil
		}
		if !result.Success && result.FailureReason != "" {
			return mcpError(string(b)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceStatus(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		counts, err := deps.Store.CountByStatus()
		if err != nil {
			return nil, fmt.Errorf("reading status counts: %w", err)
		}
		items, err := deps.Store.CountItems()
		if err != nil {
			return nil, fmt.Errorf("counting items: %w", err)
		}

		b, err := json.Marshal(map[string]any{
			"emails": counts,
			"items":  items,
		})
		if err != nil {
			return nil, err
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
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
