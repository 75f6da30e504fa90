package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/docent/internal/assistant"
	"github.com/kalambet/docent/internal/retrieval"
)

// MCPDeps holds dependencies for the MCP server. Every tool call acts as
// Viewer, the identity configured for the local installation.
type MCPDeps struct {
	Assistant Answerer
	Snapshots assistant.SnapshotSource
	Reports   assistant.Reporter // optional; if nil, document_report returns an error
	Viewer    assistant.Viewer
	Version   string
}

// NewMCPServer creates an MCP server with the docent tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"docent",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("docent answers questions about your organization's stored documents: where they are kept, what was uploaded when, and what expires soon."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_documents",
			mcp.WithDescription("Ask a natural-language question about stored documents. Returns the answer and the documents it refers to."),
			mcp.WithString("message", mcp.Description("The question, e.g. \"어제 올린 문서\" or \"계약서 어디 있어?\""), mcp.Required()),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("search_documents",
			mcp.WithDescription("Search stored documents by keyword in the title or extracted text."),
			mcp.WithString("query", mcp.Description("Search keyword"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearch(deps),
	)

	s.AddTool(
		mcp.NewTool("document_report",
			mcp.WithDescription("Build a status report: documents expiring soon, shared documents, or NFC tag coverage."),
			mcp.WithString("kind", mcp.Description("One of expiry, shared, nfc"), mcp.Required(), mcp.Enum("expiry", "shared", "nfc")),
		),
		mcpReport(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"docent://stats",
			"Document Statistics",
			mcp.WithResourceDescription("Document counts per department and category as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		res := deps.Assistant.GenerateResponse(ctx, assistant.Request{Message: message, Viewer: deps.Viewer}, nil)

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearch(deps MCPDeps) server.ToolHandlerFunc {
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

		scope := deps.Viewer.Scope()
		snap, err := deps.Snapshots.Snapshot(ctx, scope)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		docs := retrieval.NewIndex(snap, scope).SearchByKeyword(query)
		if len(docs) > limit {
			docs = docs[:limit]
		}

		b, err := json.Marshal(docs)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpReport(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Reports == nil {
			return mcpError("reports are not available"), nil
		}
		kind, err := req.RequireString("kind")
		if err != nil {
			return mcpError("kind is required"), nil
		}

		scope := deps.Viewer.Scope()
		var text string
		switch kind {
		case "expiry":
			text, err = deps.Reports.Expiry(ctx, scope)
		case "shared":
			text, err = deps.Reports.Shared(ctx, scope, deps.Viewer.UserID)
		case "nfc":
			text, err = deps.Reports.NFC(ctx, scope)
		default:
			return mcpError(fmt.Sprintf("unknown report kind %q", kind)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("report failed: %v", err)), nil
		}
		return mcpText(text), nil
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		scope := deps.Viewer.Scope()
		snap, err := deps.Snapshots.Snapshot(ctx, scope)
		if err != nil {
			return nil, fmt.Errorf("failed to load documents: %w", err)
		}
		ix := retrieval.NewIndex(snap, scope)

		b, err := json.Marshal(map[string]any{
			"total":       ix.Count(),
			"departments": ix.DepartmentStats(),
			"categories":  ix.CategoryStats(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stats: %w", err)
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
