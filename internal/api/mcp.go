package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/solvedoc/solvedoc/internal/answer"
	"github.com/solvedoc/solvedoc/internal/scope"
	"github.com/solvedoc/solvedoc/internal/storage"
)

// MCPDocumentLister abstracts document listing for the MCP layer.
type MCPDocumentLister interface {
	ListDocuments(ownerID string, limit, offset int) ([]storage.Document, error)
}

// MCPDeps holds dependencies for the MCP server. OwnerID is fixed per server
// instance: MCP runs over stdio for a single local user.
type MCPDeps struct {
	Store    MCPDocumentLister
	Pipeline AskPipeline
	OwnerID  string
}

// NewMCPServer creates an MCP server exposing document Q&A tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"solvedoc",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("solvedoc — ask questions against your uploaded PDF documents, grounded in their actual content."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a question. Provide document_id to answer strictly from that document; omit it to answer from general knowledge with your corpus as context."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("document_id", mcp.Description("Optional document to scope the answer to")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List uploaded documents with their processing state."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of documents (default 20)")),
		),
		mcpListDocuments(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		documentID := req.GetString("document_id", "")

		resp, err := deps.Pipeline.Ask(ctx, answer.Request{
			OwnerID:    deps.OwnerID,
			DocumentID: documentID,
			Question:   question,
		})
		if errors.Is(err, scope.ErrDocumentNotFound) {
			return mcpError("document not found"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		b, err := json.Marshal(resp)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		docs, err := deps.Store.ListDocuments(deps.OwnerID, limit, 0)
		if err != nil {
			return mcpError(fmt.Sprintf("listing documents failed: %v", err)), nil
		}

		out := make([]DocumentResponse, len(docs))
		for i, d := range docs {
			out[i] = toDocumentResponse(d)
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal documents: %v", err)), nil
		}
		return mcpText(string(b)), nil
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
