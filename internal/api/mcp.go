package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/opsdesk/ticketrag/internal/storage"
)

// NewMCPServer creates an MCP server exposing ticket search and answering.
// It shares Deps with the HTTP handler; Store may be nil, in which case
// answered queries are not persisted and the recent resource is empty.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"ticketrag",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("ticketrag provides retrieval-augmented answers over ingested support tickets."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_tickets",
			mcp.WithDescription("Semantically search indexed ticket chunks and return the most similar ones with scores."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchTickets(deps),
	)

	s.AddTool(
		mcp.NewTool("answer_query",
			mcp.WithDescription("Answer a question using only evidence retrieved from the indexed tickets."),
			mcp.WithString("query", mcp.Description("The question to answer"), mcp.Required()),
		),
		mcpAnswerQuery(deps),
	)

	s.AddTool(
		mcp.NewTool("rebuild_index",
			mcp.WithDescription("Ingest any new ticket export files and rebuild the vector index from the full chunk log."),
		),
		mcpRebuildIndex(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"tickets://recent",
			"Recent Interactions",
			mcp.WithResourceDescription("Last 10 answered queries (truncated)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpSearchTickets(deps Deps) server.ToolHandlerFunc {
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

		chunks, err := deps.Searcher.Search(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(chunks) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(chunks)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAnswerQuery(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		res, err := deps.Answerer.Answer(ctx, query)
		if err != nil {
			return mcpError(fmt.Sprintf("answering failed: %v", err)), nil
		}

		if deps.Store != nil {
			interaction := storage.Interaction{
				ID:        uuid.New().String(),
				CreatedAt: time.Now().UTC(),
				Query:     query,
				Answer:    res.Answer,
				Model:     deps.Model,
				TopK:      len(res.Sources),
				Sources:   marshalSources(res.Sources),
			}
			if err := deps.Store.SaveInteraction(interaction); err != nil {
				return mcpError(fmt.Sprintf("answered but failed to save interaction: %v", err)), nil
			}
		}

		return mcpText(res.Answer), nil
	}
}

func mcpRebuildIndex(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		summary, err := deps.Rebuilder.Rebuild(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("rebuild failed: %v", err)), nil
		}

		b, err := json.Marshal(summary)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal summary: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		var interactions []storage.Interaction
		if deps.Store != nil {
			var err error
			interactions, err = deps.Store.RecentInteractions(10)
			if err != nil {
				return nil, fmt.Errorf("failed to get recent interactions: %w", err)
			}
		}

		type interactionSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Query     string `json:"query"`
			Answer    string `json:"answer"`
		}

		summaries := make([]interactionSummary, len(interactions))
		for i, ix := range interactions {
			summaries[i] = interactionSummary{
				ID:        ix.ID,
				CreatedAt: ix.CreatedAt.Format(time.RFC3339),
				Query:     truncateRunes(ix.Query, 200),
				Answer:    truncateRunes(ix.Answer, 200),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal interactions: %w", err)
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

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
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
