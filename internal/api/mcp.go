package api

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/helpdesk/internal/conversation"
	"github.com/kalambet/helpdesk/internal/engine"
	"github.com/kalambet/helpdesk/internal/retrieval"
)

// Drafter produces replies with provenance. Implemented by engine.Engine.
type Drafter interface {
	Generate(ctx context.Context, req engine.Request) (engine.Reply, error)
}

// ConversationLister lists conversations. Implemented by conversation.Store.
type ConversationLister interface {
	List() []conversation.Conversation
	ListQueue(q conversation.Queue) []conversation.Conversation
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Knowledge     conversation.KnowledgeSource
	Models        conversation.ModelSource
	Drafter       Drafter
	Conversations ConversationLister
}

// NewMCPServer creates an MCP server with the help-desk tools and resources
// registered.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"helpdesk",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("helpdesk: customer support knowledge base, reply drafting and conversation queues."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_knowledge",
			mcp.WithDescription("Find the knowledge-base article that best matches a customer question using keyword scoring."),
			mcp.WithString("query", mcp.Description("Customer question or search terms"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of ranked results (default 3)")),
		),
		mcpSearchKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("draft_reply",
			mcp.WithDescription("Draft a reply to a customer question from the knowledge base, using the active model when one is connected."),
			mcp.WithString("question", mcp.Description("The customer's question"), mcp.Required()),
		),
		mcpDraftReply(deps),
	)

	s.AddTool(
		mcp.NewTool("list_conversations",
			mcp.WithDescription("List customer conversations, optionally restricted to one queue."),
			mcp.WithString("queue",
				mcp.Description("Queue filter"),
				mcp.Enum(queueNames()...),
			),
		),
		mcpListConversations(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"helpdesk://documents",
			"Knowledge Base",
			mcp.WithResourceDescription("All knowledge-base documents as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceDocuments(deps),
	)

	return s
}

func queueNames() []string {
	names := make([]string, len(conversation.Queues))
	for i, q := range conversation.Queues {
		names[i] = string(q)
	}
	return names
}

func mcpSearchKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		limit := req.GetInt("limit", 3)
		if limit <= 0 {
			limit = 3
		}
		if limit > 20 {
			limit = 20
		}

		docs := conversation.DocumentsOf(deps.Knowledge)
		best, ok := retrieval.Best(query, docs)
		result := struct {
			Answer  string                     `json:"answer"`
			Matched bool                       `json:"matched"`
			Best    *retrieval.ScoredDocument  `json:"best,omitempty"`
			Ranked  []retrieval.ScoredDocument `json:"ranked"`
		}{
			Answer:  engine.DefaultReply,
			Matched: ok,
			Ranked:  retrieval.Rank(query, docs, limit),
		}
		if ok {
			result.Best = &best
			result.Answer = retrieval.Excerpt(best.Document.Content)
		}

		b, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpDraftReply(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Drafter == nil {
			return mcpError("reply drafting not available"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		reply, err := deps.Drafter.Generate(ctx, engine.Request{
			Message:   question,
			Knowledge: conversation.DocumentsOf(deps.Knowledge),
			Model:     conversation.ActiveOf(deps.Models),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("draft failed: %v", err)), nil
		}

		b, err := json.Marshal(reply)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal reply: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListConversations(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		convs := deps.Conversations.List()
		if raw := req.GetString("queue", ""); raw != "" {
			q, ok := conversation.ParseQueue(raw)
			if !ok {
				return mcpError(fmt.Sprintf("unknown queue %q", raw)), nil
			}
			convs = deps.Conversations.ListQueue(q)
		}

		out := make([]ConversationSummary, len(convs))
		for i, c := range convs {
			out[i] = summarize(c)
			if utf8.RuneCountInString(out[i].LastMessage) > 200 {
				runes := []rune(out[i].LastMessage)
				out[i].LastMessage = string(runes[:200]) + "..."
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal conversations: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceDocuments(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(conversation.DocumentsOf(deps.Knowledge))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal documents: %w", err)
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
