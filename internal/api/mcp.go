package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fifthdraft/fifthdraft/internal/evolution"
	"github.com/fifthdraft/fifthdraft/internal/mindmap"
	"github.com/fifthdraft/fifthdraft/internal/note"
	"github.com/fifthdraft/fifthdraft/internal/pipeline"
	"github.com/fifthdraft/fifthdraft/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Service *pipeline.Service
	// UserID owns every note the tools touch. Defaults to DefaultUserID.
	UserID  string
	Related evolution.Options
}

func (d MCPDeps) user() string {
	if d.UserID == "" {
		return DefaultUserID
	}
	return d.UserID
}

// NewMCPServer creates an MCP server with all fifthdraft tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"fifthdraft",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("fifthdraft: AI-structured notes from voice transcripts. Search notes, render mind maps, find related ideas and run web research."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("create_note",
			mcp.WithDescription("Save a transcript as a new note and structure it."),
			mcp.WithString("content", mcp.Description("Transcript text"), mcp.Required()),
			mcp.WithString("title", mcp.Description("Note title; derived from the content when omitted")),
			mcp.WithString("mode", mcp.Description("meeting or brainstorming (default meeting)")),
		),
		mcpCreateNote(deps),
	)

	s.AddTool(
		mcp.NewTool("search_notes",
			mcp.WithDescription("Find notes whose title or content contains every word of the query."),
			mcp.WithString("query", mcp.Description("Search words"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpSearchNotes(deps),
	)

	s.AddTool(
		mcp.NewTool("note_mindmap",
			mcp.WithDescription("Render a brainstorming note as a Mermaid mind map."),
			mcp.WithString("note_id", mcp.Description("Note ID"), mcp.Required()),
			mcp.WithString("format", mcp.Description("radial (default) or graph")),
		),
		mcpNoteMindmap(deps),
	)

	s.AddTool(
		mcp.NewTool("related_notes",
			mcp.WithDescription("Find earlier brainstorms similar to a note, with an optional timeline and merge suggestions."),
			mcp.WithString("note_id", mcp.Description("Note ID"), mcp.Required()),
			mcp.WithNumber("threshold", mcp.Description("Minimum similarity between 0 and 1 (default 0.7)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of related notes (default 5)")),
			mcp.WithBoolean("timeline", mcp.Description("Include the chronological evolution timeline")),
			mcp.WithBoolean("merge", mcp.Description("Include merge suggestions")),
		),
		mcpRelatedNotes(deps),
	)

	s.AddTool(
		mcp.NewTool("research_note",
			mcp.WithDescription("Research a note on the web and store the findings, summary and key insights."),
			mcp.WithString("note_id", mcp.Description("Note ID"), mcp.Required()),
		),
		mcpResearchNote(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"notes://recent",
			"Recent Notes",
			mcp.WithResourceDescription("Last 10 notes (titles and excerpts)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpCreateNote(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}
		mode, err := note.ParseMode(req.GetString("mode", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		n, err := deps.Service.CreateNote(ctx, deps.user(), pipeline.CreateRequest{
			Title:     req.GetString("title", ""),
			Content:   content,
			Mode:      mode,
			Structure: true,
		})
		if err != nil {
			if n == nil {
				return mcpError(fmt.Sprintf("failed to save note: %v", err)), nil
			}
			return mcpText(fmt.Sprintf("Saved note %s but structuring failed: %v", n.ID, err)), nil
		}
		return mcpJSON(n)
	}
}

func mcpSearchNotes(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		notes, err := deps.Service.SearchNotes(deps.user(), query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(notes) == 0 {
			return mcpText("[]"), nil
		}

		results := make([]noteSummary, len(notes))
		for i := range notes {
			results[i] = summarize(&notes[i])
		}
		return mcpJSON(results)
	}
}

func mcpNoteMindmap(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("note_id")
		if err != nil {
			return mcpError("note_id is required"), nil
		}
		format, err := mindmap.ParseFormat(req.GetString("format", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		d, err := deps.Service.Mindmap(deps.user(), id, format)
		if err != nil {
			return mcpServiceError("mind map", err), nil
		}
		return mcpJSON(d)
	}
}

func mcpRelatedNotes(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("note_id")
		if err != nil {
			return mcpError("note_id is required"), nil
		}

		opts := pipeline.RelatedOptions{
			Options: evolution.Options{
				Threshold: deps.Related.Threshold,
				Limit:     req.GetInt("limit", deps.Related.Limit),
			},
			Timeline: req.GetBool("timeline", false),
			Merge:    req.GetBool("merge", false),
		}
		if _, ok := req.GetArguments()["threshold"]; ok {
			th := req.GetFloat("threshold", -1)
			if th < 0 || th > 1 {
				return mcpError("threshold must be between 0 and 1"), nil
			}
			opts.Threshold = evolution.Threshold(th)
		}

		res, err := deps.Service.Related(ctx, deps.user(), id, opts)
		if err != nil {
			return mcpServiceError("related notes", err), nil
		}
		if res.Related == nil {
			res.Related = []note.RelatedNote{}
		}
		return mcpJSON(res)
	}
}

func mcpResearchNote(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("note_id")
		if err != nil {
			return mcpError("note_id is required"), nil
		}

		out, err := deps.Service.ResearchNote(ctx, deps.user(), id)
		if err != nil {
			return mcpServiceError("research", err), nil
		}
		return mcpJSON(out)
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		notes, err := deps.Service.ListNotes(deps.user(), "", 10)
		if err != nil {
			return nil, fmt.Errorf("failed to list recent notes: %w", err)
		}

		summaries := make([]noteSummary, len(notes))
		for i := range notes {
			summaries[i] = summarize(&notes[i])
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal notes: %w", err)
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

const excerptRunes = 200

type noteSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Mode      note.Mode `json:"mode"`
	CreatedAt string    `json:"created_at"`
	Excerpt   string    `json:"excerpt"`
}

func summarize(n *note.Note) noteSummary {
	excerpt := n.Content
	if utf8.RuneCountInString(excerpt) > excerptRunes {
		runes := []rune(excerpt)
		excerpt = string(runes[:excerptRunes]) + "..."
	}
	return noteSummary{
		ID:        n.ID,
		Title:     n.Title,
		Mode:      n.Mode,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
		Excerpt:   excerpt,
	}
}

func mcpServiceError(op string, err error) *mcp.CallToolResult {
	if errors.Is(err, storage.ErrNotFound) {
		return mcpError("note not found")
	}
	return mcpError(fmt.Sprintf("%s failed: %v", op, err))
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
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
