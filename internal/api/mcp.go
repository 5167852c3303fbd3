package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/event"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/profile"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/storage"
)

// MCPDeps holds dependencies for the MCP server. Log is optional.
type MCPDeps struct {
	Fusion   Fuser
	Profiles Profiles
	Log      LogReader
	Version  string
}

// NewMCPServer creates an MCP server with the fusion tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"sif",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions("sif: multimodal interaction events in, validated UI adaptations out."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("fuse_event",
			mcp.WithDescription("Process one interaction event and return the UI adaptations to apply."),
			mcp.WithString("event", mcp.Description("Event JSON: event_type, source, timestamp, user_id, target_element, coordinates, confidence, metadata"), mcp.Required()),
		),
		mcpFuseEvent(deps),
	)

	s.AddTool(
		mcp.NewTool("get_profile",
			mcp.WithDescription("Return a stored user profile including its recent interaction history."),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
		),
		mcpGetProfile(deps),
	)

	s.AddTool(
		mcp.NewTool("upsert_profile",
			mcp.WithDescription("Create or update a user profile. Sections present replace the stored section; history is not editable."),
			mcp.WithString("profile", mcp.Description("Profile JSON: user_id, accessibility_needs, input_preferences, ui_preferences"), mcp.Required()),
		),
		mcpUpsertProfile(deps),
	)

	s.AddTool(
		mcp.NewTool("get_history",
			mcp.WithDescription("Return one user's interaction history, oldest first."),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
		),
		mcpGetHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("full_history",
			mcp.WithDescription("Return every user's interaction history."),
		),
		mcpFullHistory(deps),
	)

	if deps.Log != nil {
		s.AddTool(
			mcp.NewTool("adaptation_log",
				mcp.WithDescription("List recent adaptation decisions, newest first."),
				mcp.WithString("user_id", mcp.Description("Only entries for this user")),
				mcp.WithString("classification", mcp.Description("Only entries with this classification")),
				mcp.WithNumber("limit", mcp.Description("Maximum number of entries (default 20)")),
			),
			mcpAdaptationLog(deps),
		)
	}

	s.AddResource(
		mcp.NewResource(
			"sif://modalities",
			"Supported Modalities",
			mcp.WithResourceDescription("Input modalities the engine accepts"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceModalities,
	)

	return s
}

func mcpFuseEvent(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("event")
		if err != nil {
			return mcpError("event is required"), nil
		}
		ev, err := event.Decode([]byte(raw))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		res, err := deps.Fusion.Fuse(ctx, ev)
		if err != nil {
			return mcpError(fmt.Sprintf("event not processed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpGetProfile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		p, err := deps.Profiles.Get(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("profile %q not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get profile: %v", err)), nil
		}
		return mcpJSON(p)
	}
}

func mcpUpsertProfile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("profile")
		if err != nil {
			return mcpError("profile is required"), nil
		}
		var d profile.Delta
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return mcpError(fmt.Sprintf("invalid profile JSON: %v", err)), nil
		}
		if d.UserID == "" {
			return mcpError("user_id is required"), nil
		}
		p, created, err := deps.Profiles.Upsert(ctx, d)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save profile: %v", err)), nil
		}
		status := "Profile updated"
		if created {
			status = "Profile created"
		}
		return mcpJSON(map[string]any{"status": status, "profile": p})
	}
}

func mcpGetHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		h, err := deps.Profiles.History(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("profile %q not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get history: %v", err)), nil
		}
		return mcpJSON(profile.UserHistory{UserID: id, InteractionHistory: h})
	}
}

func mcpFullHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		all, err := deps.Profiles.FullHistory(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list history: %v", err)), nil
		}
		return mcpJSON(map[string]any{"history": all})
	}
}

func mcpAdaptationLog(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		entries, err := deps.Log.List(storage.LogFilter{
			UserID:         req.GetString("user_id", ""),
			Classification: req.GetString("classification", ""),
			Limit:          min(limit, maxLogLimit),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read log: %v", err)), nil
		}
		if len(entries) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(entries)
	}
}

func mcpResourceModalities(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(map[string]any{"modalities": event.Modalities, "status": "Active"})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal modalities: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
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
