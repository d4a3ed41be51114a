// Package mcpserver is the agent-facing tool-call adapter (spec.md §6,
// "external interfaces"): a thin layer over the hybrid retriever and the
// vault catalog, exposed to MCP clients (Claude Code, Cursor, etc.) as a
// small set of tools.
package mcpserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/echovault-sync/echovault/internal/catalog"
	"github.com/echovault-sync/echovault/internal/embedder"
	"github.com/echovault-sync/echovault/internal/hybrid"
)

// Server bridges MCP clients to the hybrid retriever and the catalog.
type Server struct {
	mcp    *mcp.Server
	hybrid *hybrid.Retriever
	embed  *embedder.Client
	cat    *catalog.Catalog
	logger *slog.Logger
}

// ToolInfo describes a registered tool, independent of the MCP SDK's own
// registration types, for use by callers that just want a directory.
type ToolInfo struct {
	Name        string
	Description string
}

// SearchSessionsInput is the input schema for the search_sessions tool.
type SearchSessionsInput struct {
	Query  string `json:"query" jsonschema:"the search query to execute against synced chat sessions"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Source string `json:"source,omitempty" jsonschema:"restrict results to one originating tool, e.g. claude-code, cursor, codex"`
}

// SearchSessionsOutput is the output schema for the search_sessions tool.
type SearchSessionsOutput struct {
	Results []SearchResultOutput `json:"results" jsonschema:"fused vector+keyword search results"`
}

// SearchResultOutput is one fused hit, reshaped for agent consumption.
type SearchResultOutput struct {
	SessionID   string  `json:"session_id" jsonschema:"the matched session's id"`
	Source      string  `json:"source" jsonschema:"originating tool tag, e.g. claude-code, cursor"`
	ChunkIndex  int     `json:"chunk_index" jsonschema:"position of the matched chunk within the session"`
	Content     string  `json:"content" jsonschema:"matched chunk text"`
	Score       float64 `json:"score" jsonschema:"fused RRF relevance score"`
	MatchReason string  `json:"match_reason,omitempty" jsonschema:"human-readable explanation of why this result matched"`
}

// GetSessionInput is the input schema for the get_session tool.
type GetSessionInput struct {
	SessionID string `json:"session_id" jsonschema:"the session id to look up"`
}

// GetSessionOutput is the output schema for the get_session tool.
type GetSessionOutput struct {
	SessionID     string `json:"session_id"`
	Source        string `json:"source"`
	Title         string `json:"title,omitempty"`
	WorkspaceName string `json:"workspace_name,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
	MachineID     string `json:"machine_id"`
	VaultPath     string `json:"vault_path"`
}

// VaultStatusInput is the (empty) input schema for the vault_status tool.
type VaultStatusInput struct{}

// VaultStatusOutput is the output schema for the vault_status tool.
type VaultStatusOutput struct {
	TotalSessions    int            `json:"total_sessions"`
	SessionsBySource map[string]int `json:"sessions_by_source,omitempty"`
	EmbeddingModel   string         `json:"embedding_model,omitempty"`
	EmbeddingDims    int            `json:"embedding_dimensions,omitempty"`
}

// New builds a Server. hybrid and cat are required; embed may be nil, in
// which case search_sessions reports an error rather than embedding the
// query (a thin adapter has no fallback keyword-only mode of its own —
// that degradation already lives inside hybrid.Retriever.Search).
func New(retriever *hybrid.Retriever, embed *embedder.Client, cat *catalog.Catalog) (*Server, error) {
	if retriever == nil {
		return nil, errors.New("mcpserver: hybrid retriever is required")
	}
	if cat == nil {
		return nil, errors.New("mcpserver: catalog is required")
	}

	s := &Server{
		hybrid: retriever,
		embed:  embed,
		cat:    cat,
		logger: slog.Default(),
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{Name: "echovault", Version: "0.1.0"}, nil)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP SDK server, e.g. for Run() over
// stdio or an SSE transport.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns a directory of the tools this server registers.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{
			Name:        "search_sessions",
			Description: "Search across every synced AI coding-assistant session for a query, fusing vector similarity and keyword matches. Use this to recall what was discussed or decided in a past session on this or another machine.",
		},
		{
			Name:        "get_session",
			Description: "Fetch catalog metadata (title, source, workspace, timestamps) for one session by id.",
		},
		{
			Name:        "vault_status",
			Description: "Report how many sessions are synced, broken down by source tool, and which embedding model is active.",
		},
	}
}

// CallTool invokes a tool by name with loosely-typed arguments, the shape
// non-SDK callers (tests, a CLI debug verb) use instead of the MCP wire
// protocol directly.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search_sessions":
		input := SearchSessionsInput{}
		if q, ok := args["query"].(string); ok {
			input.Query = q
		}
		if l, ok := args["limit"].(float64); ok {
			input.Limit = int(l)
		}
		if src, ok := args["source"].(string); ok {
			input.Source = src
		}
		out, err := s.searchSessions(ctx, input)
		return out, err
	case "get_session":
		input := GetSessionInput{}
		if id, ok := args["session_id"].(string); ok {
			input.SessionID = id
		}
		return s.getSession(ctx, input)
	case "vault_status":
		return s.vaultStatus(ctx)
	default:
		return nil, fmt.Errorf("mcpserver: unknown tool %q", name)
	}
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_sessions",
		Description: "Search across every synced AI coding-assistant session for a query, fusing vector similarity and keyword matches. Use this to recall what was discussed or decided in a past session on this or another machine.",
	}, s.mcpSearchSessionsHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_session",
		Description: "Fetch catalog metadata (title, source, workspace, timestamps) for one session by id.",
	}, s.mcpGetSessionHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "vault_status",
		Description: "Report how many sessions are synced, broken down by source tool, and which embedding model is active.",
	}, s.mcpVaultStatusHandler)
}

func (s *Server) mcpSearchSessionsHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchSessionsInput) (*mcp.CallToolResult, SearchSessionsOutput, error) {
	out, err := s.searchSessions(ctx, input)
	if err != nil {
		return nil, SearchSessionsOutput{}, err
	}
	return nil, *out, nil
}

func (s *Server) mcpGetSessionHandler(ctx context.Context, _ *mcp.CallToolRequest, input GetSessionInput) (*mcp.CallToolResult, GetSessionOutput, error) {
	out, err := s.getSession(ctx, input)
	if err != nil {
		return nil, GetSessionOutput{}, err
	}
	return nil, *out, nil
}

func (s *Server) mcpVaultStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ VaultStatusInput) (*mcp.CallToolResult, VaultStatusOutput, error) {
	out, err := s.vaultStatus(ctx)
	if err != nil {
		return nil, VaultStatusOutput{}, err
	}
	return nil, *out, nil
}

func (s *Server) searchSessions(ctx context.Context, input SearchSessionsInput) (*SearchSessionsOutput, error) {
	requestID := generateRequestID()

	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, NewInvalidParamsError("query is required and must be a non-empty string")
	}
	if s.embed == nil {
		return nil, NewInternalError("no embedder configured; search_sessions requires semantic embeddings")
	}

	limit := clampLimit(input.Limit, 10, 1, 50)

	s.logger.Info("search_sessions started",
		slog.String("request_id", requestID),
		slog.String("query", query),
		slog.Int("limit", limit))

	start := time.Now()
	vec, err := s.embed.EmbedSingle(ctx, query)
	if err != nil {
		s.logger.Error("search_sessions embed failed", slog.String("request_id", requestID), slog.String("error", err.Error()))
		return nil, NewInternalError(fmt.Sprintf("failed to embed query: %s", err))
	}

	results, err := s.hybrid.Search(ctx, query, vec, limit)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("search_sessions failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, NewInternalError(err.Error())
	}

	out := make([]SearchResultOutput, 0, len(results))
	for _, r := range results {
		if input.Source != "" && r.Source != input.Source {
			continue
		}
		out = append(out, SearchResultOutput{
			SessionID:   r.SessionID,
			Source:      r.Source,
			ChunkIndex:  r.ChunkIndex,
			Content:     r.Content,
			Score:       r.Score,
			MatchReason: matchReason(r),
		})
	}

	s.logger.Info("search_sessions completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(out)))

	return &SearchSessionsOutput{Results: out}, nil
}

func matchReason(r hybrid.Result) string {
	switch {
	case r.VectorRank > 0 && r.KeywordRank > 0:
		return fmt.Sprintf("matched both semantic (rank %d) and keyword (rank %d) search", r.VectorRank, r.KeywordRank)
	case r.VectorRank > 0:
		return fmt.Sprintf("matched semantic search (rank %d)", r.VectorRank)
	case r.KeywordRank > 0:
		return fmt.Sprintf("matched keyword search (rank %d)", r.KeywordRank)
	default:
		return ""
	}
}

func (s *Server) getSession(ctx context.Context, input GetSessionInput) (*GetSessionOutput, error) {
	id := strings.TrimSpace(input.SessionID)
	if id == "" {
		return nil, NewInvalidParamsError("session_id is required")
	}

	entries, err := s.cat.GetAllSessions(ctx)
	if err != nil {
		return nil, NewInternalError(err.Error())
	}
	for _, e := range entries {
		if e.SessionID == id {
			return &GetSessionOutput{
				SessionID:     e.SessionID,
				Source:        e.Source,
				Title:         e.Title,
				WorkspaceName: e.WorkspaceName,
				CreatedAt:     e.CreatedAt,
				MachineID:     e.MachineID,
				VaultPath:     e.VaultPath,
			}, nil
		}
	}
	return nil, NewResourceNotFoundError(id)
}

func (s *Server) vaultStatus(ctx context.Context) (*VaultStatusOutput, error) {
	total, err := s.cat.Count(ctx)
	if err != nil {
		return nil, NewInternalError(err.Error())
	}

	entries, err := s.cat.GetAllSessions(ctx)
	if err != nil {
		return nil, NewInternalError(err.Error())
	}
	bySource := make(map[string]int)
	for _, e := range entries {
		bySource[e.Source]++
	}

	out := &VaultStatusOutput{
		TotalSessions:    total,
		SessionsBySource: bySource,
	}
	if s.embed != nil {
		out.EmbeddingDims = s.embed.Dimensions()
		out.EmbeddingModel = s.embed.Model()
	}
	return out, nil
}

// clampLimit bounds a user-supplied limit, substituting defaultVal when
// limit is non-positive.
func clampLimit(limit, defaultVal, min, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}

// generateRequestID creates a short id for log correlation across one
// tool call's start/failure/completion log lines.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
