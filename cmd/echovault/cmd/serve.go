package cmd

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/echovault-sync/echovault/internal/embedder"
	"github.com/echovault-sync/echovault/internal/errors"
	"github.com/echovault-sync/echovault/internal/hybrid"
	"github.com/echovault-sync/echovault/internal/mcpserver"
	"github.com/echovault-sync/echovault/internal/searchstore"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP tool-call server over stdio",
		Long: `Run the agent-facing MCP server (spec.md §6 external interfaces): a
thin adapter exposing search_sessions, get_session, and vault_status
over stdio to MCP clients such as Claude Code or Cursor.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	return cmd
}

func runServe(ctx context.Context) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := searchstore.Open(a.vaultDir)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	defer func() { _ = store.Close() }()

	embed := embedder.New(embedder.Config{
		BaseURL:   a.cfg.Embedding.APIBase,
		APIKey:    a.cfg.Embedding.APIKey,
		Model:     a.cfg.Embedding.Model,
		BatchSize: a.cfg.Embedding.BatchSize,
	})

	retriever := hybrid.New(store, hybrid.Config{})

	server, err := mcpserver.New(retriever, embed, a.cat)
	if err != nil {
		return err
	}

	return server.MCPServer().Run(ctx, &mcp.StdioTransport{})
}
