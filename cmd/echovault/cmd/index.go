package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/echovault-sync/echovault/internal/chunk"
	"github.com/echovault-sync/echovault/internal/embedder"
	"github.com/echovault-sync/echovault/internal/errors"
	"github.com/echovault-sync/echovault/internal/lifecycle"
	"github.com/echovault-sync/echovault/internal/output"
	"github.com/echovault-sync/echovault/internal/parsers"
	"github.com/echovault-sync/echovault/internal/searchstore"
)

func newIndexCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Chunk and embed every catalog session",
		Long: `Run the embedding pass: for every catalog session with a known parser,
chunk its parsed conversation (spec.md §4.5) and embed each chunk
(spec.md §4.6), storing the result in the search store (spec.md §4.7).

Sessions already present in the search store are skipped unless --force
is given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd.Context(), cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-embed sessions that already have stored chunks")
	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := searchstore.Open(a.vaultDir)
	if err != nil {
		out.Error(errors.FormatForCLI(err))
		return err
	}
	defer func() { _ = store.Close() }()

	ensureLocalEmbedderReady(ctx, out, a.cfg.Embedding.APIBase, a.cfg.Embedding.Model)

	embed := embedder.New(embedder.Config{
		BaseURL:   a.cfg.Embedding.APIBase,
		APIKey:    a.cfg.Embedding.APIKey,
		Model:     a.cfg.Embedding.Model,
		BatchSize: a.cfg.Embedding.BatchSize,
	})

	parserRegistry := parsers.DefaultRegistry()
	chunkCfg := chunk.ConversationChunkConfig{
		ChunkSize:    a.cfg.Embedding.ChunkSize,
		ChunkOverlap: a.cfg.Embedding.ChunkOverlap,
		MinChunkSize: a.cfg.Embedding.MinChunkSize,
	}

	entries, err := a.cat.GetAllSessions(ctx)
	if err != nil {
		out.Error(errors.FormatForCLI(err))
		return err
	}

	var indexed, skipped, failed int
	for _, entry := range entries {
		parser, ok := parserRegistry.Lookup(entry.Source)
		if !ok {
			skipped++
			continue
		}

		if !force {
			already, err := store.HasSession(ctx, entry.SessionID)
			if err != nil {
				out.Warningf("check session %s: %s", entry.SessionID, err)
				continue
			}
			if already {
				skipped++
				continue
			}
		}

		conv, err := parser.Parse(entry.VaultPath)
		if err != nil {
			out.Warningf("parse session %s: %s", entry.SessionID, err)
			failed++
			continue
		}

		chunks := chunk.ChunkConversation(conv, chunkCfg)
		if len(chunks) == 0 {
			skipped++
			continue
		}

		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}

		vectors, err := embed.EmbedBatch(ctx, texts)
		if err != nil {
			out.Warningf("embed session %s: %s", entry.SessionID, err)
			failed++
			continue
		}

		chunkInputs := make([]searchstore.ChunkInput, len(chunks))
		for i, c := range chunks {
			chunkInputs[i] = searchstore.ChunkInput{Content: c.Content, Vector: vectors[i]}
		}

		if err := store.StoreSessionChunks(ctx, entry.SessionID, entry.Source, embed.Model(), chunkInputs); err != nil {
			out.Warningf("store session %s: %s", entry.SessionID, err)
			failed++
			continue
		}

		indexed++
		out.Progress(indexed+skipped+failed, len(entries), fmt.Sprintf("indexed %s", entry.SessionID))
	}

	out.Successf("Index complete: %d indexed, %d skipped, %d failed", indexed, skipped, failed)
	return nil
}

// ensureLocalEmbedderReady gives the embedding pass a zero-config start when
// Embedding.APIBase points at a local Ollama install (the config default,
// config.NewConfig): it starts Ollama if it is installed but not running.
// A missing model is reported as a warning and is not pulled. This is
// best-effort and never fails the index run -
// any remaining problem surfaces per-session from embed.EmbedBatch below,
// same as it always has.
func ensureLocalEmbedderReady(ctx context.Context, out *output.Writer, apiBase, model string) {
	host := localOllamaHost(apiBase)
	if host == "" {
		return
	}

	mgr := lifecycle.NewOllamaManagerWithHost(host)
	if mgr.IsRemoteHost() {
		return
	}

	opts := lifecycle.DefaultEnsureOpts()
	opts.AutoPull = false // model pulls can take minutes; never do that silently

	err := mgr.EnsureReady(ctx, model, opts)
	if err == nil {
		return
	}

	var notInstalled *lifecycle.NotInstalledError
	var modelMissing *lifecycle.ModelNotFoundError
	switch {
	case stderrors.As(err, &notInstalled):
		if !lifecycle.IsTTY() {
			out.Warningf("ollama is not installed; semantic search will fail until it is (%s)", err)
			return
		}
		choice, promptErr := lifecycle.PromptNoEmbedder(os.Stdout, os.Stdin)
		if promptErr != nil {
			out.Warningf("ollama is not installed: %s", err)
			return
		}
		switch choice {
		case lifecycle.ChoiceShowInstall:
			lifecycle.ShowInstallInstructions(os.Stdout)
		case lifecycle.ChoiceOfflineMode:
			out.Warning("continuing in offline mode; per-session embedding will fail until an embedder is available")
		}
	case stderrors.As(err, &modelMissing):
		out.Warningf("embedding model %q is not pulled; run `ollama pull %s` or retry with auto-pull", model, model)
	default:
		out.Warningf("could not prepare local embedder: %s", err)
	}
}

// localOllamaHost returns the bare host:port for apiBase if it looks like
// Ollama's OpenAI-compatible endpoint (".../v1"), or "" if apiBase targets
// something else entirely (a hosted embeddings API, for instance).
func localOllamaHost(apiBase string) string {
	base := strings.TrimRight(apiBase, "/")
	trimmed := strings.TrimSuffix(base, "/v1")
	if trimmed == "" || trimmed == base {
		return ""
	}
	return trimmed
}
