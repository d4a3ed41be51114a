// Package cmd provides the CLI commands for EchoVault.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/echovault-sync/echovault/internal/catalog"
	"github.com/echovault-sync/echovault/internal/config"
	"github.com/echovault-sync/echovault/internal/ingest"
	"github.com/echovault-sync/echovault/internal/logging"
	"github.com/echovault-sync/echovault/internal/machineid"
	"github.com/echovault-sync/echovault/internal/mirror"
	"github.com/echovault-sync/echovault/internal/parsers"
	"github.com/echovault-sync/echovault/internal/profiling"
	"github.com/echovault-sync/echovault/internal/replication"
	"github.com/echovault-sync/echovault/internal/source"
	"github.com/echovault-sync/echovault/internal/vault"
	"github.com/echovault-sync/echovault/pkg/version"
)

var (
	vaultPathFlag  string
	debugMode      bool
	loggingCleanup func()

	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.NewProfiler()
	cpuCleanup   func()
	traceCleanup func()
)

// NewRootCmd creates the root command for the echovault CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "echovault",
		Short: "Cross-machine sync for AI coding assistant chat sessions",
		Long: `EchoVault keeps your AI coding assistant chat sessions (Claude Code,
Cursor, Codex, Cline, JetBrains AI Assistant, and others) synced across
machines through a cloud file mirror, and makes them searchable by an
MCP-speaking agent.`,
		Version: version.Version,
	}

	cmd.SetVersionTemplate("echovault version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&vaultPathFlag, "vault-path", "", "Override the configured vault directory")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")
	_ = cmd.PersistentFlags().MarkHidden("profile-cpu")
	_ = cmd.PersistentFlags().MarkHidden("profile-mem")
	_ = cmd.PersistentFlags().MarkHidden("profile-trace")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newAuthCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newExtractCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func startLogging(_ *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	if debugMode {
		logCfg = logging.DebugConfig()
	}
	logCfg.WriteToStderr = debugMode

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)

	if profileCPU != "" {
		cpuCleanup, err = profiler.StartCPU(profileCPU)
		if err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
	}
	if profileTrace != "" {
		traceCleanup, err = profiler.StartTrace(profileTrace)
		if err != nil {
			if cpuCleanup != nil {
				cpuCleanup()
			}
			return fmt.Errorf("failed to start trace: %w", err)
		}
	}

	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}
	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}
	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return fmt.Errorf("failed to write memory profile: %w", err)
		}
	}

	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// app bundles the core components a CLI verb drives: the resolved config,
// the open catalog, and a replication driver wired to a real rclone mirror
// and the ingest coordinator (spec.md §4.4, §6).
type app struct {
	cfg         *config.Config
	vaultDir    string
	machineID   string
	cat         *catalog.Catalog
	coordinator *ingest.Coordinator
	driver      *replication.Driver
	mirror      *mirror.RcloneMirror
}

// remoteURL returns the "remote:path" rclone target the replication driver
// syncs against, derived from the resolved sync configuration.
func (a *app) remoteURL() string {
	return a.mirror.RemoteURL()
}

// buildApp resolves configuration and opens the vault catalog, ingest
// coordinator, and replication driver a CLI verb needs.
func buildApp() (*app, error) {
	cfg, err := config.Load(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if vaultPathFlag != "" {
		cfg.VaultPath = vaultPathFlag
	}

	if err := vault.EnsureTree(cfg.VaultPath); err != nil {
		return nil, fmt.Errorf("failed to prepare vault tree: %w", err)
	}

	cat, err := catalog.Open(cfg.VaultPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault catalog: %w", err)
	}

	machineID := machineid.Get()
	registry := source.DefaultRegistry()
	coordinator := ingest.New(registry, cat, cfg.VaultPath, machineID, cfg.Performance.Workers)

	mirrorProvider := mirror.NewRcloneMirror(mirror.DefaultRemoteName, cfg.Sync.FolderName)
	parserRegistry := parsers.DefaultRegistry()
	driver := replication.New(mirrorProvider, cat, coordinator, parserRegistry, cfg.VaultPath, machineID)

	return &app{
		cfg:         cfg,
		vaultDir:    cfg.VaultPath,
		machineID:   machineID,
		cat:         cat,
		coordinator: coordinator,
		driver:      driver,
		mirror:      mirrorProvider,
	}, nil
}

func (a *app) Close() {
	_ = a.cat.Close()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
