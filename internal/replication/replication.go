// Package replication implements the replication driver (spec.md §4.4):
// a process-local single-flight sync sequence (pull → catalog import →
// ingest → push) layered over a cloud mirror and the ingest coordinator.
package replication

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echovault-sync/echovault/internal/catalog"
	echoerrors "github.com/echovault-sync/echovault/internal/errors"
	"github.com/echovault-sync/echovault/internal/ingest"
	"github.com/echovault-sync/echovault/internal/mirror"
	"github.com/echovault-sync/echovault/internal/parsers"
	"github.com/echovault-sync/echovault/internal/vault"
)

// dbSidecarSuffixes are the database file extension and its write-ahead
// and shared-memory sidecar extensions, none of which belong in the catalog (spec.md §4.4 step 3,
// §6 "Excludes always contain *.db-wal and *.db-shm").
var dbSidecarSuffixes = []string{".db-wal", ".db-shm", ".db"}

// MirrorProvider is a mirror.Mirror that also exposes the tri-state
// authentication lifecycle (spec.md §4.4 "start_auth, complete_auth,
// is_authenticated").
type MirrorProvider interface {
	mirror.Mirror
	IsAuthenticated(ctx context.Context) bool
	AuthStatusOf(ctx context.Context) mirror.AuthState
	StartAuth(ctx context.Context, remoteType string) (mirror.AuthState, error)
	CompleteAuth(ctx context.Context) (mirror.AuthState, error)
}

// Outcome reports what a Sync call actually did.
type Outcome int

const (
	SyncCompleted Outcome = iota
	SyncAlreadyInProgress
)

// Report summarizes one sync tick.
type Report struct {
	SyncID       string // correlation id for this tick's sync_log entry
	Outcome      Outcome
	PullWarning  error // non-nil if pull failed; sync continued regardless
	Imported     int
	Ingest       ingest.Result
	PushResult   mirror.PushResult
}

// syncLogDetails is the JSON payload stored in sync_log.details for the
// "sync" action, letting `status` correlate one full pull/import/ingest/push
// tick across its log lines by SyncID (spec.md §6 "sync-session correlation
// ids in sync_log.details").
type syncLogDetails struct {
	SyncID      string `json:"sync_id"`
	Imported    int    `json:"imported"`
	Ingested    int    `json:"ingested"`
	PullFailed  bool   `json:"pull_failed"`
	PushFailed  bool   `json:"push_failed"`
}

// Driver runs the full replication sequence.
type Driver struct {
	provider    MirrorProvider
	cat         *catalog.Catalog
	coordinator *ingest.Coordinator
	parsers     *parsers.Registry
	vaultDir    string
	machineID   string

	mu      sync.Mutex
	syncing bool
}

// New builds a Driver.
func New(provider MirrorProvider, cat *catalog.Catalog, coordinator *ingest.Coordinator, parserRegistry *parsers.Registry, vaultDir, machineID string) *Driver {
	return &Driver{
		provider:  provider,
		cat:       cat,
		coordinator: coordinator,
		parsers:   parserRegistry,
		vaultDir:  vaultDir,
		machineID: machineID,
	}
}

// IsAuthenticated reports the mirror's current auth state.
func (d *Driver) IsAuthenticated(ctx context.Context) bool {
	return d.provider.IsAuthenticated(ctx)
}

// StartAuth begins authentication against the mirror's backend.
func (d *Driver) StartAuth(ctx context.Context, remoteType string) (mirror.AuthState, error) {
	return d.provider.StartAuth(ctx, remoteType)
}

// CompleteAuth polls the mirror's authentication state to completion.
func (d *Driver) CompleteAuth(ctx context.Context) (mirror.AuthState, error) {
	return d.provider.CompleteAuth(ctx)
}

// Sync runs one full pull → import → ingest → push cycle. A second
// concurrent call while one is in flight returns immediately with
// SyncAlreadyInProgress rather than waiting (spec.md §4.4 step 1,
// §5 "a second concurrent sync call returns immediately with a
// non-error already-in-progress signal").
func (d *Driver) Sync(ctx context.Context, remoteURL string) (Report, error) {
	if !d.acquire() {
		return Report{Outcome: SyncAlreadyInProgress}, nil
	}
	defer d.release()

	if !d.provider.IsAuthenticated(ctx) {
		return Report{}, echoerrors.AuthErr("replication driver is inert while not authenticated", nil)
	}

	lock := vault.NewSyncLock(d.vaultDir)
	if err := lock.Lock(ctx); err != nil {
		return Report{}, err
	}
	defer func() { _ = lock.Unlock() }()

	excludes := []string{"*.db-wal", "*.db-shm"}
	report := Report{SyncID: uuid.NewString()}

	// Pull: non-fatal, log and continue (spec.md §4.4 step 2, "Failure
	// semantics").
	if _, err := d.provider.Pull(ctx, d.vaultDir, remoteURL, excludes); err != nil {
		report.PullWarning = err
		slog.Warn("replication pull failed, continuing", slog.String("error", err.Error()), slog.String("sync_id", report.SyncID))
	}

	imported, err := d.importCatalog(ctx)
	if err != nil {
		slog.Warn("catalog import failed, continuing", slog.String("error", err.Error()), slog.String("sync_id", report.SyncID))
	}
	report.Imported = imported

	ingestResult, err := d.coordinator.Tick(ctx)
	if err != nil {
		slog.Warn("ingest tick failed, continuing to push", slog.String("error", err.Error()), slog.String("sync_id", report.SyncID))
	}
	report.Ingest = ingestResult

	// Push: fatal, surfaced to the caller (spec.md §4.4 step 5,
	// "Failure semantics").
	pushResult, pushErr := d.provider.Push(ctx, d.vaultDir, remoteURL, excludes)
	report.PushResult = pushResult
	if pushErr == nil {
		report.Outcome = SyncCompleted
	}
	d.logSync(ctx, report, pushErr)
	if pushErr != nil {
		return report, pushErr
	}
	return report, nil
}

// logSync appends the sync_log row correlating this tick's pull/import/
// ingest/push outcome under one SyncID. Logging failures are swallowed -
// sync_log is diagnostic, not load-bearing for the sync itself.
func (d *Driver) logSync(ctx context.Context, report Report, pushErr error) {
	details, err := json.Marshal(syncLogDetails{
		SyncID:     report.SyncID,
		Imported:   report.Imported,
		Ingested:   report.Ingest.Inserted + report.Ingest.Updated,
		PullFailed: report.PullWarning != nil,
		PushFailed: pushErr != nil,
	})
	if err != nil {
		return
	}
	if err := d.cat.LogSync(ctx, d.machineID, time.Now().Unix(), "sync", string(details)); err != nil {
		slog.Warn("append sync_log entry failed", slog.String("error", err.Error()), slog.String("sync_id", report.SyncID))
	}
}

func (d *Driver) acquire() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.syncing {
		return false
	}
	d.syncing = true
	return true
}

func (d *Driver) release() {
	d.mu.Lock()
	d.syncing = false
	d.mu.Unlock()
}

// importCatalog walks vaultDir/sessions/*/* on disk and upserts any file
// the catalog has no newer row for, opportunistically parsing metadata
// (spec.md §4.4 step 3).
func (d *Driver) importCatalog(ctx context.Context) (int, error) {
	sessionsRoot := filepath.Join(d.vaultDir, "sessions")

	sourceDirs, err := os.ReadDir(sessionsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, echoerrors.IOErr("read sessions directory", err)
	}

	mtimeMap, err := d.cat.MtimeMap(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().Unix()
	imported := 0

	for _, sourceDirEntry := range sourceDirs {
		if !sourceDirEntry.IsDir() {
			continue
		}
		sourceName := sourceDirEntry.Name()
		sourceDir := filepath.Join(sessionsRoot, sourceName)

		files, err := os.ReadDir(sourceDir)
		if err != nil {
			continue
		}

		for _, f := range files {
			if isDBSidecar(f.Name()) {
				continue
			}

			path := filepath.Join(sourceDir, f.Name())

			var sessionID string
			var mtime int64
			var fileSize int64

			if f.IsDir() {
				// Multi-file sessions (e.g. cline's <taskID>/{ui_messages.json,
				// api_conversation_history.json} pair) land in a subdirectory
				// rather than a flat file; aggregate its direct children the
				// same way ClineAdapter.extractTaskMetadata does (spec.md
				// §4.1's multi-file-session edge case).
				size, dirMtime, ok := dirSessionStats(path)
				if !ok {
					continue
				}
				sessionID = f.Name()
				mtime = dirMtime
				fileSize = size
			} else {
				info, err := f.Info()
				if err != nil {
					continue
				}
				sessionID = strings.TrimSuffix(f.Name(), filepath.Ext(f.Name()))
				mtime = info.ModTime().Unix()
				fileSize = info.Size()
			}

			if existing, ok := mtimeMap[sessionID]; ok && existing >= mtime {
				continue
			}

			entry := catalog.Entry{
				SessionID:    sessionID,
				Source:       sourceName,
				MachineID:    d.machineID,
				Mtime:        mtime,
				FileSize:     fileSize,
				VaultPath:    path,
				OriginalPath: path,
			}

			if p, ok := d.parsers.Lookup(sourceName); ok {
				if conv, parseErr := p.Parse(path); parseErr == nil {
					entry.Title = conv.Title
					entry.WorkspaceName = conv.Workspace
					if !conv.CreatedAt.IsZero() {
						entry.CreatedAt = conv.CreatedAt.Format(time.RFC3339)
					}
				}
			}

			if _, err := d.cat.UpsertSession(ctx, entry, now); err == nil {
				imported++
			}
		}
	}

	return imported, nil
}

func isDBSidecar(name string) bool {
	for _, suffix := range dbSidecarSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// dirSessionStats sums the size and tracks the latest mtime of dir's
// direct children files, for multi-file sessions that land in their own
// subdirectory under sessions/<source>/ instead of as a single flat
// file. ok is false if dir has no non-sidecar files.
func dirSessionStats(dir string) (size int64, mtime int64, ok bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, false
	}
	for _, e := range entries {
		if e.IsDir() || isDBSidecar(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		ok = true
		size += info.Size()
		if mt := info.ModTime().Unix(); mt > mtime {
			mtime = mt
		}
	}
	return size, mtime, ok
}
