package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/echovault-sync/echovault/internal/catalog"
	"github.com/echovault-sync/echovault/internal/ingest"
	"github.com/echovault-sync/echovault/internal/replication"
	"github.com/echovault-sync/echovault/internal/source"
	"github.com/echovault-sync/echovault/internal/watch"
)

// Daemon runs the replication driver on a fixed interval and serves its
// status and an on-demand sync trigger over a Unix socket (spec.md §6
// "sync daemon").
type Daemon struct {
	cfg      Config
	driver   *replication.Driver
	cat      *catalog.Catalog
	pidFile  *PIDFile
	server   *Server
	vaultDir string

	started time.Time

	registry    *source.Registry
	coordinator *ingest.Coordinator
	watcher     *watch.Watcher

	mu              sync.Mutex
	lastSyncTime    time.Time
	lastSyncOutcome string
	lastSyncErr     error
}

// WithWatch enables the fsnotify-backed watch trigger (SPEC_FULL.md §C.5):
// when any source adapter's storage location changes, an extra ingest tick
// runs ahead of the next scheduled sync. Call before Start.
func (d *Daemon) WithWatch(registry *source.Registry, coordinator *ingest.Coordinator) *Daemon {
	d.registry = registry
	d.coordinator = coordinator
	return d
}

// NewDaemon builds a Daemon. cfg is validated before anything else is
// set up.
func NewDaemon(cfg Config, driver *replication.Driver, cat *catalog.Catalog, vaultDir string) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	server, err := NewServer(cfg.SocketPath)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:      cfg,
		driver:   driver,
		cat:      cat,
		pidFile:  NewPIDFile(cfg.PIDPath),
		server:   server,
		vaultDir: vaultDir,
	}
	server.SetHandler(d)
	return d, nil
}

// Start runs the periodic sync loop and the Unix socket server until ctx
// is cancelled. It blocks for the daemon's lifetime.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.cfg.EnsureDir(); err != nil {
		return err
	}
	if err := d.pidFile.Write(); err != nil {
		return err
	}
	defer func() { _ = d.pidFile.Remove() }()

	d.started = time.Now()

	if d.registry != nil {
		d.startWatch(ctx)
		defer func() {
			if d.watcher != nil {
				_ = d.watcher.Stop()
			}
		}()
	}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- d.server.ListenAndServe(ctx)
	}()

	ticker := time.NewTicker(d.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return <-serverErrCh
		case <-ticker.C:
			d.runSync(ctx)
		case outcome := <-d.watchResults():
			d.recordWatchTriggeredTick(outcome)
		case err := <-serverErrCh:
			return err
		}
	}
}

// startWatch discovers every registered source adapter's storage locations
// and starts a debounced watcher that triggers an extra ingest tick when
// any of them change, ahead of the next scheduled sync.
func (d *Daemon) startWatch(ctx context.Context) {
	var locations []string
	for _, adapter := range d.registry.Adapters() {
		locs, err := adapter.FindStorageLocations()
		if err != nil {
			slog.Warn("daemon: could not discover storage locations",
				slog.String("source", adapter.SourceName()), slog.String("error", err.Error()))
			continue
		}
		locations = append(locations, locs...)
	}
	if len(locations) == 0 {
		return
	}

	w, err := watch.New(locations, watch.DefaultDebounce, d.coordinator)
	if err != nil {
		slog.Warn("daemon: failed to start watch trigger", slog.String("error", err.Error()))
		return
	}
	d.watcher = w
	w.Start(ctx)
}

// watchResults returns the watcher's outcome channel, or nil (a
// permanently-blocking channel, safe in select) if watching is disabled.
func (d *Daemon) watchResults() <-chan watch.TickOutcome {
	if d.watcher == nil {
		return nil
	}
	return d.watcher.Results()
}

func (d *Daemon) recordWatchTriggeredTick(outcome watch.TickOutcome) {
	if outcome.Err != nil {
		slog.Warn("daemon: watch-triggered ingest tick failed", slog.String("error", outcome.Err.Error()))
		return
	}
	slog.Info("daemon: watch-triggered ingest tick",
		slog.Int("inserted", outcome.Result.Inserted),
		slog.Int("updated", outcome.Result.Updated))
}

func (d *Daemon) runSync(ctx context.Context) {
	report, err := d.driver.Sync(ctx, d.cfg.RemoteURL)

	d.mu.Lock()
	d.lastSyncTime = time.Now()
	d.lastSyncErr = err
	if err != nil {
		d.lastSyncOutcome = "error"
	} else if report.Outcome == replication.SyncAlreadyInProgress {
		d.lastSyncOutcome = "already_in_progress"
	} else {
		d.lastSyncOutcome = "completed"
	}
	d.mu.Unlock()

	if err != nil {
		slog.Warn("daemon: scheduled sync failed", slog.String("error", err.Error()))
	}
}

// HandleSync implements RequestHandler: it runs one sync immediately and
// reports the outcome, rather than waiting for the next tick.
func (d *Daemon) HandleSync(ctx context.Context) (SyncResult, error) {
	report, err := d.driver.Sync(ctx, d.cfg.RemoteURL)

	d.mu.Lock()
	d.lastSyncTime = time.Now()
	d.lastSyncErr = err
	switch {
	case err != nil:
		d.lastSyncOutcome = "error"
	case report.Outcome == replication.SyncAlreadyInProgress:
		d.lastSyncOutcome = "already_in_progress"
	default:
		d.lastSyncOutcome = "completed"
	}
	d.mu.Unlock()

	if err != nil {
		return SyncResult{}, err
	}

	result := SyncResult{
		Imported:    report.Imported,
		Inserted:    report.Ingest.Inserted,
		Updated:     report.Ingest.Updated,
		Skipped:     report.Ingest.Skipped,
		FilesPushed: report.PushResult.FilesPushed,
	}
	if report.Outcome == replication.SyncAlreadyInProgress {
		result.Outcome = "already_in_progress"
	} else {
		result.Outcome = "completed"
	}
	if report.PullWarning != nil {
		result.PullWarning = report.PullWarning.Error()
	}
	result.IngestErrors = len(report.Ingest.Errors)
	return result, nil
}

// GetStatus implements RequestHandler.
func (d *Daemon) GetStatus() StatusResult {
	d.mu.Lock()
	lastSyncTime := d.lastSyncTime
	lastSyncOutcome := d.lastSyncOutcome
	lastSyncErr := d.lastSyncErr
	d.mu.Unlock()

	status := StatusResult{
		VaultPath:     d.vaultDir,
		Authenticated: d.driver.IsAuthenticated(context.Background()),
	}

	if !lastSyncTime.IsZero() {
		status.LastSyncTime = lastSyncTime.Format(time.RFC3339)
		status.LastSyncOutcome = lastSyncOutcome
		if lastSyncErr != nil {
			status.LastSyncError = lastSyncErr.Error()
		}
	}

	if d.cat != nil {
		if total, err := d.cat.Count(context.Background()); err == nil {
			status.TotalSessions = total
		}
		if sessions, err := d.cat.GetAllSessions(context.Background()); err == nil {
			bySource := make(map[string]int)
			for _, s := range sessions {
				bySource[s.Source]++
			}
			status.SessionsBySource = bySource
		}
	}

	return status
}
