// Package watch implements a debounced, fsnotify-backed trigger that
// enqueues an extra ingest tick when source adapters' storage locations
// change, independent of the scheduled sync cadence (SPEC_FULL.md §C.5).
// It never streams partial session content — it only shortens the delay
// before a complete artifact is next picked up by a normal ingest tick.
package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/echovault-sync/echovault/internal/ingest"
)

// DefaultDebounce coalesces bursts of filesystem events (many writers
// touching a session directory in quick succession) into one ingest
// tick.
const DefaultDebounce = 2 * time.Second

// Ticker runs one ingest tick; internal/ingest.Coordinator satisfies it
// directly.
type Ticker interface {
	Tick(ctx context.Context) (ingest.Result, error)
}

// TickOutcome pairs one triggered tick's result with its error, if any.
type TickOutcome struct {
	Result ingest.Result
	Err    error
}

// Watcher watches a fixed set of locations and triggers debounced
// ingest ticks on changes.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration
	locations []string
	ticker    Ticker

	results chan TickOutcome
	stopCh  chan struct{}

	mu      sync.Mutex
	stopped bool
}

// New builds a Watcher over locations, triggering ticker.Tick after
// debounce has elapsed with no further events. Locations that cannot be
// watched (missing, permission denied) are skipped with a warning
// rather than failing the whole watcher — storage locations are
// best-effort discovered by source adapters and may not all exist on
// every host.
func New(locations []string, debounce time.Duration, ticker Ticker) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		fsWatcher: fsw,
		debounce:  debounce,
		locations: locations,
		ticker:    ticker,
		results:   make(chan TickOutcome, 8),
		stopCh:    make(chan struct{}),
	}, nil
}

// Start begins watching and spawns the debounce/trigger loop. It
// returns once every location has been attempted.
func (w *Watcher) Start(ctx context.Context) {
	for _, loc := range w.locations {
		if err := w.fsWatcher.Add(loc); err != nil {
			slog.Warn("watch: cannot watch storage location",
				slog.String("path", loc), slog.String("error", err.Error()))
		}
	}
	go w.loop(ctx)
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			result, err := w.ticker.Tick(ctx)
			if err != nil {
				slog.Warn("watch: triggered ingest tick failed", slog.String("error", err.Error()))
			}
			w.emit(TickOutcome{Result: result, Err: err})

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Warn("watch: fsnotify error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) emit(outcome TickOutcome) {
	select {
	case w.results <- outcome:
	default:
		slog.Warn("watch: result buffer full, dropping tick outcome")
	}
}

// Results returns the channel of triggered tick outcomes.
func (w *Watcher) Results() <-chan TickOutcome {
	return w.results
}

// Stop closes the underlying fsnotify watcher and the loop goroutine.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	return w.fsWatcher.Close()
}
