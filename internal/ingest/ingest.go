// Package ingest implements the ingest coordinator (spec.md §4.3): it
// collects session candidates from every registered source adapter,
// filters them against the catalog's mtime map, copies the fresh ones
// into the vault tree, and applies the result as a single batched upsert.
package ingest

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/echovault-sync/echovault/internal/catalog"
	echoerrors "github.com/echovault-sync/echovault/internal/errors"
	"github.com/echovault-sync/echovault/internal/source"
)

// Candidate pairs a discovered session artifact with the adapter that
// found it.
type Candidate struct {
	Adapter source.Adapter
	File    source.SessionFile
}

// Result summarizes one ingest tick.
type Result struct {
	Inserted int
	Updated  int
	Skipped  int
	Errors   []error
}

// Coordinator runs ingest ticks against one registry, catalog, and vault
// tree.
type Coordinator struct {
	registry  *source.Registry
	catalog   *catalog.Catalog
	vaultDir  string
	machineID string
	workers   int
}

// New builds a Coordinator. workers <= 0 selects the default pool size
// (spec.md §4.3 "max(1, host_cpus − 2)").
func New(registry *source.Registry, cat *catalog.Catalog, vaultDir, machineID string, workers int) *Coordinator {
	if workers <= 0 {
		workers = defaultWorkers()
	}
	return &Coordinator{
		registry:  registry,
		catalog:   cat,
		vaultDir:  vaultDir,
		machineID: machineID,
		workers:   workers,
	}
}

func defaultWorkers() int {
	if n := runtime.NumCPU() - 2; n > 1 {
		return n
	}
	return 1
}

// Tick runs one ingest pass: collect candidates, filter against the
// catalog's mtime map, copy the survivors, and apply one batched upsert
// plus a sync_log entry (spec.md §4.3).
func (c *Coordinator) Tick(ctx context.Context) (Result, error) {
	candidates, collectErrs := c.collectCandidates()

	mtimeMap, err := c.catalog.MtimeMap(ctx)
	if err != nil {
		return Result{}, err
	}

	fresh := c.filterFresh(candidates, mtimeMap)

	entries, copyErrs := c.copyAll(fresh)

	inserted, updated, skipped, err := c.catalog.UpsertBatch(ctx, entries, time.Now().Unix())
	if err != nil {
		return Result{}, err
	}

	details := fmt.Sprintf("%d sessions", len(entries))
	if err := c.catalog.LogSync(ctx, c.machineID, time.Now().Unix(), "ingest", details); err != nil {
		return Result{}, err
	}

	allErrs := append(append([]error{}, collectErrs...), copyErrs...)
	return Result{Inserted: inserted, Updated: updated, Skipped: skipped, Errors: allErrs}, nil
}

// collectCandidates implements spec.md §4.3 step 1. A failing adapter
// does not abort the tick; its error is recorded and the remaining
// adapters still run.
func (c *Coordinator) collectCandidates() ([]Candidate, []error) {
	var candidates []Candidate
	var errs []error

	for _, a := range c.registry.Adapters() {
		locations, err := a.FindStorageLocations()
		if err != nil {
			errs = append(errs, echoerrors.IOErr("find storage locations for "+a.SourceName(), err))
			continue
		}
		for _, loc := range locations {
			files, err := a.ListSessionFiles(loc)
			if err != nil {
				errs = append(errs, echoerrors.IOErr("list session files for "+a.SourceName(), err))
				continue
			}
			for _, f := range files {
				candidates = append(candidates, Candidate{Adapter: a, File: f})
			}
		}
	}
	return candidates, errs
}

type statOutcome struct {
	mtime int64
	ok    bool
}

// filterFresh implements spec.md §4.3 step 3: a bounded worker pool (an
// errgroup.Group capped at c.workers, spec.md §4.3 "max(1, host_cpus −
// 2)") stats each candidate's source path and keeps it iff the freshly
// observed mtime is strictly newer than the catalog's recorded mtime, or
// the session is not yet in the catalog at all.
func (c *Coordinator) filterFresh(candidates []Candidate, mtimeMap map[string]int64) []Candidate {
	if len(candidates) == 0 {
		return nil
	}

	observed := make([]statOutcome, len(candidates))

	var g errgroup.Group
	g.SetLimit(c.workers)
	for i := range candidates {
		i := i
		g.Go(func() error {
			info, err := os.Stat(candidates[i].File.SourcePath)
			if err != nil {
				return nil
			}
			observed[i] = statOutcome{mtime: info.ModTime().Unix(), ok: true}
			return nil
		})
	}
	_ = g.Wait() // stat jobs never return a non-nil error; ok=false marks a miss

	var fresh []Candidate
	for i, cand := range candidates {
		r := observed[i]
		if !r.ok {
			continue
		}
		existing, known := mtimeMap[cand.File.Metadata.ID]
		if !known || r.mtime > existing {
			fresh = append(fresh, cand)
		}
	}
	return fresh
}

type copyOutcome struct {
	entry catalog.Entry
	wrote bool
	err   error
}

// copyAll implements spec.md §4.3 step 4: a bounded worker pool delegates
// to each candidate's adapter CopyToVault; successes become catalog
// entries, failures become accumulated errors, and ingest never aborts on
// a single candidate's failure.
func (c *Coordinator) copyAll(candidates []Candidate) ([]catalog.Entry, []error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	outcomes := make([]copyOutcome, len(candidates))

	var g errgroup.Group
	g.SetLimit(c.workers)
	for i, cand := range candidates {
		i, cand := i, cand
		g.Go(func() error {
			outcomes[i] = c.copyOne(cand)
			return nil
		})
	}
	_ = g.Wait() // copyOne reports failures via copyOutcome.err, never returns one

	var entries []catalog.Entry
	var errs []error
	for _, r := range outcomes {
		switch {
		case r.err != nil:
			errs = append(errs, r.err)
		case r.wrote:
			entries = append(entries, r.entry)
		}
	}
	return entries, errs
}

func (c *Coordinator) copyOne(cand Candidate) copyOutcome {
	dest, ok, err := cand.Adapter.CopyToVault(cand.File, c.vaultDir)
	if err != nil {
		return copyOutcome{err: fmt.Errorf("copy %s session %s: %w", cand.Adapter.SourceName(), cand.File.Metadata.ID, err)}
	}
	if !ok {
		return copyOutcome{}
	}

	md := cand.File.Metadata
	return copyOutcome{
		wrote: true,
		entry: catalog.Entry{
			SessionID:     md.ID,
			Source:        cand.Adapter.SourceName(),
			MachineID:     c.machineID,
			Mtime:         md.Mtime,
			FileSize:      md.FileSize,
			Title:         md.Title,
			WorkspaceName: md.WorkspaceName,
			CreatedAt:     md.CreatedAt,
			VaultPath:     dest,
			OriginalPath:  md.OriginalPath,
		},
	}
}
