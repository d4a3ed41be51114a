// Package vault lays out and manages the on-disk vault tree: the directory
// rooted at vault_path that mirrors the union of sessions, plus the
// catalog and search-store databases (spec.md §3 "Vault tree").
package vault

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	echoerrors "github.com/echovault-sync/echovault/internal/errors"
)

const (
	sessionsDir  = "sessions"
	parsedDir    = "parsed"
	catalogFile  = "vault.db"
	storeFile    = "embeddings.db"
	syncLockFile = ".sync.lock"
)

// Paths resolves locations inside a vault tree rooted at Root.
type Paths struct {
	Root string
}

// New returns a Paths rooted at root.
func New(root string) Paths {
	return Paths{Root: root}
}

// SessionsDir returns "<root>/sessions/<source>".
func (p Paths) SessionsDir(source string) string {
	return filepath.Join(p.Root, sessionsDir, source)
}

// SessionPath returns "<root>/sessions/<source>/<sessionID>.<ext>".
func (p Paths) SessionPath(source, sessionID, ext string) string {
	return filepath.Join(p.SessionsDir(source), sessionID+"."+ext)
}

// ParsedDir returns "<root>/parsed/<source>".
func (p Paths) ParsedDir(source string) string {
	return filepath.Join(p.Root, parsedDir, source)
}

// ParsedPath returns "<root>/parsed/<source>/<sessionID>.md".
func (p Paths) ParsedPath(source, sessionID string) string {
	return filepath.Join(p.ParsedDir(source), sessionID+".md")
}

// CatalogPath returns "<root>/vault.db".
func (p Paths) CatalogPath() string {
	return filepath.Join(p.Root, catalogFile)
}

// SearchStorePath returns "<root>/embeddings.db".
func (p Paths) SearchStorePath() string {
	return filepath.Join(p.Root, storeFile)
}

// SyncLockPath returns "<root>/.sync.lock", the cross-process advisory
// lock file guarding a replication tick's pull/push boundary.
func (p Paths) SyncLockPath() string {
	return filepath.Join(p.Root, syncLockFile)
}

// SyncLock is a cross-process exclusive lock (gofrs/flock) over one
// vault's sync tick, belt-and-suspenders alongside SQLite's own WAL
// locking: it stops the CLI's `sync` and the background daemon from
// running a pull/push cycle against the same vault concurrently.
type SyncLock struct {
	fl *flock.Flock
}

// NewSyncLock builds the lock for root's vault tree. It does not acquire
// it; call Lock or TryLock.
func NewSyncLock(root string) *SyncLock {
	return &SyncLock{fl: flock.New(New(root).SyncLockPath())}
}

// Lock blocks until the exclusive lock is acquired or ctx is done; in the
// latter case it returns an error.
func (l *SyncLock) Lock(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.fl.Path()), 0o755); err != nil {
		return echoerrors.IOErr("create sync lock directory", err)
	}
	locked, err := l.fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return echoerrors.IOErr("acquire sync lock", err)
	}
	if !locked {
		return echoerrors.IOErr("acquire sync lock", ctx.Err())
	}
	return nil
}

// Unlock releases the lock. Safe to call even if Lock was never called.
func (l *SyncLock) Unlock() error {
	if !l.fl.Locked() {
		return nil
	}
	return l.fl.Unlock()
}

// EnsureTree creates the vault root and its sessions/parsed subdirectories.
func EnsureTree(root string) error {
	for _, dir := range []string{root, filepath.Join(root, sessionsDir), filepath.Join(root, parsedDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return echoerrors.IOErr(fmt.Sprintf("create vault directory %s", dir), err)
		}
	}
	return nil
}

// EnsureSourceDirs creates the per-source sessions/parsed directories for source.
func (p Paths) EnsureSourceDirs(source string) error {
	for _, dir := range []string{p.SessionsDir(source), p.ParsedDir(source)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return echoerrors.IOErr(fmt.Sprintf("create source directory %s", dir), err)
		}
	}
	return nil
}

// CopyFileAtomic copies src to dst via a temp file plus rename so that dst
// is either absent or a complete copy, never a partial write (grounded on
// the teacher's session.SaveSession atomic-write pattern).
func CopyFileAtomic(src, dst string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, echoerrors.IOErr("create destination directory", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, echoerrors.IOErr("open source artifact", err)
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return 0, echoerrors.IOErr("stat source artifact", err)
	}

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return 0, echoerrors.IOErr("create temp file", err)
	}

	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, echoerrors.IOErr("copy artifact contents", err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return 0, echoerrors.IOErr("rename into place", err)
	}

	return n, nil
}

// DirSize sums the byte size of all files under dir. Missing directories
// report zero size rather than an error.
func DirSize(dir string) (int64, error) {
	var size int64
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		size += info.Size()
		return nil
	})
	if os.IsNotExist(err) {
		return 0, nil
	}
	return size, err
}
