package vault

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaths_LayoutMatchesVaultTree(t *testing.T) {
	p := New("/vault")

	assert.Equal(t, "/vault/sessions/claude-code", p.SessionsDir("claude-code"))
	assert.Equal(t, "/vault/sessions/claude-code/abc123.json", p.SessionPath("claude-code", "abc123", "json"))
	assert.Equal(t, "/vault/parsed/claude-code", p.ParsedDir("claude-code"))
	assert.Equal(t, "/vault/parsed/claude-code/abc123.md", p.ParsedPath("claude-code", "abc123"))
	assert.Equal(t, "/vault/vault.db", p.CatalogPath())
	assert.Equal(t, "/vault/embeddings.db", p.SearchStorePath())
}

func TestEnsureTree_CreatesSessionsAndParsedDirs(t *testing.T) {
	root := filepath.Join(t.TempDir(), "vault")

	require.NoError(t, EnsureTree(root))

	assert.DirExists(t, filepath.Join(root, "sessions"))
	assert.DirExists(t, filepath.Join(root, "parsed"))
}

func TestEnsureSourceDirs_CreatesPerSourceDirs(t *testing.T) {
	root := t.TempDir()
	p := New(root)

	require.NoError(t, p.EnsureSourceDirs("codex"))

	assert.DirExists(t, p.SessionsDir("codex"))
	assert.DirExists(t, p.ParsedDir("codex"))
}

func TestCopyFileAtomic_CopiesContentAndLeavesNoTempFile(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	src := filepath.Join(srcDir, "session.json")
	dst := filepath.Join(dstDir, "nested", "session.json")
	require.NoError(t, os.WriteFile(src, []byte(`{"ok":true}`), 0o644))

	n, err := CopyFileAtomic(src, dst)

	require.NoError(t, err)
	assert.Equal(t, int64(len(`{"ok":true}`)), n)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))
	assert.NoFileExists(t, dst+".tmp")
}

func TestCopyFileAtomic_MissingSourceReturnsIOError(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "out.json")

	_, err := CopyFileAtomic(filepath.Join(t.TempDir(), "missing.json"), dst)

	require.Error(t, err)
}

func TestDirSize_SumsFileBytes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("world!"), 0o644))

	size, err := DirSize(dir)

	require.NoError(t, err)
	assert.Equal(t, int64(len("hello")+len("world!")), size)
}

func TestDirSize_MissingDirReturnsZero(t *testing.T) {
	size, err := DirSize(filepath.Join(t.TempDir(), "does-not-exist"))

	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestSyncLock_LockCreatesLockFile(t *testing.T) {
	root := t.TempDir()
	lock := NewSyncLock(root)

	require.NoError(t, lock.Lock(context.Background()))
	defer func() { _ = lock.Unlock() }()

	assert.FileExists(t, New(root).SyncLockPath())
}

func TestSyncLock_SecondLockBlocksUntilFirstUnlocks(t *testing.T) {
	root := t.TempDir()
	first := NewSyncLock(root)
	require.NoError(t, first.Lock(context.Background()))

	second := NewSyncLock(root)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := second.Lock(ctx)
	assert.Error(t, err)

	require.NoError(t, first.Unlock())

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	require.NoError(t, second.Lock(ctx2))
	_ = second.Unlock()
}

func TestSyncLock_UnlockWithoutLockIsNoop(t *testing.T) {
	root := t.TempDir()
	lock := NewSyncLock(root)

	assert.NoError(t, lock.Unlock())
}
