package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntry(id string, mtime int64) Entry {
	return Entry{
		SessionID:    id,
		Source:       "claude-code",
		MachineID:    "machine-a",
		Mtime:        mtime,
		FileSize:     42,
		VaultPath:    "sessions/claude-code/" + id + ".json",
		OriginalPath: "/home/user/.claude/" + id + ".json",
	}
}

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestOpen_CreatesSchemaAndWALFiles(t *testing.T) {
	dir := t.TempDir()

	c, err := Open(dir)
	require.NoError(t, err)
	defer c.Close()

	assert.FileExists(t, filepath.Join(dir, "vault.db"))

	count, err := c.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestUpsertSession_ColdInsert(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	result, err := c.UpsertSession(ctx, testEntry("s1", 1000), 5000)

	require.NoError(t, err)
	assert.Equal(t, Inserted, result)

	mtime, ok, err := c.GetSessionMtime(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1000), mtime)
}

func TestUpsertSession_StrictlyNewerMtimeWins(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	_, err := c.UpsertSession(ctx, testEntry("s1", 1000), 5000)
	require.NoError(t, err)

	newer := testEntry("s1", 2000)
	newer.FileSize = 99
	result, err := c.UpsertSession(ctx, newer, 6000)

	require.NoError(t, err)
	assert.Equal(t, Updated, result)

	mtime, _, err := c.GetSessionMtime(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), mtime)
}

func TestUpsertSession_OlderMtimeLoses(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	_, err := c.UpsertSession(ctx, testEntry("s1", 2000), 5000)
	require.NoError(t, err)

	result, err := c.UpsertSession(ctx, testEntry("s1", 1000), 6000)

	require.NoError(t, err)
	assert.Equal(t, Skipped, result)

	mtime, _, err := c.GetSessionMtime(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), mtime)
}

func TestUpsertSession_EqualMtimeIsNoChange(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	_, err := c.UpsertSession(ctx, testEntry("s1", 1000), 5000)
	require.NoError(t, err)

	result, err := c.UpsertSession(ctx, testEntry("s1", 1000), 6000)

	require.NoError(t, err)
	assert.Equal(t, NoChange, result)
}

func TestUpsertBatch_ReportsInsertedUpdatedSkippedCounts(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	_, err := c.UpsertSession(ctx, testEntry("existing", 1000), 5000)
	require.NoError(t, err)

	entries := []Entry{
		testEntry("new-session", 500),
		testEntry("existing", 2000),
		testEntry("existing-but-older", 1),
	}
	_, err = c.UpsertSession(ctx, testEntry("existing-but-older", 100), 5000)
	require.NoError(t, err)

	inserted, updated, skipped, err := c.UpsertBatch(ctx, entries, 7000)

	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.Equal(t, 1, updated)
	assert.Equal(t, 1, skipped)
}

func TestMtimeMap_ReflectsAllRows(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	_, err := c.UpsertSession(ctx, testEntry("s1", 1000), 5000)
	require.NoError(t, err)
	_, err = c.UpsertSession(ctx, testEntry("s2", 2000), 5000)
	require.NoError(t, err)

	m, err := c.MtimeMap(ctx)

	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"s1": 1000, "s2": 2000}, m)
}

func TestGetAllSessions_ReturnsEveryRow(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	_, err := c.UpsertSession(ctx, testEntry("s1", 1000), 5000)
	require.NoError(t, err)

	entries, err := c.GetAllSessions(ctx)

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "s1", entries[0].SessionID)
	assert.Equal(t, "claude-code", entries[0].Source)
}

func TestCountBySource_FiltersCorrectly(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	_, err := c.UpsertSession(ctx, testEntry("s1", 1000), 5000)
	require.NoError(t, err)
	codex := testEntry("s2", 1000)
	codex.Source = "codex"
	_, err = c.UpsertSession(ctx, codex, 5000)
	require.NoError(t, err)

	count, err := c.CountBySource(ctx, "codex")

	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLogSync_AppendsEntry(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	err := c.LogSync(ctx, "machine-a", 5000, "ingest", "1 sessions")

	require.NoError(t, err)

	var count int
	require.NoError(t, c.db.QueryRow(`SELECT COUNT(*) FROM sync_log WHERE action = 'ingest'`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestGetSyncLog_ReturnsEntriesInInsertionOrder(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.LogSync(ctx, "machine-a", 1000, "ingest", "2 sessions"))
	require.NoError(t, c.LogSync(ctx, "machine-a", 2000, "sync", "pull ok"))

	entries, err := c.GetSyncLog(ctx)

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "ingest", entries[0].Action)
	assert.Equal(t, "sync", entries[1].Action)
	assert.Equal(t, "machine-a", entries[1].MachineID)
}

func TestOpen_ReopenPreservesData(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	c1, err := Open(dir)
	require.NoError(t, err)
	_, err = c1.UpsertSession(ctx, testEntry("s1", 1000), 5000)
	require.NoError(t, err)
	require.NoError(t, c1.Close())

	c2, err := Open(dir)
	require.NoError(t, err)
	defer c2.Close()

	mtime, ok, err := c2.GetSessionMtime(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1000), mtime)
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "vault")

	c, err := Open(dir)
	require.NoError(t, err)
	defer c.Close()

	assert.DirExists(t, dir)
	_, statErr := os.Stat(filepath.Join(dir, "vault.db"))
	assert.NoError(t, statErr)
}
