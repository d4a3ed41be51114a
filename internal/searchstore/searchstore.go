// Package searchstore implements the search store (embeddings.db,
// spec.md §4.7): a chunk table holding embedding vectors plus an FTS5
// keyword shadow kept in sync via triggers.
package searchstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO

	echoerrors "github.com/echovault-sync/echovault/internal/errors"
	"github.com/echovault-sync/echovault/internal/telemetry"
)

// ChunkInput is one chunk to be stored for a session.
type ChunkInput struct {
	Content string
	Vector  []float32
}

// SimilarResult is one cosine-similarity search hit.
type SimilarResult struct {
	SessionID  string
	Source     string
	ChunkIndex int
	Content    string
	Score      float64
}

// KeywordResult is one keyword-search hit.
type KeywordResult struct {
	SessionID  string
	Source     string
	ChunkIndex int
	Content    string
	Score      float64
}

// Stats summarizes the store's contents.
type Stats struct {
	TotalChunks   int
	TotalSessions int
	Dimension     int
}

// Store owns a single connection to embeddings.db.
type Store struct {
	mu      sync.Mutex
	db      *sql.DB
	index   *vectorIndex // nil until EnableANN or the auto-enable threshold fires
	metrics *telemetry.QueryMetrics
}

// Metrics returns the store's query telemetry collector (spec.md §9
// "local, no external reporting" observability), used by the hybrid
// retriever to record per-query latency and result counts.
func (s *Store) Metrics() *telemetry.QueryMetrics {
	return s.metrics
}

// Open opens or creates "<vaultDir>/embeddings.db", ensures its schema,
// and configures WAL + busy-timeout durability pragmas (reusing the same
// pragma set internal/catalog applies to vault.db).
func Open(vaultDir string) (*Store, error) {
	if err := os.MkdirAll(vaultDir, 0o755); err != nil {
		return nil, echoerrors.IOErr("create vault directory", err)
	}

	path := filepath.Join(vaultDir, "embeddings.db")
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, echoerrors.DatabaseErr("open search store", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, echoerrors.DatabaseErr("set search store pragma", err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := telemetry.InitTelemetrySchema(db); err != nil {
		_ = db.Close()
		return nil, echoerrors.DatabaseErr("init telemetry schema", err)
	}
	metricsStore, err := telemetry.NewSQLiteMetricsStore(db)
	if err != nil {
		_ = db.Close()
		return nil, echoerrors.DatabaseErr("open telemetry store", err)
	}
	s.metrics = telemetry.NewQueryMetrics(metricsStore)

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		source TEXT NOT NULL,
		model TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		vector BLOB NOT NULL,
		dimension INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(session_id, chunk_index)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_session ON chunks(session_id);

	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		content,
		content='chunks',
		content_rowid='id',
		tokenize='unicode61'
	);

	CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
		INSERT INTO chunks_fts(rowid, content) VALUES (new.id, new.content);
	END;
	CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.id, old.content);
	END;
	CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.id, old.content);
		INSERT INTO chunks_fts(rowid, content) VALUES (new.id, new.content);
	END;
	`
	if _, err := s.db.Exec(schema); err != nil {
		return echoerrors.DatabaseErr("create search store schema", err)
	}
	return nil
}

// StoreSessionChunks transactionally replaces every chunk row for
// sessionID: deletes all existing rows, then inserts chunks with
// chunk_index assigned 0..n-1. The first chunk's vector length becomes
// the stored dimension (spec.md §4.7 "store_session_chunks").
func (s *Store) StoreSessionChunks(ctx context.Context, sessionID, source, model string, chunks []ChunkInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return echoerrors.DatabaseErr("begin store chunks transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE session_id = ?`, sessionID); err != nil {
		return echoerrors.DatabaseErr("delete existing chunks", err)
	}

	if len(chunks) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (session_id, source, model, chunk_index, content, vector, dimension, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return echoerrors.DatabaseErr("prepare insert chunk statement", err)
		}
		defer stmt.Close()

		dimension := len(chunks[0].Vector)
		createdAt := time.Now().Unix()
		for i, c := range chunks {
			if _, err := stmt.ExecContext(ctx, sessionID, source, model, i, c.Content, encodeVector(c.Vector), dimension, createdAt); err != nil {
				return echoerrors.DatabaseErr("insert chunk", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return echoerrors.DatabaseErr("commit store chunks transaction", err)
	}

	s.maybeAutoEnableANNLocked(ctx)
	if s.index != nil {
		rows := make([]chunkRow, len(chunks))
		for i, c := range chunks {
			rows[i] = chunkRow{sessionID: sessionID, source: source, chunkIndex: i, content: c.Content, vector: c.Vector}
		}
		s.index.replaceSession(sessionID, rows)
	}

	return nil
}

// EnableANN switches SearchSimilar from the linear scan to the HNSW-backed
// accelerated index, rebuilding it from every chunk currently on disk.
func (s *Store) EnableANN(ctx context.Context, cfg ANNConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enableANNLocked(ctx, cfg)
}

func (s *Store) enableANNLocked(ctx context.Context, cfg ANNConfig) error {
	rows, err := s.allChunks(ctx)
	if err != nil {
		return err
	}

	idx := newVectorIndex(cfg)
	bySession := make(map[string][]chunkRow)
	for _, r := range rows {
		bySession[r.sessionID] = append(bySession[r.sessionID], r)
	}
	for sessionID, sessionRows := range bySession {
		idx.replaceSession(sessionID, sessionRows)
	}
	s.index = idx
	return nil
}

// maybeAutoEnableANNLocked builds the accelerated index once the vault's
// chunk count crosses ANNThreshold, so large vaults transparently get the
// ANN backend spec.md §4.7/§9 allows without any config change.
func (s *Store) maybeAutoEnableANNLocked(ctx context.Context) {
	if s.index != nil {
		return
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&total); err != nil {
		return
	}
	if total < ANNThreshold {
		return
	}
	_ = s.enableANNLocked(ctx, ANNConfig{})
}

// HasSession reports whether any chunk row exists for id.
func (s *Store) HasSession(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE session_id = ?`, id).Scan(&count); err != nil {
		return false, echoerrors.DatabaseErr("check session existence", err)
	}
	return count > 0, nil
}

// DeleteSession removes every chunk row for id.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE session_id = ?`, id); err != nil {
		return echoerrors.DatabaseErr("delete session chunks", err)
	}
	if s.index != nil {
		s.index.dropSession(id)
	}
	return nil
}

// ListEmbeddedSessions returns every distinct session_id with at least
// one chunk row.
func (s *Store) ListEmbeddedSessions(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT session_id FROM chunks ORDER BY session_id`)
	if err != nil {
		return nil, echoerrors.DatabaseErr("list embedded sessions", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, echoerrors.DatabaseErr("scan session id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Clear removes every chunk row.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return echoerrors.DatabaseErr("clear search store", err)
	}
	if s.index != nil {
		s.index.clear()
	}
	return nil
}

// Stats reports the total chunk count, distinct session count, and the
// dimension recorded on the most recently inserted chunk.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&stats.TotalChunks); err != nil {
		return Stats{}, echoerrors.DatabaseErr("count chunks", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT session_id) FROM chunks`).Scan(&stats.TotalSessions); err != nil {
		return Stats{}, echoerrors.DatabaseErr("count sessions", err)
	}

	var dimension sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT dimension FROM chunks ORDER BY id DESC LIMIT 1`).Scan(&dimension)
	if err != nil && err != sql.ErrNoRows {
		return Stats{}, echoerrors.DatabaseErr("query dimension", err)
	}
	stats.Dimension = int(dimension.Int64)

	return stats, nil
}

// Close flushes query telemetry and releases the underlying database
// connection.
func (s *Store) Close() error {
	if s.metrics != nil {
		_ = s.metrics.Close()
	}
	if err := s.db.Close(); err != nil {
		return echoerrors.DatabaseErr("close search store", err)
	}
	return nil
}

type chunkRow struct {
	sessionID  string
	source     string
	chunkIndex int
	content    string
	vector     []float32
}

func (s *Store) allChunks(ctx context.Context) ([]chunkRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, source, chunk_index, content, vector FROM chunks`)
	if err != nil {
		return nil, echoerrors.DatabaseErr("query all chunks", err)
	}
	defer rows.Close()

	var result []chunkRow
	for rows.Next() {
		var r chunkRow
		var blob []byte
		if err := rows.Scan(&r.sessionID, &r.source, &r.chunkIndex, &r.content, &blob); err != nil {
			return nil, echoerrors.DatabaseErr("scan chunk row", err)
		}
		r.vector = decodeVector(blob)
		result = append(result, r)
	}
	return result, rows.Err()
}

// SearchSimilar scans all chunks, scores each by cosine similarity
// against queryVec, and returns the top-k by descending score (spec.md
// §4.7 "search_similar"). Once the vault crosses ANNThreshold chunks (or
// EnableANN was called explicitly), it queries the HNSW-backed
// accelerated index instead of scanning every row.
func (s *Store) SearchSimilar(ctx context.Context, queryVec []float32, k int) ([]SimilarResult, error) {
	s.mu.Lock()
	index := s.index
	s.mu.Unlock()

	if index != nil {
		results := index.search(queryVec, k)
		sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
		if k >= 0 && len(results) > k {
			results = results[:k]
		}
		return results, nil
	}

	s.mu.Lock()
	rows, err := s.allChunks(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	results := make([]SimilarResult, 0, len(rows))
	for _, r := range rows {
		results = append(results, SimilarResult{
			SessionID:  r.sessionID,
			Source:     r.source,
			ChunkIndex: r.chunkIndex,
			Content:    r.content,
			Score:      cosineSimilarity(queryVec, r.vector),
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k >= 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// SearchSessions is like SearchSimilar but collapses to the best chunk
// per session: it pulls an initial 3k hits from the similarity-sorted
// list and keeps the first (highest-scoring) occurrence of each distinct
// session, up to k sessions (spec.md §4.7 "search_sessions").
func (s *Store) SearchSessions(ctx context.Context, queryVec []float32, k int) ([]SimilarResult, error) {
	pullSize := 3 * k
	candidates, err := s.SearchSimilar(ctx, queryVec, pullSize)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var results []SimilarResult
	for _, c := range candidates {
		if seen[c.SessionID] {
			continue
		}
		seen[c.SessionID] = true
		results = append(results, c)
		if len(results) >= k {
			break
		}
	}
	return results, nil
}

// SearchKeyword runs query against the FTS5 keyword shadow and returns
// the top-k hits by the text index's built-in bm25 ranking, transformed
// into a (0, 1] score via 1 / (1 + |rank|) (spec.md §4.7 "search_keyword").
func (s *Store) SearchKeyword(ctx context.Context, query string, k int) ([]KeywordResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.session_id, c.source, c.chunk_index, c.content, bm25(chunks_fts) AS rank
		FROM chunks_fts
		JOIN chunks c ON c.id = chunks_fts.rowid
		WHERE chunks_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, k)
	if err != nil {
		return nil, echoerrors.DatabaseErr("search keyword", err)
	}
	defer rows.Close()

	var results []KeywordResult
	for rows.Next() {
		var r KeywordResult
		var rank float64
		if err := rows.Scan(&r.SessionID, &r.Source, &r.ChunkIndex, &r.Content, &rank); err != nil {
			return nil, echoerrors.DatabaseErr("scan keyword result", err)
		}
		r.Score = 1 / (1 + math.Abs(rank))
		results = append(results, r)
	}
	return results, rows.Err()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

// normalizeVectorInPlace scales v to unit length, matching the
// normalization the HNSW graph's cosine distance function expects
// (grounded on the teacher's internal/store/hnsw.go normalizeVectorInPlace).
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
