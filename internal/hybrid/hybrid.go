// Package hybrid implements the hybrid retriever (spec.md §4.8): it
// fuses vector-similarity and keyword search results with Reciprocal
// Rank Fusion.
package hybrid

import (
	"context"
	"sort"
	"time"

	"github.com/echovault-sync/echovault/internal/searchstore"
	"github.com/echovault-sync/echovault/internal/telemetry"
)

// rrfConstant is the RRF smoothing parameter; spec.md §4.8 fixes it at
// 60 and does not make it configurable.
const rrfConstant = 60

// DefaultAlpha is the default vector/keyword mixing weight
// (spec.md §4.8 "Default α = 0.6 (vector-biased)").
const DefaultAlpha = 0.6

// Config controls the retriever's mixing weight.
type Config struct {
	// Alpha is the vector-similarity weight; keyword weight is (1-Alpha).
	// Zero selects DefaultAlpha.
	Alpha float64
}

// Result is one fused hit.
type Result struct {
	SessionID   string
	Source      string
	ChunkIndex  int
	Content     string
	Score       float64
	VectorRank  int // 1-indexed; 0 if absent from the vector list
	KeywordRank int // 1-indexed; 0 if absent from the keyword list
}

// Retriever composes a searchstore.Store's similarity and keyword
// search into fused rankings.
type Retriever struct {
	store *searchstore.Store
	cfg   Config
}

// New builds a Retriever over store, applying Config defaults.
func New(store *searchstore.Store, cfg Config) *Retriever {
	if cfg.Alpha <= 0 {
		cfg.Alpha = DefaultAlpha
	}
	return &Retriever{store: store, cfg: cfg}
}

// Search runs the RRF fusion algorithm (spec.md §4.8 steps 1-5) and
// returns the top-k fused results. If search_keyword fails (e.g. a
// malformed FTS5 query), it falls back to search_sessions(v, k).
func (r *Retriever) Search(ctx context.Context, query string, queryVec []float32, k int) ([]Result, error) {
	start := time.Now()
	fused, fellBack, err := r.fuse(ctx, query, queryVec, k)
	if err != nil {
		if !fellBack {
			return nil, err
		}
		results, fbErr := r.fallbackSessions(ctx, queryVec, k)
		r.recordQuery(query, len(results), time.Since(start))
		return results, fbErr
	}
	if len(fused) > k {
		fused = fused[:k]
	}
	r.recordQuery(query, len(fused), time.Since(start))
	return fused, nil
}

// recordQuery logs one query's telemetry, classified as Mixed since the
// fusion always attempts both the vector and keyword paths (spec.md §4.8;
// grounded on internal/telemetry.QueryMetrics). A nil Metrics() (e.g. in
// tests using a bare searchstore.Store built without Open) is a no-op.
func (r *Retriever) recordQuery(query string, resultCount int, latency time.Duration) {
	metrics := r.store.Metrics()
	if metrics == nil {
		return
	}
	metrics.Record(telemetry.QueryEvent{
		Query:       query,
		QueryType:   telemetry.QueryTypeMixed,
		ResultCount: resultCount,
		Latency:     latency,
		Timestamp:   time.Now(),
	})
}

// SearchSessions is the session-collapsed variant: it runs the fusion
// at 3k, then keeps only the first (highest-scoring) appearance of each
// distinct session_id until k are accumulated (spec.md §4.8
// "Session-collapsed variant").
func (r *Retriever) SearchSessions(ctx context.Context, query string, queryVec []float32, k int) ([]Result, error) {
	start := time.Now()
	fused, fellBack, err := r.fuse(ctx, query, queryVec, k)
	if err != nil {
		if !fellBack {
			return nil, err
		}
		results, fbErr := r.fallbackSessions(ctx, queryVec, k)
		r.recordQuery(query, len(results), time.Since(start))
		return results, fbErr
	}

	seen := make(map[string]bool)
	var collapsed []Result
	for _, res := range fused {
		if seen[res.SessionID] {
			continue
		}
		seen[res.SessionID] = true
		collapsed = append(collapsed, res)
		if len(collapsed) >= k {
			break
		}
	}
	r.recordQuery(query, len(collapsed), time.Since(start))
	return collapsed, nil
}

// fuse retrieves 3k candidates from both the vector and keyword search
// paths and returns the full score-sorted fused list (untruncated,
// length up to len(vector)+len(keyword) distinct keys). The second
// return value reports whether the caller should fall back to
// search_sessions because search_keyword failed.
func (r *Retriever) fuse(ctx context.Context, query string, queryVec []float32, k int) ([]Result, bool, error) {
	n := 3 * k

	vecResults, err := r.store.SearchSimilar(ctx, queryVec, n)
	if err != nil {
		return nil, false, err
	}

	kwResults, err := r.store.SearchKeyword(ctx, query, n)
	if err != nil {
		return nil, true, err
	}

	type key struct {
		sessionID  string
		chunkIndex int
	}
	scored := make(map[key]*Result)

	getOrCreate := func(sessionID, source string, chunkIndex int, content string) *Result {
		k := key{sessionID, chunkIndex}
		if res, ok := scored[k]; ok {
			return res
		}
		res := &Result{SessionID: sessionID, Source: source, ChunkIndex: chunkIndex, Content: content}
		scored[k] = res
		return res
	}

	for rank, v := range vecResults {
		res := getOrCreate(v.SessionID, v.Source, v.ChunkIndex, v.Content)
		res.VectorRank = rank + 1
		res.Score += r.cfg.Alpha / float64(rrfConstant+rank+1)
	}
	for rank, kw := range kwResults {
		res := getOrCreate(kw.SessionID, kw.Source, kw.ChunkIndex, kw.Content)
		res.KeywordRank = rank + 1
		res.Score += (1 - r.cfg.Alpha) / float64(rrfConstant+rank+1)
	}

	results := make([]Result, 0, len(scored))
	for _, res := range scored {
		results = append(results, *res)
	}
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.SessionID != b.SessionID {
			return a.SessionID < b.SessionID
		}
		return a.ChunkIndex < b.ChunkIndex
	})

	return results, false, nil
}

func (r *Retriever) fallbackSessions(ctx context.Context, queryVec []float32, k int) ([]Result, error) {
	sessions, err := r.store.SearchSessions(ctx, queryVec, k)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(sessions))
	for _, s := range sessions {
		results = append(results, Result{
			SessionID:  s.SessionID,
			Source:     s.Source,
			ChunkIndex: s.ChunkIndex,
			Content:    s.Content,
			Score:      s.Score,
			VectorRank: 0,
		})
	}
	return results, nil
}
