package searchstore

import (
	"sync"

	"github.com/coder/hnsw"
)

// ANNThreshold is the chunk count past which Store switches SearchSimilar
// from the linear cosine scan to the HNSW-backed accelerated index
// (spec.md §4.7/§9: "corpora beyond the tens of thousands of chunks regime"
// may need a drop-in ANN replacement; grounded on the teacher's
// internal/store/hnsw.go HNSWStore).
const ANNThreshold = 20_000

// ANNConfig configures the accelerated index's HNSW graph parameters.
type ANNConfig struct {
	M        int
	EfSearch int
}

type annEntry struct {
	sessionID  string
	source     string
	chunkIndex int
	content    string
}

// vectorIndex is an in-memory HNSW graph mirroring the chunk table,
// keyed by "sessionID#chunkIndex" so whole-session replace/delete stays
// O(session size) instead of requiring a full rebuild. Deletions are lazy
// (orphan the old key rather than call graph.Delete) to avoid a known
// coder/hnsw bug when the last node in the graph is removed — the same
// workaround the teacher's HNSWStore uses.
type vectorIndex struct {
	mu        sync.RWMutex
	graph     *hnsw.Graph[uint64]
	idMap     map[string]uint64
	keyMap    map[uint64]string
	meta      map[string]annEntry
	bySession map[string][]string
	nextKey   uint64
}

func newVectorIndex(cfg ANNConfig) *vectorIndex {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &vectorIndex{
		graph:     graph,
		idMap:     make(map[string]uint64),
		keyMap:    make(map[uint64]string),
		meta:      make(map[string]annEntry),
		bySession: make(map[string][]string),
	}
}

func chunkANNID(sessionID string, chunkIndex int) string {
	buf := make([]byte, 0, len(sessionID)+8)
	buf = append(buf, sessionID...)
	buf = append(buf, '#')
	buf = appendInt(buf, chunkIndex)
	return string(buf)
}

func appendInt(buf []byte, n int) []byte {
	if n == 0 {
		return append(buf, '0')
	}
	start := len(buf)
	for n > 0 {
		buf = append(buf, byte('0'+n%10))
		n /= 10
	}
	for l, r := start, len(buf)-1; l < r; l, r = l+1, r-1 {
		buf[l], buf[r] = buf[r], buf[l]
	}
	return buf
}

// replaceSession drops every previously indexed chunk for sessionID, then
// inserts rows (mirroring StoreSessionChunks' delete-then-insert contract).
func (v *vectorIndex) replaceSession(sessionID string, rows []chunkRow) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.dropSessionLocked(sessionID)

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		id := chunkANNID(r.sessionID, r.chunkIndex)

		vec := make([]float32, len(r.vector))
		copy(vec, r.vector)
		normalizeVectorInPlace(vec)

		key := v.nextKey
		v.nextKey++
		v.graph.Add(hnsw.MakeNode(key, vec))

		v.idMap[id] = key
		v.keyMap[key] = id
		v.meta[id] = annEntry{sessionID: r.sessionID, source: r.source, chunkIndex: r.chunkIndex, content: r.content}
		ids = append(ids, id)
	}
	v.bySession[sessionID] = ids
}

func (v *vectorIndex) dropSession(sessionID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropSessionLocked(sessionID)
}

func (v *vectorIndex) dropSessionLocked(sessionID string) {
	for _, id := range v.bySession[sessionID] {
		if key, ok := v.idMap[id]; ok {
			delete(v.keyMap, key)
			delete(v.idMap, id)
			delete(v.meta, id)
		}
	}
	delete(v.bySession, sessionID)
}

func (v *vectorIndex) clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.idMap = make(map[string]uint64)
	v.keyMap = make(map[uint64]string)
	v.meta = make(map[string]annEntry)
	v.bySession = make(map[string][]string)
}

// search returns up to k hits ordered by descending cosine score.
func (v *vectorIndex) search(query []float32, k int) []SimilarResult {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.graph.Len() == 0 {
		return nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeVectorInPlace(normalized)

	nodes := v.graph.Search(normalized, k)
	results := make([]SimilarResult, 0, len(nodes))
	for _, node := range nodes {
		id, ok := v.keyMap[node.Key]
		if !ok {
			continue
		}
		entry := v.meta[id]
		distance := v.graph.Distance(normalized, node.Value)
		results = append(results, SimilarResult{
			SessionID:  entry.sessionID,
			Source:     entry.source,
			ChunkIndex: entry.chunkIndex,
			Content:    entry.content,
			Score:      1.0 - float64(distance)/2.0,
		})
	}
	return results
}

func (v *vectorIndex) len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.idMap)
}
