package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockEmbeddingsServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedSingle_ReturnsVector(t *testing.T) {
	srv := mockEmbeddingsServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input, 1)

		_ = json.NewEncoder(w).Encode(embeddingResponse{
			Data: []embeddingDatum{{Embedding: []float32{0.1, 0.2, 0.3}, Index: 0}},
		})
	})

	c := New(Config{BaseURL: srv.URL, Model: "test-model"})
	vec, err := c.EmbedSingle(context.Background(), "hello world")

	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 3, c.Dimensions())
}

func TestEmbedBatch_SplitsIntoSubBatchesAndPreservesOrder(t *testing.T) {
	var receivedBatchSizes []int

	srv := mockEmbeddingsServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		receivedBatchSizes = append(receivedBatchSizes, len(req.Input))

		data := make([]embeddingDatum, len(req.Input))
		for i := range req.Input {
			data[i] = embeddingDatum{Embedding: []float32{float32(i)}, Index: i}
		}
		_ = json.NewEncoder(w).Encode(embeddingResponse{Data: data})
	})

	c := New(Config{BaseURL: srv.URL, Model: "test-model", BatchSize: 2})
	texts := []string{"a", "b", "c", "d", "e"}

	vectors, err := c.EmbedBatch(context.Background(), texts)

	require.NoError(t, err)
	require.Len(t, vectors, 5)
	assert.Equal(t, []int{2, 2, 1}, receivedBatchSizes)
}

func TestEmbedBatch_EmptyInputReturnsNil(t *testing.T) {
	c := New(Config{BaseURL: "http://unused", Model: "m"})
	vectors, err := c.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestEmbedBatch_SendsBearerTokenWhenAPIKeySet(t *testing.T) {
	var gotAuth string
	srv := mockEmbeddingsServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(embeddingResponse{
			Data: []embeddingDatum{{Embedding: []float32{1}, Index: 0}},
		})
	})

	c := New(Config{BaseURL: srv.URL, Model: "m", APIKey: "secret-key"})
	_, err := c.EmbedSingle(context.Background(), "x")

	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-key", gotAuth)
}

func TestEmbedBatch_ServerErrorSurfacesAsError(t *testing.T) {
	srv := mockEmbeddingsServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})

	c := New(Config{BaseURL: srv.URL, Model: "m"})

	_, err := c.EmbedSingle(context.Background(), "x")
	assert.Error(t, err)
}

func TestEmbedSessions_IsolatesPerSessionFailures(t *testing.T) {
	srv := mockEmbeddingsServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Input[0] == "fail-me" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(embeddingResponse{
			Data: []embeddingDatum{{Embedding: []float32{1, 2}, Index: 0}},
		})
	})

	c := New(Config{BaseURL: srv.URL, Model: "m"})

	results, errs := c.EmbedSessions(context.Background(), map[string][]string{
		"good-session": {"ok text"},
		"bad-session":  {"fail-me"},
	})

	require.Len(t, results, 1)
	assert.Equal(t, "good-session", results[0].SessionID)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "bad-session")
}

func TestNew_AppliesDefaults(t *testing.T) {
	c := New(Config{BaseURL: "http://x", Model: "m"})
	assert.Equal(t, DefaultBatchSize, c.cfg.BatchSize)
	assert.Equal(t, DefaultTimeout, c.cfg.Timeout)
}

func TestEmbedBatch_RepeatedTextHitsCacheNotServer(t *testing.T) {
	var calls int
	srv := mockEmbeddingsServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		data := make([]embeddingDatum, len(req.Input))
		for i := range req.Input {
			data[i] = embeddingDatum{Embedding: []float32{1, 2, 3}, Index: i}
		}
		_ = json.NewEncoder(w).Encode(embeddingResponse{Data: data})
	})

	c := New(Config{BaseURL: srv.URL, Model: "m"})

	first, err := c.EmbedBatch(context.Background(), []string{"repeat me", "and me too"})
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	second, err := c.EmbedBatch(context.Background(), []string{"repeat me", "new text", "and me too"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "only the one uncached text should trigger a second request")
	assert.Equal(t, first[0], second[0])
	assert.Equal(t, first[1], second[2])
}

func TestEmbedBatch_NegativeCacheSizeDisablesCaching(t *testing.T) {
	var calls int
	srv := mockEmbeddingsServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(embeddingResponse{
			Data: []embeddingDatum{{Embedding: []float32{1}, Index: 0}},
		})
	})

	c := New(Config{BaseURL: srv.URL, Model: "m", CacheSize: -1})

	_, err := c.EmbedBatch(context.Background(), []string{"same text"})
	require.NoError(t, err)
	_, err = c.EmbedBatch(context.Background(), []string{"same text"})
	require.NoError(t, err)

	assert.Equal(t, 2, calls, "caching disabled means every call hits the server")
}
