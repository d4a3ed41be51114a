// Package embedder implements the embedder client (spec.md §4.6): a thin
// HTTP client over an OpenAI-compatible embeddings endpoint.
package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	echoerrors "github.com/echovault-sync/echovault/internal/errors"
)

const (
	// DefaultBatchSize is the number of texts embedded per HTTP call
	// (spec.md §4.6 "Batch size is configured (default 32)").
	DefaultBatchSize = 32

	// DefaultTimeout bounds one embedding HTTP call.
	DefaultTimeout = 60 * time.Second

	// DefaultCacheSize caps how many distinct (text, model) embeddings are
	// kept in memory. Re-indexing after a partial failure, or two sessions
	// sharing a boilerplate system prompt, both hit this cache instead of
	// re-calling the embeddings endpoint.
	DefaultCacheSize = 1000

	// DefaultRequestsPerMinute throttles calls to the embeddings endpoint
	// when Config.RequestsPerMinute is unset. Local servers (Ollama) have
	// no real limit, but a hosted provider's default tier often does.
	DefaultRequestsPerMinute = 3000
)

// Config configures the embedder client.
type Config struct {
	// BaseURL is the OpenAI-compatible API root, e.g.
	// "https://api.openai.com/v1" or a local-server equivalent.
	BaseURL string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// Model is the embedding model name.
	Model string
	// BatchSize bounds how many texts are sent per HTTP call. Zero
	// selects DefaultBatchSize.
	BatchSize int
	// Timeout bounds one HTTP call. Zero selects DefaultTimeout.
	Timeout time.Duration
	// CacheSize bounds the in-memory embedding cache. Negative disables
	// caching entirely; zero selects DefaultCacheSize.
	CacheSize int
	// RequestsPerMinute throttles calls to the embeddings endpoint.
	// Negative disables throttling entirely; zero selects
	// DefaultRequestsPerMinute.
	RequestsPerMinute int
}

// Client embeds text via an OpenAI-compatible "/embeddings" endpoint.
type Client struct {
	httpClient *http.Client
	cfg        Config
	breaker    *echoerrors.CircuitBreaker
	cache      *lru.Cache[string, []float32] // nil when caching is disabled
	limiter    *rate.Limiter                 // nil when throttling is disabled

	mu   sync.RWMutex
	dims int // observed from the first successful response; 0 until then
}

// New builds a Client, applying Config defaults.
func New(cfg Config) *Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := &Client{
		httpClient: &http.Client{},
		cfg:        cfg,
		breaker:    echoerrors.NewCircuitBreaker("embedder:" + cfg.BaseURL),
	}
	if cfg.CacheSize >= 0 {
		cacheSize := cfg.CacheSize
		if cacheSize == 0 {
			cacheSize = DefaultCacheSize
		}
		client.cache, _ = lru.New[string, []float32](cacheSize)
	}
	if cfg.RequestsPerMinute >= 0 {
		rpm := cfg.RequestsPerMinute
		if rpm == 0 {
			rpm = DefaultRequestsPerMinute
		}
		client.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60), rpm)
	}
	return client
}

// cacheKey derives a fixed-length cache key from text and the configured
// model, so the same text embedded under two different models never
// collides (spec.md §4.7 stores embedding_model alongside each chunk).
func (c *Client) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.cfg.Model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Dimensions returns the embedding dimension observed from the first
// successful call, or 0 if no call has succeeded yet.
func (c *Client) Dimensions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dims
}

// Model returns the configured embedding model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// EmbedSingle embeds one text (spec.md §4.6 "embed_single").
func (c *Client) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, echoerrors.NetworkErr("embed single text", fmt.Errorf("no embedding returned"))
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts, internally splitting into sub-batches of
// cfg.BatchSize (spec.md §4.6 "embed_batch"). Texts already present in the
// embedding cache are returned without a network call.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))

	var missIdx []int
	var missTexts []string
	if c.cache != nil {
		for i, text := range texts {
			if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
				results[i] = vec
				continue
			}
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, text)
		}
	} else {
		missIdx = make([]int, len(texts))
		missTexts = texts
		for i := range texts {
			missIdx[i] = i
		}
	}

	for start := 0; start < len(missTexts); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(missTexts) {
			end = len(missTexts)
		}

		vectors, err := c.embedRequest(ctx, missTexts[start:end])
		if err != nil {
			return nil, err
		}
		for j, vec := range vectors {
			idx := missIdx[start+j]
			results[idx] = vec
			if c.cache != nil {
				c.cache.Add(c.cacheKey(missTexts[start+j]), vec)
			}
		}
	}
	return results, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingDatum struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingResponse struct {
	Data []embeddingDatum `json:"data"`
}

func (c *Client) embedRequest(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, err := json.Marshal(embeddingRequest{Model: c.cfg.Model, Input: texts})
	if err != nil {
		return nil, echoerrors.InternalErr("marshal embedding request", err)
	}

	var response embeddingResponse

	retryCfg := echoerrors.RetryConfig{
		MaxRetries:   2,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
	}
	err = c.breaker.Execute(func() error {
		return echoerrors.Retry(ctx, retryCfg, func() error {
			if c.limiter != nil {
				if waitErr := c.limiter.Wait(ctx); waitErr != nil {
					return waitErr
				}
			}

			callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()

			resp, doErr := c.doRequest(callCtx, reqBody)
			if doErr != nil {
				return doErr
			}
			response = resp
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, echoerrors.ErrCircuitOpen) {
			return nil, echoerrors.NetworkErr("embeddings endpoint circuit open, too many recent failures", err)
		}
		return nil, echoerrors.NetworkErr("call embeddings endpoint", err)
	}

	vectors := make([][]float32, len(texts))
	for _, datum := range response.Data {
		if datum.Index < 0 || datum.Index >= len(vectors) {
			continue
		}
		vectors[datum.Index] = datum.Embedding
	}

	if len(response.Data) > 0 {
		c.mu.Lock()
		if c.dims == 0 && len(response.Data[0].Embedding) > 0 {
			c.dims = len(response.Data[0].Embedding)
		}
		c.mu.Unlock()
	}

	return vectors, nil
}

func (c *Client) doRequest(ctx context.Context, body []byte) (embeddingResponse, error) {
	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/embeddings"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return embeddingResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return embeddingResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return embeddingResponse{}, fmt.Errorf("embeddings endpoint returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return embeddingResponse{}, fmt.Errorf("decode embeddings response: %w", err)
	}
	return result, nil
}
