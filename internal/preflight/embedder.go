package preflight

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// embedderProbeTimeout bounds the reachability check against the
// configured embeddings endpoint.
const embedderProbeTimeout = 3 * time.Second

// CheckEmbedderConfig validates that apiBase parses as a URL (spec.md §4.6
// "embedder client: a thin HTTP client over an OpenAI-compatible embeddings
// endpoint" — a malformed base URL would fail every embed_batch call).
func (c *Checker) CheckEmbedderConfig(apiBase string) CheckResult {
	result := CheckResult{
		Name:     "embedder_config",
		Required: false, // non-critical: extract/sync still work without embeddings
	}

	if apiBase == "" {
		result.Status = StatusWarn
		result.Message = "no embeddings API base configured"
		return result
	}

	parsed, err := url.Parse(apiBase)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("invalid embeddings.api_base: %q", apiBase)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("embeddings.api_base is %s", apiBase)
	return result
}

// CheckEmbedderReachable probes the embeddings endpoint's host with a short
// HTTP request. Unreachable is a warning, not a failure: indexing degrades
// gracefully (spec.md §9 "embedder unreachable retries, does not abort the
// ingest pipeline"), it just can't embed until the endpoint comes back.
func (c *Checker) CheckEmbedderReachable(ctx context.Context, apiBase string) CheckResult {
	result := CheckResult{
		Name:     "embedder_reachable",
		Required: false,
	}

	if apiBase == "" {
		result.Status = StatusWarn
		result.Message = "skipped: no embeddings API base configured"
		return result
	}

	probeCtx, cancel := context.WithTimeout(ctx, embedderProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, apiBase, nil)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("could not build probe request: %v", err)
		return result
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("unreachable: %v", err)
		result.Details = "embedding-dependent features (index, search) will retry until this endpoint is reachable"
		return result
	}
	_ = resp.Body.Close()

	result.Status = StatusPass
	result.Message = "embeddings endpoint responded"
	return result
}
