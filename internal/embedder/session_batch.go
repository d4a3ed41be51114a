package embedder

import (
	"context"
	"fmt"
)

// SessionEmbedResult pairs one session's embedded chunk vectors with its
// session ID.
type SessionEmbedResult struct {
	SessionID string
	Vectors   [][]float32
}

// EmbedSessions embeds each session's chunk texts independently. A batch
// failure on one session skips only that session — it is never partially
// written — and is recorded in the returned error list rather than
// aborting the remaining sessions (spec.md §4.6 "Failure semantics").
func (c *Client) EmbedSessions(ctx context.Context, sessionTexts map[string][]string) ([]SessionEmbedResult, []error) {
	var results []SessionEmbedResult
	var errs []error

	for sessionID, texts := range sessionTexts {
		vectors, err := c.EmbedBatch(ctx, texts)
		if err != nil {
			errs = append(errs, fmt.Errorf("embed session %s: %w", sessionID, err))
			continue
		}
		results = append(results, SessionEmbedResult{SessionID: sessionID, Vectors: vectors})
	}
	return results, errs
}
