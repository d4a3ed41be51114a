// Package preflight provides system validation and pre-flight checks
// to ensure EchoVault can run successfully before starting operations
// (spec.md §9 "non-fatal degradation": the embedder checks are
// non-critical and describe a feature degrading gracefully; the disk,
// memory, write-permission and file-descriptor checks are required).
//
// The package validates:
//   - Disk space availability (minimum 100MB)
//   - Memory availability (minimum 1GB, compared against a fixed 4GB estimate)
//   - Write permissions in the vault directory
//   - File descriptor limits (minimum 1024)
//   - Embeddings API base configuration and reachability
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, vaultPath, cfg.Embedding.APIBase)
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
